package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Settings file names, user overrides first
var (
	ConfigFiles   = []string{"user-config.json", "default-config.json"}
	RangeFiles    = []string{"user-ipranges.json", "known-ipranges.json"}
	BotFiles      = []string{"known-bots.json"}
	ClientFiles   = []string{"known-clients.json"}
	PlatformFiles = []string{"known-platforms.json"}
)

// LoadSettings tries names in order and decodes the first file that opens
// and decodes cleanly. Missing or undecodable files move on to the next
// name. It returns the name that was loaded and the errors of the files
// that exist but were rejected on the way; a missing file is not an error
// there.
func LoadSettings(ctx context.Context, src Source, names []string, decode func(io.Reader) error) (string, []error, error) {
	var errs, rejected []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", rejected, err
		}

		rc, err := src.Open(ctx, name)
		if err != nil {
			errs = append(errs, err)
			if !errors.Is(err, ErrNotFound) {
				rejected = append(rejected, err)
			}
			continue
		}
		err = decode(rc)
		_ = rc.Close()
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			errs = append(errs, err)
			rejected = append(rejected, err)
			continue
		}
		return name, rejected, nil
	}
	if len(errs) == 0 {
		return "", nil, errors.New("no settings file names given")
	}
	return "", rejected, fmt.Errorf("no settings file could be loaded: %w", errors.Join(errs...))
}
