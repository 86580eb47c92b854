// Package cleanup removes outdated daily log files. Only the files of today
// and yesterday (GMT) are kept, matching what the dashboard can analyse.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/logrecord"
)

// LogPattern matches the daily log files in the log directory
const LogPattern = "*.{srv,log,tck}.txt"

// Result lists what a cleanup run did
type Result struct {
	Deleted []string `json:"deleted"`
	Kept    []string `json:"kept"`
	Failed  []string `json:"failed,omitempty"`
}

// Cleaner deletes old log files from one directory
type Cleaner struct {
	dir string
	log *pterm.Logger
	now func() time.Time
}

// NewCleaner creates a cleaner for dir
func NewCleaner(dir string, l *pterm.Logger) *Cleaner {
	if l == nil {
		l = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}
	return &Cleaner{dir: dir, log: l, now: time.Now}
}

// Dir returns the log directory
func (c *Cleaner) Dir() string {
	return c.dir
}

// Clean deletes every log file not dated today or yesterday. Files that
// cannot be removed are reported in Result.Failed and the joined error.
func (c *Cleaner) Clean(ctx context.Context) (Result, error) {
	var res Result

	names, err := doublestar.Glob(os.DirFS(c.dir), LogPattern, doublestar.WithFilesOnly())
	if err != nil {
		return res, fmt.Errorf("list log files: %w", err)
	}

	now := c.now().UTC()
	today := logrecord.DateOf(now)
	yesterday := logrecord.DateOf(now.AddDate(0, 0, -1))

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		date, _, _ := strings.Cut(name, ".")
		if date == today || date == yesterday {
			res.Kept = append(res.Kept, name)
			continue
		}

		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			c.log.Warn("Could not delete log file", c.log.Args("file", name, "error", err))
			res.Failed = append(res.Failed, name)
			errs = append(errs, err)
			continue
		}
		c.log.Debug("Log file deleted", c.log.Args("file", name))
		res.Deleted = append(res.Deleted, name)
	}

	c.log.Info("Cleanup done", c.log.Args(
		"dir", c.dir,
		"deleted", len(res.Deleted),
		"kept", len(res.Kept),
		"failed", len(res.Failed),
	))
	return res, errors.Join(errs...)
}
