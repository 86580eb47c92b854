package logrecord

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrEmptyLog is returned when a log stream contains no data at all
var ErrEmptyLog = errors.New("empty log file")

// LineError describes a line that could not be parsed
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Result holds the outcome of reading a whole log stream
type Result struct {
	Records []Record
	Lines   int          // total lines read
	Skipped int          // blank or single-column lines
	Invalid []*LineError // lines rejected by validation
}

// ParseLine parses one tab-delimited line of the given kind. The boolean is
// false for lines that carry no record (blank or single column).
func ParseLine(k Kind, line string) (Record, bool, error) {
	cols, ok := schemas[k]
	if !ok {
		return Record{}, false, fmt.Errorf("%w: %q", ErrInvalidKind, k)
	}

	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(Sanitize(line)) == "" {
		return Record{}, false, nil
	}

	values := strings.Split(line, "\t")
	if len(values) == 1 {
		return Record{}, false, nil
	}

	rec := Record{Kind: k}
	for i, raw := range values {
		f := Field(fmt.Sprintf("col%d", i))
		if i < len(cols) {
			f = cols[i]
		}
		v := strings.TrimSpace(Sanitize(raw))
		if f == FieldTimestamp {
			ts, err := ParseTime(v)
			if err != nil {
				return Record{}, false, err
			}
			rec.Timestamp = ts
			continue
		}
		rec.set(f, v)
	}

	// client-side streams carry no session type column
	if k != KindServer && rec.SessionType == "" {
		rec.SessionType = SessionJS
	}

	return rec, true, nil
}

// ParseTime parses a log timestamp. The writers use TimeLayout in GMT; RFC 3339
// is accepted as well.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	if ts, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts.UTC(), nil
}

// ReadAll parses every line of a log stream. Malformed lines are collected in
// Result.Invalid and do not stop the read. A stream without any bytes yields
// ErrEmptyLog.
func ReadAll(k Kind, r io.Reader) (Result, error) {
	var res Result
	if _, ok := schemas[k]; !ok {
		return res, fmt.Errorf("%w: %q", ErrInvalidKind, k)
	}

	br := bufio.NewReader(r)
	total := 0
	for {
		line, err := br.ReadString('\n')
		total += len(line)
		if len(line) > 0 {
			res.Lines++
			rec, ok, perr := ParseLine(k, line)
			switch {
			case perr != nil:
				res.Invalid = append(res.Invalid, &LineError{Line: res.Lines, Err: perr})
			case !ok:
				res.Skipped++
			default:
				res.Records = append(res.Records, rec)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read %s log: %w", k, err)
		}
	}

	if total == 0 {
		return res, ErrEmptyLog
	}
	return res, nil
}
