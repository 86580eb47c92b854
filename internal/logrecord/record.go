package logrecord

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the three log streams
type Kind string

const (
	KindServer Kind = "srv" // written by the server-side hook on every page request
	KindClient Kind = "log" // written when the client script reports a page view
	KindTicker Kind = "tck" // heartbeat written while a page stays open
)

// Kinds lists all log kinds in ingestion order
var Kinds = []Kind{KindServer, KindClient, KindTicker}

// ErrInvalidKind is returned for an unrecognised log kind
var ErrInvalidKind = errors.New("invalid log kind")

// ParseKind converts a string to a Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(s)); k {
	case KindServer, KindClient, KindTicker:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Name returns the human readable stream name
func (k Kind) Name() string {
	switch k {
	case KindServer:
		return "Server"
	case KindClient:
		return "Page load"
	case KindTicker:
		return "Ticker"
	default:
		return string(k)
	}
}

// Field is a named log column
type Field string

const (
	FieldTimestamp   Field = "ts"
	FieldIP          Field = "ip"
	FieldPage        Field = "pg"
	FieldSession     Field = "id"
	FieldSessionType Field = "typ"
	FieldUser        Field = "usr"
	FieldAgent       Field = "agent"
	FieldReferrer    Field = "ref"
	FieldLang        Field = "lang"
	FieldAccept      Field = "accept"
	FieldGeo         Field = "geo"
	FieldCaptcha     Field = "captcha"
	FieldLoadTime    Field = "lt"
)

// schemas maps each log kind to its ordered column list
var schemas = map[Kind][]Field{
	KindServer: {FieldTimestamp, FieldIP, FieldPage, FieldSession, FieldSessionType, FieldUser,
		FieldAgent, FieldReferrer, FieldLang, FieldAccept, FieldGeo, FieldCaptcha},
	KindClient: {FieldTimestamp, FieldIP, FieldPage, FieldSession, FieldUser, FieldLoadTime,
		FieldReferrer, FieldAgent},
	KindTicker: {FieldTimestamp, FieldIP, FieldPage, FieldSession, FieldAgent},
}

// Columns returns the column schema of a log kind
func Columns(k Kind) []Field {
	cols := schemas[k]
	out := make([]Field, len(cols))
	copy(out, cols)
	return out
}

// Session types written by the hooks
const (
	SessionDokuWiki = "dw"
	SessionIP       = "ip"
	SessionPHP      = "php"
	SessionRandom   = "rand"
	SessionJS       = "js" // assigned to client and ticker records at ingestion
)

// CAPTCHA outcome codes
const (
	CaptchaBlocked     = "Y"
	CaptchaPassed      = "N"
	CaptchaWhitelisted = "W"
	CaptchaHead        = "H"
	CaptchaNone        = "X"
	CaptchaNotApplied  = "-"
)

// TimeLayout is the timestamp format of the log files (always GMT)
const TimeLayout = "2006-01-02 15:04:05"

// DateLayout is the date format used in log file names
const DateLayout = "2006-01-02"

// Record is one parsed log line
type Record struct {
	Kind        Kind              `json:"kind"`
	Timestamp   time.Time         `json:"ts"`
	IP          string            `json:"ip"`
	Page        string            `json:"pg"`
	SessionID   string            `json:"id"`
	SessionType string            `json:"typ,omitempty"`
	User        string            `json:"usr,omitempty"`
	Agent       string            `json:"agent"`
	Referrer    string            `json:"ref,omitempty"`
	Lang        string            `json:"lang,omitempty"`
	Accept      string            `json:"accept,omitempty"`
	Geo         string            `json:"geo,omitempty"`
	Captcha     string            `json:"captcha,omitempty"`
	LoadTime    string            `json:"lt,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"` // unnamed trailing columns (col12, ...)
}

// Get returns the value of a named field
func (r *Record) Get(f Field) string {
	switch f {
	case FieldTimestamp:
		if r.Timestamp.IsZero() {
			return ""
		}
		return r.Timestamp.UTC().Format(TimeLayout)
	case FieldIP:
		return r.IP
	case FieldPage:
		return r.Page
	case FieldSession:
		return r.SessionID
	case FieldSessionType:
		return r.SessionType
	case FieldUser:
		return r.User
	case FieldAgent:
		return r.Agent
	case FieldReferrer:
		return r.Referrer
	case FieldLang:
		return r.Lang
	case FieldAccept:
		return r.Accept
	case FieldGeo:
		return r.Geo
	case FieldCaptcha:
		return r.Captcha
	case FieldLoadTime:
		return r.LoadTime
	default:
		return r.Extra[string(f)]
	}
}

// set assigns a string value to a named field. Timestamps are parsed separately.
func (r *Record) set(f Field, v string) {
	switch f {
	case FieldIP:
		r.IP = v
	case FieldPage:
		r.Page = v
	case FieldSession:
		r.SessionID = v
	case FieldSessionType:
		r.SessionType = v
	case FieldUser:
		r.User = v
	case FieldAgent:
		r.Agent = v
	case FieldReferrer:
		r.Referrer = v
	case FieldLang:
		r.Lang = v
	case FieldAccept:
		r.Accept = v
	case FieldGeo:
		r.Geo = v
	case FieldCaptcha:
		r.Captcha = v
	case FieldLoadTime:
		r.LoadTime = v
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[string(f)] = v
	}
}

// Line formats the record as a tab-delimited log line for its kind, without
// the trailing newline. Every field is sanitized.
func (r *Record) Line() string {
	cols := schemas[r.Kind]
	parts := make([]string, len(cols))
	for i, f := range cols {
		parts[i] = Sanitize(r.Get(f))
	}
	return strings.Join(parts, "\t")
}

// Sanitize replaces control characters (0x00-0x1F) with U+FFFD so they can
// never break column boundaries
func Sanitize(s string) string {
	if strings.IndexFunc(s, isControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return '�'
		}
		return r
	}, s)
}

func isControl(r rune) bool {
	return r >= 0 && r <= 0x1F
}

// FileName returns the log file name for a date and kind, e.g. 2025-01-01.srv.txt
func FileName(date string, k Kind) string {
	return date + "." + string(k) + ".txt"
}

// DateOf returns the GMT date string for t
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
