package fingerprint

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/muliwe/botmon/internal/logrecord"
)

// DefaultCookieName is the wiki's session cookie
const DefaultCookieName = "DokuWiki"

// InvalidSessionID replaces session ids that could break the log format
const InvalidSessionID = "invalid-session-id"

// maxSessionLen bounds accepted session ids
const maxSessionLen = 46

var validSession = regexp.MustCompile(`^[\w.:\-]+$`)

// Collector extracts fingerprint data from HTTP requests
type Collector struct {
	cookieName     string
	trustForwarded bool
}

// Option configures a Collector
type Option func(*Collector)

// WithCookieName sets the session cookie name
func WithCookieName(name string) Option {
	return func(c *Collector) {
		if name != "" {
			c.cookieName = name
		}
	}
}

// WithForwardedFor takes the client address from X-Forwarded-For. Only use
// it behind a reverse proxy that sets the header.
func WithForwardedFor(trust bool) Option {
	return func(c *Collector) {
		c.trustForwarded = trust
	}
}

// NewCollector creates a new fingerprint collector
func NewCollector(opts ...Option) *Collector {
	c := &Collector{cookieName: DefaultCookieName}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect extracts fingerprint from an HTTP request
func (c *Collector) Collect(r *http.Request) Fingerprint {
	h := c.collectHTTP(r)
	return Fingerprint{
		Session: c.collectSession(r, h.RemoteIP),
		HTTP:    h,
	}
}

// collectSession uses the session cookie when present, otherwise the
// client address
func (c *Collector) collectSession(r *http.Request, ip string) Session {
	id := ""
	if cookie, err := r.Cookie(c.cookieName); err == nil {
		id = cookie.Value
	}
	return newSession(id, ip)
}

func newSession(id, ip string) Session {
	s := Session{ID: strings.TrimSpace(id), Type: logrecord.SessionDokuWiki}
	if s.ID == "" {
		s.ID = ip
		if ip == "127.0.0.1" || ip == "::1" {
			s.ID = "localhost"
		}
		s.Type = logrecord.SessionIP
	}

	if len(s.ID) >= maxSessionLen || !validSession.MatchString(s.ID) {
		s.ID = InvalidSessionID
	}
	return s
}

// Query parameters a wiki hook uses to forward the visitor's request data
// when it calls the hit endpoint from the wiki server
const (
	ParamAgent    = "ua"
	ParamReferrer = "ref"
	ParamAccept   = "accept"
	ParamSession  = "sid"
	ParamIP       = "ip"
)

// CollectForwarded is Collect where forwarded query parameters take
// precedence over the request's own headers. The ip parameter is only
// honoured together with WithForwardedFor.
func (c *Collector) CollectForwarded(r *http.Request) Fingerprint {
	fp := c.Collect(r)
	q := r.URL.Query()

	if v := q.Get(ParamAgent); v != "" {
		fp.HTTP.UserAgent = logrecord.Sanitize(v)
	}
	if v := q.Get(ParamReferrer); v != "" {
		fp.HTTP.Referer = logrecord.Sanitize(v)
	}
	if v := q.Get(ParamAccept); v != "" {
		fp.HTTP.AcceptLang = v
		fp.HTTP.Languages = Languages(v)
	}

	ipChanged := false
	if c.trustForwarded {
		if ip := net.ParseIP(strings.TrimSpace(q.Get(ParamIP))); ip != nil {
			fp.HTTP.RemoteIP = ip.String()
			ipChanged = true
		}
	}

	switch sid := strings.TrimSpace(q.Get(ParamSession)); {
	case sid != "":
		fp.Session = newSession(sid, fp.HTTP.RemoteIP)
	case ipChanged && fp.Session.Type == logrecord.SessionIP:
		fp.Session = newSession("", fp.HTTP.RemoteIP)
	}
	return fp
}

// collectHTTP extracts HTTP-level fingerprint
func (c *Collector) collectHTTP(r *http.Request) HTTPFingerprint {
	fp := HTTPFingerprint{
		RemoteIP:    c.remoteIP(r),
		Version:     r.Proto,
		Method:      r.Method,
		Path:        r.URL.Path,
		HeaderCount: len(r.Header),
	}

	fp.UserAgent = logrecord.Sanitize(r.Header.Get("User-Agent"))
	fp.Referer = logrecord.Sanitize(r.Header.Get("Referer"))
	fp.AcceptLang = r.Header.Get("Accept-Language")
	fp.Languages = Languages(fp.AcceptLang)
	fp.HasCookies = r.Header.Get("Cookie") != ""

	return fp
}

func (c *Collector) remoteIP(r *http.Request) string {
	if c.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Languages reduces an Accept-Language header to unique two-letter codes in
// order of appearance
func Languages(header string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if len(tag) < 2 {
			continue
		}
		code := strings.ToLower(tag[:2])
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}
