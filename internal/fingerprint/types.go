package fingerprint

import (
	"github.com/muliwe/botmon/internal/logrecord"
)

// Fingerprint contains the request data written to the visit logs
type Fingerprint struct {
	Session Session         `json:"session"`
	HTTP    HTTPFingerprint `json:"http"`
}

// Session identifies the visitor across the three log streams
type Session struct {
	ID   string `json:"id"`   // Session cookie value or client IP
	Type string `json:"type"` // "dw" for cookie sessions, "ip" otherwise
}

// HTTPFingerprint contains HTTP-level request data
type HTTPFingerprint struct {
	RemoteIP    string   `json:"remote_ip"`    // Client address without port
	Version     string   `json:"version"`      // HTTP version (HTTP/1.1, HTTP/2)
	Method      string   `json:"method"`       // Request method
	Path        string   `json:"path"`         // Request path
	HeaderCount int      `json:"header_count"` // Total header count
	UserAgent   string   `json:"user_agent"`   // User-Agent header
	Referer     string   `json:"referer"`      // Referer header
	AcceptLang  string   `json:"accept_lang"`  // Accept-Language header
	Languages   []string `json:"languages"`    // Two-letter accepted languages, de-duplicated
	HasCookies  bool     `json:"has_cookies"`  // Has Cookie header
}

// Accept returns the accepted languages as written to the server log
func (h HTTPFingerprint) Accept() string {
	out := ""
	for i, l := range h.Languages {
		if i > 0 {
			out += ","
		}
		out += l
	}
	return out
}

// Record builds a log record of the given kind from the fingerprint. Page
// and stream specific fields are left for the caller.
func (f Fingerprint) Record(kind logrecord.Kind) logrecord.Record {
	rec := logrecord.Record{
		Kind:      kind,
		IP:        f.HTTP.RemoteIP,
		SessionID: f.Session.ID,
		Agent:     f.HTTP.UserAgent,
	}
	if kind == logrecord.KindServer {
		rec.SessionType = f.Session.Type
		rec.Referrer = f.HTTP.Referer
		rec.Accept = f.HTTP.Accept()
	}
	return rec
}
