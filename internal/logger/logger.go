package logger

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/visitor"
)

// LogEntry represents one classified visitor in the results log
type LogEntry struct {
	Timestamp      time.Time        `json:"timestamp"`
	ReportID       string           `json:"report_id"`
	Date           string           `json:"date"`
	VisitorID      string           `json:"visitor_id"`
	IP             string           `json:"ip"`
	Agent          string           `json:"agent"`
	Classification visitor.Type     `json:"classification"`
	Bot            string           `json:"bot,omitempty"`
	Client         string           `json:"client,omitempty"`
	Platform       string           `json:"platform,omitempty"`
	Country        string           `json:"country"`
	Network        string           `json:"network,omitempty"`
	Views          int              `json:"views"`
	Loads          int              `json:"loads"`
	Captcha        string           `json:"captcha,omitempty"`
	SeenBy         []logrecord.Kind `json:"seen_by"`
	Score          int              `json:"score"`
	MatchedRules   []string         `json:"matched_rules,omitempty"`
	Reason         string           `json:"reason"`
}

// Logger handles structured JSON logging
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	writers []io.Writer
	now     func() time.Time
}

// Config holds logger configuration
type Config struct {
	LogDir   string // Directory for log files
	FileName string // Log file name (default: results.jsonl)
	Stdout   bool   // Also write to stdout
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		LogDir:   "logs",
		FileName: "results.jsonl",
		Stdout:   false,
	}
}

// New creates a new logger instance
func New(cfg Config) (*Logger, error) {
	// Ensure log directory exists
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, err
	}

	// Open log file in append mode
	logPath := filepath.Join(cfg.LogDir, cfg.FileName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{file}
	if cfg.Stdout {
		writers = append(writers, os.Stdout)
	}

	// Create multi-writer if needed
	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	return &Logger{
		file:    file,
		encoder: json.NewEncoder(writer),
		writers: writers,
		now:     time.Now,
	}, nil
}

// Log writes an entry to the log
func (l *Logger) Log(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(entry)
}

// LogVisitor logs a classified visitor with the report it belongs to
func (l *Logger) LogVisitor(reportID, date string, v *visitor.Visitor, reason string) error {
	entry := LogEntry{
		Timestamp:      l.now().UTC(),
		ReportID:       reportID,
		Date:           date,
		VisitorID:      v.Key(),
		IP:             v.IP,
		Agent:          v.Agent,
		Classification: v.Type,
		Client:         v.ClientID(),
		Platform:       v.PlatformID(),
		Country:        v.Geo,
		Views:          v.ViewCount,
		Loads:          v.LoadCount,
		Captcha:        v.Captcha.String(),
		SeenBy:         v.SeenBy,
		Reason:         reason,
	}
	if v.Bot != nil {
		entry.Bot = v.Bot.ID
	}
	if v.IPRange != nil {
		entry.Network = v.IPRange.Group
	}
	if v.Evaluation != nil {
		entry.Score = v.Evaluation.WeightSum
		entry.MatchedRules = v.Evaluation.MatchedRules
	}
	return l.Log(entry)
}

// Close closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	if l.file != nil {
		return l.file.Name()
	}
	return ""
}
