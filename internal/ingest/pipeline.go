package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/visitor"
)

// Sink receives parsed records, one method per stream
type Sink interface {
	RegisterVisit(rec logrecord.Record, kind logrecord.Kind) *visitor.Visitor
	UpdateVisit(rec logrecord.Record) *visitor.Visitor
	UpdateTicks(rec logrecord.Record) *visitor.Visitor
}

// StreamStatus summarises the ingestion of one log stream
type StreamStatus struct {
	Kind    logrecord.Kind `json:"kind"`
	File    string         `json:"file"`
	Records int            `json:"records"`
	Lines   int            `json:"lines"`
	Skipped int            `json:"skipped"`
	Invalid int            `json:"invalid"`
	Error   string         `json:"error,omitempty"`
}

// Status is the outcome of a pipeline run. Failures are reported here and
// never abort the run.
type Status struct {
	Messages   []string       `json:"messages"`
	Incomplete bool           `json:"incomplete"`
	Streams    []StreamStatus `json:"streams"`
}

// Fail records a non-fatal failure
func (s *Status) Fail(msg string) {
	s.Messages = append(s.Messages, msg)
	s.Incomplete = true
}

// Warn records a message that does not make the result incomplete
func (s *Status) Warn(msg string) {
	s.Messages = append(s.Messages, msg)
}

// Merge appends another status
func (s *Status) Merge(o Status) {
	s.Messages = append(s.Messages, o.Messages...)
	s.Streams = append(s.Streams, o.Streams...)
	s.Incomplete = s.Incomplete || o.Incomplete
}

// LoadErrorMessage formats the status message for a failed log stream
func LoadErrorMessage(k logrecord.Kind, err error) string {
	return fmt.Sprintf("Error while loading the %s log file: %v – data may be incomplete.", k.Name(), err)
}

// Pipeline feeds the srv, log and tck streams of one day into a sink
type Pipeline struct {
	src  Source
	sink Sink
	log  *pterm.Logger
}

// NewPipeline creates a pipeline. logger may be nil.
func NewPipeline(src Source, sink Sink, logger *pterm.Logger) *Pipeline {
	if logger == nil {
		logger = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}
	return &Pipeline{src: src, sink: sink, log: logger}
}

// Run loads the three streams of date strictly in sequence. Later streams
// enrich visitors created by earlier ones, so they never run concurrently.
func (p *Pipeline) Run(ctx context.Context, date string) Status {
	var status Status

	for _, kind := range logrecord.Kinds {
		if err := ctx.Err(); err != nil {
			status.Fail(fmt.Sprintf("Analysis cancelled before the %s log file: %v", kind.Name(), err))
			return status
		}
		status.Streams = append(status.Streams, p.runStream(ctx, date, kind, &status))
	}
	return status
}

func (p *Pipeline) runStream(ctx context.Context, date string, kind logrecord.Kind, status *Status) StreamStatus {
	name := logrecord.FileName(date, kind)
	st := StreamStatus{Kind: kind, File: name}

	fail := func(err error) StreamStatus {
		st.Error = err.Error()
		status.Fail(LoadErrorMessage(kind, err))
		p.log.Warn("Log stream failed", p.log.Args("file", name, "error", err))
		return st
	}

	rc, err := p.src.Open(ctx, name)
	if err != nil {
		return fail(err)
	}
	res, err := logrecord.ReadAll(kind, rc)
	_ = rc.Close()

	st.Lines = res.Lines
	st.Skipped = res.Skipped
	st.Invalid = len(res.Invalid)
	for _, lerr := range res.Invalid {
		p.log.Warn("Skipping malformed log line", p.log.Args("file", name, "line", lerr.Line, "error", lerr.Err))
	}

	// a read error mid-stream still keeps the records read so far
	p.dispatch(kind, res.Records)
	st.Records = len(res.Records)
	if err != nil {
		if errors.Is(err, logrecord.ErrEmptyLog) {
			p.log.Info("Empty log file", p.log.Args("file", name))
		}
		return fail(err)
	}

	p.log.Debug("Log stream loaded", p.log.Args("file", name, "records", st.Records, "skipped", st.Skipped, "invalid", st.Invalid))
	return st
}

func (p *Pipeline) dispatch(kind logrecord.Kind, records []logrecord.Record) {
	for _, rec := range records {
		switch kind {
		case logrecord.KindServer:
			p.sink.RegisterVisit(rec, kind)
		case logrecord.KindClient:
			p.sink.UpdateVisit(rec)
		case logrecord.KindTicker:
			p.sink.UpdateTicks(rec)
		}
	}
}
