// Package engine wires the services of one analysis run: settings, visitor
// model, ingestion pipeline, rule engine and aggregator.
package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/analytics"
	"github.com/muliwe/botmon/internal/catalog"
	"github.com/muliwe/botmon/internal/classifier"
	"github.com/muliwe/botmon/internal/defaults"
	"github.com/muliwe/botmon/internal/ingest"
	"github.com/muliwe/botmon/internal/logger"
	"github.com/muliwe/botmon/internal/netrange"
	"github.com/muliwe/botmon/internal/visitor"
)

// Options configures an Engine
type Options struct {
	// Logs holds the daily log files
	Logs ingest.Source
	// Settings holds catalogs, ranges and rules. Defaults to the embedded
	// settings.
	Settings ingest.Source

	CombineNets bool
	Threshold   int // overrides the rules file when positive
	SiteHost    string
	MaxItems    int

	Logger  *pterm.Logger
	Results *logger.Logger // optional JSONL results log
}

// Result is the outcome of one analysis run
type Result struct {
	Date     string             `json:"date"`
	Report   *analytics.Report  `json:"report"`
	Visitors []*visitor.Visitor `json:"-"`
	Status   ingest.Status      `json:"status"`
	Settings map[string]string  `json:"settings"` // settings file loaded per kind
}

// Engine runs analyses. It holds no state between runs.
type Engine struct {
	opts Options
	log  *pterm.Logger
}

// DefaultSettings returns the embedded catalogs, ranges and rules
func DefaultSettings() ingest.Source {
	return ingest.FSSource{FS: defaults.FS()}
}

// New creates an engine
func New(opts Options) *Engine {
	if opts.Settings == nil {
		opts.Settings = DefaultSettings()
	}
	if opts.MaxItems < 1 {
		opts.MaxItems = analytics.DefaultMax
	}
	l := opts.Logger
	if l == nil {
		l = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}
	return &Engine{opts: opts, log: l}
}

// WithMaxItems returns a copy of the engine that limits top lists to n
// entries. Non-positive values keep the current limit.
func (e *Engine) WithMaxItems(n int) *Engine {
	c := *e
	if n > 0 {
		c.opts.MaxItems = n
	}
	return &c
}

// settings holds everything loaded from the settings source
type settings struct {
	bots, clients, platforms *catalog.Catalog
	ranges                   *netrange.Index
	rules                    classifier.RuleSet
	loaded                   map[string]string
}

// Analyse builds a fresh model for date, ingests the three logs and
// classifies every visitor. Load failures end up in Result.Status; only
// context cancellation is returned as an error.
func (e *Engine) Analyse(ctx context.Context, date string) (*Result, error) {
	var status ingest.Status

	s := e.loadSettings(ctx, &status)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := visitor.NewModel(visitor.Options{
		Bots:        s.bots,
		Clients:     s.clients,
		Platforms:   s.platforms,
		Ranges:      s.ranges,
		CombineNets: e.opts.CombineNets,
		Logger:      e.log,
	})

	if e.opts.Logs == nil {
		status.Fail("No log source configured")
	} else {
		status.Merge(ingest.NewPipeline(e.opts.Logs, model, e.log).Run(ctx, date))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rules := classifier.New(classifier.Config{Threshold: e.opts.Threshold, Logger: e.log}, s.rules)
	a := analytics.New(rules, s.ranges, analytics.Options{SiteHost: e.opts.SiteHost, Logger: e.log})
	a.AnalyseAll(model.Visitors())
	report := a.Report(e.opts.MaxItems)

	if e.opts.Results != nil {
		for _, v := range model.Visitors() {
			if err := e.opts.Results.LogVisitor(report.ID, date, v, reason(rules, v)); err != nil {
				e.log.Warn("Failed to write results log", e.log.Args("error", err))
				break
			}
		}
	}

	e.log.Info("Analysis finished", e.log.Args(
		"date", date,
		"visitors", model.Len(),
		"rules", len(rules.Rules()),
		"threshold", rules.Threshold(),
		"incomplete", status.Incomplete,
	))

	return &Result{
		Date:     date,
		Report:   report,
		Visitors: model.Visitors(),
		Status:   status,
		Settings: s.loaded,
	}, nil
}

func reason(c *classifier.Classifier, v *visitor.Visitor) string {
	switch {
	case v.Evaluation != nil:
		return c.Reason(*v.Evaluation)
	case v.Bot != nil:
		return "Known bot: " + v.Bot.Name
	case v.Type == visitor.TypeUser:
		return "Logged in user"
	default:
		return ""
	}
}

func (e *Engine) loadSettings(ctx context.Context, status *ingest.Status) settings {
	s := settings{
		bots:      catalog.Empty(catalog.KindBots),
		clients:   catalog.Empty(catalog.KindClients),
		platforms: catalog.Empty(catalog.KindPlatforms),
		ranges:    netrange.NewIndex(),
		loaded:    map[string]string{},
	}

	load := func(what string, names []string, decode func(io.Reader) error) {
		name, rejected, err := ingest.LoadSettings(ctx, e.opts.Settings, names, decode)
		if err != nil {
			status.Fail(fmt.Sprintf("Error while loading the %s: %v", what, err))
			e.log.Warn("Settings not loaded", e.log.Args("settings", what, "error", err))
			return
		}
		for _, r := range rejected {
			status.Warn(fmt.Sprintf("Ignored invalid %s file, using %s instead: %v", what, name, r))
			e.log.Warn("Settings file rejected", e.log.Args("settings", what, "used", name, "error", r))
		}
		s.loaded[what] = name
	}

	catalogDecoder := func(kind catalog.Kind, dst **catalog.Catalog) func(io.Reader) error {
		return func(r io.Reader) error {
			entries, err := catalog.Load(r)
			if err != nil {
				return err
			}
			c, err := catalog.New(kind, entries)
			if err != nil {
				return err
			}
			*dst = c
			return nil
		}
	}

	load("known bots", ingest.BotFiles, catalogDecoder(catalog.KindBots, &s.bots))
	load("known clients", ingest.ClientFiles, catalogDecoder(catalog.KindClients, &s.clients))
	load("known platforms", ingest.PlatformFiles, catalogDecoder(catalog.KindPlatforms, &s.platforms))

	load("IP ranges", ingest.RangeFiles, func(r io.Reader) error {
		idx, err := netrange.Load(r)
		if err != nil {
			return err
		}
		s.ranges = idx
		return nil
	})

	load("rules", ingest.ConfigFiles, func(r io.Reader) error {
		set, err := classifier.LoadRules(r)
		if err != nil {
			return err
		}
		s.rules = set
		return nil
	})

	return s
}
