package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muliwe/botmon/internal/analytics"
	"github.com/muliwe/botmon/internal/engine"
	"github.com/muliwe/botmon/internal/visitor"
)

// Formats accepted by New
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Renderer writes analysis results to an output stream.
type Renderer interface {
	Render(res *engine.Result) error
}

// New returns the renderer for format writing to w. A nil w writes to stdout.
func New(format string, w io.Writer) (Renderer, error) {
	if w == nil {
		w = os.Stdout
	}
	switch strings.ToLower(format) {
	case "", FormatText:
		return &TextRenderer{w: w}, nil
	case FormatJSON:
		return &JSONRenderer{enc: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text or json)", format)
	}
}

// ---------------------------------------------------------------------------
// Text Renderer (colorized terminal output)
// ---------------------------------------------------------------------------

var (
	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleHeading = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true) // cyan
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))           // yellow
	styleFaint   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))           // gray
	styleName    = lipgloss.NewStyle().Width(nameWidth)
	styleNumber  = lipgloss.NewStyle().Width(8).Align(lipgloss.Right)
	styleLabel   = lipgloss.NewStyle().Width(12)
	styleCaptcha = lipgloss.NewStyle().Width(14).Align(lipgloss.Right)
)

const nameWidth = 32

// TextRenderer prints a report as ranked tables.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) Render(res *engine.Result) error {
	var b strings.Builder

	b.WriteString(styleTitle.Render("BotMon report for " + res.Date))
	b.WriteString("\n")
	if rep := res.Report; rep != nil {
		b.WriteString(styleFaint.Render(fmt.Sprintf("id %s, generated %s", rep.ID, rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"))))
		b.WriteString("\n")
	}

	for _, msg := range res.Status.Messages {
		b.WriteString(styleWarn.Render("! " + msg))
		b.WriteString("\n")
	}

	if rep := res.Report; rep != nil {
		writeTotals(&b, rep)
		writeCaptcha(&b, rep.Totals.Captcha)
		writeList(&b, "Top bots", rep.TopBots)
		writeList(&b, "Bot networks", rep.TopBotNetworks)
		writeList(&b, "Bot countries", rep.BotCountries)
		writeList(&b, "Human countries", rep.HumanCountries)
		writeList(&b, "Referrers", rep.TopReferrers)
		writeList(&b, "Browsers", rep.TopBrowsers)
		writeList(&b, "Platforms", rep.TopPlatforms)
		writeList(&b, "Pages", rep.TopPages)
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func writeTotals(b *strings.Builder, rep *analytics.Report) {
	t := rep.Totals
	b.WriteString("\n")
	header := styleLabel.Render("") +
		styleNumber.Render("bots") + styleNumber.Render("sus.") +
		styleNumber.Render("humans") + styleNumber.Render("users") + styleNumber.Render("total")
	b.WriteString(styleHeading.Render(header))
	b.WriteString("\n")

	row := func(label string, c analytics.Counts) {
		b.WriteString(styleLabel.Render(label))
		for _, n := range []int{c.Bots, c.Suspected, c.Humans, c.Users, c.Total} {
			b.WriteString(styleNumber.Render(fmt.Sprint(n)))
		}
		b.WriteString("\n")
	}
	row("Visitors", t.Visits)
	row("Page views", t.Views)
	row("Page loads", t.Loads)

	var bounces analytics.Counts
	for _, g := range []analytics.Group{
		analytics.GroupKnownBots, analytics.GroupSuspectedBots, analytics.GroupHumans, analytics.GroupUsers,
	} {
		n := rep.Bounces[g]
		switch g {
		case analytics.GroupKnownBots:
			bounces.Bots = n
		case analytics.GroupSuspectedBots:
			bounces.Suspected = n
		case analytics.GroupHumans:
			bounces.Humans = n
		case analytics.GroupUsers:
			bounces.Users = n
		}
		bounces.Total += n
	}
	row("Bounces", bounces)
}

// writeCaptcha prints the captcha outcomes per bucket, headed by the
// outcome titles a visitor would show
func writeCaptcha(b *strings.Builder, c analytics.CaptchaStats) {
	b.WriteString("\n")
	b.WriteString(styleHeading.Render("Captcha"))
	b.WriteString("\n")

	header := styleLabel.Render("")
	for _, outcome := range []visitor.Captcha{{Y: 1}, {Y: 1, N: 1}, {W: 1}} {
		header += styleCaptcha.Render(outcome.Title())
	}
	b.WriteString(styleFaint.Render(header))
	b.WriteString("\n")

	row := func(label string, blocked, passed, whitelisted int) {
		b.WriteString(styleLabel.Render(label))
		for _, n := range []int{blocked, passed, whitelisted} {
			b.WriteString(styleCaptcha.Render(fmt.Sprint(n)))
		}
		b.WriteString("\n")
	}
	row("Bots", c.BotsBlocked, c.BotsPassed, c.BotsWhitelisted)
	row("Suspected", c.SusBlocked, c.SusPassed, c.SusWhitelisted)
	row("Humans", c.HumansBlocked, c.HumansPassed, 0)
}

func writeList(b *strings.Builder, title string, items []analytics.Item) {
	b.WriteString("\n")
	b.WriteString(styleHeading.Render(title))
	b.WriteString("\n")

	if len(items) == 0 {
		b.WriteString(styleFaint.Render("  (none)"))
		b.WriteString("\n")
		return
	}

	for i, it := range items {
		name := it.Name
		if name == "" {
			name = it.ID
		}
		b.WriteString(fmt.Sprintf("%3d. ", i+1))
		b.WriteString(styleName.Render(truncate(name, nameWidth-2)))
		b.WriteString(styleNumber.Render(fmt.Sprint(it.Count)))
		if it.Pct > 0 {
			b.WriteString(styleNumber.Render(fmt.Sprintf("%.1f%%", it.Pct)))
		}
		b.WriteString("\n")
	}
}

// ---------------------------------------------------------------------------
// JSON Renderer (structured output for piping)
// ---------------------------------------------------------------------------

// JSONRenderer prints each result as a single JSON object per line.
type JSONRenderer struct {
	enc *json.Encoder
}

func (r *JSONRenderer) Render(res *engine.Result) error {
	return r.enc.Encode(res)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
