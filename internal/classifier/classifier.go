package classifier

import (
	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/visitor"
)

// Classifier scores visitors against the configured rules
type Classifier struct {
	threshold int // Score threshold for classification
	rules     []Rule
	byID      map[string]int
}

// Config holds classifier configuration
type Config struct {
	// Threshold determines the cutoff for classification
	// Summed weight of matching rules >= threshold = likely bot
	// Overrides the rules file threshold when positive
	Threshold int

	// Logger receives warnings about rules that could not be compiled
	Logger *pterm.Logger
}

// DefaultThreshold applies when neither the config nor the rules file sets one
const DefaultThreshold = 100

// DefaultConfig returns default classifier configuration. The zero
// threshold defers to the rules file, then to DefaultThreshold.
func DefaultConfig() Config {
	return Config{
		Threshold: 0,
		Logger:    pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn),
	}
}

// New creates a new classifier. Rules must have been compiled, which
// LoadRules does.
func New(cfg Config, set RuleSet) *Classifier {
	threshold := DefaultThreshold
	if set.Threshold > 0 {
		threshold = set.Threshold
	}
	if cfg.Threshold > 0 {
		threshold = cfg.Threshold
	}

	c := &Classifier{
		threshold: threshold,
		rules:     make([]Rule, 0, len(set.Rules)),
		byID:      make(map[string]int, len(set.Rules)),
	}
	l := cfg.Logger
	if l == nil {
		l = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}

	for _, r := range set.Rules {
		if r.pred == nil {
			if err := r.Compile(); err != nil {
				l.Warn("Rule skipped", l.Args("rule", r.ID, "error", err))
				continue
			}
		}
		c.byID[r.ID] = len(c.rules)
		c.rules = append(c.rules, r)
	}
	return c
}

// Threshold returns the effective threshold
func (c *Classifier) Threshold() int {
	return c.threshold
}

// Rules returns the active rules in evaluation order
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Rule returns the rule with the given id
func (c *Classifier) Rule(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

// Evaluate runs every rule against the visitor. All matching weights are
// summed; there is no early exit once the threshold is reached.
func (c *Classifier) Evaluate(v *visitor.Visitor) visitor.Evaluation {
	eval := visitor.Evaluation{MatchedRules: []string{}}

	for _, r := range c.rules {
		if r.pred(v) {
			eval.WeightSum += r.Weight
			eval.MatchedRules = append(eval.MatchedRules, r.ID)
		}
	}

	eval.IsBot = eval.WeightSum >= c.threshold
	return eval
}

// Reason generates an explanation for an evaluation
func (c *Classifier) Reason(e visitor.Evaluation) string {
	reasons := []string{}
	for _, id := range e.MatchedRules {
		r, ok := c.Rule(id)
		if !ok {
			continue
		}
		if r.Description != "" {
			reasons = append(reasons, r.Description)
		} else {
			reasons = append(reasons, r.ID)
		}
	}

	if len(reasons) == 0 {
		if e.IsBot {
			return "Classified as bot based on overall rule score"
		}
		return "No bot indicators"
	}

	result := "Bot indicators: "
	if !e.IsBot {
		result = "Below threshold, bot indicators: "
	}
	for i, r := range reasons {
		if i > 0 {
			result += ", "
		}
		result += r
	}
	return result
}
