// Package nlrules turns free-text audience descriptions into segment rules,
// asking a language model first and falling back to pattern matching.
package nlrules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Mutter0815/SegmentMailer/internal/errs"
	"github.com/Mutter0815/SegmentMailer/internal/resilience"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
)

type Method string

const (
	MethodAI       Method = "ai"
	MethodFallback Method = "fallback"
)

const DefaultMinPromptLength = 5

var ExamplePrompts = []string{
	"Customers who spent over ₹5000",
	"Users who visited more than 3 times and spent over $1000",
	"Customers who haven't visited in 6 months",
}

type Result struct {
	Rules  segment.RuleSet `json:"rules"`
	Method Method          `json:"method"`
}

// Generator is shared by all requests; its breaker state is process-wide.
type Generator struct {
	// Model is nil when no API key is configured.
	Model           Model
	Breaker         *resilience.Breaker
	Retry           resilience.Policy
	Matcher         *PatternMatcher
	MinPromptLength int

	now func() time.Time
}

func NewGenerator(model Model, breaker *resilience.Breaker, retry resilience.Policy, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerThreshold, resilience.DefaultBreakerTimeout, resilience.WithName("nlrules"))
	}
	return &Generator{
		Model:           model,
		Breaker:         breaker,
		Retry:           retry,
		Matcher:         NewPatternMatcher(now),
		MinPromptLength: DefaultMinPromptLength,
		now:             now,
	}
}

func (g *Generator) Generate(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if utf8.RuneCountInString(prompt) < g.MinPromptLength {
		return Result{}, errs.UserInput(fmt.Sprintf(
			"prompt must be at least %d characters, for example %q", g.MinPromptLength, ExamplePrompts[0]))
	}
	log := logx.Named("nlrules")

	switch {
	case g.Model == nil:
		log.Debugw("ai_skipped", "reason", "no_model")
	case !g.Breaker.Permits():
		log.Infow("ai_skipped", "reason", "breaker_open")
	default:
		rules, err := g.fromModel(ctx, prompt)
		if err == nil {
			g.Breaker.RecordSuccess()
			metrics.RuleGenerations.WithLabelValues(string(MethodAI)).Inc()
			log.Infow("rules_generated", "method", MethodAI, "rules", len(rules))
			return Result{Rules: rules.Normalize(), Method: MethodAI}, nil
		}
		g.Breaker.RecordFailure()
		metrics.AIFailures.Inc()
		log.Warnw("ai_failed", "error", err, "failures", g.Breaker.State().FailureCount)
	}

	rules := g.Matcher.Match(prompt)
	if len(rules) == 0 {
		return Result{}, errs.UserInput("could not understand prompt, please try rephrasing")
	}
	metrics.RuleGenerations.WithLabelValues(string(MethodFallback)).Inc()
	log.Infow("rules_generated", "method", MethodFallback, "rules", len(rules))
	return Result{Rules: rules.Normalize(), Method: MethodFallback}, nil
}

func (g *Generator) fromModel(ctx context.Context, prompt string) (segment.RuleSet, error) {
	instruction := BuildInstruction(prompt, g.now())

	var raw string
	err := g.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = g.Model.Generate(ctx, instruction)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes a model response into a validated rule set.
func ParseRules(raw string) (segment.RuleSet, error) {
	text := cleanResponse(raw)
	var rules segment.RuleSet
	if err := json.Unmarshal([]byte(text), &rules); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	if err := segment.Validate(rules); err != nil {
		return nil, fmt.Errorf("model produced invalid rules: %w", err)
	}
	return rules, nil
}

func cleanResponse(raw string) string {
	text := strings.ReplaceAll(raw, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return text
}

// BuildInstruction renders the model instruction for prompt with relative
// dates resolved against today.
func BuildInstruction(prompt string, today time.Time) string {
	day := today.Format(segment.DateLayout)
	threeMonths := today.AddDate(0, -3, 0).Format(segment.DateLayout)

	var b strings.Builder
	b.WriteString("You convert natural language audience descriptions into JSON rule arrays for a customer segmentation engine.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString("1. Respond with a JSON array only. No prose, no markdown.\n")
	b.WriteString(`2. Every element has exactly the properties "field", "operator", "value" and "logic".` + "\n")
	fmt.Fprintf(&b, "3. \"field\" is one of %s.\n", quoteList(segment.Fields))
	fmt.Fprintf(&b, "4. \"operator\" is one of %s.\n", quoteList(segment.Operators))
	b.WriteString(`5. "value" is a string: plain numbers for amounts and counts, YYYY-MM-DD for dates.` + "\n")
	b.WriteString(`6. "logic" is "AND" or "OR" joining the rule to the next one, and null on the last rule.` + "\n")
	fmt.Fprintf(&b, "7. Today is %s. Resolve relative dates against it.\n", day)
	b.WriteString("8. Drop currency symbols (₹, $) and thousands separators from amounts.\n\n")
	b.WriteString("Examples:\n")
	b.WriteString(`Input: "Customers who spent over ₹5000"` + "\n")
	b.WriteString(`Output: [{"field": "Total Spend", "operator": ">", "value": "5000", "logic": null}]` + "\n")
	b.WriteString(`Input: "Users with more than 3 visits and spent over $1000"` + "\n")
	b.WriteString(`Output: [{"field": "Total Visits", "operator": ">", "value": "3", "logic": "AND"}, {"field": "Total Spend", "operator": ">", "value": "1000", "logic": null}]` + "\n")
	b.WriteString(`Input: "Customers who haven't visited in 3 months"` + "\n")
	fmt.Fprintf(&b, `Output: [{"field": "Last Visit Date", "operator": "<", "value": "%s", "logic": null}]`+"\n\n", threeMonths)
	fmt.Fprintf(&b, "Convert: %q\n", prompt)
	return b.String()
}

func quoteList[T ~string](items []T) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%q", string(it))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
