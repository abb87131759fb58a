package nlrules

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mutter0815/SegmentMailer/internal/segment"
)

const amount = `(\d+(?:,\d+)*(?:\.\d+)?)`

var spendPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:spent?|spend|spending|purchase[ds]?).*?(?:over|above|more than|greater than|>)\s*[₹$]?` + amount),
	regexp.MustCompile(`(?:spent?|spend|spending|purchase[ds]?).*?` + amount + `\s*(?:rupees?|dollars?|₹|\$)`),
	regexp.MustCompile(`[₹$]\s*` + amount + `.*?(?:or more|and above|\+)`),
	regexp.MustCompile(amount + `\s*[₹$].*?(?:or more|and above)`),
}

var visitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:more than|over|above|at least|>)\s*(\d+)\s*(?:visits?|times?)`),
	regexp.MustCompile(`(?:visited?|visits?|came).*?(?:more than|over|above|>)\s*(\d+)`),
	regexp.MustCompile(`(?:visited?|visits?|came).*?(\d+)\s*(?:times?|visits?)`),
	regexp.MustCompile(`(\d+)\s*(?:or more|\+)\s*(?:visits?|times?)`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:(?:haven|hasn|didn)['’]?t visit(?:ed)?|not visit(?:ed)?|inactive|dormant).*?(?:in|for|since).*?(\d+)\s*(months?|days?|weeks?|years?)`),
	regexp.MustCompile(`(?:last visit|visited last).*?(?:over|more than).*?(\d+)\s*(months?|days?|weeks?|years?)`),
	regexp.MustCompile(`(\d+)\s*(months?|days?|weeks?|years?).*?(?:ago|back)`),
}

// PatternMatcher extracts at most one rule per field from free text with
// fixed regular expressions. It is the fallback when no model is usable.
type PatternMatcher struct {
	now func() time.Time
}

func NewPatternMatcher(now func() time.Time) *PatternMatcher {
	if now == nil {
		now = time.Now
	}
	return &PatternMatcher{now: now}
}

type hit struct {
	pos  int
	rule segment.Rule
}

// Match returns rules in the order they appear in the prompt, chained with
// AND. The result is empty when nothing matched.
func (m *PatternMatcher) Match(prompt string) segment.RuleSet {
	text := strings.ToLower(prompt)

	var hits []hit
	if h, ok := m.spend(text); ok {
		hits = append(hits, h)
	}
	if h, ok := m.visits(text); ok {
		hits = append(hits, h)
	}
	if h, ok := m.lastVisit(text); ok {
		hits = append(hits, h)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	rules := make(segment.RuleSet, 0, len(hits))
	for _, h := range hits {
		r := h.rule
		r.Logic = segment.And
		rules = append(rules, r)
	}
	if len(rules) > 0 {
		rules[len(rules)-1].Logic = segment.NoLogic
	}
	return rules
}

func (m *PatternMatcher) spend(text string) (hit, bool) {
	for _, re := range spendPatterns {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(text[loc[2]:loc[3]], ",", ""), 64)
		if err != nil || v <= 0 {
			continue
		}
		return hit{pos: loc[0], rule: segment.Rule{
			Field:    segment.TotalSpend,
			Operator: segment.GT,
			Value:    strconv.FormatFloat(v, 'f', -1, 64),
		}}, true
	}
	return hit{}, false
}

func (m *PatternMatcher) visits(text string) (hit, bool) {
	for _, re := range visitPatterns {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		v, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || v < 0 {
			continue
		}
		return hit{pos: loc[0], rule: segment.Rule{
			Field:    segment.TotalVisits,
			Operator: segment.GT,
			Value:    strconv.Itoa(v),
		}}, true
	}
	return hit{}, false
}

func (m *PatternMatcher) lastVisit(text string) (hit, bool) {
	for _, re := range datePatterns {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || n <= 0 {
			continue
		}
		since := shiftBack(m.now(), n, text[loc[4]:loc[5]])
		return hit{pos: loc[0], rule: segment.Rule{
			Field:    segment.LastVisitDate,
			Operator: segment.LT,
			Value:    since.Format(segment.DateLayout),
		}}, true
	}
	return hit{}, false
}

func shiftBack(now time.Time, n int, unit string) time.Time {
	switch {
	case strings.HasPrefix(unit, "month"):
		return now.AddDate(0, -n, 0)
	case strings.HasPrefix(unit, "week"):
		return now.AddDate(0, 0, -7*n)
	case strings.HasPrefix(unit, "year"):
		return now.AddDate(-n, 0, 0)
	}
	return now.AddDate(0, 0, -n)
}
