// Package pattern implements the deterministic rule matcher.
package pattern

import (
	"sort"
	"strings"

	"github.com/Veraticus/spice-suggest/internal/model"
)

// Matcher evaluates descriptions against an ordered rule set. It is safe for
// concurrent use once built.
type Matcher struct {
	rules    []model.Rule
	patterns []string
}

// NewMatcher creates a matcher over the active rules, ordered by priority
// (highest first) and then by ID. Rules with blank patterns never match.
func NewMatcher(rules []model.Rule) *Matcher {
	active := make([]model.Rule, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsActive || strings.TrimSpace(rule.Pattern) == "" {
			continue
		}
		active = append(active, rule)
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].ID < active[j].ID
	})

	patterns := make([]string, len(active))
	for i, rule := range active {
		patterns[i] = strings.ToLower(strings.TrimSpace(rule.Pattern))
	}

	return &Matcher{rules: active, patterns: patterns}
}

// Match returns the category of the first rule whose pattern is a
// case-insensitive substring of description.
func (m *Matcher) Match(description string) (string, bool) {
	rule, ok := m.MatchRule(description)
	if !ok {
		return "", false
	}
	return rule.Category, true
}

// MatchRule returns the first matching rule.
func (m *Matcher) MatchRule(description string) (model.Rule, bool) {
	lower := strings.ToLower(description)
	for i, pattern := range m.patterns {
		if strings.Contains(lower, pattern) {
			return m.rules[i], true
		}
	}
	return model.Rule{}, false
}

// Match is the functional form: it matches description against rules in the
// order given, first match wins.
func Match(description string, rules []model.Rule) (string, bool) {
	lower := strings.ToLower(description)
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, pattern) {
			return rule.Category, true
		}
	}
	return "", false
}
