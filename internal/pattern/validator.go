package pattern

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// MinPatternLength is the shortest pattern accepted at rule creation. Shorter
// patterns match almost every description.
const MinPatternLength = 3

// ValidateRule rejects malformed rules before they are stored. The matcher
// itself assumes well-formed input and never fails.
func ValidateRule(rule model.Rule) error {
	pattern := strings.TrimSpace(rule.Pattern)
	if pattern == "" {
		return common.InvalidInputf("rule pattern is required")
	}
	if utf8.RuneCountInString(pattern) < MinPatternLength {
		return common.InvalidInputf("rule pattern %q is shorter than %d characters", pattern, MinPatternLength)
	}
	if strings.TrimSpace(rule.Category) == "" {
		return common.InvalidInputf("rule category is required")
	}
	if pattern != rule.Pattern {
		return common.InvalidInputf("rule pattern %q has leading or trailing whitespace", rule.Pattern)
	}
	return nil
}

// Overlaps lists existing active rules that already match every description
// the new rule would match, which makes the new rule unreachable or redundant.
func Overlaps(rule model.Rule, existing []model.Rule) []string {
	pattern := strings.ToLower(rule.Pattern)
	var shadowedBy []string
	for _, other := range existing {
		if !other.IsActive || other.Priority < rule.Priority {
			continue
		}
		if strings.Contains(pattern, strings.ToLower(other.Pattern)) {
			shadowedBy = append(shadowedBy, fmt.Sprintf("%q -> %s", other.Pattern, other.Category))
		}
	}
	return shadowedBy
}
