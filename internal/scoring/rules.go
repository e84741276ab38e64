package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// Match applies an answer rule to the expected and given values.
// EXACT_MATCH compares trimmed strings and stays case-sensitive.
// NUMERIC_EQUAL accepts a decimal comma and compares within epsilon.
// The digit rules ignore every non-digit character. ORDERED_MATCH and
// UNORDERED_MATCH split on whitespace, comma, semicolon or pipe and compare
// the tokens case-insensitively.
func Match(rule models.AnswerRuleType, expected, given string, epsilon float64) (bool, error) {
	switch rule {
	case models.RuleExactMatch:
		return strings.TrimSpace(expected) == strings.TrimSpace(given), nil

	case models.RuleNumericEqual:
		want, ok := ParseNumber(expected)
		if !ok {
			return false, fmt.Errorf("answer key %q is not numeric", expected)
		}
		got, ok := ParseNumber(given)
		if !ok {
			return false, nil
		}
		return math.Abs(want-got) <= epsilon, nil

	case models.RuleOrderedDigits:
		want, got := digits(expected), digits(given)
		return len(want) > 0 && equalSeq(want, got), nil

	case models.RuleUnorderedDigits:
		want, got := digits(expected), digits(given)
		return len(want) > 0 && equalSet(want, got), nil

	case models.RuleOrderedMatch:
		want, got := tokens(expected), tokens(given)
		return len(want) > 0 && equalSeq(want, got), nil

	case models.RuleUnorderedMatch:
		want, got := tokens(expected), tokens(given)
		return len(want) > 0 && equalSet(want, got), nil
	}

	return false, fmt.Errorf("unknown answer rule %q", rule)
}

// CheckKey reports why expected can never satisfy rule, or nil when it can.
func CheckKey(rule models.AnswerRuleType, expected string) error {
	if strings.TrimSpace(expected) == "" {
		return fmt.Errorf("answer key is empty")
	}
	switch rule {
	case models.RuleExactMatch:
		return nil
	case models.RuleNumericEqual:
		if _, ok := ParseNumber(expected); !ok {
			return fmt.Errorf("answer key %q is not numeric", expected)
		}
		return nil
	case models.RuleOrderedDigits, models.RuleUnorderedDigits:
		if len(digits(expected)) == 0 {
			return fmt.Errorf("answer key %q has no digits", expected)
		}
		return nil
	case models.RuleOrderedMatch, models.RuleUnorderedMatch:
		if len(tokens(expected)) == 0 {
			return fmt.Errorf("answer key %q has no tokens", expected)
		}
		return nil
	}
	return fmt.Errorf("unknown answer rule %q", rule)
}

// ParseNumber accepts a decimal comma and surrounding whitespace.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// digits strips everything but digits: "1,3,5" and "1 3 5" both give 1 3 5.
func digits(s string) []string {
	var out []string
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, string(r))
		}
	}
	return out
}

func tokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '|'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

func equalSeq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalSet(a, b []string) bool {
	sa, sb := toSet(a), toSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for k := range sa {
		if _, ok := sb[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}
