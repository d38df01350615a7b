package dsl

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseError describes a malformed expression. Fragment is the smallest
// piece of input that failed to parse, so validation UIs can point at it.
type ParseError struct {
	Expression string
	Fragment   string
	Message    string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Fragment != "" && e.Fragment != e.Expression {
		return fmt.Sprintf("parse error in %q at %q: %s", e.Expression, e.Fragment, e.Message)
	}
	return fmt.Sprintf("parse error in %q: %s", e.Expression, e.Message)
}

// Condition patterns, compiled once. Whitespace around brackets and
// operators is insignificant; keys and values are single-quoted.
var (
	tagPattern   = regexp.MustCompile(`^TAG\s*\[\s*'([^']+)'\s*\]\s*(==|CONTAINS)\s*'([^']*)'$`)
	dimPattern   = regexp.MustCompile(`^DIMENSION\s*\[\s*'([^']+)'\s*\]\s*(==|CONTAINS)\s*'([^']*)'$`)
	valuePattern = regexp.MustCompile(`^\s*'([^']*)'\s*$`)
)

// ParseMatch parses a match expression into a Predicate.
// Empty input is a configuration error, not an always-false predicate.
func ParseMatch(text string) (Predicate, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Predicate{}, &ParseError{
			Expression: text,
			Message:    "match expression is empty",
		}
	}

	parts := splitConditions(trimmed)
	conditions := make([]Condition, 0, len(parts))

	for _, part := range parts {
		cond, err := parseCondition(text, strings.TrimSpace(part))
		if err != nil {
			return Predicate{}, err
		}
		conditions = append(conditions, cond)
	}

	return Predicate{Conditions: conditions}, nil
}

// splitConditions splits a match expression on || separators. Bars
// inside quoted literals are part of the literal, so a value like
// 'a||b' does not end its condition.
func splitConditions(s string) []string {
	var parts []string
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case !inQuote && s[i] == '|' && i+1 < len(s) && s[i+1] == '|':
			parts = append(parts, s[start:i])
			i++
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// parseCondition parses a single condition fragment.
func parseCondition(expression, fragment string) (Condition, error) {
	if fragment == "" {
		return Condition{}, &ParseError{
			Expression: expression,
			Fragment:   fragment,
			Message:    "empty condition",
		}
	}

	if m := tagPattern.FindStringSubmatch(fragment); m != nil {
		return Condition{
			Subject: SubjectTag,
			Key:     m[1],
			Op:      Op(m[2]),
			Value:   m[3],
		}, nil
	}

	if m := dimPattern.FindStringSubmatch(fragment); m != nil {
		if Op(m[2]) != OpEquals {
			return Condition{}, &ParseError{
				Expression: expression,
				Fragment:   fragment,
				Message:    "DIMENSION conditions only support ==",
			}
		}
		return Condition{
			Subject: SubjectDimension,
			Key:     m[1],
			Op:      OpEquals,
			Value:   m[3],
		}, nil
	}

	return Condition{}, &ParseError{
		Expression: expression,
		Fragment:   fragment,
		Message:    "expected TAG['key'] == 'value', TAG['key'] CONTAINS 'value' or DIMENSION['name'] == 'value'",
	}
}

// ParseValue parses a value expression: a single-quoted literal.
func ParseValue(text string) (Literal, error) {
	m := valuePattern.FindStringSubmatch(text)
	if m == nil {
		return "", &ParseError{
			Expression: text,
			Message:    "expected a single-quoted literal, e.g. 'production'",
		}
	}
	if m[1] == "" {
		return "", &ParseError{
			Expression: text,
			Message:    "value literal is empty",
		}
	}
	return Literal(m[1]), nil
}
