package dsl

import (
	"fmt"
	"strings"
)

// Op is a comparison operator in a condition.
type Op string

const (
	// OpEquals is a case-sensitive exact match.
	OpEquals Op = "=="

	// OpContains is a case-sensitive substring match.
	OpContains Op = "CONTAINS"
)

// Subject identifies what a condition reads from.
type Subject string

const (
	// SubjectTag reads a physical tag value from the resource's tag map.
	SubjectTag Subject = "TAG"

	// SubjectDimension reads an already-resolved dimension value.
	SubjectDimension Subject = "DIMENSION"
)

// Condition is a single comparison. The supported forms are
// TagEquals, TagContains and DimensionEquals; DIMENSION only
// supports equality.
type Condition struct {
	Subject Subject
	Key     string
	Op      Op
	Value   string
}

// String renders the condition back to its canonical DSL form.
func (c Condition) String() string {
	return fmt.Sprintf("%s['%s'] %s '%s'", c.Subject, c.Key, c.Op, c.Value)
}

// Predicate is a disjunction of conditions. It evaluates true if any
// condition evaluates true.
type Predicate struct {
	Conditions []Condition
}

// String renders the predicate back to its canonical DSL form.
func (p Predicate) String() string {
	parts := make([]string, len(p.Conditions))
	for i, c := range p.Conditions {
		parts[i] = c.String()
	}
	return strings.Join(parts, " || ")
}

// References returns the names of dimensions this predicate reads via
// DIMENSION[...] conditions.
func (p Predicate) References() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, c := range p.Conditions {
		if c.Subject == SubjectDimension && !seen[c.Key] {
			seen[c.Key] = true
			refs = append(refs, c.Key)
		}
	}
	return refs
}

// TagKeys returns the physical tag keys this predicate reads.
func (p Predicate) TagKeys() []string {
	var keys []string
	seen := make(map[string]bool)
	for _, c := range p.Conditions {
		if c.Subject == SubjectTag && !seen[c.Key] {
			seen[c.Key] = true
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Literal is the parsed form of a value expression: the unquoted string.
type Literal string

// String renders the literal back to its quoted DSL form.
func (l Literal) String() string {
	return fmt.Sprintf("'%s'", string(l))
}
