// Package dsl implements the VTagger rule expression language.
//
// A match expression is a disjunction of conditions over a resource's tags
// and previously resolved dimensions:
//
//	TAG['Environment'] == 'prod' || TAG['Environment'] CONTAINS 'stag'
//	DIMENSION['environment'] == 'production'
//
// A value expression is a single-quoted literal, e.g. 'production'.
//
// The grammar is deliberately small: OR only, no AND, no negation, no
// parentheses. Parsing is pure; malformed input yields a *ParseError that
// identifies the offending fragment.
package dsl
