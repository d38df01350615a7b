// Package engine provides the dimension rule engine: compilation of
// dimension definitions into an ordered, dependency-checked evaluation
// plan, and resolution of a resource's tags into virtual tag values.
//
// Dimensions are evaluated in index order. Within a dimension the first
// statement whose match expression evaluates true wins; if none match,
// the dimension's default value applies. DIMENSION[...] references may
// only point at dimensions with a strictly lower index, which the
// compiler enforces up front so resolution never encounters an
// unresolved reference at runtime.
package engine
