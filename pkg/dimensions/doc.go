// Package dimensions loads dimension definition documents from disk,
// validates them against a CUE schema, and watches the definition
// directory for changes.
//
// A dimension document is a YAML (or JSON) file describing one
// dimension: its virtual tag name, evaluation index, default value and
// ordered match statements. Validation happens in two layers: the CUE
// schema checks document shape, and struct tags check field-level
// constraints. Rule-level checks (expression syntax, index uniqueness,
// reference ordering) belong to the engine compiler.
package dimensions
