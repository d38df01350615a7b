package engine

// DimensionKind describes what a dimension's values represent.
type DimensionKind string

const (
	// KindBusiness marks a business mapping dimension (cost center, team).
	KindBusiness DimensionKind = "business"

	// KindTechnical marks a technical mapping dimension (environment, service).
	KindTechnical DimensionKind = "technical"
)

// Statement is a single ordered rule within a dimension. Match and Value
// hold the raw DSL text as authored; the compiler parses them.
type Statement struct {
	Match string `json:"match" yaml:"match" validate:"required"`
	Value string `json:"value" yaml:"value" validate:"required"`
}

// Dimension is a named virtual tag definition as loaded from a
// dimension document, before compilation.
type Dimension struct {
	// Name is the virtual tag name this dimension produces.
	Name string `json:"vtag_name" yaml:"vtag_name" validate:"required"`

	// Index is the evaluation position. Indexes must be unique across
	// the loaded set; lower indexes evaluate first.
	Index int `json:"index" yaml:"index" validate:"gte=0"`

	// Kind is informational metadata, not used by evaluation.
	Kind DimensionKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// DefaultValue applies when no statement matches.
	DefaultValue string `json:"default_value" yaml:"default_value" validate:"required"`

	// Statements are evaluated in order; the first match wins.
	Statements []Statement `json:"statements" yaml:"statements" validate:"dive"`

	// Source is the file the dimension was loaded from.
	Source string `json:"source,omitempty" yaml:"-"`

	// Checksum is the content hash of the source document, used as the
	// compilation cache key.
	Checksum string `json:"checksum,omitempty" yaml:"-"`
}

// Resource is a cloud resource with its physical tags and any virtual
// tags the platform already holds for it.
type Resource struct {
	// ID is the platform resource identifier (e.g. an ARN).
	ID string `json:"id"`

	// AccountID is the owning cloud account.
	AccountID string `json:"account_id"`

	// PayerAccount is the billing account the resource rolls up to.
	PayerAccount string `json:"payer_account"`

	// Tags are the physical tags, key to value. Keys are case-sensitive.
	Tags map[string]string `json:"tags"`

	// VTags are the virtual tag values currently known to the platform.
	VTags map[string]string `json:"vtags,omitempty"`
}

// ResolvedMapping is the outcome of resolving all dimensions for one
// resource.
type ResolvedMapping struct {
	ResourceID   string `json:"resource_id"`
	AccountID    string `json:"account_id"`
	PayerAccount string `json:"payer_account"`

	// Values maps dimension name to the resolved value. Every loaded
	// dimension has an entry; unmatched dimensions carry the default.
	Values map[string]string `json:"values"`

	// Provenance maps dimension name to "statement:<i>" (zero-based
	// position of the winning statement) or "default".
	Provenance map[string]string `json:"provenance"`

	// Matched is true if at least one dimension resolved through a
	// statement rather than its default.
	Matched bool `json:"matched"`
}

// ProvenanceDefault is the provenance recorded when a dimension falls
// through to its default value.
const ProvenanceDefault = "default"
