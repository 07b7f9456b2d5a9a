package semantic

import "time"

// DefaultVectorDims is the configured vector width of the index.
const DefaultVectorDims = 384

// Record is one embedding record, keyed by entity id. Later writes for the
// same entity replace earlier ones.
type Record struct {
	EntityID    string
	Vector      []float32
	SourceText  string
	Metadata    map[string]any
	GeneratedAt time.Time
}

// Hit is a single similarity-search result. Score is cosine similarity
// shifted to be non-negative (cosine + 1.0), higher is more similar.
type Hit struct {
	ID          string         `json:"id"`
	EntityID    string         `json:"product_id"`
	Score       float32        `json:"score"`
	SourceText  string         `json:"embedded_text,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GeneratedAt time.Time      `json:"generated_at,omitempty"`
	Vector      []float32      `json:"embedding,omitempty"`
}

// QueryOpts controls a similarity query.
type QueryOpts struct {
	// K is the number of hits requested.
	K int
	// EntityIDs restricts matches to the given entity ids. Empty means
	// unrestricted.
	EntityIDs []string
	// WithVector returns each hit's stored vector.
	WithVector bool
}

// QueryResult is the ranked hits plus the total match count for
// pagination/telemetry.
type QueryResult struct {
	Hits  []Hit
	Total uint64
}
