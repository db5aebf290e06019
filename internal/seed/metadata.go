package seed

import "time"

// Origin records which search step produced a seed.
type Origin string

const (
	// OriginInitial marks the input a method's search started from.
	OriginInitial Origin = "INITIAL"
	// OriginForced marks an input solved to flip a selected branch.
	OriginForced Origin = "FORCED"
	// OriginRepair marks an input solved while following a static path.
	OriginRepair Origin = "REPAIR"
	// OriginMutation marks an input solved from a mutated path.
	OriginMutation Origin = "MUTATION"
)

// Metadata contains all meta-information about a seed.
// This is used for lineage tracking, resume functionality, and coverage analysis.
type Metadata struct {
	// Basic Info
	ID        uint64    `json:"id"`         // Global unique ID, starts from 1
	FilePath  string    `json:"file_path"`  // Relative path in corpus directory
	CreatedAt time.Time `json:"created_at"` // Creation timestamp

	// Lineage
	ParentID uint64 `json:"parent_id"` // Seed whose trace the input was derived from (0 for none)
	Depth    int    `json:"depth"`     // Derivation depth (0 for initial seeds)
	Origin   Origin `json:"origin"`
	// Branch is the location of the branch the input was built to force.
	Branch string `json:"branch,omitempty"`

	// Metrics
	CovIncrease uint64 `json:"cov_incr"` // Branch outcomes first covered by this seed
	ExecTimeUs  int64  `json:"exec_us"`  // Oracle time in microseconds

	// ContentHash is a short hash of Content for deduplication.
	ContentHash string `json:"content_hash,omitempty"`
}

// NewMetadata creates a new Metadata with the given ID and parent information.
func NewMetadata(id, parentID uint64, depth int) *Metadata {
	return &Metadata{
		ID:        id,
		ParentID:  parentID,
		Depth:     depth,
		Origin:    OriginInitial,
		CreatedAt: time.Now(),
	}
}
