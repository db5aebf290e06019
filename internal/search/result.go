package search

import (
	"time"

	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/divergence"
	"github.com/zjy-dev/cfgds/internal/seed"
)

// Phase is the state a method's search ended in.
type Phase string

const (
	// PhaseDone means every vertex of the graph was covered.
	PhaseDone Phase = "Done"
	// PhaseExhausted means too many consecutive iterations made no progress.
	PhaseExhausted Phase = "Exhausted"
	// PhaseDeadline means the method's time limit elapsed or the run was cancelled.
	PhaseDeadline Phase = "Deadline"
	// PhaseNoInitialTrace means no starting input executed successfully.
	PhaseNoInitialTrace Phase = "NoInitialTrace"
)

// Result summarizes the search of one method.
type Result struct {
	Method      string         `json:"method"`
	Strategy    string         `json:"strategy"`
	Phase       Phase          `json:"phase"`
	Iterations  int            `json:"iterations"`
	OracleCalls int            `json:"oracle_calls"`
	Repairs     int            `json:"repairs"`
	Stats       coverage.Stats `json:"stats"`
	Seeds       []*seed.Seed   `json:"seeds"`
	Duration    time.Duration  `json:"duration"`

	// Graph is the final coverage graph; it is not serialized.
	Graph *coverage.Graph `json:"-"`
	// Divergence is where the last path repair found the trace leaving
	// its path, nil when no repair was attempted.
	Divergence *divergence.Point `json:"-"`
}
