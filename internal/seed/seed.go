package seed

import (
	"fmt"
	"strings"
)

// Seed is one generated test input: a concrete receiver and argument list
// for a method, plus the lineage that produced it.
type Seed struct {
	Meta     Metadata `json:"meta"`
	Method   string   `json:"method"`
	Receiver int64    `json:"receiver"`
	Args     []int64  `json:"args"`
	// Model is the solver assignment the input was read from; nil for
	// inputs that were not solved for.
	Model map[string]int64 `json:"model,omitempty"`
}

// Content renders the invocation canonically, e.g. "Demo.sign(this=0; -1)".
// Seeds with equal content describe the same call.
func (s *Seed) Content() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = fmt.Sprintf("%d", a)
	}
	return fmt.Sprintf("%s(this=%d; %s)", s.Method, s.Receiver, strings.Join(args, ", "))
}
