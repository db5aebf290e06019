// Package trace holds the ordered event log an instrumented run reports, and
// the walker that maps it back onto instructions.
package trace

import (
	"fmt"
	"strings"

	"github.com/zjy-dev/cfgds/internal/ir"
)

// Kind is the kind of a trace action.
type Kind int

const (
	MethodEntry Kind = iota
	MethodReturn
	MethodThrow
	StaticInitEntry
	StaticInitExit
	BlockEntry
	BlockJump
	BlockBranch
	BlockSwitch
	MethodCall
)

var kindNames = []string{
	MethodEntry:     "method-entry",
	MethodReturn:    "method-return",
	MethodThrow:     "method-throw",
	StaticInitEntry: "static-init-entry",
	StaticInitExit:  "static-init-exit",
	BlockEntry:      "block-entry",
	BlockJump:       "block-jump",
	BlockBranch:     "block-branch",
	BlockSwitch:     "block-switch",
	MethodCall:      "method-call",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}

// ExitsBlock reports whether k leaves the current block.
func (k Kind) ExitsBlock() bool {
	switch k {
	case MethodReturn, MethodThrow, BlockJump, BlockBranch, BlockSwitch:
		return true
	}
	return false
}

// Action is one runtime event.
//
// Method is the method the event belongs to; for MethodCall it is the
// dispatched callee. Block is set for block actions and for method
// return/throw (the block holding the exiting terminator). Call is the call
// site of a MethodCall.
type Action struct {
	Kind   Kind
	Method *ir.Method
	Block  *ir.Block
	Call   *ir.Instruction
}

func (a Action) String() string {
	switch a.Kind {
	case MethodCall:
		return fmt.Sprintf("%s %s @ %s", a.Kind, a.Method, a.Call.Location())
	case MethodEntry, StaticInitEntry, StaticInitExit:
		return fmt.Sprintf("%s %s", a.Kind, a.Method)
	}
	if a.Block != nil {
		return fmt.Sprintf("%s %s", a.Kind, a.Block)
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Method)
}

// Trace is an immutable action sequence.
type Trace struct {
	actions []Action
}

// New copies actions into a Trace.
func New(actions []Action) *Trace {
	cp := make([]Action, len(actions))
	copy(cp, actions)
	return &Trace{actions: cp}
}

// Len returns the number of actions.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return len(t.actions)
}

// At returns the i-th action.
func (t *Trace) At(i int) Action { return t.actions[i] }

// Actions returns a copy of the action slice.
func (t *Trace) Actions() []Action {
	cp := make([]Action, len(t.actions))
	copy(cp, t.actions)
	return cp
}

// IsEmpty reports whether t has no actions.
func (t *Trace) IsEmpty() bool { return t.Len() == 0 }

func (t *Trace) String() string {
	var sb strings.Builder
	for i, a := range t.actions {
		fmt.Fprintf(&sb, "%3d %s\n", i, a)
	}
	return sb.String()
}
