// Package oracle is the boundary between the search and the outside world:
// solving a predicate state, turning the model into concrete inputs, and
// running the method under test on them.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// DefaultTimeout bounds one Execute call when none is configured.
const DefaultTimeout = 5 * time.Second

var (
	// ErrUnsat means the state has no model.
	ErrUnsat = errors.New("unsatisfiable")
	// ErrUnknown means the solver gave up without an answer.
	ErrUnknown = errors.New("solver returned unknown")
	// ErrMaterialize means a model could not be turned into inputs.
	ErrMaterialize = errors.New("materialization failed")
	// ErrExecution means the runner crashed or produced no trace.
	ErrExecution = errors.New("execution failed")
	// ErrTimeout means one Execute call ran out of time.
	ErrTimeout = errors.New("oracle timeout")
)

// Model assigns constants to symbols.
type Model map[string]int64

func (m Model) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Input is one concrete invocation of a method.
type Input struct {
	Receiver int64   `json:"receiver"`
	Args     []int64 `json:"args"`
}

func (in Input) String() string {
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = fmt.Sprintf("%d", a)
	}
	return fmt.Sprintf("(this=%d; %s)", in.Receiver, strings.Join(args, ", "))
}

// Solver finds a model of a predicate state. It returns ErrUnsat or
// ErrUnknown, possibly wrapped, when there is none.
type Solver interface {
	Solve(ctx context.Context, s *predicate.State) (Model, error)
}

// Materializer builds the receiver and arguments of m from a model.
type Materializer interface {
	Materialize(m *ir.Method, model Model) (Input, error)
}

// Runner executes m on in and reports the trace of the run. A run that ends
// in an exception still has a trace; only crashes and timeouts are errors.
type Runner interface {
	Run(ctx context.Context, m *ir.Method, in Input) (*trace.Trace, error)
}

// Outcome is the result of one successful Execute call.
type Outcome struct {
	Model Model
	Input Input
	Trace *trace.Trace
}

// Oracle composes the three collaborators. It holds no search state and
// is safe for concurrent use if its collaborators are.
type Oracle struct {
	solver       Solver
	materializer Materializer
	runner       Runner
	timeout      time.Duration
}

// New creates an Oracle. A non-positive timeout selects DefaultTimeout.
func New(solver Solver, materializer Materializer, runner Runner, timeout time.Duration) *Oracle {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Oracle{solver: solver, materializer: materializer, runner: runner, timeout: timeout}
}

// Execute solves s, materializes the model for m and runs m on it, all
// within one timeout. Every failure is returned wrapping one of the
// package's sentinel errors, except cancellation of ctx itself, which is
// returned as ctx.Err().
func (o *Oracle) Execute(ctx context.Context, m *ir.Method, s *predicate.State) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	model, err := o.solver.Solve(ctx, s)
	if err != nil {
		return nil, o.classify(ctx, "solve", err, ErrUnknown)
	}
	logger.Debug("[Oracle] Model for %s: %s", m, model)

	in, err := o.materializer.Materialize(m, model)
	if err != nil {
		return nil, o.classify(ctx, "materialize", err, ErrMaterialize)
	}

	t, err := o.runner.Run(ctx, m, in)
	if err != nil {
		return nil, o.classify(ctx, "run", err, ErrExecution)
	}
	if t.IsEmpty() {
		return nil, fmt.Errorf("run %s%s: %w: empty trace", m, in, ErrExecution)
	}
	return &Outcome{Model: model, Input: in, Trace: t}, nil
}

// Run executes m on a given input under the oracle's timeout, skipping the
// solver. It is used to obtain initial traces.
func (o *Oracle) Run(ctx context.Context, m *ir.Method, in Input) (*trace.Trace, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	t, err := o.runner.Run(ctx, m, in)
	if err != nil {
		return nil, o.classify(ctx, "run", err, ErrExecution)
	}
	if t.IsEmpty() {
		return nil, fmt.Errorf("run %s%s: %w: empty trace", m, in, ErrExecution)
	}
	return t, nil
}

// classify maps err onto the sentinel taxonomy. Errors that already wrap a
// sentinel keep it; a fired oracle deadline becomes ErrTimeout; anything
// else is wrapped with fallback.
func (o *Oracle) classify(ctx context.Context, stage string, err, fallback error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
		// The caller cancelled: not an oracle failure.
		return cause
	}
	for _, sentinel := range []error{ErrUnsat, ErrUnknown, ErrMaterialize, ErrExecution, ErrTimeout} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%s: %w", stage, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%s: %w after %s", stage, ErrTimeout, o.timeout)
	}
	return fmt.Errorf("%s: %w: %v", stage, fallback, err)
}

// IsRecoverable reports whether err is one of the per-iteration failures
// the search absorbs.
func IsRecoverable(err error) bool {
	for _, sentinel := range []error{ErrUnsat, ErrUnknown, ErrMaterialize, ErrExecution, ErrTimeout} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsCrashExit determines if an exit code indicates a crash.
// On Unix, signal exits are typically 128 + signal number.
func IsCrashExit(exitCode int) bool {
	crashSignals := map[int]bool{
		128 + 4:  true, // SIGILL
		128 + 6:  true, // SIGABRT
		128 + 7:  true, // SIGBUS
		128 + 8:  true, // SIGFPE
		128 + 11: true, // SIGSEGV
	}
	return crashSignals[exitCode]
}
