package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zjy-dev/cfgds/internal/exec"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/trace"
)

func init() {
	RegisterSolver("command", NewCommandSolver)
	RegisterRunner("command", NewCommandRunner)
}

// Wire status values of command backends.
const (
	StatusSat     = "sat"
	StatusUnsat   = "unsat"
	StatusUnknown = "unknown"
	StatusOK      = "ok"
	StatusCrash   = "crash"
)

// WirePredicate is the JSON form of a predicate sent to an external solver.
type WirePredicate struct {
	Kind    string   `json:"kind"`
	Op      string   `json:"op,omitempty"`
	Dst     string   `json:"dst,omitempty"`
	Args    []string `json:"args,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Cond    string   `json:"cond,omitempty"`
	Consts  []int64  `json:"consts,omitempty"`
	Origin  string   `json:"origin,omitempty"`
}

// SolveRequest is written to the solver's stdin.
type SolveRequest struct {
	Predicates []WirePredicate `json:"predicates"`
}

// SolveResponse is read from the solver's stdout.
type SolveResponse struct {
	Status string `json:"status"`
	Model  Model  `json:"model,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RunRequest is written to the runner's stdin.
type RunRequest struct {
	Method   string  `json:"method"`
	Receiver int64   `json:"receiver"`
	Args     []int64 `json:"args"`
}

// RunResponse is read from the runner's stdout.
type RunResponse struct {
	Status string         `json:"status"`
	Trace  []trace.Record `json:"trace"`
	Reason string         `json:"reason,omitempty"`
}

// EncodeState converts s to wire predicates.
func EncodeState(s *predicate.State) []WirePredicate {
	out := make([]WirePredicate, 0, s.Len())
	s.Each(func(p predicate.Predicate) bool {
		w := WirePredicate{Origin: p.Origin}
		if p.IsPath() {
			w.Kind = "path"
			w.Subject = p.Subject.String()
			w.Cond = p.Cond.String()
			w.Consts = p.Consts
		} else {
			w.Kind = "state"
			w.Op = p.Op.String()
			w.Dst = p.Dst
			for _, a := range p.Args {
				w.Args = append(w.Args, a.String())
			}
		}
		out = append(out, w)
		return true
	})
	return out
}

// CommandSolver delegates solving to an external process speaking JSON
// over stdin and stdout.
type CommandSolver struct {
	executor exec.Executor
	argv     []string
}

// NewCommandSolver creates a command solver. Option solver_command holds
// the command line.
func NewCommandSolver(options map[string]interface{}) (Solver, error) {
	argv, err := commandLine(options, "solver_command")
	if err != nil {
		return nil, err
	}
	return &CommandSolver{executor: exec.NewCommandExecutor(), argv: argv}, nil
}

// NewCommandSolverWithExecutor creates a command solver running argv
// through executor.
func NewCommandSolverWithExecutor(executor exec.Executor, argv []string) *CommandSolver {
	return &CommandSolver{executor: executor, argv: argv}
}

// Solve sends s to the external solver.
func (c *CommandSolver) Solve(ctx context.Context, s *predicate.State) (Model, error) {
	req, err := json.Marshal(SolveRequest{Predicates: EncodeState(s)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode solve request: %w", err)
	}
	res, err := c.executor.Run(ctx, req, c.argv[0], c.argv[1:]...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: solver exited with %d: %s", ErrUnknown, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var resp SolveResponse
	if err := json.Unmarshal([]byte(res.Stdout), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed solver output: %v", ErrUnknown, err)
	}
	switch resp.Status {
	case StatusSat:
		if resp.Model == nil {
			resp.Model = Model{}
		}
		return resp.Model, nil
	case StatusUnsat:
		return nil, ErrUnsat
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknown, resp.Reason)
	}
}

// CommandRunner delegates execution to an external instrumented runtime.
type CommandRunner struct {
	executor exec.Executor
	argv     []string
	program  *ir.Program
}

// NewCommandRunner creates a command runner for methods of p. Option
// runner_command holds the command line. When runner_qemu names a QEMU
// user-mode emulator the command runs under it, with runner_qemu_sysroot
// passed as its -L argument.
func NewCommandRunner(p *ir.Program, options map[string]interface{}) (Runner, error) {
	argv, err := commandLine(options, "runner_command")
	if err != nil {
		return nil, err
	}
	argv, err = emulated(options, argv)
	if err != nil {
		return nil, err
	}
	return &CommandRunner{executor: exec.NewCommandExecutor(), argv: argv, program: p}, nil
}

// NewCommandRunnerWithExecutor creates a command runner running argv
// through executor.
func NewCommandRunnerWithExecutor(executor exec.Executor, argv []string, p *ir.Program) *CommandRunner {
	return &CommandRunner{executor: executor, argv: argv, program: p}
}

// Run asks the external runtime to execute m on in and decodes its trace.
func (c *CommandRunner) Run(ctx context.Context, m *ir.Method, in Input) (*trace.Trace, error) {
	req, err := json.Marshal(RunRequest{Method: m.FullName(), Receiver: in.Receiver, Args: in.Args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}
	res, err := c.executor.Run(ctx, req, c.argv[0], c.argv[1:]...)
	if err != nil {
		return nil, err
	}
	if IsCrashExit(res.ExitCode) {
		return nil, fmt.Errorf("%w: runner crashed with exit code %d", ErrExecution, res.ExitCode)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: runner exited with %d: %s", ErrExecution, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var resp RunResponse
	if err := json.Unmarshal([]byte(res.Stdout), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed runner output: %v", ErrExecution, err)
	}
	if resp.Status != StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", ErrExecution, resp.Status, resp.Reason)
	}
	t, err := trace.Decode(c.program, resp.Trace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	logger.Debug("[Oracle] %s%s produced %d actions", m, in, t.Len())
	return t, nil
}

func commandLine(options map[string]interface{}, key string) ([]string, error) {
	if list, err := StringsOption(options, key); err == nil && len(list) > 0 {
		return list, nil
	}
	line, err := StringOption(options, key, "")
	if err != nil {
		return nil, err
	}
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return nil, fmt.Errorf("option %s is required", key)
	}
	return argv, nil
}

// emulated prefixes argv with the configured QEMU invocation, if any.
func emulated(options map[string]interface{}, argv []string) ([]string, error) {
	qemu, err := StringOption(options, "runner_qemu", "")
	if err != nil || qemu == "" {
		return argv, err
	}
	sysroot, err := StringOption(options, "runner_qemu_sysroot", "")
	if err != nil {
		return nil, err
	}
	out := []string{qemu}
	if sysroot != "" {
		out = append(out, "-L", sysroot)
	}
	logger.Debug("[Oracle] Running %s under %s", argv[0], qemu)
	return append(out, argv...), nil
}
