package oracle

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cfgds/internal/exec"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/trace"
	"github.com/zjy-dev/cfgds/internal/trace/tracetest"
)

type MockExecutor struct {
	runFn func(ctx context.Context, stdin []byte, command string, args ...string) (*exec.ExecutionResult, error)
}

func (m *MockExecutor) Run(ctx context.Context, stdin []byte, command string, args ...string) (*exec.ExecutionResult, error) {
	return m.runFn(ctx, stdin, command, args...)
}

func reply(stdout string, code int) *MockExecutor {
	return &MockExecutor{runFn: func(context.Context, []byte, string, ...string) (*exec.ExecutionResult, error) {
		return &exec.ExecutionResult{Stdout: stdout, ExitCode: code}, nil
	}}
}

func TestCommandSolver(t *testing.T) {
	st := predicate.Of(
		predicate.Assign(ir.OpLt, "c", []ir.Value{ir.Sym("x"), ir.Const(0)}, "Demo.sign:entry:0"),
		predicate.Branch(ir.Sym("c"), predicate.CondNeq, []int64{0}, "Demo.sign:entry:1"),
	)

	var req SolveRequest
	solver := NewCommandSolverWithExecutor(&MockExecutor{runFn: func(_ context.Context, stdin []byte, command string, args ...string) (*exec.ExecutionResult, error) {
		assert.Equal(t, "solve", command)
		assert.Equal(t, []string{"--json"}, args)
		require.NoError(t, json.Unmarshal(stdin, &req))
		return &exec.ExecutionResult{Stdout: `{"status":"sat","model":{"x":-1}}`}, nil
	}}, []string{"solve", "--json"})

	model, err := solver.Solve(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, Model{"x": -1}, model)
	assert.Equal(t, []WirePredicate{
		{Kind: "state", Op: "lt", Dst: "c", Args: []string{"x", "0"}, Origin: "Demo.sign:entry:0"},
		{Kind: "path", Subject: "c", Cond: "!=", Consts: []int64{0}, Origin: "Demo.sign:entry:1"},
	}, req.Predicates)
}

func TestCommandSolverStatuses(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		code   int
		want   error
	}{
		{"unsat", `{"status":"unsat"}`, 0, ErrUnsat},
		{"unknown", `{"status":"unknown","reason":"timeout"}`, 0, ErrUnknown},
		{"garbage", `not json`, 0, ErrUnknown},
		{"non-zero exit", ``, 3, ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandSolverWithExecutor(reply(tt.stdout, tt.code), []string{"solve"}).
				Solve(context.Background(), predicate.Empty())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCommandRunner(t *testing.T) {
	m := signMethod()
	recs, err := json.Marshal(RunResponse{Status: StatusOK, Trace: trace.Encode(tracetest.Path(m, "entry", "pos"))})
	require.NoError(t, err)

	var req RunRequest
	runner := NewCommandRunnerWithExecutor(&MockExecutor{runFn: func(_ context.Context, stdin []byte, _ string, _ ...string) (*exec.ExecutionResult, error) {
		require.NoError(t, json.Unmarshal(stdin, &req))
		return &exec.ExecutionResult{Stdout: string(recs)}, nil
	}}, []string{"agent"}, m.Program())

	tr, err := runner.Run(context.Background(), m, Input{Args: []int64{4}})
	require.NoError(t, err)
	assert.Equal(t, RunRequest{Method: "Demo.sign", Args: []int64{4}}, req)
	assert.Equal(t, tracetest.Path(m, "entry", "pos").String(), tr.String())
}

func TestCommandRunnerFailures(t *testing.T) {
	m := signMethod()
	tests := []struct {
		name   string
		stdout string
		code   int
	}{
		{"crash signal", ``, 139},
		{"non-zero exit", ``, 1},
		{"crash status", `{"status":"crash","reason":"StackOverflowError"}`, 0},
		{"unknown method", `{"status":"ok","trace":[{"kind":"method-entry","method":"Nope.nope"}]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandRunnerWithExecutor(reply(tt.stdout, tt.code), []string{"agent"}, m.Program()).
				Run(context.Background(), m, Input{Args: []int64{0}})
			assert.ErrorIs(t, err, ErrExecution)
		})
	}
}

func TestNewCommandRunnerOptions(t *testing.T) {
	p := signMethod().Program()
	tests := []struct {
		name    string
		options map[string]interface{}
		want    []string
		wantErr bool
	}{
		{
			name:    "string command",
			options: map[string]interface{}{"runner_command": "java -jar agent.jar"},
			want:    []string{"java", "-jar", "agent.jar"},
		},
		{
			name:    "list command",
			options: map[string]interface{}{"runner_command": []interface{}{"./agent", "--trace"}},
			want:    []string{"./agent", "--trace"},
		},
		{
			name: "under qemu",
			options: map[string]interface{}{
				"runner_command":      "./agent",
				"runner_qemu":         "qemu-aarch64",
				"runner_qemu_sysroot": "/usr/aarch64-linux-gnu",
			},
			want: []string{"qemu-aarch64", "-L", "/usr/aarch64-linux-gnu", "./agent"},
		},
		{
			name:    "qemu without sysroot",
			options: map[string]interface{}{"runner_command": "./agent", "runner_qemu": "qemu-riscv64"},
			want:    []string{"qemu-riscv64", "./agent"},
		},
		{name: "missing command", options: map[string]interface{}{}, wantErr: true},
		{
			name:    "bad qemu option",
			options: map[string]interface{}{"runner_command": "./agent", "runner_qemu": 3},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewCommandRunner(p, tt.options)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.(*CommandRunner).argv)
		})
	}
}
