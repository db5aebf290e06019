// Package search drives coverage-guided input generation: for each target
// method it repeatedly picks the cheapest covered branch next to uncovered
// code, solves for an input that flips it, and repairs executions that
// leave the intended path.
package search

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zjy-dev/cfgds/internal/corpus"
	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/oracle"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// Search strategies.
const (
	StrategyCFGDS        = "cfgds"
	StrategyGenerational = "generational"
)

// Branch tie-break strategies.
const (
	TieBreakRandom = "random"
	TieBreakFirst  = "first"
)

// Defaults of the search configuration.
const (
	DefaultMaxFailedIterations = 20
	DefaultTimeLimit           = 30 * time.Second
	DefaultInitialAttempts     = 10
	DefaultMaxNonImproving     = 3
	DefaultMaxSAPPaths         = 32
)

// Oracle executes methods for the search. *oracle.Oracle implements it.
type Oracle interface {
	// Execute solves s, builds an input of m from the model and runs it.
	Execute(ctx context.Context, m *ir.Method, s *predicate.State) (*oracle.Outcome, error)
	// Run executes m on a given input.
	Run(ctx context.Context, m *ir.Method, in oracle.Input) (*trace.Trace, error)
}

// Config holds configuration for the search engine.
type Config struct {
	// Core components
	Oracle Oracle
	// Corpus receives generated seeds; optional.
	Corpus corpus.Manager

	// Search parameters
	Strategy            string
	MaxFailedIterations int           // Consecutive failed iterations before giving up
	TimeLimit           time.Duration // Per-method deadline
	InitialAttempts     int           // Inputs tried to obtain the first trace
	MaxNonImproving     int           // Consecutive non-improving repairs along one path
	MaxSAPPaths         int           // Candidate paths per forced branch
	TieBreak            string
	Seed                int64 // 0 = time-based
	Parallelism         int   // Methods searched concurrently

	// Graph construction
	CallDepth     int
	OverrideScope []string
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyCFGDS
	}
	if c.MaxFailedIterations <= 0 {
		c.MaxFailedIterations = DefaultMaxFailedIterations
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = DefaultTimeLimit
	}
	if c.InitialAttempts <= 0 {
		c.InitialAttempts = DefaultInitialAttempts
	}
	if c.MaxNonImproving <= 0 {
		c.MaxNonImproving = DefaultMaxNonImproving
	}
	if c.MaxSAPPaths <= 0 {
		c.MaxSAPPaths = DefaultMaxSAPPaths
	}
	if c.TieBreak == "" {
		c.TieBreak = TieBreakRandom
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.CallDepth <= 0 {
		c.CallDepth = coverage.DefaultCallDepth
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Oracle == nil {
		return fmt.Errorf("search: oracle is required")
	}
	switch c.Strategy {
	case StrategyCFGDS, StrategyGenerational:
	default:
		return fmt.Errorf("search: unknown strategy %q", c.Strategy)
	}
	switch c.TieBreak {
	case TieBreakRandom, TieBreakFirst:
	default:
		return fmt.Errorf("search: unknown tie break %q", c.TieBreak)
	}
	return nil
}

// Engine searches methods independently, each in its own Session.
type Engine struct {
	cfg Config
}

// NewEngine creates a new search engine.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run searches every method, at most Parallelism at a time, each under its
// own time limit. Results are returned in the order of methods. The error
// is non-nil only when ctx itself ended or a graph could not be built;
// the results gathered so far are returned with it.
func (e *Engine) Run(ctx context.Context, methods []*ir.Method) ([]*Result, error) {
	start := time.Now()
	logger.Info("[CFGDS] Searching %d methods (strategy %s, parallelism %d, time limit %s)",
		len(methods), e.cfg.Strategy, e.cfg.Parallelism, e.cfg.TimeLimit)

	results := make([]*Result, len(methods))
	var g errgroup.Group
	g.SetLimit(e.cfg.Parallelism)
	for i, m := range methods {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = &Result{Method: m.FullName(), Strategy: e.cfg.Strategy, Phase: PhaseDeadline}
				return nil
			}
			r, err := e.RunMethod(ctx, m, e.cfg.Seed+int64(i))
			if err != nil {
				return fmt.Errorf("search %s: %w", m.FullName(), err)
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()

	if e.cfg.Corpus != nil {
		if saveErr := e.cfg.Corpus.Save(); saveErr != nil {
			logger.Error("[CFGDS] Failed to save state: %v", saveErr)
		}
	}
	e.printSummary(results, time.Since(start))
	if err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// RunMethod searches one method with the given rng seed.
func (e *Engine) RunMethod(ctx context.Context, m *ir.Method, rngSeed int64) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TimeLimit)
	defer cancel()

	s, err := NewSession(e.cfg, m, rngSeed)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx), nil
}

func (e *Engine) printSummary(results []*Result, elapsed time.Duration) {
	logger.Info("=====================================")
	logger.Info("         Search Summary")
	logger.Info("=====================================")
	logger.Info("Total time: %s", elapsed.Round(time.Millisecond))
	var seeds, calls int
	for _, r := range results {
		if r == nil {
			continue
		}
		seeds += len(r.Seeds)
		calls += r.OracleCalls
		logger.Info("%-32s %-14s branches %d/%d (%.1f%%)", r.Method, r.Phase,
			r.Stats.CoveredBranches, r.Stats.Branches, r.Stats.BranchCoverage())
	}
	logger.Info("Seeds generated: %d", seeds)
	logger.Info("Oracle calls: %d", calls)
	logger.Info("=====================================")
}
