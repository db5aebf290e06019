package app

import (
	"fmt"

	"github.com/zjy-dev/cfgds/internal/config"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/ir/ssaload"
)

// loadProgram loads the target from a YAML descriptor or from Go packages.
func loadProgram(target config.TargetConfig) (*ir.Program, error) {
	switch {
	case target.Program != "" && len(target.Packages) > 0:
		return nil, fmt.Errorf("target: set either program or packages, not both")
	case target.Program != "":
		p, err := ir.Load(target.Program)
		if err != nil {
			return nil, fmt.Errorf("failed to load program: %w", err)
		}
		return p, nil
	case len(target.Packages) > 0:
		p, err := ssaload.Load(target.Dir, target.Packages...)
		if err != nil {
			return nil, fmt.Errorf("failed to load packages: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("target: no program or packages configured")
	}
}

// selectMethods resolves names in p. No names selects every method with a
// body except static initializers.
func selectMethods(p *ir.Program, names []string) ([]*ir.Method, error) {
	if len(names) == 0 {
		var out []*ir.Method
		for _, m := range p.Methods {
			if m.HasBody() && !m.IsStaticInit() {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("program has no methods with a body")
		}
		return out, nil
	}

	out := make([]*ir.Method, 0, len(names))
	for _, name := range names {
		m, ok := p.Method(name)
		if !ok {
			return nil, fmt.Errorf("method %s not found", name)
		}
		if !m.HasBody() {
			return nil, fmt.Errorf("method %s has no body", name)
		}
		out = append(out, m)
	}
	return out, nil
}
