package trace

import (
	"fmt"

	"github.com/zjy-dev/cfgds/internal/ir"
)

// Record is the JSON wire form of an Action, exchanged with external runners.
type Record struct {
	Kind   string `json:"kind"`
	Method string `json:"method,omitempty"`
	Block  string `json:"block,omitempty"`

	// Call site of a method-call action.
	SiteMethod string `json:"site_method,omitempty"`
	SiteBlock  string `json:"site_block,omitempty"`
	SiteIndex  int    `json:"site_index,omitempty"`
}

// Encode converts t to wire records.
func Encode(t *Trace) []Record {
	recs := make([]Record, 0, t.Len())
	for _, a := range t.actions {
		r := Record{Kind: a.Kind.String()}
		if a.Method != nil {
			r.Method = a.Method.FullName()
		}
		if a.Block != nil {
			r.Block = a.Block.Label
		}
		if a.Call != nil {
			r.SiteMethod = a.Call.Block().Method().FullName()
			r.SiteBlock = a.Call.Block().Label
			r.SiteIndex = a.Call.Index()
		}
		recs = append(recs, r)
	}
	return recs
}

// Decode resolves wire records against p. The callee of a method-call action
// may be unknown to p (an external method); every other reference must resolve.
func Decode(p *ir.Program, recs []Record) (*Trace, error) {
	actions := make([]Action, 0, len(recs))
	for i, r := range recs {
		kind, err := ParseKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		a := Action{Kind: kind}
		if r.Method != "" {
			if m, ok := p.Method(r.Method); ok {
				a.Method = m
			} else if kind != MethodCall {
				return nil, fmt.Errorf("record %d: unknown method %s", i, r.Method)
			}
		}
		if r.Block != "" {
			if a.Method == nil {
				return nil, fmt.Errorf("record %d: block %s without method", i, r.Block)
			}
			if a.Block = a.Method.Block(r.Block); a.Block == nil {
				return nil, fmt.Errorf("record %d: unknown block %s in %s", i, r.Block, r.Method)
			}
		}
		if kind == MethodCall {
			site, err := resolveSite(p, r)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			a.Call = site
		}
		actions = append(actions, a)
	}
	return New(actions), nil
}

func resolveSite(p *ir.Program, r Record) (*ir.Instruction, error) {
	m, ok := p.Method(r.SiteMethod)
	if !ok {
		return nil, fmt.Errorf("unknown call site method %s", r.SiteMethod)
	}
	b := m.Block(r.SiteBlock)
	if b == nil || r.SiteIndex < 0 || r.SiteIndex >= len(b.Insts) {
		return nil, fmt.Errorf("unknown call site %s:%s:%d", r.SiteMethod, r.SiteBlock, r.SiteIndex)
	}
	site := b.Insts[r.SiteIndex]
	if site.Kind != ir.KindCall {
		return nil, fmt.Errorf("call site %s is not a call", site.Location())
	}
	return site, nil
}
