package ir

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a program descriptor.
//
//	classes:
//	  - {name: Account}
//	  - {name: Savings, super: Account}
//	methods:
//	  - class: Account
//	    name: withdraw
//	    receiver: true
//	    params: [{name: amount, type: int}]
//	    blocks:
//	      - label: entry
//	        insts:
//	          - {op: lt, dst: neg, args: [amount, 0]}
//	          - {op: branch, args: [neg], targets: [reject, accept]}
type File struct {
	Classes []ClassSpec  `yaml:"classes"`
	Methods []MethodSpec `yaml:"methods"`
}

type ClassSpec struct {
	Name  string `yaml:"name"`
	Super string `yaml:"super"`
}

type MethodSpec struct {
	Class    string      `yaml:"class"`
	Name     string      `yaml:"name"`
	Receiver bool        `yaml:"receiver"`
	Params   []ParamSpec `yaml:"params"`
	Blocks   []BlockSpec `yaml:"blocks"`
}

type ParamSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type BlockSpec struct {
	Label string     `yaml:"label"`
	Insts []InstSpec `yaml:"insts"`
}

// InstSpec is one instruction. Op is a plain op name or one of call, branch,
// switch, jump, return, throw.
type InstSpec struct {
	Op       string    `yaml:"op"`
	Dst      string    `yaml:"dst"`
	Args     []string  `yaml:"args"`
	Phi      []PhiSpec `yaml:"phi"`
	Callee   string    `yaml:"callee"`
	Receiver string    `yaml:"receiver"`
	Virtual  bool      `yaml:"virtual"`
	Targets  []string  `yaml:"targets"`
	Cases    []int64   `yaml:"cases"`
}

type PhiSpec struct {
	Pred  string `yaml:"pred"`
	Value string `yaml:"value"`
}

var controlKinds = map[string]Kind{
	"call":   KindCall,
	"branch": KindBranch,
	"switch": KindSwitch,
	"jump":   KindJump,
	"return": KindReturn,
	"throw":  KindThrow,
}

// Load reads and links a YAML program descriptor.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load program %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML program descriptor.
func Parse(data []byte) (*Program, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}
	return f.Build()
}

// Build converts the descriptor into a linked Program.
func (f *File) Build() (*Program, error) {
	classes := make([]*Class, 0, len(f.Classes))
	for _, c := range f.Classes {
		classes = append(classes, &Class{Name: c.Name, Super: c.Super})
	}
	methods := make([]*Method, 0, len(f.Methods))
	for _, ms := range f.Methods {
		m := &Method{Name: ms.Name, Class: ms.Class, Receiver: ms.Receiver}
		for _, ps := range ms.Params {
			typ := ps.Type
			if typ == "" {
				typ = "int"
			}
			m.Params = append(m.Params, Param{Name: ps.Name, Type: typ})
		}
		for _, bs := range ms.Blocks {
			b := &Block{Label: bs.Label}
			for i, is := range bs.Insts {
				inst, err := is.build()
				if err != nil {
					return nil, fmt.Errorf("method %s: block %s: instruction %d: %w", m.FullName(), bs.Label, i, err)
				}
				b.Insts = append(b.Insts, inst)
			}
			m.Blocks = append(m.Blocks, b)
		}
		methods = append(methods, m)
	}
	return NewProgram(classes, methods)
}

func (s InstSpec) build() (*Instruction, error) {
	inst := &Instruction{
		Dst:     s.Dst,
		Callee:  s.Callee,
		Virtual: s.Virtual,
		Targets: s.Targets,
		Cases:   s.Cases,
	}
	for _, a := range s.Args {
		inst.Args = append(inst.Args, ParseValue(a))
	}
	if s.Receiver != "" {
		inst.Receiver = ParseValue(s.Receiver)
	}
	if kind, ok := controlKinds[s.Op]; ok {
		inst.Kind = kind
		return inst, nil
	}
	op, err := ParseOp(s.Op)
	if err != nil {
		return nil, err
	}
	inst.Kind = KindPlain
	inst.Op = op
	for _, e := range s.Phi {
		inst.Phi = append(inst.Phi, PhiEdge{Pred: e.Pred, Value: ParseValue(e.Value)})
	}
	return inst, nil
}
