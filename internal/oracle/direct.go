package oracle

import (
	"fmt"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/symbolic"
)

func init() {
	RegisterMaterializer("direct", NewDirectMaterializer)
}

// DirectMaterializer reads inputs straight out of the model: each parameter
// takes the value of the symbol with its name, the receiver that of "this".
// Symbols the model leaves free default to zero.
type DirectMaterializer struct{}

// NewDirectMaterializer creates the direct materializer. It has no options.
func NewDirectMaterializer(options map[string]interface{}) (Materializer, error) {
	return DirectMaterializer{}, nil
}

// Materialize builds the input of m from model.
func (DirectMaterializer) Materialize(m *ir.Method, model Model) (Input, error) {
	in := Input{Args: make([]int64, len(m.Params))}
	for i, p := range m.Params {
		v := model[p.Name]
		if isBool(p.Type) && v != 0 && v != 1 {
			return Input{}, fmt.Errorf("%w: %s parameter %s = %d is not a boolean", ErrMaterialize, m, p.Name, v)
		}
		in.Args[i] = v
	}
	if m.Receiver {
		in.Receiver = model[symbolic.This]
	}
	return in, nil
}

func isBool(typ string) bool {
	return typ == "bool" || typ == "boolean"
}
