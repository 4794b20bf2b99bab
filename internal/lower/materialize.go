package lower

import (
	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/onnx"
)

// Materialize returns the compute value for a source tensor, creating it
// on first reference. Source and compute values correspond one to one by
// name, so every operator touching a tensor shares the same value.
func Materialize(g *ir.Graph, v *onnx.Value) (ir.ValueID, error) {
	if !v.HasUniqueName() {
		return ir.NoValue, Refuse("tensor has no name")
	}
	if id, ok := g.Lookup(v.Name); ok {
		return id, nil
	}
	id, err := g.CreateValue(v.Name, v.Type, v.Shape)
	if err != nil {
		return ir.NoValue, errors.WithMessagef(err, "materialize %q", v.Name)
	}
	switch {
	case v.IsInitializer():
		err = g.MarkInitializer(id, v.Init.Data)
	case v.IsGraphInput():
		err = g.MarkInput(id)
	}
	if err != nil {
		return ir.NoValue, errors.WithMessagef(err, "materialize %q", v.Name)
	}
	return id, nil
}
