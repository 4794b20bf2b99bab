package target

import (
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/ir"
)

// Table errors.
var (
	ErrDuplicateCapability = errors.New("opcode already registered")
	ErrMissingCalibration  = errors.New("no calibration for operator")
)

// UpdateFunc applies one calibration layer to an operator's payload.
type UpdateFunc func(op *ir.Operator, layer *Layer) error

// PrintFunc renders an operator's payload for debugging.
type PrintFunc func(op *ir.Operator) string

// Capability is what a target can do with one opcode. Emit is required;
// Update and Print are optional.
type Capability struct {
	Emit   codegen.EmitFunc
	Update UpdateFunc
	Print  PrintFunc
}

// Table maps opcodes to capabilities. It implements codegen.Resolver.
type Table struct {
	caps map[ir.Opcode]Capability
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{caps: make(map[ir.Opcode]Capability)}
}

// Register adds the capability of an opcode. Registering an opcode twice
// is an error.
func (t *Table) Register(code ir.Opcode, c Capability) error {
	if c.Emit == nil {
		return errors.Errorf("opcode %d: capability without emit", code)
	}
	if _, ok := t.caps[code]; ok {
		return errors.Wrapf(ErrDuplicateCapability, "opcode %d", code)
	}
	t.caps[code] = c
	return nil
}

// Lookup returns the capability of an opcode.
func (t *Table) Lookup(code ir.Opcode) (Capability, bool) {
	c, ok := t.caps[code]
	return c, ok
}

// Emitter implements codegen.Resolver.
func (t *Table) Emitter(code ir.Opcode) (codegen.EmitFunc, bool) {
	c, ok := t.caps[code]
	if !ok {
		return nil, false
	}
	return c.Emit, true
}

// Opcodes returns the registered opcodes in ascending order.
func (t *Table) Opcodes() []ir.Opcode {
	out := make([]ir.Opcode, 0, len(t.caps))
	for code := range t.caps {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered opcodes.
func (t *Table) Len() int { return len(t.caps) }

// Update applies calibration to every operator whose capability has an
// Update function. Layers are matched by operator name, then by the name
// of the operator's first output. It returns the number of operators
// updated. A nil calibration is a no-op.
func (t *Table) Update(g *ir.Graph, calib *Calibration) (int, error) {
	if calib == nil {
		return 0, nil
	}
	updated := 0
	for _, op := range g.Operators() {
		c, ok := t.caps[op.Opcode()]
		if !ok || c.Update == nil {
			continue
		}
		layer, ok := calib.Layer(op.Name())
		if !ok && op.NumOutputs() > 0 {
			if out, err := g.OutputValue(op, 0); err == nil {
				layer, ok = calib.Layer(out.Name())
			}
		}
		if !ok {
			return updated, errors.Wrapf(ErrMissingCalibration, "%s %q", op.Mnemonic(), op.Name())
		}
		if err := c.Update(op, layer); err != nil {
			return updated, errors.WithMessagef(err, "calibrate %s %q", op.Mnemonic(), op.Name())
		}
		klog.V(2).Infof("calibrate: %s %q <- layer %q", op.Mnemonic(), op.Name(), layer.Name)
		updated++
	}
	return updated, nil
}

// Print renders an operator with its target payload.
func (t *Table) Print(op *ir.Operator) string {
	if c, ok := t.caps[op.Opcode()]; ok && c.Print != nil {
		return c.Print(op)
	}
	return op.String()
}
