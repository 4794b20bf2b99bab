package ir

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Opcode is a target-defined numeric operator tag.
type Opcode int64

// OpInfo is the positional contract of an opcode: its mnemonic and the
// structurally valid number of inputs and outputs. MaxInputs or MaxOutputs
// of -1 means unbounded.
type OpInfo struct {
	Opcode     Opcode
	Mnemonic   string
	MinInputs  int
	MaxInputs  int
	MinOutputs int
	MaxOutputs int
}

// Fixed returns an OpInfo with exact input and output counts.
func Fixed(op Opcode, mnemonic string, inputs, outputs int) OpInfo {
	return OpInfo{
		Opcode:     op,
		Mnemonic:   mnemonic,
		MinInputs:  inputs,
		MaxInputs:  inputs,
		MinOutputs: outputs,
		MaxOutputs: outputs,
	}
}

// AcceptsInputs reports whether n inputs are valid for the opcode.
func (i OpInfo) AcceptsInputs(n int) bool {
	return n >= i.MinInputs && (i.MaxInputs < 0 || n <= i.MaxInputs)
}

// AcceptsOutputs reports whether n outputs are valid for the opcode.
func (i OpInfo) AcceptsOutputs(n int) bool {
	return n >= i.MinOutputs && (i.MaxOutputs < 0 || n <= i.MaxOutputs)
}

// Source identifies the interchange-format node an operator was lowered
// from. Provenance is advisory and only used for diagnostics and lookups.
type Source struct {
	Index  int    // position of the node in the source graph
	Name   string // node name, may be empty
	OpType string
}

// Key returns the identity used to detect already-lowered nodes.
func (s Source) Key() string {
	return fmt.Sprintf("%d:%s:%s", s.Index, s.OpType, s.Name)
}

// Params is the target-specific payload of an operator (shape attributes,
// strides, calibration values...). Its concrete type is determined by the
// operator's opcode.
type Params interface {
	String() string
}

// Operator is a node of the compute graph.
type Operator struct {
	id      OperatorID
	name    string
	info    OpInfo
	params  Params
	inputs  []ValueID
	outputs []ValueID
	sources []Source
}

// ID returns the operator handle.
func (op *Operator) ID() OperatorID { return op.id }

// Name returns the operator name.
func (op *Operator) Name() string { return op.name }

// Opcode returns the target opcode.
func (op *Operator) Opcode() Opcode { return op.info.Opcode }

// Info returns the arity contract the operator was created with.
func (op *Operator) Info() OpInfo { return op.info }

// Mnemonic returns the printable opcode name.
func (op *Operator) Mnemonic() string { return op.info.Mnemonic }

// Params returns the operator payload. It may be nil.
func (op *Operator) Params() Params { return op.params }

// SetParams replaces the payload. Calibration updates use this after
// lowering; it never changes arity.
func (op *Operator) SetParams(p Params) { op.params = p }

// NumInputs returns the number of wired inputs.
func (op *Operator) NumInputs() int { return len(op.inputs) }

// NumOutputs returns the number of wired outputs.
func (op *Operator) NumOutputs() int { return len(op.outputs) }

// Input returns the value at input position i.
func (op *Operator) Input(i int) (ValueID, error) {
	if i < 0 || i >= len(op.inputs) {
		return NoValue, errors.Wrapf(ErrOutOfRange, "operator %q input %d of %d", op.name, i, len(op.inputs))
	}
	return op.inputs[i], nil
}

// Output returns the value at output position i.
func (op *Operator) Output(i int) (ValueID, error) {
	if i < 0 || i >= len(op.outputs) {
		return NoValue, errors.Wrapf(ErrOutOfRange, "operator %q output %d of %d", op.name, i, len(op.outputs))
	}
	return op.outputs[i], nil
}

// Inputs returns a copy of the input list.
func (op *Operator) Inputs() []ValueID {
	out := make([]ValueID, len(op.inputs))
	copy(out, op.inputs)
	return out
}

// Outputs returns a copy of the output list.
func (op *Operator) Outputs() []ValueID {
	out := make([]ValueID, len(op.outputs))
	copy(out, op.outputs)
	return out
}

// Sources returns the provenance list.
func (op *Operator) Sources() []Source {
	out := make([]Source, len(op.sources))
	copy(out, op.sources)
	return out
}

// NumSources returns how many source nodes the operator aggregates.
func (op *Operator) NumSources() int { return len(op.sources) }

func (op *Operator) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%%%d %s", op.id, op.info.Mnemonic)
	if op.name != "" {
		fmt.Fprintf(&b, " %q", op.name)
	}
	return b.String()
}
