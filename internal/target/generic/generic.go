// Package generic is the reference target. It lowers every standard
// operator and encodes each one as a single self-describing instruction.
// The TG targets reuse its encoders for standard operators they have no
// kernel for.
package generic

import (
	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/lower/std"
	"github.com/born-ml/npuc/internal/target"
)

// Name is the target name.
const Name = "generic"

// Target is the reference target.
type Target struct {
	table *target.Table
}

// New builds the reference target.
func New() (*Target, error) {
	tab := target.NewTable()
	if err := Register(tab); err != nil {
		return nil, err
	}
	return &Target{table: tab}, nil
}

// Name implements target.Target.
func (t *Target) Name() string { return Name }

// Rules implements target.Target.
func (t *Target) Rules() []lower.Rule { return std.Rules() }

// Capabilities implements target.Target.
func (t *Target) Capabilities() *target.Table { return t.table }

// SizeOf implements target.Target.
func (t *Target) SizeOf(dt ir.DataType) int { return dt.Size() }

// Register adds the standard encoder for every standard opcode.
func Register(tab *target.Table) error {
	for _, info := range std.Infos() {
		if err := tab.Register(info.Opcode, target.Capability{Emit: Emit, Print: Print}); err != nil {
			return err
		}
	}
	return nil
}

// Emit encodes an operator as one instruction:
//
//	opcode | nin | nout | input addrs | output addrs | param words
//
// Param words are present when the payload implements std.Encodable.
func Emit(ctx *codegen.Context, op *ir.Operator) error {
	words := make([]uint64, 0, 2+op.NumInputs()+op.NumOutputs())
	words = append(words, uint64(op.NumInputs()), uint64(op.NumOutputs())) //nolint:gosec // small counts
	for i := 0; i < op.NumInputs(); i++ {
		a, err := ctx.InputAddr(op, i)
		if err != nil {
			return err
		}
		words = append(words, a)
	}
	for i := 0; i < op.NumOutputs(); i++ {
		a, err := ctx.OutputAddr(op, i)
		if err != nil {
			return err
		}
		words = append(words, a)
	}
	if p, ok := op.Params().(std.Encodable); ok {
		words = append(words, p.Words()...)
	}
	return ctx.Emit(uint32(op.Opcode()), words...) //nolint:gosec // standard opcodes are small
}

// Print renders an operator with its standard payload.
func Print(op *ir.Operator) string {
	if op.Params() == nil {
		return op.String()
	}
	return op.String() + " {" + op.Params().String() + "}"
}
