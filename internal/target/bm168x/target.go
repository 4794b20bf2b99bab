// Package bm168x is the BM1680/BM1682 float32 accelerator target. It
// claims six operator kinds at TargetNormal and hands each lowered
// operator to a Kernel; every other standard operator falls back to the
// generic encoder.
package bm168x

import (
	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/lower/std"
	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/generic"
)

// Chip names accepted by New.
const (
	BM1680 = "bm1680"
	BM1682 = "bm1682"
)

// Target is a BM168x chip.
type Target struct {
	name   string
	kernel Kernel
	table  *target.Table
}

// New builds the target for a chip. A nil kernel selects Encoder.
func New(name string, k Kernel) (*Target, error) {
	if name != BM1680 && name != BM1682 {
		return nil, errors.Errorf("bm168x: unknown chip %q", name)
	}
	if k == nil {
		k = Encoder{}
	}
	t := &Target{name: name, kernel: k, table: target.NewTable()}
	if err := generic.Register(t.table); err != nil {
		return nil, err
	}
	caps := map[ir.Opcode]codegen.EmitFunc{
		OpConv:    t.emitConv,
		OpRelu:    t.emitRelu,
		OpLRN:     t.emitLRN,
		OpMaxPool: t.emitMaxPool,
		OpGemm:    t.emitGemm,
		OpSoftmax: t.emitSoftmax,
	}
	for code, fn := range caps {
		if err := t.table.Register(code, target.Capability{Emit: fn, Print: generic.Print}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Name implements target.Target.
func (t *Target) Name() string { return t.name }

// Rules implements target.Target. The chip rules come first so that they
// win ties; standard rules cover the rest.
func (t *Target) Rules() []lower.Rule {
	return append(Rules(), std.Rules()...)
}

// Capabilities implements target.Target.
func (t *Target) Capabilities() *target.Table { return t.table }

// SizeOf implements target.Target.
func (t *Target) SizeOf(dt ir.DataType) int { return target.TGSizeOf(dt) }

// addrs resolves the first n inputs followed by every output. A missing
// optional input reads as address 0.
func addrs(ctx *codegen.Context, op *ir.Operator, n int) ([]uint64, error) {
	out := make([]uint64, 0, n+op.NumOutputs())
	for i := 0; i < n; i++ {
		if i >= op.NumInputs() {
			out = append(out, 0)
			continue
		}
		a, err := ctx.InputAddr(op, i)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	for i := 0; i < op.NumOutputs(); i++ {
		a, err := ctx.OutputAddr(op, i)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func payload[P any](op *ir.Operator) (P, error) {
	p, ok := op.Params().(P)
	if !ok {
		var zero P
		return zero, errors.Errorf("%s: payload %T, want %T", op.Mnemonic(), op.Params(), zero)
	}
	return p, nil
}

func (t *Target) emitConv(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[Conv](op)
	if err != nil {
		return err
	}
	a, err := addrs(ctx, op, 3)
	if err != nil {
		return err
	}
	return t.kernel.ConvForward(ctx, a[0], a[1], a[2], a[3], p)
}

func (t *Target) emitRelu(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[Relu](op)
	if err != nil {
		return err
	}
	a, err := addrs(ctx, op, 1)
	if err != nil {
		return err
	}
	return t.kernel.ReluForward(ctx, a[0], a[1], p.Slope, p.N, p.C, p.H, p.W)
}

func (t *Target) emitLRN(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[LRN](op)
	if err != nil {
		return err
	}
	a, err := addrs(ctx, op, 1)
	if err != nil {
		return err
	}
	return t.kernel.LRNForward(ctx, a[0], a[1], p.N, p.C, p.H, p.W, p.Alpha, p.Size, p.Beta, p.K)
}

func (t *Target) emitMaxPool(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[Pool](op)
	if err != nil {
		return err
	}
	a, err := addrs(ctx, op, 1)
	if err != nil {
		return err
	}
	return t.kernel.MaxPoolForward(ctx, a[0], a[1], p)
}

func (t *Target) emitGemm(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[Gemm](op)
	if err != nil {
		return err
	}
	a, err := addrs(ctx, op, 3)
	if err != nil {
		return err
	}
	return t.kernel.GemmForward(ctx, a[0], a[1], a[2], a[3], p.Rows, p.InCols, p.OutCols, p.HaveBias, p.Relu, p.TransB)
}

func (t *Target) emitSoftmax(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[Softmax](op)
	if err != nil {
		return err
	}
	a, err := addrs(ctx, op, 1)
	if err != nil {
		return err
	}
	// H is folded into W at lowering.
	return t.kernel.SoftmaxForward(ctx, a[0], a[1], p.N, p.C, p.W)
}
