// Package bm188x is the BM1880 int8 accelerator target.
//
// Convolutions are cut into bands of output rows that fit the chip's local
// memory and a Conv feeding a single Relu is fused into one operator.
// Every chip operator carries quantization state that the calibration
// table stored in the model fills in before emission. Standard operators
// without a chip kernel fall back to the generic encoder.
package bm188x

import (
	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/lower/std"
	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/generic"
)

const (
	// Name is the chip name.
	Name = "bm1880"
	// CalibrationKey is the metadata_props key of the calibration table.
	CalibrationKey = "bm1880_ctable"
)

// Options tune the target.
type Options struct {
	// LocalMemory is the per-slice byte budget for convolutions.
	LocalMemory int64
}

// DefaultOptions returns the BM1880 defaults.
func DefaultOptions() Options {
	return Options{LocalMemory: DefaultLocalMemory}
}

// Target is the BM1880 chip.
type Target struct {
	kernel Kernel
	lower  lowering
	table  *target.Table
}

// New builds the target. A nil kernel selects Encoder.
func New(k Kernel, opts Options) (*Target, error) {
	if k == nil {
		k = Encoder{}
	}
	if opts.LocalMemory <= 0 {
		return nil, errors.Errorf("bm188x: local memory budget %d", opts.LocalMemory)
	}
	t := &Target{kernel: k, lower: lowering{localMemory: opts.LocalMemory}, table: target.NewTable()}
	if err := generic.Register(t.table); err != nil {
		return nil, err
	}
	caps := map[ir.Opcode]target.Capability{
		OpConv:        {Emit: t.emitConv, Update: updateConv},
		OpMaxPool:     {Emit: t.emitPool, Update: updatePool},
		OpAveragePool: {Emit: t.emitPool, Update: updatePool},
		OpPRelu:       {Emit: t.emitPRelu, Update: updatePRelu},
		OpSum:         {Emit: t.emitSum, Update: updateSum},
		OpRelu:        {Emit: t.emitRelu},
	}
	for code, c := range caps {
		c.Print = generic.Print
		if err := t.table.Register(code, c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Name implements target.Target.
func (t *Target) Name() string { return Name }

// Rules implements target.Target.
func (t *Target) Rules() []lower.Rule {
	return append(t.lower.rules(), std.Rules()...)
}

// Capabilities implements target.Target.
func (t *Target) Capabilities() *target.Table { return t.table }

// SizeOf implements target.Target.
func (t *Target) SizeOf(dt ir.DataType) int { return target.TGSizeOf(dt) }

// CalibrationKey implements target.Calibrated.
func (t *Target) CalibrationKey() string { return CalibrationKey }

func payload[P any](op *ir.Operator) (P, error) {
	p, ok := op.Params().(P)
	if !ok {
		var zero P
		return zero, errors.Errorf("%s: payload %T, want %T", op.Mnemonic(), op.Params(), zero)
	}
	return p, nil
}

func updateConv(op *ir.Operator, l *target.Layer) error {
	p, err := payload[*Conv](op)
	if err != nil {
		return err
	}
	p.RShift = l.RightShiftWidth
	p.Threshold = append([]int32(nil), l.ThresholdXQuantized...)
	return nil
}

func updatePool(op *ir.Operator, l *target.Layer) error {
	p, err := payload[*Pool](op)
	if err != nil {
		return err
	}
	p.RShift = l.RightShiftWidth
	p.Threshold = append([]int32(nil), l.ThresholdXQuantized...)
	return nil
}

// updatePRelu reads the positive branch scale from the first quantized
// threshold. Both branches share the layer's right shift.
func updatePRelu(op *ir.Operator, l *target.Layer) error {
	p, err := payload[*PRelu](op)
	if err != nil {
		return err
	}
	p.GTRShift = l.RightShiftWidth
	p.LERShift = l.RightShiftWidth
	p.GTScale = first(l.ThresholdXQuantized)
	return nil
}

func updateSum(op *ir.Operator, l *target.Layer) error {
	p, err := payload[*Sum](op)
	if err != nil {
		return err
	}
	if len(l.ThresholdXQuantized) != 0 && len(l.ThresholdXQuantized) != p.Inputs {
		return errors.Errorf("sum %q: %d thresholds for %d inputs", op.Name(), len(l.ThresholdXQuantized), p.Inputs)
	}
	p.RShift = l.RightShiftWidth
	p.Threshold = append([]int32(nil), l.ThresholdXQuantized...)
	return nil
}

func (t *Target) emitConv(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[*Conv](op)
	if err != nil {
		return err
	}
	in, err := ctx.InputAddr(op, 0)
	if err != nil {
		return err
	}
	weight, err := ctx.InputAddr(op, 1)
	if err != nil {
		return err
	}
	var bias uint64
	if p.HaveBias {
		if bias, err = ctx.InputAddr(op, 2); err != nil {
			return err
		}
	}
	out, err := ctx.OutputAddr(op, 0)
	if err != nil {
		return err
	}
	for _, s := range p.Slices {
		if err := t.kernel.ConvForward(ctx, in, weight, bias, out, p, s); err != nil {
			return errors.WithMessagef(err, "slice at row %d", s.OutRow)
		}
	}
	return nil
}

func (t *Target) emitPool(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[*Pool](op)
	if err != nil {
		return err
	}
	in, out, err := unary(ctx, op)
	if err != nil {
		return err
	}
	return t.kernel.PoolForward(ctx, in, out, p)
}

func (t *Target) emitPRelu(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[*PRelu](op)
	if err != nil {
		return err
	}
	in, out, err := unary(ctx, op)
	if err != nil {
		return err
	}
	slope, err := ctx.InputAddr(op, 1)
	if err != nil {
		return err
	}
	return t.kernel.PReluForward(ctx, in, slope, out, p)
}

func (t *Target) emitSum(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[*Sum](op)
	if err != nil {
		return err
	}
	ins := make([]uint64, op.NumInputs())
	for k := range ins {
		if ins[k], err = ctx.InputAddr(op, k); err != nil {
			return err
		}
	}
	out, err := ctx.OutputAddr(op, 0)
	if err != nil {
		return err
	}
	return t.kernel.SumForward(ctx, ins, out, p)
}

func (t *Target) emitRelu(ctx *codegen.Context, op *ir.Operator) error {
	p, err := payload[*Relu](op)
	if err != nil {
		return err
	}
	in, out, err := unary(ctx, op)
	if err != nil {
		return err
	}
	return t.kernel.ReluForward(ctx, in, out, p)
}

func unary(ctx *codegen.Context, op *ir.Operator) (in, out uint64, err error) {
	if in, err = ctx.InputAddr(op, 0); err != nil {
		return 0, 0, err
	}
	out, err = ctx.OutputAddr(op, 0)
	return in, out, err
}
