// Package codegen sequences address-resolved compute operators into a
// command buffer.
//
// The Emitter opens a Buffer, walks the operators in graph order, calls
// the target's EmitFunc for each and finally releases the buffer to a
// Sink. It validates only that every operand has an address; everything
// else was checked by lowering and allocation.
package codegen

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/ir"
)

// EmitFunc appends the instructions of one operator.
type EmitFunc func(ctx *Context, op *ir.Operator) error

// Resolver finds the emit function of an opcode.
type Resolver interface {
	Emitter(code ir.Opcode) (EmitFunc, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(code ir.Opcode) (EmitFunc, bool)

// Emitter calls f.
func (f ResolverFunc) Emitter(code ir.Opcode) (EmitFunc, bool) { return f(code) }

// Appender is what kernel encoders write to.
type Appender interface {
	Emit(opcode uint32, words ...uint64) error
}

// Context is handed to every EmitFunc.
type Context struct {
	Graph *ir.Graph
	buf   *Buffer
	op    ir.OperatorID
}

// Emit appends an instruction attributed to the operator being emitted.
func (c *Context) Emit(opcode uint32, words ...uint64) error {
	return c.buf.Append(Instruction{Opcode: opcode, Operator: c.op, Words: words})
}

// Operand returns the operand view of a value.
func (c *Context) Operand(id ir.ValueID) (ir.Operand, error) {
	return c.Graph.Operand(id)
}

// InputAddr returns the resolved address of input i.
func (c *Context) InputAddr(op *ir.Operator, i int) (uint64, error) {
	id, err := op.Input(i)
	if err != nil {
		return 0, err
	}
	return c.addr(id)
}

// OutputAddr returns the resolved address of output i.
func (c *Context) OutputAddr(op *ir.Operator, i int) (uint64, error) {
	id, err := op.Output(i)
	if err != nil {
		return 0, err
	}
	return c.addr(id)
}

// Input returns the value at input position i.
func (c *Context) Input(op *ir.Operator, i int) (*ir.Value, error) {
	return c.Graph.InputValue(op, i)
}

// Output returns the value at output position i.
func (c *Context) Output(op *ir.Operator, i int) (*ir.Value, error) {
	return c.Graph.OutputValue(op, i)
}

func (c *Context) addr(id ir.ValueID) (uint64, error) {
	v := c.Graph.Value(id)
	if v == nil {
		return 0, errors.Wrapf(ir.ErrInvalidHandle, "value %d", id)
	}
	if !v.Address().Resolved() {
		return 0, errors.Wrapf(ErrUnresolvedAddress, "%q", v.Name())
	}
	return uint64(v.Address()), nil
}

// Policy decides what happens when a target rejects an operator.
type Policy int

// Policies.
const (
	// FailOnReject stops emission at the first rejected operator.
	FailOnReject Policy = iota
	// SkipRejected leaves rejected operators out of the buffer and lists
	// them in the summary.
	SkipRejected
)

func (p Policy) String() string {
	if p == SkipRejected {
		return "skip"
	}
	return "fail"
}

// Summary describes one emission.
type Summary struct {
	Operators    int          // operators emitted
	Instructions int          // instructions in the released buffer
	Bytes        int          // encoded size
	Skipped      []*EmitError // operators left out under SkipRejected
	Elapsed      time.Duration
}

// Emitter is the instruction sequencer.
type Emitter struct {
	Resolver Resolver
	Policy   Policy
}

// New returns an emitter.
func New(r Resolver, policy Policy) *Emitter {
	return &Emitter{Resolver: r, Policy: policy}
}

// Emit encodes every operator of g in graph order and submits the buffer
// to sink exactly once. No instruction reaches the sink unless all
// operands of all operators are address-resolved. The buffer is not
// submitted when emission fails.
func (e *Emitter) Emit(g *ir.Graph, sink Sink) (*Summary, error) {
	start := time.Now()
	if err := CheckResolved(g); err != nil {
		return nil, err
	}

	summary := &Summary{}
	buf := NewBuffer()
	ctx := &Context{Graph: g, buf: buf}
	for _, op := range g.Operators() {
		mark := buf.Len()
		ctx.op = op.ID()
		err := e.emitOne(ctx, op)
		if err == nil {
			summary.Operators++
			klog.V(2).Infof("emit: %s -> %d instructions", g.FormatOperator(op), buf.Len()-mark)
			continue
		}
		buf.truncate(mark)
		ee := newEmitError(op, err)
		if e.Policy != SkipRejected {
			return summary, ee
		}
		klog.Warningf("emit: skipping %v", ee)
		summary.Skipped = append(summary.Skipped, ee)
	}

	cb, err := buf.Release()
	if err != nil {
		return summary, err
	}
	summary.Instructions = len(cb.Instructions)
	summary.Bytes = len(cb.Bytes)
	if err := sink.Submit(cb); err != nil {
		return summary, errors.WithMessage(err, "submit command buffer")
	}
	summary.Elapsed = time.Since(start)
	klog.V(1).Infof("emit: %d operators -> %d instructions (%d bytes, %d skipped) in %s",
		summary.Operators, summary.Instructions, summary.Bytes, len(summary.Skipped), summary.Elapsed)
	return summary, nil
}

func (e *Emitter) emitOne(ctx *Context, op *ir.Operator) error {
	fn, ok := e.Resolver.Emitter(op.Opcode())
	if !ok || fn == nil {
		return ErrNoEmitter
	}
	return fn(ctx, op)
}

// CheckResolved verifies that every operand of every operator has an
// address.
func CheckResolved(g *ir.Graph) error {
	for _, op := range g.Operators() {
		for i, id := range op.Inputs() {
			if v := g.Value(id); !v.Address().Resolved() {
				return errors.Wrapf(ErrUnresolvedAddress, "operator %d %q input %d %q", op.ID(), op.Name(), i, v.Name())
			}
		}
		for i, id := range op.Outputs() {
			if v := g.Value(id); !v.Address().Resolved() {
				return errors.Wrapf(ErrUnresolvedAddress, "operator %d %q output %d %q", op.ID(), op.Name(), i, v.Name())
			}
		}
	}
	return nil
}
