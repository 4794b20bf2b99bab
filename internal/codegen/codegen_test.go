package codegen

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/internal/ir"
)

const (
	opRelu ir.Opcode = 1
	opAdd  ir.Opcode = 2
)

// x -> relu -> h; h + w -> y, with addresses already resolved.
func resolvedGraph(t *testing.T) *ir.Graph {
	t.Helper()
	g := ir.NewGraph("g")
	mk := func(name string) ir.ValueID {
		id, err := g.CreateValue(name, ir.Float32, ir.ShapeOf(4))
		require.NoError(t, err)
		return id
	}
	x, w, h, y := mk("x"), mk("w"), mk("h"), mk("y")
	require.NoError(t, g.MarkInput(x))
	require.NoError(t, g.MarkInitializer(w, nil))
	_, err := g.AddOperator("relu", ir.Fixed(opRelu, "relu", 1, 1), nil, []ir.ValueID{x}, []ir.ValueID{h})
	require.NoError(t, err)
	_, err = g.AddOperator("add", ir.Fixed(opAdd, "add", 2, 1), nil, []ir.ValueID{h, w}, []ir.ValueID{y})
	require.NoError(t, err)

	require.NoError(t, g.SetAddress(x, ir.ActivationSpace, 0x1000))
	require.NoError(t, g.SetAddress(w, ir.WeightSpace, 0))
	require.NoError(t, g.SetAddress(h, ir.ActivationSpace, 0x1010))
	require.NoError(t, g.SetAddress(y, ir.ActivationSpace, 0x1020))
	return g
}

// unary emits (in, out); binary emits (a, b, out).
func operandsEmitter(ctx *Context, op *ir.Operator) error {
	words := make([]uint64, 0, op.NumInputs()+op.NumOutputs())
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
	return ctx.Emit(uint32(op.Opcode()), words...) //nolint:gosec // test opcodes are small
}

func resolver(table map[ir.Opcode]EmitFunc) Resolver {
	return ResolverFunc(func(code ir.Opcode) (EmitFunc, bool) {
		fn, ok := table[code]
		return fn, ok
	})
}

func TestEmitInGraphOrder(t *testing.T) {
	g := resolvedGraph(t)
	sink := &MemorySink{}
	e := New(resolver(map[ir.Opcode]EmitFunc{opRelu: operandsEmitter, opAdd: operandsEmitter}), FailOnReject)

	summary, err := e.Emit(g, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Operators)
	assert.Equal(t, 2, summary.Instructions)
	assert.Equal(t, 8+16+8+24, summary.Bytes)

	require.Len(t, sink.Buffers, 1)
	cb := sink.Last()
	require.Len(t, cb.Instructions, 2)
	assert.Equal(t, Instruction{Opcode: 1, Operator: 0, Words: []uint64{0x1000, 0x1010}}, cb.Instructions[0])
	assert.Equal(t, Instruction{Opcode: 2, Operator: 1, Words: []uint64{0x1010, 0, 0x1020}}, cb.Instructions[1])

	decoded, err := Decode(cb.Bytes)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, cb.Instructions[1].Words, decoded[1].Words)
	assert.Equal(t, ir.NoOperator, decoded[1].Operator)
}

func TestEmitRejectsUnresolvedOperands(t *testing.T) {
	g := resolvedGraph(t)
	h, _ := g.Lookup("h")
	require.NoError(t, g.SetAddress(h, ir.NoSpace, ir.Unassigned))

	sink := &MemorySink{}
	_, err := New(resolver(nil), FailOnReject).Emit(g, sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedAddress))
	assert.Contains(t, err.Error(), `"relu" output 0 "h"`)
	assert.Empty(t, sink.Buffers)
}

func TestEmitFailOnReject(t *testing.T) {
	g := resolvedGraph(t)
	reject := func(*Context, *ir.Operator) error { return errors.New("unsupported stride") }
	sink := &MemorySink{}

	_, err := New(resolver(map[ir.Opcode]EmitFunc{opRelu: operandsEmitter, opAdd: reject}), FailOnReject).Emit(g, sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmissionTargetFailure))
	var ee *EmitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ir.OperatorID(1), ee.Operator)
	assert.Equal(t, "add", ee.Name)
	assert.Contains(t, err.Error(), "unsupported stride")
	assert.Empty(t, sink.Buffers)
}

func TestEmitSkipRejected(t *testing.T) {
	g := resolvedGraph(t)
	partial := func(ctx *Context, op *ir.Operator) error {
		if err := ctx.Emit(99); err != nil {
			return err
		}
		return errors.New("second half failed")
	}
	sink := &MemorySink{}

	summary, err := New(resolver(map[ir.Opcode]EmitFunc{opAdd: partial}), SkipRejected).Emit(g, sink)
	require.NoError(t, err)
	require.Len(t, summary.Skipped, 2)
	assert.True(t, errors.Is(summary.Skipped[0], ErrNoEmitter))
	assert.Equal(t, "relu", summary.Skipped[0].Name)
	assert.Equal(t, "add", summary.Skipped[1].Name)
	assert.Equal(t, 0, summary.Operators)
	assert.Empty(t, sink.Last().Instructions, "partial output of a rejected operator is dropped")
}

func TestBufferSingleOwnership(t *testing.T) {
	b := NewBuffer()
	words := []uint64{1, 2}
	require.NoError(t, b.Append(Instruction{Opcode: 7, Words: words}))
	words[0] = 42
	assert.Equal(t, 1, b.Len())

	cb, err := b.Release()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, cb.Instructions[0].Words)
	assert.True(t, b.Released())

	_, err = b.Release()
	assert.True(t, errors.Is(err, ErrBufferReleased))
	assert.True(t, errors.Is(b.Append(Instruction{}), ErrBufferReleased))
	assert.Equal(t, 0, b.Len())
}

func TestEncodeLayout(t *testing.T) {
	data := Encode([]Instruction{{Opcode: 0x01020304, Words: []uint64{0x1122334455667788}}})
	assert.Equal(t, []byte{
		0x04, 0x03, 0x02, 0x01,
		0x01, 0x00, 0x00, 0x00,
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
	}, data)

	_, err := Decode(data[:12])
	assert.True(t, errors.Is(err, ErrMalformedBuffer))
	_, err = Decode(data[:5])
	assert.True(t, errors.Is(err, ErrMalformedBuffer))
	insts, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, insts)
}

func TestTee(t *testing.T) {
	a, b := &MemorySink{}, &MemorySink{}
	cb := &CommandBuffer{}
	require.NoError(t, Tee(a, b).Submit(cb))
	assert.Same(t, cb, a.Last())
	assert.Same(t, cb, b.Last())

	failing := SinkFunc(func(*CommandBuffer) error { return errors.New("disk full") })
	c := &MemorySink{}
	assert.Error(t, Tee(failing, c).Submit(cb))
	assert.Nil(t, c.Last())
}
