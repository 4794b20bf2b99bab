package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/internal/alloc"
	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/lower/std"
	"github.com/born-ml/npuc/internal/onnx"
	"github.com/born-ml/npuc/internal/target"
)

var _ target.Target = (*Target)(nil)

func TestEveryStandardOpcodeHasAnEncoder(t *testing.T) {
	tg, err := New()
	require.NoError(t, err)
	assert.Equal(t, Name, tg.Name())
	assert.Len(t, tg.Rules(), len(std.Table))
	for _, info := range std.Infos() {
		_, ok := tg.Capabilities().Emitter(info.Opcode)
		assert.True(t, ok, info.Mnemonic)
	}
	assert.Equal(t, 8, tg.SizeOf(ir.Float64))
}

func TestEmitLayout(t *testing.T) {
	tg, err := New()
	require.NoError(t, err)

	src, err := onnx.NewBuilder("g").
		AddInput("x", ir.Float32, ir.ShapeOf(1, 4)).
		AddFloatInitializer("b", []int64{1, 4}, make([]float32, 4)).
		AddNode("Add", "add", []string{"x", "b"}, []string{"s"}).
		AddNode("Softmax", "sm", []string{"s"}, []string{"y"}).
		AddValueInfo("s", ir.Float32, ir.ShapeOf(1, 4)).
		AddOutput("y", ir.Float32, ir.ShapeOf(1, 4)).
		Graph()
	require.NoError(t, err)

	g := ir.NewGraph("g")
	_, err = lower.NewPass(lower.NewRegistry(tg.Rules()...), lower.FailOnUnsupported).Run(src, g)
	require.NoError(t, err)
	_, err = alloc.Allocate(g, alloc.Options{SizeOf: tg.SizeOf})
	require.NoError(t, err)

	sink := &codegen.MemorySink{}
	_, err = codegen.New(tg.Capabilities(), codegen.FailOnReject).Emit(g, sink)
	require.NoError(t, err)

	insts := sink.Last().Instructions
	require.Len(t, insts, 2)
	// b at weight 0; x, s, y at activation 0, 16, 32.
	assert.Equal(t, uint32(std.OpAdd), insts[0].Opcode)
	assert.Equal(t, []uint64{2, 1, 0, 0, 16}, insts[0].Words)
	assert.Equal(t, uint32(std.OpSoftmax), insts[1].Opcode)
	assert.Equal(t, []uint64{1, 1, 16, 32, 1}, insts[1].Words, "axis word follows addresses")

	assert.Equal(t, `%1 Softmax "sm" {axis=1}`, tg.Capabilities().Print(g.Operators()[1]))
	assert.Equal(t, `%0 Add "add"`, Print(g.Operators()[0]))
}
