package onnx

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/npuc/internal/ir"
)

// TestParseSimpleAdd tests parsing a simple Add operation.
func TestParseSimpleAdd(t *testing.T) {
	model, err := Parse(buildSimpleAddModel())
	require.NoError(t, err)

	assert.Equal(t, int64(7), model.IRVersion)
	require.NotNil(t, model.Graph)
	require.Len(t, model.Graph.Nodes, 1)

	node := model.Graph.Nodes[0]
	assert.Equal(t, "Add", node.OpType)
	assert.Equal(t, []string{"X", "Y"}, node.Inputs)
	assert.Equal(t, []string{"Z"}, node.Outputs)
	assert.Equal(t, int64(13), model.OpsetVersion())
}

// TestParseWithInitializer tests parsing a model with weight tensors.
func TestParseWithInitializer(t *testing.T) {
	raw := make([]byte, 4*4*4)
	data := NewBuilder("matmul").
		AddInput("X", ir.Float32, ir.ShapeOf(1, 4)).
		AddInitializer("W", ir.Float32, []int64{4, 4}, raw).
		AddNode("MatMul", "mm", []string{"X", "W"}, []string{"Y"}).
		AddOutput("Y", ir.Float32, ir.ShapeOf(1, 4)).
		Bytes()

	model, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, model.Graph.Initializers, 1)

	init := model.Graph.Initializers[0]
	assert.Equal(t, "W", init.Name)
	assert.Equal(t, int32(TensorProtoFloat), init.DataType)
	assert.Equal(t, []int64{4, 4}, init.Dims)
	assert.Len(t, init.RawData, len(raw))
}

// TestParseInputOutput tests parsing graph input and output declarations.
func TestParseInputOutput(t *testing.T) {
	model, err := Parse(buildSimpleAddModel())
	require.NoError(t, err)

	require.Len(t, model.Graph.Inputs, 2)
	require.Len(t, model.Graph.Outputs, 1)

	input := model.Graph.Inputs[0]
	assert.Equal(t, "X", input.Name)
	require.NotNil(t, input.Type)
	require.NotNil(t, input.Type.TensorType)
	assert.Equal(t, int32(TensorProtoFloat), input.Type.TensorType.ElemType)

	dims := input.Type.TensorType.Shape.Dims
	require.Len(t, dims, 2)
	assert.Equal(t, "batch", dims[0].DimParam)
	assert.False(t, dims[0].HasValue)
	assert.Equal(t, int64(3), dims[1].DimValue)
}

// TestParseAttributes tests parsing node attributes.
func TestParseAttributes(t *testing.T) {
	data := NewBuilder("conv").
		AddInput("X", ir.Float32, ir.ShapeOf(1, 1, 5, 5)).
		AddInitializer("W", ir.Float32, []int64{1, 1, 3, 3}, make([]byte, 36)).
		AddNode("Conv", "conv0", []string{"X", "W"}, []string{"Y"},
			IntsAttr("kernel_shape", 3, 3),
			IntsAttr("pads", 1, 1, 1, 1),
			FloatAttr("alpha", 0.5),
			StringAttr("auto_pad", "NOTSET"),
			IntAttr("group", 1)).
		Bytes()

	model, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, model.Graph.Nodes, 1)

	attrs := model.Graph.Nodes[0].Attributes
	require.Len(t, attrs, 5)
	assert.Equal(t, []int64{3, 3}, attrs[0].Ints)
	assert.Equal(t, []int64{1, 1, 1, 1}, attrs[1].Ints)
	assert.InDelta(t, 0.5, attrs[2].F, 1e-9)
	assert.Equal(t, "NOTSET", string(attrs[3].S))
	assert.Equal(t, int64(1), attrs[4].I)
	assert.Equal(t, int32(AttributeProtoInt), attrs[4].Type)
}

// TestParseUnpackedRepeated checks that repeated scalars are accepted in
// both packed and unpacked form, and unknown fields are skipped.
func TestParseUnpackedRepeated(t *testing.T) {
	var tensor protoBuilder
	tensor.varint(1, 2).varint(1, 3) // dims, unpacked
	tensor.varint(2, TensorProtoFloat)
	tensor.fixed32(4, 1.5).fixed32(4, -2) // float_data, unpacked
	tensor.str(8, "w")
	tensor.varint(99, 7) // unknown

	var graph protoBuilder
	graph.message(5, tensor)
	graph.str(2, "g")

	var model protoBuilder
	model.varint(1, 8)
	model.message(7, graph)
	model.str(42, "ignored")

	m, err := Parse(model.data)
	require.NoError(t, err)
	require.Len(t, m.Graph.Initializers, 1)

	init := m.Graph.Initializers[0]
	assert.Equal(t, []int64{2, 3}, init.Dims)
	assert.Equal(t, []float32{1.5, -2}, init.FloatData)
	assert.Equal(t, "g", m.Graph.Name)
}

func TestParseWrongWireType(t *testing.T) {
	var model protoBuilder
	model.str(1, "not a varint") // ir_version is a varint

	_, err := Parse(model.data)
	assert.True(t, errors.Is(err, ErrWireType))
}

func TestParseTruncated(t *testing.T) {
	data := buildSimpleAddModel()
	_, err := Parse(data[:len(data)-3])
	assert.Error(t, err)
}

// TestParseFile tests parsing from file.
func TestParseFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test.onnx")
	require.NoError(t, os.WriteFile(tmpFile, buildSimpleAddModel(), 0o600))

	model, err := ParseFile(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, model.Graph)
	assert.Len(t, model.Graph.Nodes, 1)
}

// TestParseInvalidFile tests error handling for non-existent file.
func TestParseInvalidFile(t *testing.T) {
	_, err := ParseFile("/nonexistent/file.onnx")
	assert.Error(t, err)
}

// TestParseEmptyData tests that empty input decodes to an empty model.
func TestParseEmptyData(t *testing.T) {
	model, err := Parse([]byte{})
	require.NoError(t, err)
	assert.Nil(t, model.Graph)
}

// buildSimpleAddModel creates a minimal ONNX model: Z = X + Y.
func buildSimpleAddModel() []byte {
	shape := ir.Shape{ir.Symbolic("batch"), ir.Known(3)}
	return NewBuilder("add").
		AddInput("X", ir.Float32, shape).
		AddInput("Y", ir.Float32, shape).
		AddNode("Add", "add0", []string{"X", "Y"}, []string{"Z"}).
		AddOutput("Z", ir.Float32, shape).
		Bytes()
}

// protoBuilder writes raw protobuf fields, for inputs Marshal never
// produces (unpacked repeated fields, unknown fields, bad wire types).
type protoBuilder struct {
	data []byte
}

func (b *protoBuilder) varint(num protowire.Number, v uint64) *protoBuilder {
	b.data = protowire.AppendTag(b.data, num, protowire.VarintType)
	b.data = protowire.AppendVarint(b.data, v)
	return b
}

func (b *protoBuilder) fixed32(num protowire.Number, v float32) *protoBuilder {
	b.data = protowire.AppendTag(b.data, num, protowire.Fixed32Type)
	b.data = protowire.AppendFixed32(b.data, math.Float32bits(v))
	return b
}

func (b *protoBuilder) str(num protowire.Number, s string) *protoBuilder {
	b.data = protowire.AppendTag(b.data, num, protowire.BytesType)
	b.data = protowire.AppendString(b.data, s)
	return b
}

func (b *protoBuilder) message(num protowire.Number, msg protoBuilder) *protoBuilder {
	b.data = protowire.AppendTag(b.data, num, protowire.BytesType)
	b.data = protowire.AppendBytes(b.data, msg.data)
	return b
}
