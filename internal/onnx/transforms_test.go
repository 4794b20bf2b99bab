package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/internal/ir"
)

func TestRemoveTrainingNodes(t *testing.T) {
	g, err := NewBuilder("net").
		AddInput("x", ir.Float32, ir.ShapeOf(1, 8)).
		AddNode("Relu", "relu", []string{"x"}, []string{"a"}).
		AddNode("Dropout", "drop", []string{"a"}, []string{"b"}).
		AddNode("Sigmoid", "sig", []string{"b"}, []string{"c"}).
		AddNode("Dropout", "drop_out", []string{"c"}, []string{"d"}).
		AddOutput("d", ir.Float32, ir.ShapeOf(1, 8)).
		Graph()
	require.NoError(t, err)

	assert.Equal(t, 2, RemoveTrainingNodes(g))
	require.Len(t, g.Nodes, 2)

	sig := g.Nodes[1]
	assert.Equal(t, "a", sig.Input(0).Name)
	require.Len(t, g.Outputs, 1)
	assert.Equal(t, "c", g.Outputs[0].Name)
	assert.True(t, g.Outputs[0].IsGraphOutput())

	_, ok := g.Value("b")
	assert.False(t, ok)
	a, _ := g.Value("a")
	require.Len(t, a.Consumers(), 1)
	assert.Equal(t, "sig", a.Consumers()[0].Name)
}

func TestRemoveTrainingNodesKeepsUsedMask(t *testing.T) {
	g, err := NewBuilder("net").
		AddInput("x", ir.Float32, ir.ShapeOf(4)).
		AddNode("Dropout", "drop", []string{"x"}, []string{"y", "mask"}).
		AddOutput("mask", ir.Bool, ir.ShapeOf(4)).
		Graph()
	require.NoError(t, err)

	assert.Equal(t, 0, RemoveTrainingNodes(g))
	assert.Len(t, g.Nodes, 1)
}

func TestInferShapes(t *testing.T) {
	g, err := NewBuilder("lenet").
		AddInput("x", ir.Float32, ir.ShapeOf(1, 1, 28, 28)).
		AddFloatInitializer("w", []int64{6, 1, 5, 5}, make([]float32, 150)).
		AddFloatInitializer("fc", []int64{10, 1176}, make([]float32, 11760)).
		AddNode("Conv", "conv", []string{"x", "w"}, []string{"c"},
			IntsAttr("kernel_shape", 5, 5), IntsAttr("pads", 2, 2, 2, 2)).
		AddNode("Relu", "relu", []string{"c"}, []string{"r"}).
		AddNode("MaxPool", "pool", []string{"r"}, []string{"p"},
			IntsAttr("kernel_shape", 2, 2), IntsAttr("strides", 2, 2)).
		AddNode("Flatten", "flat", []string{"p"}, []string{"f"}).
		AddNode("Gemm", "gemm", []string{"f", "fc"}, []string{"g"}, IntAttr("transB", 1)).
		AddNode("Softmax", "sm", []string{"g"}, []string{"y"}).
		AddOutput("y", ir.Float32, ir.ShapeOf(1, 10)).
		Graph()
	require.NoError(t, err)

	assert.Equal(t, 5, InferShapes(g))

	want := map[string]ir.Shape{
		"c": ir.ShapeOf(1, 6, 28, 28),
		"r": ir.ShapeOf(1, 6, 28, 28),
		"p": ir.ShapeOf(1, 6, 14, 14),
		"f": ir.ShapeOf(1, 1176),
		"g": ir.ShapeOf(1, 10),
	}
	for name, shape := range want {
		v, ok := g.Value(name)
		require.True(t, ok, name)
		assert.Equal(t, shape, v.Shape, name)
		assert.Equal(t, ir.Float32, v.Type, name)
	}
}

func TestInferShapesBroadcastAndConcat(t *testing.T) {
	g, err := NewBuilder("net").
		AddInput("a", ir.Float32, ir.ShapeOf(2, 3)).
		AddInput("b", ir.Float32, ir.ShapeOf(3)).
		AddInput("c", ir.Float32, ir.ShapeOf(2, 1)).
		AddNode("Add", "add", []string{"a", "b"}, []string{"s"}).
		AddNode("Concat", "cat", []string{"s", "c"}, []string{"k"}, IntAttr("axis", -1)).
		AddNode("Add", "bad", []string{"a", "c", "k"}, []string{"z"}).
		Graph()
	require.NoError(t, err)

	InferShapes(g)
	s, _ := g.Value("s")
	assert.Equal(t, ir.ShapeOf(2, 3), s.Shape)
	k, _ := g.Value("k")
	assert.Equal(t, ir.ShapeOf(2, 4), k.Shape)
	z, _ := g.Value("z")
	assert.Nil(t, z.Shape, "[2,3] and [2,4] do not broadcast")
}
