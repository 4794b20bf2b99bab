package alloc

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/internal/ir"
)

func value(t *testing.T, g *ir.Graph, name string, dt ir.DataType, shape ir.Shape) ir.ValueID {
	t.Helper()
	id, err := g.CreateValue(name, dt, shape)
	require.NoError(t, err)
	return id
}

// weights of 400 and 800 bytes, one 200 byte input, two activations.
func buildGraph(t *testing.T) *ir.Graph {
	t.Helper()
	g := ir.NewGraph("g")
	w1 := value(t, g, "w1", ir.Float32, ir.ShapeOf(10, 10))
	w2 := value(t, g, "w2", ir.Float32, ir.ShapeOf(200))
	x := value(t, g, "x", ir.Float32, ir.ShapeOf(50))
	require.NoError(t, g.MarkInitializer(w1, nil))
	require.NoError(t, g.MarkInitializer(w2, nil))
	require.NoError(t, g.MarkInput(x))

	h := value(t, g, "h", ir.Float32, ir.ShapeOf(25))
	y := value(t, g, "y", ir.Int8, ir.ShapeOf(3))
	_, err := g.AddOperator("mul", ir.Fixed(1, "mul", 2, 1), nil, []ir.ValueID{x, w1}, []ir.ValueID{h})
	require.NoError(t, err)
	_, err = g.AddOperator("add", ir.Fixed(2, "add", 2, 1), nil, []ir.ValueID{h, w2}, []ir.ValueID{y})
	require.NoError(t, err)
	require.NoError(t, g.MarkOutput(y))
	return g
}

func TestAllocateBump(t *testing.T) {
	g := buildGraph(t)
	layout, err := Allocate(g, DefaultOptions())
	require.NoError(t, err)

	want := map[string]Entry{
		"w1": {Space: ir.WeightSpace, Offset: 0, Size: 400},
		"w2": {Space: ir.WeightSpace, Offset: 400, Size: 800},
		"x":  {Space: ir.ActivationSpace, Offset: 0, Size: 200},
		"h":  {Space: ir.ActivationSpace, Offset: 200, Size: 100},
		"y":  {Space: ir.ActivationSpace, Offset: 300, Size: 3},
	}
	for name, w := range want {
		e, ok := layout.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, w.Space, e.Space, name)
		assert.Equal(t, w.Offset, e.Offset, name)
		assert.Equal(t, w.Size, e.Size, name)

		id, _ := g.Lookup(name)
		assert.Equal(t, ir.Address(w.Offset), g.Value(id).Address(), name)
		assert.Equal(t, w.Space, g.Value(id).Space(), name)
	}

	assert.Equal(t, int64(1200), layout.Usage(ir.WeightSpace))
	assert.Equal(t, int64(303), layout.Usage(ir.ActivationSpace))
	assert.Len(t, layout.Space(ir.WeightSpace), 2)
	assert.Len(t, layout.Entries(), 5)
	require.NoError(t, layout.Verify())
}

func TestAllocateUsageIsSumOfSizes(t *testing.T) {
	g := buildGraph(t)
	layout, err := Allocate(g, DefaultOptions())
	require.NoError(t, err)

	sums := make(map[ir.MemorySpace]int64)
	for _, e := range layout.Entries() {
		sums[e.Space] += e.Size
	}
	assert.Equal(t, sums[ir.WeightSpace], layout.Usage(ir.WeightSpace))
	assert.Equal(t, sums[ir.ActivationSpace], layout.Usage(ir.ActivationSpace))
}

func TestAllocateAlignmentAndBases(t *testing.T) {
	g := buildGraph(t)
	opts := Options{
		Alignment: 64,
		Bases:     map[ir.MemorySpace]ir.Address{ir.ActivationSpace: 0x1000},
	}
	layout, err := Allocate(g, opts)
	require.NoError(t, err)

	y, _ := layout.Lookup("y")
	h, _ := layout.Lookup("h")
	assert.Equal(t, int64(256), h.Offset)
	assert.Equal(t, int64(384), y.Offset, "h ends at 356, rounded up to 384")
	w2, _ := layout.Lookup("w2")
	assert.Equal(t, int64(448), w2.Offset)

	id, _ := g.Lookup("y")
	assert.Equal(t, ir.Address(0x1000+384), g.Value(id).Address())
	id, _ = g.Lookup("w2")
	assert.Equal(t, ir.Address(448), g.Value(id).Address())
	assert.Equal(t, ir.Address(0x1000), layout.Base(ir.ActivationSpace))
}

func TestAllocateUnresolved(t *testing.T) {
	tests := []struct {
		name  string
		dtype ir.DataType
		shape ir.Shape
	}{
		{"unknown rank", ir.Float32, nil},
		{"symbolic dim", ir.Float32, ir.Shape{ir.Symbolic("N"), ir.Known(4)}},
		{"undefined type", ir.Undefined, ir.ShapeOf(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := ir.NewGraph("g")
			x := value(t, g, "x", ir.Float32, ir.ShapeOf(4))
			require.NoError(t, g.MarkInput(x))
			y := value(t, g, "y", tt.dtype, tt.shape)
			_, err := g.AddOperator("relu", ir.Fixed(1, "relu", 1, 1), nil, []ir.ValueID{x}, []ir.ValueID{y})
			require.NoError(t, err)

			_, err = Allocate(g, DefaultOptions())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnresolvedShapeOrType))
			var ue *UnresolvedError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, "y", ue.Name)
			assert.Equal(t, "relu", ue.Producer)
		})
	}
}

func TestAllocateTargetSizeOf(t *testing.T) {
	g := ir.NewGraph("g")
	x := value(t, g, "x", ir.Float64, ir.ShapeOf(4))
	require.NoError(t, g.MarkInput(x))

	onlyFloat32 := func(dt ir.DataType) int {
		if dt == ir.Float32 {
			return 4
		}
		return 0
	}
	_, err := Allocate(g, Options{SizeOf: onlyFloat32})
	assert.True(t, errors.Is(err, ErrUnresolvedShapeOrType))
}

func TestAllocateSkipsUnproducedValues(t *testing.T) {
	g := ir.NewGraph("g")
	x := value(t, g, "x", ir.Float32, ir.ShapeOf(4))
	require.NoError(t, g.MarkInput(x))
	dangling := value(t, g, "dangling", ir.Float32, ir.ShapeOf(4))
	y := value(t, g, "y", ir.Float32, ir.ShapeOf(4))
	_, err := g.AddOperator("add", ir.Fixed(1, "add", 2, 1), nil, []ir.ValueID{x, dangling}, []ir.ValueID{y})
	require.NoError(t, err)

	layout, err := Allocate(g, DefaultOptions())
	require.NoError(t, err)
	_, ok := layout.Lookup("dangling")
	assert.False(t, ok)
	assert.Equal(t, ir.Unassigned, g.Value(dangling).Address())
}

func TestVerifyDetectsOverlap(t *testing.T) {
	l := newLayout(nil)
	l.entries = []Entry{
		{Name: "a", Space: ir.ActivationSpace, Offset: 0, Size: 100},
		{Name: "b", Space: ir.WeightSpace, Offset: 50, Size: 100},
		{Name: "c", Space: ir.ActivationSpace, Offset: 100, Size: 0},
		{Name: "d", Space: ir.ActivationSpace, Offset: 64, Size: 8},
	}
	err := l.Verify()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddressConflict))
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ir.ActivationSpace, ce.Space)
	assert.Equal(t, "a", ce.A.Name)
	assert.Equal(t, "d", ce.B.Name)
	assert.Contains(t, err.Error(), "[64, 72)")

	l.entries = l.entries[:3]
	assert.NoError(t, l.Verify())
}

func TestPrint(t *testing.T) {
	layout, err := Allocate(buildGraph(t), DefaultOptions())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, layout.Print(&buf))
	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "w2")
	assert.Contains(t, buf.String(), "0x190")
}
