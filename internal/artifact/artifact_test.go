package artifact

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/internal/alloc"
	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/onnx"
	"github.com/born-ml/npuc/internal/target/generic"
)

// compiled lowers y = relu(x + b) for the generic target and returns the
// image and emitted command buffer.
func compiled(t *testing.T) (*ir.Graph, *Image, *codegen.CommandBuffer) {
	t.Helper()
	tg, err := generic.New()
	require.NoError(t, err)
	src, err := onnx.NewBuilder("addrelu").
		AddInput("x", ir.Float32, ir.ShapeOf(1, 4)).
		AddFloatInitializer("b", []int64{1, 4}, []float32{1, 2, 3, 4}).
		AddNode("Add", "add", []string{"x", "b"}, []string{"s"}).
		AddNode("Relu", "relu", []string{"s"}, []string{"y"}).
		AddOutput("y", ir.Float32, ir.ShapeOf(1, 4)).
		Graph()
	require.NoError(t, err)
	onnx.InferShapes(src)
	g := ir.NewGraph(src.Name)
	_, err = lower.NewPass(lower.NewRegistry(tg.Rules()...), lower.FailOnUnsupported).Run(src, g)
	require.NoError(t, err)
	layout, err := alloc.Allocate(g, alloc.Options{SizeOf: tg.SizeOf, Bases: map[ir.MemorySpace]ir.Address{ir.ActivationSpace: 0x1000}})
	require.NoError(t, err)

	img, err := NewImage(g, layout, tg.Name())
	require.NoError(t, err)
	sink := &codegen.MemorySink{}
	_, err = codegen.New(tg.Capabilities(), codegen.FailOnReject).Emit(g, sink)
	require.NoError(t, err)
	return g, img, sink.Last()
}

func TestRoundTrip(t *testing.T) {
	_, img, cb := compiled(t)
	img.Header.Metadata = map[string]string{"source": "addrelu.onnx"}
	path := filepath.Join(t.TempDir(), "addrelu"+Extension)

	w, err := Create(path, img)
	require.NoError(t, err)
	require.NoError(t, w.Submit(cb))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	a, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, FlagHasWeights|FlagHasMetadata, a.Flags)
	assert.Equal(t, "generic", a.Header.Target)
	assert.Equal(t, "addrelu", a.Header.Graph)
	_, err = uuid.Parse(a.Header.BuildID)
	assert.NoError(t, err)
	assert.Equal(t, []string{"x"}, a.Header.Inputs)
	assert.Equal(t, []string{"y"}, a.Header.Outputs)
	assert.Equal(t, 2, a.Header.Instructions)
	assert.Equal(t, int64(16), a.Header.WeightSize)
	assert.Equal(t, int64(48), a.Header.ActivationSize)

	b, ok := a.Header.Tensor("b")
	require.True(t, ok)
	assert.Equal(t, TensorMeta{Name: "b", Space: "weight", DType: "float32", Shape: []int64{1, 4}, Offset: 0, Address: 0, Size: 16}, b)
	s, ok := a.Header.Tensor("s")
	require.True(t, ok)
	assert.Equal(t, int64(16), s.Offset)
	assert.Equal(t, int64(0x1010), s.Address)

	assert.Equal(t, img.Weights, a.Weights)
	var w0 [4]float32
	require.NoError(t, binary.Read(bytes.NewReader(a.Weights), binary.LittleEndian, &w0))
	assert.Equal(t, [4]float32{1, 2, 3, 4}, w0)

	insts, err := a.Instructions()
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, cb.Instructions[1].Words, insts[1].Words)

	var out bytes.Buffer
	require.NoError(t, a.Print(&out))
	assert.Contains(t, out.String(), "0x1010")
}

func TestPayloadIsAligned(t *testing.T) {
	_, img, cb := compiled(t)
	data, err := Marshal(img, cb)
	require.NoError(t, err)
	headerSize := int64(binary.LittleEndian.Uint64(data[16:24])) //nolint:gosec // test data
	payloadSize := int64(binary.LittleEndian.Uint64(data[24:32])) //nolint:gosec // test data
	offset := int64(len(data)) - payloadSize
	assert.Equal(t, int64(0), offset%Alignment)
	assert.GreaterOrEqual(t, offset, FixedHeaderSize+headerSize)
	assert.Equal(t, []byte(MagicBytes), data[:4])
}

func TestCorruption(t *testing.T) {
	_, img, cb := compiled(t)
	data, err := Marshal(img, cb)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"payload bit flip", func(d []byte) []byte { d[len(d)-1] ^= 0xff; return d }, ErrChecksumMismatch},
		{"bad magic", func(d []byte) []byte { d[0] = 'X'; return d }, ErrInvalidMagic},
		{"future version", func(d []byte) []byte { binary.LittleEndian.PutUint32(d[4:8], 9); return d }, ErrUnsupportedVersion},
		{"truncated payload", func(d []byte) []byte { return d[:len(d)-3] }, ErrTruncated},
		{"truncated header", func(d []byte) []byte { return d[:10] }, ErrTruncated},
		{"huge header", func(d []byte) []byte { binary.LittleEndian.PutUint64(d[16:24], 1<<40); return d }, ErrHeaderTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.mutate(bytes.Clone(data)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestValidateTensors(t *testing.T) {
	limits := map[string]int64{"weight": 100, "activation": 50}
	tests := []struct {
		name    string
		tensors []TensorMeta
		want    error
	}{
		{"ok", []TensorMeta{
			{Name: "a", Space: "weight", Offset: 0, Size: 60},
			{Name: "b", Space: "weight", Offset: 60, Size: 40},
			{Name: "c", Space: "activation", Offset: 0, Size: 50},
			{Name: "empty", Space: "activation", Offset: 10, Size: 0},
		}, nil},
		{"overlap", []TensorMeta{
			{Name: "a", Space: "weight", Offset: 0, Size: 60},
			{Name: "b", Space: "weight", Offset: 50, Size: 10},
		}, ErrOffsetOverlap},
		{"out of bounds", []TensorMeta{{Name: "a", Space: "activation", Offset: 40, Size: 20}}, ErrOutOfBounds},
		{"negative", []TensorMeta{{Name: "a", Space: "weight", Offset: -1, Size: 1}}, ErrNegativeOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensors(tt.tensors, limits)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "a", ve.Tensor)
		})
	}
}

func TestUnsubmittedWriterRemovesFile(t *testing.T) {
	_, img, cb := compiled(t)
	path := filepath.Join(t.TempDir(), "never"+Extension)
	w, err := Create(path, img)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, errors.Is(w.Submit(cb), ErrWriterClosed))
}

func TestImageRejectsShortInitializer(t *testing.T) {
	g := ir.NewGraph("g")
	w, err := g.CreateValue("w", ir.Float32, ir.ShapeOf(4))
	require.NoError(t, err)
	require.NoError(t, g.MarkInitializer(w, []byte{1, 2, 3}))
	layout, err := alloc.Allocate(g, alloc.DefaultOptions())
	require.NoError(t, err)
	_, err = NewImage(g, layout, "generic")
	assert.Error(t, err)
}
