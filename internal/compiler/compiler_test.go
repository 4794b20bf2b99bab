package compiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/internal/artifact"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/onnx"
	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/bm188x"
	"github.com/born-ml/npuc/internal/target/targets"
)

func addRelu(name string) *onnx.Builder {
	return onnx.NewBuilder(name).
		AddInput("x", ir.Float32, ir.ShapeOf(1, 4)).
		AddFloatInitializer("b", []int64{1, 4}, []float32{1, 2, 3, 4}).
		AddNode("Add", "add", []string{"x", "b"}, []string{"s"}).
		AddNode("Dropout", "drop", []string{"s"}, []string{"d"}).
		AddNode("Relu", "relu", []string{"d"}, []string{"y"}).
		AddOutput("y", ir.Float32, ir.ShapeOf(1, 4))
}

func newCompiler(t *testing.T, opts Options) *Compiler {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func writeModel(t *testing.T, dir, name string, b *onnx.Builder) string {
	t.Helper()
	path := filepath.Join(dir, name+".onnx")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
	return path
}

func TestCompile(t *testing.T) {
	opts := DefaultOptions()
	opts.ActivationBase = 0x1000
	opts.WeightBase = 0x100
	c := newCompiler(t, opts)

	res, err := c.Compile(context.Background(), addRelu("net").Model())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Graph.NumOperators())
	assert.Equal(t, 2, res.Report.Lowered)
	assert.Zero(t, res.Calibrated)
	assert.Equal(t, 2, res.Summary.Operators)
	require.NotNil(t, res.CommandBuffer)
	assert.Len(t, res.CommandBuffer.Instructions, res.Summary.Instructions)

	b, ok := res.Layout.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, ir.WeightSpace, b.Space)
	x, ok := res.Layout.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, ir.ActivationSpace, x.Space)

	id, ok := res.Graph.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, ir.Address(0x1000)+ir.Address(x.Offset), res.Graph.Value(id).Address())

	assert.Equal(t, "generic", res.Image.Header.Target)
	assert.Len(t, res.Image.Weights, 16)
}

func TestCompileGraph(t *testing.T) {
	src, err := addRelu("net").Graph()
	require.NoError(t, err)
	c := newCompiler(t, DefaultOptions())

	res, err := c.CompileGraph(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Graph.NumOperators())
	assert.True(t, res.Graph.Sealed())
	require.NoError(t, res.Layout.Verify())
}

func TestCompileKeepsDropoutWhenAsked(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveTrainingNodes = false
	opts.PassThrough = []string{}
	opts.Policy = lower.FailOnUnsupported
	c := newCompiler(t, opts)

	_, err := c.Compile(context.Background(), addRelu("net").Model())
	assert.True(t, errors.Is(err, lower.ErrUnsupportedOperator))
}

func TestCompileForwardsDropout(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveTrainingNodes = false
	c := newCompiler(t, opts)

	res, err := c.Compile(context.Background(), addRelu("net").Model())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.Lowered)
	assert.Equal(t, 1, res.Report.Ignored)
	assert.Empty(t, res.Report.Skipped)
	assert.Equal(t, 2, res.Summary.Operators)

	ops := res.Graph.Operators()
	require.Len(t, ops, 2)
	s, ok := res.Graph.Lookup("s")
	require.True(t, ok)
	d, ok := res.Graph.Lookup("d")
	require.True(t, ok)
	assert.Equal(t, s, d)
	assert.Equal(t, []ir.ValueID{s}, ops[1].Inputs())
	require.NoError(t, res.Layout.Verify())
}

func TestCompileReportsStarvedConsumers(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveTrainingNodes = false
	opts.PassThrough = []string{}
	c := newCompiler(t, opts)

	_, err := c.Compile(context.Background(), addRelu("net").Model())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lower.ErrUnsupportedOperator))
	var nodeErrs *lower.NodeErrors
	require.True(t, errors.As(err, &nodeErrs))
	require.Len(t, nodeErrs.Diagnostics, 1)
	assert.Contains(t, err.Error(), `Dropout "drop"`)
	assert.Contains(t, err.Error(), `nothing produces "d"`)
}

func TestCompileCanceled(t *testing.T) {
	c := newCompiler(t, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Compile(ctx, addRelu("net").Model())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPrintIR(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.PrintIR = &buf
	c := newCompiler(t, opts)

	_, err := c.Compile(context.Background(), addRelu("net").Model())
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `graph "net"`)
	assert.Contains(t, out, "// relu")
	assert.Contains(t, out, "NAME")
}

func TestUnknownTarget(t *testing.T) {
	opts := DefaultOptions()
	opts.Target = "tpu9000"
	_, err := New(opts)
	assert.True(t, errors.Is(err, targets.ErrUnknownTarget))
}

func TestCompileFileWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	in := writeModel(t, dir, "net", addRelu("net"))
	out := filepath.Join(dir, "net"+artifact.Extension)
	c := newCompiler(t, DefaultOptions())

	res, err := c.CompileFile(context.Background(), in, out)
	require.NoError(t, err)

	a, err := artifact.Read(out)
	require.NoError(t, err)
	assert.Equal(t, res.Image.Header.BuildID, a.Header.BuildID)
	insts, err := a.Instructions()
	require.NoError(t, err)
	assert.Equal(t, res.CommandBuffer.Instructions, insts)
	assert.Equal(t, res.Image.Weights, a.Weights)
}

func TestCompileFileFailureLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	in := writeModel(t, dir, "bad", onnx.NewBuilder("bad").
		AddInput("x", ir.Float32, ir.ShapeOf(1, 4)).
		AddNode("Frobnicate", "f", []string{"x"}, []string{"y"}).
		AddOutput("y", ir.Float32, ir.ShapeOf(1, 4)))
	out := filepath.Join(dir, "bad"+artifact.Extension)
	opts := DefaultOptions()
	opts.Policy = lower.FailOnUnsupported
	c := newCompiler(t, opts)

	_, err := c.CompileFile(context.Background(), in, out)
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompileAll(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a", "b", "c", "d"}
	jobs := make([]Job, len(names))
	for i, name := range names {
		jobs[i] = Job{
			Input:  writeModel(t, dir, name, addRelu(name)),
			Output: filepath.Join(dir, name+artifact.Extension),
		}
	}
	opts := DefaultOptions()
	opts.Workers = 2
	c := newCompiler(t, opts)

	results, err := c.CompileAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, len(names))
	for i, res := range results {
		assert.Equal(t, names[i], res.Graph.Name())
		_, err := os.Stat(jobs[i].Output)
		assert.NoError(t, err)
	}
}

func TestCompileAllReportsFailure(t *testing.T) {
	dir := t.TempDir()
	jobs := []Job{
		{Input: writeModel(t, dir, "ok", addRelu("ok"))},
		{Input: filepath.Join(dir, "missing.onnx")},
	}
	c := newCompiler(t, DefaultOptions())

	_, err := c.CompileAll(context.Background(), jobs)
	assert.Error(t, err)
}

func convRelu() *onnx.Builder {
	return onnx.NewBuilder("q").
		AddInput("x", ir.Int8, ir.ShapeOf(1, 1, 8, 8)).
		AddInitializer("w", ir.Int8, []int64{2, 1, 3, 3}, make([]byte, 18)).
		AddNode("Conv", "conv", []string{"x", "w"}, []string{"c"}, onnx.IntsAttr("pads", 1, 1, 1, 1)).
		AddNode("Relu", "relu", []string{"c"}, []string{"r"}).
		AddOutput("r", ir.Int8, ir.ShapeOf(1, 2, 8, 8))
}

func TestCalibrationFromMetadata(t *testing.T) {
	calib := target.NewCalibration("q", target.Layer{Name: "conv", RightShiftWidth: 6, ThresholdXQuantized: []int32{90}})
	m := convRelu().Model()
	m.MetadataProps = append(m.MetadataProps, onnx.StringStringEntry{Key: bm188x.CalibrationKey, Value: string(calib.Marshal())})

	opts := DefaultOptions()
	opts.Target = bm188x.Name
	c := newCompiler(t, opts)

	res, err := c.Compile(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calibrated)
	p := res.Graph.Operators()[0].Params().(*bm188x.Conv)
	assert.Equal(t, int32(6), p.RShift)
	assert.Equal(t, []int32{90}, p.Threshold)
}

func TestCalibrationOptionOverridesMetadata(t *testing.T) {
	m := convRelu().Model()
	m.MetadataProps = append(m.MetadataProps, onnx.StringStringEntry{Key: bm188x.CalibrationKey, Value: "\xff\xff"})

	opts := DefaultOptions()
	opts.Target = bm188x.Name
	opts.Calibration = target.NewCalibration("q", target.Layer{Name: "r", RightShiftWidth: 2})
	c := newCompiler(t, opts)

	res, err := c.Compile(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, int32(2), res.Graph.Operators()[0].Params().(*bm188x.Conv).RShift)
}

func TestMalformedCalibrationFails(t *testing.T) {
	m := convRelu().Model()
	m.MetadataProps = append(m.MetadataProps, onnx.StringStringEntry{Key: bm188x.CalibrationKey, Value: "\xff\xff"})
	opts := DefaultOptions()
	opts.Target = bm188x.Name
	c := newCompiler(t, opts)

	_, err := c.Compile(context.Background(), m)
	assert.True(t, errors.Is(err, target.ErrBadCalibration))
}
