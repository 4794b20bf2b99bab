package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/npuc/compiler"
	"github.com/born-ml/npuc/internal/artifact"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/onnx"
	"github.com/born-ml/npuc/internal/target"
)

func TestOptions(t *testing.T) {
	dir := t.TempDir()
	calib := filepath.Join(dir, "ctable.pb")
	require.NoError(t, os.WriteFile(calib, target.NewCalibration("net", target.Layer{Name: "conv1", RightShiftWidth: 4}).Marshal(), 0o600))

	opts, err := options(flags{
		target:         "bm1880",
		strict:         true,
		skipRejected:   true,
		alignment:      64,
		activationBase: 0x8000,
		calibration:    calib,
		localMemory:    1024,
		keepDropout:    true,
		workers:        3,
	})
	require.NoError(t, err)
	assert.Equal(t, "bm1880", opts.Target)
	assert.Equal(t, compiler.FailOnUnsupported, opts.Policy)
	assert.Equal(t, compiler.SkipRejected, opts.EmitPolicy)
	assert.Equal(t, int64(64), opts.Alignment)
	assert.Equal(t, int64(0x8000), opts.ActivationBase)
	assert.False(t, opts.RemoveTrainingNodes)
	assert.True(t, opts.InferShapes)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, int64(1024), opts.Kernels.BM188xOptions.LocalMemory)
	require.NotNil(t, opts.Calibration)
	assert.Equal(t, "net", opts.Calibration.Name)
}

func TestRunCompilesNextToInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "relu.onnx")
	model := onnx.NewBuilder("relu").
		AddInput("x", ir.Float32, ir.ShapeOf(2, 2)).
		AddNode("Relu", "relu", []string{"x"}, []string{"y"}).
		AddOutput("y", ir.Float32, ir.ShapeOf(2, 2))
	require.NoError(t, os.WriteFile(in, model.Bytes(), 0o600))

	f := flags{target: "generic", alignment: 1, localMemory: 1 << 10}
	require.NoError(t, run(f, []string{in}))
	out := filepath.Join(dir, "relu"+artifact.Extension)
	assert.FileExists(t, out)

	f.inspect = true
	require.NoError(t, run(f, []string{out}))
}

func TestRunRejectsOutputForManyInputs(t *testing.T) {
	err := run(flags{target: "generic", output: "x.npuc"}, []string{"a.onnx", "b.onnx"})
	assert.Error(t, err)
}
