// Package compiler compiles ONNX models into command buffers for neural
// network accelerators.
//
// A compilation lowers the ONNX graph onto the operator set of a target
// chip, places every tensor in the weight or activation space, and emits
// one instruction stream for the whole graph. The result can be written
// as a self-describing artifact that a runtime loads without the model.
//
// # Supported Targets
//
//   - generic: portable reference encoding of the standard operators
//   - bm1680, bm1682: float32 TG chips with Conv, Relu, LRN, MaxPool,
//     Gemm and Softmax kernels
//   - bm1880: int8 chip with sliced Conv, fused Conv+Relu, pooling,
//     PRelu and Sum, calibrated from the table stored in the model
//
// # Example Usage
//
//	opts := compiler.DefaultOptions()
//	opts.Target = "bm1880"
//	c, err := compiler.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.CompileFile(ctx, "lenet.onnx", "lenet.npuc")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Summary.Instructions, "instructions")
package compiler

import (
	internal "github.com/born-ml/npuc/internal/compiler"
	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/targets"
)

// Options configures a Compiler.
type Options = internal.Options

// Compiler compiles models for one target.
type Compiler = internal.Compiler

// Result is the outcome of one compilation.
type Result = internal.Result

// Job is one model of a CompileAll batch.
type Job = internal.Job

// Calibration is an int8 calibration table.
type Calibration = target.Calibration

// Lowering policies.
const (
	IgnoreUnsupported = lower.IgnoreUnsupported
	FailOnUnsupported = lower.FailOnUnsupported
)

// Emission policies.
const (
	FailOnReject = codegen.FailOnReject
	SkipRejected = codegen.SkipRejected
)

// DefaultOptions returns the default options for compiling ONNX models.
//
// Default configuration:
//   - Target: generic
//   - Unsupported nodes: skipped with a warning
//   - Rejected operators: fail the compilation
func DefaultOptions() Options {
	return internal.DefaultOptions()
}

// New creates a compiler for opts.Target.
//
// Example:
//
//	c, err := compiler.New(compiler.DefaultOptions())
func New(opts Options) (*Compiler, error) {
	return internal.New(opts)
}

// Targets lists the target names New accepts.
func Targets() []string {
	return targets.Names()
}
