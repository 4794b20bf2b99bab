package compiler

import (
	"io"

	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/generic"
	"github.com/born-ml/npuc/internal/target/targets"
)

// Options configures a Compiler.
type Options struct {
	// Target is the name of the hardware target (see targets.Names).
	Target string
	// Kernels substitutes target kernels, mostly for tests.
	Kernels targets.Config
	// Policy decides what happens to nodes no rule lowers.
	Policy lower.Policy
	// PassThrough lists node kinds whose output is their input. Nil means
	// lower.DefaultPassThrough.
	PassThrough []string
	// EmitPolicy decides what happens to operators the target rejects.
	EmitPolicy codegen.Policy
	// Alignment rounds every allocated offset up to a multiple of itself.
	Alignment int64
	// WeightBase and ActivationBase are the device base addresses of the
	// two memory spaces.
	WeightBase     int64
	ActivationBase int64
	// Calibration overrides the table stored in the model metadata.
	Calibration *target.Calibration
	// RemoveTrainingNodes drops Dropout before lowering.
	RemoveTrainingNodes bool
	// InferShapes fills in intermediate shapes the model left out.
	InferShapes bool
	// PrintIR, if set, receives the lowered graph and its layout.
	PrintIR io.Writer
	// Workers bounds CompileAll. 0 means the CPU count.
	Workers int
}

// DefaultOptions returns the default options for compiling ONNX models.
//
// Default configuration:
//   - Target: generic
//   - Unsupported nodes are skipped with a warning
//   - Rejected operators fail emission
//   - No alignment, both spaces based at 0
//   - Training nodes removed and shapes inferred
func DefaultOptions() Options {
	return Options{
		Target:              generic.Name,
		Policy:              lower.IgnoreUnsupported,
		EmitPolicy:          codegen.FailOnReject,
		Alignment:           1,
		RemoveTrainingNodes: true,
		InferShapes:         true,
	}
}
