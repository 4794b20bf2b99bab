// Package compiler drives a compilation: it lowers an ONNX graph onto a
// target, places every operand in memory, emits the command buffer and
// optionally packs everything into an artifact.
package compiler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/alloc"
	"github.com/born-ml/npuc/internal/artifact"
	"github.com/born-ml/npuc/internal/codegen"
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/onnx"
	"github.com/born-ml/npuc/internal/parallel"
	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/targets"
)

// Compiler compiles models for one target. It keeps no per-compilation
// state and is safe for concurrent use.
type Compiler struct {
	opts   Options
	target target.Target
}

// Result is the outcome of one compilation.
type Result struct {
	Graph         *ir.Graph
	Layout        *alloc.Layout
	Report        *lower.Report
	Calibrated    int // operators updated from the calibration table
	Summary       *codegen.Summary
	CommandBuffer *codegen.CommandBuffer
	Image         *artifact.Image
	Elapsed       time.Duration
}

// New builds a compiler for opts.Target.
func New(opts Options) (*Compiler, error) {
	if opts.Alignment < 1 {
		opts.Alignment = 1
	}
	t, err := targets.New(opts.Target, opts.Kernels)
	if err != nil {
		return nil, err
	}
	return &Compiler{opts: opts, target: t}, nil
}

// Target returns the target the compiler emits for.
func (c *Compiler) Target() target.Target { return c.target }

// Options returns the compiler options.
func (c *Compiler) Options() Options { return c.opts }

// Compile compiles a decoded model. Without Options.Calibration, a
// calibrated target reads its table from the model metadata.
func (c *Compiler) Compile(ctx context.Context, m *onnx.ModelProto) (*Result, error) {
	return c.compileModel(ctx, m, nil)
}

// CompileGraph compiles a source graph. Only Options.Calibration is used.
func (c *Compiler) CompileGraph(ctx context.Context, src *onnx.Graph) (*Result, error) {
	return c.run(ctx, src, c.opts.Calibration, nil, nil)
}

// CompileFile compiles the model at in and writes the artifact to out.
// An empty out skips the artifact.
func (c *Compiler) CompileFile(ctx context.Context, in, out string) (*Result, error) {
	m, err := onnx.ParseFile(in)
	if err != nil {
		return nil, err
	}
	var w *artifact.Writer
	open := func(img *artifact.Image) (codegen.Sink, error) {
		if out == "" {
			return nil, nil
		}
		var err error
		w, err = artifact.Create(out, img)
		return w, err
	}
	res, err := c.compileModel(ctx, m, open)
	if w != nil {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return nil, errors.WithMessage(err, in)
	}
	return res, nil
}

// Job is one CompileAll input.
type Job struct {
	Input  string
	Output string
}

// CompileAll compiles independent models concurrently, at most
// Options.Workers at a time. Results are in job order. The first failure
// cancels the jobs not yet started.
func (c *Compiler) CompileAll(ctx context.Context, jobs []Job) ([]*Result, error) {
	results := make([]*Result, len(jobs))
	err := parallel.For(ctx, len(jobs), func(ctx context.Context, i int) error {
		res, err := c.CompileFile(ctx, jobs[i].Input, jobs[i].Output)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	}, parallel.WithWorkers(c.opts.Workers))
	if err != nil {
		return nil, err
	}
	return results, nil
}

// sinkFunc opens the output sink once the image is known. A nil sink
// means the command buffer is only kept in the result.
type sinkFunc func(img *artifact.Image) (codegen.Sink, error)

func (c *Compiler) compileModel(ctx context.Context, m *onnx.ModelProto, open sinkFunc) (*Result, error) {
	src, err := onnx.NewGraph(m)
	if err != nil {
		return nil, err
	}
	meta := m.Metadata()
	calib := c.opts.Calibration
	if ct, ok := c.target.(target.Calibrated); ok {
		if calib == nil {
			calib, _, err = target.CalibrationFromModel(m, ct.CalibrationKey())
			if err != nil {
				return nil, err
			}
		}
		// The table is binary and already applied.
		delete(meta, ct.CalibrationKey())
	}
	return c.run(ctx, src, calib, meta, open)
}

// run executes the phases. The context is checked between phases.
func (c *Compiler) run(ctx context.Context, src *onnx.Graph, calib *target.Calibration, meta map[string]string, open sinkFunc) (*Result, error) {
	start := time.Now()
	res := &Result{}

	if c.opts.RemoveTrainingNodes {
		if n := onnx.RemoveTrainingNodes(src); n > 0 {
			klog.V(1).Infof("compile %s: removed %d training nodes", src.Name, n)
		}
	}
	if c.opts.InferShapes {
		onnx.InferShapes(src)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	phase := time.Now()
	res.Graph = ir.NewGraph(src.Name)
	pass := lower.NewPass(lower.NewRegistry(c.target.Rules()...), c.opts.Policy)
	if c.opts.PassThrough != nil {
		pass.PassThrough = c.opts.PassThrough
	}
	report, err := pass.Run(src, res.Graph)
	res.Report = report
	if err != nil {
		return nil, errors.WithMessagef(err, "select %s", src.Name)
	}
	klog.V(1).Infof("compile %s: select %d operators for %s in %s", src.Name, res.Graph.NumOperators(), c.target.Name(), time.Since(phase))

	if calib != nil {
		res.Calibrated, err = c.target.Capabilities().Update(res.Graph, calib)
		if err != nil {
			return nil, errors.WithMessagef(err, "calibrate %s", src.Name)
		}
		klog.V(1).Infof("compile %s: calibrated %d operators from %q", src.Name, res.Calibrated, calib.Name)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	phase = time.Now()
	res.Layout, err = alloc.Allocate(res.Graph, alloc.Options{
		Alignment: c.opts.Alignment,
		Bases: map[ir.MemorySpace]ir.Address{
			ir.WeightSpace:     ir.Address(c.opts.WeightBase),
			ir.ActivationSpace: ir.Address(c.opts.ActivationBase),
		},
		SizeOf: c.target.SizeOf,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "allocate %s", src.Name)
	}
	klog.V(1).Infof("compile %s: allocate %d operands in %s", src.Name, res.Layout.Len(), time.Since(phase))

	if c.opts.PrintIR != nil {
		if err := res.Graph.Print(c.opts.PrintIR); err != nil {
			return nil, err
		}
		if err := res.Layout.Print(c.opts.PrintIR); err != nil {
			return nil, err
		}
	}

	res.Image, err = artifact.NewImage(res.Graph, res.Layout, c.target.Name())
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		res.Image.Header.Metadata = meta
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mem := &codegen.MemorySink{}
	var sink codegen.Sink = mem
	if open != nil {
		out, err := open(res.Image)
		if err != nil {
			return nil, err
		}
		if out != nil {
			sink = codegen.Tee(mem, out)
		}
	}
	phase = time.Now()
	res.Summary, err = codegen.New(c.target.Capabilities(), c.opts.EmitPolicy).Emit(res.Graph, sink)
	if err != nil {
		return nil, errors.WithMessagef(err, "emit %s", src.Name)
	}
	res.CommandBuffer = mem.Last()
	klog.V(1).Infof("compile %s: emit %d instructions in %s", src.Name, res.Summary.Instructions, time.Since(phase))

	res.Elapsed = time.Since(start)
	klog.V(1).Infof("compile %s: done in %s", src.Name, res.Elapsed)
	return res, nil
}
