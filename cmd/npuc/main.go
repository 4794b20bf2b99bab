// Package main provides the npuc command, which compiles ONNX models into
// accelerator artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/compiler"
	"github.com/born-ml/npuc/internal/artifact"
	"github.com/born-ml/npuc/internal/target"
	"github.com/born-ml/npuc/internal/target/bm188x"
)

const version = "v" + artifact.CompilerVersion

type flags struct {
	target         string
	output         string
	strict         bool
	skipRejected   bool
	alignment      int64
	weightBase     int64
	activationBase int64
	calibration    string
	localMemory    int64
	keepDropout    bool
	noInfer        bool
	printIR        bool
	workers        int
	inspect        bool
	listTargets    bool
}

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("npuc %s\n", version)
		return
	}

	var f flags
	flag.StringVar(&f.target, "target", "generic", "target chip ("+strings.Join(compiler.Targets(), ", ")+")")
	flag.StringVar(&f.output, "o", "", "output artifact (single input only; default: input with "+artifact.Extension+")")
	flag.BoolVar(&f.strict, "strict", false, "fail on nodes no rule can lower")
	flag.BoolVar(&f.skipRejected, "skip-rejected", false, "leave operators the target rejects out of the command buffer")
	flag.Int64Var(&f.alignment, "align", 1, "byte alignment of every tensor")
	flag.Int64Var(&f.weightBase, "weight-base", 0, "device address of the weight space")
	flag.Int64Var(&f.activationBase, "activation-base", 0, "device address of the activation space")
	flag.StringVar(&f.calibration, "calibration", "", "calibration table file, overriding the one in the model")
	flag.Int64Var(&f.localMemory, "local-memory", bm188x.DefaultLocalMemory, "bm1880 convolution slice budget in bytes")
	flag.BoolVar(&f.keepDropout, "keep-dropout", false, "do not remove training-only nodes")
	flag.BoolVar(&f.noInfer, "no-infer", false, "do not infer missing intermediate shapes")
	flag.BoolVar(&f.printIR, "print-ir", false, "print the lowered graph and memory layout")
	flag.IntVar(&f.workers, "j", 0, "models compiled in parallel (0: CPU count)")
	flag.BoolVar(&f.inspect, "inspect", false, "print the contents of existing artifacts instead of compiling")
	flag.BoolVar(&f.listTargets, "targets", false, "list targets and exit")
	flag.Usage = usage
	flag.Parse()

	if err := run(f, flag.Args()); err != nil {
		klog.Flush()
		fmt.Fprintf(os.Stderr, "npuc: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "npuc %s - ONNX compiler for neural network accelerators\n\n", version)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  npuc [flags] model.onnx...")
	fmt.Fprintln(os.Stderr, "  npuc -inspect model.npuc...")
	fmt.Fprintln(os.Stderr, "  npuc version")
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
}

func run(f flags, args []string) error {
	if f.listTargets {
		for _, name := range compiler.Targets() {
			fmt.Println(name)
		}
		return nil
	}
	if len(args) == 0 {
		flag.Usage()
		return errors.New("no input files")
	}
	if f.inspect {
		return inspect(args)
	}
	if f.output != "" && len(args) > 1 {
		return errors.Errorf("-o needs exactly one input, have %d", len(args))
	}

	opts, err := options(f)
	if err != nil {
		return err
	}
	c, err := compiler.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	jobs := make([]compiler.Job, len(args))
	for i, in := range args {
		out := f.output
		if out == "" {
			out = strings.TrimSuffix(in, filepath.Ext(in)) + artifact.Extension
		}
		jobs[i] = compiler.Job{Input: in, Output: out}
	}
	results, err := c.CompileAll(ctx, jobs)
	if err != nil {
		return err
	}
	for i, res := range results {
		fmt.Printf("%s -> %s: %d operators, %d instructions, %d skipped, %s\n",
			jobs[i].Input, jobs[i].Output, res.Summary.Operators, res.Summary.Instructions,
			len(res.Report.Skipped), res.Elapsed)
	}
	return nil
}

func options(f flags) (compiler.Options, error) {
	opts := compiler.DefaultOptions()
	opts.Target = f.target
	if f.strict {
		opts.Policy = compiler.FailOnUnsupported
	}
	if f.skipRejected {
		opts.EmitPolicy = compiler.SkipRejected
	}
	opts.Alignment = f.alignment
	opts.WeightBase = f.weightBase
	opts.ActivationBase = f.activationBase
	opts.RemoveTrainingNodes = !f.keepDropout
	opts.InferShapes = !f.noInfer
	opts.Workers = f.workers
	opts.Kernels.BM188xOptions = bm188x.Options{LocalMemory: f.localMemory}
	if f.printIR {
		opts.PrintIR = os.Stdout
	}
	if f.calibration != "" {
		raw, err := os.ReadFile(f.calibration)
		if err != nil {
			return opts, err
		}
		if opts.Calibration, err = target.DecodeCalibration(raw); err != nil {
			return opts, errors.WithMessage(err, f.calibration)
		}
	}
	return opts, nil
}

func inspect(paths []string) error {
	for _, path := range paths {
		a, err := artifact.Read(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", path)
		if err := a.Print(os.Stdout); err != nil {
			return err
		}
	}
	return nil
}
