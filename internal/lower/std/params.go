package std

import (
	"fmt"
	"math"
	"strings"
)

// Encodable is implemented by params that have a fixed binary layout in
// an instruction: a sequence of 64-bit words following the operand
// addresses.
type Encodable interface {
	Words() []uint64
}

// Axis is the payload of operators with a single axis attribute.
type Axis struct {
	Axis int64
}

func (p Axis) String() string  { return fmt.Sprintf("axis=%d", p.Axis) }
func (p Axis) Words() []uint64 { return []uint64{u64(p.Axis)} }

// Alpha is the payload of parameterized activations.
type Alpha struct {
	Alpha float32
}

func (p Alpha) String() string  { return fmt.Sprintf("alpha=%g", p.Alpha) }
func (p Alpha) Words() []uint64 { return []uint64{f32(p.Alpha)} }

// Scale is alpha*f(x)+beta style payload (Affine, ScaledTanh).
type Scale struct {
	Alpha, Beta float32
}

func (p Scale) String() string  { return fmt.Sprintf("alpha=%g beta=%g", p.Alpha, p.Beta) }
func (p Scale) Words() []uint64 { return []uint64{f32(p.Alpha), f32(p.Beta)} }

// Window is the payload of convolution and pooling operators.
type Window struct {
	Kernel          []int64
	Pads            []int64
	Strides         []int64
	Dilations       []int64
	Group           int64
	AutoPad         string
	CeilMode        bool
	CountIncludePad bool
	P               int64 // LpPool norm
}

func (p Window) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kernel=%v", p.Kernel)
	if len(p.Pads) > 0 {
		fmt.Fprintf(&b, " pads=%v", p.Pads)
	}
	if len(p.Strides) > 0 {
		fmt.Fprintf(&b, " strides=%v", p.Strides)
	}
	if len(p.Dilations) > 0 {
		fmt.Fprintf(&b, " dilations=%v", p.Dilations)
	}
	if p.Group > 1 {
		fmt.Fprintf(&b, " group=%d", p.Group)
	}
	if p.AutoPad != "" && p.AutoPad != "NOTSET" {
		fmt.Fprintf(&b, " auto_pad=%s", p.AutoPad)
	}
	if p.CeilMode {
		b.WriteString(" ceil")
	}
	if p.CountIncludePad {
		b.WriteString(" count_include_pad")
	}
	if p.P != 0 {
		fmt.Fprintf(&b, " p=%d", p.P)
	}
	return b.String()
}

func (p Window) Words() []uint64 {
	w := list(nil, p.Kernel)
	w = list(w, p.Pads)
	w = list(w, p.Strides)
	w = list(w, p.Dilations)
	return append(w, u64(p.Group), autoPadCode(p.AutoPad), flag(p.CeilMode), flag(p.CountIncludePad), u64(p.P))
}

// Gemm is the payload of general matrix multiplication.
type Gemm struct {
	Alpha, Beta    float32
	TransA, TransB bool
}

func (p Gemm) String() string {
	return fmt.Sprintf("alpha=%g beta=%g transA=%t transB=%t", p.Alpha, p.Beta, p.TransA, p.TransB)
}

func (p Gemm) Words() []uint64 {
	return []uint64{f32(p.Alpha), f32(p.Beta), flag(p.TransA), flag(p.TransB)}
}

// LRN is the payload of local response normalization.
type LRN struct {
	Size              int64
	Alpha, Beta, Bias float32
}

func (p LRN) String() string {
	return fmt.Sprintf("size=%d alpha=%g beta=%g bias=%g", p.Size, p.Alpha, p.Beta, p.Bias)
}

func (p LRN) Words() []uint64 {
	return []uint64{u64(p.Size), f32(p.Alpha), f32(p.Beta), f32(p.Bias)}
}

// BatchNorm is the payload of batch normalization.
type BatchNorm struct {
	Epsilon, Momentum float32
}

func (p BatchNorm) String() string  { return fmt.Sprintf("epsilon=%g momentum=%g", p.Epsilon, p.Momentum) }
func (p BatchNorm) Words() []uint64 { return []uint64{f32(p.Epsilon), f32(p.Momentum)} }

// Axes is the payload of operators taking an axis list: Transpose (perm),
// Squeeze, Unsqueeze, Reshape (shape) and the reductions.
type Axes struct {
	Axes     []int64
	KeepDims bool
}

func (p Axes) String() string {
	if p.KeepDims {
		return fmt.Sprintf("axes=%v keepdims", p.Axes)
	}
	return fmt.Sprintf("axes=%v", p.Axes)
}

func (p Axes) Words() []uint64 { return append(list(nil, p.Axes), flag(p.KeepDims)) }

// Split is the payload of Split.
type Split struct {
	Axis  int64
	Sizes []int64
}

func (p Split) String() string  { return fmt.Sprintf("axis=%d split=%v", p.Axis, p.Sizes) }
func (p Split) Words() []uint64 { return list([]uint64{u64(p.Axis)}, p.Sizes) }

// Pad is the payload of Pad.
type Pad struct {
	Mode  string
	Pads  []int64
	Value float32
}

func (p Pad) String() string { return fmt.Sprintf("mode=%s pads=%v value=%g", p.Mode, p.Pads, p.Value) }

func (p Pad) Words() []uint64 {
	return append(list([]uint64{padModeCode(p.Mode)}, p.Pads), f32(p.Value))
}

// GRU is the payload of the GRU recurrent operator.
type GRU struct {
	HiddenSize        int64
	Direction         string
	LinearBeforeReset bool
	Clip              float32
	Activations       []string
	ActivationAlpha   []float32
	ActivationBeta    []float32
}

func (p GRU) String() string {
	s := fmt.Sprintf("hidden_size=%d direction=%s", p.HiddenSize, p.Direction)
	if p.LinearBeforeReset {
		s += " linear_before_reset"
	}
	if p.Clip != 0 {
		s += fmt.Sprintf(" clip=%g", p.Clip)
	}
	if len(p.Activations) > 0 {
		s += " activations=" + strings.Join(p.Activations, ",")
	}
	return s
}

func (p GRU) Words() []uint64 {
	return []uint64{u64(p.HiddenSize), directionCode(p.Direction), flag(p.LinearBeforeReset), f32(p.Clip)}
}

// Fill is the payload of constant generators (GivenTensorFill,
// RandomUniform).
type Fill struct {
	Shape        []int64
	Values       []float32
	Low, High    float32
	Seed         float32
	InputAsShape bool
}

func (p Fill) String() string {
	if len(p.Values) > 0 {
		return fmt.Sprintf("shape=%v values=%d", p.Shape, len(p.Values))
	}
	return fmt.Sprintf("shape=%v low=%g high=%g", p.Shape, p.Low, p.High)
}

func (p Fill) Words() []uint64 {
	w := list(nil, p.Shape)
	w = append(w, u64(int64(len(p.Values))))
	for _, v := range p.Values {
		w = append(w, f32(v))
	}
	return append(w, f32(p.Low), f32(p.High), f32(p.Seed), flag(p.InputAsShape))
}

// Crop is the payload of Crop.
type Crop struct {
	Border []int64
	Scale  []int64
}

func (p Crop) String() string  { return fmt.Sprintf("border=%v scale=%v", p.Border, p.Scale) }
func (p Crop) Words() []uint64 { return list(list(nil, p.Border), p.Scale) }

// Flag is the payload of operators with a single boolean attribute.
type Flag struct {
	Name string
	Set  bool
}

func (p Flag) String() string  { return fmt.Sprintf("%s=%t", p.Name, p.Set) }
func (p Flag) Words() []uint64 { return []uint64{flag(p.Set)} }

func u64(v int64) uint64 { return uint64(v) } //nolint:gosec // two's complement bit copy

func f32(v float32) uint64 { return uint64(math.Float32bits(v)) }

func flag(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// list appends a length-prefixed integer list.
func list(w []uint64, vs []int64) []uint64 {
	w = append(w, uint64(len(vs)))
	for _, v := range vs {
		w = append(w, u64(v))
	}
	return w
}

func autoPadCode(s string) uint64 {
	switch s {
	case "SAME_UPPER":
		return 1
	case "SAME_LOWER":
		return 2
	case "VALID":
		return 3
	default:
		return 0
	}
}

func padModeCode(s string) uint64 {
	switch s {
	case "reflect":
		return 1
	case "edge":
		return 2
	default:
		return 0
	}
}

func directionCode(s string) uint64 {
	switch s {
	case "reverse":
		return 1
	case "bidirectional":
		return 2
	default:
		return 0
	}
}
