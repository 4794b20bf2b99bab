package bm168x

import "fmt"

// Conv is the payload of a BM168x convolution.
type Conv struct {
	N, C, H, W             int64
	OutC, Group            int64
	KH, KW                 int64
	DilationH, DilationW   int64
	PadT, PadL, PadB, PadR int64
	StrideH, StrideW       int64
	HaveBias               bool
}

func (p Conv) String() string {
	return fmt.Sprintf("in=%dx%dx%dx%d oc=%d g=%d k=%dx%d d=%dx%d pad=%d,%d,%d,%d s=%dx%d bias=%t",
		p.N, p.C, p.H, p.W, p.OutC, p.Group, p.KH, p.KW, p.DilationH, p.DilationW,
		p.PadT, p.PadL, p.PadB, p.PadR, p.StrideH, p.StrideW, p.HaveBias)
}

// Relu is the payload of a BM168x ReLU.
type Relu struct {
	N, C, H, W int64
	Slope      float32
}

func (p Relu) String() string {
	return fmt.Sprintf("in=%dx%dx%dx%d slope=%g", p.N, p.C, p.H, p.W, p.Slope)
}

// LRN is the payload of a BM168x local response normalization.
type LRN struct {
	N, C, H, W int64
	Size       int64
	Alpha      float32
	Beta       float32
	K          float32
}

func (p LRN) String() string {
	return fmt.Sprintf("in=%dx%dx%dx%d size=%d alpha=%g beta=%g k=%g", p.N, p.C, p.H, p.W, p.Size, p.Alpha, p.Beta, p.K)
}

// Pool is the payload of a BM168x max pooling.
type Pool struct {
	N, C, H, W             int64
	KH, KW                 int64
	PadT, PadB, PadL, PadR int64
	StrideH, StrideW       int64
}

func (p Pool) String() string {
	return fmt.Sprintf("in=%dx%dx%dx%d k=%dx%d pad=%d,%d,%d,%d s=%dx%d",
		p.N, p.C, p.H, p.W, p.KH, p.KW, p.PadT, p.PadB, p.PadL, p.PadR, p.StrideH, p.StrideW)
}

// Gemm is the payload of a BM168x fully connected layer.
type Gemm struct {
	Rows, InCols, OutCols int64
	HaveBias, Relu        bool
	TransB                bool
}

func (p Gemm) String() string {
	return fmt.Sprintf("rows=%d in=%d out=%d bias=%t relu=%t transB=%t", p.Rows, p.InCols, p.OutCols, p.HaveBias, p.Relu, p.TransB)
}

// Softmax is the working shape of a BM168x softmax. H is always 1: a 4-D
// input folds its spatial dimensions into W.
type Softmax struct {
	N, C, H, W int64
}

func (p Softmax) String() string { return fmt.Sprintf("n=%d c=%d h=%d w=%d", p.N, p.C, p.H, p.W) }
