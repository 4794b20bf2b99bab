package bm188x

import "fmt"

// Quant is the calibration state shared by the int8 kernels.
type Quant struct {
	RShift    int32
	Threshold []int32
}

func (q Quant) String() string {
	return fmt.Sprintf("rshift=%d thresholds=%v", q.RShift, q.Threshold)
}

// Conv is the payload of a sliced convolution. DoRelu is set when a
// following Relu was fused in.
type Conv struct {
	N, C, H, W             int64
	OutC, OutH, OutW       int64
	Group                  int64
	KH, KW                 int64
	DilationH, DilationW   int64
	PadT, PadL, PadB, PadR int64
	StrideH, StrideW       int64
	HaveBias               bool
	DoRelu                 bool
	Slices                 []Slice
	Quant
}

func (p *Conv) String() string {
	return fmt.Sprintf("in=%dx%dx%dx%d out=%dx%dx%d group=%d kernel=%dx%d stride=%dx%d relu=%t slices=%d %s",
		p.N, p.C, p.H, p.W, p.OutC, p.OutH, p.OutW, p.Group, p.KH, p.KW, p.StrideH, p.StrideW, p.DoRelu, len(p.Slices), p.Quant)
}

// Pool is the payload of MaxPool and AveragePool.
type Pool struct {
	N, C, H, W             int64
	KH, KW                 int64
	PadT, PadL, PadB, PadR int64
	StrideH, StrideW       int64
	Average                bool
	DoRelu                 bool
	Quant
}

func (p *Pool) String() string {
	kind := "max"
	if p.Average {
		kind = "avg"
	}
	return fmt.Sprintf("%s in=%dx%dx%dx%d kernel=%dx%d stride=%dx%d %s",
		kind, p.N, p.C, p.H, p.W, p.KH, p.KW, p.StrideH, p.StrideW, p.Quant)
}

// PRelu is the payload of a parametric relu. Positive inputs are scaled
// by GTScale and shifted by GTRShift; negative inputs are multiplied by
// the slope tensor and shifted by LERShift.
type PRelu struct {
	N, C, H, W int64
	GTRShift   int32
	GTScale    int32
	LERShift   int32
}

func (p *PRelu) String() string {
	return fmt.Sprintf("in=%dx%dx%dx%d gt_rshift=%d gt_scale=%d le_rshift=%d",
		p.N, p.C, p.H, p.W, p.GTRShift, p.GTScale, p.LERShift)
}

// Sum is the payload of an element-wise sum of equally shaped inputs.
type Sum struct {
	N, C, H, W int64
	Inputs     int
	DoRelu     bool
	Quant
}

func (p *Sum) String() string {
	return fmt.Sprintf("in=%dx%dx%dx%d inputs=%d %s", p.N, p.C, p.H, p.W, p.Inputs, p.Quant)
}

// Relu is the payload of a standalone int8 relu.
type Relu struct {
	N, C, H, W int64
}

func (p *Relu) String() string { return fmt.Sprintf("in=%dx%dx%dx%d", p.N, p.C, p.H, p.W) }
