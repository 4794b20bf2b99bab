package bm188x

import (
	"github.com/born-ml/npuc/internal/codegen"
)

// Kernel is the BM1880 int8 kernel ABI. Addresses are absolute device
// addresses; quantization state travels in the payloads.
type Kernel interface {
	// ConvForward encodes one slice of a convolution.
	ConvForward(a codegen.Appender, in, weight, bias, out uint64, p *Conv, s Slice) error
	PoolForward(a codegen.Appender, in, out uint64, p *Pool) error
	PReluForward(a codegen.Appender, in, slope, out uint64, p *PRelu) error
	SumForward(a codegen.Appender, ins []uint64, out uint64, p *Sum) error
	ReluForward(a codegen.Appender, in, out uint64, p *Relu) error
}

// Hardware command identifiers written by Encoder.
const (
	CmdConv  uint32 = 0x18800001
	CmdPool  uint32 = 0x18800002
	CmdPRelu uint32 = 0x18800003
	CmdSum   uint32 = 0x18800004
	CmdRelu  uint32 = 0x18800005
)

// Encoder is the default Kernel.
type Encoder struct{}

// ConvForward implements Kernel.
func (Encoder) ConvForward(a codegen.Appender, in, weight, bias, out uint64, p *Conv, s Slice) error {
	return a.Emit(CmdConv, in, weight, bias, out,
		u(p.N), u(p.C), u(p.H), u(p.W), u(p.OutC), u(p.Group), u(p.KH), u(p.KW),
		u(p.DilationH), u(p.DilationW), u(p.PadL), u(p.PadR), u(p.StrideH), u(p.StrideW),
		u(s.OutRow), u(s.OutRows), u(s.InRow), u(s.InRows), u(s.PadT), u(s.PadB),
		b(p.HaveBias), b(p.DoRelu), i(p.RShift))
}

// PoolForward implements Kernel.
func (Encoder) PoolForward(a codegen.Appender, in, out uint64, p *Pool) error {
	return a.Emit(CmdPool, in, out,
		u(p.N), u(p.C), u(p.H), u(p.W), u(p.KH), u(p.KW),
		u(p.PadT), u(p.PadB), u(p.PadL), u(p.PadR), u(p.StrideH), u(p.StrideW),
		b(p.Average), b(p.DoRelu), i(p.RShift), i(first(p.Threshold)))
}

// PReluForward implements Kernel.
func (Encoder) PReluForward(a codegen.Appender, in, slope, out uint64, p *PRelu) error {
	return a.Emit(CmdPRelu, in, slope, out, u(p.N), u(p.C), u(p.H), u(p.W),
		i(p.GTRShift), i(p.GTScale), i(p.LERShift))
}

// SumForward implements Kernel. Thresholds follow the input addresses,
// one per input, zero when the table has fewer.
func (Encoder) SumForward(a codegen.Appender, ins []uint64, out uint64, p *Sum) error {
	words := make([]uint64, 0, 2*len(ins)+8)
	words = append(words, u(int64(len(ins))))
	words = append(words, ins...)
	words = append(words, out, u(p.N), u(p.C), u(p.H), u(p.W), b(p.DoRelu), i(p.RShift))
	for k := range ins {
		var th int32
		if k < len(p.Threshold) {
			th = p.Threshold[k]
		}
		words = append(words, i(th))
	}
	return a.Emit(CmdSum, words...)
}

// ReluForward implements Kernel.
func (Encoder) ReluForward(a codegen.Appender, in, out uint64, p *Relu) error {
	return a.Emit(CmdRelu, in, out, u(p.N), u(p.C), u(p.H), u(p.W))
}

func u(v int64) uint64 { return uint64(v) } //nolint:gosec // two's complement bit copy

func i(v int32) uint64 { return uint64(int64(v)) } //nolint:gosec // sign extended

func b(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func first(v []int32) int32 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
