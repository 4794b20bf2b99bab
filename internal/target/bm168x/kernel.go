package bm168x

import (
	"math"

	"github.com/born-ml/npuc/internal/codegen"
)

// Kernel is the BM168x kernel ABI. Each call encodes one layer into a.
// Addresses are absolute device addresses.
type Kernel interface {
	ConvForward(a codegen.Appender, in, weight, bias, out uint64, p Conv) error
	ReluForward(a codegen.Appender, in, out uint64, slope float32, n, c, h, w int64) error
	LRNForward(a codegen.Appender, in, out uint64, n, c, h, w int64, alpha float32, size int64, beta, k float32) error
	MaxPoolForward(a codegen.Appender, in, out uint64, p Pool) error
	GemmForward(a codegen.Appender, in, weight, bias, out uint64, rows, inCols, outCols int64, haveBias, relu, transB bool) error
	SoftmaxForward(a codegen.Appender, in, out uint64, n, c, w int64) error
}

// Hardware command identifiers written by Encoder.
const (
	CmdConv    uint32 = 0x16800001
	CmdRelu    uint32 = 0x16800002
	CmdLRN     uint32 = 0x16800003
	CmdPool    uint32 = 0x16800004
	CmdFC      uint32 = 0x16800005
	CmdSoftmax uint32 = 0x16800006
)

// Encoder is the default Kernel: one command per call with the arguments
// laid out in call order.
type Encoder struct{}

// ConvForward implements Kernel.
func (Encoder) ConvForward(a codegen.Appender, in, weight, bias, out uint64, p Conv) error {
	return a.Emit(CmdConv, in, weight, bias, out,
		u(p.N), u(p.C), u(p.H), u(p.W), u(p.OutC), u(p.Group), u(p.KH), u(p.KW),
		u(p.DilationH), u(p.DilationW), u(p.PadT), u(p.PadL), u(p.PadB), u(p.PadR),
		u(p.StrideH), u(p.StrideW), b(p.HaveBias))
}

// ReluForward implements Kernel.
func (Encoder) ReluForward(a codegen.Appender, in, out uint64, slope float32, n, c, h, w int64) error {
	return a.Emit(CmdRelu, in, out, f(slope), u(n), u(c), u(h), u(w))
}

// LRNForward implements Kernel.
func (Encoder) LRNForward(a codegen.Appender, in, out uint64, n, c, h, w int64, alpha float32, size int64, beta, k float32) error {
	return a.Emit(CmdLRN, in, out, u(n), u(c), u(h), u(w), f(alpha), u(size), f(beta), f(k))
}

// MaxPoolForward implements Kernel.
func (Encoder) MaxPoolForward(a codegen.Appender, in, out uint64, p Pool) error {
	return a.Emit(CmdPool, in, out, u(p.N), u(p.C), u(p.H), u(p.W), u(p.KH), u(p.KW),
		u(p.PadT), u(p.PadB), u(p.PadL), u(p.PadR), u(p.StrideH), u(p.StrideW))
}

// GemmForward implements Kernel.
func (Encoder) GemmForward(a codegen.Appender, in, weight, bias, out uint64, rows, inCols, outCols int64, haveBias, relu, transB bool) error {
	return a.Emit(CmdFC, in, weight, bias, out, u(rows), u(inCols), u(outCols), b(haveBias), b(relu), b(transB))
}

// SoftmaxForward implements Kernel.
func (Encoder) SoftmaxForward(a codegen.Appender, in, out uint64, n, c, w int64) error {
	return a.Emit(CmdSoftmax, in, out, u(n), u(c), u(w))
}

func u(v int64) uint64 { return uint64(v) } //nolint:gosec // two's complement bit copy

func f(v float32) uint64 { return uint64(math.Float32bits(v)) }

func b(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
