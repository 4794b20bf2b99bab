package bm168x

import (
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/onnx"
)

// BM168x opcodes.
const (
	OpConv ir.Opcode = 0x1680 + iota
	OpRelu
	OpLRN
	OpMaxPool
	OpGemm
	OpSoftmax
)

var (
	convInfo    = ir.OpInfo{Opcode: OpConv, Mnemonic: "bm168x.Conv", MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1}
	reluInfo    = ir.Fixed(OpRelu, "bm168x.Relu", 1, 1)
	lrnInfo     = ir.Fixed(OpLRN, "bm168x.LRN", 1, 1)
	maxPoolInfo = ir.Fixed(OpMaxPool, "bm168x.MaxPool", 1, 1)
	gemmInfo    = ir.OpInfo{Opcode: OpGemm, Mnemonic: "bm168x.Gemm", MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1}
	softmaxInfo = ir.Fixed(OpSoftmax, "bm168x.Softmax", 1, 1)
)

// Rules returns the BM168x lowering rules, all at TargetNormal.
func Rules() []lower.Rule {
	return []lower.Rule{
		&lower.FuncRule{RuleName: "bm168x.Conv", OpType: "Conv", Tier: lower.TargetNormal, Fn: lowerConv},
		&lower.FuncRule{RuleName: "bm168x.Relu", OpType: "Relu", Tier: lower.TargetNormal, Fn: lowerRelu},
		&lower.FuncRule{RuleName: "bm168x.LRN", OpType: "LRN", Tier: lower.TargetNormal, Fn: lowerLRN},
		&lower.FuncRule{RuleName: "bm168x.MaxPool", OpType: "MaxPool", Tier: lower.TargetNormal, Fn: lowerMaxPool},
		&lower.FuncRule{RuleName: "bm168x.Gemm", OpType: "Gemm", Tier: lower.TargetNormal, Fn: lowerGemm},
		&lower.FuncRule{RuleName: "bm168x.Softmax", OpType: "Softmax", Tier: lower.TargetNormal, Fn: lowerSoftmax},
	}
}

func check(n *onnx.Node, info ir.OpInfo, attrs ...string) error {
	if err := lower.CheckInfo(n, info); err != nil {
		return err
	}
	if err := lower.CheckNames(n); err != nil {
		return err
	}
	return lower.RequireAttr(n, attrs...)
}

func lowerConv(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, convInfo); err != nil {
		return nil, err
	}
	in, err := lower.Dims(n.Input(0), 4)
	if err != nil {
		return nil, err
	}
	wt, err := lower.Dims(n.Input(1), 4)
	if err != nil {
		return nil, err
	}
	p := Conv{
		N: in[0], C: in[1], H: in[2], W: in[3],
		OutC:  wt[0],
		Group: n.AttrInt("group", 1),
		KH:    wt[2], KW: wt[3],
		DilationH: 1, DilationW: 1,
		StrideH: 1, StrideW: 1,
		HaveBias: len(n.Inputs) == 3,
	}
	if k := n.AttrInts("kernel_shape"); len(k) == 2 {
		p.KH, p.KW = k[0], k[1]
	}
	if d := n.AttrInts("dilations"); len(d) == 2 {
		p.DilationH, p.DilationW = d[0], d[1]
	}
	if pads := n.AttrInts("pads"); len(pads) == 4 {
		p.PadT, p.PadL, p.PadB, p.PadR = pads[0], pads[1], pads[2], pads[3]
	}
	if s := n.AttrInts("strides"); len(s) == 2 {
		p.StrideH, p.StrideW = s[0], s[1]
	}
	if p.Group < 1 || p.C%p.Group != 0 {
		return nil, lower.Refuse("Conv: group %d does not divide %d channels", p.Group, p.C)
	}
	return lower.Build(g, n, convInfo, p)
}

func lowerRelu(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, reluInfo); err != nil {
		return nil, err
	}
	in, err := lower.Dims(n.Input(0))
	if err != nil {
		return nil, err
	}
	nn, c, h, w := fold(in)
	return lower.Build(g, n, reluInfo, Relu{N: nn, C: c, H: h, W: w})
}

func lowerLRN(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, lrnInfo, "size"); err != nil {
		return nil, err
	}
	in, err := lower.Dims(n.Input(0), 4)
	if err != nil {
		return nil, err
	}
	return lower.Build(g, n, lrnInfo, LRN{
		N: in[0], C: in[1], H: in[2], W: in[3],
		Size:  n.AttrInt("size", 0),
		Alpha: n.AttrFloat("alpha", 1e-4),
		Beta:  n.AttrFloat("beta", 0.75),
		K:     n.AttrFloat("bias", 1),
	})
}

func lowerMaxPool(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, maxPoolInfo, "kernel_shape"); err != nil {
		return nil, err
	}
	in, err := lower.Dims(n.Input(0), 4)
	if err != nil {
		return nil, err
	}
	k := n.AttrInts("kernel_shape")
	if len(k) != 2 {
		return nil, lower.Refuse("MaxPool: kernel_shape %v is not 2-D", k)
	}
	p := Pool{N: in[0], C: in[1], H: in[2], W: in[3], KH: k[0], KW: k[1], StrideH: 1, StrideW: 1}
	if pads := n.AttrInts("pads"); len(pads) == 4 {
		p.PadT, p.PadL, p.PadB, p.PadR = pads[0], pads[1], pads[2], pads[3]
	}
	if s := n.AttrInts("strides"); len(s) == 2 {
		p.StrideH, p.StrideW = s[0], s[1]
	}
	return lower.Build(g, n, maxPoolInfo, p)
}

// lowerGemm maps Y = A*B + C onto the fully connected kernel. A 4-D A is
// flattened per row; scaling and a transposed A are not supported.
func lowerGemm(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, gemmInfo); err != nil {
		return nil, err
	}
	if n.AttrInt("transA", 0) != 0 || n.AttrFloat("alpha", 1) != 1 || n.AttrFloat("beta", 1) != 1 {
		return nil, lower.Refuse("Gemm: transA, alpha and beta are not supported")
	}
	a, err := lower.Dims(n.Input(0), 2, 4)
	if err != nil {
		return nil, err
	}
	wt, err := lower.Dims(n.Input(1), 2)
	if err != nil {
		return nil, err
	}
	p := Gemm{Rows: a[0], InCols: a[1], HaveBias: len(n.Inputs) == 3, TransB: n.AttrInt("transB", 0) != 0}
	if len(a) == 4 {
		p.InCols *= a[2] * a[3]
	}
	p.OutCols = wt[1]
	if p.TransB {
		p.OutCols = wt[0]
	}
	return lower.Build(g, n, gemmInfo, p)
}

func lowerSoftmax(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, softmaxInfo); err != nil {
		return nil, err
	}
	in, err := lower.Dims(n.Input(0), 4, 2)
	if err != nil {
		return nil, err
	}
	p := Softmax{N: in[0], C: in[1], H: 1, W: 1}
	if len(in) == 4 {
		p.W = in[2] * in[3]
	}
	return lower.Build(g, n, softmaxInfo, p)
}

// fold views any shape as N, C, H, W: 4-D as is, 2-D as N, C, 1, 1 and
// anything else as one row of elements.
func fold(dims []int64) (n, c, h, w int64) {
	switch len(dims) {
	case 4:
		return dims[0], dims[1], dims[2], dims[3]
	case 2:
		return dims[0], dims[1], 1, 1
	}
	total := int64(1)
	for _, d := range dims {
		total *= d
	}
	return 1, total, 1, 1
}
