package bm188x

import (
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/onnx"
)

// BM188x opcodes.
const (
	OpConv ir.Opcode = 0x1880 + iota
	OpMaxPool
	OpAveragePool
	OpPRelu
	OpSum
	OpRelu
)

var (
	convInfo    = ir.OpInfo{Opcode: OpConv, Mnemonic: "bm188x.Conv", MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1}
	maxPoolInfo = ir.Fixed(OpMaxPool, "bm188x.MaxPool", 1, 1)
	avgPoolInfo = ir.Fixed(OpAveragePool, "bm188x.AveragePool", 1, 1)
	preluInfo   = ir.Fixed(OpPRelu, "bm188x.PRelu", 2, 1)
	sumInfo     = ir.OpInfo{Opcode: OpSum, Mnemonic: "bm188x.Sum", MinInputs: 1, MaxInputs: -1, MinOutputs: 1, MaxOutputs: 1}
	reluInfo    = ir.Fixed(OpRelu, "bm188x.Relu", 1, 1)
)

// lowering holds the knobs the rules close over.
type lowering struct {
	localMemory int64
}

// rules returns the chip rules. The fused Conv+Relu rule is tiered above
// the plain Conv rule so it wins whenever its pattern holds.
func (l lowering) rules() []lower.Rule {
	return []lower.Rule{
		&lower.FuncRule{RuleName: "bm188x.ConvRelu", OpType: "Conv", Tier: lower.TargetHigh, When: reluFollows, Fn: l.lowerConvRelu},
		&lower.FuncRule{RuleName: "bm188x.SlicedConv", OpType: "Conv", Tier: lower.TargetNormal, Fn: l.lowerConv},
		&lower.FuncRule{RuleName: "bm188x.MaxPool", OpType: "MaxPool", Tier: lower.TargetNormal, Fn: lowerMaxPool},
		&lower.FuncRule{RuleName: "bm188x.AveragePool", OpType: "AveragePool", Tier: lower.TargetNormal, Fn: lowerAvgPool},
		&lower.FuncRule{RuleName: "bm188x.PRelu", OpType: "PRelu", Tier: lower.TargetNormal, Fn: lowerPRelu},
		&lower.FuncRule{RuleName: "bm188x.Sum", OpType: "Sum", Tier: lower.TargetNormal, Fn: lowerSum},
		&lower.FuncRule{RuleName: "bm188x.Relu", OpType: "Relu", Tier: lower.TargetNormal, Fn: lowerRelu},
	}
}

// Rules returns the chip rules with the default local memory budget.
func Rules() []lower.Rule {
	return lowering{localMemory: DefaultLocalMemory}.rules()
}

func reluFollows(n *onnx.Node) bool {
	next := lower.Next(n)
	return next != nil && next.OpType == "Relu"
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

// convParams builds and slices the payload of a convolution producing
// out.
func (l lowering) convParams(n *onnx.Node, out *onnx.Value) (*Conv, error) {
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
	od, err := lower.Dims(out, 4)
	if err != nil {
		return nil, err
	}
	p := &Conv{
		N: in[0], C: in[1], H: in[2], W: in[3],
		OutC: od[1], OutH: od[2], OutW: od[3],
		Group: n.AttrInt("group", 1),
		KH:    wt[2], KW: wt[3],
		DilationH: 1, DilationW: 1,
		StrideH: 1, StrideW: 1,
		HaveBias: len(n.Inputs) == 3,
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
	p.Slices, err = sliceConv(p, l.localMemory)
	if err != nil {
		return nil, lower.Refuse("Conv: %v", err)
	}
	return p, nil
}

func (l lowering) lowerConv(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	p, err := l.convParams(n, n.Output(0))
	if err != nil {
		return nil, err
	}
	return lower.Build(g, n, convInfo, p)
}

// lowerConvRelu lowers a Conv and the Relu consuming it into one
// convolution with relu enabled. The Relu node is recorded as a second
// source so the pass does not lower it again.
func (l lowering) lowerConvRelu(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	relu := lower.Next(n)
	if relu == nil {
		return nil, lower.Refuse("Conv: no relu to fuse")
	}
	if err := lower.CheckNames(relu); err != nil {
		return nil, err
	}
	p, err := l.convParams(n, relu.Output(0))
	if err != nil {
		return nil, err
	}
	p.DoRelu = true
	op, err := lower.BuildWith(g, n, convInfo, p, n.Inputs, relu.Outputs)
	if err != nil {
		return nil, err
	}
	g.Connect(op, lower.SourceOf(relu))
	return op, nil
}

func poolParams(n *onnx.Node, info ir.OpInfo) (*Pool, error) {
	if err := check(n, info, "kernel_shape"); err != nil {
		return nil, err
	}
	in, err := lower.Dims(n.Input(0), 4)
	if err != nil {
		return nil, err
	}
	k := n.AttrInts("kernel_shape")
	if len(k) != 2 {
		return nil, lower.Refuse("%s: kernel_shape %v is not 2-D", n.OpType, k)
	}
	p := &Pool{N: in[0], C: in[1], H: in[2], W: in[3], KH: k[0], KW: k[1], StrideH: 1, StrideW: 1}
	if pads := n.AttrInts("pads"); len(pads) == 4 {
		p.PadT, p.PadL, p.PadB, p.PadR = pads[0], pads[1], pads[2], pads[3]
	}
	if s := n.AttrInts("strides"); len(s) == 2 {
		p.StrideH, p.StrideW = s[0], s[1]
	}
	p.DoRelu = n.AttrInt("enable_relu", 0) != 0
	return p, nil
}

func lowerMaxPool(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	p, err := poolParams(n, maxPoolInfo)
	if err != nil {
		return nil, err
	}
	return lower.Build(g, n, maxPoolInfo, p)
}

func lowerAvgPool(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	p, err := poolParams(n, avgPoolInfo)
	if err != nil {
		return nil, err
	}
	p.Average = true
	return lower.Build(g, n, avgPoolInfo, p)
}

func lowerPRelu(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, preluInfo); err != nil {
		return nil, err
	}
	in, err := lower.Dims(n.Input(0), 4, 2)
	if err != nil {
		return nil, err
	}
	nn, c, h, w := fold(in)
	return lower.Build(g, n, preluInfo, &PRelu{N: nn, C: c, H: h, W: w})
}

func lowerSum(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := check(n, sumInfo); err != nil {
		return nil, err
	}
	dims, err := lower.Dims(n.Input(0))
	if err != nil {
		return nil, err
	}
	for _, v := range n.Inputs[1:] {
		if !v.Shape.Equal(n.Inputs[0].Shape) {
			return nil, lower.Refuse("Sum: %q is %s, want %s", v.Name, v.Shape, n.Inputs[0].Shape)
		}
	}
	nn, c, h, w := fold(dims)
	return lower.Build(g, n, sumInfo, &Sum{N: nn, C: c, H: h, W: w, Inputs: len(n.Inputs)})
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
	return lower.Build(g, n, reluInfo, &Relu{N: nn, C: c, H: h, W: w})
}

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
