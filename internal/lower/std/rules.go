// Package std holds the target-independent lowering rules. Every rule
// claims its node kind at lower.StdLower, so any target rule for the same
// kind takes precedence.
package std

import (
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
	"github.com/born-ml/npuc/internal/onnx"
)

// Standard opcodes. Targets that accept standard operators use these
// values in their capability tables.
const (
	OpAdd ir.Opcode = iota + 1
	OpSub
	OpMul
	OpDiv
	OpSum
	OpMean
	OpMax
	OpMin
	OpGreater
	OpMatMul
	OpGemm
	OpRelu
	OpLeakyRelu
	OpPRelu
	OpSigmoid
	OpTanh
	OpSoftmax
	OpLogSoftmax
	OpElu
	OpAffine
	OpScaledTanh
	OpConv
	OpMaxPool
	OpAveragePool
	OpGlobalAveragePool
	OpGlobalMaxPool
	OpLpPool
	OpLRN
	OpBatchNormalization
	OpReshape
	OpFlatten
	OpTranspose
	OpConcat
	OpSplit
	OpSqueeze
	OpUnsqueeze
	OpGather
	OpPad
	OpCrop
	OpReduceSum
	OpReduceMean
	OpReduceProd
	OpGRU
	OpGRUUnit
	OpIdentity
	OpGivenTensorFill
	OpRandomUniform
)

// Desc describes one standard rule: the node kind it lowers, the arity
// contract of the resulting operator, the attributes that must be
// present, and how to build the operator payload.
type Desc struct {
	OpType   string
	Info     ir.OpInfo
	Required []string
	Params   func(n *onnx.Node) ir.Params
}

func op(opType string, code ir.Opcode, minIn, maxIn, minOut, maxOut int) ir.OpInfo {
	return ir.OpInfo{
		Opcode:     code,
		Mnemonic:   opType,
		MinInputs:  minIn,
		MaxInputs:  maxIn,
		MinOutputs: minOut,
		MaxOutputs: maxOut,
	}
}

// Table is the list of standard rules, in registration order.
var Table = []Desc{
	{OpType: "Add", Info: op("Add", OpAdd, 2, 2, 1, 1)},
	{OpType: "Sub", Info: op("Sub", OpSub, 2, 2, 1, 1)},
	{OpType: "Mul", Info: op("Mul", OpMul, 2, 2, 1, 1)},
	{OpType: "Div", Info: op("Div", OpDiv, 2, 2, 1, 1)},
	{OpType: "Sum", Info: op("Sum", OpSum, 1, -1, 1, 1)},
	{OpType: "Mean", Info: op("Mean", OpMean, 1, -1, 1, 1)},
	{OpType: "Max", Info: op("Max", OpMax, 1, -1, 1, 1)},
	{OpType: "Min", Info: op("Min", OpMin, 1, -1, 1, 1)},
	{OpType: "Greater", Info: op("Greater", OpGreater, 2, 2, 1, 1)},
	{OpType: "MatMul", Info: op("MatMul", OpMatMul, 2, 2, 1, 1)},
	{OpType: "Gemm", Info: op("Gemm", OpGemm, 2, 3, 1, 1), Params: gemmParams},
	{OpType: "Relu", Info: op("Relu", OpRelu, 1, 1, 1, 1)},
	{OpType: "LeakyRelu", Info: op("LeakyRelu", OpLeakyRelu, 1, 1, 1, 1), Params: alpha(0.01)},
	{OpType: "PRelu", Info: op("PRelu", OpPRelu, 2, 2, 1, 1)},
	{OpType: "Sigmoid", Info: op("Sigmoid", OpSigmoid, 1, 1, 1, 1)},
	{OpType: "Tanh", Info: op("Tanh", OpTanh, 1, 1, 1, 1)},
	{OpType: "Softmax", Info: op("Softmax", OpSoftmax, 1, 1, 1, 1), Params: axis(1)},
	{OpType: "LogSoftmax", Info: op("LogSoftmax", OpLogSoftmax, 1, 1, 1, 1), Params: axis(1)},
	{OpType: "Elu", Info: op("Elu", OpElu, 1, 1, 1, 1), Params: alpha(1)},
	{OpType: "Affine", Info: op("Affine", OpAffine, 1, 1, 1, 1), Params: scale(1, 0)},
	{OpType: "ScaledTanh", Info: op("ScaledTanh", OpScaledTanh, 1, 1, 1, 1), Params: scale(1, 1)},
	{OpType: "Conv", Info: op("Conv", OpConv, 2, 3, 1, 1), Params: windowParams},
	{OpType: "MaxPool", Info: op("MaxPool", OpMaxPool, 1, 1, 1, 2), Required: []string{"kernel_shape"}, Params: windowParams},
	{OpType: "AveragePool", Info: op("AveragePool", OpAveragePool, 1, 1, 1, 1), Required: []string{"kernel_shape"}, Params: windowParams},
	{OpType: "GlobalAveragePool", Info: op("GlobalAveragePool", OpGlobalAveragePool, 1, 1, 1, 1)},
	{OpType: "GlobalMaxPool", Info: op("GlobalMaxPool", OpGlobalMaxPool, 1, 1, 1, 1)},
	{OpType: "LpPool", Info: op("LpPool", OpLpPool, 1, 1, 1, 1), Required: []string{"kernel_shape"}, Params: lpPoolParams},
	{OpType: "LRN", Info: op("LRN", OpLRN, 1, 1, 1, 1), Required: []string{"size"}, Params: lrnParams},
	{OpType: "BatchNormalization", Info: op("BatchNormalization", OpBatchNormalization, 5, 5, 1, 5), Params: batchNormParams},
	{OpType: "Reshape", Info: op("Reshape", OpReshape, 1, 2, 1, 1), Params: axes("shape")},
	{OpType: "Flatten", Info: op("Flatten", OpFlatten, 1, 1, 1, 1), Params: axis(1)},
	{OpType: "Transpose", Info: op("Transpose", OpTranspose, 1, 1, 1, 1), Params: axes("perm")},
	{OpType: "Concat", Info: op("Concat", OpConcat, 1, -1, 1, 1), Required: []string{"axis"}, Params: axis(0)},
	{OpType: "Split", Info: op("Split", OpSplit, 1, 2, 1, -1), Params: splitParams},
	{OpType: "Squeeze", Info: op("Squeeze", OpSqueeze, 1, 2, 1, 1), Params: axes("axes")},
	{OpType: "Unsqueeze", Info: op("Unsqueeze", OpUnsqueeze, 1, 2, 1, 1), Params: axes("axes")},
	{OpType: "Gather", Info: op("Gather", OpGather, 2, 2, 1, 1), Params: axis(0)},
	{OpType: "Pad", Info: op("Pad", OpPad, 1, 3, 1, 1), Params: padParams},
	{OpType: "Crop", Info: op("Crop", OpCrop, 1, 2, 1, 1), Params: cropParams},
	{OpType: "ReduceSum", Info: op("ReduceSum", OpReduceSum, 1, 2, 1, 1), Params: reduceParams},
	{OpType: "ReduceMean", Info: op("ReduceMean", OpReduceMean, 1, 2, 1, 1), Params: reduceParams},
	{OpType: "ReduceProd", Info: op("ReduceProd", OpReduceProd, 1, 2, 1, 1), Params: reduceParams},
	{OpType: "GRU", Info: op("GRU", OpGRU, 3, 6, 0, 2), Params: gruParams},
	{OpType: "GRUUnit", Info: op("GRUUnit", OpGRUUnit, 4, 4, 1, 1), Params: flagParams("drop_states")},
	{OpType: "Identity", Info: op("Identity", OpIdentity, 1, 1, 1, 1)},
	{OpType: "GivenTensorFill", Info: op("GivenTensorFill", OpGivenTensorFill, 0, 1, 1, 1), Params: fillParams},
	{OpType: "RandomUniform", Info: op("RandomUniform", OpRandomUniform, 0, 0, 1, 1), Required: []string{"shape"}, Params: fillParams},
}

// Rule is a table-driven standard lowering rule.
type Rule struct {
	Desc
}

// Name implements lower.Rule.
func (r *Rule) Name() string { return "std." + r.OpType }

// IsMe implements lower.Rule.
func (r *Rule) IsMe(n *onnx.Node) lower.Tier {
	if n.OpType == r.OpType {
		return lower.StdLower
	}
	return lower.NotMe
}

// Activate checks arity, operand names and required attributes, then
// builds the operator.
func (r *Rule) Activate(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	if err := lower.CheckInfo(n, r.Info); err != nil {
		return nil, err
	}
	if err := lower.CheckNames(n); err != nil {
		return nil, err
	}
	if err := lower.RequireAttr(n, r.Required...); err != nil {
		return nil, err
	}
	var params ir.Params
	if r.Params != nil {
		params = r.Params(n)
	}
	return lower.Build(g, n, r.Info, params)
}

// Rules returns a fresh rule for every Table entry.
func Rules() []lower.Rule {
	rules := make([]lower.Rule, len(Table))
	for i := range Table {
		rules[i] = &Rule{Desc: Table[i]}
	}
	return rules
}

// Infos returns the arity contract of every standard opcode.
func Infos() []ir.OpInfo {
	infos := make([]ir.OpInfo, len(Table))
	for i := range Table {
		infos[i] = Table[i].Info
	}
	return infos
}

func axis(def int64) func(*onnx.Node) ir.Params {
	return func(n *onnx.Node) ir.Params { return Axis{Axis: n.AttrInt("axis", def)} }
}

func alpha(def float32) func(*onnx.Node) ir.Params {
	return func(n *onnx.Node) ir.Params { return Alpha{Alpha: n.AttrFloat("alpha", def)} }
}

func scale(defAlpha, defBeta float32) func(*onnx.Node) ir.Params {
	return func(n *onnx.Node) ir.Params {
		return Scale{Alpha: n.AttrFloat("alpha", defAlpha), Beta: n.AttrFloat("beta", defBeta)}
	}
}

func axes(attr string) func(*onnx.Node) ir.Params {
	return func(n *onnx.Node) ir.Params { return Axes{Axes: n.AttrInts(attr)} }
}

func flagParams(attr string) func(*onnx.Node) ir.Params {
	return func(n *onnx.Node) ir.Params { return Flag{Name: attr, Set: n.AttrInt(attr, 0) != 0} }
}

func gemmParams(n *onnx.Node) ir.Params {
	return Gemm{
		Alpha:  n.AttrFloat("alpha", 1),
		Beta:   n.AttrFloat("beta", 1),
		TransA: n.AttrInt("transA", 0) != 0,
		TransB: n.AttrInt("transB", 0) != 0,
	}
}

func windowParams(n *onnx.Node) ir.Params {
	return Window{
		Kernel:          n.AttrInts("kernel_shape"),
		Pads:            n.AttrInts("pads"),
		Strides:         n.AttrInts("strides"),
		Dilations:       n.AttrInts("dilations"),
		Group:           n.AttrInt("group", 1),
		AutoPad:         n.AttrString("auto_pad", "NOTSET"),
		CeilMode:        n.AttrInt("ceil_mode", 0) != 0,
		CountIncludePad: n.AttrInt("count_include_pad", 0) != 0,
	}
}

func lpPoolParams(n *onnx.Node) ir.Params {
	w := windowParams(n).(Window)
	w.P = n.AttrInt("p", 2)
	return w
}

func lrnParams(n *onnx.Node) ir.Params {
	return LRN{
		Size:  n.AttrInt("size", 0),
		Alpha: n.AttrFloat("alpha", 1e-4),
		Beta:  n.AttrFloat("beta", 0.75),
		Bias:  n.AttrFloat("bias", 1),
	}
}

func batchNormParams(n *onnx.Node) ir.Params {
	return BatchNorm{Epsilon: n.AttrFloat("epsilon", 1e-5), Momentum: n.AttrFloat("momentum", 0.9)}
}

func splitParams(n *onnx.Node) ir.Params {
	return Split{Axis: n.AttrInt("axis", 0), Sizes: n.AttrInts("split")}
}

func padParams(n *onnx.Node) ir.Params {
	return Pad{Mode: n.AttrString("mode", "constant"), Pads: n.AttrInts("pads"), Value: n.AttrFloat("value", 0)}
}

func cropParams(n *onnx.Node) ir.Params {
	return Crop{Border: n.AttrInts("border"), Scale: n.AttrInts("scale")}
}

func reduceParams(n *onnx.Node) ir.Params {
	return Axes{Axes: n.AttrInts("axes"), KeepDims: n.AttrInt("keepdims", 1) != 0}
}

func gruParams(n *onnx.Node) ir.Params {
	return GRU{
		HiddenSize:        n.AttrInt("hidden_size", 0),
		Direction:         n.AttrString("direction", "forward"),
		LinearBeforeReset: n.AttrInt("linear_before_reset", 0) != 0,
		Clip:              n.AttrFloat("clip", 0),
		Activations:       n.AttrStrings("activations"),
		ActivationAlpha:   n.AttrFloats("activation_alpha"),
		ActivationBeta:    n.AttrFloats("activation_beta"),
	}
}

func fillParams(n *onnx.Node) ir.Params {
	return Fill{
		Shape:        n.AttrInts("shape"),
		Values:       n.AttrFloats("values"),
		Low:          n.AttrFloat("low", 0),
		High:         n.AttrFloat("high", 1),
		Seed:         n.AttrFloat("seed", 0),
		InputAsShape: n.AttrInt("input_as_shape", 0) != 0,
	}
}
