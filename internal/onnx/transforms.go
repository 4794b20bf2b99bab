package onnx

import (
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/ir"
)

// RemoveTrainingNodes drops Dropout nodes, which are the identity at
// inference time. Consumers and graph outputs of the dropout result read
// the dropout input instead. A Dropout whose mask output is consumed is
// kept. It returns the number of removed nodes.
func RemoveTrainingNodes(g *Graph) int {
	kept := g.Nodes[:0:0]
	removed := 0
	for _, n := range g.Nodes {
		if n.OpType != "Dropout" || !removableDropout(n) {
			kept = append(kept, n)
			continue
		}
		x, y := n.Inputs[0], n.Outputs[0]
		if y != nil {
			for _, c := range y.consumers {
				for i, in := range c.Inputs {
					if in == y {
						c.Inputs[i] = x
					}
				}
			}
			if y.output {
				g.replaceOutput(y, x)
			}
			y.producer = nil
			delete(g.values, y.Name)
		}
		if mask := n.Output(1); mask != nil {
			delete(g.values, mask.Name)
		}
		removed++
		klog.V(2).Infof("removed training node %s", n)
	}
	g.Nodes = kept
	g.relink()
	return removed
}

func removableDropout(n *Node) bool {
	if len(n.Inputs) == 0 || n.Inputs[0] == nil {
		return false
	}
	mask := n.Output(1)
	return mask == nil || (len(mask.consumers) == 0 && !mask.output)
}

func (g *Graph) replaceOutput(old, repl *Value) {
	outs := make([]*Value, 0, len(g.Outputs))
	for _, v := range g.Outputs {
		if v == old {
			v = repl
		}
		if !containsValue(outs, v) {
			outs = append(outs, v)
		}
	}
	old.output = false
	repl.output = true
	g.Outputs = outs
}

func containsValue(list []*Value, v *Value) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// InferShapes fills in the element type and shape of node outputs the
// model left unspecified. Resolved shapes are never overwritten. It
// returns the number of values it updated.
func InferShapes(g *Graph) int {
	updated := 0
	for _, n := range g.Nodes {
		out := n.Output(0)
		if out == nil || (out.Type != ir.Undefined && out.Shape.Resolved()) {
			continue
		}
		dtype, shape := inferOutput(n)
		changed := false
		if out.Type == ir.Undefined && dtype != ir.Undefined {
			out.Type = dtype
			changed = true
		}
		if !out.Shape.Resolved() && shape.Resolved() {
			out.Shape = shape
			changed = true
		}
		if changed {
			updated++
			klog.V(2).Infof("inferred %s %s%s from %s", out.Name, out.Type, out.Shape, n)
		}
	}
	return updated
}

var sameShapeOps = map[string]bool{
	"Relu": true, "LeakyRelu": true, "PRelu": true, "Sigmoid": true,
	"Tanh": true, "Elu": true, "Softmax": true, "LogSoftmax": true,
	"Identity": true, "Dropout": true, "LRN": true, "BatchNormalization": true,
}

var broadcastOps = map[string]bool{
	"Add": true, "Sub": true, "Mul": true, "Div": true,
	"Sum": true, "Mean": true, "Max": true, "Min": true,
}

//nolint:gocyclo,cyclop // one case per operator family
func inferOutput(n *Node) (ir.DataType, ir.Shape) {
	in := n.Input(0)
	if in == nil {
		return ir.Undefined, nil
	}
	dtype := in.Type
	switch {
	case sameShapeOps[n.OpType]:
		return dtype, in.Shape.Clone()
	case broadcastOps[n.OpType]:
		shape := in.Shape.Clone()
		for _, other := range n.Inputs[1:] {
			if other == nil {
				return dtype, nil
			}
			shape = broadcast(shape, other.Shape)
		}
		return dtype, shape
	}

	if !in.Shape.Resolved() {
		return dtype, nil
	}
	x := in.Shape.Dims()
	switch n.OpType {
	case "Conv":
		w := n.Input(1)
		if w == nil || !w.Shape.Resolved() || len(x) < 3 || w.Shape.Rank() != len(x) {
			return dtype, nil
		}
		kernel := w.Shape.Dims()[2:]
		return dtype, pooledShape(n, x, w.Shape.Dims()[0], kernel)
	case "MaxPool", "AveragePool", "LpPool":
		kernel := n.AttrInts("kernel_shape")
		if len(x) < 3 || len(kernel) != len(x)-2 {
			return dtype, nil
		}
		return dtype, pooledShape(n, x, x[1], kernel)
	case "GlobalAveragePool", "GlobalMaxPool":
		out := ir.ShapeOf(x...)
		for i := 2; i < len(out); i++ {
			out[i] = ir.Known(1)
		}
		return dtype, out
	case "Gemm":
		b := n.Input(1)
		if b == nil || !b.Shape.Resolved() || len(x) != 2 || b.Shape.Rank() != 2 {
			return dtype, nil
		}
		y := b.Shape.Dims()
		m := x[0]
		if n.AttrInt("transA", 0) != 0 {
			m = x[1]
		}
		cols := y[1]
		if n.AttrInt("transB", 0) != 0 {
			cols = y[0]
		}
		return dtype, ir.ShapeOf(m, cols)
	case "MatMul":
		b := n.Input(1)
		if b == nil || !b.Shape.Resolved() || len(x) != 2 || b.Shape.Rank() != 2 {
			return dtype, nil
		}
		return dtype, ir.ShapeOf(x[0], b.Shape.Dims()[1])
	case "Flatten":
		axis := normalizeAxis(n.AttrInt("axis", 1), len(x)+1)
		outer, inner := int64(1), int64(1)
		for i, d := range x {
			if i < axis {
				outer *= d
			} else {
				inner *= d
			}
		}
		return dtype, ir.ShapeOf(outer, inner)
	case "Concat":
		if len(x) == 0 {
			return dtype, nil
		}
		axis := normalizeAxis(n.AttrInt("axis", 0), len(x))
		out := ir.ShapeOf(x...)
		for _, other := range n.Inputs[1:] {
			if other == nil || !other.Shape.Resolved() || other.Shape.Rank() != len(x) {
				return dtype, nil
			}
			out[axis].Value += other.Shape[axis].Value
		}
		return dtype, out
	}
	return dtype, nil
}

// pooledShape computes [N, channels, spatial...] for a sliding window
// operator over x with the node's pads, strides and dilations.
func pooledShape(n *Node, x []int64, channels int64, kernel []int64) ir.Shape {
	rank := len(kernel)
	pads := n.AttrInts("pads")
	strides := n.AttrInts("strides")
	dilations := n.AttrInts("dilations")
	ceil := n.AttrInt("ceil_mode", 0) != 0

	out := ir.ShapeOf(x[0], channels)
	for i := 0; i < rank; i++ {
		padBegin, padEnd := int64(0), int64(0)
		if len(pads) == 2*rank {
			padBegin, padEnd = pads[i], pads[i+rank]
		}
		stride, dilation := int64(1), int64(1)
		if len(strides) == rank {
			stride = strides[i]
		}
		if len(dilations) == rank {
			dilation = dilations[i]
		}
		if stride <= 0 {
			return nil
		}
		span := x[i+2] + padBegin + padEnd - ((kernel[i]-1)*dilation + 1)
		if span < 0 {
			return nil
		}
		d := span/stride + 1
		if ceil && span%stride != 0 {
			d++
		}
		out = append(out, ir.Known(d))
	}
	return out
}

// broadcast applies numpy-style broadcasting to two resolved shapes.
func broadcast(a, b ir.Shape) ir.Shape {
	if !a.Resolved() || !b.Resolved() {
		return nil
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	out := a.Clone()
	off := len(a) - len(b)
	for i, d := range b {
		switch o := out[i+off].Value; {
		case o == d.Value || d.Value == 1:
		case o == 1:
			out[i+off] = d
		default:
			return nil
		}
	}
	return out
}

func normalizeAxis(axis int64, rank int) int {
	if axis < 0 {
		axis += int64(rank)
	}
	if axis < 0 {
		return 0
	}
	if int(axis) >= rank && rank > 0 {
		return rank - 1
	}
	return int(axis)
}
