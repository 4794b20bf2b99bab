package lower

import (
	"slices"

	"github.com/born-ml/npuc/internal/onnx"
)

// Pattern is a predicate over a source node, used by fusion rules.
type Pattern func(n *onnx.Node) bool

// Match reports whether n is non-nil and satisfies every pattern.
func Match(n *onnx.Node, ps ...Pattern) bool {
	if n == nil {
		return false
	}
	for _, p := range ps {
		if !p(n) {
			return false
		}
	}
	return true
}

// OpType matches the node kind.
func OpType(opType string) Pattern {
	return func(n *onnx.Node) bool { return n.OpType == opType }
}

// HasAttr matches nodes carrying the attribute.
func HasAttr(name string) Pattern {
	return func(n *onnx.Node) bool { return n.HasAttr(name) }
}

// NoAttr matches nodes without the attribute.
func NoAttr(name string) Pattern {
	return func(n *onnx.Node) bool { return !n.HasAttr(name) }
}

// AttrInt matches an integer attribute with value v.
func AttrInt(name string, v int64) Pattern {
	return func(n *onnx.Node) bool {
		a, ok := n.Attr(name)
		return ok && a.I == v
	}
}

// AttrInts matches an integer list attribute equal to v.
func AttrInts(name string, v ...int64) Pattern {
	return func(n *onnx.Node) bool {
		a, ok := n.Attr(name)
		return ok && slices.Equal(a.Ints, v)
	}
}

// AttrFloat matches a float attribute with value v.
func AttrFloat(name string, v float32) Pattern {
	return func(n *onnx.Node) bool {
		a, ok := n.Attr(name)
		return ok && a.F == v
	}
}

// AttrString matches a string attribute with value v.
func AttrString(name, v string) Pattern {
	return func(n *onnx.Node) bool {
		a, ok := n.Attr(name)
		return ok && string(a.S) == v
	}
}

// FalseAttr matches a flag that is absent or 0.
func FalseAttr(name string) Pattern {
	return Or(NoAttr(name), AttrInt(name, 0))
}

// TrueAttr matches a flag set to 1.
func TrueAttr(name string) Pattern {
	return AttrInt(name, 1)
}

// And matches when every pattern matches.
func And(ps ...Pattern) Pattern {
	return func(n *onnx.Node) bool { return Match(n, ps...) }
}

// Or matches when any pattern matches.
func Or(ps ...Pattern) Pattern {
	return func(n *onnx.Node) bool {
		for _, p := range ps {
			if p(n) {
				return true
			}
		}
		return false
	}
}

// Next returns the only consumer of a single-output node, or nil when the
// output fans out, is a graph output, or is unused.
func Next(n *onnx.Node) *onnx.Node {
	if n == nil || len(n.Outputs) != 1 || n.Outputs[0] == nil {
		return nil
	}
	out := n.Outputs[0]
	if out.IsGraphOutput() {
		return nil
	}
	consumers := out.Consumers()
	if len(consumers) != 1 {
		return nil
	}
	return consumers[0]
}
