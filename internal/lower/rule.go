package lower

import (
	"slices"
	"strconv"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/onnx"
)

// Rule lowers one kind of source node.
//
// IsMe must be a pure function of the node. Activate either returns a
// wired operator or an error; errors satisfying errors.Is(err,
// ErrMalformedNode) (see Refuse) are refusals and leave the node for the
// pass policy, any other error aborts lowering. A rule should finish its
// checks before it creates values so that a refusal leaves the graph
// untouched.
type Rule interface {
	Name() string
	IsMe(n *onnx.Node) Tier
	Activate(g *ir.Graph, n *onnx.Node) (*ir.Operator, error)
}

// ActivateFunc is the activate half of a rule.
type ActivateFunc func(g *ir.Graph, n *onnx.Node) (*ir.Operator, error)

// FuncRule is a Rule assembled from a node kind, a tier and an activate
// function. When, if set, narrows the match further and must be pure.
type FuncRule struct {
	RuleName string
	OpType   string
	Tier     Tier
	When     Pattern
	Fn       ActivateFunc
}

// Name implements Rule.
func (r *FuncRule) Name() string { return r.RuleName }

// IsMe implements Rule.
func (r *FuncRule) IsMe(n *onnx.Node) Tier {
	if n.OpType != r.OpType || (r.When != nil && !r.When(n)) {
		return NotMe
	}
	return r.Tier
}

// Activate implements Rule.
func (r *FuncRule) Activate(g *ir.Graph, n *onnx.Node) (*ir.Operator, error) {
	return r.Fn(g, n)
}

// SourceOf returns the provenance record of a node.
func SourceOf(n *onnx.Node) ir.Source {
	return ir.Source{Index: n.Index, Name: n.Name, OpType: n.OpType}
}

// CheckArity refuses a node whose input or output count is outside
// [min, max]. A max of -1 is unbounded.
func CheckArity(n *onnx.Node, minIn, maxIn, minOut, maxOut int) error {
	if in := len(n.Inputs); in < minIn || (maxIn >= 0 && in > maxIn) {
		return Refuse("%s: %d inputs, want %s", n.OpType, in, span(minIn, maxIn))
	}
	if out := len(n.Outputs); out < minOut || (maxOut >= 0 && out > maxOut) {
		return Refuse("%s: %d outputs, want %s", n.OpType, out, span(minOut, maxOut))
	}
	return nil
}

// CheckInfo refuses a node that does not fit an opcode's arity contract.
func CheckInfo(n *onnx.Node, info ir.OpInfo) error {
	return CheckArity(n, info.MinInputs, info.MaxInputs, info.MinOutputs, info.MaxOutputs)
}

// CheckNames refuses a node with an omitted or unnamed input or output.
func CheckNames(n *onnx.Node) error {
	for i, v := range n.Inputs {
		if !v.HasUniqueName() {
			return Refuse("%s: input %d has no name", n.OpType, i)
		}
	}
	for i, v := range n.Outputs {
		if !v.HasUniqueName() {
			return Refuse("%s: output %d has no name", n.OpType, i)
		}
	}
	return nil
}

// RequireAttr refuses a node missing any of the named attributes.
func RequireAttr(n *onnx.Node, names ...string) error {
	for _, name := range names {
		if !n.HasAttr(name) {
			return Refuse("%s: missing attribute %q", n.OpType, name)
		}
	}
	return nil
}

// Dims returns the concrete dimensions of a tensor, refusing when the
// shape is unresolved or its rank is not one of ranks. No ranks means any
// rank.
func Dims(v *onnx.Value, ranks ...int) ([]int64, error) {
	if v == nil {
		return nil, Refuse("omitted tensor")
	}
	if !v.Shape.Resolved() {
		return nil, Refuse("%q: unresolved shape %s", v.Name, v.Shape)
	}
	dims := v.Shape.Dims()
	if len(ranks) == 0 || slices.Contains(ranks, len(dims)) {
		return dims, nil
	}
	return nil, Refuse("%q: rank %d, want one of %v", v.Name, len(dims), ranks)
}

// Build materializes the node's operands and adds one operator that
// consumes its inputs and produces its outputs, in order.
func Build(g *ir.Graph, n *onnx.Node, info ir.OpInfo, params ir.Params) (*ir.Operator, error) {
	return BuildWith(g, n, info, params, n.Inputs, n.Outputs)
}

// BuildWith is Build with explicit operand lists, for rules that reorder,
// drop or borrow operands from neighbouring nodes.
func BuildWith(g *ir.Graph, n *onnx.Node, info ir.OpInfo, params ir.Params, inputs, outputs []*onnx.Value) (*ir.Operator, error) {
	if !info.AcceptsInputs(len(inputs)) || !info.AcceptsOutputs(len(outputs)) {
		return nil, Refuse("%s: %d inputs and %d outputs do not fit %s", n.OpType, len(inputs), len(outputs), info.Mnemonic)
	}
	if err := checkOperands(g, n, inputs, outputs); err != nil {
		return nil, err
	}
	ins, err := materializeAll(g, inputs)
	if err != nil {
		return nil, err
	}
	outs, err := materializeAll(g, outputs)
	if err != nil {
		return nil, err
	}
	op, err := g.AddOperator(nodeName(n), info, params, ins, outs, SourceOf(n))
	if err != nil {
		return nil, Refuse("%s: %v", n.OpType, err)
	}
	return op, nil
}

// checkOperands runs the checks AddOperator would run on the
// materialized operands, before any value is created.
func checkOperands(g *ir.Graph, n *onnx.Node, inputs, outputs []*onnx.Value) error {
	in := make(map[string]bool, len(inputs))
	for i, v := range inputs {
		if !v.HasUniqueName() {
			return Refuse("%s: input %d has no name", n.OpType, i)
		}
		in[v.Name] = true
	}
	out := make(map[string]bool, len(outputs))
	for i, v := range outputs {
		if !v.HasUniqueName() {
			return Refuse("%s: output %d has no name", n.OpType, i)
		}
		if in[v.Name] || out[v.Name] {
			return Refuse("%s: %q is produced twice or read and written", n.OpType, v.Name)
		}
		out[v.Name] = true
		if id, ok := g.Lookup(v.Name); ok {
			if err := g.CheckProducible(id); err != nil {
				return Refuse("%s: %v", n.OpType, err)
			}
		}
	}
	if g.Sealed() {
		return errors.WithMessagef(ir.ErrSealed, "lower %s", n)
	}
	return nil
}

func materializeAll(g *ir.Graph, vs []*onnx.Value) ([]ir.ValueID, error) {
	ids := make([]ir.ValueID, len(vs))
	for i, v := range vs {
		id, err := Materialize(g, v)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func nodeName(n *onnx.Node) string {
	if n.Name != "" {
		return n.Name
	}
	if out := n.Output(0); out != nil {
		return out.Name
	}
	return n.OpType
}

func span(lo, hi int) string {
	switch {
	case hi < 0:
		return strconv.Itoa(lo) + "+"
	case lo == hi:
		return strconv.Itoa(lo)
	default:
		return strconv.Itoa(lo) + ".." + strconv.Itoa(hi)
	}
}
