package lower

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/onnx"
)

// Policy decides what happens to nodes that no rule lowers.
type Policy int

// Policies.
const (
	// IgnoreUnsupported skips the node with a warning.
	IgnoreUnsupported Policy = iota
	// FailOnUnsupported fails the pass, reporting every such node.
	FailOnUnsupported
)

func (p Policy) String() string {
	if p == FailOnUnsupported {
		return "fail"
	}
	return "ignore"
}

// DefaultPassThrough lists node kinds that are dropped without a rule or
// a diagnostic. Their first output is bound to their first input, so
// consumers read the input directly.
var DefaultPassThrough = []string{"Dropout", "Undefined"}

// Pass is the target lowering pass.
type Pass struct {
	Registry    *Registry
	Policy      Policy
	PassThrough []string
}

// NewPass creates a pass with the default pass-through kinds.
func NewPass(r *Registry, policy Policy) *Pass {
	return &Pass{Registry: r, Policy: policy, PassThrough: DefaultPassThrough}
}

// Report summarizes one run of the pass.
type Report struct {
	Lowered     int            // operators created
	Reused      int            // nodes already lowered by an earlier rule or run
	Ignored     int            // pass-through nodes
	Skipped     []*Diagnostic  // nodes left unlowered
	RuleCounts  map[string]int // activations per rule name
	Elapsed     time.Duration
	SourceNodes int
}

// Run lowers src into g. Initializers then graph inputs are materialized
// first, in declaration order, then nodes are visited in topological
// order. Nodes already lowered into g are skipped, so running the pass
// again adds nothing. The graph is sealed on success.
//
// Under FailOnUnsupported the returned error is a *NodeErrors listing
// every node that failed. Under IgnoreUnsupported a skipped node is only a
// warning until something reads its outputs: then the error is a
// *NodeErrors naming the skipped producers and the values they left
// unproduced. The report is returned in every case.
func (p *Pass) Run(src *onnx.Graph, g *ir.Graph) (*Report, error) {
	start := time.Now()
	report := &Report{RuleCounts: make(map[string]int), SourceNodes: len(src.Nodes)}
	defer func() { report.Elapsed = time.Since(start) }()

	for _, v := range src.Initializers {
		if _, err := Materialize(g, v); err != nil {
			return report, errors.WithMessage(err, "seed initializers")
		}
	}
	for _, v := range src.Inputs {
		if _, err := Materialize(g, v); err != nil {
			return report, errors.WithMessage(err, "seed inputs")
		}
	}

	passThrough := make(map[string]bool, len(p.PassThrough))
	for _, k := range p.PassThrough {
		passThrough[k] = true
	}

	// skippedBy maps the outputs of skipped nodes to their diagnostic.
	skippedBy := make(map[string]*Diagnostic)
	for _, n := range src.Nodes {
		s := SourceOf(n)
		if _, done := g.LoweredFrom(s); done {
			report.Reused++
			continue
		}
		var (
			diag *Diagnostic
			err  error
		)
		if passThrough[n.OpType] {
			diag, err = forward(g, n)
			if err == nil && diag == nil {
				report.Ignored++
				klog.V(2).Infof("lower: pass through %s", n)
				continue
			}
		} else {
			diag, err = p.lowerNode(g, n, report)
		}
		if err != nil {
			return report, err
		}
		if diag != nil {
			for _, out := range n.Outputs {
				if out.HasUniqueName() {
					skippedBy[out.Name] = diag
				}
			}
			report.Skipped = append(report.Skipped, diag)
			if p.Policy == IgnoreUnsupported {
				klog.Warningf("lower: skipping %v", diag)
			}
		}
	}

	if p.Policy == FailOnUnsupported && len(report.Skipped) > 0 {
		return report, &NodeErrors{Diagnostics: report.Skipped}
	}

	for _, v := range src.Outputs {
		id, err := Materialize(g, v)
		if err != nil {
			return report, errors.WithMessage(err, "graph outputs")
		}
		if err := g.MarkOutput(id); err != nil {
			return report, err
		}
	}
	if err := unproduced(g, report.Skipped, skippedBy); err != nil {
		return report, err
	}
	g.Seal()
	klog.V(1).Infof("lower: %d nodes -> %d operators (%d reused, %d ignored, %d skipped) in %s",
		len(src.Nodes), report.Lowered, report.Reused, report.Ignored, len(report.Skipped), time.Since(start))
	return report, nil
}

func (p *Pass) lowerNode(g *ir.Graph, n *onnx.Node, report *Report) (*Diagnostic, error) {
	rule, tier := p.Registry.Select(n)
	if rule == nil {
		return newDiagnostic(n, Unsupported, "", nil), nil
	}
	op, err := rule.Activate(g, n)
	switch {
	case errors.Is(err, ErrMalformedNode):
		return newDiagnostic(n, Malformed, rule.Name(), err), nil
	case err != nil:
		return nil, errors.WithMessagef(err, "rule %s on %s", rule.Name(), n)
	case op == nil:
		return newDiagnostic(n, Malformed, rule.Name(), nil), nil
	}
	if _, ok := g.LoweredFrom(SourceOf(n)); !ok {
		g.Connect(op, SourceOf(n))
	}
	report.Lowered++
	report.RuleCounts[rule.Name()]++
	if klog.V(2).Enabled() {
		klog.Infof("lower: %s -> %s [%s, %s]", n, g.FormatOperator(op), rule.Name(), tier)
	}
	return nil, nil
}

// forward binds the first output of a pass-through node to its first
// input. A node with nothing to forward, or whose other outputs are read,
// is reported as malformed.
func forward(g *ir.Graph, n *onnx.Node) (*Diagnostic, error) {
	in, out := n.Input(0), n.Output(0)
	if !in.HasUniqueName() {
		return newDiagnostic(n, Malformed, "", Refuse("%s: no input to pass through", n.OpType)), nil
	}
	for i := 1; i < len(n.Outputs); i++ {
		if extra := n.Outputs[i]; extra != nil && (len(extra.Consumers()) > 0 || extra.IsGraphOutput()) {
			return newDiagnostic(n, Malformed, "", Refuse("%s: output %q is read", n.OpType, extra.Name)), nil
		}
	}
	if !out.HasUniqueName() {
		return nil, nil
	}
	id, err := Materialize(g, in)
	if err != nil {
		return nil, errors.WithMessagef(err, "pass through %s", n)
	}
	if err := g.Alias(out.Name, id); err != nil {
		return nil, errors.WithMessagef(err, "pass through %s", n)
	}
	return nil, nil
}

// unproduced fails when an operator input or a graph output is an
// activation nothing produces. Such values only arise from skipped nodes,
// whose diagnostics are returned with the starved operands.
func unproduced(g *ir.Graph, skipped []*Diagnostic, skippedBy map[string]*Diagnostic) error {
	var starved []string
	culprits := make(map[*Diagnostic]bool)
	check := func(id ir.ValueID, where string) {
		v := g.Value(id)
		if v == nil || v.Kind() != ir.Activation || v.Producer() != ir.NoOperator {
			return
		}
		starved = append(starved, fmt.Sprintf("%q (%s)", v.Name(), where))
		if d, ok := skippedBy[v.Name()]; ok {
			culprits[d] = true
		}
	}
	for _, op := range g.Operators() {
		for slot, id := range op.Inputs() {
			check(id, fmt.Sprintf("input %d of %s %q", slot, op.Mnemonic(), op.Name()))
		}
	}
	for _, id := range g.Outputs() {
		check(id, "graph output")
	}
	if len(starved) == 0 {
		return nil
	}
	e := &NodeErrors{Unproduced: starved}
	for _, d := range skipped {
		if culprits[d] || len(culprits) == 0 {
			e.Diagnostics = append(e.Diagnostics, d)
		}
	}
	return e
}
