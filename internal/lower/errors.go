package lower

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/onnx"
)

// Lowering errors.
var (
	// ErrUnsupportedOperator means no rule claims the node.
	ErrUnsupportedOperator = errors.New("unsupported operator")
	// ErrMalformedNode means the selected rule refused the node.
	ErrMalformedNode = errors.New("malformed node")
)

// Refuse returns the error a rule reports when a node does not meet its
// structural expectations. The pass treats it as a diagnostic, not a
// failure of the compiler.
func Refuse(format string, args ...any) error {
	return errors.Wrapf(ErrMalformedNode, format, args...)
}

// DiagKind classifies a diagnostic.
type DiagKind int

// Diagnostic kinds.
const (
	Unsupported DiagKind = iota
	Malformed
)

func (k DiagKind) String() string {
	if k == Malformed {
		return "malformed"
	}
	return "unsupported"
}

// Diagnostic reports a source node that was not lowered.
type Diagnostic struct {
	Index  int
	Name   string
	OpType string
	Kind   DiagKind
	Rule   string // rule that refused the node, empty when unsupported
	Err    error
}

func newDiagnostic(n *onnx.Node, kind DiagKind, rule string, err error) *Diagnostic {
	return &Diagnostic{
		Index:  n.Index,
		Name:   n.Name,
		OpType: n.OpType,
		Kind:   kind,
		Rule:   rule,
		Err:    err,
	}
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node #%d %s", d.Index, d.OpType)
	if d.Name != "" {
		fmt.Fprintf(&b, " %q", d.Name)
	}
	if d.Rule != "" {
		fmt.Fprintf(&b, " (rule %s)", d.Rule)
	}
	if d.Err != nil {
		fmt.Fprintf(&b, ": %v", d.Err)
	} else {
		fmt.Fprintf(&b, ": %s", d.Kind)
	}
	return b.String()
}

// Unwrap exposes the kind sentinel and the rule's own error.
func (d *Diagnostic) Unwrap() []error {
	sentinel := ErrUnsupportedOperator
	if d.Kind == Malformed {
		sentinel = ErrMalformedNode
	}
	if d.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, d.Err}
}

// NodeErrors aggregates the nodes that failed to lower. Unproduced lists
// the operands left without a producer when skipped nodes are read
// downstream.
type NodeErrors struct {
	Diagnostics []*Diagnostic
	Unproduced  []string
}

func (e *NodeErrors) Error() string {
	var msg string
	switch len(e.Diagnostics) {
	case 0:
	case 1:
		msg = e.Diagnostics[0].Error()
	default:
		parts := make([]string, len(e.Diagnostics))
		for i, d := range e.Diagnostics {
			parts[i] = d.Error()
		}
		msg = fmt.Sprintf("%d nodes failed to lower: %s", len(e.Diagnostics), strings.Join(parts, "; "))
	}
	if len(e.Unproduced) == 0 {
		return msg
	}
	starved := "nothing produces " + strings.Join(e.Unproduced, ", ")
	if msg == "" {
		return starved
	}
	return msg + "; " + starved
}

// Unwrap returns the individual diagnostics.
func (e *NodeErrors) Unwrap() []error {
	out := make([]error, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		out[i] = d
	}
	return out
}
