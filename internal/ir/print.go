package ir

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Print writes a human-readable listing of the graph: its inputs,
// initializers and outputs, then one line per operator with opcode,
// operand names, shapes, addresses and parameters.
func (g *Graph) Print(w io.Writer) error {
	pw := &printer{w: w}
	pw.printf("graph %q {\n", g.name)
	pw.printf("  inputs: %s\n", g.valueList(g.inputs))
	pw.printf("  initializers: %s\n", g.valueList(g.initializers))
	for _, op := range g.operators {
		pw.printf("  %s\n", g.FormatOperator(op))
	}
	pw.printf("  outputs: %s\n", g.valueList(g.outputs))
	pw.printf("}\n")
	return pw.err
}

// Dump prints the graph to stderr.
func (g *Graph) Dump() {
	_ = g.Print(os.Stderr)
}

// FormatOperator renders one operator with its operands.
func (g *Graph) FormatOperator(op *Operator) string {
	var b strings.Builder
	b.WriteString(g.valueList(op.outputs))
	b.WriteString(" = ")
	b.WriteString(op.info.Mnemonic)
	b.WriteString(g.valueList(op.inputs))
	if op.params != nil {
		if s := op.params.String(); s != "" {
			b.WriteString(" {")
			b.WriteString(s)
			b.WriteString("}")
		}
	}
	if op.name != "" {
		fmt.Fprintf(&b, " // %s", op.name)
	}
	return b.String()
}

func (g *Graph) valueList(ids []ValueID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		v := g.Value(id)
		if v == nil {
			parts[i] = "<invalid>"
			continue
		}
		s := fmt.Sprintf("%%%s:%s%s", v.name, v.dtype, v.shape)
		if v.addr.Resolved() {
			s += "@" + v.space.String() + ":" + v.addr.String()
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
