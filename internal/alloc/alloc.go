// Package alloc assigns every compute value a byte range in its memory
// space.
//
// The allocator is a greedy bump allocator: each space has a cursor that
// only moves forward. Weights are placed in declaration order, graph
// inputs next in the activation space, then operator outputs in graph
// order. Ranges are never reclaimed within one graph, so the activation
// footprint is the sum of every input and intermediate tensor.
package alloc

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/ir"
)

// Options configures Allocate.
type Options struct {
	// Alignment rounds every offset up to a multiple of itself. Values
	// below 2 disable padding.
	Alignment int64
	// Bases is added to layout offsets when addresses are written back to
	// the graph. Layout offsets stay base-relative.
	Bases map[ir.MemorySpace]ir.Address
	// SizeOf returns the element size of a type, or 0 when the target
	// cannot store it. Nil means ir.DataType.Size.
	SizeOf func(ir.DataType) int
}

// DefaultOptions returns unaligned, zero-based allocation.
func DefaultOptions() Options {
	return Options{Alignment: 1}
}

// Entry is one row of the layout table.
type Entry struct {
	Name   string
	Value  ir.ValueID
	Space  ir.MemorySpace
	Offset int64
	Size   int64
}

// End returns the first byte past the entry.
func (e Entry) End() int64 { return e.Offset + e.Size }

func (e Entry) overlaps(o Entry) bool {
	if e.Size == 0 || o.Size == 0 {
		return false
	}
	return e.Offset < o.End() && o.Offset < e.End()
}

// Layout maps operand names to their memory space, offset and size.
type Layout struct {
	entries []Entry
	byName  map[string]int
	usage   map[ir.MemorySpace]int64
	bases   map[ir.MemorySpace]ir.Address
}

func newLayout(bases map[ir.MemorySpace]ir.Address) *Layout {
	return &Layout{
		byName: make(map[string]int),
		usage:  make(map[ir.MemorySpace]int64),
		bases:  bases,
	}
}

// Lookup returns the entry of a named operand.
func (l *Layout) Lookup(name string) (Entry, bool) {
	i, ok := l.byName[name]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Entries returns every entry in allocation order.
func (l *Layout) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Space returns the entries of one memory space in allocation order.
func (l *Layout) Space(s ir.MemorySpace) []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.Space == s {
			out = append(out, e)
		}
	}
	return out
}

// Usage returns the bytes consumed in a space, padding included.
func (l *Layout) Usage(s ir.MemorySpace) int64 { return l.usage[s] }

// Base returns the base address of a space.
func (l *Layout) Base(s ir.MemorySpace) ir.Address { return l.bases[s] }

// Len returns the number of entries.
func (l *Layout) Len() int { return len(l.entries) }

// Verify checks that no two entries of the same space overlap.
func (l *Layout) Verify() error {
	bySpace := make(map[ir.MemorySpace][]Entry)
	for _, e := range l.entries {
		if e.Offset < 0 || e.Size < 0 {
			return errors.Wrapf(ErrAddressConflict, "%q has offset %d size %d", e.Name, e.Offset, e.Size)
		}
		bySpace[e.Space] = append(bySpace[e.Space], e)
	}
	for space, es := range bySpace {
		sort.SliceStable(es, func(i, j int) bool { return es[i].Offset < es[j].Offset })
		var last *Entry
		for i := range es {
			if es[i].Size == 0 {
				continue
			}
			if last != nil && last.overlaps(es[i]) {
				return &ConflictError{Space: space, A: *last, B: es[i]}
			}
			last = &es[i]
		}
	}
	return nil
}

// Print writes the layout as a table.
func (l *Layout) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSPACE\tOFFSET\tSIZE")
	for _, e := range l.entries {
		fmt.Fprintf(tw, "%s\t%s\t%#x\t%d\n", e.Name, e.Space, e.Offset, e.Size)
	}
	return tw.Flush()
}

type allocator struct {
	g      *ir.Graph
	opts   Options
	layout *Layout
}

// Allocate assigns addresses to the initializers, graph inputs and
// operator outputs of g and writes them back into the graph. Values that
// are neither (for example the output of a node that failed to lower)
// stay unassigned.
func Allocate(g *ir.Graph, opts Options) (*Layout, error) {
	start := time.Now()
	if opts.SizeOf == nil {
		opts.SizeOf = ir.DataType.Size
	}
	a := &allocator{g: g, opts: opts, layout: newLayout(opts.Bases)}

	for _, id := range g.Initializers() {
		if err := a.place(id, ir.WeightSpace, ""); err != nil {
			return nil, err
		}
	}
	for _, id := range g.Inputs() {
		if g.Value(id).Kind() == ir.Initializer {
			continue
		}
		if err := a.place(id, ir.ActivationSpace, ""); err != nil {
			return nil, err
		}
	}
	for _, op := range g.Operators() {
		for _, id := range op.Outputs() {
			if _, done := a.layout.byName[g.Value(id).Name()]; done {
				continue
			}
			if err := a.place(id, ir.ActivationSpace, op.Name()); err != nil {
				return nil, err
			}
		}
	}

	if err := a.layout.Verify(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("alloc: %d operands, weight %d bytes, activation %d bytes in %s",
		a.layout.Len(), a.layout.Usage(ir.WeightSpace), a.layout.Usage(ir.ActivationSpace), time.Since(start))
	return a.layout, nil
}

func (a *allocator) place(id ir.ValueID, space ir.MemorySpace, producer string) error {
	v := a.g.Value(id)
	size, ok := v.ByteSize(a.opts.SizeOf)
	if !ok {
		return &UnresolvedError{Name: v.Name(), DType: v.DataType(), Shape: v.Shape(), Producer: producer}
	}
	l := a.layout
	offset := align(l.usage[space], a.opts.Alignment)
	e := Entry{Name: v.Name(), Value: id, Space: space, Offset: offset, Size: size}
	l.byName[e.Name] = len(l.entries)
	l.entries = append(l.entries, e)
	l.usage[space] = e.End()

	addr := l.bases[space] + ir.Address(offset)
	if err := a.g.SetAddress(id, space, addr); err != nil {
		return errors.WithMessagef(err, "alloc %q", e.Name)
	}
	klog.V(2).Infof("alloc: %s -> %s %s (%d bytes)", e.Name, space, addr, size)
	return nil
}

func align(n, to int64) int64 {
	if to < 2 {
		return n
	}
	return (n + to - 1) / to * to
}
