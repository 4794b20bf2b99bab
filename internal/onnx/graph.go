package onnx

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/ir"
)

// Graph errors.
var (
	ErrNoGraph        = errors.New("model has no graph")
	ErrCycle          = errors.New("graph contains a cycle")
	ErrProducedTwice  = errors.New("tensor produced by more than one node")
	ErrDuplicateInit  = errors.New("duplicate initializer")
	ErrUnknownTensor  = errors.New("unknown tensor")
	ErrInitializerOut = errors.New("node writes an initializer or graph input")
)

// Value is a named tensor of the source graph.
type Value struct {
	Name  string
	Type  ir.DataType
	Shape ir.Shape // nil when the rank is unknown
	Init  *Initializer

	input     bool
	output    bool
	producer  *Node
	consumers []*Node
}

// Initializer holds the little-endian contents of a constant tensor.
type Initializer struct {
	Data []byte
}

// HasUniqueName reports whether the value is addressable by name.
func (v *Value) HasUniqueName() bool { return v != nil && v.Name != "" }

// IsInitializer reports whether the value is a constant weight.
func (v *Value) IsInitializer() bool { return v.Init != nil }

// IsGraphInput reports whether the runtime feeds the value.
func (v *Value) IsGraphInput() bool { return v.input }

// IsGraphOutput reports whether the value is a graph output.
func (v *Value) IsGraphOutput() bool { return v.output }

// Producer returns the node writing the value, or nil.
func (v *Value) Producer() *Node { return v.producer }

// Consumers returns the nodes reading the value, in graph order.
func (v *Value) Consumers() []*Node { return append([]*Node(nil), v.consumers...) }

// Node is one operator of the source graph. Index is the position of the
// node in the serialized model and stays stable across transforms.
type Node struct {
	Index   int
	Name    string
	OpType  string
	Domain  string
	Inputs  []*Value // nil entries are omitted optional inputs
	Outputs []*Value // nil entries are omitted optional outputs
	Attrs   []AttributeProto
}

// Graph is the importer's view of an ONNX graph: values resolved by name
// and nodes in topological order.
type Graph struct {
	Name         string
	Opset        int64
	Nodes        []*Node
	Inputs       []*Value // graph inputs that are not initializers
	Outputs      []*Value
	Initializers []*Value

	values map[string]*Value
}

// Value returns the tensor with the given name.
func (g *Graph) Value(name string) (*Value, bool) {
	v, ok := g.values[name]
	return v, ok
}

// NumValues returns the number of named tensors.
func (g *Graph) NumValues() int { return len(g.values) }

// NewGraph builds the source graph of a decoded model.
func NewGraph(m *ModelProto) (*Graph, error) {
	if m == nil || m.Graph == nil {
		return nil, ErrNoGraph
	}
	return FromGraphProto(m.Graph, m.OpsetVersion())
}

// FromGraphProto builds a source graph from a GraphProto.
//
//nolint:gocognit,gocyclo,cyclop // single pass over every GraphProto section
func FromGraphProto(gp *GraphProto, opset int64) (*Graph, error) {
	g := &Graph{
		Name:   gp.Name,
		Opset:  opset,
		values: make(map[string]*Value),
	}

	for i := range gp.Initializers {
		tp := &gp.Initializers[i]
		if _, ok := g.values[tp.Name]; ok {
			return nil, errors.Wrapf(ErrDuplicateInit, "%q", tp.Name)
		}
		data, err := tensorData(tp)
		if err != nil {
			return nil, errors.WithMessagef(err, "initializer %q", tp.Name)
		}
		v := g.value(tp.Name)
		v.Type = ir.FromONNX(tp.DataType)
		v.Shape = ir.ShapeOf(tp.Dims...)
		v.Init = &Initializer{Data: data}
		g.Initializers = append(g.Initializers, v)
	}

	for i := range gp.Inputs {
		vi := &gp.Inputs[i]
		v := g.value(vi.Name)
		applyValueInfo(v, vi)
		if v.Init == nil && !v.input {
			v.input = true
			g.Inputs = append(g.Inputs, v)
		}
	}
	for i := range gp.ValueInfo {
		applyValueInfo(g.value(gp.ValueInfo[i].Name), &gp.ValueInfo[i])
	}
	for i := range gp.Outputs {
		vi := &gp.Outputs[i]
		v := g.value(vi.Name)
		applyValueInfo(v, vi)
		if !v.output {
			v.output = true
			g.Outputs = append(g.Outputs, v)
		}
	}

	nodes := make([]*Node, len(gp.Nodes))
	for i := range gp.Nodes {
		np := &gp.Nodes[i]
		n := &Node{
			Index:  i,
			Name:   np.Name,
			OpType: np.OpType,
			Domain: np.Domain,
			Attrs:  np.Attributes,
		}
		for _, name := range np.Outputs {
			if name == "" {
				n.Outputs = append(n.Outputs, nil)
				continue
			}
			v := g.value(name)
			if v.producer != nil {
				return nil, errors.Wrapf(ErrProducedTwice, "%q by %q and %q", name, v.producer.Name, n.Name)
			}
			if v.Init != nil || v.input {
				return nil, errors.Wrapf(ErrInitializerOut, "node %q writes %q", n.Name, name)
			}
			v.producer = n
			n.Outputs = append(n.Outputs, v)
		}
		nodes[i] = n
	}
	for _, n := range nodes {
		for _, name := range gp.Nodes[n.Index].Inputs {
			if name == "" {
				n.Inputs = append(n.Inputs, nil)
				continue
			}
			v, ok := g.values[name]
			if !ok {
				return nil, errors.Wrapf(ErrUnknownTensor, "node %q reads %q", n.Name, name)
			}
			n.Inputs = append(n.Inputs, v)
		}
	}

	sorted, err := topologicalSort(nodes)
	if err != nil {
		return nil, err
	}
	g.Nodes = sorted
	g.relink()
	return g, nil
}

func (g *Graph) value(name string) *Value {
	if v, ok := g.values[name]; ok {
		return v
	}
	v := &Value{Name: name}
	g.values[name] = v
	return v
}

// relink rebuilds consumer lists from node inputs, in node order.
func (g *Graph) relink() {
	for _, v := range g.values {
		v.consumers = nil
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in != nil {
				in.consumers = append(in.consumers, n)
			}
		}
	}
}

// applyValueInfo fills type and shape without overriding what the value
// already knows.
func applyValueInfo(v *Value, vi *ValueInfoProto) {
	if vi.Type == nil || vi.Type.TensorType == nil {
		return
	}
	tt := vi.Type.TensorType
	if v.Type == ir.Undefined {
		v.Type = ir.FromONNX(tt.ElemType)
	}
	if v.Shape != nil || tt.Shape == nil {
		return
	}
	shape := make(ir.Shape, len(tt.Shape.Dims))
	for i, d := range tt.Shape.Dims {
		switch {
		case d.HasValue:
			shape[i] = ir.Known(d.DimValue)
		case d.DimParam != "":
			shape[i] = ir.Symbolic(d.DimParam)
		default:
			shape[i] = ir.Dim{Value: -1}
		}
	}
	v.Shape = shape
}

// topologicalSort orders nodes so that every producer precedes its
// consumers. Independent nodes keep their serialized order.
func topologicalSort(nodes []*Node) ([]*Node, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Node]int, len(nodes))
	result := make([]*Node, 0, len(nodes))

	var visit func(n *Node) error
	visit = func(n *Node) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			return errors.Wrapf(ErrCycle, "at node %q (%s)", n.Name, n.OpType)
		}
		state[n] = visiting
		for _, in := range n.Inputs {
			if in != nil && in.producer != nil {
				if err := visit(in.producer); err != nil {
					return err
				}
			}
		}
		state[n] = done
		result = append(result, n)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// tensorData returns the contents of a TensorProto as little-endian bytes,
// whichever data field the producer used.
//
//nolint:gocyclo,cyclop // one case per legacy typed field
func tensorData(tp *TensorProto) ([]byte, error) {
	dt := ir.FromONNX(tp.DataType)
	switch {
	case len(tp.RawData) > 0:
		return tp.RawData, nil
	case len(tp.FloatData) > 0:
		out := make([]byte, 4*len(tp.FloatData))
		for i, f := range tp.FloatData {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
		}
		return out, nil
	case len(tp.DoubleData) > 0:
		out := make([]byte, 8*len(tp.DoubleData))
		for i, f := range tp.DoubleData {
			binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(f))
		}
		return out, nil
	case len(tp.Int64Data) > 0:
		out := make([]byte, 8*len(tp.Int64Data))
		for i, x := range tp.Int64Data {
			binary.LittleEndian.PutUint64(out[8*i:], uint64(x)) //nolint:gosec // bit copy
		}
		return out, nil
	case len(tp.Int32Data) > 0:
		// int32_data also carries the narrow integer, bool and float16 types.
		size := dt.Size()
		if size <= 0 || size > 4 {
			return nil, errors.Errorf("int32_data cannot hold %s", dt)
		}
		out := make([]byte, size*len(tp.Int32Data))
		for i, x := range tp.Int32Data {
			u := uint32(x) //nolint:gosec // bit copy
			switch size {
			case 1:
				out[i] = byte(u)
			case 2:
				binary.LittleEndian.PutUint16(out[2*i:], uint16(u))
			default:
				binary.LittleEndian.PutUint32(out[4*i:], u)
			}
		}
		return out, nil
	}
	return nil, nil
}

// ModelInfo is a summary of a model, available without lowering it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	OpTypes         map[string]int
}

// Info summarizes a decoded model.
func Info(m *ModelProto) (*ModelInfo, error) {
	g, err := NewGraph(m)
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{
		IRVersion:       m.IRVersion,
		OpsetVersion:    g.Opset,
		ProducerName:    m.ProducerName,
		ProducerVersion: m.ProducerVersion,
		NodeCount:       len(g.Nodes),
		WeightCount:     len(g.Initializers),
		OpTypes:         make(map[string]int),
	}
	for _, v := range g.Inputs {
		info.InputNames = append(info.InputNames, v.Name)
	}
	for _, v := range g.Outputs {
		info.OutputNames = append(info.OutputNames, v.Name)
	}
	for _, n := range g.Nodes {
		info.OpTypes[n.OpType]++
	}
	return info, nil
}
