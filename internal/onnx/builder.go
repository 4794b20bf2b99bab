package onnx

import (
	"encoding/binary"
	"math"

	"github.com/born-ml/npuc/internal/ir"
)

// DefaultOpset is the opset version written by Builder.
const DefaultOpset = 13

// Builder assembles a ModelProto incrementally. It is used by tools and
// tests that need models without a serialized file.
type Builder struct {
	model *ModelProto
}

// NewBuilder starts an empty model with the default opset.
func NewBuilder(name string) *Builder {
	return &Builder{model: &ModelProto{
		IRVersion:    7,
		ProducerName: "npuc",
		Graph:        &GraphProto{Name: name},
		OpsetImport:  []OperatorSetID{{Version: DefaultOpset}},
	}}
}

// AddInput declares a runtime-fed graph input. A nil shape leaves the
// rank unknown.
func (b *Builder) AddInput(name string, dtype ir.DataType, shape ir.Shape) *Builder {
	b.model.Graph.Inputs = append(b.model.Graph.Inputs, valueInfo(name, dtype, shape))
	return b
}

// AddOutput declares a graph output.
func (b *Builder) AddOutput(name string, dtype ir.DataType, shape ir.Shape) *Builder {
	b.model.Graph.Outputs = append(b.model.Graph.Outputs, valueInfo(name, dtype, shape))
	return b
}

// AddValueInfo records type information for an intermediate tensor.
func (b *Builder) AddValueInfo(name string, dtype ir.DataType, shape ir.Shape) *Builder {
	b.model.Graph.ValueInfo = append(b.model.Graph.ValueInfo, valueInfo(name, dtype, shape))
	return b
}

// AddInitializer adds a constant tensor with raw little-endian contents.
func (b *Builder) AddInitializer(name string, dtype ir.DataType, dims []int64, raw []byte) *Builder {
	b.model.Graph.Initializers = append(b.model.Graph.Initializers, TensorProto{
		Name:     name,
		DataType: int32(dtype),
		Dims:     append([]int64(nil), dims...),
		RawData:  raw,
	})
	return b
}

// AddFloatInitializer adds a float32 constant.
func (b *Builder) AddFloatInitializer(name string, dims []int64, values []float32) *Builder {
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return b.AddInitializer(name, ir.Float32, dims, raw)
}

// AddNode appends a node. Use "" for an omitted optional input or output.
func (b *Builder) AddNode(opType, name string, inputs, outputs []string, attrs ...AttributeProto) *Builder {
	b.model.Graph.Nodes = append(b.model.Graph.Nodes, NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     append([]string(nil), inputs...),
		Outputs:    append([]string(nil), outputs...),
		Attributes: attrs,
	})
	return b
}

// Model returns the assembled model.
func (b *Builder) Model() *ModelProto { return b.model }

// Bytes returns the model in protobuf wire format.
func (b *Builder) Bytes() []byte { return Marshal(b.model) }

// Graph returns the source graph view of the model.
func (b *Builder) Graph() (*Graph, error) { return NewGraph(b.model) }

// IntAttr returns an INT attribute.
func IntAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// IntsAttr returns an INTS attribute.
func IntsAttr(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// FloatAttr returns a FLOAT attribute.
func FloatAttr(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// FloatsAttr returns a FLOATS attribute.
func FloatsAttr(name string, v ...float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloats, Floats: v}
}

// StringAttr returns a STRING attribute.
func StringAttr(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

func valueInfo(name string, dtype ir.DataType, shape ir.Shape) ValueInfoProto {
	vi := ValueInfoProto{Name: name}
	if dtype == ir.Undefined && shape == nil {
		return vi
	}
	tt := &TensorTypeProto{ElemType: int32(dtype)}
	if shape != nil {
		tt.Shape = &TensorShapeProto{Dims: make([]DimensionProto, len(shape))}
		for i, d := range shape {
			if d.Param != "" {
				tt.Shape.Dims[i] = DimensionProto{DimParam: d.Param}
			} else if d.Value >= 0 {
				tt.Shape.Dims[i] = DimensionProto{DimValue: d.Value, HasValue: true}
			}
		}
	}
	vi.Type = &TypeProto{TensorType: tt}
	return vi
}
