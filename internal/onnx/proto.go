package onnx

// ONNX protobuf messages, restricted to the fields the compiler consumes.
// Field numbers are from onnx/onnx.proto3 and are listed next to each field.

// ModelProto is the top-level ONNX container.
type ModelProto struct {
	IRVersion       int64               // 1
	ProducerName    string              // 2
	ProducerVersion string              // 3
	Domain          string              // 4
	ModelVersion    int64               // 5
	DocString       string              // 6
	Graph           *GraphProto         // 7
	OpsetImport     []OperatorSetID     // 8
	MetadataProps   []StringStringEntry // 14
}

// OpsetVersion returns the version of the default ("" or "ai.onnx") opset.
func (m *ModelProto) OpsetVersion() int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// Metadata returns metadata_props as a map.
func (m *ModelProto) Metadata() map[string]string {
	meta := make(map[string]string, len(m.MetadataProps))
	for _, prop := range m.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	return meta
}

// GraphProto is a computation graph.
type GraphProto struct {
	Nodes        []NodeProto      // 1
	Name         string           // 2
	Initializers []TensorProto    // 5
	DocString    string           // 10
	Inputs       []ValueInfoProto // 11
	Outputs      []ValueInfoProto // 12
	ValueInfo    []ValueInfoProto // 13
}

// NodeProto is one operator invocation.
type NodeProto struct {
	Inputs     []string         // 1
	Outputs    []string         // 2
	Name       string           // 3
	OpType     string           // 4
	Attributes []AttributeProto // 5
	DocString  string           // 6
	Domain     string           // 7
}

// TensorProto is a constant tensor (initializer or attribute value).
type TensorProto struct {
	Dims       []int64   // 1
	DataType   int32     // 2
	FloatData  []float32 // 4
	Int32Data  []int32   // 5
	Int64Data  []int64   // 7
	Name       string    // 8
	RawData    []byte    // 9
	DoubleData []float64 // 10
	DocString  string    // 12
}

// ValueInfoProto describes a named tensor.
type ValueInfoProto struct {
	Name      string     // 1
	Type      *TypeProto // 2
	DocString string     // 3
}

// TypeProto holds the tensor variant of the ONNX type union.
type TypeProto struct {
	TensorType *TensorTypeProto // 1
}

// TensorTypeProto is the element type and shape of a tensor.
type TensorTypeProto struct {
	ElemType int32             // 1
	Shape    *TensorShapeProto // 2
}

// TensorShapeProto lists the dimensions of a tensor.
type TensorShapeProto struct {
	Dims []DimensionProto // 1
}

// DimensionProto is either a concrete value or a symbolic parameter.
type DimensionProto struct {
	DimValue int64  // 1
	DimParam string // 2
	HasValue bool   // set when dim_value was present on the wire
}

// AttributeProto is a named operator attribute.
type AttributeProto struct {
	Name      string        // 1
	F         float32       // 2
	I         int64         // 3
	S         []byte        // 4
	T         *TensorProto  // 5
	G         *GraphProto   // 6
	Floats    []float32     // 7
	Ints      []int64       // 8
	Strings   [][]byte      // 9
	Tensors   []TensorProto // 10
	Graphs    []GraphProto  // 11
	DocString string        // 13
	Type      int32         // 20
}

// OperatorSetID names an opset and its version.
type OperatorSetID struct {
	Domain  string // 1
	Version int64  // 2
}

// StringStringEntry is a metadata key/value pair.
type StringStringEntry struct {
	Key   string // 1
	Value string // 2
}

// TensorProto.DataType values.
const (
	TensorProtoUndefined  = 0
	TensorProtoFloat      = 1
	TensorProtoUint8      = 2
	TensorProtoInt8       = 3
	TensorProtoUint16     = 4
	TensorProtoInt16      = 5
	TensorProtoInt32      = 6
	TensorProtoInt64      = 7
	TensorProtoString     = 8
	TensorProtoBool       = 9
	TensorProtoFloat16    = 10
	TensorProtoDouble     = 11
	TensorProtoUint32     = 12
	TensorProtoUint64     = 13
	TensorProtoComplex64  = 14
	TensorProtoComplex128 = 15
	TensorProtoBfloat16   = 16
)

// AttributeProto.Type values.
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
	AttributeProtoTensors   = 9
	AttributeProtoGraphs    = 10
)
