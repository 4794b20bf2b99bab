// Package ir implements the compute IR: an arena-owned directed graph of
// target operators connected through named tensor values.
//
// Values and operators are addressed by integer handles (ValueID,
// OperatorID) rather than pointers. Edges are implicit: an operator lists
// the values it consumes and produces, and every value keeps a use-list of
// (operator, slot) pairs pointing back at its consumers.
package ir

// DataType is the element type of a tensor value.
// Numbering follows ONNX TensorProto.DataType so that importers can convert
// with FromONNX.
type DataType int32

// Supported element types.
const (
	Undefined DataType = 0
	Float32   DataType = 1
	Uint8     DataType = 2
	Int8      DataType = 3
	Uint16    DataType = 4
	Int16     DataType = 5
	Int32     DataType = 6
	Int64     DataType = 7
	String    DataType = 8
	Bool      DataType = 9
	Float16   DataType = 10
	Float64   DataType = 11
	Uint32    DataType = 12
	Uint64    DataType = 13
	BFloat16  DataType = 16
)

// Size returns the byte size of one element, or 0 when the type has no
// fixed size (Undefined, String, unknown).
func (dt DataType) Size() int {
	switch dt {
	case Uint8, Int8, Bool:
		return 1
	case Uint16, Int16, Float16, BFloat16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	default:
		return 0
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Undefined:
		return "undefined"
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case String:
		return "string"
	case Bool:
		return "bool"
	case Float16:
		return "float16"
	case Float64:
		return "float64"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case BFloat16:
		return "bfloat16"
	default:
		return "unknown"
	}
}

// FromONNX converts an ONNX TensorProto data type tag.
// Unknown tags map to Undefined.
func FromONNX(elemType int32) DataType {
	dt := DataType(elemType)
	if dt != Undefined && dt.String() == "unknown" {
		return Undefined
	}
	return dt
}
