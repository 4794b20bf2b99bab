package onnx

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrWireType is returned when a known field is encoded with an unexpected
// protobuf wire type.
var ErrWireType = errors.New("unexpected wire type")

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: the model path is user input by design of the CLI
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := readModel(data, model); err != nil {
		return nil, errors.WithMessage(err, "failed to parse model")
	}
	return model, nil
}

// field is one decoded tag plus its still-encoded value.
type field struct {
	num protowire.Number
	typ protowire.Type
	val []byte
}

// walk calls fn for every field of the message in b. Unknown fields are
// handed to fn as well; callers ignore them in their default case.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "tag")
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return errors.Wrapf(protowire.ParseError(m), "field %d", num)
		}
		if err := fn(field{num: num, typ: typ, val: b[:m]}); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return errors.Wrapf(ErrWireType, "field %d: got %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

func (f field) varint() (uint64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(f.val)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func (f field) int64() (int64, error) {
	v, err := f.varint()
	return int64(v), err //nolint:gosec // two's complement, as protobuf int64
}

func (f field) int32() (int32, error) {
	v, err := f.varint()
	return int32(v), err //nolint:gosec // two's complement, as protobuf int32
}

func (f field) bytes() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	v, n := protowire.ConsumeBytes(f.val)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func (f field) string() (string, error) {
	v, err := f.bytes()
	return string(v), err
}

func (f field) float32() (float32, error) {
	if err := f.expect(protowire.Fixed32Type); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeFixed32(f.val)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float32frombits(v), nil
}

// varints decodes a repeated varint field in either packed or unpacked form.
func (f field) varints(fn func(uint64)) error {
	if f.typ == protowire.VarintType {
		v, err := f.varint()
		if err != nil {
			return err
		}
		fn(v)
		return nil
	}
	b, err := f.bytes()
	if err != nil {
		return err
	}
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		fn(v)
		b = b[n:]
	}
	return nil
}

func (f field) int64s(dst []int64) ([]int64, error) {
	err := f.varints(func(v uint64) { dst = append(dst, int64(v)) }) //nolint:gosec // protobuf int64
	return dst, err
}

func (f field) int32s(dst []int32) ([]int32, error) {
	err := f.varints(func(v uint64) { dst = append(dst, int32(v)) }) //nolint:gosec // protobuf int32
	return dst, err
}

func (f field) float32s(dst []float32) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		v, err := f.float32()
		if err != nil {
			return dst, err
		}
		return append(dst, v), nil
	}
	b, err := f.bytes()
	if err != nil {
		return dst, err
	}
	if len(b)%4 != 0 {
		return dst, errors.Errorf("field %d: packed float length %d not a multiple of 4", f.num, len(b))
	}
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return dst, protowire.ParseError(n)
		}
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst, nil
}

func (f field) float64s(dst []float64) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		v, n := protowire.ConsumeFixed64(f.val)
		if n < 0 {
			return dst, protowire.ParseError(n)
		}
		return append(dst, math.Float64frombits(v)), nil
	}
	b, err := f.bytes()
	if err != nil {
		return dst, err
	}
	if len(b)%8 != 0 {
		return dst, errors.Errorf("field %d: packed double length %d not a multiple of 8", f.num, len(b))
	}
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return dst, protowire.ParseError(n)
		}
		dst = append(dst, math.Float64frombits(v))
		b = b[n:]
	}
	return dst, nil
}

// message decodes an embedded message field with read.
func message[T any](f field, read func([]byte, *T) error) (T, error) {
	var m T
	b, err := f.bytes()
	if err != nil {
		return m, err
	}
	if err := read(b, &m); err != nil {
		return m, errors.WithMessagef(err, "field %d", f.num)
	}
	return m, nil
}

//nolint:gocyclo,cyclop // one case per ModelProto field
func readModel(b []byte, m *ModelProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.IRVersion, err = f.int64()
		case 2:
			m.ProducerName, err = f.string()
		case 3:
			m.ProducerVersion, err = f.string()
		case 4:
			m.Domain, err = f.string()
		case 5:
			m.ModelVersion, err = f.int64()
		case 6:
			m.DocString, err = f.string()
		case 7:
			var g GraphProto
			if g, err = message(f, readGraph); err == nil {
				m.Graph = &g
			}
		case 8:
			var opset OperatorSetID
			if opset, err = message(f, readOperatorSetID); err == nil {
				m.OpsetImport = append(m.OpsetImport, opset)
			}
		case 14:
			var entry StringStringEntry
			if entry, err = message(f, readStringStringEntry); err == nil {
				m.MetadataProps = append(m.MetadataProps, entry)
			}
		}
		return err
	})
}

func readGraph(b []byte, g *GraphProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var n NodeProto
			if n, err = message(f, readNode); err == nil {
				g.Nodes = append(g.Nodes, n)
			}
		case 2:
			g.Name, err = f.string()
		case 5:
			var t TensorProto
			if t, err = message(f, readTensor); err == nil {
				g.Initializers = append(g.Initializers, t)
			}
		case 10:
			g.DocString, err = f.string()
		case 11, 12, 13:
			var vi ValueInfoProto
			if vi, err = message(f, readValueInfo); err != nil {
				return err
			}
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, vi)
			case 12:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
		}
		return err
	})
}

func readNode(b []byte, n *NodeProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var s string
			if s, err = f.string(); err == nil {
				n.Inputs = append(n.Inputs, s)
			}
		case 2:
			var s string
			if s, err = f.string(); err == nil {
				n.Outputs = append(n.Outputs, s)
			}
		case 3:
			n.Name, err = f.string()
		case 4:
			n.OpType, err = f.string()
		case 5:
			var a AttributeProto
			if a, err = message(f, readAttribute); err == nil {
				n.Attributes = append(n.Attributes, a)
			}
		case 6:
			n.DocString, err = f.string()
		case 7:
			n.Domain, err = f.string()
		}
		return err
	})
}

//nolint:gocyclo,cyclop // one case per TensorProto field
func readTensor(b []byte, t *TensorProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			t.Dims, err = f.int64s(t.Dims)
		case 2:
			t.DataType, err = f.int32()
		case 4:
			t.FloatData, err = f.float32s(t.FloatData)
		case 5:
			t.Int32Data, err = f.int32s(t.Int32Data)
		case 7:
			t.Int64Data, err = f.int64s(t.Int64Data)
		case 8:
			t.Name, err = f.string()
		case 9:
			var raw []byte
			if raw, err = f.bytes(); err == nil {
				t.RawData = append([]byte(nil), raw...)
			}
		case 10:
			t.DoubleData, err = f.float64s(t.DoubleData)
		case 12:
			t.DocString, err = f.string()
		}
		return err
	})
}

func readValueInfo(b []byte, vi *ValueInfoProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			vi.Name, err = f.string()
		case 2:
			var tp TypeProto
			if tp, err = message(f, readType); err == nil {
				vi.Type = &tp
			}
		case 3:
			vi.DocString, err = f.string()
		}
		return err
	})
}

func readType(b []byte, tp *TypeProto) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		tt, err := message(f, readTensorType)
		if err != nil {
			return err
		}
		tp.TensorType = &tt
		return nil
	})
}

func readTensorType(b []byte, tt *TensorTypeProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			tt.ElemType, err = f.int32()
		case 2:
			var s TensorShapeProto
			if s, err = message(f, readTensorShape); err == nil {
				tt.Shape = &s
			}
		}
		return err
	})
}

func readTensorShape(b []byte, s *TensorShapeProto) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		d, err := message(f, readDimension)
		if err != nil {
			return err
		}
		s.Dims = append(s.Dims, d)
		return nil
	})
}

func readDimension(b []byte, d *DimensionProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			d.DimValue, err = f.int64()
			d.HasValue = err == nil
		case 2:
			d.DimParam, err = f.string()
		}
		return err
	})
}

//nolint:gocyclo,cyclop // one case per AttributeProto field
func readAttribute(b []byte, a *AttributeProto) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			a.Name, err = f.string()
		case 2:
			a.F, err = f.float32()
		case 3:
			a.I, err = f.int64()
		case 4:
			var s []byte
			if s, err = f.bytes(); err == nil {
				a.S = append([]byte(nil), s...)
			}
		case 5:
			var t TensorProto
			if t, err = message(f, readTensor); err == nil {
				a.T = &t
			}
		case 6:
			var g GraphProto
			if g, err = message(f, readGraph); err == nil {
				a.G = &g
			}
		case 7:
			a.Floats, err = f.float32s(a.Floats)
		case 8:
			a.Ints, err = f.int64s(a.Ints)
		case 9:
			var s []byte
			if s, err = f.bytes(); err == nil {
				a.Strings = append(a.Strings, append([]byte(nil), s...))
			}
		case 10:
			var t TensorProto
			if t, err = message(f, readTensor); err == nil {
				a.Tensors = append(a.Tensors, t)
			}
		case 11:
			var g GraphProto
			if g, err = message(f, readGraph); err == nil {
				a.Graphs = append(a.Graphs, g)
			}
		case 13:
			a.DocString, err = f.string()
		case 20:
			a.Type, err = f.int32()
		}
		return err
	})
}

func readOperatorSetID(b []byte, o *OperatorSetID) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			o.Domain, err = f.string()
		case 2:
			o.Version, err = f.int64()
		}
		return err
	})
}

func readStringStringEntry(b []byte, e *StringStringEntry) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			e.Key, err = f.string()
		case 2:
			e.Value, err = f.string()
		}
		return err
	})
}
