package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes a model in protobuf wire format. Only the fields known to
// ModelProto are written; repeated scalars use packed encoding.
func Marshal(m *ModelProto) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.IRVersion)) //nolint:gosec // protobuf int64
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, uint64(m.ModelVersion)) //nolint:gosec // protobuf int64
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, appendGraph(nil, m.Graph))
	}
	for _, o := range m.OpsetImport {
		var ob []byte
		ob = appendString(ob, 1, o.Domain)
		ob = appendVarint(ob, 2, uint64(o.Version)) //nolint:gosec // protobuf int64
		b = appendMessage(b, 8, ob)
	}
	for _, e := range m.MetadataProps {
		var eb []byte
		eb = appendString(eb, 1, e.Key)
		eb = appendString(eb, 2, e.Value)
		b = appendMessage(b, 14, eb)
	}
	return b
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, appendNode(nil, &g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, appendTensor(nil, &g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for _, section := range []struct {
		num  protowire.Number
		list []ValueInfoProto
	}{{11, g.Inputs}, {12, g.Outputs}, {13, g.ValueInfo}} {
		for i := range section.list {
			b = appendMessage(b, section.num, appendValueInfo(nil, &section.list[i]))
		}
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	for _, s := range n.Inputs {
		b = appendBytes(b, 1, []byte(s))
	}
	for _, s := range n.Outputs {
		b = appendBytes(b, 2, []byte(s))
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, appendAttribute(nil, &n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return b
}

func appendTensor(b []byte, t *TensorProto) []byte {
	b = appendPackedInt64s(b, 1, t.Dims)
	b = appendVarint(b, 2, uint64(t.DataType)) //nolint:gosec // protobuf int32
	b = appendPackedFloat32s(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		var p []byte
		for _, v := range t.Int32Data {
			p = protowire.AppendVarint(p, uint64(int64(v))) //nolint:gosec // sign-extended like protobuf int32
		}
		b = appendMessage(b, 5, p)
	}
	b = appendPackedInt64s(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendBytes(b, 9, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var p []byte
		for _, v := range t.DoubleData {
			p = protowire.AppendFixed64(p, math.Float64bits(v))
		}
		b = appendMessage(b, 10, p)
	}
	b = appendString(b, 12, t.DocString)
	return b
}

func appendValueInfo(b []byte, vi *ValueInfoProto) []byte {
	b = appendString(b, 1, vi.Name)
	if vi.Type != nil && vi.Type.TensorType != nil {
		tt := vi.Type.TensorType
		var tb []byte
		tb = appendVarint(tb, 1, uint64(tt.ElemType)) //nolint:gosec // protobuf int32
		if tt.Shape != nil {
			var sb []byte
			for _, d := range tt.Shape.Dims {
				var db []byte
				if d.HasValue {
					db = protowire.AppendTag(db, 1, protowire.VarintType)
					db = protowire.AppendVarint(db, uint64(d.DimValue)) //nolint:gosec // protobuf int64
				}
				db = appendString(db, 2, d.DimParam)
				sb = appendMessage(sb, 1, db)
			}
			tb = appendMessage(tb, 2, sb)
		}
		var typ []byte
		typ = appendMessage(typ, 1, tb)
		b = appendMessage(b, 2, typ)
	}
	b = appendString(b, 3, vi.DocString)
	return b
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendString(b, 1, a.Name)
	if a.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	}
	b = appendVarint(b, 3, uint64(a.I)) //nolint:gosec // protobuf int64
	if len(a.S) > 0 {
		b = appendBytes(b, 4, a.S)
	}
	if a.T != nil {
		b = appendMessage(b, 5, appendTensor(nil, a.T))
	}
	if a.G != nil {
		b = appendMessage(b, 6, appendGraph(nil, a.G))
	}
	b = appendPackedFloat32s(b, 7, a.Floats)
	b = appendPackedInt64s(b, 8, a.Ints)
	for _, s := range a.Strings {
		b = appendBytes(b, 9, s)
	}
	for i := range a.Tensors {
		b = appendMessage(b, 10, appendTensor(nil, &a.Tensors[i]))
	}
	for i := range a.Graphs {
		b = appendMessage(b, 11, appendGraph(nil, &a.Graphs[i]))
	}
	b = appendString(b, 13, a.DocString)
	b = appendVarint(b, 20, uint64(a.Type)) //nolint:gosec // protobuf int32
	return b
}

// appendVarint writes a scalar varint field, omitting the proto3 default.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendBytes(b, num, []byte(s))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	return appendBytes(b, num, msg)
}

func appendPackedInt64s(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(v)) //nolint:gosec // protobuf int64
	}
	return appendBytes(b, num, p)
}

func appendPackedFloat32s(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendFixed32(p, math.Float32bits(v))
	}
	return appendBytes(b, num, p)
}
