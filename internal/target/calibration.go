package target

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/npuc/internal/onnx"
)

// ErrBadCalibration is returned for undecodable calibration tables.
var ErrBadCalibration = errors.New("malformed calibration table")

// Layer is the quantization record of one layer.
//
//	message LayerCalibrationParameter {
//	  string name = 1;
//	  int32 right_shift_width = 2;
//	  repeated int32 threshold_x_quantized = 3 [packed = true];
//	  float threshold_y = 4;
//	}
type Layer struct {
	Name                string
	RightShiftWidth     int32
	ThresholdXQuantized []int32
	ThresholdY          float32
}

// Calibration is a decoded NetCalibrationParameter:
//
//	message NetCalibrationParameter {
//	  string name = 1;
//	  repeated LayerCalibrationParameter layer = 2;
//	}
type Calibration struct {
	Name   string
	Layers []Layer
	byName map[string]int
}

// NewCalibration builds a table from layers.
func NewCalibration(name string, layers ...Layer) *Calibration {
	c := &Calibration{Name: name, Layers: layers}
	c.index()
	return c
}

func (c *Calibration) index() {
	c.byName = make(map[string]int, len(c.Layers))
	for i, l := range c.Layers {
		if _, dup := c.byName[l.Name]; !dup {
			c.byName[l.Name] = i
		}
	}
}

// Layer returns the record of a named layer. The first record wins when
// a name repeats.
func (c *Calibration) Layer(name string) (*Layer, bool) {
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return &c.Layers[i], true
}

// DecodeCalibration parses a NetCalibrationParameter in protobuf wire
// format. Unknown fields are skipped.
func DecodeCalibration(b []byte) (*Calibration, error) {
	c := &Calibration{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			s, err := bytesOf(typ, val)
			c.Name = string(s)
			return err
		case 2:
			msg, err := bytesOf(typ, val)
			if err != nil {
				return err
			}
			l, err := decodeLayer(msg)
			if err != nil {
				return errors.WithMessagef(err, "layer %d", len(c.Layers))
			}
			c.Layers = append(c.Layers, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.index()
	return c, nil
}

func decodeLayer(b []byte) (Layer, error) {
	var l Layer
	err := fields(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			s, err := bytesOf(typ, val)
			l.Name = string(s)
			return err
		case 2:
			v, err := varintOf(typ, val)
			l.RightShiftWidth = int32(v) //nolint:gosec // protobuf int32
			return err
		case 3:
			return int32sOf(typ, val, func(v int32) { l.ThresholdXQuantized = append(l.ThresholdXQuantized, v) })
		case 4:
			if typ != protowire.Fixed32Type {
				return errors.Wrapf(ErrBadCalibration, "threshold_y wire type %d", typ)
			}
			v, n := protowire.ConsumeFixed32(val)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "threshold_y")
			}
			l.ThresholdY = math.Float32frombits(v)
		}
		return nil
	})
	return l, err
}

// Marshal encodes the table in protobuf wire format.
func (c *Calibration) Marshal() []byte {
	var b []byte
	if c.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, c.Name)
	}
	for _, l := range c.Layers {
		var m []byte
		if l.Name != "" {
			m = protowire.AppendTag(m, 1, protowire.BytesType)
			m = protowire.AppendString(m, l.Name)
		}
		if l.RightShiftWidth != 0 {
			m = protowire.AppendTag(m, 2, protowire.VarintType)
			m = protowire.AppendVarint(m, uint64(int64(l.RightShiftWidth))) //nolint:gosec // sign extension as protobuf int32
		}
		if len(l.ThresholdXQuantized) > 0 {
			var packed []byte
			for _, v := range l.ThresholdXQuantized {
				packed = protowire.AppendVarint(packed, uint64(int64(v))) //nolint:gosec // sign extension as protobuf int32
			}
			m = protowire.AppendTag(m, 3, protowire.BytesType)
			m = protowire.AppendBytes(m, packed)
		}
		if l.ThresholdY != 0 {
			m = protowire.AppendTag(m, 4, protowire.Fixed32Type)
			m = protowire.AppendFixed32(m, math.Float32bits(l.ThresholdY))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

// CalibrationFromModel decodes the calibration table stored under key in
// the model's metadata_props. The second result is false when the model
// carries no table.
func CalibrationFromModel(m *onnx.ModelProto, key string) (*Calibration, bool, error) {
	if m == nil || key == "" {
		return nil, false, nil
	}
	raw, ok := m.Metadata()[key]
	if !ok || raw == "" {
		return nil, false, nil
	}
	c, err := DecodeCalibration([]byte(raw))
	if err != nil {
		return nil, true, errors.WithMessagef(err, "metadata %q", key)
	}
	return c, true, nil
}

func fields(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrBadCalibration, protowire.ParseError(n).Error())
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return errors.Wrapf(ErrBadCalibration, "field %d: %v", num, protowire.ParseError(m))
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func bytesOf(typ protowire.Type, val []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, errors.Wrapf(ErrBadCalibration, "wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(val)
	if n < 0 {
		return nil, errors.Wrap(ErrBadCalibration, protowire.ParseError(n).Error())
	}
	return v, nil
}

func varintOf(typ protowire.Type, val []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, errors.Wrapf(ErrBadCalibration, "wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(val)
	if n < 0 {
		return 0, errors.Wrap(ErrBadCalibration, protowire.ParseError(n).Error())
	}
	return v, nil
}

func int32sOf(typ protowire.Type, val []byte, fn func(int32)) error {
	if typ == protowire.VarintType {
		v, err := varintOf(typ, val)
		if err != nil {
			return err
		}
		fn(int32(v)) //nolint:gosec // protobuf int32
		return nil
	}
	b, err := bytesOf(typ, val)
	if err != nil {
		return err
	}
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return errors.Wrap(ErrBadCalibration, protowire.ParseError(n).Error())
		}
		fn(int32(v)) //nolint:gosec // protobuf int32
		b = b[n:]
	}
	return nil
}
