// Package target defines what a hardware target contributes to a
// compilation: its lowering rules, a capability table keyed by opcode and
// the element sizes its memory can hold.
//
// Targets are plain values built at compiler construction. There is no
// process-wide registry; see package targets for construction by name.
package target

import (
	"github.com/born-ml/npuc/internal/ir"
	"github.com/born-ml/npuc/internal/lower"
)

// Target is a hardware backend.
type Target interface {
	Name() string
	// Rules returns the lowering rules in registration order.
	Rules() []lower.Rule
	Capabilities() *Table
	// SizeOf returns the byte size of one element, or 0 when the target
	// cannot store the type.
	SizeOf(dt ir.DataType) int
}

// Calibrated is implemented by targets that read a calibration table
// from model metadata.
type Calibrated interface {
	// CalibrationKey is the metadata_props key holding the encoded
	// NetCalibration message.
	CalibrationKey() string
}

// TGSizeOf is the element size function of the TG accelerators, which
// store float32, int8 and int16 only.
func TGSizeOf(dt ir.DataType) int {
	switch dt {
	case ir.Float32:
		return 4
	case ir.Int8:
		return 1
	case ir.Int16:
		return 2
	default:
		return 0
	}
}
