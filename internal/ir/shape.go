package ir

import (
	"strconv"
	"strings"
)

// Dim is a single tensor dimension. A dimension with a non-empty Param is
// symbolic (e.g. "batch") and has no usable Value.
type Dim struct {
	Value int64
	Param string
}

// Known returns a concrete dimension.
func Known(v int64) Dim {
	return Dim{Value: v}
}

// Symbolic returns an unresolved, named dimension.
func Symbolic(name string) Dim {
	return Dim{Param: name}
}

// Resolved reports whether the dimension has a concrete non-negative size.
func (d Dim) Resolved() bool {
	return d.Param == "" && d.Value >= 0
}

func (d Dim) String() string {
	if !d.Resolved() {
		if d.Param != "" {
			return d.Param
		}
		return "?"
	}
	return strconv.FormatInt(d.Value, 10)
}

// Shape is the ordered list of dimensions of a tensor. A nil Shape has
// unknown rank; an empty non-nil Shape is a scalar.
type Shape []Dim

// ShapeOf builds a fully resolved shape.
func ShapeOf(dims ...int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = Known(d)
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Resolved reports whether the rank and every dimension are concrete.
func (s Shape) Resolved() bool {
	if s == nil {
		return false
	}
	for _, d := range s {
		if !d.Resolved() {
			return false
		}
	}
	return true
}

// NumElements returns the product of all dimensions.
// The second result is false when any dimension is unresolved.
// A rank-0 shape is a scalar with one element.
func (s Shape) NumElements() (int64, bool) {
	if s == nil {
		return 0, false
	}
	n := int64(1)
	for _, d := range s {
		if !d.Resolved() {
			return 0, false
		}
		n *= d.Value
	}
	return n, true
}

// Dims returns the concrete dimension values. Symbolic dimensions read as -1.
func (s Shape) Dims() []int64 {
	out := make([]int64, len(s))
	for i, d := range s {
		if d.Resolved() {
			out[i] = d.Value
		} else {
			out[i] = -1
		}
	}
	return out
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	if s == nil {
		return "[*]"
	}
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
