package ir

// ValueID is a handle to a Value owned by a Graph.
type ValueID int32

// OperatorID is a handle to an Operator owned by a Graph.
type OperatorID int32

// Sentinel handles.
const (
	NoValue    ValueID    = -1
	NoOperator OperatorID = -1
)

// Kind classifies where a value comes from.
type Kind int

// Value kinds.
const (
	Activation  Kind = iota // produced by an operator
	Initializer             // constant weight with optional raw data
	GraphInput              // fed by the runtime
)

func (k Kind) String() string {
	switch k {
	case Activation:
		return "activation"
	case Initializer:
		return "initializer"
	case GraphInput:
		return "input"
	default:
		return "unknown"
	}
}

// Use records that operator User reads a value at input position Slot.
type Use struct {
	User OperatorID
	Slot int
}

// Value is a typed tensor handle. Uses are weak back-references to the
// consuming operators and are kept consistent with their input lists by
// the owning Graph.
type Value struct {
	id       ValueID
	name     string
	dtype    DataType
	shape    Shape
	kind     Kind
	data     []byte
	uses     []Use
	producer OperatorID
	space    MemorySpace
	addr     Address
}

// ID returns the value handle.
func (v *Value) ID() ValueID { return v.id }

// Name returns the unique name of the value within its graph.
func (v *Value) Name() string { return v.name }

// DataType returns the element type.
func (v *Value) DataType() DataType { return v.dtype }

// Shape returns a copy of the value's shape.
func (v *Value) Shape() Shape { return v.shape.Clone() }

// Kind returns the value kind.
func (v *Value) Kind() Kind { return v.kind }

// Data returns the raw little-endian contents of an initializer, if any.
func (v *Value) Data() []byte { return v.data }

// Producer returns the operator that writes the value, or NoOperator.
func (v *Value) Producer() OperatorID { return v.producer }

// Uses returns a snapshot of the use-list.
func (v *Value) Uses() []Use {
	out := make([]Use, len(v.uses))
	copy(out, v.uses)
	return out
}

// NumUses returns the number of recorded uses.
func (v *Value) NumUses() int { return len(v.uses) }

// Space returns the memory space assigned by the allocator.
func (v *Value) Space() MemorySpace { return v.space }

// Address returns the physical address assigned by the allocator, or
// Unassigned.
func (v *Value) Address() Address { return v.addr }

// Residency returns the role a value plays in memory.
func (v *Value) Residency() Residency {
	if v.kind == Initializer {
		return Constant
	}
	return Ephemeral
}

// ByteSize returns element size times element count using sizeOf for the
// element size. The second result is false when the type or shape is
// unresolved.
func (v *Value) ByteSize(sizeOf func(DataType) int) (int64, bool) {
	if sizeOf == nil {
		sizeOf = DataType.Size
	}
	es := sizeOf(v.dtype)
	if es <= 0 {
		return 0, false
	}
	n, ok := v.shape.NumElements()
	if !ok {
		return 0, false
	}
	return int64(es) * n, true
}
