package ir

import "fmt"

// MemorySpace is a named, independently addressed region of target memory.
type MemorySpace int

// Memory spaces.
const (
	NoSpace         MemorySpace = iota
	WeightSpace                 // constant weights
	ActivationSpace             // graph inputs and intermediate tensors
)

func (s MemorySpace) String() string {
	switch s {
	case NoSpace:
		return "none"
	case WeightSpace:
		return "weight"
	case ActivationSpace:
		return "activation"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// Address is a physical byte address inside a memory space.
type Address int64

// Unassigned marks an address the allocator has not resolved yet.
const Unassigned Address = -1

// Resolved reports whether the address has been assigned.
func (a Address) Resolved() bool { return a >= 0 }

func (a Address) String() string {
	if !a.Resolved() {
		return "unassigned"
	}
	return fmt.Sprintf("%#x", int64(a))
}

// Residency is the memory role of an operand.
type Residency int

// Residencies.
const (
	Ephemeral Residency = iota // activation, lives in ActivationSpace
	Constant                   // weight, lives in WeightSpace
)

func (r Residency) String() string {
	if r == Constant {
		return "constant"
	}
	return "ephemeral"
}

// Operand is the view of a value as consumed or produced by an operator:
// the value plus its residency and resolved address.
type Operand struct {
	Value     ValueID
	Name      string
	Residency Residency
	Space     MemorySpace
	Addr      Address
}

// Resolved reports whether the operand has an address.
func (o Operand) Resolved() bool { return o.Addr.Resolved() }

func (o Operand) String() string {
	return fmt.Sprintf("%s(%s@%s:%s)", o.Name, o.Residency, o.Space, o.Addr)
}
