package alloc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/ir"
)

// Allocation errors. Both are fatal: no address map is produced.
var (
	ErrUnresolvedShapeOrType = errors.New("operand size cannot be computed")
	ErrAddressConflict       = errors.New("operand address ranges overlap")
)

// UnresolvedError names the operand whose byte size is unknown.
type UnresolvedError struct {
	Name     string
	DType    ir.DataType
	Shape    ir.Shape
	Producer string // producing operator, empty for initializers and inputs
}

func (e *UnresolvedError) Error() string {
	msg := fmt.Sprintf("%v: %q (%s %s)", ErrUnresolvedShapeOrType, e.Name, e.DType, e.Shape)
	if e.Producer != "" {
		msg += " produced by " + e.Producer
	}
	return msg
}

// Unwrap returns ErrUnresolvedShapeOrType.
func (e *UnresolvedError) Unwrap() error { return ErrUnresolvedShapeOrType }

// ConflictError reports two operands whose ranges overlap in one space.
// It always indicates a defect in the allocator.
type ConflictError struct {
	Space ir.MemorySpace
	A, B  Entry
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s space: %q [%d, %d) and %q [%d, %d)",
		ErrAddressConflict, e.Space, e.A.Name, e.A.Offset, e.A.End(), e.B.Name, e.B.Offset, e.B.End())
}

// Unwrap returns ErrAddressConflict.
func (e *ConflictError) Unwrap() error { return ErrAddressConflict }
