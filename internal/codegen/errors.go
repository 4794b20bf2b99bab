package codegen

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/ir"
)

// Emission errors.
var (
	ErrEmissionTargetFailure = errors.New("target rejected operator")
	ErrBufferReleased        = errors.New("command buffer already released")
	ErrUnresolvedAddress     = errors.New("operand address unresolved")
	ErrNoEmitter             = errors.New("no emitter for opcode")
	ErrMalformedBuffer       = errors.New("malformed command buffer")
)

// EmitError identifies the operator a target encoder rejected.
type EmitError struct {
	Operator ir.OperatorID
	Name     string
	Opcode   ir.Opcode
	Mnemonic string
	Err      error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit operator %d %s %q (opcode %d): %v", e.Operator, e.Mnemonic, e.Name, e.Opcode, e.Err)
}

// Unwrap exposes ErrEmissionTargetFailure and the encoder's error.
func (e *EmitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEmissionTargetFailure}
	}
	return []error{ErrEmissionTargetFailure, e.Err}
}

func newEmitError(op *ir.Operator, err error) *EmitError {
	return &EmitError{
		Operator: op.ID(),
		Name:     op.Name(),
		Opcode:   op.Opcode(),
		Mnemonic: op.Mnemonic(),
		Err:      err,
	}
}
