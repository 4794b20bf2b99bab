package ir

import "github.com/pkg/errors"

// Common errors.
var (
	ErrOutOfRange         = errors.New("index out of range")
	ErrInvalidHandle      = errors.New("invalid handle")
	ErrDuplicateValue     = errors.New("duplicate value name")
	ErrUnnamedValue       = errors.New("value has no name")
	ErrArity              = errors.New("arity violates opcode contract")
	ErrSealed             = errors.New("graph is sealed")
	ErrMultipleProducers  = errors.New("value already has a producer")
	ErrInconsistentUses   = errors.New("use-list inconsistent with operator inputs")
	ErrProducerAfterUse   = errors.New("value produced after its first consumer")
	ErrInitializerProduce = errors.New("initializer or graph input cannot be produced by an operator")
)
