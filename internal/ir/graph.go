package ir

import (
	"github.com/pkg/errors"
)

// Graph owns every Operator and Value of one compilation unit.
// It is not safe for concurrent mutation; compile independent graphs in
// independent Graph instances.
type Graph struct {
	name         string
	values       []*Value
	operators    []*Operator
	byName       map[string]ValueID
	bySource     map[string]OperatorID
	inputs       []ValueID
	outputs      []ValueID
	initializers []ValueID
	sealed       bool
}

// NewGraph creates an empty compute graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:     name,
		byName:   make(map[string]ValueID),
		bySource: make(map[string]OperatorID),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// NumValues returns the number of values in the arena.
func (g *Graph) NumValues() int { return len(g.values) }

// NumOperators returns the number of operators in the arena.
func (g *Graph) NumOperators() int { return len(g.operators) }

// Sealed reports whether the graph no longer accepts structural changes.
func (g *Graph) Sealed() bool { return g.sealed }

// Seal freezes operator arity. Lowering seals the graph once it is done;
// later stages may assign addresses and substitute values but never add or
// remove inputs and outputs.
func (g *Graph) Seal() { g.sealed = true }

// Value returns the value for a handle, or nil if the handle is invalid.
func (g *Graph) Value(id ValueID) *Value {
	if id < 0 || int(id) >= len(g.values) {
		return nil
	}
	return g.values[id]
}

// Operator returns the operator for a handle, or nil if the handle is invalid.
func (g *Graph) Operator(id OperatorID) *Operator {
	if id < 0 || int(id) >= len(g.operators) {
		return nil
	}
	return g.operators[id]
}

// Operators returns all operators in creation order, which is also
// producer-before-consumer order.
func (g *Graph) Operators() []*Operator {
	out := make([]*Operator, len(g.operators))
	copy(out, g.operators)
	return out
}

// Values returns all values in creation order.
func (g *Graph) Values() []*Value {
	out := make([]*Value, len(g.values))
	copy(out, g.values)
	return out
}

// Lookup finds a value by its unique name.
func (g *Graph) Lookup(name string) (ValueID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// CreateValue adds a new activation value. Names are unique per graph.
func (g *Graph) CreateValue(name string, dtype DataType, shape Shape) (ValueID, error) {
	if g.sealed {
		return NoValue, ErrSealed
	}
	if name == "" {
		return NoValue, ErrUnnamedValue
	}
	if _, ok := g.byName[name]; ok {
		return NoValue, errors.Wrapf(ErrDuplicateValue, "%q", name)
	}
	id := ValueID(len(g.values))
	g.values = append(g.values, &Value{
		id:       id,
		name:     name,
		dtype:    dtype,
		shape:    shape.Clone(),
		kind:     Activation,
		producer: NoOperator,
		addr:     Unassigned,
	})
	g.byName[name] = id
	return id, nil
}

// Alias binds another name to an existing value, so that Lookup of
// either name finds it. Binding the same pair again is a no-op.
func (g *Graph) Alias(name string, id ValueID) error {
	if name == "" {
		return ErrUnnamedValue
	}
	if g.Value(id) == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", id)
	}
	if cur, ok := g.byName[name]; ok {
		if cur == id {
			return nil
		}
		return errors.Wrapf(ErrDuplicateValue, "%q", name)
	}
	if g.sealed {
		return ErrSealed
	}
	g.byName[name] = id
	return nil
}

// MarkInitializer turns a value into a constant weight and appends it to
// the initializer list. Marking twice is a no-op.
func (g *Graph) MarkInitializer(id ValueID, data []byte) error {
	v := g.Value(id)
	if v == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", id)
	}
	if v.producer != NoOperator {
		return errors.Wrapf(ErrInitializerProduce, "%q", v.name)
	}
	if v.kind == Initializer {
		return nil
	}
	v.kind = Initializer
	v.data = data
	g.initializers = append(g.initializers, id)
	return nil
}

// MarkInput registers a value as a graph input. Marking twice is a no-op.
// Initializers listed as graph inputs keep their Initializer kind.
func (g *Graph) MarkInput(id ValueID) error {
	v := g.Value(id)
	if v == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", id)
	}
	if v.producer != NoOperator {
		return errors.Wrapf(ErrInitializerProduce, "%q", v.name)
	}
	for _, in := range g.inputs {
		if in == id {
			return nil
		}
	}
	if v.kind == Activation {
		v.kind = GraphInput
	}
	g.inputs = append(g.inputs, id)
	return nil
}

// MarkOutput registers a value as a graph output. Marking twice is a no-op.
func (g *Graph) MarkOutput(id ValueID) error {
	if g.Value(id) == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", id)
	}
	for _, out := range g.outputs {
		if out == id {
			return nil
		}
	}
	g.outputs = append(g.outputs, id)
	return nil
}

// Inputs returns the graph inputs in declaration order.
func (g *Graph) Inputs() []ValueID { return append([]ValueID(nil), g.inputs...) }

// Outputs returns the graph outputs in declaration order.
func (g *Graph) Outputs() []ValueID { return append([]ValueID(nil), g.outputs...) }

// Initializers returns the constant weights in declaration order.
func (g *Graph) Initializers() []ValueID { return append([]ValueID(nil), g.initializers...) }

// NewOperator creates an operator with no inputs or outputs. Prefer
// AddOperator, which wires everything atomically.
func (g *Graph) NewOperator(name string, info OpInfo, params Params) (*Operator, error) {
	if g.sealed {
		return nil, ErrSealed
	}
	op := &Operator{
		id:     OperatorID(len(g.operators)),
		name:   name,
		info:   info,
		params: params,
	}
	g.operators = append(g.operators, op)
	return op, nil
}

// AddOperator creates an operator and wires its inputs and outputs.
// Arity, handles and producers are validated before anything is mutated,
// so on error the graph is unchanged.
func (g *Graph) AddOperator(name string, info OpInfo, params Params, inputs, outputs []ValueID, sources ...Source) (*Operator, error) {
	if g.sealed {
		return nil, ErrSealed
	}
	if !info.AcceptsInputs(len(inputs)) {
		return nil, errors.Wrapf(ErrArity, "%s: %d inputs", info.Mnemonic, len(inputs))
	}
	if !info.AcceptsOutputs(len(outputs)) {
		return nil, errors.Wrapf(ErrArity, "%s: %d outputs", info.Mnemonic, len(outputs))
	}
	for _, id := range inputs {
		if g.Value(id) == nil {
			return nil, errors.Wrapf(ErrInvalidHandle, "%s input value %d", info.Mnemonic, id)
		}
	}
	seen := make(map[ValueID]bool, len(outputs))
	for _, id := range outputs {
		if err := g.CheckProducible(id); err != nil {
			return nil, errors.WithMessagef(err, "%s output", info.Mnemonic)
		}
		if seen[id] {
			return nil, errors.Wrapf(ErrMultipleProducers, "%q listed twice", g.values[id].name)
		}
		for _, in := range inputs {
			if in == id {
				return nil, errors.Wrapf(ErrProducerAfterUse, "%q is both input and output", g.values[id].name)
			}
		}
		seen[id] = true
	}

	op, err := g.NewOperator(name, info, params)
	if err != nil {
		return nil, err
	}
	for _, id := range inputs {
		g.appendInput(op, id)
	}
	for _, id := range outputs {
		g.appendOutput(op, id)
	}
	for _, s := range sources {
		g.Connect(op, s)
	}
	return op, nil
}

// AddInput appends v to the operator's inputs and records the use.
func (g *Graph) AddInput(op *Operator, v ValueID) error {
	if g.sealed {
		return ErrSealed
	}
	if err := g.checkOperator(op); err != nil {
		return err
	}
	if g.Value(v) == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", v)
	}
	if op.info.MaxInputs >= 0 && len(op.inputs)+1 > op.info.MaxInputs {
		return errors.Wrapf(ErrArity, "%s accepts at most %d inputs", op.info.Mnemonic, op.info.MaxInputs)
	}
	g.appendInput(op, v)
	return nil
}

// AddOutput appends v to the operator's outputs and makes the operator
// its producer.
func (g *Graph) AddOutput(op *Operator, v ValueID) error {
	if g.sealed {
		return ErrSealed
	}
	if err := g.checkOperator(op); err != nil {
		return err
	}
	if err := g.CheckProducible(v); err != nil {
		return err
	}
	if op.info.MaxOutputs >= 0 && len(op.outputs)+1 > op.info.MaxOutputs {
		return errors.Wrapf(ErrArity, "%s accepts at most %d outputs", op.info.Mnemonic, op.info.MaxOutputs)
	}
	g.appendOutput(op, v)
	return nil
}

// Connect records that op was derived from the source node s. One
// operator may aggregate several source nodes.
func (g *Graph) Connect(op *Operator, s Source) {
	op.sources = append(op.sources, s)
	if _, ok := g.bySource[s.Key()]; !ok {
		g.bySource[s.Key()] = op.id
	}
}

// LoweredFrom returns the operator already derived from s, if any.
func (g *Graph) LoweredFrom(s Source) (OperatorID, bool) {
	id, ok := g.bySource[s.Key()]
	return id, ok
}

// ReplaceAllUsesWith redirects every use of old to repl, keeping each
// consumer's slot position. repl must be produced before every consumer
// of old. Everything is checked before anything changes, so the
// substitution happens completely or not at all.
func (g *Graph) ReplaceAllUsesWith(old, repl ValueID) error {
	ov, nv := g.Value(old), g.Value(repl)
	if ov == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", old)
	}
	if nv == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", repl)
	}
	if old == repl {
		return nil
	}
	uses := ov.Uses()
	for _, u := range uses {
		op := g.Operator(u.User)
		if op == nil || u.Slot < 0 || u.Slot >= len(op.inputs) || op.inputs[u.Slot] != old {
			return errors.Wrapf(ErrInconsistentUses, "%q use by operator %d slot %d", ov.name, u.User, u.Slot)
		}
		if nv.producer != NoOperator && nv.producer >= u.User {
			return errors.Wrapf(ErrProducerAfterUse, "%q produced by operator %d, used by operator %d", nv.name, nv.producer, u.User)
		}
	}
	for _, u := range uses {
		g.operators[u.User].inputs[u.Slot] = repl
		nv.uses = append(nv.uses, u)
	}
	ov.uses = nil
	return nil
}

// SetAddress assigns the memory space and physical address of a value.
func (g *Graph) SetAddress(id ValueID, space MemorySpace, addr Address) error {
	v := g.Value(id)
	if v == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", id)
	}
	v.space = space
	v.addr = addr
	return nil
}

// Operand returns the operand view of a value.
func (g *Graph) Operand(id ValueID) (Operand, error) {
	v := g.Value(id)
	if v == nil {
		return Operand{}, errors.Wrapf(ErrInvalidHandle, "value %d", id)
	}
	return Operand{
		Value:     id,
		Name:      v.name,
		Residency: v.Residency(),
		Space:     v.space,
		Addr:      v.addr,
	}, nil
}

// InputValue returns the value at an operator input position.
func (g *Graph) InputValue(op *Operator, i int) (*Value, error) {
	id, err := op.Input(i)
	if err != nil {
		return nil, err
	}
	return g.values[id], nil
}

// OutputValue returns the value at an operator output position.
func (g *Graph) OutputValue(op *Operator, i int) (*Value, error) {
	id, err := op.Output(i)
	if err != nil {
		return nil, err
	}
	return g.values[id], nil
}

// Validate checks the structural invariants: use-lists mirror operator
// inputs in both directions and every produced value is produced before
// any of its consumers.
func (g *Graph) Validate() error {
	for _, op := range g.operators {
		for slot, id := range op.inputs {
			v := g.Value(id)
			if v == nil {
				return errors.Wrapf(ErrInvalidHandle, "operator %d input %d", op.id, slot)
			}
			if !hasUse(v.uses, Use{User: op.id, Slot: slot}) {
				return errors.Wrapf(ErrInconsistentUses, "%q missing use by operator %d slot %d", v.name, op.id, slot)
			}
			if v.producer != NoOperator && v.producer >= op.id {
				return errors.Wrapf(ErrProducerAfterUse, "%q", v.name)
			}
		}
	}
	for _, v := range g.values {
		for _, u := range v.uses {
			op := g.Operator(u.User)
			if op == nil || u.Slot >= len(op.inputs) || op.inputs[u.Slot] != v.id {
				return errors.Wrapf(ErrInconsistentUses, "%q stale use by operator %d slot %d", v.name, u.User, u.Slot)
			}
		}
	}
	return nil
}

func (g *Graph) checkOperator(op *Operator) error {
	if op == nil || g.Operator(op.id) != op {
		return errors.Wrap(ErrInvalidHandle, "operator does not belong to graph")
	}
	return nil
}

// CheckProducible reports whether an operator may take id as an output:
// an activation value with no producer and no consumer yet.
func (g *Graph) CheckProducible(id ValueID) error {
	v := g.Value(id)
	if v == nil {
		return errors.Wrapf(ErrInvalidHandle, "value %d", id)
	}
	if v.kind != Activation {
		return errors.Wrapf(ErrInitializerProduce, "%q", v.name)
	}
	if v.producer != NoOperator {
		return errors.Wrapf(ErrMultipleProducers, "%q", v.name)
	}
	if len(v.uses) > 0 {
		return errors.Wrapf(ErrProducerAfterUse, "%q", v.name)
	}
	return nil
}

func (g *Graph) appendInput(op *Operator, id ValueID) {
	op.inputs = append(op.inputs, id)
	v := g.values[id]
	v.uses = append(v.uses, Use{User: op.id, Slot: len(op.inputs) - 1})
}

func (g *Graph) appendOutput(op *Operator, id ValueID) {
	op.outputs = append(op.outputs, id)
	g.values[id].producer = op.id
}

func hasUse(uses []Use, u Use) bool {
	for _, x := range uses {
		if x == u {
			return true
		}
	}
	return false
}
