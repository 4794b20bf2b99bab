package onnx

import "fmt"

// Attr returns the attribute with the given name.
func (n *Node) Attr(name string) (*AttributeProto, bool) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			return &n.Attrs[i], true
		}
	}
	return nil, false
}

// HasAttr reports whether the attribute is present.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// AttrInt returns an integer attribute or defaultVal.
func (n *Node) AttrInt(name string, defaultVal int64) int64 {
	if a, ok := n.Attr(name); ok {
		return a.I
	}
	return defaultVal
}

// AttrInts returns an integer list attribute, or nil.
func (n *Node) AttrInts(name string) []int64 {
	if a, ok := n.Attr(name); ok {
		return a.Ints
	}
	return nil
}

// AttrFloat returns a float attribute or defaultVal.
func (n *Node) AttrFloat(name string, defaultVal float32) float32 {
	if a, ok := n.Attr(name); ok {
		return a.F
	}
	return defaultVal
}

// AttrFloats returns a float list attribute, or nil.
func (n *Node) AttrFloats(name string) []float32 {
	if a, ok := n.Attr(name); ok {
		return a.Floats
	}
	return nil
}

// AttrString returns a string attribute or defaultVal.
func (n *Node) AttrString(name, defaultVal string) string {
	if a, ok := n.Attr(name); ok {
		return string(a.S)
	}
	return defaultVal
}

// AttrStrings returns a string list attribute, or nil.
func (n *Node) AttrStrings(name string) []string {
	a, ok := n.Attr(name)
	if !ok {
		return nil
	}
	out := make([]string, len(a.Strings))
	for i, s := range a.Strings {
		out[i] = string(s)
	}
	return out
}

// Input returns the i-th input, or nil when it is absent.
func (n *Node) Input(i int) *Value {
	if i < 0 || i >= len(n.Inputs) {
		return nil
	}
	return n.Inputs[i]
}

// Output returns the i-th output, or nil when it is absent.
func (n *Node) Output(i int) *Value {
	if i < 0 || i >= len(n.Outputs) {
		return nil
	}
	return n.Outputs[i]
}

func (n *Node) String() string {
	if n.Name == "" {
		return fmt.Sprintf("#%d %s", n.Index, n.OpType)
	}
	return fmt.Sprintf("#%d %s %q", n.Index, n.OpType, n.Name)
}
