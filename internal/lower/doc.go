// Package lower turns source ONNX nodes into compute-graph operators.
//
// A target supplies an ordered list of Rules. For every node the Registry
// asks each rule how well it handles the node (its Tier) and activates the
// best one; ties go to the rule registered first. The Pass drives this over
// a whole source graph in topological order, applying a Policy to nodes no
// rule accepts.
package lower
