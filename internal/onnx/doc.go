// Package onnx decodes ONNX models and presents them as a source graph
// for lowering.
//
// Decoding works directly on the protobuf wire format with protowire, so
// no generated code is needed. Only the fields the compiler consumes are
// kept (see proto.go).
//
// The source graph (Graph, Node, Value) resolves tensors by name, orders
// nodes topologically and converts initializer contents to little-endian
// bytes. Two inference-time transforms run on it before lowering:
// RemoveTrainingNodes and InferShapes.
//
// Example:
//
//	model, err := onnx.ParseFile("lenet.onnx")
//	if err != nil {
//	    return err
//	}
//	g, err := onnx.NewGraph(model)
//	if err != nil {
//	    return err
//	}
//	onnx.RemoveTrainingNodes(g)
//	onnx.InferShapes(g)
package onnx
