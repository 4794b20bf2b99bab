package artifact

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/alloc"
	"github.com/born-ml/npuc/internal/ir"
)

// Image is everything an artifact holds besides the command buffer.
type Image struct {
	Header  Header
	Weights []byte
}

// NewImage builds the header and weight image of an allocated graph.
// Initializers without data leave zeros in the image.
func NewImage(g *ir.Graph, layout *alloc.Layout, target string) (*Image, error) {
	img := &Image{
		Header: Header{
			FormatVersion:   FormatVersion,
			CompilerVersion: CompilerVersion,
			Target:          target,
			Graph:           g.Name(),
			BuildID:         uuid.NewString(),
			CreatedAt:       time.Now().UTC(),
			WeightSize:      layout.Usage(ir.WeightSpace),
			ActivationSize:  layout.Usage(ir.ActivationSpace),
		},
		Weights: make([]byte, layout.Usage(ir.WeightSpace)),
	}
	for _, id := range g.Inputs() {
		img.Header.Inputs = append(img.Header.Inputs, g.Value(id).Name())
	}
	for _, id := range g.Outputs() {
		img.Header.Outputs = append(img.Header.Outputs, g.Value(id).Name())
	}

	for _, e := range layout.Entries() {
		v := g.Value(e.Value)
		if v == nil {
			return nil, errors.Errorf("layout entry %q: no value %d", e.Name, e.Value)
		}
		img.Header.Tensors = append(img.Header.Tensors, TensorMeta{
			Name:    e.Name,
			Space:   e.Space.String(),
			DType:   v.DataType().String(),
			Shape:   v.Shape().Dims(),
			Offset:  e.Offset,
			Address: int64(v.Address()),
			Size:    e.Size,
		})
		if e.Space != ir.WeightSpace {
			continue
		}
		data := v.Data()
		switch {
		case len(data) == 0:
			klog.V(2).Infof("artifact: initializer %q has no data, zero filled", e.Name)
		case int64(len(data)) != e.Size:
			return nil, errors.Errorf("initializer %q: %d bytes of data for a %d byte slot", e.Name, len(data), e.Size)
		default:
			copy(img.Weights[e.Offset:e.End()], data)
		}
	}
	return img, nil
}
