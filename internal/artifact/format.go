package artifact

import "time"

// Format constants.
const (
	MagicBytes      = "NPUC"
	FormatVersion   = 1
	FixedHeaderSize = 64
	ChecksumOffset  = 0x20
	ChecksumSize    = 32
	Alignment       = 64
	Extension       = ".npuc"
)

// Flags.
const (
	FlagHasWeights  uint32 = 1 << 0
	FlagHasMetadata uint32 = 1 << 1
)

// CompilerVersion is recorded in every header.
const CompilerVersion = "0.3.0"

// Header is the JSON header of an artifact.
type Header struct {
	FormatVersion   int               `json:"format_version"`
	CompilerVersion string            `json:"compiler_version"`
	Target          string            `json:"target"`
	Graph           string            `json:"graph"`
	BuildID         string            `json:"build_id"`
	CreatedAt       time.Time         `json:"created_at"`
	Tensors         []TensorMeta      `json:"tensors"`
	Inputs          []string          `json:"inputs"`
	Outputs         []string          `json:"outputs"`
	WeightSize      int64             `json:"weight_size"`
	ActivationSize  int64             `json:"activation_size"`
	CommandSize     int64             `json:"command_size"`
	Instructions    int               `json:"instructions"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// TensorMeta is one row of the address map. Offset is relative to the
// space base; Address is absolute.
type TensorMeta struct {
	Name    string  `json:"name"`
	Space   string  `json:"space"`
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offset  int64   `json:"offset"`
	Address int64   `json:"address"`
	Size    int64   `json:"size"`
}

// Tensor returns the address map row of a named tensor.
func (h *Header) Tensor(name string) (TensorMeta, bool) {
	for _, t := range h.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return TensorMeta{}, false
}

func padding(pos int64) int64 {
	return (Alignment - pos%Alignment) % Alignment
}
