package artifact

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/codegen"
)

// Artifact is a parsed artifact.
type Artifact struct {
	Header   Header
	Flags    uint32
	Checksum [32]byte
	Weights  []byte
	Commands []byte
}

// Read loads and verifies an artifact file.
func Read(path string) (*Artifact, error) {
	//nolint:gosec // G304: input path comes from the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read artifact")
	}
	a, err := Parse(data)
	return a, errors.WithMessage(err, path)
}

// Parse decodes and verifies an artifact: magic, version, checksum and
// the address map.
func Parse(data []byte) (*Artifact, error) {
	if len(data) < FixedHeaderSize {
		return nil, errors.Wrapf(ErrTruncated, "%d bytes, fixed header needs %d", len(data), FixedHeaderSize)
	}
	if string(data[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d, expected %d", v, FormatVersion)
	}
	a := &Artifact{Flags: binary.LittleEndian.Uint32(data[8:12])}
	headerSize := binary.LittleEndian.Uint64(data[16:24])
	if headerSize > MaxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}
	dataSize := binary.LittleEndian.Uint64(data[24:32])
	copy(a.Checksum[:], data[ChecksumOffset:ChecksumOffset+ChecksumSize])

	headerEnd := int64(FixedHeaderSize) + int64(headerSize) //nolint:gosec // bounded by MaxHeaderSize
	dataOffset := headerEnd + padding(headerEnd)
	if uint64(len(data)) < uint64(dataOffset) || uint64(len(data))-uint64(dataOffset) < dataSize { //nolint:gosec // non-negative
		return nil, errors.Wrapf(ErrTruncated, "%d bytes, need %d", len(data), uint64(dataOffset)+dataSize) //nolint:gosec // non-negative
	}
	payload := data[dataOffset : uint64(dataOffset)+dataSize] //nolint:gosec // checked above
	if err := ValidateChecksum(ComputeChecksum(payload), a.Checksum); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data[FixedHeaderSize:headerEnd], &a.Header); err != nil {
		return nil, errors.Wrap(err, "parse header JSON")
	}
	h := &a.Header
	if h.WeightSize < 0 || h.CommandSize < 0 || uint64(h.WeightSize+h.CommandSize) != dataSize { //nolint:gosec // non-negative
		return nil, &ValidationError{
			Err:     ErrOutOfBounds,
			Details: fmt.Sprintf("weights %d + commands %d != payload %d", h.WeightSize, h.CommandSize, dataSize),
		}
	}
	if err := ValidateTensors(h.Tensors, map[string]int64{
		"weight":     h.WeightSize,
		"activation": h.ActivationSize,
	}); err != nil {
		return nil, err
	}
	a.Weights = payload[:h.WeightSize]
	a.Commands = payload[h.WeightSize:]
	return a, nil
}

// Instructions decodes the command buffer.
func (a *Artifact) Instructions() ([]codegen.Instruction, error) {
	return codegen.Decode(a.Commands)
}

// Print writes a summary and the address map.
func (a *Artifact) Print(w io.Writer) error {
	h := &a.Header
	fmt.Fprintf(w, "graph %s for %s, build %s, compiler %s\n", h.Graph, h.Target, h.BuildID, h.CompilerVersion)
	fmt.Fprintf(w, "weights %d bytes, activations %d bytes, %d instructions in %d bytes\n",
		h.WeightSize, h.ActivationSize, h.Instructions, h.CommandSize)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSPACE\tDTYPE\tSHAPE\tADDRESS\tSIZE")
	for _, t := range h.Tensors {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%#x\t%d\n", t.Name, t.Space, t.DType, t.Shape, t.Address, t.Size)
	}
	return tw.Flush()
}
