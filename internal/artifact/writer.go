package artifact

import (
	"encoding/binary"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/npuc/internal/codegen"
)

// Marshal encodes an image and its command buffer.
func Marshal(img *Image, cb *codegen.CommandBuffer) ([]byte, error) {
	header := img.Header
	header.FormatVersion = FormatVersion
	header.WeightSize = int64(len(img.Weights))
	header.CommandSize = int64(len(cb.Bytes))
	header.Instructions = len(cb.Instructions)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "marshal header")
	}
	if len(headerJSON) > MaxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", len(headerJSON))
	}

	payload := make([]byte, 0, len(img.Weights)+len(cb.Bytes))
	payload = append(payload, img.Weights...)
	payload = append(payload, cb.Bytes...)
	checksum := ComputeChecksum(payload)

	flags := uint32(0)
	if len(img.Weights) > 0 {
		flags |= FlagHasWeights
	}
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}

	headerEnd := int64(FixedHeaderSize + len(headerJSON))
	out := make([]byte, FixedHeaderSize, headerEnd+padding(headerEnd)+int64(len(payload)))
	copy(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(out[8:12], flags)
	binary.LittleEndian.PutUint64(out[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(out[24:32], uint64(len(payload)))
	copy(out[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	out = append(out, headerJSON...)
	out = append(out, make([]byte, padding(headerEnd))...)
	out = append(out, payload...)
	return out, nil
}

// Writer writes one artifact file. It implements codegen.Sink: the file
// is written when the command buffer is submitted. Closing a writer that
// never received a buffer removes the file.
type Writer struct {
	path    string
	file    *os.File
	image   *Image
	written bool
	closed  bool
}

var _ codegen.Sink = (*Writer)(nil)

// Create opens path for writing.
func Create(path string, img *Image) (*Writer, error) {
	//nolint:gosec // G304: output path comes from the user
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create artifact")
	}
	return &Writer{path: path, file: file, image: img}, nil
}

// Submit implements codegen.Sink.
func (w *Writer) Submit(cb *codegen.CommandBuffer) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.written {
		return errors.Errorf("artifact %s already written", w.path)
	}
	data, err := Marshal(w.image, cb)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", w.path)
	}
	w.written = true
	klog.V(1).Infof("artifact: wrote %s (%d bytes, %d instructions)", w.path, len(data), len(cb.Instructions))
	return nil
}

// Close closes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.file.Close()
	if !w.written {
		if rmErr := os.Remove(w.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return errors.Wrapf(err, "close %s", w.path)
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }
