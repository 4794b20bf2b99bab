package codegen

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/born-ml/npuc/internal/ir"
)

// Instruction is one encoded operator invocation.
type Instruction struct {
	Opcode   uint32
	Operator ir.OperatorID // emitting operator, for diagnostics only
	Words    []uint64
}

// Size returns the encoded size of the instruction in bytes.
func (in Instruction) Size() int { return 8 + 8*len(in.Words) }

// Buffer is an append-only instruction stream with a single owner.
// Release hands the contents off; afterwards every method fails with
// ErrBufferReleased.
type Buffer struct {
	insts    []Instruction
	released bool
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Append adds an instruction. The word slice is copied.
func (b *Buffer) Append(in Instruction) error {
	if b.released {
		return ErrBufferReleased
	}
	in.Words = append([]uint64(nil), in.Words...)
	b.insts = append(b.insts, in)
	return nil
}

// Len returns the number of instructions appended so far.
func (b *Buffer) Len() int { return len(b.insts) }

// Released reports whether the buffer has been handed off.
func (b *Buffer) Released() bool { return b.released }

// truncate drops instructions appended after position n.
func (b *Buffer) truncate(n int) {
	if !b.released && n < len(b.insts) {
		b.insts = b.insts[:n]
	}
}

// Release encodes the buffer and transfers ownership of the contents to
// the caller.
func (b *Buffer) Release() (*CommandBuffer, error) {
	if b.released {
		return nil, ErrBufferReleased
	}
	b.released = true
	insts := b.insts
	b.insts = nil
	return &CommandBuffer{Instructions: insts, Bytes: Encode(insts)}, nil
}

// CommandBuffer is the released, encoded instruction stream.
type CommandBuffer struct {
	Instructions []Instruction
	Bytes        []byte
}

// Encode serializes instructions as little-endian records of
// u32 opcode, u32 word count, then the u64 words.
func Encode(insts []Instruction) []byte {
	n := 0
	for _, in := range insts {
		n += in.Size()
	}
	out := make([]byte, 0, n)
	for _, in := range insts {
		out = binary.LittleEndian.AppendUint32(out, in.Opcode)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(in.Words))) //nolint:gosec // word counts are small
		for _, w := range in.Words {
			out = binary.LittleEndian.AppendUint64(out, w)
		}
	}
	return out
}

// Decode parses bytes written by Encode. Operator ids are not encoded
// and come back as ir.NoOperator.
func Decode(data []byte) ([]Instruction, error) {
	var insts []Instruction
	for off := 0; off < len(data); {
		if len(data)-off < 8 {
			return nil, errors.Wrapf(ErrMalformedBuffer, "truncated record header at byte %d", off)
		}
		op := binary.LittleEndian.Uint32(data[off:])
		count := int(binary.LittleEndian.Uint32(data[off+4:]))
		off += 8
		if count > (len(data)-off)/8 {
			return nil, errors.Wrapf(ErrMalformedBuffer, "record at byte %d needs %d words", off-8, count)
		}
		words := make([]uint64, count)
		for i := range words {
			words[i] = binary.LittleEndian.Uint64(data[off:])
			off += 8
		}
		insts = append(insts, Instruction{Opcode: op, Operator: ir.NoOperator, Words: words})
	}
	return insts, nil
}
