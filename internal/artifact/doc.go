// Package artifact implements the .npuc compiled model container.
//
// File layout, all integers little-endian:
//
//	0x00  [4]byte  magic "NPUC"
//	0x04  uint32   format version
//	0x08  uint32   flags
//	0x0C  uint32   reserved
//	0x10  uint64   JSON header size
//	0x18  uint64   payload size
//	0x20  [32]byte SHA-256 of the payload
//	0x40  JSON header, zero padded to a 64-byte boundary
//	      payload: weight image followed by the command buffer
//
// The header carries the address map of every allocated operand. The
// weight image holds initializer data at the offsets the allocator
// assigned in weight space; gaps are zero.
package artifact
