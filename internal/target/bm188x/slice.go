package bm188x

import "github.com/pkg/errors"

// DefaultLocalMemory is the per-slice working set of a BM1880 lane group,
// in bytes.
const DefaultLocalMemory int64 = 64 << 10

// ErrDoesNotFit is returned when not even a single output row of a
// convolution fits in local memory.
var ErrDoesNotFit = errors.New("convolution does not fit in local memory")

// Slice is a band of output rows and the input rows it reads. PadT and
// PadB are the padding rows that fall inside the band.
type Slice struct {
	OutRow, OutRows int64
	InRow, InRows   int64
	PadT, PadB      int64
}

// sliceConv splits the output of p into the fewest bands of whole rows
// whose int8 input and output both fit in budget bytes together. The
// bands cover every output row exactly once, in order.
func sliceConv(p *Conv, budget int64) ([]Slice, error) {
	if p.OutH <= 0 {
		return nil, errors.Errorf("conv: %d output rows", p.OutH)
	}
	for k := int64(1); k <= p.OutH; k++ {
		rows := (p.OutH + k - 1) / k
		if p.bandBytes(rows) > budget {
			continue
		}
		slices := make([]Slice, 0, k)
		for r := int64(0); r < p.OutH; r += rows {
			slices = append(slices, p.band(r, min(rows, p.OutH-r)))
		}
		return slices, nil
	}
	return nil, errors.Wrapf(ErrDoesNotFit, "one row needs %d bytes, have %d", p.bandBytes(1), budget)
}

// inRows is the number of input rows, padding included, read by n
// consecutive output rows.
func (p *Conv) inRows(n int64) int64 {
	return (n-1)*p.StrideH + (p.KH-1)*p.DilationH + 1
}

func (p *Conv) bandBytes(n int64) int64 {
	in := p.N * p.C * min(p.inRows(n), p.H) * p.W
	out := p.N * p.OutC * n * p.OutW
	return in + out
}

func (p *Conv) band(row, n int64) Slice {
	first := row*p.StrideH - p.PadT
	last := first + p.inRows(n)
	s := Slice{OutRow: row, OutRows: n}
	if first < 0 {
		s.PadT = -first
		first = 0
	}
	if last > p.H {
		s.PadB = last - p.H
		last = p.H
	}
	s.InRow, s.InRows = first, last-first
	return s
}
