package artifact

import (
	"fmt"
	"sort"
)

// Validation limits.
const (
	MaxHeaderSize  = 100 * 1024 * 1024
	MaxTensorCount = 100_000
)

// ValidateTensors checks the address map: offsets and sizes are
// non-negative, every tensor lies inside its space and no two tensors of
// one space overlap. limits maps a space name to its size; spaces without
// a limit are only checked for overlap.
func ValidateTensors(tensors []TensorMeta, limits map[string]int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Err:     ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	bySpace := make(map[string][]TensorMeta)
	for _, t := range tensors {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Err:     ErrNegativeOffset,
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if limit, ok := limits[t.Space]; ok && t.Offset+t.Size > limit {
			return &ValidationError{
				Err:     ErrOutOfBounds,
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > %s size %d", t.Offset, t.Size, t.Space, limit),
			}
		}
		if t.Size > 0 {
			bySpace[t.Space] = append(bySpace[t.Space], t)
		}
	}

	spaces := make([]string, 0, len(bySpace))
	for s := range bySpace {
		spaces = append(spaces, s)
	}
	sort.Strings(spaces)
	for _, s := range spaces {
		sorted := bySpace[s]
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
		for i := 0; i+1 < len(sorted); i++ {
			t, next := sorted[i], sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Err:     ErrOffsetOverlap,
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("%s regions [%d-%d] and [%d-%d] overlap",
						s, t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}
