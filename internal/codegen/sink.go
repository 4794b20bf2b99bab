package codegen

// Sink receives the released command buffer. Once Submit is called the
// emitter no longer touches the buffer.
type Sink interface {
	Submit(cb *CommandBuffer) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(cb *CommandBuffer) error

// Submit calls f.
func (f SinkFunc) Submit(cb *CommandBuffer) error { return f(cb) }

// MemorySink keeps every submitted buffer.
type MemorySink struct {
	Buffers []*CommandBuffer
}

// Submit records cb.
func (s *MemorySink) Submit(cb *CommandBuffer) error {
	s.Buffers = append(s.Buffers, cb)
	return nil
}

// Last returns the most recent buffer, or nil.
func (s *MemorySink) Last() *CommandBuffer {
	if len(s.Buffers) == 0 {
		return nil
	}
	return s.Buffers[len(s.Buffers)-1]
}

// Tee submits to every sink in order and stops at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(cb *CommandBuffer) error {
		for _, s := range sinks {
			if err := s.Submit(cb); err != nil {
				return err
			}
		}
		return nil
	})
}
