package result

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hanpama/legend/internal/graphfetch"
)

// Builder describes the shape of streamed objects.
type Builder struct {
	Type    string           `json:"_type"`
	Class   string           `json:"class,omitempty"`
	Columns []string         `json:"columns,omitempty"`
	Tree    *graphfetch.Tree `json:"-"`
}

// Builder types.
const (
	BuilderObject = "object"
	BuilderTDS    = "tds"
	BuilderJSON   = "json"
)

// StreamingObject is a lazy, single consumer sequence of objects.
// Closing it runs its close hooks and then closes the upstream result, once.
type StreamingObject struct {
	seq      Seq
	builder  Builder
	upstream Result
	onClose  []func() error

	consumed atomic.Bool
	once     sync.Once
	closeErr error
}

// NewStreamingObject returns a streaming result over seq. upstream may be nil.
func NewStreamingObject(seq Seq, b Builder, upstream Result, onClose ...func() error) *StreamingObject {
	return &StreamingObject{seq: seq, builder: b, upstream: upstream, onClose: onClose}
}

// FromValues returns a streaming result over a materialized list.
func FromValues(values []any, b Builder) *StreamingObject {
	return NewStreamingObject(func(yield func(any, error) bool) {
		for _, v := range values {
			if !yield(v, nil) {
				return
			}
		}
	}, b, nil)
}

// Objects returns the object sequence. Only the first caller iterates the
// objects; later callers get ErrConsumed.
func (s *StreamingObject) Objects() Seq {
	return func(yield func(any, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}
		s.seq(yield)
	}
}

func (s *StreamingObject) Builder() Builder { return s.builder }

func (s *StreamingObject) Upstream() Result { return s.upstream }

// Close releases the stream. It is safe to call more than once.
func (s *StreamingObject) Close() error {
	s.once.Do(func() {
		var errs []error
		for _, f := range s.onClose {
			if err := f(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.upstream != nil {
			if err := s.upstream.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Values drains the objects into a list and closes the stream.
func (s *StreamingObject) Values() ([]any, error) {
	out, err := Collect(s.Objects())
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return out, err
}
