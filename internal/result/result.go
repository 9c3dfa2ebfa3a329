// Package result defines the values execution nodes produce: constants,
// error values, multi results and lazily streamed objects.
package result

import (
	"errors"
	"fmt"
	"iter"
	"sort"
)

// Seq is a lazy sequence of values. A non-nil error ends the sequence.
type Seq = iter.Seq2[any, error]

// Result is produced by every execution node. Close releases the resources
// held by the result and those of its upstream results.
type Result interface {
	Close() error
}

// LastKey is the name a multi result records its last child under.
const LastKey = "@LAST"

// Constant wraps a realized value, or a Seq for lazily supplied values.
type Constant struct {
	Value any
}

func (*Constant) Close() error { return nil }

// Error is an error produced as a value.
type Error struct {
	Code    int
	Message string
	Payload any
}

func (*Error) Close() error { return nil }

func (e *Error) Error() string { return fmt.Sprintf("error result %d: %s", e.Code, e.Message) }

// Multi bundles named results.
type Multi struct {
	Results map[string]Result

	onClose []func() error
}

// OnClose registers f to run when m is closed, after its sub-results.
func (m *Multi) OnClose(f func() error) { m.onClose = append(m.onClose, f) }

// Last returns the result recorded under LastKey.
func (m *Multi) Last() Result { return m.Results[LastKey] }

// Names returns the recorded names in sorted order.
func (m *Multi) Names() []string {
	out := make([]string, 0, len(m.Results))
	for k := range m.Results {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close closes every distinct sub-result.
func (m *Multi) Close() error {
	seen := make(map[Result]bool, len(m.Results))
	var errs []error
	for _, name := range m.Names() {
		r := m.Results[name]
		if r == nil || seen[r] {
			continue
		}
		seen[r] = true
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	hooks := m.onClose
	m.onClose = nil
	for _, f := range hooks {
		if err := f(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrConsumed is yielded when a streaming result is iterated twice.
var ErrConsumed = errors.New("result: stream already consumed")
