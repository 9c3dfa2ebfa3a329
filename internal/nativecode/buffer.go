package nativecode

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrBufferClosed is returned by writes to a finalized unit buffer.
	ErrBufferClosed = errors.New("nativecode: unit buffer closed")
	// ErrBufferOpen is returned when reading a buffer that was never closed.
	ErrBufferOpen = errors.New("nativecode: unit buffer not finalized")
)

// UnitBuffer holds the compiled form of one unit in memory. Writes are
// synchronized; Close finalizes the content.
type UnitBuffer struct {
	name string

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewUnitBuffer returns an open buffer for the named unit.
func NewUnitBuffer(name string) *UnitBuffer { return &UnitBuffer{name: name} }

// Name returns the qualified unit name.
func (b *UnitBuffer) Name() string { return b.name }

func (b *UnitBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("%w: %s", ErrBufferClosed, b.name)
	}
	return b.buf.Write(p)
}

// Close finalizes the buffer. Closing twice is a no-op.
func (b *UnitBuffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Bytes returns the finalized content.
func (b *UnitBuffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		return nil, fmt.Errorf("%w: %s", ErrBufferOpen, b.name)
	}
	return bytes.Clone(b.buf.Bytes()), nil
}
