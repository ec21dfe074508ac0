// Package sessionid allocates identifiers for milter connections.
package sessionid

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Allocator hands out one identifier per accepted connection.
// Implementations must be safe for concurrent use.
type Allocator interface {
	Next() string
}

// Kind names an allocator implementation in configuration.
type Kind string

const (
	// KindCounter yields process-wide increasing integers.
	KindCounter Kind = "counter"
	// KindUUID yields random version 4 UUIDs.
	KindUUID Kind = "uuid"
)

// Counter is a monotonic allocator. The zero value starts at 1.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a Counter whose first identifier is start+1.
func NewCounter(start uint64) *Counter {
	c := &Counter{}
	c.n.Store(start)
	return c
}

// Next returns the next integer identifier.
func (c *Counter) Next() string {
	return strconv.FormatUint(c.n.Add(1), 10)
}

// UUID allocates random identifiers.
type UUID struct{}

// Next returns a new random UUID string.
func (UUID) Next() string {
	return uuid.NewString()
}

// New returns the allocator for kind. An empty kind selects the counter.
func New(kind Kind) (Allocator, error) {
	switch kind {
	case "", KindCounter:
		return NewCounter(0), nil
	case KindUUID:
		return UUID{}, nil
	default:
		return nil, fmt.Errorf("unknown session id allocator %q", kind)
	}
}

// Valid reports whether kind names a known allocator.
func Valid(kind Kind) bool {
	switch kind {
	case "", KindCounter, KindUUID:
		return true
	default:
		return false
	}
}
