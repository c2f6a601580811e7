package taskloop

import (
	"errors"
	"testing"
)

// TestPoller_NegativeFD verifies descriptors that cannot be carried in a
// kevent ident are rejected up front.
func TestPoller_NegativeFD(t *testing.T) {
	p, err := newPoller(4)
	if err != nil {
		t.Fatalf("newPoller: %v", err)
	}
	t.Cleanup(func() { _ = p.close() })

	if err := p.add(-1, Readable); !errors.Is(err, ErrFDOutOfRange) {
		t.Fatalf("add: expected ErrFDOutOfRange, got %v", err)
	}
}
