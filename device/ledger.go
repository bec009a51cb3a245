// Package device emulates the device-side resources the refinement
// engines are built against: buffers with a padded row pitch, a memory
// ledger with a byte budget, and ordered command queues the host only
// joins at sync points.
package device

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrOutOfDeviceMemory is returned when an allocation would exceed the
// ledger budget.
var ErrOutOfDeviceMemory = errors.New("out of device memory")

// Ledger accounts every live buffer of one logical device. All buffers
// sharing a ledger draw from the same budget.
type Ledger struct {
	mu     sync.Mutex
	budget int64
	inUse  int64
	peak   int64
}

// NewLedger returns a ledger enforcing budgetBytes. A budget of zero or
// less means unbounded.
func NewLedger(budgetBytes int64) *Ledger {
	return &Ledger{budget: budgetBytes}
}

func (l *Ledger) reserve(bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget > 0 && l.inUse+bytes > l.budget {
		return errors.Wrapf(ErrOutOfDeviceMemory,
			"need %d bytes, %d of %d in use", bytes, l.inUse, l.budget)
	}
	l.inUse += bytes
	if l.inUse > l.peak {
		l.peak = l.inUse
	}
	return nil
}

func (l *Ledger) release(bytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inUse -= bytes
}

// BytesInUse returns the bytes currently allocated against the ledger.
func (l *Ledger) BytesInUse() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

// PeakBytes returns the allocation high-water mark.
func (l *Ledger) PeakBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// Budget returns the configured byte budget, zero when unbounded.
func (l *Ledger) Budget() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget
}
