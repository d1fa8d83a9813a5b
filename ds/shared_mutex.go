package ds

import (
	"sync"
	"sync/atomic"
)

// SharedMutex is a reader/writer lock built from two plain mutexes and a
// reader count. The first reader to arrive takes the exclusive mutex on
// behalf of every reader and the last reader to leave releases it, so
// readers that join an active read phase only touch the counter.
//
// Writers can starve under a sustained stream of readers.
//
// The zero value is an unlocked SharedMutex. A SharedMutex must not be
// copied after first use.
type SharedMutex struct {
	excl      sync.Mutex // held by a writer, or by the read phase as a whole
	admission sync.Mutex // guards 0<->1 transitions of readers
	readers   atomic.Int32
}

// Lock acquires m exclusively.
func (m *SharedMutex) Lock() {
	m.excl.Lock()
}

// Unlock releases an exclusive hold.
func (m *SharedMutex) Unlock() {
	m.excl.Unlock()
}

// TryLock acquires m exclusively if that can be done without blocking.
func (m *SharedMutex) TryLock() bool {
	return m.excl.TryLock()
}

// RLock acquires m shared.
func (m *SharedMutex) RLock() {
	m.admission.Lock()
	if m.readers.Add(1) == 1 {
		// blocks later readers on admission until the writer leaves
		m.excl.Lock()
	}
	m.admission.Unlock()
}

// RUnlock releases a shared hold. It may be called from a different
// goroutine than the one that called RLock.
func (m *SharedMutex) RUnlock() {
	m.admission.Lock()
	n := m.readers.Add(-1)
	if n < 0 {
		m.admission.Unlock()
		panic("ds: RUnlock of unlocked SharedMutex")
	}
	if n == 0 {
		m.excl.Unlock()
	}
	m.admission.Unlock()
}

// TryRLock acquires m shared if that can be done without blocking. It fails
// when a writer holds m, and may also fail spuriously while another reader
// is being admitted.
func (m *SharedMutex) TryRLock() bool {
	if !m.admission.TryLock() {
		return false
	}
	defer m.admission.Unlock()
	if m.readers.Load() == 0 && !m.excl.TryLock() {
		return false
	}
	m.readers.Add(1)
	return true
}

// Readers returns the number of shared holders at the moment of the call.
func (m *SharedMutex) Readers() int {
	return int(m.readers.Load())
}

// RLocker returns a sync.Locker that maps Lock/Unlock to RLock/RUnlock.
func (m *SharedMutex) RLocker() sync.Locker {
	return (*rlocker)(m)
}

type rlocker SharedMutex

func (r *rlocker) Lock()   { (*SharedMutex)(r).RLock() }
func (r *rlocker) Unlock() { (*SharedMutex)(r).RUnlock() }
