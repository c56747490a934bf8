// Package lifecycle tracks the resources a provisioning run acquires and
// releases them exactly once, whatever the reason the run ends.
package lifecycle

import (
	"slices"
	"sync"
)

// Ledger is the run-scoped set of mounted paths and transient files.
type Ledger struct {
	mu      sync.Mutex
	mounts  []string
	files   []string
	writing string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// TrackMount records a mount point to unmount at cleanup.
func (l *Ledger) TrackMount(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.mounts, path) {
		l.mounts = append(l.mounts, path)
	}
}

// TrackFile records a transient file to remove at cleanup.
func (l *Ledger) TrackFile(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.files, path) {
		l.files = append(l.files, path)
	}
}

// Forget drops path from the ledger once its owner has released it.
func (l *Ledger) Forget(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mounts = slices.DeleteFunc(l.mounts, func(p string) bool { return p == path })
	l.files = slices.DeleteFunc(l.files, func(p string) bool { return p == path })
}

// BeginWrite marks a destructive write to device as in flight.
func (l *Ledger) BeginWrite(device string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writing = device
}

// EndWrite clears the in-flight write marker.
func (l *Ledger) EndWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writing = ""
}

// Writing returns the device being written, if any.
func (l *Ledger) Writing() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writing
}

// Mounts returns a copy of the tracked mount points.
func (l *Ledger) Mounts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.mounts)
}

// Files returns a copy of the tracked transient files.
func (l *Ledger) Files() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.files)
}

// drain empties the ledger and returns what it held.
func (l *Ledger) drain() (mounts, files []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mounts, files = l.mounts, l.files
	l.mounts, l.files = nil, nil
	return mounts, files
}
