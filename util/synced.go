package util

import "sync/atomic"

// SafeCounter is safe to use concurrently.
type SafeCounter struct {
	value atomic.Int64
}

// NewSafeInt creates a new SafeCounter.
func NewSafeInt() *SafeCounter {
	return &SafeCounter{}
}

// Increment increments the counter's value and returns the new value.
func (si *SafeCounter) Increment() int {
	return int(si.value.Add(1))
}

// Value returns the current value of the counter.
func (si *SafeCounter) Value() int {
	return int(si.value.Load())
}

// SafeFlag is a boolean that can double as a try-lock.
type SafeFlag struct {
	value atomic.Bool
}

// NewSafeBool creates a new cleared SafeFlag.
func NewSafeBool() *SafeFlag {
	return &SafeFlag{}
}

// Set sets the value of the flag and returns the new value.
func (sb *SafeFlag) Set(newValue bool) bool {
	sb.value.Store(newValue)
	return newValue
}

// Value returns the current value of the flag.
func (sb *SafeFlag) Value() bool {
	return sb.value.Load()
}

// TryAcquire sets the flag only if it is currently false and reports whether it did.
func (sb *SafeFlag) TryAcquire() bool {
	return sb.value.CompareAndSwap(false, true)
}

// Release clears the flag.
func (sb *SafeFlag) Release() {
	sb.value.Store(false)
}
