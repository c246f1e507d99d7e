// Package testing provides test helpers for the meteo packages.
//
// Using t.Fatal() or t.FailNow() in goroutines causes undefined behavior because
// these methods call runtime.Goexit() which only terminates the current goroutine,
// not the test goroutine. TestHelper collects errors from goroutines instead.
package testing

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestHelper manages error collection from goroutines.
//
// Usage:
//
//	func TestConcurrent(t *testing.T) {
//	    h := NewTestHelper(t)
//	    defer h.Wait()
//
//	    for i := 0; i < 10; i++ {
//	        h.Add(1)
//	        go func(id int) {
//	            defer h.Done()
//	            if got := rb.Len(); got > rb.Cap() {
//	                h.Errorf("reader %d: len %d exceeds capacity", id, got)
//	            }
//	        }(i)
//	    }
//	}
type TestHelper struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
}

// NewTestHelper creates a new test helper.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		t:      t,
		errors: make(chan error, 100),
	}
}

// Add increments the goroutine counter.
func (h *TestHelper) Add(delta int) {
	h.wg.Add(delta)
}

// Done decrements the goroutine counter.
func (h *TestHelper) Done() {
	h.wg.Done()
}

// Go runs fn in a goroutine tracked by the helper and records its error.
func (h *TestHelper) Go(fn func() error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.Error(fn())
	}()
}

// Errorf records a test error from a goroutine.
// This is safe to call from any goroutine.
func (h *TestHelper) Errorf(format string, args ...interface{}) {
	select {
	case h.errors <- fmt.Errorf(format, args...):
	default:
		// Buffer full, error will be lost but test will still fail
	}
}

// Error records a test error from a goroutine.
func (h *TestHelper) Error(err error) {
	if err == nil {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Wait waits for all goroutines and reports any errors.
// Must be called (typically via defer) to ensure errors are reported.
func (h *TestHelper) Wait() {
	h.wg.Wait()
	close(h.errors)

	var failed bool
	for err := range h.errors {
		h.t.Errorf("goroutine error: %v", err)
		failed = true
	}

	if failed {
		h.t.FailNow()
	}
}

// WithTimeout runs a function with a timeout.
//
// Example:
//
//	err := testing.WithTimeout(5*time.Second, func() error {
//	    return pipeline.Run(ctx, events)
//	})
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// Eventually waits for a condition to become true.
//
// Example:
//
//	err := testing.Eventually(5*time.Second, 20*time.Millisecond, func() bool {
//	    return conn.Connected()
//	})
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}
