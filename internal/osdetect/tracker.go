package osdetect

import (
	"context"
	"sync"

	"gitlab.com/tozd/go/errors"
)

// ErrCancelled resolves a detection that a newer one replaced. Callers
// ignore it rather than report it.
var ErrCancelled = errors.New("detection cancelled")

// DetectFunc runs one detection.
type DetectFunc func(ctx context.Context, path string) (Result, error)

// Tracker allows one outstanding detection at a time.
type Tracker struct {
	detect DetectFunc

	mu      sync.Mutex
	current uint64
	cancel  context.CancelCauseFunc
}

// NewTracker creates a Tracker running Detect.
func NewTracker() *Tracker {
	return &Tracker{detect: Detect}
}

// WithDetectFunc replaces the detection function, for tests.
func (t *Tracker) WithDetectFunc(fn DetectFunc) *Tracker {
	t.detect = fn
	return t
}

// Detect starts a detection for path and cancels any outstanding one,
// which then returns ErrCancelled.
func (t *Tracker) Detect(ctx context.Context, path string) (Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel(ErrCancelled)
	}
	t.current++
	id := t.current
	t.cancel = cancel
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.current == id {
			t.cancel = nil
		}
		t.mu.Unlock()
	}()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.detect(ctx, path)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		if cause := context.Cause(ctx); errors.Is(cause, ErrCancelled) {
			return Result{}, ErrCancelled
		}
		return Result{}, ctx.Err()
	case o := <-done:
		if errors.Is(context.Cause(ctx), ErrCancelled) {
			return Result{}, ErrCancelled
		}
		return o.res, o.err
	}
}

// IsCancelled reports whether err only means the detection was replaced.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
