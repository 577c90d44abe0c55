// Package batch coalesces per-item inference requests into size-or-timeout
// triggered batches so that per-call overhead is amortized across items.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies one operation kind with its own batching window.
type Kind string

const (
	KindEmbedding     Kind = "embedding"
	KindOCR           Kind = "ocr"
	KindImageAnalysis Kind = "image_analysis"
)

var (
	// ErrWindowClosed is returned by Enqueue after Close.
	ErrWindowClosed = errors.New("batch window closed")
	// ErrResultCountMismatch is returned when a flusher violates the 1:1
	// result contract.
	ErrResultCountMismatch = errors.New("flusher returned wrong result count")
)

// Config parameterizes one window. MaxWait bounds the worst-case latency an
// item waits before its batch is flushed; BatchSize triggers an immediate
// flush when reached.
type Config struct {
	BatchSize int
	MaxWait   time.Duration
	// SizeLimit, when set, caps the effective batch size per enqueue. The
	// governor's adaptive limit plugs in here so a degraded tier shrinks
	// batches without reconfiguring the window. Values below 1 are ignored.
	SizeLimit func() int
}

// DefaultConfig returns the per-kind defaults. Embeddings have a low fixed
// cost per call and use a short wait; OCR and image analysis have higher
// fixed costs and tolerate a longer wait for fuller batches.
func DefaultConfig(kind Kind) Config {
	switch kind {
	case KindOCR:
		return Config{BatchSize: 4, MaxWait: 3 * time.Second}
	case KindImageAnalysis:
		return Config{BatchSize: 8, MaxWait: 5 * time.Second}
	default:
		return Config{BatchSize: 8, MaxWait: 2 * time.Second}
	}
}

func (c Config) withDefaults(kind Kind) Config {
	def := DefaultConfig(kind)
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = def.MaxWait
	}
	return c
}

// Flusher performs one batched inference call. Results must map 1:1 to items
// in submission order.
type Flusher[T, R any] func(ctx context.Context, items []T) ([]R, error)

type outcome[R any] struct {
	result R
	err    error
}

type waiter[T, R any] struct {
	item T
	ch   chan outcome[R]
}

// Window accumulates items for one operation kind and flushes them as a
// single call when the batch size is reached or MaxWait elapses, whichever
// comes first. A batch-level failure fails every waiter in that batch
// identically.
type Window[T, R any] struct {
	kind    Kind
	cfg     Config
	flush   Flusher[T, R]
	logger  *slog.Logger
	flushes atomic.Int64

	mu      sync.Mutex
	pending []waiter[T, R]
	timer   *time.Timer
	closed  bool
}

// NewWindow creates a window for one operation kind. Zero config fields fall
// back to DefaultConfig(kind).
func NewWindow[T, R any](kind Kind, cfg Config, flush Flusher[T, R], logger *slog.Logger) *Window[T, R] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Window[T, R]{
		kind:   kind,
		cfg:    cfg.withDefaults(kind),
		flush:  flush,
		logger: logger.With("batch_kind", string(kind)),
	}
}

// Enqueue appends an item to the window and suspends the caller until its
// batch flushes or ctx is done. Oversized inputs must be pre-segmented by the
// caller; each segment is an independent item.
func (w *Window[T, R]) Enqueue(ctx context.Context, item T) (R, error) {
	var zero R

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return zero, ErrWindowClosed
	}

	wt := waiter[T, R]{item: item, ch: make(chan outcome[R], 1)}
	w.pending = append(w.pending, wt)

	if len(w.pending) >= w.sizeLocked() {
		ready := w.takeLocked()
		w.mu.Unlock()
		go w.flushBatch(context.WithoutCancel(ctx), ready)
	} else {
		if len(w.pending) == 1 {
			// First item opens the window and arms the deadline.
			w.timer = time.AfterFunc(w.cfg.MaxWait, w.flushOnTimeout)
		}
		w.mu.Unlock()
	}

	select {
	case out := <-wt.ch:
		return out.result, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Flushes returns the number of batches flushed so far.
func (w *Window[T, R]) Flushes() int64 {
	return w.flushes.Load()
}

// Close flushes any pending items and rejects further enqueues.
func (w *Window[T, R]) Close(ctx context.Context) {
	w.mu.Lock()
	w.closed = true
	ready := w.takeLocked()
	w.mu.Unlock()

	if len(ready) > 0 {
		w.flushBatch(ctx, ready)
	}
}

// sizeLocked returns the effective batch size: the configured size, capped
// by SizeLimit when one is installed. Callers must hold w.mu.
func (w *Window[T, R]) sizeLocked() int {
	size := w.cfg.BatchSize
	if w.cfg.SizeLimit != nil {
		if limit := w.cfg.SizeLimit(); limit > 0 && limit < size {
			size = limit
		}
	}
	return size
}

// takeLocked detaches the pending list and disarms the timer. Callers must
// hold w.mu.
func (w *Window[T, R]) takeLocked() []waiter[T, R] {
	ready := w.pending
	w.pending = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return ready
}

func (w *Window[T, R]) flushOnTimeout() {
	w.mu.Lock()
	ready := w.takeLocked()
	w.mu.Unlock()

	if len(ready) > 0 {
		w.flushBatch(context.Background(), ready)
	}
}

func (w *Window[T, R]) flushBatch(ctx context.Context, ready []waiter[T, R]) {
	w.flushes.Add(1)

	items := make([]T, len(ready))
	for i, wt := range ready {
		items[i] = wt.item
	}

	results, err := w.flush(ctx, items)
	if err == nil && len(results) != len(items) {
		err = fmt.Errorf("%w: got %d for %d items", ErrResultCountMismatch, len(results), len(items))
	}
	if err != nil {
		w.logger.Warn("batch flush failed", "size", len(items), "error", err)
		for _, wt := range ready {
			wt.ch <- outcome[R]{err: err}
		}
		return
	}

	for i, wt := range ready {
		wt.ch <- outcome[R]{result: results[i]}
	}
}
