package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoFlusher records batch sizes and maps each item to its uppercase-ish
// transform so result order can be checked against submission order.
func echoFlusher(sizes *[]int, mu *sync.Mutex) Flusher[string, string] {
	return func(ctx context.Context, items []string) ([]string, error) {
		mu.Lock()
		*sizes = append(*sizes, len(items))
		mu.Unlock()

		out := make([]string, len(items))
		for i, it := range items {
			out[i] = "r:" + it
		}
		return out, nil
	}
}

func TestWindowFlushesAtBatchSize(t *testing.T) {
	var (
		sizes []int
		mu    sync.Mutex
	)
	w := NewWindow(KindEmbedding, Config{BatchSize: 4, MaxWait: time.Minute}, echoFlusher(&sizes, &mu), nil)

	const n = 12
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := w.Enqueue(context.Background(), fmt.Sprintf("item-%d", i))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	// N items into a window of size B produce exactly ceil(N/B) flushes.
	assert.EqualValues(t, 3, w.Flushes())
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("r:item-%d", i), results[i])
	}
	mu.Lock()
	defer mu.Unlock()
	for _, s := range sizes {
		assert.Equal(t, 4, s)
	}
}

func TestWindowFlushesOnTimeout(t *testing.T) {
	var (
		sizes []int
		mu    sync.Mutex
	)
	w := NewWindow(KindEmbedding, Config{BatchSize: 4, MaxWait: 50 * time.Millisecond}, echoFlusher(&sizes, &mu), nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := w.Enqueue(context.Background(), fmt.Sprintf("t-%d", i))
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("r:t-%d", i), res)
		}(i)
	}
	wg.Wait()

	// Three items then silence: one auto-flush with exactly those three.
	assert.EqualValues(t, 1, w.Flushes())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sizes, 1)
	assert.Equal(t, 3, sizes[0])
}

func TestWindowHonorsAdaptiveSizeLimit(t *testing.T) {
	var (
		sizes []int
		mu    sync.Mutex
		limit atomic.Int64
	)
	limit.Store(4)
	w := NewWindow(KindEmbedding, Config{
		BatchSize: 8,
		MaxWait:   time.Minute,
		SizeLimit: func() int { return int(limit.Load()) },
	}, echoFlusher(&sizes, &mu), nil)

	enqueue := func(n int) {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := w.Enqueue(context.Background(), fmt.Sprintf("a-%d", i))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
	}

	enqueue(4)
	assert.EqualValues(t, 1, w.Flushes())

	// A degraded limit shrinks subsequent batches without reconfiguration.
	limit.Store(2)
	enqueue(4)
	assert.EqualValues(t, 3, w.Flushes())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sizes, 3)
	assert.Equal(t, 4, sizes[0])
	assert.Equal(t, 2, sizes[1])
	assert.Equal(t, 2, sizes[2])
}

func TestWindowBatchFailureFailsAllWaiters(t *testing.T) {
	boom := errors.New("backend down")
	w := NewWindow(KindOCR, Config{BatchSize: 2, MaxWait: time.Minute}, func(ctx context.Context, items []string) ([]string, error) {
		return nil, boom
	}, nil)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Enqueue(context.Background(), "x")
		}(i)
	}
	wg.Wait()

	assert.ErrorIs(t, errs[0], boom)
	assert.ErrorIs(t, errs[1], boom)
}

func TestWindowResultCountMismatch(t *testing.T) {
	w := NewWindow(KindEmbedding, Config{BatchSize: 1, MaxWait: time.Minute}, func(ctx context.Context, items []string) ([]string, error) {
		return []string{}, nil
	}, nil)

	_, err := w.Enqueue(context.Background(), "x")
	assert.ErrorIs(t, err, ErrResultCountMismatch)
}

func TestWindowEnqueueAfterClose(t *testing.T) {
	w := NewWindow(KindEmbedding, Config{BatchSize: 2, MaxWait: time.Minute}, func(ctx context.Context, items []string) ([]string, error) {
		out := make([]string, len(items))
		return out, nil
	}, nil)
	w.Close(context.Background())

	_, err := w.Enqueue(context.Background(), "x")
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestWindowEnqueueHonorsContext(t *testing.T) {
	w := NewWindow(KindEmbedding, Config{BatchSize: 100, MaxWait: time.Hour}, func(ctx context.Context, items []string) ([]string, error) {
		return make([]string, len(items)), nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Enqueue(ctx, "never flushed")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultConfigPerKind(t *testing.T) {
	assert.Equal(t, 2*time.Second, DefaultConfig(KindEmbedding).MaxWait)
	assert.Equal(t, 3*time.Second, DefaultConfig(KindOCR).MaxWait)
	assert.Equal(t, 5*time.Second, DefaultConfig(KindImageAnalysis).MaxWait)
}
