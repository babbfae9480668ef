package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var _ Executor = (*Pool)(nil)

func TestPoolPreservesIndexOrder(t *testing.T) {
	pool := NewIOPool(0)
	results := make([]int, 100)

	err := pool.Run(context.Background(), len(results), func(ctx context.Context, i int) error {
		// Later indices finish first.
		time.Sleep(time.Duration(100-i) * 10 * time.Microsecond)
		results[i] = i * i
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for i, v := range results {
		if v != i*i {
			t.Fatalf("results[%d] = %d, want %d", i, v, i*i)
		}
	}
}

func TestCPUPoolRespectsLimit(t *testing.T) {
	pool := NewCPUPool(3)
	if pool.Limit() != 3 {
		t.Fatalf("limit = %d, want 3", pool.Limit())
	}

	var inFlight, peak int64
	err := pool.Run(context.Background(), 30, func(ctx context.Context, i int) error {
		current := atomic.AddInt64(&inFlight, 1)
		for {
			observed := atomic.LoadInt64(&peak)
			if current <= observed || atomic.CompareAndSwapInt64(&peak, observed, current) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := atomic.LoadInt64(&peak); got > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", got)
	}
}

func TestPoolDefaults(t *testing.T) {
	tests := []struct {
		name      string
		pool      *Pool
		wantName  string
		wantLimit func(int) bool
	}{
		{name: "cpu uses GOMAXPROCS", pool: NewCPUPool(0), wantName: "cpu", wantLimit: func(l int) bool { return l > 0 }},
		{name: "io unbounded", pool: NewIOPool(-4), wantName: "io", wantLimit: func(l int) bool { return l == 0 }},
		{name: "io bounded", pool: NewIOPool(8), wantName: "io", wantLimit: func(l int) bool { return l == 8 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.pool.Name() != tt.wantName {
				t.Fatalf("name = %q, want %q", tt.pool.Name(), tt.wantName)
			}
			if !tt.wantLimit(tt.pool.Limit()) {
				t.Fatalf("unexpected limit %d", tt.pool.Limit())
			}
		})
	}
}

func TestPoolReturnsFirstErrorAndWaits(t *testing.T) {
	pool := NewIOPool(0)
	boom := errors.New("boom")

	var mu sync.Mutex
	started, finished := 0, 0
	err := pool.Run(context.Background(), 10, func(ctx context.Context, i int) error {
		mu.Lock()
		started++
		mu.Unlock()
		defer func() {
			mu.Lock()
			finished++
			mu.Unlock()
		}()
		if i == 3 {
			return boom
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return nil
	})

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if started != finished {
		t.Fatalf("started %d tasks but only %d finished before Run returned", started, finished)
	}
}

func TestPoolZeroTasks(t *testing.T) {
	called := false
	err := NewIOPool(0).Run(context.Background(), 0, func(ctx context.Context, i int) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if called {
		t.Fatalf("task called for n=0")
	}
}

func TestPoolCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	err := NewCPUPool(2).Run(ctx, 5, func(ctx context.Context, i int) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt64(&ran); got != 0 {
		t.Fatalf("%d tasks ran on a cancelled context", got)
	}
}
