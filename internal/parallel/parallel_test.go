package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.NumWorkers = 4

	var counter int64
	n := 1000

	err := For(context.Background(), n, func(_ context.Context, _ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor_EveryIndexOnce(t *testing.T) {
	seen := make([]int32, 64)
	err := For(context.Background(), len(seen), func(_ context.Context, i int) error {
		atomic.AddInt32(&seen[i], 1)
		return nil
	}, WithWorkers(8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range seen {
		if v != 1 {
			t.Errorf("index %d ran %d times", i, v)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var order []int
	err := For(context.Background(), 5, func(_ context.Context, i int) error {
		order = append(order, i)
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Errorf("Expected order %d at %d, got %d", i, i, v)
		}
	}
}

func TestFor_WorkerLimit(t *testing.T) {
	var running, peak int64
	err := For(context.Background(), 32, func(_ context.Context, _ int) error {
		cur := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&running, -1)
		return nil
	}, WithWorkers(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak > 3 {
		t.Errorf("Expected at most 3 concurrent jobs, saw %d", peak)
	}
}

func TestFor_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	for _, cfg := range []Config{{Enabled: false}, WithWorkers(4)} {
		err := For(context.Background(), 100, func(ctx context.Context, i int) error {
			if i == 3 {
				return boom
			}
			return nil
		}, cfg)
		if !errors.Is(err, boom) {
			t.Errorf("Expected boom, got %v (workers %d)", err, cfg.NumWorkers)
		}
	}
}

func TestFor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var counter int64
	err := For(ctx, 10, func(_ context.Context, _ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}, Config{Enabled: false})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if counter != 0 {
		t.Errorf("Expected no jobs to run, got %d", counter)
	}
}

func TestWithWorkers(t *testing.T) {
	if cfg := WithWorkers(1); cfg.Enabled {
		t.Errorf("one worker must run sequentially")
	}
	if cfg := WithWorkers(0); cfg.NumWorkers < 1 {
		t.Errorf("Expected CPU count, got %d", cfg.NumWorkers)
	}
}
