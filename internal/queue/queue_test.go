package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPriorityOrder(t *testing.T) {
	q := NewAsyncQueue("k", 1, nil)

	var mu sync.Mutex
	var order []int

	block := make(chan struct{})
	started := make(chan struct{})
	first := q.Add(context.Background(), 1, func(ctx context.Context) error {
		close(started)
		<-block
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return nil
	})
	<-started

	h0 := q.Add(context.Background(), 0, func(ctx context.Context) error {
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
		return nil
	})
	h5 := q.Add(context.Background(), 5, func(ctx context.Context) error {
		mu.Lock()
		order = append(order, 5)
		mu.Unlock()
		return nil
	})
	h10 := q.Add(context.Background(), 10, func(ctx context.Context) error {
		mu.Lock()
		order = append(order, 10)
		mu.Unlock()
		return nil
	})

	close(block)
	first.Wait()
	h10.Wait()
	h5.Wait()
	h0.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 10, 5, 0}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

func TestCancelBeforeStart(t *testing.T) {
	q := NewAsyncQueue("k", 1, nil)
	block := make(chan struct{})
	defer close(block)
	q.Add(context.Background(), 0, func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	h := q.Add(ctx, 0, func(ctx context.Context) error {
		ran = true
		return nil
	})
	cancel()
	if err := h.Wait(); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if ran {
		t.Fatalf("task should not have run after pre-start cancel")
	}
}

func TestNamedAsyncQueueLazyCreate(t *testing.T) {
	n := NewNamedAsyncQueue(nil)
	if _, _, ok := n.Stats("missing"); ok {
		t.Fatalf("expected no stats before first use")
	}
	h := n.Add(context.Background(), "a", 1, 0, func(ctx context.Context) error { return nil })
	h.Wait()
	if _, _, ok := n.Stats("a"); !ok {
		t.Fatalf("expected stats after first use")
	}
}

func TestConcurrencyTakesMax(t *testing.T) {
	n := NewNamedAsyncQueue(nil)
	n.queueFor("k", 2)
	q := n.queueFor("k", 5)
	if q.concurrency != 5 {
		t.Fatalf("expected concurrency to take the max, got %d", q.concurrency)
	}
	n.queueFor("k", 1)
	if q.concurrency != 5 {
		t.Fatalf("concurrency should never shrink, got %d", q.concurrency)
	}
}

func TestAddDoesNotHang(t *testing.T) {
	q := NewAsyncQueue("k", 3, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		h := q.Add(context.Background(), i%5, func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			return nil
		})
		wg.Add(1)
		go func() { defer wg.Done(); h.Wait() }()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tasks")
	}
}
