package glasspool

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := New("test", 2, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Fatalf("expected 5 jobs run, got %d", count)
	}
}

func TestPoolHealthyAfterStart(t *testing.T) {
	p := New("test", 1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	if !p.Healthy(time.Second) {
		t.Fatal("expected pool healthy shortly after starting")
	}
}

func TestPoolJobPanicDoesNotKillWorker(t *testing.T) {
	p := New("test", 1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Submit(func() { panic("boom") })

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	p.Submit(func() {
		defer wg.Done()
		ran = true
	})
	wg.Wait()
	if !ran {
		t.Fatal("expected worker to keep processing jobs after a panic")
	}
}
