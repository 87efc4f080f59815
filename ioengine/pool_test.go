package ioengine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cubist-project/cubist/cubisterr"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := New(context.Background(), 4)
	var n int64
	for i := 0; i < 50; i++ {
		p.Go(func(ctx context.Context) error {
			atomic.AddInt64(&n, 1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if n != 50 {
		t.Errorf("n = %d, want 50", n)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(context.Background(), 3)
	var cur, max int64
	for i := 0; i < 30; i++ {
		p.Go(func(ctx context.Context) error {
			c := atomic.AddInt64(&cur, 1)
			for {
				m := atomic.LoadInt64(&max)
				if c <= m || atomic.CompareAndSwapInt64(&max, m, c) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&cur, -1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if max > 3 {
		t.Errorf("observed concurrency %d, want <= 3", max)
	}
}

func TestPoolPropagatesFirstError(t *testing.T) {
	p := New(context.Background(), 2)
	want := errors.New("boom")
	p.Go(func(ctx context.Context) error { return want })

	err := p.Wait()
	if err == nil || !errors.Is(err, want) {
		t.Errorf("Wait() = %v, want wrapped %v", err, want)
	}
}

func TestPoolCancelsOnFailure(t *testing.T) {
	p := New(context.Background(), 1)
	p.Go(func(ctx context.Context) error { return errors.New("fail") })
	p.Go(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
			t.Error("context was not cancelled after first job failed")
			return nil
		}
	})
	_ = p.Wait()
}

func TestPoolSelfCancellationNotReportedAsError(t *testing.T) {
	p := New(context.Background(), 1)
	p.Go(func(ctx context.Context) error { return context.Canceled })
	if err := p.Wait(); err != nil {
		t.Errorf("Wait() = %v, want nil for self-inflicted cancellation", err)
	}
}

func TestPoolWrappedCancellationNotReportedAsError(t *testing.T) {
	p := New(context.Background(), 1)
	p.Go(func(ctx context.Context) error {
		return fmt.Errorf("%w: %v", cubisterr.ErrCancelled, context.Canceled)
	})
	if err := p.Wait(); err != nil {
		t.Errorf("Wait() = %v, want nil for a wrapped ErrCancelled, matching how chunk.Chunker.Split reports it", err)
	}
}
