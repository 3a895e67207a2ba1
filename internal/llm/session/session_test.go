package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_GetOrLoad_CachesValue(t *testing.T) {
	c := New()
	var loads int32
	load := func(ctx context.Context, key string) (any, time.Duration, error) {
		atomic.AddInt32(&loads, 1)
		return "value-for-" + key, time.Minute, nil
	}

	v1, err := c.GetOrLoad(context.Background(), "acct1", load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := c.GetOrLoad(context.Background(), "acct1", load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 != v2 {
		t.Fatalf("expected cached value to be stable: %v vs %v", v1, v2)
	}
	if atomic.LoadInt32(&loads) != 1 {
		t.Fatalf("expected exactly 1 load, got %d", loads)
	}
}

func TestCache_GetOrLoad_CoalescesConcurrentMisses(t *testing.T) {
	c := New()
	var loads int32
	release := make(chan struct{})
	load := func(ctx context.Context, key string) (any, time.Duration, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return "v", time.Minute, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrLoad(context.Background(), "shared", load); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&loads) != 1 {
		t.Fatalf("expected exactly 1 load across concurrent callers, got %d", loads)
	}
}

func TestCache_ExpiredEntryIsReloaded(t *testing.T) {
	c := New()
	var loads int32
	load := func(ctx context.Context, key string) (any, time.Duration, error) {
		n := atomic.AddInt32(&loads, 1)
		return n, time.Millisecond, nil
	}

	v1, _ := c.GetOrLoad(context.Background(), "k", load)
	time.Sleep(5 * time.Millisecond)
	v2, _ := c.GetOrLoad(context.Background(), "k", load)

	if v1 == v2 {
		t.Fatal("expected expired entry to be reloaded with a new value")
	}
}

func TestCache_Invalidate_ForcesReload(t *testing.T) {
	c := New()
	calls := 0
	load := func(ctx context.Context, key string) (any, time.Duration, error) {
		calls++
		return calls, time.Hour, nil
	}

	v1, _ := c.GetOrLoad(context.Background(), "k", load)
	c.Invalidate("k")
	v2, _ := c.GetOrLoad(context.Background(), "k", load)

	if v1 == v2 {
		t.Fatal("expected invalidate to force a new load")
	}
}

func TestCache_LoadErrorIsNotCached(t *testing.T) {
	c := New()
	attempt := 0
	load := func(ctx context.Context, key string) (any, time.Duration, error) {
		attempt++
		if attempt == 1 {
			return nil, 0, context.DeadlineExceeded
		}
		return "ok", time.Minute, nil
	}

	if _, err := c.GetOrLoad(context.Background(), "k", load); err == nil {
		t.Fatal("expected first load to fail")
	}
	v, err := c.GetOrLoad(context.Background(), "k", load)
	if err != nil || v != "ok" {
		t.Fatalf("expected second load to succeed with ok, got %v, %v", v, err)
	}
}

func TestCache_Sweep_RemovesOnlyExpired(t *testing.T) {
	c := New()
	load := func(ctx context.Context, key string) (any, time.Duration, error) {
		return "v", time.Hour, nil
	}
	shortLoad := func(ctx context.Context, key string) (any, time.Duration, error) {
		return "v", time.Millisecond, nil
	}

	c.GetOrLoad(context.Background(), "long", load)
	c.GetOrLoad(context.Background(), "short", shortLoad)
	time.Sleep(5 * time.Millisecond)

	c.Sweep()
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry to survive sweep, got %d", c.Len())
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatal("expected long-lived entry to survive")
	}
}
