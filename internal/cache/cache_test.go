package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stratumops/quotawarden/internal/clock"
)

func TestGetCachesWithinTTL(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	c := New[string](clk)

	calls := 0
	loader := func(ctx context.Context) (string, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), "k", time.Minute, false, loader)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "value" {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("loader ran %d times, want 1", calls)
	}
}

func TestGetReloadsAfterExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	c := New[int](clk)

	calls := 0
	loader := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	if got, _ := c.Get(context.Background(), "k", time.Minute, false, loader); got != 1 {
		t.Fatalf("first get = %d", got)
	}
	clk.Advance(59 * time.Second)
	if got, _ := c.Get(context.Background(), "k", time.Minute, false, loader); got != 1 {
		t.Fatalf("fresh get = %d, want cached 1", got)
	}
	clk.Advance(2 * time.Second)
	if got, _ := c.Get(context.Background(), "k", time.Minute, false, loader); got != 2 {
		t.Fatalf("stale get = %d, want reloaded 2", got)
	}
}

func TestGetCoalescesConcurrentLoads(t *testing.T) {
	c := New[string](clock.System{})

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "loaded", nil
	}

	const waiters = 5
	results := make([]string, waiters)
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "k", time.Minute, false, loader)
		}(i)
	}

	// Let every goroutine reach the cache before the loader returns.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader ran %d times, want 1", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d error: %v", i, errs[i])
		}
		if results[i] != "loaded" {
			t.Fatalf("waiter %d got %q", i, results[i])
		}
	}
}

func TestGetPropagatesErrorAndKeepsStaleValue(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	c := New[string](clk)

	if _, err := c.Get(context.Background(), "k", time.Minute, false, func(ctx context.Context) (string, error) {
		return "old", nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clk.Advance(2 * time.Minute)

	loadErr := errors.New("backend down")
	failing := func(ctx context.Context) (string, error) { return "", loadErr }

	release := make(chan struct{})
	blocking := func(ctx context.Context) (string, error) {
		<-release
		return "", loadErr
	}

	var wg sync.WaitGroup
	waitErrs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, waitErrs[0] = c.Get(context.Background(), "k", time.Minute, false, blocking)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		_, waitErrs[1] = c.Get(context.Background(), "k", time.Minute, false, failing)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range waitErrs {
		if !errors.Is(err, loadErr) {
			t.Fatalf("caller %d error = %v, want backend error", i, err)
		}
	}

	// Stale value survives the failed refresh.
	if val, ok := c.Peek("k"); !ok || val != "old" {
		t.Fatalf("stale value lost: %q %v", val, ok)
	}

	// Next call retries the loader.
	got, err := c.Get(context.Background(), "k", time.Minute, false, func(ctx context.Context) (string, error) {
		return "new", nil
	})
	if err != nil || got != "new" {
		t.Fatalf("retry get = %q, %v", got, err)
	}
}

func TestGetForceRefresh(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	c := New[int](clk)

	calls := 0
	loader := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	if got, _ := c.Get(context.Background(), "k", time.Hour, false, loader); got != 1 {
		t.Fatalf("first get = %d", got)
	}
	if got, _ := c.Get(context.Background(), "k", time.Hour, true, loader); got != 2 {
		t.Fatalf("forced get = %d, want fresh 2", got)
	}
	if got, _ := c.Get(context.Background(), "k", time.Hour, false, loader); got != 2 {
		t.Fatalf("followup get = %d, want cached 2", got)
	}
}

func TestClearAndInvalidate(t *testing.T) {
	c := New[int](clock.System{})

	loaderVal := 0
	loader := func(ctx context.Context) (int, error) {
		loaderVal++
		return loaderVal, nil
	}

	c.Get(context.Background(), "a", time.Hour, false, loader)
	c.Get(context.Background(), "b", time.Hour, false, loader)
	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}

	c.Invalidate("a")
	if _, ok := c.Peek("a"); ok {
		t.Fatalf("a should be gone")
	}
	if _, ok := c.Peek("b"); !ok {
		t.Fatalf("b should remain")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after clear = %d", c.Len())
	}
}

func TestWaiterHonorsContext(t *testing.T) {
	c := New[string](clock.System{})

	release := make(chan struct{})
	defer close(release)
	go c.Get(context.Background(), "k", time.Minute, false, func(ctx context.Context) (string, error) {
		<-release
		return "late", nil
	})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "k", time.Minute, false, func(ctx context.Context) (string, error) {
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEventClaims(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	claims := NewEventClaims(client, time.Hour)
	ctx := context.Background()

	if !claims.Claim(ctx, "ev-1") {
		t.Fatalf("first claim should win")
	}
	if claims.Claim(ctx, "ev-1") {
		t.Fatalf("second claim should lose")
	}

	claims.Release(ctx, "ev-1")
	if !claims.Claim(ctx, "ev-1") {
		t.Fatalf("claim after release should win")
	}

	// A nil client never blocks ingestion.
	var disabled *EventClaims
	if !disabled.Claim(ctx, "ev-2") {
		t.Fatalf("disabled claims must allow")
	}
}
