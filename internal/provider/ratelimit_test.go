package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterMap_DefaultsForAllNames(t *testing.T) {
	m := NewRateLimiterMap(nil)
	for _, name := range AllNames() {
		if _, ok := m.limiters[name]; !ok {
			t.Errorf("no limiter for %s", name)
		}
	}
}

func TestRateLimiterMap_Wait(t *testing.T) {
	m := NewRateLimiterMap(map[Name]float64{NameNuke: 1000})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.Wait(ctx, NameNuke); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}

func TestRateLimiterMap_Throttles(t *testing.T) {
	m := NewRateLimiterMap(map[Name]float64{NameOllama: 10})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := m.Wait(ctx, NameOllama); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	// burst of 1 at 10/s: the 2nd and 3rd calls wait ~100ms each
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("3 waits took %v, expected throttling", elapsed)
	}
}

func TestRateLimiterMap_Disabled(t *testing.T) {
	m := NewRateLimiterMap(map[Name]float64{NameNuke: 0})
	if _, ok := m.limiters[NameNuke]; ok {
		t.Error("expected limiter to be removed")
	}
	if err := m.Wait(context.Background(), NameNuke); err != nil {
		t.Errorf("Wait on disabled limiter: %v", err)
	}
}

func TestRateLimiterMap_CanceledContext(t *testing.T) {
	m := NewRateLimiterMap(map[Name]float64{NameOllama: 0.001})
	ctx := context.Background()
	if err := m.Wait(ctx, NameOllama); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx, NameOllama); err == nil {
		t.Error("expected error when limiter cannot admit before deadline")
	}
}

func TestRateLimiterMap_NilMap(t *testing.T) {
	var m *RateLimiterMap
	if err := m.Wait(context.Background(), NameNuke); err != nil {
		t.Errorf("nil map Wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Wait(ctx, NameNuke); !errors.Is(err, context.Canceled) {
		t.Errorf("nil map Wait on canceled ctx = %v, want context.Canceled", err)
	}
}
