package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelaySchedule(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 5 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestPolicyDelayEmptySchedule(t *testing.T) {
	if got := (Policy{}).Delay(0); got != time.Second {
		t.Fatalf("Delay = %s, want 1s fallback", got)
	}
}

func TestPollUntilSucceeds(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Millisecond}, MaxAttempts: 5}
	calls := 0
	err := PollUntil(context.Background(), p, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestPollUntilExhaustsAttempts(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Millisecond}, MaxAttempts: 3}
	calls := 0
	err := PollUntil(context.Background(), p, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrPollExhausted) {
		t.Fatalf("err = %v, want ErrPollExhausted", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestPollUntilPropagatesError(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Millisecond}, MaxAttempts: 5}
	boom := errors.New("boom")
	calls := 0
	err := PollUntil(context.Background(), p, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPollUntilHonorsContext(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Hour}, MaxAttempts: 2}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := PollUntil(ctx, p, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPollUntilMaxElapsed(t *testing.T) {
	p := Policy{Delays: []time.Duration{50 * time.Millisecond}, MaxAttempts: 100, MaxElapsed: 10 * time.Millisecond}
	err := PollUntil(context.Background(), p, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrPollExhausted) {
		t.Fatalf("err = %v, want ErrPollExhausted", err)
	}
}

func TestRegistryLookupAndDefaults(t *testing.T) {
	r := NewRegistry(DefaultCatalog()...)
	mc, ok := r.Lookup("flux-schnell")
	if !ok {
		t.Fatalf("flux-schnell missing from catalog")
	}
	if mc.Provider != "fluxgen" {
		t.Fatalf("provider = %q", mc.Provider)
	}
	if _, ok := r.Lookup("unknown-model"); ok {
		t.Fatalf("unknown model resolved")
	}

	merged := mc.MergedParams(map[string]any{"size": "512x512"})
	if merged["size"] != "512x512" {
		t.Fatalf("caller value must win: %v", merged["size"])
	}
	if merged["n"] != 1 {
		t.Fatalf("default missing: %v", merged["n"])
	}
}
