package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	tests := []struct {
		config RateLimiterConfig
		want   float64
	}{
		{RateLimiterConfig{}, 100},
		{RateLimiterConfig{Rate: 0.5}, 1},
		{RateLimiterConfig{Rate: 1, Burst: 4}, 4},
	}
	for _, tt := range tests {
		if got := NewRateLimiter(tt.config).Tokens(); got < tt.want-0.01 || got > tt.want+0.01 {
			t.Errorf("NewRateLimiter(%+v).Tokens() = %v, want %v", tt.config, got, tt.want)
		}
	}
}

func TestRateLimiter_FailFast(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2})

	calls := 0
	op := func(context.Context) error {
		calls++
		return nil
	}
	for i := 0; i < 2; i++ {
		if err := rl.Execute(context.Background(), op); err != nil {
			t.Fatalf("Execute() #%d = %v, want nil within burst", i+1, err)
		}
	}
	if err := rl.Execute(context.Background(), op); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Execute() beyond burst = %v, want ErrRateLimited", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRateLimiter_Wait(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		maxWait time.Duration
		cancel  bool
		want    error
	}{
		{"token within max wait", 50, time.Second, false, nil},
		{"token later than max wait", 1, 10 * time.Millisecond, false, ErrRateLimited},
		{"cancelled caller", 50, time.Second, true, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(RateLimiterConfig{Rate: tt.rate, Burst: 1, MaxWait: tt.maxWait})
			if !rl.Allow() {
				t.Fatal("Allow() on full bucket = false")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			start := time.Now()
			err := rl.Wait(ctx)
			if !errors.Is(err, tt.want) {
				t.Errorf("Wait() = %v, want %v", err, tt.want)
			}
			if tt.want == ErrRateLimited && time.Since(start) > 5*time.Millisecond {
				t.Errorf("Wait() took %v, want immediate rejection", time.Since(start))
			}
		})
	}
}

func TestRateLimiter_RejectedReservationReturnsToken(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 20, Burst: 1, MaxWait: time.Millisecond})
	rl.Allow()

	for i := 0; i < 5; i++ {
		if err := rl.Wait(context.Background()); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("Wait() = %v, want ErrRateLimited", err)
		}
	}
	time.Sleep(60 * time.Millisecond)
	if !rl.Allow() {
		t.Error("Allow() after refill = false; rejected waits must not consume tokens")
	}
}
