package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeout_Execute(t *testing.T) {
	tests := []struct {
		name string
		d    Timeout
		op   Op
		want error
	}{
		{"in time", Timeout(20 * time.Millisecond), succeeding, nil},
		{"op error", Timeout(20 * time.Millisecond), failing, errBackend},
		{"op ignores context", Timeout(20 * time.Millisecond), func(context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		}, ErrTimeout},
		{"op returns deadline", Timeout(20 * time.Millisecond), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, ErrTimeout},
		{"zero is unbounded", 0, func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); ok {
				return errors.New("unexpected deadline")
			}
			return nil
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.d.Execute(context.Background(), tt.op); !errors.Is(err, tt.want) {
				t.Errorf("Execute() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTimeout_CallerContext(t *testing.T) {
	wait := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	if err := Timeout(time.Second).Execute(ctx, wait); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller: Execute() = %v, want context.Canceled", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Timeout(time.Second).Execute(ctx, wait); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expired caller: Execute() = %v, want context.DeadlineExceeded", err)
	}
}
