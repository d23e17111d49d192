package resilience

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
)

// backend is a named fake whose outcome is fixed.
type backend struct {
	name string
	err  error
}

func call(_ context.Context, b backend) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.name, nil
}

func group(cfg FallbackConfig, backends ...backend) *FallbackGroup[backend] {
	fg := NewFallbackGroup(backends[0], backends[0].name, cfg)
	for _, b := range backends[1:] {
		fg.AddFallback(b.name, b)
	}
	return fg
}

func TestDo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		backends []backend
		want     string
		wantErr  bool
	}{
		{name: "primary succeeds", backends: []backend{{name: "a"}, {name: "b"}}, want: "a"},
		{name: "fails over", backends: []backend{{name: "a", err: errTest}, {name: "b"}}, want: "b"},
		{name: "skips to last", backends: []backend{{name: "a", err: errTest}, {name: "b", err: errTest}, {name: "c"}}, want: "c"},
		{name: "all fail", backends: []backend{{name: "a", err: errTest}, {name: "b", err: errTest}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Do(context.Background(), group(FallbackConfig{}, tt.backends...), call)
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Do = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestDo_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var failures []string
	cfg := FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
		OnFailure: func(_ context.Context, name string, _ error) {
			mu.Lock()
			failures = append(failures, name)
			mu.Unlock()
		},
	}
	fg := group(cfg, backend{name: "a", err: errTest}, backend{name: "b"})

	for range 3 {
		if got, err := Do(context.Background(), fg, call); err != nil || got != "b" {
			t.Fatalf("Do = %q, %v; want b", got, err)
		}
	}
	if want := []string{"a"}; !slices.Equal(failures, want) {
		t.Errorf("failures = %v, want %v (open breaker must not be called)", failures, want)
	}
}

func TestDo_AllBreakersOpen(t *testing.T) {
	t.Parallel()
	fg := group(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}}, backend{name: "a", err: errTest})
	_, _ = Do(context.Background(), fg, call)

	_, err := Do(context.Background(), fg, call)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	fg := group(FallbackConfig{}, backend{name: "a"}, backend{name: "b"})

	_, err := Do(ctx, fg, func(ctx context.Context, b backend) (string, error) {
		calls = append(calls, b.name)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled in chain", err)
	}
	if !slices.Equal(calls, []string{"a"}) {
		t.Errorf("calls = %v, want only the primary", calls)
	}
}

func TestDo_PreservesDeadline(t *testing.T) {
	t.Parallel()
	fg := group(FallbackConfig{}, backend{name: "a", err: context.DeadlineExceeded})
	_, err := Do(context.Background(), fg, call)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded in chain", err)
	}
}

func TestFallbackGroup_NamesAndCheck(t *testing.T) {
	t.Parallel()
	fg := group(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}},
		backend{name: "a", err: errTest}, backend{name: "b", err: errTest})

	if got := fg.Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Names = %v", got)
	}
	if err := fg.Check(context.Background()); err != nil {
		t.Fatalf("Check before failures = %v", err)
	}

	_, _ = Do(context.Background(), fg, call)
	err := fg.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "a, b") {
		t.Fatalf("Check = %v, want both breakers listed", err)
	}
}
