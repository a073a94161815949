// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// TestDo_SucceedsOnThirdAttempt verifies the third attempt's result is returned.
func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	var failures []int
	calls := 0

	got, err := Do(context.Background(), Policy{
		Attempts: 3,
		OnFailure: func(attempt int, err error) {
			failures = append(failures, attempt)
		},
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", fmt.Errorf("attempt %d failed", attempt)
		}
		return "third", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "third" {
		t.Errorf("result = %q, want third", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(failures) != 2 || failures[0] != 1 || failures[1] != 2 {
		t.Errorf("failures = %v, want [1 2]", failures)
	}
}

// TestDo_ReturnsLastError verifies exhaustion surfaces the final error.
func TestDo_ReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 3}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d failed", attempt)
	})

	if err == nil || err.Error() != "attempt 3 failed" {
		t.Errorf("err = %v, want attempt 3 failed", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestDo_MinimumOneAttempt verifies a zero policy still calls op once.
func TestDo_MinimumOneAttempt(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("nope")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestDo_ContextCancelled verifies waiting stops on cancellation.
func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	start := time.Now()
	_, err := Do(ctx, Policy{Attempts: 5, BaseDelay: time.Hour}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("down")
	})

	if err == nil || err.Error() != "down" {
		t.Errorf("err = %v, want down", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Do waited despite cancellation")
	}
}

// TestBackoff verifies growth and jitter bounds.
func TestBackoff(t *testing.T) {
	if got := Backoff(3, 0, 0); got != 0 {
		t.Errorf("Backoff with zero base = %v, want 0", got)
	}
	if got := Backoff(0, time.Second, 0); got != 0 {
		t.Errorf("Backoff(0) = %v, want 0", got)
	}

	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 4; attempt++ {
		floor := base * time.Duration(1<<(attempt-1))
		ceil := floor + floor/2
		for i := 0; i < 20; i++ {
			got := Backoff(attempt, base, time.Minute)
			if got < floor || got > ceil {
				t.Fatalf("Backoff(%d) = %v, want within [%v, %v]", attempt, got, floor, ceil)
			}
		}
	}
}

// TestBackoff_Capped verifies high attempt counts stay within the cap
// instead of overflowing the shift.
func TestBackoff_Capped(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		base     time.Duration
		maxDelay time.Duration
		want     time.Duration
	}{
		{name: "default cap at 30", attempt: 30, base: 500 * time.Millisecond, want: DefaultMaxDelay},
		{name: "default cap at 35", attempt: 35, base: 500 * time.Millisecond, want: DefaultMaxDelay},
		{name: "default cap at 40", attempt: 40, base: 500 * time.Millisecond, want: DefaultMaxDelay},
		{name: "default cap at 1000", attempt: 1000, base: 500 * time.Millisecond, want: DefaultMaxDelay},
		{name: "explicit cap", attempt: 10, base: time.Second, maxDelay: 5 * time.Second, want: 5 * time.Second},
		{name: "base above cap", attempt: 1, base: time.Hour, maxDelay: time.Second, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				if got := Backoff(tt.attempt, tt.base, tt.maxDelay); got != tt.want {
					t.Fatalf("Backoff(%d, %v, %v) = %v, want %v", tt.attempt, tt.base, tt.maxDelay, got, tt.want)
				}
			}
		})
	}

	// Jitter near the cap never pushes past it.
	for i := 0; i < 50; i++ {
		got := Backoff(3, 3*time.Second, 15*time.Second)
		if got < 12*time.Second || got > 15*time.Second {
			t.Fatalf("Backoff near cap = %v, want within [12s, 15s]", got)
		}
	}
}

// TestDo_HonoursMaxDelay verifies the cap bounds the real wait between
// attempts.
func TestDo_HonoursMaxDelay(t *testing.T) {
	start := time.Now()
	calls := 0
	_, err := Do(context.Background(), Policy{
		Attempts:  3,
		BaseDelay: time.Hour,
		MaxDelay:  10 * time.Millisecond,
	}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("down")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Do took %v, want the 10ms cap to apply", elapsed)
	}
}
