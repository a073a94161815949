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

// Package retry provides a bounded retry combinator shared by every
// delivery transport.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultMaxDelay caps a single backoff when the policy sets no MaxDelay.
const DefaultMaxDelay = 30 * time.Second

// Policy bounds an operation's attempts.
type Policy struct {
	// Attempts is the maximum number of calls to the operation (minimum 1).
	Attempts int
	// BaseDelay is the backoff before the second attempt; later waits
	// double and carry up to 50% jitter. Zero disables waiting.
	BaseDelay time.Duration
	// MaxDelay caps every wait, jitter included. Zero means DefaultMaxDelay.
	MaxDelay time.Duration
	// OnFailure observes each failed attempt before the next one starts.
	OnFailure func(attempt int, err error)
}

// Do calls op until it succeeds or the attempts are exhausted. The error
// returned is the one from the final attempt; earlier errors only reach
// OnFailure. A cancelled context stops further attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.OnFailure != nil {
			p.OnFailure(attempt, err)
		}

		if attempt == attempts {
			break
		}
		if !wait(ctx, Backoff(attempt, p.BaseDelay, p.MaxDelay)) {
			break
		}
	}
	return zero, lastErr
}

// Backoff returns the delay after the given failed attempt (1-based). The
// result never exceeds maxDelay (DefaultMaxDelay when maxDelay <= 0), so
// large attempt numbers cannot overflow into a negative or unbounded wait.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	delay := base
	for i := 1; i < attempt && delay < maxDelay; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if delay >= maxDelay {
		return maxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay/2) + 1))
	if delay > maxDelay-jitter {
		return maxDelay
	}
	return delay + jitter
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
