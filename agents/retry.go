// Copyright 2025 The Flowcortex Authors
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

package agents

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryBackoff selects how the delay grows between attempts.
type RetryBackoff uint8

const (
	// RetryBackoffExponential doubles the delay after each failure.
	RetryBackoffExponential RetryBackoff = iota

	// RetryBackoffLinear grows the delay by BaseDelay after each failure.
	RetryBackoffLinear
)

// RetryPolicy retries transient failures with backoff. The zero value does
// not retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Defaults to
	// 500ms when retries are enabled.
	BaseDelay time.Duration

	// Backoff selects the growth strategy.
	Backoff RetryBackoff

	// Jitter adds up to 10% random variation to each delay, so retries
	// from many callers don't synchronize.
	Jitter bool
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	var d time.Duration
	switch p.Backoff {
	case RetryBackoffLinear:
		d = base * time.Duration(attempt)
	default:
		d = base << (attempt - 1)
	}
	if p.Jitter {
		d += time.Duration(rand.Int64N(int64(d)/10 + 1))
	}
	return d
}

// Do runs fn until it succeeds or the policy is exhausted, honoring context
// cancellation between attempts. On exhaustion it returns a
// RetryExhaustedError naming the operation and target.
func (p RetryPolicy) Do(ctx context.Context, operation, target string, fn func(ctx context.Context) error) error {
	attempts := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		d := p.delay(attempt)
		Logger().Debug("retrying after failure",
			"operation", operation, "target", target,
			"attempt", attempt, "delay", d, "error", lastErr)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return RetryExhaustedError{
		Operation: operation,
		Target:    target,
		Attempts:  attempts,
		Err:       lastErr,
	}
}
