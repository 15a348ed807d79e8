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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyZeroValueSingleAttempt(t *testing.T) {
	boom := errors.New("boom")
	var calls int

	err := RetryPolicy{}.Do(t.Context(), "get_response", "agent", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	require.ErrorIs(t, err, boom)
	var exhausted RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted), "single attempt must return the bare error")
}

func TestRetryPolicyRecovers(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	var calls int

	err := policy.Do(t.Context(), "get_response", "agent", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyExhaustion(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	boom := errors.New("still broken")

	err := policy.Do(t.Context(), "get_response", "my_agent", func(context.Context) error {
		return boom
	})

	var exhausted RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "get_response", exhausted.Operation)
	assert.Equal(t, "my_agent", exhausted.Target)
	assert.Equal(t, 2, exhausted.Attempts)
	require.ErrorIs(t, err, boom)
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute}
	var calls int

	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, "get_response", "agent", func(context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryPolicyBackoffDelays(t *testing.T) {
	exp := RetryPolicy{BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, exp.delay(1))
	assert.Equal(t, 200*time.Millisecond, exp.delay(2))
	assert.Equal(t, 400*time.Millisecond, exp.delay(3))

	lin := RetryPolicy{BaseDelay: 100 * time.Millisecond, Backoff: RetryBackoffLinear}
	assert.Equal(t, 100*time.Millisecond, lin.delay(1))
	assert.Equal(t, 200*time.Millisecond, lin.delay(2))
	assert.Equal(t, 300*time.Millisecond, lin.delay(3))
}
