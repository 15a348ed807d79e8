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

package usage

import (
	"testing"

	"github.com/openai/openai-go/v3/responses"
	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	u := NewUsage()
	u.Add(&Usage{Requests: 1, InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	u.Add(&Usage{Requests: 2, InputTokens: 5, OutputTokens: 5, TotalTokens: 10})
	u.Add(nil)

	assert.EqualValues(t, 3, u.Requests)
	assert.EqualValues(t, 15, u.InputTokens)
	assert.EqualValues(t, 25, u.OutputTokens)
	assert.EqualValues(t, 40, u.TotalTokens)
}

func TestAddFromResponse(t *testing.T) {
	u := NewUsage()
	u.AddFromResponse(responses.ResponseUsage{
		InputTokens: 100,
		InputTokensDetails: responses.ResponseUsageInputTokensDetails{
			CachedTokens: 40,
		},
		OutputTokens: 50,
		OutputTokensDetails: responses.ResponseUsageOutputTokensDetails{
			ReasoningTokens: 25,
		},
		TotalTokens: 150,
	})

	assert.EqualValues(t, 1, u.Requests)
	assert.EqualValues(t, 100, u.InputTokens)
	assert.EqualValues(t, 40, u.InputTokensDetails.CachedTokens)
	assert.EqualValues(t, 50, u.OutputTokens)
	assert.EqualValues(t, 25, u.OutputTokensDetails.ReasoningTokens)
	assert.EqualValues(t, 150, u.TotalTokens)
}

func TestAddFromResponseClampsNegatives(t *testing.T) {
	u := NewUsage()
	u.AddFromResponse(responses.ResponseUsage{
		InputTokens:  -5,
		OutputTokens: -1,
		TotalTokens:  -6,
	})

	assert.EqualValues(t, 1, u.Requests)
	assert.EqualValues(t, 0, u.InputTokens)
	assert.EqualValues(t, 0, u.OutputTokens)
	assert.EqualValues(t, 0, u.TotalTokens)
}
