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

// Package usage accumulates token and request counts across model calls.
package usage

import "github.com/openai/openai-go/v3/responses"

// Usage tracks LLM usage for a run. A single value is shared by every turn
// of a run and updated in place after each model response.
type Usage struct {
	// Requests is the number of requests made to the LLM API.
	Requests uint64

	InputTokens         uint64
	InputTokensDetails  responses.ResponseUsageInputTokensDetails
	OutputTokens        uint64
	OutputTokensDetails responses.ResponseUsageOutputTokensDetails
	TotalTokens         uint64
}

func NewUsage() *Usage {
	return &Usage{}
}

// Add accumulates other into u. A nil other is a no-op.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.Requests += other.Requests
	u.InputTokens += other.InputTokens
	u.InputTokensDetails.CachedTokens += other.InputTokensDetails.CachedTokens
	u.OutputTokens += other.OutputTokens
	u.OutputTokensDetails.ReasoningTokens += other.OutputTokensDetails.ReasoningTokens
	u.TotalTokens += other.TotalTokens
}

// AddFromResponse accumulates a single API response's usage block into u,
// counting it as one request.
func (u *Usage) AddFromResponse(ru responses.ResponseUsage) {
	u.Requests += 1
	u.InputTokens += uint64(max(0, ru.InputTokens))
	u.InputTokensDetails.CachedTokens += ru.InputTokensDetails.CachedTokens
	u.OutputTokens += uint64(max(0, ru.OutputTokens))
	u.OutputTokensDetails.ReasoningTokens += ru.OutputTokensDetails.ReasoningTokens
	u.TotalTokens += uint64(max(0, ru.TotalTokens))
}
