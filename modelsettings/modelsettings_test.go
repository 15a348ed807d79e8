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

package modelsettings

import (
	"testing"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/stretchr/testify/assert"
)

func TestResolveOverridePrecedence(t *testing.T) {
	base := ModelSettings{
		Temperature: param.NewOpt(0.2),
		TopP:        param.NewOpt(0.9),
		ToolChoice:  ToolChoiceAuto,
		MaxTokens:   param.NewOpt[int64](1024),
		ExtraHeaders: map[string]string{
			"X-Env":  "base",
			"X-Base": "yes",
		},
	}
	override := ModelSettings{
		Temperature: param.NewOpt(0.7),
		ToolChoice:  ToolChoiceRequired,
		Reasoning:   shared.ReasoningParam{Effort: shared.ReasoningEffortHigh},
		ExtraHeaders: map[string]string{
			"X-Env": "override",
		},
	}

	out := base.Resolve(override)

	assert.Equal(t, 0.7, out.Temperature.Value)
	assert.Equal(t, 0.9, out.TopP.Value, "unset override fields keep base values")
	assert.Equal(t, ToolChoiceRequired, out.ToolChoice)
	assert.EqualValues(t, 1024, out.MaxTokens.Value)
	assert.Equal(t, shared.ReasoningEffortHigh, out.Reasoning.Effort)
	assert.Equal(t, "override", out.ExtraHeaders["X-Env"])
	assert.Equal(t, "yes", out.ExtraHeaders["X-Base"])
}

func TestResolveZeroOverrideIsNoOp(t *testing.T) {
	base := ModelSettings{
		Temperature: param.NewOpt(0.3),
		Store:       param.NewOpt(true),
	}

	out := base.Resolve(ModelSettings{})

	assert.Equal(t, base, out)
}

func TestToolChoiceIsSpecificTool(t *testing.T) {
	assert.False(t, ToolChoice("").IsSpecificTool())
	assert.False(t, ToolChoiceAuto.IsSpecificTool())
	assert.False(t, ToolChoiceRequired.IsSpecificTool())
	assert.False(t, ToolChoiceNone.IsSpecificTool())
	assert.True(t, ToolChoiceName("get_weather").IsSpecificTool())
}
