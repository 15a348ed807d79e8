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

// Package modelsettings holds provider-agnostic settings for a model call.
package modelsettings

import (
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

// ToolChoice controls which tool, if any, the model is forced to use.
// The zero value leaves the decision to the model.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ToolChoiceName forces a call to the named tool.
func ToolChoiceName(name string) ToolChoice { return ToolChoice(name) }

// IsSpecificTool reports whether tc names a concrete tool rather than one of
// the generic modes.
func (tc ToolChoice) IsSpecificTool() bool {
	switch tc {
	case "", ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone:
		return false
	}
	return true
}

// ModelSettings configures a single model call. Unset optional fields fall
// back to provider defaults. Per-agent settings are merged with run-level
// overrides through Resolve.
type ModelSettings struct {
	Temperature       param.Opt[float64]
	TopP              param.Opt[float64]
	FrequencyPenalty  param.Opt[float64]
	PresencePenalty   param.Opt[float64]
	ToolChoice        ToolChoice
	ParallelToolCalls param.Opt[bool]
	Truncation        param.Opt[string]
	MaxTokens         param.Opt[int64]
	Reasoning         shared.ReasoningParam
	Store             param.Opt[bool]

	// ExtraHeaders are sent verbatim with each request.
	ExtraHeaders map[string]string
}

// Resolve returns a copy of base with any field set on override taking
// precedence.
func (base ModelSettings) Resolve(override ModelSettings) ModelSettings {
	out := base
	if override.Temperature.Valid() {
		out.Temperature = override.Temperature
	}
	if override.TopP.Valid() {
		out.TopP = override.TopP
	}
	if override.FrequencyPenalty.Valid() {
		out.FrequencyPenalty = override.FrequencyPenalty
	}
	if override.PresencePenalty.Valid() {
		out.PresencePenalty = override.PresencePenalty
	}
	if override.ToolChoice != "" {
		out.ToolChoice = override.ToolChoice
	}
	if override.ParallelToolCalls.Valid() {
		out.ParallelToolCalls = override.ParallelToolCalls
	}
	if override.Truncation.Valid() {
		out.Truncation = override.Truncation
	}
	if override.MaxTokens.Valid() {
		out.MaxTokens = override.MaxTokens
	}
	if override.Reasoning.Effort != "" || override.Reasoning.Summary != "" {
		out.Reasoning = override.Reasoning
	}
	if override.Store.Valid() {
		out.Store = override.Store
	}
	if len(override.ExtraHeaders) > 0 {
		merged := make(map[string]string, len(base.ExtraHeaders)+len(override.ExtraHeaders))
		for k, v := range base.ExtraHeaders {
			merged[k] = v
		}
		for k, v := range override.ExtraHeaders {
			merged[k] = v
		}
		out.ExtraHeaders = merged
	}
	return out
}
