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

	"github.com/openai/openai-go/v3/packages/param"

	"github.com/flowcortex/agentrt/modelsettings"
	"github.com/flowcortex/agentrt/usage"
)

// ModelResponse is one completed model call.
type ModelResponse struct {
	Output []TResponseOutputItem
	Usage  *usage.Usage

	// ResponseID identifies this response server-side; it can be passed to
	// the next call when the server manages the conversation.
	ResponseID string
}

// ModelTracing controls whether a model call is traced and whether traces
// include request/response payloads.
type ModelTracing uint8

const (
	ModelTracingDisabled ModelTracing = iota
	ModelTracingEnabled
	ModelTracingEnabledWithoutData
)

func (mt ModelTracing) IsDisabled() bool  { return mt == ModelTracingDisabled }
func (mt ModelTracing) IncludeData() bool { return mt == ModelTracingEnabled }

// ModelResponseParams are the inputs for a single model call.
type ModelResponseParams struct {
	SystemInstructions param.Opt[string]
	Input              Input
	ModelSettings      modelsettings.ModelSettings
	Tools              []Tool
	OutputType         OutputTypeInterface
	Handoffs           []Handoff
	Tracing            ModelTracing

	// PreviousResponseID chains this call onto a server-managed
	// conversation; Input then carries only the delta.
	PreviousResponseID string
	ConversationID     string
}

// Model is a completion backend.
type Model interface {
	GetResponse(ctx context.Context, params ModelResponseParams) (*ModelResponse, error)

	// StreamResponse yields raw response events as they arrive. A non-nil
	// error from yield stops the stream.
	StreamResponse(ctx context.Context, params ModelResponseParams, yield func(context.Context, TResponseStreamEvent) error) error
}

// ModelProvider resolves model names to backends.
type ModelProvider interface {
	// GetModel returns the model with the given name, or the provider's
	// default when name is empty.
	GetModel(name string) (Model, error)
}

// AgentModel selects the model an agent uses: either a name resolved through
// the run's ModelProvider, or a concrete Model instance.
type AgentModel struct {
	name     string
	instance Model
}

func AgentModelName(name string) AgentModel { return AgentModel{name: name} }
func AgentModelInstance(m Model) AgentModel { return AgentModel{instance: m} }

func (am AgentModel) SafeName() (string, bool)    { return am.name, am.instance == nil && am.name != "" }
func (am AgentModel) SafeInstance() (Model, bool) { return am.instance, am.instance != nil }
