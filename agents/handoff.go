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
	"encoding/json"
	"fmt"
	"strings"
)

// HandoffInputData is the conversation handed to the next agent.
type HandoffInputData struct {
	// InputHistory is the input of the run up to this point.
	InputHistory Input

	// PreHandoffItems were generated before the turn that triggered the
	// handoff.
	PreHandoffItems []RunItem

	// NewItems were generated during the triggering turn, including the
	// handoff call and its output.
	NewItems []RunItem
}

// HandoffInputFilter edits what the next agent sees.
type HandoffInputFilter func(ctx context.Context, data HandoffInputData) (HandoffInputData, error)

// Handoff is a delegation target exposed to the model as a tool call.
type Handoff struct {
	ToolName        string
	ToolDescription string

	// InputJSONSchema is the schema of the handoff arguments. Empty means
	// the handoff takes no input.
	InputJSONSchema map[string]any

	// OnInvokeHandoff resolves the target agent, optionally consuming the
	// call arguments.
	OnInvokeHandoff func(ctx context.Context, arguments string) (*Agent, error)

	// AgentName is the target's name, for traces and state snapshots.
	AgentName string

	// Agent is the target when the handoff was built from one; used for
	// handoff graph traversal.
	Agent *Agent

	InputFilter HandoffInputFilter

	// IsEnabled can hide the handoff from the model for a given run.
	IsEnabled func(ctx context.Context, agent *Agent) (bool, error)
}

// DefaultHandoffToolName derives the tool name advertised for a handoff.
func DefaultHandoffToolName(agent *Agent) string {
	name := strings.ReplaceAll(strings.TrimSpace(agent.Name), " ", "_")
	return "transfer_to_" + strings.ToLower(name)
}

// DefaultHandoffToolDescription derives the tool description for a handoff.
func DefaultHandoffToolDescription(agent *Agent) string {
	desc := fmt.Sprintf("Handoff to the %s agent to handle the request.", agent.Name)
	if agent.HandoffDescription != "" {
		desc += " " + agent.HandoffDescription
	}
	return desc
}

// HandoffParams customizes a handoff built from an agent.
type HandoffParams struct {
	ToolNameOverride        string
	ToolDescriptionOverride string
	InputFilter             HandoffInputFilter
	IsEnabled               func(ctx context.Context, agent *Agent) (bool, error)
}

// HandoffTo builds a handoff targeting agent with default naming.
func HandoffTo(agent *Agent) Handoff {
	return HandoffToWithParams(agent, HandoffParams{})
}

// HandoffToWithParams builds a handoff targeting agent.
func HandoffToWithParams(agent *Agent, params HandoffParams) Handoff {
	toolName := params.ToolNameOverride
	if toolName == "" {
		toolName = DefaultHandoffToolName(agent)
	}
	toolDescription := params.ToolDescriptionOverride
	if toolDescription == "" {
		toolDescription = DefaultHandoffToolDescription(agent)
	}
	return Handoff{
		ToolName:        toolName,
		ToolDescription: toolDescription,
		InputJSONSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
			"required":             []string{},
		},
		OnInvokeHandoff: func(context.Context, string) (*Agent, error) {
			return agent, nil
		},
		AgentName:   agent.Name,
		Agent:       agent,
		InputFilter: params.InputFilter,
		IsEnabled:   params.IsEnabled,
	}
}

// transferMessage is the synthetic tool output acknowledging a handoff.
func transferMessage(agent *Agent) string {
	data, err := json.Marshal(map[string]string{"assistant": agent.Name})
	if err != nil {
		return fmt.Sprintf(`{"assistant": %q}`, agent.Name)
	}
	return string(data)
}
