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
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3/responses"

	"github.com/flowcortex/agentrt/usage"
)

type runStateJSON struct {
	SchemaVersion    string                             `json:"$schemaVersion"`
	CurrentTurn      uint64                             `json:"currentTurn"`
	MaxTurns         uint64                             `json:"maxTurns"`
	CurrentAgentName string                             `json:"currentAgentName"`
	OriginalInput    []TResponseInputItem               `json:"originalInput"`
	GeneratedItems   []serializedRunItem                `json:"generatedItems"`
	ModelResponses   []serializedModelResponse          `json:"modelResponses,omitempty"`
	Interruptions    []serializedRunItem                `json:"interruptions,omitempty"`
	ToolApprovals    map[string]ToolApprovalRecordState `json:"toolApprovals,omitempty"`
	CurrentStep      *serializedStep                    `json:"currentStep,omitempty"`
	ToolUseSnapshot  map[string][]string                `json:"toolUseSnapshot,omitempty"`
	Tracker          *ConversationTrackerState          `json:"conversationTracker,omitempty"`
	PersistedCount   int                                `json:"currentTurnPersistedItemCount"`
}

// serializedRunItem tags each generated item with its variant so the item
// can be reconstructed on load.
type serializedRunItem struct {
	Kind        string          `json:"kind"`
	ID          string          `json:"id"`
	Agent       string          `json:"agent,omitempty"`
	SourceAgent string          `json:"sourceAgent,omitempty"`
	TargetAgent string          `json:"targetAgent,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	RawKind     string          `json:"rawKind,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

type serializedModelResponse struct {
	Output     []json.RawMessage `json:"output"`
	Usage      *usage.Usage      `json:"usage,omitempty"`
	ResponseID string            `json:"responseId,omitempty"`
}

type serializedStep struct {
	Kind        string `json:"kind"`
	TargetAgent string `json:"targetAgent,omitempty"`
}

// ToJSON serializes the snapshot.
func (s *RunState) ToJSON() ([]byte, error) {
	out := runStateJSON{
		SchemaVersion:    s.SchemaVersion,
		CurrentTurn:      s.CurrentTurn,
		MaxTurns:         s.MaxTurns,
		CurrentAgentName: s.CurrentAgentName,
		OriginalInput:    s.OriginalInput,
		ToolApprovals:    s.ToolApprovals,
		ToolUseSnapshot:  s.ToolUseSnapshot,
		Tracker:          s.Tracker,
		PersistedCount:   s.PersistedItemCount,
	}
	if out.SchemaVersion == "" {
		out.SchemaVersion = CurrentSchemaVersion
	}
	for _, item := range s.GeneratedItems {
		env, err := serializeRunItem(item)
		if err != nil {
			return nil, err
		}
		out.GeneratedItems = append(out.GeneratedItems, env)
	}
	for _, item := range s.Interruptions {
		env, err := serializeRunItem(item)
		if err != nil {
			return nil, err
		}
		out.Interruptions = append(out.Interruptions, env)
	}
	for _, resp := range s.ModelResponses {
		env, err := serializeModelResponse(resp)
		if err != nil {
			return nil, err
		}
		out.ModelResponses = append(out.ModelResponses, env)
	}
	if s.CurrentStep != nil {
		out.CurrentStep = serializeStep(s.CurrentStep)
	}
	return json.Marshal(out)
}

// ToJSONString serializes the snapshot to a string.
func (s *RunState) ToJSONString() (string, error) {
	data, err := s.ToJSON()
	return string(data), err
}

// RunStateFromJSON loads a snapshot. The schema version is checked before
// anything else; agent references stay unresolved until the state is passed
// to RunFromState.
func RunStateFromJSON(data []byte) (*RunState, error) {
	var raw runStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode run state: %w", err)
	}
	state := &RunState{
		SchemaVersion:      raw.SchemaVersion,
		CurrentTurn:        raw.CurrentTurn,
		MaxTurns:           raw.MaxTurns,
		CurrentAgentName:   raw.CurrentAgentName,
		OriginalInput:      raw.OriginalInput,
		ToolApprovals:      raw.ToolApprovals,
		ToolUseSnapshot:    raw.ToolUseSnapshot,
		Tracker:            raw.Tracker,
		PersistedItemCount: raw.PersistedCount,
		itemAgentNames:     make(map[string]string),
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	for _, env := range raw.GeneratedItems {
		item, err := deserializeRunItem(env)
		if err != nil {
			return nil, err
		}
		state.GeneratedItems = append(state.GeneratedItems, item)
		state.itemAgentNames[env.ID] = env.Agent
	}
	for _, env := range raw.Interruptions {
		item, err := deserializeRunItem(env)
		if err != nil {
			return nil, err
		}
		approval, ok := item.(ToolApprovalItem)
		if !ok {
			return nil, UserErrorf("interruption entry has kind %q, want tool_approval_item", env.Kind)
		}
		state.Interruptions = append(state.Interruptions, approval)
		state.itemAgentNames[env.ID] = env.Agent
	}
	for _, env := range raw.ModelResponses {
		resp, err := deserializeModelResponse(env)
		if err != nil {
			return nil, err
		}
		state.ModelResponses = append(state.ModelResponses, resp)
	}
	if raw.CurrentStep != nil {
		step, err := deserializeStep(*raw.CurrentStep)
		if err != nil {
			return nil, err
		}
		state.CurrentStep = step
	}
	return state, nil
}

// RunStateFromJSONString loads a snapshot from a string.
func RunStateFromJSONString(data string) (*RunState, error) {
	return RunStateFromJSON([]byte(data))
}

func serializeStep(step CurrentStep) *serializedStep {
	switch v := step.(type) {
	case CurrentStepRunAgain:
		return &serializedStep{Kind: "run_again"}
	case CurrentStepInterruption:
		return &serializedStep{Kind: "interruption"}
	case CurrentStepHandoff:
		return &serializedStep{Kind: "handoff", TargetAgent: v.TargetAgentName}
	case CurrentStepFinalOutput:
		return &serializedStep{Kind: "final_output"}
	}
	return nil
}

func deserializeStep(env serializedStep) (CurrentStep, error) {
	switch env.Kind {
	case "run_again":
		return CurrentStepRunAgain{}, nil
	case "interruption":
		return CurrentStepInterruption{}, nil
	case "handoff":
		return CurrentStepHandoff{TargetAgentName: env.TargetAgent}, nil
	case "final_output":
		return CurrentStepFinalOutput{}, nil
	}
	return nil, UserErrorf("unknown run state step kind %q", env.Kind)
}

func serializeRunItem(item RunItem) (serializedRunItem, error) {
	env := serializedRunItem{ID: item.ItemID()}
	setAgent := func(agent *Agent) {
		if agent != nil {
			env.Agent = agent.Name
		}
	}
	var raw any
	switch v := item.(type) {
	case MessageOutputItem:
		env.Kind = "message_output_item"
		setAgent(v.Agent)
		raw = v.RawItem
	case ToolCallItem:
		env.Kind = "tool_call_item"
		setAgent(v.Agent)
		data, err := outputUnionRawJSON(v.RawItem)
		if err != nil {
			return env, err
		}
		env.Raw = data
		return env, nil
	case ToolCallOutputItem:
		env.Kind = "tool_call_output_item"
		setAgent(v.Agent)
		raw = v.RawItem
		if v.Output != nil {
			data, err := json.Marshal(v.Output)
			if err != nil {
				return env, fmt.Errorf("failed to serialize tool output: %w", err)
			}
			env.Output = data
		}
	case HandoffCallItem:
		env.Kind = "handoff_call_item"
		setAgent(v.Agent)
		raw = v.RawItem
	case HandoffOutputItem:
		env.Kind = "handoff_output_item"
		setAgent(v.Agent)
		if v.SourceAgent != nil {
			env.SourceAgent = v.SourceAgent.Name
		}
		if v.TargetAgent != nil {
			env.TargetAgent = v.TargetAgent.Name
		}
		raw = v.RawItem
	case ReasoningItem:
		env.Kind = "reasoning_item"
		setAgent(v.Agent)
		raw = v.RawItem
	case MCPListToolsItem:
		env.Kind = "mcp_list_tools_item"
		setAgent(v.Agent)
		raw = v.RawItem
	case MCPApprovalRequestItem:
		env.Kind = "mcp_approval_request_item"
		setAgent(v.Agent)
		raw = v.RawItem
	case MCPApprovalResponseItem:
		env.Kind = "mcp_approval_response_item"
		setAgent(v.Agent)
		raw = v.RawItem
	case ToolApprovalItem:
		env.Kind = "tool_approval_item"
		setAgent(v.Agent)
		env.ToolName = v.ToolName
		switch v.RawItem.(type) {
		case responses.ResponseFunctionToolCall:
			env.RawKind = "function_call"
		case responses.ResponseApplyPatchToolCall:
			env.RawKind = "apply_patch_call"
		case responses.ResponseOutputItemLocalShellCall:
			env.RawKind = "local_shell_call"
		case responses.ResponseOutputItemMcpApprovalRequest:
			env.RawKind = "mcp_approval_request"
		default:
			return env, UserErrorf("cannot serialize tool approval raw item of type %T", v.RawItem)
		}
		raw = v.RawItem
	default:
		return env, UserErrorf("cannot serialize run item of type %T", item)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return env, fmt.Errorf("failed to serialize %s: %w", env.Kind, err)
	}
	env.Raw = data
	return env, nil
}

func deserializeRunItem(env serializedRunItem) (RunItem, error) {
	switch env.Kind {
	case "message_output_item":
		raw, err := unmarshalRaw[responses.ResponseOutputMessage](env)
		if err != nil {
			return nil, err
		}
		return MessageOutputItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "tool_call_item":
		raw, err := unmarshalRaw[TResponseOutputItem](env)
		if err != nil {
			return nil, err
		}
		return ToolCallItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "tool_call_output_item":
		raw, err := unmarshalRaw[TResponseInputItem](env)
		if err != nil {
			return nil, err
		}
		item := ToolCallOutputItem{ID: env.ID, RawItem: raw, Type: env.Kind}
		if len(env.Output) > 0 {
			var output any
			if err := json.Unmarshal(env.Output, &output); err != nil {
				return nil, fmt.Errorf("failed to decode tool output: %w", err)
			}
			item.Output = output
		}
		return item, nil
	case "handoff_call_item":
		raw, err := unmarshalRaw[responses.ResponseFunctionToolCall](env)
		if err != nil {
			return nil, err
		}
		return HandoffCallItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "handoff_output_item":
		raw, err := unmarshalRaw[TResponseInputItem](env)
		if err != nil {
			return nil, err
		}
		return HandoffOutputItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "reasoning_item":
		raw, err := unmarshalRaw[responses.ResponseReasoningItem](env)
		if err != nil {
			return nil, err
		}
		return ReasoningItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "mcp_list_tools_item":
		raw, err := unmarshalRaw[responses.ResponseOutputItemMcpListTools](env)
		if err != nil {
			return nil, err
		}
		return MCPListToolsItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "mcp_approval_request_item":
		raw, err := unmarshalRaw[responses.ResponseOutputItemMcpApprovalRequest](env)
		if err != nil {
			return nil, err
		}
		return MCPApprovalRequestItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "mcp_approval_response_item":
		raw, err := unmarshalRaw[responses.ResponseInputItemMcpApprovalResponseParam](env)
		if err != nil {
			return nil, err
		}
		return MCPApprovalResponseItem{ID: env.ID, RawItem: raw, Type: env.Kind}, nil
	case "tool_approval_item":
		item := ToolApprovalItem{ID: env.ID, ToolName: env.ToolName, Type: env.Kind}
		switch env.RawKind {
		case "function_call":
			raw, err := unmarshalRaw[responses.ResponseFunctionToolCall](env)
			if err != nil {
				return nil, err
			}
			item.RawItem = raw
		case "apply_patch_call":
			raw, err := unmarshalRaw[responses.ResponseApplyPatchToolCall](env)
			if err != nil {
				return nil, err
			}
			item.RawItem = raw
		case "local_shell_call":
			raw, err := unmarshalRaw[responses.ResponseOutputItemLocalShellCall](env)
			if err != nil {
				return nil, err
			}
			item.RawItem = raw
		case "mcp_approval_request":
			raw, err := unmarshalRaw[responses.ResponseOutputItemMcpApprovalRequest](env)
			if err != nil {
				return nil, err
			}
			item.RawItem = raw
		default:
			return nil, UserErrorf("unknown tool approval raw kind %q", env.RawKind)
		}
		return item, nil
	}
	return nil, UserErrorf("unknown run item kind %q", env.Kind)
}

func unmarshalRaw[T any](env serializedRunItem) (T, error) {
	var out T
	if err := json.Unmarshal(env.Raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", env.Kind, err)
	}
	return out, nil
}

func serializeModelResponse(resp ModelResponse) (serializedModelResponse, error) {
	env := serializedModelResponse{
		Usage:      resp.Usage,
		ResponseID: resp.ResponseID,
	}
	for _, item := range resp.Output {
		data, err := outputUnionRawJSON(item)
		if err != nil {
			return env, err
		}
		env.Output = append(env.Output, data)
	}
	return env, nil
}

func deserializeModelResponse(env serializedModelResponse) (ModelResponse, error) {
	resp := ModelResponse{
		Usage:      env.Usage,
		ResponseID: env.ResponseID,
	}
	if resp.Usage == nil {
		resp.Usage = usage.NewUsage()
	}
	for _, data := range env.Output {
		var item TResponseOutputItem
		if err := json.Unmarshal(data, &item); err != nil {
			return resp, fmt.Errorf("failed to decode model response item: %w", err)
		}
		resp.Output = append(resp.Output, item)
	}
	return resp, nil
}

// outputUnionRawJSON extracts the wire JSON of an output item. Items built
// in code rather than parsed from a response have no raw JSON; those are
// re-encoded through their input-item form, which shares the wire shape.
func outputUnionRawJSON(item TResponseOutputItem) (json.RawMessage, error) {
	if rawJSON := item.RawJSON(); rawJSON != "" {
		return json.RawMessage(rawJSON), nil
	}
	if wire, ok := outputItemToInputItem(item); ok {
		return json.Marshal(wire)
	}
	return json.Marshal(item)
}
