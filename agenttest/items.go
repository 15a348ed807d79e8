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

package agenttest

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/flowcortex/agentrt/agents"
)

// GetTextMessage returns a completed assistant message with a single text
// part.
func GetTextMessage(content string) agents.TResponseOutputItem {
	return agents.TResponseOutputItem{
		ID:     "1",
		Type:   "message",
		Role:   constant.ValueOf[constant.Assistant](),
		Status: "completed",
		Content: []responses.ResponseOutputMessageContentUnion{{
			Type: "output_text",
			Text: content,
		}},
	}
}

// GetFinalOutputMessage returns an assistant message whose text is the JSON
// payload of a structured final output.
func GetFinalOutputMessage(args string) agents.TResponseOutputItem {
	return GetTextMessage(args)
}

// GetFunctionToolCall returns a function call with call id "2".
func GetFunctionToolCall(name, arguments string) agents.TResponseOutputItem {
	return GetFunctionToolCallWithID(name, arguments, "2")
}

func GetFunctionToolCallWithID(name, arguments, callID string) agents.TResponseOutputItem {
	return agents.TResponseOutputItem{
		ID:        "1",
		Type:      "function_call",
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}
}

// GetHandoffToolCall returns a function call targeting toAgent's handoff
// tool. overrideName replaces the derived tool name when non-empty.
func GetHandoffToolCall(toAgent *agents.Agent, overrideName, args string) agents.TResponseOutputItem {
	name := overrideName
	if name == "" {
		name = agents.DefaultHandoffToolName(toAgent)
	}
	return GetFunctionToolCall(name, args)
}

// GetTextInputItem returns a user message input item.
func GetTextInputItem(content string) agents.TResponseInputItem {
	return responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser)
}

// GetLocalShellCall returns a completed local shell exec call.
func GetLocalShellCall(callID string, command ...string) agents.TResponseOutputItem {
	return outputItemFromJSON(map[string]any{
		"id":      "1",
		"type":    "local_shell_call",
		"call_id": callID,
		"status":  "completed",
		"action": map[string]any{
			"type":    "exec",
			"command": command,
		},
	})
}

// GetApplyPatchCall returns an apply_patch call carrying an update_file
// operation.
func GetApplyPatchCall(callID, path, diff string) agents.TResponseOutputItem {
	return outputItemFromJSON(map[string]any{
		"id":      "1",
		"type":    "apply_patch_call",
		"call_id": callID,
		"status":  "completed",
		"operation": map[string]any{
			"type": "update_file",
			"path": path,
			"diff": diff,
		},
	})
}

// GetComputerCall returns a computer screenshot call.
func GetComputerCall(callID string) agents.TResponseOutputItem {
	return outputItemFromJSON(map[string]any{
		"id":      "1",
		"type":    "computer_call",
		"call_id": callID,
		"status":  "completed",
		"action": map[string]any{
			"type": "screenshot",
		},
		"pending_safety_checks": []any{},
	})
}

// GetMCPApprovalRequest returns a hosted MCP approval request item.
func GetMCPApprovalRequest(id, serverLabel, toolName string) agents.TResponseOutputItem {
	return outputItemFromJSON(map[string]any{
		"id":           id,
		"type":         "mcp_approval_request",
		"server_label": serverLabel,
		"name":         toolName,
		"arguments":    "{}",
	})
}

// outputItemFromJSON builds an output item through its wire form so the
// union's typed accessors work on it.
func outputItemFromJSON(v any) agents.TResponseOutputItem {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("agenttest: marshal output item: %v", err))
	}
	var item agents.TResponseOutputItem
	if err := item.UnmarshalJSON(data); err != nil {
		panic(fmt.Sprintf("agenttest: unmarshal output item: %v", err))
	}
	return item
}
