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
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
)

// Wire-level aliases. The runtime stores conversation history in the
// Responses API item format and treats it as opaque outside this package.
type (
	TResponseInputItem   = responses.ResponseInputItemUnionParam
	TResponseOutputItem  = responses.ResponseOutputItemUnion
	TResponseStreamEvent = responses.ResponseStreamEventUnion
)

// Input is the user-provided input to a run: either a plain string or a
// pre-built list of input items.
type Input interface {
	isInput()
}

type InputString string

func (InputString) isInput() {}

type InputItems []TResponseInputItem

func (InputItems) isInput() {}

// InputToNewInputList converts an Input into a fresh list of input items.
func InputToNewInputList(input Input) []TResponseInputItem {
	switch v := input.(type) {
	case InputString:
		return []TResponseInputItem{inputItemFromUserText(string(v))}
	case InputItems:
		out := make([]TResponseInputItem, len(v))
		copy(out, v)
		return out
	case nil:
		return nil
	default:
		panic(fmt.Errorf("unexpected Input type %T", input))
	}
}

// CopyInput returns a deep copy of input.
func CopyInput(input Input) Input {
	switch v := input.(type) {
	case InputString, nil:
		return input
	case InputItems:
		out, err := convertViaJSON[InputItems](v)
		if err != nil {
			out = make(InputItems, len(v))
			copy(out, v)
		}
		return out
	default:
		panic(fmt.Errorf("unexpected Input type %T", input))
	}
}

func inputItemFromUserText(text string) TResponseInputItem {
	return TResponseInputItem{
		OfMessage: &responses.EasyInputMessageParam{
			Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(text)},
			Role:    responses.EasyInputMessageRoleUser,
			Type:    responses.EasyInputMessageTypeMessage,
		},
	}
}

// RunItem is an item generated while running an agent: a model message, a
// tool call, a tool result, a handoff, or a pending approval. Every item
// carries a runtime-assigned id that stays stable across serialization.
type RunItem interface {
	isRunItem()
	ItemID() string
}

func newRunItemID() string {
	return "item_" + uuid.NewString()
}

// MessageOutputItem is an assistant message produced by the model.
type MessageOutputItem struct {
	ID      string
	Agent   *Agent
	RawItem responses.ResponseOutputMessage
	Type    string
}

func (MessageOutputItem) isRunItem()       {}
func (m MessageOutputItem) ItemID() string { return m.ID }

// ToolCallItem is a tool invocation requested by the model.
type ToolCallItem struct {
	ID      string
	Agent   *Agent
	RawItem TResponseOutputItem
	Type    string
}

func (ToolCallItem) isRunItem()       {}
func (t ToolCallItem) ItemID() string { return t.ID }

// ToolCallOutputItem is the result of a tool invocation, ready to be fed
// back to the model.
type ToolCallOutputItem struct {
	ID      string
	Agent   *Agent
	RawItem TResponseInputItem
	Output  any
	Type    string
}

func (ToolCallOutputItem) isRunItem()       {}
func (t ToolCallOutputItem) ItemID() string { return t.ID }

// HandoffCallItem is a tool call that targets a handoff.
type HandoffCallItem struct {
	ID      string
	Agent   *Agent
	RawItem responses.ResponseFunctionToolCall
	Type    string
}

func (HandoffCallItem) isRunItem()       {}
func (h HandoffCallItem) ItemID() string { return h.ID }

// HandoffOutputItem is the synthetic tool output acknowledging a handoff.
type HandoffOutputItem struct {
	ID          string
	Agent       *Agent
	RawItem     TResponseInputItem
	SourceAgent *Agent
	TargetAgent *Agent
	Type        string
}

func (HandoffOutputItem) isRunItem()       {}
func (h HandoffOutputItem) ItemID() string { return h.ID }

// ReasoningItem is a reasoning block emitted by the model.
type ReasoningItem struct {
	ID      string
	Agent   *Agent
	RawItem responses.ResponseReasoningItem
	Type    string
}

func (ReasoningItem) isRunItem()       {}
func (r ReasoningItem) ItemID() string { return r.ID }

// MCPListToolsItem records a hosted MCP tool listing.
type MCPListToolsItem struct {
	ID      string
	Agent   *Agent
	RawItem responses.ResponseOutputItemMcpListTools
	Type    string
}

func (MCPListToolsItem) isRunItem()       {}
func (m MCPListToolsItem) ItemID() string { return m.ID }

// MCPApprovalRequestItem is a hosted MCP tool call awaiting approval.
type MCPApprovalRequestItem struct {
	ID      string
	Agent   *Agent
	RawItem responses.ResponseOutputItemMcpApprovalRequest
	Type    string
}

func (MCPApprovalRequestItem) isRunItem()       {}
func (m MCPApprovalRequestItem) ItemID() string { return m.ID }

// MCPApprovalResponseItem is the recorded answer to an MCP approval request.
type MCPApprovalResponseItem struct {
	ID      string
	Agent   *Agent
	RawItem responses.ResponseInputItemMcpApprovalResponseParam
	Type    string
}

func (MCPApprovalResponseItem) isRunItem()       {}
func (m MCPApprovalResponseItem) ItemID() string { return m.ID }

// ToolApprovalItem is a local tool call suspended pending a human decision.
// It never becomes model input; it surfaces through RunResult.Interruptions.
type ToolApprovalItem struct {
	ID    string
	Agent *Agent

	// ToolName overrides the name derived from RawItem when set.
	ToolName string

	// RawItem is the suspended call: a ResponseFunctionToolCall, a
	// ResponseApplyPatchToolCall, a ResponseOutputItemLocalShellCall or a
	// ResponseOutputItemMcpApprovalRequest.
	RawItem any
	Type    string
}

func (ToolApprovalItem) isRunItem()       {}
func (t ToolApprovalItem) ItemID() string { return t.ID }

// Name returns the tool name of the suspended call.
func (t ToolApprovalItem) Name() string {
	if t.ToolName != "" {
		return t.ToolName
	}
	switch raw := t.RawItem.(type) {
	case responses.ResponseFunctionToolCall:
		return raw.Name
	case responses.ResponseApplyPatchToolCall:
		return "apply_patch"
	case responses.ResponseOutputItemLocalShellCall:
		return "local_shell"
	case responses.ResponseOutputItemMcpApprovalRequest:
		return raw.Name
	}
	return ""
}

// CallID returns the provider call id of the suspended call, or the item id
// for approval requests that have no call id of their own.
func (t ToolApprovalItem) CallID() string {
	switch raw := t.RawItem.(type) {
	case responses.ResponseFunctionToolCall:
		return raw.CallID
	case responses.ResponseApplyPatchToolCall:
		return raw.CallID
	case responses.ResponseOutputItemLocalShellCall:
		return raw.CallID
	case responses.ResponseOutputItemMcpApprovalRequest:
		return raw.ID
	}
	return ""
}

// Arguments returns the raw argument payload of the suspended call, if any.
func (t ToolApprovalItem) Arguments() string {
	switch raw := t.RawItem.(type) {
	case responses.ResponseFunctionToolCall:
		return raw.Arguments
	case responses.ResponseOutputItemMcpApprovalRequest:
		return raw.Arguments
	}
	return ""
}

// TextMessageOutput concatenates the text parts of a message output item.
func TextMessageOutput(item MessageOutputItem) string {
	var sb strings.Builder
	for _, part := range item.RawItem.Content {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// TextMessageOutputs concatenates the text of every message output in items.
func TextMessageOutputs(items []RunItem) string {
	var sb strings.Builder
	for _, item := range items {
		if m, ok := item.(MessageOutputItem); ok {
			sb.WriteString(TextMessageOutput(m))
		}
	}
	return sb.String()
}

// runItemToInputItem converts a run item into model input. The second return
// is false for items that never go back to the model.
func runItemToInputItem(item RunItem) (TResponseInputItem, bool) {
	switch v := item.(type) {
	case MessageOutputItem:
		out, err := convertViaJSON[responses.ResponseOutputMessageParam](v.RawItem)
		if err != nil {
			return TResponseInputItem{}, false
		}
		return TResponseInputItem{OfOutputMessage: &out}, true
	case ToolCallItem:
		return outputItemToInputItem(v.RawItem)
	case ToolCallOutputItem:
		return v.RawItem, true
	case HandoffCallItem:
		out, err := convertViaJSON[responses.ResponseFunctionToolCallParam](v.RawItem)
		if err != nil {
			return TResponseInputItem{}, false
		}
		return TResponseInputItem{OfFunctionCall: &out}, true
	case HandoffOutputItem:
		return v.RawItem, true
	case ReasoningItem:
		out, err := convertViaJSON[responses.ResponseReasoningItemParam](v.RawItem)
		if err != nil {
			return TResponseInputItem{}, false
		}
		return TResponseInputItem{OfReasoning: &out}, true
	case MCPListToolsItem:
		out, err := convertViaJSON[responses.ResponseInputItemMcpListToolsParam](v.RawItem)
		if err != nil {
			return TResponseInputItem{}, false
		}
		return TResponseInputItem{OfMcpListTools: &out}, true
	case MCPApprovalRequestItem:
		out, err := convertViaJSON[responses.ResponseInputItemMcpApprovalRequestParam](v.RawItem)
		if err != nil {
			return TResponseInputItem{}, false
		}
		return TResponseInputItem{OfMcpApprovalRequest: &out}, true
	case MCPApprovalResponseItem:
		raw := v.RawItem
		return TResponseInputItem{OfMcpApprovalResponse: &raw}, true
	case ToolApprovalItem:
		return TResponseInputItem{}, false
	}
	return TResponseInputItem{}, false
}

// outputItemToInputItem converts a model output item into the equivalent
// input item for the next request.
func outputItemToInputItem(item TResponseOutputItem) (TResponseInputItem, bool) {
	switch item.Type {
	case "message":
		return convertOutputMember(item, func(v *responses.ResponseOutputMessageParam) TResponseInputItem {
			return TResponseInputItem{OfOutputMessage: v}
		})
	case "function_call":
		return convertOutputMember(item, func(v *responses.ResponseFunctionToolCallParam) TResponseInputItem {
			return TResponseInputItem{OfFunctionCall: v}
		})
	case "reasoning":
		return convertOutputMember(item, func(v *responses.ResponseReasoningItemParam) TResponseInputItem {
			return TResponseInputItem{OfReasoning: v}
		})
	case "computer_call":
		return convertOutputMember(item, func(v *responses.ResponseComputerToolCallParam) TResponseInputItem {
			return TResponseInputItem{OfComputerCall: v}
		})
	case "local_shell_call":
		return convertOutputMember(item, func(v *responses.ResponseInputItemLocalShellCallParam) TResponseInputItem {
			return TResponseInputItem{OfLocalShellCall: v}
		})
	case "apply_patch_call":
		return convertOutputMember(item, func(v *responses.ResponseInputItemApplyPatchCallParam) TResponseInputItem {
			return TResponseInputItem{OfApplyPatchCall: v}
		})
	case "mcp_approval_request":
		return convertOutputMember(item, func(v *responses.ResponseInputItemMcpApprovalRequestParam) TResponseInputItem {
			return TResponseInputItem{OfMcpApprovalRequest: v}
		})
	case "mcp_call":
		return convertOutputMember(item, func(v *responses.ResponseInputItemMcpCallParam) TResponseInputItem {
			return TResponseInputItem{OfMcpCall: v}
		})
	case "mcp_list_tools":
		return convertOutputMember(item, func(v *responses.ResponseInputItemMcpListToolsParam) TResponseInputItem {
			return TResponseInputItem{OfMcpListTools: v}
		})
	case "file_search_call":
		return convertOutputMember(item, func(v *responses.ResponseFileSearchToolCallParam) TResponseInputItem {
			return TResponseInputItem{OfFileSearchCall: v}
		})
	case "web_search_call":
		return convertOutputMember(item, func(v *responses.ResponseFunctionWebSearchParam) TResponseInputItem {
			return TResponseInputItem{OfWebSearchCall: v}
		})
	case "image_generation_call":
		return convertOutputMember(item, func(v *responses.ResponseInputItemImageGenerationCallParam) TResponseInputItem {
			return TResponseInputItem{OfImageGenerationCall: v}
		})
	case "code_interpreter_call":
		return convertOutputMember(item, func(v *responses.ResponseCodeInterpreterToolCallParam) TResponseInputItem {
			return TResponseInputItem{OfCodeInterpreterCall: v}
		})
	case "custom_tool_call":
		return convertOutputMember(item, func(v *responses.ResponseCustomToolCallParam) TResponseInputItem {
			return TResponseInputItem{OfCustomToolCall: v}
		})
	}
	return TResponseInputItem{}, false
}

func convertOutputMember[T any](item TResponseOutputItem, wrap func(*T) TResponseInputItem) (TResponseInputItem, bool) {
	out, err := convertViaJSON[T](item)
	if err != nil {
		Logger().Warn("failed to convert output item to input item",
			"type", item.Type, "error", err)
		return TResponseInputItem{}, false
	}
	return wrap(&out), true
}

// convertViaJSON re-encodes v into T through its JSON representation. The
// SDK's response and param types share wire shapes, which makes this the
// reliable way to cross between them.
func convertViaJSON[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
