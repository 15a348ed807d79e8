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
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/flowcortex/agentrt/modelsettings"
	"github.com/flowcortex/agentrt/tracing"
)

// approvalRejectionMessage is what the model sees in place of the output of
// a tool call that a human rejected.
const approvalRejectionMessage = "Tool execution was not approved."

// multipleHandoffsMessage is the synthetic output for every handoff call
// beyond the first one in a single turn.
const multipleHandoffsMessage = "Multiple handoffs detected, ignoring this one."

// ToolRunHandoff pairs a requested handoff with the tool call that asked
// for it.
type ToolRunHandoff struct {
	Handoff  Handoff
	ToolCall responses.ResponseFunctionToolCall
}

type ToolRunFunction struct {
	ToolCall     responses.ResponseFunctionToolCall
	FunctionTool FunctionTool
}

type ToolRunComputerAction struct {
	ToolCall     responses.ResponseComputerToolCall
	ComputerTool ComputerTool
}

type ToolRunShellCall struct {
	ToolCall  responses.ResponseOutputItemLocalShellCall
	ShellTool ShellTool
}

type ToolRunApplyPatchCall struct {
	ToolCall       responses.ResponseApplyPatchToolCall
	ApplyPatchTool ApplyPatchTool
}

type ToolRunMCPApprovalRequest struct {
	RequestItem responses.ResponseOutputItemMcpApprovalRequest
	MCPTool     HostedMCPTool
}

// ProcessedResponse is a model response classified into the work it implies.
type ProcessedResponse struct {
	NewItems            []RunItem
	Handoffs            []ToolRunHandoff
	Functions           []ToolRunFunction
	ComputerActions     []ToolRunComputerAction
	ShellCalls          []ToolRunShellCall
	ApplyPatchCalls     []ToolRunApplyPatchCall
	MCPApprovalRequests []ToolRunMCPApprovalRequest

	// Interruptions collects approvals that could be decided without
	// running anything, e.g. hosted MCP requests with no callback.
	Interruptions []ToolApprovalItem

	// ToolsUsed lists the names of all tools the model called this turn.
	ToolsUsed []string
}

// HasToolsOrApprovalsToRun reports whether the turn requires local work
// before the model can produce a final output.
func (pr *ProcessedResponse) HasToolsOrApprovalsToRun() bool {
	return len(pr.Handoffs) > 0 ||
		len(pr.Functions) > 0 ||
		len(pr.ComputerActions) > 0 ||
		len(pr.ShellCalls) > 0 ||
		len(pr.ApplyPatchCalls) > 0 ||
		len(pr.MCPApprovalRequests) > 0 ||
		len(pr.Interruptions) > 0
}

// NextStep is the outcome of one turn. It is a closed set: the run loop
// treats any other implementation as a bug.
type NextStep interface {
	isNextStep()
}

// NextStepRunAgain means the turn produced tool results and the model must
// be called again.
type NextStepRunAgain struct{}

func (NextStepRunAgain) isNextStep() {}

// NextStepHandoff transfers control to a new agent.
type NextStepHandoff struct {
	NewAgent *Agent
}

func (NextStepHandoff) isNextStep() {}

// NextStepFinalOutput ends the run with Output.
type NextStepFinalOutput struct {
	Output any
}

func (NextStepFinalOutput) isNextStep() {}

// NextStepInterruption pauses the run until every listed approval is
// decided and the run is resumed from state.
type NextStepInterruption struct {
	Interruptions []ToolApprovalItem
}

func (NextStepInterruption) isNextStep() {}

// SingleStepResult is everything a single turn produced.
type SingleStepResult struct {
	OriginalInput Input
	ModelResponse ModelResponse

	// PreStepItems were generated before this turn.
	PreStepItems []RunItem

	// NewStepItems were generated during this turn.
	NewStepItems []RunItem

	NextStep NextStep

	ToolInputGuardrailResults  []ToolInputGuardrailResult
	ToolOutputGuardrailResults []ToolOutputGuardrailResult
}

// GeneratedItems returns all items generated up to and including this turn.
func (r *SingleStepResult) GeneratedItems() []RunItem {
	items := slices.Clone(r.PreStepItems)
	return append(items, r.NewStepItems...)
}

// processModelResponse classifies each output item of a model response and
// pairs tool calls with the agent's configured tools. It fails with a
// ModelBehaviorError when the model calls a tool the agent does not have.
func processModelResponse(
	ctx context.Context,
	agent *Agent,
	allTools []Tool,
	response ModelResponse,
	handoffs []Handoff,
) (*ProcessedResponse, error) {
	var (
		items               []RunItem
		runHandoffs         []ToolRunHandoff
		functions           []ToolRunFunction
		computerActions     []ToolRunComputerAction
		shellCalls          []ToolRunShellCall
		applyPatchCalls     []ToolRunApplyPatchCall
		mcpApprovalRequests []ToolRunMCPApprovalRequest
		interruptions       []ToolApprovalItem
		toolsUsed           []string
	)

	handoffMap := make(map[string]Handoff, len(handoffs))
	for _, h := range handoffs {
		handoffMap[h.ToolName] = h
	}

	functionMap := make(map[string]FunctionTool)
	hostedMCPMap := make(map[string]HostedMCPTool)
	var computerTool *ComputerTool
	var shellTool *ShellTool
	var applyPatchTool *ApplyPatchTool

	for _, tool := range allTools {
		switch t := tool.(type) {
		case FunctionTool:
			functionMap[t.Name] = t
		case ComputerTool:
			toolCopy := t
			computerTool = &toolCopy
		case ShellTool:
			toolCopy := t
			shellTool = &toolCopy
		case ApplyPatchTool:
			toolCopy := t
			applyPatchTool = &toolCopy
		case HostedMCPTool:
			hostedMCPMap[t.ToolConfig.ServerLabel] = t
		}
	}

	for _, outputUnion := range response.Output {
		switch outputUnion.Type {
		case "message":
			rawItem := responses.ResponseOutputMessage{
				ID:      outputUnion.ID,
				Content: outputUnion.Content,
				Role:    outputUnion.Role,
				Status:  responses.ResponseOutputMessageStatus(outputUnion.Status),
				Type:    constant.ValueOf[constant.Message](),
			}
			items = append(items, MessageOutputItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: rawItem,
				Type:    "message_output_item",
			})
		case "reasoning":
			rawItem := responses.ResponseReasoningItem{
				ID:               outputUnion.ID,
				Summary:          outputUnion.Summary,
				EncryptedContent: outputUnion.EncryptedContent,
				Status:           responses.ResponseReasoningItemStatus(outputUnion.Status),
				Type:             constant.ValueOf[constant.Reasoning](),
			}
			items = append(items, ReasoningItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: rawItem,
				Type:    "reasoning_item",
			})
		case "file_search_call", "web_search_call", "image_generation_call",
			"code_interpreter_call", "mcp_call":
			items = append(items, ToolCallItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: outputUnion,
				Type:    "tool_call_item",
			})
			toolsUsed = append(toolsUsed, hostedToolName(outputUnion.Type))
		case "mcp_list_tools":
			rawItem := responses.ResponseOutputItemMcpListTools{
				ID:          outputUnion.ID,
				ServerLabel: outputUnion.ServerLabel,
				Tools:       outputUnion.Tools,
				Error:       outputUnion.Error,
				Type:        constant.ValueOf[constant.McpListTools](),
			}
			items = append(items, MCPListToolsItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: rawItem,
				Type:    "mcp_list_tools_item",
			})
		case "mcp_approval_request":
			rawItem := responses.ResponseOutputItemMcpApprovalRequest{
				ID:          outputUnion.ID,
				Arguments:   outputUnion.Arguments,
				Name:        outputUnion.Name,
				ServerLabel: outputUnion.ServerLabel,
				Type:        constant.ValueOf[constant.McpApprovalRequest](),
			}
			items = append(items, MCPApprovalRequestItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: rawItem,
				Type:    "mcp_approval_request_item",
			})
			server, ok := hostedMCPMap[rawItem.ServerLabel]
			if !ok {
				tracing.AttachErrorToCurrentSpan(ctx, tracing.SpanError{
					Message: "MCP server label not found",
					Data:    map[string]any{"server_label": rawItem.ServerLabel},
				})
				return nil, ModelBehaviorErrorf("MCP server label %q not found", rawItem.ServerLabel)
			}
			if server.OnApprovalRequest != nil {
				mcpApprovalRequests = append(mcpApprovalRequests, ToolRunMCPApprovalRequest{
					RequestItem: rawItem,
					MCPTool:     server,
				})
			} else {
				// No callback: surface the request as an interruption so
				// the caller can approve or reject it and resume.
				interruptions = append(interruptions, ToolApprovalItem{
					ID:       newRunItemID(),
					Agent:    agent,
					ToolName: rawItem.Name,
					RawItem:  rawItem,
					Type:     "tool_approval_item",
				})
			}
		case "computer_call":
			toolCall, err := computerCallFromOutput(outputUnion)
			if err != nil {
				return nil, err
			}
			items = append(items, ToolCallItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: outputUnion,
				Type:    "tool_call_item",
			})
			toolsUsed = append(toolsUsed, "computer_use")
			if computerTool == nil {
				tracing.AttachErrorToCurrentSpan(ctx, tracing.SpanError{Message: "Computer tool not found"})
				return nil, NewModelBehaviorError("model produced computer action without a computer tool")
			}
			computerActions = append(computerActions, ToolRunComputerAction{
				ToolCall:     toolCall,
				ComputerTool: *computerTool,
			})
		case "local_shell_call":
			toolCall, err := localShellCallFromOutput(outputUnion)
			if err != nil {
				return nil, err
			}
			items = append(items, ToolCallItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: outputUnion,
				Type:    "tool_call_item",
			})
			toolsUsed = append(toolsUsed, "local_shell")
			if shellTool == nil {
				tracing.AttachErrorToCurrentSpan(ctx, tracing.SpanError{Message: "Shell tool not found"})
				return nil, NewModelBehaviorError("model produced local shell call without a shell tool")
			}
			shellCalls = append(shellCalls, ToolRunShellCall{
				ToolCall:  toolCall,
				ShellTool: *shellTool,
			})
		case "apply_patch_call":
			toolCall, err := applyPatchCallFromOutput(outputUnion)
			if err != nil {
				return nil, err
			}
			items = append(items, ToolCallItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: outputUnion,
				Type:    "tool_call_item",
			})
			toolsUsed = append(toolsUsed, "apply_patch")
			if applyPatchTool == nil {
				tracing.AttachErrorToCurrentSpan(ctx, tracing.SpanError{Message: "Apply patch tool not found"})
				return nil, NewModelBehaviorError("model produced apply_patch call without an apply_patch tool")
			}
			applyPatchCalls = append(applyPatchCalls, ToolRunApplyPatchCall{
				ToolCall:       toolCall,
				ApplyPatchTool: *applyPatchTool,
			})
		case "function_call":
			var toolCall responses.ResponseFunctionToolCall
			if outputUnion.RawJSON() != "" {
				toolCall = outputUnion.AsFunctionCall()
			} else {
				toolCall = responses.ResponseFunctionToolCall{
					ID:        outputUnion.ID,
					Arguments: outputUnion.Arguments,
					CallID:    outputUnion.CallID,
					Name:      outputUnion.Name,
					Status:    responses.ResponseFunctionToolCallStatus(outputUnion.Status),
				}
			}
			if toolCall.Type == "" {
				toolCall.Type = constant.ValueOf[constant.FunctionCall]()
			}

			toolsUsed = append(toolsUsed, toolCall.Name)

			if handoff, ok := handoffMap[toolCall.Name]; ok {
				items = append(items, HandoffCallItem{
					ID:      newRunItemID(),
					Agent:   agent,
					RawItem: toolCall,
					Type:    "handoff_call_item",
				})
				runHandoffs = append(runHandoffs, ToolRunHandoff{
					Handoff:  handoff,
					ToolCall: toolCall,
				})
				continue
			}

			functionTool, ok := functionMap[toolCall.Name]
			if !ok {
				tracing.AttachErrorToCurrentSpan(ctx, tracing.SpanError{
					Message: "Tool not found",
					Data:    map[string]any{"tool_name": toolCall.Name},
				})
				return nil, ModelBehaviorErrorf("tool %s not found in agent %s", toolCall.Name, agent.Name)
			}
			items = append(items, ToolCallItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: outputUnion,
				Type:    "tool_call_item",
			})
			functions = append(functions, ToolRunFunction{
				ToolCall:     toolCall,
				FunctionTool: functionTool,
			})
		default:
			Logger().Warn("unexpected output type, ignoring", "type", outputUnion.Type)
		}
	}

	return &ProcessedResponse{
		NewItems:            items,
		Handoffs:            runHandoffs,
		Functions:           functions,
		ComputerActions:     computerActions,
		ShellCalls:          shellCalls,
		ApplyPatchCalls:     applyPatchCalls,
		MCPApprovalRequests: mcpApprovalRequests,
		Interruptions:       interruptions,
		ToolsUsed:           toolsUsed,
	}, nil
}

func hostedToolName(outputType string) string {
	switch outputType {
	case "file_search_call":
		return "file_search"
	case "web_search_call":
		return "web_search"
	case "image_generation_call":
		return "image_generation"
	case "code_interpreter_call":
		return "code_interpreter"
	case "mcp_call":
		return "mcp"
	}
	return outputType
}

// The union accessors only work when the item was decoded from wire JSON.
// Items assembled programmatically are rebuilt field by field.

func computerCallFromOutput(item TResponseOutputItem) (responses.ResponseComputerToolCall, error) {
	if item.RawJSON() != "" {
		return item.AsComputerCall(), nil
	}
	action, err := convertViaJSON[responses.ResponseComputerToolCallActionUnion](item.Action)
	if err != nil {
		return responses.ResponseComputerToolCall{}, fmt.Errorf("invalid computer call action: %w", err)
	}
	return responses.ResponseComputerToolCall{
		ID:                  item.ID,
		Action:              action,
		CallID:              item.CallID,
		PendingSafetyChecks: item.PendingSafetyChecks,
		Status:              responses.ResponseComputerToolCallStatus(item.Status),
		Type:                responses.ResponseComputerToolCallTypeComputerCall,
	}, nil
}

func localShellCallFromOutput(item TResponseOutputItem) (responses.ResponseOutputItemLocalShellCall, error) {
	if item.RawJSON() != "" {
		return item.AsLocalShellCall(), nil
	}
	action, err := convertViaJSON[responses.ResponseOutputItemLocalShellCallAction](item.Action)
	if err != nil {
		return responses.ResponseOutputItemLocalShellCall{}, fmt.Errorf("invalid local shell call action: %w", err)
	}
	return responses.ResponseOutputItemLocalShellCall{
		ID:     item.ID,
		Action: action,
		CallID: item.CallID,
		Status: item.Status,
		Type:   constant.ValueOf[constant.LocalShellCall](),
	}, nil
}

func applyPatchCallFromOutput(item TResponseOutputItem) (responses.ResponseApplyPatchToolCall, error) {
	if item.RawJSON() != "" {
		return item.AsApplyPatchCall(), nil
	}
	operation, err := convertViaJSON[responses.ResponseApplyPatchToolCallOperationUnion](item.Operation)
	if err != nil {
		return responses.ResponseApplyPatchToolCall{}, fmt.Errorf("invalid apply_patch operation: %w", err)
	}
	return responses.ResponseApplyPatchToolCall{
		ID:        item.ID,
		CallID:    item.CallID,
		Operation: operation,
		Status:    responses.ResponseApplyPatchToolCallStatus(item.Status),
		Type:      constant.ValueOf[constant.ApplyPatchCall](),
	}, nil
}

// executeToolsAndSideEffects runs everything a processed response implies
// and decides the next step. Function tools and computer actions run first
// (functions concurrently with each other, computer actions serially),
// then shell and apply_patch calls, then hosted MCP approval callbacks.
// Pending approvals suspend the run before any handoff is honored.
func executeToolsAndSideEffects(
	ctx context.Context,
	agent *Agent,
	originalInput Input,
	preStepItems []RunItem,
	newResponse ModelResponse,
	processedResponse *ProcessedResponse,
	outputType OutputTypeInterface,
	hooks RunHooks,
	config RunConfig,
	rc *RunContextWrapper[any],
) (*SingleStepResult, error) {
	preStepItems = slices.Clone(preStepItems)

	var newStepItems []RunItem
	newStepItems = append(newStepItems, processedResponse.NewItems...)

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		functionResults            []FunctionToolResult
		toolInputGuardrailResults  []ToolInputGuardrailResult
		toolOutputGuardrailResults []ToolOutputGuardrailResult
		functionInterruptions      []ToolApprovalItem
		computerResults            []RunItem
		toolErrors                 [2]error
		wg                         sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		functionResults, toolInputGuardrailResults, toolOutputGuardrailResults,
			functionInterruptions, toolErrors[0] = executeFunctionToolCalls(
			childCtx, agent, processedResponse.Functions, hooks, config, rc)
	}()
	go func() {
		defer wg.Done()
		computerResults, toolErrors[1] = executeComputerActions(
			childCtx, agent, processedResponse.ComputerActions, hooks)
	}()
	wg.Wait()
	if err := errors.Join(toolErrors[:]...); err != nil {
		return nil, err
	}

	for _, result := range functionResults {
		if result.RunItem != nil {
			newStepItems = append(newStepItems, result.RunItem)
		}
	}
	newStepItems = append(newStepItems, computerResults...)

	shellResults, shellInterruptions, err := executeShellCalls(
		ctx, agent, processedResponse.ShellCalls, hooks, rc)
	if err != nil {
		return nil, err
	}
	newStepItems = append(newStepItems, shellResults...)

	applyPatchResults, applyPatchInterruptions, err := executeApplyPatchCalls(
		ctx, agent, processedResponse.ApplyPatchCalls, hooks, rc)
	if err != nil {
		return nil, err
	}
	newStepItems = append(newStepItems, applyPatchResults...)

	if len(processedResponse.MCPApprovalRequests) > 0 {
		approvalResults, err := executeMCPApprovalRequests(ctx, agent, processedResponse.MCPApprovalRequests)
		if err != nil {
			return nil, err
		}
		newStepItems = append(newStepItems, approvalResults...)
	}

	interruptions := slices.Clone(processedResponse.Interruptions)
	interruptions = append(interruptions, functionInterruptions...)
	interruptions = append(interruptions, shellInterruptions...)
	interruptions = append(interruptions, applyPatchInterruptions...)

	if len(interruptions) > 0 {
		return &SingleStepResult{
			OriginalInput:              originalInput,
			ModelResponse:              newResponse,
			PreStepItems:               preStepItems,
			NewStepItems:               newStepItems,
			ToolInputGuardrailResults:  toolInputGuardrailResults,
			ToolOutputGuardrailResults: toolOutputGuardrailResults,
			NextStep:                   NextStepInterruption{Interruptions: interruptions},
		}, nil
	}

	if len(processedResponse.Handoffs) > 0 {
		stepResult, err := executeHandoffs(
			ctx, agent, originalInput, preStepItems, newStepItems,
			newResponse, processedResponse.Handoffs, hooks, config)
		if err != nil {
			return nil, err
		}
		stepResult.ToolInputGuardrailResults = toolInputGuardrailResults
		stepResult.ToolOutputGuardrailResults = toolOutputGuardrailResults
		return stepResult, nil
	}

	checkToolUse, err := checkForFinalOutputFromTools(ctx, agent, functionResults)
	if err != nil {
		return nil, err
	}

	if checkToolUse.IsFinalOutput {
		finalOutput := checkToolUse.FinalOutput
		if agent.OutputType == nil || agent.OutputType.IsPlainText() {
			if _, ok := finalOutput.(string); !ok {
				finalOutput = fmt.Sprintf("%v", finalOutput)
			}
		}
		stepResult, err := executeFinalOutput(
			ctx, agent, originalInput, newResponse, preStepItems, newStepItems, finalOutput, hooks)
		if err != nil {
			return nil, err
		}
		stepResult.ToolInputGuardrailResults = toolInputGuardrailResults
		stepResult.ToolOutputGuardrailResults = toolOutputGuardrailResults
		return stepResult, nil
	}

	// The last message text is the candidate final output. A structured
	// output type always ends the turn when present; plain text ends it
	// only when the turn ran no tools.
	potentialFinalOutputText := ""
	for _, item := range newStepItems {
		if messageItem, ok := item.(MessageOutputItem); ok {
			potentialFinalOutputText = TextMessageOutput(messageItem)
		}
	}

	switch {
	case outputType != nil && !outputType.IsPlainText() && potentialFinalOutputText != "":
		finalOutput, err := outputType.ValidateJSON(ctx, potentialFinalOutputText)
		if err != nil {
			return nil, fmt.Errorf("final output type JSON validation failed: %w", err)
		}
		stepResult, err := executeFinalOutput(
			ctx, agent, originalInput, newResponse, preStepItems, newStepItems, finalOutput, hooks)
		if err != nil {
			return nil, err
		}
		stepResult.ToolInputGuardrailResults = toolInputGuardrailResults
		stepResult.ToolOutputGuardrailResults = toolOutputGuardrailResults
		return stepResult, nil
	case (outputType == nil || outputType.IsPlainText()) && !processedResponse.HasToolsOrApprovalsToRun():
		stepResult, err := executeFinalOutput(
			ctx, agent, originalInput, newResponse, preStepItems, newStepItems, potentialFinalOutputText, hooks)
		if err != nil {
			return nil, err
		}
		stepResult.ToolInputGuardrailResults = toolInputGuardrailResults
		stepResult.ToolOutputGuardrailResults = toolOutputGuardrailResults
		return stepResult, nil
	default:
		return &SingleStepResult{
			OriginalInput:              originalInput,
			ModelResponse:              newResponse,
			PreStepItems:               preStepItems,
			NewStepItems:               newStepItems,
			ToolInputGuardrailResults:  toolInputGuardrailResults,
			ToolOutputGuardrailResults: toolOutputGuardrailResults,
			NextStep:                   NextStepRunAgain{},
		}, nil
	}
}

// executeFunctionToolCalls runs all function tool calls of a turn
// concurrently. A call whose approval is still undecided produces a
// ToolApprovalItem instead of a result; a rejected call produces a
// rejection message as its output.
func executeFunctionToolCalls(
	ctx context.Context,
	agent *Agent,
	toolRuns []ToolRunFunction,
	hooks RunHooks,
	config RunConfig,
	rc *RunContextWrapper[any],
) ([]FunctionToolResult, []ToolInputGuardrailResult, []ToolOutputGuardrailResult, []ToolApprovalItem, error) {
	if len(toolRuns) == 0 {
		return nil, nil, nil, nil, nil
	}
	if rc == nil {
		rc = NewRunContextWrapper[any](nil)
	}

	runSingleTool := func(
		ctx context.Context,
		funcTool FunctionTool,
		toolCall responses.ResponseFunctionToolCall,
	) (any, []ToolInputGuardrailResult, []ToolOutputGuardrailResult, []ToolApprovalItem, error) {
		var result any
		var approvalItems []ToolApprovalItem
		var inputGuardrailResults []ToolInputGuardrailResult
		var outputGuardrailResults []ToolOutputGuardrailResult

		errorFn := funcTool.FailureErrorFunction

		spanData := &tracing.FunctionSpanData{Name: funcTool.Name, Input: toolCall.Arguments}
		spanCtx, span := tracing.StartSpan(ctx, spanData)
		defer tracing.EndSpan(spanCtx, span)
		ctx = spanCtx

		if funcTool.NeedsApproval != nil {
			parsedArgs := map[string]any{}
			if toolCall.Arguments != "" {
				if err := json.Unmarshal([]byte(toolCall.Arguments), &parsedArgs); err != nil {
					parsedArgs = map[string]any{}
				}
			}
			needsApproval, err := funcTool.NeedsApproval.NeedsApproval(ctx, parsedArgs, toolCall.CallID)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			if needsApproval {
				approved, known := rc.GetApprovalStatus(funcTool.Name, toolCall.CallID)
				if !known {
					approvalItems = append(approvalItems, ToolApprovalItem{
						ID:      newRunItemID(),
						Agent:   agent,
						RawItem: toolCall,
						Type:    "tool_approval_item",
					})
					return nil, inputGuardrailResults, outputGuardrailResults, approvalItems, nil
				}
				if !approved {
					span.SetError(tracing.SpanError{
						Message: approvalRejectionMessage,
						Data:    map[string]any{"tool_name": funcTool.Name, "call_id": toolCall.CallID},
					})
					spanData.Output = approvalRejectionMessage
					return approvalRejectionMessage, inputGuardrailResults, outputGuardrailResults, nil, nil
				}
			}
		}

		guardrailData := ToolInputGuardrailData{
			Agent:         agent,
			ToolName:      toolCall.Name,
			ToolArguments: toolCall.Arguments,
			CallID:        toolCall.CallID,
		}
		for _, guardrail := range funcTool.ToolInputGuardrails {
			guardrailResult, err := guardrail.Run(ctx, guardrailData)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			inputGuardrailResults = append(inputGuardrailResults, guardrailResult)
			switch guardrailResult.Output.Behavior {
			case ToolBehaviorAllow:
			case ToolBehaviorRaiseException:
				return nil, inputGuardrailResults, outputGuardrailResults, nil,
					ToolInputGuardrailTripwireTriggeredError{Result: guardrailResult}
			case ToolBehaviorRejectContent:
				spanData.Output = guardrailResult.Output.Message
				return guardrailResult.Output.Message, inputGuardrailResults, outputGuardrailResults, nil, nil
			default:
				return nil, nil, nil, nil,
					UserErrorf("unknown tool guardrail behavior %q", guardrailResult.Output.Behavior)
			}
		}

		var hooksErrors [2]error
		var toolError error

		childCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hooks.OnToolStart(childCtx, agent, funcTool); err != nil {
				cancel()
				hooksErrors[0] = fmt.Errorf("RunHooks.OnToolStart failed: %w", err)
			}
		}()
		if agent.Hooks != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := agent.Hooks.OnToolStart(childCtx, agent, funcTool, toolCall.Arguments); err != nil {
					cancel()
					hooksErrors[1] = fmt.Errorf("AgentHooks.OnToolStart failed: %w", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, toolError = funcTool.OnInvokeTool(childCtx, toolCall.Arguments)
			if toolError != nil && errorFn == nil {
				cancel()
			}
		}()
		wg.Wait()

		if err := errors.Join(hooksErrors[:]...); err != nil {
			return nil, nil, nil, nil, err
		}

		if toolError != nil {
			if errorFn == nil {
				span.SetError(tracing.SpanError{
					Message: "Error running tool",
					Data:    map[string]any{"tool_name": funcTool.Name, "error": toolError.Error()},
				})
				return nil, nil, nil, nil, fmt.Errorf("error running tool %s: %w", funcTool.Name, toolError)
			}
			result = errorFn(ctx, toolError)
			span.SetError(tracing.SpanError{
				Message: "Error running tool (non-fatal)",
				Data:    map[string]any{"tool_name": funcTool.Name, "error": toolError.Error()},
			})
		}

		for _, guardrail := range funcTool.ToolOutputGuardrails {
			guardrailResult, err := guardrail.Run(ctx, ToolOutputGuardrailData{
				ToolInputGuardrailData: guardrailData,
				Output:                 result,
			})
			if err != nil {
				return nil, nil, nil, nil, err
			}
			outputGuardrailResults = append(outputGuardrailResults, guardrailResult)
			switch guardrailResult.Output.Behavior {
			case ToolBehaviorAllow:
			case ToolBehaviorRaiseException:
				return nil, inputGuardrailResults, outputGuardrailResults, nil,
					ToolOutputGuardrailTripwireTriggeredError{Result: guardrailResult}
			case ToolBehaviorRejectContent:
				result = guardrailResult.Output.Message
			default:
				return nil, nil, nil, nil,
					UserErrorf("unknown tool guardrail behavior %q", guardrailResult.Output.Behavior)
			}
			if guardrailResult.Output.Behavior == ToolBehaviorRejectContent {
				break
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hooks.OnToolEnd(childCtx, agent, funcTool, result); err != nil {
				cancel()
				hooksErrors[0] = fmt.Errorf("RunHooks.OnToolEnd failed: %w", err)
			}
		}()
		if agent.Hooks != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := agent.Hooks.OnToolEnd(childCtx, agent, funcTool, result); err != nil {
					cancel()
					hooksErrors[1] = fmt.Errorf("AgentHooks.OnToolEnd failed: %w", err)
				}
			}()
		}
		wg.Wait()
		if err := errors.Join(hooksErrors[:]...); err != nil {
			return nil, nil, nil, nil, err
		}

		spanData.Output = stringifyToolOutput(result)
		return result, inputGuardrailResults, outputGuardrailResults, nil, nil
	}

	results := make([]any, len(toolRuns))
	perToolInputGuardrailResults := make([][]ToolInputGuardrailResult, len(toolRuns))
	perToolOutputGuardrailResults := make([][]ToolOutputGuardrailResult, len(toolRuns))
	perToolApprovalItems := make([][]ToolApprovalItem, len(toolRuns))
	resultErrors := make([]error, len(toolRuns))

	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(toolRuns))
	for i, toolRun := range toolRuns {
		go func(i int, toolRun ToolRunFunction) {
			defer wg.Done()
			results[i],
				perToolInputGuardrailResults[i],
				perToolOutputGuardrailResults[i],
				perToolApprovalItems[i],
				resultErrors[i] = runSingleTool(ctx, toolRun.FunctionTool, toolRun.ToolCall)
			if resultErrors[i] != nil {
				cancel()
			}
		}(i, toolRun)
	}
	wg.Wait()
	if err := errors.Join(resultErrors...); err != nil {
		return nil, nil, nil, nil, err
	}

	functionToolResults := make([]FunctionToolResult, len(results))
	var functionInterruptions []ToolApprovalItem
	for i, result := range results {
		toolRun := toolRuns[i]
		if approvalItems := perToolApprovalItems[i]; len(approvalItems) > 0 {
			functionInterruptions = append(functionInterruptions, approvalItems...)
			functionToolResults[i] = FunctionToolResult{Tool: toolRun.FunctionTool}
			continue
		}
		functionToolResults[i] = FunctionToolResult{
			Tool:   toolRun.FunctionTool,
			Output: result,
			RunItem: ToolCallOutputItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: functionCallOutputItem(toolRun.ToolCall.CallID, result),
				Output:  result,
				Type:    "tool_call_output_item",
			},
		}
	}

	var toolInputGuardrailResults []ToolInputGuardrailResult
	var toolOutputGuardrailResults []ToolOutputGuardrailResult
	for i := range toolRuns {
		toolInputGuardrailResults = append(toolInputGuardrailResults, perToolInputGuardrailResults[i]...)
		toolOutputGuardrailResults = append(toolOutputGuardrailResults, perToolOutputGuardrailResults[i]...)
	}

	return functionToolResults, toolInputGuardrailResults, toolOutputGuardrailResults, functionInterruptions, nil
}

// executeComputerActions runs computer actions serially: each action can
// change the computer state the next one depends on.
func executeComputerActions(
	ctx context.Context,
	agent *Agent,
	actions []ToolRunComputerAction,
	hooks RunHooks,
) ([]RunItem, error) {
	results := make([]RunItem, len(actions))
	for i, action := range actions {
		if action.ComputerTool.Computer == nil {
			return nil, NewUserError("computer tool has no computer")
		}

		var acknowledged []responses.ResponseInputItemComputerCallOutputAcknowledgedSafetyCheckParam
		for _, check := range action.ToolCall.PendingSafetyChecks {
			if action.ComputerTool.OnSafetyCheck == nil {
				return nil, NewUserError("computer tool has pending safety checks but no OnSafetyCheck handler")
			}
			ack, err := action.ComputerTool.OnSafetyCheck(ctx, ComputerToolSafetyCheckData{
				Agent:       agent,
				ToolCall:    action.ToolCall,
				SafetyCheck: check,
			})
			if err != nil {
				return nil, err
			}
			if !ack {
				return nil, NewUserError("computer tool safety check was not acknowledged")
			}
			acknowledged = append(acknowledged, responses.ResponseInputItemComputerCallOutputAcknowledgedSafetyCheckParam{
				ID:      check.ID,
				Code:    param.NewOpt(check.Code),
				Message: param.NewOpt(check.Message),
			})
		}

		result, err := executeComputerAction(ctx, agent, action, hooks, acknowledged)
		if err != nil {
			return nil, err
		}
		results[i] = result
	}
	return results, nil
}

func executeComputerAction(
	ctx context.Context,
	agent *Agent,
	action ToolRunComputerAction,
	hooks RunHooks,
	acknowledged []responses.ResponseInputItemComputerCallOutputAcknowledgedSafetyCheckParam,
) (RunItem, error) {
	if err := runToolStartHooks(ctx, agent, hooks, action.ComputerTool, nil); err != nil {
		return nil, err
	}

	screenshot, err := performComputerAction(ctx, action.ComputerTool.Computer, action.ToolCall)
	if err != nil {
		return nil, fmt.Errorf("error running computer tool: %w", err)
	}

	imageURL := "data:image/png;base64," + screenshot
	if err := runToolEndHooks(ctx, agent, hooks, action.ComputerTool, imageURL); err != nil {
		return nil, err
	}

	return ToolCallOutputItem{
		ID:    newRunItemID(),
		Agent: agent,
		RawItem: TResponseInputItem{
			OfComputerCallOutput: &responses.ResponseInputItemComputerCallOutputParam{
				CallID: action.ToolCall.CallID,
				Output: responses.ResponseComputerToolCallOutputScreenshotParam{
					ImageURL: param.NewOpt(imageURL),
					Type:     constant.ValueOf[constant.ComputerScreenshot](),
				},
				AcknowledgedSafetyChecks: acknowledged,
				Type:                     constant.ValueOf[constant.ComputerCallOutput](),
			},
		},
		Output: imageURL,
		Type:   "tool_call_output_item",
	}, nil
}

func performComputerAction(
	ctx context.Context,
	comp Computer,
	toolCall responses.ResponseComputerToolCall,
) (string, error) {
	action := toolCall.Action

	var err error
	switch action.Type {
	case "click":
		err = comp.Click(ctx, action.X, action.Y, Button(action.Button))
	case "double_click":
		err = comp.DoubleClick(ctx, action.X, action.Y)
	case "drag":
		path := make([][2]int64, len(action.Path))
		for i, p := range action.Path {
			path[i] = [2]int64{p.X, p.Y}
		}
		err = comp.Drag(ctx, path)
	case "keypress":
		err = comp.Keypress(ctx, action.Keys)
	case "move":
		err = comp.Move(ctx, action.X, action.Y)
	case "screenshot":
		return comp.Screenshot(ctx)
	case "scroll":
		err = comp.Scroll(ctx, action.X, action.Y, action.ScrollX, action.ScrollY)
	case "type":
		err = comp.Type(ctx, action.Text)
	case "wait":
		err = comp.Wait(ctx)
	default:
		err = ModelBehaviorErrorf("unexpected computer action type %q", action.Type)
	}
	if err != nil {
		return "", err
	}
	return comp.Screenshot(ctx)
}

// executeShellCalls runs shell calls serially. Calls that need an undecided
// approval suspend; rejected calls report the rejection as their output.
func executeShellCalls(
	ctx context.Context,
	agent *Agent,
	calls []ToolRunShellCall,
	hooks RunHooks,
	rc *RunContextWrapper[any],
) ([]RunItem, []ToolApprovalItem, error) {
	if len(calls) == 0 {
		return nil, nil, nil
	}
	if rc == nil {
		rc = NewRunContextWrapper[any](nil)
	}

	var results []RunItem
	var interruptions []ToolApprovalItem

	for _, call := range calls {
		tool := call.ShellTool
		if tool.Executor == nil {
			return nil, nil, NewUserError("shell tool has no executor")
		}
		request := shellCommandRequestFromCall(call.ToolCall)

		if tool.NeedsApproval != nil {
			needsApproval, err := tool.NeedsApproval.NeedsApproval(ctx, request)
			if err != nil {
				return nil, nil, err
			}
			if needsApproval {
				approved, known := rc.GetApprovalStatus(tool.ToolName(), call.ToolCall.CallID)
				if !known {
					interruptions = append(interruptions, ToolApprovalItem{
						ID:      newRunItemID(),
						Agent:   agent,
						RawItem: call.ToolCall,
						Type:    "tool_approval_item",
					})
					continue
				}
				if !approved {
					results = append(results, shellCallOutputItem(agent, call.ToolCall.CallID, approvalRejectionMessage))
					continue
				}
			}
		}

		if err := runToolStartHooks(ctx, agent, hooks, tool, nil); err != nil {
			return nil, nil, err
		}
		output, err := tool.Executor.Execute(ctx, request)
		if err != nil {
			return nil, nil, fmt.Errorf("error running shell command: %w", err)
		}
		if err := runToolEndHooks(ctx, agent, hooks, tool, output); err != nil {
			return nil, nil, err
		}
		results = append(results, shellCallOutputItem(agent, call.ToolCall.CallID, output))
	}

	return results, interruptions, nil
}

func shellCallOutputItem(agent *Agent, callID, output string) RunItem {
	return ToolCallOutputItem{
		ID:    newRunItemID(),
		Agent: agent,
		RawItem: TResponseInputItem{
			OfLocalShellCallOutput: &responses.ResponseInputItemLocalShellCallOutputParam{
				ID:     callID,
				Output: output,
				Type:   constant.ValueOf[constant.LocalShellCallOutput](),
			},
		},
		Output: output,
		Type:   "tool_call_output_item",
	}
}

// executeApplyPatchCalls applies file operations serially in call order.
func executeApplyPatchCalls(
	ctx context.Context,
	agent *Agent,
	calls []ToolRunApplyPatchCall,
	hooks RunHooks,
	rc *RunContextWrapper[any],
) ([]RunItem, []ToolApprovalItem, error) {
	if len(calls) == 0 {
		return nil, nil, nil
	}
	if rc == nil {
		rc = NewRunContextWrapper[any](nil)
	}

	var results []RunItem
	var interruptions []ToolApprovalItem

	for _, call := range calls {
		tool := call.ApplyPatchTool
		if tool.Editor == nil {
			return nil, nil, NewUserError("apply_patch tool has no editor")
		}
		op, err := applyPatchOperationFromCall(call.ToolCall)
		if err != nil {
			return nil, nil, err
		}

		if tool.NeedsApproval != nil {
			needsApproval, err := tool.NeedsApproval.NeedsApproval(ctx, op)
			if err != nil {
				return nil, nil, err
			}
			if needsApproval {
				approved, known := rc.GetApprovalStatus(tool.ToolName(), call.ToolCall.CallID)
				if !known {
					interruptions = append(interruptions, ToolApprovalItem{
						ID:      newRunItemID(),
						Agent:   agent,
						RawItem: call.ToolCall,
						Type:    "tool_approval_item",
					})
					continue
				}
				if !approved {
					results = append(results, applyPatchOutputItem(
						agent, call.ToolCall.CallID, "failed", approvalRejectionMessage))
					continue
				}
			}
		}

		if err := runToolStartHooks(ctx, agent, hooks, tool, nil); err != nil {
			return nil, nil, err
		}
		output, opErr := invokeEditor(ctx, tool.Editor, op)
		status := "completed"
		if opErr != nil {
			status = "failed"
			output = opErr.Error()
		}
		if err := runToolEndHooks(ctx, agent, hooks, tool, output); err != nil {
			return nil, nil, err
		}
		results = append(results, applyPatchOutputItem(agent, call.ToolCall.CallID, status, output))
	}

	return results, interruptions, nil
}

func applyPatchOutputItem(agent *Agent, callID, status, output string) RunItem {
	rawItem := responses.ResponseInputItemApplyPatchCallOutputParam{
		CallID: callID,
		Status: status,
		Type:   constant.ValueOf[constant.ApplyPatchCallOutput](),
	}
	if output != "" {
		rawItem.Output = param.NewOpt(output)
	}
	return ToolCallOutputItem{
		ID:      newRunItemID(),
		Agent:   agent,
		RawItem: TResponseInputItem{OfApplyPatchCallOutput: &rawItem},
		Output:  output,
		Type:    "tool_call_output_item",
	}
}

// executeMCPApprovalRequests invokes the configured approval callbacks
// concurrently and records each answer as an approval response item.
func executeMCPApprovalRequests(
	ctx context.Context,
	agent *Agent,
	approvalRequests []ToolRunMCPApprovalRequest,
) ([]RunItem, error) {
	if len(approvalRequests) == 0 {
		return nil, nil
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(approvalRequests))
	results := make([]RunItem, len(approvalRequests))

	var wg sync.WaitGroup
	wg.Add(len(approvalRequests))
	for i, approvalRequest := range approvalRequests {
		go func(i int, approvalRequest ToolRunMCPApprovalRequest) {
			defer wg.Done()
			results[i], errs[i] = runSingleMCPApproval(childCtx, agent, approvalRequest)
			if errs[i] != nil {
				cancel()
			}
		}(i, approvalRequest)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

func runSingleMCPApproval(
	ctx context.Context,
	agent *Agent,
	approvalRequest ToolRunMCPApprovalRequest,
) (RunItem, error) {
	callback := approvalRequest.MCPTool.OnApprovalRequest
	if callback == nil {
		return nil, errors.New("callback is required for MCP approval requests")
	}

	result, err := callback(ctx, MCPApprovalRequest{RequestItem: approvalRequest.RequestItem})
	if err != nil {
		return nil, err
	}

	var reason param.Opt[string]
	if !result.Approve && result.Reason != "" {
		reason = param.NewOpt(result.Reason)
	}

	return MCPApprovalResponseItem{
		ID:    newRunItemID(),
		Agent: agent,
		RawItem: responses.ResponseInputItemMcpApprovalResponseParam{
			ApprovalRequestID: approvalRequest.RequestItem.ID,
			Approve:           result.Approve,
			Reason:            reason,
			Type:              constant.ValueOf[constant.McpApprovalResponse](),
		},
		Type: "mcp_approval_response_item",
	}, nil
}

// executeHandoffs honors the first requested handoff of the turn. Every
// additional handoff call gets a synthetic rejection output so the model
// knows it was ignored.
func executeHandoffs(
	ctx context.Context,
	agent *Agent,
	originalInput Input,
	preStepItems []RunItem,
	newStepItems []RunItem,
	newResponse ModelResponse,
	runHandoffs []ToolRunHandoff,
	hooks RunHooks,
	config RunConfig,
) (*SingleStepResult, error) {
	multipleHandoffs := len(runHandoffs) > 1
	if multipleHandoffs {
		for _, rejected := range runHandoffs[1:] {
			newStepItems = append(newStepItems, ToolCallOutputItem{
				ID:      newRunItemID(),
				Agent:   agent,
				RawItem: functionCallOutputItem(rejected.ToolCall.CallID, multipleHandoffsMessage),
				Output:  multipleHandoffsMessage,
				Type:    "tool_call_output_item",
			})
		}
	}

	actualHandoff := runHandoffs[0]
	handoff := actualHandoff.Handoff

	spanData := &tracing.HandoffSpanData{FromAgent: agent.Name}
	spanCtx, span := tracing.StartSpan(ctx, spanData)
	newAgent, err := handoff.OnInvokeHandoff(spanCtx, actualHandoff.ToolCall.Arguments)
	if err != nil {
		span.SetError(tracing.SpanError{Message: "failed to invoke handoff"})
		tracing.EndSpan(spanCtx, span)
		return nil, fmt.Errorf("failed to invoke handoff: %w", err)
	}
	spanData.ToAgent = newAgent.Name
	if multipleHandoffs {
		requestedAgents := make([]string, len(runHandoffs))
		for i, h := range runHandoffs {
			requestedAgents[i] = h.Handoff.AgentName
		}
		span.SetError(tracing.SpanError{
			Message: "Multiple handoffs requested",
			Data:    map[string]any{"requested_agents": requestedAgents},
		})
	}
	tracing.EndSpan(spanCtx, span)

	newStepItems = append(newStepItems, HandoffOutputItem{
		ID:          newRunItemID(),
		Agent:       agent,
		RawItem:     functionCallOutputItem(actualHandoff.ToolCall.CallID, transferMessage(newAgent)),
		SourceAgent: agent,
		TargetAgent: newAgent,
		Type:        "handoff_output_item",
	})

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var handoffErrors [2]error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hooks.OnHandoff(childCtx, agent, newAgent); err != nil {
			cancel()
			handoffErrors[0] = fmt.Errorf("RunHooks.OnHandoff failed: %w", err)
		}
	}()
	if agent.Hooks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := agent.Hooks.OnHandoff(childCtx, newAgent, agent); err != nil {
				cancel()
				handoffErrors[1] = fmt.Errorf("AgentHooks.OnHandoff failed: %w", err)
			}
		}()
	}
	wg.Wait()
	if err := errors.Join(handoffErrors[:]...); err != nil {
		return nil, err
	}

	inputFilter := handoff.InputFilter
	if inputFilter == nil {
		inputFilter = config.HandoffInputFilter
	}
	if inputFilter != nil {
		Logger().Debug("filtering inputs for handoff", "from", agent.Name, "to", newAgent.Name)
		filtered, err := inputFilter(ctx, HandoffInputData{
			InputHistory:    CopyInput(originalInput),
			PreHandoffItems: slices.Clone(preStepItems),
			NewItems:        slices.Clone(newStepItems),
		})
		if err != nil {
			return nil, fmt.Errorf("handoff input filter failed: %w", err)
		}
		originalInput = filtered.InputHistory
		preStepItems = filtered.PreHandoffItems
		newStepItems = filtered.NewItems
	}

	return &SingleStepResult{
		OriginalInput: originalInput,
		ModelResponse: newResponse,
		PreStepItems:  preStepItems,
		NewStepItems:  newStepItems,
		NextStep:      NextStepHandoff{NewAgent: newAgent},
	}, nil
}

func executeFinalOutput(
	ctx context.Context,
	agent *Agent,
	originalInput Input,
	newResponse ModelResponse,
	preStepItems []RunItem,
	newStepItems []RunItem,
	finalOutput any,
	hooks RunHooks,
) (*SingleStepResult, error) {
	if err := runFinalOutputHooks(ctx, agent, hooks, finalOutput); err != nil {
		return nil, err
	}
	return &SingleStepResult{
		OriginalInput: originalInput,
		ModelResponse: newResponse,
		PreStepItems:  preStepItems,
		NewStepItems:  newStepItems,
		NextStep:      NextStepFinalOutput{Output: finalOutput},
	}, nil
}

func runFinalOutputHooks(ctx context.Context, agent *Agent, hooks RunHooks, finalOutput any) error {
	var hooksErrors [2]error

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hooks.OnAgentEnd(childCtx, agent, finalOutput); err != nil {
			cancel()
			hooksErrors[0] = fmt.Errorf("RunHooks.OnAgentEnd failed: %w", err)
		}
	}()
	if agent.Hooks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := agent.Hooks.OnEnd(childCtx, agent, finalOutput); err != nil {
				cancel()
				hooksErrors[1] = fmt.Errorf("AgentHooks.OnEnd failed: %w", err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(hooksErrors[:]...)
}

func runToolStartHooks(ctx context.Context, agent *Agent, hooks RunHooks, tool Tool, arguments any) error {
	if err := hooks.OnToolStart(ctx, agent, tool); err != nil {
		return fmt.Errorf("RunHooks.OnToolStart failed: %w", err)
	}
	if agent.Hooks != nil {
		if err := agent.Hooks.OnToolStart(ctx, agent, tool, arguments); err != nil {
			return fmt.Errorf("AgentHooks.OnToolStart failed: %w", err)
		}
	}
	return nil
}

func runToolEndHooks(ctx context.Context, agent *Agent, hooks RunHooks, tool Tool, result any) error {
	if err := hooks.OnToolEnd(ctx, agent, tool, result); err != nil {
		return fmt.Errorf("RunHooks.OnToolEnd failed: %w", err)
	}
	if agent.Hooks != nil {
		if err := agent.Hooks.OnToolEnd(ctx, agent, tool, result); err != nil {
			return fmt.Errorf("AgentHooks.OnToolEnd failed: %w", err)
		}
	}
	return nil
}

func runSingleInputGuardrail(
	ctx context.Context,
	agent *Agent,
	guardrail InputGuardrail,
	input Input,
) (InputGuardrailResult, error) {
	spanData := &tracing.GuardrailSpanData{Name: guardrail.Name}
	spanCtx, span := tracing.StartSpan(ctx, spanData)
	defer tracing.EndSpan(spanCtx, span)

	result, err := guardrail.Run(spanCtx, agent, input)
	if err != nil {
		span.SetError(tracing.SpanError{Message: err.Error()})
		return InputGuardrailResult{}, err
	}
	spanData.Triggered = result.Output.TripwireTriggered
	return result, nil
}

func runSingleOutputGuardrail(
	ctx context.Context,
	guardrail OutputGuardrail,
	agent *Agent,
	agentOutput any,
) (OutputGuardrailResult, error) {
	spanData := &tracing.GuardrailSpanData{Name: guardrail.Name}
	spanCtx, span := tracing.StartSpan(ctx, spanData)
	defer tracing.EndSpan(spanCtx, span)

	result, err := guardrail.Run(spanCtx, agent, agentOutput)
	if err != nil {
		span.SetError(tracing.SpanError{Message: err.Error()})
		return OutputGuardrailResult{}, err
	}
	spanData.Triggered = result.Output.TripwireTriggered
	return result, nil
}

func checkForFinalOutputFromTools(
	ctx context.Context,
	agent *Agent,
	toolResults []FunctionToolResult,
) (ToolsToFinalOutputResult, error) {
	if len(toolResults) == 0 {
		return ToolsToFinalOutputResult{}, nil
	}
	behavior := agent.ToolUseBehavior
	if behavior == nil {
		behavior = RunLLMAgain()
	}
	return behavior.ToolsToFinalOutput(ctx, toolResults)
}

// maybeResetToolChoice clears a forced tool choice once the agent has used
// tools, so the model is not trapped in an infinite tool-calling loop.
func maybeResetToolChoice(
	agent *Agent,
	tracker *toolUseTracker,
	settings modelsettings.ModelSettings,
) modelsettings.ModelSettings {
	if agent.ResetToolChoice.Or(true) && tracker.HasUsedTools(agent) {
		settings.ToolChoice = ""
	}
	return settings
}
