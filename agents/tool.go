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

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
)

// Tool is anything an agent can call.
type Tool interface {
	ToolName() string
	isTool()
}

// ToolErrorFunction formats a tool invocation error into the string sent
// back to the model in place of the tool's output.
type ToolErrorFunction func(ctx context.Context, err error) string

// DefaultToolErrorFunction reports the error to the model so it can recover.
func DefaultToolErrorFunction(_ context.Context, err error) string {
	return fmt.Sprintf("An error occurred while running the tool. Error: %s", err)
}

// FunctionToolNeedsApproval decides whether a specific call needs human
// approval before it may execute.
type FunctionToolNeedsApproval interface {
	NeedsApproval(ctx context.Context, args map[string]any, callID string) (bool, error)
}

type FunctionToolNeedsApprovalFunc func(ctx context.Context, args map[string]any, callID string) (bool, error)

func (f FunctionToolNeedsApprovalFunc) NeedsApproval(ctx context.Context, args map[string]any, callID string) (bool, error) {
	return f(ctx, args, callID)
}

// NeedsApprovalAlways gates every call on approval.
func NeedsApprovalAlways() FunctionToolNeedsApproval {
	return FunctionToolNeedsApprovalFunc(func(context.Context, map[string]any, string) (bool, error) {
		return true, nil
	})
}

// FunctionTool wraps a Go function so the model can call it.
type FunctionTool struct {
	Name        string
	Description string

	// ParamsJSONSchema is the JSON schema for the tool's arguments.
	ParamsJSONSchema map[string]any

	// OnInvokeTool receives the raw argument JSON and returns the tool's
	// output. The output is normalized for the model by the runtime.
	OnInvokeTool func(ctx context.Context, arguments string) (any, error)

	// StrictJSONSchema enforces strict schema mode. Defaults to true.
	StrictJSONSchema param.Opt[bool]

	// IsEnabled can hide the tool from the model for a given run.
	IsEnabled func(ctx context.Context, agent *Agent) (bool, error)

	// NeedsApproval suspends matching calls until a decision is recorded.
	NeedsApproval FunctionToolNeedsApproval

	// FailureErrorFunction converts invocation errors into model-visible
	// output. When nil, an invocation error aborts the run.
	FailureErrorFunction ToolErrorFunction

	ToolInputGuardrails  []ToolInputGuardrail
	ToolOutputGuardrails []ToolOutputGuardrail
}

func (t FunctionTool) ToolName() string { return t.Name }

func (FunctionTool) isTool() {}

// FunctionToolResult pairs an executed tool with its output.
type FunctionToolResult struct {
	Tool   FunctionTool
	Output any

	// RunItem is the item generated for this result: a ToolCallOutputItem,
	// or a ToolApprovalItem when the call was suspended.
	RunItem RunItem
}

// NewFunctionTool builds a FunctionTool from a typed Go function. The
// argument schema is derived from T and arguments are validated against it
// before fn runs. Invocation errors are reported to the model through
// DefaultToolErrorFunction.
func NewFunctionTool[T any](name, description string, fn func(ctx context.Context, args T) (any, error)) FunctionTool {
	schema, schemaErr := schemaForType[T]()
	if schemaErr == nil {
		schemaErr = ensureStrictJSONSchema(schema)
	}
	return FunctionTool{
		Name:             name,
		Description:      description,
		ParamsJSONSchema: schema,
		StrictJSONSchema: param.NewOpt(true),
		OnInvokeTool: func(ctx context.Context, arguments string) (any, error) {
			if schemaErr != nil {
				return nil, fmt.Errorf("invalid schema for tool %s: %w", name, schemaErr)
			}
			if arguments == "" {
				arguments = "{}"
			}
			if err := validateJSONAgainstSchema(schema, arguments); err != nil {
				return nil, err
			}
			var args T
			if err := json.Unmarshal([]byte(arguments), &args); err != nil {
				return nil, ModelBehaviorErrorf("invalid arguments for tool %s: %v", name, err)
			}
			return fn(ctx, args)
		},
		FailureErrorFunction: DefaultToolErrorFunction,
	}
}

// HostedMCPTool exposes a remote MCP server that the backend invokes
// directly. Approval requests surface locally when the server's policy
// demands them.
type HostedMCPTool struct {
	ToolConfig responses.ToolMcpParam

	// OnApprovalRequest, when set, decides approval requests automatically.
	// Without it, requests become run interruptions.
	OnApprovalRequest func(ctx context.Context, request MCPApprovalRequest) (MCPApprovalResult, error)
}

func (t HostedMCPTool) ToolName() string {
	return "hosted_mcp_" + t.ToolConfig.ServerLabel
}

func (HostedMCPTool) isTool() {}

// MCPApprovalRequest is a pending hosted MCP call.
type MCPApprovalRequest struct {
	RequestItem responses.ResponseOutputItemMcpApprovalRequest
}

// MCPApprovalResult is the decision for an MCPApprovalRequest.
type MCPApprovalResult struct {
	Approve bool
	Reason  string
}
