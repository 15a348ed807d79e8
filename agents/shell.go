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

	"github.com/openai/openai-go/v3/responses"
)

// ShellCommandRequest is one shell invocation requested by the model.
type ShellCommandRequest struct {
	CallID           string
	Commands         []string
	TimeoutMS        int64
	WorkingDirectory string
	Env              map[string]string
}

func shellCommandRequestFromCall(call responses.ResponseOutputItemLocalShellCall) ShellCommandRequest {
	env := make(map[string]string, len(call.Action.Env))
	for k, v := range call.Action.Env {
		env[k] = v
	}
	return ShellCommandRequest{
		CallID:           call.CallID,
		Commands:         call.Action.Command,
		TimeoutMS:        call.Action.TimeoutMs,
		WorkingDirectory: call.Action.WorkingDirectory,
		Env:              env,
	}
}

// ShellExecutor runs shell commands on behalf of the model and returns the
// combined output text.
type ShellExecutor interface {
	Execute(ctx context.Context, request ShellCommandRequest) (string, error)
}

type ShellExecutorFunc func(ctx context.Context, request ShellCommandRequest) (string, error)

func (f ShellExecutorFunc) Execute(ctx context.Context, request ShellCommandRequest) (string, error) {
	return f(ctx, request)
}

// ShellNeedsApproval decides whether a shell call requires approval.
type ShellNeedsApproval interface {
	NeedsApproval(ctx context.Context, request ShellCommandRequest) (bool, error)
}

type ShellNeedsApprovalFunc func(ctx context.Context, request ShellCommandRequest) (bool, error)

func (f ShellNeedsApprovalFunc) NeedsApproval(ctx context.Context, request ShellCommandRequest) (bool, error) {
	return f(ctx, request)
}

// ShellTool lets the model run shell commands through a caller-supplied
// executor.
type ShellTool struct {
	Executor      ShellExecutor
	NeedsApproval ShellNeedsApproval
}

func (t ShellTool) ToolName() string { return "local_shell" }

func (ShellTool) isTool() {}
