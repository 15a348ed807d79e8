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

package agents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcortex/agentrt/agents"
	"github.com/flowcortex/agentrt/agenttest"
)

type recordingEditor struct {
	ops    []agents.ApplyPatchOperation
	result string
	err    error
}

func (e *recordingEditor) CreateFile(ctx context.Context, op agents.ApplyPatchOperation) (string, error) {
	e.ops = append(e.ops, op)
	return e.result, e.err
}

func (e *recordingEditor) UpdateFile(ctx context.Context, op agents.ApplyPatchOperation) (string, error) {
	e.ops = append(e.ops, op)
	return e.result, e.err
}

func (e *recordingEditor) DeleteFile(ctx context.Context, op agents.ApplyPatchOperation) (string, error) {
	e.ops = append(e.ops, op)
	return e.result, e.err
}

func toolOutputs(result *agents.RunResult) []agents.ToolCallOutputItem {
	var outputs []agents.ToolCallOutputItem
	for _, item := range result.NewItems {
		if out, ok := item.(agents.ToolCallOutputItem); ok {
			outputs = append(outputs, out)
		}
	}
	return outputs
}

func TestShellToolExecutesCommand(t *testing.T) {
	var requests []agents.ShellCommandRequest
	shell := agents.ShellTool{
		Executor: agents.ShellExecutorFunc(
			func(ctx context.Context, request agents.ShellCommandRequest) (string, error) {
				requests = append(requests, request)
				return "total 0", nil
			}),
	}

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetLocalShellCall("sh_1", "ls", "-la"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("done"),
		}},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(shell)

	result, err := agents.Run(t.Context(), agent, "list files")
	require.NoError(t, err)

	require.Len(t, requests, 1)
	assert.Equal(t, "sh_1", requests[0].CallID)
	assert.Equal(t, []string{"ls", "-la"}, requests[0].Commands)

	outputs := toolOutputs(result)
	require.Len(t, outputs, 1)
	assert.Equal(t, "total 0", outputs[0].Output)
	assert.Equal(t, "done", result.FinalOutput)
}

func TestShellToolRejectedApproval(t *testing.T) {
	var executions int
	shell := agents.ShellTool{
		Executor: agents.ShellExecutorFunc(
			func(ctx context.Context, request agents.ShellCommandRequest) (string, error) {
				executions++
				return "", nil
			}),
		NeedsApproval: agents.ShellNeedsApprovalFunc(
			func(ctx context.Context, request agents.ShellCommandRequest) (bool, error) {
				return true, nil
			}),
	}

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetLocalShellCall("sh_1", "rm", "-rf", "/"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("done"),
		}},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(shell)

	result, err := agents.Run(t.Context(), agent, "clean up")
	require.NoError(t, err)
	require.True(t, result.IsInterrupted())
	require.Len(t, result.Interruptions, 1)
	assert.Equal(t, "local_shell", result.Interruptions[0].Name())

	state := result.State
	state.RejectTool(state.Interruptions[0], false)

	resumed, err := agents.RunFromState(t.Context(), agent, state)
	require.NoError(t, err)

	assert.Equal(t, 0, executions, "rejected call must not execute")
	outputs := toolOutputs(resumed)
	require.Len(t, outputs, 1)
	assert.Equal(t, "Tool execution was not approved.", outputs[0].Output)
	assert.Equal(t, "done", resumed.FinalOutput)
}

func TestApplyPatchToolUpdateFile(t *testing.T) {
	editor := &recordingEditor{result: "M example.txt"}
	patch := agents.ApplyPatchTool{Editor: editor}

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetApplyPatchCall("patch_1", "example.txt", "@@ -1 +1 @@\n-old\n+new"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("done"),
		}},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(patch)

	result, err := agents.Run(t.Context(), agent, "fix the file")
	require.NoError(t, err)

	require.Len(t, editor.ops, 1)
	assert.Equal(t, agents.ApplyPatchOperationUpdateFile, editor.ops[0].Type)
	assert.Equal(t, "example.txt", editor.ops[0].Path)
	assert.Contains(t, editor.ops[0].Diff, "+new")

	outputs := toolOutputs(result)
	require.Len(t, outputs, 1)
	assert.Equal(t, "M example.txt", outputs[0].Output)
	assert.Equal(t, "done", result.FinalOutput)
}

func TestApplyPatchEditorErrorReportsFailure(t *testing.T) {
	editor := &recordingEditor{err: errors.New("disk full")}
	patch := agents.ApplyPatchTool{Editor: editor}

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetApplyPatchCall("patch_1", "example.txt", "@@ -1 +1 @@"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("done"),
		}},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(patch)

	result, err := agents.Run(t.Context(), agent, "fix the file")
	require.NoError(t, err)

	outputs := toolOutputs(result)
	require.Len(t, outputs, 1)
	assert.Equal(t, "disk full", outputs[0].Output)
	assert.Equal(t, "done", result.FinalOutput)
}
