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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcortex/agentrt/agents"
	"github.com/flowcortex/agentrt/agenttest"
)

func approvalAgent(t *testing.T, executions *int) (*agents.Agent, *agenttest.FakeModel) {
	t.Helper()

	tool := agents.NewFunctionTool("delete_file", "",
		func(ctx context.Context, args struct{}) (any, error) {
			*executions++
			return "deleted", nil
		})
	tool.NeedsApproval = agents.FunctionToolNeedsApprovalFunc(
		func(context.Context, map[string]any, string) (bool, error) {
			return true, nil
		})

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetFunctionToolCall("delete_file", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("done"),
		}},
	})

	agent := agents.New("approver").
		WithModelInstance(model).
		WithTools(tool)
	return agent, model
}

func TestApprovalInterruptsRun(t *testing.T) {
	var executions int
	agent, _ := approvalAgent(t, &executions)

	result, err := agents.Run(t.Context(), agent, "delete it")
	require.NoError(t, err)

	assert.True(t, result.IsInterrupted())
	require.Len(t, result.Interruptions, 1)
	assert.Equal(t, "delete_file", result.Interruptions[0].Name())
	assert.Equal(t, 0, executions, "suspended call must not run")
	require.NotNil(t, result.State)
}

func TestApproveAndResumeRoundTrip(t *testing.T) {
	var executions int
	agent, _ := approvalAgent(t, &executions)

	result, err := agents.Run(t.Context(), agent, "delete it")
	require.NoError(t, err)
	require.True(t, result.IsInterrupted())

	// Round-trip the state through its serialized form, as a caller
	// persisting it across processes would.
	data, err := result.State.ToJSON()
	require.NoError(t, err)
	state, err := agents.RunStateFromJSON(data)
	require.NoError(t, err)

	require.Len(t, state.Interruptions, 1)
	state.ApproveTool(state.Interruptions[0], false)

	resumed, err := agents.RunFromState(t.Context(), agent, state)
	require.NoError(t, err)

	assert.False(t, resumed.IsInterrupted())
	assert.Equal(t, "done", resumed.FinalOutput)
	assert.Equal(t, 1, executions, "approved call must run exactly once")
}

func TestRejectAndResume(t *testing.T) {
	var executions int
	agent, _ := approvalAgent(t, &executions)

	result, err := agents.Run(t.Context(), agent, "delete it")
	require.NoError(t, err)
	require.True(t, result.IsInterrupted())

	state := result.State
	state.RejectTool(state.Interruptions[0], false)

	resumed, err := agents.RunFromState(t.Context(), agent, state)
	require.NoError(t, err)

	assert.Equal(t, "done", resumed.FinalOutput)
	assert.Equal(t, 0, executions, "rejected call must not run")
}

func TestRunStateUnknownSchemaVersion(t *testing.T) {
	var executions int
	agent, _ := approvalAgent(t, &executions)

	result, err := agents.Run(t.Context(), agent, "delete it")
	require.NoError(t, err)
	require.NotNil(t, result.State)

	data, err := result.State.ToJSONString()
	require.NoError(t, err)
	tampered := strings.Replace(data, agents.CurrentSchemaVersion, "9.9", 1)

	_, err = agents.RunStateFromJSONString(tampered)
	var userErr agents.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Error(), "9.9")
}

func TestRunStateMissingAgent(t *testing.T) {
	var executions int
	agent, _ := approvalAgent(t, &executions)

	result, err := agents.Run(t.Context(), agent, "delete it")
	require.NoError(t, err)

	state := result.State
	state.ApproveTool(state.Interruptions[0], false)

	other := agents.New("unrelated")
	_, err = agents.RunFromState(t.Context(), other, state)
	var userErr agents.UserError
	require.ErrorAs(t, err, &userErr)
}
