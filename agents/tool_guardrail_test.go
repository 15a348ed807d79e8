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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcortex/agentrt/agents"
	"github.com/flowcortex/agentrt/agenttest"
)

func guardrailToolAgent(executions *int, inputGuardrails []agents.ToolInputGuardrail, outputGuardrails []agents.ToolOutputGuardrail) *agents.Agent {
	tool := agents.NewFunctionTool("send_email", "",
		func(ctx context.Context, args struct{}) (any, error) {
			*executions++
			return "sent", nil
		})
	tool.ToolInputGuardrails = inputGuardrails
	tool.ToolOutputGuardrails = outputGuardrails

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetFunctionToolCall("send_email", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("ok"),
		}},
	})
	return agents.New("mailer").
		WithModelInstance(model).
		WithTools(tool)
}

func TestToolInputGuardrailRejectContent(t *testing.T) {
	var executions int
	agent := guardrailToolAgent(&executions, []agents.ToolInputGuardrail{{
		Name: "block_sends",
		GuardrailFunction: func(ctx context.Context, data agents.ToolInputGuardrailData) (agents.ToolGuardrailFunctionOutput, error) {
			return agents.ToolGuardrailReject("sending is disabled"), nil
		},
	}}, nil)

	result, err := agents.Run(t.Context(), agent, "send it")
	require.NoError(t, err)

	assert.Equal(t, 0, executions, "rejected call must not execute")
	assert.Equal(t, "ok", result.FinalOutput)
	require.Len(t, result.ToolInputGuardrailResults, 1)
	assert.Equal(t, agents.ToolBehaviorRejectContent, result.ToolInputGuardrailResults[0].Output.Behavior)
}

func TestToolInputGuardrailRaiseException(t *testing.T) {
	var executions int
	agent := guardrailToolAgent(&executions, []agents.ToolInputGuardrail{{
		Name: "block_sends",
		GuardrailFunction: func(ctx context.Context, data agents.ToolInputGuardrailData) (agents.ToolGuardrailFunctionOutput, error) {
			return agents.ToolGuardrailRaise("sending is forbidden"), nil
		},
	}}, nil)

	_, err := agents.Run(t.Context(), agent, "send it")

	var tripwireErr agents.ToolInputGuardrailTripwireTriggeredError
	require.ErrorAs(t, err, &tripwireErr)
	assert.Equal(t, "sending is forbidden", tripwireErr.Error())
	assert.Equal(t, 0, executions)
}

func TestToolOutputGuardrailRejectContent(t *testing.T) {
	var executions int
	agent := guardrailToolAgent(&executions, nil, []agents.ToolOutputGuardrail{{
		Name: "redact",
		GuardrailFunction: func(ctx context.Context, data agents.ToolOutputGuardrailData) (agents.ToolGuardrailFunctionOutput, error) {
			assert.Equal(t, "sent", data.Output)
			return agents.ToolGuardrailReject("[redacted]"), nil
		},
	}})

	result, err := agents.Run(t.Context(), agent, "send it")
	require.NoError(t, err)

	assert.Equal(t, 1, executions, "output guardrails run after the tool")
	require.Len(t, result.ToolOutputGuardrailResults, 1)
	assert.Equal(t, agents.ToolBehaviorRejectContent, result.ToolOutputGuardrailResults[0].Output.Behavior)
}

func TestToolOutputGuardrailRaiseException(t *testing.T) {
	var executions int
	agent := guardrailToolAgent(&executions, nil, []agents.ToolOutputGuardrail{{
		Name: "no_leaks",
		GuardrailFunction: func(ctx context.Context, data agents.ToolOutputGuardrailData) (agents.ToolGuardrailFunctionOutput, error) {
			return agents.ToolGuardrailRaise("output blocked"), nil
		},
	}})

	_, err := agents.Run(t.Context(), agent, "send it")

	var tripwireErr agents.ToolOutputGuardrailTripwireTriggeredError
	require.ErrorAs(t, err, &tripwireErr)
	assert.Equal(t, 1, executions)
}

func TestToolGuardrailAllowPassesThrough(t *testing.T) {
	var executions int
	agent := guardrailToolAgent(&executions, []agents.ToolInputGuardrail{{
		Name: "audit",
		GuardrailFunction: func(ctx context.Context, data agents.ToolInputGuardrailData) (agents.ToolGuardrailFunctionOutput, error) {
			assert.Equal(t, "send_email", data.ToolName)
			return agents.ToolGuardrailAllow(), nil
		},
	}}, nil)

	result, err := agents.Run(t.Context(), agent, "send it")
	require.NoError(t, err)

	assert.Equal(t, 1, executions)
	assert.Equal(t, "ok", result.FinalOutput)
}
