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

func TestRunFinalOutput(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	model.SetNextOutput(agenttest.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("first response")},
	})
	agent := agents.New("test").WithModelInstance(model)

	result, err := agents.Run(t.Context(), agent, "hello")
	require.NoError(t, err)

	assert.Equal(t, "first response", result.FinalOutput)
	assert.Equal(t, agent, result.LastAgent)
	assert.Len(t, result.RawResponses, 1)
	assert.Len(t, result.NewItems, 1)
}

func TestRunToolCallThenFinalOutput(t *testing.T) {
	var toolCalls int
	tool := agents.NewFunctionTool("lookup", "",
		func(ctx context.Context, args struct{}) (any, error) {
			toolCalls++
			return "tool result", nil
		})

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetFunctionToolCall("lookup", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("done"),
		}},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(tool)

	result, err := agents.Run(t.Context(), agent, "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, toolCalls)
	assert.Equal(t, "done", result.FinalOutput)
	assert.Len(t, result.RawResponses, 2)
	// tool call + tool output + final message
	assert.Len(t, result.NewItems, 3)
}

func TestRunMaxTurnsExceeded(t *testing.T) {
	tool := agents.NewFunctionTool("loop", "",
		func(ctx context.Context, args struct{}) (any, error) {
			return "again", nil
		})

	model := agenttest.NewFakeModel(nil)
	for range 5 {
		model.SetNextOutput(agenttest.FakeModelTurnOutput{
			Value: []agents.TResponseOutputItem{
				agenttest.GetFunctionToolCall("loop", "{}"),
			},
		})
	}
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(tool)

	runner := agents.Runner{Config: agents.RunConfig{MaxTurns: 2}}
	_, err := runner.Run(t.Context(), agent, "hello")

	var maxTurnsErr agents.MaxTurnsExceededError
	require.ErrorAs(t, err, &maxTurnsErr)
	if assert.NotNil(t, maxTurnsErr.RunData) {
		assert.Equal(t, agent, maxTurnsErr.RunData.LastAgent)
	}
}

func TestRunMaxTurnsHandler(t *testing.T) {
	tool := agents.NewFunctionTool("loop", "",
		func(ctx context.Context, args struct{}) (any, error) {
			return "again", nil
		})

	model := agenttest.NewFakeModel(nil)
	for range 5 {
		model.SetNextOutput(agenttest.FakeModelTurnOutput{
			Value: []agents.TResponseOutputItem{
				agenttest.GetFunctionToolCall("loop", "{}"),
			},
		})
	}
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(tool)

	runner := agents.Runner{Config: agents.RunConfig{
		MaxTurns: 2,
		RunErrorHandlers: agents.RunErrorHandlers{
			MaxTurns: func(ctx context.Context, agent *agents.Agent, items []agents.RunItem) (agents.RunErrorHandlerResult, error) {
				return agents.RunErrorHandlerResult{
					FinalOutput:      "budget exhausted",
					IncludeInHistory: true,
				}, nil
			},
		},
	}}
	result, err := runner.Run(t.Context(), agent, "hello")
	require.NoError(t, err)

	assert.Equal(t, "budget exhausted", result.FinalOutput)
}

func TestRunInputGuardrailTripwireBlocksModelCall(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	model.SetNextOutput(agenttest.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("never")},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithInputGuardrails(agents.InputGuardrail{
			Name: "reject_all",
			GuardrailFunction: func(ctx context.Context, agent *agents.Agent, input agents.Input) (agents.GuardrailFunctionOutput, error) {
				return agents.GuardrailFunctionOutput{TripwireTriggered: true}, nil
			},
		})

	_, err := agents.Run(t.Context(), agent, "hello")

	var tripwireErr agents.InputGuardrailTripwireTriggeredError
	require.ErrorAs(t, err, &tripwireErr)
	assert.Equal(t, "reject_all", tripwireErr.GuardrailResult.Guardrail.Name)
	assert.Nil(t, model.FirstTurnArgs, "blocking guardrail must gate the model call")
}

func TestRunParallelInputGuardrailTripwire(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	model.SetNextOutput(agenttest.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("raced")},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithInputGuardrails(agents.InputGuardrail{
			Name:     "parallel_reject",
			Parallel: true,
			GuardrailFunction: func(ctx context.Context, agent *agents.Agent, input agents.Input) (agents.GuardrailFunctionOutput, error) {
				return agents.GuardrailFunctionOutput{TripwireTriggered: true}, nil
			},
		})

	_, err := agents.Run(t.Context(), agent, "hello")

	var tripwireErr agents.InputGuardrailTripwireTriggeredError
	require.ErrorAs(t, err, &tripwireErr)
}

func TestRunOutputGuardrailTripwire(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	model.SetNextOutput(agenttest.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("forbidden")},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithOutputGuardrails(agents.OutputGuardrail{
			Name: "no_forbidden",
			GuardrailFunction: func(ctx context.Context, agent *agents.Agent, agentOutput any) (agents.GuardrailFunctionOutput, error) {
				return agents.GuardrailFunctionOutput{
					TripwireTriggered: agentOutput == "forbidden",
				}, nil
			},
		})

	_, err := agents.Run(t.Context(), agent, "hello")

	var tripwireErr agents.OutputGuardrailTripwireTriggeredError
	require.ErrorAs(t, err, &tripwireErr)
	assert.Equal(t, "no_forbidden", tripwireErr.GuardrailResult.Guardrail.Name)
}

func TestRunHandoff(t *testing.T) {
	spanish := agents.New("spanish_agent")
	triage := agents.New("triage_agent").WithAgentHandoffs(spanish)

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetHandoffToolCall(spanish, "", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("hola"),
		}},
	})
	spanish.WithModelInstance(model)
	triage.WithModelInstance(model)

	result, err := agents.Run(t.Context(), triage, "hello")
	require.NoError(t, err)

	assert.Equal(t, "hola", result.FinalOutput)
	assert.Equal(t, spanish, result.LastAgent)
}

func TestRunMultipleHandoffsHonorsFirst(t *testing.T) {
	first := agents.New("first_agent")
	second := agents.New("second_agent")
	triage := agents.New("triage_agent").WithAgentHandoffs(first, second)

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetHandoffToolCall(first, "", "{}"),
			agenttest.GetHandoffToolCall(second, "", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("handled"),
		}},
	})
	for _, a := range []*agents.Agent{first, second, triage} {
		a.WithModelInstance(model)
	}

	result, err := agents.Run(t.Context(), triage, "hello")
	require.NoError(t, err)

	assert.Equal(t, first, result.LastAgent)
}

func TestRunNilAgent(t *testing.T) {
	_, err := agents.Run(t.Context(), nil, "hello")
	var userErr agents.UserError
	require.ErrorAs(t, err, &userErr)
}

func TestRunModelError(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	boom := errors.New("upstream exploded")
	model.SetNextOutput(agenttest.FakeModelTurnOutput{Error: boom})
	agent := agents.New("test").WithModelInstance(model)

	_, err := agents.Run(t.Context(), agent, "hello")
	require.ErrorIs(t, err, boom)
}

func TestRunCancellationLeavesResumableState(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	tool := agents.NewFunctionTool("step", "",
		func(ctx context.Context, args struct{}) (any, error) {
			cancel()
			return "stepped", nil
		})

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetFunctionToolCall("step", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("done"),
		}},
	})
	agent := agents.New("test").
		WithModelInstance(model).
		WithTools(tool)

	result, err := agents.Run(ctx, agent, "hello")
	require.NoError(t, err, "cancellation is a clean return, not an error")
	assert.Nil(t, result.FinalOutput)
	require.NotNil(t, result.State)
	// tool call + tool output from the completed first turn survive
	assert.Len(t, result.NewItems, 2)

	resumed, err := agents.RunFromState(t.Context(), agent, result.State)
	require.NoError(t, err)
	assert.Equal(t, "done", resumed.FinalOutput)
}
