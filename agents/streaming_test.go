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

func TestStreamedRunEventOrder(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	model.SetNextOutput(agenttest.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("streamed reply")},
	})
	agent := agents.New("test").WithModelInstance(model)

	stream, err := agents.RunStreamed(t.Context(), agent, "hello")
	require.NoError(t, err)

	var events []agents.StreamEvent
	err = stream.StreamEvents(func(event agents.StreamEvent) error {
		events = append(events, event)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	updated, ok := events[0].(agents.AgentUpdatedStreamEvent)
	require.True(t, ok, "first event should announce the active agent, got %T", events[0])
	assert.Equal(t, agent, updated.NewAgent)

	var sawRaw, sawMessage bool
	for _, event := range events[1:] {
		switch e := event.(type) {
		case agents.RawResponsesStreamEvent:
			sawRaw = true
			assert.Equal(t, "response.completed", e.Data.Type)
		case agents.RunItemStreamEvent:
			if e.Name == agents.StreamEventMessageOutputCreated {
				sawMessage = true
			}
		}
	}
	assert.True(t, sawRaw, "raw model events must be forwarded")
	assert.True(t, sawMessage, "message output item event missing")

	assert.True(t, stream.IsComplete())
	assert.Equal(t, "streamed reply", stream.FinalOutput())
}

func TestStreamedRunToolEvents(t *testing.T) {
	tool := agents.NewFunctionTool("lookup", "",
		func(ctx context.Context, args struct{}) (any, error) {
			return "found", nil
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

	stream, err := agents.RunStreamed(t.Context(), agent, "hello")
	require.NoError(t, err)

	var names []agents.StreamEventName
	err = stream.StreamEvents(func(event agents.StreamEvent) error {
		if e, ok := event.(agents.RunItemStreamEvent); ok {
			names = append(names, e.Name)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Contains(t, names, agents.StreamEventToolCalled)
	assert.Contains(t, names, agents.StreamEventToolOutput)
	assert.Contains(t, names, agents.StreamEventMessageOutputCreated)
	assert.Equal(t, "done", stream.FinalOutput())
	assert.EqualValues(t, 2, stream.CurrentTurn())
}

func TestStreamedRunHandoffEvents(t *testing.T) {
	target := agents.New("billing_agent")
	triage := agents.New("triage_agent").WithAgentHandoffs(target)

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agenttest.GetHandoffToolCall(target, "", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agenttest.GetTextMessage("billing here"),
		}},
	})
	triage.WithModelInstance(model)
	target.WithModelInstance(model)

	stream, err := agents.RunStreamed(t.Context(), triage, "hello")
	require.NoError(t, err)

	var agentUpdates []*agents.Agent
	err = stream.StreamEvents(func(event agents.StreamEvent) error {
		if e, ok := event.(agents.AgentUpdatedStreamEvent); ok {
			agentUpdates = append(agentUpdates, e.NewAgent)
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, agentUpdates, 2)
	assert.Equal(t, triage, agentUpdates[0])
	assert.Equal(t, target, agentUpdates[1])
	assert.Equal(t, target, stream.CurrentAgent())
}
