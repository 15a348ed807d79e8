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
	"github.com/flowcortex/agentrt/memory"
)

func TestSessionPersistsTurns(t *testing.T) {
	session := memory.NewInMemorySession("conversation_123")

	model := agenttest.NewFakeModel(nil)
	model.AddMultipleTurnOutputs([]agenttest.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("Reply 1")}},
		{Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("Reply 2")}},
	})
	agent := agents.New("test").WithModelInstance(model)
	runner := agents.Runner{Config: agents.RunConfig{Session: session}}

	first, err := runner.Run(t.Context(), agent, "Question 1")
	require.NoError(t, err)
	assert.Equal(t, "Reply 1", first.FinalOutput)

	// user input + assistant reply
	items, err := session.GetItems(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	second, err := runner.Run(t.Context(), agent, "Question 2")
	require.NoError(t, err)
	assert.Equal(t, "Reply 2", second.FinalOutput)

	items, err = session.GetItems(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, items, 4)

	// The second call must have seen the whole stored history.
	sent, ok := model.LastTurnArgs.Input.(agents.InputItems)
	require.True(t, ok)
	assert.Len(t, sent, 3, "history plus the new user message")
}

func TestSessionHistoryLimit(t *testing.T) {
	session := memory.NewInMemorySession("conversation_123")

	model := agenttest.NewFakeModel(nil)
	for range 4 {
		model.SetNextOutput(agenttest.FakeModelTurnOutput{
			Value: []agents.TResponseOutputItem{agenttest.GetTextMessage("reply")},
		})
	}
	agent := agents.New("test").WithModelInstance(model)
	runner := agents.Runner{Config: agents.RunConfig{
		Session:             session,
		SessionHistoryLimit: 2,
	}}

	for _, q := range []string{"one", "two", "three"} {
		_, err := runner.Run(t.Context(), agent, q)
		require.NoError(t, err)
	}

	_, err := runner.Run(t.Context(), agent, "four")
	require.NoError(t, err)

	sent, ok := model.LastTurnArgs.Input.(agents.InputItems)
	require.True(t, ok)
	assert.Len(t, sent, 3, "two items of history plus the new user message")
}

func TestSessionWithServerConversationRejected(t *testing.T) {
	session := memory.NewInMemorySession("conversation_123")
	agent := agents.New("test").WithModelInstance(agenttest.NewFakeModel(nil))
	runner := agents.Runner{Config: agents.RunConfig{
		Session:        session,
		ConversationID: "conv_42",
	}}

	_, err := runner.Run(t.Context(), agent, "hello")
	var userErr agents.UserError
	require.ErrorAs(t, err, &userErr)
}

func TestServerConversationSendsDeltaOnly(t *testing.T) {
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
	runner := agents.Runner{Config: agents.RunConfig{ConversationID: "conv_42"}}

	result, err := runner.Run(t.Context(), agent, "hello")
	require.NoError(t, err)
	assert.Equal(t, "done", result.FinalOutput)

	assert.Equal(t, "conv_42", model.LastTurnArgs.ConversationID)

	// The first turn's user message and the model's own tool call are
	// already known server-side; only the tool output goes out.
	sent, ok := model.LastTurnArgs.Input.(agents.InputItems)
	require.True(t, ok)
	require.Len(t, sent, 1)
	assert.NotNil(t, sent[0].OfFunctionCallOutput)
}

func TestPreviousResponseIDChaining(t *testing.T) {
	tool := agents.NewFunctionTool("lookup", "",
		func(ctx context.Context, args struct{}) (any, error) {
			return "found", nil
		})

	model := agenttest.NewFakeModel(nil)
	model.ResponseID = "resp_A"
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
	runner := agents.Runner{Config: agents.RunConfig{PreviousResponseID: "resp_0"}}

	result, err := runner.Run(t.Context(), agent, "hello")
	require.NoError(t, err)
	assert.Equal(t, "done", result.FinalOutput)

	assert.Equal(t, "resp_A", model.LastTurnArgs.PreviousResponseID,
		"second turn chains onto the first turn's response id")
}
