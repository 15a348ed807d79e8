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

package memory_test

import (
	"fmt"
	"testing"

	"github.com/openai/openai-go/v3/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcortex/agentrt/memory"
)

func userMessage(text string) memory.TResponseInputItem {
	return responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser)
}

func messageText(t *testing.T, item memory.TResponseInputItem) string {
	t.Helper()
	require.NotNil(t, item.OfMessage)
	return item.OfMessage.Content.OfString.Value
}

func TestInMemorySessionOrdering(t *testing.T) {
	session := memory.NewInMemorySession("s1")
	ctx := t.Context()

	assert.Equal(t, "s1", session.SessionID(ctx))

	var items []memory.TResponseInputItem
	for i := 1; i <= 5; i++ {
		items = append(items, userMessage(fmt.Sprintf("message %d", i)))
	}
	require.NoError(t, session.AddItems(ctx, items))

	all, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "message 1", messageText(t, all[0]))
	assert.Equal(t, "message 5", messageText(t, all[4]))
}

func TestInMemorySessionLimitReturnsLatest(t *testing.T) {
	session := memory.NewInMemorySession("s1")
	ctx := t.Context()

	for i := 1; i <= 5; i++ {
		require.NoError(t, session.AddItems(ctx, []memory.TResponseInputItem{
			userMessage(fmt.Sprintf("message %d", i)),
		}))
	}

	latest, err := session.GetItems(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "message 4", messageText(t, latest[0]))
	assert.Equal(t, "message 5", messageText(t, latest[1]))
}

func TestInMemorySessionPopItem(t *testing.T) {
	session := memory.NewInMemorySession("s1")
	ctx := t.Context()

	require.NoError(t, session.AddItems(ctx, []memory.TResponseInputItem{
		userMessage("first"),
		userMessage("second"),
	}))

	popped, err := session.PopItem(ctx)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, "second", messageText(t, *popped))

	remaining, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestInMemorySessionPopEmpty(t *testing.T) {
	session := memory.NewInMemorySession("s1")

	popped, err := session.PopItem(t.Context())
	require.NoError(t, err)
	assert.Nil(t, popped)
}

func TestInMemorySessionClear(t *testing.T) {
	session := memory.NewInMemorySession("s1")
	ctx := t.Context()

	require.NoError(t, session.AddItems(ctx, []memory.TResponseInputItem{
		userMessage("first"),
	}))
	require.NoError(t, session.ClearSession(ctx))

	items, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
