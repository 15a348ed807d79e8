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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationTrackerSendsInitialInputOnce(t *testing.T) {
	original := InputToNewInputList(InputString("hello"))
	tracker := newServerConversationTracker("conv_1", "", original)

	first := tracker.PrepareInput(nil)
	require.Len(t, first, 1)
	tracker.MarkInputAsSent()

	second := tracker.PrepareInput(nil)
	assert.Empty(t, second, "initial input must not be resent")
}

func TestConversationTrackerDeltaForGeneratedItems(t *testing.T) {
	agent := New("test")
	tracker := newServerConversationTracker("conv_1", "", nil)

	item := syntheticMessageItem(agent, "turn one")
	require.Len(t, tracker.PrepareInput([]RunItem{item}), 1)
	tracker.MarkInputAsSent()

	// Same item again plus one new item: only the new one goes out.
	next := syntheticMessageItem(agent, "turn two")
	delta := tracker.PrepareInput([]RunItem{item, next})
	require.Len(t, delta, 1)
	require.NotNil(t, delta[0].OfOutputMessage)
	assert.Equal(t, next.RawItem.ID, delta[0].OfOutputMessage.ID)
}

func TestConversationTrackerRewindResendsDelta(t *testing.T) {
	agent := New("test")
	tracker := newServerConversationTracker("", "resp_0", InputToNewInputList(InputString("hi")))

	item := syntheticMessageItem(agent, "reply")
	require.Len(t, tracker.PrepareInput([]RunItem{item}), 2)
	tracker.RewindInput()

	// A failed model call must leave the delta intact for the retry.
	assert.Len(t, tracker.PrepareInput([]RunItem{item}), 2)
}

func TestConversationTrackerSkipsServerKnownItems(t *testing.T) {
	agent := New("test")
	tracker := newServerConversationTracker("conv_1", "", nil)

	item := syntheticMessageItem(agent, "from the server")
	output := TResponseOutputItem{
		ID:      item.RawItem.ID,
		Type:    "message",
		Role:    item.RawItem.Role,
		Status:  string(item.RawItem.Status),
		Content: item.RawItem.Content,
	}
	tracker.TrackServerItems(&ModelResponse{Output: []TResponseOutputItem{output}, ResponseID: "resp_7"})

	assert.Empty(t, tracker.PrepareInput([]RunItem{item}), "server-known item must not be echoed back")
	assert.Equal(t, "", tracker.PreviousResponseID(), "conversation id takes precedence over response chaining")
}

func TestConversationTrackerResponseChaining(t *testing.T) {
	tracker := newServerConversationTracker("", "resp_1", nil)
	assert.Equal(t, "resp_1", tracker.PreviousResponseID())

	tracker.TrackServerItems(&ModelResponse{ResponseID: "resp_2"})
	assert.Equal(t, "resp_2", tracker.PreviousResponseID())
}

func TestConversationTrackerSnapshotRoundTrip(t *testing.T) {
	agent := New("test")
	original := InputToNewInputList(InputString("hello"))
	tracker := newServerConversationTracker("conv_1", "resp_1", original)

	item := syntheticMessageItem(agent, "reply")
	tracker.PrepareInput([]RunItem{item})
	tracker.MarkInputAsSent()
	tracker.TrackServerItems(&ModelResponse{ResponseID: "resp_2"})

	restored := hydrateConversationTracker(tracker.Snapshot())

	assert.Empty(t, restored.PrepareInput([]RunItem{item}))
	assert.Equal(t, "conv_1", restored.ConversationID())
}
