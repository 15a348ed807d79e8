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

import "encoding/json"

// serverConversationTracker keeps track of which items the server already
// knows when the conversation is managed server-side (a conversation id or
// chained response ids). Each model call then receives only the delta.
//
// Membership is keyed by the runtime-assigned item id for generated items,
// with a normalized JSON fingerprint as fallback for raw wire items.
type serverConversationTracker struct {
	conversationID     string
	previousResponseID string

	sentItemIDs            map[string]struct{}
	serverItemFingerprints map[string]struct{}

	remainingInitialInput []TResponseInputItem

	stagedIDs          []string
	stagedInitialCount int
}

func newServerConversationTracker(conversationID, previousResponseID string, originalInput []TResponseInputItem) *serverConversationTracker {
	remaining := make([]TResponseInputItem, len(originalInput))
	copy(remaining, originalInput)
	return &serverConversationTracker{
		conversationID:         conversationID,
		previousResponseID:     previousResponseID,
		sentItemIDs:            make(map[string]struct{}),
		serverItemFingerprints: make(map[string]struct{}),
		remainingInitialInput:  remaining,
	}
}

// PrepareInput returns the items the server has not seen yet: any unsent
// initial input followed by untracked generated items. The returned delta is
// staged; call MarkInputAsSent after a successful model call or RewindInput
// after a failed one.
func (t *serverConversationTracker) PrepareInput(generatedItems []RunItem) []TResponseInputItem {
	t.stagedIDs = t.stagedIDs[:0]
	t.stagedInitialCount = len(t.remainingInitialInput)

	input := make([]TResponseInputItem, 0, t.stagedInitialCount+len(generatedItems))
	input = append(input, t.remainingInitialInput...)

	for _, item := range generatedItems {
		if _, ok := item.(ToolApprovalItem); ok {
			continue
		}
		id := item.ItemID()
		if _, sent := t.sentItemIDs[id]; sent {
			continue
		}
		wire, ok := runItemToInputItem(item)
		if !ok {
			continue
		}
		if fp, err := itemFingerprint(wire); err == nil {
			if _, known := t.serverItemFingerprints[fp]; known {
				t.sentItemIDs[id] = struct{}{}
				continue
			}
		}
		input = append(input, wire)
		t.stagedIDs = append(t.stagedIDs, id)
	}
	return input
}

// MarkInputAsSent commits the staged delta: the server now knows it.
func (t *serverConversationTracker) MarkInputAsSent() {
	t.remainingInitialInput = t.remainingInitialInput[t.stagedInitialCount:]
	for _, id := range t.stagedIDs {
		t.sentItemIDs[id] = struct{}{}
	}
	t.stagedIDs = nil
	t.stagedInitialCount = 0
}

// RewindInput discards the staged delta so a retried turn resends it.
func (t *serverConversationTracker) RewindInput() {
	t.stagedIDs = nil
	t.stagedInitialCount = 0
}

// TrackServerItems records a model response: its output items are known
// server-side and must never be echoed back, and its id chains the next
// call.
func (t *serverConversationTracker) TrackServerItems(resp *ModelResponse) {
	if resp == nil {
		return
	}
	if resp.ResponseID != "" {
		t.previousResponseID = resp.ResponseID
	}
	for _, output := range resp.Output {
		wire, ok := outputItemToInputItem(output)
		if !ok {
			continue
		}
		if fp, err := itemFingerprint(wire); err == nil {
			t.serverItemFingerprints[fp] = struct{}{}
		}
	}
}

// PreviousResponseID is the id to chain the next model call onto.
func (t *serverConversationTracker) PreviousResponseID() string {
	if t.conversationID != "" {
		return ""
	}
	return t.previousResponseID
}

func (t *serverConversationTracker) ConversationID() string { return t.conversationID }

// ConversationTrackerState is the serialized form of the tracker.
type ConversationTrackerState struct {
	ConversationID         string               `json:"conversationId,omitempty"`
	PreviousResponseID     string               `json:"previousResponseId,omitempty"`
	SentItemIDs            []string             `json:"sentItemIds,omitempty"`
	ServerItemFingerprints []string             `json:"serverItemFingerprints,omitempty"`
	RemainingInitialInput  []TResponseInputItem `json:"remainingInitialInput,omitempty"`
}

// Snapshot captures the tracker for a RunState. Staged but uncommitted
// deltas are not part of the snapshot, so a resumed run resends them.
func (t *serverConversationTracker) Snapshot() *ConversationTrackerState {
	state := &ConversationTrackerState{
		ConversationID:        t.conversationID,
		PreviousResponseID:    t.previousResponseID,
		SentItemIDs:           setToSortedSlice(t.sentItemIDs),
		RemainingInitialInput: t.remainingInitialInput,
	}
	state.ServerItemFingerprints = setToSortedSlice(t.serverItemFingerprints)
	return state
}

// hydrateConversationTracker rebuilds a tracker from a snapshot.
func hydrateConversationTracker(state *ConversationTrackerState) *serverConversationTracker {
	t := newServerConversationTracker(state.ConversationID, state.PreviousResponseID, state.RemainingInitialInput)
	for _, id := range state.SentItemIDs {
		t.sentItemIDs[id] = struct{}{}
	}
	for _, fp := range state.ServerItemFingerprints {
		t.serverItemFingerprints[fp] = struct{}{}
	}
	return t
}

// itemFingerprint produces a stable identity for a wire item: its JSON with
// object keys in sorted order.
func itemFingerprint(item TResponseInputItem) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return "", err
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
