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
	"sort"
	"sync"

	"github.com/flowcortex/agentrt/usage"
)

// RunContextWrapper carries caller-owned context data through a run, plus
// the mutable state the runtime shares with tools: usage counters and tool
// approval decisions. It is safe for concurrent use.
type RunContextWrapper[T any] struct {
	// Context is whatever the caller passed to the run. It is never sent
	// to the model.
	Context T

	// Usage accumulates across the run. On streamed runs it is incomplete
	// until the last turn finishes.
	Usage *usage.Usage

	mu        sync.Mutex
	approvals map[string]*approvalRecord
}

func NewRunContextWrapper[T any](context T) *RunContextWrapper[T] {
	return &RunContextWrapper[T]{
		Context:   context,
		Usage:     usage.NewUsage(),
		approvals: make(map[string]*approvalRecord),
	}
}

// approvalRecord tracks decisions for one tool name. A blanket decision
// ("always") wins for every future call; otherwise decisions are per call id.
type approvalRecord struct {
	approvedAll bool
	rejectedAll bool
	approved    map[string]struct{}
	rejected    map[string]struct{}
}

func newApprovalRecord() *approvalRecord {
	return &approvalRecord{
		approved: make(map[string]struct{}),
		rejected: make(map[string]struct{}),
	}
}

// ApproveTool records an approval for the suspended call in item. With
// always set, every future call to the same tool is approved too.
func (rc *RunContextWrapper[T]) ApproveTool(item ToolApprovalItem, always bool) {
	rc.decide(item.Name(), item.CallID(), true, always)
}

// RejectTool records a rejection for the suspended call in item. With
// always set, every future call to the same tool is rejected too.
func (rc *RunContextWrapper[T]) RejectTool(item ToolApprovalItem, always bool) {
	rc.decide(item.Name(), item.CallID(), false, always)
}

func (rc *RunContextWrapper[T]) decide(toolName, callID string, approve, always bool) {
	if toolName == "" {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.approvals == nil {
		rc.approvals = make(map[string]*approvalRecord)
	}
	record := rc.approvals[toolName]
	if record == nil {
		record = newApprovalRecord()
		rc.approvals[toolName] = record
	}
	switch {
	case approve && always:
		record.approvedAll = true
	case approve:
		record.approved[callID] = struct{}{}
	case always:
		record.rejectedAll = true
	default:
		record.rejected[callID] = struct{}{}
	}
}

// GetApprovalStatus looks up the decision for a specific call. known is
// false when no decision has been recorded; rejections win over approvals.
func (rc *RunContextWrapper[T]) GetApprovalStatus(toolName, callID string) (approved, known bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	record := rc.approvals[toolName]
	if record == nil {
		return false, false
	}
	if record.rejectedAll {
		return false, true
	}
	if _, ok := record.rejected[callID]; ok {
		return false, true
	}
	if record.approvedAll {
		return true, true
	}
	if _, ok := record.approved[callID]; ok {
		return true, true
	}
	return false, false
}

// ToolApprovalRecordState is the serialized form of one tool's decisions.
type ToolApprovalRecordState struct {
	ApprovedAll bool     `json:"approvedAll,omitempty"`
	RejectedAll bool     `json:"rejectedAll,omitempty"`
	Approved    []string `json:"approved,omitempty"`
	Rejected    []string `json:"rejected,omitempty"`
}

// SerializeApprovals snapshots all recorded decisions.
func (rc *RunContextWrapper[T]) SerializeApprovals() map[string]ToolApprovalRecordState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]ToolApprovalRecordState, len(rc.approvals))
	for name, record := range rc.approvals {
		state := ToolApprovalRecordState{
			ApprovedAll: record.approvedAll,
			RejectedAll: record.rejectedAll,
			Approved:    setToSortedSlice(record.approved),
			Rejected:    setToSortedSlice(record.rejected),
		}
		out[name] = state
	}
	return out
}

// RebuildApprovals restores decisions from a snapshot, replacing any
// existing ones.
func (rc *RunContextWrapper[T]) RebuildApprovals(states map[string]ToolApprovalRecordState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.approvals = make(map[string]*approvalRecord, len(states))
	for name, state := range states {
		record := newApprovalRecord()
		record.approvedAll = state.ApprovedAll
		record.rejectedAll = state.RejectedAll
		for _, id := range state.Approved {
			record.approved[id] = struct{}{}
		}
		for _, id := range state.Rejected {
			record.rejected[id] = struct{}{}
		}
		rc.approvals[name] = record
	}
}

func setToSortedSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
