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
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
)

// CurrentSchemaVersion is the RunState wire format version. Snapshots with
// a different version are rejected on load.
const CurrentSchemaVersion = "1.0"

// CurrentStep describes where a suspended run stopped. It is a closed set.
type CurrentStep interface {
	isCurrentStep()
}

// CurrentStepRunAgain means the loop was about to run another turn.
type CurrentStepRunAgain struct{}

func (CurrentStepRunAgain) isCurrentStep() {}

// CurrentStepInterruption means local tool calls are suspended awaiting
// approval decisions; they are listed in RunState.Interruptions.
type CurrentStepInterruption struct{}

func (CurrentStepInterruption) isCurrentStep() {}

// CurrentStepHandoff means control was transferring to another agent.
type CurrentStepHandoff struct {
	TargetAgentName string
}

func (CurrentStepHandoff) isCurrentStep() {}

// CurrentStepFinalOutput means the run completed.
type CurrentStepFinalOutput struct{}

func (CurrentStepFinalOutput) isCurrentStep() {}

// RunState is a serializable snapshot of a run, taken when the run is
// interrupted for tool approvals or fails mid-way. Approve or reject the
// pending calls, then pass the state to Runner.RunFromState to continue.
type RunState struct {
	SchemaVersion    string
	CurrentTurn      uint64
	MaxTurns         uint64
	CurrentAgentName string

	OriginalInput  []TResponseInputItem
	GeneratedItems []RunItem
	ModelResponses []ModelResponse

	// Interruptions are the tool calls suspended for approval.
	Interruptions []ToolApprovalItem

	// ToolApprovals holds recorded decisions, replayed into the run
	// context on resume.
	ToolApprovals map[string]ToolApprovalRecordState

	CurrentStep     CurrentStep
	ToolUseSnapshot map[string][]string
	Tracker         *ConversationTrackerState

	// PersistedItemCount is how many generated items were already written
	// to the session, so a resumed run does not write them twice.
	PersistedItemCount int

	// itemAgentNames maps item ids to agent names until the handoff graph
	// is available to re-resolve them.
	itemAgentNames map[string]string
}

// Validate checks the snapshot for structural problems. Unknown schema
// versions are a hard failure.
func (s *RunState) Validate() error {
	if s.SchemaVersion != CurrentSchemaVersion {
		return UserErrorf("unsupported run state schema version %q (want %q)", s.SchemaVersion, CurrentSchemaVersion)
	}
	if s.CurrentAgentName == "" {
		return NewUserError("run state has no current agent name")
	}
	if s.MaxTurns > 0 && s.CurrentTurn > s.MaxTurns {
		return UserErrorf("run state current turn %d exceeds max turns %d", s.CurrentTurn, s.MaxTurns)
	}
	return nil
}

// ApproveTool records approval for the suspended call in item. With always
// set, future calls to the same tool are approved without asking.
func (s *RunState) ApproveTool(item ToolApprovalItem, always bool) {
	s.recordDecision(item, true, always)
}

// RejectTool records rejection for the suspended call in item. With always
// set, future calls to the same tool are rejected without asking.
func (s *RunState) RejectTool(item ToolApprovalItem, always bool) {
	s.recordDecision(item, false, always)
}

func (s *RunState) recordDecision(item ToolApprovalItem, approve, always bool) {
	if s.ToolApprovals == nil {
		s.ToolApprovals = make(map[string]ToolApprovalRecordState)
	}
	name := item.Name()
	record := s.ToolApprovals[name]
	callID := item.CallID()
	switch {
	case approve && always:
		record.ApprovedAll = true
	case approve:
		record.Approved = appendUnique(record.Approved, callID)
	case always:
		record.RejectedAll = true
	default:
		record.Rejected = appendUnique(record.Rejected, callID)
	}
	s.ToolApprovals[name] = record

	// Hosted MCP approvals also answer the server through an input item.
	if raw, ok := item.RawItem.(responses.ResponseOutputItemMcpApprovalRequest); ok {
		s.GeneratedItems = append(s.GeneratedItems, MCPApprovalResponseItem{
			ID:    newRunItemID(),
			Agent: item.Agent,
			RawItem: responses.ResponseInputItemMcpApprovalResponseParam{
				ApprovalRequestID: raw.ID,
				Approve:           approve,
				Type:              constant.ValueOf[constant.McpApprovalResponse](),
			},
			Type: "mcp_approval_response_item",
		})
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// ApplyStoredToolApprovals replays the snapshot's decisions into a run
// context.
func (s *RunState) ApplyStoredToolApprovals(rc *RunContextWrapper[any]) {
	if len(s.ToolApprovals) > 0 {
		rc.RebuildApprovals(s.ToolApprovals)
	}
}

// ResumeInput reconstructs the full local history of the run: original
// input followed by every generated item in order.
func (s *RunState) ResumeInput() Input {
	items := make([]TResponseInputItem, 0, len(s.OriginalInput)+len(s.GeneratedItems))
	items = append(items, s.OriginalInput...)
	for _, item := range s.GeneratedItems {
		if wire, ok := runItemToInputItem(item); ok {
			items = append(items, wire)
		}
	}
	return InputItems(items)
}

// attachAgents re-resolves agent references by name through the handoff
// graph rooted at root. Unresolvable names fall back to the current agent.
func (s *RunState) attachAgents(root *Agent) (*Agent, error) {
	byName := AgentsByName(root)
	current, ok := byName[s.CurrentAgentName]
	if !ok {
		return nil, UserErrorf("agent %q from run state is not reachable from agent %q", s.CurrentAgentName, root.Name)
	}
	resolve := func(id string) *Agent {
		if name, ok := s.itemAgentNames[id]; ok {
			if agent, ok := byName[name]; ok {
				return agent
			}
		}
		return current
	}
	for i, item := range s.GeneratedItems {
		s.GeneratedItems[i] = withItemAgent(item, resolve(item.ItemID()))
	}
	for i, item := range s.Interruptions {
		item.Agent = resolve(item.ItemID())
		s.Interruptions[i] = item
	}
	return current, nil
}

func withItemAgent(item RunItem, agent *Agent) RunItem {
	switch v := item.(type) {
	case MessageOutputItem:
		v.Agent = agent
		return v
	case ToolCallItem:
		v.Agent = agent
		return v
	case ToolCallOutputItem:
		v.Agent = agent
		return v
	case HandoffCallItem:
		v.Agent = agent
		return v
	case HandoffOutputItem:
		v.Agent = agent
		return v
	case ReasoningItem:
		v.Agent = agent
		return v
	case MCPListToolsItem:
		v.Agent = agent
		return v
	case MCPApprovalRequestItem:
		v.Agent = agent
		return v
	case MCPApprovalResponseItem:
		v.Agent = agent
		return v
	case ToolApprovalItem:
		v.Agent = agent
		return v
	}
	return item
}
