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
	"context"
	"sync"
)

// StreamEvent is an event delivered while a streamed run is in progress.
type StreamEvent interface {
	isStreamEvent()
}

// RawResponsesStreamEvent forwards a raw model stream event unchanged.
type RawResponsesStreamEvent struct {
	Data TResponseStreamEvent
	Type string // always "raw_response_event"
}

func (RawResponsesStreamEvent) isStreamEvent() {}

// StreamEventName labels a RunItemStreamEvent.
type StreamEventName string

const (
	StreamEventMessageOutputCreated StreamEventName = "message_output_created"
	StreamEventHandoffRequested     StreamEventName = "handoff_requested"
	StreamEventHandoffOccurred      StreamEventName = "handoff_occurred"
	StreamEventToolCalled           StreamEventName = "tool_called"
	StreamEventToolOutput           StreamEventName = "tool_output"
	StreamEventReasoningItemCreated StreamEventName = "reasoning_item_created"
	StreamEventMCPApprovalRequested StreamEventName = "mcp_approval_requested"
	StreamEventMCPListTools         StreamEventName = "mcp_list_tools"
	StreamEventToolApprovalItem     StreamEventName = "tool_approval_requested"
)

// RunItemStreamEvent announces a newly generated run item.
type RunItemStreamEvent struct {
	Name StreamEventName
	Item RunItem
	Type string // always "run_item_stream_event"
}

func (RunItemStreamEvent) isStreamEvent() {}

// NewRunItemStreamEvent builds a RunItemStreamEvent.
func NewRunItemStreamEvent(name StreamEventName, item RunItem) RunItemStreamEvent {
	return RunItemStreamEvent{Name: name, Item: item, Type: "run_item_stream_event"}
}

// AgentUpdatedStreamEvent announces that a new agent became active, at run
// start and after every handoff.
type AgentUpdatedStreamEvent struct {
	NewAgent *Agent
	Type     string // always "agent_updated_stream_event"
}

func (AgentUpdatedStreamEvent) isStreamEvent() {}

// runItemEvent maps a run item to its stream event, or nil for items that
// are not announced.
func runItemEvent(item RunItem) StreamEvent {
	switch item.(type) {
	case MessageOutputItem:
		return NewRunItemStreamEvent(StreamEventMessageOutputCreated, item)
	case HandoffCallItem:
		return NewRunItemStreamEvent(StreamEventHandoffRequested, item)
	case HandoffOutputItem:
		return NewRunItemStreamEvent(StreamEventHandoffOccurred, item)
	case ToolCallItem:
		return NewRunItemStreamEvent(StreamEventToolCalled, item)
	case ToolCallOutputItem:
		return NewRunItemStreamEvent(StreamEventToolOutput, item)
	case ReasoningItem:
		return NewRunItemStreamEvent(StreamEventReasoningItemCreated, item)
	case MCPApprovalRequestItem:
		return NewRunItemStreamEvent(StreamEventMCPApprovalRequested, item)
	case MCPListToolsItem:
		return NewRunItemStreamEvent(StreamEventMCPListTools, item)
	case ToolApprovalItem:
		return NewRunItemStreamEvent(StreamEventToolApprovalItem, item)
	default:
		return nil
	}
}

// RunResultStreaming is the in-progress view of a streamed run. Consume
// events with StreamEvents; the final result accessors are valid once the
// stream ends.
type RunResultStreaming struct {
	events chan StreamEvent
	cancel context.CancelFunc

	mu           sync.Mutex
	currentAgent *Agent
	currentTurn  uint64
	isComplete   bool
	result       *RunResult
	err          error
}

// StreamEvents delivers events to yield in order until the run finishes.
// A non-nil error from yield cancels the run. It returns the run's error,
// if any.
func (r *RunResultStreaming) StreamEvents(yield func(StreamEvent) error) error {
	for event := range r.events {
		if err := yield(event); err != nil {
			r.Cancel()
			for range r.events {
				// Drain so the producer can finish.
			}
			return err
		}
	}
	return r.Err()
}

// Cancel aborts the run. Pending events are still delivered.
func (r *RunResultStreaming) Cancel() {
	r.cancel()
}

// CurrentAgent returns the agent currently running.
func (r *RunResultStreaming) CurrentAgent() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentAgent
}

// CurrentTurn returns the turn currently running.
func (r *RunResultStreaming) CurrentTurn() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTurn
}

// IsComplete reports whether the run has finished.
func (r *RunResultStreaming) IsComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isComplete
}

// Err returns the run's terminal error, if any.
func (r *RunResultStreaming) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Result returns the final RunResult once the stream has ended, or nil.
func (r *RunResultStreaming) Result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// FinalOutput returns the run's final output once complete.
func (r *RunResultStreaming) FinalOutput() any {
	if result := r.Result(); result != nil {
		return result.FinalOutput
	}
	return nil
}

// NewItems returns the items generated by the run once complete.
func (r *RunResultStreaming) NewItems() []RunItem {
	if result := r.Result(); result != nil {
		return result.NewItems
	}
	return nil
}

// RawResponses returns the model responses once complete.
func (r *RunResultStreaming) RawResponses() []ModelResponse {
	if result := r.Result(); result != nil {
		return result.RawResponses
	}
	return nil
}

// Interruptions returns pending tool approvals once complete.
func (r *RunResultStreaming) Interruptions() []ToolApprovalItem {
	if result := r.Result(); result != nil {
		return result.Interruptions
	}
	return nil
}

// State returns the resumable snapshot when the run was interrupted.
func (r *RunResultStreaming) State() *RunState {
	if result := r.Result(); result != nil {
		return result.State
	}
	return nil
}

func (r *RunResultStreaming) setCurrentAgent(agent *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentAgent = agent
}

func (r *RunResultStreaming) setCurrentTurn(turn uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentTurn = turn
}

func (r *RunResultStreaming) complete(result *RunResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = result
	r.err = err
	r.isComplete = true
	if result != nil {
		r.currentAgent = result.LastAgent
	}
}

// put delivers an event, giving up when the run context ends so a stalled
// consumer cannot wedge the run.
func (r *RunResultStreaming) put(ctx context.Context, event StreamEvent) {
	if event == nil {
		return
	}
	select {
	case r.events <- event:
	case <-ctx.Done():
	}
}

// RunStreamed executes startingAgent with a user text message and streams
// events as they happen, using the default runner.
func RunStreamed(ctx context.Context, startingAgent *Agent, input string) (*RunResultStreaming, error) {
	return DefaultRunner().RunStreamed(ctx, startingAgent, input)
}

// RunInputsStreamed executes startingAgent with explicit input items and
// streams events, using the default runner.
func RunInputsStreamed(ctx context.Context, startingAgent *Agent, input []TResponseInputItem) (*RunResultStreaming, error) {
	return DefaultRunner().RunInputsStreamed(ctx, startingAgent, input)
}

// RunFromStateStreamed resumes an interrupted run and streams events, using
// the default runner.
func RunFromStateStreamed(ctx context.Context, startingAgent *Agent, state *RunState) (*RunResultStreaming, error) {
	return DefaultRunner().RunFromStateStreamed(ctx, startingAgent, state)
}

// RunStreamed executes startingAgent with a user text message and streams
// events as they happen.
func (r Runner) RunStreamed(ctx context.Context, startingAgent *Agent, input string) (*RunResultStreaming, error) {
	return r.runStreamed(ctx, startingAgent, InputString(input), nil)
}

// RunInputsStreamed executes startingAgent with explicit input items and
// streams events.
func (r Runner) RunInputsStreamed(ctx context.Context, startingAgent *Agent, input []TResponseInputItem) (*RunResultStreaming, error) {
	return r.runStreamed(ctx, startingAgent, InputItems(input), nil)
}

// RunFromStateStreamed resumes a run from a snapshot and streams events.
func (r Runner) RunFromStateStreamed(ctx context.Context, startingAgent *Agent, state *RunState) (*RunResultStreaming, error) {
	if state == nil {
		return nil, NewUserError("run state is nil")
	}
	return r.runStreamed(ctx, startingAgent, nil, state)
}

func (r Runner) runStreamed(ctx context.Context, startingAgent *Agent, input Input, resumeState *RunState) (*RunResultStreaming, error) {
	if startingAgent == nil {
		return nil, NewUserError("starting agent is nil")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &RunResultStreaming{
		events:       make(chan StreamEvent, 64),
		cancel:       cancel,
		currentAgent: startingAgent,
	}

	go func() {
		result, err := r.runWithStream(streamCtx, startingAgent, input, resumeState, stream)
		stream.complete(result, err)
		close(stream.events)
	}()

	return stream, nil
}
