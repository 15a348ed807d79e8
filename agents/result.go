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

// RunResult is the outcome of a completed or interrupted run.
type RunResult struct {
	// Input is the original input, possibly mutated by handoff input
	// filters along the way.
	Input Input

	// NewItems is everything generated during the run: messages, tool
	// calls and their outputs, handoffs, reasoning.
	NewItems []RunItem

	// RawResponses are the model responses, one per turn.
	RawResponses []ModelResponse

	// FinalOutput is the last agent's output: a string for plain-text
	// agents, or a value of the agent's output type. It is nil when the
	// run was interrupted for approvals.
	FinalOutput any

	InputGuardrailResults      []InputGuardrailResult
	OutputGuardrailResults     []OutputGuardrailResult
	ToolInputGuardrailResults  []ToolInputGuardrailResult
	ToolOutputGuardrailResults []ToolOutputGuardrailResult

	// Interruptions are tool calls suspended for approval. A non-empty
	// list means the run did not finish; approve or reject each call on
	// State and resume with RunFromState.
	Interruptions []ToolApprovalItem

	// LastAgent is the agent that produced the final output, or the one
	// that was active at interruption.
	LastAgent *Agent

	// State is a resumable snapshot, set when the run was interrupted.
	State *RunState
}

// IsInterrupted reports whether the run stopped for pending approvals.
func (r *RunResult) IsInterrupted() bool {
	return len(r.Interruptions) > 0
}

// LastResponseID returns the server id of the most recent model response, or
// an empty string when no response was recorded.
func (r *RunResult) LastResponseID() string {
	if len(r.RawResponses) == 0 {
		return ""
	}
	return r.RawResponses[len(r.RawResponses)-1].ResponseID
}

// ToInputList merges the original input and the generated items into wire
// form, suitable as input to a follow-up run.
func (r *RunResult) ToInputList() []TResponseInputItem {
	items := InputToNewInputList(r.Input)
	for _, item := range r.NewItems {
		if wire, ok := runItemToInputItem(item); ok {
			items = append(items, wire)
		}
	}
	return items
}

// FinalOutputAs returns the run's final output as T. With raiseIfIncorrect
// set it panics on a type mismatch; otherwise it returns the zero value.
func FinalOutputAs[T any](r *RunResult, raiseIfIncorrect bool) T {
	v, ok := r.FinalOutput.(T)
	if !ok && raiseIfIncorrect {
		panic(UserErrorf("final output is %T, not the requested type", r.FinalOutput))
	}
	return v
}
