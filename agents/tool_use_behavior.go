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
	"slices"
	"sync"
)

// ToolsToFinalOutputResult tells the loop whether tool results already
// constitute the final output.
type ToolsToFinalOutputResult struct {
	IsFinalOutput bool
	FinalOutput   any
}

// ToolUseBehavior decides what happens after an agent's function tools ran.
type ToolUseBehavior interface {
	ToolsToFinalOutput(ctx context.Context, results []FunctionToolResult) (ToolsToFinalOutputResult, error)
}

// ToolsToFinalOutputFunction adapts a function to ToolUseBehavior.
type ToolsToFinalOutputFunction func(ctx context.Context, results []FunctionToolResult) (ToolsToFinalOutputResult, error)

func (f ToolsToFinalOutputFunction) ToolsToFinalOutput(ctx context.Context, results []FunctionToolResult) (ToolsToFinalOutputResult, error) {
	return f(ctx, results)
}

// RunLLMAgain sends tool results back to the model. This is the default.
func RunLLMAgain() ToolUseBehavior {
	return ToolsToFinalOutputFunction(func(context.Context, []FunctionToolResult) (ToolsToFinalOutputResult, error) {
		return ToolsToFinalOutputResult{}, nil
	})
}

// StopOnFirstTool makes the first tool result the final output.
func StopOnFirstTool() ToolUseBehavior {
	return ToolsToFinalOutputFunction(func(_ context.Context, results []FunctionToolResult) (ToolsToFinalOutputResult, error) {
		if len(results) == 0 {
			return ToolsToFinalOutputResult{}, nil
		}
		return ToolsToFinalOutputResult{IsFinalOutput: true, FinalOutput: results[0].Output}, nil
	})
}

// StopAtTools stops the run when any of the named tools ran, using that
// tool's result as the final output.
func StopAtTools(toolNames ...string) ToolUseBehavior {
	return ToolsToFinalOutputFunction(func(_ context.Context, results []FunctionToolResult) (ToolsToFinalOutputResult, error) {
		for _, r := range results {
			if slices.Contains(toolNames, r.Tool.ToolName()) {
				return ToolsToFinalOutputResult{IsFinalOutput: true, FinalOutput: r.Output}, nil
			}
		}
		return ToolsToFinalOutputResult{}, nil
	})
}

// toolUseTracker records which tools each agent has used, so a forced tool
// choice can be reset after its first use.
type toolUseTracker struct {
	mu          sync.Mutex
	usedByAgent map[string][]string
}

func newToolUseTracker() *toolUseTracker {
	return &toolUseTracker{usedByAgent: make(map[string][]string)}
}

func (t *toolUseTracker) AddToolUse(agent *Agent, toolNames []string) {
	if agent == nil || len(toolNames) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usedByAgent[agent.Name] = append(t.usedByAgent[agent.Name], toolNames...)
}

func (t *toolUseTracker) HasUsedTools(agent *Agent) bool {
	if agent == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.usedByAgent[agent.Name]) > 0
}

func (t *toolUseTracker) Snapshot() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]string, len(t.usedByAgent))
	for name, tools := range t.usedByAgent {
		out[name] = slices.Clone(tools)
	}
	return out
}

func (t *toolUseTracker) LoadSnapshot(snapshot map[string][]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usedByAgent = make(map[string][]string, len(snapshot))
	for name, tools := range snapshot {
		t.usedByAgent[name] = slices.Clone(tools)
	}
}
