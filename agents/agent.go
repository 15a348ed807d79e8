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

	"github.com/openai/openai-go/v3/packages/param"

	"github.com/flowcortex/agentrt/modelsettings"
)

// Agent is a named model configuration: instructions, tools, guardrails and
// handoffs. Agents are cheap values wired together into a graph; the same
// agent may appear in many runs concurrently.
type Agent struct {
	// Name identifies the agent. Names must be unique within a handoff
	// graph; RunState records the active agent by name.
	Name string

	// Instructions is the system prompt. InstructionsFunc, when set, takes
	// precedence and is evaluated once per turn.
	Instructions     string
	InstructionsFunc func(ctx context.Context, agent *Agent) (string, error)

	// HandoffDescription is used when this agent is the target of a
	// handoff, to describe it to the delegating model.
	HandoffDescription string

	// Handoffs and AgentHandoffs are sub-agents this agent can delegate
	// to. AgentHandoffs is shorthand for HandoffFromAgent with defaults.
	Handoffs      []Handoff
	AgentHandoffs []*Agent

	// Model selects the backend; unset falls back to the run's provider
	// default.
	Model         param.Opt[AgentModel]
	ModelSettings modelsettings.ModelSettings

	Tools []Tool

	// MCPServers are remote tool servers whose tools are fetched and
	// exposed alongside Tools on every turn. Servers must be connected
	// before the run starts.
	MCPServers []MCPServer

	InputGuardrails  []InputGuardrail
	OutputGuardrails []OutputGuardrail

	// OutputType constrains the final output; nil means plain text.
	OutputType OutputTypeInterface

	Hooks AgentHooks

	// ToolUseBehavior decides how tool results terminate the loop; nil
	// means keep running the model.
	ToolUseBehavior ToolUseBehavior

	// ResetToolChoice clears a forced tool choice after the first tool
	// use, preventing call loops. Defaults to true.
	ResetToolChoice param.Opt[bool]
}

// New creates an agent with the given name.
func New(name string) *Agent {
	return &Agent{Name: name}
}

func (a *Agent) WithInstructions(instructions string) *Agent {
	a.Instructions = instructions
	return a
}

func (a *Agent) WithInstructionsFunc(f func(ctx context.Context, agent *Agent) (string, error)) *Agent {
	a.InstructionsFunc = f
	return a
}

func (a *Agent) WithHandoffDescription(description string) *Agent {
	a.HandoffDescription = description
	return a
}

func (a *Agent) WithModel(name string) *Agent {
	a.Model = param.NewOpt(AgentModelName(name))
	return a
}

func (a *Agent) WithModelInstance(m Model) *Agent {
	a.Model = param.NewOpt(AgentModelInstance(m))
	return a
}

func (a *Agent) WithModelSettings(settings modelsettings.ModelSettings) *Agent {
	a.ModelSettings = settings
	return a
}

func (a *Agent) WithTools(tools ...Tool) *Agent {
	a.Tools = append(a.Tools, tools...)
	return a
}

func (a *Agent) AddTool(tool Tool) *Agent {
	a.Tools = append(a.Tools, tool)
	return a
}

func (a *Agent) WithAgentHandoffs(agents ...*Agent) *Agent {
	a.AgentHandoffs = append(a.AgentHandoffs, agents...)
	return a
}

func (a *Agent) WithHandoffs(handoffs ...Handoff) *Agent {
	a.Handoffs = append(a.Handoffs, handoffs...)
	return a
}

func (a *Agent) WithMCPServers(servers ...MCPServer) *Agent {
	a.MCPServers = append(a.MCPServers, servers...)
	return a
}

func (a *Agent) WithInputGuardrails(guardrails ...InputGuardrail) *Agent {
	a.InputGuardrails = append(a.InputGuardrails, guardrails...)
	return a
}

func (a *Agent) WithOutputGuardrails(guardrails ...OutputGuardrail) *Agent {
	a.OutputGuardrails = append(a.OutputGuardrails, guardrails...)
	return a
}

func (a *Agent) WithOutputType(t OutputTypeInterface) *Agent {
	a.OutputType = t
	return a
}

func (a *Agent) WithHooks(hooks AgentHooks) *Agent {
	a.Hooks = hooks
	return a
}

func (a *Agent) WithToolUseBehavior(behavior ToolUseBehavior) *Agent {
	a.ToolUseBehavior = behavior
	return a
}

func (a *Agent) WithResetToolChoice(reset bool) *Agent {
	a.ResetToolChoice = param.NewOpt(reset)
	return a
}

// Clone returns a copy of the agent with its slices duplicated. The copy
// shares tool and guardrail values with the original.
func (a *Agent) Clone() *Agent {
	out := *a
	out.Handoffs = slices.Clone(a.Handoffs)
	out.AgentHandoffs = slices.Clone(a.AgentHandoffs)
	out.Tools = slices.Clone(a.Tools)
	out.MCPServers = slices.Clone(a.MCPServers)
	out.InputGuardrails = slices.Clone(a.InputGuardrails)
	out.OutputGuardrails = slices.Clone(a.OutputGuardrails)
	return &out
}

// GetSystemPrompt resolves the agent's instructions for the current turn.
func (a *Agent) GetSystemPrompt(ctx context.Context) (param.Opt[string], error) {
	if a.InstructionsFunc != nil {
		s, err := a.InstructionsFunc(ctx, a)
		if err != nil {
			return param.Opt[string]{}, err
		}
		return param.NewOpt(s), nil
	}
	if a.Instructions != "" {
		return param.NewOpt(a.Instructions), nil
	}
	return param.Opt[string]{}, nil
}

// GetAllTools returns the tools exposed to the model this turn: MCP server
// tools first, then local tools, with disabled function tools filtered out.
func (a *Agent) GetAllTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	for _, server := range a.MCPServers {
		serverTools, err := mcpServerFunctionTools(ctx, server)
		if err != nil {
			return nil, err
		}
		tools = append(tools, serverTools...)
	}
	for _, tool := range a.Tools {
		if ft, ok := tool.(FunctionTool); ok && ft.IsEnabled != nil {
			enabled, err := ft.IsEnabled(ctx, a)
			if err != nil {
				return nil, err
			}
			if !enabled {
				continue
			}
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// AgentsByName walks the handoff graph from root and indexes every
// reachable agent by name. Cycles are allowed.
func AgentsByName(root *Agent) map[string]*Agent {
	out := make(map[string]*Agent)
	visited := make(map[*Agent]struct{})
	queue := []*Agent{root}
	for len(queue) > 0 {
		agent := queue[0]
		queue = queue[1:]
		if agent == nil {
			continue
		}
		if _, ok := visited[agent]; ok {
			continue
		}
		visited[agent] = struct{}{}
		if _, ok := out[agent.Name]; !ok {
			out[agent.Name] = agent
		}
		queue = append(queue, agent.AgentHandoffs...)
		for _, h := range agent.Handoffs {
			if h.Agent != nil {
				queue = append(queue, h.Agent)
			}
		}
	}
	return out
}
