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

import "context"

// RunHooks receives lifecycle callbacks for a whole run.
type RunHooks interface {
	OnAgentStart(ctx context.Context, agent *Agent) error
	OnAgentEnd(ctx context.Context, agent *Agent, output any) error
	OnHandoff(ctx context.Context, fromAgent, toAgent *Agent) error
	OnToolStart(ctx context.Context, agent *Agent, tool Tool) error
	OnToolEnd(ctx context.Context, agent *Agent, tool Tool, result any) error
}

// AgentHooks receives lifecycle callbacks scoped to one agent.
type AgentHooks interface {
	OnStart(ctx context.Context, agent *Agent) error
	OnEnd(ctx context.Context, agent *Agent, output any) error
	OnHandoff(ctx context.Context, agent, source *Agent) error
	OnToolStart(ctx context.Context, agent *Agent, tool Tool, arguments any) error
	OnToolEnd(ctx context.Context, agent *Agent, tool Tool, result any) error
}

// NoOpRunHooks implements RunHooks doing nothing. Embed it to override a
// subset of callbacks.
type NoOpRunHooks struct{}

func (NoOpRunHooks) OnAgentStart(context.Context, *Agent) error         { return nil }
func (NoOpRunHooks) OnAgentEnd(context.Context, *Agent, any) error      { return nil }
func (NoOpRunHooks) OnHandoff(context.Context, *Agent, *Agent) error    { return nil }
func (NoOpRunHooks) OnToolStart(context.Context, *Agent, Tool) error    { return nil }
func (NoOpRunHooks) OnToolEnd(context.Context, *Agent, Tool, any) error { return nil }

// NoOpAgentHooks implements AgentHooks doing nothing.
type NoOpAgentHooks struct{}

func (NoOpAgentHooks) OnStart(context.Context, *Agent) error                { return nil }
func (NoOpAgentHooks) OnEnd(context.Context, *Agent, any) error             { return nil }
func (NoOpAgentHooks) OnHandoff(context.Context, *Agent, *Agent) error      { return nil }
func (NoOpAgentHooks) OnToolStart(context.Context, *Agent, Tool, any) error { return nil }
func (NoOpAgentHooks) OnToolEnd(context.Context, *Agent, Tool, any) error   { return nil }
