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
	"fmt"
)

// GuardrailFunctionOutput is the verdict of a guardrail check.
type GuardrailFunctionOutput struct {
	// OutputInfo carries arbitrary detail about the check, for the caller
	// and for traces.
	OutputInfo any

	// TripwireTriggered aborts the run when true.
	TripwireTriggered bool
}

// InputGuardrail validates run input before (or alongside) the first model
// call of a run.
type InputGuardrail struct {
	Name string

	GuardrailFunction func(ctx context.Context, agent *Agent, input Input) (GuardrailFunctionOutput, error)

	// Parallel runs this guardrail concurrently with the first model call
	// instead of gating it. A tripwire still aborts the run, but the model
	// call may already have started.
	Parallel bool
}

type InputGuardrailResult struct {
	Guardrail InputGuardrail
	Output    GuardrailFunctionOutput
}

func (g InputGuardrail) Run(ctx context.Context, agent *Agent, input Input) (InputGuardrailResult, error) {
	if g.GuardrailFunction == nil {
		return InputGuardrailResult{}, UserErrorf("input guardrail %s has no function", g.Name)
	}
	out, err := g.GuardrailFunction(ctx, agent, input)
	if err != nil {
		return InputGuardrailResult{}, fmt.Errorf("input guardrail %s failed: %w", g.Name, err)
	}
	return InputGuardrailResult{Guardrail: g, Output: out}, nil
}

// OutputGuardrail validates the final output of an agent.
type OutputGuardrail struct {
	Name string

	GuardrailFunction func(ctx context.Context, agent *Agent, agentOutput any) (GuardrailFunctionOutput, error)
}

type OutputGuardrailResult struct {
	Guardrail OutputGuardrail
	Agent     *Agent
	Output    GuardrailFunctionOutput
}

func (g OutputGuardrail) Run(ctx context.Context, agent *Agent, agentOutput any) (OutputGuardrailResult, error) {
	if g.GuardrailFunction == nil {
		return OutputGuardrailResult{}, UserErrorf("output guardrail %s has no function", g.Name)
	}
	out, err := g.GuardrailFunction(ctx, agent, agentOutput)
	if err != nil {
		return OutputGuardrailResult{}, fmt.Errorf("output guardrail %s failed: %w", g.Name, err)
	}
	return OutputGuardrailResult{Guardrail: g, Agent: agent, Output: out}, nil
}
