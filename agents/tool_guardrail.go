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

// ToolGuardrailBehavior tells the runtime what to do with a flagged tool
// call.
type ToolGuardrailBehavior string

const (
	// ToolBehaviorAllow lets the call (or its output) pass unchanged.
	ToolBehaviorAllow ToolGuardrailBehavior = "allow"

	// ToolBehaviorRejectContent suppresses the tool execution or its
	// output and sends Message to the model instead. The run continues.
	ToolBehaviorRejectContent ToolGuardrailBehavior = "reject_content"

	// ToolBehaviorRaiseException aborts the run with a tripwire error.
	ToolBehaviorRaiseException ToolGuardrailBehavior = "raise_exception"
)

// ToolGuardrailFunctionOutput is the verdict of a tool guardrail.
type ToolGuardrailFunctionOutput struct {
	Behavior ToolGuardrailBehavior

	// Message is the model-visible replacement text for reject_content,
	// and the error text for raise_exception.
	Message string

	// OutputInfo carries arbitrary detail about the check.
	OutputInfo any
}

// ToolGuardrailAllow approves the call unchanged.
func ToolGuardrailAllow() ToolGuardrailFunctionOutput {
	return ToolGuardrailFunctionOutput{Behavior: ToolBehaviorAllow}
}

// ToolGuardrailReject suppresses the call and shows message to the model.
func ToolGuardrailReject(message string) ToolGuardrailFunctionOutput {
	return ToolGuardrailFunctionOutput{Behavior: ToolBehaviorRejectContent, Message: message}
}

// ToolGuardrailRaise aborts the run.
func ToolGuardrailRaise(message string) ToolGuardrailFunctionOutput {
	return ToolGuardrailFunctionOutput{Behavior: ToolBehaviorRaiseException, Message: message}
}

// ToolInputGuardrailData is what a tool input guardrail sees.
type ToolInputGuardrailData struct {
	Agent         *Agent
	ToolName      string
	ToolArguments string
	CallID        string
}

// ToolInputGuardrail screens a tool call before it executes.
type ToolInputGuardrail struct {
	Name              string
	GuardrailFunction func(ctx context.Context, data ToolInputGuardrailData) (ToolGuardrailFunctionOutput, error)
}

type ToolInputGuardrailResult struct {
	Guardrail ToolInputGuardrail
	Output    ToolGuardrailFunctionOutput
}

func (g ToolInputGuardrail) Run(ctx context.Context, data ToolInputGuardrailData) (ToolInputGuardrailResult, error) {
	if g.GuardrailFunction == nil {
		return ToolInputGuardrailResult{}, UserErrorf("tool input guardrail %s has no function", g.Name)
	}
	out, err := g.GuardrailFunction(ctx, data)
	if err != nil {
		return ToolInputGuardrailResult{}, fmt.Errorf("tool input guardrail %s failed: %w", g.Name, err)
	}
	return ToolInputGuardrailResult{Guardrail: g, Output: out}, nil
}

// ToolOutputGuardrailData is what a tool output guardrail sees.
type ToolOutputGuardrailData struct {
	ToolInputGuardrailData

	// Output is the value the tool returned.
	Output any
}

// ToolOutputGuardrail screens a tool result before the model sees it.
type ToolOutputGuardrail struct {
	Name              string
	GuardrailFunction func(ctx context.Context, data ToolOutputGuardrailData) (ToolGuardrailFunctionOutput, error)
}

type ToolOutputGuardrailResult struct {
	Guardrail ToolOutputGuardrail
	Output    ToolGuardrailFunctionOutput
}

func (g ToolOutputGuardrail) Run(ctx context.Context, data ToolOutputGuardrailData) (ToolOutputGuardrailResult, error) {
	if g.GuardrailFunction == nil {
		return ToolOutputGuardrailResult{}, UserErrorf("tool output guardrail %s has no function", g.Name)
	}
	out, err := g.GuardrailFunction(ctx, data)
	if err != nil {
		return ToolOutputGuardrailResult{}, fmt.Errorf("tool output guardrail %s failed: %w", g.Name, err)
	}
	return ToolOutputGuardrailResult{Guardrail: g, Output: out}, nil
}
