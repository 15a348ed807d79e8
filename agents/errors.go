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

import "fmt"

// RunErrorDetails captures the state of a run at the moment an error was
// raised, so callers can inspect partial progress or resume from State.
type RunErrorDetails struct {
	Input        Input
	NewItems     []RunItem
	RawResponses []ModelResponse
	LastAgent    *Agent

	// State is a resumable snapshot of the run, when one could be taken.
	State *RunState

	InputGuardrailResults  []InputGuardrailResult
	OutputGuardrailResults []OutputGuardrailResult
}

// UserError indicates a mistake in how the SDK is being used: invalid
// configuration, a bad argument, or an unsupported combination of options.
type UserError struct {
	Message string
}

func (e UserError) Error() string { return e.Message }

func NewUserError(message string) UserError { return UserError{Message: message} }

func UserErrorf(format string, a ...any) UserError {
	return UserError{Message: fmt.Sprintf(format, a...)}
}

// ModelBehaviorError indicates the model produced output that violates the
// expected protocol: a call to an unknown tool, malformed JSON, and so on.
type ModelBehaviorError struct {
	Message string
}

func (e ModelBehaviorError) Error() string { return e.Message }

func NewModelBehaviorError(message string) ModelBehaviorError {
	return ModelBehaviorError{Message: message}
}

func ModelBehaviorErrorf(format string, a ...any) ModelBehaviorError {
	return ModelBehaviorError{Message: fmt.Sprintf(format, a...)}
}

// MaxTurnsExceededError is raised when a run exceeds its turn budget without
// reaching a final output.
type MaxTurnsExceededError struct {
	Message string
	RunData *RunErrorDetails
}

func (e MaxTurnsExceededError) Error() string { return e.Message }

func MaxTurnsExceededErrorf(format string, a ...any) MaxTurnsExceededError {
	return MaxTurnsExceededError{Message: fmt.Sprintf(format, a...)}
}

// InputGuardrailTripwireTriggeredError is raised when an input guardrail
// trips its tripwire.
type InputGuardrailTripwireTriggeredError struct {
	GuardrailResult InputGuardrailResult
	RunData         *RunErrorDetails
}

func (e InputGuardrailTripwireTriggeredError) Error() string {
	return fmt.Sprintf("input guardrail %s triggered tripwire", e.GuardrailResult.Guardrail.Name)
}

// OutputGuardrailTripwireTriggeredError is raised when an output guardrail
// trips its tripwire.
type OutputGuardrailTripwireTriggeredError struct {
	GuardrailResult OutputGuardrailResult
	RunData         *RunErrorDetails
}

func (e OutputGuardrailTripwireTriggeredError) Error() string {
	return fmt.Sprintf("output guardrail %s triggered tripwire", e.GuardrailResult.Guardrail.Name)
}

// ToolInputGuardrailTripwireTriggeredError is raised when a tool input
// guardrail rejects a call with raise-exception behavior.
type ToolInputGuardrailTripwireTriggeredError struct {
	Result ToolInputGuardrailResult
}

func (e ToolInputGuardrailTripwireTriggeredError) Error() string {
	msg := e.Result.Output.Message
	if msg == "" {
		msg = "tool input guardrail triggered tripwire"
	}
	return msg
}

// ToolOutputGuardrailTripwireTriggeredError is raised when a tool output
// guardrail rejects a result with raise-exception behavior.
type ToolOutputGuardrailTripwireTriggeredError struct {
	Result ToolOutputGuardrailResult
}

func (e ToolOutputGuardrailTripwireTriggeredError) Error() string {
	msg := e.Result.Output.Message
	if msg == "" {
		msg = "tool output guardrail triggered tripwire"
	}
	return msg
}

// RetryExhaustedError is returned when a retried operation kept failing
// after its final attempt. It wraps the last underlying error.
type RetryExhaustedError struct {
	Operation string
	Target    string
	Attempts  int
	Err       error
}

func (e RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s on %q failed after %d attempts: %v", e.Operation, e.Target, e.Attempts, e.Err)
}

func (e RetryExhaustedError) Unwrap() error { return e.Err }

func attachErrorDetails(err error, details *RunErrorDetails) error {
	switch e := err.(type) {
	case MaxTurnsExceededError:
		e.RunData = details
		return e
	case InputGuardrailTripwireTriggeredError:
		e.RunData = details
		return e
	case OutputGuardrailTripwireTriggeredError:
		e.RunData = details
		return e
	}
	return err
}
