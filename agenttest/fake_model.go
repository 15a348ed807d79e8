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

// Package agenttest provides fakes for testing agent runs without a real
// model backend.
package agenttest

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"

	"github.com/flowcortex/agentrt/agents"
	"github.com/flowcortex/agentrt/modelsettings"
	"github.com/flowcortex/agentrt/tracing"
	"github.com/flowcortex/agentrt/usage"
)

// FakeModel is a scripted Model: each call consumes the next queued turn
// output and records the arguments it was called with.
type FakeModel struct {
	TracingEnabled bool
	TurnOutputs    []FakeModelTurnOutput
	LastTurnArgs   FakeModelLastTurnArgs
	FirstTurnArgs  *FakeModelLastTurnArgs
	HardcodedUsage *usage.Usage
	ResponseID     string
}

type FakeModelTurnOutput struct {
	Value []agents.TResponseOutputItem
	Error error
}

// FakeModelLastTurnArgs captures what the run loop passed to the model.
type FakeModelLastTurnArgs struct {
	SystemInstructions param.Opt[string]
	Input              agents.Input
	ModelSettings      modelsettings.ModelSettings
	Tools              []agents.Tool
	OutputType         agents.OutputTypeInterface
	PreviousResponseID string
	ConversationID     string
}

func NewFakeModel(initialOutput *FakeModelTurnOutput) *FakeModel {
	m := &FakeModel{}
	if initialOutput != nil {
		m.TurnOutputs = []FakeModelTurnOutput{*initialOutput}
	}
	return m
}

func (m *FakeModel) SetHardcodedUsage(u usage.Usage) {
	m.HardcodedUsage = &u
}

func (m *FakeModel) SetNextOutput(output FakeModelTurnOutput) {
	m.TurnOutputs = append(m.TurnOutputs, output)
}

func (m *FakeModel) AddMultipleTurnOutputs(outputs []FakeModelTurnOutput) {
	m.TurnOutputs = append(m.TurnOutputs, outputs...)
}

func (m *FakeModel) GetNextOutput() FakeModelTurnOutput {
	if len(m.TurnOutputs) == 0 {
		return FakeModelTurnOutput{}
	}
	v := m.TurnOutputs[0]
	m.TurnOutputs = m.TurnOutputs[1:]
	return v
}

func (m *FakeModel) recordTurnArgs(params agents.ModelResponseParams) {
	m.LastTurnArgs = FakeModelLastTurnArgs{
		SystemInstructions: params.SystemInstructions,
		Input:              params.Input,
		ModelSettings:      params.ModelSettings,
		Tools:              params.Tools,
		OutputType:         params.OutputType,
		PreviousResponseID: params.PreviousResponseID,
		ConversationID:     params.ConversationID,
	}
	if m.FirstTurnArgs == nil {
		first := m.LastTurnArgs
		m.FirstTurnArgs = &first
	}
}

func (m *FakeModel) GetResponse(ctx context.Context, params agents.ModelResponseParams) (*agents.ModelResponse, error) {
	m.recordTurnArgs(params)

	var span *tracing.Span
	if m.TracingEnabled {
		ctx, span = tracing.StartSpan(ctx, tracing.GenerationSpanData{Model: "fake_model"})
		defer tracing.EndSpan(ctx, span)
	}

	output := m.GetNextOutput()
	if err := output.Error; err != nil {
		span.SetError(tracing.SpanError{
			Message: "Error",
			Data: map[string]any{
				"name":    fmt.Sprintf("%T", err),
				"message": err.Error(),
			},
		})
		return nil, err
	}

	u := m.HardcodedUsage
	if u == nil {
		u = usage.NewUsage()
	}
	return &agents.ModelResponse{
		Output:     output.Value,
		Usage:      u,
		ResponseID: m.ResponseID,
	}, nil
}

func (m *FakeModel) StreamResponse(
	ctx context.Context,
	params agents.ModelResponseParams,
	yield func(context.Context, agents.TResponseStreamEvent) error,
) error {
	m.recordTurnArgs(params)

	var span *tracing.Span
	if m.TracingEnabled {
		ctx, span = tracing.StartSpan(ctx, tracing.GenerationSpanData{Model: "fake_model"})
		defer tracing.EndSpan(ctx, span)
	}

	output := m.GetNextOutput()
	if err := output.Error; err != nil {
		span.SetError(tracing.SpanError{
			Message: "Error",
			Data: map[string]any{
				"name":    fmt.Sprintf("%T", err),
				"message": err.Error(),
			},
		})
		return err
	}

	return yield(ctx, agents.TResponseStreamEvent{
		Response:       GetResponseObj(output.Value, m.ResponseID, m.HardcodedUsage),
		Type:           "response.completed",
		SequenceNumber: 0,
	})
}

// GetResponseObj wraps output items in a completed responses.Response.
func GetResponseObj(
	output []agents.TResponseOutputItem,
	responseID string,
	u *usage.Usage,
) responses.Response {
	if responseID == "" {
		responseID = "123"
	}

	var responseUsage responses.ResponseUsage
	if u != nil {
		responseUsage = responses.ResponseUsage{
			InputTokens:  int64(u.InputTokens),
			OutputTokens: int64(u.OutputTokens),
			TotalTokens:  int64(u.TotalTokens),
		}
	}

	return responses.Response{
		ID:        responseID,
		CreatedAt: 123,
		Model:     "fake_model",
		Object:    "response",
		Output:    output,
		ToolChoice: responses.ResponseToolChoiceUnion{
			OfToolChoiceMode: responses.ToolChoiceOptionsNone,
		},
		Usage: responseUsage,
	}
}

var _ agents.Model = (*FakeModel)(nil)
