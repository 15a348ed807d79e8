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

	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/flowcortex/agentrt/tracing"
	"github.com/flowcortex/agentrt/usage"
)

// OpenAIResponsesModel is a Model backed by the OpenAI Responses API.
type OpenAIResponsesModel struct {
	model  string
	client OpenaiClient
}

func NewOpenAIResponsesModel(model string, client OpenaiClient) OpenAIResponsesModel {
	return OpenAIResponsesModel{
		model:  model,
		client: client,
	}
}

func (m OpenAIResponsesModel) GetResponse(ctx context.Context, params ModelResponseParams) (*ModelResponse, error) {
	body, opts, err := m.prepareRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	var span *tracing.Span
	if !params.Tracing.IsDisabled() {
		data := tracing.GenerationSpanData{Model: m.model}
		if params.Tracing.IncludeData() {
			data.Input = InputToNewInputList(params.Input)
		}
		ctx, span = tracing.StartSpan(ctx, data)
		defer func() { tracing.EndSpan(ctx, span) }()
	}

	resp, err := m.client.Responses.New(ctx, *body, opts...)
	if err != nil {
		span.SetError(tracing.SpanError{
			Message: "error getting response",
			Data:    map[string]any{"error": err.Error()},
		})
		return nil, fmt.Errorf("error getting response: %w", err)
	}

	u := usage.NewUsage()
	u.AddFromResponse(resp.Usage)
	if span != nil {
		data := tracing.GenerationSpanData{
			Model:    m.model,
			Response: resp.ID,
			Usage: map[string]uint64{
				"input_tokens":  u.InputTokens,
				"output_tokens": u.OutputTokens,
			},
		}
		if params.Tracing.IncludeData() {
			data.Input = InputToNewInputList(params.Input)
			data.Output = resp.Output
		}
		span.SpanData = data
	}

	Logger().Debug("LLM responded",
		"model", m.model,
		"response_id", resp.ID,
		"output_items", len(resp.Output),
	)
	return &ModelResponse{
		Output:     resp.Output,
		Usage:      u,
		ResponseID: resp.ID,
	}, nil
}

func (m OpenAIResponsesModel) StreamResponse(
	ctx context.Context,
	params ModelResponseParams,
	yield func(context.Context, TResponseStreamEvent) error,
) error {
	body, opts, err := m.prepareRequest(ctx, params)
	if err != nil {
		return err
	}

	var span *tracing.Span
	if !params.Tracing.IsDisabled() {
		data := tracing.GenerationSpanData{Model: m.model}
		if params.Tracing.IncludeData() {
			data.Input = InputToNewInputList(params.Input)
		}
		ctx, span = tracing.StartSpan(ctx, data)
		defer func() { tracing.EndSpan(ctx, span) }()
	}

	stream := m.client.Responses.NewStreaming(ctx, *body, opts...)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Current()
		if span != nil && event.Type == "response.completed" {
			u := usage.NewUsage()
			u.AddFromResponse(event.Response.Usage)
			data := tracing.GenerationSpanData{
				Model:    m.model,
				Response: event.Response.ID,
				Usage: map[string]uint64{
					"input_tokens":  u.InputTokens,
					"output_tokens": u.OutputTokens,
				},
			}
			if params.Tracing.IncludeData() {
				data.Input = InputToNewInputList(params.Input)
				data.Output = event.Response.Output
			}
			span.SpanData = data
		}
		if err := yield(ctx, event); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		span.SetError(tracing.SpanError{
			Message: "error streaming response",
			Data:    map[string]any{"error": err.Error()},
		})
		return fmt.Errorf("error streaming response: %w", err)
	}
	return nil
}

func (m OpenAIResponsesModel) prepareRequest(ctx context.Context, params ModelResponseParams) (*responses.ResponseNewParams, []option.RequestOption, error) {
	settings := params.ModelSettings
	body := &responses.ResponseNewParams{
		Model:             shared.ResponsesModel(m.model),
		Instructions:      params.SystemInstructions,
		Temperature:       settings.Temperature,
		TopP:              settings.TopP,
		ParallelToolCalls: settings.ParallelToolCalls,
		MaxOutputTokens:   settings.MaxTokens,
		Store:             settings.Store,
		Reasoning:         settings.Reasoning,
	}
	if settings.Truncation.Valid() {
		body.Truncation = responses.ResponseNewParamsTruncation(settings.Truncation.Value)
	}

	switch v := params.Input.(type) {
	case InputString:
		body.Input = responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(string(v)),
		}
	case InputItems:
		body.Input = responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam(v),
		}
	default:
		return nil, nil, UserErrorf("unexpected input type %T", params.Input)
	}

	if params.PreviousResponseID != "" {
		body.PreviousResponseID = param.NewOpt(params.PreviousResponseID)
	}
	if params.ConversationID != "" {
		body.Conversation = responses.ResponseNewParamsConversationUnion{
			OfString: param.NewOpt(params.ConversationID),
		}
	}

	tools := make([]responses.ToolUnionParam, 0, len(params.Tools)+len(params.Handoffs))
	for _, tool := range params.Tools {
		converted, err := convertToolParam(ctx, tool)
		if err != nil {
			return nil, nil, err
		}
		tools = append(tools, converted)
	}
	for _, handoff := range params.Handoffs {
		tools = append(tools, handoffToolParam(handoff))
	}
	body.Tools = tools

	switch {
	case settings.ToolChoice.IsSpecificTool():
		body.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfFunctionTool: &responses.ToolChoiceFunctionParam{
				Name: string(settings.ToolChoice),
			},
		}
	case settings.ToolChoice != "":
		body.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptions(settings.ToolChoice)),
		}
	}

	if params.OutputType != nil && !params.OutputType.IsPlainText() {
		schema, err := params.OutputType.JSONSchema()
		if err != nil {
			return nil, nil, err
		}
		body.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   params.OutputType.Name(),
					Schema: schema,
					Strict: param.NewOpt(params.OutputType.IsStrictJSONSchema()),
				},
			},
		}
	}

	var opts []option.RequestOption
	for k, v := range settings.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	return body, opts, nil
}

func convertToolParam(ctx context.Context, tool Tool) (responses.ToolUnionParam, error) {
	switch t := tool.(type) {
	case FunctionTool:
		converted := responses.ToolParamOfFunction(t.Name, t.ParamsJSONSchema, t.StrictJSONSchema.Or(true))
		if t.Description != "" {
			converted.OfFunction.Description = param.NewOpt(t.Description)
		}
		return converted, nil
	case ComputerTool:
		width, height, err := t.Computer.Dimensions(ctx)
		if err != nil {
			return responses.ToolUnionParam{}, fmt.Errorf("failed to get computer dimensions: %w", err)
		}
		env, err := t.Computer.Environment(ctx)
		if err != nil {
			return responses.ToolUnionParam{}, fmt.Errorf("failed to get computer environment: %w", err)
		}
		return responses.ToolUnionParam{
			OfComputerUsePreview: &responses.ComputerToolParam{
				DisplayWidth:  width,
				DisplayHeight: height,
				Environment:   responses.ComputerToolEnvironment(env),
			},
		}, nil
	case HostedMCPTool:
		cfg := t.ToolConfig
		return responses.ToolUnionParam{OfMcp: &cfg}, nil
	case ShellTool:
		return responses.ToolUnionParam{
			OfLocalShell: &responses.ToolLocalShellParam{},
		}, nil
	case ApplyPatchTool:
		return responses.ToolUnionParam{
			OfApplyPatch: &responses.ApplyPatchToolParam{},
		}, nil
	default:
		return responses.ToolUnionParam{}, UserErrorf("unsupported tool type %T", tool)
	}
}

func handoffToolParam(handoff Handoff) responses.ToolUnionParam {
	schema := handoff.InputJSONSchema
	if len(schema) == 0 {
		schema = map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"required":             []string{},
			"additionalProperties": false,
		}
	}
	converted := responses.ToolParamOfFunction(handoff.ToolName, schema, false)
	if handoff.ToolDescription != "" {
		converted.OfFunction.Description = param.NewOpt(handoff.ToolDescription)
	}
	return converted
}
