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
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
)

// ToolOutputText is an explicit text part of a rich tool output.
type ToolOutputText struct {
	Text string
}

// ToolOutputImage sends an image back to the model, by URL (including data
// URLs) or by uploaded file id.
type ToolOutputImage struct {
	ImageURL string
	FileID   string
}

// ToolOutputFile sends a file back to the model, by inline base64 data,
// URL, or uploaded file id.
type ToolOutputFile struct {
	FileData string
	FileURL  string
	FileID   string
	Filename string
}

// convertToolOutput normalizes a tool's return value into the wire output
// union: rich parts (text/image/file, alone or in a slice) become content
// arrays, everything else becomes a string.
func convertToolOutput(output any) responses.ResponseInputItemFunctionCallOutputOutputUnionParam {
	if list, ok := convertToolOutputList(output); ok {
		return responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
			OfResponseFunctionCallOutputItemArray: list,
		}
	}
	if single, ok := convertSingleToolOutput(output); ok {
		return responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
			OfResponseFunctionCallOutputItemArray: responses.ResponseFunctionCallOutputItemListParam{single},
		}
	}
	return responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
		OfString: param.NewOpt(stringifyToolOutput(output)),
	}
}

func convertToolOutputList(output any) (responses.ResponseFunctionCallOutputItemListParam, bool) {
	if output == nil {
		return nil, false
	}
	rv := reflect.ValueOf(output)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make(responses.ResponseFunctionCallOutputItemListParam, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, ok := convertSingleToolOutput(rv.Index(i).Interface())
		if !ok {
			return nil, false
		}
		items = append(items, item)
	}
	return items, len(items) > 0
}

func convertSingleToolOutput(output any) (responses.ResponseFunctionCallOutputItemUnionParam, bool) {
	switch v := output.(type) {
	case responses.ResponseFunctionCallOutputItemUnionParam:
		return v, true
	case responses.ResponseInputTextContentParam:
		return responses.ResponseFunctionCallOutputItemUnionParam{OfInputText: &v}, true
	case responses.ResponseInputImageContentParam:
		return responses.ResponseFunctionCallOutputItemUnionParam{OfInputImage: &v}, true
	case responses.ResponseInputFileContentParam:
		return responses.ResponseFunctionCallOutputItemUnionParam{OfInputFile: &v}, true
	case ToolOutputText:
		item := responses.ResponseInputTextContentParam{
			Text: v.Text,
			Type: constant.ValueOf[constant.InputText](),
		}
		return responses.ResponseFunctionCallOutputItemUnionParam{OfInputText: &item}, true
	case ToolOutputImage:
		if v.ImageURL == "" && v.FileID == "" {
			return responses.ResponseFunctionCallOutputItemUnionParam{}, false
		}
		item := responses.ResponseInputImageContentParam{
			Type: constant.ValueOf[constant.InputImage](),
		}
		if v.ImageURL != "" {
			item.ImageURL = param.NewOpt(v.ImageURL)
		}
		if v.FileID != "" {
			item.FileID = param.NewOpt(v.FileID)
		}
		return responses.ResponseFunctionCallOutputItemUnionParam{OfInputImage: &item}, true
	case ToolOutputFile:
		if v.FileData == "" && v.FileURL == "" && v.FileID == "" {
			return responses.ResponseFunctionCallOutputItemUnionParam{}, false
		}
		item := responses.ResponseInputFileContentParam{
			Type: constant.ValueOf[constant.InputFile](),
		}
		if v.FileData != "" {
			item.FileData = param.NewOpt(v.FileData)
		}
		if v.FileURL != "" {
			item.FileURL = param.NewOpt(v.FileURL)
		}
		if v.FileID != "" {
			item.FileID = param.NewOpt(v.FileID)
		}
		if v.Filename != "" {
			item.Filename = param.NewOpt(v.Filename)
		}
		return responses.ResponseFunctionCallOutputItemUnionParam{OfInputFile: &item}, true
	}
	return responses.ResponseFunctionCallOutputItemUnionParam{}, false
}

// stringifyToolOutput renders a tool result for the model: strings pass
// through, everything else is JSON when possible.
func stringifyToolOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

// functionCallOutputItem builds the function_call_output input item for a
// tool result.
func functionCallOutputItem(callID string, output any) TResponseInputItem {
	return TResponseInputItem{
		OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
			CallID: callID,
			Output: convertToolOutput(output),
			Type:   constant.ValueOf[constant.FunctionCallOutput](),
		},
	}
}
