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

package agents_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcortex/agentrt/agents"
	"github.com/flowcortex/agentrt/agenttest"
)

type weatherReport struct {
	City  string `json:"city"`
	TempC int    `json:"temp_c"`
}

func TestRunStructuredFinalOutput(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	model.SetNextOutput(agenttest.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agenttest.GetFinalOutputMessage(`{"city":"Paris","temp_c":21}`),
		},
	})
	agent := agents.New("weather").
		WithModelInstance(model).
		WithOutputType(agents.OutputType[weatherReport]())

	result, err := agents.Run(t.Context(), agent, "weather in paris")
	require.NoError(t, err)

	report := agents.FinalOutputAs[weatherReport](result, true)
	assert.Equal(t, weatherReport{City: "Paris", TempC: 21}, report)
}

func TestRunStructuredFinalOutputInvalidJSON(t *testing.T) {
	model := agenttest.NewFakeModel(nil)
	model.SetNextOutput(agenttest.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agenttest.GetFinalOutputMessage("sunny, about 21C"),
		},
	})
	agent := agents.New("weather").
		WithModelInstance(model).
		WithOutputType(agents.OutputType[weatherReport]())

	_, err := agents.Run(t.Context(), agent, "weather in paris")
	require.Error(t, err)
	var behaviorErr agents.ModelBehaviorError
	assert.ErrorAs(t, err, &behaviorErr)
}

func TestOutputTypeStrictSchema(t *testing.T) {
	ot := agents.OutputType[weatherReport]()
	require.False(t, ot.IsPlainText())
	require.True(t, ot.IsStrictJSONSchema())

	schema, err := ot.JSONSchema()
	require.NoError(t, err)
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []string{"city", "temp_c"}, schema["required"])
}

func TestOutputTypeValidateJSONRejectsMismatch(t *testing.T) {
	ot := agents.OutputType[weatherReport]()

	_, err := ot.ValidateJSON(t.Context(), `{"city":"Paris","temp_c":"warm"}`)
	require.Error(t, err)
	var behaviorErr agents.ModelBehaviorError
	assert.ErrorAs(t, err, &behaviorErr)

	v, err := ot.ValidateJSON(t.Context(), `{"city":"Paris","temp_c":21}`)
	require.NoError(t, err)
	assert.Equal(t, weatherReport{City: "Paris", TempC: 21}, v)
}
