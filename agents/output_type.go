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
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// OutputTypeInterface describes the final output an agent must produce.
type OutputTypeInterface interface {
	// IsPlainText reports whether the output is unstructured text.
	IsPlainText() bool

	// The name of the output type, for traces and errors.
	Name() string

	// IsStrictJSONSchema reports whether the schema is enforced in strict
	// mode. Strict mode is strongly recommended.
	IsStrictJSONSchema() bool

	// JSONSchema returns the schema sent to the model. It must not be
	// called for plain text outputs.
	JSONSchema() (map[string]any, error)

	// ValidateJSON checks a model-produced payload against the schema and
	// returns the decoded value.
	ValidateJSON(ctx context.Context, jsonStr string) (any, error)
}

// OutputType builds a strict JSON-schema output type from a Go type.
func OutputType[T any]() OutputTypeInterface {
	return outputType[T]{strict: true}
}

// OutputTypeNonStrict builds a non-strict JSON-schema output type.
func OutputTypeNonStrict[T any]() OutputTypeInterface {
	return outputType[T]{}
}

type outputType[T any] struct {
	strict bool
}

func (outputType[T]) IsPlainText() bool { return false }

func (outputType[T]) Name() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

func (o outputType[T]) IsStrictJSONSchema() bool { return o.strict }

func (o outputType[T]) JSONSchema() (map[string]any, error) {
	schema, err := schemaForType[T]()
	if err != nil {
		return nil, err
	}
	if o.strict {
		if err := ensureStrictJSONSchema(schema); err != nil {
			return nil, err
		}
	}
	return schema, nil
}

func (o outputType[T]) ValidateJSON(_ context.Context, jsonStr string) (any, error) {
	schema, err := o.JSONSchema()
	if err != nil {
		return nil, err
	}
	if err := validateJSONAgainstSchema(schema, jsonStr); err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		return nil, ModelBehaviorErrorf("invalid JSON for output type %s: %v", o.Name(), err)
	}
	return v, nil
}

// schemaForType derives a JSON schema map from a Go type.
func schemaForType[T any]() (map[string]any, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive JSON schema: %w", err)
	}
	return convertViaJSON[map[string]any](schema)
}

// ensureStrictJSONSchema rewrites schema in place so it satisfies the
// strict-mode requirements: every object forbids additional properties and
// requires all of its declared properties.
func ensureStrictJSONSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if t, _ := schema["type"].(string); t == "object" || schema["properties"] != nil {
		props, _ := schema["properties"].(map[string]any)
		if schema["additionalProperties"] == nil {
			schema["additionalProperties"] = false
		}
		if len(props) > 0 {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			sort.Strings(required)
			schema["required"] = required
			for _, sub := range props {
				if m, ok := sub.(map[string]any); ok {
					if err := ensureStrictJSONSchema(m); err != nil {
						return err
					}
				}
			}
		}
	}
	for _, key := range []string{"items", "$defs", "definitions"} {
		switch v := schema[key].(type) {
		case map[string]any:
			if key == "items" {
				if err := ensureStrictJSONSchema(v); err != nil {
					return err
				}
				continue
			}
			for _, sub := range v {
				if m, ok := sub.(map[string]any); ok {
					if err := ensureStrictJSONSchema(m); err != nil {
						return err
					}
				}
			}
		}
	}
	for _, key := range []string{"anyOf", "allOf", "oneOf"} {
		if list, ok := schema[key].([]any); ok {
			for _, sub := range list {
				if m, ok := sub.(map[string]any); ok {
					if err := ensureStrictJSONSchema(m); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// validateJSONAgainstSchema checks doc against schema, reporting violations
// as a ModelBehaviorError.
func validateJSONAgainstSchema(schema map[string]any, doc string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewStringLoader(doc),
	)
	if err != nil {
		return ModelBehaviorErrorf("JSON schema validation failed: %v", err)
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			descs = append(descs, e.String())
		}
		return ModelBehaviorErrorf("JSON does not match schema: %s", strings.Join(descs, "; "))
	}
	return nil
}
