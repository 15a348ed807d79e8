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
	"sync"
	"sync/atomic"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// DefaultModel is used when neither the agent nor the run names a model.
const DefaultModel = "gpt-4.1"

// OpenaiClient bundles an openai.Client with the options it was built from,
// so a provider can tell a configured client apart from the zero value.
type OpenaiClient struct {
	openai.Client
	APIKey  param.Opt[string]
	BaseURL param.Opt[string]
}

// NewOpenaiClient builds a client from an optional API key and base URL.
// Unset options fall back to the environment.
func NewOpenaiClient(apiKey, baseURL param.Opt[string]) OpenaiClient {
	opts := make([]option.RequestOption, 0, 2)
	if apiKey.Valid() {
		opts = append(opts, option.WithAPIKey(apiKey.Value))
	}
	if baseURL.Valid() {
		opts = append(opts, option.WithBaseURL(baseURL.Value))
	}
	return OpenaiClient{
		Client:  openai.NewClient(opts...),
		APIKey:  apiKey,
		BaseURL: baseURL,
	}
}

var (
	defaultOpenaiKey    atomic.Pointer[string]
	defaultOpenaiClient atomic.Pointer[OpenaiClient]
)

// SetDefaultOpenaiKey sets the API key used by providers that were not given
// one explicitly. Call it before the first run.
func SetDefaultOpenaiKey(key string) {
	defaultOpenaiKey.Store(&key)
}

// SetDefaultOpenaiClient sets the client used by providers that were not
// given a key or client explicitly. Call it before the first run.
func SetDefaultOpenaiClient(client OpenaiClient) {
	defaultOpenaiClient.Store(&client)
}

// OpenAIProviderParams configures an OpenAIProvider. All fields are optional.
type OpenAIProviderParams struct {
	// APIKey for the OpenAI client. If provided, OpenaiClient must be nil.
	APIKey param.Opt[string]

	// BaseURL for the OpenAI client. If provided, OpenaiClient must be nil.
	BaseURL param.Opt[string]

	// OpenaiClient is used as-is for all model calls. If provided, APIKey
	// and BaseURL must be unset.
	OpenaiClient *OpenaiClient
}

// OpenAIProvider resolves model names to the OpenAI Responses API.
type OpenAIProvider struct {
	params OpenAIProviderParams

	mu           sync.Mutex
	storedClient *OpenaiClient
}

// NewOpenAIProvider creates a provider. It panics if both a client and a
// key or base URL are given.
func NewOpenAIProvider(params OpenAIProviderParams) *OpenAIProvider {
	if params.OpenaiClient != nil && (params.APIKey.Valid() || params.BaseURL.Valid()) {
		panic("don't provide both OpenaiClient and APIKey/BaseURL")
	}
	return &OpenAIProvider{params: params}
}

// GetModel returns the named model, or the provider default when name is
// empty.
func (p *OpenAIProvider) GetModel(name string) (Model, error) {
	if name == "" {
		name = DefaultModel
	}
	return NewOpenAIResponsesModel(name, p.client()), nil
}

// client lazily builds the shared client so that env vars and package-level
// defaults set after provider construction are still honored.
func (p *OpenAIProvider) client() OpenaiClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.storedClient != nil {
		return *p.storedClient
	}
	switch {
	case p.params.OpenaiClient != nil:
		p.storedClient = p.params.OpenaiClient
	case defaultOpenaiClient.Load() != nil && !p.params.APIKey.Valid() && !p.params.BaseURL.Valid():
		p.storedClient = defaultOpenaiClient.Load()
	default:
		apiKey := p.params.APIKey
		if !apiKey.Valid() {
			if k := defaultOpenaiKey.Load(); k != nil {
				apiKey = param.NewOpt(*k)
			}
		}
		c := NewOpenaiClient(apiKey, p.params.BaseURL)
		p.storedClient = &c
	}
	return *p.storedClient
}

var defaultModelProvider = sync.OnceValue(func() ModelProvider {
	return NewOpenAIProvider(OpenAIProviderParams{})
})
