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
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/openai/openai-go/v3/packages/param"
)

// MCPServer is a remote tool server whose tools are exposed to agents as
// function tools.
type MCPServer interface {
	// Connect establishes the client session. It must be called before the
	// server is used in a run, and Cleanup must be called when done.
	Connect(ctx context.Context) error

	Cleanup(ctx context.Context) error

	Name() string

	ListTools(ctx context.Context) ([]*mcp.Tool, error)

	CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error)

	// NeedsApproval reports whether calls to the named tool must pass the
	// human approval gate.
	NeedsApproval(toolName string) bool
}

// MCPServerParams configures an MCPServerWithClientSession.
type MCPServerParams struct {
	Name      string
	Transport mcp.Transport

	// CacheToolsList caches the tool list after the first fetch. Enable it
	// when the server's tools are static; InvalidateToolsCache forces a
	// refresh.
	CacheToolsList bool

	ClientOptions *mcp.ClientOptions

	// ClientSessionTimeout bounds each session request. Defaults to 5s.
	ClientSessionTimeout time.Duration

	// Retry is applied to connect, list-tools and call-tool operations.
	Retry RetryPolicy

	// RequireApproval gates tool calls on human approval. Accepted values:
	// bool, "always"/"never", map[string]bool per tool, or
	// MCPRequireApprovalLists.
	RequireApproval any
}

// MCPRequireApprovalLists is a per-tool approval policy given as two name
// lists.
type MCPRequireApprovalLists struct {
	Always []string
	Never  []string
}

// mcpApprovalPolicy is the normalized form of MCPServerParams.RequireApproval.
type mcpApprovalPolicy struct {
	defaultNeedsApproval bool
	perTool              map[string]bool
}

func normalizeMCPApprovalPolicy(value any) (mcpApprovalPolicy, error) {
	switch v := value.(type) {
	case nil:
		return mcpApprovalPolicy{}, nil
	case bool:
		return mcpApprovalPolicy{defaultNeedsApproval: v}, nil
	case string:
		switch strings.ToLower(v) {
		case "always":
			return mcpApprovalPolicy{defaultNeedsApproval: true}, nil
		case "never":
			return mcpApprovalPolicy{}, nil
		}
		return mcpApprovalPolicy{}, UserErrorf("invalid MCP approval policy %q", v)
	case map[string]bool:
		perTool := make(map[string]bool, len(v))
		for name, needs := range v {
			perTool[name] = needs
		}
		return mcpApprovalPolicy{perTool: perTool}, nil
	case MCPRequireApprovalLists:
		perTool := make(map[string]bool, len(v.Always)+len(v.Never))
		for _, name := range v.Always {
			perTool[name] = true
		}
		for _, name := range v.Never {
			perTool[name] = false
		}
		return mcpApprovalPolicy{perTool: perTool}, nil
	case *MCPRequireApprovalLists:
		if v == nil {
			return mcpApprovalPolicy{}, nil
		}
		return normalizeMCPApprovalPolicy(*v)
	}
	return mcpApprovalPolicy{}, UserErrorf("invalid MCP approval policy type %T", value)
}

func (p mcpApprovalPolicy) needsApproval(toolName string) bool {
	if needs, ok := p.perTool[toolName]; ok {
		return needs
	}
	return p.defaultNeedsApproval
}

// MCPServerWithClientSession manages an MCP client session over an
// arbitrary transport.
type MCPServerWithClientSession struct {
	name           string
	transport      mcp.Transport
	clientOptions  *mcp.ClientOptions
	sessionTimeout time.Duration
	retry          RetryPolicy
	cacheToolsList bool
	approval       mcpApprovalPolicy
	approvalErr    error

	mu         sync.Mutex
	session    *mcp.ClientSession
	toolsList  []*mcp.Tool
	cacheDirty bool
}

func NewMCPServerWithClientSession(params MCPServerParams) *MCPServerWithClientSession {
	timeout := params.ClientSessionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	approval, approvalErr := normalizeMCPApprovalPolicy(params.RequireApproval)
	return &MCPServerWithClientSession{
		name:           params.Name,
		transport:      params.Transport,
		clientOptions:  params.ClientOptions,
		sessionTimeout: timeout,
		retry:          params.Retry,
		cacheToolsList: params.CacheToolsList,
		approval:       approval,
		approvalErr:    approvalErr,
		cacheDirty:     true,
	}
}

func (s *MCPServerWithClientSession) Name() string { return s.name }

func (s *MCPServerWithClientSession) Connect(ctx context.Context) error {
	if s.approvalErr != nil {
		return s.approvalErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return nil
	}
	client := mcp.NewClient(&mcp.Implementation{Name: s.name}, s.clientOptions)
	return s.retry.Do(ctx, "connect", s.name, func(ctx context.Context) error {
		attemptCtx, cancel := s.withSessionTimeout(ctx)
		defer cancel()
		session, err := client.Connect(attemptCtx, s.transport, nil)
		if err != nil {
			return err
		}
		s.session = session
		return nil
	})
}

func (s *MCPServerWithClientSession) Cleanup(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	if err != nil {
		Logger().Error("error cleaning up MCP server", "server", s.name, "error", err)
	}
	return err
}

// InvalidateToolsCache forces the next ListTools to hit the server.
func (s *MCPServerWithClientSession) InvalidateToolsCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheDirty = true
}

func (s *MCPServerWithClientSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, NewUserError("server not initialized: make sure you call Connect() first")
	}
	if s.cacheToolsList && !s.cacheDirty && len(s.toolsList) > 0 {
		return s.toolsList, nil
	}
	var result *mcp.ListToolsResult
	err := s.retry.Do(ctx, "list tools", s.name, func(ctx context.Context) error {
		attemptCtx, cancel := s.withSessionTimeout(ctx)
		defer cancel()
		var err error
		result, err = s.session.ListTools(attemptCtx, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools error: %w", err)
	}
	s.toolsList = result.Tools
	s.cacheDirty = false
	return s.toolsList, nil
}

func (s *MCPServerWithClientSession) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	session := s.session
	cached := s.findCachedTool(toolName)
	s.mu.Unlock()
	if session == nil {
		return nil, NewUserError("server not initialized: make sure you call Connect() first")
	}
	if err := validateRequiredArguments(cached, arguments); err != nil {
		return nil, err
	}
	var result *mcp.CallToolResult
	err := s.retry.Do(ctx, "call tool", s.name, func(ctx context.Context) error {
		attemptCtx, cancel := s.withSessionTimeout(ctx)
		defer cancel()
		var err error
		result, err = session.CallTool(attemptCtx, &mcp.CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *MCPServerWithClientSession) NeedsApproval(toolName string) bool {
	return s.approval.needsApproval(toolName)
}

func (s *MCPServerWithClientSession) withSessionTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.sessionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.sessionTimeout)
}

func (s *MCPServerWithClientSession) findCachedTool(toolName string) *mcp.Tool {
	for _, tool := range s.toolsList {
		if tool != nil && tool.Name == toolName {
			return tool
		}
	}
	return nil
}

func validateRequiredArguments(tool *mcp.Tool, arguments map[string]any) error {
	if tool == nil || tool.InputSchema == nil {
		return nil
	}
	required := tool.InputSchema.Required
	if len(required) == 0 {
		return nil
	}
	var missing []string
	for _, key := range required {
		if _, ok := arguments[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return UserErrorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MCPServerStdioParams configures a subprocess server speaking MCP over
// stdio.
type MCPServerStdioParams struct {
	Name    string
	Command *exec.Cmd

	CacheToolsList       bool
	ClientOptions        *mcp.ClientOptions
	ClientSessionTimeout time.Duration
	Retry                RetryPolicy
	RequireApproval      any
}

func NewMCPServerStdio(params MCPServerStdioParams) *MCPServerWithClientSession {
	name := params.Name
	if name == "" && params.Command != nil {
		name = "stdio: " + params.Command.Path
	}
	return NewMCPServerWithClientSession(MCPServerParams{
		Name:                 name,
		Transport:            &mcp.CommandTransport{Command: params.Command},
		CacheToolsList:       params.CacheToolsList,
		ClientOptions:        params.ClientOptions,
		ClientSessionTimeout: params.ClientSessionTimeout,
		Retry:                params.Retry,
		RequireApproval:      params.RequireApproval,
	})
}

// MCPServerSSEParams configures a server speaking MCP over HTTP with SSE.
//
// Deprecated: SSE as a standalone transport is deprecated in the MCP
// protocol in favor of Streamable HTTP.
type MCPServerSSEParams struct {
	Name       string
	BaseURL    string
	HTTPClient *http.Client

	CacheToolsList       bool
	ClientOptions        *mcp.ClientOptions
	ClientSessionTimeout time.Duration
	Retry                RetryPolicy
	RequireApproval      any
}

func NewMCPServerSSE(params MCPServerSSEParams) *MCPServerWithClientSession {
	name := params.Name
	if name == "" {
		name = "sse: " + params.BaseURL
	}
	return NewMCPServerWithClientSession(MCPServerParams{
		Name: name,
		Transport: &mcp.SSEClientTransport{
			Endpoint:   params.BaseURL,
			HTTPClient: params.HTTPClient,
		},
		CacheToolsList:       params.CacheToolsList,
		ClientOptions:        params.ClientOptions,
		ClientSessionTimeout: params.ClientSessionTimeout,
		Retry:                params.Retry,
		RequireApproval:      params.RequireApproval,
	})
}

// MCPServerStreamableHTTPParams configures a server speaking MCP over
// Streamable HTTP.
type MCPServerStreamableHTTPParams struct {
	Name       string
	URL        string
	HTTPClient *http.Client

	CacheToolsList       bool
	ClientOptions        *mcp.ClientOptions
	ClientSessionTimeout time.Duration
	Retry                RetryPolicy
	RequireApproval      any
}

func NewMCPServerStreamableHTTP(params MCPServerStreamableHTTPParams) *MCPServerWithClientSession {
	name := params.Name
	if name == "" {
		name = "streamable_http: " + params.URL
	}
	return NewMCPServerWithClientSession(MCPServerParams{
		Name: name,
		Transport: &mcp.StreamableClientTransport{
			Endpoint:   params.URL,
			HTTPClient: params.HTTPClient,
		},
		CacheToolsList:       params.CacheToolsList,
		ClientOptions:        params.ClientOptions,
		ClientSessionTimeout: params.ClientSessionTimeout,
		Retry:                params.Retry,
		RequireApproval:      params.RequireApproval,
	})
}

// mcpServerFunctionTools exposes every tool of server as a FunctionTool
// that proxies invocations through the client session.
func mcpServerFunctionTools(ctx context.Context, server MCPServer) ([]Tool, error) {
	mcpTools, err := server.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]Tool, 0, len(mcpTools))
	for _, mcpTool := range mcpTools {
		if mcpTool == nil {
			continue
		}
		tools = append(tools, mcpToolToFunctionTool(server, mcpTool))
	}
	return tools, nil
}

func mcpToolToFunctionTool(server MCPServer, mcpTool *mcp.Tool) FunctionTool {
	schema := map[string]any{"type": "object", "properties": map[string]any{}}
	if mcpTool.InputSchema != nil {
		if converted, err := convertViaJSON[map[string]any](mcpTool.InputSchema); err == nil {
			schema = converted
		} else {
			Logger().Warn("failed to convert MCP tool schema",
				"server", server.Name(), "tool", mcpTool.Name, "error", err)
		}
	}
	toolName := mcpTool.Name
	tool := FunctionTool{
		Name:             toolName,
		Description:      mcpTool.Description,
		ParamsJSONSchema: schema,
		StrictJSONSchema: param.NewOpt(false),
		OnInvokeTool: func(ctx context.Context, arguments string) (any, error) {
			return invokeMCPTool(ctx, server, toolName, arguments)
		},
	}
	if server.NeedsApproval(toolName) {
		tool.NeedsApproval = NeedsApprovalAlways()
	}
	return tool
}

func invokeMCPTool(ctx context.Context, server MCPServer, toolName, arguments string) (any, error) {
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, ModelBehaviorErrorf("invalid arguments for MCP tool %s: %v", toolName, err)
		}
	}
	result, err := server.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}
	text := flattenMCPContent(result)
	if result.IsError {
		return nil, fmt.Errorf("MCP tool %s reported an error: %s", toolName, text)
	}
	if result.StructuredContent != nil {
		data, err := json.Marshal(result.StructuredContent)
		if err == nil {
			return string(data), nil
		}
	}
	return text, nil
}

func flattenMCPContent(result *mcp.CallToolResult) string {
	var texts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	}
	data, err := json.Marshal(texts)
	if err != nil {
		return strings.Join(texts, "\n")
	}
	return string(data)
}
