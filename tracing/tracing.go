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

// Package tracing records traces and spans for workflow runs. By default
// nothing is exported; install a Processor to receive finished spans.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trace groups all spans of one end-to-end workflow run.
type Trace struct {
	TraceID      string
	WorkflowName string
	GroupID      string
	Metadata     map[string]any
}

// SpanError describes a failure attached to a span.
type SpanError struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Span is a single timed operation within a trace.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string
	SpanData SpanData

	StartedAt time.Time
	EndedAt   time.Time

	mu  sync.Mutex
	err *SpanError
}

// SetError attaches err to the span, keeping only the first error.
func (s *Span) SetError(err SpanError) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = &err
	}
}

// Error returns the attached error, or nil.
func (s *Span) Error() *SpanError {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SpanData describes what a span represents.
type SpanData interface {
	SpanType() string
}

type AgentSpanData struct {
	Name       string
	Tools      []string
	Handoffs   []string
	OutputType string
}

func (AgentSpanData) SpanType() string { return "agent" }

type GenerationSpanData struct {
	Model    string
	Input    any
	Output   any
	Usage    map[string]uint64
	Response string
}

func (GenerationSpanData) SpanType() string { return "generation" }

type FunctionSpanData struct {
	Name   string
	Input  string
	Output string
	MCP    bool
}

func (FunctionSpanData) SpanType() string { return "function" }

type GuardrailSpanData struct {
	Name      string
	Triggered bool
}

func (GuardrailSpanData) SpanType() string { return "guardrail" }

type HandoffSpanData struct {
	FromAgent string
	ToAgent   string
}

func (HandoffSpanData) SpanType() string { return "handoff" }

type MCPListToolsSpanData struct {
	Server string
	Result []string
}

func (MCPListToolsSpanData) SpanType() string { return "mcp_tools" }

// Processor receives finished spans. Implementations must be safe for
// concurrent use.
type Processor interface {
	OnTraceStart(ctx context.Context, trace *Trace)
	OnTraceEnd(ctx context.Context, trace *Trace)
	OnSpanEnd(ctx context.Context, span *Span)
}

var (
	processorsMu sync.RWMutex
	processors   []Processor
)

// SetProcessors replaces the installed span processors.
func SetProcessors(ps ...Processor) {
	processorsMu.Lock()
	defer processorsMu.Unlock()
	processors = ps
}

func currentProcessors() []Processor {
	processorsMu.RLock()
	defer processorsMu.RUnlock()
	return processors
}

type traceContextKey struct{}
type spanContextKey struct{}

// TraceFromContext returns the active trace, if any.
func TraceFromContext(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceContextKey{}).(*Trace)
	return t
}

// SpanFromContext returns the active span, if any.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanContextKey{}).(*Span)
	return s
}

// StartTrace begins a workflow trace and stores it in the returned context.
// The caller must call EndTrace when the workflow finishes.
func StartTrace(ctx context.Context, workflowName, groupID string, metadata map[string]any) (context.Context, *Trace) {
	t := &Trace{
		TraceID:      "trace_" + uuid.NewString(),
		WorkflowName: workflowName,
		GroupID:      groupID,
		Metadata:     metadata,
	}
	for _, p := range currentProcessors() {
		p.OnTraceStart(ctx, t)
	}
	return context.WithValue(ctx, traceContextKey{}, t), t
}

// EndTrace finishes t.
func EndTrace(ctx context.Context, t *Trace) {
	if t == nil {
		return
	}
	for _, p := range currentProcessors() {
		p.OnTraceEnd(ctx, t)
	}
}

// StartSpan begins a span under the context's trace and active span. When no
// trace is active the span is recorded with an empty trace id; processors may
// drop such spans.
func StartSpan(ctx context.Context, data SpanData) (context.Context, *Span) {
	s := &Span{
		SpanID:    "span_" + uuid.NewString()[:24],
		SpanData:  data,
		StartedAt: time.Now().UTC(),
	}
	if t := TraceFromContext(ctx); t != nil {
		s.TraceID = t.TraceID
	}
	if parent := SpanFromContext(ctx); parent != nil {
		s.ParentID = parent.SpanID
	}
	return context.WithValue(ctx, spanContextKey{}, s), s
}

// EndSpan finishes s and hands it to the installed processors.
func EndSpan(ctx context.Context, s *Span) {
	if s == nil {
		return
	}
	s.EndedAt = time.Now().UTC()
	for _, p := range currentProcessors() {
		p.OnSpanEnd(ctx, s)
	}
}

// AttachErrorToCurrentSpan records err on the context's active span.
func AttachErrorToCurrentSpan(ctx context.Context, err SpanError) {
	SpanFromContext(ctx).SetError(err)
}
