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

// Package memory provides conversation history storage for runs.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/openai/openai-go/v3/responses"
)

// TResponseInputItem is one item of conversation history in wire form.
type TResponseInputItem = responses.ResponseInputItemUnionParam

// Session stores conversation history for a session id, so multiple runs can
// share one conversation without the caller threading items by hand.
type Session interface {
	// SessionID returns the identifier of this conversation.
	SessionID(ctx context.Context) string

	// GetItems retrieves history for this session. A limit greater than
	// zero returns only the latest limit items, oldest first.
	GetItems(ctx context.Context, limit int) ([]TResponseInputItem, error)

	// AddItems appends items to the history.
	AddItems(ctx context.Context, items []TResponseInputItem) error

	// PopItem removes and returns the most recent item, or nil when the
	// session is empty.
	PopItem(ctx context.Context) (*TResponseInputItem, error)

	// ClearSession removes all items for this session.
	ClearSession(ctx context.Context) error
}

// InMemorySession keeps history in process memory. It is safe for concurrent
// use and is primarily useful for tests and short-lived programs.
type InMemorySession struct {
	sessionID string
	mu        sync.Mutex
	items     []TResponseInputItem
}

// NewInMemorySession creates an empty in-memory session.
func NewInMemorySession(sessionID string) *InMemorySession {
	return &InMemorySession{sessionID: sessionID}
}

func (s *InMemorySession) SessionID(context.Context) string {
	return s.sessionID
}

func (s *InMemorySession) GetItems(_ context.Context, limit int) ([]TResponseInputItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return slices.Clone(items), nil
}

func (s *InMemorySession) AddItems(_ context.Context, items []TResponseInputItem) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

func (s *InMemorySession) PopItem(context.Context) (*TResponseInputItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return nil, nil
	}
	item := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return &item, nil
}

func (s *InMemorySession) ClearSession(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	return nil
}

var _ Session = (*InMemorySession)(nil)

func unmarshalMessageData(payload string) (TResponseInputItem, error) {
	var item TResponseInputItem
	if err := item.UnmarshalJSON([]byte(payload)); err != nil {
		return TResponseInputItem{}, err
	}
	return item, nil
}
