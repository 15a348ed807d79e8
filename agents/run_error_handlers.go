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

import "context"

// RunErrorHandlerResult is what an error handler produces in place of a
// failed run.
type RunErrorHandlerResult struct {
	// FinalOutput becomes the run's final output.
	FinalOutput any

	// IncludeInHistory adds FinalOutput to the run's items as an
	// assistant message, so sessions record how the run ended.
	IncludeInHistory bool
}

// MaxTurnsErrorHandler is invoked when a run reaches its turn limit. Items
// holds everything generated so far. Returning an error (or not installing a
// handler) fails the run with MaxTurnsExceededError.
type MaxTurnsErrorHandler func(ctx context.Context, agent *Agent, items []RunItem) (RunErrorHandlerResult, error)

// RunErrorHandlers converts selected run failures into graceful final
// outputs instead of errors.
type RunErrorHandlers struct {
	MaxTurns MaxTurnsErrorHandler
}
