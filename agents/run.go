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
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/flowcortex/agentrt/memory"
	"github.com/flowcortex/agentrt/modelsettings"
	"github.com/flowcortex/agentrt/tracing"
	"github.com/flowcortex/agentrt/usage"
)

// DefaultMaxTurns is the turn limit applied when RunConfig.MaxTurns is zero.
const DefaultMaxTurns uint64 = 10

// RunConfig configures a Runner. The zero value is usable: the default model
// provider is used, runs are traced, and the turn limit is DefaultMaxTurns.
type RunConfig struct {
	// Model overrides the model for every agent in the run.
	Model param.Opt[AgentModel]

	// ModelProvider resolves model names. Defaults to the OpenAI provider.
	ModelProvider ModelProvider

	// ModelSettings override the per-agent settings field by field.
	ModelSettings modelsettings.ModelSettings

	// ModelRetry retries failed model calls. The zero value does not
	// retry.
	ModelRetry RetryPolicy

	// HandoffInputFilter edits the history a handoff target receives,
	// unless the handoff carries its own filter.
	HandoffInputFilter HandoffInputFilter

	// InputGuardrails and OutputGuardrails run in addition to the
	// agents' own.
	InputGuardrails  []InputGuardrail
	OutputGuardrails []OutputGuardrail

	MaxTurns uint64

	Hooks RunHooks

	// RunErrorHandlers turn selected failures into final outputs.
	RunErrorHandlers RunErrorHandlers

	// Session stores conversation history across runs. Mutually
	// exclusive with ConversationID.
	Session memory.Session

	// SessionHistoryLimit caps how many history items are loaded from
	// the session. Zero loads everything.
	SessionHistoryLimit int

	// ConversationID makes the server own the conversation; only new
	// items are sent on each model call.
	ConversationID string

	// PreviousResponseID chains this run onto an earlier response when
	// the server manages state.
	PreviousResponseID string

	TracingDisabled bool

	// WorkflowName labels the trace. Defaults to "Agent workflow".
	WorkflowName  string
	GroupID       string
	TraceMetadata map[string]any
}

// Runner executes agents until a final output, an interruption, or an error.
type Runner struct {
	Config RunConfig
}

var defaultRunner = sync.OnceValue(func() *Runner { return &Runner{} })

// DefaultRunner returns a shared zero-config Runner.
func DefaultRunner() *Runner { return defaultRunner() }

// Run executes startingAgent with a user text message, using the default
// runner.
func Run(ctx context.Context, startingAgent *Agent, input string) (*RunResult, error) {
	return DefaultRunner().Run(ctx, startingAgent, input)
}

// RunInputs executes startingAgent with explicit input items, using the
// default runner.
func RunInputs(ctx context.Context, startingAgent *Agent, input []TResponseInputItem) (*RunResult, error) {
	return DefaultRunner().RunInputs(ctx, startingAgent, input)
}

// RunFromState resumes an interrupted run, using the default runner.
func RunFromState(ctx context.Context, startingAgent *Agent, state *RunState) (*RunResult, error) {
	return DefaultRunner().RunFromState(ctx, startingAgent, state)
}

// Run executes startingAgent with a user text message.
func (r Runner) Run(ctx context.Context, startingAgent *Agent, input string) (*RunResult, error) {
	return r.run(ctx, startingAgent, InputString(input), nil)
}

// RunInputs executes startingAgent with explicit input items.
func (r Runner) RunInputs(ctx context.Context, startingAgent *Agent, input []TResponseInputItem) (*RunResult, error) {
	return r.run(ctx, startingAgent, InputItems(input), nil)
}

// RunFromState resumes a run from a snapshot taken at interruption.
// Approved suspended tool calls are executed exactly once; calls still
// awaiting a decision interrupt the run again. The starting agent must be
// the root of the same handoff graph the snapshot was taken from.
func (r Runner) RunFromState(ctx context.Context, startingAgent *Agent, state *RunState) (*RunResult, error) {
	if state == nil {
		return nil, NewUserError("run state is nil")
	}
	return r.run(ctx, startingAgent, nil, state)
}

// activeRun carries the mutable state of one run through the turn loop.
type activeRun struct {
	config  RunConfig
	hooks   RunHooks
	rc      *RunContextWrapper[any]
	tracker *serverConversationTracker

	// stream receives events when the run is streamed; nil otherwise.
	stream *RunResultStreaming

	toolsUsed *toolUseTracker

	currentAgent *Agent
	currentTurn  uint64
	maxTurns     uint64

	originalInput  Input
	generatedItems []RunItem
	modelResponses []ModelResponse

	inputGuardrailResults      []InputGuardrailResult
	toolInputGuardrailResults  []ToolInputGuardrailResult
	toolOutputGuardrailResults []ToolOutputGuardrailResult

	// persistedCount is how many generated items were already written to
	// the session.
	persistedCount int
}

func (r Runner) run(ctx context.Context, startingAgent *Agent, input Input, resumeState *RunState) (*RunResult, error) {
	return r.runWithStream(ctx, startingAgent, input, resumeState, nil)
}

func (r Runner) runWithStream(ctx context.Context, startingAgent *Agent, input Input, resumeState *RunState, stream *RunResultStreaming) (result *RunResult, err error) {
	if startingAgent == nil {
		return nil, NewUserError("starting agent is nil")
	}
	if r.Config.ConversationID != "" && r.Config.Session != nil {
		return nil, NewUserError("cannot use both a session and a server-managed conversation")
	}

	hooks := r.Config.Hooks
	if hooks == nil {
		hooks = NoOpRunHooks{}
	}

	if !r.Config.TracingDisabled && tracing.TraceFromContext(ctx) == nil {
		var trace *tracing.Trace
		ctx, trace = tracing.StartTrace(ctx,
			cmp.Or(r.Config.WorkflowName, "Agent workflow"),
			r.Config.GroupID, r.Config.TraceMetadata)
		defer func() { tracing.EndTrace(ctx, trace) }()
	}

	run := &activeRun{
		config:       r.Config,
		hooks:        hooks,
		rc:           NewRunContextWrapper[any](nil),
		toolsUsed:    newToolUseTracker(),
		currentAgent: startingAgent,
		maxTurns:     cmp.Or(r.Config.MaxTurns, DefaultMaxTurns),
		stream:       stream,
	}

	if resumeState != nil {
		if err := resumeState.Validate(); err != nil {
			return nil, err
		}
		agent, err := resumeState.attachAgents(startingAgent)
		if err != nil {
			return nil, err
		}
		run.currentAgent = agent
		run.currentTurn = resumeState.CurrentTurn
		if resumeState.MaxTurns > 0 {
			run.maxTurns = resumeState.MaxTurns
		}
		run.originalInput = InputItems(slices.Clone(resumeState.OriginalInput))
		run.generatedItems = slices.Clone(resumeState.GeneratedItems)
		run.modelResponses = slices.Clone(resumeState.ModelResponses)
		run.toolsUsed.LoadSnapshot(resumeState.ToolUseSnapshot)
		run.persistedCount = resumeState.PersistedItemCount
		resumeState.ApplyStoredToolApprovals(run.rc)
		if resumeState.Tracker != nil {
			run.tracker = hydrateConversationTracker(resumeState.Tracker)
		}
	} else if err := run.prepareFreshInput(ctx, input); err != nil {
		return nil, err
	}

	if run.tracker == nil && (r.Config.ConversationID != "" || r.Config.PreviousResponseID != "") {
		run.tracker = newServerConversationTracker(
			r.Config.ConversationID, r.Config.PreviousResponseID,
			InputToNewInputList(run.originalInput))
	}

	defer func() {
		if err != nil {
			err = attachErrorDetails(err, &RunErrorDetails{
				Input:                  run.originalInput,
				NewItems:               run.generatedItems,
				RawResponses:           run.modelResponses,
				LastAgent:              run.currentAgent,
				InputGuardrailResults:  run.inputGuardrailResults,
				OutputGuardrailResults: nil,
			})
		}
	}()

	if resumeState != nil && len(resumeState.Interruptions) > 0 {
		result, err := run.resolveInterruptions(ctx, resumeState)
		if err != nil || result != nil {
			return result, err
		}
	}

	return run.loop(ctx, resumeState == nil)
}

// prepareFreshInput loads session history, if any, and persists the new
// input so it is stored exactly once.
func (run *activeRun) prepareFreshInput(ctx context.Context, input Input) error {
	session := run.config.Session
	if session == nil {
		run.originalInput = CopyInput(input)
		return nil
	}

	history, err := session.GetItems(ctx, run.config.SessionHistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to get session items: %w", err)
	}
	newItems := InputToNewInputList(input)
	if err := session.AddItems(ctx, newItems); err != nil {
		return fmt.Errorf("failed to save input to session: %w", err)
	}
	run.originalInput = InputItems(slices.Concat(history, newItems))
	return nil
}

// loop drives the turn state machine. guardInput is true for fresh runs;
// resumed runs already passed their input guardrails.
func (run *activeRun) loop(ctx context.Context, guardInput bool) (*RunResult, error) {
	var currentSpan *tracing.Span
	var spanCtx context.Context
	endSpan := func() {
		if currentSpan != nil {
			tracing.EndSpan(spanCtx, currentSpan)
			currentSpan = nil
		}
	}
	defer endSpan()

	shouldRunAgentStartHooks := true

	for {
		allTools, err := run.currentAgent.GetAllTools(ctx)
		if err != nil {
			return nil, err
		}
		handoffs, err := run.handoffs(ctx, run.currentAgent)
		if err != nil {
			return nil, err
		}

		if currentSpan == nil {
			spanCtx, currentSpan = tracing.StartSpan(ctx, agentSpanData(run.currentAgent, allTools, handoffs))
			if run.stream != nil {
				run.stream.setCurrentAgent(run.currentAgent)
				run.stream.put(ctx, AgentUpdatedStreamEvent{
					NewAgent: run.currentAgent,
					Type:     "agent_updated_stream_event",
				})
			}
		}

		run.currentTurn++
		if run.stream != nil {
			run.stream.setCurrentTurn(run.currentTurn)
		}
		if run.currentTurn > run.maxTurns {
			if result, handled, err := run.handleMaxTurns(spanCtx); handled {
				return result, err
			}
			tracing.AttachErrorToCurrentSpan(spanCtx, tracing.SpanError{
				Message: "Max turns exceeded",
				Data:    map[string]any{"max_turns": run.maxTurns},
			})
			return nil, MaxTurnsExceededErrorf("max turns (%d) exceeded", run.maxTurns)
		}

		Logger().Debug("running agent",
			"agent", run.currentAgent.Name, "turn", run.currentTurn)

		var turnResult *SingleStepResult
		if guardInput && run.currentTurn == 1 {
			turnResult, err = run.firstTurn(spanCtx, allTools, handoffs, shouldRunAgentStartHooks)
		} else {
			turnResult, err = run.turn(spanCtx, allTools, handoffs, shouldRunAgentStartHooks)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return run.cancelled()
			}
			return nil, err
		}
		shouldRunAgentStartHooks = false

		run.originalInput = turnResult.OriginalInput
		run.generatedItems = turnResult.GeneratedItems()
		run.modelResponses = append(run.modelResponses, turnResult.ModelResponse)
		run.toolInputGuardrailResults = append(run.toolInputGuardrailResults, turnResult.ToolInputGuardrailResults...)
		run.toolOutputGuardrailResults = append(run.toolOutputGuardrailResults, turnResult.ToolOutputGuardrailResults...)

		if run.stream != nil {
			for _, item := range turnResult.NewStepItems {
				run.stream.put(ctx, runItemEvent(item))
			}
		}

		switch ns := turnResult.NextStep.(type) {
		case NextStepFinalOutput:
			endSpan()
			return run.finish(ctx, ns.Output)
		case NextStepHandoff:
			endSpan()
			run.currentAgent = ns.NewAgent
			shouldRunAgentStartHooks = true
			if err := run.flushSession(ctx); err != nil {
				return nil, err
			}
		case NextStepInterruption:
			endSpan()
			return run.interrupt(ctx, ns.Interruptions)
		case NextStepRunAgain:
			if err := run.flushSession(ctx); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected next step type %T", ns)
		}
	}
}

// handleMaxTurns gives the MaxTurns error handler a chance to end the run
// gracefully. handled is false when no handler is installed or it failed.
func (run *activeRun) handleMaxTurns(ctx context.Context) (*RunResult, bool, error) {
	handler := run.config.RunErrorHandlers.MaxTurns
	if handler == nil {
		return nil, false, nil
	}
	handlerResult, err := handler(ctx, run.currentAgent, run.generatedItems)
	if err != nil {
		Logger().Error("max turns error handler failed", "error", err)
		return nil, false, nil
	}
	if handlerResult.IncludeInHistory {
		if text, ok := handlerResult.FinalOutput.(string); ok {
			run.generatedItems = append(run.generatedItems,
				syntheticMessageItem(run.currentAgent, text))
		}
	}
	result, err := run.finish(ctx, handlerResult.FinalOutput)
	return result, true, err
}

// firstTurn runs the run-level and agent-level input guardrails around the
// first turn: blocking guardrails gate the model call, parallel ones race
// it. A tripwire from either aborts the run.
func (run *activeRun) firstTurn(ctx context.Context, allTools []Tool, handoffs []Handoff, startHooks bool) (*SingleStepResult, error) {
	guardrails := slices.Concat(run.currentAgent.InputGuardrails, run.config.InputGuardrails)
	var blocking, parallel []InputGuardrail
	for _, g := range guardrails {
		if g.Parallel {
			parallel = append(parallel, g)
		} else {
			blocking = append(blocking, g)
		}
	}

	blockingResults, err := run.runInputGuardrails(ctx, blocking)
	run.inputGuardrailResults = append(run.inputGuardrailResults, blockingResults...)
	if err != nil {
		// A guardrail verdict must not consume the turn; a retried run
		// starts from turn one again.
		run.currentTurn--
		return nil, err
	}

	if len(parallel) == 0 {
		return run.turn(ctx, allTools, handoffs, startHooks)
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		parallelResults []InputGuardrailResult
		guardrailErr    error
		turnResult      *SingleStepResult
		turnErr         error
		wg              sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		parallelResults, guardrailErr = run.runInputGuardrails(childCtx, parallel)
		if guardrailErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		turnResult, turnErr = run.turn(childCtx, allTools, handoffs, startHooks)
	}()
	wg.Wait()

	run.inputGuardrailResults = append(run.inputGuardrailResults, parallelResults...)
	if guardrailErr != nil {
		// The guardrail verdict wins; the canceled turn is discarded and
		// not counted.
		run.currentTurn--
		return nil, guardrailErr
	}
	return turnResult, turnErr
}

func (run *activeRun) runInputGuardrails(ctx context.Context, guardrails []InputGuardrail) ([]InputGuardrailResult, error) {
	if len(guardrails) == 0 {
		return nil, nil
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]InputGuardrailResult, len(guardrails))
	produced := make([]bool, len(guardrails))
	errs := make([]error, len(guardrails))

	var wg sync.WaitGroup
	wg.Add(len(guardrails))
	for i, guardrail := range guardrails {
		go func() {
			defer wg.Done()
			result, err := runSingleInputGuardrail(childCtx, run.currentAgent, guardrail, run.originalInput)
			if err != nil {
				errs[i] = fmt.Errorf("input guardrail %s failed: %w", guardrail.Name, err)
				cancel()
				return
			}
			results[i] = result
			produced[i] = true
			if result.Output.TripwireTriggered {
				errs[i] = InputGuardrailTripwireTriggeredError{GuardrailResult: result}
				cancel()
			}
		}()
	}
	wg.Wait()

	collected := make([]InputGuardrailResult, 0, len(results))
	for i, result := range results {
		if produced[i] {
			collected = append(collected, result)
		}
	}
	for _, err := range errs {
		if err != nil {
			return collected, err
		}
	}
	return collected, nil
}

func (run *activeRun) runOutputGuardrails(ctx context.Context, guardrails []OutputGuardrail, finalOutput any) ([]OutputGuardrailResult, error) {
	if len(guardrails) == 0 {
		return nil, nil
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]OutputGuardrailResult, len(guardrails))
	produced := make([]bool, len(guardrails))
	errs := make([]error, len(guardrails))

	var wg sync.WaitGroup
	wg.Add(len(guardrails))
	for i, guardrail := range guardrails {
		go func() {
			defer wg.Done()
			result, err := runSingleOutputGuardrail(childCtx, guardrail, run.currentAgent, finalOutput)
			if err != nil {
				errs[i] = fmt.Errorf("output guardrail %s failed: %w", guardrail.Name, err)
				cancel()
				return
			}
			results[i] = result
			produced[i] = true
			if result.Output.TripwireTriggered {
				errs[i] = OutputGuardrailTripwireTriggeredError{GuardrailResult: result}
				cancel()
			}
		}()
	}
	wg.Wait()

	collected := make([]OutputGuardrailResult, 0, len(results))
	for i, result := range results {
		if produced[i] {
			collected = append(collected, result)
		}
	}
	for _, err := range errs {
		if err != nil {
			return collected, err
		}
	}
	return collected, nil
}

// turn performs one model call and its side effects.
func (run *activeRun) turn(ctx context.Context, allTools []Tool, handoffs []Handoff, startHooks bool) (*SingleStepResult, error) {
	agent := run.currentAgent

	if startHooks {
		if err := run.runAgentStartHooks(ctx, agent); err != nil {
			return nil, err
		}
	}

	systemPrompt, err := agent.GetSystemPrompt(ctx)
	if err != nil {
		return nil, err
	}

	response, err := run.newResponse(ctx, agent, systemPrompt, allTools, handoffs)
	if err != nil {
		return nil, err
	}

	processed, err := processModelResponse(ctx, agent, allTools, *response, handoffs)
	if err != nil {
		return nil, err
	}
	run.toolsUsed.AddToolUse(agent, processed.ToolsUsed)

	return executeToolsAndSideEffects(
		ctx, agent, run.originalInput, run.generatedItems, *response,
		processed, agent.OutputType, run.hooks, run.config, run.rc)
}

func (run *activeRun) runAgentStartHooks(ctx context.Context, agent *Agent) error {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var errs [2]error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = run.hooks.OnAgentStart(childCtx, agent)
		if errs[0] != nil {
			cancel()
		}
	}()
	if agent.Hooks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[1] = agent.Hooks.OnStart(childCtx, agent)
			if errs[1] != nil {
				cancel()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs[:]...)
}

// modelInput assembles the input for the next model call: the minimal delta
// when the server owns the conversation, the full local history otherwise.
func (run *activeRun) modelInput() Input {
	if run.tracker != nil {
		return InputItems(run.tracker.PrepareInput(run.generatedItems))
	}
	items := InputToNewInputList(run.originalInput)
	for _, item := range run.generatedItems {
		if wire, ok := runItemToInputItem(item); ok {
			items = append(items, wire)
		}
	}
	return InputItems(items)
}

func (run *activeRun) newResponse(ctx context.Context, agent *Agent, systemPrompt param.Opt[string], allTools []Tool, handoffs []Handoff) (*ModelResponse, error) {
	model, err := run.model(agent)
	if err != nil {
		return nil, err
	}

	settings := agent.ModelSettings.Resolve(run.config.ModelSettings)
	settings = maybeResetToolChoice(agent, run.toolsUsed, settings)

	tracingMode := ModelTracingEnabled
	if run.config.TracingDisabled {
		tracingMode = ModelTracingDisabled
	}

	params := ModelResponseParams{
		SystemInstructions: systemPrompt,
		Input:              run.modelInput(),
		ModelSettings:      settings,
		Tools:              allTools,
		OutputType:         agent.OutputType,
		Handoffs:           handoffs,
		Tracing:            tracingMode,
	}
	if run.tracker != nil {
		params.PreviousResponseID = run.tracker.PreviousResponseID()
		params.ConversationID = run.tracker.ConversationID()
	}

	var response *ModelResponse
	if run.stream != nil {
		// Streamed calls are not retried: forwarded events cannot be
		// taken back.
		response, err = run.streamModelCall(ctx, model, params)
	} else {
		err = run.config.ModelRetry.Do(ctx, "get_response", agent.Name, func(ctx context.Context) error {
			resp, err := model.GetResponse(ctx, params)
			if err == nil {
				response = resp
			}
			return err
		})
	}
	if err != nil {
		if run.tracker != nil {
			run.tracker.RewindInput()
		}
		return nil, err
	}

	if run.tracker != nil {
		run.tracker.MarkInputAsSent()
		run.tracker.TrackServerItems(response)
	}
	if response.Usage != nil {
		run.rc.Usage.Add(response.Usage)
	}
	return response, nil
}

// streamModelCall runs one streamed model call, forwarding every raw event
// and assembling the final ModelResponse from the completed-response event.
func (run *activeRun) streamModelCall(ctx context.Context, model Model, params ModelResponseParams) (*ModelResponse, error) {
	var response *ModelResponse
	err := model.StreamResponse(ctx, params, func(ctx context.Context, event TResponseStreamEvent) error {
		if event.Type == "response.completed" {
			u := usage.NewUsage()
			u.AddFromResponse(event.Response.Usage)
			response = &ModelResponse{
				Output:     event.Response.Output,
				Usage:      u,
				ResponseID: event.Response.ID,
			}
		}
		run.stream.put(ctx, RawResponsesStreamEvent{Data: event, Type: "raw_response_event"})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, NewModelBehaviorError("model stream ended without a completed response")
	}
	return response, nil
}

func (run *activeRun) model(agent *Agent) (Model, error) {
	provider := run.config.ModelProvider
	if provider == nil {
		provider = defaultModelProvider()
	}

	if run.config.Model.Valid() {
		override := run.config.Model.Value
		if m, ok := override.SafeInstance(); ok {
			return m, nil
		}
		name, _ := override.SafeName()
		return provider.GetModel(name)
	}

	if agent.Model.Valid() {
		agentModel := agent.Model.Value
		if m, ok := agentModel.SafeInstance(); ok {
			return m, nil
		}
		name, _ := agentModel.SafeName()
		return provider.GetModel(name)
	}

	return provider.GetModel("")
}

// handoffs collects the agent's enabled handoffs, expanding plain agent
// references into default handoffs.
func (run *activeRun) handoffs(ctx context.Context, agent *Agent) ([]Handoff, error) {
	all := slices.Clone(agent.Handoffs)
	for _, target := range agent.AgentHandoffs {
		all = append(all, HandoffTo(target))
	}

	enabled := make([]Handoff, 0, len(all))
	for _, h := range all {
		if h.IsEnabled != nil {
			ok, err := h.IsEnabled(ctx, agent)
			if err != nil {
				return nil, fmt.Errorf("failed to check if handoff %s is enabled: %w", h.ToolName, err)
			}
			if !ok {
				continue
			}
		}
		enabled = append(enabled, h)
	}
	return enabled, nil
}

// finish runs the output guardrails, flushes the session, and assembles the
// final result.
func (run *activeRun) finish(ctx context.Context, finalOutput any) (*RunResult, error) {
	guardrails := slices.Concat(run.currentAgent.OutputGuardrails, run.config.OutputGuardrails)
	outputResults, err := run.runOutputGuardrails(ctx, guardrails, finalOutput)
	if err != nil {
		return nil, err
	}

	if err := run.flushSession(ctx); err != nil {
		return nil, err
	}

	return &RunResult{
		Input:                      run.originalInput,
		NewItems:                   run.generatedItems,
		RawResponses:               run.modelResponses,
		FinalOutput:                finalOutput,
		InputGuardrailResults:      run.inputGuardrailResults,
		OutputGuardrailResults:     outputResults,
		ToolInputGuardrailResults:  run.toolInputGuardrailResults,
		ToolOutputGuardrailResults: run.toolOutputGuardrailResults,
		LastAgent:                  run.currentAgent,
	}, nil
}

// interrupt flushes the session, snapshots the run, and returns a result
// whose Interruptions must be decided before resuming.
func (run *activeRun) interrupt(ctx context.Context, interruptions []ToolApprovalItem) (*RunResult, error) {
	if err := run.flushSession(ctx); err != nil {
		return nil, err
	}

	return &RunResult{
		Input:                      run.originalInput,
		NewItems:                   run.generatedItems,
		RawResponses:               run.modelResponses,
		InputGuardrailResults:      run.inputGuardrailResults,
		ToolInputGuardrailResults:  run.toolInputGuardrailResults,
		ToolOutputGuardrailResults: run.toolOutputGuardrailResults,
		Interruptions:              interruptions,
		LastAgent:                  run.currentAgent,
		State:                      run.snapshot(interruptions, CurrentStepInterruption{}),
	}, nil
}

// cancelled ends a cooperatively canceled run without error. Completed turns
// were already flushed; the canceled turn left no committed work, so the
// snapshot rewinds to the last turn boundary and resumes with a fresh turn.
func (run *activeRun) cancelled() (*RunResult, error) {
	run.currentTurn--
	return &RunResult{
		Input:                      run.originalInput,
		NewItems:                   run.generatedItems,
		RawResponses:               run.modelResponses,
		InputGuardrailResults:      run.inputGuardrailResults,
		ToolInputGuardrailResults:  run.toolInputGuardrailResults,
		ToolOutputGuardrailResults: run.toolOutputGuardrailResults,
		LastAgent:                  run.currentAgent,
		State:                      run.snapshot(nil, CurrentStepRunAgain{}),
	}, nil
}

func (run *activeRun) snapshot(interruptions []ToolApprovalItem, step CurrentStep) *RunState {
	var trackerState *ConversationTrackerState
	if run.tracker != nil {
		trackerState = run.tracker.Snapshot()
	}
	return &RunState{
		SchemaVersion:      CurrentSchemaVersion,
		CurrentTurn:        run.currentTurn,
		MaxTurns:           run.maxTurns,
		CurrentAgentName:   run.currentAgent.Name,
		OriginalInput:      InputToNewInputList(run.originalInput),
		GeneratedItems:     slices.Clone(run.generatedItems),
		ModelResponses:     slices.Clone(run.modelResponses),
		Interruptions:      slices.Clone(interruptions),
		ToolApprovals:      run.rc.SerializeApprovals(),
		CurrentStep:        step,
		ToolUseSnapshot:    run.toolsUsed.Snapshot(),
		Tracker:            trackerState,
		PersistedItemCount: run.persistedCount,
	}
}

// flushSession writes not-yet-persisted generated items to the session.
// Suspended approval items are skipped by conversion; counting by index
// keeps the accounting stable across resumes.
func (run *activeRun) flushSession(ctx context.Context) error {
	session := run.config.Session
	if session == nil {
		return nil
	}

	var wire []TResponseInputItem
	for _, item := range run.generatedItems[run.persistedCount:] {
		if w, ok := runItemToInputItem(item); ok {
			wire = append(wire, w)
		}
	}
	if len(wire) > 0 {
		if err := session.AddItems(ctx, wire); err != nil {
			return fmt.Errorf("failed to save items to session: %w", err)
		}
	}
	run.persistedCount = len(run.generatedItems)
	return nil
}

// resolveInterruptions executes the suspended tool calls whose approval has
// been decided. It returns a non-nil result when the run ends here: either
// calls are still awaiting a decision, or a tool-use behavior produced a
// final output. A nil result means the turn loop should continue.
func (run *activeRun) resolveInterruptions(ctx context.Context, state *RunState) (*RunResult, error) {
	agent := run.currentAgent

	allTools, err := agent.GetAllTools(ctx)
	if err != nil {
		return nil, err
	}
	functionTools := make(map[string]FunctionTool)
	var shellTool *ShellTool
	var applyPatchTool *ApplyPatchTool
	for _, tool := range allTools {
		switch t := tool.(type) {
		case FunctionTool:
			functionTools[t.Name] = t
		case ShellTool:
			shellTool = &t
		case ApplyPatchTool:
			applyPatchTool = &t
		}
	}

	resolved := run.resolvedCallIDs()

	var (
		functionRuns []ToolRunFunction
		shellRuns    []ToolRunShellCall
		patchRuns    []ToolRunApplyPatchCall
		pending      []ToolApprovalItem
	)
	for _, interruption := range state.Interruptions {
		callID := interruption.CallID()
		if _, done := resolved[callID]; done {
			continue
		}
		if _, known := run.rc.GetApprovalStatus(interruption.Name(), callID); !known {
			pending = append(pending, interruption)
			continue
		}
		switch raw := interruption.RawItem.(type) {
		case responses.ResponseFunctionToolCall:
			tool, ok := functionTools[raw.Name]
			if !ok {
				return nil, ModelBehaviorErrorf("tool %s not found in agent %s", raw.Name, agent.Name)
			}
			functionRuns = append(functionRuns, ToolRunFunction{ToolCall: raw, FunctionTool: tool})
		case responses.ResponseOutputItemLocalShellCall:
			if shellTool == nil {
				return nil, ModelBehaviorErrorf("agent %s has no shell tool for suspended call %s", agent.Name, callID)
			}
			shellRuns = append(shellRuns, ToolRunShellCall{ToolCall: raw, ShellTool: *shellTool})
		case responses.ResponseApplyPatchToolCall:
			if applyPatchTool == nil {
				return nil, ModelBehaviorErrorf("agent %s has no apply_patch tool for suspended call %s", agent.Name, callID)
			}
			patchRuns = append(patchRuns, ToolRunApplyPatchCall{ToolCall: raw, ApplyPatchTool: *applyPatchTool})
		case responses.ResponseOutputItemMcpApprovalRequest:
			// Decided at approval time; the response item is already part
			// of the generated items.
		default:
			return nil, fmt.Errorf("unexpected suspended tool call type %T", raw)
		}
	}

	var functionResults []FunctionToolResult
	if len(functionRuns) > 0 {
		results, inputGuardrails, outputGuardrails, interruptions, err := executeFunctionToolCalls(
			ctx, agent, functionRuns, run.hooks, run.config, run.rc)
		if err != nil {
			return nil, err
		}
		functionResults = results
		run.toolInputGuardrailResults = append(run.toolInputGuardrailResults, inputGuardrails...)
		run.toolOutputGuardrailResults = append(run.toolOutputGuardrailResults, outputGuardrails...)
		pending = append(pending, interruptions...)
		for _, result := range results {
			if result.RunItem != nil {
				if _, suspended := result.RunItem.(ToolApprovalItem); !suspended {
					run.generatedItems = append(run.generatedItems, result.RunItem)
				}
			}
		}
	}

	if len(shellRuns) > 0 {
		items, interruptions, err := executeShellCalls(ctx, agent, shellRuns, run.hooks, run.rc)
		if err != nil {
			return nil, err
		}
		run.generatedItems = append(run.generatedItems, items...)
		pending = append(pending, interruptions...)
	}

	if len(patchRuns) > 0 {
		items, interruptions, err := executeApplyPatchCalls(ctx, agent, patchRuns, run.hooks, run.rc)
		if err != nil {
			return nil, err
		}
		run.generatedItems = append(run.generatedItems, items...)
		pending = append(pending, interruptions...)
	}

	if len(pending) > 0 {
		return run.interrupt(ctx, pending)
	}

	if err := run.flushSession(ctx); err != nil {
		return nil, err
	}

	if len(functionResults) > 0 {
		check, err := checkForFinalOutputFromTools(ctx, agent, functionResults)
		if err != nil {
			return nil, err
		}
		if check.IsFinalOutput {
			finalOutput := check.FinalOutput
			if agent.OutputType == nil || agent.OutputType.IsPlainText() {
				if _, ok := finalOutput.(string); !ok {
					finalOutput = fmt.Sprintf("%v", finalOutput)
				}
			}
			return run.finish(ctx, finalOutput)
		}
	}
	return nil, nil
}

// resolvedCallIDs collects the call ids that already have an output among
// the generated items, so a resumed call is never executed twice.
func (run *activeRun) resolvedCallIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, item := range run.generatedItems {
		output, ok := item.(ToolCallOutputItem)
		if !ok {
			continue
		}
		raw := output.RawItem
		switch {
		case raw.OfFunctionCallOutput != nil:
			out[raw.OfFunctionCallOutput.CallID] = struct{}{}
		case raw.OfComputerCallOutput != nil:
			out[raw.OfComputerCallOutput.CallID] = struct{}{}
		case raw.OfLocalShellCallOutput != nil:
			out[raw.OfLocalShellCallOutput.ID] = struct{}{}
		case raw.OfApplyPatchCallOutput != nil:
			out[raw.OfApplyPatchCallOutput.CallID] = struct{}{}
		}
	}
	return out
}

func agentSpanData(agent *Agent, allTools []Tool, handoffs []Handoff) *tracing.AgentSpanData {
	toolNames := make([]string, len(allTools))
	for i, tool := range allTools {
		toolNames[i] = tool.ToolName()
	}
	handoffNames := make([]string, len(handoffs))
	for i, h := range handoffs {
		handoffNames[i] = h.AgentName
	}
	outputTypeName := "str"
	if agent.OutputType != nil {
		outputTypeName = agent.OutputType.Name()
	}
	return &tracing.AgentSpanData{
		Name:       agent.Name,
		Tools:      toolNames,
		Handoffs:   handoffNames,
		OutputType: outputTypeName,
	}
}

// syntheticMessageItem fabricates an assistant message, used when an error
// handler's final output should appear in history.
func syntheticMessageItem(agent *Agent, text string) MessageOutputItem {
	return MessageOutputItem{
		ID:    newRunItemID(),
		Agent: agent,
		RawItem: responses.ResponseOutputMessage{
			ID: newRunItemID(),
			Content: []responses.ResponseOutputMessageContentUnion{{
				Type: "output_text",
				Text: text,
			}},
			Role:   constant.ValueOf[constant.Assistant](),
			Status: "completed",
			Type:   constant.ValueOf[constant.Message](),
		},
		Type: "message_output_item",
	}
}
