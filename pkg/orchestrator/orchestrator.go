// Package orchestrator implements the Plan-Execute-Reflect loop (C5): the
// state machine that turns one user utterance into a stream of typed events
// by planning with the LLM, executing steps against the active connection
// and the per-request Workspace, and reflecting on failures up to a bounded
// iteration budget.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/llm"
	"github.com/kadirpekel/queryagent/pkg/model"
	"github.com/kadirpekel/queryagent/pkg/observability"
	"github.com/kadirpekel/queryagent/pkg/workspace"
)

const (
	defaultBudget      = 3
	defaultLLMTimeout  = 60 * time.Second
	defaultStepTimeout = 30 * time.Second
)

// ConnectionSource is the read surface the orchestrator needs from the
// connection manager: the active connection's id and schema, plus the
// execute delegation used by tool_call steps.
type ConnectionSource interface {
	Executor
	Active() string
	Schema(ctx context.Context, id string, includeColumns bool) (*model.SchemaSnapshot, error)
}

// Orchestrator drives one Plan-Execute-Reflect run per call to Run. It holds
// no per-request state itself; every run gets its own Workspace and history.
type Orchestrator struct {
	llmClient  *llm.Client
	connection ConnectionSource
	budget     int
}

// New builds an Orchestrator with the given iteration budget. A budget of 0
// or less falls back to defaultBudget, the same way OrchestratorConfig.
// SetDefaults fills in an unset value before Validate ever sees it.
func New(llmClient *llm.Client, connection ConnectionSource, budget int) *Orchestrator {
	if budget <= 0 {
		budget = defaultBudget
	}
	return &Orchestrator{llmClient: llmClient, connection: connection, budget: budget}
}

// attempt records one plan and its outcome, carried into the reflection
// prompt so the LLM sees the full history, not just the latest failure.
type attempt struct {
	plan  *model.Plan
	err   error
	index int // 1-based step index the failure happened at, 0 if the whole plan succeeded
}

// Run executes the orchestrator for utterance against connectionID (or the
// active connection if connectionID is ""). It starts the run in its own
// goroutine and returns the events channel at once; StreamEvents arrive in
// the exact emission order the state machine produces, and the channel is
// closed when the run reaches "done".
func (o *Orchestrator) Run(ctx context.Context, utterance string, connectionID string) <-chan model.StreamEvent {
	events := make(chan model.StreamEvent, 16)
	go o.run(ctx, utterance, connectionID, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, utterance, connectionID string, events chan<- model.StreamEvent) {
	defer close(events)

	if connectionID == "" {
		connectionID = o.connection.Active()
	}

	emit := func(ev model.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(model.StreamEvent{Kind: model.EventStart}) {
		return
	}

	class := Classify(utterance)
	if class == ClassGeneral {
		o.runGeneral(ctx, utterance, emit)
		return
	}

	o.runDataAnalysis(ctx, utterance, connectionID, emit)
}

func (o *Orchestrator) runGeneral(ctx context.Context, utterance string, emit func(model.StreamEvent) bool) {
	llmCtx, cancel := context.WithTimeout(ctx, defaultLLMTimeout)
	defer cancel()

	llmCtx, span := observability.GetTracer("queryagent/orchestrator").Start(llmCtx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String("purpose", "general")))
	start := time.Now()
	answer, inputTokens, outputTokens, err := o.llmClient.Generate(llmCtx, []llm.Message{
		{Role: "system", Content: "Answer the user's question directly and concisely."},
		{Role: "user", Content: utterance},
	})
	observability.GetGlobalMetrics().RecordLLMCall(llmCtx, "general", time.Since(start), inputTokens, outputTokens, err)
	span.End()
	if err != nil {
		if ctx.Err() != nil {
			emit(model.StreamEvent{Kind: model.EventError, Message: "cancelled"})
		} else {
			emit(model.StreamEvent{Kind: model.EventError, Message: err.Error()})
		}
		emit(model.StreamEvent{Kind: model.EventDone})
		return
	}

	emit(model.StreamEvent{Kind: model.EventResult, Final: &model.FinalResult{AttemptSummary: answer}})
	emit(model.StreamEvent{Kind: model.EventDone})
}

func (o *Orchestrator) runDataAnalysis(ctx context.Context, utterance, connectionID string, emit func(model.StreamEvent) bool) {
	ws, err := workspace.New(ctx)
	if err != nil {
		emit(model.StreamEvent{Kind: model.EventError, Message: err.Error()})
		emit(model.StreamEvent{Kind: model.EventDone})
		return
	}
	defer ws.Close()

	schema := o.activeSchema(ctx, connectionID)
	tools := toolSpecsByName()

	var history []attempt
	for iteration := 1; iteration <= o.budget; iteration++ {
		if ctx.Err() != nil {
			emit(model.StreamEvent{Kind: model.EventError, Message: "cancelled"})
			emit(model.StreamEvent{Kind: model.EventDone})
			return
		}

		plan, err := o.plan(ctx, utterance, schema, ws, history)
		if err != nil {
			emit(model.StreamEvent{Kind: model.EventError, Message: err.Error()})
			emit(model.StreamEvent{Kind: model.EventDone})
			return
		}

		knownTables, _ := ws.Describe(ctx)
		known := map[string]bool{}
		for t := range knownTables {
			known[t] = true
		}
		if err := validatePlan(plan, tools, known); err != nil {
			observability.GetGlobalMetrics().RecordPlanAttempt(ctx, false)
			history = append(history, attempt{plan: plan, err: err})
			if iteration == o.budget {
				o.finalize(ctx, ws, emit, history, budgetExhaustedError(len(history), err))
				return
			}
			emit(model.StreamEvent{Kind: model.EventError, Message: err.Error()})
			continue
		}
		observability.GetGlobalMetrics().RecordPlanAttempt(ctx, true)

		emit(model.StreamEvent{Kind: model.EventPlanning, Steps: plan.Steps})

		lastTable, failure, failedIndex := o.executeSteps(ctx, plan, connectionID, ws, emit)
		if failure == nil {
			o.finalize(ctx, ws, emit, history, nil)
			_ = lastTable
			return
		}

		history = append(history, attempt{plan: plan, err: failure, index: failedIndex})
		if iteration == o.budget {
			o.finalize(ctx, ws, emit, history, budgetExhaustedError(len(history), failure))
			return
		}
	}
}

// budgetExhaustedError wraps cause (the last attempt's failure) in a
// BudgetExhausted error once the iteration budget is spent, so finalize's
// terminal error names the reason rather than just the last symptom.
func budgetExhaustedError(attempts int, cause error) error {
	return apperrors.Wrap(apperrors.BudgetExhausted, "orchestrator", "run",
		fmt.Sprintf("budget exhausted after %d attempt(s)", attempts), cause)
}

func (o *Orchestrator) activeSchema(ctx context.Context, connectionID string) *model.SchemaSnapshot {
	if connectionID == "" {
		return nil
	}
	schemaCtx, cancel := context.WithTimeout(ctx, defaultStepTimeout)
	defer cancel()
	snapshot, err := o.connection.Schema(schemaCtx, connectionID, true)
	if err != nil {
		if schemaCtx.Err() == context.DeadlineExceeded {
			err = apperrors.Wrap(apperrors.Timeout, "orchestrator", "schema", connectionID, err)
		}
		slog.Warn("orchestrator: failed to fetch active connection schema", "connection_id", connectionID, "error", err)
		return nil
	}
	return snapshot
}

// executeSteps runs plan's steps in order, emitting step_started/tool_call/
// query/visualization events, and stops at the first failure. It returns
// the name of the last table registered (if any), the failure (nil on full
// success), and the 1-based index the failure happened at.
func (o *Orchestrator) executeSteps(ctx context.Context, plan *model.Plan, connectionID string, ws *workspace.Workspace, emit func(model.StreamEvent) bool) (string, error, int) {
	var lastTable string
	for _, step := range plan.Steps {
		if ctx.Err() != nil {
			return lastTable, apperrors.New(apperrors.Cancelled, "orchestrator", "execute", "cancelled"), step.Index
		}

		emit(model.StreamEvent{Kind: model.EventStepStarted, Index: step.Index, StepKind: step.Kind, Description: step.Description})

		stepCtx, span := observability.GetTracer("queryagent/orchestrator").Start(ctx, observability.SpanStepExecution,
			trace.WithAttributes(attribute.String(observability.AttrStepKind, string(step.Kind))))
		stepStart := time.Now()

		var err error
		switch step.Kind {
		case model.StepToolCall:
			lastTable, err = o.executeToolCall(stepCtx, step, connectionID, ws, emit)
		case model.StepQuery:
			lastTable, err = o.executeQuery(stepCtx, step, ws, emit)
		case model.StepVisualization:
			err = o.executeVisualization(stepCtx, step, ws, emit)
		}

		observability.GetGlobalMetrics().RecordStepExecution(stepCtx, string(step.Kind), time.Since(stepStart), err)
		span.End()

		if err != nil {
			return lastTable, err, step.Index
		}
	}
	return lastTable, nil, 0
}

func (o *Orchestrator) executeToolCall(ctx context.Context, step model.Step, connectionID string, ws *workspace.Workspace, emit func(model.StreamEvent) bool) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, defaultStepTimeout)
	defer cancel()

	result, err := runTool(stepCtx, o.connection, connectionID, step.ToolName, step.Arguments)
	if err == nil && result != nil && !result.Success {
		err = apperrors.New(apperrors.ToolCallFailed, "orchestrator", step.ToolName, result.Error)
	}
	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			err = apperrors.Wrap(apperrors.Timeout, "orchestrator", step.ToolName, "tool call timed out", err)
		}
		emit(model.StreamEvent{Kind: model.EventToolCall, ToolName: step.ToolName, Status: model.StatusError, Message: err.Error()})
		return "", err
	}

	tableName, regErr := ws.Register(ctx, fmt.Sprintf("step%d_%s", step.Index, step.ToolName), result)
	if regErr != nil {
		emit(model.StreamEvent{Kind: model.EventToolCall, ToolName: step.ToolName, Status: model.StatusError, Message: regErr.Error()})
		return "", regErr
	}

	emit(model.StreamEvent{
		Kind: model.EventToolCall, ToolName: step.ToolName, Status: model.StatusCompleted,
		Data: map[string]interface{}{"table_name": tableName, "row_count": result.RowCount},
	})
	return tableName, nil
}

func (o *Orchestrator) executeQuery(ctx context.Context, step model.Step, ws *workspace.Workspace, emit func(model.StreamEvent) bool) (string, error) {
	sql := step.SQL
	if sql == "" {
		generated, err := o.generateSQL(ctx, step.SubQuestion, ws)
		if err != nil {
			emit(model.StreamEvent{Kind: model.EventQuery, Status: model.StatusError, Message: err.Error()})
			return "", err
		}
		sql = generated
	}

	emit(model.StreamEvent{Kind: model.EventQuery, SQL: sql, Status: model.StatusStarted})

	result, err := ws.SQL(ctx, sql)
	if err != nil {
		emit(model.StreamEvent{Kind: model.EventQuery, SQL: sql, Status: model.StatusError, Message: err.Error()})
		return "", err
	}

	tableName, err := ws.Register(ctx, fmt.Sprintf("step%d_query", step.Index), result)
	if err != nil {
		emit(model.StreamEvent{Kind: model.EventQuery, SQL: sql, Status: model.StatusError, Message: err.Error()})
		return "", err
	}

	emit(model.StreamEvent{
		Kind: model.EventQuery, SQL: sql, Status: model.StatusCompleted,
		Data: map[string]interface{}{"table_name": tableName, "row_count": result.RowCount},
	})
	return tableName, nil
}

func (o *Orchestrator) executeVisualization(ctx context.Context, step model.Step, ws *workspace.Workspace, emit func(model.StreamEvent) bool) error {
	chart, err := ws.Chartify(ctx, step.TableName, step.ChartHint)
	if err != nil {
		emit(model.StreamEvent{Kind: model.EventVisualization, Status: model.StatusError, Message: err.Error()})
		return err
	}
	emit(model.StreamEvent{Kind: model.EventVisualization, ChartData: chart, Status: model.StatusCompleted})
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, ws *workspace.Workspace, emit func(model.StreamEvent) bool, history []attempt, finalErr error) {
	tables, _ := ws.Describe(ctx)
	resultTables := map[string]model.QueryResult{}
	for name := range tables {
		if data, err := ws.SQL(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, name)); err == nil {
			resultTables[name] = *data
		}
	}

	if finalErr != nil && ctx.Err() != nil {
		emit(model.StreamEvent{Kind: model.EventError, Message: "cancelled"})
		emit(model.StreamEvent{Kind: model.EventDone})
		return
	}

	if finalErr != nil {
		emit(model.StreamEvent{
			Kind:    model.EventError,
			Message: finalErr.Error(),
			Final:   &model.FinalResult{Tables: resultTables, AttemptSummary: summarizeAttempts(history)},
		})
		emit(model.StreamEvent{Kind: model.EventDone})
		return
	}

	emit(model.StreamEvent{
		Kind: model.EventResult,
		Final: &model.FinalResult{Tables: resultTables, AttemptSummary: summarizeAttempts(history)},
	})
	emit(model.StreamEvent{Kind: model.EventDone})
}

func summarizeAttempts(history []attempt) string {
	if len(history) == 0 {
		return ""
	}
	summary := fmt.Sprintf("%d attempt(s) before success", len(history))
	last := history[len(history)-1]
	if last.err != nil {
		summary = fmt.Sprintf("%d failed attempt(s), last error at step %d: %s", len(history), last.index, last.err.Error())
	}
	return summary
}
