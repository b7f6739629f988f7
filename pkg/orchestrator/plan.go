package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/queryagent/pkg/llm"
	"github.com/kadirpekel/queryagent/pkg/model"
	"github.com/kadirpekel/queryagent/pkg/observability"
	"github.com/kadirpekel/queryagent/pkg/workspace"
)

// plan asks the LLM for a plan (first iteration) or a revised plan given the
// history of prior attempts (reflection). The caller validates the result;
// plan itself only guarantees it got *a* response, not a valid one.
func (o *Orchestrator) plan(ctx context.Context, utterance string, schema *model.SchemaSnapshot, ws *workspace.Workspace, history []attempt) (*model.Plan, error) {
	planCtx, cancel := context.WithTimeout(ctx, defaultLLMTimeout)
	defer cancel()

	workspaceState, _ := ws.Describe(ctx)

	messages := []llm.Message{
		{Role: "system", Content: planningSystemPrompt()},
		{Role: "user", Content: buildPlanningPrompt(utterance, schema, workspaceState, history, ToolCatalog())},
	}

	var plan model.Plan
	_, _, err := o.recordLLMCall(planCtx, "plan", func(ctx context.Context) (int, int, error) {
		return o.llmClient.GenerateStructured(ctx, messages, "plan", &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// recordLLMCall wraps an LLM round-trip with the span/metric pair every LLM
// call gets, regardless of purpose (plan generation, SQL generation, or a
// general-question answer).
func (o *Orchestrator) recordLLMCall(ctx context.Context, purpose string, call func(context.Context) (int, int, error)) (int, int, error) {
	ctx, span := observability.GetTracer("queryagent/orchestrator").Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String("purpose", purpose)))
	defer span.End()

	start := time.Now()
	inputTokens, outputTokens, err := call(ctx)
	observability.GetGlobalMetrics().RecordLLMCall(ctx, purpose, time.Since(start), inputTokens, outputTokens, err)
	return inputTokens, outputTokens, err
}

// generateSQL asks the LLM for a single SQL statement answering subQuestion
// against the current workspace schema, for a query step with no inline SQL.
func (o *Orchestrator) generateSQL(ctx context.Context, subQuestion string, ws *workspace.Workspace) (string, error) {
	sqlCtx, cancel := context.WithTimeout(ctx, defaultLLMTimeout)
	defer cancel()

	workspaceState, _ := ws.Describe(ctx)
	messages := []llm.Message{
		{Role: "system", Content: "You write a single SQLite SELECT statement answering the user's sub-question using only the tables described. Respond with the SQL only, no commentary."},
		{Role: "user", Content: fmt.Sprintf("Tables:\n%s\n\nSub-question: %s", describeWorkspace(workspaceState), subQuestion)},
	}

	var out struct {
		SQL string `json:"sql"`
	}
	_, _, err := o.recordLLMCall(sqlCtx, "generate_sql", func(ctx context.Context) (int, int, error) {
		return o.llmClient.GenerateStructured(ctx, messages, "sql", &out)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.SQL), nil
}

func planningSystemPrompt() string {
	return "You are a query planner. Given a user question, the active connection's schema, " +
		"the available tools, and the current workspace tables, produce an ordered plan of steps " +
		"(tool_call, query, or visualization) that answers the question. Step indices start at 1 " +
		"and must be contiguous. Respond only with the plan structure."
}

func buildPlanningPrompt(utterance string, schema *model.SchemaSnapshot, workspaceState map[string]workspace.TableInfo, history []attempt, tools []model.ToolSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n\n", utterance)

	if schema == nil {
		b.WriteString("Active connection schema: none\n\n")
	} else {
		schemaJSON, _ := json.Marshal(schema)
		fmt.Fprintf(&b, "Active connection schema: %s\n\n", schemaJSON)
	}

	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Current workspace tables:\n%s\n\n", describeWorkspace(workspaceState))

	if len(history) > 0 {
		b.WriteString("Prior attempts (revise to continue from the current workspace state, do not repeat the same mistake):\n")
		for i, a := range history {
			planJSON, _ := json.Marshal(a.plan)
			errMsg := "none"
			if a.err != nil {
				errMsg = a.err.Error()
			}
			fmt.Fprintf(&b, "Attempt %d: plan=%s outcome_error=%s failed_at_step=%d\n", i+1, planJSON, errMsg, a.index)
		}
	}

	return b.String()
}

func describeWorkspace(state map[string]workspace.TableInfo) string {
	if len(state) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for name, info := range state {
		fmt.Fprintf(&b, "- %s: columns=%v row_count=%d\n", name, info.Columns, info.RowCount)
	}
	return b.String()
}
