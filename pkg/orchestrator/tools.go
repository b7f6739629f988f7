package orchestrator

import (
	"context"
	"fmt"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/model"
)

// Executor is the subset of the connection manager the orchestrator needs
// to run a tool_call step: delegate to the active connection's handler.
type Executor interface {
	Execute(ctx context.Context, id, query string, params map[string]interface{}) (*model.QueryResult, error)
}

// staticTool is a tool whose behaviour is a Go function rather than a
// handler-execute translation, per the "statically-registered tools"
// carve-out (e.g. fetch_kosis_data assembles its own virtual-table query).
type staticTool func(ctx context.Context, exec Executor, connectionID string, args map[string]interface{}) (*model.QueryResult, error)

var staticTools = map[string]staticTool{
	"fetch_kosis_data": fetchKOSISData,
}

// ToolCatalog is the fixed ToolSpec list supplied to the planner. Every tool
// not in staticTools is handler-backed: its arguments are translated into a
// query string and params map passed straight to Executor.Execute.
func ToolCatalog() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        "run_query",
			Description: "Run a query against the active connection. For SQL backends, query is a SQL statement; for mongodb, a JSON {operation, collection, filter}; for API backends, a SELECT ... FROM <virtual_table> WHERE statement.",
			Parameters: []model.ToolParam{
				{Name: "query", Type: "string", Required: true, Description: "the query to execute"},
				{Name: "params", Type: "object", Required: false, Description: "optional parameter bindings"},
			},
		},
		{
			Name:        "fetch_kosis_data",
			Description: "Fetch Korean statistics data from a KOSIS virtual table by name with equality filters.",
			Parameters: []model.ToolParam{
				{Name: "table", Type: "string", Required: true, Description: "KOSIS virtual table name"},
				{Name: "filters", Type: "object", Required: false, Description: "equality filters to apply"},
			},
		},
	}
}

func toolSpecsByName() map[string]model.ToolSpec {
	out := map[string]model.ToolSpec{}
	for _, t := range ToolCatalog() {
		out[t.Name] = t
	}
	return out
}

// runTool dispatches a tool_call step: static tools run their Go function,
// everything else is handler-backed and translated into an Executor.Execute
// call.
func runTool(ctx context.Context, exec Executor, connectionID, toolName string, args map[string]interface{}) (*model.QueryResult, error) {
	if fn, ok := staticTools[toolName]; ok {
		return fn(ctx, exec, connectionID, args)
	}

	switch toolName {
	case "run_query":
		query, _ := args["query"].(string)
		if query == "" {
			return nil, apperrors.New(apperrors.ToolCallFailed, "orchestrator", "run_query", "missing query argument")
		}
		params, _ := args["params"].(map[string]interface{})
		return exec.Execute(ctx, connectionID, query, params)
	default:
		return nil, apperrors.New(apperrors.ToolCallFailed, "orchestrator", "run_tool", "unknown tool "+toolName)
	}
}

// fetchKOSISData assembles a SELECT ... FROM <table> WHERE <eq> AND ...
// statement from table/filters and runs it through the active connection,
// the static-tool analogue of a direct handler convenience method.
func fetchKOSISData(ctx context.Context, exec Executor, connectionID string, args map[string]interface{}) (*model.QueryResult, error) {
	table, _ := args["table"].(string)
	if table == "" {
		return nil, apperrors.New(apperrors.ToolCallFailed, "orchestrator", "fetch_kosis_data", "missing table argument")
	}
	filters, _ := args["filters"].(map[string]interface{})

	query := "SELECT * FROM " + table
	if len(filters) > 0 {
		query += " WHERE " + renderEqualityClause(filters)
	}
	return exec.Execute(ctx, connectionID, query, nil)
}

func renderEqualityClause(filters map[string]interface{}) string {
	clause := ""
	first := true
	for k, v := range filters {
		if !first {
			clause += " AND "
		}
		first = false
		clause += fmt.Sprintf("%s = '%v'", k, v)
	}
	return clause
}
