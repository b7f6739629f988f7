// Package model defines the data types shared across the handler, connection,
// workspace, and orchestrator layers: ConnectionConfig, QueryResult,
// SchemaSnapshot, Plan/Step, ToolSpec, and StreamEvent.
package model

import "time"

// Kind identifies a supported (or describable) backend. The set is closed:
// adding a backend is a code change, not a runtime registration.
type Kind string

const (
	KindMySQL       Kind = "mysql"
	KindPostgreSQL  Kind = "postgresql"
	KindMongoDB     Kind = "mongodb"
	KindSQLite      Kind = "sqlite"
	KindKOSISAPI    Kind = "kosis_api"
	KindExternalAPI Kind = "external_api"

	// Describable but not installed in this version; make() fails with
	// UnsupportedKind until a handler exists.
	KindRedis  Kind = "redis"
	KindOracle Kind = "oracle"
	KindMSSQL  Kind = "mssql"
)

// ConnectionConfig is the immutable record naming a backend and the
// credentials/location needed to reach it. Field population is validated
// per Kind by the handler factory (C1).
type ConnectionConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	Host             string `json:"host,omitempty"`
	Port             int    `json:"port,omitempty"`
	Database         string `json:"database,omitempty"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	SSL              bool   `json:"ssl,omitempty"`
	Schema           string `json:"schema,omitempty"`
	ConnectionString string `json:"connectionString,omitempty"`
	AuthSource       string `json:"authSource,omitempty"`

	FilePath string `json:"filePath,omitempty"`
	Mode     string `json:"mode,omitempty"`

	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	// Tables declares the virtual tables an external_api connection exposes:
	// table name to relative URL path (joined against BaseURL). Ignored by
	// every other kind.
	Tables map[string]string `json:"tables,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ConnectionState is a Connection's lifecycle position.
type ConnectionState string

const (
	StateConfigured   ConnectionState = "configured"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// Cell is the value of one QueryResult cell: null, number, string, bool, or
// a nested object (map/slice), mirroring the wire shape callers consume.
type Cell = interface{}

// Row is an ordered-by-Columns mapping from column name to Cell.
type Row map[string]Cell

// QueryResult is the uniform tabular value every handler operation and every
// Workspace SQL execution returns.
type QueryResult struct {
	Success         bool                   `json:"success"`
	Columns         []string               `json:"columns,omitempty"`
	Rows            []Row                  `json:"rows,omitempty"`
	RowCount        int                    `json:"row_count"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
	Error           string                 `json:"error,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// ColumnDescriptor describes one column of a TableDescriptor.
type ColumnDescriptor struct {
	Name       string `json:"name"`
	TypeString string `json:"type_string"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// TableDescriptor describes one table, view, or virtual table.
type TableDescriptor struct {
	Name              string             `json:"name"`
	SchemaNamespace   string             `json:"schema_namespace,omitempty"`
	Columns           []ColumnDescriptor `json:"columns,omitempty"`
	RowCountEstimate  *int64             `json:"row_count_estimate,omitempty"`
}

// SchemaSnapshot is the schema of a connection, produced lazily and
// optionally without per-column detail for speed.
type SchemaSnapshot struct {
	Tables []TableDescriptor `json:"tables"`
	Views  []TableDescriptor `json:"views,omitempty"`
}

// TestResult is the outcome of a cheap connectivity round-trip (C2 test()).
type TestResult struct {
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
	Version   string  `json:"version,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// StepKind is one of the three step variants a Plan can contain.
type StepKind string

const (
	StepToolCall      StepKind = "tool_call"
	StepQuery         StepKind = "query"
	StepVisualization StepKind = "visualization"
)

// Step is one element of a Plan. Only the fields relevant to Kind are
// populated by the planner; the orchestrator validates this before
// execution (spec plan validation rules).
type Step struct {
	Index       int      `json:"index"`
	Kind        StepKind `json:"kind"`
	Description string   `json:"description"`

	// tool_call
	ToolName  string                 `json:"tool_name,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`

	// query
	SQL          string `json:"sql,omitempty"`
	SubQuestion  string `json:"sub_question,omitempty"`

	// visualization
	TableName string `json:"table_name,omitempty"`
	ChartHint string `json:"chart_hint,omitempty"`
}

// Plan is an ordered, contiguous-from-1 sequence of Steps.
type Plan struct {
	Steps []Step `json:"steps"`
}

// ToolParam is one parameter of a ToolSpec.
type ToolParam struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolSpec is the description of one callable tool exposed to the LLM when
// planning: a handler operation or a statically registered function.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters"`
}

// ChartKind is one of the chart shapes chartify() can project a table into.
type ChartKind string

const (
	ChartLine     ChartKind = "line"
	ChartBar      ChartKind = "bar"
	ChartPie      ChartKind = "pie"
	ChartDoughnut ChartKind = "doughnut"
)

// Dataset is one series of numeric values in a ChartData.
type Dataset struct {
	Label  string    `json:"label"`
	Values []float64 `json:"values"`
}

// ChartData is the chart-ready projection of a table produced by chartify().
type ChartData struct {
	ChartKind ChartKind `json:"chart_kind"`
	Labels    []string  `json:"labels"`
	Datasets  []Dataset `json:"datasets"`
	Title     string    `json:"title"`
}
