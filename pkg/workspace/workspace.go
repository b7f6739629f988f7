// Package workspace implements the tabular workspace and SQL executor (C4):
// an embedded, file-less sqlite3 engine that the orchestrator binds handler
// QueryResults into as tables, then queries and re-queries across backends.
package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/model"
)

var identifierSanitizer = regexp.MustCompile(`[^a-z0-9_]`)

// Workspace is a single process-local, in-memory sqlite3 database backing
// one orchestrator run. It is not safe to share across concurrent runs; the
// orchestrator creates one per request.
type Workspace struct {
	mu     sync.Mutex
	db     *sql.DB
	tables map[string]bool
}

func New(ctx context.Context) (*Workspace, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "open", "opening in-memory database", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "open", "pinging in-memory database", err)
	}
	return &Workspace{db: db, tables: map[string]bool{}}, nil
}

func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Close()
}

// normalizeTableName lowercases, replaces non-identifier characters with
// underscores, and truncates to 63 characters, matching the name policy a
// handler's "table_name" (or step description) must be mapped through.
func normalizeTableName(name string) string {
	n := strings.ToLower(name)
	n = identifierSanitizer.ReplaceAllString(n, "_")
	if n == "" {
		n = "table"
	}
	if len(n) > 63 {
		n = n[:63]
	}
	if n[0] >= '0' && n[0] <= '9' {
		n = "t_" + n
		if len(n) > 63 {
			n = n[:63]
		}
	}
	return n
}

// Register creates a table from result and returns the final table name
// actually used. If the normalised name is already taken, the next free
// numeric suffix is used (name_2, name_3, ...), even when result holds the
// same data as the earlier registration; an existing table is never
// replaced.
func (w *Workspace) Register(ctx context.Context, proposedName string, result *model.QueryResult) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	base := normalizeTableName(proposedName)
	name := base
	if !w.tables[name] {
		if err := w.createAndFill(ctx, name, result); err != nil {
			return "", err
		}
		w.tables[name] = true
		return name, nil
	}

	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if len(candidate) > 63 {
			candidate = candidate[:63]
		}
		if !w.tables[candidate] {
			if err := w.createAndFill(ctx, candidate, result); err != nil {
				return "", err
			}
			w.tables[candidate] = true
			return candidate, nil
		}
	}
}

type columnType int

const (
	typeInteger columnType = iota
	typeReal
	typeText
)

func (t columnType) sqlType() string {
	switch t {
	case typeInteger:
		return "INTEGER"
	case typeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// inferColumnTypes infers a SQLite type per column: integer if every
// non-null cell is integer-valued, real if every non-null cell is numeric,
// text otherwise.
func inferColumnTypes(cols []string, rows []model.Row) map[string]columnType {
	types := make(map[string]columnType, len(cols))
	for _, c := range cols {
		types[c] = typeInteger
	}
	for _, row := range rows {
		for _, c := range cols {
			v, ok := row[c]
			if !ok || v == nil {
				continue
			}
			switch t := types[c]; t {
			case typeInteger:
				if !isIntegerValued(v) {
					if isNumeric(v) {
						types[c] = typeReal
					} else {
						types[c] = typeText
					}
				}
			case typeReal:
				if !isNumeric(v) {
					types[c] = typeText
				}
			}
		}
	}
	return types
}

func isIntegerValued(v interface{}) bool {
	switch t := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return t == float64(int64(t))
	case float32:
		return t == float32(int64(t))
	default:
		return false
	}
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func (w *Workspace) createAndFill(ctx context.Context, name string, result *model.QueryResult) error {
	types := inferColumnTypes(result.Columns, result.Rows)

	var colDefs []string
	for _, c := range result.Columns {
		colDefs = append(colDefs, fmt.Sprintf(`"%s" %s`, c, types[c].sqlType()))
	}
	createStmt := fmt.Sprintf(`CREATE TABLE "%s" (%s)`, name, strings.Join(colDefs, ", "))
	if _, err := w.db.ExecContext(ctx, createStmt); err != nil {
		return apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "register", createStmt, err)
	}

	if len(result.Rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(result.Columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertStmt := fmt.Sprintf(`INSERT INTO "%s" VALUES (%s)`, name, strings.Join(placeholders, ", "))

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "register", "beginning transaction", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertStmt)
	if err != nil {
		tx.Rollback()
		return apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "register", insertStmt, err)
	}
	for _, row := range result.Rows {
		args := make([]interface{}, len(result.Columns))
		for i, c := range result.Columns {
			args[i] = serializeCell(row[c], types[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			tx.Rollback()
			return apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "register", "inserting row", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "register", "committing transaction", err)
	}
	return nil
}

// serializeCell converts a cell to the value sql.DB.Exec expects. Nested
// maps/slices (JSON-like cells) are stored as their serialised string form,
// per the column-type-inference rule.
func serializeCell(v interface{}, t columnType) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case typeText:
		switch val := v.(type) {
		case string:
			return val
		case map[string]interface{}, []interface{}:
			return fmt.Sprintf("%v", val)
		default:
			return fmt.Sprintf("%v", val)
		}
	default:
		return v
	}
}

// SQL executes a read query against the workspace and returns its result in
// the same QueryResult shape a handler returns.
func (w *Workspace) SQL(ctx context.Context, query string) (*model.QueryResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "sql", query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "sql", "reading columns", err)
	}

	result := &model.QueryResult{Success: true, Columns: cols, Rows: []model.Row{}}
	scan := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range scan {
		ptrs[i] = &scan[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "sql", "scanning row", err)
		}
		row := make(model.Row, len(cols))
		for i, c := range cols {
			if b, ok := scan[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = scan[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "sql", "iterating rows", err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}

// TableInfo describes one registered table in Describe's output.
type TableInfo struct {
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
}

// Describe reports every table currently registered in the workspace.
func (w *Workspace) Describe(ctx context.Context) (map[string]TableInfo, error) {
	w.mu.Lock()
	names := make([]string, 0, len(w.tables))
	for n := range w.tables {
		names = append(names, n)
	}
	w.mu.Unlock()

	out := make(map[string]TableInfo, len(names))
	for _, n := range names {
		rows, err := w.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" LIMIT 0`, n))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "describe", n, err)
		}
		cols, err := rows.Columns()
		rows.Close()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "describe", n, err)
		}

		var count int
		if err := w.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, n)).Scan(&count); err != nil {
			return nil, apperrors.Wrap(apperrors.WorkspaceSQLError, "workspace", "describe", n, err)
		}
		out[n] = TableInfo{Columns: cols, RowCount: count}
	}
	return out, nil
}

// Chartify projects a registered table into chart-ready data. hint, if it
// names a chart kind (line/bar/pie/doughnut), only constrains the kind and
// the label/value columns are still picked automatically. If hint instead
// names columns explicitly (a comma-separated "label_col,value_col[,...]"
// list), those columns are used as-is and the kind is still auto-selected
// unless hint ends with a recognised kind, e.g. "period,revenue:line".
// Otherwise the selection policy picks the first non-numeric column as
// labels and every numeric column as a dataset, then chooses a kind: a
// single numeric column with few rows favours "pie", many rows favours
// "line", otherwise "bar".
func (w *Workspace) Chartify(ctx context.Context, tableName, hint string) (*model.ChartData, error) {
	result, err := w.SQL(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, tableName))
	if err != nil {
		return nil, err
	}
	return chartifyResult(result, hint)
}

func chartifyResult(result *model.QueryResult, hint string) (*model.ChartData, error) {
	if len(result.Columns) < 2 {
		return nil, apperrors.New(apperrors.WorkspaceSQLError, "workspace", "chartify", "table needs at least a label column and one value column")
	}

	columnHint, kindHint := splitChartHint(hint)

	var labelCol string
	var numericCols []string
	if explicitLabel, explicitValues, ok := resolveColumnHint(columnHint, result.Columns); ok {
		labelCol = explicitLabel
		numericCols = explicitValues
	} else {
		labelCol = firstNonNumericColumn(result)
		for _, c := range result.Columns {
			if c == labelCol {
				continue
			}
			if columnIsNumeric(result.Rows, c) {
				numericCols = append(numericCols, c)
			}
		}
	}
	if len(numericCols) == 0 {
		return nil, apperrors.New(apperrors.WorkspaceSQLError, "workspace", "chartify", "no numeric column found to chart")
	}

	kind := model.ChartKind(kindHint)
	switch kind {
	case model.ChartLine, model.ChartBar, model.ChartPie, model.ChartDoughnut:
	default:
		kind = pickChartKind(len(result.Rows), len(numericCols))
	}

	labels := make([]string, len(result.Rows))
	for i, row := range result.Rows {
		labels[i] = fmt.Sprintf("%v", row[labelCol])
	}

	datasets := make([]model.Dataset, 0, len(numericCols))
	for _, c := range numericCols {
		values := make([]float64, len(result.Rows))
		for i, row := range result.Rows {
			values[i] = toFloat(row[c])
		}
		datasets = append(datasets, model.Dataset{Label: c, Values: values})
	}

	return &model.ChartData{ChartKind: kind, Labels: labels, Datasets: datasets, Title: chartTitle(labelCol, numericCols)}, nil
}

// splitChartHint separates an optional trailing ":kind" suffix from the
// rest of hint, so "period,revenue:line" resolves to columns "period,
// revenue" and kind "line", a bare column list "period,revenue" resolves
// to those columns and no kind, and a bare "line" resolves to no columns and
// kind "line".
func splitChartHint(hint string) (columns, kind string) {
	if idx := strings.LastIndex(hint, ":"); idx >= 0 {
		return hint[:idx], hint[idx+1:]
	}
	if strings.Contains(hint, ",") {
		return hint, ""
	}
	return "", hint
}

// resolveColumnHint parses a comma-separated "label_col,value_col[,...]"
// hint and validates every named column exists in columns. Returns ok=false
// if hint doesn't name at least a label and one value column, or names a
// column the table doesn't have, so the caller falls back to automatic
// column selection instead of silently charting the wrong thing.
func resolveColumnHint(hint string, columns []string) (label string, values []string, ok bool) {
	if !strings.Contains(hint, ",") {
		return "", nil, false
	}
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	parts := strings.Split(hint, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if !known[parts[i]] {
			return "", nil, false
		}
	}
	return parts[0], parts[1:], true
}

// firstNonNumericColumn returns the first column whose values aren't all
// numeric, for use as the chart label column. Falls back to the first
// column if every column is numeric.
func firstNonNumericColumn(result *model.QueryResult) string {
	for _, c := range result.Columns {
		if !columnIsNumeric(result.Rows, c) {
			return c
		}
	}
	return result.Columns[0]
}

func chartTitle(labelCol string, numericCols []string) string {
	return strings.Join(numericCols, ", ") + " by " + labelCol
}

func pickChartKind(rowCount, numericColCount int) model.ChartKind {
	if numericColCount == 1 && rowCount <= 8 {
		return model.ChartPie
	}
	if rowCount > 12 {
		return model.ChartLine
	}
	return model.ChartBar
}

func columnIsNumeric(rows []model.Row, col string) bool {
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		if !isNumeric(v) {
			if s, ok := v.(string); ok {
				if _, err := strconv.ParseFloat(s, 64); err != nil {
					return false
				}
				continue
			}
			return false
		}
	}
	return true
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
