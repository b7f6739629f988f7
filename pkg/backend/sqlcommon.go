package backend

import (
	"context"
	"database/sql"
	"time"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/model"
)

// runSQLQuery executes query against db and converts the result set into a
// model.QueryResult. params are applied positionally, in the order given.
func runSQLQuery(ctx context.Context, db *sql.DB, component, query string, params ...interface{}) (*model.QueryResult, error) {
	start := time.Now()
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, component, "execute", query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, component, "execute", "reading columns", err)
	}

	result := &model.QueryResult{Success: true, Columns: cols, Rows: []model.Row{}}
	scanDest := make([]interface{}, len(cols))
	scanPtrs := make([]interface{}, len(cols))
	for i := range scanDest {
		scanPtrs[i] = &scanDest[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, component, "execute", "scanning row", err)
		}
		row := make(model.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeCell(scanDest[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, component, "execute", "iterating rows", err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}

// normalizeCell converts database/sql's driver-returned values ([]byte for
// TEXT/VARCHAR on most drivers) into JSON-friendly cell values.
func normalizeCell(v interface{}) model.Cell {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}

// runSQLExec executes a statement expected to return no rows. Nothing in
// this package calls it; handler Execute and Schema go through
// runSQLQuery and direct QueryContext calls.
func runSQLExec(ctx context.Context, db *sql.DB, component, stmt string) error {
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return apperrors.Wrap(apperrors.QueryFailed, component, "exec", stmt, err)
	}
	return nil
}

func timingTest(ctx context.Context, db *sql.DB, versionQuery string) (*model.TestResult, error) {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return &model.TestResult{Success: false, Error: err.Error()}, nil
	}
	result := &model.TestResult{Success: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
	if versionQuery != "" {
		var version string
		if err := db.QueryRowContext(ctx, versionQuery).Scan(&version); err == nil {
			result.Version = version
		}
	}
	return result, nil
}

func notConnected(component string) error {
	return apperrors.New(apperrors.NotConnected, component, "execute", "handler is not connected")
}
