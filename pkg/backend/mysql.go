package backend

import (
	"context"
	"database/sql"
	"sync"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/model"
)

func init() {
	handler.Register(model.KindMySQL, newMySQLHandler)
}

type mysqlHandler struct {
	cfg *model.ConnectionConfig
	mu  sync.Mutex
	db  *sql.DB
}

func newMySQLHandler(cfg *model.ConnectionConfig) (handler.Handler, error) {
	return &mysqlHandler{cfg: cfg}, nil
}

func (h *mysqlHandler) Kind() model.Kind { return model.KindMySQL }

func (h *mysqlHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	db, err := pool.get(ctx, "mysql", mysqlDSN(h.cfg))
	if err != nil {
		return apperrors.Wrap(apperrors.ConnectFailed, "mysql", "connect", h.cfg.Host, err)
	}
	h.db = db
	return nil
}

func (h *mysqlHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	pool.release("mysql", mysqlDSN(h.cfg))
	h.db = nil
	return nil
}

func (h *mysqlHandler) Test(ctx context.Context) (*model.TestResult, error) {
	db := h.db
	if db == nil {
		var err error
		db, err = pool.get(ctx, "mysql", mysqlDSN(h.cfg))
		if err != nil {
			return &model.TestResult{Success: false, Error: err.Error()}, nil
		}
	}
	return timingTest(ctx, db, "SELECT VERSION()")
}

func (h *mysqlHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("mysql")
	}

	tableRows, err := db.QueryContext(ctx,
		"SELECT table_name, table_rows, table_type FROM information_schema.tables WHERE table_schema = ?",
		h.cfg.Database)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "mysql", "schema", "listing tables", err)
	}
	defer tableRows.Close()

	snapshot := &model.SchemaSnapshot{}
	for tableRows.Next() {
		var name, tableType string
		var estRows sql.NullInt64
		if err := tableRows.Scan(&name, &estRows, &tableType); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, "mysql", "schema", "scanning table row", err)
		}
		td := model.TableDescriptor{Name: name, SchemaNamespace: h.cfg.Database}
		if estRows.Valid {
			td.RowCountEstimate = &estRows.Int64
		}
		if includeColumns {
			cols, err := h.columns(ctx, db, name)
			if err != nil {
				return nil, err
			}
			td.Columns = cols
		}
		if tableType == "VIEW" {
			snapshot.Views = append(snapshot.Views, td)
		} else {
			snapshot.Tables = append(snapshot.Tables, td)
		}
	}
	return snapshot, tableRows.Err()
}

func (h *mysqlHandler) columns(ctx context.Context, db *sql.DB, table string) ([]model.ColumnDescriptor, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable, column_key
		 FROM information_schema.columns
		 WHERE table_schema = ? AND table_name = ?
		 ORDER BY ordinal_position`,
		h.cfg.Database, table)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "mysql", "schema", "listing columns for "+table, err)
	}
	defer rows.Close()

	var cols []model.ColumnDescriptor
	for rows.Next() {
		var name, dataType, nullable, key string
		if err := rows.Scan(&name, &dataType, &nullable, &key); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, "mysql", "schema", "scanning column row", err)
		}
		cols = append(cols, model.ColumnDescriptor{
			Name:       name,
			TypeString: dataType,
			Nullable:   nullable == "YES",
			PrimaryKey: key == "PRI",
		})
	}
	return cols, rows.Err()
}

func (h *mysqlHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("mysql")
	}
	return runSQLQuery(ctx, db, "mysql", query)
}

func (h *mysqlHandler) SupportedOperations() []string {
	return []string{"SELECT", "INSERT", "UPDATE", "DELETE", "AGGREGATE"}
}
