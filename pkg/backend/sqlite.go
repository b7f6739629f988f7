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
	handler.Register(model.KindSQLite, newSQLiteHandler)
}

type sqliteHandler struct {
	cfg *model.ConnectionConfig
	mu  sync.Mutex
	db  *sql.DB
}

func newSQLiteHandler(cfg *model.ConnectionConfig) (handler.Handler, error) {
	return &sqliteHandler{cfg: cfg}, nil
}

func (h *sqliteHandler) Kind() model.Kind { return model.KindSQLite }

func (h *sqliteHandler) dsn() string {
	dsn := h.cfg.FilePath
	if h.cfg.Mode == "readonly" {
		dsn += "?mode=ro"
	}
	return dsn
}

func (h *sqliteHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	db, err := pool.get(ctx, "sqlite3", h.dsn())
	if err != nil {
		return apperrors.Wrap(apperrors.ConnectFailed, "sqlite", "connect", h.cfg.FilePath, err)
	}
	h.db = db
	return nil
}

func (h *sqliteHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	pool.release("sqlite3", h.dsn())
	h.db = nil
	return nil
}

func (h *sqliteHandler) Test(ctx context.Context) (*model.TestResult, error) {
	db := h.db
	if db == nil {
		var err error
		db, err = pool.get(ctx, "sqlite3", h.dsn())
		if err != nil {
			return &model.TestResult{Success: false, Error: err.Error()}, nil
		}
	}
	return timingTest(ctx, db, "SELECT sqlite_version()")
}

func (h *sqliteHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("sqlite")
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "sqlite", "schema", "listing tables", err)
	}
	defer rows.Close()

	snapshot := &model.SchemaSnapshot{}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, "sqlite", "schema", "scanning table row", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		td := model.TableDescriptor{Name: name}
		if includeColumns {
			cols, err := h.columns(ctx, db, name)
			if err != nil {
				return nil, err
			}
			td.Columns = cols
		}
		snapshot.Tables = append(snapshot.Tables, td)
	}
	return snapshot, nil
}

func (h *sqliteHandler) columns(ctx context.Context, db *sql.DB, table string) ([]model.ColumnDescriptor, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdentifier(table)+")")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "sqlite", "schema", "listing columns for "+table, err)
	}
	defer rows.Close()

	var cols []model.ColumnDescriptor
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, "sqlite", "schema", "scanning column row", err)
		}
		cols = append(cols, model.ColumnDescriptor{
			Name:       name,
			TypeString: dataType,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		})
	}
	return cols, rows.Err()
}

func quoteIdentifier(s string) string {
	return "\"" + s + "\""
}

func (h *sqliteHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("sqlite")
	}
	return runSQLQuery(ctx, db, "sqlite", query)
}

func (h *sqliteHandler) SupportedOperations() []string {
	return []string{"SELECT", "INSERT", "UPDATE", "DELETE", "AGGREGATE"}
}
