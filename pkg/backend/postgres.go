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
	handler.Register(model.KindPostgreSQL, newPostgresHandler)
}

type postgresHandler struct {
	cfg *model.ConnectionConfig
	mu  sync.Mutex
	db  *sql.DB
}

func newPostgresHandler(cfg *model.ConnectionConfig) (handler.Handler, error) {
	return &postgresHandler{cfg: cfg}, nil
}

func (h *postgresHandler) Kind() model.Kind { return model.KindPostgreSQL }

func (h *postgresHandler) schemaNamespace() string {
	if h.cfg.Schema != "" {
		return h.cfg.Schema
	}
	return "public"
}

func (h *postgresHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	db, err := pool.get(ctx, "postgres", postgresDSN(h.cfg))
	if err != nil {
		return apperrors.Wrap(apperrors.ConnectFailed, "postgresql", "connect", h.cfg.Host, err)
	}
	h.db = db
	return nil
}

func (h *postgresHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	pool.release("postgres", postgresDSN(h.cfg))
	h.db = nil
	return nil
}

func (h *postgresHandler) Test(ctx context.Context) (*model.TestResult, error) {
	db := h.db
	if db == nil {
		var err error
		db, err = pool.get(ctx, "postgres", postgresDSN(h.cfg))
		if err != nil {
			return &model.TestResult{Success: false, Error: err.Error()}, nil
		}
	}
	return timingTest(ctx, db, "SELECT version()")
}

// Schema lists tables and views in the configured schema. Row counts for
// tables come from pg_stat_user_tables' live-tuple estimate (n_live_tup)
// instead of a COUNT(*) scan, since an exact count isn't worth a full table
// scan for a schema-browsing call; a table autovacuum hasn't touched yet has
// no stats row and is skipped rather than reported with a misleading zero.
// Views carry no such estimate and are never skipped on that account.
func (h *postgresHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("postgresql")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT c.relname, c.relkind, s.n_live_tup
		 FROM pg_class c
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 LEFT JOIN pg_stat_user_tables s ON s.relname = c.relname AND s.schemaname = n.nspname
		 WHERE n.nspname = $1 AND c.relkind IN ('r', 'v')`,
		h.schemaNamespace())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "postgresql", "schema", "listing tables", err)
	}
	defer rows.Close()

	snapshot := &model.SchemaSnapshot{}
	for rows.Next() {
		var name, relkind string
		var liveTuples sql.NullInt64
		if err := rows.Scan(&name, &relkind, &liveTuples); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, "postgresql", "schema", "scanning table row", err)
		}
		if relkind == "r" && !liveTuples.Valid {
			continue
		}

		td := model.TableDescriptor{Name: name, SchemaNamespace: h.schemaNamespace()}
		if liveTuples.Valid {
			td.RowCountEstimate = &liveTuples.Int64
		}
		if includeColumns {
			cols, err := h.columns(ctx, db, name)
			if err != nil {
				return nil, err
			}
			td.Columns = cols
		}

		if relkind == "v" {
			snapshot.Views = append(snapshot.Views, td)
		} else {
			snapshot.Tables = append(snapshot.Tables, td)
		}
	}
	return snapshot, rows.Err()
}

func (h *postgresHandler) columns(ctx context.Context, db *sql.DB, table string) ([]model.ColumnDescriptor, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT a.attname, t.typname, NOT a.attnotnull,
		        COALESCE((SELECT true FROM pg_index i WHERE i.indrelid = a.attrelid
		                  AND a.attnum = ANY(i.indkey) AND i.indisprimary), false)
		 FROM pg_attribute a
		 JOIN pg_type t ON t.oid = a.atttypid
		 JOIN pg_class c ON c.oid = a.attrelid
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE c.relname = $1 AND n.nspname = $2 AND a.attnum > 0 AND NOT a.attisdropped
		 ORDER BY a.attnum`,
		table, h.schemaNamespace())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "postgresql", "schema", "listing columns for "+table, err)
	}
	defer rows.Close()

	var cols []model.ColumnDescriptor
	for rows.Next() {
		var name, typeName string
		var nullable, primaryKey bool
		if err := rows.Scan(&name, &typeName, &nullable, &primaryKey); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, "postgresql", "schema", "scanning column row", err)
		}
		cols = append(cols, model.ColumnDescriptor{Name: name, TypeString: typeName, Nullable: nullable, PrimaryKey: primaryKey})
	}
	return cols, rows.Err()
}

func (h *postgresHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("postgresql")
	}
	return runSQLQuery(ctx, db, "postgresql", query)
}

func (h *postgresHandler) SupportedOperations() []string {
	return []string{"SELECT", "INSERT", "UPDATE", "DELETE", "AGGREGATE"}
}
