// Package backend implements the handler.Handler contract for every
// installed backend kind: mysql, postgresql, sqlite, mongodb, kosis_api,
// and external_api. Each file registers its kind with pkg/handler from an
// init(), the way database/sql drivers self-register by being imported.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/queryagent/pkg/model"
)

// sqlPool manages shared *sql.DB connections keyed by DSN. For sqlite it
// forces a single connection, since sqlite only supports one writer at a
// time and a wider pool produces "database is locked" errors.
type sqlPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

var pool = &sqlPool{pools: make(map[string]*sql.DB)}

func (p *sqlPool) get(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := driverName + "|" + dsn
	if db, ok := p.pools[key]; ok {
		return db, nil
	}

	db, err := p.open(ctx, driverName, dsn)
	if err != nil {
		return nil, err
	}
	p.pools[key] = db
	return db, nil
}

func (p *sqlPool) open(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driverName, err)
	}

	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driverName, err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("sqlite: failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("sqlite: failed to set busy timeout", "error", err)
		}
	}

	return db, nil
}

func (p *sqlPool) release(driverName, dsn string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := driverName + "|" + dsn
	if db, ok := p.pools[key]; ok {
		db.Close()
		delete(p.pools, key)
	}
}

// mysqlDSN and postgresDSN build driver-specific DSNs from a ConnectionConfig.

func mysqlDSN(cfg *model.ConnectionConfig) string {
	tls := "false"
	if cfg.SSL {
		tls = "true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, tls)
}

func postgresDSN(cfg *model.ConnectionConfig) string {
	sslmode := "disable"
	if cfg.SSL {
		sslmode = "require"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, sslmode)
	if cfg.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", cfg.Schema)
	}
	return dsn
}
