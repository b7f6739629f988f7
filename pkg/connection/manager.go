// Package connection implements the connection manager (C2): the single
// registry of configured backends, the single-active-connection invariant,
// and the persisted-connections store.
package connection

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/model"
	"github.com/kadirpekel/queryagent/pkg/observability"
)

type entry struct {
	config  *model.ConnectionConfig
	handler handler.Handler
	state   model.ConnectionState
	active  bool
}

// Manager owns every configured connection and enforces that at most one is
// active at a time. All mutating operations (create/activate/deactivate/
// remove) change manager state under one mutex; schema/execute hold it only
// to look up the entry, so handler calls themselves run outside it.
type Manager struct {
	mu              sync.Mutex
	entries         map[string]*entry
	storage         *Storage
	kosisDefaultKey string
}

func NewManager(storage *Storage) *Manager {
	return &Manager{entries: make(map[string]*entry), storage: storage}
}

// SetKOSISDefaultAPIKey installs a fallback API key applied to kosis_api
// connections created without one of their own, sourced from the process
// config rather than the per-connection JSON record.
func (m *Manager) SetKOSISDefaultAPIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kosisDefaultKey = key
}

// LoadPersisted restores previously created connections in configured
// state, without connecting them. Mirrors the source's "create handler but
// don't connect on startup" load behaviour.
func (m *Manager) LoadPersisted() error {
	configs, err := m.storage.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cfg := range configs {
		m.entries[id] = &entry{config: cfg, state: model.StateConfigured}
	}
	return nil
}

func (m *Manager) persistLocked() {
	configs := make(map[string]*model.ConnectionConfig, len(m.entries))
	for id, e := range m.entries {
		configs[id] = e.config
	}
	_ = m.storage.Save(configs)
}

// Create validates cfg via the handler factory (C1) and stores it in
// configured state. It does not connect or activate the new entry.
func (m *Manager) Create(ctx context.Context, cfg *model.ConnectionConfig) (string, error) {
	m.mu.Lock()
	if cfg.Kind == model.KindKOSISAPI && cfg.APIKey == "" {
		cfg.APIKey = m.kosisDefaultKey
	}
	m.mu.Unlock()

	if _, err := handler.Make(ctx, cfg); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[cfg.ID]; exists {
		return "", apperrors.New(apperrors.DuplicateID, "connection", "create", cfg.ID)
	}
	m.entries[cfg.ID] = &entry{config: cfg, state: model.StateConfigured}
	m.persistLocked()
	return cfg.ID, nil
}

// Update validates cfg via the handler factory (C1) the same way Create
// does, then replaces id's stored config. If id was connected, its handler
// is disconnected and left unconnected so the next Activate rebuilds it
// against the new config rather than silently keeping the old connection.
func (m *Manager) Update(ctx context.Context, id string, cfg *model.ConnectionConfig) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.New(apperrors.NotFound, "connection", "update", id)
	}
	createdAt := e.config.CreatedAt
	if cfg.Kind == model.KindKOSISAPI && cfg.APIKey == "" {
		cfg.APIKey = m.kosisDefaultKey
	}
	m.mu.Unlock()

	if _, err := handler.Make(ctx, cfg); err != nil {
		return err
	}
	cfg.ID = id
	cfg.CreatedAt = createdAt

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok = m.entries[id]
	if !ok {
		return apperrors.New(apperrors.NotFound, "connection", "update", id)
	}
	if e.handler != nil {
		_ = e.handler.Disconnect(ctx)
	}
	wasActive := e.active
	m.entries[id] = &entry{config: cfg, state: model.StateConfigured, active: wasActive}
	m.persistLocked()
	return nil
}

// Test constructs a handler for cfg and attempts a cheap round-trip, without
// persisting or storing anything.
func (m *Manager) Test(ctx context.Context, cfg *model.ConnectionConfig) (*model.TestResult, error) {
	h, err := handler.Make(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(ctx); err != nil {
		return &model.TestResult{Success: false, Error: err.Error()}, nil
	}
	defer h.Disconnect(ctx)
	return h.Test(ctx)
}

// Activate connects id (if not already connected) and marks it active,
// demoting any previously active connection to connected-but-not-active.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return apperrors.New(apperrors.NotFound, "connection", "activate", id)
	}

	if e.handler == nil {
		h, err := handler.Make(ctx, e.config)
		if err != nil {
			return err
		}
		e.handler = h
	}

	if e.state != model.StateConnected {
		e.state = model.StateConnecting
		if err := e.handler.Connect(ctx); err != nil {
			e.state = model.StateDisconnected
			return apperrors.Wrap(apperrors.ConnectFailed, "connection", "activate", id, err)
		}
		e.state = model.StateConnected
	}

	for _, other := range m.entries {
		if other != e {
			other.active = false
		}
	}
	e.active = true
	return nil
}

// Deactivate clears the active flag on id without disconnecting it.
func (m *Manager) Deactivate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return apperrors.New(apperrors.NotFound, "connection", "deactivate", id)
	}
	e.active = false
	return nil
}

// Remove tears down id's handler and deletes the entry. Idempotent: removing
// an id that doesn't exist is not an error. Removing the active connection
// deactivates it first.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, id)
	m.persistLocked()
	m.mu.Unlock()

	if e.handler != nil {
		_ = e.handler.Disconnect(ctx)
	}
	return nil
}

// Schema delegates to id's handler. Fails with NotConnected unless id is
// connected.
func (m *Manager) Schema(ctx context.Context, id string, includeColumns bool) (*model.SchemaSnapshot, error) {
	e, err := m.connectedEntry(id)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.GetTracer("queryagent/connection").Start(ctx, observability.SpanHandlerExecute,
		trace.WithAttributes(
			attribute.String(observability.AttrHandlerKind, string(e.config.Kind)),
			attribute.String(observability.AttrConnectionID, id),
		))
	defer span.End()

	start := time.Now()
	snapshot, schemaErr := e.handler.Schema(ctx, includeColumns)
	observability.GetGlobalMetrics().RecordHandlerCall(ctx, string(e.config.Kind), time.Since(start), schemaErr)
	return snapshot, schemaErr
}

// Execute delegates to id's handler. Fails with NotConnected unless id is
// connected.
func (m *Manager) Execute(ctx context.Context, id, query string, params map[string]interface{}) (*model.QueryResult, error) {
	e, err := m.connectedEntry(id)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.GetTracer("queryagent/connection").Start(ctx, observability.SpanHandlerExecute,
		trace.WithAttributes(
			attribute.String(observability.AttrHandlerKind, string(e.config.Kind)),
			attribute.String(observability.AttrConnectionID, id),
		))
	defer span.End()

	start := time.Now()
	result, execErr := e.handler.Execute(ctx, query, params)
	observability.GetGlobalMetrics().RecordHandlerCall(ctx, string(e.config.Kind), time.Since(start), execErr)
	return result, execErr
}

func (m *Manager) connectedEntry(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "connection", "lookup", id)
	}
	if e.state != model.StateConnected {
		return nil, apperrors.New(apperrors.NotConnected, "connection", "lookup", id)
	}
	return e, nil
}

// Active reports the id of the currently active connection, or "" if none.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.active {
			return id
		}
	}
	return ""
}

// ConnectionSummary is the listing shape reported for one entry.
type ConnectionSummary struct {
	Config *model.ConnectionConfig `json:"config"`
	State  model.ConnectionState   `json:"state"`
	Active bool                    `json:"active"`
}

func (m *Manager) List() []ConnectionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConnectionSummary, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, ConnectionSummary{Config: e.config, State: e.state, Active: e.active})
	}
	return out
}

// DisconnectAll tears down every connected handler, for a graceful shutdown.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.Lock()
	handlers := make([]handler.Handler, 0, len(m.entries))
	for _, e := range m.entries {
		if e.handler != nil {
			handlers = append(handlers, e.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = h.Disconnect(shutdownCtx)
		cancel()
	}
}
