package connection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/model"
)

type fakeHandler struct{ connected bool }

func (f *fakeHandler) Kind() model.Kind { return model.KindKOSISAPI }
func (f *fakeHandler) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}
func (f *fakeHandler) Disconnect(ctx context.Context) error {
	f.connected = false
	return nil
}
func (f *fakeHandler) Test(ctx context.Context) (*model.TestResult, error) {
	return &model.TestResult{Success: true}, nil
}
func (f *fakeHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	return &model.SchemaSnapshot{}, nil
}
func (f *fakeHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	return &model.QueryResult{Success: true}, nil
}
func (f *fakeHandler) SupportedOperations() []string { return []string{"SEARCH"} }

func init() {
	handler.Register(model.KindKOSISAPI, func(cfg *model.ConnectionConfig) (handler.Handler, error) {
		return &fakeHandler{}, nil
	})
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	storage := NewStorage(filepath.Join(t.TempDir(), "connections.json"))
	return NewManager(storage)
}

func TestCreateFillsInKOSISDefaultAPIKey(t *testing.T) {
	m := newTestManager(t)
	m.SetKOSISDefaultAPIKey("fallback-key")

	cfg := &model.ConnectionConfig{ID: "c1", Kind: model.KindKOSISAPI}
	_, err := m.Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "fallback-key", cfg.APIKey)
}

func TestCreateDoesNotOverrideExplicitAPIKey(t *testing.T) {
	m := newTestManager(t)
	m.SetKOSISDefaultAPIKey("fallback-key")

	cfg := &model.ConnectionConfig{ID: "c1", Kind: model.KindKOSISAPI, APIKey: "own-key"}
	_, err := m.Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "own-key", cfg.APIKey)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m := newTestManager(t)
	cfg := &model.ConnectionConfig{ID: "dup", Kind: model.KindKOSISAPI, APIKey: "k"}
	_, err := m.Create(context.Background(), cfg)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), &model.ConnectionConfig{ID: "dup", Kind: model.KindKOSISAPI, APIKey: "k"})
	require.Error(t, err)
	assert.Equal(t, apperrors.DuplicateID, apperrors.KindOf(err))
}

func TestActivateDemotesPreviouslyActive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := m.Create(ctx, &model.ConnectionConfig{ID: id, Kind: model.KindKOSISAPI, APIKey: "k"})
		require.NoError(t, err)
	}

	require.NoError(t, m.Activate(ctx, "a"))
	assert.Equal(t, "a", m.Active())

	require.NoError(t, m.Activate(ctx, "b"))
	assert.Equal(t, "b", m.Active())
}

func TestActivateUnknownIDFails(t *testing.T) {
	m := newTestManager(t)
	err := m.Activate(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestExecuteFailsWhenNotConnected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, &model.ConnectionConfig{ID: "c1", Kind: model.KindKOSISAPI, APIKey: "k"})
	require.NoError(t, err)

	_, err = m.Execute(ctx, "c1", "SELECT * FROM x", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.NotConnected, apperrors.KindOf(err))
}

func TestExecuteSucceedsAfterActivate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, &model.ConnectionConfig{ID: "c1", Kind: model.KindKOSISAPI, APIKey: "k"})
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, "c1"))

	result, err := m.Execute(ctx, "c1", "SELECT * FROM statistics_list", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestUpdateReplacesConfigPreservingCreatedAt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	created, err := m.Create(ctx, &model.ConnectionConfig{ID: "c1", Kind: model.KindKOSISAPI, APIKey: "k"})
	require.NoError(t, err)

	var before model.ConnectionConfig
	for _, s := range m.List() {
		if s.Config.ID == created {
			before = *s.Config
		}
	}

	err = m.Update(ctx, "c1", &model.ConnectionConfig{Kind: model.KindKOSISAPI, APIKey: "new-key"})
	require.NoError(t, err)

	var after *model.ConnectionConfig
	for _, s := range m.List() {
		if s.Config.ID == "c1" {
			after = s.Config
		}
	}
	require.NotNil(t, after)
	assert.Equal(t, "new-key", after.APIKey)
	assert.Equal(t, "c1", after.ID)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	m := newTestManager(t)
	err := m.Update(context.Background(), "ghost", &model.ConnectionConfig{Kind: model.KindKOSISAPI, APIKey: "k"})
	require.Error(t, err)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestUpdateDisconnectsExistingHandlerAndKeepsActiveFlag(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, &model.ConnectionConfig{ID: "c1", Kind: model.KindKOSISAPI, APIKey: "k"})
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, "c1"))
	assert.Equal(t, "c1", m.Active())

	err = m.Update(ctx, "c1", &model.ConnectionConfig{Kind: model.KindKOSISAPI, APIKey: "new-key"})
	require.NoError(t, err)

	assert.Equal(t, "c1", m.Active())
	summaries := m.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, model.StateConfigured, summaries[0].State)
}

func TestRemoveIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Remove(context.Background(), "not-there"))
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	storage := NewStorage(filepath.Join(dir, "connections.json"))
	m := NewManager(storage)
	ctx := context.Background()
	_, err := m.Create(ctx, &model.ConnectionConfig{ID: "p1", Kind: model.KindKOSISAPI, APIKey: "k"})
	require.NoError(t, err)

	reloaded := NewManager(storage)
	require.NoError(t, reloaded.LoadPersisted())
	summaries := reloaded.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, "p1", summaries[0].Config.ID)
	assert.Equal(t, model.StateConfigured, summaries[0].State)
}
