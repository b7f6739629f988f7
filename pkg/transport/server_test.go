package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/queryagent/pkg/connection"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/model"
)

type fakeTransportHandler struct{}

func (f *fakeTransportHandler) Kind() model.Kind                     { return model.KindKOSISAPI }
func (f *fakeTransportHandler) Connect(ctx context.Context) error    { return nil }
func (f *fakeTransportHandler) Disconnect(ctx context.Context) error { return nil }
func (f *fakeTransportHandler) Test(ctx context.Context) (*model.TestResult, error) {
	return &model.TestResult{Success: true}, nil
}
func (f *fakeTransportHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	return &model.SchemaSnapshot{Tables: []model.TableDescriptor{{Name: "statistics_list"}}}, nil
}
func (f *fakeTransportHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	return &model.QueryResult{Success: true, Columns: []string{"x"}, Rows: []model.Row{{"x": 1}}, RowCount: 1}, nil
}
func (f *fakeTransportHandler) SupportedOperations() []string { return []string{"SEARCH"} }

func init() {
	handler.Register(model.KindKOSISAPI, func(cfg *model.ConnectionConfig) (handler.Handler, error) {
		return &fakeTransportHandler{}, nil
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	storage := connection.NewStorage(filepath.Join(t.TempDir(), "connections.json"))
	manager := connection.NewManager(storage)
	return NewServer(manager, nil, 0)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleListKinds(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/connections/kinds", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var schemas []handler.FieldSchema
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schemas))
	assert.NotEmpty(t, schemas)
}

func TestCreateAndListConnection(t *testing.T) {
	s := newTestServer(t)

	body := `{"id":"c1","kind":"kosis_api","api_key":"k"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/connections/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/v1/connections/", nil)
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var summaries []connection.ConnectionSummary
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "c1", summaries[0].Config.ID)
}

func TestCreateConnectionRejectsUnsupportedKind(t *testing.T) {
	s := newTestServer(t)
	body := `{"id":"c2","kind":"redis","host":"localhost"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/connections/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteConnection(t *testing.T) {
	s := newTestServer(t)
	createReq := httptest.NewRequest(http.MethodPost, "/v1/connections/", strings.NewReader(`{"id":"c3","kind":"kosis_api","api_key":"k"}`))
	createRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/v1/connections/c3", nil)
	delRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestUpdateConnection(t *testing.T) {
	s := newTestServer(t)
	createReq := httptest.NewRequest(http.MethodPost, "/v1/connections/", strings.NewReader(`{"id":"c6","kind":"kosis_api","api_key":"k"}`))
	createRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	updReq := httptest.NewRequest(http.MethodPut, "/v1/connections/c6", strings.NewReader(`{"kind":"kosis_api","api_key":"new-key"}`))
	updRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(updRec, updReq)
	require.Equal(t, http.StatusNoContent, updRec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/v1/connections/", nil)
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, listReq)
	var summaries []connection.ConnectionSummary
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "new-key", summaries[0].Config.APIKey)
}

func TestUpdateConnectionUnknownIDReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	updReq := httptest.NewRequest(http.MethodPut, "/v1/connections/ghost", strings.NewReader(`{"kind":"kosis_api","api_key":"k"}`))
	updRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(updRec, updReq)
	assert.Equal(t, http.StatusNotFound, updRec.Code)
}

func TestActivateAndExecute(t *testing.T) {
	s := newTestServer(t)
	createReq := httptest.NewRequest(http.MethodPost, "/v1/connections/", strings.NewReader(`{"id":"c4","kind":"kosis_api","api_key":"k"}`))
	createRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	actReq := httptest.NewRequest(http.MethodPost, "/v1/connections/c4/activate", nil)
	actRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(actRec, actReq)
	require.Equal(t, http.StatusNoContent, actRec.Code)

	execReq := httptest.NewRequest(http.MethodPost, "/v1/connections/c4/execute", strings.NewReader(`{"query":"SELECT * FROM statistics_list"}`))
	execRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(execRec, execReq)
	require.Equal(t, http.StatusOK, execRec.Code)

	var result model.QueryResult
	require.NoError(t, json.Unmarshal(execRec.Body.Bytes(), &result))
	assert.True(t, result.Success)
}

func TestGetSchemaRequiresActiveConnection(t *testing.T) {
	s := newTestServer(t)
	createReq := httptest.NewRequest(http.MethodPost, "/v1/connections/", strings.NewReader(`{"id":"c5","kind":"kosis_api","api_key":"k"}`))
	createRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	schemaReq := httptest.NewRequest(http.MethodGet, "/v1/connections/c5/schema", nil)
	schemaRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(schemaRec, schemaReq)
	assert.Equal(t, http.StatusConflict, schemaRec.Code)
}
