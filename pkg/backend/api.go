package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/httpclient"
	"github.com/kadirpekel/queryagent/pkg/model"
)

func init() {
	handler.Register(model.KindExternalAPI, newExternalAPIHandler)
}

// externalAPIHandler maps SQL-like SELECT ... FROM <table> WHERE <eq>
// queries onto GET requests against endpoints declared in the connection's
// Tables map (table name -> relative path, joined against BaseURL). It
// never retries transient failures itself: retry decisions belong to the
// orchestrator.
type externalAPIHandler struct {
	cfg    *model.ConnectionConfig
	mu     sync.Mutex
	client *httpclient.Client
}

func newExternalAPIHandler(cfg *model.ConnectionConfig) (handler.Handler, error) {
	if len(cfg.Tables) == 0 {
		return nil, apperrors.New(apperrors.ConfigInvalid, "external_api", "make", "external_api connections must declare at least one table")
	}
	return &externalAPIHandler{cfg: cfg}, nil
}

func (h *externalAPIHandler) Kind() model.Kind { return model.KindExternalAPI }

func (h *externalAPIHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = httpclient.New(
		httpclient.WithMaxRetries(0),
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	return nil
}

func (h *externalAPIHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = nil
	return nil
}

func (h *externalAPIHandler) Test(ctx context.Context) (*model.TestResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL, nil)
	if err != nil {
		return &model.TestResult{Success: false, Error: err.Error()}, nil
	}
	h.applyAuth(req)

	start := time.Now()
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return &model.TestResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	return &model.TestResult{Success: resp.StatusCode < 500, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}, nil
}

func (h *externalAPIHandler) applyAuth(req *http.Request) {
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
	if h.cfg.Username != "" {
		req.SetBasicAuth(h.cfg.Username, h.cfg.Password)
	}
}

func (h *externalAPIHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	snapshot := &model.SchemaSnapshot{}
	for name := range h.cfg.Tables {
		snapshot.Tables = append(snapshot.Tables, model.TableDescriptor{Name: name})
	}
	return snapshot, nil
}

// Execute parses query as a SELECT ... FROM <table> [WHERE <eq> AND ...]
// statement, resolves <table> to a declared endpoint path, issues a GET
// with the WHERE-clause equalities as query parameters, and flattens the
// decoded JSON response into rows/columns.
func (h *externalAPIHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil, notConnected("external_api")
	}

	vq, err := parseVirtualQuery("external_api", query)
	if err != nil {
		return nil, err
	}
	path, ok := h.cfg.Tables[vq.Table]
	if !ok {
		return nil, apperrors.New(apperrors.QueryFailed, "external_api", "execute", "unknown table "+vq.Table)
	}

	reqURL := strings.TrimRight(h.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	u, err := url.Parse(reqURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "external_api", "execute", "building request URL", err)
	}
	q := u.Query()
	for k, v := range vq.Where {
		q.Set(k, v)
	}
	for k, v := range params {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "external_api", "execute", "building request", err)
	}
	h.applyAuth(req)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "external_api", "execute", u.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "external_api", "execute", "reading response body", err)
	}
	if resp.StatusCode >= 400 {
		return &model.QueryResult{Success: false, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}, nil
	}

	result, err := flattenJSONResponse(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "external_api", "execute", "decoding response", err)
	}
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}

// flattenJSONResponse decodes a JSON API response into a QueryResult. A
// top-level array becomes rows directly; a top-level object becomes a
// single row; each row's fields become columns (union across rows, missing
// cells null).
func flattenJSONResponse(body []byte) (*model.QueryResult, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	var items []map[string]interface{}
	switch v := raw.(type) {
	case []interface{}:
		for _, elem := range v {
			if m, ok := elem.(map[string]interface{}); ok {
				items = append(items, m)
			}
		}
	case map[string]interface{}:
		items = append(items, v)
	default:
		items = append(items, map[string]interface{}{"value": v})
	}

	colSet := map[string]struct{}{}
	for _, item := range items {
		for k := range item {
			colSet[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}

	rows := make([]model.Row, 0, len(items))
	for _, item := range items {
		row := make(model.Row, len(cols))
		for _, c := range cols {
			if v, ok := item[c]; ok {
				row[c] = v
			} else {
				row[c] = nil
			}
		}
		rows = append(rows, row)
	}

	return &model.QueryResult{Success: true, Columns: cols, Rows: rows, RowCount: len(rows)}, nil
}

func (h *externalAPIHandler) SupportedOperations() []string {
	return []string{"SELECT"}
}
