package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/httpclient"
	"github.com/kadirpekel/queryagent/pkg/model"
)

func init() {
	handler.Register(model.KindKOSISAPI, newKOSISHandler)
}

const kosisDefaultBaseURL = "https://kosis.kr/openapi"

// kosisTable describes one virtual table's endpoint and accepted params.
type kosisTable struct {
	path       string
	method     string // KOSIS "method" query parameter, e.g. "getList"
	dataPath   string // dotted path to the array/object holding rows in the response
	params     []string
	defaults   map[string]string
	extra      map[string]string
}

// kosisTables mirrors the 7 virtual tables named for the kosis_api handler,
// each backed by one KOSIS OpenAPI endpoint.
var kosisTables = map[string]kosisTable{
	"statistics_search": {
		path: "statisticsSearch.do", method: "getList", dataPath: "result",
		params: []string{"searchNm"}, extra: map[string]string{"searchYN": "Y"},
	},
	"statistics_list": {
		path: "statisticsList.do", method: "getList", dataPath: "result",
		params: []string{"vwCd", "parentListId"},
		defaults: map[string]string{"vwCd": "MT_ZTITLE", "parentListId": "MT_ZTITLE"},
	},
	"statistics_data": {
		path: "statisticsParameterData.do", method: "getList", dataPath: "result.data",
		params:   []string{"orgId", "tblId", "prdSe", "startPrdDe", "endPrdDe", "objL1", "itmId"},
		defaults: map[string]string{"objL1": "ALL", "itmId": "ALL"},
	},
	"statistics_bigdata": {
		path: "statisticsBigData.do", method: "getList", dataPath: "result",
		params: []string{"userStatsId", "format"},
		defaults: map[string]string{"format": "json"},
	},
	"statistics_explanation": {
		path: "statisticsExplanation.do", method: "getMeta", dataPath: "result",
		params: []string{"statId"},
	},
	"statistics_table_detail": {
		path: "statisticsDetail.do", method: "getMeta", dataPath: "result",
		params: []string{"tblId"},
	},
	"statistics_main_indicator": {
		path: "statisticsMainIndicator.do", method: "getList", dataPath: "result",
		params: nil,
	},
}

type kosisHandler struct {
	cfg    *model.ConnectionConfig
	mu     sync.Mutex
	client *httpclient.Client
}

func newKOSISHandler(cfg *model.ConnectionConfig) (handler.Handler, error) {
	return &kosisHandler{cfg: cfg}, nil
}

func (h *kosisHandler) Kind() model.Kind { return model.KindKOSISAPI }

func (h *kosisHandler) baseURL() string {
	if h.cfg.BaseURL != "" {
		return h.cfg.BaseURL
	}
	return kosisDefaultBaseURL
}

func (h *kosisHandler) apiKey() string {
	return h.cfg.APIKey
}

func (h *kosisHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = httpclient.New(
		httpclient.WithMaxRetries(0),
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	return nil
}

func (h *kosisHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = nil
	return nil
}

func (h *kosisHandler) Test(ctx context.Context) (*model.TestResult, error) {
	u := fmt.Sprintf("%s/statisticsList.do?method=getList&apiKey=%s&format=json&jsonVD=Y&vwCd=MT_ZTITLE&parentListId=MT_ZTITLE",
		h.baseURL(), url.QueryEscape(h.apiKey()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &model.TestResult{Success: false, Error: err.Error()}, nil
	}
	start := time.Now()
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return &model.TestResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	return &model.TestResult{
		Success:   resp.StatusCode < 400,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Version:   "KOSIS OpenAPI v1.0",
	}, nil
}

func (h *kosisHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	snapshot := &model.SchemaSnapshot{}
	for name := range kosisTables {
		snapshot.Tables = append(snapshot.Tables, model.TableDescriptor{Name: name})
	}
	return snapshot, nil
}

// Execute parses query as SELECT ... FROM <virtual_table> WHERE <eq> AND ...,
// fills in safe defaults for parameters the table declares defaults for,
// and fails with QueryFailed("required parameter <name> missing") when a
// required KOSIS dimension is absent and no default exists.
func (h *kosisHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil, notConnected("kosis_api")
	}

	vq, err := parseVirtualQuery("kosis_api", query)
	if err != nil {
		return nil, err
	}
	table, ok := kosisTables[vq.Table]
	if !ok {
		return nil, apperrors.New(apperrors.QueryFailed, "kosis_api", "execute", "unknown virtual table "+vq.Table)
	}

	values := url.Values{}
	values.Set("method", table.method)
	values.Set("apiKey", h.apiKey())
	values.Set("format", "json")
	values.Set("jsonVD", "Y")
	for k, v := range table.extra {
		values.Set(k, v)
	}

	appliedDefaults := map[string]string{}
	for _, p := range table.params {
		if v, ok := vq.Where[p]; ok {
			values.Set(p, v)
			continue
		}
		if v, ok := params[p]; ok {
			values.Set(p, fmt.Sprintf("%v", v))
			continue
		}
		if def, ok := table.defaults[p]; ok {
			values.Set(p, def)
			appliedDefaults[p] = def
			continue
		}
		if isRequiredKOSISParam(vq.Table, p) {
			return nil, apperrors.New(apperrors.QueryFailed, "kosis_api", "execute",
				fmt.Sprintf("required parameter %s missing", p))
		}
	}
	// objL1..objLn: numbered breakdown dimensions beyond objL1 pass through
	// verbatim when supplied in the WHERE clause; params only fill the
	// table's declared parameters above.
	for k, v := range vq.Where {
		if _, known := values[k]; !known {
			values.Set(k, v)
		}
	}

	reqURL := h.baseURL() + "/" + table.path + "?" + values.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "kosis_api", "execute", "building request", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "kosis_api", "execute", reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "kosis_api", "execute", "reading response body", err)
	}
	if resp.StatusCode >= 400 {
		return &model.QueryResult{Success: false, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}, nil
	}

	result, err := extractKOSISRows(body, table.dataPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "kosis_api", "execute", "decoding response", err)
	}
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	if len(appliedDefaults) > 0 {
		result.Metadata = map[string]interface{}{"defaults_applied": appliedDefaults}
	}
	return result, nil
}

// isRequiredKOSISParam reports whether p must be present (directly or via a
// default) for table to succeed, per the mapping the handler publishes.
func isRequiredKOSISParam(table, p string) bool {
	switch table {
	case "statistics_search":
		return p == "searchNm"
	case "statistics_data":
		return p == "orgId" || p == "tblId"
	case "statistics_explanation":
		return p == "statId"
	case "statistics_table_detail":
		return p == "tblId"
	case "statistics_bigdata":
		return p == "userStatsId"
	default:
		return false
	}
}

// extractKOSISRows walks dataPath (dot-separated) into the decoded response
// and flattens the KOSIS row shape: empty strings become null, and the "DT"
// numeric-value field is coerced to a number when it parses as one.
func extractKOSISRows(body []byte, dataPath string) (*model.QueryResult, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	if dataPath != "" {
		for _, seg := range splitDataPath(dataPath) {
			m, ok := raw.(map[string]interface{})
			if !ok {
				raw = nil
				break
			}
			raw = m[seg]
		}
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
			row[c] = normalizeKOSISValue(c, item[c])
		}
		rows = append(rows, row)
	}

	return &model.QueryResult{Success: true, Columns: cols, Rows: rows, RowCount: len(rows)}, nil
}

func normalizeKOSISValue(column string, v interface{}) interface{} {
	if s, ok := v.(string); ok {
		if s == "" {
			return nil
		}
		if column == "DT" {
			var f float64
			if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
				return f
			}
		}
	}
	return v
}

func splitDataPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

func (h *kosisHandler) SupportedOperations() []string {
	return []string{"SELECT", "SEARCH"}
}
