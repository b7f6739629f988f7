package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/model"
)

// mongoQuery is the structured query shape execute() accepts for mongodb
// connections in place of a SQL string: {operation, collection, filter,
// projection}. Only "find" is implemented; other operations report
// QueryFailed.
type mongoQuery struct {
	Operation  string                 `json:"operation"`
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter"`
	Projection []string               `json:"projection"`
}

// parseMongoQuery decodes query as JSON into a mongoQuery. params, if given,
// override/extend the filter, letting callers pass equality predicates
// without hand-building the JSON filter object.
func parseMongoQuery(query string, params map[string]interface{}) (*mongoQuery, error) {
	var q mongoQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "mongodb", "parse", "query must be a JSON object {operation, collection, filter, projection}", err)
	}
	if q.Collection == "" {
		return nil, apperrors.New(apperrors.QueryFailed, "mongodb", "parse", "missing collection")
	}
	if q.Operation == "" {
		q.Operation = "find"
	}
	if q.Operation != "find" {
		return nil, apperrors.New(apperrors.QueryFailed, "mongodb", "parse", "unsupported operation "+q.Operation)
	}
	if q.Filter == nil {
		q.Filter = map[string]interface{}{}
	}
	for k, v := range params {
		q.Filter[k] = v
	}
	return &q, nil
}

func init() {
	handler.Register(model.KindMongoDB, newMongoHandler)
}

type mongoHandler struct {
	cfg *model.ConnectionConfig
	mu  sync.Mutex

	client *mongo.Client
	db     *mongo.Database
}

func newMongoHandler(cfg *model.ConnectionConfig) (handler.Handler, error) {
	return &mongoHandler{cfg: cfg}, nil
}

func (h *mongoHandler) Kind() model.Kind { return model.KindMongoDB }

func (h *mongoHandler) uri() string {
	if h.cfg.ConnectionString != "" {
		return h.cfg.ConnectionString
	}
	auth := ""
	if h.cfg.Username != "" {
		auth = fmt.Sprintf("%s:%s@", h.cfg.Username, h.cfg.Password)
	}
	port := h.cfg.Port
	if port == 0 {
		port = 27017
	}
	authSource := h.cfg.AuthSource
	if authSource == "" {
		authSource = "admin"
	}
	return fmt.Sprintf("mongodb://%s%s:%d/?authSource=%s", auth, h.cfg.Host, port, authSource)
}

func (h *mongoHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, err := mongo.Connect(options.Client().ApplyURI(h.uri()))
	if err != nil {
		return apperrors.Wrap(apperrors.ConnectFailed, "mongodb", "connect", h.cfg.Host, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return apperrors.Wrap(apperrors.ConnectFailed, "mongodb", "connect", h.cfg.Host, err)
	}
	h.client = client
	h.db = client.Database(h.cfg.Database)
	return nil
}

func (h *mongoHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return nil
	}
	err := h.client.Disconnect(ctx)
	h.client = nil
	h.db = nil
	return err
}

func (h *mongoHandler) Test(ctx context.Context) (*model.TestResult, error) {
	if h.client == nil {
		client, err := mongo.Connect(options.Client().ApplyURI(h.uri()))
		if err != nil {
			return &model.TestResult{Success: false, Error: err.Error()}, nil
		}
		defer client.Disconnect(ctx)
		start := time.Now()
		if err := client.Ping(ctx, nil); err != nil {
			return &model.TestResult{Success: false, Error: err.Error()}, nil
		}
		return &model.TestResult{Success: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}, nil
	}
	start := time.Now()
	if err := h.client.Ping(ctx, nil); err != nil {
		return &model.TestResult{Success: false, Error: err.Error()}, nil
	}
	return &model.TestResult{Success: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}, nil
}

func (h *mongoHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("mongodb")
	}

	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "mongodb", "schema", "listing collections", err)
	}

	snapshot := &model.SchemaSnapshot{}
	for _, name := range names {
		count, _ := db.Collection(name).EstimatedDocumentCount(ctx)
		td := model.TableDescriptor{Name: name, RowCountEstimate: &count}
		if includeColumns {
			cols, err := h.sampleColumns(ctx, db, name)
			if err != nil {
				return nil, err
			}
			td.Columns = cols
		}
		snapshot.Tables = append(snapshot.Tables, td)
	}
	return snapshot, nil
}

// sampleColumns infers a column set by flattening a handful of sample
// documents, since a collection has no fixed schema to read.
func (h *mongoHandler) sampleColumns(ctx context.Context, db *mongo.Database, collection string) ([]model.ColumnDescriptor, error) {
	cursor, err := db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "mongodb", "schema", "sampling "+collection, err)
	}
	defer cursor.Close(ctx)

	seen := map[string]string{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		for col, val := range flattenDocument(doc, "") {
			if _, ok := seen[col]; !ok {
				seen[col] = bsonTypeName(val)
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	cols := make([]model.ColumnDescriptor, 0, len(names))
	for _, n := range names {
		cols = append(cols, model.ColumnDescriptor{Name: n, TypeString: seen[n], Nullable: true, PrimaryKey: n == "_id"})
	}
	return cols, nil
}

// flattenDocument turns a nested BSON document into dotted column names,
// e.g. {address: {city: "Seoul"}} becomes "address.city" -> "Seoul".
func flattenDocument(doc bson.M, prefix string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch nested := v.(type) {
		case bson.M:
			for nk, nv := range flattenDocument(nested, key) {
				out[nk] = nv
			}
		case map[string]interface{}:
			for nk, nv := range flattenDocument(bson.M(nested), key) {
				out[nk] = nv
			}
		default:
			out[key] = v
		}
	}
	return out
}

func bsonTypeName(v interface{}) string {
	switch v.(type) {
	case int32, int64, int:
		return "integer"
	case float32, float64:
		return "double"
	case bool:
		return "bool"
	case string:
		return "string"
	case bson.A, []interface{}:
		return "array"
	default:
		return "string"
	}
}

// Execute runs a find against a collection named by query, with params
// supplying an equality filter. The result is the union of every document's
// flattened fields, with nulls filled where a given document lacks a field.
func (h *mongoHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, notConnected("mongodb")
	}

	start := time.Now()
	req, err := parseMongoQuery(query, params)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	for k, v := range req.Filter {
		filter[k] = v
	}

	findOpts := options.Find()
	if len(req.Projection) > 0 {
		proj := bson.M{}
		for _, f := range req.Projection {
			proj[f] = 1
		}
		findOpts.SetProjection(proj)
	}

	cursor, err := db.Collection(req.Collection).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "mongodb", "execute", req.Collection, err)
	}
	defer cursor.Close(ctx)

	var flattened []map[string]interface{}
	colSet := map[string]struct{}{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperrors.Wrap(apperrors.QueryFailed, "mongodb", "execute", "decoding document", err)
		}
		flat := flattenDocument(doc, "")
		flattened = append(flattened, flat)
		for col := range flat {
			colSet[col] = struct{}{}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "mongodb", "execute", "iterating cursor", err)
	}

	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	rows := make([]model.Row, 0, len(flattened))
	for _, flat := range flattened {
		row := make(model.Row, len(cols))
		for _, c := range cols {
			if v, ok := flat[c]; ok {
				row[c] = stringifyObjectID(v)
			} else {
				row[c] = nil
			}
		}
		rows = append(rows, row)
	}

	return &model.QueryResult{
		Success:         true,
		Columns:         cols,
		Rows:            rows,
		RowCount:        len(rows),
		ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

func stringifyObjectID(v interface{}) interface{} {
	if oid, ok := v.(bson.ObjectID); ok {
		return oid.Hex()
	}
	return v
}

func (h *mongoHandler) SupportedOperations() []string {
	return []string{"FIND", "AGGREGATE"}
}
