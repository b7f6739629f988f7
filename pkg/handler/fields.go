package handler

import "github.com/kadirpekel/queryagent/pkg/model"

// WidgetType hints how a connection-management UI should render a Field.
type WidgetType string

const (
	WidgetText     WidgetType = "text"
	WidgetNumber   WidgetType = "number"
	WidgetPassword WidgetType = "password"
	WidgetBool     WidgetType = "bool"
	WidgetSelect   WidgetType = "select"
	WidgetTextarea WidgetType = "textarea"
)

// Field describes one recognised ConnectionConfig field for a backend kind.
type Field struct {
	Name     string     `json:"name"`
	Label    string     `json:"label"`
	Widget   WidgetType `json:"widget"`
	Required bool       `json:"required"`
	Options  []string   `json:"options,omitempty"`
	Default  string     `json:"default,omitempty"`
}

// FieldSchema is the describe(kind) output: the recognised fields for one
// backend kind, per the table in the external interfaces section.
type FieldSchema struct {
	Kind      model.Kind `json:"kind"`
	Installed bool       `json:"installed"`
	Fields    []Field    `json:"fields"`
}

// describeTable is the static, closed description of every backend kind
// this version knows about, installed or not. describe() never needs a
// backend's code to be linked in to answer "what fields does mysql want".
var describeTable = map[model.Kind][]Field{
	model.KindMySQL: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Default: "3306"},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
		{Name: "ssl", Label: "Use SSL", Widget: WidgetBool},
		{Name: "schema", Label: "Schema", Widget: WidgetText},
	},
	model.KindPostgreSQL: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Default: "5432"},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
		{Name: "ssl", Label: "Use SSL", Widget: WidgetBool},
		{Name: "schema", Label: "Schema", Widget: WidgetText, Default: "public"},
	},
	model.KindMongoDB: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Default: "27017"},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "connectionString", Label: "Connection String", Widget: WidgetText},
		{Name: "username", Label: "Username", Widget: WidgetText},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
		{Name: "authSource", Label: "Auth Source", Widget: WidgetText, Default: "admin"},
	},
	model.KindSQLite: {
		{Name: "filePath", Label: "File Path", Widget: WidgetText, Required: true},
		{Name: "mode", Label: "Mode", Widget: WidgetSelect, Options: []string{"readonly", "readwrite", "readwritecreate"}},
	},
	model.KindKOSISAPI: {
		{Name: "api_key", Label: "API Key", Widget: WidgetPassword, Required: true},
		{Name: "base_url", Label: "Base URL", Widget: WidgetText},
	},
	model.KindExternalAPI: {
		{Name: "base_url", Label: "Base URL", Widget: WidgetText, Required: true},
		{Name: "api_key", Label: "API Key", Widget: WidgetPassword},
		{Name: "username", Label: "Username", Widget: WidgetText},
	},
	model.KindRedis: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Default: "6379"},
	},
	model.KindOracle: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Default: "1521"},
		{Name: "database", Label: "Service Name", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
	},
	model.KindMSSQL: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Default: "1433"},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
	},
}

// allKinds is the fixed enumeration order describe output is reported in.
var allKinds = []model.Kind{
	model.KindMySQL, model.KindPostgreSQL, model.KindMongoDB, model.KindSQLite,
	model.KindKOSISAPI, model.KindExternalAPI,
	model.KindRedis, model.KindOracle, model.KindMSSQL,
}
