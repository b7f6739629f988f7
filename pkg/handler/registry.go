package handler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/model"
	"github.com/kadirpekel/queryagent/pkg/observability"
	"github.com/kadirpekel/queryagent/pkg/registry"
)

// Constructor builds a Handler from a validated ConnectionConfig. Backend
// packages register one per Kind from their init(), the same way database/sql
// drivers register themselves by being blank-imported.
type Constructor func(cfg *model.ConnectionConfig) (Handler, error)

// global tracks which kinds have a Constructor linked into the binary, on
// top of the generic name-to-item table in pkg/registry. describe() works for every kind in describeTable
// regardless of what's linked; make() only succeeds for kinds whose backend
// package was blank-imported and ran its init().
var global = registry.NewBaseRegistry[Constructor]()

// Register links a Constructor for kind. Called from a backend package's
// init(); panics on double-registration since that indicates two backend
// packages were blank-imported for the same kind, a build-time mistake.
func Register(kind model.Kind, constructor Constructor) {
	if err := global.Register(string(kind), constructor); err != nil {
		panic(fmt.Sprintf("handler: duplicate registration for kind %q", kind))
	}
}

// SupportedKinds lists the kinds with a linked-in Constructor, i.e. the
// kinds make() can actually build right now.
func SupportedKinds() []model.Kind {
	kinds := make([]model.Kind, 0, global.Count())
	for _, k := range allKinds {
		if _, ok := global.Get(string(k)); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Describe returns the field schema for kind, whether or not it's installed.
func Describe(kind model.Kind) (FieldSchema, error) {
	fields, ok := describeTable[kind]
	if !ok {
		return FieldSchema{}, apperrors.New(apperrors.UnsupportedKind, "handler", "describe",
			fmt.Sprintf("unknown backend kind %q", kind))
	}
	_, installed := global.Get(string(kind))
	return FieldSchema{Kind: kind, Installed: installed, Fields: fields}, nil
}

// DescribeAll returns the field schema for every known kind, in the fixed
// enumeration order, for listing in a connection-management UI.
func DescribeAll() []FieldSchema {
	out := make([]FieldSchema, 0, len(allKinds))
	for _, k := range allKinds {
		d, _ := Describe(k)
		out = append(out, d)
	}
	return out
}

// requiredFields reports the names of required fields left empty on cfg.
func requiredFields(cfg *model.ConnectionConfig, fields []Field) []string {
	var missing []string
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if fieldValue(cfg, f.Name) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// fieldValue reads the named ConnectionConfig field as a string for
// required-field validation. Only fields that appear in describeTable are
// ever looked up here.
func fieldValue(cfg *model.ConnectionConfig, name string) string {
	switch name {
	case "host":
		return cfg.Host
	case "database":
		return cfg.Database
	case "username":
		return cfg.Username
	case "password":
		return cfg.Password
	case "schema":
		return cfg.Schema
	case "connectionString":
		return cfg.ConnectionString
	case "authSource":
		return cfg.AuthSource
	case "filePath":
		return cfg.FilePath
	case "mode":
		return cfg.Mode
	case "api_key":
		return cfg.APIKey
	case "base_url":
		return cfg.BaseURL
	default:
		return ""
	}
}

// Make validates cfg against its kind's field schema and, if the kind has a
// linked Constructor, builds the Handler. A kind with no registered
// Constructor (redis, oracle, mssql in this version, or a typo'd kind)
// fails with UnsupportedKind, mirroring handler_factory.py's
// is_handler_available gate ahead of any import attempt.
func Make(ctx context.Context, cfg *model.ConnectionConfig) (Handler, error) {
	ctx, span := observability.GetTracer("queryagent/handler").Start(ctx, observability.SpanHandlerMake,
		trace.WithAttributes(attribute.String(observability.AttrHandlerKind, string(cfg.Kind))))
	defer span.End()

	start := time.Now()
	h, err := make_(ctx, cfg)
	observability.GetGlobalMetrics().RecordHandlerCall(ctx, string(cfg.Kind), time.Since(start), err)
	return h, err
}

func make_(ctx context.Context, cfg *model.ConnectionConfig) (Handler, error) {
	fields, ok := describeTable[cfg.Kind]
	if !ok {
		return nil, apperrors.New(apperrors.UnsupportedKind, "handler", "make",
			fmt.Sprintf("unknown backend kind %q", cfg.Kind))
	}
	if missing := requiredFields(cfg, fields); len(missing) > 0 {
		return nil, apperrors.New(apperrors.ConfigInvalid, "handler", "make",
			fmt.Sprintf("missing required fields for %s: %v", cfg.Kind, missing))
	}

	constructor, installed := global.Get(string(cfg.Kind))
	if !installed {
		return nil, apperrors.New(apperrors.UnsupportedKind, "handler", "make",
			fmt.Sprintf("backend kind %q is not installed in this build", cfg.Kind))
	}

	h, err := constructor(cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ConfigInvalid, "handler", "make",
			fmt.Sprintf("constructing %s handler", cfg.Kind), err)
	}
	return h, nil
}
