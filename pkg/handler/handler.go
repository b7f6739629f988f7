// Package handler defines the uniform query contract every backend kind
// implements (C3), plus the registry and factory that create handler
// instances from a ConnectionConfig (C1).
package handler

import (
	"context"

	"github.com/kadirpekel/queryagent/pkg/model"
)

// Handler is the contract every backend kind implements. Operations never
// raise across this interface: connect/execute failures are reported via
// returned errors or a QueryResult with Success = false, per the failure
// policy in the propagation design.
type Handler interface {
	Kind() model.Kind

	Connect(ctx context.Context) error

	// Disconnect is idempotent: calling it on an already-disconnected
	// handler is a no-op.
	Disconnect(ctx context.Context) error

	Test(ctx context.Context) (*model.TestResult, error)

	Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error)

	Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error)

	// SupportedOperations reports a subset of {SELECT, INSERT, UPDATE,
	// DELETE, AGGREGATE, FIND, SEARCH}; informational only.
	SupportedOperations() []string
}
