// Package apperrors defines the closed error taxonomy shared by every
// component: handlers, the connection manager, the workspace executor, and
// the orchestrator all fail through the same Error type so that callers can
// branch on Kind instead of parsing messages.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories the core can produce.
type Kind string

const (
	ConfigInvalid     Kind = "ConfigInvalid"
	UnsupportedKind   Kind = "UnsupportedKind"
	ConnectFailed     Kind = "ConnectFailed"
	NotConnected      Kind = "NotConnected"
	NotFound          Kind = "NotFound"
	DuplicateID       Kind = "DuplicateId"
	QueryFailed       Kind = "QueryFailed"
	Timeout           Kind = "Timeout"
	Cancelled         Kind = "Cancelled"
	PlanInvalid       Kind = "PlanInvalid"
	ToolCallFailed    Kind = "ToolCallFailed"
	WorkspaceSQLError Kind = "WorkspaceSQLError"
	BudgetExhausted   Kind = "BudgetExhausted"
)

// Error is the error type every component boundary returns. It carries the
// offending component/action the way pkg/tools.ToolRegistryError does, plus
// the closed Kind so callers can branch without string matching.
type Error struct {
	Kind      Kind
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Component != "" && e.Action != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Component, e.Action, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &Error{Kind: X}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a component/action-scoped Error, mirroring
// NewToolRegistryError's constructor shape.
func New(kind Kind, component, action, message string) *Error {
	return &Error{Kind: kind, Component: component, Action: action, Message: message}
}

// Wrap constructs an Error with an underlying cause.
func Wrap(kind Kind, component, action, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Action: action, Message: message, Err: err}
}

// KindOf extracts the Kind from err, falling back to "" if err is not (or
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether err is (or wraps) an *Error of the given Kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
