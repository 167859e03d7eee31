package ipldql

import (
	"errors"
	"fmt"

	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
	ident "github.com/austinabell/graphql-ipld/internal/ident"
	projection "github.com/austinabell/graphql-ipld/internal/projection"
)

// Error codes reported in the extensions of GraphQL errors.
const (
	CodeMalformedIdentifier = "MALFORMED_IDENTIFIER"
	CodeNotFound            = "NOT_FOUND"
	CodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
	CodeCorrupt             = "CORRUPT"
	CodeIntegerOverflow     = "INTEGER_OVERFLOW"
	CodeInvalidValue        = "INVALID_VALUE"
	CodeInternal            = "INTERNAL"
)

// ErrInvalidValue is returned for input values that cannot be stored.
var ErrInvalidValue = errors.New("invalid value")

var codes = []struct {
	target error
	code   string
}{
	{ident.ErrMalformedIdentifier, CodeMalformedIdentifier},
	{blockstore.ErrNotFound, CodeNotFound},
	{blockstore.ErrBackendUnavailable, CodeBackendUnavailable},
	{blockstore.ErrCorrupt, CodeCorrupt},
	{projection.ErrIntegerOverflow, CodeIntegerOverflow},
	{ErrInvalidValue, CodeInvalidValue},
}

// Error is a resolver error carrying a machine readable code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Extensions() map[string]any { return map[string]any{"code": e.Code} }

// CodeOf returns the code for err, or CodeInternal for unclassified errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return CodeInternal
}

func coded(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: CodeOf(err), Err: err}
}

func invalidValue(format string, args ...any) error {
	return &Error{Code: CodeInvalidValue, Err: fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))}
}
