package events

import (
	"time"

	reqid "github.com/austinabell/graphql-ipld/internal/reqid"
)

// GraphQLStart is emitted after a document passed validation and before it
// is executed.
type GraphQLStart struct {
	RequestID     reqid.ID
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish is emitted after execution. Codes lists the extensions.code
// of every error in the result, in order; errors without one contribute "".
type GraphQLFinish struct {
	RequestID     reqid.ID
	OperationName string
	OperationType string
	Errors        []error
	Codes         []string
	Duration      time.Duration
}
