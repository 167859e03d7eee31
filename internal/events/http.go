package events

import (
	"net/http"
	"time"

	reqid "github.com/austinabell/graphql-ipld/internal/reqid"
)

// HTTPStart is emitted when the GraphQL handler receives a request.
type HTTPStart struct {
	RequestID reqid.ID
	Request   *http.Request
}

// HTTPFinish is emitted after the response was written.
type HTTPFinish struct {
	RequestID reqid.ID
	Request   *http.Request
	Status    int
	Duration  time.Duration
}
