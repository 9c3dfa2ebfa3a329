package events

import (
	"net/http"
	"time"
)

// PlanRequestStart is emitted when an execute request is received, before
// its body is read. Context carries the request id.
type PlanRequestStart struct {
	Request   *http.Request
	RequestID string
	User      string
}

// PlanRequestFinish is emitted after the handler wrote its response. Root is
// the node type of the plan root, empty when the plan did not parse.
type PlanRequestFinish struct {
	Request   *http.Request
	RequestID string
	User      string
	Root      string
	Status    int
	Category  string
	Duration  time.Duration
}
