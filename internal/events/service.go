package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// ServiceCallStart is emitted when a service node is sent to the endpoint
// picked for its service.
type ServiceCallStart struct {
	Service  string
	Method   string
	Endpoint string
	// Parameters are the variable names read into the request.
	Parameters []string
	User       string
}

// ServiceCallFinish is emitted after a service node call returns. Objects is
// the number of objects read from the response.
type ServiceCallFinish struct {
	Service  string
	Method   string
	Endpoint string
	Code     codes.Code
	Objects  int
	Err      error
	Duration time.Duration
}
