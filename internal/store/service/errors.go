package service

import "errors"

var (
	// ErrNoEndpoints indicates the provider returned no endpoints for a service.
	ErrNoEndpoints = errors.New("service: no endpoints available")
	// ErrClosed is returned by calls on a closed transport.
	ErrClosed = errors.New("service: transport closed")
)
