package nativecode

import (
	"errors"
	"fmt"
)

// ErrClassNotFound is returned when loading a unit that was never compiled
// in the session and is unknown to the parent loader.
var ErrClassNotFound = errors.New("nativecode: class not found")

// CompileError carries the diagnostic of a failed method compilation.
type CompileError struct {
	Unit   string
	Method string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("nativecode: compile %s.%s: %v", e.Unit, e.Method, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// ContractError reports a call that does not match the shape of a unit.
type ContractError struct {
	Unit   string
	Method string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("nativecode: %s.%s: %s", e.Unit, e.Method, e.Reason)
}
