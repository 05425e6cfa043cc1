package model

import "errors"

// Sentinel errors for the core's error kinds. Only ErrImageUnavailable is
// returned out of the Facade (execsvc.Service.Execute). Every other failure
// mode (bad request, engine failure, timeout, user program non-zero exit,
// harvest warnings) is converted by the Runner into a well-formed
// ExecutionResponse instead of propagating as an error; a bad request or
// engine failure shows up there as ExitCode -1 with the error text.
var (
	// ErrBadRequest marks a malformed ExecutionRequest (unsafe filename).
	// workspace.Build returns it; the Runner folds it into the response.
	ErrBadRequest = errors.New("bad request")

	// ErrImageUnavailable means the sandbox image could neither be built
	// nor found already present.
	ErrImageUnavailable = errors.New("sandbox image unavailable")

	// ErrEngineUnreachable means the container engine rejected a call for
	// reasons unrelated to the user program.
	ErrEngineUnreachable = errors.New("container engine unreachable")
)
