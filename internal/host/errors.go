package host

import (
	"errors"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

var (
	// ErrHostNotAllowed rejects fetches and sockets outside the allowed hosts.
	ErrHostNotAllowed = errors.New("host not allowed")
	// ErrBodyConsumed rejects a second read of a retained response body.
	ErrBodyConsumed = errors.New("body already consumed")
	// ErrUnknownFetch reports a method call against a fetch that is not
	// retained. No reply is sent for it.
	ErrUnknownFetch = errors.New("unknown fetch session")
	// ErrBodyTooLarge rejects response bodies over the configured limit.
	ErrBodyTooLarge = errors.New("response body too large")
	// ErrNotReady is returned by Eval when the guest never acknowledged init.
	ErrNotReady = errors.New("guest not ready")
)

// namedError gives a Go error the JavaScript name the guest rebuilds it as.
type namedError struct {
	name  string
	msg   string
	cause error
}

func (e *namedError) Error() string     { return e.msg }
func (e *namedError) ErrorName() string { return e.name }
func (e *namedError) Unwrap() error     { return e.cause }

func typeError(msg string, cause error) error {
	return &namedError{name: protocol.ErrorNameType, msg: msg, cause: cause}
}
