package zcomm

import "github.com/pkg/errors"

var (
	// correlator
	ErrTransportOpen      = errors.New("zcomm: transport failed to open")
	ErrSendFailure        = errors.New("zcomm: transport failed to send")
	ErrNoPendingRequest   = errors.New("zcomm: no pending request to receive a response for")
	ErrUnknownRequest     = errors.New("zcomm: no pending request with this id")
	ErrClosedCorrelator   = errors.New("zcomm: correlator is closed")
	ErrRequestIDExhausted = errors.New("zcomm: could not draw a unique request id")

	// factory
	ErrUnknownKind = errors.New("zcomm: unknown comm kind")
	ErrKindExists  = errors.New("zcomm: comm kind already registered")

	// comm
	ErrCommClosed     = errors.New("zcomm: comm is closed")
	ErrCommNotOpen    = errors.New("zcomm: comm is not open")
	ErrRecvTimeout    = errors.New("zcomm: receive timed out")
	ErrNoAddress      = errors.New("zcomm: no comm bound at address")
	ErrWrongDirection = errors.New("zcomm: operation not supported in this direction")

	// address book
	ErrEndpointNotFound = errors.New("zcomm: endpoint not found")
)

// openError matches ErrTransportOpen and unwraps to the transport's own error.
type openError struct {
	err error
}

func (e *openError) Error() string { return ErrTransportOpen.Error() + ": " + e.err.Error() }

func (e *openError) Unwrap() error { return e.err }

func (e *openError) Cause() error { return e.err }

func (e *openError) Is(target error) bool { return target == ErrTransportOpen }

// WrapOpenError marks err as a failure to open a transport. errors.Is matches both
// ErrTransportOpen and whatever err already matched.
func WrapOpenError(err error) error {
	if err == nil {
		return nil
	}
	return &openError{err: err}
}
