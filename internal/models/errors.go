package models

import "errors"

// MessagesRequired is the client facing text used when a chat request carries no conversation.
const MessagesRequired = "Messages are required"

var (
	// ErrInvalidRequest is returned when a chat request carries no conversation or a malformed one. It is
	// resolved at the HTTP boundary and never reaches the streaming logic.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstreamUnavailable is returned when the upstream completion API could not be reached, or failed
	// while a reply was being produced.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrParse marks a single malformed wire frame. It is recoverable: the frame is dropped.
	ErrParse = errors.New("malformed frame")
	// ErrTransportClosed is returned when a stream ends without a clean close.
	ErrTransportClosed = errors.New("stream closed unexpectedly")
	// ErrIdleTimeout is the cancellation cause used when a stream leg stays silent for too long.
	ErrIdleTimeout = errors.New("stream idle timeout")
	// ErrEmptyInput is returned when the user text of a turn is blank.
	ErrEmptyInput = errors.New("empty input")
)

// RequestError describes why a chat request was rejected. Reason is safe to show to the caller.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Reason
}

// Is reports ErrInvalidRequest as the error's kind.
func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}
