package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidResponse is returned when a successful envelope carries no
	// value and the caller expected one.
	ErrInvalidResponse = errors.New("invalid response from server")

	// ErrNotAuthenticated is returned by callers (never by the transport
	// itself) when an operation needs a user id and none is available.
	ErrNotAuthenticated = errors.New("not authenticated")
)

const (
	// unknownServerErrorMessage is used when an error envelope carries no
	// extractable message.
	unknownServerErrorMessage = "unknown server error"

	notAuthenticatedMessage = "You must be signed in to do that."
	technicalErrorMessage   = "Something went wrong talking to the server. Please try again."
)

// HTTPError is a non-2xx response whose body had no extractable message.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d", e.Status)
}

// ServerError is an application-level failure reported by the backend.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// EncodingError wraps a failure to encode outgoing call arguments.
type EncodingError struct {
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode request: %v", e.Cause)
}

func (e *EncodingError) Unwrap() error { return e.Cause }

// DecodingError wraps a failure to decode a response payload.
type DecodingError struct {
	Cause error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Cause)
}

func (e *DecodingError) Unwrap() error { return e.Cause }

// TransportError wraps a network-level failure (no connectivity, reset
// connection, cancelled context).
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// UserMessage maps an error to text suitable for showing to a user.
//
// Backend messages are shown as-is; contract mismatches collapse into a
// generic technical message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Message
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Error()
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return notAuthenticatedMessage
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return "Could not reach the server. Check your connection and try again."
	}
	return technicalErrorMessage
}
