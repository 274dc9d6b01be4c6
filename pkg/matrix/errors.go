package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers transport problems: DNS, TLS, connection
	// resets and client-side timeouts.
	ErrNetwork = errors.New("network failure")

	// ErrDecoding is returned when a 2xx response carries a body that
	// is not parseable JSON.
	ErrDecoding = errors.New("malformed server response")

	// ErrNotAuthenticated is returned when an operation requires an
	// access token and the session has none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrIO covers local disk problems around uploads and cached
	// downloads, as opposed to transport failures.
	ErrIO = errors.New("local i/o failure")
)

// ServerError is a structured rejection from the homeserver. The raw
// JSON payload is preserved verbatim so callers can inspect fields
// beyond errcode/error.
type ServerError struct {
	StatusCode int
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	Raw        json.RawMessage
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("server error (HTTP %d)", e.StatusCode)
}

func newServerError(status int, body []byte) *ServerError {
	e := &ServerError{
		StatusCode: status,
		Raw:        append(json.RawMessage(nil), body...),
	}
	// Best effort: a non-JSON error body still yields a usable error.
	_ = json.Unmarshal(body, e)

	return e
}

// IsNotFound reports whether err is a server rejection with errcode
// M_NOT_FOUND.
func IsNotFound(err error) bool {
	var serr *ServerError
	return errors.As(err, &serr) && serr.Code == "M_NOT_FOUND"
}
