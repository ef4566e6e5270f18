package publishing

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Error is a non-2xx response from the publishing API. Message is what the
// API said, passed to users as is.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsClientError reports a 4xx response: the payload was rejected.
func (e *Error) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// AsError unwraps err to a publishing API error.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func newError(status int, body []byte) *Error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &Error{Status: status, Message: envelope.Error.Message}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return &Error{Status: status, Message: text}
	}
	return &Error{Status: status, Message: http.StatusText(status)}
}
