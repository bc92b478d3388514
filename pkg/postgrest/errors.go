package postgrest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx response from PostgREST.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest %d: %s", e.Status, e.Message)
}

// HTTPStatus returns the upstream status code.
func (e *Error) HTTPStatus() int { return e.Status }

func parseError(status int, body []byte) error {
	e := &Error{Status: status}
	if len(body) > 0 && json.Unmarshal(body, e) == nil && e.Message != "" {
		return e
	}
	e.Message = http.StatusText(status)
	return e
}

// IsConflict reports a unique-violation (23505) or a 409.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Status == http.StatusConflict || e.Code == "23505")
}
