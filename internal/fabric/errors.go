package fabric

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("fabric: not found")

// Error is returned for non-2xx fabric responses.
type Error struct {
	Op         string `json:"-"`
	StatusCode int    `json:"-"`
	Msg        string `json:"message"`
	Kind       string `json:"kind"`
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return fmt.Sprintf("fabric %s: %s", e.Op, e.Msg)
	case e.Kind != "":
		return fmt.Sprintf("fabric %s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("fabric %s: status %d", e.Op, e.StatusCode)
	}
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ErrorMessage returns the server-supplied message, if any.
func (e *Error) ErrorMessage() string { return e.Msg }

// ErrorKind returns the server-supplied error kind, if any.
func (e *Error) ErrorKind() string { return e.Kind }

// Fields exposes the error's custom properties for frame serialization.
func (e *Error) Fields() map[string]any {
	return map[string]any{
		"status": e.StatusCode,
		"kind":   e.Kind,
		"op":     e.Op,
	}
}
