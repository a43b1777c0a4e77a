package modal

import "errors"

type messager interface {
	ErrorMessage() string
}

type kinder interface {
	ErrorKind() string
}

// ErrorMessage extracts the text shown to the operator: an explicit message
// if the error chain carries one, else its kind, else err.Error().
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var m messager
	if errors.As(err, &m) && m.ErrorMessage() != "" {
		return m.ErrorMessage()
	}
	var k kinder
	if errors.As(err, &k) && k.ErrorKind() != "" {
		return k.ErrorKind()
	}
	return err.Error()
}
