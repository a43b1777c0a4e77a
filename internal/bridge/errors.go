package bridge

import (
	"encoding/json"
	"errors"
	"reflect"
)

// locationFields are stripped from serialized errors.
var locationFields = map[string]bool{
	"fileName":     true,
	"lineNumber":   true,
	"columnNumber": true,
}

// FrameError is the wire form of an error returned to a frame. It marshals
// to a flat object with name, message and every custom field except
// source-location fields.
type FrameError struct {
	Name    string
	Message string
	Fields  map[string]any
}

func (e *FrameError) Error() string {
	return e.Message
}

type fielder interface {
	Fields() map[string]any
}

type namer interface {
	ErrorName() string
}

// SerializeError converts err for transfer. Custom fields come from any
// error in the chain with a Fields() map[string]any method.
func SerializeError(err error) *FrameError {
	if err == nil {
		return nil
	}
	fe := &FrameError{Name: "Error", Message: err.Error(), Fields: map[string]any{}}
	var n namer
	if errors.As(err, &n) && n.ErrorName() != "" {
		fe.Name = n.ErrorName()
	} else if t := reflect.TypeOf(err); t != nil {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Name() != "" && t.PkgPath() != "errors" && t.PkgPath() != "fmt" {
			fe.Name = t.Name()
		}
	}
	var f fielder
	if errors.As(err, &f) {
		for k, v := range f.Fields() {
			if !locationFields[k] && k != "name" && k != "message" {
				fe.Fields[k] = v
			}
		}
	}
	return fe
}

// MarshalJSON implements json.Marshaler.
func (e *FrameError) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		if locationFields[k] {
			continue
		}
		clean, err := Sanitize(v)
		if err != nil {
			continue
		}
		out[k] = clean
	}
	out["name"] = e.Name
	out["message"] = e.Message
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *FrameError) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = FrameError{Name: "Error", Fields: map[string]any{}}
	for k, v := range raw {
		switch {
		case k == "name":
			if s, ok := v.(string); ok {
				e.Name = s
			}
		case k == "message":
			if s, ok := v.(string); ok {
				e.Message = s
			}
		case locationFields[k]:
		default:
			e.Fields[k] = v
		}
	}
	return nil
}
