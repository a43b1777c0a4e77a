package bridge

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a payload value for transfer.
type Kind int

const (
	KindOpaque Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindTime
	KindRegexp
	KindBytes
	KindList
	KindObject
	KindMap
	KindSet
)

var kindNames = [...]string{
	KindOpaque: "opaque",
	KindNull:   "null",
	KindBool:   "bool",
	KindNumber: "number",
	KindString: "string",
	KindTime:   "time",
	KindRegexp: "regexp",
	KindBytes:  "bytes",
	KindList:   "list",
	KindObject: "object",
	KindMap:    "map",
	KindSet:    "set",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// maxDepth bounds recursion so cyclic pointer graphs are rejected rather
// than followed forever.
const maxDepth = 64

var (
	timeType     = reflect.TypeOf(time.Time{})
	regexpType   = reflect.TypeOf(regexp.Regexp{})
	emptyStruct  = reflect.TypeOf(struct{}{})
	marshalerT   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalT = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Classify returns the top-level kind of v. Pointers and interfaces are
// looked through; a nil pointer is KindNull.
func Classify(v any) Kind {
	return classify(reflect.ValueOf(v))
}

func classify(rv reflect.Value) Kind {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return KindNull
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return KindNull
	}
	switch rv.Type() {
	case timeType:
		return KindTime
	case regexpType:
		return KindRegexp
	}
	switch rv.Kind() {
	case reflect.Bool:
		return KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return KindNumber
	case reflect.String:
		return KindString
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return KindBytes
		}
		return KindList
	case reflect.Map:
		if rv.Type().Elem() == emptyStruct {
			return KindSet
		}
		if rv.Type().Key().Kind() == reflect.String {
			return KindObject
		}
		return KindMap
	case reflect.Struct:
		return KindObject
	}
	return KindOpaque
}

// Transferable reports whether v can be sent to a frame as is: primitives,
// times, regexps, byte buffers, and lists, objects, maps and sets built only
// from transferable values. Functions, channels and complex numbers are not.
func Transferable(v any) bool {
	return transferable(reflect.ValueOf(v), 0)
}

func transferable(rv reflect.Value, depth int) bool {
	if depth > maxDepth {
		return false
	}
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch classify(rv) {
	case KindNull, KindBool, KindNumber, KindString, KindTime, KindRegexp, KindBytes:
		return true
	case KindList:
		for i := 0; i < rv.Len(); i++ {
			if !transferable(rv.Index(i), depth+1) {
				return false
			}
		}
		return true
	case KindSet:
		for _, k := range rv.MapKeys() {
			if !transferable(k, depth+1) {
				return false
			}
		}
		return true
	case KindObject, KindMap:
		if rv.Kind() == reflect.Struct {
			for _, f := range exportedFields(rv) {
				if !transferable(f.value, depth+1) {
					return false
				}
			}
			return true
		}
		iter := rv.MapRange()
		for iter.Next() {
			if !transferable(iter.Key(), depth+1) || !transferable(iter.Value(), depth+1) {
				return false
			}
		}
		return true
	}
	return false
}

// Sanitize returns a copy of v that survives a JSON round trip, with the
// semantics of JSON.stringify followed by JSON.parse: opaque values are
// dropped from objects and become null in lists, non-finite numbers become
// null, sets and maps without string keys become empty objects, and
// everything else takes its encoding/json shape (a *regexp.Regexp becomes
// its pattern).
func Sanitize(v any) (any, error) {
	tree := jsonTree(reflect.ValueOf(v), 0)
	if tree == omitted {
		tree = nil
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("bridge: sanitize: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("bridge: sanitize: %w", err)
	}
	return out, nil
}

// Prepare returns v unchanged when it is transferable and its sanitized copy
// otherwise.
func Prepare(v any) (any, error) {
	if Transferable(v) {
		return v, nil
	}
	return Sanitize(v)
}

type omit struct{}

var omitted any = omit{}

func jsonTree(rv reflect.Value, depth int) any {
	if depth > maxDepth {
		return omitted
	}
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer && (rv.Type().Implements(marshalerT) || rv.Type().Implements(textMarshalT)) {
			break
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}

	if rv.CanInterface() && (rv.Type().Implements(marshalerT) || rv.Type().Implements(textMarshalT)) {
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return omitted
		}
		return json.RawMessage(b)
	}

	switch classify(rv) {
	case KindNull:
		return nil
	case KindBool:
		return rv.Bool()
	case KindNumber:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil
			}
			return f
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return rv.Uint()
		default:
			return rv.Int()
		}
	case KindString:
		return rv.String()
	case KindRegexp, KindSet, KindMap:
		return map[string]any{}
	case KindBytes:
		if rv.Kind() == reflect.Array {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = rv.Index(i).Uint()
			}
			return out
		}
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return b
	case KindList:
		out := make([]any, rv.Len())
		for i := range out {
			if e := jsonTree(rv.Index(i), depth+1); e != omitted {
				out[i] = e
			}
		}
		return out
	case KindObject:
		out := make(map[string]any)
		if rv.Kind() == reflect.Struct {
			for _, f := range exportedFields(rv) {
				if f.omitEmpty && f.value.IsZero() {
					continue
				}
				if e := jsonTree(f.value, depth+1); e != omitted {
					out[f.name] = e
				}
			}
			return out
		}
		iter := rv.MapRange()
		for iter.Next() {
			if e := jsonTree(iter.Value(), depth+1); e != omitted {
				out[iter.Key().String()] = e
			}
		}
		return out
	}
	return omitted
}

type structField struct {
	name      string
	value     reflect.Value
	omitEmpty bool
}

// exportedFields lists a struct's fields under their JSON names, honoring
// `json:"-"`, renames and omitempty, and promoting embedded structs.
func exportedFields(rv reflect.Value) []structField {
	var out []structField
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)
		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if ft.Kind() == reflect.Struct {
				out = append(out, exportedFields(fv)...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		out = append(out, structField{name: name, value: fv, omitEmpty: strings.Contains(opts, "omitempty")})
	}
	return out
}
