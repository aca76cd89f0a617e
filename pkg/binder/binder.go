package binder

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// MaxBodySize caps JSON request bodies.
const MaxBodySize = 1 << 20

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// Query fills fields tagged `query:"name"` from the URL query string.
func Query(r *http.Request, v any) error {
	q := r.URL.Query()
	return bind(v, "query", func(name string) string { return q.Get(name) }, ErrFailedToParseQuery)
}

// Path fills fields tagged `path:"name"` from chi URL parameters.
func Path(r *http.Request, v any) error {
	return bind(v, "path", func(name string) string { return chi.URLParam(r, name) }, ErrFailedToParsePath)
}

// JSON decodes a JSON body into v. An empty body leaves v untouched.
// Unknown fields are rejected.
func JSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, ct)
		}
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(ErrFailedToParseJSON, err)
	}
	return nil
}

func bind(v any, tag string, lookup func(string) string, bindErr error) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrInvalidTarget
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := range rt.NumField() {
		sf := rt.Field(i)
		name := sf.Tag.Get(tag)
		if name == "" || name == "-" || !sf.IsExported() {
			continue
		}
		raw := lookup(name)
		if raw == "" {
			continue
		}
		if err := setValue(rv.Field(i), raw); err != nil {
			return fmt.Errorf("%w: %s: %v", bindErr, name, err)
		}
	}
	return nil
}

func setValue(f reflect.Value, raw string) error {
	if f.CanAddr() && f.Addr().Type().Implements(textUnmarshalerType) {
		return f.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw))
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		f.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}
