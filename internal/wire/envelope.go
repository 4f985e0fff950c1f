// Package wire defines the JSON shapes exchanged with the sync backend: the
// call request body, the {value, status, error} response envelope, and the
// realtime control/push frames.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

const (
	// FormatJSON is the only request format the client speaks.
	FormatJSON = "json"

	statusError = "error"
)

// NoContent is the expected result type of calls whose value is ignored.
//
// Decoding into NoContent succeeds even when the envelope has no value.
type NoContent struct{}

// Request is the body POSTed to api/query, api/mutation and api/action.
type Request struct {
	Path   string          `json:"path"`
	Args   json.RawMessage `json:"args"`
	Format string          `json:"format"`
}

// EncodeArgs encodes call arguments into a JSON object.
//
// nil (or a nil pointer/map) encodes as {}. Anything that does not encode to a
// JSON object is rejected.
func EncodeArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &EncodingError{Cause: err}
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &EncodingError{Cause: fmt.Errorf("args must encode to a JSON object, got %s", kindOf(trimmed))}
	}
	return json.RawMessage(trimmed), nil
}

// EncodeRequest builds the request body for a call.
func EncodeRequest(path string, args any) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &EncodingError{Cause: errors.New("missing function path")}
	}
	encodedArgs, err := EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(Request{Path: path, Args: encodedArgs, Format: FormatJSON})
	if err != nil {
		return nil, &EncodingError{Cause: err}
	}
	return body, nil
}

// envelope is the tolerant view of a response body. Fields that are absent
// or of an unexpected type are left empty rather than failing the decode.
type envelope struct {
	value    json.RawMessage
	hasValue bool
	status   string
	fields   map[string]json.RawMessage
}

func parseEnvelope(body []byte) (*envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("response body is null")
	}

	env := &envelope{fields: fields}
	if raw, ok := fields["value"]; ok {
		env.value = raw
		env.hasValue = true
	}
	if raw, ok := fields["status"]; ok {
		_ = json.Unmarshal(raw, &env.status)
	}
	return env, nil
}

func (e *envelope) failed() bool {
	return strings.EqualFold(strings.TrimSpace(e.status), statusError)
}

// errorMessage walks the message sources in priority order: error.message,
// top-level message, top-level error string, error.data.
func (e *envelope) errorMessage() (string, bool) {
	errObj := map[string]json.RawMessage{}
	if raw, ok := e.fields["error"]; ok {
		_ = json.Unmarshal(raw, &errObj)
	}

	if msg, ok := stringField(errObj["message"]); ok {
		return msg, true
	}
	if msg, ok := stringField(e.fields["message"]); ok {
		return msg, true
	}
	if msg, ok := stringField(e.fields["error"]); ok {
		return msg, true
	}
	if raw, ok := errObj["data"]; ok {
		if msg, ok := stringField(raw); ok {
			return msg, true
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			return string(trimmed), true
		}
	}
	return "", false
}

func stringField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// ExtractErrorMessage returns the best-effort error message carried by a
// response body, regardless of its status field. ok is false when the body
// is not a JSON object or carries no message.
func ExtractErrorMessage(body []byte) (message string, ok bool) {
	env, err := parseEnvelope(body)
	if err != nil {
		return "", false
	}
	return env.errorMessage()
}

// Decode decodes a response envelope into T.
//
// Error envelopes always produce *ServerError; decode failures always
// produce *DecodingError.
func Decode[T any](body []byte) (T, error) {
	var zero T

	env, err := parseEnvelope(body)
	if err != nil {
		return zero, &DecodingError{Cause: err}
	}

	if env.failed() {
		msg, ok := env.errorMessage()
		if !ok {
			msg = unknownServerErrorMessage
		}
		return zero, &ServerError{Message: msg}
	}

	if _, noContent := any(zero).(NoContent); noContent {
		return zero, nil
	}
	if !env.hasValue {
		return zero, ErrInvalidResponse
	}
	return DecodeValue[T](env.value)
}

// DecodeValue decodes a bare value (an envelope's value or a push frame's
// value) into T, using millisecond-epoch dates.
func DecodeValue[T any](raw json.RawMessage) (T, error) {
	var out T

	if _, noContent := any(out).(NoContent); noContent {
		return out, nil
	}

	// time.Time has its own RFC 3339 JSON form; dates on this wire are
	// always millisecond epochs.
	if tp, ok := any(&out).(*time.Time); ok {
		var m Millis
		if err := json.Unmarshal(raw, &m); err != nil {
			return out, &DecodingError{Cause: err}
		}
		*tp = m.Time
		return out, nil
	}
	if err := checkDateFields(reflect.TypeFor[T]()); err != nil {
		return out, &DecodingError{Cause: err}
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &DecodingError{Cause: err}
	}
	return out, nil
}

func kindOf(raw []byte) string {
	if len(raw) == 0 {
		return "empty"
	}
	switch raw[0] {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
