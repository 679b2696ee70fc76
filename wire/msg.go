package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Enumeration of all command kinds. Invalid is produced by Decode when the
// line cannot be interpreted at all. Unknown is produced when the line is a
// well-formed request with a type that is not a supported command; it is
// rejected at dispatch time rather than at decode time.
const (
	Invalid = Kind(iota)
	Unknown
	Register
	Discover
	Unregister
)

// Kind of a Request.
type Kind uint8

// String implements the Stringer interface.
func (kind Kind) String() string {
	switch kind {
	case Invalid:
		return "ERROR"
	case Register:
		return "REGISTER"
	case Discover:
		return "DISCOVER"
	case Unregister:
		return "UNREGISTER"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrMissingField is returned by the typed accessors of a Request when
	// the field is absent, or explicitly null.
	ErrMissingField = errors.New("missing field")
	// ErrWrongType is returned by the typed accessors of a Request when the
	// field is present but cannot be coerced into the requested type.
	ErrWrongType = errors.New("wrong type")
)

// A Request is one decoded request line.
type Request struct {
	Kind Kind
	// Type is the upper-cased value of the "type" field. It is empty when
	// Kind is Invalid.
	Type string
	// Err describes why the line could not be decoded. It is only set when
	// Kind is Invalid.
	Err *Error

	fields map[string]json.RawMessage
}

// Decode one line into a Request. Decode never fails; lines that cannot be
// interpreted produce a Request of kind Invalid that carries the reason.
func Decode(line []byte) Request {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(line, &fields); err != nil || fields == nil {
		return Request{
			Kind: Invalid,
			Err:  &Error{Code: CodeInvalidJSON, Message: "expected one JSON object per line"},
		}
	}

	var ty string
	raw, ok := fields["type"]
	if !ok || isNull(raw) || json.Unmarshal(raw, &ty) != nil {
		return Request{Kind: Invalid, Err: NewError(CodeMissingType)}
	}
	ty = strings.ToUpper(ty)

	req := Request{Kind: Unknown, Type: ty, fields: fields}
	switch ty {
	case "REGISTER":
		req.Kind = Register
	case "DISCOVER":
		req.Kind = Discover
	case "UNREGISTER":
		req.Kind = Unregister
	}
	return req
}

// Has returns true if the field is present and not null.
func (req Request) Has(key string) bool {
	raw, ok := req.fields[key]
	return ok && !isNull(raw)
}

// String returns the value of a string field.
func (req Request) String(key string) (string, error) {
	raw, ok := req.fields[key]
	if !ok || isNull(raw) {
		return "", ErrMissingField
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return "", ErrWrongType
	}
	return str, nil
}

// Int returns the value of an integer field. JSON integers, integral floats
// (such as 5001.0) and decimal strings (such as "5001") are accepted.
// Values that do not fit into an int are saturated, so that callers that
// clamp can still clamp them.
func (req Request) Int(key string) (int, error) {
	raw, ok := req.fields[key]
	if !ok || isNull(raw) {
		return 0, ErrMissingField
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, ErrWrongType
	}

	switch v := v.(type) {
	case json.Number:
		// ParseInt returns the saturated value alongside ErrRange.
		if n, err := strconv.ParseInt(v.String(), 10, 0); err == nil || errors.Is(err, strconv.ErrRange) {
			return int(n), nil
		}
		f, err := v.Float64()
		if err != nil || math.Trunc(f) != f {
			return 0, ErrWrongType
		}
		return saturate(f), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, ErrWrongType
		}
		return n, nil
	default:
		return 0, ErrWrongType
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func saturate(f float64) int {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int(f)
	}
}
