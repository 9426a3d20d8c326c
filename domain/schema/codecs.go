package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Codec transforms between serialized text and field values. Decode chains
// run in registration order, each stage receiving the previous stage's
// output; Encode chains run in reverse and must end in a string.
type Codec interface {
	Decode(value any) (any, error)
	Encode(value any) (any, error)
}

func decodeChain(codecs []Codec, text string) (any, error) {
	v := any(text)
	for _, c := range codecs {
		var err error
		if v, err = c.Decode(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func encodeChain(codecs []Codec, value any) (string, error) {
	v := value
	for i := len(codecs) - 1; i >= 0; i-- {
		var err error
		if v, err = codecs[i].Encode(v); err != nil {
			return "", err
		}
	}
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &EncodeError{Detail: fmt.Sprintf("chain produced %T, want string", v)}
	}
	return s, nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &DecodeError{Text: fmt.Sprint(v), Detail: fmt.Sprintf("expected text, got %T", v)}
	}
	return s, nil
}

// Trimmed strips surrounding whitespace. Useful as the first stage of a
// chain feeding stricter codecs.
type Trimmed struct{}

func (Trimmed) Decode(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func (Trimmed) Encode(v any) (any, error) { return v, nil }

// RFC3339 converts between time.Time and RFC 3339 timestamps. With
// PreferUTC set, encoding normalizes to UTC and a trailing Z.
type RFC3339 struct {
	PreferUTC bool
}

const rfc3339Micro = "2006-01-02T15:04:05.999999Z07:00"

func (c RFC3339) Decode(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, &DecodeError{Text: s, Detail: "not a valid RFC 3339 timestamp"}
	}
	if c.PreferUTC {
		t = t.UTC()
	}
	return t, nil
}

func (c RFC3339) Encode(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, &EncodeError{Detail: fmt.Sprintf("RFC3339 accepts time.Time, not %T", v)}
	}
	if c.PreferUTC {
		t = t.UTC()
	}
	return t.Format(rfc3339Micro), nil
}

// RFC822 converts between time.Time and the RFC 822 date format used by
// OPML and RSS (four-digit years, per RFC 1123).
type RFC822 struct{}

var rfc822Layouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
}

func (RFC822) Decode(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	for _, layout := range rfc822Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, &DecodeError{Text: s, Detail: "not a valid RFC 822 timestamp"}
}

func (RFC822) Encode(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, &EncodeError{Detail: fmt.Sprintf("RFC822 accepts time.Time, not %T", v)}
	}
	return t.Format("Mon, 02 Jan 2006 15:04:05 -0700"), nil
}

// Integer converts between int and decimal text.
type Integer struct{}

func (Integer) Decode(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, &DecodeError{Text: s, Detail: "not an integer"}
	}
	return n, nil
}

func (Integer) Encode(v any) (any, error) {
	n, ok := v.(int)
	if !ok {
		return nil, &EncodeError{Detail: fmt.Sprintf("Integer accepts int, not %T", v)}
	}
	return strconv.Itoa(n), nil
}

// Boolean converts between bool and configurable true/false literals.
type Boolean struct {
	True, False string // literals; "true"/"false" when empty
}

func (c Boolean) literals() (string, string) {
	t, f := c.True, c.False
	if t == "" {
		t = "true"
	}
	if f == "" {
		f = "false"
	}
	return t, f
}

func (c Boolean) Decode(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	t, f := c.literals()
	switch strings.TrimSpace(s) {
	case t:
		return true, nil
	case f:
		return false, nil
	}
	return nil, &DecodeError{Text: s, Detail: fmt.Sprintf("expected %q or %q", t, f)}
}

func (c Boolean) Encode(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, &EncodeError{Detail: fmt.Sprintf("Boolean accepts bool, not %T", v)}
	}
	t, f := c.literals()
	if b {
		return t, nil
	}
	return f, nil
}

// CommaSeparated converts between []string and a comma-separated list,
// ignoring whitespace around separators.
type CommaSeparated struct{}

func (CommaSeparated) Decode(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(s) == "" {
		return []string(nil), nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

func (CommaSeparated) Encode(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []string:
		return strings.Join(x, ","), nil
	}
	return nil, &EncodeError{Detail: fmt.Sprintf("CommaSeparated accepts []string, not %T", v)}
}

// Enum validates that values belong to a fixed set; it performs no
// conversion.
type Enum struct {
	Values []string
}

func (c Enum) contains(s string) bool {
	for _, v := range c.Values {
		if v == s {
			return true
		}
	}
	return false
}

func (c Enum) Decode(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	if !c.contains(s) {
		return nil, &DecodeError{Text: s, Detail: "expected one of " + strings.Join(c.Values, ", ")}
	}
	return s, nil
}

func (c Enum) Encode(v any) (any, error) {
	s, ok := v.(string)
	if !ok || !c.contains(s) {
		return nil, &EncodeError{Detail: fmt.Sprintf("%v is not one of %s", v, strings.Join(c.Values, ", "))}
	}
	return s, nil
}
