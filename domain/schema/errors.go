package schema

import "fmt"

// SchemaError reports an invalid descriptor declaration. It is returned at
// type-build time, never during parsing.
type SchemaError struct {
	Type   string // element type name being declared
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: type %q: %s", e.Type, e.Detail)
}

// SyntaxError reports a structural parse failure: an unexpected tag, a tag in
// the wrong namespace, or malformed markup from the tokenizer. It is fatal to
// the current parse.
type SyntaxError struct {
	Name   Name // offending element, when known
	Detail string
}

func (e *SyntaxError) Error() string {
	if e.Name.Local != "" {
		return fmt.Sprintf("schema: syntax error at <%s>: %s", e.Name, e.Detail)
	}
	return "schema: syntax error: " + e.Detail
}

func syntaxErrorf(name Name, format string, args ...any) error {
	return &SyntaxError{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// DecodeError reports a text or attribute value that a codec could not
// interpret.
type DecodeError struct {
	Text   string
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("schema: cannot decode %q: %s", e.Text, e.Detail)
}

// EncodeError reports a field value that a codec could not serialize.
type EncodeError struct {
	Detail string
}

func (e *EncodeError) Error() string {
	return "schema: cannot encode: " + e.Detail
}
