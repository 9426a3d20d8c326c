package schema

import (
	"bytes"
	"strconv"
	"strings"
)

// tokenSink receives structural events from the tokenizer.
type tokenSink interface {
	startElement(n Name, attrs []attrPair) error
	charData(text string) error
	endElement(n Name) error
}

type attrPair struct {
	name  Name
	value string
}

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// tokenizer is a resumable push lexer. Feed it chunks in any split; it emits
// an event only once the construct is complete and keeps partial markup
// buffered until the next chunk arrives. It never blocks and never reads on
// its own.
type tokenizer struct {
	sink  tokenSink
	buf   []byte
	first bool // pending BOM strip

	openRaw []string  // raw prefixed names of open elements
	ns      []nsFrame // parallel to openRaw
}

type nsFrame struct {
	bindings map[string]string // prefix -> namespace URI; nil when none declared
}

func newTokenizer(sink tokenSink) *tokenizer {
	return &tokenizer{sink: sink, first: true}
}

// feed appends a chunk and processes every complete construct in the buffer.
func (t *tokenizer) feed(chunk []byte) error {
	t.buf = append(t.buf, chunk...)
	if t.first {
		t.buf = bytes.TrimPrefix(t.buf, []byte{0xEF, 0xBB, 0xBF})
		if len(t.buf) > 0 {
			t.first = false
		}
	}
	for {
		advanced, err := t.process()
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

// finish signals end of input. Markup truncated mid-construct is malformed;
// elements left open merely end the available children of their scopes.
func (t *tokenizer) finish() error {
	rest := bytes.TrimSpace(t.buf)
	if len(rest) > 0 {
		return syntaxErrorf(Name{}, "input ends inside markup: %.40q", rest)
	}
	return nil
}

// process consumes at most one construct from the buffer. It reports whether
// it made progress; no progress means more input is needed.
func (t *tokenizer) process() (bool, error) {
	if len(t.buf) == 0 {
		return false, nil
	}
	if t.buf[0] != '<' {
		return t.processText()
	}
	if len(t.buf) < 2 {
		return false, nil
	}
	switch t.buf[1] {
	case '?':
		end := bytes.Index(t.buf, []byte("?>"))
		if end < 0 {
			return false, nil
		}
		t.buf = t.buf[end+2:]
		return true, nil
	case '!':
		return t.processDeclaration()
	case '/':
		return t.processEndTag()
	}
	return t.processStartTag()
}

func (t *tokenizer) processText() (bool, error) {
	lt := bytes.IndexByte(t.buf, '<')
	text := t.buf
	complete := lt >= 0
	if complete {
		text = t.buf[:lt]
	} else {
		// Hold back a possibly split character reference.
		if amp := bytes.LastIndexByte(text, '&'); amp >= 0 && bytes.IndexByte(text[amp:], ';') < 0 {
			text = text[:amp]
		}
		if len(text) == 0 {
			return false, nil
		}
	}
	decoded, err := decodeEntities(text)
	if err != nil {
		return false, err
	}
	t.buf = t.buf[len(text):]
	if err := t.sink.charData(decoded); err != nil {
		return false, err
	}
	return true, nil
}

func (t *tokenizer) processDeclaration() (bool, error) {
	if bytes.HasPrefix(t.buf, []byte("<!--")) {
		end := bytes.Index(t.buf[4:], []byte("-->"))
		if end < 0 {
			return false, nil
		}
		t.buf = t.buf[4+end+3:]
		return true, nil
	}
	if bytes.HasPrefix(t.buf, []byte("<![CDATA[")) {
		end := bytes.Index(t.buf[9:], []byte("]]>"))
		if end < 0 {
			return false, nil
		}
		text := string(t.buf[9 : 9+end])
		t.buf = t.buf[9+end+3:]
		if err := t.sink.charData(text); err != nil {
			return false, err
		}
		return true, nil
	}
	if prefixOf(t.buf, "<!--") || prefixOf(t.buf, "<![CDATA[") {
		return false, nil // construct kind not decidable yet
	}
	// DOCTYPE or other declaration: skip to the matching '>' outside any
	// internal subset brackets.
	depth := 0
	for i := 2; i < len(t.buf); i++ {
		switch t.buf[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '>':
			if depth <= 0 {
				t.buf = t.buf[i+1:]
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *tokenizer) processEndTag() (bool, error) {
	gt := bytes.IndexByte(t.buf, '>')
	if gt < 0 {
		return false, nil
	}
	raw := strings.TrimSpace(string(t.buf[2:gt]))
	t.buf = t.buf[gt+1:]
	if len(t.openRaw) == 0 {
		return false, syntaxErrorf(Name{Local: raw}, "end tag with no open element")
	}
	open := t.openRaw[len(t.openRaw)-1]
	if raw != open {
		return false, syntaxErrorf(Name{Local: raw}, "mismatched end tag, open element is <%s>", open)
	}
	name, err := t.resolve(raw, false)
	if err != nil {
		return false, err
	}
	if err := t.sink.endElement(name); err != nil {
		return false, err
	}
	t.pop()
	return true, nil
}

func (t *tokenizer) processStartTag() (bool, error) {
	gt := findTagEnd(t.buf)
	if gt < 0 {
		return false, nil
	}
	inner := t.buf[1:gt]
	selfClosing := false
	if n := len(inner); n > 0 && inner[n-1] == '/' {
		selfClosing = true
		inner = inner[:n-1]
	}
	raw, rawAttrs, err := parseTag(inner)
	if err != nil {
		return false, err
	}
	t.buf = t.buf[gt+1:]

	frame := nsFrame{}
	regular := rawAttrs[:0]
	for _, a := range rawAttrs {
		prefix, ok := xmlnsPrefix(a.rawName)
		if !ok {
			regular = append(regular, a)
			continue
		}
		if frame.bindings == nil {
			frame.bindings = make(map[string]string)
		}
		frame.bindings[prefix] = a.value
	}
	t.openRaw = append(t.openRaw, raw)
	t.ns = append(t.ns, frame)

	name, err := t.resolve(raw, false)
	if err != nil {
		return false, err
	}
	attrs := make([]attrPair, 0, len(regular))
	for _, a := range regular {
		an, err := t.resolve(a.rawName, true)
		if err != nil {
			return false, err
		}
		attrs = append(attrs, attrPair{name: an, value: a.value})
	}
	if err := t.sink.startElement(name, attrs); err != nil {
		return false, err
	}
	if selfClosing {
		if err := t.sink.endElement(name); err != nil {
			return false, err
		}
		t.pop()
	}
	return true, nil
}

func (t *tokenizer) pop() {
	t.openRaw = t.openRaw[:len(t.openRaw)-1]
	t.ns = t.ns[:len(t.ns)-1]
}

// resolve maps a raw prefixed name to its namespace-qualified Name using the
// bindings in scope. Unprefixed attribute names carry no namespace.
func (t *tokenizer) resolve(raw string, isAttr bool) (Name, error) {
	prefix, local := "", raw
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		prefix, local = raw[:i], raw[i+1:]
	}
	if prefix == "xml" {
		return Name{Space: xmlNamespace, Local: local}, nil
	}
	if prefix == "" && isAttr {
		return Name{Local: local}, nil
	}
	for i := len(t.ns) - 1; i >= 0; i-- {
		if uri, ok := t.ns[i].bindings[prefix]; ok {
			return Name{Space: uri, Local: local}, nil
		}
	}
	if prefix == "" {
		return Name{Local: local}, nil
	}
	return Name{}, syntaxErrorf(Name{Local: raw}, "unbound namespace prefix %q", prefix)
}

func prefixOf(buf []byte, construct string) bool {
	n := min(len(buf), len(construct))
	return string(buf[:n]) == construct[:n] && len(buf) < len(construct)
}

// findTagEnd locates the '>' closing a start tag, skipping quoted attribute
// values. Returns -1 when the tag is still incomplete.
func findTagEnd(buf []byte) int {
	var quote byte
	for i := 1; i < len(buf); i++ {
		c := buf[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '>':
			return i
		}
	}
	return -1
}

type rawAttr struct {
	rawName string
	value   string
}

// xmlnsPrefix reports the declared prefix when the attribute is a namespace
// declaration ("" for the default namespace).
func xmlnsPrefix(rawName string) (string, bool) {
	if rawName == "xmlns" {
		return "", true
	}
	if strings.HasPrefix(rawName, "xmlns:") {
		return rawName[len("xmlns:"):], true
	}
	return "", false
}

func isNameSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// parseTag splits the inside of a start tag into its element name and
// attribute pairs. The slice is known to contain a complete tag.
func parseTag(inner []byte) (string, []rawAttr, error) {
	i := 0
	for i < len(inner) && isNameSpace(inner[i]) {
		i++
	}
	start := i
	for i < len(inner) && !isNameSpace(inner[i]) {
		i++
	}
	if start == i {
		return "", nil, syntaxErrorf(Name{}, "empty tag name")
	}
	name := string(inner[start:i])
	var attrs []rawAttr
	for {
		for i < len(inner) && isNameSpace(inner[i]) {
			i++
		}
		if i >= len(inner) {
			return name, attrs, nil
		}
		ns := i
		for i < len(inner) && inner[i] != '=' && !isNameSpace(inner[i]) {
			i++
		}
		attrName := string(inner[ns:i])
		for i < len(inner) && isNameSpace(inner[i]) {
			i++
		}
		if i >= len(inner) || inner[i] != '=' {
			return "", nil, syntaxErrorf(Name{Local: name}, "attribute %q missing value", attrName)
		}
		i++
		for i < len(inner) && isNameSpace(inner[i]) {
			i++
		}
		if i >= len(inner) || (inner[i] != '"' && inner[i] != '\'') {
			return "", nil, syntaxErrorf(Name{Local: name}, "attribute %q value is not quoted", attrName)
		}
		quote := inner[i]
		i++
		vs := i
		for i < len(inner) && inner[i] != quote {
			i++
		}
		if i >= len(inner) {
			return "", nil, syntaxErrorf(Name{Local: name}, "attribute %q value is not terminated", attrName)
		}
		value, err := decodeEntities(inner[vs:i])
		if err != nil {
			return "", nil, err
		}
		i++
		attrs = append(attrs, rawAttr{rawName: attrName, value: value})
	}
}

// decodeEntities expands character and predefined entity references.
func decodeEntities(s []byte) (string, error) {
	amp := bytes.IndexByte(s, '&')
	if amp < 0 {
		return string(s), nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		b.Write(s[:amp])
		s = s[amp:]
		semi := bytes.IndexByte(s, ';')
		if semi < 0 {
			return "", syntaxErrorf(Name{}, "unterminated entity reference %.20q", s)
		}
		ent := string(s[1:semi])
		switch {
		case ent == "lt":
			b.WriteByte('<')
		case ent == "gt":
			b.WriteByte('>')
		case ent == "amp":
			b.WriteByte('&')
		case ent == "apos":
			b.WriteByte('\'')
		case ent == "quot":
			b.WriteByte('"')
		case strings.HasPrefix(ent, "#x") || strings.HasPrefix(ent, "#X"):
			n, err := strconv.ParseInt(ent[2:], 16, 32)
			if err != nil {
				return "", syntaxErrorf(Name{}, "invalid character reference &%s;", ent)
			}
			b.WriteRune(rune(n))
		case strings.HasPrefix(ent, "#"):
			n, err := strconv.ParseInt(ent[1:], 10, 32)
			if err != nil {
				return "", syntaxErrorf(Name{}, "invalid character reference &%s;", ent)
			}
			b.WriteRune(rune(n))
		default:
			return "", syntaxErrorf(Name{}, "unknown entity &%s;", ent)
		}
		s = s[semi+1:]
		amp = bytes.IndexByte(s, '&')
		if amp < 0 {
			b.Write(s)
			return b.String(), nil
		}
	}
}
