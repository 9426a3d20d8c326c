package schema

import (
	"io"
	"strings"
)

// Document owns a parsed tree and the live parse state: the tokenizer, the
// unconsumed tail of the chunk source, and the stack of open element scopes.
// Field access on any element of the tree drives the document forward one
// chunk at a time.
type Document struct {
	typ  *Type
	root *Element
	src  ChunkSource
	tok  *tokenizer

	frames    []parseFrame
	finished  bool // root end tag observed
	exhausted bool // chunk source returned io.EOF
	err       error
	chunks    int // chunks consumed, for laziness instrumentation
}

type parseFrame struct {
	name Name
	desc *Descriptor // nil for the document root
	elem *Element    // nil for text-leaf frames
	text []string
}

// Parse begins reading a document of the given type from src. It consumes
// only as many chunks as needed to observe the root start tag; a root tag
// that does not match the type's declared root fails with SyntaxError.
func Parse(t *Type, src ChunkSource) (*Document, error) {
	if t.Root().Local == "" {
		return nil, &SchemaError{Type: t.name, Detail: "type declares no document root tag"}
	}
	d := &Document{typ: t, src: src}
	d.tok = newTokenizer(d)
	for d.root == nil {
		if !d.step() {
			if d.err != nil {
				return nil, d.err
			}
			return nil, syntaxErrorf(Name{}, "document has no root element")
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d, nil
}

// Root returns the document element. Its fields materialize on access.
func (d *Document) Root() *Element { return d.root }

// Type returns the declared document type.
func (d *Document) Type() *Type { return d.typ }

// Err returns the sticky parse error, if any. Lazy accessors stop making
// progress once an error is recorded; callers that need to distinguish a
// truncated or malformed document from mere absence check here.
func (d *Document) Err() error { return d.err }

// Done reports whether the root element's end tag has been observed.
func (d *Document) Done() bool { return d.finished }

// ChunksRead reports how many chunks have been consumed from the source.
func (d *Document) ChunksRead() int { return d.chunks }

// Drain consumes the remainder of the document and returns the parse error,
// if any. Serialization uses it to force full materialization.
func (d *Document) Drain() error {
	for d.step() {
	}
	return d.err
}

// step feeds exactly one more chunk into the tokenizer. It returns false
// when no further progress is possible: source exhausted, parse finished, or
// an error recorded.
func (d *Document) step() bool {
	if d.err != nil || d.exhausted {
		return false
	}
	chunk, err := d.src.Next()
	if err == io.EOF {
		d.exhausted = true
		if ferr := d.tok.finish(); ferr != nil {
			d.err = ferr
		}
		return false
	}
	if err != nil {
		d.err = err
		return false
	}
	d.chunks++
	if err := d.tok.feed(chunk); err != nil {
		d.err = err
		return false
	}
	return true
}

// startElement implements tokenSink. It resolves the tag against the parent
// scope's indexed child table and pushes a new frame.
func (d *Document) startElement(n Name, attrs []attrPair) error {
	if len(d.frames) == 0 {
		if d.finished {
			return syntaxErrorf(n, "content after document element")
		}
		if n != d.typ.Root() {
			return syntaxErrorf(n, "document element must be <%s>", d.typ.Root())
		}
		root := &Element{typ: d.typ, doc: d, fields: make(map[Name]any)}
		if err := applyAttrs(root, attrs); err != nil {
			return err
		}
		d.root = root
		d.frames = append(d.frames, parseFrame{name: n, elem: root})
		return nil
	}

	top := &d.frames[len(d.frames)-1]
	if top.elem == nil {
		return syntaxErrorf(n, "element inside text field <%s>", top.name)
	}
	pt := top.elem.typ
	if cd := pt.ChildDescriptor(n); cd != nil {
		child := &Element{typ: cd.Target, doc: d, parent: top.elem, fields: make(map[Name]any)}
		if err := applyAttrs(child, attrs); err != nil {
			return err
		}
		if cd.Multiple {
			list, _ := top.elem.fields[n].([]*Element)
			top.elem.fields[n] = append(list, child)
		} else {
			top.elem.fields[n] = child
		}
		d.frames = append(d.frames, parseFrame{name: n, desc: cd, elem: child})
		return nil
	}
	if td := pt.TextDescriptor(n); td != nil {
		d.frames = append(d.frames, parseFrame{name: n, desc: td})
		return nil
	}
	return syntaxErrorf(n, "unexpected element in <%s>", top.name)
}

// charData implements tokenSink, buffering text on the innermost frame.
func (d *Document) charData(text string) error {
	if len(d.frames) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return syntaxErrorf(Name{}, "character data outside document element")
	}
	top := &d.frames[len(d.frames)-1]
	top.text = append(top.text, text)
	return nil
}

// endElement implements tokenSink: finalize the frame's buffered text and
// pop it.
func (d *Document) endElement(n Name) error {
	top := d.frames[len(d.frames)-1]
	d.frames = d.frames[:len(d.frames)-1]
	text := strings.Join(top.text, "")

	if top.elem != nil {
		if top.elem.typ.ContentBinding() != nil {
			top.elem.content = &text
		}
		top.elem.closed = true
		if len(d.frames) == 0 {
			d.finished = true
		}
		return nil
	}

	// Text-leaf frame: apply the decode chain in registration order and
	// store the result on the parent element.
	v, err := decodeChain(top.desc.Codecs, text)
	if err != nil {
		return err
	}
	parent := d.frames[len(d.frames)-1].elem
	if top.desc.Multiple {
		list, _ := parent.fields[n].([]any)
		parent.fields[n] = append(list, v)
	} else {
		parent.fields[n] = v
	}
	return nil
}

// applyAttrs decodes declared attributes eagerly; undeclared attributes are
// ignored so documents with vendor extensions still parse.
func applyAttrs(e *Element, attrs []attrPair) error {
	for _, a := range attrs {
		d := e.typ.AttrDescriptor(a.name)
		if d == nil {
			continue
		}
		v, err := decodeChain(d.Codecs, a.value)
		if err != nil {
			return err
		}
		e.fields[a.name] = v
	}
	return nil
}
