package schema

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Write serializes a document element canonically: fields in descriptor
// registration order, namespace declarations sorted, no indentation. Two
// logically equal documents therefore produce byte-identical output, which
// callers rely on for content hashing and diffing.
//
// Writing a lazily-parsed element drains its document first; parse errors
// discovered during the drain are returned.
func Write(w io.Writer, e *Element) error {
	return write(w, e, "")
}

// WriteIndent is Write with newline-and-indent formatting for humans. The
// output is not canonical.
func WriteIndent(w io.Writer, e *Element, indent string) error {
	if indent == "" {
		indent = "  "
	}
	return write(w, e, indent)
}

func write(w io.Writer, e *Element, indent string) error {
	if e.doc != nil {
		if err := e.doc.Drain(); err != nil {
			return err
		}
	}
	pw := &printer{w: w, indent: indent, prefixes: gatherPrefixes(e.typ)}
	if _, err := io.WriteString(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>"); err != nil {
		return err
	}
	pw.newline(0)
	name := e.typ.Root()
	if name.Local == "" {
		name = Name{Local: e.typ.Name()}
	}
	return pw.element(name, e, 0, true)
}

// gatherPrefixes assigns a serialization prefix to every namespace reachable
// from the type's descriptor graph. Registered prefixes win; the rest get
// ns1, ns2, ... in sorted URI order for determinism.
func gatherPrefixes(t *Type) map[string]string {
	spaces := map[string]bool{}
	seen := map[*Type]bool{}
	var walk func(*Type)
	walk = func(t *Type) {
		if seen[t] {
			return
		}
		seen[t] = true
		if t.root.Space != "" {
			spaces[t.root.Space] = true
		}
		for _, d := range t.order {
			if d.Name.Space != "" {
				spaces[d.Name.Space] = true
			}
			if d.Kind == KindChild {
				walk(d.Target)
			}
		}
	}
	walk(t)

	prefixes := make(map[string]string)
	var unassigned []string
	for space := range spaces {
		if p, ok := t.prefixes[space]; ok {
			prefixes[space] = p
		} else {
			unassigned = append(unassigned, space)
		}
	}
	sort.Strings(unassigned)
	for i, space := range unassigned {
		prefixes[space] = fmt.Sprintf("ns%d", i+1)
	}
	return prefixes
}

type printer struct {
	w        io.Writer
	indent   string
	prefixes map[string]string
}

func (p *printer) newline(depth int) {
	if p.indent == "" {
		return
	}
	io.WriteString(p.w, "\n")
	io.WriteString(p.w, strings.Repeat(p.indent, depth))
}

func (p *printer) qualify(n Name, isAttr bool) string {
	if n.Space == "" {
		return n.Local
	}
	prefix := p.prefixes[n.Space]
	if prefix == "" {
		if isAttr {
			// The default namespace never applies to attributes.
			return "ns0:" + n.Local
		}
		return n.Local
	}
	return prefix + ":" + n.Local
}

func (p *printer) element(name Name, e *Element, depth int, isRoot bool) error {
	tag := p.qualify(name, false)
	if _, err := io.WriteString(p.w, "<"+tag); err != nil {
		return err
	}
	if isRoot {
		if err := p.namespaceDecls(); err != nil {
			return err
		}
	}
	for _, d := range e.typ.order {
		if d.Kind != KindAttr {
			continue
		}
		v, ok := e.fields[d.Name]
		if !ok || v == nil {
			continue
		}
		s, err := encodeChain(d.Codecs, v)
		if err != nil {
			return err
		}
		attr := p.qualify(d.Name, true)
		if _, err := io.WriteString(p.w, " "+attr+"=\""+escapeAttr(s)+"\""); err != nil {
			return err
		}
	}

	body, err := p.body(e, depth)
	if err != nil {
		return err
	}
	if !body {
		_, err := io.WriteString(p.w, "/>")
		return err
	}
	_, err = io.WriteString(p.w, "</"+tag+">")
	return err
}

// body emits content and fields; it reports whether the element had any,
// closing the start tag lazily so empty elements collapse to <tag/>.
func (p *printer) body(e *Element, depth int) (bool, error) {
	open := false
	openTag := func() error {
		if open {
			return nil
		}
		open = true
		_, err := io.WriteString(p.w, ">")
		return err
	}

	if e.typ.ContentBinding() != nil && e.content != nil && *e.content != "" {
		if err := openTag(); err != nil {
			return open, err
		}
		if _, err := io.WriteString(p.w, escapeText(*e.content)); err != nil {
			return open, err
		}
	}

	childCount := 0
	for _, d := range e.typ.order {
		if d.Kind == KindAttr {
			continue
		}
		v, ok := e.fields[d.Name]
		if !ok || v == nil {
			continue
		}
		emit := func(one any) error {
			if err := openTag(); err != nil {
				return err
			}
			childCount++
			p.newline(depth + 1)
			switch d.Kind {
			case KindChild:
				return p.element(d.Name, one.(*Element), depth+1, false)
			case KindText:
				s, err := encodeChain(d.Codecs, one)
				if err != nil {
					return err
				}
				tag := p.qualify(d.Name, false)
				if s == "" {
					_, err = io.WriteString(p.w, "<"+tag+"/>")
					return err
				}
				_, err = io.WriteString(p.w, "<"+tag+">"+escapeText(s)+"</"+tag+">")
				return err
			}
			return nil
		}
		switch vv := v.(type) {
		case []*Element:
			for _, c := range vv {
				if err := emit(c); err != nil {
					return open, err
				}
			}
		case []any:
			for _, one := range vv {
				if err := emit(one); err != nil {
					return open, err
				}
			}
		default:
			if err := emit(v); err != nil {
				return open, err
			}
		}
	}
	if childCount > 0 {
		p.newline(depth)
	}
	return open, nil
}

func (p *printer) namespaceDecls() error {
	type decl struct{ attr, uri string }
	var decls []decl
	for space, prefix := range p.prefixes {
		attr := "xmlns"
		if prefix != "" {
			attr += ":" + prefix
		}
		decls = append(decls, decl{attr: attr, uri: space})
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].attr < decls[j].attr })
	for _, d := range decls {
		if _, err := io.WriteString(p.w, " "+d.attr+"=\""+escapeAttr(d.uri)+"\""); err != nil {
			return err
		}
	}
	return nil
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var attrEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;", "\n", "&#10;", "\t", "&#9;",
)

func escapeText(s string) string { return textEscaper.Replace(s) }

func escapeAttr(s string) string { return attrEscaper.Replace(s) }
