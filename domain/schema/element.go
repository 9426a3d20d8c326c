package schema

// Element is one node of a parsed or constructed document. Fields stay
// unpopulated until first accessed; access drives the owning document's
// parse forward until the field materializes or this element's scope closes.
//
// Parent and document references are non-owning back-pointers; ownership
// runs from the document root downward.
type Element struct {
	typ     *Type
	doc     *Document
	parent  *Element
	fields  map[Name]any // *Element | []*Element | decoded value | []any
	content *string
	closed  bool
}

// NewElement constructs a detached element for programmatic assembly. Its
// scope counts as closed: accessors never wait for input.
func NewElement(t *Type) *Element {
	return &Element{typ: t, fields: make(map[Name]any), closed: true}
}

// Type returns the element's declared type.
func (e *Element) Type() *Type { return e.typ }

// Parent returns the enclosing element, or nil for the document root.
func (e *Element) Parent() *Element { return e.parent }

// Document returns the owning document, or nil for detached elements.
func (e *Element) Document() *Document { return e.doc }

// Closed reports whether the element's scope has ended: its end tag was
// observed, or it was built programmatically.
func (e *Element) Closed() bool { return e.closed }

// pull advances the document until done reports true, the element's scope
// closes, or input runs out.
func (e *Element) pull(done func() bool) {
	if e.doc == nil {
		return
	}
	for !done() && !e.closed {
		if !e.doc.step() {
			return
		}
	}
}

// Child returns the singular child bound to the tag, or nil when the scope
// closes without one.
func (e *Element) Child(local string) *Element { return e.ChildNS("", local) }

// ChildNS is Child with an explicit namespace.
func (e *Element) ChildNS(space, local string) *Element {
	n := Name{Space: space, Local: local}
	e.pull(func() bool { return e.fields[n] != nil })
	c, _ := e.fields[n].(*Element)
	return c
}

// Children returns a lazy view over the repeated child binding.
func (e *Element) Children(local string) *List { return e.ChildrenNS("", local) }

// ChildrenNS is Children with an explicit namespace.
func (e *Element) ChildrenNS(space, local string) *List {
	return &List{owner: e, name: Name{Space: space, Local: local}}
}

// Value returns the decoded text field bound to the tag, or nil when absent.
func (e *Element) Value(local string) any { return e.ValueNS("", local) }

// ValueNS is Value with an explicit namespace.
func (e *Element) ValueNS(space, local string) any {
	n := Name{Space: space, Local: local}
	e.pull(func() bool { return e.fields[n] != nil })
	return e.fields[n]
}

// Values returns every decoded value of a repeated text binding, in document
// order. It consumes the element's whole scope.
func (e *Element) Values(local string) []any {
	n := Name{Local: local}
	e.pull(func() bool { return false })
	vs, _ := e.fields[n].([]any)
	return vs
}

// Attr returns the decoded attribute value, or the descriptor's default when
// absent. Attributes arrive with the start tag, so no pulling is needed.
func (e *Element) Attr(local string) any { return e.AttrNS("", local) }

// AttrNS is Attr with an explicit namespace.
func (e *Element) AttrNS(space, local string) any {
	n := Name{Space: space, Local: local}
	if v, ok := e.fields[n]; ok {
		return v
	}
	if d := e.typ.AttrDescriptor(n); d != nil {
		return d.Default
	}
	return nil
}

// Content returns the element's character data, fully consuming its scope.
func (e *Element) Content() string {
	e.pull(func() bool { return e.content != nil })
	if e.content == nil {
		return ""
	}
	return *e.content
}

// SetChild assigns the singular child bound to the tag.
func (e *Element) SetChild(local string, c *Element) { e.SetChildNS("", local, c) }

// SetChildNS is SetChild with an explicit namespace.
func (e *Element) SetChildNS(space, local string, c *Element) {
	if c != nil {
		c.parent = e
	}
	e.fields[Name{Space: space, Local: local}] = c
}

// AddChild appends to the repeated child binding, preserving order.
func (e *Element) AddChild(local string, c *Element) { e.AddChildNS("", local, c) }

// AddChildNS is AddChild with an explicit namespace.
func (e *Element) AddChildNS(space, local string, c *Element) {
	n := Name{Space: space, Local: local}
	c.parent = e
	list, _ := e.fields[n].([]*Element)
	e.fields[n] = append(list, c)
}

// SetChildren replaces the repeated child binding wholesale.
func (e *Element) SetChildren(local string, cs []*Element) {
	n := Name{Local: local}
	for _, c := range cs {
		c.parent = e
	}
	if cs == nil {
		delete(e.fields, n)
		return
	}
	e.fields[n] = cs
}

// SetValue assigns a decoded text field.
func (e *Element) SetValue(local string, v any) { e.SetValueNS("", local, v) }

// SetValueNS is SetValue with an explicit namespace.
func (e *Element) SetValueNS(space, local string, v any) {
	n := Name{Space: space, Local: local}
	if v == nil {
		delete(e.fields, n)
		return
	}
	e.fields[n] = v
}

// SetAttr assigns a decoded attribute value.
func (e *Element) SetAttr(local string, v any) { e.SetAttrNS("", local, v) }

// SetAttrNS is SetAttr with an explicit namespace.
func (e *Element) SetAttrNS(space, local string, v any) {
	n := Name{Space: space, Local: local}
	if v == nil {
		delete(e.fields, n)
		return
	}
	e.fields[n] = v
}

// SetContent assigns the element's character data.
func (e *Element) SetContent(s string) { e.content = &s }

// Clone makes a detached shallow copy: field slots are copied, child
// elements are shared. Used for revision re-stamping without disturbing the
// original.
func (e *Element) Clone() *Element {
	e.pull(func() bool { return false })
	c := NewElement(e.typ)
	for k, v := range e.fields {
		c.fields[k] = v
	}
	c.content = e.content
	return c
}

// RequireValue is Value for descriptors declared Required: absence after the
// scope closed is a SchemaError. Required-ness is checked here, at the point
// of consumption, never eagerly by the parse engine.
func (e *Element) RequireValue(local string) (any, error) {
	if v := e.Value(local); v != nil {
		return v, nil
	}
	return nil, &SchemaError{Type: e.typ.name, Detail: "required field " + local + " is absent"}
}

// RequireChild is Child with the Required contract of RequireValue.
func (e *Element) RequireChild(local string) (*Element, error) {
	if c := e.Child(local); c != nil {
		return c, nil
	}
	return nil, &SchemaError{Type: e.typ.name, Detail: "required child " + local + " is absent"}
}

// RequireAttr is Attr with the Required contract of RequireValue.
func (e *Element) RequireAttr(local string) (any, error) {
	if v := e.Attr(local); v != nil {
		return v, nil
	}
	return nil, &SchemaError{Type: e.typ.name, Detail: "required attribute " + local + " is absent"}
}

// field returns the raw field slot for a descriptor.
func (e *Element) field(d *Descriptor) any {
	if d.Kind == KindAttr {
		if v, ok := e.fields[d.Name]; ok {
			return v
		}
		return d.Default
	}
	e.pull(func() bool { return e.fields[d.Name] != nil })
	return e.fields[d.Name]
}

// List is a lazy view over a repeated child binding. Indexing drives the
// parse only as far as the requested element's closing tag.
type List struct {
	owner *Element
	name  Name
}

func (l *List) current() []*Element {
	cs, _ := l.owner.fields[l.name].([]*Element)
	return cs
}

// At returns the i-th child in document order, or nil when the owner's scope
// closes before i+1 children appear. The returned element may still be open.
func (l *List) At(i int) *Element {
	l.owner.pull(func() bool {
		cs := l.current()
		return len(cs) > i && cs[i].closed
	})
	cs := l.current()
	if i >= len(cs) {
		return nil
	}
	return cs[i]
}

// Len consumes the owner's whole scope and returns the child count.
func (l *List) Len() int {
	l.owner.pull(func() bool { return false })
	return len(l.current())
}

// All consumes the owner's whole scope and returns every child.
func (l *List) All() []*Element {
	l.owner.pull(func() bool { return false })
	return l.current()
}
