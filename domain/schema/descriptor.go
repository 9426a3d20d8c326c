// Package schema implements a declarative, lazily-evaluated document model
// over streaming XML. A Type declares the valid child, text, and attribute
// bindings of one element kind; parsing materializes Element fields only as
// far as callers actually reach into the document.
package schema

import "fmt"

// Name is a namespace-qualified XML name. Space is the namespace URI, empty
// for names without a namespace.
type Name struct {
	Space, Local string
}

func (n Name) String() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// Kind distinguishes the three descriptor flavors.
type Kind uint8

const (
	KindChild Kind = iota + 1 // nested structured element
	KindText                  // leaf element bound to decoded character data
	KindAttr                  // attribute on the owning element
)

// Descriptor is an immutable binding between a qualified name and a typed
// field of an element type.
type Descriptor struct {
	Name     Name
	Kind     Kind
	Target   *Type // element type of the child, for KindChild
	Required bool
	Multiple bool
	Codecs   []Codec // decode transforms, applied in registration order
	Default  any     // value reported when an attribute is absent
}

// Type is the built, immutable schema of one element kind. Build one with
// New (or MustBuild) at package init; the tag index it carries is computed
// exactly once and shared by every element of the type.
type Type struct {
	name     string
	root     Name // document root tag; zero for non-document types
	prefixes map[string]string // namespace URI -> serialization prefix
	children map[Name]*Descriptor
	texts    map[Name]*Descriptor
	attrs    map[Name]*Descriptor
	order    []*Descriptor // registration order, drives canonical output
	content  *Descriptor   // at most one per type
	entityID func(*Element) string
	merge    func(newer, older *Element) *Element
}

// Name returns the declared type name.
func (t *Type) Name() string { return t.name }

// Root returns the required document root tag, or a zero Name for types that
// are not document roots.
func (t *Type) Root() Name { return t.root }

// Descriptors returns the type's descriptors in registration order.
func (t *Type) Descriptors() []*Descriptor { return t.order }

// ContentBinding returns the content descriptor, or nil.
func (t *Type) ContentBinding() *Descriptor { return t.content }

// ChildDescriptor looks up the child binding for a qualified tag.
func (t *Type) ChildDescriptor(n Name) *Descriptor { return t.children[n] }

// TextDescriptor looks up the text binding for a qualified tag.
func (t *Type) TextDescriptor(n Name) *Descriptor { return t.texts[n] }

// AttrDescriptor looks up the attribute binding for a qualified name.
func (t *Type) AttrDescriptor(n Name) *Descriptor { return t.attrs[n] }

// EntityID reports the domain identity of an element for merge matching,
// or "" when the type declares none.
func (t *Type) EntityID(e *Element) string {
	if t.entityID == nil {
		return ""
	}
	return t.entityID(e)
}

// Builder accumulates declarations for one Type. All methods record the
// first declaration error; New surfaces it.
type Builder struct {
	t   *Type
	err error
}

// Option adjusts a single descriptor declaration.
type Option func(*Descriptor)

// Required marks the descriptor as required. Exclusive with Multiple.
func Required() Option { return func(d *Descriptor) { d.Required = true } }

// Multiple marks the descriptor as repeatable. Exclusive with Required.
func Multiple() Option { return func(d *Descriptor) { d.Multiple = true } }

// Decode appends codecs to the descriptor's decode chain.
func Decode(codecs ...Codec) Option {
	return func(d *Descriptor) { d.Codecs = append(d.Codecs, codecs...) }
}

// Default sets the value reported when an attribute is absent.
func Default(v any) Option { return func(d *Descriptor) { d.Default = v } }

var selfTarget = &Type{name: "(self)"}

// Self is the child target placeholder for recursive types, resolved to the
// enclosing type when the build completes.
func Self() *Type { return selfTarget }

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = &SchemaError{Type: b.t.name, Detail: fmt.Sprintf(format, args...)}
	}
}

func (b *Builder) declare(d *Descriptor) {
	if d.Required && d.Multiple {
		b.fail("%s: required and multiple are exclusive", d.Name)
		return
	}
	t := b.t
	if t.children[d.Name] != nil || t.texts[d.Name] != nil {
		b.fail("%s: duplicate binding", d.Name)
		return
	}
	switch d.Kind {
	case KindChild:
		t.children[d.Name] = d
	case KindText:
		t.texts[d.Name] = d
	case KindAttr:
		if t.attrs[d.Name] != nil {
			b.fail("%s: duplicate attribute binding", d.Name)
			return
		}
		t.attrs[d.Name] = d
	}
	t.order = append(t.order, d)
}

// Root declares the required document root tag of the type.
func (b *Builder) Root(local string) { b.RootNS("", local) }

// RootNS declares a namespace-qualified document root tag.
func (b *Builder) RootNS(space, local string) {
	if b.t.root.Local != "" {
		b.fail("root tag declared twice")
		return
	}
	b.t.root = Name{Space: space, Local: local}
}

// Prefix registers the serialization prefix for a namespace URI.
func (b *Builder) Prefix(prefix, space string) {
	if b.t.prefixes == nil {
		b.t.prefixes = make(map[string]string)
	}
	b.t.prefixes[space] = prefix
}

// Child declares a nested element binding. Pass Self() as target for
// recursive types.
func (b *Builder) Child(local string, target *Type, opts ...Option) {
	b.ChildNS("", local, target, opts...)
}

// ChildNS declares a namespace-qualified nested element binding.
func (b *Builder) ChildNS(space, local string, target *Type, opts ...Option) {
	if target == nil {
		b.fail("%s: child target type is nil", local)
		return
	}
	d := &Descriptor{Name: Name{Space: space, Local: local}, Kind: KindChild, Target: target}
	for _, o := range opts {
		o(d)
	}
	b.declare(d)
}

// Text declares a leaf element whose character data decodes into a field.
func (b *Builder) Text(local string, opts ...Option) { b.TextNS("", local, opts...) }

// TextNS declares a namespace-qualified text binding.
func (b *Builder) TextNS(space, local string, opts ...Option) {
	d := &Descriptor{Name: Name{Space: space, Local: local}, Kind: KindText}
	for _, o := range opts {
		o(d)
	}
	b.declare(d)
}

// Attr declares an attribute binding on the element itself.
func (b *Builder) Attr(local string, opts ...Option) { b.AttrNS("", local, opts...) }

// AttrNS declares a namespace-qualified attribute binding.
func (b *Builder) AttrNS(space, local string, opts ...Option) {
	d := &Descriptor{Name: Name{Space: space, Local: local}, Kind: KindAttr}
	for _, o := range opts {
		o(d)
	}
	if d.Multiple {
		b.fail("%s: attributes cannot be multiple", d.Name)
		return
	}
	b.declare(d)
}

// Content declares that the type keeps its character data. At most one
// content binding per type; the data is exposed raw via Element.Content.
func (b *Builder) Content() {
	if b.t.content != nil {
		b.fail("second content binding")
		return
	}
	b.t.content = &Descriptor{Kind: KindText}
}

// EntityID declares the domain identity used to match entities during merge.
func (b *Builder) EntityID(fn func(*Element) string) { b.t.entityID = fn }

// Merge declares a custom entity-merge hook invoked for matched entities;
// newer is the side whose revision timestamp is later.
func (b *Builder) Merge(fn func(newer, older *Element) *Element) { b.t.merge = fn }

// New builds a Type from the declarations recorded by build. Declaration
// errors are reported here, at definition time, never at parse time.
func New(name string, build func(*Builder)) (*Type, error) {
	t := &Type{
		name:     name,
		children: make(map[Name]*Descriptor),
		texts:    make(map[Name]*Descriptor),
		attrs:    make(map[Name]*Descriptor),
	}
	b := &Builder{t: t}
	build(b)
	if b.err != nil {
		return nil, b.err
	}
	for _, d := range t.order {
		if d.Kind == KindChild && d.Target == selfTarget {
			d.Target = t
		}
	}
	return t, nil
}

// MustBuild is New that panics on a declaration error. Intended for
// package-level type definitions.
func MustBuild(name string, build func(*Builder)) *Type {
	t, err := New(name, build)
	if err != nil {
		panic(err)
	}
	return t
}
