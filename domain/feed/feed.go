// Package feed models the archived form of a syndication feed: an Atom-style
// document enriched with per-entry marks (read, starred) in a private
// namespace. Archived feeds are mergeable documents, so marks made on
// different devices reconcile by their own timestamps.
package feed

import (
	"time"

	"github.com/feedvault/feedvault/domain/schema"
	"github.com/feedvault/feedvault/domain/session"
)

// XMLNS is the Atom namespace archived feeds are rooted in.
const XMLNS = "http://www.w3.org/2005/Atom"

// MarkXMLNS is the namespace of the archive's own per-entry annotations.
const MarkXMLNS = "http://feedvault.io/mark/"

// TextType is an Atom text construct: a title, summary, or content element
// with a type attribute and raw character data.
var TextType = schema.MustBuild("feed.Text", func(b *schema.Builder) {
	b.Attr("type", schema.Default("text"))
	b.Content()
})

// LinkType is an Atom <link>.
var LinkType = schema.MustBuild("feed.Link", func(b *schema.Builder) {
	b.Attr("href", schema.Required())
	b.Attr("rel", schema.Default("alternate"))
	b.Attr("type")
	b.Attr("title")
	b.EntityID(func(e *schema.Element) string {
		rel, _ := e.Attr("rel").(string)
		href, _ := e.Attr("href").(string)
		return rel + "\x00" + href
	})
})

// PersonType is an Atom person construct (<author>, <contributor>).
var PersonType = schema.MustBuild("feed.Person", func(b *schema.Builder) {
	b.TextNS(XMLNS, "name", schema.Required())
	b.TextNS(XMLNS, "uri")
	b.TextNS(XMLNS, "email")
	b.EntityID(func(e *schema.Element) string {
		name, _ := e.ValueNS(XMLNS, "name").(string)
		return name
	})
})

// MarkType is one boolean annotation on an entry. The content holds the flag,
// the updated attribute orders competing flips: the later mark wins a merge
// no matter which document revision is newer.
var MarkType = schema.MustBuild("feed.Mark", func(b *schema.Builder) {
	b.Attr("updated", schema.Decode(schema.RFC3339{PreferUTC: true}), schema.Required())
	b.Content()
	b.Merge(func(newer, older *schema.Element) *schema.Element {
		nt, _ := newer.Attr("updated").(time.Time)
		ot, _ := older.Attr("updated").(time.Time)
		if ot.After(nt) {
			return older
		}
		return newer
	})
})

// EntryType is one archived feed entry.
var EntryType = schema.MustBuild("feed.Entry", func(b *schema.Builder) {
	b.TextNS(XMLNS, "id", schema.Required())
	b.TextNS(XMLNS, "updated", schema.Decode(schema.RFC3339{PreferUTC: true}), schema.Required())
	b.TextNS(XMLNS, "published", schema.Decode(schema.RFC3339{PreferUTC: true}))
	b.ChildNS(XMLNS, "title", TextType, schema.Required())
	b.ChildNS(XMLNS, "summary", TextType)
	b.ChildNS(XMLNS, "content", TextType)
	b.ChildNS(XMLNS, "link", LinkType, schema.Multiple())
	b.ChildNS(XMLNS, "author", PersonType, schema.Multiple())
	b.ChildNS(MarkXMLNS, "read", MarkType)
	b.ChildNS(MarkXMLNS, "starred", MarkType)
	b.EntityID(func(e *schema.Element) string {
		id, _ := e.ValueNS(XMLNS, "id").(string)
		return id
	})
})

// FeedType is the archived feed document root.
var FeedType = schema.MustBuild("feed.Feed", func(b *schema.Builder) {
	b.RootNS(XMLNS, "feed")
	session.Mergeable(b)
	b.Prefix("", XMLNS)
	b.Prefix("fv", MarkXMLNS)
	b.TextNS(XMLNS, "id", schema.Required())
	b.TextNS(XMLNS, "updated", schema.Decode(schema.RFC3339{PreferUTC: true}), schema.Required())
	b.ChildNS(XMLNS, "title", TextType, schema.Required())
	b.ChildNS(XMLNS, "subtitle", TextType)
	b.ChildNS(XMLNS, "link", LinkType, schema.Multiple())
	b.ChildNS(XMLNS, "author", PersonType, schema.Multiple())
	b.ChildNS(XMLNS, "entry", EntryType, schema.Multiple())
})

// Feed wraps an archived feed document.
type Feed struct {
	el *schema.Element
}

// New builds an empty archived feed.
func New(id, title string, updated time.Time) *Feed {
	root := schema.NewElement(FeedType)
	root.SetValueNS(XMLNS, "id", id)
	root.SetValueNS(XMLNS, "updated", updated.UTC())
	t := schema.NewElement(TextType)
	t.SetContent(title)
	root.SetChildNS(XMLNS, "title", t)
	return &Feed{el: root}
}

// Wrap views an existing document as an archived feed.
func Wrap(el *schema.Element) *Feed { return &Feed{el: el} }

// Element returns the underlying document root.
func (f *Feed) Element() *schema.Element { return f.el }

// ID returns the feed's Atom identifier.
func (f *Feed) ID() string {
	id, _ := f.el.ValueNS(XMLNS, "id").(string)
	return id
}

// Title returns the feed title text.
func (f *Feed) Title() string {
	if t := f.el.ChildNS(XMLNS, "title"); t != nil {
		return t.Content()
	}
	return ""
}

// UpdatedAt returns the feed-level update time.
func (f *Feed) UpdatedAt() time.Time {
	at, _ := f.el.ValueNS(XMLNS, "updated").(time.Time)
	return at
}

// SetUpdatedAt sets the feed-level update time.
func (f *Feed) SetUpdatedAt(at time.Time) {
	f.el.SetValueNS(XMLNS, "updated", at.UTC())
}

// Entries returns every archived entry, in document order.
func (f *Feed) Entries() []*Entry {
	els := f.el.ChildrenNS(XMLNS, "entry").All()
	entries := make([]*Entry, len(els))
	for i, el := range els {
		entries[i] = &Entry{el: el}
	}
	return entries
}

// Entry returns the archived entry with the given Atom id, or nil.
func (f *Feed) Entry(id string) *Entry {
	for _, e := range f.Entries() {
		if e.ID() == id {
			return e
		}
	}
	return nil
}

// Upsert adds the entry, or replaces the archived one with the same id while
// keeping its marks. Marks belong to the reader, not the publisher.
func (f *Feed) Upsert(e *Entry) {
	entries := f.el.ChildrenNS(XMLNS, "entry").All()
	for i, old := range entries {
		oldID, _ := old.ValueNS(XMLNS, "id").(string)
		if oldID != e.ID() {
			continue
		}
		for _, mark := range []string{"read", "starred"} {
			if m := old.ChildNS(MarkXMLNS, mark); m != nil && e.el.ChildNS(MarkXMLNS, mark) == nil {
				e.el.SetChildNS(MarkXMLNS, mark, m)
			}
		}
		entries[i] = e.el
		f.setEntries(entries)
		return
	}
	f.el.AddChildNS(XMLNS, "entry", e.el)
}

func (f *Feed) setEntries(els []*schema.Element) {
	// SetChildren only handles unqualified names; assign through the
	// qualified setter one by one.
	f.el.SetValueNS(XMLNS, "entry", nil)
	for _, el := range els {
		f.el.AddChildNS(XMLNS, "entry", el)
	}
}

// Entry wraps one archived feed entry.
type Entry struct {
	el *schema.Element
}

// NewEntry builds an archived entry.
func NewEntry(id, title string, updated time.Time) *Entry {
	el := schema.NewElement(EntryType)
	el.SetValueNS(XMLNS, "id", id)
	el.SetValueNS(XMLNS, "updated", updated.UTC())
	t := schema.NewElement(TextType)
	t.SetContent(title)
	el.SetChildNS(XMLNS, "title", t)
	return &Entry{el: el}
}

// WrapEntry views an existing element as an archived entry.
func WrapEntry(el *schema.Element) *Entry { return &Entry{el: el} }

// Element returns the underlying element.
func (e *Entry) Element() *schema.Element { return e.el }

// ID returns the entry's Atom identifier, its merge identity.
func (e *Entry) ID() string {
	id, _ := e.el.ValueNS(XMLNS, "id").(string)
	return id
}

// Title returns the entry title text.
func (e *Entry) Title() string {
	if t := e.el.ChildNS(XMLNS, "title"); t != nil {
		return t.Content()
	}
	return ""
}

// UpdatedAt returns the entry's update time.
func (e *Entry) UpdatedAt() time.Time {
	at, _ := e.el.ValueNS(XMLNS, "updated").(time.Time)
	return at
}

// SetContent sets the entry's content text.
func (e *Entry) SetContent(text string) {
	t := schema.NewElement(TextType)
	t.SetContent(text)
	e.el.SetChildNS(XMLNS, "content", t)
}

// Content returns the entry's content text, or "".
func (e *Entry) Content() string {
	if t := e.el.ChildNS(XMLNS, "content"); t != nil {
		return t.Content()
	}
	return ""
}

// AddLink appends a link.
func (e *Entry) AddLink(rel, href string) {
	l := schema.NewElement(LinkType)
	l.SetAttr("rel", rel)
	l.SetAttr("href", href)
	e.el.AddChildNS(XMLNS, "link", l)
}

func markValue(el *schema.Element, local string) bool {
	m := el.ChildNS(MarkXMLNS, local)
	return m != nil && m.Content() == "true"
}

func setMark(el *schema.Element, local string, v bool, at time.Time) {
	m := schema.NewElement(MarkType)
	m.SetAttr("updated", at.UTC())
	if v {
		m.SetContent("true")
	} else {
		m.SetContent("false")
	}
	el.SetChildNS(MarkXMLNS, local, m)
}

// Read reports whether the entry is marked read.
func (e *Entry) Read() bool { return markValue(e.el, "read") }

// SetRead flips the read mark at the given time.
func (e *Entry) SetRead(v bool, at time.Time) { setMark(e.el, "read", v, at) }

// Starred reports whether the entry is starred.
func (e *Entry) Starred() bool { return markValue(e.el, "starred") }

// SetStarred flips the starred mark at the given time.
func (e *Entry) SetStarred(v bool, at time.Time) { setMark(e.el, "starred", v, at) }
