package subscribe

import (
	"time"

	"github.com/feedvault/feedvault/domain/schema"
)

// tombstoneNudge orders a revival strictly after the deletion it undoes (and
// vice versa) even when the clock has not advanced since.
const tombstoneNudge = time.Microsecond

// Set is a live view over the outlines directly under one owner: the OPML
// body, or a category. Dead entries (tombstoned) are skipped by every
// accessor but stay in the document so merges see them.
type Set struct {
	owner *schema.Element
}

func (s Set) outlines() []*schema.Element {
	return s.owner.Children("outline").All()
}

// live reports whether the outline has not been tombstoned. An entry is dead
// only when its deleted timestamp is strictly after its created one; at equal
// instants the (re-)creation wins, so a revival still counts after the nudge
// collapses under second-precision serialization.
func live(e *schema.Element) bool {
	deletedAt, ok := e.Attr("deleted").(time.Time)
	if !ok {
		return true
	}
	createdAt, ok := e.Attr("created").(time.Time)
	return ok && !deletedAt.After(createdAt)
}

// Subscriptions returns the live feed entries, in document order.
func (s Set) Subscriptions() []*Subscription {
	var subs []*Subscription
	for _, o := range s.outlines() {
		if typ, _ := o.Attr("type").(string); typ == outlineTypeFeed && live(o) {
			subs = append(subs, &Subscription{el: o})
		}
	}
	return subs
}

// Categories returns the live category entries, in document order.
func (s Set) Categories() []*Category {
	var cats []*Category
	for _, o := range s.outlines() {
		if typ, _ := o.Attr("type").(string); typ != outlineTypeFeed && live(o) {
			cats = append(cats, &Category{Set: Set{owner: o}, el: o})
		}
	}
	return cats
}

// find returns the outline matching the entity id, dead or alive.
func (s Set) find(entityID string) *schema.Element {
	for _, o := range s.outlines() {
		if outlineEntityID(o) == entityID {
			return o
		}
	}
	return nil
}

// Contains reports whether the feed URI is subscribed here or in any nested
// category.
func (s Set) Contains(feedURI string) bool {
	for _, o := range s.outlines() {
		if !live(o) {
			continue
		}
		if typ, _ := o.Attr("type").(string); typ == outlineTypeFeed {
			if uri, _ := o.Attr("xmlUrl").(string); uri == feedURI {
				return true
			}
			continue
		}
		if (Set{owner: o}).Contains(feedURI) {
			return true
		}
	}
	return false
}

// revive stamps an outline as created at the given time, nudged past any
// earlier tombstone so the revival wins the merge against the deletion.
func revive(e *schema.Element, at time.Time) {
	if deletedAt, ok := e.Attr("deleted").(time.Time); ok && !at.After(deletedAt) {
		at = deletedAt.Add(tombstoneNudge)
	}
	e.SetAttr("created", at)
}

// Subscribe adds a feed entry, or revives and updates the existing one. The
// entry's label and URIs are refreshed either way.
func (s Set) Subscribe(label, feedURI, siteURI string, at time.Time) *Subscription {
	o := s.find("feed\x00" + feedURI)
	if o == nil {
		o = schema.NewElement(OutlineType)
		o.SetAttr("type", outlineTypeFeed)
		o.SetAttr("xmlUrl", feedURI)
		s.owner.AddChild("outline", o)
	}
	o.SetAttr("text", label)
	if siteURI != "" {
		o.SetAttr("htmlUrl", siteURI)
	}
	revive(o, at)
	return &Subscription{el: o}
}

// AddCategory adds a category entry, or revives the existing one.
func (s Set) AddCategory(label string, at time.Time) *Category {
	o := s.find("category\x00" + label)
	if o == nil {
		o = schema.NewElement(OutlineType)
		o.SetAttr("text", label)
		s.owner.AddChild("outline", o)
	}
	revive(o, at)
	return &Category{Set: Set{owner: o}, el: o}
}

// discard tombstones an outline, nudged past its creation so the deletion
// wins the merge against it.
func discard(e *schema.Element, at time.Time) {
	if createdAt, ok := e.Attr("created").(time.Time); ok && !at.After(createdAt) {
		at = createdAt.Add(tombstoneNudge)
	}
	e.SetAttr("deleted", at)
}

// Unsubscribe tombstones the feed entry. It reports whether a live entry was
// found.
func (s Set) Unsubscribe(feedURI string, at time.Time) bool {
	o := s.find("feed\x00" + feedURI)
	if o == nil || !live(o) {
		return false
	}
	discard(o, at)
	return true
}

// DiscardCategory tombstones the category entry. Its nested outlines stay in
// the document; they come back if the category is revived.
func (s Set) DiscardCategory(label string, at time.Time) bool {
	o := s.find("category\x00" + label)
	if o == nil || !live(o) {
		return false
	}
	discard(o, at)
	return true
}

// Subscription is a live feed entry.
type Subscription struct {
	el *schema.Element
}

// Element returns the underlying outline.
func (s *Subscription) Element() *schema.Element { return s.el }

// Label returns the display label.
func (s *Subscription) Label() string {
	label, _ := s.el.Attr("text").(string)
	return label
}

// FeedURI returns the feed document URI.
func (s *Subscription) FeedURI() string {
	uri, _ := s.el.Attr("xmlUrl").(string)
	return uri
}

// SiteURI returns the human-facing site URI, or "".
func (s *Subscription) SiteURI() string {
	uri, _ := s.el.Attr("htmlUrl").(string)
	return uri
}

// FeedID returns the archive identifier derived from the feed URI.
func (s *Subscription) FeedID() string { return FeedID(s.FeedURI()) }

// CreatedAt returns when the entry was (last) added.
func (s *Subscription) CreatedAt() time.Time {
	at, _ := s.el.Attr("created").(time.Time)
	return at
}

// Category is a live category entry. Its embedded Set views the outlines
// nested under it, so categories compose recursively.
type Category struct {
	Set
	el *schema.Element
}

// Element returns the underlying outline.
func (c *Category) Element() *schema.Element { return c.el }

// Label returns the category label, which is also its merge identity.
func (c *Category) Label() string {
	label, _ := c.el.Attr("text").(string)
	return label
}
