// Package subscribe models the OPML subscription list: which feeds the user
// follows and how they are grouped into categories. Lists are mergeable
// documents; removal is recorded as a tombstone so that deleting on one
// device survives a merge with a device that still carries the entry.
package subscribe

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/feedvault/feedvault/domain/schema"
	"github.com/feedvault/feedvault/domain/session"
)

// Outline type names recognized in the type attribute. Anything that is not
// a feed is treated as a category.
const outlineTypeFeed = "rss"

// OutlineType is one <outline> entry: a feed subscription when its type
// attribute says so, a category otherwise. Categories nest outlines
// recursively.
var OutlineType = schema.MustBuild("subscribe.Outline", func(b *schema.Builder) {
	b.Attr("text", schema.Required())
	b.Attr("title")
	b.Attr("type")
	b.Attr("xmlUrl")
	b.Attr("htmlUrl")
	b.Attr("category", schema.Decode(schema.CommaSeparated{}))
	b.Attr("created", schema.Decode(schema.RFC822{}))
	b.Attr("deleted", schema.Decode(schema.RFC822{}))
	b.Child("outline", schema.Self(), schema.Multiple())
	b.EntityID(outlineEntityID)
	b.Merge(mergeOutlines)
})

// HeadType is the OPML <head>.
var HeadType = schema.MustBuild("subscribe.Head", func(b *schema.Builder) {
	b.Text("title")
	b.Text("ownerName")
	b.Text("ownerEmail")
	b.Text("ownerId")
	b.Text("dateCreated", schema.Decode(schema.RFC822{}))
	b.Text("dateModified", schema.Decode(schema.RFC822{}))
})

// BodyType is the OPML <body>, the root of the outline tree.
var BodyType = schema.MustBuild("subscribe.Body", func(b *schema.Builder) {
	b.Child("outline", OutlineType, schema.Multiple())
})

// ListType is the OPML document root.
var ListType = schema.MustBuild("subscribe.SubscriptionList", func(b *schema.Builder) {
	b.Root("opml")
	session.Mergeable(b)
	b.Attr("version", schema.Default("2.0"))
	b.Child("head", HeadType)
	b.Child("body", BodyType, schema.Required())
})

// outlineEntityID matches outlines across merges: feeds by their document
// URI, categories by their label. The kind marker keeps a feed and a
// category with colliding names from matching each other.
func outlineEntityID(e *schema.Element) string {
	if typ, _ := e.Attr("type").(string); typ == outlineTypeFeed {
		if uri, ok := e.Attr("xmlUrl").(string); ok {
			return "feed\x00" + uri
		}
	}
	label, _ := e.Attr("text").(string)
	return "category\x00" + label
}

// mergeOutlines reconciles two versions of the same outline. Fields follow
// the default newer-wins merge; the created and deleted tombstone timestamps
// instead keep the later value from either side, so a deletion is never
// resurrected by merging with a copy that predates it.
func mergeOutlines(newer, older *schema.Element) *schema.Element {
	merged := schema.MergeFields(newer, older)
	if at, ok := laterTime(newer.Attr("created"), older.Attr("created")); ok {
		merged.SetAttr("created", at)
	}
	if at, ok := laterTime(newer.Attr("deleted"), older.Attr("deleted")); ok {
		merged.SetAttr("deleted", at)
	}
	return merged
}

func laterTime(a, b any) (time.Time, bool) {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	switch {
	case aok && bok:
		if bt.After(at) {
			return bt, true
		}
		return at, true
	case aok:
		return at, true
	case bok:
		return bt, true
	}
	return time.Time{}, false
}

// FeedID derives the stable archive identifier of a feed from its document
// URI. The identifier doubles as a repository key segment, so it must stay
// short, case-insensitive-safe, and free of separators.
func FeedID(uri string) string {
	sum := blake2b.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:20])
}

// SubscriptionList wraps the OPML document root.
type SubscriptionList struct {
	el *schema.Element
}

// NewSubscriptionList builds an empty list with a fresh head and body.
func NewSubscriptionList(title string, at time.Time) *SubscriptionList {
	root := schema.NewElement(ListType)
	root.SetAttr("version", "2.0")
	head := schema.NewElement(HeadType)
	head.SetValue("title", title)
	head.SetValue("dateCreated", at)
	root.SetChild("head", head)
	root.SetChild("body", schema.NewElement(BodyType))
	return &SubscriptionList{el: root}
}

// WrapSubscriptionList views an existing document as a subscription list.
func WrapSubscriptionList(el *schema.Element) *SubscriptionList {
	return &SubscriptionList{el: el}
}

// Element returns the underlying document root.
func (l *SubscriptionList) Element() *schema.Element { return l.el }

// Title returns the list title from the head, or "".
func (l *SubscriptionList) Title() string {
	head := l.el.Child("head")
	if head == nil {
		return ""
	}
	title, _ := head.Value("title").(string)
	return title
}

// SetTitle sets the list title, creating the head as needed.
func (l *SubscriptionList) SetTitle(title string) {
	head := l.el.Child("head")
	if head == nil {
		head = schema.NewElement(HeadType)
		l.el.SetChild("head", head)
	}
	head.SetValue("title", title)
}

// body returns the outline tree root, creating it for documents parsed from
// sources that omit it.
func (l *SubscriptionList) body() *schema.Element {
	body := l.el.Child("body")
	if body == nil {
		body = schema.NewElement(BodyType)
		l.el.SetChild("body", body)
	}
	return body
}

// Set returns the top-level subscription set.
func (l *SubscriptionList) Set() Set { return Set{owner: l.body()} }
