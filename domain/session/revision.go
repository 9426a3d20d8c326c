package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/feedvault/feedvault/domain/schema"
)

const revisionTimeLayout = "2006-01-02T15:04:05.999999Z07:00"

// Revision records which session produced a document version and when.
type Revision struct {
	Session   *Session
	UpdatedAt time.Time
}

// IsZero reports whether the document carrying this revision is unstamped.
func (r Revision) IsZero() bool { return r.Session == nil }

// Encode renders the wire format "<identifier> <rfc3339-utc>". Other tools
// parse this, so the shape is a compatibility boundary.
func (r Revision) Encode() string {
	return r.Session.Identifier() + " " + r.UpdatedAt.UTC().Format(revisionTimeLayout)
}

func (r Revision) String() string { return r.Encode() }

// DecodeRevision parses the wire format produced by Encode.
func DecodeRevision(text string) (Revision, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return Revision{}, fmt.Errorf("session: invalid revision %q", text)
	}
	s, err := New(fields[0])
	if err != nil {
		return Revision{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, fields[1])
	if err != nil {
		return Revision{}, fmt.Errorf("session: invalid revision timestamp %q", fields[1])
	}
	return Revision{Session: s, UpdatedAt: at.UTC()}, nil
}

// RevisionSet records, per session, the latest revision a document's content
// is known to include. It only ever grows: every merge unions both sides.
type RevisionSet map[*Session]time.Time

// Contains reports whether the revision no longer needs to be merged in.
func (rs RevisionSet) Contains(r Revision) bool {
	if r.IsZero() {
		return false
	}
	at, ok := rs[r.Session]
	return ok && !at.Before(r.UpdatedAt)
}

// Copy returns an independent copy of the set.
func (rs RevisionSet) Copy() RevisionSet {
	c := make(RevisionSet, len(rs))
	for s, at := range rs {
		c[s] = at
	}
	return c
}

// Merge unions the sets, keeping the latest time per session.
func (rs RevisionSet) Merge(others ...RevisionSet) RevisionSet {
	merged := rs.Copy()
	for _, other := range others {
		for s, at := range other {
			if cur, ok := merged[s]; !ok || at.After(cur) {
				merged[s] = at
			}
		}
	}
	return merged
}

// Add records a revision, keeping the latest time for its session.
func (rs RevisionSet) Add(r Revision) {
	if r.IsZero() {
		return
	}
	if cur, ok := rs[r.Session]; !ok || r.UpdatedAt.After(cur) {
		rs[r.Session] = r.UpdatedAt
	}
}

// Encode renders the set as revision tokens in descending timestamp order,
// separated by ",\n". The form is stable, so stored sets diff cleanly.
func (rs RevisionSet) Encode() string {
	revs := make([]Revision, 0, len(rs))
	for s, at := range rs {
		revs = append(revs, Revision{Session: s, UpdatedAt: at})
	}
	sort.Slice(revs, func(i, j int) bool {
		if !revs[i].UpdatedAt.Equal(revs[j].UpdatedAt) {
			return revs[i].UpdatedAt.After(revs[j].UpdatedAt)
		}
		return revs[i].Session.Identifier() < revs[j].Session.Identifier()
	})
	tokens := make([]string, len(revs))
	for i, r := range revs {
		tokens[i] = r.Encode()
	}
	return strings.Join(tokens, ",\n")
}

// DecodeRevisionSet parses the text form produced by Encode.
func DecodeRevisionSet(text string) (RevisionSet, error) {
	rs := make(RevisionSet)
	if strings.TrimSpace(text) == "" {
		return rs, nil
	}
	for _, token := range strings.Split(text, ",") {
		r, err := DecodeRevision(strings.TrimSpace(token))
		if err != nil {
			return nil, err
		}
		rs.Add(r)
	}
	return rs, nil
}

// RevisionCodec bridges Revision values into schema attribute bindings.
type RevisionCodec struct{}

func (RevisionCodec) Decode(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("session: revision codec expects text, got %T", v)
	}
	return DecodeRevision(s)
}

func (RevisionCodec) Encode(v any) (any, error) {
	r, ok := v.(Revision)
	if !ok {
		return nil, fmt.Errorf("session: revision codec expects Revision, got %T", v)
	}
	return r.Encode(), nil
}

// RevisionSetCodec bridges RevisionSet values into schema attribute bindings.
type RevisionSetCodec struct{}

func (RevisionSetCodec) Decode(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("session: revision set codec expects text, got %T", v)
	}
	return DecodeRevisionSet(s)
}

func (RevisionSetCodec) Encode(v any) (any, error) {
	rs, ok := v.(RevisionSet)
	if !ok {
		return nil, fmt.Errorf("session: revision set codec expects RevisionSet, got %T", v)
	}
	return rs.Encode(), nil
}

// Mergeable declares the revision bookkeeping attributes on a document type.
// Any type built with it can flow through Session.Merge and the stage.
func Mergeable(b *schema.Builder) {
	b.Prefix("s", XMLNS)
	b.AttrNS(XMLNS, "revision", schema.Decode(RevisionCodec{}))
	b.AttrNS(XMLNS, "bases", schema.Decode(RevisionSetCodec{}))
}

// RevisionOf returns the document's revision stamp; zero when unstamped.
func RevisionOf(doc *schema.Element) Revision {
	r, _ := doc.AttrNS(XMLNS, "revision").(Revision)
	return r
}

// BasesOf returns the document's base revision set, never nil.
func BasesOf(doc *schema.Element) RevisionSet {
	if rs, ok := doc.AttrNS(XMLNS, "bases").(RevisionSet); ok {
		return rs
	}
	return make(RevisionSet)
}

// SetRevision stamps the document.
func SetRevision(doc *schema.Element, r Revision) {
	doc.SetAttrNS(XMLNS, "revision", r)
}

// SetBases replaces the document's base revision set.
func SetBases(doc *schema.Element, rs RevisionSet) {
	doc.SetAttrNS(XMLNS, "bases", rs)
}
