package session

import (
	"fmt"
	"time"

	"github.com/feedvault/feedvault/domain/schema"
)

// Revise stamps the document as the session's latest revision at the given
// time. The stamp never moves behind the document's known ancestry, so a
// skewed clock cannot produce a revision older than what it merged.
func (s *Session) Revise(doc *schema.Element, at time.Time) {
	at = at.UTC()
	for _, base := range BasesOf(doc) {
		if base.After(at) {
			at = base
		}
	}
	SetRevision(doc, Revision{Session: s, UpdatedAt: at})
}

// Pull adopts a document of a possibly different session into this one. The
// updated-at time is preserved; only the owning session changes. The same
// document is returned unchanged when it already belongs to this session.
// An unstamped document is stamped at the given time.
func (s *Session) Pull(doc *schema.Element, at time.Time) *schema.Element {
	rev := RevisionOf(doc)
	if !rev.IsZero() && rev.Session == s {
		return doc
	}
	clone := doc.Clone()
	if rev.IsZero() {
		s.Revise(clone, at)
	} else {
		SetRevision(clone, Revision{Session: s, UpdatedAt: rev.UpdatedAt})
	}
	return clone
}

// Merge reconciles two versions of the same document type and returns a new
// merged document stamped for this session. The merge is total: given two
// documents of one type it always produces a deterministic result.
//
//  1. Unstamped inputs are stamped first.
//  2. Two revisions of the same session order by timestamp: the later one is
//     a strictly newer edit by the same writer, no structural merge needed.
//  3. If one side's ancestry already contains the other's revision, the
//     containing side subsumes it.
//  4. Otherwise the documents merge structurally, newer side winning per
//     field, and the result's ancestry is the union of both sides' bases
//     plus both revisions.
//
// force skips the short-circuits in 2 and 3 and assumes b is the newer side.
func (s *Session) Merge(a, b *schema.Element, force bool, at time.Time) (*schema.Element, error) {
	if a.Type() != b.Type() {
		return nil, fmt.Errorf("session: cannot merge %s with %s", a.Type().Name(), b.Type().Name())
	}
	if RevisionOf(a).IsZero() {
		s.Revise(a, at)
	}
	if RevisionOf(b).IsZero() {
		s.Revise(b, at)
	}
	ra, rb := RevisionOf(a), RevisionOf(b)
	if !force {
		if ra.Session == rb.Session {
			if ra.UpdatedAt.After(rb.UpdatedAt) {
				return s.Pull(a, at), nil
			}
			return s.Pull(b, at), nil
		}
		if BasesOf(a).Contains(rb) {
			return s.Pull(a, at), nil
		}
		if BasesOf(b).Contains(ra) {
			return s.Pull(b, at), nil
		}
		if ra.UpdatedAt.After(rb.UpdatedAt) {
			a, b = b, a
			ra, rb = rb, ra
		}
	}

	merged := schema.MergeElements(b, a)
	bases := BasesOf(a).Merge(BasesOf(b))
	bases.Add(ra)
	bases.Add(rb)
	SetBases(merged, bases)
	s.Revise(merged, at)
	return merged, nil
}

// Stamp is the parsed revision head of a stored document.
type Stamp struct {
	Revision Revision
	Bases    RevisionSet
}

// ReadStamp parses only the revision bookkeeping from the head of a
// document, consuming as little of the source as possible. It returns a zero
// stamp for documents that were never stamped.
func ReadStamp(src schema.ChunkSource) (Stamp, error) {
	_, attrs, err := schema.RootAttrs(src)
	if err != nil {
		return Stamp{}, err
	}
	var st Stamp
	if raw, ok := attrs[schema.Name{Space: XMLNS, Local: "revision"}]; ok {
		if st.Revision, err = DecodeRevision(raw); err != nil {
			return Stamp{}, err
		}
	}
	if raw, ok := attrs[schema.Name{Space: XMLNS, Local: "bases"}]; ok {
		if st.Bases, err = DecodeRevisionSet(raw); err != nil {
			return Stamp{}, err
		}
	}
	if st.Bases == nil {
		st.Bases = make(RevisionSet)
	}
	return st, nil
}
