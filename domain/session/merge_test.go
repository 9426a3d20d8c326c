package session_test

import (
	"strings"
	"testing"
	"time"

	"github.com/feedvault/feedvault/domain/schema"
	"github.com/feedvault/feedvault/domain/session"
)

var noteType = schema.MustBuild("note", func(b *schema.Builder) {
	b.Root("note")
	session.Mergeable(b)
	b.Text("title")
	b.Text("body")
})

func note(title, body string) *schema.Element {
	e := schema.NewElement(noteType)
	if title != "" {
		e.SetValue("title", title)
	}
	if body != "" {
		e.SetValue("body", body)
	}
	return e
}

func at(min int) time.Time {
	return time.Date(2025, 5, 1, 12, min, 0, 0, time.UTC)
}

func TestMergeableDeclaresBookkeeping(t *testing.T) {
	s := session.MustNew("laptop")
	doc := note("T", "")
	s.Revise(doc, at(0))
	session.SetBases(doc, session.RevisionSet{s: at(0)})

	var sb strings.Builder
	if err := schema.Write(&sb, doc); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, `s:revision="laptop 2025-05-01T12:00:00Z"`) {
		t.Errorf("revision attribute missing: %s", out)
	}
	if !strings.Contains(out, "s:bases=") {
		t.Errorf("bases attribute missing: %s", out)
	}

	doc2, err := schema.Parse(noteType, schema.Bytes([]byte(out)))
	if err != nil {
		t.Fatal(err)
	}
	if got := session.RevisionOf(doc2.Root()); got.Session != s || !got.UpdatedAt.Equal(at(0)) {
		t.Errorf("round-tripped revision = %v", got)
	}
	if !session.BasesOf(doc2.Root()).Contains(session.Revision{Session: s, UpdatedAt: at(0)}) {
		t.Error("round-tripped bases lost the recorded revision")
	}
}

func TestReviseNeverMovesBehindBases(t *testing.T) {
	s := session.MustNew("laptop")
	doc := note("T", "")
	session.SetBases(doc, session.RevisionSet{session.MustNew("phone"): at(10)})

	// A skewed clock hands Revise a time before a known base.
	s.Revise(doc, at(5))
	if got := session.RevisionOf(doc); got.UpdatedAt.Before(at(10)) {
		t.Errorf("revision %v moved behind the ancestry", got.UpdatedAt)
	}
}

func TestPull(t *testing.T) {
	laptop := session.MustNew("laptop")
	phone := session.MustNew("phone")

	doc := note("T", "")
	phone.Revise(doc, at(0))

	pulled := laptop.Pull(doc, at(5))
	if pulled == doc {
		t.Fatal("pulling a foreign document must clone")
	}
	rev := session.RevisionOf(pulled)
	if rev.Session != laptop {
		t.Errorf("session = %v, want laptop", rev.Session)
	}
	if !rev.UpdatedAt.Equal(at(0)) {
		t.Errorf("updated at = %v, want the original time preserved", rev.UpdatedAt)
	}

	if laptop.Pull(pulled, at(9)) != pulled {
		t.Error("pulling an owned document must return it unchanged")
	}

	fresh := laptop.Pull(note("U", ""), at(7))
	if got := session.RevisionOf(fresh); got.Session != laptop || !got.UpdatedAt.Equal(at(7)) {
		t.Errorf("unstamped pull = %v", got)
	}
}

func TestMergeSameSessionLaterWins(t *testing.T) {
	s := session.MustNew("laptop")
	older := note("old", "")
	s.Revise(older, at(0))
	newer := note("new", "")
	s.Revise(newer, at(1))

	merged, err := s.Merge(older, newer, false, at(2))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := merged.Value("title").(string); got != "new" {
		t.Errorf("title = %q, want the later edit", got)
	}

	// Argument order must not matter.
	merged, err = s.Merge(newer, older, false, at(2))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := merged.Value("title").(string); got != "new" {
		t.Errorf("reversed title = %q, want the later edit", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := session.MustNew("laptop")
	doc := note("T", "body")
	s.Revise(doc, at(0))

	check := func(t *testing.T, merged *schema.Element) {
		t.Helper()
		for _, field := range []string{"title", "body"} {
			want, _ := doc.Value(field).(string)
			got, _ := merged.Value(field).(string)
			if got != want {
				t.Errorf("%s = %q, want %q", field, got, want)
			}
		}
	}

	// The same document on both sides.
	merged, err := s.Merge(doc, doc, false, at(1))
	if err != nil {
		t.Fatal(err)
	}
	check(t, merged)

	// An identical copy carrying the same revision.
	merged, err = s.Merge(doc, doc.Clone(), false, at(2))
	if err != nil {
		t.Fatal(err)
	}
	check(t, merged)
}

func TestMergeAncestrySubsumes(t *testing.T) {
	laptop := session.MustNew("laptop")
	phone := session.MustNew("phone")

	base := note("base", "")
	phone.Revise(base, at(0))

	// The laptop copy already merged the phone revision.
	ours := note("ours", "")
	laptop.Revise(ours, at(5))
	session.SetBases(ours, session.RevisionSet{phone: at(0)})

	merged, err := laptop.Merge(ours, base, false, at(6))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := merged.Value("title").(string); got != "ours" {
		t.Errorf("title = %q, the subsuming side must win outright", got)
	}
}

func TestMergeDivergentUnionsBases(t *testing.T) {
	laptop := session.MustNew("laptop")
	phone := session.MustNew("phone")

	a := note("from laptop", "")
	laptop.Revise(a, at(0))
	b := note("", "from phone")
	phone.Revise(b, at(1))

	merged, err := laptop.Merge(a, b, false, at(2))
	if err != nil {
		t.Fatal(err)
	}
	// Newer side wins per field; absent fields fill from the older side.
	if got, _ := merged.Value("title").(string); got != "from laptop" {
		t.Errorf("title = %q", got)
	}
	if got, _ := merged.Value("body").(string); got != "from phone" {
		t.Errorf("body = %q", got)
	}

	bases := session.BasesOf(merged)
	if !bases.Contains(session.Revision{Session: laptop, UpdatedAt: at(0)}) {
		t.Error("bases must record the laptop revision")
	}
	if !bases.Contains(session.Revision{Session: phone, UpdatedAt: at(1)}) {
		t.Error("bases must record the phone revision")
	}
	if got := session.RevisionOf(merged); got.Session != laptop {
		t.Errorf("merged revision owned by %v, want the merging session", got.Session)
	}
}

func TestMergeConverges(t *testing.T) {
	laptop := session.MustNew("laptop")
	phone := session.MustNew("phone")

	a := note("A", "")
	laptop.Revise(a, at(0))
	b := note("B", "body")
	phone.Revise(b, at(1))

	ab, err := laptop.Merge(a.Clone(), b.Clone(), false, at(2))
	if err != nil {
		t.Fatal(err)
	}
	ba, err := phone.Merge(b.Clone(), a.Clone(), false, at(2))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"title", "body"} {
		x, _ := ab.Value(field).(string)
		y, _ := ba.Value(field).(string)
		if x != y {
			t.Errorf("%s diverged: %q vs %q", field, x, y)
		}
	}
}

func TestMergeForceSkipsShortCircuits(t *testing.T) {
	s := session.MustNew("laptop")
	older := note("old", "old body")
	s.Revise(older, at(0))
	newer := note("new", "")
	s.Revise(newer, at(1))

	// Without force the later same-session revision would win outright and
	// drop the body. Force merges structurally, b as the newer side.
	merged, err := s.Merge(older, newer, true, at(2))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := merged.Value("title").(string); got != "new" {
		t.Errorf("title = %q", got)
	}
	if got, _ := merged.Value("body").(string); got != "old body" {
		t.Errorf("body = %q, force must still fill absent fields", got)
	}
}

func TestMergeStampsUnstampedInputs(t *testing.T) {
	s := session.MustNew("laptop")
	merged, err := s.Merge(note("a", ""), note("b", ""), false, at(0))
	if err != nil {
		t.Fatal(err)
	}
	if session.RevisionOf(merged).IsZero() {
		t.Error("merge result must carry a revision")
	}
}

func TestMergeRejectsTypeMismatch(t *testing.T) {
	other := schema.MustBuild("other", func(b *schema.Builder) {
		b.Root("other")
		session.Mergeable(b)
	})
	s := session.MustNew("laptop")
	if _, err := s.Merge(note("a", ""), schema.NewElement(other), false, at(0)); err == nil {
		t.Fatal("merging distinct types must fail")
	}
}

func TestReadStampConsumesOnlyTheHead(t *testing.T) {
	s := session.MustNew("laptop")
	doc := note("T", strings.Repeat("x", 4096))
	s.Revise(doc, at(3))
	session.SetBases(doc, session.RevisionSet{s: at(3)})

	var sb strings.Builder
	if err := schema.Write(&sb, doc); err != nil {
		t.Fatal(err)
	}
	text := sb.String()

	var chunks []string
	for len(text) > 64 {
		chunks = append(chunks, text[:64])
		text = text[64:]
	}
	chunks = append(chunks, text)
	src := schema.Chunks(chunks...)

	st, err := session.ReadStamp(src)
	if err != nil {
		t.Fatal(err)
	}
	if st.Revision.Session != s || !st.Revision.UpdatedAt.Equal(at(3)) {
		t.Errorf("stamp = %v", st.Revision)
	}
	if !st.Bases.Contains(session.Revision{Session: s, UpdatedAt: at(3)}) {
		t.Error("stamp lost the bases")
	}
}

func TestReadStampUnstampedDocument(t *testing.T) {
	st, err := session.ReadStamp(schema.Chunks(`<note><title>T</title></note>`))
	if err != nil {
		t.Fatal(err)
	}
	if !st.Revision.IsZero() {
		t.Errorf("revision = %v, want zero", st.Revision)
	}
	if st.Bases == nil || len(st.Bases) != 0 {
		t.Errorf("bases = %v, want an empty set", st.Bases)
	}
}
