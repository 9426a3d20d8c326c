package schema_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/feedvault/feedvault/domain/schema"
)

var chapterType = schema.MustBuild("chapter", func(b *schema.Builder) {
	b.Attr("number", schema.Decode(schema.Integer{}))
	b.Content()
})

var bookType = schema.MustBuild("book", func(b *schema.Builder) {
	b.Root("book")
	b.Attr("isbn")
	b.Text("title", schema.Required())
	b.Text("author", schema.Multiple())
	b.Child("chapter", chapterType, schema.Multiple())
})

const bookXML = `<book isbn="978-0"><title>Title &amp; Subtitle</title>` +
	`<author>First</author><author>Second</author>` +
	`<chapter number="1">one</chapter><chapter number="2">two</chapter></book>`

// chunked splits a document into fixed-size chunks so field access order can
// be correlated with consumption.
func chunked(s string, size int) (schema.ChunkSource, int) {
	var chunks []string
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	chunks = append(chunks, s)
	return schema.Chunks(chunks...), len(chunks)
}

func TestParseStopsAtRootStartTag(t *testing.T) {
	src, total := chunked(bookXML, 8)
	doc, err := schema.Parse(bookType, src)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ChunksRead() >= total {
		t.Errorf("Parse consumed %d of %d chunks; should stop at the root start tag", doc.ChunksRead(), total)
	}
	if got, _ := doc.Root().Attr("isbn").(string); got != "978-0" {
		t.Errorf("isbn = %q, want %q", got, "978-0")
	}
}

func TestFieldAccessDrivesConsumption(t *testing.T) {
	src, total := chunked(bookXML, 8)
	doc, err := schema.Parse(bookType, src)
	if err != nil {
		t.Fatal(err)
	}
	afterParse := doc.ChunksRead()

	title, _ := doc.Root().Value("title").(string)
	if title != "Title & Subtitle" {
		t.Errorf("title = %q", title)
	}
	afterTitle := doc.ChunksRead()
	if afterTitle <= afterParse {
		t.Error("reading the title should consume more chunks")
	}
	if afterTitle >= total {
		t.Errorf("reading the title consumed the whole document (%d of %d chunks)", afterTitle, total)
	}

	// Indexing into the repeated child list consumes only through that
	// child's end tag.
	first := doc.Root().Children("chapter").At(0)
	if first == nil {
		t.Fatal("first chapter missing")
	}
	if doc.ChunksRead() >= total {
		t.Error("reading the first chapter consumed the whole document")
	}
	if got := first.Content(); got != "one" {
		t.Errorf("chapter content = %q", got)
	}

	if n := doc.Root().Children("chapter").Len(); n != 2 {
		t.Errorf("chapter count = %d, want 2", n)
	}
	if !doc.Done() {
		t.Error("Len must consume the whole root scope")
	}
}

func TestRepeatedTextValues(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Bytes([]byte(bookXML)))
	if err != nil {
		t.Fatal(err)
	}
	got := doc.Root().Values("author")
	if len(got) != 2 || got[0] != "First" || got[1] != "Second" {
		t.Errorf("authors = %v", got)
	}
}

func TestAbsentFieldIsNilNotError(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Chunks(`<book><title>T</title></book>`))
	if err != nil {
		t.Fatal(err)
	}
	if v := doc.Root().Value("missing"); v != nil {
		t.Errorf("undeclared field = %v, want nil", v)
	}
	if c := doc.Root().Children("chapter").At(0); c != nil {
		t.Errorf("chapter = %v, want nil", c)
	}
	if err := doc.Err(); err != nil {
		t.Errorf("absence must not record an error, got %v", err)
	}
}

func TestRequiredCheckedAtConsumption(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Chunks(`<book></book>`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := doc.Root().RequireValue("title"); err == nil {
		t.Fatal("expected error for absent required field")
	}
	var serr *schema.SchemaError
	if err := func() error { _, err := doc.Root().RequireValue("title"); return err }(); !errors.As(err, &serr) {
		t.Errorf("error type = %T, want *SchemaError", err)
	}
}

func TestTruncatedStreamEndsScopes(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Chunks(`<book><title>T</title><author>A`))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := doc.Root().Value("title").(string); got != "T" {
		t.Errorf("title = %q", got)
	}
	// The open <author> never closed, so its value is simply absent.
	if got := doc.Root().Values("author"); len(got) != 0 {
		t.Errorf("authors = %v, want none", got)
	}
	if err := doc.Err(); err != nil {
		t.Errorf("truncation inside text is not an error, got %v", err)
	}
}

func TestRootTagMismatch(t *testing.T) {
	_, err := schema.Parse(bookType, schema.Chunks(`<magazine/>`))
	var serr *schema.SyntaxError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *SyntaxError", err)
	}
}

func TestMismatchedEndTag(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Chunks(`<book><title>T</author></book>`))
	if err == nil {
		err = doc.Drain()
	}
	var serr *schema.SyntaxError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *SyntaxError", err)
	}
}

func TestUnexpectedElement(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Chunks(`<book><price>9</price></book>`))
	if err == nil {
		err = doc.Drain()
	}
	if err == nil {
		t.Fatal("undeclared element must be a syntax error")
	}
}

func TestSplitAcrossChunkBoundaries(t *testing.T) {
	// Every split point of the document must parse identically.
	for size := 1; size < 24; size++ {
		src, _ := chunked(bookXML, size)
		doc, err := schema.Parse(bookType, src)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if err := doc.Drain(); err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if got, _ := doc.Root().Value("title").(string); got != "Title & Subtitle" {
			t.Fatalf("size %d: title = %q", size, got)
		}
		if n := doc.Root().Children("chapter").Len(); n != 2 {
			t.Fatalf("size %d: chapters = %d", size, n)
		}
	}
}

func TestPrologCommentsAndCDATA(t *testing.T) {
	xml := "\uFEFF" + `<?xml version="1.0"?><!DOCTYPE book [<!ENTITY x "y">]>` +
		`<!-- preface --><book><title><![CDATA[a < b]]></title></book>`
	doc, err := schema.Parse(bookType, schema.Chunks(xml))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := doc.Root().Value("title").(string); got != "a < b" {
		t.Errorf("title = %q", got)
	}
}

func TestNamespaceResolution(t *testing.T) {
	ns := "http://example.com/ns"
	typ := schema.MustBuild("doc", func(b *schema.Builder) {
		b.RootNS(ns, "doc")
		b.TextNS(ns, "name")
		b.Attr("plain")
	})
	xml := `<d:doc xmlns:d="` + ns + `" plain="v"><d:name>N</d:name></d:doc>`
	doc, err := schema.Parse(typ, schema.Chunks(xml))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := doc.Root().ValueNS(ns, "name").(string); got != "N" {
		t.Errorf("name = %q", got)
	}
	// Unprefixed attributes never inherit the element namespace.
	if got, _ := doc.Root().Attr("plain").(string); got != "v" {
		t.Errorf("plain = %q", got)
	}
}

func TestUndeclaredAttributesIgnored(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Chunks(`<book isbn="i" vendor:ext="x" xmlns:vendor="urn:v"><title>T</title></book>`))
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Drain(); err != nil {
		t.Fatal(err)
	}
	if got, _ := doc.Root().Attr("isbn").(string); got != "i" {
		t.Errorf("isbn = %q", got)
	}
}

func TestDecodeErrorSurfaces(t *testing.T) {
	doc, err := schema.Parse(bookType, schema.Chunks(`<book><chapter number="NaN">x</chapter></book>`))
	if err == nil {
		err = doc.Drain()
	}
	var derr *schema.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}

func TestRootAttrsReadsOnlyHead(t *testing.T) {
	long := `<book isbn="deep">` + strings.Repeat(`<author>x</author>`, 100) + `</book>`
	src, total := chunked(long, 16)
	name, attrs, err := schema.RootAttrs(src)
	if err != nil {
		t.Fatal(err)
	}
	if name.Local != "book" {
		t.Errorf("root = %v", name)
	}
	if got := attrs[schema.Name{Local: "isbn"}]; got != "deep" {
		t.Errorf("isbn = %q", got)
	}
	_ = total // RootAttrs stops before the body; consumption is not observable here
}

type failingSource struct{ err error }

func (s *failingSource) Next() ([]byte, error) { return nil, s.err }

func TestRootAttrsSurfacesSourceErrors(t *testing.T) {
	readFailure := errors.New("read failure")
	if _, _, err := schema.RootAttrs(&failingSource{err: readFailure}); !errors.Is(err, readFailure) {
		t.Errorf("err = %v, want the source's own error", err)
	}

	// Running out of input without a root element is still a syntax error.
	var serr *schema.SyntaxError
	if _, _, err := schema.RootAttrs(schema.Chunks()); !errors.As(err, &serr) {
		t.Errorf("empty source: err = %v, want *SyntaxError", err)
	}
}
