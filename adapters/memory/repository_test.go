package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/feedvault/feedvault/ports"
)

func write(t *testing.T, r *Repository, key []string, content string) {
	t.Helper()
	if err := r.Write(context.Background(), key, strings.NewReader(content)); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, r *Repository, key []string) string {
	t.Helper()
	rc, err := r.Read(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestWriteRead(t *testing.T) {
	r := NewRepository()
	write(t, r, []string{"feeds", "a", "laptop.xml"}, "content")
	if got := read(t, r, []string{"feeds", "a", "laptop.xml"}); got != "content" {
		t.Errorf("read = %q", got)
	}

	write(t, r, []string{"feeds", "a", "laptop.xml"}, "replaced")
	if got := read(t, r, []string{"feeds", "a", "laptop.xml"}); got != "replaced" {
		t.Errorf("read after overwrite = %q", got)
	}
}

func TestReadMissing(t *testing.T) {
	r := NewRepository()
	if _, err := r.Read(context.Background(), []string{"nope"}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// An interior directory node is not a document.
	write(t, r, []string{"dir", "doc"}, "x")
	if _, err := r.Read(context.Background(), []string{"dir"}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for a directory", err)
	}
}

func TestReadIsSnapshot(t *testing.T) {
	r := NewRepository()
	write(t, r, []string{"doc"}, "before")
	rc, err := r.Read(context.Background(), []string{"doc"})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	write(t, r, []string{"doc"}, "after")
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "before" {
		t.Errorf("read = %q, a reader opened earlier must see the old content", data)
	}
}

func TestExists(t *testing.T) {
	r := NewRepository()
	write(t, r, []string{"dir", "doc"}, "x")

	for _, c := range []struct {
		key  []string
		want bool
	}{
		{[]string{"dir", "doc"}, true},
		{[]string{"dir"}, true}, // prefixes of documents exist as directories
		{[]string{"other"}, false},
		{[]string{"dir", "doc", "deeper"}, false},
	} {
		got, err := r.Exists(context.Background(), c.key)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("Exists(%v) = %v, want %v", c.key, got, c.want)
		}
	}
}

func TestList(t *testing.T) {
	r := NewRepository()
	write(t, r, []string{"feeds", "b", "doc"}, "x")
	write(t, r, []string{"feeds", "a", "doc"}, "x")
	write(t, r, []string{"feeds", "c"}, "x")

	names, err := r.List(context.Background(), []string{"feeds"})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("names = %v, want sorted [a b c]", names)
	}

	if _, err := r.List(context.Background(), []string{"missing"}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("missing prefix: %v, want ErrNotFound", err)
	}
	if _, err := r.List(context.Background(), []string{"feeds", "c"}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("listing a document: %v, want ErrNotFound", err)
	}
}

func TestDocumentDirectoryConflicts(t *testing.T) {
	r := NewRepository()
	write(t, r, []string{"x"}, "doc")
	if err := r.Write(context.Background(), []string{"x", "y"}, strings.NewReader("v")); err == nil {
		t.Error("writing under a document must fail")
	}

	write(t, r, []string{"d", "inner"}, "doc")
	if err := r.Write(context.Background(), []string{"d"}, strings.NewReader("v")); err == nil {
		t.Error("writing over a directory must fail")
	}
}

func TestValidateKey(t *testing.T) {
	r := NewRepository()
	if err := r.Write(context.Background(), nil, strings.NewReader("v")); err == nil {
		t.Error("an empty key must fail")
	}
	if err := r.Write(context.Background(), []string{"a", ""}, strings.NewReader("v")); err == nil {
		t.Error("an empty segment must fail")
	}
}
