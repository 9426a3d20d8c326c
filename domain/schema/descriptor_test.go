package schema_test

import (
	"errors"
	"testing"

	"github.com/feedvault/feedvault/domain/schema"
)

func TestBuildRejectsRequiredAndMultiple(t *testing.T) {
	_, err := schema.New("bad", func(b *schema.Builder) {
		b.Text("x", schema.Required(), schema.Multiple())
	})
	var serr *schema.SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *SchemaError", err)
	}
}

func TestBuildRejectsDuplicateBinding(t *testing.T) {
	_, err := schema.New("bad", func(b *schema.Builder) {
		b.Text("x")
		b.Child("x", schema.Self())
	})
	if err == nil {
		t.Fatal("a text and a child binding on the same tag must fail")
	}
}

func TestBuildRejectsMultipleAttr(t *testing.T) {
	_, err := schema.New("bad", func(b *schema.Builder) {
		b.Attr("x", schema.Multiple())
	})
	if err == nil {
		t.Fatal("attributes cannot be multiple")
	}
}

func TestBuildRejectsSecondRoot(t *testing.T) {
	_, err := schema.New("bad", func(b *schema.Builder) {
		b.Root("a")
		b.Root("b")
	})
	if err == nil {
		t.Fatal("declaring the root twice must fail")
	}
}

func TestBuildRejectsSecondContent(t *testing.T) {
	_, err := schema.New("bad", func(b *schema.Builder) {
		b.Content()
		b.Content()
	})
	if err == nil {
		t.Fatal("a second content binding must fail")
	}
}

func TestBuildKeepsFirstError(t *testing.T) {
	_, err := schema.New("bad", func(b *schema.Builder) {
		b.Attr("x", schema.Multiple())
		b.Root("a")
		b.Root("b")
	})
	var serr *schema.SchemaError
	if !errors.As(err, &serr) {
		t.Fatal(err)
	}
	if serr.Type != "bad" {
		t.Errorf("error names type %q", serr.Type)
	}
}

func TestSelfResolvesToEnclosingType(t *testing.T) {
	typ := schema.MustBuild("node", func(b *schema.Builder) {
		b.Root("node")
		b.Child("node", schema.Self(), schema.Multiple())
	})
	d := typ.ChildDescriptor(schema.Name{Local: "node"})
	if d == nil || d.Target != typ {
		t.Fatal("Self() must resolve to the enclosing type after the build")
	}

	doc, err := schema.Parse(typ, schema.Chunks(`<node><node><node/></node></node>`))
	if err != nil {
		t.Fatal(err)
	}
	inner := doc.Root().Children("node").At(0)
	if inner == nil || inner.Type() != typ {
		t.Fatal("recursive children must carry the enclosing type")
	}
	if inner.Children("node").Len() != 1 {
		t.Error("nested recursion depth lost")
	}
}

func TestMustBuildPanicsOnError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustBuild must panic on a declaration error")
		}
	}()
	schema.MustBuild("bad", func(b *schema.Builder) {
		b.Text("x", schema.Required(), schema.Multiple())
	})
}

func TestDescriptorsKeepRegistrationOrder(t *testing.T) {
	typ := schema.MustBuild("d", func(b *schema.Builder) {
		b.Attr("z")
		b.Text("a")
		b.Child("m", schema.Self())
	})
	order := typ.Descriptors()
	if len(order) != 3 {
		t.Fatalf("descriptors = %d, want 3", len(order))
	}
	got := []string{order[0].Name.Local, order[1].Name.Local, order[2].Name.Local}
	if got[0] != "z" || got[1] != "a" || got[2] != "m" {
		t.Errorf("order = %v", got)
	}
}

func TestAttrDefaultReported(t *testing.T) {
	typ := schema.MustBuild("d", func(b *schema.Builder) {
		b.Root("d")
		b.Attr("version", schema.Default("2.0"))
	})
	doc, err := schema.Parse(typ, schema.Chunks(`<d/>`))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := doc.Root().Attr("version").(string); got != "2.0" {
		t.Errorf("version = %q, want the declared default", got)
	}
}
