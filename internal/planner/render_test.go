package planner

import "testing"

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	ctx := map[string]string{"msg": "'hello_world'", "count": "3"}
	got := Render("echo {{msg}} > out.txt (x{{count}})", ctx)
	want := "echo 'hello_world' > out.txt (x3)"
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestRenderUnknownPlaceholderExpandsEmpty(t *testing.T) {
	got := Render("{{known}}-{{unknown}}", map[string]string{"known": "x"})
	if got != "x-" {
		t.Fatalf("Render() = %q, want %q", got, "x-")
	}
}

func TestRenderUnterminatedDelimiterEmittedVerbatim(t *testing.T) {
	got := Render("prefix {{dangling", map[string]string{"dangling": "ignored"})
	if got != "prefix {{dangling" {
		t.Fatalf("Render() = %q, want verbatim tail", got)
	}
}

func TestEscapeAllowlistReplacesDisallowedRunes(t *testing.T) {
	got := escapeAllowlist("hello world; rm -rf /")
	want := "hello_world__rm_-rf__"
	if got != want {
		t.Fatalf("escapeAllowlist() = %q, want %q", got, want)
	}
}

func TestRenderScalarQuotesStrings(t *testing.T) {
	got, err := RenderScalar("hello world")
	if err != nil {
		t.Fatalf("RenderScalar() error = %v", err)
	}
	if got != "'hello_world'" {
		t.Fatalf("RenderScalar() = %q, want %q", got, "'hello_world'")
	}
}

func TestRenderScalarNumericsAndBoolsPassThrough(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{42, "42"},
		{int64(7), "7"},
		{3.5, "3.5"},
		{true, "true"},
	}
	for _, c := range cases {
		got, err := RenderScalar(c.in)
		if err != nil {
			t.Fatalf("RenderScalar(%v) error = %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("RenderScalar(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRenderScalarStringListJoinsQuoted(t *testing.T) {
	got, err := RenderScalar([]string{"a b", "c"})
	if err != nil {
		t.Fatalf("RenderScalar() error = %v", err)
	}
	if got != "'a_b' 'c'" {
		t.Fatalf("RenderScalar() = %q, want %q", got, "'a_b' 'c'")
	}
}

func TestRenderScalarRejectsUnsupportedType(t *testing.T) {
	if _, err := RenderScalar(struct{}{}); err == nil {
		t.Fatal("expected an error for an unsupported scalar type")
	}
}

func TestRenderContextEchoHappyPath(t *testing.T) {
	// Mirrors the spec's echo scenario: command_template = "echo {{msg}}
	// > out.txt", msg = "hello world" renders to echo 'hello_world' > out.txt.
	renderCtx, err := RenderContext(map[string]any{"msg": "hello world"})
	if err != nil {
		t.Fatalf("RenderContext() error = %v", err)
	}
	got := Render("echo {{msg}} > out.txt", renderCtx)
	want := "echo 'hello_world' > out.txt"
	if got != want {
		t.Fatalf("rendered command = %q, want %q", got, want)
	}
}

func TestRenderContextUnquotedLeavesPathsBare(t *testing.T) {
	renderCtx, err := RenderContextUnquoted(map[string]any{"name": "my file.txt"})
	if err != nil {
		t.Fatalf("RenderContextUnquoted() error = %v", err)
	}
	got := Render("outputs/{{name}}", renderCtx)
	want := "outputs/my_file.txt"
	if got != want {
		t.Fatalf("rendered path = %q, want %q", got, want)
	}
}

func TestRenderContextUnquotedStringListNotQuoted(t *testing.T) {
	renderCtx, err := RenderContextUnquoted(map[string]any{"names": []string{"a b", "c"}})
	if err != nil {
		t.Fatalf("RenderContextUnquoted() error = %v", err)
	}
	if renderCtx["names"] != "a_b c" {
		t.Fatalf("RenderContextUnquoted() names = %q, want %q", renderCtx["names"], "a_b c")
	}
}
