package hook

import "testing"

func TestRenderSubstitutesVariables(t *testing.T) {
	out, err := Render("cert for {{ identifier }}", Vars{"identifier": "foo.test"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "cert for foo.test" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderUnknownVariableErrors(t *testing.T) {
	if _, err := Render("{{ nope }}", Vars{}, nil); err == nil {
		t.Fatal("expected error for unknown variable")
	}
}

func TestRenderEnvWithDefault(t *testing.T) {
	out, err := Render("{{ env.MISSING | default('fallback') }}", Vars{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "fallback" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderEnvOverlayWinsOverMissingDefault(t *testing.T) {
	out, err := Render("{{ env.NAME }}", Vars{}, Env{"NAME": "override"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "override" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderIfBlockTrueBranch(t *testing.T) {
	out, err := Render("{{#if is_success}}ok{{else}}fail{{/if}}", Vars{"is_success": "true"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderIfBlockFalseBranch(t *testing.T) {
	out, err := Render("{{#if is_success}}ok{{else}}fail{{/if}}", Vars{"is_success": "false"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "fail" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderIfBlockWithoutElse(t *testing.T) {
	out, err := Render("pre {{#if flag}}X{{/if}} post", Vars{"flag": "true"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "pre X post" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderNestedIfBlocks(t *testing.T) {
	tmpl := "{{#if a}}{{#if b}}ab{{else}}a-only{{/if}}{{else}}none{{/if}}"
	out, err := Render(tmpl, Vars{"a": "true", "b": "true"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "ab" {
		t.Fatalf("got %q", out)
	}
	out, err = Render(tmpl, Vars{"a": "true", "b": "false"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "a-only" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderUnterminatedIfErrors(t *testing.T) {
	if _, err := Render("{{#if a}}x", Vars{"a": "true"}, nil); err == nil {
		t.Fatal("expected error for unterminated {{#if}}")
	}
}
