package portal

import (
	"strings"
	"testing"
)

func TestLanguagesKnowsPythonNodejsAndBun(t *testing.T) {
	for _, name := range []string{"python", "nodejs", "bun"} {
		spec, ok := languages[name]
		if !ok {
			t.Fatalf("expected a languageSpec for %q", name)
		}
		if spec.bin == "" {
			t.Errorf("%s: expected a non-empty interpreter binary", name)
		}
		if spec.frame == nil {
			t.Errorf("%s: expected a frame function", name)
		}
	}
}

func TestPythonFrameEmbedsSentinelsAndCode(t *testing.T) {
	spec := languages["python"]
	out := spec.frame("print(1)", "OK123", "ERR456")

	if !contains(out, "print(1)") {
		t.Errorf("expected framed code to embed the user code, got %q", out)
	}
	if !contains(out, "OK123") || !contains(out, "ERR456") {
		t.Errorf("expected framed code to embed both sentinel tokens, got %q", out)
	}
}

func TestNodejsFrameEmbedsSentinelsAndCode(t *testing.T) {
	spec := languages["nodejs"]
	out := spec.frame("console.log(1)", "OK123", "ERR456")

	if !contains(out, "console.log(1)") {
		t.Errorf("expected framed code to embed the user code, got %q", out)
	}
	if !contains(out, "OK123") || !contains(out, "ERR456") {
		t.Errorf("expected framed code to embed both sentinel tokens, got %q", out)
	}
}

func TestPyQuoteEscapesQuotesAndBackslashes(t *testing.T) {
	quoted := pyQuote(`print("a\b")`)
	if !contains(quoted, `\"a`) {
		t.Errorf("expected escaped double quote, got %q", quoted)
	}
	if !contains(quoted, `\\b`) {
		t.Errorf("expected escaped backslash, got %q", quoted)
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
