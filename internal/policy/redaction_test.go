package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIUserHandles(t *testing.T) {
	out, changed := RedactPII("As u/film_buff_99 said, ask @critic42 about it.")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if strings.Contains(out, "film_buff_99") || strings.Contains(out, "critic42") {
		t.Fatalf("handles survived redaction: %q", out)
	}
	if !strings.HasPrefix(out, "As [REDACTED_USER] said") {
		t.Fatalf("unexpected redaction layout: %q", out)
	}
}

func TestRedactPIILeavesMovieTalkAlone(t *testing.T) {
	input := "Released in 1999, I'd give it 8/10. Better than Heat (1995)."
	out, changed := RedactPII(input)
	if changed || out != input {
		t.Fatalf("RedactPII(%q) = %q, %v; want unchanged", input, out, changed)
	}
}

func TestRedactAllCountsChangedTexts(t *testing.T) {
	out, n := RedactAll([]string{"great film", "mail me: a@b.io", "call 555-123-4567"})
	if n != 2 {
		t.Fatalf("changed = %d, want 2", n)
	}
	if out[0] != "great film" {
		t.Fatalf("out[0] = %q", out[0])
	}
}
