package llm

import (
	"strings"
	"testing"
)

func TestSystemPrompt_WithContext(t *testing.T) {
	got := systemPrompt("excerpt A\n\nexcerpt B")

	if !strings.Contains(got, "Knowledge base excerpts:") {
		t.Error("missing context section header")
	}
	if !strings.Contains(got, "excerpt A") || !strings.Contains(got, "excerpt B") {
		t.Error("missing excerpt text")
	}
	if strings.Contains(got, "No knowledge base excerpts") {
		t.Error("degraded note present despite context")
	}
}

func TestSystemPrompt_EmptyContext(t *testing.T) {
	for _, ctx := range []string{"", "   ", "\n\t"} {
		got := systemPrompt(ctx)
		if !strings.Contains(got, "No knowledge base excerpts") {
			t.Errorf("systemPrompt(%q) missing degraded note", ctx)
		}
		if strings.Contains(got, "Knowledge base excerpts:") {
			t.Errorf("systemPrompt(%q) claims context", ctx)
		}
	}
}

func TestSystemPrompt_AlwaysIncludesPersona(t *testing.T) {
	for _, ctx := range []string{"", "some excerpt"} {
		if got := systemPrompt(ctx); !strings.Contains(got, "helpful assistant") {
			t.Errorf("systemPrompt(%q) missing persona", ctx)
		}
	}
}
