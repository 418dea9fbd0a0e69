package promptcache

import "testing"

func TestSystemPromptFullThenReference(t *testing.T) {
	c := New()
	first := c.SystemPrompt("sid-1", "architect", false)
	if first != Lookup("architect").FullPrompt {
		t.Fatalf("expected full prompt on first call")
	}

	second := c.SystemPrompt("sid-1", "architect", false)
	if second != Lookup("architect").ReferencePrompt {
		t.Fatalf("expected reference prompt on second call, got %q", second)
	}
}

func TestSystemPromptDynamicContextBypassesCache(t *testing.T) {
	c := New()
	c.SystemPrompt("sid-2", "dba", false)
	again := c.SystemPrompt("sid-2", "dba", true)
	if again != Lookup("dba").FullPrompt {
		t.Fatalf("expected full prompt when dynamic context present, even after first call")
	}
}

func TestSystemPromptIsolatedPerSession(t *testing.T) {
	c := New()
	c.SystemPrompt("sid-a", "auditor", false)
	first := c.SystemPrompt("sid-b", "auditor", false)
	if first != Lookup("auditor").FullPrompt {
		t.Fatalf("expected full prompt for a fresh session id")
	}
}

func TestEvictSessionClearsEntries(t *testing.T) {
	c := New()
	c.SystemPrompt("sid-evict", "refactor", false)
	c.EvictSession("sid-evict")
	after := c.SystemPrompt("sid-evict", "refactor", false)
	if after != Lookup("refactor").FullPrompt {
		t.Fatalf("expected full prompt after eviction")
	}
}

func TestUnknownRoleDefaultsToArchitect(t *testing.T) {
	d := Lookup("nonexistent-role")
	if d.Name != "architect" {
		t.Fatalf("expected default role architect, got %q", d.Name)
	}
}
