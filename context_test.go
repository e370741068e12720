package cortex

import "testing"

func TestContextPresentEmptyStringIsNotAbsent(t *testing.T) {
	c := NewContext()
	c.Set("s1", "input_path", "")
	v, ok := c.Get("s1", "input_path")
	if !ok {
		t.Fatal("expected input_path to be present")
	}
	if v != "" {
		t.Errorf("value = %v, want empty string", v)
	}
}

func TestContextAbsentKey(t *testing.T) {
	c := NewContext()
	_, ok := c.Get("s1", "missing")
	if ok {
		t.Error("expected missing key to report absent")
	}
}

func TestContextAbsentSession(t *testing.T) {
	c := NewContext()
	_, ok := c.Get("no-such-session", "key")
	if ok {
		t.Error("expected unknown session to report absent")
	}
}

func TestContextSessionsAreIsolated(t *testing.T) {
	c := NewContext()
	c.Set("s1", "k", "one")
	c.Set("s2", "k", "two")
	v1, _ := c.Get("s1", "k")
	v2, _ := c.Get("s2", "k")
	if v1 != "one" || v2 != "two" {
		t.Errorf("cross-session leak: s1=%v s2=%v", v1, v2)
	}
}

func TestContextClearSession(t *testing.T) {
	c := NewContext()
	c.Set("s1", "k", "v")
	c.ClearSession("s1")
	if c.Has("s1", "k") {
		t.Error("expected key to be gone after ClearSession")
	}
}

func TestContextGlobalScope(t *testing.T) {
	c := NewContext()
	c.SetGlobal("boredom_level", 3)
	v, ok := c.GetGlobal("boredom_level")
	if !ok || v != 3 {
		t.Errorf("GetGlobal = %v, %v; want 3, true", v, ok)
	}
	// Global scope is independent from any session's scope.
	if c.Has("s1", "boredom_level") {
		t.Error("global key leaked into session scope")
	}
}

func TestContextSnapshotIsACopy(t *testing.T) {
	c := NewContext()
	c.Set("s1", "k", "v")
	snap := c.Snapshot("s1")
	snap["k"] = "mutated"
	v, _ := c.Get("s1", "k")
	if v != "v" {
		t.Error("mutating a snapshot mutated the underlying context")
	}
}
