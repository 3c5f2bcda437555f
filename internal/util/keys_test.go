package util

import (
	"strings"
	"testing"
)

func TestCanonicalKeyIgnoresParamOrder(t *testing.T) {
	a := CanonicalKey("posts", map[string]string{"user": "u1", "tab": "media"})
	b := CanonicalKey("posts", map[string]string{"tab": "media", "user": "u1"})
	if a != b {
		t.Fatalf("canonical keys differ: %q vs %q", a, b)
	}
	if a != "posts?tab=media&user=u1" {
		t.Fatalf("unexpected canonical form %q", a)
	}
}

func TestCanonicalKeyWithoutParams(t *testing.T) {
	if got := CanonicalKey("events", nil); got != "events" {
		t.Fatalf("got %q want events", got)
	}
}

func TestCanonicalKeyEscapesValues(t *testing.T) {
	a := CanonicalKey("search", map[string]string{"q": "a&b=c"})
	b := CanonicalKey("search", map[string]string{"q": "a", "b": "c"})
	if a == b {
		t.Fatalf("escaping collapsed distinct params into %q", a)
	}
}

func TestStorageKeyShape(t *testing.T) {
	k := StorageKey("park:app", "posts?user=u1")
	if !strings.HasPrefix(k, "park:app:") || len(k) != len("park:app:")+16 {
		t.Fatalf("unexpected storage key %q", k)
	}
	if k != StorageKey("park:app", "posts?user=u1") {
		t.Fatalf("storage key not deterministic")
	}
}
