package syncmap

import "testing"

func TestMap_PutGetDelete(t *testing.T) {
	m := New[string, int]()

	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected missing key to report !ok")
	}

	m.Put("a", 1)
	m.Put("b", 2)

	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("got (%v, %v), want (1, true)", v, ok)
	}

	if got := m.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected key to be deleted")
	}
	if got := m.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestMap_Range(t *testing.T) {
	m := New[int, string]()
	m.Put(1, "a")
	m.Put(2, "b")

	seen := make(map[int]string)
	m.Range(func(k int, v string) { seen[k] = v })

	if len(seen) != 2 || seen[1] != "a" || seen[2] != "b" {
		t.Fatalf("got %#v", seen)
	}
}
