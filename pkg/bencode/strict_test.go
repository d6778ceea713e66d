package bencode

import "testing"

func TestUnmarshalStrict_RejectsUnsortedKeys(t *testing.T) {
	// "b" before "a" — not canonically sorted.
	_, err := UnmarshalStrict([]byte("d1:bi1e1:ai2ee"))
	wantErrContains(t, err, "out of order")
}

func TestUnmarshalStrict_RejectsDuplicateKeys(t *testing.T) {
	_, err := UnmarshalStrict([]byte("d1:ai1e1:ai2ee"))
	wantErrContains(t, err, "out of order or duplicate")
}

func TestUnmarshalStrict_AcceptsCanonical(t *testing.T) {
	v, err := UnmarshalStrict([]byte("d1:ai1e1:bi2ee"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["a"] != int64(1) || m["b"] != int64(2) {
		t.Fatalf("got %#v", v)
	}
}

func TestMarshalUnmarshalStrict_RoundTrip(t *testing.T) {
	in := map[string]any{
		"t": "aa",
		"y": "q",
		"q": "ping",
		"a": map[string]any{"id": "01234567890123456789"},
	}

	encoded, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	// Our own encoder always sorts keys, so the result must satisfy strict
	// decoding too.
	if _, err := UnmarshalStrict(encoded); err != nil {
		t.Fatalf("UnmarshalStrict on our own encoder output failed: %v", err)
	}
}
