package bencode

import "testing"

func TestMarshal_DictKeysSorted(t *testing.T) {
	m := map[string]any{
		"zebra": int64(1),
		"apple": int64(2),
	}

	b, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	want := "d5:applei2e5:zebrai1ee"
	if string(b) != want {
		t.Fatalf("Marshal = %q, want %q", string(b), want)
	}
}

func TestMarshal_RoundTripThroughDecoder(t *testing.T) {
	m := map[string]any{
		"name":   "ubuntu.iso",
		"length": int64(1024),
		"list":   []any{"a", "b", int64(3)},
	}

	b, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	v, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	got, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Unmarshal result type = %T, want map[string]any", v)
	}
	if got["name"] != "ubuntu.iso" || got["length"] != int64(1024) {
		t.Fatalf("round-trip mismatch: %#v", got)
	}
}

func TestMarshal_ByteSliceAsString(t *testing.T) {
	b, err := Marshal([]byte("abc"))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(b) != "3:abc" {
		t.Fatalf("Marshal = %q, want %q", string(b), "3:abc")
	}
}

func TestMarshal_UnsupportedType(t *testing.T) {
	if _, err := Marshal(3.14); err == nil {
		t.Fatal("expected error for unsupported type float64")
	}
}
