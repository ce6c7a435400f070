package peerid

import "testing"

func TestNewTagPrefix(t *testing.T) {
	id, err := New("-LC")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if string(id[:3]) != "-LC" {
		t.Fatalf("tag prefix = %q, want %q", id[:3], "-LC")
	}
}

func TestNewRandomSuffixDiffers(t *testing.T) {
	a, err := New("-LC")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	b, err := New("-LC")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if a == b {
		t.Fatal("two generated peer ids should not collide")
	}
}
