package id

import (
	"strings"
	"testing"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey("frames", ".png")

	if !strings.HasPrefix(key, "frames/") {
		t.Errorf("expected key to start with 'frames/', got %s", key)
	}
	if !strings.HasSuffix(key, ".png") {
		t.Errorf("expected key to end with '.png', got %s", key)
	}

	key2 := ObjectKey("frames", ".png")
	if key == key2 {
		t.Error("expected different keys for consecutive calls")
	}
}

func TestObjectKey_NormalizesExtension(t *testing.T) {
	key := ObjectKey("", "mp4")
	if !strings.HasSuffix(key, ".mp4") {
		t.Errorf("expected extension to gain a dot, got %s", key)
	}
	if strings.Contains(key, "/") {
		t.Errorf("expected no prefix, got %s", key)
	}
}

func TestTempName_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		name := TempName(".mp4")
		if seen[name] {
			t.Errorf("duplicate name generated: %s", name)
		}
		seen[name] = true
	}
}
