package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Batch()

	if !strings.HasPrefix(id, "batch-") {
		t.Errorf("expected ID to start with 'batch-', got %s", id)
	}
	if len(id) != len("batch-")+32 {
		t.Errorf("unexpected ID length %d for %s", len(id), id)
	}

	if p := Pipeline(); !strings.HasPrefix(p, "pipe-") {
		t.Errorf("expected ID to start with 'pipe-', got %s", p)
	}

	if id == Batch() {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate("x")
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
