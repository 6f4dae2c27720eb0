package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSafeJoinStripsTraversal(t *testing.T) {
	got := SafeJoin("/data/in", "../../etc/passwd")
	if got != filepath.Join("/data/in", "passwd") {
		t.Fatalf("unexpected join: %s", got)
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")
	if err := WriteJSONAtomic(path, map[string]int{"done": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]int
	if err := json.Unmarshal(b, &out); err != nil || out["done"] != 2 {
		t.Fatalf("unexpected content %s (%v)", b, err)
	}
}
