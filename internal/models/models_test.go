package models

import (
	"strings"
	"testing"
)

func TestNormalizeTextPriority(t *testing.T) {
	if got := NormalizeText("  ", "abstract", "summary"); got != "abstract" {
		t.Fatalf("expected abstract, got %q", got)
	}
	if got := NormalizeText("text", "abstract", "summary"); got != "text" {
		t.Fatalf("expected text, got %q", got)
	}
	if got := NormalizeText("", "", " summary "); got != "summary" {
		t.Fatalf("expected summary, got %q", got)
	}
}

func TestDocumentIDFromDOIIsStable(t *testing.T) {
	a := DocumentIDFromDOI("10.2308/ACCR-1")
	b := DocumentIDFromDOI("https://doi.org/10.2308/accr-1")
	if a != b {
		t.Fatalf("expected equal ids, got %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "doi-") || len(a) != 28 {
		t.Fatalf("unexpected id shape %q", a)
	}
}

func TestChunkKey(t *testing.T) {
	c := Chunk{ParentDocumentID: "pdf-1", PageNumber: 2, ChunkIndex: 3}
	if c.Key() != "pdf-1_page_2_part_3" {
		t.Fatalf("unexpected key %q", c.Key())
	}
}

func TestParseCombinator(t *testing.T) {
	if ParseCombinator("or") != CombineOr || ParseCombinator("") != CombineAnd || ParseCombinator("xor") != CombineAnd {
		t.Fatalf("unexpected combinator parsing")
	}
}

func TestNewAdHocDocument(t *testing.T) {
	d := NewAdHocDocument("", "  my notes ")
	if d.Title != "User Notes" || d.Text != "my notes" || d.Source != SourceAdHocText {
		t.Fatalf("unexpected doc %+v", d)
	}
}
