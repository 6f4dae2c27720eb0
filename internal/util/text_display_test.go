package util

import (
	"strings"
	"testing"
)

func TestDisplaySnippet(t *testing.T) {
	got := DisplaySnippet("Audit\x00   fees \n\t rise", 100)
	if got != "Audit fees rise" {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := DisplaySnippet("auditFees inTable2", 100); got != "audit Fees in Table 2" {
		t.Fatalf("glued words not split: %q", got)
	}
	if got := DisplaySnippet(strings.Repeat("x", 20), 5); got != "xxxxx..." {
		t.Fatalf("unexpected cut %q", got)
	}
}

func TestDisplayEvidenceSnippet(t *testing.T) {
	chunk := "Prior studies examine auditor rotation. Mandatory rotation lowers audit quality in the first year. Appendix tables follow."
	got := DisplayEvidenceSnippet(chunk, "Does mandatory change affect quality?", 300)
	if got != "Mandatory rotation lowers audit quality in the first year." {
		t.Fatalf("unexpected evidence %q", got)
	}

	// two matching sentences come back in reading order
	got = DisplayEvidenceSnippet(chunk, "auditor rotation quality", 300)
	if got != "Prior studies examine auditor rotation. Mandatory rotation lowers audit quality in the first year." {
		t.Fatalf("unexpected evidence %q", got)
	}

	if got := DisplayEvidenceSnippet(chunk, "goodwill impairment", 20); got != "Prior studies examin..." {
		t.Fatalf("expected leading text without a match, got %q", got)
	}
	if DisplayEvidenceSnippet("  ", "audit", 50) != "" {
		t.Fatalf("expected empty snippet for blank chunk")
	}
}
