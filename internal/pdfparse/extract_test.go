package pdfparse

import (
	"strings"
	"testing"
)

func TestCleanCollapsesWhitespace(t *testing.T) {
	in := "Ada  Lovelace\n\n\n\nMathematician\t Engineer"
	got := Clean(in)
	if strings.Contains(got, "  ") {
		t.Fatalf("double spaces survive: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Fatalf("blank-line runs survive: %q", got)
	}
}

func TestCleanConvertsBullets(t *testing.T) {
	got := Clean("• Built a compiler\n▪ Shipped it")
	if !strings.Contains(got, "- Built a compiler") || !strings.Contains(got, "- Shipped it") {
		t.Fatalf("bullets not converted: %q", got)
	}
}

func TestCleanDropsPageArtifacts(t *testing.T) {
	got := Clean("Experience\nPage 2\n7\nx\nLed the team")
	for _, artifact := range []string{"Page 2", "\n7\n", "\nx\n"} {
		if strings.Contains(got, artifact) {
			t.Fatalf("artifact %q survives: %q", artifact, got)
		}
	}
	if !strings.Contains(got, "Led the team") {
		t.Fatalf("real content lost: %q", got)
	}
}
