package rendercv

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func sampleDoc() map[string]any {
	return map[string]any{
		"name":     "Ada Lovelace",
		"email":    "ada@example.com",
		"phone":    "+44 20 7946 0958",
		"linkedin": "https://www.linkedin.com/in/ada-lovelace/",
		"github":   "adalovelace",
		"summary":  "Analytical engine programmer.",
		"experience": []any{
			map[string]any{
				"company":    "Analytical Engines Ltd",
				"position":   "Programmer",
				"location":   "London",
				"start_date": "1842-06-15",
				"end_date":   "1843-09-01",
				"highlights": []any{"Wrote the first published algorithm"},
			},
		},
		"skills": map[string]any{
			"Mathematics": []any{"Analysis", "Number theory"},
		},
		"certifications": []any{"Royal Society Fellow"},
	}
}

func TestConvertProducesValidYAML(t *testing.T) {
	out, err := Convert(sampleDoc())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("output is not valid yaml: %v", err)
	}
	cv, ok := parsed["cv"].(map[string]any)
	if !ok {
		t.Fatalf("missing cv root: %v", parsed)
	}
	if cv["name"] != "Ada Lovelace" {
		t.Fatalf("name = %v", cv["name"])
	}
}

func TestConvertTruncatesDates(t *testing.T) {
	out, err := Convert(sampleDoc())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !strings.Contains(out, "1842-06") || strings.Contains(out, "1842-06-15") {
		t.Fatalf("start date not truncated to year-month:\n%s", out)
	}
}

func TestConvertExtractsSocialUsernames(t *testing.T) {
	out, err := Convert(sampleDoc())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !strings.Contains(out, "ada-lovelace") {
		t.Fatalf("linkedin username not extracted from URL:\n%s", out)
	}
	if strings.Contains(out, "linkedin.com") {
		t.Fatalf("full URL leaked into social networks:\n%s", out)
	}
}

func TestConvertSkipsAbsentSections(t *testing.T) {
	out, err := Convert(map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	for _, section := range []string{"experience:", "education:", "projects:", "certificates:"} {
		if strings.Contains(out, section) {
			t.Fatalf("empty section %q emitted:\n%s", section, out)
		}
	}
}
