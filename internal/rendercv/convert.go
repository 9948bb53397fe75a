package rendercv

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// Convert turns a parsed resume document into a RenderCV YAML description.
func Convert(doc map[string]any) (string, error) {
	cv := map[string]any{
		"name":            str(doc, "name"),
		"email":           str(doc, "email"),
		"phone":           str(doc, "phone"),
		"website":         str(doc, "website"),
		"social_networks": socialNetworks(doc),
		"sections":        sections(doc),
		"theme":           "moderncv",
		"page": map[string]any{
			"show_pagenumbering":     false,
			"show_last_updated_date": false,
		},
		"style": map[string]any{"header_separator": "none"},
	}

	out, err := yaml.Marshal(map[string]any{"cv": cv})
	if err != nil {
		return "", fmt.Errorf("marshal rendercv yaml: %w", err)
	}
	return string(out), nil
}

func socialNetworks(doc map[string]any) []map[string]any {
	networks := make([]map[string]any, 0, 2)
	if v := str(doc, "linkedin"); v != "" {
		networks = append(networks, map[string]any{
			"network":  "LinkedIn",
			"username": extractUsername(v),
		})
	}
	if v := str(doc, "github"); v != "" {
		networks = append(networks, map[string]any{
			"network":  "GitHub",
			"username": extractUsername(v),
		})
	}
	return networks
}

func sections(doc map[string]any) map[string]any {
	out := map[string]any{}

	if summary := str(doc, "summary"); summary != "" {
		out["summary"] = []string{summary}
	}

	if entries := list(doc, "experience"); len(entries) > 0 {
		experience := make([]map[string]any, 0, len(entries))
		for _, raw := range entries {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			experience = append(experience, map[string]any{
				"company":    str(entry, "company"),
				"position":   str(entry, "position"),
				"location":   str(entry, "location"),
				"start_date": yearMonth(str(entry, "start_date")),
				"end_date":   yearMonth(str(entry, "end_date")),
				"highlights": strList(entry, "highlights"),
			})
		}
		out["experience"] = experience
	}

	if entries := list(doc, "education"); len(entries) > 0 {
		education := make([]map[string]any, 0, len(entries))
		for _, raw := range entries {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			education = append(education, map[string]any{
				"institution": str(entry, "institution"),
				"area":        str(entry, "area"),
				"degree":      str(entry, "degree"),
				"location":    str(entry, "location"),
				"start_date":  yearMonth(str(entry, "start_date")),
				"end_date":    yearMonth(str(entry, "end_date")),
				"highlights":  strList(entry, "highlights"),
			})
		}
		out["education"] = education
	}

	if skills, ok := doc["skills"].(map[string]any); ok && len(skills) > 0 {
		technologies := make([]map[string]any, 0, len(skills))
		for category, raw := range skills {
			details, ok := raw.([]any)
			if !ok {
				continue
			}
			items := make([]string, 0, len(details))
			for _, d := range details {
				if s, ok := d.(string); ok {
					items = append(items, s)
				}
			}
			technologies = append(technologies, map[string]any{
				"label":   category,
				"details": strings.Join(items, ", "),
			})
		}
		out["technologies"] = technologies
	}

	if entries := list(doc, "projects"); len(entries) > 0 {
		projects := make([]map[string]any, 0, len(entries))
		for _, raw := range entries {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			date := str(entry, "date")
			if date == "" && entry["date"] != nil {
				date = fmt.Sprint(entry["date"])
			}
			projects = append(projects, map[string]any{
				"name":       str(entry, "name"),
				"date":       date,
				"highlights": strList(entry, "highlights"),
			})
		}
		out["projects"] = projects
	}

	if certs := strList(doc, "certifications"); len(certs) > 0 {
		out["certificates"] = certs
	}

	return out
}

// extractUsername pulls the trailing path segment out of a profile URL, so
// both bare usernames and full URLs are accepted.
func extractUsername(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return raw
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// yearMonth truncates a date to YYYY-MM, which RenderCV expects.
func yearMonth(date string) string {
	if len(date) > 7 {
		return date[:7]
	}
	return date
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func list(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func strList(m map[string]any, key string) []string {
	items := list(m, key)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
