package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformedDocument marks generator output that could not be turned into a
// valid resume document.
var ErrMalformedDocument = errors.New("malformed resume document")

// Loose structural schema for parsed resumes. Nothing is required, since
// resumes vary, but fields that are present must have the right shape.
const resumeSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "email": {"type": "string"},
    "phone": {"type": "string"},
    "website": {"type": "string"},
    "linkedin": {"type": "string"},
    "github": {"type": "string"},
    "summary": {"type": "string"},
    "experience": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "company": {"type": "string"},
          "position": {"type": "string"},
          "location": {"type": "string"},
          "start_date": {"type": "string"},
          "end_date": {"type": "string"},
          "highlights": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "education": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "institution": {"type": "string"},
          "area": {"type": "string"},
          "degree": {"type": "string"},
          "location": {"type": "string"},
          "start_date": {"type": "string"},
          "end_date": {"type": "string"},
          "gpa": {"type": ["string", "number"]},
          "highlights": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "skills": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "string"}}
    },
    "projects": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "date": {"type": ["string", "number"]},
          "highlights": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "certifications": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaLoader = gojsonschema.NewStringLoader(resumeSchema)
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractDocument turns raw generator output into a validated resume
// document. The external contract is not trusted: markdown fences are
// stripped and a JSON object is re-extracted when the output has prose
// around it.
func ExtractDocument(raw string) (map[string]any, error) {
	cleaned := stripFences(raw)

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		// The model sometimes wraps the object in commentary; salvage the
		// outermost {...} before giving up.
		match := jsonObjectRe.FindString(cleaned)
		if match == "" {
			return nil, fmt.Errorf("%w: no JSON object in output", ErrMalformedDocument)
		}
		if err := json.Unmarshal([]byte(match), &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
	}

	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks a document against the resume schema.
func Validate(doc map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate resume document: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return fmt.Errorf("%w: %s", ErrMalformedDocument, strings.Join(details, "; "))
	}
	return nil
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
