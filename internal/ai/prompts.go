package ai

// Task instructions resolved per operation kind. Kept as source constants so
// the binary is self-contained.

const ParseInstructions = `You are a professional resume parser. Extract the resume information from the
provided text and return ONLY a JSON object, with no surrounding prose or
markdown fences. Use this shape:
{
  "name": string, "email": string, "phone": string, "website": string,
  "linkedin": string, "github": string, "summary": string,
  "experience": [{"company", "position", "location", "start_date", "end_date", "highlights": [string]}],
  "education": [{"institution", "area", "degree", "location", "start_date", "end_date", "gpa", "highlights": [string]}],
  "skills": {"category": [string]},
  "projects": [{"name", "date", "highlights": [string]}],
  "certifications": [string]
}
Dates use YYYY-MM or YYYY-MM-DD. Omit fields that are not present.`

const EnhanceInstructions = `You are a professional resume writer. Rewrite the given resume section to be
more professional, impactful, and compelling. Use action verbs, quantify
achievements where possible, and keep it truthful to the original content.
Return only the rewritten text.`

const AnalyzeInstructions = `You are an applicant tracking system (ATS) analyst. Compare the resume content
against the job description. Report, concisely: matched keywords, missing
keywords the candidate should add, and an overall match assessment.`

const OptimizeInstructions = `You are a career coach. Rewrite the given resume section so it targets the
stated role, emphasizing the most relevant experience and skills. Return only
the rewritten text.`
