package extract

import (
	"fmt"
	"strings"

	"github.com/dshills/movreport/internal/profile"
)

const baseSystemPrompt = "You are a precise data extraction assistant for clinical trial " +
	"monitoring visit (MOV) reports. Extract ONLY the requested information and return " +
	"valid JSON. Do not add explanatory text."

// buildSystemPrompt assembles the system prompt shared by every sub-extractor.
func buildSystemPrompt(prof profile.Profile) string {
	if prof.SystemPromptAddendum == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\n" + prof.SystemPromptAddendum
}

const headerPrompt = `Extract the header information from this MOV report.

TEXT:
%s

EXTRACT:
- Protocol number (format "Protocol ABC-123"; some reports use "Protocol Short Title" instead; if not found use "Protocol UNKNOWN")
- Site number (6 digits, otherwise null)
- Country
- Institution
- PI first and last name
- City (otherwise null)
- Oversight staff (the sponsor's clinical oversight manager)
- CRA name (otherwise null)
- Visit start and end dates (YYYY-MM-DD, otherwise null). Some reports carry the visit date only in the signature section at the end; check both parts of the text.
- Visit type (SIV MOV, IMV MOV or COV MOV, otherwise null)
- Recruitment statistics: screened, screen failures, randomized/enrolled, early discontinued, completed treatment, completed study

Return ONLY valid JSON in this exact format, with null for anything not found:
{
  "protocol_number": "Protocol ABC-123",
  "site_info": {
    "site_number": "123456",
    "country": "...",
    "institution": "...",
    "pi_first_name": "...",
    "pi_last_name": "...",
    "city": null,
    "oversight_staff": "...",
    "cra_name": null
  },
  "visit_start_date": "YYYY-MM-DD",
  "visit_end_date": "YYYY-MM-DD",
  "visit_type": "IMV MOV",
  "recruitment_stats": {
    "screened": 0,
    "screen_failures": 0,
    "randomized_enrolled": 0,
    "early_discontinued": 0,
    "completed_treatment": 0,
    "completed_study": 0
  }
}`

func buildHeaderPrompt(excerpt string) string {
	return fmt.Sprintf(headerPrompt, excerpt)
}

const questionsPrompt = `Extract questions %[1]d through %[2]d from this MOV report.

FULL REPORT TEXT:
%[3]s

INSTRUCTIONS:
Extract ONLY questions numbered %[1]d to %[2]d (inclusive). For each question extract:
- question_number: the number (%[1]d-%[2]d)
- question_text: full question text
- answer: one of "Yes", "No", "N/A", "NR"
- sentiment: judged from what the question asks, never from the answer alone
  - "Positive" = good outcome (compliant, no issues)
  - "Negative" = bad outcome (non-compliant, issues found)
  - "Neutral" = neither good nor bad (N/A or informational)
  - "Unknown" = cannot determine (NR)
- narrative_summary: 2-3 sentence summary if a narrative exists, otherwise null
- key_finding: one line if this is a critical finding, otherwise null
- evidence: short quote from the text, otherwise null
- confidence: 0.0-1.0

SENTIMENT EXAMPLES:
- "Were all ICFs signed?" answered "Yes" is Positive
- "Were any protocol deviations found?" answered "Yes" is Negative
- "Were any protocol deviations found?" answered "No" is Positive

If a question is not found in the text, still include it with answer "NR" and sentiment "Unknown".
You MUST return %[4]d question objects.

Return ONLY valid JSON:
{
  "questions": [
    {"question_number": %[1]d, "question_text": "...", "answer": "Yes", "sentiment": "Positive", "narrative_summary": null, "key_finding": null, "evidence": null, "confidence": 1.0}
  ]
}`

func buildQuestionsPrompt(text string, r Range) string {
	return fmt.Sprintf(questionsPrompt, r.Start, r.End, text, r.Len())
}

const actionItemsPrompt = `Search this entire MOV report for the Action Items table. It may appear early (page 3) or late (page 25+) in the document.

Look for section headers like:
- "Action Items"
- "Issues identified/ Action items"
- a table with columns: Item #, Description, Action to be taken, Responsible, Due date

FULL DOCUMENT TEXT:
%s

For each action item extract item_number, description, action_to_be_taken, responsible (person or role), due_date (as written) and status (if available).

Return ONLY valid JSON:
{
  "action_items": [
    {"item_number": 1, "description": "...", "action_to_be_taken": "...", "responsible": "...", "due_date": "...", "status": "..."}
  ]
}

If no action items are found return {"action_items": []}`

func buildActionItemsPrompt(text string) string {
	return fmt.Sprintf(actionItemsPrompt, text)
}

const assessmentPrompt = `Search for the Visit Summary and Risk Assessment section in this MOV report.

Look for section headers like:
- "VISIT SUMMARY WITH IMPACT/RISK LEVEL"
- "Visit Summary"
- questions 84-85 (final summary questions)

TEXT (last 40%% of the document):
%s

EXTRACT:
- risk assessment: site_level_risks_identified, cra_level_risks_identified, impact_country_level, impact_study_level (booleans) and a narrative summary
- overall_site_quality: one of %s
- key_concerns: 3-5 main concerns
- key_strengths: 3-5 main strengths

Return ONLY valid JSON:
{
  "risk_assessment": {
    "site_level_risks_identified": false,
    "cra_level_risks_identified": false,
    "impact_country_level": false,
    "impact_study_level": false,
    "narrative": "..."
  },
  "overall_site_quality": "Good",
  "key_concerns": ["..."],
  "key_strengths": ["..."]
}`

func buildAssessmentPrompt(excerpt string) string {
	grades := `"Excellent", "Good", "Adequate", "Needs Improvement", "Poor"`
	return fmt.Sprintf(assessmentPrompt, strings.TrimSpace(excerpt), grades)
}
