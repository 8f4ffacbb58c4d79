// Package render produces output from an assembled schema.Report.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/movreport/internal/coverage"
	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/verdict"
)

// Format names an output encoding of a single report.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "md"
)

// ParseFormat accepts the CLI spellings of a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("render: unknown format %q (available: json, yaml, md)", s)
}

// Write renders report with its validation result in format f.
func Write(w io.Writer, f Format, report *schema.Report, res verdict.Result) error {
	var (
		b   []byte
		err error
	)
	switch f {
	case FormatJSON:
		b, err = JSON(report)
	case FormatYAML:
		b, err = YAML(report)
	case FormatMarkdown:
		if report == nil {
			return fmt.Errorf("render: nil report")
		}
		b = []byte(Markdown(report, res))
	default:
		return fmt.Errorf("render: unknown format %q", f)
	}
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("render: write: %w", err)
	}
	return nil
}

// JSON produces a pretty-printed JSON representation of the report.
func JSON(report *schema.Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("render: nil report")
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return append(b, '\n'), nil
}

// YAML renders the report with the same field names and order as JSON.
// The JSON document is decoded as a YAML node tree and re-encoded in block
// style.
func YAML(report *schema.Report) ([]byte, error) {
	js, err := json.Marshal(report)
	if err != nil || report == nil {
		if err == nil {
			err = fmt.Errorf("nil report")
		}
		return nil, fmt.Errorf("render: yaml: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(js, &doc); err != nil {
		return nil, fmt.Errorf("render: yaml decode: %w", err)
	}
	blockStyle(&doc)
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("render: yaml encode: %w", err)
	}
	return out, nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// Markdown produces a GitHub-flavoured Markdown summary of the report and
// its validation result.
func Markdown(report *schema.Report, res verdict.Result) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder
	si := report.SiteInfo

	fmt.Fprintf(&sb, "## MOV Report: Site %s", si.SiteNumber)
	if si.Country != "" {
		fmt.Fprintf(&sb, " (%s)", si.Country)
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "**Protocol:** %s  \n", report.ProtocolNumber)
	fmt.Fprintf(&sb, "**Institution:** %s  \n", mdEscape(si.Institution))
	fmt.Fprintf(&sb, "**Principal Investigator:** %s %s  \n", si.PIFirstName, si.PILastName)
	fmt.Fprintf(&sb, "**Visit:** %s %s to %s  \n", orDash(string(report.VisitType)), orDash(report.VisitStartDate), orDash(report.VisitEndDate))
	fmt.Fprintf(&sb, "**Overall Site Quality:** %s\n\n", orDash(string(report.OverallSiteQuality)))

	sb.WriteString("## Data Quality\n\n")
	fmt.Fprintf(&sb, "**Grade:** %s | **Valid:** %s | **Coverage:** %.1f%% (%d/%d)  \n",
		res.Grade, yesNo(res.IsValid), res.Coverage, res.TotalQuestions, schema.TotalQuestions)
	fmt.Fprintf(&sb, "**Completeness:** %.3f | **Requires Review:** %s\n\n",
		report.DataQuality.CompletenessScore, yesNo(report.DataQuality.RequiresReview))
	if report.DataQuality.ReviewReason != "" {
		fmt.Fprintf(&sb, "> %s\n\n", mdEscape(report.DataQuality.ReviewReason))
	}
	writeList(&sb, "Issues", res.Issues)
	writeList(&sb, "Warnings", res.Warnings)
	writeList(&sb, "Critical Findings", res.CriticalFindings)

	rs := report.RecruitmentStats
	sb.WriteString("## Recruitment\n\n")
	sb.WriteString("| Screened | Screen Failures | Randomized | Early Discontinued | Completed Treatment | Completed Study |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %d | %d |\n\n",
		rs.Screened, rs.ScreenFailures, rs.RandomizedEnrolled, rs.EarlyDiscontinued, rs.CompletedTreatment, rs.CompletedStudy)

	t := coverage.TallyAnswers(report.QuestionResponses)
	sb.WriteString("## Questionnaire\n\n")
	fmt.Fprintf(&sb, "**Yes:** %d | **No:** %d | **N/A:** %d | **NR:** %d | **Compliance:** %.2f%%\n\n",
		t.Yes, t.No, t.NA, t.NR, t.ComplianceRate())
	var noRows []schema.QuestionResponse
	for _, q := range report.QuestionResponses {
		if q.Answer == schema.AnswerNo {
			noRows = append(noRows, q)
		}
	}
	if len(noRows) > 0 {
		sb.WriteString("| Q | Question | Key Finding | Confidence |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, q := range noRows {
			fmt.Fprintf(&sb, "| %d | %s | %s | %.2f |\n", q.QuestionNumber, mdEscape(q.QuestionText), mdEscape(q.KeyFinding), q.Confidence)
		}
		sb.WriteString("\n")
	}

	if len(report.ActionItems) > 0 {
		sb.WriteString("## Action Items\n\n")
		sb.WriteString("| # | Description | Action | Responsible | Due | Status |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")
		for _, a := range report.ActionItems {
			fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s |\n", a.ItemNumber,
				mdEscape(a.Description), mdEscape(a.ActionToBeTaken), mdEscape(a.Responsible),
				orDash(a.DueDate), orDash(a.Status))
		}
		sb.WriteString("\n")
	}

	if ra := report.RiskAssessment; ra.AnyRisk() || ra.Narrative != "" {
		sb.WriteString("## Risk Assessment\n\n")
		fmt.Fprintf(&sb, "Site-level: %s | CRA-level: %s | Country impact: %s | Study impact: %s\n\n",
			yesNo(ra.SiteLevelRisks), yesNo(ra.CRALevelRisks), yesNo(ra.ImpactCountryLevel), yesNo(ra.ImpactStudyLevel))
		if ra.Narrative != "" {
			fmt.Fprintf(&sb, "%s\n\n", mdEscape(ra.Narrative))
		}
	}
	writeList(&sb, "Key Concerns", report.KeyConcerns)
	writeList(&sb, "Key Strengths", report.KeyStrengths)

	ex := report.Extraction
	fmt.Fprintf(&sb, "---\n_%s · %s · %s · %d prompt / %d completion tokens_\n",
		ex.Method, orDash(ex.Model), ex.Timestamp.UTC().Format(time.RFC3339), ex.PromptTokens, ex.CompletionTokens)
	return sb.String()
}

// QuestionColumns is the header of the per-question CSV export.
var QuestionColumns = []string{
	"File", "Site_Number", "Country", "Visit_Date", "Visit_Type",
	"Question_Number", "Question_Text", "Answer", "Sentiment",
	"Narrative_Summary", "Key_Finding", "Evidence", "Confidence", "Overall_Quality",
}

// SummaryColumns is the header of the one-row-per-report CSV export.
var SummaryColumns = []string{
	"File", "Site_Number", "Country", "Visit_Start", "Visit_End", "Visit_Type",
	"Questions_Extracted", "Action_Items", "Overall_Quality",
	"Extraction_Method", "LLM_Model", "Extraction_Time",
}

// QuestionsCSV writes one row per question response across reports.
func QuestionsCSV(w io.Writer, reports []*schema.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(QuestionColumns); err != nil {
		return fmt.Errorf("render: csv: %w", err)
	}
	for _, r := range reports {
		for _, q := range r.QuestionResponses {
			row := []string{
				sourceName(r), r.SiteInfo.SiteNumber, r.SiteInfo.Country, r.VisitStartDate, string(r.VisitType),
				strconv.Itoa(q.QuestionNumber), q.QuestionText, string(q.Answer), string(q.Sentiment),
				q.NarrativeSummary, q.KeyFinding, q.Evidence,
				strconv.FormatFloat(q.Confidence, 'f', -1, 64), string(r.OverallSiteQuality),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("render: csv: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("render: csv: %w", err)
	}
	return nil
}

// SummaryCSV writes one row per report.
func SummaryCSV(w io.Writer, reports []*schema.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryColumns); err != nil {
		return fmt.Errorf("render: csv: %w", err)
	}
	for _, r := range reports {
		ts := ""
		if !r.Extraction.Timestamp.IsZero() {
			ts = r.Extraction.Timestamp.UTC().Format(time.RFC3339)
		}
		row := []string{
			sourceName(r), r.SiteInfo.SiteNumber, r.SiteInfo.Country, r.VisitStartDate, r.VisitEndDate, string(r.VisitType),
			strconv.Itoa(len(r.QuestionResponses)), strconv.Itoa(len(r.ActionItems)), string(r.OverallSiteQuality),
			r.Extraction.Method, r.Extraction.Model, ts,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("render: csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("render: csv: %w", err)
	}
	return nil
}

func sourceName(r *schema.Report) string {
	if r.Extraction.SourceFile == "" {
		return ""
	}
	return filepath.Base(r.Extraction.SourceFile)
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "**%s:**\n\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", mdEscape(it))
	}
	sb.WriteString("\n")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
