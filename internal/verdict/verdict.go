// Package verdict provides deterministic post-hoc validation of assembled
// reports. No LLM calls are made here.
package verdict

import (
	"fmt"

	"github.com/dshills/movreport/internal/coverage"
	"github.com/dshills/movreport/internal/schema"
)

// Question count thresholds. Below MinQuestions is an issue; below
// TargetQuestions is a warning.
const (
	MinQuestions    = 70
	TargetQuestions = 76

	DefaultConfidenceThreshold = 0.7
)

// Options configures Validate.
type Options struct {
	// ConfidenceThreshold flags questions below it. Zero means the default.
	ConfidenceThreshold float64
}

// Result is the quality report for one assembled report.
type Result struct {
	IsValid          bool         `json:"is_valid"`
	Grade            schema.Grade `json:"data_quality"`
	Coverage         float64      `json:"question_coverage"`
	Issues           []string     `json:"issues"`
	Warnings         []string     `json:"warnings"`
	CriticalFindings []string     `json:"critical_findings"`
	TotalQuestions   int          `json:"total_questions"`
	ActionItemCount  int          `json:"action_items_count"`
}

// Validate applies the business rules to r. It never mutates r.
//
// Rules, in order:
//  1. Question coverage: fewer than 70 is an issue, fewer than 76 a warning.
//  2. Recruitment arithmetic: violations are issues.
//  3. Confidence: questions below the threshold produce one warning.
//  4. Action items: none at all, or items missing description or action,
//     produce warnings.
//
// Critical findings are collected separately and do not affect the grade.
func Validate(r *schema.Report, opts Options) Result {
	threshold := opts.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	res := Result{
		Issues:           []string{},
		Warnings:         []string{},
		TotalQuestions:   len(r.QuestionResponses),
		ActionItemCount:  len(r.ActionItems),
		CriticalFindings: CriticalFindings(r),
	}

	// Rule 1: coverage.
	n := len(r.QuestionResponses)
	res.Coverage = coverage.QuestionCoverage(n)
	switch {
	case n < MinQuestions:
		res.Issues = append(res.Issues, fmt.Sprintf("Insufficient questions extracted: %d/%d (minimum: %d)", n, schema.TotalQuestions, MinQuestions))
	case n < TargetQuestions:
		res.Warnings = append(res.Warnings, fmt.Sprintf("Below target question count: %d/%d (target: %d)", n, schema.TotalQuestions, TargetQuestions))
	}

	// Rule 2: recruitment arithmetic.
	res.Issues = append(res.Issues, RecruitmentIssues(r.RecruitmentStats)...)

	// Rule 3: confidence.
	low := 0
	for _, q := range r.QuestionResponses {
		if q.Confidence < threshold {
			low++
		}
	}
	if low > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d questions have low confidence (< %v)", low, threshold))
	}

	// Rule 4: action items.
	if len(r.ActionItems) == 0 {
		res.Warnings = append(res.Warnings, "No action items found in report")
	}
	for _, a := range r.ActionItems {
		if a.Description == "" || a.ActionToBeTaken == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Action item %d has missing fields", a.ItemNumber))
		}
	}

	res.IsValid = len(res.Issues) == 0
	res.Grade = ComputeGrade(len(res.Issues), len(res.Warnings))
	return res
}

// RecruitmentIssues checks screened >= randomized + failures and that
// neither discontinued nor completed treatment exceeds randomized.
func RecruitmentIssues(s schema.RecruitmentStats) []string {
	var out []string
	if s.Screened < s.RandomizedEnrolled+s.ScreenFailures {
		out = append(out, fmt.Sprintf("Recruitment math error: screened (%d) < randomized (%d) + failures (%d)",
			s.Screened, s.RandomizedEnrolled, s.ScreenFailures))
	}
	if s.EarlyDiscontinued > s.RandomizedEnrolled {
		out = append(out, fmt.Sprintf("Discontinued (%d) > randomized (%d)", s.EarlyDiscontinued, s.RandomizedEnrolled))
	}
	if s.CompletedTreatment > s.RandomizedEnrolled {
		out = append(out, fmt.Sprintf("Completed treatment (%d) > randomized (%d)", s.CompletedTreatment, s.RandomizedEnrolled))
	}
	return out
}

// CriticalFindings lists every question answered No with a key finding,
// followed by one entry per raised risk flag.
func CriticalFindings(r *schema.Report) []string {
	out := []string{}
	for _, q := range r.QuestionResponses {
		if q.Answer == schema.AnswerNo && q.KeyFinding != "" {
			out = append(out, fmt.Sprintf("Q%d: %s", q.QuestionNumber, q.KeyFinding))
		}
	}
	ra := r.RiskAssessment
	if ra.SiteLevelRisks {
		out = append(out, "Site-level risks identified")
	}
	if ra.CRALevelRisks {
		out = append(out, "CRA-level risks identified")
	}
	if ra.ImpactCountryLevel {
		out = append(out, "Country-level impact identified")
	}
	if ra.ImpactStudyLevel {
		out = append(out, "Study-level impact identified")
	}
	return out
}

// ComputeGrade maps issue and warning counts to a grade: Poor if any issue,
// otherwise Excellent, Good, Fair or Needs Review at 0, <=2, <=5 and >5
// warnings.
func ComputeGrade(issues, warnings int) schema.Grade {
	switch {
	case issues > 0:
		return schema.GradePoor
	case warnings == 0:
		return schema.GradeExcellent
	case warnings <= 2:
		return schema.GradeGood
	case warnings <= 5:
		return schema.GradeFair
	default:
		return schema.GradeNeedsReview
	}
}

// GradeOrdinal returns the numeric ordinal for a grade, used to compare
// severity order. Excellent=0, Good=1, Fair=2, Needs Review=3, Poor=4.
// Used by --fail-on: exit 2 if GradeOrdinal(actual) >= GradeOrdinal(threshold).
func GradeOrdinal(g schema.Grade) int {
	switch g {
	case schema.GradeExcellent:
		return 0
	case schema.GradeGood:
		return 1
	case schema.GradeFair:
		return 2
	case schema.GradeNeedsReview:
		return 3
	case schema.GradePoor:
		return 4
	default:
		return -1
	}
}
