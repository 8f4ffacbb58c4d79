package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/movreport/internal/schema"
)

// Review thresholds.
const (
	MinQuestions       = 70
	expectedFieldCount = 4
)

// Score derives the data-quality flags of an assembled report. answered is
// the number of questions the model actually returned, which excludes NR
// entries filled in for omitted numbers; it is capped at the report's
// question count. extraMissing entries are listed in FieldsMissing but do
// not affect the score; invalid entries list fields that were present but
// unusable.
func Score(r *schema.Report, answered int, extraMissing, invalid []string) schema.DataQualityFlags {
	missing := expectedMissing(r)
	n := min(answered, len(r.QuestionResponses), schema.TotalQuestions)
	n = max(n, 0)

	absent := float64(len(missing) + schema.TotalQuestions - n)
	completeness := 1 - absent/float64(expectedFieldCount+schema.TotalQuestions)
	completeness = math.Round(math.Max(0, math.Min(1, completeness))*1000) / 1000

	var reasons []string
	if n < MinQuestions {
		reasons = append(reasons, fmt.Sprintf("Only %d/%d questions extracted", n, schema.TotalQuestions))
	}
	if r.VisitType == "" {
		reasons = append(reasons, "Visit type not specified")
	}
	if r.VisitStartDate == "" {
		reasons = append(reasons, "Visit start date missing")
	}
	if r.VisitEndDate == "" {
		reasons = append(reasons, "Visit end date missing")
	}
	if len(invalid) > 0 {
		reasons = append(reasons, "Invalid fields: "+strings.Join(invalid, ", "))
	}

	flags := schema.DataQualityFlags{
		FieldsMissing:     append(missing, extraMissing...),
		FieldsInvalid:     append([]string{}, invalid...),
		CompletenessScore: completeness,
		RequiresReview:    len(reasons) > 0,
		ReviewReason:      strings.Join(reasons, "; "),
	}
	return flags
}

// expectedMissing lists which of the four expected header fields are empty.
func expectedMissing(r *schema.Report) []string {
	missing := []string{}
	if r.VisitType == "" {
		missing = append(missing, "visit_type")
	}
	if r.VisitStartDate == "" {
		missing = append(missing, "visit_start_date")
	}
	if r.VisitEndDate == "" {
		missing = append(missing, "visit_end_date")
	}
	if r.OverallSiteQuality == "" {
		missing = append(missing, "overall_site_quality")
	}
	return missing
}

// filenameSiteRe matches six digits bounded by a separator or the ends of
// the base name, e.g. "Wang_812409_20250402.docx".
var filenameSiteRe = regexp.MustCompile(`(?:^|[_\- .])([0-9]{6})(?:[_\- .]|$)`)

// SiteFromFilename returns the first six-digit site number in name.
func SiteFromFilename(name string) (string, bool) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	m := filenameSiteRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// mergeQuestions combines batch results into one list sorted by number.
// Batches are applied in order, so a later batch wins on a duplicate number.
func mergeQuestions(batches [][]schema.QuestionResponse) []schema.QuestionResponse {
	byNumber := make(map[int]schema.QuestionResponse)
	for _, b := range batches {
		for _, q := range b {
			byNumber[q.QuestionNumber] = q
		}
	}
	out := make([]schema.QuestionResponse, 0, len(byNumber))
	for _, q := range byNumber {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out
}
