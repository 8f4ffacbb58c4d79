package pipeline

import (
	"strings"
	"testing"

	"github.com/dshills/movreport/internal/schema"
)

// scoredReport has n questions and the first `missing` of the four expected
// header fields left empty.
func scoredReport(n, missing int) *schema.Report {
	r := &schema.Report{
		VisitType:          "IMV MOV",
		VisitStartDate:     "2025-04-02",
		VisitEndDate:       "2025-04-03",
		OverallSiteQuality: schema.QualityGood,
	}
	blank := []func(){
		func() { r.VisitType = "" },
		func() { r.VisitStartDate = "" },
		func() { r.VisitEndDate = "" },
		func() { r.OverallSiteQuality = "" },
	}
	for i := 0; i < missing; i++ {
		blank[i]()
	}
	for q := 1; q <= n; q++ {
		r.QuestionResponses = append(r.QuestionResponses, schema.QuestionResponse{QuestionNumber: q, Answer: schema.AnswerYes})
	}
	return r
}

func TestScore_Completeness(t *testing.T) {
	cases := []struct {
		name      string
		questions int
		answered  int
		missing   int
		want      float64
	}{
		{"complete", 85, 85, 0, 1},
		{"nothing", 0, 0, 4, 0},
		{"answered above total", 120, 120, 0, 1},
		{"negative answered", 0, -3, 4, 0},
		{"answered capped at questions", 10, 85, 0, 0.157},
		{"placeholders excluded", 85, 60, 0, 0.719},
		{"one field missing", 85, 85, 1, 0.989},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(scoredReport(tc.questions, tc.missing), tc.answered, nil, nil).CompletenessScore
			if got < 0 || got > 1 {
				t.Fatalf("CompletenessScore = %v, outside [0,1]", got)
			}
			if got != tc.want {
				t.Errorf("CompletenessScore = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScore_MissingFieldsNeverRaiseScore(t *testing.T) {
	for _, n := range []int{0, 40, 70, 85} {
		prev := 2.0
		for missing := 0; missing <= expectedFieldCount; missing++ {
			dq := Score(scoredReport(n, missing), n, nil, nil)
			if dq.CompletenessScore > prev {
				t.Errorf("n=%d missing=%d: score rose from %v to %v", n, missing, prev, dq.CompletenessScore)
			}
			if len(dq.FieldsMissing) != missing {
				t.Errorf("n=%d missing=%d: FieldsMissing = %v", n, missing, dq.FieldsMissing)
			}
			prev = dq.CompletenessScore
		}
	}
}

func TestScore_ExtraMissingDoesNotCount(t *testing.T) {
	r := scoredReport(80, 1)
	base := Score(r, 80, nil, nil)
	extra := Score(r, 80, []string{"site_number (extracted from filename)", "protocol_number"}, nil)
	if extra.CompletenessScore != base.CompletenessScore {
		t.Errorf("CompletenessScore = %v, want %v", extra.CompletenessScore, base.CompletenessScore)
	}
	if len(extra.FieldsMissing) != len(base.FieldsMissing)+2 {
		t.Errorf("FieldsMissing = %v", extra.FieldsMissing)
	}
}

func TestScore_ReviewReasons(t *testing.T) {
	dq := Score(scoredReport(85, 0), 85, nil, nil)
	if dq.RequiresReview || dq.ReviewReason != "" {
		t.Errorf("complete report flagged: %q", dq.ReviewReason)
	}

	dq = Score(scoredReport(85, 3), MinQuestions-1, nil, []string{"visit_type"})
	want := []string{
		"Only 69/85 questions extracted",
		"Visit type not specified",
		"Visit start date missing",
		"Visit end date missing",
		"Invalid fields: visit_type",
	}
	if !dq.RequiresReview || dq.ReviewReason != strings.Join(want, "; ") {
		t.Errorf("ReviewReason = %q", dq.ReviewReason)
	}

	if dq := Score(scoredReport(85, 0), MinQuestions, nil, nil); dq.RequiresReview {
		t.Errorf("%d answered should not require review: %q", MinQuestions, dq.ReviewReason)
	}
}

func TestSiteFromFilename(t *testing.T) {
	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{"Wang_812409_20250402.docx", "812409", true},
		{"812409.pdf", "812409", true},
		{"x/812409_y", "812409", true},
		{`C:\uploads\MOV-812409 final.pdf`, "812409", true},
		{"Wang812409.docx", "", false},
		{"a_1234567_b", "", false},
		{"812409/report.pdf", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SiteFromFilename(tc.name)
			if got != tc.want || ok != tc.ok {
				t.Errorf("SiteFromFilename(%q) = %q, %v; want %q, %v", tc.name, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestMergeQuestions_LastWriterWins(t *testing.T) {
	q := func(n int, a schema.Answer) schema.QuestionResponse {
		return schema.QuestionResponse{QuestionNumber: n, Answer: a}
	}
	got := mergeQuestions([][]schema.QuestionResponse{
		{q(3, schema.AnswerYes), q(1, schema.AnswerYes)},
		{q(2, schema.AnswerNo), q(3, schema.AnswerNo)},
		{q(3, schema.AnswerNA)},
	})
	if len(got) != 3 {
		t.Fatalf("merged %d questions, want 3", len(got))
	}
	for i, want := range []schema.Answer{schema.AnswerYes, schema.AnswerNo, schema.AnswerNA} {
		if got[i].QuestionNumber != i+1 || got[i].Answer != want {
			t.Errorf("got[%d] = %d/%s, want %d/%s", i, got[i].QuestionNumber, got[i].Answer, i+1, want)
		}
	}
	if out := mergeQuestions(nil); out == nil || len(out) != 0 {
		t.Errorf("mergeQuestions(nil) = %#v, want empty", out)
	}
}
