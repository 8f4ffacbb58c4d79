package schema_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dshills/movreport/internal/schema"
)

func validReport() *schema.Report {
	return &schema.Report{
		ProtocolNumber: "Protocol CV-301",
		SiteInfo: schema.SiteInfo{
			SiteNumber:  "812409",
			Country:     "China",
			Institution: "Peking Union Medical College Hospital",
			PIFirstName: "Li",
			PILastName:  "Wang",
		},
		VisitStartDate: "2025-04-02",
		VisitEndDate:   "2025-04-03",
		VisitType:      schema.VisitIMV,
		QuestionResponses: []schema.QuestionResponse{
			{QuestionNumber: 1, Answer: schema.AnswerYes, Sentiment: schema.SentimentPositive, Confidence: 0.9},
			{QuestionNumber: 2, Answer: schema.AnswerNR, Sentiment: schema.SentimentUnknown, Confidence: 0},
		},
		ActionItems:        []schema.ActionItem{{ItemNumber: 1, Description: "ICF v3 missing"}},
		OverallSiteQuality: schema.QualityGood,
		Extraction: schema.Provenance{
			Timestamp:  time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC),
			Method:     schema.ExtractionMethod,
			SourceFile: "Wang_812409_20250402.docx",
		},
	}
}

func TestReport_JSONFieldNames(t *testing.T) {
	b, err := json.Marshal(validReport())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{
		`"protocol_number":"Protocol CV-301"`,
		`"site_number":"812409"`,
		`"visit_type":"IMV MOV"`,
		`"site_level_risks_identified":false`,
		`"answer":"NR"`,
		`"method":"chunked_parallel"`,
		`"completeness_score":0`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON missing %s\n%s", want, s)
		}
	}
}

func TestEnumValues_Serialize(t *testing.T) {
	cases := []struct {
		v    any
		want string
	}{
		{schema.AnswerNA, `"N/A"`},
		{schema.AnswerNR, `"NR"`},
		{schema.SentimentUnknown, `"Unknown"`},
		{schema.VisitCOV, `"COV MOV"`},
		{schema.QualityNeedsImprovement, `"Needs Improvement"`},
		{schema.GradeNeedsReview, `"Needs Review"`},
	}
	for _, tc := range cases {
		b, _ := json.Marshal(tc.v)
		if string(b) != tc.want {
			t.Errorf("%v serialized to %s, want %s", tc.v, b, tc.want)
		}
	}
}

func TestCheck_ValidReport(t *testing.T) {
	if v := schema.Check(validReport()); len(v) != 0 {
		t.Errorf("expected no violations, got %v", v)
	}
}

func TestCheck_UnknownProtocolAccepted(t *testing.T) {
	r := validReport()
	r.ProtocolNumber = schema.UnknownProtocol
	if v := schema.Check(r); len(v) != 0 {
		t.Errorf("expected no violations, got %v", v)
	}
}

func TestCheck_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.Report)
		field  string
	}{
		{"short site number", func(r *schema.Report) { r.SiteInfo.SiteNumber = "8124" }, "site_info.site_number"},
		{"non-ascii digits", func(r *schema.Report) { r.SiteInfo.SiteNumber = "８１２４０９" }, "site_info.site_number"},
		{"bad protocol", func(r *schema.Report) { r.ProtocolNumber = "CV-301" }, "protocol_number"},
		{"empty protocol", func(r *schema.Report) { r.ProtocolNumber = "" }, "protocol_number"},
		{"bad date", func(r *schema.Report) { r.VisitStartDate = "02/04/2025" }, "visit_start_date"},
		{"bad visit type", func(r *schema.Report) { r.VisitType = "Remote MOV" }, "visit_type"},
		{"negative count", func(r *schema.Report) { r.RecruitmentStats.Screened = -1 }, "recruitment_stats.screened"},
		{"duplicate question", func(r *schema.Report) {
			r.QuestionResponses[1].QuestionNumber = 1
		}, "question_responses[1].question_number"},
		{"question out of range", func(r *schema.Report) {
			r.QuestionResponses[1].QuestionNumber = 86
		}, "question_responses[1].question_number"},
		{"bad answer", func(r *schema.Report) { r.QuestionResponses[0].Answer = "Maybe" }, "question_responses[0].answer"},
		{"confidence above one", func(r *schema.Report) { r.QuestionResponses[0].Confidence = 1.5 }, "question_responses[0].confidence"},
		{"long key finding", func(r *schema.Report) {
			r.QuestionResponses[0].KeyFinding = strings.Repeat("x", schema.MaxKeyFindingLen+1)
		}, "question_responses[0].key_finding"},
		{"action item zero", func(r *schema.Report) { r.ActionItems[0].ItemNumber = 0 }, "action_items[0].item_number"},
		{"too many concerns", func(r *schema.Report) {
			r.KeyConcerns = make([]string, schema.MaxListItems+1)
		}, "key_concerns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport()
			tt.mutate(r)
			found := false
			for _, v := range schema.Check(r) {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected violation on %s, got %v", tt.field, schema.Check(r))
			}
		})
	}
}

func TestNaturalKey(t *testing.T) {
	r := validReport()
	if got := schema.NaturalKey(r); got != "812409_2025-04-02" {
		t.Errorf("NaturalKey = %q, want 812409_2025-04-02", got)
	}
}

func TestNaturalKey_UnknownDateDistinctPerSource(t *testing.T) {
	a := validReport()
	a.VisitStartDate = ""
	b := validReport()
	b.VisitStartDate = ""
	b.Extraction.SourceFile = "Wang_812409_20250610.docx"

	ka, kb := schema.NaturalKey(a), schema.NaturalKey(b)
	if !strings.HasPrefix(ka, "812409_UNKNOWN-") {
		t.Errorf("key %q missing UNKNOWN prefix", ka)
	}
	if len(ka) != len("812409_UNKNOWN-")+12 {
		t.Errorf("key %q has unexpected length", ka)
	}
	if ka == kb {
		t.Errorf("different source files collided on %q", ka)
	}

	again := validReport()
	again.VisitStartDate = ""
	if schema.NaturalKey(again) != ka {
		t.Error("same source file produced a different key")
	}
}

func TestRiskAssessment_AnyRisk(t *testing.T) {
	if (schema.RiskAssessment{}).AnyRisk() {
		t.Error("zero value should carry no risk")
	}
	if !(schema.RiskAssessment{ImpactStudyLevel: true}).AnyRisk() {
		t.Error("study-level impact should count as risk")
	}
}
