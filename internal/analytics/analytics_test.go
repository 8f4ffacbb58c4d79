package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/dshills/movreport/internal/schema"
)

func answers(as ...schema.Answer) []schema.QuestionResponse {
	out := make([]schema.QuestionResponse, len(as))
	for i, a := range as {
		out[i] = schema.QuestionResponse{QuestionNumber: i + 1, Answer: a, Sentiment: schema.SentimentNeutral}
	}
	return out
}

func repeat(a schema.Answer, n int) []schema.Answer {
	out := make([]schema.Answer, n)
	for i := range out {
		out[i] = a
	}
	return out
}

func report(site, country, date string, as ...schema.Answer) *schema.Report {
	return &schema.Report{
		ProtocolNumber:    "Protocol CV-301",
		SiteInfo:          schema.SiteInfo{SiteNumber: site, Country: country, PIFirstName: "Li", PILastName: "Wang"},
		VisitStartDate:    date,
		VisitType:         schema.VisitIMV,
		QuestionResponses: answers(as...),
		DataQuality:       schema.DataQualityFlags{CompletenessScore: 1},
	}
}

const (
	Y  = schema.AnswerYes
	N  = schema.AnswerNo
	NA = schema.AnswerNA
	NR = schema.AnswerNR
)

func TestRiskScore(t *testing.T) {
	r := report("812409", "China", "2025-04-02", append(repeat(Y, 6), repeat(N, 4)...)...)
	r.ActionItems = make([]schema.ActionItem, 5)
	r.RiskAssessment = schema.RiskAssessment{SiteLevelRisks: true, CRALevelRisks: true}
	r.DataQuality.CompletenessScore = 0.9

	// 40*0.4 + 50*0.2 + 50*0.3 + 10*0.1
	if got := RiskScore(r); got != 42 {
		t.Errorf("RiskScore = %v, want 42", got)
	}

	worst := report("812409", "China", "2025-04-02", repeat(N, 10)...)
	worst.ActionItems = make([]schema.ActionItem, 25)
	worst.RiskAssessment = schema.RiskAssessment{SiteLevelRisks: true, CRALevelRisks: true, ImpactCountryLevel: true, ImpactStudyLevel: true}
	worst.DataQuality.CompletenessScore = 0
	if got := RiskScore(worst); got != 100 {
		t.Errorf("RiskScore(worst) = %v, want 100", got)
	}

	if got := RiskScore(report("1", "", "")); got != 0 {
		t.Errorf("RiskScore(empty) = %v, want 0", got)
	}
}

func TestKPIs(t *testing.T) {
	a := report("812409", "China", "2025-04-02", Y, Y, Y, N, NR)
	a.OverallSiteQuality = schema.QualityExcellent
	a.RecruitmentStats = schema.RecruitmentStats{Screened: 10, RandomizedEnrolled: 8, CompletedStudy: 2}
	a.ActionItems = []schema.ActionItem{
		{ItemNumber: 1, DueDate: "2025-01-01"},
		{ItemNumber: 2, DueDate: "2025-01-01", Status: "Closed"},
		{ItemNumber: 3, DueDate: "TBD"},
	}
	b := report("812409", "China", "2025-05-02", NA, N)
	b.OverallSiteQuality = schema.QualityAdequate
	c := report("900100", "Japan", "", Y)
	c.RecruitmentStats = schema.RecruitmentStats{Screened: 10, RandomizedEnrolled: 2, CompletedStudy: 3}

	k := KPIs([]*schema.Report{a, b, c}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if k.TotalSites != 2 || k.TotalReports != 3 {
		t.Errorf("sites/reports = %d/%d", k.TotalSites, k.TotalReports)
	}
	// 4 yes, 2 no, 1 na, 1 nr.
	if k.ComplianceRate != 57.14 || k.NonComplianceRate != 28.57 {
		t.Errorf("compliance = %v / %v", k.ComplianceRate, k.NonComplianceRate)
	}
	if k.CompletenessRate != 87.5 {
		t.Errorf("CompletenessRate = %v, want 87.5", k.CompletenessRate)
	}
	if k.AvgSiteQualityScore != 4 {
		t.Errorf("AvgSiteQualityScore = %v, want 4", k.AvgSiteQualityScore)
	}
	if k.AvgEnrollmentRate != 50 || k.AvgCompletionRate != 50 {
		t.Errorf("enrollment/completion = %v / %v", k.AvgEnrollmentRate, k.AvgCompletionRate)
	}
	if k.TotalActionItems != 3 || k.OverdueActionItems != 1 {
		t.Errorf("action items = %d, overdue = %d", k.TotalActionItems, k.OverdueActionItems)
	}
	if k.Answers != (AnswerDistribution{Yes: 4, No: 2, NA: 1, NR: 1}) {
		t.Errorf("Answers = %+v", k.Answers)
	}

	if empty := KPIs(nil, time.Now()); empty != (KPI{}) {
		t.Errorf("KPIs(nil) = %+v, want zero", empty)
	}
}

func TestFilter(t *testing.T) {
	a := report("812409", "China", "2025-04-02", Y)
	b := report("900100", "Japan", "2025-06-10", Y)
	c := report("812409", "China", "", Y)
	c.VisitType = ""
	all := []*schema.Report{a, b, c}

	cases := []struct {
		name string
		f    Filter
		want int
	}{
		{"zero", Filter{}, 3},
		{"site", Filter{Site: "812409"}, 2},
		{"country", Filter{Country: "Japan"}, 1},
		{"from excludes undated", Filter{From: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)}, 2},
		{"to inclusive", Filter{To: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)}, 1},
		{"visit type keeps untyped", Filter{VisitType: "SIV MOV"}, 1},
		{"protocol", Filter{Protocol: "Protocol OTHER"}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := len(c.f.Apply(all)); got != c.want {
				t.Errorf("Apply = %d reports, want %d", got, c.want)
			}
		})
	}
}

func TestPeriodKey(t *testing.T) {
	d := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		g    Granularity
		t    time.Time
		want string
	}{
		{Day, d, "2025-04-02"},
		{Week, d, "2025-W13"},
		{Week, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "2025-W00"},
		{Week, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), "2025-W01"},
		{Month, d, "2025-04"},
		{Quarter, d, "2025-Q2"},
		{Quarter, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), "2025-Q4"},
	}
	for _, c := range cases {
		if got := PeriodKey(c.t, c.g); got != c.want {
			t.Errorf("PeriodKey(%s, %s) = %q, want %q", c.t.Format("2006-01-02"), c.g, got, c.want)
		}
	}
}

func TestParseGranularity(t *testing.T) {
	if g, err := ParseGranularity(""); err != nil || g != Month {
		t.Errorf("ParseGranularity(\"\") = %q, %v", g, err)
	}
	if g, err := ParseGranularity("Quarter"); err != nil || g != Quarter {
		t.Errorf("ParseGranularity(Quarter) = %q, %v", g, err)
	}
	if _, err := ParseGranularity("year"); err == nil || !strings.Contains(err.Error(), "year") {
		t.Errorf("expected error naming the granularity, got %v", err)
	}
}

func TestComplianceTrends(t *testing.T) {
	reports := []*schema.Report{
		report("1", "", "2025-01-15", Y, N),
		report("2", "", "2025-02-10", Y),
		report("3", "", "2025-01-20", Y, Y),
		report("4", "", "", N),
	}
	got := ComplianceTrends(reports, Month)
	want := []TrendPoint{
		{Period: "2025-01", ComplianceRate: 75, NonComplianceRate: 25, ReportCount: 2},
		{Period: "2025-02", ComplianceRate: 100, NonComplianceRate: 0, ReportCount: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("trends = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("trend %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestQuestionStats(t *testing.T) {
	a := report("1", "", "", Y, N)
	a.QuestionResponses[0].QuestionText = "Is the ICF current?"
	a.QuestionResponses[1].Sentiment = schema.SentimentNegative
	b := report("2", "", "", NR, N)
	b.QuestionResponses[0].Sentiment = schema.SentimentPositive

	got := QuestionStats([]*schema.Report{a, b})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	q1 := got[0]
	if q1.QuestionNumber != 1 || q1.QuestionText != "Is the ICF current?" || q1.ComplianceRate != 100 ||
		q1.YesCount != 1 || q1.NRCount != 1 || q1.TotalResponses != 2 || q1.SentimentPositive != 1 {
		t.Errorf("question 1 = %+v", q1)
	}
	if q2 := got[1]; q2.ComplianceRate != 0 || q2.NoCount != 2 || q2.SentimentNegative != 1 {
		t.Errorf("question 2 = %+v", q2)
	}
}

func TestSiteLeaderboard(t *testing.T) {
	a1 := report("812409", "China", "2025-04-02", Y, N)
	a1.OverallSiteQuality = schema.QualityGood
	a2 := report("812409", "China", "2025-06-01", Y, N)
	a2.OverallSiteQuality = schema.QualityPoor
	a2.RecruitmentStats = schema.RecruitmentStats{Screened: 4, RandomizedEnrolled: 4, CompletedStudy: 1}
	b := report("900100", "Japan", "2025-05-01", Y, Y)
	b.OverallSiteQuality = schema.QualityExcellent
	b.RecruitmentStats = schema.RecruitmentStats{Screened: 10, RandomizedEnrolled: 5}
	all := []*schema.Report{a1, a2, b}

	rows, err := SiteLeaderboard(all, "", 0)
	if err != nil {
		t.Fatalf("SiteLeaderboard: %v", err)
	}
	if len(rows) != 2 || rows[0].SiteNumber != "900100" || rows[1].ComplianceRate != 50 {
		t.Fatalf("rows = %+v", rows)
	}
	a := rows[1]
	if a.ReportCount != 2 || a.AvgQualityScore != 2.5 || a.LastVisitDate != "2025-06-01" || a.PIName != "Li Wang" {
		t.Errorf("site 812409 = %+v", a)
	}
	if a.EnrollmentRate != 100 || a.CompletionRate != 25 {
		t.Errorf("site 812409 rates = %v / %v", a.EnrollmentRate, a.CompletionRate)
	}

	rows, err = SiteLeaderboard(all, SortEnrollment, 1)
	if err != nil {
		t.Fatalf("SiteLeaderboard: %v", err)
	}
	if len(rows) != 1 || rows[0].SiteNumber != "812409" {
		t.Errorf("by enrollment = %+v", rows)
	}

	if _, err := SiteLeaderboard(all, "risk", 0); err == nil {
		t.Error("expected an error for an unknown sort key")
	}
}

func TestGeographicSummary(t *testing.T) {
	reports := []*schema.Report{
		report("812409", "China", "", Y, N),
		report("812410", "China", "", Y, Y),
		report("900100", "Japan", "", Y),
	}
	got := GeographicSummary(reports)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Country != "Japan" || got[0].ComplianceRate != 100 {
		t.Errorf("first = %+v", got[0])
	}
	if cn := got[1]; cn.SiteCount != 2 || cn.ReportCount != 2 || cn.ComplianceRate != 75 || cn.NoCount != 1 {
		t.Errorf("China = %+v", cn)
	}
}

func TestOverdue(t *testing.T) {
	asOf := time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)
	cases := []struct {
		item schema.ActionItem
		want bool
	}{
		{schema.ActionItem{DueDate: "2025-04-09"}, true},
		{schema.ActionItem{DueDate: "2025-04-10"}, false},
		{schema.ActionItem{DueDate: "2025-04-09", Status: "resolved"}, false},
		{schema.ActionItem{DueDate: "next visit"}, false},
		{schema.ActionItem{}, false},
	}
	for _, c := range cases {
		if got := Overdue(c.item, asOf); got != c.want {
			t.Errorf("Overdue(%+v) = %v, want %v", c.item, got, c.want)
		}
	}
}

func TestNewFilter(t *testing.T) {
	f, err := NewFilter("2025-04-01", "2025-04-30", "Protocol CV-301", "", "China", "")
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	if !f.From.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) || f.Country != "China" || f.Protocol != "Protocol CV-301" {
		t.Errorf("filter = %+v", f)
	}
	if !f.Match(report("812409", "China", "2025-04-30")) {
		t.Error("upper bound should be inclusive")
	}
	if _, err := NewFilter("04/01/2025", "", "", "", "", ""); err == nil {
		t.Error("expected an error for a non-ISO date")
	}
	if _, err := NewFilter("2025-05-01", "2025-04-01", "", "", "", ""); err == nil {
		t.Error("expected an error for an inverted range")
	}
}
