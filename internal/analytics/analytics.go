// Package analytics computes KPIs and grouped reductions over a corpus of
// assembled reports. Every function is pure; callers load reports from the
// store and pass them in.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/movreport/internal/coverage"
	"github.com/dshills/movreport/internal/schema"
)

// HighRiskThreshold is the risk score above which a report's site counts
// as high risk.
const HighRiskThreshold = 70

const dateLayout = "2006-01-02"

// Filter selects reports. Zero fields match everything. From and To bound
// the visit start date inclusively; when either is set, reports without a
// parsable start date are excluded.
type Filter struct {
	From      time.Time
	To        time.Time
	Protocol  string
	Site      string
	Country   string
	VisitType string
}

// Match reports whether r passes f.
func (f Filter) Match(r *schema.Report) bool {
	if !f.From.IsZero() || !f.To.IsZero() {
		d, ok := visitDate(r)
		if !ok {
			return false
		}
		if !f.From.IsZero() && d.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && d.After(f.To) {
			return false
		}
	}
	if f.Protocol != "" && r.ProtocolNumber != f.Protocol {
		return false
	}
	if f.Site != "" && r.SiteInfo.SiteNumber != f.Site {
		return false
	}
	if f.Country != "" && r.SiteInfo.Country != f.Country {
		return false
	}
	// A report with no visit type is kept under a visit type filter.
	if f.VisitType != "" && r.VisitType != "" && string(r.VisitType) != f.VisitType {
		return false
	}
	return true
}

// Apply returns the reports that pass f, in input order.
func (f Filter) Apply(reports []*schema.Report) []*schema.Report {
	out := make([]*schema.Report, 0, len(reports))
	for _, r := range reports {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// AnswerDistribution counts answers by value.
type AnswerDistribution struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
	NA  int `json:"na"`
	NR  int `json:"nr"`
}

func distribution(t coverage.Tally) AnswerDistribution {
	return AnswerDistribution{Yes: t.Yes, No: t.No, NA: t.NA, NR: t.NR}
}

// KPI is the headline summary of a corpus.
type KPI struct {
	TotalSites          int                `json:"total_sites"`
	TotalReports        int                `json:"total_reports"`
	ComplianceRate      float64            `json:"compliance_rate"`
	NonComplianceRate   float64            `json:"non_compliance_rate"`
	CompletenessRate    float64            `json:"completeness_rate"`
	AvgSiteQualityScore float64            `json:"avg_site_quality_score"`
	HighRiskSites       int                `json:"high_risk_sites"`
	AvgEnrollmentRate   float64            `json:"avg_enrollment_rate"`
	AvgCompletionRate   float64            `json:"avg_completion_rate"`
	TotalActionItems    int                `json:"total_action_items"`
	OverdueActionItems  int                `json:"overdue_action_items"`
	Answers             AnswerDistribution `json:"answer_distribution"`
}

// KPIs summarizes reports. Action items whose due date is before asOf and
// whose status is not closed count as overdue.
func KPIs(reports []*schema.Report, asOf time.Time) KPI {
	var k KPI
	if len(reports) == 0 {
		return k
	}
	sites := make(map[string]struct{})
	var (
		tally                          coverage.Tally
		qualitySum, qualityN           int
		screened, randomized, complete int
	)
	for _, r := range reports {
		sites[r.SiteInfo.SiteNumber] = struct{}{}
		for _, q := range r.QuestionResponses {
			tally.Add(q.Answer)
		}
		if s := QualityScore(r.OverallSiteQuality); s > 0 {
			qualitySum += s
			qualityN++
		}
		screened += r.RecruitmentStats.Screened
		randomized += r.RecruitmentStats.RandomizedEnrolled
		complete += r.RecruitmentStats.CompletedStudy
		if RiskScore(r) > HighRiskThreshold {
			k.HighRiskSites++
		}
		k.TotalActionItems += len(r.ActionItems)
		for _, a := range r.ActionItems {
			if Overdue(a, asOf) {
				k.OverdueActionItems++
			}
		}
	}

	k.TotalSites = len(sites)
	k.TotalReports = len(reports)
	k.ComplianceRate = tally.ComplianceRate()
	k.NonComplianceRate = nonCompliance(tally)
	k.CompletenessRate = percent(tally.Total()-tally.NR, tally.Total())
	if qualityN > 0 {
		k.AvgSiteQualityScore = coverage.Round(float64(qualitySum)/float64(qualityN), 2)
	}
	k.AvgEnrollmentRate = percent(randomized, screened)
	k.AvgCompletionRate = percent(complete, randomized)
	k.Answers = distribution(tally)
	return k
}

// Overdue reports whether a has a parsable due date before asOf and is not
// closed.
func Overdue(a schema.ActionItem, asOf time.Time) bool {
	due, err := time.Parse(dateLayout, strings.TrimSpace(a.DueDate))
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(a.Status)) {
	case "closed", "complete", "completed", "resolved", "done":
		return false
	}
	return due.Before(asOf.Truncate(24 * time.Hour))
}

// Granularity of a trend bucket.
type Granularity string

const (
	Day     Granularity = "day"
	Week    Granularity = "week"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
)

// ParseGranularity accepts day, week, month or quarter. Empty means month.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Month, nil
	case Day, Week, Month, Quarter:
		return g, nil
	}
	return "", fmt.Errorf("analytics: unknown granularity %q (available: day, week, month, quarter)", s)
}

// PeriodKey buckets t: 2025-04-02, 2025-W13, 2025-04 or 2025-Q2. Weeks
// start on Sunday and days before the first Sunday fall in week 00.
func PeriodKey(t time.Time, g Granularity) string {
	switch g {
	case Day:
		return t.Format(dateLayout)
	case Week:
		week := (t.YearDay() - 1 + 7 - int(t.Weekday())) / 7
		return fmt.Sprintf("%d-W%02d", t.Year(), week)
	case Quarter:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	default:
		return t.Format("2006-01")
	}
}

// TrendPoint is one period of a compliance trend.
type TrendPoint struct {
	Period            string  `json:"period"`
	ComplianceRate    float64 `json:"compliance_rate"`
	NonComplianceRate float64 `json:"non_compliance_rate"`
	ReportCount       int     `json:"report_count"`
}

// ComplianceTrends groups reports by visit start date period, sorted by
// period. Reports without a parsable start date are skipped.
func ComplianceTrends(reports []*schema.Report, g Granularity) []TrendPoint {
	type bucket struct {
		tally coverage.Tally
		count int
	}
	buckets := make(map[string]*bucket)
	for _, r := range reports {
		d, ok := visitDate(r)
		if !ok {
			continue
		}
		key := PeriodKey(d, g)
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		for _, q := range r.QuestionResponses {
			b.tally.Add(q.Answer)
		}
		b.count++
	}
	out := make([]TrendPoint, 0, len(buckets))
	for period, b := range buckets {
		out = append(out, TrendPoint{
			Period:            period,
			ComplianceRate:    b.tally.ComplianceRate(),
			NonComplianceRate: nonCompliance(b.tally),
			ReportCount:       b.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// QuestionStat aggregates one question number across the corpus.
type QuestionStat struct {
	QuestionNumber    int     `json:"question_number"`
	QuestionText      string  `json:"question_text"`
	ComplianceRate    float64 `json:"compliance_rate"`
	YesCount          int     `json:"yes_count"`
	NoCount           int     `json:"no_count"`
	NACount           int     `json:"na_count"`
	NRCount           int     `json:"nr_count"`
	TotalResponses    int     `json:"total_responses"`
	SentimentPositive int     `json:"sentiment_positive"`
	SentimentNegative int     `json:"sentiment_negative"`
}

// QuestionStats returns one entry per question number seen, ascending.
// The question text is taken from the last report that carries one.
func QuestionStats(reports []*schema.Report) []QuestionStat {
	type acc struct {
		text     string
		tally    coverage.Tally
		pos, neg int
	}
	byNum := make(map[int]*acc)
	for _, r := range reports {
		for _, q := range r.QuestionResponses {
			a := byNum[q.QuestionNumber]
			if a == nil {
				a = &acc{}
				byNum[q.QuestionNumber] = a
			}
			if q.QuestionText != "" {
				a.text = q.QuestionText
			}
			a.tally.Add(q.Answer)
			switch q.Sentiment {
			case schema.SentimentPositive:
				a.pos++
			case schema.SentimentNegative:
				a.neg++
			}
		}
	}
	out := make([]QuestionStat, 0, len(byNum))
	for n, a := range byNum {
		out = append(out, QuestionStat{
			QuestionNumber:    n,
			QuestionText:      a.text,
			ComplianceRate:    a.tally.ComplianceRate(),
			YesCount:          a.tally.Yes,
			NoCount:           a.tally.No,
			NACount:           a.tally.NA,
			NRCount:           a.tally.NR,
			TotalResponses:    a.tally.Total(),
			SentimentPositive: a.pos,
			SentimentNegative: a.neg,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out
}

// Leaderboard sort keys.
const (
	SortCompliance = "compliance_rate"
	SortQuality    = "quality_score"
	SortEnrollment = "enrollment_rate"
)

// SiteRow is one site's leaderboard entry.
type SiteRow struct {
	SiteNumber      string  `json:"site_number"`
	Country         string  `json:"country"`
	Institution     string  `json:"institution"`
	PIName          string  `json:"pi_name"`
	ComplianceRate  float64 `json:"compliance_rate"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	EnrollmentRate  float64 `json:"enrollment_rate"`
	CompletionRate  float64 `json:"completion_rate"`
	ReportCount     int     `json:"report_count"`
	LastVisitDate   string  `json:"last_visit_date,omitempty"`
}

// SiteLeaderboard ranks sites by sortBy, descending, ties broken by site
// number. limit <= 0 returns every site. Site identity fields come from the
// last report seen for the site.
func SiteLeaderboard(reports []*schema.Report, sortBy string, limit int) ([]SiteRow, error) {
	if sortBy == "" {
		sortBy = SortCompliance
	}
	var key func(SiteRow) float64
	switch sortBy {
	case SortCompliance:
		key = func(s SiteRow) float64 { return s.ComplianceRate }
	case SortQuality:
		key = func(s SiteRow) float64 { return s.AvgQualityScore }
	case SortEnrollment:
		key = func(s SiteRow) float64 { return s.EnrollmentRate }
	default:
		return nil, fmt.Errorf("analytics: unknown sort key %q (available: %s, %s, %s)",
			sortBy, SortCompliance, SortQuality, SortEnrollment)
	}

	type acc struct {
		row                            SiteRow
		tally                          coverage.Tally
		qualitySum, qualityN           int
		screened, randomized, complete int
		last                           time.Time
	}
	bySite := make(map[string]*acc)
	for _, r := range reports {
		si := r.SiteInfo
		a := bySite[si.SiteNumber]
		if a == nil {
			a = &acc{}
			bySite[si.SiteNumber] = a
		}
		a.row.SiteNumber = si.SiteNumber
		a.row.Country = si.Country
		a.row.Institution = si.Institution
		a.row.PIName = strings.TrimSpace(si.PIFirstName + " " + si.PILastName)
		a.row.ReportCount++
		for _, q := range r.QuestionResponses {
			a.tally.Add(q.Answer)
		}
		if s := QualityScore(r.OverallSiteQuality); s > 0 {
			a.qualitySum += s
			a.qualityN++
		}
		a.screened += r.RecruitmentStats.Screened
		a.randomized += r.RecruitmentStats.RandomizedEnrolled
		a.complete += r.RecruitmentStats.CompletedStudy
		if d, ok := visitDate(r); ok && d.After(a.last) {
			a.last = d
		}
	}

	rows := make([]SiteRow, 0, len(bySite))
	for _, a := range bySite {
		row := a.row
		row.ComplianceRate = a.tally.ComplianceRate()
		if a.qualityN > 0 {
			row.AvgQualityScore = coverage.Round(float64(a.qualitySum)/float64(a.qualityN), 2)
		}
		row.EnrollmentRate = percent(a.randomized, a.screened)
		row.CompletionRate = percent(a.complete, a.randomized)
		if !a.last.IsZero() {
			row.LastVisitDate = a.last.Format(dateLayout)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		ki, kj := key(rows[i]), key(rows[j])
		if ki != kj {
			return ki > kj
		}
		return rows[i].SiteNumber < rows[j].SiteNumber
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// CountryRow is one country's rollup.
type CountryRow struct {
	Country        string  `json:"country"`
	SiteCount      int     `json:"site_count"`
	ReportCount    int     `json:"report_count"`
	ComplianceRate float64 `json:"compliance_rate"`
	YesCount       int     `json:"yes_count"`
	NoCount        int     `json:"no_count"`
	NACount        int     `json:"na_count"`
	NRCount        int     `json:"nr_count"`
}

// GeographicSummary rolls reports up by country, highest compliance first.
func GeographicSummary(reports []*schema.Report) []CountryRow {
	type acc struct {
		sites   map[string]struct{}
		reports int
		tally   coverage.Tally
	}
	byCountry := make(map[string]*acc)
	for _, r := range reports {
		c := r.SiteInfo.Country
		a := byCountry[c]
		if a == nil {
			a = &acc{sites: make(map[string]struct{})}
			byCountry[c] = a
		}
		a.sites[r.SiteInfo.SiteNumber] = struct{}{}
		a.reports++
		for _, q := range r.QuestionResponses {
			a.tally.Add(q.Answer)
		}
	}
	out := make([]CountryRow, 0, len(byCountry))
	for c, a := range byCountry {
		out = append(out, CountryRow{
			Country:        c,
			SiteCount:      len(a.sites),
			ReportCount:    a.reports,
			ComplianceRate: a.tally.ComplianceRate(),
			YesCount:       a.tally.Yes,
			NoCount:        a.tally.No,
			NACount:        a.tally.NA,
			NRCount:        a.tally.NR,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ComplianceRate != out[j].ComplianceRate {
			return out[i].ComplianceRate > out[j].ComplianceRate
		}
		return out[i].Country < out[j].Country
	})
	return out
}

// RiskScore is a composite 0..100 risk for one report, higher is riskier:
// 40% non-compliance rate, 20% action item volume (10 or more items is the
// maximum), 30% risk flags (25 each) and 10% missing completeness.
func RiskScore(r *schema.Report) float64 {
	nonComp := nonCompliance(coverage.TallyAnswers(r.QuestionResponses))

	actions := float64(len(r.ActionItems)) / 10 * 100
	if actions > 100 {
		actions = 100
	}

	flags := 0.0
	ra := r.RiskAssessment
	for _, set := range []bool{ra.SiteLevelRisks, ra.CRALevelRisks, ra.ImpactCountryLevel, ra.ImpactStudyLevel} {
		if set {
			flags += 25
		}
	}

	dq := (1 - r.DataQuality.CompletenessScore) * 100

	return coverage.Round(nonComp*0.4+actions*0.2+flags*0.3+dq*0.1, 2)
}

// QualityScore maps a site quality grade to 5 (Excellent) through 1 (Poor),
// or 0 when the grade is empty or unknown.
func QualityScore(q schema.SiteQuality) int {
	switch q {
	case schema.QualityExcellent:
		return 5
	case schema.QualityGood:
		return 4
	case schema.QualityAdequate:
		return 3
	case schema.QualityNeedsImprovement:
		return 2
	case schema.QualityPoor:
		return 1
	}
	return 0
}

func nonCompliance(t coverage.Tally) float64 {
	return percent(t.No, t.Answered())
}

func percent(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return coverage.Round(float64(num)/float64(den)*100, 2)
}

func visitDate(r *schema.Report) (time.Time, bool) {
	if r.VisitStartDate == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(dateLayout, r.VisitStartDate)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// NewFilter builds a Filter from its textual form. Dates are YYYY-MM-DD;
// empty values leave the field unset.
func NewFilter(from, to, protocol, site, country, visitType string) (Filter, error) {
	f := Filter{Protocol: protocol, Site: site, Country: country, VisitType: visitType}
	var err error
	if from != "" {
		if f.From, err = time.Parse(dateLayout, from); err != nil {
			return Filter{}, fmt.Errorf("analytics: bad from date %q: %w", from, err)
		}
	}
	if to != "" {
		if f.To, err = time.Parse(dateLayout, to); err != nil {
			return Filter{}, fmt.Errorf("analytics: bad to date %q: %w", to, err)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Filter{}, fmt.Errorf("analytics: to date %s is before from date %s", to, from)
	}
	return f, nil
}
