package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Text field limits applied by the extractor before a report is assembled.
const (
	MaxNarrativeLen  = 500
	MaxKeyFindingLen = 200
	MaxEvidenceLen   = 400
	MaxListItems     = 10
)

var (
	siteNumberRe = regexp.MustCompile(`^[0-9]{6}$`)
	protocolRe   = regexp.MustCompile(`^Protocol [A-Za-z0-9/_-]+`)
	isoDateRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ValidSiteNumber reports whether s is exactly six ASCII digits.
func ValidSiteNumber(s string) bool { return siteNumberRe.MatchString(s) }

// ValidProtocol reports whether s looks like "Protocol XX-123".
func ValidProtocol(s string) bool { return protocolRe.MatchString(s) }

// ValidDate reports whether s is a YYYY-MM-DD date string.
func ValidDate(s string) bool { return isoDateRe.MatchString(s) }

// Valid reports whether a is one of the four known answers.
func (a Answer) Valid() bool {
	switch a {
	case AnswerYes, AnswerNo, AnswerNA, AnswerNR:
		return true
	}
	return false
}

// Valid reports whether s is one of the four known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentUnknown:
		return true
	}
	return false
}

// Valid reports whether v is one of the three known visit types.
func (v VisitType) Valid() bool {
	switch v {
	case VisitSIV, VisitIMV, VisitCOV:
		return true
	}
	return false
}

// Valid reports whether q is one of the five site quality grades.
func (q SiteQuality) Valid() bool {
	switch q {
	case QualityExcellent, QualityGood, QualityAdequate, QualityNeedsImprovement, QualityPoor:
		return true
	}
	return false
}

// Violation is a single field rule failure found by Check.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string { return v.Field + ": " + v.Message }

// Check applies the field-level rules to an assembled report. It reports
// every violation rather than stopping at the first one.
func Check(r *Report) []Violation {
	var out []Violation
	add := func(field, format string, args ...any) {
		out = append(out, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if r.ProtocolNumber == "" {
		add("protocol_number", "is empty")
	} else if r.ProtocolNumber != UnknownProtocol && !ValidProtocol(r.ProtocolNumber) {
		add("protocol_number", "%q does not match Protocol <id>", r.ProtocolNumber)
	}
	if !ValidSiteNumber(r.SiteInfo.SiteNumber) {
		add("site_info.site_number", "%q is not 6 digits", r.SiteInfo.SiteNumber)
	}
	if r.VisitStartDate != "" && !ValidDate(r.VisitStartDate) {
		add("visit_start_date", "%q is not YYYY-MM-DD", r.VisitStartDate)
	}
	if r.VisitEndDate != "" && !ValidDate(r.VisitEndDate) {
		add("visit_end_date", "%q is not YYYY-MM-DD", r.VisitEndDate)
	}
	if r.VisitType != "" && !r.VisitType.Valid() {
		add("visit_type", "unknown visit type %q", r.VisitType)
	}
	if r.OverallSiteQuality != "" && !r.OverallSiteQuality.Valid() {
		add("overall_site_quality", "unknown grade %q", r.OverallSiteQuality)
	}

	rs := r.RecruitmentStats
	counters := []struct {
		name string
		v    int
	}{
		{"screened", rs.Screened},
		{"screen_failures", rs.ScreenFailures},
		{"randomized_enrolled", rs.RandomizedEnrolled},
		{"early_discontinued", rs.EarlyDiscontinued},
		{"completed_treatment", rs.CompletedTreatment},
		{"completed_study", rs.CompletedStudy},
	}
	for _, c := range counters {
		if c.v < 0 {
			add("recruitment_stats."+c.name, "negative count %d", c.v)
		}
	}

	if len(r.QuestionResponses) > TotalQuestions {
		add("question_responses", "%d entries exceeds %d", len(r.QuestionResponses), TotalQuestions)
	}
	prev := 0
	for i, q := range r.QuestionResponses {
		field := fmt.Sprintf("question_responses[%d]", i)
		if q.QuestionNumber < 1 || q.QuestionNumber > TotalQuestions {
			add(field+".question_number", "%d out of range 1..%d", q.QuestionNumber, TotalQuestions)
		}
		if q.QuestionNumber <= prev {
			add(field+".question_number", "%d not ascending after %d", q.QuestionNumber, prev)
		}
		prev = q.QuestionNumber
		if !q.Answer.Valid() {
			add(field+".answer", "unknown answer %q", q.Answer)
		}
		if !q.Sentiment.Valid() {
			add(field+".sentiment", "unknown sentiment %q", q.Sentiment)
		}
		if q.Confidence < 0 || q.Confidence > 1 {
			add(field+".confidence", "%v outside [0,1]", q.Confidence)
		}
		if n := len([]rune(q.NarrativeSummary)); n > MaxNarrativeLen {
			add(field+".narrative_summary", "%d chars exceeds %d", n, MaxNarrativeLen)
		}
		if n := len([]rune(q.KeyFinding)); n > MaxKeyFindingLen {
			add(field+".key_finding", "%d chars exceeds %d", n, MaxKeyFindingLen)
		}
		if n := len([]rune(q.Evidence)); n > MaxEvidenceLen {
			add(field+".evidence", "%d chars exceeds %d", n, MaxEvidenceLen)
		}
	}

	for i, a := range r.ActionItems {
		if a.ItemNumber < 1 {
			add(fmt.Sprintf("action_items[%d].item_number", i), "%d must be >= 1", a.ItemNumber)
		}
	}
	if len(r.KeyConcerns) > MaxListItems {
		add("key_concerns", "%d entries exceeds %d", len(r.KeyConcerns), MaxListItems)
	}
	if len(r.KeyStrengths) > MaxListItems {
		add("key_strengths", "%d entries exceeds %d", len(r.KeyStrengths), MaxListItems)
	}
	if s := r.DataQuality.CompletenessScore; s < 0 || s > 1 {
		add("data_quality.completeness_score", "%v outside [0,1]", s)
	}
	return out
}

// NaturalKey is the store identity of a report: "{site}_{visit_start_date}".
// Reports with no start date get an UNKNOWN key suffixed by a short digest of
// the source file name, so different documents from one site stay distinct
// while re-extracting the same file still replaces its earlier record.
func NaturalKey(r *Report) string {
	site := r.SiteInfo.SiteNumber
	if site == "" {
		site = PlaceholderSiteNumber
	}
	if r.VisitStartDate != "" {
		return site + "_" + r.VisitStartDate
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(r.Extraction.SourceFile)))
	return site + "_UNKNOWN-" + hex.EncodeToString(sum[:])[:12]
}
