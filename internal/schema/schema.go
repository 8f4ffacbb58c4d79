// Package schema defines the canonical data types for an extracted monitoring
// visit (MOV) report and the field-level rules every assembled report obeys.
package schema

import "time"

// TotalQuestions is the fixed size of the MOV questionnaire.
const TotalQuestions = 85

// Answer is the closed set of values a questionnaire item can take.
type Answer string

const (
	AnswerYes Answer = "Yes"
	AnswerNo  Answer = "No"
	AnswerNA  Answer = "N/A"
	AnswerNR  Answer = "NR" // not reported
)

// Sentiment is the outcome polarity of an answer in the context of its question.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNegative Sentiment = "Negative"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentUnknown  Sentiment = "Unknown"
)

// VisitType identifies the kind of monitoring visit.
type VisitType string

const (
	VisitSIV VisitType = "SIV MOV"
	VisitIMV VisitType = "IMV MOV"
	VisitCOV VisitType = "COV MOV"
)

// SiteQuality is the monitor's overall grade of the site.
type SiteQuality string

const (
	QualityExcellent        SiteQuality = "Excellent"
	QualityGood             SiteQuality = "Good"
	QualityAdequate         SiteQuality = "Adequate"
	QualityNeedsImprovement SiteQuality = "Needs Improvement"
	QualityPoor             SiteQuality = "Poor"
)

// Grade is the data-quality grade produced by post-hoc validation.
type Grade string

const (
	GradeExcellent   Grade = "Excellent"
	GradeGood        Grade = "Good"
	GradeFair        Grade = "Fair"
	GradeNeedsReview Grade = "Needs Review"
	GradePoor        Grade = "Poor"
)

// ExtractionMethod tags reports assembled by the chunked pipeline.
const ExtractionMethod = "chunked_parallel"

// UnknownProtocol is used when no protocol number can be recovered.
const UnknownProtocol = "Protocol UNKNOWN"

// PlaceholderSiteNumber stands in for a site number that could not be recovered.
const PlaceholderSiteNumber = "000000"

// Report is the root aggregate, one per monitoring visit.
type Report struct {
	ProtocolNumber     string             `json:"protocol_number"`
	SiteInfo           SiteInfo           `json:"site_info"`
	VisitStartDate     string             `json:"visit_start_date,omitempty"`
	VisitEndDate       string             `json:"visit_end_date,omitempty"`
	VisitType          VisitType          `json:"visit_type,omitempty"`
	RecruitmentStats   RecruitmentStats   `json:"recruitment_stats"`
	QuestionResponses  []QuestionResponse `json:"question_responses"`
	ActionItems        []ActionItem       `json:"action_items"`
	RiskAssessment     RiskAssessment     `json:"risk_assessment"`
	OverallSiteQuality SiteQuality        `json:"overall_site_quality,omitempty"`
	KeyConcerns        []string           `json:"key_concerns"`
	KeyStrengths       []string           `json:"key_strengths"`
	DataQuality        DataQualityFlags   `json:"data_quality"`
	Extraction         Provenance         `json:"extraction"`
}

// SiteInfo identifies the investigational site.
type SiteInfo struct {
	SiteNumber     string `json:"site_number"`
	Country        string `json:"country"`
	Institution    string `json:"institution"`
	PIFirstName    string `json:"pi_first_name"`
	PILastName     string `json:"pi_last_name"`
	City           string `json:"city,omitempty"`
	OversightStaff string `json:"oversight_staff,omitempty"`
	CRAName        string `json:"cra_name,omitempty"`
}

// RecruitmentStats holds the six patient-flow counters reported for the site.
type RecruitmentStats struct {
	Screened           int `json:"screened"`
	ScreenFailures     int `json:"screen_failures"`
	RandomizedEnrolled int `json:"randomized_enrolled"`
	EarlyDiscontinued  int `json:"early_discontinued"`
	CompletedTreatment int `json:"completed_treatment"`
	CompletedStudy     int `json:"completed_study"`
}

// QuestionResponse is one answered questionnaire item.
type QuestionResponse struct {
	QuestionNumber   int       `json:"question_number"`
	QuestionText     string    `json:"question_text"`
	Answer           Answer    `json:"answer"`
	Sentiment        Sentiment `json:"sentiment"`
	NarrativeSummary string    `json:"narrative_summary,omitempty"`
	KeyFinding       string    `json:"key_finding,omitempty"`
	Evidence         string    `json:"evidence,omitempty"`
	Confidence       float64   `json:"confidence"`
}

// ActionItem is one remediation entry from the action items table.
type ActionItem struct {
	ItemNumber      int    `json:"item_number"`
	Description     string `json:"description"`
	ActionToBeTaken string `json:"action_to_be_taken"`
	Responsible     string `json:"responsible"`
	DueDate         string `json:"due_date"`
	Status          string `json:"status,omitempty"`
}

// RiskAssessment holds the visit summary risk flags.
type RiskAssessment struct {
	SiteLevelRisks     bool   `json:"site_level_risks_identified"`
	CRALevelRisks      bool   `json:"cra_level_risks_identified"`
	ImpactCountryLevel bool   `json:"impact_country_level"`
	ImpactStudyLevel   bool   `json:"impact_study_level"`
	Narrative          string `json:"narrative"`
}

// AnyRisk reports whether at least one risk flag is set.
func (r RiskAssessment) AnyRisk() bool {
	return r.SiteLevelRisks || r.CRALevelRisks || r.ImpactCountryLevel || r.ImpactStudyLevel
}

// DataQualityFlags is derived by the orchestrator, never authored by the model.
type DataQualityFlags struct {
	FieldsMissing     []string `json:"fields_missing"`
	FieldsInvalid     []string `json:"fields_invalid"`
	CompletenessScore float64  `json:"completeness_score"`
	RequiresReview    bool     `json:"requires_review"`
	ReviewReason      string   `json:"review_reason,omitempty"`
}

// Provenance records how and from what a report was extracted.
type Provenance struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	Method           string    `json:"method"`
	Profile          string    `json:"profile,omitempty"`
	SourceFile       string    `json:"source_file"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
}
