package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/textseg"
)

// maxListItemLen bounds each key concern or strength.
const maxListItemLen = 200

// AssessmentResult is the decoded risk assessment and visit summary.
type AssessmentResult struct {
	RiskAssessment     schema.RiskAssessment
	OverallSiteQuality schema.SiteQuality
	KeyConcerns        []string
	KeyStrengths       []string
	Invalid            []string
	Usage              Usage
}

type assessmentReply struct {
	RiskAssessment struct {
		SiteLevelRisks     looseBool   `json:"site_level_risks_identified"`
		CRALevelRisks      looseBool   `json:"cra_level_risks_identified"`
		ImpactCountryLevel looseBool   `json:"impact_country_level"`
		ImpactStudyLevel   looseBool   `json:"impact_study_level"`
		Narrative          looseString `json:"narrative"`
	} `json:"risk_assessment"`
	OverallSiteQuality looseString   `json:"overall_site_quality"`
	KeyConcerns        []looseString `json:"key_concerns"`
	KeyStrengths       []looseString `json:"key_strengths"`
}

// Assessment extracts the risk flags, overall quality grade and the concern
// and strength lists from the trailing part of text.
func (e *Extractor) Assessment(ctx context.Context, text string) (*AssessmentResult, error) {
	raw, usage, err := e.call(ctx, "assessment", buildAssessmentPrompt(textseg.AssessmentExcerpt(text)))
	if err != nil {
		return nil, err
	}
	var reply assessmentReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("extract: assessment: decode: %w", err)
	}

	ra := reply.RiskAssessment
	res := &AssessmentResult{
		RiskAssessment: schema.RiskAssessment{
			SiteLevelRisks:     bool(ra.SiteLevelRisks),
			CRALevelRisks:      bool(ra.CRALevelRisks),
			ImpactCountryLevel: bool(ra.ImpactCountryLevel),
			ImpactStudyLevel:   bool(ra.ImpactStudyLevel),
			Narrative:          clean(ra.Narrative),
		},
		KeyConcerns:  cleanList(reply.KeyConcerns),
		KeyStrengths: cleanList(reply.KeyStrengths),
		Usage:        usage,
	}
	if v := clean(reply.OverallSiteQuality); v != "" {
		if q, ok := parseSiteQuality(v); ok {
			res.OverallSiteQuality = q
		} else {
			res.Invalid = append(res.Invalid, fmt.Sprintf("overall_site_quality (unknown grade %q)", v))
		}
	}
	return res, nil
}

func parseSiteQuality(v string) (schema.SiteQuality, bool) {
	for _, q := range []schema.SiteQuality{
		schema.QualityExcellent,
		schema.QualityGood,
		schema.QualityAdequate,
		schema.QualityNeedsImprovement,
		schema.QualityPoor,
	} {
		if strings.EqualFold(strings.Join(strings.Fields(v), " "), string(q)) {
			return q, true
		}
	}
	return "", false
}

// cleanList drops sentinel entries, truncates long ones and caps the list.
func cleanList(in []looseString) []string {
	out := []string{}
	for _, s := range in {
		v := clean(s)
		if v == "" {
			continue
		}
		out = append(out, textseg.Cap(v, maxListItemLen))
		if len(out) == schema.MaxListItems {
			break
		}
	}
	return out
}
