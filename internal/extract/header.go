package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dshills/movreport/internal/llm"
	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/textseg"
)

// HeaderResult is the decoded header slice of a report. VisitType is the
// normalized but unvalidated value; the orchestrator decides whether it is
// one of the known types.
type HeaderResult struct {
	ProtocolNumber   string
	SiteInfo         schema.SiteInfo
	VisitStartDate   string
	VisitEndDate     string
	VisitType        string
	RecruitmentStats schema.RecruitmentStats
	// Invalid lists fields that were present in the reply but unusable.
	Invalid []string
	Usage   Usage
}

type headerReply struct {
	ProtocolNumber looseString `json:"protocol_number"`
	SiteInfo       struct {
		SiteNumber     looseString `json:"site_number"`
		Country        looseString `json:"country"`
		Institution    looseString `json:"institution"`
		PIFirstName    looseString `json:"pi_first_name"`
		PILastName     looseString `json:"pi_last_name"`
		City           looseString `json:"city"`
		OversightStaff looseString `json:"oversight_staff"`
		CRAName        looseString `json:"cra_name"`
	} `json:"site_info"`
	VisitStartDate   looseString `json:"visit_start_date"`
	VisitEndDate     looseString `json:"visit_end_date"`
	VisitType        looseString `json:"visit_type"`
	RecruitmentStats struct {
		Screened           looseInt `json:"screened"`
		ScreenFailures     looseInt `json:"screen_failures"`
		RandomizedEnrolled looseInt `json:"randomized_enrolled"`
		EarlyDiscontinued  looseInt `json:"early_discontinued"`
		CompletedTreatment looseInt `json:"completed_treatment"`
		CompletedStudy     looseInt `json:"completed_study"`
	} `json:"recruitment_stats"`
}

// Header extracts protocol, site identity, visit dates, visit type and
// recruitment counters from the leading and trailing parts of text.
func (e *Extractor) Header(ctx context.Context, text string) (*HeaderResult, error) {
	raw, usage, err := e.call(ctx, "header", buildHeaderPrompt(textseg.HeaderExcerpt(text)))
	if err != nil {
		if errors.Is(err, llm.ErrInvalidModelOutput) {
			return nil, fmt.Errorf("%w: %w", ErrHeaderUnparsable, err)
		}
		return nil, err
	}
	var reply headerReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeaderUnparsable, err)
	}

	res := &HeaderResult{Usage: usage}
	res.ProtocolNumber = normalizeProtocol(clean(reply.ProtocolNumber))

	si := reply.SiteInfo
	res.SiteInfo = schema.SiteInfo{
		Country:        clean(si.Country),
		Institution:    clean(si.Institution),
		PIFirstName:    clean(si.PIFirstName),
		PILastName:     clean(si.PILastName),
		City:           clean(si.City),
		OversightStaff: clean(si.OversightStaff),
		CRAName:        clean(si.CRAName),
	}
	if v := clean(si.SiteNumber); v != "" {
		if n, ok := normalizeSiteNumber(v); ok {
			res.SiteInfo.SiteNumber = n
		} else {
			res.Invalid = append(res.Invalid, fmt.Sprintf("site_number (%q is not 6 digits)", v))
		}
	}

	for _, d := range []struct {
		field string
		in    looseString
		out   *string
	}{
		{"visit_start_date", reply.VisitStartDate, &res.VisitStartDate},
		{"visit_end_date", reply.VisitEndDate, &res.VisitEndDate},
	} {
		v := clean(d.in)
		if v == "" {
			continue
		}
		if iso, ok := normalizeDate(v); ok {
			*d.out = iso
		} else {
			res.Invalid = append(res.Invalid, fmt.Sprintf("%s (unparsable date %q)", d.field, v))
		}
	}
	res.VisitType = normalizeVisitType(clean(reply.VisitType))

	rs := reply.RecruitmentStats
	res.RecruitmentStats = schema.RecruitmentStats{
		Screened:           nonNegative(rs.Screened),
		ScreenFailures:     nonNegative(rs.ScreenFailures),
		RandomizedEnrolled: nonNegative(rs.RandomizedEnrolled),
		EarlyDiscontinued:  nonNegative(rs.EarlyDiscontinued),
		CompletedTreatment: nonNegative(rs.CompletedTreatment),
		CompletedStudy:     nonNegative(rs.CompletedStudy),
	}
	return res, nil
}

var sixDigitsRe = regexp.MustCompile(`(?:^|[^0-9])([0-9]{6})(?:[^0-9]|$)`)

// normalizeSiteNumber finds exactly one run of six digits in v
// ("Site 812409" becomes "812409").
func normalizeSiteNumber(v string) (string, bool) {
	if schema.ValidSiteNumber(v) {
		return v, true
	}
	m := sixDigitsRe.FindStringSubmatch(v)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// normalizeProtocol ensures the "Protocol " prefix and falls back to the
// unknown marker.
func normalizeProtocol(v string) string {
	if v == "" || strings.EqualFold(v, schema.UnknownProtocol) {
		return schema.UnknownProtocol
	}
	if len(v) >= 9 && strings.EqualFold(v[:9], "protocol ") {
		v = strings.TrimSpace(v[9:])
	}
	if clean(looseString(v)) == "" {
		return schema.UnknownProtocol
	}
	return "Protocol " + v
}

// normalizeVisitType canonicalizes spacing and case and adds the MOV suffix
// to bare type codes. Unrecognized values are returned as written.
func normalizeVisitType(v string) string {
	if v == "" {
		return ""
	}
	up := strings.Join(strings.Fields(strings.ToUpper(v)), " ")
	switch up {
	case "SIV", "IMV", "COV":
		return up + " MOV"
	case string(schema.VisitSIV), string(schema.VisitIMV), string(schema.VisitCOV):
		return up
	}
	return v
}

// dateLayouts are the non-ISO date spellings seen in MOV reports. Slash
// forms are read day first, as written by the European and Asian sites that
// produce most of these reports.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"20060102",
}

// normalizeDate converts v to YYYY-MM-DD.
func normalizeDate(v string) (string, bool) {
	v = strings.TrimSpace(v)
	// Timestamps such as 2025-04-02T09:00:00Z keep their date part.
	if len(v) > 10 && schema.ValidDate(v[:10]) {
		v = v[:10]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func nonNegative(n looseInt) int {
	if n < 0 {
		return 0
	}
	return int(n)
}
