package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/movreport/internal/analytics"
	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/store"
)

type filterFlags struct {
	from, to, protocol, site, country, visitType string
}

// load returns the stored reports that pass the filter flags.
func (ff *filterFlags) load(cmd *cobra.Command, a *app) ([]*schema.Report, error) {
	f, err := analytics.NewFilter(ff.from, ff.to, ff.protocol, ff.site, ff.country, ff.visitType)
	if err != nil {
		return nil, withCode(exitBadInput, err)
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	all, err := store.All(cmd.Context(), st, store.Filter{Protocol: f.Protocol, Site: f.Site})
	if err != nil {
		return nil, withCode(exitStore, err)
	}
	return f.Apply(all), nil
}

func newAnalyticsCmd(a *app) *cobra.Command {
	ff := &filterFlags{}
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Aggregate metrics over stored reports",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&ff.from, "from", "", "first visit date, YYYY-MM-DD")
	pf.StringVar(&ff.to, "to", "", "last visit date, YYYY-MM-DD")
	pf.StringVar(&ff.protocol, "protocol", "", "only this protocol number")
	pf.StringVar(&ff.site, "site", "", "only this site number")
	pf.StringVar(&ff.country, "country", "", "only this country")
	pf.StringVar(&ff.visitType, "visit-type", "", "only this visit type")

	var asOf string
	kpi := &cobra.Command{
		Use:   "kpi",
		Short: "Headline compliance, risk and action item figures",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now()
			if asOf != "" {
				t, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return withCode(exitBadInput, fmt.Errorf("--as-of: %w", err))
				}
				at = t
			}
			reports, err := ff.load(cmd, a)
			if err != nil {
				return err
			}
			return a.printJSON(analytics.KPIs(reports, at))
		},
	}
	kpi.Flags().StringVar(&asOf, "as-of", "", "date overdue action items are judged against (default today)")

	var granularity string
	trends := &cobra.Command{
		Use:   "trends",
		Short: "Compliance rate per period",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := analytics.ParseGranularity(granularity)
			if err != nil {
				return withCode(exitBadInput, err)
			}
			reports, err := ff.load(cmd, a)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"trends": orEmpty(analytics.ComplianceTrends(reports, g))})
		},
	}
	trends.Flags().StringVar(&granularity, "granularity", "month", "day, week, month or quarter")

	questions := &cobra.Command{
		Use:   "questions",
		Short: "Answer distribution per questionnaire item",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := ff.load(cmd, a)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"questions": orEmpty(analytics.QuestionStats(reports))})
		},
	}

	var (
		sortBy string
		limit  int
	)
	sites := &cobra.Command{
		Use:   "sites",
		Short: "Site leaderboard",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := ff.load(cmd, a)
			if err != nil {
				return err
			}
			rows, err := analytics.SiteLeaderboard(reports, sortBy, limit)
			if err != nil {
				return withCode(exitBadInput, err)
			}
			return a.printJSON(map[string]any{"sites": orEmpty(rows)})
		},
	}
	sites.Flags().StringVar(&sortBy, "sort-by", "", "compliance_rate, quality_score or enrollment_rate")
	sites.Flags().IntVar(&limit, "limit", 100, "maximum rows")

	countries := &cobra.Command{
		Use:   "countries",
		Short: "Visit and compliance figures per country",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := ff.load(cmd, a)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"countries": orEmpty(analytics.GeographicSummary(reports))})
		},
	}

	cmd.AddCommand(kpi, trends, questions, sites, countries)
	return cmd
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
