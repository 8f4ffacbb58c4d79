package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/movreport/internal/render"
	"github.com/dshills/movreport/internal/store"
	"github.com/dshills/movreport/internal/verdict"
)

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse stored reports",
	}
	cmd.AddCommand(
		newReportsListCmd(a),
		newReportsSearchCmd(a),
		newReportsGetCmd(a),
		newReportsDeleteCmd(a),
	)
	return cmd
}

func newReportsListCmd(a *app) *cobra.Command {
	var (
		opts   store.ListOptions
		review string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest extraction first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if review != "" {
				b, err := strconv.ParseBool(review)
				if err != nil {
					return withCode(exitBadInput, fmt.Errorf("--requires-review: %q is not a boolean", review))
				}
				opts.Filter.RequiresReview = &b
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			entries, err := st.List(cmd.Context(), opts)
			if err != nil {
				return withCode(exitStore, err)
			}
			return printEntries(a, entries)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&opts.Limit, "limit", store.DefaultListLimit, "maximum rows")
	fl.IntVar(&opts.Offset, "offset", 0, "rows to skip")
	fl.StringVar(&opts.Filter.Protocol, "protocol", "", "only this protocol number")
	fl.StringVar(&opts.Filter.Site, "site", "", "only this site number")
	fl.StringVar(&review, "requires-review", "", "only reports whose review flag matches (true or false)")
	return cmd
}

func newReportsSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find reports whose content contains text",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			entries, err := st.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return withCode(exitStore, err)
			}
			return printEntries(a, entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "maximum rows")
	return cmd
}

func newReportsGetCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one stored report",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return withCode(exitBadInput, err)
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			r, err := st.Get(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return withCode(exitBadInput, fmt.Errorf("report %s not found", args[0]))
			}
			if err != nil {
				return withCode(exitStore, err)
			}
			return render.Write(a.stdout, f, r, verdict.Validate(r, a.validateOptions()))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, yaml or md")
	return cmd
}

func newReportsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one stored report",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			ok, err := st.Delete(cmd.Context(), args[0])
			if err != nil {
				return withCode(exitStore, err)
			}
			if !ok {
				return withCode(exitBadInput, fmt.Errorf("report %s not found", args[0]))
			}
			a.log.Info().Str("report_id", args[0]).Msg("report deleted")
			fmt.Fprintf(a.stdout, "Report %s deleted\n", args[0])
			return nil
		},
	}
}

func printEntries(a *app, entries []store.Entry) error {
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROTOCOL\tCOUNTRY\tVISIT\tTYPE\tQUALITY\tQUESTIONS\tREVIEW")
	for _, e := range entries {
		r := e.Report
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, r.ProtocolNumber, r.SiteInfo.Country, orDash(r.VisitStartDate),
			orDash(string(r.VisitType)), orDash(string(r.OverallSiteQuality)),
			len(r.QuestionResponses), yesNo(r.DataQuality.RequiresReview))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%d reports\n", len(entries))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
