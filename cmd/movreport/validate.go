package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/movreport/internal/render"
	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/verdict"
)

type validateOutput struct {
	Quality    verdict.Result `json:"quality"`
	Violations []string       `json:"schema_violations"`
}

func newValidateCmd(a *app) *cobra.Command {
	var (
		format string
		failOn string
	)
	cmd := &cobra.Command{
		Use:   "validate <report.json>",
		Short: "Re-check business rules on a previously extracted report",
		Long: "Validate recomputes the data quality grade of a report JSON file.\n" +
			"With --fail-on, the command exits 2 when the grade is the given grade or worse.",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold := -1
			if failOn != "" {
				threshold = verdict.GradeOrdinal(schema.Grade(failOn))
				if threshold < 0 {
					return withCode(exitBadInput, fmt.Errorf("--fail-on: unknown grade %q", failOn))
				}
			}
			b, err := os.ReadFile(args[0])
			if err != nil {
				return withCode(exitBadInput, err)
			}
			var r schema.Report
			if err := json.Unmarshal(b, &r); err != nil {
				return withCode(exitBadInput, fmt.Errorf("decode %s: %w", args[0], err))
			}

			res := verdict.Validate(&r, a.validateOptions())
			switch format {
			case "md":
				fmt.Fprint(a.stdout, render.Markdown(&r, res))
			case "json":
				out := validateOutput{Quality: res, Violations: []string{}}
				for _, v := range schema.Check(&r) {
					out.Violations = append(out.Violations, v.String())
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			default:
				return withCode(exitBadInput, fmt.Errorf("--format: unknown format %q (json or md)", format))
			}

			if threshold >= 0 && verdict.GradeOrdinal(res.Grade) >= threshold {
				return &exitError{code: exitQuality, err: fmt.Errorf("data quality %s is %s or worse", res.Grade, failOn)}
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&format, "format", "f", "json", "output format: json or md")
	fl.StringVar(&failOn, "fail-on", "", "exit 2 when the grade is this or worse (Excellent, Good, Fair, Needs Review, Poor)")
	return cmd
}
