package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/movreport/internal/ingest"
	"github.com/dshills/movreport/internal/render"
)

func newExtractCmd(a *app) *cobra.Command {
	var (
		save    bool
		archive bool
		format  string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract a structured report from one MOV document",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return withCode(exitBadInput, err)
			}
			ctx := cmd.Context()
			svc, closeFn, err := a.service(ctx, save)
			if err != nil {
				return err
			}
			defer closeFn()

			req := ingest.Request{Path: args[0], Save: save}
			if archive {
				req.ArchiveKey = "documents/" + filepath.Base(args[0])
			}
			res, err := svc.Ingest(ctx, req)
			if err != nil {
				return withCode(ingestCode(err), err)
			}

			w := a.stdout
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return withCode(exitBadInput, err)
				}
				defer file.Close()
				w = file
			}
			if err := render.Write(w, f, res.Report, res.Quality); err != nil {
				return err
			}
			printSummary(a.stderr, res)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&save, "save", false, "persist the report to the configured store")
	fl.BoolVar(&archive, "archive", false, "copy the source document to the configured archive")
	fl.StringVarP(&format, "format", "f", "json", "output format: json, yaml or md")
	fl.StringVarP(&out, "out", "o", "", "write the report to this file instead of stdout")
	return cmd
}

func printSummary(w io.Writer, res *ingest.Result) {
	r := res.Report
	fmt.Fprintf(w, "%s: %d questions, %d action items, quality %s",
		res.ID, len(r.QuestionResponses), len(r.ActionItems), res.Quality.Grade)
	if res.Saved {
		fmt.Fprint(w, ", saved")
	}
	fmt.Fprintln(w)
	if r.DataQuality.RequiresReview {
		fmt.Fprintln(w, "  requires manual review")
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  failed: %s\n", f.Error())
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}
