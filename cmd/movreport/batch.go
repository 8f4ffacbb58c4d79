package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/movreport/internal/ingest"
	"github.com/dshills/movreport/internal/inventory"
	"github.com/dshills/movreport/internal/render"
	"github.com/dshills/movreport/internal/schema"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		opts       inventory.Options
		workers    int
		save       bool
		archive    bool
		csvPath    string
		summaryCSV string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Extract every supported document in a directory",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := inventory.Scan(args[0], opts)
			if err != nil {
				return withCode(exitBadInput, err)
			}
			if dryRun {
				fmt.Fprint(a.stdout, inv.Summary())
				return nil
			}
			if len(inv.Files) == 0 {
				return withCode(exitBadInput, fmt.Errorf("no supported documents in %s", args[0]))
			}

			ctx := cmd.Context()
			svc, closeFn, err := a.service(ctx, save)
			if err != nil {
				return err
			}
			defer closeFn()

			results := make([]*ingest.Result, len(inv.Files))
			errs := make([]error, len(inv.Files))
			var g errgroup.Group
			g.SetLimit(max(workers, 1))
			for i, f := range inv.Files {
				g.Go(func() error {
					req := ingest.Request{Path: f.Abs, SourceName: f.Path, Save: save}
					if archive {
						req.ArchiveKey = "documents/" + filepath.ToSlash(f.Path)
					}
					results[i], errs[i] = svc.Ingest(ctx, req)
					return nil
				})
			}
			_ = g.Wait()

			var (
				reports []*schema.Report
				failed  int
			)
			for i, f := range inv.Files {
				if errs[i] != nil {
					failed++
					a.log.Error().Err(errs[i]).Str("file", f.Path).Msg("document failed")
					fmt.Fprintf(a.stderr, "%s: error: %v\n", f.Path, errs[i])
					continue
				}
				reports = append(reports, results[i].Report)
				fmt.Fprintf(a.stderr, "%s: ", f.Path)
				printSummary(a.stderr, results[i])
			}

			if csvPath != "" {
				if err := writeCSV(csvPath, reports, render.QuestionsCSV); err != nil {
					return err
				}
			}
			if summaryCSV != "" {
				if err := writeCSV(summaryCSV, reports, render.SummaryCSV); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.stdout, "Processed %d of %d documents (%d failed)\n",
				len(reports), len(inv.Files), failed)
			if inv.Skipped > 0 {
				fmt.Fprintf(a.stdout, "%d documents skipped: --max-files reached\n", inv.Skipped)
			}
			if failed > 0 {
				return withCode(exitFailure, fmt.Errorf("%d of %d documents failed", failed, len(inv.Files)))
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&opts.Pattern, "pattern", "", "glob applied to file names, e.g. '*MOV*.pdf'")
	fl.IntVar(&opts.MaxFiles, "max-files", 0, "process at most this many documents (0 for all)")
	fl.BoolVarP(&opts.Recursive, "recursive", "r", false, "descend into subdirectories")
	fl.StringSliceVar(&opts.Ignore, "ignore", nil, "additional directory names to skip")
	fl.IntVar(&workers, "workers", 1, "documents extracted concurrently")
	fl.BoolVar(&save, "save", false, "persist every report to the configured store")
	fl.BoolVar(&archive, "archive", false, "copy source documents to the configured archive")
	fl.StringVar(&csvPath, "csv", "", "write one row per question to this CSV file")
	fl.StringVar(&summaryCSV, "summary-csv", "", "write one row per report to this CSV file")
	fl.BoolVar(&dryRun, "dry-run", false, "list the documents that would be processed and exit")
	return cmd
}

func writeCSV(path string, reports []*schema.Report, write func(io.Writer, []*schema.Report) error) error {
	f, err := os.Create(path)
	if err != nil {
		return withCode(exitBadInput, err)
	}
	if err := write(f, reports); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
