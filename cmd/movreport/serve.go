package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/movreport/internal/metrics"
	"github.com/dshills/movreport/internal/profile"
	"github.com/dshills/movreport/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload, report and analytics HTTP API",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			a.metrics = metrics.New()
			ctx := cmd.Context()
			svc, closeFn, err := a.service(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			srv := server.New(svc, svc.Store, a.log, server.Options{
				MaxUploadBytes: int64(a.cfg.Server.MaxUploadMB) << 20,
				Metrics:        a.metrics,
				Validate:       a.validateOptions(),
			})
			return srv.Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

func newProfilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the built-in extraction profiles",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTEMPERATURE\tEVIDENCE\tDESCRIPTION")
			for _, name := range profile.Names() {
				p, err := profile.Load(name)
				if err != nil {
					return err
				}
				marker := ""
				if name == a.cfg.Extraction.Profile || (a.cfg.Extraction.Profile == "" && name == profile.Default) {
					marker = " (active)"
				}
				fmt.Fprintf(tw, "%s%s\t%.1f\t%s\t%s\n", p.Name, marker, p.Temperature, yesNo(p.RequireEvidence), p.Description)
			}
			return tw.Flush()
		},
	}
}
