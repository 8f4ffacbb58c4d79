package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/movreport/internal/archive"
	"github.com/dshills/movreport/internal/config"
	"github.com/dshills/movreport/internal/extract"
	"github.com/dshills/movreport/internal/ingest"
	"github.com/dshills/movreport/internal/llm"
	"github.com/dshills/movreport/internal/logging"
	"github.com/dshills/movreport/internal/metrics"
	"github.com/dshills/movreport/internal/pipeline"
	"github.com/dshills/movreport/internal/store"
	"github.com/dshills/movreport/internal/verdict"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitQuality    = 2
	exitBadInput   = 3
	exitProvider   = 4
	exitUnreadable = 5
	exitStore      = 6
)

// exitError carries a process exit code with the error that caused it.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

// ingestCode classifies a failure returned by ingest.Service.Ingest.
func ingestCode(err error) int {
	var docErr ingest.DocumentError
	var stErr ingest.StoreError
	switch {
	case errors.As(err, &docErr):
		return exitBadInput
	case errors.Is(err, extract.ErrHeaderUnparsable), errors.Is(err, pipeline.ErrMandatoryFields):
		return exitUnreadable
	case errors.As(err, &stErr):
		return exitStore
	}
	return exitProvider
}

// app holds the state shared by every command.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	cfg      *config.Config
	log      zerolog.Logger
	closeLog func() error

	stdout io.Writer
	stderr io.Writer

	// newProvider is replaced in tests.
	newProvider func(ctx context.Context, cfg llm.Config) (llm.Provider, error)
	metrics     *metrics.Recorder
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:      stdout,
		stderr:      stderr,
		log:         zerolog.Nop(),
		newProvider: llm.New,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "movreport",
		Short:         "Structured extraction of clinical monitoring visit reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withCode(exitBadInput, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: json or console")

	root.AddCommand(
		newExtractCmd(a),
		newBatchCmd(a),
		newValidateCmd(a),
		newReportsCmd(a),
		newAnalyticsCmd(a),
		newServeCmd(a),
		newProfilesCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return withCode(exitBadInput, err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return withCode(exitBadInput, err)
	}
	opts := cfg.LogOptions()
	opts.Output = a.stderr
	log, closeLog, err := logging.New(opts)
	if err != nil {
		return withCode(exitBadInput, err)
	}
	a.cfg, a.log, a.closeLog = cfg, log, closeLog
	return nil
}

// orchestrator wires provider middleware, the extractor and the pipeline.
func (a *app) orchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	prof, err := a.cfg.Profile()
	if err != nil {
		return nil, withCode(exitBadInput, err)
	}
	p, err := a.newProvider(ctx, a.cfg.LLMConfig())
	if err != nil {
		return nil, withCode(exitBadInput, err)
	}
	c := a.cfg.LLM
	p = llm.Limited(p, llm.NewLimiter(c.RPM, c.Burst))
	p = llm.WithTimeout(p, c.Timeout)
	p = llm.WithRetry(p, c.Retries, c.Backoff)

	ex := extract.New(p, prof, a.log, extract.Options{
		MaxTokens:         c.MaxTokens,
		ActionItemCharCap: a.cfg.Extraction.ActionItemCharCap,
	})
	return pipeline.New(ex, a.log, pipeline.Options{
		QuestionWorkers: a.cfg.Extraction.QuestionWorkers,
		AuxWorkers:      a.cfg.Extraction.AuxWorkers,
		Model:           c.Model,
		Profile:         prof.Name,
		Metrics:         a.metrics,
	}), nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, a.cfg.StoreConfig())
	if err != nil {
		return nil, withCode(exitStore, err)
	}
	return st, nil
}

func (a *app) openArchive(ctx context.Context) (archive.Archive, error) {
	arc, err := archive.Open(ctx, a.cfg.ArchiveConfig())
	if err != nil {
		return nil, withCode(exitBadInput, err)
	}
	return arc, nil
}

func (a *app) validateOptions() verdict.Options {
	return verdict.Options{ConfidenceThreshold: a.cfg.Extraction.ConfidenceThreshold}
}

// service builds an ingest service. The store is opened only when withStore
// is set; the returned close func releases it.
func (a *app) service(ctx context.Context, withStore bool) (*ingest.Service, func(), error) {
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return nil, nil, err
	}
	arc, err := a.openArchive(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := &ingest.Service{Orchestrator: orch, Archive: arc, Log: a.log, Validate: a.validateOptions()}
	closeFn := func() {}
	if withStore {
		st, err := a.openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		svc.Store = st
		closeFn = func() {
			if err := st.Close(); err != nil {
				a.log.Warn().Err(err).Msg("close store")
			}
		}
	}
	return svc, closeFn, nil
}

// exactArgs is cobra.ExactArgs with a bad-input exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withCode(exitBadInput, cobra.ExactArgs(n)(cmd, args))
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return exitCode(err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
