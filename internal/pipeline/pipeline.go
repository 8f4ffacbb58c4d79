// Package pipeline is the extraction orchestrator. It fans out the
// sub-extractors for one document, merges their results into a single
// report, fills gaps and scores data quality.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/movreport/internal/extract"
	"github.com/dshills/movreport/internal/metrics"
	"github.com/dshills/movreport/internal/schema"
)

// ErrMandatoryFields is returned when the header carries no site identity at
// all: country, institution and PI last name are all missing.
var ErrMandatoryFields = errors.New("pipeline: mandatory header fields missing")

// Extractors is the set of sub-extractors the orchestrator drives.
// *extract.Extractor implements it.
type Extractors interface {
	Header(ctx context.Context, text string) (*extract.HeaderResult, error)
	Questions(ctx context.Context, text string, r extract.Range) (*extract.QuestionsResult, error)
	ActionItems(ctx context.Context, text string) (*extract.ActionItemsResult, error)
	Assessment(ctx context.Context, text string) (*extract.AssessmentResult, error)
}

// Document is one source document's extracted text.
type Document struct {
	Text       string
	SourceFile string
}

// SubtaskError records a sub-extraction that failed and was recovered by
// contributing nothing to the report. Reason is Err's message, kept so the
// failure survives JSON encoding.
type SubtaskError struct {
	Task   string `json:"task"`
	Range  string `json:"range,omitempty"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func subtaskFailure(task, rng string, err error) SubtaskError {
	return SubtaskError{Task: task, Range: rng, Reason: err.Error(), Err: err}
}

func (e SubtaskError) Error() string {
	if e.Range != "" {
		return fmt.Sprintf("%s %s: %v", e.Task, e.Range, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e SubtaskError) Unwrap() error { return e.Err }

// Outcome is a successfully assembled report and what went wrong on the way.
type Outcome struct {
	Report   *schema.Report
	Failures []SubtaskError
	// Warnings lists non-fatal conditions such as truncated completions.
	Warnings []string
	Elapsed  time.Duration
}

// Degraded reports whether any sub-extraction failed.
func (o *Outcome) Degraded() bool { return len(o.Failures) > 0 }

// Options tunes an Orchestrator.
type Options struct {
	QuestionWorkers int
	AuxWorkers      int
	Model           string
	Profile         string
	Metrics         *metrics.Recorder
	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator assembles reports. It keeps no per-document state and may
// run several documents concurrently.
type Orchestrator struct {
	ex   Extractors
	log  zerolog.Logger
	opts Options
}

// New constructs an Orchestrator.
func New(ex Extractors, log zerolog.Logger, opts Options) *Orchestrator {
	if opts.QuestionWorkers <= 0 {
		opts.QuestionWorkers = 3
	}
	if opts.AuxWorkers <= 0 {
		opts.AuxWorkers = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Orchestrator{ex: ex, log: log, opts: opts}
}

// Extract produces one report from doc. A non-nil error means no report
// could be built; recovered sub-extraction failures are listed in
// Outcome.Failures instead.
func (o *Orchestrator) Extract(ctx context.Context, doc Document) (*Outcome, error) {
	start := o.opts.Now()
	log := o.log.With().Str("source_file", doc.SourceFile).Logger()
	log.Info().Int("text_len", len(doc.Text)).Msg("starting chunked extraction")

	out, err := o.extract(ctx, doc, log)
	elapsed := o.opts.Now().Sub(start)
	if err != nil {
		o.opts.Metrics.Run(metrics.OutcomeFailed, elapsed)
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("extraction failed")
		return nil, err
	}
	out.Elapsed = elapsed

	outcome := metrics.OutcomeOK
	if out.Degraded() {
		outcome = metrics.OutcomeDegraded
	}
	o.opts.Metrics.Run(outcome, elapsed)
	o.opts.Metrics.Assembled(len(out.Report.QuestionResponses), out.Report.DataQuality.RequiresReview)
	o.opts.Metrics.Tokens(out.Report.Extraction.PromptTokens, out.Report.Extraction.CompletionTokens)
	return out, nil
}

func (o *Orchestrator) extract(ctx context.Context, doc Document, log zerolog.Logger) (*Outcome, error) {
	var (
		out   = &Outcome{}
		usage []extract.Usage
	)

	// Step 1: header, synchronously. Its failure is the only fatal one.
	header, err := o.ex.Header(ctx, doc.Text)
	if err != nil {
		return nil, fmt.Errorf("pipeline: header: %w", err)
	}
	usage = append(usage, header.Usage)
	if h := header.SiteInfo; h.Country == "" && h.Institution == "" && h.PILastName == "" {
		return nil, fmt.Errorf("%w: country, institution and PI last name are all empty", ErrMandatoryFields)
	}

	// Step 2: question batches on a bounded pool. Each slot is written by
	// exactly one goroutine and read only after Wait.
	type batchResult struct {
		res *extract.QuestionsResult
		err error
	}
	batches := make([]batchResult, len(extract.Batches))
	var g errgroup.Group
	g.SetLimit(o.opts.QuestionWorkers)
	for i, r := range extract.Batches {
		g.Go(func() error {
			res, err := o.ex.Questions(ctx, doc.Text, r)
			batches[i] = batchResult{res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	questionSets := make([][]schema.QuestionResponse, 0, len(batches))
	answered := 0
	for i, b := range batches {
		r := extract.Batches[i]
		if b.err != nil {
			log.Error().Err(b.err).Str("range", r.String()).Msg("question batch failed")
			out.Failures = append(out.Failures, subtaskFailure("questions", r.String(), b.err))
			o.opts.Metrics.SubtaskFailed("questions")
			continue
		}
		log.Info().Str("range", r.String()).Int("count", len(b.res.Questions)).Int("filled", b.res.Filled).
			Msg("question batch extracted")
		if b.res.Filled > 0 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("questions %s: %d of %d missing from the reply, filled as NR",
				r, b.res.Filled, r.Len()))
		}
		answered += len(b.res.Questions) - b.res.Filled
		questionSets = append(questionSets, b.res.Questions)
		usage = append(usage, b.res.Usage)
	}
	questions := mergeQuestions(questionSets)

	// Step 3: action items and assessment, independent of steps 1 and 2.
	var (
		actions       *extract.ActionItemsResult
		assessment    *extract.AssessmentResult
		actErr, asErr error
	)
	var aux errgroup.Group
	aux.SetLimit(o.opts.AuxWorkers)
	aux.Go(func() error {
		actions, actErr = o.ex.ActionItems(ctx, doc.Text)
		return nil
	})
	aux.Go(func() error {
		assessment, asErr = o.ex.Assessment(ctx, doc.Text)
		return nil
	})
	_ = aux.Wait()

	actionItems := []schema.ActionItem{}
	if actErr != nil {
		log.Error().Err(actErr).Msg("action items extraction failed")
		out.Failures = append(out.Failures, subtaskFailure("action_items", "", actErr))
		o.opts.Metrics.SubtaskFailed("action_items")
	} else {
		actionItems = actions.Items
		usage = append(usage, actions.Usage)
		if actions.Capped {
			out.Warnings = append(out.Warnings, "action items input truncated to the character cap")
		}
	}

	var invalid []string
	invalid = append(invalid, header.Invalid...)
	risk := schema.RiskAssessment{}
	var (
		quality   schema.SiteQuality
		concerns  = []string{}
		strengths = []string{}
	)
	if asErr != nil {
		log.Error().Err(asErr).Msg("assessment extraction failed")
		out.Failures = append(out.Failures, subtaskFailure("assessment", "", asErr))
		o.opts.Metrics.SubtaskFailed("assessment")
	} else {
		risk = assessment.RiskAssessment
		quality = assessment.OverallSiteQuality
		concerns = assessment.KeyConcerns
		strengths = assessment.KeyStrengths
		invalid = append(invalid, assessment.Invalid...)
		usage = append(usage, assessment.Usage)
	}

	// Step 4: merge and gap-fill.
	si := header.SiteInfo
	var extraMissing []string
	if si.SiteNumber == "" {
		if n, ok := SiteFromFilename(doc.SourceFile); ok {
			si.SiteNumber = n
			extraMissing = append(extraMissing, "site_number (extracted from filename)")
			log.Warn().Str("site_number", n).Msg("site_number extracted from filename")
		} else {
			si.SiteNumber = schema.PlaceholderSiteNumber
			extraMissing = append(extraMissing, "site_number")
			invalid = append(invalid, "site_number (placeholder "+schema.PlaceholderSiteNumber+")")
			log.Error().Msg("site_number not found in document or filename")
		}
	}

	visitType := schema.VisitType(header.VisitType)
	if visitType != "" && !visitType.Valid() {
		invalid = append(invalid, "visit_type")
		log.Warn().Str("visit_type", header.VisitType).Msg("invalid visit_type")
		visitType = ""
	}

	report := &schema.Report{
		ProtocolNumber:     header.ProtocolNumber,
		SiteInfo:           si,
		VisitStartDate:     header.VisitStartDate,
		VisitEndDate:       header.VisitEndDate,
		VisitType:          visitType,
		RecruitmentStats:   header.RecruitmentStats,
		QuestionResponses:  questions,
		ActionItems:        actionItems,
		RiskAssessment:     risk,
		OverallSiteQuality: quality,
		KeyConcerns:        concerns,
		KeyStrengths:       strengths,
		Extraction: schema.Provenance{
			ID:         o.opts.NewID(),
			Timestamp:  o.opts.Now().UTC(),
			Model:      o.opts.Model,
			Method:     schema.ExtractionMethod,
			Profile:    o.opts.Profile,
			SourceFile: filepath.Base(doc.SourceFile),
		},
	}
	if report.ProtocolNumber == "" {
		report.ProtocolNumber = schema.UnknownProtocol
	}
	for _, u := range usage {
		report.Extraction.PromptTokens += u.PromptTokens
		report.Extraction.CompletionTokens += u.CompletionTokens
		if report.Extraction.Model == "" && u.Model != "" {
			report.Extraction.Model = u.Model
		}
		if u.Truncated() {
			out.Warnings = append(out.Warnings, fmt.Sprintf("completion finished with %q", u.FinishReason))
		}
	}

	// Step 5: quality scoring. NR placeholders do not count as extracted.
	report.DataQuality = Score(report, answered, extraMissing, invalid)

	log.Info().
		Int("questions", len(report.QuestionResponses)).
		Int("action_items", len(report.ActionItems)).
		Int("failures", len(out.Failures)).
		Float64("completeness", report.DataQuality.CompletenessScore).
		Bool("requires_review", report.DataQuality.RequiresReview).
		Str("review_reason", report.DataQuality.ReviewReason).
		Msg("report assembled")

	// Step 6: the report is published only once fully built.
	out.Report = report
	return out, nil
}
