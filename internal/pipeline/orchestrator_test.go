package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dshills/movreport/internal/extract"
	"github.com/dshills/movreport/internal/llm"
	"github.com/dshills/movreport/internal/profile"
	"github.com/dshills/movreport/internal/schema"
)

// routedProvider answers by prompt prefix with the recorded replies under
// testdata. Question batches are answered by questions.
type routedProvider struct {
	t         *testing.T
	questions func(r extract.Range) string
}

func (p *routedProvider) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	var text string
	switch {
	case strings.HasPrefix(req.User, "Extract the header"):
		text = replyFixture(p.t, "header.txt")
	case strings.HasPrefix(req.User, "Extract questions"):
		var r extract.Range
		if _, err := fmt.Sscanf(req.User, "Extract questions %d through %d", &r.Start, &r.End); err != nil {
			p.t.Errorf("unexpected question prompt: %v", err)
		}
		text = p.questions(r)
	case strings.HasPrefix(req.User, "Search this entire MOV report for the Action Items"):
		text = replyFixture(p.t, "action_items.txt")
	case strings.HasPrefix(req.User, "Search for the Visit Summary"):
		text = replyFixture(p.t, "assessment.txt")
	default:
		return llm.Completion{}, errors.New("routedProvider: no reply for prompt")
	}
	return llm.Completion{Text: text, FinishReason: llm.FinishStop, PromptTokens: 10, CompletionTokens: 5}, nil
}

func replyFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("../../testdata/replies/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(b)
}

func newExtractorOrchestrator(t *testing.T, p llm.Provider) *Orchestrator {
	t.Helper()
	prof, err := profile.Load("standard")
	if err != nil {
		t.Fatal(err)
	}
	ex := extract.New(p, prof, zerolog.Nop(), extract.Options{MaxTokens: 4096})
	return New(ex, zerolog.Nop(), Options{Profile: prof.Name, NewID: func() string { return "run-1" }})
}

func TestExtract_WrongShapeRepliesFailBatches(t *testing.T) {
	p := &routedProvider{t: t, questions: func(extract.Range) string {
		return `{"error": "document too long, please retry"}`
	}}
	out, err := newExtractorOrchestrator(t, p).Extract(context.Background(), Document{
		Text:       "MONITORING VISIT REPORT",
		SourceFile: "Wang_812409_20250402.docx",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(out.Failures) != len(extract.Batches) {
		t.Fatalf("Failures = %d, want %d: %v", len(out.Failures), len(extract.Batches), out.Failures)
	}
	for _, f := range out.Failures {
		if f.Task != "questions" || f.Reason == "" {
			t.Errorf("failure = %+v", f)
		}
		if !errors.Is(f, llm.ErrInvalidModelOutput) {
			t.Errorf("%s: expected ErrInvalidModelOutput, got %v", f.Range, f.Err)
		}
	}
	dq := out.Report.DataQuality
	if n := len(out.Report.QuestionResponses); n != 0 {
		t.Errorf("questions = %d, want 0", n)
	}
	if !dq.RequiresReview || !strings.Contains(dq.ReviewReason, "Only 0/85 questions extracted") {
		t.Errorf("review = %v %q", dq.RequiresReview, dq.ReviewReason)
	}
}

func TestExtract_FilledQuestionsDoNotCount(t *testing.T) {
	// Each batch answers only its first number; the rest are filled as NR.
	p := &routedProvider{t: t, questions: func(r extract.Range) string {
		return fmt.Sprintf(`{"questions":[{"question_number":%d,"answer":"Yes","sentiment":"Positive","confidence":0.9}]}`, r.Start)
	}}
	out, err := newExtractorOrchestrator(t, p).Extract(context.Background(), Document{Text: "t", SourceFile: "a.pdf"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(out.Failures) != 0 {
		t.Errorf("Failures = %v", out.Failures)
	}
	r := out.Report
	if len(r.QuestionResponses) != schema.TotalQuestions {
		t.Errorf("questions = %d, want %d", len(r.QuestionResponses), schema.TotalQuestions)
	}
	if !strings.Contains(r.DataQuality.ReviewReason, "Only 6/85 questions extracted") {
		t.Errorf("ReviewReason = %q", r.DataQuality.ReviewReason)
	}
	var filled int
	for _, w := range out.Warnings {
		if strings.Contains(w, "filled as NR") {
			filled++
		}
	}
	if filled != len(extract.Batches) {
		t.Errorf("fill warnings = %d, want %d: %v", filled, len(extract.Batches), out.Warnings)
	}
	if !strings.Contains(strings.Join(out.Warnings, "\n"), "questions 1-15: 14 of 15 missing from the reply, filled as NR") {
		t.Errorf("Warnings = %v", out.Warnings)
	}
}
