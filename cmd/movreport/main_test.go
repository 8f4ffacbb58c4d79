package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/movreport/internal/extract"
	"github.com/dshills/movreport/internal/ingest"
	"github.com/dshills/movreport/internal/llm"
	"github.com/dshills/movreport/internal/pipeline"
	"github.com/dshills/movreport/internal/schema"
)

const sampleDoc = "../../testdata/docs/Wang_812409_20250402.txt"

// scriptedProvider answers each sub-extraction prompt with a captured reply.
// Question batches without a capture are answered Yes for every number.
type scriptedProvider struct {
	t       *testing.T
	failAll bool
}

func (p scriptedProvider) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	if p.failAll {
		return llm.Completion{}, errors.New("provider unavailable")
	}
	var file string
	switch {
	case strings.HasPrefix(req.User, "Extract the header"):
		file = "header.txt"
	case strings.HasPrefix(req.User, "Extract questions 1 through 15"):
		file = "questions_1_15.txt"
	case strings.HasPrefix(req.User, "Extract questions"):
		var start, end int
		if _, err := fmt.Sscanf(req.User, "Extract questions %d through %d", &start, &end); err != nil {
			return llm.Completion{}, err
		}
		var entries []string
		for n := start; n <= end; n++ {
			entries = append(entries, fmt.Sprintf(
				`{"question_number":%d,"answer":"Yes","sentiment":"Positive","evidence":"Reviewed on site.","confidence":0.9}`, n))
		}
		return completion(`{"questions":[` + strings.Join(entries, ",") + `]}`), nil
	case strings.HasPrefix(req.User, "Search this entire MOV report for the Action Items"):
		file = "action_items.txt"
	case strings.HasPrefix(req.User, "Search for the Visit Summary"):
		file = "assessment.txt"
	default:
		return llm.Completion{}, fmt.Errorf("scriptedProvider: unexpected prompt %.40q", req.User)
	}
	b, err := os.ReadFile(filepath.Join("../../testdata/replies", file))
	if err != nil {
		p.t.Fatal(err)
	}
	return completion(string(b)), nil
}

func completion(text string) llm.Completion {
	return llm.Completion{Text: text, FinishReason: llm.FinishStop, PromptTokens: 100, CompletionTokens: 50, Model: "mock"}
}

// execute runs the CLI in-process with p injected as the provider.
func execute(t *testing.T, p llm.Provider, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	if p != nil {
		a.newProvider = func(context.Context, llm.Config) (llm.Provider, error) { return p, nil }
	}
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return exitCode(err), stdout.String(), stderr.String()
}

// isolate points the store and archive at a fresh temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MOV_STORE_DRIVER", "sqlite")
	t.Setenv("MOV_STORE_PATH", filepath.Join(dir, "reports.db"))
	t.Setenv("MOV_ARCHIVE_DRIVER", "fs")
	t.Setenv("MOV_ARCHIVE_ROOT", filepath.Join(dir, "archive"))
	t.Setenv("MOV_LOG_LEVEL", "error")
	t.Setenv("MOV_LLM_PROVIDER", "anthropic")
	return dir
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"document", ingest.DocumentError{Err: errors.New("bad pdf")}, exitBadInput},
		{"header", fmt.Errorf("pipeline: header: %w", extract.ErrHeaderUnparsable), exitUnreadable},
		{"mandatory", pipeline.ErrMandatoryFields, exitUnreadable},
		{"store", ingest.StoreError{Err: errors.New("locked")}, exitStore},
		{"provider", errors.New("503 overloaded"), exitProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(withCode(ingestCode(tc.err), tc.err)); got != tc.want {
				t.Errorf("exit code = %d, want %d", got, tc.want)
			}
		})
	}
	if exitCode(nil) != exitOK || exitCode(errors.New("x")) != exitFailure {
		t.Error("nil and plain errors should map to 0 and 1")
	}
	inner := withCode(exitStore, errors.New("x"))
	if exitCode(withCode(exitBadInput, inner)) != exitStore {
		t.Error("withCode should keep the innermost code")
	}
}

func TestExtract_SaveListAndDelete(t *testing.T) {
	dir := isolate(t)
	p := scriptedProvider{t: t}
	out := filepath.Join(dir, "report.json")

	code, _, stderr := execute(t, p, "extract", sampleDoc, "--save", "--archive", "--out", out)
	if code != exitOK {
		t.Fatalf("extract exit = %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stderr, "812409_2025-04-02: 85 questions") || !strings.Contains(stderr, "saved") {
		t.Errorf("summary = %q", stderr)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var r schema.Report
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if r.SiteInfo.SiteNumber != "812409" || r.VisitStartDate != "2025-04-02" || len(r.QuestionResponses) != schema.TotalQuestions {
		t.Errorf("report = site %q start %q questions %d", r.SiteInfo.SiteNumber, r.VisitStartDate, len(r.QuestionResponses))
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "documents", filepath.Base(sampleDoc))); err != nil {
		t.Errorf("document not archived: %v", err)
	}

	code, stdout, _ := execute(t, nil, "reports", "list")
	if code != exitOK || !strings.Contains(stdout, "812409_2025-04-02") || !strings.Contains(stdout, "1 reports") {
		t.Errorf("list exit = %d, output:\n%s", code, stdout)
	}
	code, stdout, _ = execute(t, nil, "reports", "search", "Peking Union")
	if code != exitOK || !strings.Contains(stdout, "812409_2025-04-02") {
		t.Errorf("search exit = %d, output:\n%s", code, stdout)
	}
	code, stdout, _ = execute(t, nil, "reports", "get", "812409_2025-04-02", "--format", "md")
	if code != exitOK || !strings.Contains(stdout, "## MOV Report: Site 812409 (China)") {
		t.Errorf("get exit = %d, output:\n%s", code, stdout)
	}

	code, stdout, _ = execute(t, nil, "analytics", "kpi", "--country", "China", "--as-of", "2025-05-01")
	if code != exitOK {
		t.Fatalf("kpi exit = %d", code)
	}
	var kpi map[string]any
	if err := json.Unmarshal([]byte(stdout), &kpi); err != nil {
		t.Fatalf("decode kpi: %v\n%s", err, stdout)
	}
	if kpi["total_reports"] != float64(1) {
		t.Errorf("kpi = %v", kpi)
	}
	if code, _, _ := execute(t, nil, "analytics", "trends", "--granularity", "fortnight"); code != exitBadInput {
		t.Errorf("bad granularity exit = %d, want %d", code, exitBadInput)
	}
	if code, _, _ := execute(t, nil, "analytics", "sites", "--from", "2025-06-01", "--to", "2025-01-01"); code != exitBadInput {
		t.Errorf("inverted dates exit = %d, want %d", code, exitBadInput)
	}

	code, stdout, _ = execute(t, nil, "reports", "delete", "812409_2025-04-02")
	if code != exitOK || !strings.Contains(stdout, "Report 812409_2025-04-02 deleted") {
		t.Errorf("delete exit = %d, output %q", code, stdout)
	}
	if code, _, _ := execute(t, nil, "reports", "delete", "812409_2025-04-02"); code != exitBadInput {
		t.Errorf("second delete exit = %d, want %d", code, exitBadInput)
	}
}

func TestExtract_Failures(t *testing.T) {
	dir := isolate(t)

	if code, _, _ := execute(t, scriptedProvider{t: t, failAll: true}, "extract", sampleDoc); code != exitProvider {
		t.Errorf("provider failure exit = %d, want %d", code, exitProvider)
	}
	missing := filepath.Join(dir, "missing.pdf")
	if code, _, _ := execute(t, scriptedProvider{t: t}, "extract", missing); code != exitBadInput {
		t.Errorf("missing document exit = %d, want %d", code, exitBadInput)
	}
	if code, _, _ := execute(t, scriptedProvider{t: t}, "extract", sampleDoc, "--format", "xml"); code != exitBadInput {
		t.Errorf("bad format exit = %d, want %d", code, exitBadInput)
	}
	if code, _, _ := execute(t, scriptedProvider{t: t}, "extract"); code != exitBadInput {
		t.Errorf("missing argument exit = %d, want %d", code, exitBadInput)
	}
	if code, _, _ := execute(t, scriptedProvider{t: t}, "extract", sampleDoc, "--bogus"); code != exitBadInput {
		t.Errorf("unknown flag exit = %d, want %d", code, exitBadInput)
	}
}

func TestValidate_FailOn(t *testing.T) {
	dir := isolate(t)
	out := filepath.Join(dir, "report.json")
	if code, _, stderr := execute(t, scriptedProvider{t: t}, "extract", sampleDoc, "-o", out); code != exitOK {
		t.Fatalf("extract exit = %d\n%s", code, stderr)
	}

	// Completed treatment exceeds randomized in the sample, so the grade is Poor.
	code, stdout, _ := execute(t, nil, "validate", out)
	if code != exitOK {
		t.Fatalf("validate exit = %d", code)
	}
	var res validateOutput
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout)
	}
	if res.Quality.Grade != schema.GradePoor || res.Violations == nil {
		t.Errorf("validate output = %+v", res)
	}

	if code, _, _ := execute(t, nil, "validate", out, "--fail-on", "Poor"); code != exitQuality {
		t.Errorf("--fail-on Poor exit = %d, want %d", code, exitQuality)
	}
	if code, _, _ := execute(t, nil, "validate", out, "--fail-on", "Great"); code != exitBadInput {
		t.Errorf("unknown grade exit = %d, want %d", code, exitBadInput)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _, _ := execute(t, nil, "validate", bad); code != exitBadInput {
		t.Errorf("bad json exit = %d, want %d", code, exitBadInput)
	}
}

func TestBatch(t *testing.T) {
	dir := isolate(t)
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(filepath.Join(docs, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	src, err := os.ReadFile(sampleDoc)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Wang_812409_20250402.txt", "nested/Wang_812409_copy.txt"} {
		if err := os.WriteFile(filepath.Join(docs, name), src, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(docs, "budget.xlsx"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := execute(t, nil, "batch", docs, "--dry-run", "--recursive")
	if code != exitOK || !strings.Contains(stdout, "2 documents") {
		t.Errorf("dry run exit = %d, output:\n%s", code, stdout)
	}

	questions := filepath.Join(dir, "questions.csv")
	summary := filepath.Join(dir, "summary.csv")
	code, stdout, stderr := execute(t, scriptedProvider{t: t}, "batch", docs, "--recursive", "--workers", "2",
		"--csv", questions, "--summary-csv", summary)
	if code != exitOK {
		t.Fatalf("batch exit = %d\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "Processed 2 of 2 documents (0 failed)") {
		t.Errorf("batch output = %q", stdout)
	}
	b, err := os.ReadFile(questions)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(b), "\n"); lines != 1+2*schema.TotalQuestions {
		t.Errorf("questions csv has %d lines, want %d", lines, 1+2*schema.TotalQuestions)
	}
	b, err = os.ReadFile(summary)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(b), "\n"); lines != 3 {
		t.Errorf("summary csv has %d lines, want 3", lines)
	}

	code, _, _ = execute(t, scriptedProvider{t: t, failAll: true}, "batch", docs)
	if code != exitFailure {
		t.Errorf("failing batch exit = %d, want %d", code, exitFailure)
	}
}

func TestProfiles(t *testing.T) {
	isolate(t)
	t.Setenv("MOV_EXTRACTION_PROFILE", "audit")
	code, stdout, _ := execute(t, nil, "profiles")
	if code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	for _, want := range []string{"audit (active)", "conservative", "standard"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}
