package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/movreport/internal/coverage"
	"github.com/dshills/movreport/internal/llm"
	"github.com/dshills/movreport/internal/profile"
	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/textseg"
)

// QuestionsResult is the decoded slice for one question range. It always
// holds exactly one entry per number in the range, sorted ascending. Only
// Range.Len()-Filled of them were answered by the model.
type QuestionsResult struct {
	Range     Range
	Questions []schema.QuestionResponse
	// Filled counts numbers the model omitted that were filled in as NR.
	Filled int
	// Dropped counts entries outside the range or with unusable numbers.
	Dropped int
	Usage   Usage
}

type questionReply struct {
	QuestionNumber   looseInt    `json:"question_number"`
	QuestionText     looseString `json:"question_text"`
	Answer           looseString `json:"answer"`
	Sentiment        looseString `json:"sentiment"`
	NarrativeSummary looseString `json:"narrative_summary"`
	KeyFinding       looseString `json:"key_finding"`
	Evidence         looseString `json:"evidence"`
	Confidence       looseFloat  `json:"confidence"`
}

// Questions extracts the questions numbered r.Start..r.End from the full
// document text.
func (e *Extractor) Questions(ctx context.Context, text string, r Range) (*QuestionsResult, error) {
	task := "questions " + r.String()
	raw, usage, err := e.call(ctx, task, buildQuestionsPrompt(text, r))
	if err != nil {
		return nil, err
	}
	var replies []questionReply
	if err := decodeList(raw, "questions", &replies); err != nil {
		return nil, fmt.Errorf("extract: %s: decode: %w", task, err)
	}

	res := &QuestionsResult{Range: r, Usage: usage}
	byNumber := make(map[int]schema.QuestionResponse, r.Len())
	for _, q := range replies {
		n := int(q.QuestionNumber)
		if !r.Contains(n) {
			res.Dropped++
			continue
		}
		// Within one reply a repeated number replaces the earlier entry.
		byNumber[n] = normalizeQuestion(q, e.prof)
	}
	if len(byNumber) == 0 {
		return nil, fmt.Errorf("extract: %s: %w", task, llm.ValidationError{
			Field:   "questions",
			Message: fmt.Sprintf("no entry numbered %s (%d out of range)", r, res.Dropped),
		})
	}
	for n := r.Start; n <= r.End; n++ {
		if _, ok := byNumber[n]; !ok {
			byNumber[n] = notReported(n)
			res.Filled++
		}
	}
	res.Questions = make([]schema.QuestionResponse, 0, len(byNumber))
	for _, q := range byNumber {
		res.Questions = append(res.Questions, q)
	}
	sort.Slice(res.Questions, func(i, j int) bool {
		return res.Questions[i].QuestionNumber < res.Questions[j].QuestionNumber
	})
	if res.Filled > 0 || res.Dropped > 0 {
		e.log.Debug().Str("range", r.String()).Int("filled", res.Filled).Int("dropped", res.Dropped).
			Msg("question batch normalized")
	}
	return res, nil
}

func notReported(n int) schema.QuestionResponse {
	return schema.QuestionResponse{
		QuestionNumber: n,
		Answer:         schema.AnswerNR,
		Sentiment:      schema.SentimentUnknown,
		Confidence:     0,
	}
}

// normalizeQuestion applies the loose validation rules to one reply entry.
// Sentiment is taken from the model as given; only unknown values are reset.
func normalizeQuestion(q questionReply, prof profile.Profile) schema.QuestionResponse {
	answer, err := coverage.ParseAnswer(string(q.Answer))
	if err != nil {
		answer = schema.AnswerNR
	}
	sentiment, err := coverage.ParseSentiment(string(q.Sentiment))
	if err != nil || answer == schema.AnswerNR {
		sentiment = schema.SentimentUnknown
	}

	conf := 1.0
	if q.Confidence.Set {
		conf = q.Confidence.Value
	}
	if answer == schema.AnswerNR && !q.Confidence.Set {
		conf = 0
	}
	conf = clamp01(conf)

	out := schema.QuestionResponse{
		QuestionNumber:   int(q.QuestionNumber),
		QuestionText:     clean(q.QuestionText),
		Answer:           answer,
		Sentiment:        sentiment,
		NarrativeSummary: textseg.Cap(clean(q.NarrativeSummary), schema.MaxNarrativeLen),
		KeyFinding:       textseg.Cap(clean(q.KeyFinding), schema.MaxKeyFindingLen),
		Evidence:         textseg.Cap(clean(q.Evidence), schema.MaxEvidenceLen),
		Confidence:       conf,
	}
	if prof.RequireEvidence && answer != schema.AnswerNR && out.Evidence == "" && out.Confidence > profile.UnsupportedConfidence {
		out.Confidence = profile.UnsupportedConfidence
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
