// Package coverage provides pure helpers for questionnaire answers: loose
// parsing of model-supplied values, answer tallies and coverage ratios.
package coverage

import (
	"fmt"
	"math"
	"strings"

	"github.com/dshills/movreport/internal/schema"
)

// ParseAnswer converts a model-supplied answer to an Answer constant. It
// accepts the common spellings models emit ("yes", "N/A", "NA", "not
// reported"). Returns an error for unrecognized values.
func ParseAnswer(s string) (schema.Answer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return schema.AnswerYes, nil
	case "no", "n":
		return schema.AnswerNo, nil
	case "n/a", "na", "not applicable":
		return schema.AnswerNA, nil
	case "nr", "not reported", "unknown", "":
		return schema.AnswerNR, nil
	}
	return "", fmt.Errorf("coverage: unknown answer %q", s)
}

// ParseSentiment converts a model-supplied sentiment to a Sentiment constant.
func ParseSentiment(s string) (schema.Sentiment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return schema.SentimentPositive, nil
	case "negative":
		return schema.SentimentNegative, nil
	case "neutral":
		return schema.SentimentNeutral, nil
	case "unknown", "":
		return schema.SentimentUnknown, nil
	}
	return "", fmt.Errorf("coverage: unknown sentiment %q", s)
}

// Tally counts answers by value.
type Tally struct {
	Yes int
	No  int
	NA  int
	NR  int
}

// Add records one answer.
func (t *Tally) Add(a schema.Answer) {
	switch a {
	case schema.AnswerYes:
		t.Yes++
	case schema.AnswerNo:
		t.No++
	case schema.AnswerNA:
		t.NA++
	default:
		t.NR++
	}
}

// Answered is the number of answers other than NR.
func (t Tally) Answered() int { return t.Yes + t.No + t.NA }

// Total is the number of answers recorded.
func (t Tally) Total() int { return t.Answered() + t.NR }

// ComplianceRate is Yes / (Yes + No + N/A) as a percentage rounded to two
// decimals. Returns 0 when nothing was answered.
func (t Tally) ComplianceRate() float64 {
	if t.Answered() == 0 {
		return 0
	}
	return Round(float64(t.Yes)/float64(t.Answered())*100, 2)
}

// TallyAnswers counts every question response in qs.
func TallyAnswers(qs []schema.QuestionResponse) Tally {
	var t Tally
	for _, q := range qs {
		t.Add(q.Answer)
	}
	return t
}

// QuestionCoverage is the percentage of the questionnaire that has an entry,
// rounded to one decimal.
func QuestionCoverage(extracted int) float64 {
	return Round(float64(extracted)/float64(schema.TotalQuestions)*100, 1)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
