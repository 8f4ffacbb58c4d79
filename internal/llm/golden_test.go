package llm

import (
	"os"
	"path/filepath"
	"testing"
)

// The replies under testdata/replies are captured model outputs, including
// a fenced one and one with leading prose.
func TestDecodeJSON_CapturedReplies(t *testing.T) {
	cases := []struct {
		file string
		key  string
	}{
		{"header.txt", "site_info"},
		{"questions_1_15.txt", "questions"},
		{"action_items.txt", "action_items"},
		{"assessment.txt", "risk_assessment"},
	}
	for _, c := range cases {
		t.Run(c.file, func(t *testing.T) {
			b, err := os.ReadFile(filepath.Join("..", "..", "testdata", "replies", c.file))
			if err != nil {
				t.Fatal(err)
			}
			var v map[string]any
			if err := DecodeJSON(string(b), &v); err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if _, ok := v[c.key]; !ok {
				t.Errorf("decoded reply has no %q key: %v", c.key, v)
			}
		})
	}
}

func TestDecodeJSON_TruncatedCapturedReply(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("..", "..", "testdata", "replies", "questions_1_15.txt"))
	if err != nil {
		t.Fatal(err)
	}
	cut := string(b[:len(b)/2])
	var v map[string]any
	if err := DecodeJSON(cut, &v); err == nil {
		t.Error("expected an error for a reply cut in half")
	}
}
