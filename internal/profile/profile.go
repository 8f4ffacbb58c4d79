// Package profile defines extraction profiles that modulate how the
// sub-extractors prompt the model. Each profile provides a
// SystemPromptAddendum that is appended to every system prompt.
package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Default is the profile used when none is configured.
const Default = "standard"

// Profile describes an extraction strategy.
type Profile struct {
	Name                 string
	Description          string
	SystemPromptAddendum string
	// Temperature is the sampling temperature sent with every call.
	Temperature float64
	// RequireEvidence, when true, caps the confidence of any answered
	// question that carries no evidence quote at UnsupportedConfidence.
	RequireEvidence bool
}

// UnsupportedConfidence is the confidence ceiling for answers lacking
// evidence under a RequireEvidence profile.
const UnsupportedConfidence = 0.5

// builtins is the registry of built-in profiles keyed by name.
var builtins = map[string]Profile{
	"standard": {
		Name:        "standard",
		Description: "Default profile; extracts every field the report states.",
		SystemPromptAddendum: "When a value is stated indirectly, extract it and lower the " +
			"confidence accordingly rather than leaving it empty.",
		Temperature: 0.1,
	},
	"conservative": {
		Name:        "conservative",
		Description: "Prefers NR over inference; never guesses an answer.",
		SystemPromptAddendum: "Only record an answer the report states explicitly. If the answer " +
			"must be inferred from surrounding narrative, use NR. Never set confidence above 0.6 " +
			"for an answer you could not quote.",
		Temperature: 0,
	},
	"audit": {
		Name:        "audit",
		Description: "Audit profile; every answered question must cite the report text.",
		SystemPromptAddendum: "Every answer other than NR must include an evidence field quoting " +
			"the report text that supports it. Answers without a quote will be treated as " +
			"unsupported.",
		Temperature:     0,
		RequireEvidence: true,
	},
}

// Names lists the built-in profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load returns the named built-in profile or an error if the name is unknown.
// An empty name loads Default.
func Load(name string) (Profile, error) {
	if name == "" {
		name = Default
	}
	p, ok := builtins[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile: unknown profile %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}
