// Package analyze scores a free-text grant narrative. It is deliberately
// shallow: keyword presence and length checks, returned as a structured
// result rather than a protocol error so callers always get a body.
package analyze

import "strings"

const (
	StatusProcessed = "processed"
	StatusError     = "error"

	summaryLimit   = 300
	detailMinWords = 50
)

type Metrics struct {
	Chars int `json:"chars"`
	Words int `json:"words"`
}

type Result struct {
	Status    string   `json:"status" enum:"processed,error"`
	Message   string   `json:"message,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Metrics   *Metrics `json:"metrics,omitempty"`
	Strengths []string `json:"strengths,omitempty"`
	Risks     []string `json:"risks,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
}

// Run analyzes the narrative text. Empty input yields an error result, not
// an error value.
func Run(input string) Result {
	if input == "" {
		return Result{
			Status:  StatusError,
			Message: "No input provided",
		}
	}

	words := len(strings.Fields(input))
	lowered := strings.ToLower(input)
	risks := []string{}
	if words < detailMinWords {
		risks = append(risks, "Too little detail")
	}
	if !strings.Contains(lowered, "budget") {
		risks = append(risks, "No budget mentioned")
	}
	if !strings.Contains(lowered, "timeline") {
		risks = append(risks, "No timeline mentioned")
	}

	strength := "Concise idea"
	if words > detailMinWords {
		strength = "Clear intent"
	}

	// Truncate on runes, not bytes, so multibyte text is neither cut early
	// nor split mid-character.
	runes := []rune(input)
	summary := input
	if len(runes) > summaryLimit {
		summary = string(runes[:summaryLimit])
	}

	return Result{
		Status:    StatusProcessed,
		Summary:   summary,
		Metrics:   &Metrics{Chars: len(runes), Words: words},
		Strengths: []string{strength},
		Risks:     risks,
		NextSteps: []string{
			"Expand project description",
			"Add budget section",
			"Define timeline",
		},
	}
}
