package analyze_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"grantdesk/internal/analyze"
)

func TestRunEmptyInput(t *testing.T) {
	res := analyze.Run("")
	if res.Status != analyze.StatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if res.Message != "No input provided" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res.Metrics != nil {
		t.Fatalf("expected no metrics on error")
	}
}

func TestRunShortNarrative(t *testing.T) {
	res := analyze.Run("We want to open a bakery.")
	if res.Status != analyze.StatusProcessed {
		t.Fatalf("expected processed, got %s", res.Status)
	}
	want := []string{"Too little detail", "No budget mentioned", "No timeline mentioned"}
	if len(res.Risks) != len(want) {
		t.Fatalf("expected %d risks, got %v", len(want), res.Risks)
	}
	for i, r := range want {
		if res.Risks[i] != r {
			t.Fatalf("risk %d: expected %q, got %q", i, r, res.Risks[i])
		}
	}
	if len(res.Strengths) != 1 || res.Strengths[0] != "Concise idea" {
		t.Fatalf("expected Concise idea strength, got %v", res.Strengths)
	}
	if res.Metrics == nil || res.Metrics.Words != 6 {
		t.Fatalf("unexpected metrics %+v", res.Metrics)
	}
}

func TestRunDetailedNarrative(t *testing.T) {
	input := strings.Repeat("The project expands our community kitchen. ", 10) +
		"Our budget is detailed in section two and the timeline spans twelve months."
	res := analyze.Run(input)
	if res.Status != analyze.StatusProcessed {
		t.Fatalf("expected processed, got %s", res.Status)
	}
	if len(res.Risks) != 0 {
		t.Fatalf("expected no risks, got %v", res.Risks)
	}
	if len(res.Strengths) != 1 || res.Strengths[0] != "Clear intent" {
		t.Fatalf("expected Clear intent strength, got %v", res.Strengths)
	}
	if len(res.Summary) > 300 {
		t.Fatalf("summary should be capped at 300 chars, got %d", len(res.Summary))
	}
	if len(res.NextSteps) != 3 {
		t.Fatalf("expected three next steps, got %v", res.NextSteps)
	}
}

func TestRunCountsRunesNotBytes(t *testing.T) {
	input := strings.Repeat("é", 200)
	res := analyze.Run(input)
	if res.Summary != input {
		t.Fatalf("200-rune input should not be truncated, got %d-rune summary", len([]rune(res.Summary)))
	}
	if res.Metrics == nil || res.Metrics.Chars != 200 {
		t.Fatalf("expected 200 chars, got %+v", res.Metrics)
	}

	long := strings.Repeat("é", 350)
	res = analyze.Run(long)
	if got := len([]rune(res.Summary)); got != 300 {
		t.Fatalf("expected 300-rune summary, got %d", got)
	}
	if !utf8.ValidString(res.Summary) {
		t.Fatalf("summary split a character")
	}
}

func TestRunKeywordsAreCaseInsensitive(t *testing.T) {
	res := analyze.Run("BUDGET and TIMELINE are both covered here.")
	for _, r := range res.Risks {
		if r == "No budget mentioned" || r == "No timeline mentioned" {
			t.Fatalf("keyword check should be case-insensitive, got risk %q", r)
		}
	}
}
