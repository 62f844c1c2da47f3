package publish

import (
	"fmt"
	"strings"
)

// Summary aggregates a list of results for display.
type Summary struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Successful   []Result `json:"successful"`
	Failed       []Result `json:"failed"`
	Text         string   `json:"text"`
}

// Summarize splits results by outcome and renders a one-line description.
func Summarize(results []Result) Summary {
	s := Summary{
		Successful: []Result{},
		Failed:     []Result{},
	}
	for _, r := range results {
		if r.Success {
			s.Successful = append(s.Successful, r)
		} else {
			s.Failed = append(s.Failed, r)
		}
	}
	s.SuccessCount = len(s.Successful)
	s.FailureCount = len(s.Failed)

	switch {
	case len(results) == 0:
		s.Text = "No platforms selected"
	case s.FailureCount == 0:
		s.Text = fmt.Sprintf("Published to all %d %s", s.SuccessCount, plural(s.SuccessCount))
	case s.SuccessCount == 0:
		s.Text = fmt.Sprintf("Failed to publish to %d %s (%s)", s.FailureCount, plural(s.FailureCount), names(s.Failed))
	default:
		s.Text = fmt.Sprintf("Published to %d of %d platforms (failed: %s)", s.SuccessCount, len(results), names(s.Failed))
	}
	return s
}

func plural(n int) string {
	if n == 1 {
		return "platform"
	}
	return "platforms"
}

func names(results []Result) string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, string(r.Platform))
	}
	return strings.Join(out, ", ")
}
