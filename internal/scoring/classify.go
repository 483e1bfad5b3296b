package scoring

import (
	"errors"
	"fmt"
	"strings"
)

// RateLimitError marks a provider refusal that should stop the run.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Message)
}

// ErrorClass splits scoring failures into two responses: fatal errors
// stop the run, recoverable ones record a neutral score and continue.
type ErrorClass int

const (
	// Recoverable means record a neutral score for the lead and move on.
	Recoverable ErrorClass = iota
	// Fatal means the provider is refusing work (rate limit, quota,
	// billing); retrying subsequent leads would burn the same budget.
	Fatal
)

// fatalMarkers are matched as substrings of the error text. Provider
// errors arrive with inconsistent shapes, so the text is the only
// reliable signal across SDK versions.
var fatalMarkers = []string{
	"429",
	"rate limit",
	"Rate limit",
	"quota",
	"insufficient_quota",
	"billing",
	"payment",
}

// Classify decides whether a scoring error should stop the run. This is
// the only place the marker heuristics live.
func Classify(err error) ErrorClass {
	if err == nil {
		return Recoverable
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return Fatal
	}
	msg := err.Error()
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return Fatal
		}
	}
	return Recoverable
}
