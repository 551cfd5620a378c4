// Package tokens counts prompt tokens and computes how much of a model's
// context window is left for the completion.
package tokens

import (
	"fmt"
	"strings"
)

// Counter returns the number of tokens text occupies for the given model.
type Counter interface {
	Count(text, model string) (int, error)
}

// Counter kinds accepted by NewCounter.
const (
	KindTiktoken = "tiktoken"
	KindEstimate = "estimate"
)

// NewCounter builds the counter named by kind. An empty kind selects tiktoken.
func NewCounter(kind string) (Counter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindTiktoken:
		return NewTiktokenCounter(), nil
	case KindEstimate:
		return EstimateCounter{}, nil
	default:
		return nil, fmt.Errorf("unknown token counter %q (supported: %s, %s)", kind, KindTiktoken, KindEstimate)
	}
}
