package tokens

import (
	"errors"
	"fmt"
)

// Defaults for a 4k context window.
const (
	DefaultTotalLimit        = 4096
	DefaultMinResponseBuffer = 500
)

// BudgetExceededMessage is the user-facing text for a rejected prompt.
const BudgetExceededMessage = "Prompt too long, token limit approaching."

// ErrBudgetExceeded matches every *BudgetError.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// BudgetError reports a prompt that leaves no room for the response buffer.
type BudgetError struct {
	Used      int
	Remaining int
	Buffer    int
}

func (e *BudgetError) Error() string { return BudgetExceededMessage }

func (e *BudgetError) Is(target error) bool { return target == ErrBudgetExceeded }

// Guard computes the completion cap for a prompt. TotalLimit and
// MinResponseBuffer never change after construction.
type Guard struct {
	counter           Counter
	totalLimit        int
	minResponseBuffer int
}

func NewGuard(counter Counter, totalLimit, minResponseBuffer int) (*Guard, error) {
	if counter == nil {
		return nil, errors.New("token guard: counter is required")
	}
	if totalLimit <= 0 {
		return nil, fmt.Errorf("token guard: total limit must be positive, got %d", totalLimit)
	}
	if minResponseBuffer < 0 {
		return nil, fmt.Errorf("token guard: response buffer must not be negative, got %d", minResponseBuffer)
	}
	if minResponseBuffer >= totalLimit {
		return nil, fmt.Errorf("token guard: response buffer %d must be below total limit %d", minResponseBuffer, totalLimit)
	}
	return &Guard{counter: counter, totalLimit: totalLimit, minResponseBuffer: minResponseBuffer}, nil
}

func (g *Guard) TotalLimit() int        { return g.totalLimit }
func (g *Guard) MinResponseBuffer() int { return g.minResponseBuffer }

// SafeMaxTokens counts systemPrompt+historyText+userInput for model and
// returns the completion tokens still available once the response buffer is
// reserved. A remainder at or below the buffer yields a *BudgetError.
// Counter failures are returned as-is, wrapped.
func (g *Guard) SafeMaxTokens(systemPrompt, historyText, userInput, model string) (int, error) {
	used, err := g.counter.Count(systemPrompt+historyText+userInput, model)
	if err != nil {
		return 0, fmt.Errorf("count prompt tokens: %w", err)
	}
	remaining := g.totalLimit - used
	if remaining <= g.minResponseBuffer {
		return 0, &BudgetError{Used: used, Remaining: remaining, Buffer: g.minResponseBuffer}
	}
	return remaining - g.minResponseBuffer, nil
}
