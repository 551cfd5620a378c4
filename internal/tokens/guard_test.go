package tokens

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedCounter reports a fixed count and records the text it saw.
type fixedCounter struct {
	n    int
	err  error
	text string
}

func (f *fixedCounter) Count(text, _ string) (int, error) {
	f.text = text
	return f.n, f.err
}

func TestNewGuard_Validation(t *testing.T) {
	c := &fixedCounter{}
	tests := []struct {
		name   string
		limit  int
		buffer int
	}{
		{"zero limit", 0, 0},
		{"negative buffer", 100, -1},
		{"buffer equals limit", 100, 100},
		{"buffer above limit", 100, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGuard(c, tt.limit, tt.buffer)
			assert.Error(t, err)
		})
	}
	_, err := NewGuard(nil, 100, 10)
	assert.Error(t, err)
}

func TestSafeMaxTokens(t *testing.T) {
	tests := []struct {
		name    string
		used    int
		want    int
		wantErr bool
	}{
		{"short prompt", 100, 3496, false},
		{"one above boundary", 3595, 1, false},
		{"remaining equals buffer", 3596, 0, true},
		{"over limit", 5000, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGuard(&fixedCounter{n: tt.used}, DefaultTotalLimit, DefaultMinResponseBuffer)
			require.NoError(t, err)
			got, err := g.SafeMaxTokens("sys", "hist", "input", "gpt-4")
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBudgetExceeded)
				assert.Equal(t, BudgetExceededMessage, err.Error())
				var be *BudgetError
				require.True(t, errors.As(err, &be))
				assert.Equal(t, tt.used, be.Used)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSafeMaxTokens_ConcatenatesInputs(t *testing.T) {
	c := &fixedCounter{n: 1}
	g, err := NewGuard(c, 100, 10)
	require.NoError(t, err)
	_, err = g.SafeMaxTokens("You are terse.", "user: hi\nassistant: hey", "next", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "You are terse.user: hi\nassistant: heynext", c.text)
}

func TestSafeMaxTokens_CounterErrorPropagates(t *testing.T) {
	boom := errors.New("no encoding")
	g, err := NewGuard(&fixedCounter{err: boom}, 100, 10)
	require.NoError(t, err)
	_, err = g.SafeMaxTokens("", "", "x", "mystery")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrBudgetExceeded)
}

func TestSafeMaxTokens_WithEstimateCounter(t *testing.T) {
	g, err := NewGuard(EstimateCounter{}, 4096, 500)
	require.NoError(t, err)
	// "hello" estimates to a single token.
	got, err := g.SafeMaxTokens("", "", "hello", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, 3595, got)
}
