// Package router picks an LLM model for a prompt using keyword and length
// rules.
package router

import (
	"strings"
)

// Rule names reported in a Decision.
const (
	RuleCoding  = "coding"
	RuleLong    = "long"
	RuleCasual  = "casual"
	RuleDefault = "default"
)

// Config holds the keyword lists, model ids and word-count thresholds.
type Config struct {
	CodingKeywords []string `yaml:"coding_keywords" env:"CODING_KEYWORDS" envSeparator:","`
	CasualKeywords []string `yaml:"casual_keywords" env:"CASUAL_KEYWORDS" envSeparator:","`

	HighCapabilityModel string `yaml:"high_capability_model" env:"HIGH_CAPABILITY_MODEL"`
	FastModel           string `yaml:"fast_model" env:"FAST_MODEL"`
	DefaultModel        string `yaml:"default_model" env:"DEFAULT_MODEL"`

	// LongQuestionWords routes questions with more words than this to the
	// high-capability model.
	LongQuestionWords int `yaml:"long_question_words" env:"LONG_QUESTION_WORDS"`
	// CasualMaxWords is the longest question still treated as small talk.
	CasualMaxWords int `yaml:"casual_max_words" env:"CASUAL_MAX_WORDS"`
}

func DefaultConfig() Config {
	return Config{
		CodingKeywords: []string{
			"code", "coding", "python", "bug", "algorithm", "function", "class",
			"error", "exception", "compile", "debug", "framework", "library",
			"help me write", "how to write", "write a function", "write a class",
		},
		CasualKeywords: []string{
			"hi", "hello", "how are you", "what’s up", "what's up",
			"let’s talk", "let's talk", "chat", "conversation",
		},
		HighCapabilityModel: "gpt-4",
		FastModel:           "gpt-3.5-turbo-1106",
		DefaultModel:        "gpt-3.5-turbo",
		LongQuestionWords:   20,
		CasualMaxWords:      15,
	}
}

// Decision is the outcome of routing one question.
type Decision struct {
	Model string
	Rule  string
	Words int
}

// Selector routes questions. It is immutable and safe for concurrent use.
type Selector struct {
	cfg Config
}

// New returns a Selector for cfg. Empty fields fall back to DefaultConfig
// and keywords are lower-cased.
func New(cfg Config) *Selector {
	def := DefaultConfig()
	if cfg.CodingKeywords == nil {
		cfg.CodingKeywords = def.CodingKeywords
	}
	if cfg.CasualKeywords == nil {
		cfg.CasualKeywords = def.CasualKeywords
	}
	if cfg.HighCapabilityModel == "" {
		cfg.HighCapabilityModel = def.HighCapabilityModel
	}
	if cfg.FastModel == "" {
		cfg.FastModel = def.FastModel
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = def.DefaultModel
	}
	if cfg.LongQuestionWords <= 0 {
		cfg.LongQuestionWords = def.LongQuestionWords
	}
	if cfg.CasualMaxWords <= 0 {
		cfg.CasualMaxWords = def.CasualMaxWords
	}
	cfg.CodingKeywords = lowerAll(cfg.CodingKeywords)
	cfg.CasualKeywords = lowerAll(cfg.CasualKeywords)
	return &Selector{cfg: cfg}
}

// Config returns a copy of the normalized configuration.
func (s *Selector) Config() Config {
	c := s.cfg
	c.CodingKeywords = append([]string(nil), s.cfg.CodingKeywords...)
	c.CasualKeywords = append([]string(nil), s.cfg.CasualKeywords...)
	return c
}

// Select returns the model id for question.
func (s *Selector) Select(question string) string {
	return s.Route(question).Model
}

// Route applies the rules in order; the first match wins.
// Keywords match as substrings, so "hi" also matches "this".
func (s *Selector) Route(question string) Decision {
	q := strings.ToLower(question)
	words := len(strings.Fields(question))

	if containsAny(q, s.cfg.CodingKeywords) {
		return Decision{Model: s.cfg.HighCapabilityModel, Rule: RuleCoding, Words: words}
	}
	if words > s.cfg.LongQuestionWords {
		return Decision{Model: s.cfg.HighCapabilityModel, Rule: RuleLong, Words: words}
	}
	if containsAny(q, s.cfg.CasualKeywords) && words <= s.cfg.CasualMaxWords {
		return Decision{Model: s.cfg.FastModel, Rule: RuleCasual, Words: words}
	}
	return Decision{Model: s.cfg.DefaultModel, Rule: RuleDefault, Words: words}
}

// Models lists the distinct model ids the selector can return.
func (s *Selector) Models() []string {
	out := []string{s.cfg.HighCapabilityModel}
	for _, m := range []string{s.cfg.FastModel, s.cfg.DefaultModel} {
		dup := false
		for _, seen := range out {
			if seen == m {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
