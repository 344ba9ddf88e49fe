// Package extraction recovers a JSON value from free-form model output.
//
// Model output is untrusted: it may wrap JSON in prose or fenced code blocks,
// carry stray control characters, or be cut short. Extract tries an ordered
// list of pure strategies and returns the first value that decodes. When all
// of them give up it returns an *Error carrying a bounded prefix of the input.
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// SnippetLimit bounds the diagnostic prefix kept on failure, in runes.
const SnippetLimit = 200

var ErrExtractionFailed = errors.New("extraction failed")

var errNoCandidate = errors.New("no candidate")

// Error reports that no strategy could decode the input.
type Error struct {
	Snippet  string
	Attempts []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed after %d strategies, input starts with %q", len(e.Attempts), e.Snippet)
}

func (e *Error) Is(target error) bool {
	return target == ErrExtractionFailed
}

// Strategy turns raw text into a JSON value or reports why it could not.
type Strategy struct {
	Name  string
	Apply func(raw string) (any, error)
}

// Result is a decoded value together with the strategy that produced it.
type Result struct {
	Value    any
	Strategy string
}

type Extractor struct {
	strategies []Strategy
}

// New builds an extractor over the given strategies. With no arguments it
// uses DefaultStrategies.
func New(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies}
}

// DefaultStrategies returns the strategies in the order they are tried.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "fenced", Apply: parseFenced},
		{Name: "balanced", Apply: parseBalanced},
		{Name: "outer_span", Apply: parseOuterSpan},
		{Name: "line", Apply: parseFirstJSONLine},
		{Name: "sanitized", Apply: parseSanitized},
	}
}

// Extract runs the strategies in order and stops at the first success.
func (x *Extractor) Extract(raw string) (Result, error) {
	attempts := make([]string, 0, len(x.strategies))
	for _, s := range x.strategies {
		v, err := apply(s, raw)
		if err == nil {
			return Result{Value: v, Strategy: s.Name}, nil
		}
		attempts = append(attempts, s.Name)
	}
	return Result{}, &Error{Snippet: Snippet(raw), Attempts: attempts}
}

// apply shields callers from a strategy that panics.
func apply(s Strategy, raw string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("strategy %s panicked: %v", s.Name, r)
		}
	}()
	return s.Apply(raw)
}

var defaultExtractor = New()

// Extract decodes raw with the default strategies.
func Extract(raw string) (any, error) {
	res, err := defaultExtractor.Extract(raw)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Snippet returns at most SnippetLimit runes of s.
func Snippet(s string) string {
	if utf8.RuneCountInString(s) <= SnippetLimit {
		return strings.ToValidUTF8(s, "�")
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == SnippetLimit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func decode(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errNoCandidate
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeContainer only accepts objects and arrays; the fallback strategies
// must not turn a stray number in prose into a result.
func decodeContainer(s string) (any, error) {
	v, err := decode(s)
	if err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, errNoCandidate
	}
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}
