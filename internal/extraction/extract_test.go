package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStrategies(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     any
		strategy string
	}{
		{
			name:     "plain object",
			raw:      `{"tags": ["编程", "夜猫子"]}`,
			want:     map[string]any{"tags": []any{"编程", "夜猫子"}},
			strategy: "fenced",
		},
		{
			name:     "fenced with language tag",
			raw:      "```json\n{\"user_traits\": [\"外向\"]}\n```",
			want:     map[string]any{"user_traits": []any{"外向"}},
			strategy: "fenced",
		},
		{
			name:     "fenced without language tag",
			raw:      "```\n[1, 2]\n```",
			want:     []any{float64(1), float64(2)},
			strategy: "fenced",
		},
		{
			name:     "fenced block inside prose",
			raw:      "好的，结果如下：\n```json\n{\"a\": 1}\n```\n希望有帮助",
			want:     map[string]any{"a": float64(1)},
			strategy: "fenced",
		},
		{
			name:     "object surrounded by prose",
			raw:      `Sure! Here it is: {"tags": ["go", "rust"]} Let me know.`,
			want:     map[string]any{"tags": []any{"go", "rust"}},
			strategy: "balanced",
		},
		{
			name:     "control characters inside span",
			raw:      "result: {\"a\":\x01 \"b\"}",
			want:     map[string]any{"a": "b"},
			strategy: "balanced",
		},
		{
			name:     "outer object cut off before closing brace",
			raw:      `{"tags": ["编程","夜猫子"]`,
			want:     []any{"编程", "夜猫子"},
			strategy: "balanced",
		},
		{
			name:     "array inside unclosed prose brace",
			raw:      `Sure {here you go: ["编程","夜猫子"]`,
			want:     []any{"编程", "夜猫子"},
			strategy: "balanced",
		},
		{
			name:     "deep nesting falls through to outer span",
			raw:      `Result: {"a": {"b": {"c": 1}}} done`,
			want:     map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(1)}}},
			strategy: "outer_span",
		},
		{
			name:     "stray symbol needs sanitizing",
			raw:      `{"tags": ["编程"] ★}`,
			want:     map[string]any{"tags": []any{"编程"}},
			strategy: "sanitized",
		},
	}

	x := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := x.Extract(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, tt.strategy, res.Strategy)
		})
	}
}

func TestExtractLineStrategy(t *testing.T) {
	x := New(Strategy{Name: "line", Apply: parseFirstJSONLine})

	res, err := x.Extract("thinking...\n  {\"ok\": true}\nbye")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, res.Value)
}

func TestExtractLargeNestedInputIsLinear(t *testing.T) {
	raw := "{" + strings.Repeat("[x]", 60000)

	start := time.Now()
	_, err := Extract(raw)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestScanParents(t *testing.T) {
	raw := `{"a": [1], "s": "[" } [2] {"b": [3]`
	locs := balancedPattern.FindAllStringIndex(raw, -1)
	parents, unclosed := scanParents(raw, locs)

	var got []string
	for i, loc := range locs {
		got = append(got, fmt.Sprintf("%s@%d", raw[loc[0]:loc[1]], parents[i]))
	}
	assert.Equal(t, []string{
		`{"a": [1], "s": "[" }@-1`,
		`[2]@-1`,
		`[3]@26`,
	}, got)
	assert.Equal(t, map[int]bool{26: true}, unclosed)
}

func TestExtractFailure(t *testing.T) {
	long := strings.Repeat("无", 500)

	for _, raw := range []string{"", "no json here", "{broken", long} {
		_, err := Extract(raw)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrExtractionFailed))

		var exErr *Error
		require.True(t, errors.As(err, &exErr))
		assert.LessOrEqual(t, utf8.RuneCountInString(exErr.Snippet), SnippetLimit)
		assert.Len(t, exErr.Attempts, len(DefaultStrategies()))
	}
}

func TestExtractRecoversFromPanickingStrategy(t *testing.T) {
	x := New(
		Strategy{Name: "boom", Apply: func(string) (any, error) { panic("bad") }},
		Strategy{Name: "fenced", Apply: parseFenced},
	)

	res, err := x.Extract(`[1]`)
	require.NoError(t, err)
	assert.Equal(t, "fenced", res.Strategy)
}

func TestExtractRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		v := randomValue(rng, 3)
		raw, err := json.Marshal(v)
		require.NoError(t, err)

		got, err := Extract(string(raw))
		require.NoError(t, err, "input %s", raw)
		assert.Equal(t, normalize(t, v), got)
	}
}

func TestExtractNeverPanicsOnNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune(`{}[]":,\ abc123中文` + "\x00\x1f\n`")
	for i := 0; i < 1000; i++ {
		n := rng.Intn(80)
		buf := make([]rune, n)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		assert.NotPanics(t, func() {
			_, err := Extract(string(buf))
			if err != nil {
				assert.True(t, errors.Is(err, ErrExtractionFailed))
			}
		})
	}
}

func FuzzExtract(f *testing.F) {
	f.Add(`{"a": 1}`)
	f.Add("```json\n[1,2]\n```")
	f.Add(`prefix {"x": [1, {"y": 2}]} suffix`)
	f.Add("\x00{\x7f}")
	f.Fuzz(func(t *testing.T, raw string) {
		_, err := Extract(raw)
		if err != nil && !errors.Is(err, ErrExtractionFailed) {
			t.Fatalf("unexpected error type: %v", err)
		}
	})
}

func randomValue(rng *rand.Rand, depth int) any {
	kind := rng.Intn(7)
	if depth == 0 {
		kind = rng.Intn(4)
	}
	switch kind {
	case 0:
		return rng.Intn(2000) - 1000
	case 1:
		return fmt.Sprintf("s%d 搭子 \"q\"", rng.Intn(100))
	case 2:
		return rng.Intn(2) == 0
	case 3:
		return nil
	case 4, 5:
		n := rng.Intn(4)
		out := make([]any, n)
		for i := range out {
			out[i] = randomValue(rng, depth-1)
		}
		return out
	default:
		n := rng.Intn(4)
		out := make(map[string]any, n)
		for i := 0; i < n; i++ {
			out[fmt.Sprintf("k%d", i)] = randomValue(rng, depth-1)
		}
		return out
	}
}

// normalize maps v onto the shapes encoding/json produces when decoding into any.
func normalize(t *testing.T, v any) any {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
