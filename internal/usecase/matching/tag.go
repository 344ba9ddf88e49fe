package matching

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"go.uber.org/zap"
)

var defaultTagMarkers = []string{"搭子", "匹配"}

// eventTagSuffix pads event names too short to be a tag, or clashing with a marker.
const eventTagSuffix = "活动"

type TagInput struct {
	RequestID   int64
	Summary     map[string]any
	EventName   string
	Description string
}

type TagResult struct {
	Tags     []string
	Fallback bool
	Reason   string
}

type tagPromptData struct {
	Integrated  string
	EventName   string
	Description string
}

// Tag derives the request's tag set and replaces the stored set with it.
// A failed model call or unusable output falls back to DefaultTags; only a
// failed save is returned as an error.
func (p *Pipeline) Tag(ctx context.Context, in TagInput) (TagResult, error) {
	start := time.Now()
	defer observeStage(StageTag, start)

	summary, err := json.MarshalIndent(in.Summary, "", "  ")
	if err != nil {
		return TagResult{}, &StageError{Stage: StageTag, Err: err}
	}
	user, err := p.prompts.Tag.Render(tagPromptData{
		Integrated:  string(summary),
		EventName:   in.EventName,
		Description: in.Description,
	})
	if err != nil {
		return TagResult{}, &StageError{Stage: StageTag, Err: err}
	}

	result := TagResult{}
	value, _, err := p.complete(ctx, &p.prompts.Tag, user)
	if err == nil {
		result.Tags, err = tagsFromOutput(value)
	}
	if err != nil {
		p.logger.Warn("tag stage fell back to default tags",
			zap.Int64("request_id", in.RequestID),
			zap.Error(err),
		)
		fallbacksTotal.WithLabelValues(StageTag).Inc()
		result = TagResult{Tags: DefaultTags(in.EventName), Fallback: true, Reason: err.Error()}
	}

	if err := p.tags.Replace(ctx, in.RequestID, result.Tags); err != nil {
		return TagResult{}, &StageError{Stage: StageTag, Err: err}
	}
	return result, nil
}

// DefaultTags is the tag set used when the model gives nothing usable. It
// always holds exactly three tags: one derived from the event name, then the
// markers.
func DefaultTags(eventName string) []string {
	return append([]string{eventTag(eventName)}, defaultTagMarkers...)
}

func eventTag(eventName string) string {
	tag := strings.TrimSpace(eventName)
	if utf8.RuneCountInString(tag) > domain.TagMaxLength {
		tag = strings.TrimSpace(string([]rune(tag)[:domain.TagMaxLength]))
	}
	if utf8.RuneCountInString(tag) < domain.TagMinLength || slices.Contains(defaultTagMarkers, tag) {
		return tag + eventTagSuffix
	}
	return tag
}

// tagsFromOutput accepts a bare array or an object wrapping one under "tags".
func tagsFromOutput(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		obj, isObj := value.(map[string]any)
		if !isObj {
			return nil, errNotAList
		}
		if items, ok = obj["tags"].([]any); !ok {
			return nil, errNotAList
		}
	}
	tags := NormalizeTags(items)
	if len(tags) == 0 {
		return nil, errNoUsableTags
	}
	return tags, nil
}

// NormalizeTags coerces entries to strings, trims them, drops entries shorter
// than the minimum, cuts long ones, removes duplicates keeping the first
// occurrence and keeps at most MaxTags.
func NormalizeTags(items []any) []string {
	out := make([]string, 0, domain.MaxTags)
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		tag := strings.TrimSpace(stringify(item))
		if utf8.RuneCountInString(tag) < domain.TagMinLength {
			continue
		}
		if utf8.RuneCountInString(tag) > domain.TagMaxLength {
			tag = strings.TrimSpace(string([]rune(tag)[:domain.TagMaxLength]))
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == domain.MaxTags {
			break
		}
	}
	return out
}
