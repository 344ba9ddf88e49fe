package matching

import (
	"context"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"go.uber.org/zap"
)

const (
	timeLayout     = "2006-01-02 15:04"
	unknownValue   = "未知"
	noneValue      = "无"
	parseFailedTag = "解析失败"
)

type IntegrateInput struct {
	Request  *domain.BuddyRequest
	Profile  *domain.Profile
	Event    *domain.Event
	Username string
}

// IntegrateResult carries the structured summary handed to the tag and
// recommend stages. Fallback marks the degraded object built when the model
// call or its parsing failed.
type IntegrateResult struct {
	Summary  map[string]any
	Fallback bool
	Reason   string
}

type integratePromptData struct {
	Now           string
	Username      string
	ProfileName   string
	MBTI          string
	Bio           string
	Contact       string
	Location      string
	EventName     string
	EventStart    string
	EventEnd      string
	EventLocation string
	EventIntro    string
	Description   string
}

// Integrate summarizes requester, event and request text. Model and parsing
// failures degrade to a fallback summary; only a broken prompt is an error.
func (p *Pipeline) Integrate(ctx context.Context, in IntegrateInput) (IntegrateResult, error) {
	start := time.Now()
	defer observeStage(StageIntegrate, start)

	data := integratePromptData{
		Now:           p.now().Format(timeLayout),
		Username:      in.Username,
		ProfileName:   in.Profile.Name,
		MBTI:          orDefault(in.Profile.MBTI, unknownValue),
		Bio:           orDefault(in.Profile.Bio, noneValue),
		Contact:       orDefault(in.Profile.ContactInfo, noneValue),
		Location:      in.Profile.LocationDisplay(),
		EventName:     in.Event.Name,
		EventStart:    in.Event.StartTime.Format(timeLayout),
		EventEnd:      in.Event.EndTime.Format(timeLayout),
		EventLocation: in.Event.LocationDisplay(),
		EventIntro:    orDefault(in.Event.Introduction, noneValue),
		Description:   in.Request.Description,
	}
	user, err := p.prompts.Integrate.Render(data)
	if err != nil {
		return IntegrateResult{}, &StageError{Stage: StageIntegrate, Err: err}
	}

	value, raw, err := p.complete(ctx, &p.prompts.Integrate, user)
	if err == nil {
		if summary, ok := value.(map[string]any); ok {
			return IntegrateResult{Summary: summary}, nil
		}
		err = errNotAnObject
	}

	if raw == "" {
		raw = err.Error()
	}
	p.logger.Warn("integrate stage fell back to raw response",
		zap.Int64("request_id", in.Request.ID),
		zap.Error(err),
	)
	fallbacksTotal.WithLabelValues(StageIntegrate).Inc()
	return IntegrateResult{
		Summary: map[string]any{
			"raw_response":         raw,
			"user_traits":          []any{parseFailedTag},
			"activity_info":        in.Event.Name,
			"matching_preferences": in.Request.Description,
		},
		Fallback: true,
		Reason:   err.Error(),
	}, nil
}

// Typed view of a summary, tolerant of missing or oddly typed fields.
func summaryProfile(summary map[string]any) domain.IntegratedProfile {
	raw, _ := summary["raw_response"].(string)
	return domain.IntegratedProfile{
		UserTraits:          toStrings(summary["user_traits"]),
		ActivityInfo:        stringify(summary["activity_info"]),
		MatchingPreferences: stringify(summary["matching_preferences"]),
		RawResponse:         raw,
	}
}

func orDefault(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
