package matching

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"go.uber.org/zap"
)

const (
	MaxRecommendations = 5
	fallbackPicks      = 3
	fallbackMatchScore = 7.0
	minScore           = 0.0
	maxScore           = 10.0
	recommendationsKey = "recommendations"
	matchesKey         = "matches"
)

var fallbackReasons = []string{"系统推荐", "活动匹配"}

type RecommendInput struct {
	RequestID int64
	Summary   map[string]any
	Shortlist []RankedCandidate
}

type RecommendResult struct {
	Recommendations []domain.Recommendation
	Fallback        bool
	Reason          string
}

type recommendPromptData struct {
	Requester  string
	Candidates string
}

type candidateSummary struct {
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Tags        []string `json:"tags"`
	Overlap     int      `json:"tag_overlap"`
	Description string   `json:"description"`
	Name        string   `json:"profile_name,omitempty"`
	MBTI        string   `json:"mbti,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// Recommend asks the model to rank the shortlist. Unusable output degrades to
// the first shortlisted candidates with a fixed score. An empty shortlist
// skips the model call.
func (p *Pipeline) Recommend(ctx context.Context, in RecommendInput) (RecommendResult, error) {
	start := time.Now()
	defer observeStage(StageRecommend, start)

	if len(in.Shortlist) == 0 {
		return RecommendResult{}, nil
	}

	requester, err := json.MarshalIndent(summaryProfile(in.Summary), "", "  ")
	if err != nil {
		return RecommendResult{}, &StageError{Stage: StageRecommend, Err: err}
	}
	candidates, err := json.MarshalIndent(summarizeCandidates(in.Shortlist), "", "  ")
	if err != nil {
		return RecommendResult{}, &StageError{Stage: StageRecommend, Err: err}
	}
	user, err := p.prompts.Recommend.Render(recommendPromptData{
		Requester:  string(requester),
		Candidates: string(candidates),
	})
	if err != nil {
		return RecommendResult{}, &StageError{Stage: StageRecommend, Err: err}
	}

	value, _, err := p.complete(ctx, &p.prompts.Recommend, user)
	if err == nil {
		var recs []domain.Recommendation
		if recs, err = p.parseRecommendations(in.RequestID, value, in.Shortlist); err == nil {
			return RecommendResult{Recommendations: recs}, nil
		}
	}

	p.logger.Warn("recommend stage fell back to shortlist order",
		zap.Int64("request_id", in.RequestID),
		zap.Int("shortlist", len(in.Shortlist)),
		zap.Error(err),
	)
	fallbacksTotal.WithLabelValues(StageRecommend).Inc()
	return RecommendResult{
		Recommendations: FallbackRecommendations(in.Shortlist),
		Fallback:        true,
		Reason:          err.Error(),
	}, nil
}

// FallbackRecommendations picks the first shortlisted candidates in filter
// order with a fixed score.
func FallbackRecommendations(shortlist []RankedCandidate) []domain.Recommendation {
	n := min(fallbackPicks, len(shortlist))
	out := make([]domain.Recommendation, 0, n)
	for _, c := range shortlist[:n] {
		out = append(out, domain.Recommendation{
			CandidateUserID: c.Request.UserID,
			MatchScore:      fallbackMatchScore,
			Reasons:         append([]string(nil), fallbackReasons...),
		})
	}
	return out
}

// parseRecommendations accepts a bare array or an object wrapping one. Entries
// naming users outside the shortlist, duplicates and malformed entries are
// dropped; the rest keep model order.
func (p *Pipeline) parseRecommendations(requestID int64, value any, shortlist []RankedCandidate) ([]domain.Recommendation, error) {
	items, ok := value.([]any)
	if !ok {
		obj, isObj := value.(map[string]any)
		if !isObj {
			return nil, errNotAList
		}
		if items, ok = obj[recommendationsKey].([]any); !ok {
			if items, ok = obj[matchesKey].([]any); !ok {
				return nil, errNotAList
			}
		}
	}

	allowed := make(map[int64]struct{}, len(shortlist))
	for _, c := range shortlist {
		allowed[c.Request.UserID] = struct{}{}
	}

	out := make([]domain.Recommendation, 0, MaxRecommendations)
	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		rec, ok := toRecommendation(item)
		if !ok || p.validate.Struct(rec) != nil {
			p.logger.Warn("dropping malformed recommendation", zap.Int64("request_id", requestID))
			continue
		}
		if _, ok := allowed[rec.CandidateUserID]; !ok {
			p.logger.Warn("dropping recommendation outside the shortlist",
				zap.Int64("request_id", requestID),
				zap.Int64("user_id", rec.CandidateUserID),
			)
			continue
		}
		if _, dup := seen[rec.CandidateUserID]; dup {
			continue
		}
		seen[rec.CandidateUserID] = struct{}{}
		out = append(out, rec)
		if len(out) == MaxRecommendations {
			break
		}
	}
	return out, nil
}

func toRecommendation(item any) (domain.Recommendation, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return domain.Recommendation{}, false
	}
	id, ok := toInt64(obj["user_id"])
	if !ok {
		return domain.Recommendation{}, false
	}
	score, ok := toFloat64(obj["match_score"])
	if !ok {
		score, ok = toFloat64(obj["score"])
	}
	if !ok {
		return domain.Recommendation{}, false
	}
	return domain.Recommendation{
		CandidateUserID: id,
		MatchScore:      clamp(score, minScore, maxScore),
		Reasons:         toStrings(obj["reasons"]),
	}, true
}

func summarizeCandidates(shortlist []RankedCandidate) []candidateSummary {
	out := make([]candidateSummary, 0, len(shortlist))
	for _, c := range shortlist {
		s := candidateSummary{
			UserID:      c.Request.UserID,
			Username:    c.Username,
			Tags:        c.Tags,
			Overlap:     c.Overlap,
			Description: strings.TrimSpace(c.Request.Description),
		}
		if c.Profile != nil {
			s.Name = c.Profile.Name
			s.MBTI = orDefault(c.Profile.MBTI, "")
			s.Bio = orDefault(c.Profile.Bio, "")
			s.Location = c.Profile.LocationDisplay()
		}
		out = append(out, s)
	}
	return out
}
