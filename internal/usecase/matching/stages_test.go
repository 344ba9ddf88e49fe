package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadInputs(t *testing.T, f *fixture) (*domain.BuddyRequest, *domain.Event) {
	t.Helper()
	ctx := context.Background()
	req, err := f.store.BuddyRequests().GetByID(ctx, requestID)
	require.NoError(t, err)
	event, err := f.store.Events().GetByID(ctx, eventID)
	require.NoError(t, err)
	return req, event
}

func TestIntegrateReturnsModelObject(t *testing.T) {
	f := newFixture(t)
	f.happyReplies()
	req, event := loadInputs(t, f)
	profile, err := f.store.Profiles().GetByID(context.Background(), 10)
	require.NoError(t, err)

	res, err := f.pipeline.Integrate(context.Background(), IntegrateInput{Request: req, Profile: profile, Event: event, Username: "alice"})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, "黑客松", res.Summary["activity_info"])
	assert.Equal(t, []string{"外向", "编程"}, summaryProfile(res.Summary).UserTraits)
}

func TestIntegrateFallsBackOnCompletionFailure(t *testing.T) {
	f := newFixture(t)
	f.llm.fail(StageIntegrate)
	req, event := loadInputs(t, f)
	profile, err := f.store.Profiles().GetByID(context.Background(), 10)
	require.NoError(t, err)

	res, err := f.pipeline.Integrate(context.Background(), IntegrateInput{Request: req, Profile: profile, Event: event, Username: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Contains(t, res.Summary["raw_response"], "connection reset")
	assert.Equal(t, []any{parseFailedTag}, res.Summary["user_traits"])
	assert.Equal(t, eventName, res.Summary["activity_info"])
	assert.Equal(t, req.Description, res.Summary["matching_preferences"])
	assert.Equal(t, 1, f.logs.FilterMessage("integrate stage fell back to raw response").Len())
}

func TestIntegrateFallsBackOnNonObject(t *testing.T) {
	f := newFixture(t)
	f.llm.reply(StageIntegrate, `["not", "an", "object"]`)
	req, event := loadInputs(t, f)
	profile, err := f.store.Profiles().GetByID(context.Background(), 10)
	require.NoError(t, err)

	res, err := f.pipeline.Integrate(context.Background(), IntegrateInput{Request: req, Profile: profile, Event: event})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, `["not", "an", "object"]`, res.Summary["raw_response"])
}

func TestNormalizeTags(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "长"
	}
	tests := []struct {
		name string
		in   []any
		want []string
	}{
		{"coerces non strings", []any{"编程", 42.0, true}, []string{"编程", "42", "true"}},
		{"drops short and blank", []any{"a", " ", "夜猫子", nil}, []string{"夜猫子"}},
		{"trims and dedupes", []any{" 编程 ", "编程", "运动"}, []string{"编程", "运动"}},
		{"truncates long tags", []any{long}, []string{long[:len("长")*50]}},
		{"keeps at most ten", []any{"t01", "t02", "t03", "t04", "t05", "t06", "t07", "t08", "t09", "t10", "t11"},
			[]string{"t01", "t02", "t03", "t04", "t05", "t06", "t07", "t08", "t09", "t10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTags(tt.in))
		})
	}
}

func TestDefaultTags(t *testing.T) {
	long := strings.Repeat("长", 60)
	tests := []struct {
		name  string
		event string
		want  []string
	}{
		{"event name", "黑客松", []string{"黑客松", "搭子", "匹配"}},
		{"trims event name", "  黑客松 ", []string{"黑客松", "搭子", "匹配"}},
		{"single rune", "K", []string{"K活动", "搭子", "匹配"}},
		{"empty", "", []string{"活动", "搭子", "匹配"}},
		{"clashes with marker", "搭子", []string{"搭子活动", "搭子", "匹配"}},
		{"long name", long, []string{strings.Repeat("长", 50), "搭子", "匹配"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultTags(tt.event)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeTags(toAny(got)))
		})
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func TestTagAcceptsWrappedObject(t *testing.T) {
	f := newFixture(t)
	f.llm.reply(StageTag, `{"tags": ["编程", "周末"]}`)

	res, err := f.pipeline.Tag(context.Background(), TagInput{RequestID: requestID, Summary: map[string]any{}, EventName: eventName})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, []string{"编程", "周末"}, res.Tags)
}

func TestTagFallsBackToDefaults(t *testing.T) {
	f := newFixture(t)
	f.llm.reply(StageTag, "抱歉，我无法生成标签")

	res, err := f.pipeline.Tag(context.Background(), TagInput{RequestID: requestID, Summary: map[string]any{}, EventName: eventName})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{eventName, "搭子", "匹配"}, res.Tags)

	stored, err := f.store.Tags().ListByRequest(context.Background(), requestID)
	require.NoError(t, err)
	assert.ElementsMatch(t, res.Tags, stored)
}

func TestTagReplacesPreviousSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := TagInput{RequestID: requestID, Summary: map[string]any{"user_traits": []any{"外向"}}, EventName: eventName}

	f.llm.reply(StageTag, `["编程", "夜猫子", "新手"]`)
	_, err := f.pipeline.Tag(ctx, in)
	require.NoError(t, err)

	f.llm.reply(StageTag, `["运动", "周末", "运动"]`)
	second, err := f.pipeline.Tag(ctx, in)
	require.NoError(t, err)

	stored, err := f.store.Tags().ListByRequest(ctx, requestID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"运动", "周末"}, stored)
	assert.Equal(t, second.Tags, []string{"运动", "周末"})
}

func TestRankCandidatesExcludesTaggedWithoutOverlap(t *testing.T) {
	c1 := candidate(1, 11, "编程", "新手")
	c2 := candidate(2, 12, "运动")

	ranked := RankCandidates([]string{"编程", "夜猫子"}, []domain.Candidate{c1, c2})
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(11), ranked[0].Request.UserID)
	assert.Equal(t, 1, ranked[0].Overlap)
}

func TestRankCandidatesOrderAndLimit(t *testing.T) {
	tags := []string{"编程", "夜猫子", "周末"}
	pool := []domain.Candidate{
		candidate(1, 11),
		candidate(2, 12, "编程"),
		candidate(3, 13, "编程", "夜猫子", "编程"),
		candidate(4, 14, "周末"),
	}
	for i := 0; i < 10; i++ {
		pool = append(pool, candidate(int64(100+i), int64(100+i), "夜猫子"))
	}

	first := RankCandidates(tags, pool)
	require.Len(t, first, ShortlistSize)
	assert.Equal(t, int64(13), first[0].Request.UserID)
	assert.Equal(t, 2, first[0].Overlap)
	assert.Equal(t, int64(12), first[1].Request.UserID)
	assert.Equal(t, int64(14), first[2].Request.UserID)
	for _, c := range first {
		assert.NotEqual(t, int64(11), c.Request.UserID, "taggless candidate ranks below every overlap and falls off")
	}

	assert.Equal(t, first, RankCandidates(tags, pool))
}

func TestRankCandidatesKeepsTagglessCandidates(t *testing.T) {
	ranked := RankCandidates([]string{"编程"}, []domain.Candidate{candidate(1, 11), candidate(2, 12, "编程")})
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(12), ranked[0].Request.UserID)
	assert.Equal(t, int64(11), ranked[1].Request.UserID)
	assert.Equal(t, 0, ranked[1].Overlap)
}

func TestFilterUsesCandidatePool(t *testing.T) {
	f := newFixture(t)
	req, _ := loadInputs(t, f)

	shortlist, err := f.pipeline.Filter(context.Background(), req, []string{"编程", "夜猫子"})
	require.NoError(t, err)
	ids := make([]int64, 0, len(shortlist))
	for _, c := range shortlist {
		ids = append(ids, c.Request.ID)
	}
	assert.Equal(t, []int64{2001, 2003}, ids)
}

func shortlistOf(n int) []RankedCandidate {
	out := make([]RankedCandidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RankedCandidate{Candidate: candidate(int64(3000+i), int64(2+i), fmt.Sprintf("t%d", i))})
	}
	return out
}

func TestRecommendFallsBackToShortlistOrder(t *testing.T) {
	f := newFixture(t)
	f.llm.reply(StageRecommend, "我觉得他们都很合适！")

	res, err := f.pipeline.Recommend(context.Background(), RecommendInput{RequestID: requestID, Summary: map[string]any{}, Shortlist: shortlistOf(4)})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	require.Len(t, res.Recommendations, 3)
	for i, rec := range res.Recommendations {
		assert.Equal(t, int64(2+i), rec.CandidateUserID)
		assert.Equal(t, 7.0, rec.MatchScore)
		assert.Equal(t, fallbackReasons, rec.Reasons)
	}
}

func TestRecommendParsesModelRanking(t *testing.T) {
	f := newFixture(t)
	f.llm.reply(StageRecommend, `{"recommendations": [
		{"user_id": "3", "match_score": 12, "reasons": ["一起熬夜"]},
		{"user_id": 99, "match_score": 9},
		{"user_id": 2, "match_score": 8.5, "reasons": "同校"},
		{"user_id": 3, "match_score": 1},
		{"user_id": 4}
	]}`)

	res, err := f.pipeline.Recommend(context.Background(), RecommendInput{RequestID: requestID, Summary: map[string]any{}, Shortlist: shortlistOf(3)})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, []domain.Recommendation{
		{CandidateUserID: 3, MatchScore: 10, Reasons: []string{"一起熬夜"}},
		{CandidateUserID: 2, MatchScore: 8.5, Reasons: []string{"同校"}},
	}, res.Recommendations)
}

func TestRecommendCapsAtFive(t *testing.T) {
	f := newFixture(t)
	f.llm.reply(StageRecommend, `[{"user_id":2,"match_score":9},{"user_id":3,"match_score":9},{"user_id":4,"match_score":9},
		{"user_id":5,"match_score":9},{"user_id":6,"match_score":9},{"user_id":7,"match_score":9}]`)

	res, err := f.pipeline.Recommend(context.Background(), RecommendInput{RequestID: requestID, Shortlist: shortlistOf(8)})
	require.NoError(t, err)
	assert.Len(t, res.Recommendations, MaxRecommendations)
}

func TestRecommendEmptyShortlistSkipsModel(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Recommend(context.Background(), RecommendInput{RequestID: requestID})
	require.NoError(t, err)
	assert.Empty(t, res.Recommendations)
	assert.False(t, res.Fallback)
	assert.Zero(t, f.llm.callCount(StageRecommend))
}

func materializeInput(t *testing.T, f *fixture, userIDs ...int64) MaterializeInput {
	t.Helper()
	req, event := loadInputs(t, f)
	requester, err := f.store.Users().GetByID(context.Background(), requesterID)
	require.NoError(t, err)
	recs := make([]domain.Recommendation, 0, len(userIDs))
	for _, id := range userIDs {
		recs = append(recs, domain.Recommendation{CandidateUserID: id, MatchScore: 8})
	}
	return MaterializeInput{Request: req, Requester: requester, Event: event, Recommendations: recs}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := materializeInput(t, f, 2)

	first, err := f.pipeline.Materialize(ctx, in)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, f.notes.count())

	second, err := f.pipeline.Materialize(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 1, f.notes.count())

	matches, err := f.store.Matches().ListByRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMaterializeSkipsUnresolvableUser(t *testing.T) {
	f := newFixture(t)
	in := materializeInput(t, f, 2, 999, 4)

	created, err := f.pipeline.Materialize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, int64(2), created[0].MatchedUserID)
	assert.Equal(t, int64(4), created[1].MatchedUserID)
	assert.Equal(t, domain.MatchStatusPending, created[0].Status)
	assert.Equal(t, 1, f.logs.Len())
	assert.Equal(t, "skipping unresolvable recommendation", f.logs.All()[0].Message)
}

type unreachableUsers struct {
	repository.UserRepository
}

func (unreachableUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return nil, errors.New("connection reset")
}

func TestMaterializeFailsWhenUserLookupErrors(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Users = unreachableUsers{UserRepository: d.Users}
	})
	in := materializeInput(t, f, 2, 4)

	created, err := f.pipeline.Materialize(context.Background(), in)
	require.Error(t, err)
	assert.Empty(t, created)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageMaterialize, stageErr.Stage)
	assert.Contains(t, err.Error(), "connection reset")
	_, matchWrites := f.store.Writes()
	assert.Zero(t, matchWrites)
}

func TestMaterializeNotifiesRequester(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Materialize(context.Background(), materializeInput(t, f, 2, requesterID))
	require.NoError(t, err)
	require.Equal(t, 1, f.notes.count())
	assert.Equal(t, "alice@example.com", f.notes.sent[0].recipient)
	assert.Equal(t, "为你在「黑客松」找到了新的搭子：bob", f.notes.sent[0].message)
}
