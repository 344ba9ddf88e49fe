package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	snapshots []domain.PipelineRun
}

func (r *recorder) report(run domain.PipelineRun) {
	r.snapshots = append(r.snapshots, run)
}

func (r *recorder) phases() []domain.Phase {
	out := make([]domain.Phase, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		out = append(out, s.Phase)
	}
	return out
}

func (r *recorder) progress() []int {
	out := make([]int, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		out = append(out, s.Progress)
	}
	return out
}

func newRun(id int64) domain.PipelineRun {
	return domain.NewPipelineRun(id, "run-1", fixedNow)
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)
	f.happyReplies()
	rec := &recorder{}

	final := f.pipeline.Run(context.Background(), newRun(requestID), rec.report)

	assert.Equal(t, domain.PhaseDone, final.Phase)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, "matching finished, 2 new matches", final.Message)
	require.NotNil(t, final.Result)
	assert.Equal(t, 2, final.Result.MatchCount)
	assert.Len(t, final.Result.MatchIDs, 2)

	assert.Equal(t, []domain.Phase{
		domain.PhaseIntegrating,
		domain.PhaseTagging,
		domain.PhaseFiltering,
		domain.PhaseRecommending,
		domain.PhaseMaterializing,
		domain.PhaseMaterializing,
		domain.PhaseDone,
	}, rec.phases())
	assert.Equal(t, []int{10, 25, 50, 60, 75, 90, 100}, rec.progress())

	tags, err := f.store.Tags().ListByRequest(context.Background(), requestID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"编程", "夜猫子", "42"}, tags)

	matches, err := f.store.Matches().ListByRequest(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(2), matches[0].MatchedUserID)
	assert.Equal(t, int64(4), matches[1].MatchedUserID)
	assert.Equal(t, 2, f.notes.count())
}

func TestRunContinuesWhenIntegrateCompletionFails(t *testing.T) {
	f := newFixture(t)
	f.happyReplies()
	f.llm.fail(StageIntegrate)
	rec := &recorder{}

	final := f.pipeline.Run(context.Background(), newRun(requestID), rec.report)

	assert.Contains(t, rec.phases(), domain.PhaseTagging)
	assert.Equal(t, domain.PhaseDone, final.Phase)
	assert.Equal(t, "profile integrated from raw response", rec.snapshots[1].Message)
}

func TestRunFallsBackWhenRecommendOutputIsGarbage(t *testing.T) {
	f := newFixture(t)
	f.happyReplies()
	f.llm.reply(StageRecommend, "没有合适的 JSON")

	final := f.pipeline.Run(context.Background(), newRun(requestID), nil)

	require.Equal(t, domain.PhaseDone, final.Phase)
	// The shortlist holds requests 2001 and 2003, so the fallback picks both.
	assert.Equal(t, 2, final.Result.MatchCount)
}

func TestRunWithEmptyPoolFinishesWithoutMatches(t *testing.T) {
	f := newFixture(t)
	f.happyReplies()
	f.llm.reply(StageTag, `["摄影", "旅行"]`)
	f.store.SetTags(2003, "读书")

	final := f.pipeline.Run(context.Background(), newRun(requestID), nil)

	assert.Equal(t, domain.PhaseDone, final.Phase)
	assert.Equal(t, 0, final.Result.MatchCount)
	assert.Zero(t, f.llm.callCount(StageRecommend))
}

func TestRunFailsPreflightWithoutProfile(t *testing.T) {
	f := newFixture(t)
	f.happyReplies()
	missing := int64(404)
	req := openRequest(5000, 5, "找人看展")
	req.ProfileID = &missing
	f.store.AddRequest(req)

	final := f.pipeline.Run(context.Background(), newRun(5000), nil)

	assert.Equal(t, domain.PhaseFailed, final.Phase)
	assert.Equal(t, 0, final.Progress)
	assert.Equal(t, StagePreflight, final.FailedStage)
	assert.Contains(t, final.Message, "profile")
	tagWrites, matchWrites := f.store.Writes()
	assert.Zero(t, tagWrites)
	assert.Zero(t, matchWrites)
	assert.Zero(t, f.llm.callCount(StageIntegrate))
}

func TestRunFailsPreflightWithoutPrimaryProfile(t *testing.T) {
	f := newFixture(t)
	f.store.AddRequest(openRequest(5001, 3, "找人看展"))

	final := f.pipeline.Run(context.Background(), newRun(5001), nil)

	assert.Equal(t, domain.PhaseFailed, final.Phase)
	assert.Equal(t, "profile not found: user has no primary profile", final.Message)
}

func TestRunFailsPreflightForMissingRequest(t *testing.T) {
	f := newFixture(t)

	final := f.pipeline.Run(context.Background(), newRun(424242), nil)

	assert.Equal(t, domain.PhaseFailed, final.Phase)
	assert.Equal(t, 0, final.Progress)
	assert.Equal(t, "buddy request not found", final.Message)
}

func TestRunStopsWhenCancelledBetweenStages(t *testing.T) {
	f := newFixture(t)
	f.happyReplies()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	final := f.pipeline.Run(ctx, newRun(requestID), func(run domain.PipelineRun) {
		if run.Phase == domain.PhaseTagging {
			cancel()
		}
	})

	assert.Equal(t, domain.PhaseFailed, final.Phase)
	assert.Equal(t, cancelledMessage, final.Message)
	assert.Equal(t, StageTag, final.FailedStage)
	assert.Equal(t, 25, final.Progress)
	tagWrites, _ := f.store.Writes()
	assert.Zero(t, tagWrites)
}

type brokenTags struct {
	repository.TagRepository
}

func (brokenTags) Replace(ctx context.Context, requestID int64, tags []string) error {
	return errors.New("connection refused")
}

func TestRunFailsOnStorageError(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Tags = brokenTags{TagRepository: d.Tags}
	})
	f.happyReplies()

	final := f.pipeline.Run(context.Background(), newRun(requestID), nil)

	assert.Equal(t, domain.PhaseFailed, final.Phase)
	assert.Equal(t, StageTag, final.FailedStage)
	assert.Contains(t, final.Message, "connection refused")
	_, matchWrites := f.store.Writes()
	assert.Zero(t, matchWrites)
}

type panickingCompleter struct{}

func (panickingCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, error) {
	panic("provider bug")
}

func TestRunRecoversFromPanic(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Completer = panickingCompleter{}
	})

	final := f.pipeline.Run(context.Background(), newRun(requestID), nil)

	assert.Equal(t, domain.PhaseFailed, final.Phase)
	assert.Equal(t, StageIntegrate, final.FailedStage)
	assert.Contains(t, final.Message, "provider bug")
}
