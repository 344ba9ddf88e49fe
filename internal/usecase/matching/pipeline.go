package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"go.uber.org/zap"
)

const cancelledMessage = "cancelled"

// tracker owns the run snapshot while a pipeline executes and publishes every
// transition.
type tracker struct {
	run    domain.PipelineRun
	stage  string
	report func(domain.PipelineRun)
	now    func() time.Time
}

func (t *tracker) advance(phase domain.Phase, progress int, message string) {
	next, ok := t.run.Advance(phase, progress, message, t.now())
	if !ok {
		return
	}
	t.run = next
	t.publish()
}

func (t *tracker) fail(progress int, message string) {
	t.run = t.run.Fail(t.stage, progress, message, t.now())
	t.publish()
}

func (t *tracker) complete(result domain.RunResult, message string) {
	t.run = t.run.Complete(result, message, t.now())
	t.publish()
}

func (t *tracker) publish() {
	if t.report != nil {
		t.report(t.run)
	}
}

type preflight struct {
	request   *domain.BuddyRequest
	profile   *domain.Profile
	event     *domain.Event
	requester *domain.User
}

// Run drives one matching run from its pending snapshot to a terminal one.
// Every transition is passed to report. Run never returns an error and never
// panics: failures, including cancellation of ctx, end in the failed phase.
func (p *Pipeline) Run(ctx context.Context, run domain.PipelineRun, report func(domain.PipelineRun)) (final domain.PipelineRun) {
	t := &tracker{run: run, stage: StagePreflight, report: report, now: p.now}
	log := p.logger.With(zap.Int64("request_id", run.RequestID), zap.String("run_id", run.RunID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.String("stage", t.stage), zap.Any("panic", r))
			t.fail(t.run.Progress, fmt.Sprintf("internal error: %v", r))
		}
		runsTotal.WithLabelValues(string(t.run.Phase)).Inc()
		final = t.run
	}()

	pre, msg, err := p.preflight(ctx, run.RequestID)
	if err != nil {
		log.Warn("matching preflight failed", zap.Error(err))
		t.fail(0, msg)
		return
	}

	// fatal ends the run for an unexpected stage error.
	fatal := func(err error) {
		message := err.Error()
		if ctx.Err() != nil {
			message = cancelledMessage
		}
		log.Error("matching stage failed", zap.String("stage", t.stage), zap.Error(err))
		t.fail(t.run.Progress, message)
	}
	// cancelled checks ctx before the next stage starts.
	cancelled := func(next string) bool {
		if ctx.Err() == nil {
			return false
		}
		t.stage = next
		log.Info("matching cancelled", zap.String("stage", next))
		t.fail(t.run.Progress, cancelledMessage)
		return true
	}

	t.stage = StageIntegrate
	t.advance(domain.PhaseIntegrating, 10, "integrating requester profile")
	integrated, err := p.Integrate(ctx, IntegrateInput{
		Request:  pre.request,
		Profile:  pre.profile,
		Event:    pre.event,
		Username: requesterName(pre),
	})
	if err != nil {
		fatal(err)
		return
	}
	msg = "profile integrated"
	if integrated.Fallback {
		msg = "profile integrated from raw response"
	}
	t.advance(domain.PhaseTagging, 25, msg)

	if cancelled(StageTag) {
		return
	}
	t.stage = StageTag
	tagged, err := p.Tag(ctx, TagInput{
		RequestID:   pre.request.ID,
		Summary:     integrated.Summary,
		EventName:   pre.event.Name,
		Description: pre.request.Description,
	})
	if err != nil {
		fatal(err)
		return
	}
	t.advance(domain.PhaseFiltering, 50, fmt.Sprintf("generated %d tags", len(tagged.Tags)))

	if cancelled(StageFilter) {
		return
	}
	t.stage = StageFilter
	shortlist, err := p.Filter(ctx, pre.request, tagged.Tags)
	if err != nil {
		fatal(err)
		return
	}
	t.advance(domain.PhaseRecommending, 60, fmt.Sprintf("shortlisted %d candidates", len(shortlist)))

	if cancelled(StageRecommend) {
		return
	}
	t.stage = StageRecommend
	recommended, err := p.Recommend(ctx, RecommendInput{
		RequestID: pre.request.ID,
		Summary:   integrated.Summary,
		Shortlist: shortlist,
	})
	if err != nil {
		fatal(err)
		return
	}
	t.advance(domain.PhaseMaterializing, 75, fmt.Sprintf("received %d recommendations", len(recommended.Recommendations)))

	if cancelled(StageMaterialize) {
		return
	}
	t.stage = StageMaterialize
	t.advance(domain.PhaseMaterializing, 90, "saving matches")
	created, err := p.Materialize(ctx, MaterializeInput{
		Request:         pre.request,
		Requester:       pre.requester,
		Event:           pre.event,
		Recommendations: recommended.Recommendations,
	})
	if err != nil {
		fatal(err)
		return
	}

	result := domain.RunResult{MatchCount: len(created), MatchIDs: make([]int64, 0, len(created))}
	for _, m := range created {
		result.MatchIDs = append(result.MatchIDs, m.ID)
	}
	t.complete(result, fmt.Sprintf("matching finished, %d new matches", len(created)))
	log.Info("matching finished",
		zap.Int("matches", len(created)),
		zap.Bool("integrate_fallback", integrated.Fallback),
		zap.Bool("tag_fallback", tagged.Fallback),
		zap.Bool("recommend_fallback", recommended.Fallback),
	)
	return t.run
}

// preflight loads what every stage needs. The returned message is the
// user-facing reason of a failure.
func (p *Pipeline) preflight(ctx context.Context, requestID int64) (*preflight, string, error) {
	req, err := p.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "buddy request not found", err
		}
		return nil, "failed to load buddy request", err
	}

	profile, err := p.resolveProfile(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if req.ProfileID == nil {
				return nil, "profile not found: user has no primary profile", err
			}
			return nil, "profile not found", err
		}
		return nil, "failed to load profile", err
	}
	if !profile.Usable() {
		return nil, "profile is inactive or incomplete", fmt.Errorf("profile %d is not usable", profile.ID)
	}

	event, err := p.events.GetByID(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "event not found", err
		}
		return nil, "failed to load event", err
	}

	requester, err := p.users.GetByID(ctx, req.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p.logger.Warn("requester account not found", zap.Int64("user_id", req.UserID))
		requester = nil
	case err != nil:
		return nil, "failed to load requester", err
	}

	return &preflight{request: req, profile: profile, event: event, requester: requester}, "", nil
}

// resolveProfile uses the request's own profile when set, otherwise the
// requester's primary profile.
func (p *Pipeline) resolveProfile(ctx context.Context, req *domain.BuddyRequest) (*domain.Profile, error) {
	if req.ProfileID != nil {
		return p.profiles.GetByID(ctx, *req.ProfileID)
	}
	return p.profiles.GetPrimaryByUserID(ctx, req.UserID)
}

func requesterName(pre *preflight) string {
	if pre.requester != nil && pre.requester.Username != "" {
		return pre.requester.Username
	}
	return pre.profile.Name
}
