package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"go.uber.org/zap"
)

const matchFoundMessage = "为你在「%s」找到了新的搭子：%s"

type MaterializeInput struct {
	Request         *domain.BuddyRequest
	Requester       *domain.User
	Event           *domain.Event
	Recommendations []domain.Recommendation
}

// Materialize writes a pending match for every recommendation that resolves to
// a user and has no match yet, and tells the requester about each new one.
// Unknown ids are skipped; any other lookup failure aborts the stage. Only the newly written matches are returned.
func (p *Pipeline) Materialize(ctx context.Context, in MaterializeInput) ([]*domain.Match, error) {
	start := time.Now()
	defer observeStage(StageMaterialize, start)

	created := make([]*domain.Match, 0, len(in.Recommendations))
	for _, rec := range in.Recommendations {
		log := p.logger.With(
			zap.Int64("request_id", in.Request.ID),
			zap.Int64("user_id", rec.CandidateUserID),
		)
		if rec.CandidateUserID == in.Request.UserID {
			log.Warn("skipping self match")
			continue
		}

		matched, err := p.users.GetByID(ctx, rec.CandidateUserID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("skipping unresolvable recommendation", zap.Error(err))
			continue
		}
		if err != nil {
			return created, &StageError{Stage: StageMaterialize, Err: err}
		}

		exists, err := p.matches.ExistsFor(ctx, in.Request.ID, matched.ID)
		if err != nil {
			return created, &StageError{Stage: StageMaterialize, Err: err}
		}
		if exists {
			log.Debug("match already exists")
			continue
		}

		now := p.now()
		match := &domain.Match{
			RequestID:     in.Request.ID,
			MatchedUserID: matched.ID,
			Status:        domain.MatchStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		inserted, err := p.matches.CreateIfAbsent(ctx, match)
		if err != nil {
			return created, &StageError{Stage: StageMaterialize, Err: err}
		}
		if !inserted {
			// Lost a race with a concurrent run for the same request.
			continue
		}
		created = append(created, match)
		matchesCreatedTotal.Inc()

		p.notifyRequester(ctx, in, matched)
	}
	return created, nil
}

func (p *Pipeline) notifyRequester(ctx context.Context, in MaterializeInput, matched *domain.User) {
	if p.notifier == nil {
		return
	}
	recipient := strconv.FormatInt(in.Request.UserID, 10)
	if in.Requester != nil {
		recipient = in.Requester.Recipient()
	}
	eventName := ""
	if in.Event != nil {
		eventName = in.Event.Name
	}
	if !p.notifier.Notify(ctx, recipient, fmt.Sprintf(matchFoundMessage, eventName, matched.Username)) {
		p.logger.Warn("match notification not queued",
			zap.Int64("request_id", in.Request.ID),
			zap.Int64("user_id", matched.ID),
		)
	}
}
