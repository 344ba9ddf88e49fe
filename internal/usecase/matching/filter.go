package matching

import (
	"context"
	"sort"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"go.uber.org/zap"
)

// ShortlistSize is the most candidates handed to the recommend stage.
const ShortlistSize = 10

type RankedCandidate struct {
	domain.Candidate
	Overlap int
}

// Filter loads the candidate pool for the request and ranks it by tag overlap.
// An empty shortlist is a normal outcome.
func (p *Pipeline) Filter(ctx context.Context, req *domain.BuddyRequest, tags []string) ([]RankedCandidate, error) {
	start := time.Now()
	defer observeStage(StageFilter, start)

	pool, err := p.requests.ListCandidates(ctx, domain.CandidateQuery{
		RequestID:     req.ID,
		EventID:       req.EventID,
		ExcludeUserID: req.UserID,
	})
	if err != nil {
		return nil, &StageError{Stage: StageFilter, Err: err}
	}

	ranked := RankCandidates(tags, pool)
	p.logger.Debug("candidates ranked",
		zap.Int64("request_id", req.ID),
		zap.Int("pool", len(pool)),
		zap.Int("shortlist", len(ranked)),
	)
	return ranked, nil
}

// RankCandidates scores every candidate by the number of tags it shares with
// tags. Candidates without tags stay eligible with a zero score; tagged
// candidates sharing nothing are dropped. The sort is stable, so equal scores
// keep pool order, and at most ShortlistSize entries are returned.
func RankCandidates(tags []string, pool []domain.Candidate) []RankedCandidate {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}

	ranked := make([]RankedCandidate, 0, len(pool))
	for _, c := range pool {
		overlap := 0
		seen := make(map[string]struct{}, len(c.Tags))
		for _, t := range c.Tags {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			if _, ok := set[t]; ok {
				overlap++
			}
		}
		if len(c.Tags) > 0 && overlap == 0 {
			continue
		}
		ranked = append(ranked, RankedCandidate{Candidate: c, Overlap: overlap})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Overlap > ranked[j].Overlap
	})
	if len(ranked) > ShortlistSize {
		ranked = ranked[:ShortlistSize]
	}
	return ranked
}
