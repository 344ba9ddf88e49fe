package repository

import (
	"context"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
)

type BuddyRequestRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.BuddyRequest, error)
	SetTaskHandle(ctx context.Context, id int64, handle string) error
	// ListCandidates returns the open, public requests of other users for the
	// same event that have no match with the querying request yet, oldest first.
	ListCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Candidate, error)
	ExpireOpenBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ProfileRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Profile, error)
	GetPrimaryByUserID(ctx context.Context, userID int64) (*domain.Profile, error)
}

type EventRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Event, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type TagRepository interface {
	// Replace swaps the whole tag set of a request in one transaction.
	Replace(ctx context.Context, requestID int64, tags []string) error
	ListByRequest(ctx context.Context, requestID int64) ([]string, error)
}

type MatchRepository interface {
	ExistsFor(ctx context.Context, requestID, userID int64) (bool, error)
	// CreateIfAbsent inserts the match unless one already exists for the pair.
	// It reports whether a new row was written.
	CreateIfAbsent(ctx context.Context, match *domain.Match) (bool, error)
	ListByRequest(ctx context.Context, requestID int64) ([]*domain.Match, error)
}
