package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/jmoiron/sqlx"
)

type matchRepository struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) repository.MatchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) ExistsFor(ctx context.Context, requestID, userID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM buddy_matches WHERE request_id = $1 AND matched_user_id = $2)`
	err := r.db.QueryRowxContext(ctx, query, requestID, userID).Scan(&exists)
	return exists, err
}

// CreateIfAbsent relies on the (request_id, matched_user_id) unique
// constraint; a conflicting insert returns no row and is reported as false.
func (r *matchRepository) CreateIfAbsent(ctx context.Context, match *domain.Match) (bool, error) {
	if match.Status == "" {
		match.Status = domain.MatchStatusPending
	}
	query := `
		INSERT INTO buddy_matches (request_id, matched_user_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id, matched_user_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, match.RequestID, match.MatchedUserID, match.Status).
		Scan(&match.ID, &match.CreatedAt, &match.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *matchRepository) ListByRequest(ctx context.Context, requestID int64) ([]*domain.Match, error) {
	matches := []*domain.Match{}
	query := `
		SELECT id, request_id, matched_user_id, status, created_at, updated_at
		FROM buddy_matches
		WHERE request_id = $1
		ORDER BY created_at, id
	`
	err := r.db.SelectContext(ctx, &matches, query, requestID)
	return matches, err
}
