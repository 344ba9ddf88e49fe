package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type buddyRequestRepository struct {
	db *sqlx.DB
}

func NewBuddyRequestRepository(db *sqlx.DB) repository.BuddyRequestRepository {
	return &buddyRequestRepository{db: db}
}

func (r *buddyRequestRepository) GetByID(ctx context.Context, id int64) (*domain.BuddyRequest, error) {
	var req domain.BuddyRequest
	query := `
		SELECT id, user_id, profile_id, event_id, description, visibility, status,
		       task_handle, created_at, updated_at
		FROM buddy_requests WHERE id = $1
	`
	err := r.db.GetContext(ctx, &req, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBuddyRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *buddyRequestRepository) SetTaskHandle(ctx context.Context, id int64, handle string) error {
	query := `UPDATE buddy_requests SET task_handle = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, handle, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrBuddyRequestNotFound
	}
	return nil
}

type candidateRow struct {
	domain.BuddyRequest
	Username string `db:"username"`
}

func (r *buddyRequestRepository) ListCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Candidate, error) {
	query, args, err := psql.
		Select(
			"br.id", "br.user_id", "br.profile_id", "br.event_id", "br.description",
			"br.visibility", "br.status", "br.task_handle", "br.created_at", "br.updated_at",
			"u.username",
		).
		From("buddy_requests br").
		Join("users u ON u.id = br.user_id").
		Where(sq.Eq{
			"br.event_id":   q.EventID,
			"br.visibility": domain.VisibilityPublic,
			"br.status":     domain.RequestStatusOpen,
		}).
		Where(sq.NotEq{"br.user_id": q.ExcludeUserID}).
		Where(sq.NotEq{"br.id": q.RequestID}).
		Where("NOT EXISTS (SELECT 1 FROM buddy_matches m WHERE m.request_id = ? AND m.matched_user_id = br.user_id)", q.RequestID).
		OrderBy("br.created_at", "br.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate query: %w", err)
	}

	var rows []candidateRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	if len(rows) == 0 {
		return []domain.Candidate{}, nil
	}

	requestIDs := make([]int64, 0, len(rows))
	userIDs := make([]int64, 0, len(rows))
	var profileIDs []int64
	for _, row := range rows {
		requestIDs = append(requestIDs, row.ID)
		userIDs = append(userIDs, row.UserID)
		if row.ProfileID != nil {
			profileIDs = append(profileIDs, *row.ProfileID)
		}
	}

	tags, err := loadTags(ctx, r.db, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate tags: %w", err)
	}
	profiles, err := loadCandidateProfiles(ctx, r.db, profileIDs, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate profiles: %w", err)
	}

	byID := make(map[int64]*domain.Profile, len(profiles))
	primary := make(map[int64]*domain.Profile, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		byID[p.ID] = p
		if p.IsPrimary {
			primary[p.UserID] = p
		}
	}

	candidates := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		c := domain.Candidate{
			Request:  row.BuddyRequest,
			Username: row.Username,
			Tags:     tags[row.ID],
		}
		if row.ProfileID != nil {
			c.Profile = byID[*row.ProfileID]
		}
		if c.Profile == nil {
			c.Profile = primary[row.UserID]
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func (r *buddyRequestRepository) ExpireOpenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.
		Update("buddy_requests").
		Set("status", domain.RequestStatusExpired).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"status": domain.RequestStatusOpen}).
		Where(sq.Lt{"created_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build expiry update: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire requests: %w", err)
	}
	return result.RowsAffected()
}

func loadTags(ctx context.Context, db sqlx.QueryerContext, requestIDs []int64) (map[int64][]string, error) {
	var tags []domain.Tag
	query := `SELECT request_id, tag_name FROM buddy_request_tags WHERE request_id = ANY($1) ORDER BY request_id, tag_name`
	if err := sqlx.SelectContext(ctx, db, &tags, query, pq.Array(requestIDs)); err != nil {
		return nil, err
	}
	out := make(map[int64][]string, len(requestIDs))
	for _, t := range tags {
		out[t.RequestID] = append(out[t.RequestID], t.TagName)
	}
	return out, nil
}
