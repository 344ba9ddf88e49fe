package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/jmoiron/sqlx"
)

type tagRepository struct {
	db *sqlx.DB
}

func NewTagRepository(db *sqlx.DB) repository.TagRepository {
	return &tagRepository{db: db}
}

// Replace locks the owning request row so concurrent replaces for the same
// request apply one after the other instead of merging.
func (r *tagRepository) Replace(ctx context.Context, requestID int64, tags []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked int64
	err = tx.QueryRowxContext(ctx, `SELECT id FROM buddy_requests WHERE id = $1 FOR UPDATE`, requestID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBuddyRequestNotFound
		}
		return fmt.Errorf("failed to lock request: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buddy_request_tags WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("failed to delete tags: %w", err)
	}

	if len(tags) > 0 {
		insert := psql.Insert("buddy_request_tags").Columns("request_id", "tag_name")
		for _, tag := range tags {
			insert = insert.Values(requestID, tag)
		}
		query, args, err := insert.Suffix("ON CONFLICT (request_id, tag_name) DO NOTHING").ToSql()
		if err != nil {
			return fmt.Errorf("failed to build tag insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert tags: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tags: %w", err)
	}
	return nil
}

func (r *tagRepository) ListByRequest(ctx context.Context, requestID int64) ([]string, error) {
	tags := []string{}
	query := `SELECT tag_name FROM buddy_request_tags WHERE request_id = $1 ORDER BY tag_name`
	err := r.db.SelectContext(ctx, &tags, query, requestID)
	return tags, err
}
