package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const profileColumns = `id, user_id, name, mbti, bio, contact_info,
	country, province, city, district, is_active, is_primary, created_at, updated_at`

type profileRepository struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) repository.ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetByID(ctx context.Context, id int64) (*domain.Profile, error) {
	var profile domain.Profile
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	err := r.db.GetContext(ctx, &profile, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepository) GetPrimaryByUserID(ctx context.Context, userID int64) (*domain.Profile, error) {
	var profile domain.Profile
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1 AND is_primary LIMIT 1`
	err := r.db.GetContext(ctx, &profile, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// loadCandidateProfiles fetches the explicit profiles plus the primary
// profiles of the given users in a single round trip.
func loadCandidateProfiles(ctx context.Context, db sqlx.QueryerContext, profileIDs, userIDs []int64) ([]domain.Profile, error) {
	var profiles []domain.Profile
	query := `SELECT ` + profileColumns + ` FROM profiles
		WHERE id = ANY($1) OR (user_id = ANY($2) AND is_primary)`
	err := sqlx.SelectContext(ctx, db, &profiles, query, pq.Array(profileIDs), pq.Array(userIDs))
	return profiles, err
}
