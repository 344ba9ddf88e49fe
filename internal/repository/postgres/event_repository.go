package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/jmoiron/sqlx"
)

type eventRepository struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	var event domain.Event
	query := `
		SELECT id, name, start_time, end_time, is_online, introduction,
		       country AS "location.country", province AS "location.province",
		       city AS "location.city", district AS "location.district"
		FROM events WHERE id = $1
	`
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}
