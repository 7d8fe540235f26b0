package repository

import (
	"context"
	"errors"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDeadLetterNotFound = errors.New("dead letter event not found")

type DeadLetterRepository struct {
	db dbtx
}

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{db: pool}
}

func (r *DeadLetterRepository) Insert(ctx context.Context, event *domain.DeadLetterEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dead_letter_events (id, envelope, reason, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.Envelope, event.Reason, event.RetryCount, event.CreatedAt,
	)
	return err
}

func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]*domain.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, envelope, reason, retry_count, created_at
		 FROM dead_letter_events
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.DeadLetterEvent
	for rows.Next() {
		var e domain.DeadLetterEvent
		if err := rows.Scan(&e.ID, &e.Envelope, &e.Reason, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id string) (*domain.DeadLetterEvent, error) {
	var e domain.DeadLetterEvent
	err := r.db.QueryRow(ctx,
		`SELECT id, envelope, reason, retry_count, created_at
		 FROM dead_letter_events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Envelope, &e.Reason, &e.RetryCount, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeadLetterNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Delete removes a dead letter after an operator requeues or discards it.
func (r *DeadLetterRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM dead_letter_events WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}
