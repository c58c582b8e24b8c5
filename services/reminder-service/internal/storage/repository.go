package storage

import (
	"context"
	"time"

	"github.com/glowdesk/backend/libs/db"
	"github.com/glowdesk/backend/services/reminder-service/internal/dispatch"
)

// Repository implements dispatch.Store against Postgres.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) DueAppointments(ctx context.Context, from, to time.Time) ([]dispatch.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_name, service, title, start_time
		FROM appointments
		WHERE start_time >= $1
			AND start_time <= $2
			AND reminder_sent = false
		ORDER BY start_time ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []dispatch.Appointment
	for rows.Next() {
		var a dispatch.Appointment
		if err := rows.Scan(&a.ID, &a.ClientName, &a.Service, &a.Title, &a.StartTime); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *Repository) MarkReminderSent(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) ListTokens(ctx context.Context) ([]dispatch.Token, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, token FROM tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []dispatch.Token
	for rows.Next() {
		var t dispatch.Token
		if err := rows.Scan(&t.ID, &t.Value); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tokens, nil
}

func (r *Repository) RemoveTokens(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM tokens WHERE token = ANY($1)`, values)
	return err
}
