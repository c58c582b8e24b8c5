package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glowdesk/backend/libs/db"
	"github.com/glowdesk/backend/services/dashboard-service/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a point update or delete matches no row.
var ErrNotFound = errors.New("record not found")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListAppointments(ctx context.Context) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_name, service, title, notes, start_time, end_time,
			duration_hours, cost, color, reminder_sent, created_at, updated_at
		FROM appointments
		ORDER BY start_time ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(
			&a.ID,
			&a.ClientName,
			&a.Service,
			&a.Title,
			&a.Notes,
			&a.StartTime,
			&a.EndTime,
			&a.DurationHours,
			&a.Cost,
			&a.Color,
			&a.ReminderSent,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *Repository) CreateAppointment(ctx context.Context, a *model.Appointment) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments
			(id, client_name, service, title, notes, start_time, end_time,
			 duration_hours, cost, color, reminder_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
	`, id, a.ClientName, a.Service, a.Title, a.Notes, a.StartTime, a.EndTime,
		a.DurationHours, a.Cost, a.Color)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) error {
	b := newPatchBuilder()
	b.set("client_name", patch.ClientName)
	b.set("service", patch.Service)
	b.set("title", patch.Title)
	b.set("notes", patch.Notes)
	b.set("start_time", patch.StartTime)
	b.set("end_time", patch.EndTime)
	b.set("duration_hours", patch.DurationHours)
	b.set("cost", patch.Cost)
	if patch.Service != nil {
		color := model.ColorForService(*patch.Service)
		b.set("color", &color)
	}
	return r.applyPatch(ctx, "appointments", id, b)
}

func (r *Repository) DeleteAppointment(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "appointments", id)
}

// DeleteAppointmentsByClientName removes every appointment booked under
// the given client name. Used by the client cascade delete.
func (r *Repository) DeleteAppointmentsByClientName(ctx context.Context, clientName string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments WHERE client_name = $1
	`, clientName)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) ListClients(ctx context.Context) ([]model.Client, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, phone, notes, created_at, updated_at
		FROM clients
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return clients, nil
}

func (r *Repository) CreateClient(ctx context.Context, c *model.Client) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clients (id, name, phone, notes)
		VALUES ($1, $2, $3, $4)
	`, id, c.Name, c.Phone, c.Notes)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdateClient(ctx context.Context, id string, patch model.ClientPatch) error {
	b := newPatchBuilder()
	b.set("name", patch.Name)
	b.set("phone", patch.Phone)
	b.set("notes", patch.Notes)
	return r.applyPatch(ctx, "clients", id, b)
}

func (r *Repository) DeleteClient(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "clients", id)
}

func (r *Repository) GetClient(ctx context.Context, id string) (model.Client, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, notes, created_at, updated_at
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Client{}, ErrNotFound
	}
	if err != nil {
		return model.Client{}, err
	}
	return c, nil
}

func (r *Repository) ListStock(ctx context.Context) ([]model.StockItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, brand, category, quantity, min_threshold, notes, last_updated
		FROM stock
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.StockItem
	for rows.Next() {
		var s model.StockItem
		if err := rows.Scan(&s.ID, &s.Name, &s.Brand, &s.Category, &s.Quantity,
			&s.MinThreshold, &s.Notes, &s.LastUpdated); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) CreateStockItem(ctx context.Context, s *model.StockItem) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stock (id, name, brand, category, quantity, min_threshold, notes, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, id, s.Name, s.Brand, s.Category, s.Quantity, s.MinThreshold, s.Notes)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdateStockItem(ctx context.Context, id string, patch model.StockItemPatch) error {
	b := newPatchBuilder()
	b.set("name", patch.Name)
	b.set("brand", patch.Brand)
	b.set("category", patch.Category)
	b.set("quantity", patch.Quantity)
	b.set("notes", patch.Notes)
	b.raw("last_updated = now()")
	return r.applyPatch(ctx, "stock", id, b)
}

func (r *Repository) DeleteStockItem(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "stock", id)
}

// InsertToken appends a device token to the registry. The registry is
// append-only; duplicate token values are collapsed on conflict so a
// browser re-registering on every load does not grow the table.
func (r *Repository) InsertToken(ctx context.Context, token string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tokens (id, token)
		VALUES ($1, $2)
		ON CONFLICT (token) DO NOTHING
	`, id, token)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) CountTokens(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM tokens`).Scan(&n)
	return n, err
}

func (r *Repository) deleteByID(ctx context.Context, table, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) applyPatch(ctx context.Context, table, id string, b *patchBuilder) error {
	if b.empty() {
		return nil
	}
	query, args := b.build(table, id)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// patchBuilder assembles a partial UPDATE from the non-nil fields of a
// patch struct. Column names are always literals from this package, never
// caller input.
type patchBuilder struct {
	clauses []string
	args    []any
}

func newPatchBuilder() *patchBuilder {
	return &patchBuilder{}
}

func (b *patchBuilder) set(column string, value any) {
	switch v := value.(type) {
	case *string:
		if v == nil {
			return
		}
		b.args = append(b.args, *v)
	case *int:
		if v == nil {
			return
		}
		b.args = append(b.args, *v)
	case *float64:
		if v == nil {
			return
		}
		b.args = append(b.args, *v)
	case *time.Time:
		if v == nil {
			return
		}
		b.args = append(b.args, *v)
	default:
		return
	}
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

func (b *patchBuilder) raw(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *patchBuilder) empty() bool {
	return len(b.args) == 0
}

func (b *patchBuilder) build(table, id string) (string, []any) {
	b.args = append(b.args, id)
	query := fmt.Sprintf(
		"UPDATE %s SET %s, updated_at = now() WHERE id = $%d",
		table, strings.Join(b.clauses, ", "), len(b.args),
	)
	return query, b.args
}
