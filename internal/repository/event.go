package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
)

const eventColumns = `id, name, slug, slug_index, capacity, booked_quantity, max_quantity,
	unit_price_minor, currency, closes_at, active, webhook_url, created_at`

// EventRepository handles persistence for events. Slugs are stored
// encrypted with a blind index for lookup.
type EventRepository struct {
	db    DB
	crypt *fieldcrypt.Store
	now   Clock
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db DB, crypt *fieldcrypt.Store) *EventRepository {
	return &EventRepository{db: db, crypt: crypt, now: utcNow}
}

// Create inserts a new event. ID, Slug and SlugIndex must already be set.
func (r *EventRepository) Create(ctx context.Context, event *model.Event) error {
	slugEnc, err := r.crypt.Encrypt(event.Slug)
	if err != nil {
		return fmt.Errorf("encrypt slug: %w", err)
	}
	event.CreatedAt = r.now()

	_, err = r.db.Exec(ctx,
		`INSERT INTO events (id, name, slug, slug_index, capacity, booked_quantity, max_quantity,
		                     unit_price_minor, currency, closes_at, active, webhook_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10, $11, $12)`,
		event.ID, event.Name, slugEnc, event.SlugIndex, event.Capacity, event.MaxQuantity,
		event.UnitPriceMinor, event.Currency, event.ClosesAt, event.Active,
		nullableString(event.WebhookURL), event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	event.BookedQuantity = 0
	return nil
}

// List returns all events ordered by creation time descending.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	return r.getOne(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
}

// GetBySlugIndex returns the event whose slug has the given blind index.
func (r *EventRepository) GetBySlugIndex(ctx context.Context, index string) (*model.Event, error) {
	return r.getOne(ctx, `SELECT `+eventColumns+` FROM events WHERE slug_index = $1`, index)
}

// SlugIndexExists reports whether a slug with the given blind index exists.
func (r *EventRepository) SlugIndexExists(ctx context.Context, index string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE slug_index = $1)`, index,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// Update applies the non-nil fields of upd in one statement. Lowering the
// capacity below the booked quantity is rejected by the same statement.
func (r *EventRepository) Update(ctx context.Context, id string, upd model.UpdateEventRequest) (*model.Event, error) {
	event, err := r.getOne(ctx,
		`UPDATE events SET
		     capacity         = COALESCE($2, capacity),
		     max_quantity     = COALESCE($3, max_quantity),
		     unit_price_minor = CASE WHEN $4 THEN NULL ELSE COALESCE($5, unit_price_minor) END,
		     closes_at        = CASE WHEN $9 THEN NULL ELSE COALESCE($6, closes_at) END,
		     active           = COALESCE($7, active),
		     webhook_url      = COALESCE($8, webhook_url)
		 WHERE id = $1
		   AND COALESCE($2, capacity) >= booked_quantity
		 RETURNING `+eventColumns,
		id, upd.Capacity, upd.MaxQuantity, upd.ClearPrice, upd.UnitPriceMinor,
		upd.ClosesAt, upd.Active, upd.WebhookURL, upd.ClearClosesAt,
	)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrCapacityBelowBooked
	}
	return event, err
}

func (r *EventRepository) getOne(ctx context.Context, sql string, args ...any) (*model.Event, error) {
	e, err := r.scan(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *EventRepository) scan(row pgx.Row) (*model.Event, error) {
	var (
		e       model.Event
		slugEnc string
		webhook *string
	)
	err := row.Scan(&e.ID, &e.Name, &slugEnc, &e.SlugIndex, &e.Capacity, &e.BookedQuantity,
		&e.MaxQuantity, &e.UnitPriceMinor, &e.Currency, &e.ClosesAt, &e.Active, &webhook, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	if e.Slug, err = r.crypt.Decrypt(slugEnc); err != nil {
		return nil, fmt.Errorf("decrypt slug: %w", err)
	}
	e.WebhookURL = derefString(webhook)
	return &e, nil
}
