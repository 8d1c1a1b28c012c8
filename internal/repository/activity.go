package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
)

// ActivityRepository stores the encrypted per-event activity log.
type ActivityRepository struct {
	db    DB
	crypt *fieldcrypt.Store
	now   Clock
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(db DB, crypt *fieldcrypt.Store) *ActivityRepository {
	return &ActivityRepository{db: db, crypt: crypt, now: utcNow}
}

// Record appends a message. An empty eventID records a system-wide entry.
func (r *ActivityRepository) Record(ctx context.Context, eventID, message string) error {
	enc, err := r.crypt.Encrypt(message)
	if err != nil {
		return fmt.Errorf("encrypt activity: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO activity_log (event_id, message_enc, created_at) VALUES ($1, $2, $3)`,
		nullableString(eventID), enc, r.now(),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListByEvent returns the newest entries for an event, up to limit.
func (r *ActivityRepository) ListByEvent(ctx context.Context, eventID string, limit int) ([]model.ActivityEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, message_enc, created_at
		 FROM activity_log
		 WHERE event_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		eventID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []model.ActivityEntry
	for rows.Next() {
		var (
			e     model.ActivityEntry
			owner *string
			enc   string
		)
		if err := rows.Scan(&e.ID, &owner, &enc, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if e.Message, err = r.crypt.Decrypt(enc); err != nil {
			return nil, fmt.Errorf("decrypt activity: %w", err)
		}
		e.EventID = derefString(owner)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
