package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
)

const registrationColumns = `id, event_id, quantity, name_enc, email_enc, phone_enc, notes_enc,
	payment_reference, price_paid_enc, ticket_token_enc, ticket_token_index,
	checked_in, checked_in_at, refunded, created_at`

// RegistrationRepository is the capacity ledger: the only code that creates
// or removes registrations.
type RegistrationRepository struct {
	db    DB
	crypt *fieldcrypt.Store
	now   Clock
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db DB, crypt *fieldcrypt.Store) *RegistrationRepository {
	return &RegistrationRepository{db: db, crypt: crypt, now: utcNow}
}

// reserveSQL claims capacity and inserts the registration in one statement.
//
// The UPDATE takes the event's row lock. A concurrent reservation for the
// same event blocks on that lock and, once it is released, PostgreSQL
// re-evaluates the WHERE clause against the newly committed row. The
// capacity predicate therefore always sees every committed reservation, and
// the INSERT only happens if the UPDATE matched. booked_quantity is the
// materialised sum of registrations.quantity for the event.
//
// Never split this into a read followed by a write: the store only
// serialises individual statements, so a check-then-act pair would oversell.
const reserveSQL = `
WITH claimed AS (
    UPDATE events
       SET booked_quantity = booked_quantity + $2
     WHERE id = $1
       AND active
       AND (closes_at IS NULL OR closes_at > $3)
       AND $2 <= max_quantity
       AND booked_quantity + $2 <= capacity
    RETURNING id
)
INSERT INTO registrations (id, event_id, quantity, name_enc, email_enc, phone_enc, notes_enc,
                           payment_reference, price_paid_enc, ticket_token_enc, ticket_token_index,
                           created_at)
SELECT $4::uuid, claimed.id, $2::integer, $5::text, $6::text, $7::text, $8::text,
       $9::text, $10::text, $11::text, $12::text, $3::timestamptz
  FROM claimed
RETURNING created_at`

// releaseSQL deletes a registration and returns its places in one statement.
const releaseSQL = `
WITH removed AS (
    DELETE FROM registrations
     WHERE id = $1
    RETURNING event_id, quantity
)
UPDATE events
   SET booked_quantity = events.booked_quantity - removed.quantity
  FROM removed
 WHERE events.id = removed.event_id`

// Reserve creates reg if, and only if, the event is active, still open and
// has room for reg.Quantity more places. ID, TicketToken and
// TicketTokenIndex must be set by the caller.
//
// A rejected reservation writes nothing. The follow-up read in
// explainRejection only picks the error to return.
func (r *RegistrationRepository) Reserve(ctx context.Context, reg *model.Registration) error {
	enc, err := r.encrypt(reg)
	if err != nil {
		return err
	}
	now := r.now()

	err = r.db.QueryRow(ctx, reserveSQL,
		reg.EventID, reg.Quantity, now, reg.ID,
		enc.name, enc.email, enc.phone, enc.notes,
		reg.PaymentReference, enc.pricePaid, enc.token, reg.TicketTokenIndex,
	).Scan(&reg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainRejection(ctx, reg.EventID, reg.Quantity, now)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("reserve: %w", ErrConflict)
		}
		return fmt.Errorf("reserve: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) explainRejection(ctx context.Context, eventID string, quantity int, now time.Time) error {
	var (
		active                        bool
		closesAt                      *time.Time
		maxQuantity, capacity, booked int
	)
	err := r.db.QueryRow(ctx,
		`SELECT active, closes_at, max_quantity, capacity, booked_quantity
		 FROM events WHERE id = $1`,
		eventID,
	).Scan(&active, &closesAt, &maxQuantity, &capacity, &booked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("explain rejection: %w", err)
	}

	switch {
	case !active:
		return ErrEventInactive
	case closesAt != nil && !now.Before(*closesAt):
		return ErrEventClosed
	case quantity > maxQuantity:
		return ErrQuantityLimit
	default:
		return ErrCapacityExceeded
	}
}

// Release deletes a registration and gives its places back. It is the
// compensating action for a reservation made earlier in the same booking.
func (r *RegistrationRepository) Release(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, releaseSQL, id)
	if err != nil {
		return fmt.Errorf("release registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TokenIndexExists reports whether a ticket token with the given blind index
// has been issued.
func (r *RegistrationRepository) TokenIndexExists(ctx context.Context, index string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE ticket_token_index = $1)`, index,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ticket token: %w", err)
	}
	return exists, nil
}

// GetByID returns a single registration or ErrNotFound.
func (r *RegistrationRepository) GetByID(ctx context.Context, id string) (*model.Registration, error) {
	return r.getOne(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
}

// GetByTokenIndex returns the registration whose ticket token has the given
// blind index.
func (r *RegistrationRepository) GetByTokenIndex(ctx context.Context, index string) (*model.Registration, error) {
	return r.getOne(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE ticket_token_index = $1`, index)
}

// ListByEvent returns all registrations for a given event.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	return r.list(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
}

// ListByPaymentReference returns the registrations created for a payment.
func (r *RegistrationRepository) ListByPaymentReference(ctx context.Context, ref string) ([]model.Registration, error) {
	return r.list(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE payment_reference = $1
		 ORDER BY created_at ASC`,
		ref,
	)
}

// CheckIn marks a registration as checked in. Only the first call succeeds.
func (r *RegistrationRepository) CheckIn(ctx context.Context, id string, at time.Time) (*model.Registration, error) {
	reg, err := r.getOne(ctx,
		`UPDATE registrations
		    SET checked_in = TRUE, checked_in_at = $2
		  WHERE id = $1 AND NOT checked_in AND NOT refunded
		 RETURNING `+registrationColumns,
		id, at,
	)
	if !errors.Is(err, ErrNotFound) {
		return reg, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Refunded {
		return nil, ErrRefunded
	}
	return nil, ErrAlreadyCheckedIn
}

// MarkRefunded flags every registration paid by ref as refunded and returns
// how many were updated.
func (r *RegistrationRepository) MarkRefunded(ctx context.Context, ref string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET refunded = TRUE WHERE payment_reference = $1 AND NOT refunded`, ref,
	)
	if err != nil {
		return 0, fmt.Errorf("mark refunded: %w", err)
	}
	return tag.RowsAffected(), nil
}

type encryptedRegistration struct {
	name, email, phone, notes, token string
	pricePaid                        *string
}

func (r *RegistrationRepository) encrypt(reg *model.Registration) (*encryptedRegistration, error) {
	var (
		enc encryptedRegistration
		err error
	)
	if enc.name, err = r.crypt.Encrypt(reg.Attendee.Name); err != nil {
		return nil, fmt.Errorf("encrypt name: %w", err)
	}
	if enc.email, err = r.crypt.EncryptOptional(reg.Attendee.Email); err != nil {
		return nil, fmt.Errorf("encrypt email: %w", err)
	}
	if enc.phone, err = r.crypt.EncryptOptional(reg.Attendee.Phone); err != nil {
		return nil, fmt.Errorf("encrypt phone: %w", err)
	}
	if enc.notes, err = r.crypt.EncryptOptional(reg.Attendee.Notes); err != nil {
		return nil, fmt.Errorf("encrypt notes: %w", err)
	}
	if enc.token, err = r.crypt.Encrypt(reg.TicketToken); err != nil {
		return nil, fmt.Errorf("encrypt ticket token: %w", err)
	}
	if reg.PricePaidMinor != nil {
		price, err := r.crypt.Encrypt(strconv.FormatInt(*reg.PricePaidMinor, 10))
		if err != nil {
			return nil, fmt.Errorf("encrypt price: %w", err)
		}
		enc.pricePaid = &price
	}
	return &enc, nil
}

func (r *RegistrationRepository) getOne(ctx context.Context, sql string, args ...any) (*model.Registration, error) {
	reg, err := r.scan(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return reg, nil
}

func (r *RegistrationRepository) list(ctx context.Context, sql string, args ...any) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

func (r *RegistrationRepository) scan(row pgx.Row) (*model.Registration, error) {
	var (
		reg                                   model.Registration
		nameEnc, emailEnc, phoneEnc, notesEnc string
		priceEnc                              *string
		tokenEnc                              string
	)
	err := row.Scan(&reg.ID, &reg.EventID, &reg.Quantity, &nameEnc, &emailEnc, &phoneEnc, &notesEnc,
		&reg.PaymentReference, &priceEnc, &tokenEnc, &reg.TicketTokenIndex,
		&reg.CheckedIn, &reg.CheckedInAt, &reg.Refunded, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}

	if reg.Attendee.Name, err = r.crypt.Decrypt(nameEnc); err != nil {
		return nil, fmt.Errorf("decrypt name: %w", err)
	}
	if reg.Attendee.Email, err = r.crypt.DecryptOptional(emailEnc); err != nil {
		return nil, fmt.Errorf("decrypt email: %w", err)
	}
	if reg.Attendee.Phone, err = r.crypt.DecryptOptional(phoneEnc); err != nil {
		return nil, fmt.Errorf("decrypt phone: %w", err)
	}
	if reg.Attendee.Notes, err = r.crypt.DecryptOptional(notesEnc); err != nil {
		return nil, fmt.Errorf("decrypt notes: %w", err)
	}
	if reg.TicketToken, err = r.crypt.Decrypt(tokenEnc); err != nil {
		return nil, fmt.Errorf("decrypt ticket token: %w", err)
	}
	if priceEnc != nil {
		plain, err := r.crypt.Decrypt(*priceEnc)
		if err != nil {
			return nil, fmt.Errorf("decrypt price: %w", err)
		}
		price, err := strconv.ParseInt(plain, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		reg.PricePaidMinor = &price
	}
	return &reg, nil
}
