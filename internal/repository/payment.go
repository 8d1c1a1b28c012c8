package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
)

// PaymentRepository owns the processed_payments table, the idempotency gate
// for payment confirmations.
type PaymentRepository struct {
	db  DB
	now Clock
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db DB) *PaymentRepository {
	return &PaymentRepository{db: db, now: utcNow}
}

// Claim records ref in the processing phase. It returns false, without
// error, when ref was already claimed by an earlier confirmation.
func (r *PaymentRepository) Claim(ctx context.Context, ref string, items []model.PaymentItem) (bool, error) {
	if items == nil {
		items = []model.PaymentItem{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("encode payment items: %w", err)
	}
	now := r.now()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_payments (payment_reference, phase, items, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, $4)
		 ON CONFLICT (payment_reference) DO NOTHING`,
		ref, string(model.PhaseProcessing), string(payload), now,
	)
	if err != nil {
		return false, fmt.Errorf("claim payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetPhase moves a claimed payment out of processing. Terminal phases are
// never overwritten.
func (r *PaymentRepository) SetPhase(ctx context.Context, ref string, phase model.PaymentPhase) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE processed_payments
		    SET phase = $2, updated_at = $3
		  WHERE payment_reference = $1 AND phase = $4`,
		ref, string(phase), r.now(), string(model.PhaseProcessing),
	)
	if err != nil {
		return fmt.Errorf("set payment phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Get returns the processed payment for ref or ErrNotFound.
func (r *PaymentRepository) Get(ctx context.Context, ref string) (*model.ProcessedPayment, error) {
	var (
		p     model.ProcessedPayment
		phase string
		items []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT payment_reference, phase, items, created_at, updated_at
		 FROM processed_payments WHERE payment_reference = $1`,
		ref,
	).Scan(&p.PaymentReference, &phase, &items, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.Phase = model.PaymentPhase(phase)
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return nil, fmt.Errorf("decode payment items: %w", err)
	}
	return &p, nil
}
