package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
)

type ledgerFixture struct {
	pool     *pgxpool.Pool
	crypt    *fieldcrypt.Store
	events   *EventRepository
	regs     *RegistrationRepository
	payments *PaymentRepository
	activity *ActivityRepository
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	pool := openIntegrationPool(t)
	crypt := newTestCrypt(t)
	return &ledgerFixture{
		pool:     pool,
		crypt:    crypt,
		events:   NewEventRepository(pool, crypt),
		regs:     NewRegistrationRepository(pool, crypt),
		payments: NewPaymentRepository(pool),
		activity: NewActivityRepository(pool, crypt),
	}
}

func (f *ledgerFixture) createEvent(t *testing.T, capacity, maxQuantity int) *model.Event {
	t.Helper()
	slug := uuid.NewString()[:8]
	index, err := f.crypt.BlindIndex(slug)
	require.NoError(t, err)

	event := &model.Event{
		ID:          uuid.NewString(),
		Name:        "Ledger test",
		Slug:        slug,
		SlugIndex:   index,
		Capacity:    capacity,
		MaxQuantity: maxQuantity,
		Currency:    "EUR",
		Active:      true,
	}
	require.NoError(t, f.events.Create(context.Background(), event))
	return event
}

func (f *ledgerFixture) newRegistration(t *testing.T, eventID string, quantity int) *model.Registration {
	t.Helper()
	token := uuid.NewString()
	index, err := f.crypt.BlindIndex(token)
	require.NoError(t, err)
	return &model.Registration{
		ID:               uuid.NewString(),
		EventID:          eventID,
		Quantity:         quantity,
		Attendee:         model.Attendee{Name: "Ada Lovelace", Email: "ada@example.com"},
		TicketToken:      token,
		TicketTokenIndex: index,
	}
}

func TestReserve_PersistsEncryptedRegistration(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 10, 5)

	reg := f.newRegistration(t, event.ID, 3)
	price := int64(2500)
	reg.PricePaidMinor = &price
	require.NoError(t, f.regs.Reserve(ctx, reg))

	var nameEnc string
	require.NoError(t, f.pool.QueryRow(ctx,
		`SELECT name_enc FROM registrations WHERE id = $1`, reg.ID).Scan(&nameEnc))
	assert.NotContains(t, nameEnc, "Ada")

	got, err := f.regs.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Attendee.Name)
	assert.Equal(t, "ada@example.com", got.Attendee.Email)
	assert.Equal(t, reg.TicketToken, got.TicketToken)
	require.NotNil(t, got.PricePaidMinor)
	assert.Equal(t, int64(2500), *got.PricePaidMinor)

	updated, err := f.events.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.BookedQuantity)
}

func TestReserve_RejectionReasons(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	t.Run("capacity", func(t *testing.T) {
		event := f.createEvent(t, 2, 5)
		err := f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 3))
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("quantity limit", func(t *testing.T) {
		event := f.createEvent(t, 10, 2)
		err := f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 3))
		assert.ErrorIs(t, err, ErrQuantityLimit)
	})

	t.Run("inactive", func(t *testing.T) {
		event := f.createEvent(t, 10, 2)
		inactive := false
		_, err := f.events.Update(ctx, event.ID, model.UpdateEventRequest{Active: &inactive})
		require.NoError(t, err)

		err = f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 1))
		assert.ErrorIs(t, err, ErrEventInactive)
		assert.ErrorIs(t, err, ErrEventUnavailable)
	})

	t.Run("closed", func(t *testing.T) {
		event := f.createEvent(t, 10, 2)
		past := time.Now().UTC().Add(-time.Minute)
		_, err := f.events.Update(ctx, event.ID, model.UpdateEventRequest{ClosesAt: &past})
		require.NoError(t, err)

		err = f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 1))
		assert.ErrorIs(t, err, ErrEventClosed)

		reopened, err := f.events.Update(ctx, event.ID, model.UpdateEventRequest{ClearClosesAt: true})
		require.NoError(t, err)
		assert.Nil(t, reopened.ClosesAt)
		assert.NoError(t, f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 1)))
	})

	t.Run("unknown event", func(t *testing.T) {
		err := f.regs.Reserve(ctx, f.newRegistration(t, uuid.NewString(), 1))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// Two concurrent quantity-2 requests against capacity 2: exactly one wins.
func TestReserve_ConcurrentPairNeverOversells(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 2, 2)

	pair := []*model.Registration{
		f.newRegistration(t, event.ID, 2),
		f.newRegistration(t, event.ID, 2),
	}

	results := make(chan model.BookingResult, len(pair))
	var wg sync.WaitGroup
	for _, reg := range pair {
		wg.Add(1)
		go func(reg *model.Registration) {
			defer wg.Done()
			err := f.regs.Reserve(ctx, reg)
			results <- model.BookingResult{Quantity: reg.Quantity, Success: err == nil, Error: err}
		}(reg)
	}
	wg.Wait()
	close(results)

	successes := 0
	for r := range results {
		if r.Success {
			successes++
		} else {
			assert.ErrorIs(t, r.Error, ErrCapacityExceeded)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestReserve_ManyConcurrentRequests(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	const capacity = 7
	event := f.createEvent(t, capacity, 3)

	regs := make([]*model.Registration, 40)
	for i := range regs {
		regs[i] = f.newRegistration(t, event.ID, i%3+1)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
	)
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *model.Registration) {
			defer wg.Done()
			if err := f.regs.Reserve(ctx, reg); err == nil {
				mu.Lock()
				booked += reg.Quantity
				mu.Unlock()
			}
		}(reg)
	}
	wg.Wait()

	var sum int
	require.NoError(t, f.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM registrations WHERE event_id = $1`, event.ID).Scan(&sum))
	assert.LessOrEqual(t, sum, capacity)
	assert.Equal(t, booked, sum)

	got, err := f.events.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, sum, got.BookedQuantity)
}

func TestRelease_ReturnsPlaces(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 2, 2)

	reg := f.newRegistration(t, event.ID, 2)
	require.NoError(t, f.regs.Reserve(ctx, reg))
	assert.ErrorIs(t, f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 1)), ErrCapacityExceeded)

	require.NoError(t, f.regs.Release(ctx, reg.ID))
	assert.ErrorIs(t, f.regs.Release(ctx, reg.ID), ErrNotFound)

	require.NoError(t, f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 2)))
}

func TestCheckIn_OnlyOnce(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 5, 5)

	reg := f.newRegistration(t, event.ID, 1)
	require.NoError(t, f.regs.Reserve(ctx, reg))

	found, err := f.regs.GetByTokenIndex(ctx, reg.TicketTokenIndex)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, found.ID)

	at := time.Now().UTC()
	checked, err := f.regs.CheckIn(ctx, reg.ID, at)
	require.NoError(t, err)
	assert.True(t, checked.CheckedIn)
	require.NotNil(t, checked.CheckedInAt)

	_, err = f.regs.CheckIn(ctx, reg.ID, at)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
}

func TestCheckIn_RefundedRegistration(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 5, 5)

	ref := "pi_" + uuid.NewString()
	reg := f.newRegistration(t, event.ID, 1)
	reg.PaymentReference = &ref
	require.NoError(t, f.regs.Reserve(ctx, reg))

	n, err := f.regs.MarkRefunded(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.regs.CheckIn(ctx, reg.ID, time.Now().UTC())
	assert.ErrorIs(t, err, ErrRefunded)

	byRef, err := f.regs.ListByPaymentReference(ctx, ref)
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.True(t, byRef[0].Refunded)
}

func TestPaymentClaim_IsIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	ref := "pi_" + uuid.NewString()
	items := []model.PaymentItem{{EventID: uuid.NewString(), Quantity: 2, UnitPriceMinor: 1000}}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.payments.Claim(ctx, ref, items)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)

	require.NoError(t, f.payments.SetPhase(ctx, ref, model.PhaseCompleted))
	assert.ErrorIs(t, f.payments.SetPhase(ctx, ref, model.PhaseFailed), ErrInvalidTransition)

	got, err := f.payments.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, got.Phase)
	assert.Equal(t, items, got.Items)
}

func TestEventUpdate_CapacityBelowBooked(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 5, 5)
	require.NoError(t, f.regs.Reserve(ctx, f.newRegistration(t, event.ID, 4)))

	tooLow := 3
	_, err := f.events.Update(ctx, event.ID, model.UpdateEventRequest{Capacity: &tooLow})
	assert.ErrorIs(t, err, ErrCapacityBelowBooked)

	enough := 4
	price := int64(1500)
	updated, err := f.events.Update(ctx, event.ID, model.UpdateEventRequest{Capacity: &enough, UnitPriceMinor: &price})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Capacity)
	assert.Equal(t, int64(1500), updated.Price())
	assert.True(t, updated.IsFull())

	_, err = f.events.Update(ctx, uuid.NewString(), model.UpdateEventRequest{Capacity: &enough})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvent_SlugLookupByBlindIndex(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 5, 5)

	found, err := f.events.GetBySlugIndex(ctx, event.SlugIndex)
	require.NoError(t, err)
	assert.Equal(t, event.ID, found.ID)
	assert.Equal(t, event.Slug, found.Slug)

	exists, err := f.events.SlugIndexExists(ctx, event.SlugIndex)
	require.NoError(t, err)
	assert.True(t, exists)

	dup := *event
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, f.events.Create(ctx, &dup), ErrConflict)
}

func TestActivity_RecordAndList(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, 5, 5)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.activity.Record(ctx, event.ID, fmt.Sprintf("entry %d", i)))
	}
	require.NoError(t, f.activity.Record(ctx, "", "system entry"))

	entries, err := f.activity.ListByEvent(ctx, event.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry 2", entries[0].Message)
	assert.Equal(t, event.ID, entries[0].EventID)
}
