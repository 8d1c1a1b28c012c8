package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/gateway"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/storetest"
)

// countingNotifier records every completion it receives.
type countingNotifier struct {
	mu          sync.Mutex
	completions []notify.Completion
}

func (n *countingNotifier) Notify(_ context.Context, c notify.Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, c)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completions)
}

type fixture struct {
	store     *storetest.Store
	gw        *gateway.Fake
	crypt     *fieldcrypt.Store
	notifier  *countingNotifier
	metrics   *metrics.Metrics
	deps      Deps
	booking   *BookingService
	reconcile *ReconcileService
	events    *EventService
	tickets   *TicketService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	secret, err := fieldcrypt.GenerateSecret()
	require.NoError(t, err)

	f := &fixture{
		store:    storetest.New(),
		gw:       gateway.NewFake("http://tickets.test"),
		crypt:    fieldcrypt.New(fieldcrypt.StaticSecret(secret)),
		notifier: &countingNotifier{},
		metrics:  metrics.NewUnregistered(),
	}
	f.deps = Deps{
		Events:        f.store.Events(),
		Ledger:        f.store.Registrations(),
		Payments:      f.store.Payments(),
		Activity:      f.store.Activity(),
		Gateway:       f.gw,
		Notifier:      f.notifier,
		Crypt:         f.crypt,
		Metrics:       f.metrics,
		PublicBaseURL: "http://tickets.test/",
		Currency:      "GBP",
	}
	f.booking = NewBookingService(f.deps)
	f.reconcile = NewReconcileService(f.deps)
	f.events = NewEventService(f.deps)
	f.tickets = NewTicketService(f.deps)
	return f
}

// addEvent stores an active event. price nil means free.
func (f *fixture) addEvent(capacity, maxQuantity int, price *int64) model.Event {
	e := model.Event{
		ID:             uuid.NewString(),
		Name:           "Event " + uuid.NewString()[:4],
		Slug:           "ab23cd",
		SlugIndex:      uuid.NewString(),
		Capacity:       capacity,
		MaxQuantity:    maxQuantity,
		UnitPriceMinor: price,
		Currency:       "GBP",
		Active:         true,
	}
	f.store.AddEvent(e)
	return e
}

func price(v int64) *int64 { return &v }

func attendee() model.Attendee {
	return model.Attendee{Name: "Ada Lovelace", Email: "Ada@Example.com", Phone: "+44 20 7946 0000"}
}
