// Package storetest provides in-memory stand-ins for the PostgreSQL
// repositories. Every method holds one lock for its whole body, which gives
// the same single-call atomicity the SQL statements give, and nothing more.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
)

// Store is the shared in-memory state.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	events      map[string]*model.Event
	regs        map[string]*model.Registration
	regOrder    []string
	payments    map[string]*model.ProcessedPayment
	activity    []model.ActivityEntry
	failReserve map[string]error
	failOnce    map[string][]error
	reserveHook func(eventID string)
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		events:      make(map[string]*model.Event),
		regs:        make(map[string]*model.Registration),
		payments:    make(map[string]*model.ProcessedPayment),
		failReserve: make(map[string]error),
		failOnce:    make(map[string][]error),
	}
}

// Events returns the event repository view.
func (s *Store) Events() *Events { return &Events{s} }

// Registrations returns the ledger view.
func (s *Store) Registrations() *Registrations { return &Registrations{s} }

// Payments returns the processed-payment view.
func (s *Store) Payments() *Payments { return &Payments{s} }

// Activity returns the activity-log view.
func (s *Store) Activity() *Activity { return &Activity{s} }

// AddEvent stores a copy of e as-is.
func (s *Store) AddEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.events[e.ID] = &e
}

// SetEventPrice changes an event's unit price directly.
func (s *Store) SetEventPrice(eventID string, price *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[eventID]; ok {
		e.UnitPriceMinor = price
	}
}

// SetEventCapacity changes an event's capacity directly.
func (s *Store) SetEventCapacity(eventID string, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[eventID]; ok {
		e.Capacity = capacity
	}
}

// FailNextReserve makes the next reservation attempts for eventID fail with
// errs, one error per attempt.
func (s *Store) FailNextReserve(eventID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnce[eventID] = append(s.failOnce[eventID], errs...)
}

// FailReserve makes every reservation for eventID fail with err.
func (s *Store) FailReserve(eventID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReserve[eventID] = err
}

// OnReserve registers fn to run, outside the lock, before each reservation.
func (s *Store) OnReserve(fn func(eventID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserveHook = fn
}

// Event returns a snapshot of an event.
func (s *Store) Event(id string) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return model.Event{}, false
	}
	return *e, true
}

// BookedSum recomputes the sum of registration quantities for an event.
func (s *Store) BookedSum(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, r := range s.regs {
		if r.EventID == eventID {
			sum += r.Quantity
		}
	}
	return sum
}

// AllRegistrations returns every registration in creation order.
func (s *Store) AllRegistrations() []model.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Registration, 0, len(s.regOrder))
	for _, id := range s.regOrder {
		out = append(out, *s.regs[id])
	}
	return out
}

// Events implements the event repository in memory.
type Events struct{ s *Store }

func (r *Events) Create(_ context.Context, e *model.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.events {
		if existing.ID == e.ID || existing.SlugIndex == e.SlugIndex {
			return repository.ErrConflict
		}
	}
	e.CreatedAt = r.s.now()
	e.BookedQuantity = 0
	cp := *e
	r.s.events[e.ID] = &cp
	return nil
}

func (r *Events) List(context.Context) ([]model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Event, 0, len(r.s.events))
	for _, e := range r.s.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Events) GetByID(_ context.Context, id string) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *Events) GetBySlugIndex(_ context.Context, index string) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.SlugIndex == index {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Events) SlugIndexExists(_ context.Context, index string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.SlugIndex == index {
			return true, nil
		}
	}
	return false, nil
}

func (r *Events) Update(_ context.Context, id string, upd model.UpdateEventRequest) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.Capacity != nil && *upd.Capacity < e.BookedQuantity {
		return nil, repository.ErrCapacityBelowBooked
	}
	if upd.Capacity != nil {
		e.Capacity = *upd.Capacity
	}
	if upd.MaxQuantity != nil {
		e.MaxQuantity = *upd.MaxQuantity
	}
	switch {
	case upd.ClearPrice:
		e.UnitPriceMinor = nil
	case upd.UnitPriceMinor != nil:
		p := *upd.UnitPriceMinor
		e.UnitPriceMinor = &p
	}
	switch {
	case upd.ClearClosesAt:
		e.ClosesAt = nil
	case upd.ClosesAt != nil:
		t := *upd.ClosesAt
		e.ClosesAt = &t
	}
	if upd.Active != nil {
		e.Active = *upd.Active
	}
	if upd.WebhookURL != nil {
		e.WebhookURL = *upd.WebhookURL
	}
	cp := *e
	return &cp, nil
}

// Registrations implements the capacity ledger in memory.
type Registrations struct{ s *Store }

func (r *Registrations) Reserve(_ context.Context, reg *model.Registration) error {
	r.s.mu.Lock()
	hook := r.s.reserveHook
	r.s.mu.Unlock()
	if hook != nil {
		hook(reg.EventID)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err, ok := r.s.failReserve[reg.EventID]; ok {
		return err
	}
	if queued := r.s.failOnce[reg.EventID]; len(queued) > 0 {
		r.s.failOnce[reg.EventID] = queued[1:]
		return queued[0]
	}
	e, ok := r.s.events[reg.EventID]
	if !ok {
		return repository.ErrNotFound
	}
	now := r.s.now()
	switch {
	case !e.Active:
		return repository.ErrEventInactive
	case e.IsClosed(now):
		return repository.ErrEventClosed
	case reg.Quantity > e.MaxQuantity:
		return repository.ErrQuantityLimit
	case e.BookedQuantity+reg.Quantity > e.Capacity:
		return repository.ErrCapacityExceeded
	}
	if _, dup := r.s.regs[reg.ID]; dup {
		return repository.ErrConflict
	}
	for _, existing := range r.s.regs {
		if existing.TicketTokenIndex == reg.TicketTokenIndex {
			return repository.ErrConflict
		}
	}

	e.BookedQuantity += reg.Quantity
	reg.CreatedAt = now
	cp := *reg
	r.s.regs[reg.ID] = &cp
	r.s.regOrder = append(r.s.regOrder, reg.ID)
	return nil
}

func (r *Registrations) Release(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if e, ok := r.s.events[reg.EventID]; ok {
		e.BookedQuantity -= reg.Quantity
	}
	delete(r.s.regs, id)
	for i, rid := range r.s.regOrder {
		if rid == id {
			r.s.regOrder = append(r.s.regOrder[:i], r.s.regOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Registrations) TokenIndexExists(_ context.Context, index string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, reg := range r.s.regs {
		if reg.TicketTokenIndex == index {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registrations) GetByID(_ context.Context, id string) (*model.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (r *Registrations) GetByTokenIndex(_ context.Context, index string) (*model.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, reg := range r.s.regs {
		if reg.TicketTokenIndex == index {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Registrations) ListByEvent(_ context.Context, eventID string) ([]model.Registration, error) {
	return r.filter(func(reg *model.Registration) bool { return reg.EventID == eventID }), nil
}

func (r *Registrations) ListByPaymentReference(_ context.Context, ref string) ([]model.Registration, error) {
	return r.filter(func(reg *model.Registration) bool {
		return reg.PaymentReference != nil && *reg.PaymentReference == ref
	}), nil
}

func (r *Registrations) filter(keep func(*model.Registration) bool) []model.Registration {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Registration
	for _, id := range r.s.regOrder {
		if reg := r.s.regs[id]; keep(reg) {
			out = append(out, *reg)
		}
	}
	return out
}

func (r *Registrations) CheckIn(_ context.Context, id string, at time.Time) (*model.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	switch {
	case !ok:
		return nil, repository.ErrNotFound
	case reg.Refunded:
		return nil, repository.ErrRefunded
	case reg.CheckedIn:
		return nil, repository.ErrAlreadyCheckedIn
	}
	reg.CheckedIn = true
	reg.CheckedInAt = &at
	cp := *reg
	return &cp, nil
}

func (r *Registrations) MarkRefunded(_ context.Context, ref string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, reg := range r.s.regs {
		if reg.PaymentReference != nil && *reg.PaymentReference == ref && !reg.Refunded {
			reg.Refunded = true
			n++
		}
	}
	return n, nil
}

// Payments implements the processed-payment gate in memory.
type Payments struct{ s *Store }

func (r *Payments) Claim(_ context.Context, ref string, items []model.PaymentItem) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[ref]; ok {
		return false, nil
	}
	now := r.s.now()
	r.s.payments[ref] = &model.ProcessedPayment{
		PaymentReference: ref,
		Phase:            model.PhaseProcessing,
		Items:            append([]model.PaymentItem(nil), items...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return true, nil
}

func (r *Payments) SetPhase(_ context.Context, ref string, phase model.PaymentPhase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[ref]
	if !ok || p.Phase != model.PhaseProcessing {
		return repository.ErrInvalidTransition
	}
	p.Phase = phase
	p.UpdatedAt = r.s.now()
	return nil
}

func (r *Payments) Get(_ context.Context, ref string) (*model.ProcessedPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	cp.Items = append([]model.PaymentItem(nil), p.Items...)
	return &cp, nil
}

// Activity implements the activity log in memory.
type Activity struct{ s *Store }

func (r *Activity) Record(_ context.Context, eventID, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.activity = append(r.s.activity, model.ActivityEntry{
		ID:        int64(len(r.s.activity) + 1),
		EventID:   eventID,
		Message:   message,
		CreatedAt: r.s.now(),
	})
	return nil
}

func (r *Activity) ListByEvent(_ context.Context, eventID string, limit int) ([]model.ActivityEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ActivityEntry
	for i := len(r.s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.activity[i].EventID == eventID {
			out = append(out, r.s.activity[i])
		}
	}
	return out, nil
}
