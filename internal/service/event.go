package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/identifier"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
)

// DefaultActivityLimit is how many activity entries are returned when the
// caller does not ask for a number.
const DefaultActivityLimit = 50

// createAttempts bounds retries when a freshly generated slug loses a race
// to the unique index.
const createAttempts = 3

// EventService orchestrates event-related business operations.
type EventService struct {
	deps  Deps
	slugs *identifier.Generator
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(d Deps) *EventService {
	d = d.withDefaults()
	return &EventService{deps: d, slugs: identifier.NewSlugGenerator(d.Crypt)}
}

// CreateEvent validates the request, assigns a unique public slug and
// stores the event.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.Currency == "" {
		req.Currency = s.deps.Currency
	}
	if req.MaxQuantity == 0 {
		req.MaxQuantity = 1
	}

	switch {
	case req.Name == "":
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidEvent)
	case req.Capacity <= 0:
		return nil, fmt.Errorf("%w: capacity must be a positive integer", ErrInvalidEvent)
	case req.Capacity > MaxCapacity:
		return nil, fmt.Errorf("%w: capacity cannot exceed 100,000", ErrInvalidEvent)
	case req.MaxQuantity < 0:
		return nil, fmt.Errorf("%w: max_quantity must be positive", ErrInvalidEvent)
	case req.UnitPriceMinor != nil && *req.UnitPriceMinor < 0:
		return nil, fmt.Errorf("%w: price cannot be negative", ErrInvalidEvent)
	case len(req.Currency) != 3:
		return nil, fmt.Errorf("%w: currency must be a three-letter code", ErrInvalidEvent)
	case req.WebhookURL != "" && !isValidWebhookURL(req.WebhookURL):
		return nil, fmt.Errorf("%w: webhook_url must be an http(s) URL", ErrInvalidEvent)
	}

	event := &model.Event{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Capacity:       req.Capacity,
		MaxQuantity:    req.MaxQuantity,
		UnitPriceMinor: req.UnitPriceMinor,
		Currency:       req.Currency,
		ClosesAt:       req.ClosesAt,
		Active:         true,
		WebhookURL:     req.WebhookURL,
	}

	for attempt := 1; ; attempt++ {
		slug, err := s.slugs.GenerateUnique(ctx, s.deps.Events.SlugIndexExists)
		if err != nil {
			recordEncryptionError(s.deps, err, "slug indexing failed")
			s.deps.Logger.Error("slug generation failed", "error", err)
			return nil, fmt.Errorf("generate slug: %w", err)
		}
		event.Slug, event.SlugIndex = slug.Value, slug.Index

		err = s.deps.Events.Create(ctx, event)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == createAttempts {
			recordEncryptionError(s.deps, err, "slug encryption failed")
			return nil, fmt.Errorf("create event: %w", err)
		}
	}

	s.deps.Logger.Info("event created", "event_id", event.ID, "capacity", event.Capacity)
	s.record(ctx, event.ID, fmt.Sprintf("Event created with capacity %d", event.Capacity))
	return event, nil
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.deps.Events.List(ctx)
	if err != nil {
		recordEncryptionError(s.deps, err, "event decryption failed")
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	}
	if !validID(id) {
		return nil, repository.ErrNotFound
	}
	event, err := s.deps.Events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// GetEventBySlug resolves a public slug through its blind index.
func (s *EventService) GetEventBySlug(ctx context.Context, slug string) (*model.Event, error) {
	slug = fieldcrypt.Canonical(slug)
	if slug == "" {
		return nil, repository.ErrNotFound
	}
	index, err := s.deps.Crypt.BlindIndex(slug)
	if err != nil {
		recordEncryptionError(s.deps, err, "slug indexing failed")
		return nil, fmt.Errorf("index slug: %w", err)
	}
	event, err := s.deps.Events.GetBySlugIndex(ctx, index)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event by slug: %w", err)
	}
	if event.Slug != slug {
		return nil, repository.ErrNotFound
	}
	return event, nil
}

// UpdateEvent changes an event's settings. Lowering capacity below the
// places already booked is rejected.
func (s *EventService) UpdateEvent(ctx context.Context, id string, req model.UpdateEventRequest) (*model.Event, error) {
	if !validID(id) {
		return nil, repository.ErrNotFound
	}
	if req.WebhookURL != nil {
		trimmed := strings.TrimSpace(*req.WebhookURL)
		req.WebhookURL = &trimmed
	}

	switch {
	case req.Capacity != nil && (*req.Capacity <= 0 || *req.Capacity > MaxCapacity):
		return nil, fmt.Errorf("%w: capacity must be between 1 and 100,000", ErrInvalidEvent)
	case req.MaxQuantity != nil && *req.MaxQuantity <= 0:
		return nil, fmt.Errorf("%w: max_quantity must be positive", ErrInvalidEvent)
	case req.UnitPriceMinor != nil && *req.UnitPriceMinor < 0:
		return nil, fmt.Errorf("%w: price cannot be negative", ErrInvalidEvent)
	case req.ClearPrice && req.UnitPriceMinor != nil:
		return nil, fmt.Errorf("%w: clear_price and unit_price_minor are exclusive", ErrInvalidEvent)
	case req.ClearClosesAt && req.ClosesAt != nil:
		return nil, fmt.Errorf("%w: clear_closes_at and closes_at are exclusive", ErrInvalidEvent)
	case req.WebhookURL != nil && *req.WebhookURL != "" && !isValidWebhookURL(*req.WebhookURL):
		return nil, fmt.Errorf("%w: webhook_url must be an http(s) URL", ErrInvalidEvent)
	}

	event, err := s.deps.Events.Update(ctx, id, req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrCapacityBelowBooked) {
			return nil, err
		}
		return nil, fmt.Errorf("update event: %w", err)
	}

	s.deps.Logger.Info("event updated", "event_id", id)
	s.record(ctx, id, describeUpdate(req))
	return event, nil
}

// ListRegistrations returns all registrations for an event, decrypted.
func (s *EventService) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	regs, err := s.deps.Ledger.ListByEvent(ctx, eventID)
	if err != nil {
		recordEncryptionError(s.deps, err, "registration decryption failed", "event_id", eventID)
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// Activity returns the newest activity entries of an event.
func (s *EventService) Activity(ctx context.Context, eventID string, limit int) ([]model.ActivityEntry, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = DefaultActivityLimit
	}
	entries, err := s.deps.Activity.ListByEvent(ctx, eventID, limit)
	if err != nil {
		recordEncryptionError(s.deps, err, "activity decryption failed", "event_id", eventID)
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return entries, nil
}

func (s *EventService) record(ctx context.Context, eventID, msg string) {
	if err := s.deps.Activity.Record(ctx, eventID, msg); err != nil {
		s.deps.Logger.Warn("activity log write failed", "event_id", eventID, "error", err)
	}
}

func describeUpdate(req model.UpdateEventRequest) string {
	var parts []string
	if req.Capacity != nil {
		parts = append(parts, fmt.Sprintf("capacity=%d", *req.Capacity))
	}
	if req.MaxQuantity != nil {
		parts = append(parts, fmt.Sprintf("max_quantity=%d", *req.MaxQuantity))
	}
	if req.UnitPriceMinor != nil {
		parts = append(parts, "price="+model.FormatMinor(*req.UnitPriceMinor))
	}
	if req.ClearPrice {
		parts = append(parts, "price=free")
	}
	if req.ClosesAt != nil {
		parts = append(parts, "closes_at="+req.ClosesAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if req.ClearClosesAt {
		parts = append(parts, "closes_at=none")
	}
	if req.Active != nil {
		parts = append(parts, fmt.Sprintf("active=%t", *req.Active))
	}
	if req.WebhookURL != nil {
		parts = append(parts, "webhook updated")
	}
	if len(parts) == 0 {
		return "Event updated"
	}
	return "Event updated: " + strings.Join(parts, ", ")
}
