package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
)

func TestLookupAndCheckIn(t *testing.T) {
	f := newFixture(t)
	event := f.addEvent(5, 2, nil)
	out, err := f.booking.Register(context.Background(), event.ID, model.RegisterRequest{Quantity: 2, Attendee: attendee()})
	require.NoError(t, err)
	token := out.Registrations[0].TicketToken

	ticket, err := f.tickets.Lookup(context.Background(), strings.ToUpper(token))
	require.NoError(t, err)
	assert.Equal(t, out.Registrations[0].ID, ticket.Registration.ID)
	assert.Equal(t, event.ID, ticket.Event.ID)
	assert.False(t, ticket.Registration.CheckedIn)

	ticket, err = f.tickets.CheckIn(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, ticket.Registration.CheckedIn)
	assert.NotNil(t, ticket.Registration.CheckedInAt)

	_, err = f.tickets.CheckIn(context.Background(), token)
	assert.ErrorIs(t, err, repository.ErrAlreadyCheckedIn)

	activity, err := f.events.Activity(context.Background(), event.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace checked in (2 place(s))", activity[0].Message)
}

func TestLookup_UnknownToken(t *testing.T) {
	f := newFixture(t)
	for _, token := range []string{"", "   ", "abcdefgh23456789"} {
		_, err := f.tickets.Lookup(context.Background(), token)
		assert.ErrorIs(t, err, repository.ErrNotFound, token)
	}
}

func TestRefundRegistration(t *testing.T) {
	f := newFixture(t)
	event := f.addEvent(5, 1, price(1000))
	sessionID := f.checkout(t, model.BookingItem{EventID: event.ID, Quantity: 1})
	res, err := f.reconcile.Confirm(context.Background(), sessionID)
	require.NoError(t, err)
	reg := res.Registrations[0]

	refund, err := f.tickets.RefundRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, res.PaymentReference, refund.PaymentReference)
	assert.Equal(t, int64(1), refund.Registrations)
	assert.Equal(t, []string{res.PaymentReference}, f.gw.Refunds())

	// The place stays booked.
	stored, _ := f.store.Event(event.ID)
	assert.Equal(t, 1, stored.BookedQuantity)

	_, err = f.tickets.RefundRegistration(context.Background(), reg.ID)
	assert.ErrorIs(t, err, repository.ErrRefunded)

	_, err = f.tickets.CheckIn(context.Background(), reg.TicketToken)
	assert.ErrorIs(t, err, repository.ErrRefunded)
}

func TestRefundRegistration_Rejections(t *testing.T) {
	f := newFixture(t)
	event := f.addEvent(5, 1, nil)
	out, err := f.booking.Register(context.Background(), event.ID, model.RegisterRequest{Quantity: 1, Attendee: attendee()})
	require.NoError(t, err)

	_, err = f.tickets.RefundRegistration(context.Background(), out.Registrations[0].ID)
	assert.ErrorIs(t, err, ErrNotPaid)

	_, err = f.tickets.RefundRegistration(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.tickets.RefundRegistration(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRefundRegistration_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	event := f.addEvent(5, 1, price(1000))
	sessionID := f.checkout(t, model.BookingItem{EventID: event.ID, Quantity: 1})
	res, err := f.reconcile.Confirm(context.Background(), sessionID)
	require.NoError(t, err)

	boom := errors.New("provider unavailable")
	f.gw.SetRefundResult(false, boom)

	_, err = f.tickets.RefundRegistration(context.Background(), res.Registrations[0].ID)
	assert.ErrorIs(t, err, ErrRefundFailed)
	assert.ErrorIs(t, err, boom)

	reg, err := f.store.Registrations().GetByID(context.Background(), res.Registrations[0].ID)
	require.NoError(t, err)
	assert.False(t, reg.Refunded)
}
