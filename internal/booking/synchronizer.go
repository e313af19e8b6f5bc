// Package booking reconciles Calendly webhook events into booking records.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/calendly"
	"github.com/fuomag9/schedsync/internal/models"
	"github.com/fuomag9/schedsync/internal/store"
)

// Change describes a booking written by the synchronizer
type Change struct {
	EventType string         `json:"event_type"`
	Booking   models.Booking `json:"booking"`
}

// Listener is notified after a booking is created, updated or canceled.
// Implementations must not block.
type Listener interface {
	BookingSynced(ctx context.Context, change Change)
}

// AccountLookup resolves a provider host to its connected account
type AccountLookup interface {
	FindAccount(ctx context.Context, providerUserURI string) (*models.CalendarAccount, error)
}

// Synchronizer applies verified webhook events to the booking store
type Synchronizer struct {
	accounts  AccountLookup
	bookings  store.Bookings
	profiles  store.Profiles
	listeners []Listener
	logger    *zap.Logger
	now       func() time.Time
}

// NewSynchronizer creates a synchronizer
func NewSynchronizer(accounts AccountLookup, bookings store.Bookings, profiles store.Profiles, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		accounts: accounts,
		bookings: bookings,
		profiles: profiles,
		logger:   logger.Named("booking.sync"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddListener registers l for booking changes
func (s *Synchronizer) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Apply processes one webhook event. Failures are logged and returned for
// observability only; Apply never panics.
func (s *Synchronizer) Apply(ctx context.Context, eventType string, payload json.RawMessage) (err error) {
	log := s.logger.With(zap.String("event_type", eventType))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("booking sync panic: %v", r)
		}
		if err != nil {
			log.Error("failed to apply webhook event", zap.Error(err))
		}
	}()

	event, err := calendly.ParseEvent(eventType, payload)
	if err != nil {
		return err
	}
	log = log.With(zap.String("event_uri", event.ScheduledEventURI()))

	switch ev := event.(type) {
	case calendly.InviteeCreated:
		return s.applyCreated(ctx, log, ev)
	case calendly.InviteeCanceled:
		return s.applyCanceled(ctx, log, ev)
	default:
		log.Info("ignoring unrecognized webhook event")
		return nil
	}
}

func (s *Synchronizer) applyCreated(ctx context.Context, log *zap.Logger, ev calendly.InviteeCreated) error {
	host, err := s.resolveHost(ctx, ev.HostURIs)
	if err != nil {
		return err
	}
	if host == nil {
		log.Info("dropping event for host without a connected account",
			zap.Strings("host_uris", ev.HostURIs))
		return nil
	}

	attendee, err := s.resolveAttendee(ctx, ev.InviteeEmail)
	if err != nil {
		return err
	}

	var title *string
	if ev.Name != "" {
		title = &ev.Name
	}

	booking, err := s.bookings.UpsertBooking(ctx, &models.Booking{
		ExternalEventURI:  ev.URI,
		Title:             title,
		StartTime:         ev.StartTime,
		EndTime:           ev.EndTime,
		HostProfileID:     host.ProfileID,
		AttendeeProfileID: attendee,
		InviteeEmail:      strings.ToLower(ev.InviteeEmail),
		Status:            models.BookingActive,
	})
	if err != nil {
		return err
	}

	// A cancellation that arrived first left a tombstone; honor it.
	tombstone, err := s.bookings.FindTombstone(ctx, ev.URI)
	switch {
	case err == nil:
		if _, err := s.bookings.CancelBooking(ctx, ev.URI, tombstone.CanceledAt); err != nil {
			return err
		}
		if booking, err = s.bookings.FindBooking(ctx, ev.URI); err != nil {
			return err
		}
		log.Info("booking canceled by earlier cancellation")
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	log.Info("booking synchronized",
		zap.String("booking_id", booking.ID.String()),
		zap.String("status", string(booking.Status)))
	s.notify(ctx, calendly.EventInviteeCreated, booking)
	return nil
}

func (s *Synchronizer) applyCanceled(ctx context.Context, log *zap.Logger, ev calendly.InviteeCanceled) error {
	now := s.now()

	matched, err := s.bookings.CancelBooking(ctx, ev.URI, now)
	if err != nil {
		return err
	}
	if !matched {
		if err := s.bookings.RecordTombstone(ctx, ev.URI, now); err != nil {
			return err
		}
		// A create may have landed between the update and the tombstone.
		if matched, err = s.bookings.CancelBooking(ctx, ev.URI, now); err != nil {
			return err
		}
	}
	if !matched {
		log.Info("cancellation for unknown event recorded as tombstone")
		return nil
	}

	booking, err := s.bookings.FindBooking(ctx, ev.URI)
	if err != nil {
		return err
	}
	log.Info("booking canceled", zap.String("booking_id", booking.ID.String()))
	s.notify(ctx, calendly.EventInviteeCanceled, booking)
	return nil
}

// resolveHost returns the first membership with a connected account
func (s *Synchronizer) resolveHost(ctx context.Context, hostURIs []string) (*models.CalendarAccount, error) {
	for _, uri := range hostURIs {
		account, err := s.accounts.FindAccount(ctx, uri)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Synchronizer) resolveAttendee(ctx context.Context, email string) (*uuid.UUID, error) {
	if email == "" {
		return nil, nil
	}
	profile, err := s.profiles.FindProfileByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile.ID, nil
}

func (s *Synchronizer) notify(ctx context.Context, eventType string, booking *models.Booking) {
	change := Change{EventType: eventType, Booking: *booking}
	for _, l := range s.listeners {
		l.BookingSynced(ctx, change)
	}
}
