// Package store persists calendar accounts, bookings and cancellation
// tombstones. Components depend on the interfaces here and receive an
// implementation at construction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fuomag9/schedsync/internal/models"
)

// ErrNotFound is returned when a lookup matches no record
var ErrNotFound = errors.New("store: record not found")

// Accounts stores connected calendar accounts, at most one per profile
type Accounts interface {
	FindAccount(ctx context.Context, providerUserURI string) (*models.CalendarAccount, error)
	FindAccountByProfile(ctx context.Context, profileID uuid.UUID) (*models.CalendarAccount, error)
	// ReplaceAccount removes any other account owned by the same profile and
	// upserts account keyed by its provider user uri, in one transaction.
	ReplaceAccount(ctx context.Context, account *models.CalendarAccount) error
	UpdateTokens(ctx context.Context, providerUserURI, accessSealed, refreshSealed string, expiresAt time.Time) error
	ListExpiringAccounts(ctx context.Context, before time.Time) ([]models.CalendarAccount, error)
	// DeleteAccount succeeds when the account does not exist.
	DeleteAccount(ctx context.Context, providerUserURI string) error
}

// Bookings stores synchronized bookings. Every write is a single conditional
// statement keyed by the external event uri.
type Bookings interface {
	// UpsertBooking inserts booking or, when its external event uri already
	// exists, updates title, start and end in place. It returns the stored row.
	UpsertBooking(ctx context.Context, booking *models.Booking) (*models.Booking, error)
	FindBooking(ctx context.Context, externalEventURI string) (*models.Booking, error)
	// CancelBooking marks the booking canceled. The first cancellation time is
	// kept on repeated calls. It reports whether a booking matched.
	CancelBooking(ctx context.Context, externalEventURI string, at time.Time) (bool, error)
	ListBookingsForProfile(ctx context.Context, profileID uuid.UUID) ([]models.Booking, error)

	// RecordTombstone is a no-op when a tombstone already exists for the uri.
	RecordTombstone(ctx context.Context, externalEventURI string, at time.Time) error
	FindTombstone(ctx context.Context, externalEventURI string) (*models.CancellationTombstone, error)
	PurgeTombstones(ctx context.Context, before time.Time) (int64, error)
}

// Profiles resolves application profiles owned by the identity layer
type Profiles interface {
	// FindProfileByEmail matches case-insensitively.
	FindProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
}

// Store is the full persistence contract
type Store interface {
	Accounts
	Bookings
	Profiles
}
