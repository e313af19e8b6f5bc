package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuomag9/schedsync/internal/models"
)

// MemoryStore is an in-process Store. Each method holds one lock for its
// whole duration, which gives it the same atomicity as the SQL statements
// of GormStore.
type MemoryStore struct {
	mu         sync.Mutex
	accounts   map[string]models.CalendarAccount
	bookings   map[string]models.Booking
	tombstones map[string]models.CancellationTombstone
	profiles   map[uuid.UUID]models.Profile
	now        func() time.Time
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]models.CalendarAccount),
		bookings:   make(map[string]models.Booking),
		tombstones: make(map[string]models.CancellationTombstone),
		profiles:   make(map[uuid.UUID]models.Profile),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

// AddProfile registers a profile for email lookups
func (s *MemoryStore) AddProfile(profile models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile
}

// AllAccounts returns a snapshot of all stored accounts
func (s *MemoryStore) AllAccounts() []models.CalendarAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CalendarAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderUserURI < out[j].ProviderUserURI })
	return out
}

// AllBookings returns a snapshot of all stored bookings
func (s *MemoryStore) AllBookings() []models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalEventURI < out[j].ExternalEventURI })
	return out
}

func (s *MemoryStore) FindAccount(_ context.Context, providerUserURI string) (*models.CalendarAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[providerUserURI]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) FindAccountByProfile(_ context.Context, profileID uuid.UUID) (*models.CalendarAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ProfileID == profileID {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ReplaceAccount(_ context.Context, account *models.CalendarAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for uri, a := range s.accounts {
		if a.ProfileID == account.ProfileID && uri != account.ProviderUserURI {
			delete(s.accounts, uri)
		}
	}

	now := s.now()
	stored := *account
	stored.CreatedAt = now
	if existing, ok := s.accounts[account.ProviderUserURI]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = now
	s.accounts[account.ProviderUserURI] = stored
	return nil
}

func (s *MemoryStore) UpdateTokens(_ context.Context, providerUserURI, accessSealed, refreshSealed string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[providerUserURI]
	if !ok {
		return ErrNotFound
	}
	a.AccessTokenEncrypted = accessSealed
	a.RefreshTokenEncrypted = refreshSealed
	a.TokenExpiresAt = expiresAt
	a.UpdatedAt = s.now()
	s.accounts[providerUserURI] = a
	return nil
}

func (s *MemoryStore) ListExpiringAccounts(_ context.Context, before time.Time) ([]models.CalendarAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CalendarAccount
	for _, a := range s.accounts {
		if a.TokenExpiresAt.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenExpiresAt.Before(out[j].TokenExpiresAt) })
	return out, nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, providerUserURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, providerUserURI)
	return nil
}

func (s *MemoryStore) UpsertBooking(_ context.Context, booking *models.Booking) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.bookings[booking.ExternalEventURI]; ok {
		existing.Title = booking.Title
		existing.StartTime = booking.StartTime
		existing.EndTime = booking.EndTime
		existing.UpdatedAt = now
		s.bookings[booking.ExternalEventURI] = existing
		return &existing, nil
	}

	stored := *booking
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Status == "" {
		stored.Status = models.BookingActive
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.bookings[stored.ExternalEventURI] = stored
	return &stored, nil
}

func (s *MemoryStore) FindBooking(_ context.Context, externalEventURI string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[externalEventURI]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) CancelBooking(_ context.Context, externalEventURI string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[externalEventURI]
	if !ok {
		return false, nil
	}
	b.Status = models.BookingCanceled
	if b.CanceledAt == nil {
		canceledAt := at
		b.CanceledAt = &canceledAt
	}
	b.UpdatedAt = s.now()
	s.bookings[externalEventURI] = b
	return true, nil
}

func (s *MemoryStore) ListBookingsForProfile(_ context.Context, profileID uuid.UUID) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.HostProfileID == profileID || (b.AttendeeProfileID != nil && *b.AttendeeProfileID == profileID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (s *MemoryStore) RecordTombstone(_ context.Context, externalEventURI string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tombstones[externalEventURI]; !ok {
		s.tombstones[externalEventURI] = models.CancellationTombstone{ExternalEventURI: externalEventURI, CanceledAt: at}
	}
	return nil
}

func (s *MemoryStore) FindTombstone(_ context.Context, externalEventURI string) (*models.CancellationTombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tombstones[externalEventURI]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) PurgeTombstones(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for uri, t := range s.tombstones {
		if t.CanceledAt.Before(before) {
			delete(s.tombstones, uri)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindProfileByEmail(_ context.Context, email string) (*models.Profile, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if strings.EqualFold(p.Email, email) {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}
