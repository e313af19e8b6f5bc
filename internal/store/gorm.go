package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fuomag9/schedsync/internal/models"
)

// GormStore implements Store on a gorm connection
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) FindAccount(ctx context.Context, providerUserURI string) (*models.CalendarAccount, error) {
	var account models.CalendarAccount
	err := s.db.WithContext(ctx).
		Where("provider_user_uri = ?", providerUserURI).
		First(&account).Error
	if err != nil {
		return nil, notFound(err, "find account")
	}
	return &account, nil
}

func (s *GormStore) FindAccountByProfile(ctx context.Context, profileID uuid.UUID) (*models.CalendarAccount, error) {
	var account models.CalendarAccount
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		First(&account).Error
	if err != nil {
		return nil, notFound(err, "find account by profile")
	}
	return &account, nil
}

func (s *GormStore) ReplaceAccount(ctx context.Context, account *models.CalendarAccount) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("profile_id = ? AND provider_user_uri <> ?", account.ProfileID, account.ProviderUserURI).
			Delete(&models.CalendarAccount{}).Error
		if err != nil {
			return fmt.Errorf("delete previous account: %w", err)
		}

		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider_user_uri"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"profile_id",
				"access_token_encrypted",
				"refresh_token_encrypted",
				"token_expires_at",
				"scheduling_url",
				"webhook_subscription_uri",
				"organization_uri",
				"updated_at",
			}),
		}).Create(account).Error
		if err != nil {
			return fmt.Errorf("upsert account: %w", err)
		}
		return nil
	})
}

func (s *GormStore) UpdateTokens(ctx context.Context, providerUserURI, accessSealed, refreshSealed string, expiresAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.CalendarAccount{}).
		Where("provider_user_uri = ?", providerUserURI).
		Updates(map[string]interface{}{
			"access_token_encrypted":  accessSealed,
			"refresh_token_encrypted": refreshSealed,
			"token_expires_at":        expiresAt,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListExpiringAccounts(ctx context.Context, before time.Time) ([]models.CalendarAccount, error) {
	var accounts []models.CalendarAccount
	err := s.db.WithContext(ctx).
		Where("token_expires_at < ?", before).
		Order("token_expires_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list expiring accounts: %w", err)
	}
	return accounts, nil
}

func (s *GormStore) DeleteAccount(ctx context.Context, providerUserURI string) error {
	err := s.db.WithContext(ctx).
		Where("provider_user_uri = ?", providerUserURI).
		Delete(&models.CalendarAccount{}).Error
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertBooking(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if booking.Status == "" {
		booking.Status = models.BookingActive
	}

	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_event_uri"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "start_time", "end_time", "updated_at"}),
	}).Create(booking).Error
	if err != nil {
		return nil, fmt.Errorf("upsert booking: %w", err)
	}

	return s.FindBooking(ctx, booking.ExternalEventURI)
}

func (s *GormStore) FindBooking(ctx context.Context, externalEventURI string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).
		Where("external_event_uri = ?", externalEventURI).
		First(&booking).Error
	if err != nil {
		return nil, notFound(err, "find booking")
	}
	return &booking, nil
}

func (s *GormStore) CancelBooking(ctx context.Context, externalEventURI string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("external_event_uri = ?", externalEventURI).
		Updates(map[string]interface{}{
			"status":      models.BookingCanceled,
			"canceled_at": gorm.Expr("COALESCE(canceled_at, ?)", at),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("cancel booking: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) ListBookingsForProfile(ctx context.Context, profileID uuid.UUID) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("host_profile_id = ? OR attendee_profile_id = ?", profileID, profileID).
		Order("start_time DESC").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

func (s *GormStore) RecordTombstone(ctx context.Context, externalEventURI string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.CancellationTombstone{ExternalEventURI: externalEventURI, CanceledAt: at}).Error
	if err != nil {
		return fmt.Errorf("record tombstone: %w", err)
	}
	return nil
}

func (s *GormStore) FindTombstone(ctx context.Context, externalEventURI string) (*models.CancellationTombstone, error) {
	var tombstone models.CancellationTombstone
	err := s.db.WithContext(ctx).
		Where("external_event_uri = ?", externalEventURI).
		First(&tombstone).Error
	if err != nil {
		return nil, notFound(err, "find tombstone")
	}
	return &tombstone, nil
}

func (s *GormStore) PurgeTombstones(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("canceled_at < ?", before).
		Delete(&models.CancellationTombstone{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge tombstones: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) FindProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}

	var profile models.Profile
	err := s.db.WithContext(ctx).
		Where("LOWER(email) = LOWER(?)", email).
		First(&profile).Error
	if err != nil {
		return nil, notFound(err, "find profile")
	}
	return &profile, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
