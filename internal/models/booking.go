package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a synchronized booking
type BookingStatus string

const (
	BookingActive   BookingStatus = "ACTIVE"
	BookingCanceled BookingStatus = "CANCELED"
)

// Booking is a meeting scheduled through Calendly and mirrored locally.
// ExternalEventURI is the idempotency key for every write.
type Booking struct {
	ID                uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	ExternalEventURI  string        `json:"external_event_uri" gorm:"uniqueIndex;not null"`
	Title             *string       `json:"title"`
	StartTime         time.Time     `json:"start_time" gorm:"not null"`
	EndTime           time.Time     `json:"end_time" gorm:"not null"`
	HostProfileID     uuid.UUID     `json:"host_profile_id" gorm:"type:uuid;index;not null"`
	AttendeeProfileID *uuid.UUID    `json:"attendee_profile_id" gorm:"type:uuid;index"`
	InviteeEmail      string        `json:"invitee_email"`
	Status            BookingStatus `json:"status" gorm:"type:varchar(16);not null"`
	CanceledAt        *time.Time    `json:"canceled_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// TableName specifies the table name for Booking
func (Booking) TableName() string {
	return "bookings"
}

// IsCanceled reports whether the booking has been canceled
func (b *Booking) IsCanceled() bool {
	return b.Status == BookingCanceled
}

// CancellationTombstone remembers a cancellation that arrived before the
// booking it refers to was recorded.
type CancellationTombstone struct {
	ExternalEventURI string    `json:"external_event_uri" gorm:"primaryKey"`
	CanceledAt       time.Time `json:"canceled_at" gorm:"not null"`
}

// TableName specifies the table name for CancellationTombstone
func (CancellationTombstone) TableName() string {
	return "booking_cancellation_tombstones"
}
