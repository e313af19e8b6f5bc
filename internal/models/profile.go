package models

import "github.com/google/uuid"

// Profile is the read-only view of an application profile owned by the
// identity layer. Only the columns needed to resolve invitees are mapped.
type Profile struct {
	ID    uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Email string    `json:"email" gorm:"uniqueIndex;not null"`
}

// TableName specifies the table name for Profile
func (Profile) TableName() string {
	return "profiles"
}
