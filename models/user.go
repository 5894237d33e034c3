package models

import (
	"time"

	"gorm.io/gorm"
)

// PlaythroughUser is a local snapshot of user data needed to resolve and
// display challenge participants. Owned solely by this service and populated
// via sync worker from the Profile Service's user table.
type PlaythroughUser struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	ExternalUserID    string    `gorm:"uniqueIndex;not null" json:"external_user_id"` // profile service UUID
	Username          string    `gorm:"index;not null" json:"username"`
	Email             string    `json:"email,omitempty"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	LastSeen *time.Time `json:"last_seen,omitempty"`
	IsBanned bool       `json:"is_banned" gorm:"default:false"` // mirrors the profile account status

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
