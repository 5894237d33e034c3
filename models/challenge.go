package models

import "time"

// Challenge statuses. A challenge resolves exactly once.
const (
	ChallengeStatusPending  = "pending"
	ChallengeStatusAccepted = "accepted"
	ChallengeStatusDeclined = "declined"
)

// Challenge is an invitation from one user to another to replay the same
// ruleset configuration as a new, independent playthrough.
type Challenge struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"uniqueIndex;not null" json:"uuid"`

	// The partial unique index keeps at most one pending challenge per
	// challenger/challenged/source triple, even under racing senders.
	ChallengerID string `gorm:"index;uniqueIndex:idx_challenge_pending,where:status = 'pending';not null" json:"challenger_id"` // external user UUID
	ChallengedID string `gorm:"index;uniqueIndex:idx_challenge_pending;not null" json:"challenged_id"`

	SourcePlaythroughID    uint  `gorm:"index;uniqueIndex:idx_challenge_pending;not null" json:"source_playthrough_id"`
	ResultingPlaythroughID *uint `gorm:"index" json:"resulting_playthrough_id,omitempty"` // set only on accept

	Status      string     `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"` // logical TTL, nothing purges proactively
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	Timestamps
}

// Expired reports whether the logical TTL has passed. An expired pending
// challenge is no longer respondable even though the row still says pending.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
