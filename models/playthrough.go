package models

import (
	"time"

	"gorm.io/gorm"
)

// Playthrough statuses. A playthrough starts in "setup", runs through
// active/paused and ends in exactly one of the three terminal states.
const (
	PlaythroughStatusSetup     = "setup"
	PlaythroughStatusActive    = "active"
	PlaythroughStatusPaused    = "paused"
	PlaythroughStatusCompleted = "completed"
	PlaythroughStatusFailed    = "failed"
	PlaythroughStatusAbandoned = "abandoned"
)

// Playthrough is one streamer's run through a ruleset.
// Invariant: a user owns at most one playthrough in {active, paused} at a time.
type Playthrough struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	UUID           string `gorm:"uniqueIndex;not null" json:"uuid"`
	ExternalUserID string `gorm:"index;not null" json:"external_user_id"` // profile service UUID
	GameID         string `gorm:"index;not null" json:"game_id"`
	RulesetID      string `gorm:"index;not null" json:"ruleset_id"`

	Status             string `gorm:"type:varchar(16);default:'setup';index" json:"status"`
	MaxConcurrentRules int    `gorm:"default:3" json:"max_concurrent_rules"` // 1–10
	RequireAuth        bool   `gorm:"default:false" json:"require_auth"`
	AllowViewerPicks   bool   `gorm:"default:true" json:"allow_viewer_picks"`

	// Ruleset customization captured at creation; cloned verbatim on challenge accept.
	Configuration string `gorm:"type:text" json:"configuration,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	PausedAt  *time.Time `json:"paused_at,omitempty"` // set while status=paused

	TotalDuration       int64 `gorm:"default:0" json:"total_duration"`        // seconds, set once finalized
	TotalPausedDuration int64 `gorm:"default:0" json:"total_paused_duration"` // accumulated seconds

	// Optimistic lock: every mutation bumps this; a stale writer loses with a 409.
	Version int `gorm:"default:0" json:"-"`

	Rules []PlaythroughRule `json:"rules,omitempty" gorm:"foreignKey:PlaythroughID"`

	Timestamps
}

// IsTerminal reports whether the playthrough can no longer be mutated.
func (p *Playthrough) IsTerminal() bool {
	switch p.Status {
	case PlaythroughStatusCompleted, PlaythroughStatusFailed, PlaythroughStatusAbandoned:
		return true
	}
	return false
}

// IsRunning reports whether the playthrough counts against the
// one-active-playthrough-per-user invariant.
func (p *Playthrough) IsRunning() bool {
	return p.Status == PlaythroughStatusActive || p.Status == PlaythroughStatusPaused
}

// DurationSeconds returns the finalized total duration, or the live value
// (now − started − paused time, excluding a still-open pause) while running.
func (p *Playthrough) DurationSeconds(now time.Time) int64 {
	if p.IsTerminal() {
		return p.TotalDuration
	}
	if p.StartedAt == nil {
		return 0
	}
	paused := p.TotalPausedDuration
	if p.Status == PlaythroughStatusPaused && p.PausedAt != nil {
		paused += int64(now.Sub(*p.PausedAt).Seconds())
	}
	d := int64(now.Sub(*p.StartedAt).Seconds()) - paused
	if d < 0 {
		return 0
	}
	return d
}

// PlaythroughRule is the live instance of a catalog rule inside one playthrough.
// At most one of CurrentAmount/ExpiresAt is set; both nil means the rule is
// permanent (no decay). Each row stores its parent's ID, never a back-pointer.
type PlaythroughRule struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	PlaythroughID uint   `gorm:"index;not null" json:"playthrough_id"`
	RuleID        string `gorm:"index;not null" json:"rule_id"`

	DifficultyLevel string     `gorm:"type:varchar(16)" json:"difficulty_level,omitempty"`
	IsActive        bool       `gorm:"default:false;index" json:"is_active"`
	CurrentAmount   *int       `json:"current_amount,omitempty"` // counter rules, ≥0
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`     // timer rules
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"` // set at most once

	Version int `gorm:"default:0" json:"-"`

	// Catalog snapshot for response shaping
	Rule Rule `json:"rule,omitempty" gorm:"foreignKey:RuleID"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ExpiredAt reports whether a timer rule has run past its deadline.
// Expiry is evaluated lazily on reads; it is only materialized (IsActive
// cleared, CompletedAt stamped) by a mutation or the sweep job.
func (r *PlaythroughRule) ExpiredAt(now time.Time) bool {
	return r.IsActive && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// RemainingSeconds returns the seconds left on a timer rule, clamped at zero.
func (r *PlaythroughRule) RemainingSeconds(now time.Time) int64 {
	if r.ExpiresAt == nil {
		return 0
	}
	s := int64(r.ExpiresAt.Sub(now).Seconds())
	if s < 0 {
		return 0
	}
	return s
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
