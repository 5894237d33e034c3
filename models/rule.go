package models

import "time"

// Rule types from the catalog service.
const (
	RuleTypeBasic     = "basic"
	RuleTypeCourt     = "court"
	RuleTypeLegendary = "legendary"
)

// Rule is a local snapshot of a catalog rule definition.
// Owned by the catalog sync worker; read-only for the runtime.
type Rule struct {
	ID          string `gorm:"primaryKey" json:"id"` // catalog UUID
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	RuleType    string `gorm:"type:varchar(16);default:'basic'" json:"rule_type"`

	Difficulties []RuleDifficulty `json:"difficulties,omitempty" gorm:"foreignKey:RuleID"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// RuleDifficulty holds the per-difficulty runtime parameters of a rule.
// Amount set means counter rule, DurationSeconds set means timer rule,
// neither means permanent rule.
type RuleDifficulty struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	RuleID string `gorm:"uniqueIndex:idx_rule_level;not null" json:"rule_id"`
	Level  string `gorm:"uniqueIndex:idx_rule_level;type:varchar(16);not null" json:"level"` // e.g. easy, medium, hard

	DurationSeconds *int `json:"duration_seconds,omitempty"`
	Amount          *int `json:"amount,omitempty"`
}

// Ruleset is a local snapshot of a catalog ruleset header.
type Ruleset struct {
	ID          string `gorm:"primaryKey" json:"id"`
	GameID      string `gorm:"index;not null" json:"game_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	IsOfficial  bool   `gorm:"default:false" json:"is_official"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// RulesetRule links a ruleset to its member rules (catalog join table mirror).
type RulesetRule struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RulesetID string `gorm:"uniqueIndex:idx_ruleset_rule;not null" json:"ruleset_id"`
	RuleID    string `gorm:"uniqueIndex:idx_ruleset_rule;not null" json:"rule_id"`
	SortOrder int    `gorm:"column:sort_order;default:0" json:"sort_order"`
}
