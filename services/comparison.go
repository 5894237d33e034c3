package services

import (
	"errors"
	"fmt"
	"time"

	"playthrough-challenge-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ComparisonView compares a source playthrough against every playthrough
// spawned from challenges on it. Read-only; participants keep challenge
// creation order.
type ComparisonView struct {
	SourcePlaythroughUUID string                  `json:"source_playthrough_uuid"`
	SourceStatus          string                  `json:"source_status"`
	SourceDurationSeconds int64                   `json:"source_duration_seconds"`
	Participants          []ComparisonParticipant `json:"participants"`
}

type ComparisonParticipant struct {
	Username        string         `json:"username"`
	ExternalUserID  string         `json:"external_user_id"`
	ChallengeStatus string         `json:"challenge_status"`
	DurationSeconds *int64         `json:"duration_seconds,omitempty"`
	Rules           []RuleSnapshot `json:"rules"`
}

// RuleSnapshot covers every rule that is active or has completed; untouched
// rules are omitted from the comparison.
type RuleSnapshot struct {
	RuleID          string     `json:"rule_id"`
	Name            string     `json:"name"`
	RuleType        string     `json:"rule_type"`
	DifficultyLevel string     `json:"difficulty_level,omitempty"`
	IsActive        bool       `json:"is_active"`
	Completed       bool       `json:"completed"`
	CurrentAmount   *int       `json:"current_amount,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// GetComparison builds the comparison view. Owner only: the source
// playthrough's user is the one streaming the results.
func (s *ChallengeService) GetComparison(sourcePlaythroughUUID, requestingUserID string) (*ComparisonView, error) {
	var source models.Playthrough
	if err := s.DB.First(&source, "uuid = ?", sourcePlaythroughUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("playthrough %s: %w", sourcePlaythroughUUID, ErrNotFound)
		}
		return nil, err
	}
	if source.ExternalUserID != requestingUserID {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	view := &ComparisonView{
		SourcePlaythroughUUID: source.UUID,
		SourceStatus:          source.Status,
		SourceDurationSeconds: source.DurationSeconds(now),
		Participants:          []ComparisonParticipant{},
	}

	var challenges []models.Challenge
	if err := s.DB.Where("source_playthrough_id = ?", source.ID).
		Order("id ASC").
		Find(&challenges).Error; err != nil {
		return nil, err
	}

	for _, ch := range challenges {
		participant := ComparisonParticipant{
			Username:        ch.ChallengedID,
			ExternalUserID:  ch.ChallengedID,
			ChallengeStatus: ch.Status,
			Rules:           []RuleSnapshot{},
		}
		if user, err := s.Users.FindByExternalID(ch.ChallengedID); err == nil {
			participant.Username = user.Username
		}

		if ch.ResultingPlaythroughID != nil {
			var result models.Playthrough
			err := s.DB.Preload("Rules").Preload("Rules.Rule").
				First(&result, "id = ?", *ch.ResultingPlaythroughID).Error
			if err != nil {
				return nil, err
			}
			duration := result.DurationSeconds(now)
			participant.DurationSeconds = &duration
			for _, r := range result.Rules {
				if !r.IsActive && r.CompletedAt == nil {
					continue
				}
				participant.Rules = append(participant.Rules, RuleSnapshot{
					RuleID:          r.RuleID,
					Name:            r.Rule.Name,
					RuleType:        r.Rule.RuleType,
					DifficultyLevel: r.DifficultyLevel,
					IsActive:        r.IsActive && !r.ExpiredAt(now),
					Completed:       r.CompletedAt != nil,
					CurrentAmount:   r.CurrentAmount,
					StartedAt:       r.StartedAt,
					CompletedAt:     r.CompletedAt,
				})
			}
		}
		view.Participants = append(view.Participants, participant)
	}
	return view, nil
}

// ComparisonEndpoint serves GET /challenges/comparison/:uuid.
func (s *ChallengeService) ComparisonEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	view, err := s.GetComparison(c.Params("uuid"), userID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(view)
}
