package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"playthrough-challenge-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ActivateRule turns a rule on under the concurrency cap. Only valid while
// the playthrough is active. The parent playthrough's version is bumped in
// the same transaction, so two racing activations cannot both slip under the
// cap; one of them fails with ErrVersionConflict and must retry.
func (s *PlaythroughService) ActivateRule(playthroughUUID, userID, ruleID, difficultyLevel string) (*models.PlaythroughRule, error) {
	rule, err := s.Catalog.Rule(ruleID)
	if err != nil {
		return nil, err
	}

	var activated models.PlaythroughRule
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		p, err := s.getOwned(tx, playthroughUUID, userID)
		if err != nil {
			return err
		}
		if p.Status != models.PlaythroughStatusActive {
			return ErrSessionNotActive
		}

		var record models.PlaythroughRule
		if err := tx.Where("playthrough_id = ? AND rule_id = ?", p.ID, ruleID).
			First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("rule %s in playthrough: %w", ruleID, ErrNotFound)
			}
			return err
		}
		if record.CompletedAt != nil {
			return fmt.Errorf("%w: rule already completed", ErrValidation)
		}
		if record.IsActive {
			return fmt.Errorf("%w: rule already active", ErrValidation)
		}

		now := time.Now().UTC()

		// Overdue timers free their slot before the cap is counted
		if _, err := s.materializeExpired(tx, p.ID, now); err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.PlaythroughRule{}).
			Where("playthrough_id = ? AND is_active = ?", p.ID, true).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(p.MaxConcurrentRules) {
			return ErrConcurrencyLimitExceeded
		}

		updates := map[string]interface{}{
			"is_active":        true,
			"started_at":       now,
			"difficulty_level": difficultyLevel,
			"current_amount":   nil,
			"expires_at":       nil,
		}
		if def := DifficultyFor(rule, difficultyLevel); def != nil {
			switch {
			case def.Amount != nil:
				updates["current_amount"] = *def.Amount
			case def.DurationSeconds != nil:
				updates["expires_at"] = now.Add(time.Duration(*def.DurationSeconds) * time.Second)
			}
			// neither set: permanent rule, stays active until the run ends
		}

		if err := s.commitRule(tx, &record, updates); err != nil {
			return err
		}
		// Serialize against concurrent activations on the same playthrough
		if err := s.commitPlaythrough(tx, p, map[string]interface{}{}); err != nil {
			return err
		}

		if err := tx.Preload("Rule").First(&activated, "id = ?", record.ID).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &activated, nil
}

// DecrementCounter takes one step off a counter rule. Exactly N successful
// decrements bring a counter from N to 0; the version check makes duplicate
// UI clicks lose instead of double-applying. Reaching zero completes the
// rule and frees its slot.
func (s *PlaythroughService) DecrementCounter(ruleRecordID uint, userID string) (*models.PlaythroughRule, error) {
	var updated models.PlaythroughRule
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var record models.PlaythroughRule
		if err := tx.First(&record, "id = ?", ruleRecordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("playthrough rule %d: %w", ruleRecordID, ErrNotFound)
			}
			return err
		}

		var p models.Playthrough
		if err := tx.First(&p, "id = ?", record.PlaythroughID).Error; err != nil {
			return err
		}
		if p.ExternalUserID != userID {
			return ErrForbidden
		}
		if p.Status != models.PlaythroughStatusActive {
			return ErrSessionNotActive
		}
		if record.CurrentAmount == nil || *record.CurrentAmount <= 0 {
			return ErrInvalidCounterState
		}

		remaining := *record.CurrentAmount - 1
		updates := map[string]interface{}{
			"current_amount": remaining,
		}
		if remaining <= 0 {
			// counter exhausted, rule satisfied
			updates["is_active"] = false
			updates["completed_at"] = time.Now().UTC()
		}
		if err := s.commitRule(tx, &record, updates); err != nil {
			return err
		}
		if err := tx.Preload("Rule").First(&updated, "id = ?", record.ID).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SweepExpired materializes every overdue timer rule across all playthroughs.
// Reads stay lazy; this only exists so timer rules do not sit formally active
// past their deadline forever when nothing touches them.
func (s *PlaythroughService) SweepExpired(now time.Time) (int, error) {
	swept := 0
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		n, err := s.materializeExpired(tx, 0, now)
		if err != nil {
			return err
		}
		swept = n
		return nil
	})
	return swept, err
}

// materializeExpired flips overdue timer rules to completed. playthroughID 0
// means all playthroughs. A timer rule completes at its deadline, so
// CompletedAt is the deadline itself, not the time the sweep ran.
func (s *PlaythroughService) materializeExpired(tx *gorm.DB, playthroughID uint, now time.Time) (int, error) {
	q := tx.Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now)
	if playthroughID != 0 {
		q = q.Where("playthrough_id = ?", playthroughID)
	}
	var overdue []models.PlaythroughRule
	if err := q.Find(&overdue).Error; err != nil {
		return 0, err
	}
	for i := range overdue {
		if err := s.commitRule(tx, &overdue[i], map[string]interface{}{
			"is_active":    false,
			"completed_at": *overdue[i].ExpiresAt,
		}); err != nil {
			return 0, err
		}
	}
	return len(overdue), nil
}

// RemainingRuleCount returns the number of currently active rules.
func (s *PlaythroughService) RemainingRuleCount(playthroughID uint) (int, error) {
	var active int64
	err := s.DB.Model(&models.PlaythroughRule{}).
		Where("playthrough_id = ? AND is_active = ?", playthroughID, true).
		Count(&active).Error
	return int(active), err
}

// --- HTTP handlers ---

func (s *PlaythroughService) ActivateRuleEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	type Req struct {
		DifficultyLevel string `json:"difficulty_level"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	record, err := s.ActivateRule(c.Params("uuid"), userID, c.Params("rule_id"), req.DifficultyLevel)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(record)
}

func (s *PlaythroughService) DecrementCounterEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid rule id"})
	}
	record, err := s.DecrementCounter(uint(id), userID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"current_amount": record.CurrentAmount,
		"is_active":      record.IsActive,
		"completed_at":   record.CompletedAt,
	})
}

// PublicState is the unauthenticated overlay read: sanitized current state,
// no user PII, no mutation. Expiry is evaluated lazily, so a rule past its
// deadline is reported expired even if nothing has materialized it yet.
func (s *PlaythroughService) PublicState(c *fiber.Ctx) error {
	var p models.Playthrough
	if err := s.DB.Preload("Rules").Preload("Rules.Rule").
		First(&p, "uuid = ?", c.Params("uuid")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "playthrough not found"})
		}
		return RespondError(c, err)
	}

	now := time.Now().UTC()

	type PublicRule struct {
		RuleID           string     `json:"rule_id"`
		Name             string     `json:"name"`
		RuleType         string     `json:"rule_type"`
		DifficultyLevel  string     `json:"difficulty_level,omitempty"`
		CurrentAmount    *int       `json:"current_amount,omitempty"`
		RemainingSeconds *int64     `json:"remaining_seconds,omitempty"`
		Expired          bool       `json:"expired"`
		StartedAt        *time.Time `json:"started_at,omitempty"`
	}
	active := []PublicRule{}
	for _, r := range p.Rules {
		if !r.IsActive {
			continue
		}
		pr := PublicRule{
			RuleID:          r.RuleID,
			Name:            r.Rule.Name,
			RuleType:        r.Rule.RuleType,
			DifficultyLevel: r.DifficultyLevel,
			CurrentAmount:   r.CurrentAmount,
			Expired:         r.ExpiredAt(now),
			StartedAt:       r.StartedAt,
		}
		if r.ExpiresAt != nil {
			remaining := r.RemainingSeconds(now)
			pr.RemainingSeconds = &remaining
		}
		active = append(active, pr)
	}

	return c.JSON(fiber.Map{
		"uuid":                 p.UUID,
		"status":               p.Status,
		"game_id":              p.GameID,
		"ruleset_id":           p.RulesetID,
		"max_concurrent_rules": p.MaxConcurrentRules,
		"duration_seconds":     p.DurationSeconds(now),
		"active_rules":         active,
	})
}
