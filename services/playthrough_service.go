package services

import (
	"errors"
	"fmt"
	"time"

	"playthrough-challenge-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlaythroughService owns the playthrough lifecycle state machine and the
// rule runtime. All mutations run as a single transaction and go through the
// version-checked commit helpers, so two racing requests against the same
// playthrough cannot both apply. The loser gets ErrVersionConflict.
type PlaythroughService struct {
	DB      *gorm.DB
	Catalog RuleCatalog
}

func NewPlaythroughService(db *gorm.DB, catalog RuleCatalog) *PlaythroughService {
	return &PlaythroughService{DB: db, Catalog: catalog}
}

// CreatePlaythroughInput carries everything needed to materialize a
// playthrough; challenge accept reuses it to clone the source configuration.
type CreatePlaythroughInput struct {
	ExternalUserID     string
	GameID             string
	RulesetID          string
	MaxConcurrentRules int
	RequireAuth        bool
	AllowViewerPicks   bool
	Configuration      string
}

// CreatePlaythrough materializes a playthrough in setup state with one
// inactive PlaythroughRule per rule in the ruleset. Fails if the user already
// owns a running (active or paused) playthrough.
func (s *PlaythroughService) CreatePlaythrough(input CreatePlaythroughInput) (*models.Playthrough, error) {
	playthrough, rules, err := s.preparePlaythrough(input)
	if err != nil {
		return nil, err
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		return s.insertPlaythrough(tx, playthrough, rules)
	})
	if err != nil {
		return nil, err
	}
	return playthrough, nil
}

// preparePlaythrough validates the input and resolves the ruleset from the
// catalog mirror. Read side only; the guarded writes run in
// insertPlaythrough.
func (s *PlaythroughService) preparePlaythrough(input CreatePlaythroughInput) (*models.Playthrough, []models.Rule, error) {
	if input.ExternalUserID == "" {
		return nil, nil, fmt.Errorf("%w: external user id is required", ErrValidation)
	}
	if input.MaxConcurrentRules < 1 || input.MaxConcurrentRules > 10 {
		return nil, nil, fmt.Errorf("%w: max_concurrent_rules must be between 1 and 10", ErrValidation)
	}

	ruleset, err := s.Catalog.Ruleset(input.RulesetID)
	if err != nil {
		return nil, nil, err
	}
	rules, err := s.Catalog.RulesetRules(ruleset.ID)
	if err != nil {
		return nil, nil, err
	}

	return &models.Playthrough{
		UUID:               uuid.NewString(),
		ExternalUserID:     input.ExternalUserID,
		GameID:             input.GameID,
		RulesetID:          ruleset.ID,
		Status:             models.PlaythroughStatusSetup,
		MaxConcurrentRules: input.MaxConcurrentRules,
		RequireAuth:        input.RequireAuth,
		AllowViewerPicks:   input.AllowViewerPicks,
		Configuration:      input.Configuration,
	}, rules, nil
}

// insertPlaythrough enforces the one-running-playthrough invariant and
// creates the playthrough with its inactive rule rows inside the caller's
// transaction. Challenge acceptance reuses it so the clone and the challenge
// resolution land in a single commit.
func (s *PlaythroughService) insertPlaythrough(tx *gorm.DB, playthrough *models.Playthrough, rules []models.Rule) error {
	// Central cross-entity invariant: one running playthrough per user
	var running int64
	if err := tx.Model(&models.Playthrough{}).
		Where("external_user_id = ? AND status IN ?", playthrough.ExternalUserID,
			[]string{models.PlaythroughStatusActive, models.PlaythroughStatusPaused}).
		Count(&running).Error; err != nil {
		return err
	}
	if running > 0 {
		return ErrUserHasActivePlaythrough
	}

	if err := tx.Omit("Rules").Create(playthrough).Error; err != nil {
		return err
	}
	for _, rule := range rules {
		record := models.PlaythroughRule{
			PlaythroughID: playthrough.ID,
			RuleID:        rule.ID,
		}
		if err := tx.Omit("Rule").Create(&record).Error; err != nil {
			return err
		}
		playthrough.Rules = append(playthrough.Rules, record)
	}
	return nil
}

// Start moves a playthrough from setup to active and stamps StartedAt.
func (s *PlaythroughService) Start(playthroughUUID, userID string) (*models.Playthrough, error) {
	return s.transition(playthroughUUID, userID, func(p *models.Playthrough, now time.Time) (map[string]interface{}, error) {
		if p.Status != models.PlaythroughStatusSetup {
			return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, p.Status)
		}
		return map[string]interface{}{
			"status":     models.PlaythroughStatusActive,
			"started_at": now,
		}, nil
	})
}

// Pause freezes elapsed time by recording when the pause began.
func (s *PlaythroughService) Pause(playthroughUUID, userID string) (*models.Playthrough, error) {
	return s.transition(playthroughUUID, userID, func(p *models.Playthrough, now time.Time) (map[string]interface{}, error) {
		if p.Status != models.PlaythroughStatusActive {
			return nil, fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, p.Status)
		}
		return map[string]interface{}{
			"status":    models.PlaythroughStatusPaused,
			"paused_at": now,
		}, nil
	})
}

// Resume folds the frozen interval into TotalPausedDuration and shifts every
// live timer forward by the same interval, so remaining time is preserved
// exactly across a pause.
func (s *PlaythroughService) Resume(playthroughUUID, userID string) (*models.Playthrough, error) {
	var result *models.Playthrough
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		p, err := s.getOwned(tx, playthroughUUID, userID)
		if err != nil {
			return err
		}
		if p.Status != models.PlaythroughStatusPaused || p.PausedAt == nil {
			return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, p.Status)
		}
		now := time.Now().UTC()
		pausedFor := now.Sub(*p.PausedAt)

		var timers []models.PlaythroughRule
		if err := tx.Where("playthrough_id = ? AND is_active = ? AND expires_at IS NOT NULL", p.ID, true).
			Find(&timers).Error; err != nil {
			return err
		}
		for i := range timers {
			shifted := timers[i].ExpiresAt.Add(pausedFor)
			if err := s.commitRule(tx, &timers[i], map[string]interface{}{
				"expires_at": shifted,
			}); err != nil {
				return err
			}
		}

		if err := s.commitPlaythrough(tx, p, map[string]interface{}{
			"status":                models.PlaythroughStatusActive,
			"paused_at":             nil,
			"total_paused_duration": p.TotalPausedDuration + int64(pausedFor.Seconds()),
		}); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reload(result.ID)
}

// Finish terminates a running playthrough with the given outcome and
// computes TotalDuration as wall time since StartedAt minus paused time.
func (s *PlaythroughService) Finish(playthroughUUID, userID, outcome string) (*models.Playthrough, error) {
	switch outcome {
	case models.PlaythroughStatusCompleted, models.PlaythroughStatusFailed, models.PlaythroughStatusAbandoned:
	default:
		return nil, fmt.Errorf("%w: outcome must be completed, failed or abandoned", ErrValidation)
	}
	return s.transition(playthroughUUID, userID, func(p *models.Playthrough, now time.Time) (map[string]interface{}, error) {
		if !p.IsRunning() {
			return nil, fmt.Errorf("%w: cannot finish from %s", ErrInvalidTransition, p.Status)
		}
		paused := p.TotalPausedDuration
		if p.Status == models.PlaythroughStatusPaused && p.PausedAt != nil {
			paused += int64(now.Sub(*p.PausedAt).Seconds())
		}
		total := int64(0)
		if p.StartedAt != nil {
			total = int64(now.Sub(*p.StartedAt).Seconds()) - paused
			if total < 0 {
				total = 0
			}
		}
		return map[string]interface{}{
			"status":                outcome,
			"ended_at":              now,
			"paused_at":             nil,
			"total_duration":        total,
			"total_paused_duration": paused,
		}, nil
	})
}

// transition runs a single version-checked status mutation.
func (s *PlaythroughService) transition(playthroughUUID, userID string,
	mutate func(p *models.Playthrough, now time.Time) (map[string]interface{}, error)) (*models.Playthrough, error) {

	var id uint
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		p, err := s.getOwned(tx, playthroughUUID, userID)
		if err != nil {
			return err
		}
		updates, err := mutate(p, time.Now().UTC())
		if err != nil {
			return err
		}
		id = p.ID
		return s.commitPlaythrough(tx, p, updates)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(id)
}

// getOwned loads a playthrough by public UUID and enforces ownership.
func (s *PlaythroughService) getOwned(db *gorm.DB, playthroughUUID, userID string) (*models.Playthrough, error) {
	var p models.Playthrough
	if err := db.First(&p, "uuid = ?", playthroughUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("playthrough %s: %w", playthroughUUID, ErrNotFound)
		}
		return nil, err
	}
	if p.ExternalUserID != userID {
		return nil, ErrForbidden
	}
	return &p, nil
}

func (s *PlaythroughService) reload(id uint) (*models.Playthrough, error) {
	var p models.Playthrough
	err := s.DB.Preload("Rules").Preload("Rules.Rule").First(&p, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// commitPlaythrough applies updates only if nobody else has touched the row
// since it was read. Zero rows affected means a concurrent writer won.
func (s *PlaythroughService) commitPlaythrough(tx *gorm.DB, p *models.Playthrough, updates map[string]interface{}) error {
	updates["version"] = p.Version + 1
	res := tx.Model(&models.Playthrough{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

func (s *PlaythroughService) commitRule(tx *gorm.DB, r *models.PlaythroughRule, updates map[string]interface{}) error {
	updates["version"] = r.Version + 1
	res := tx.Model(&models.PlaythroughRule{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	r.Version++
	return nil
}

// --- HTTP handlers ---

func (s *PlaythroughService) CreatePlaythroughEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	type Req struct {
		GameID             string `json:"game_id"`
		RulesetID          string `json:"ruleset_id"`
		MaxConcurrentRules int    `json:"max_concurrent_rules"`
		RequireAuth        bool   `json:"require_auth"`
		AllowViewerPicks   bool   `json:"allow_viewer_picks"`
		Configuration      string `json:"configuration"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.GameID == "" || req.RulesetID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "game_id and ruleset_id are required"})
	}
	if req.MaxConcurrentRules == 0 {
		req.MaxConcurrentRules = 3
	}
	playthrough, err := s.CreatePlaythrough(CreatePlaythroughInput{
		ExternalUserID:     userID,
		GameID:             req.GameID,
		RulesetID:          req.RulesetID,
		MaxConcurrentRules: req.MaxConcurrentRules,
		RequireAuth:        req.RequireAuth,
		AllowViewerPicks:   req.AllowViewerPicks,
		Configuration:      req.Configuration,
	})
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(201).JSON(playthrough)
}

func (s *PlaythroughService) StartEndpoint(c *fiber.Ctx) error {
	return s.transitionEndpoint(c, s.Start)
}

func (s *PlaythroughService) PauseEndpoint(c *fiber.Ctx) error {
	return s.transitionEndpoint(c, s.Pause)
}

func (s *PlaythroughService) ResumeEndpoint(c *fiber.Ctx) error {
	return s.transitionEndpoint(c, s.Resume)
}

func (s *PlaythroughService) transitionEndpoint(c *fiber.Ctx, fn func(uuid, userID string) (*models.Playthrough, error)) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	playthrough, err := fn(c.Params("uuid"), userID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(playthrough)
}

func (s *PlaythroughService) FinishEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	type Req struct {
		Outcome string `json:"outcome"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	playthrough, err := s.Finish(c.Params("uuid"), userID, req.Outcome)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(playthrough)
}

// GetMine lists the requesting user's playthroughs, newest first.
func (s *PlaythroughService) GetMine(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	var playthroughs []models.Playthrough
	if err := s.DB.Where("external_user_id = ?", userID).
		Order("created_at DESC").
		Find(&playthroughs).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(playthroughs)
}

// GetByUUID returns the full playthrough, owner only.
func (s *PlaythroughService) GetByUUID(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	p, err := s.getOwned(s.DB, c.Params("uuid"), userID)
	if err != nil {
		return RespondError(c, err)
	}
	full, err := s.reload(p.ID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(full)
}

// currentUserID reads the gateway-provided user context.
func currentUserID(c *fiber.Ctx) (string, error) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}
