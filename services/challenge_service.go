package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"playthrough-challenge-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChallengeService coordinates challenge send/accept/decline and spawns the
// cloned playthrough through the runtime on acceptance.
type ChallengeService struct {
	DB      *gorm.DB
	Users   UserDirectory
	Runtime *PlaythroughService
	TTL     time.Duration
}

func NewChallengeService(db *gorm.DB, users UserDirectory, runtime *PlaythroughService) *ChallengeService {
	return &ChallengeService{
		DB:      db,
		Users:   users,
		Runtime: runtime,
		TTL:     challengeTTL(),
	}
}

// challengeTTL reads CHALLENGE_TTL_HOURS, defaulting to 72h. The TTL is
// advisory: nothing purges expired rows, Respond re-checks it instead.
func challengeTTL() time.Duration {
	hours := 72
	if v := os.Getenv("CHALLENGE_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		} else {
			log.Printf("⚠️ invalid CHALLENGE_TTL_HOURS=%q, using default %dh", v, hours)
		}
	}
	return time.Duration(hours) * time.Hour
}

// SendChallenge invites another user to replay the source playthrough's
// configuration. Guards, in order: ownership, self-challenge, the challenged
// user's one-running-playthrough invariant, duplicate pending challenge.
func (s *ChallengeService) SendChallenge(challengerID, sourcePlaythroughUUID, challengedIdentifier string) (*models.Challenge, error) {
	var source models.Playthrough
	if err := s.DB.First(&source, "uuid = ?", sourcePlaythroughUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("playthrough %s: %w", sourcePlaythroughUUID, ErrNotFound)
		}
		return nil, err
	}
	if source.ExternalUserID != challengerID {
		return nil, ErrForbidden
	}

	challenged, err := s.Users.FindByIdentifier(challengedIdentifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("challenged user %q: %w", challengedIdentifier, ErrNotFound)
		}
		return nil, err
	}
	if challenged.ExternalUserID == challengerID {
		return nil, ErrCannotChallengeSelf
	}

	now := time.Now().UTC()
	challenge := &models.Challenge{
		UUID:                uuid.NewString(),
		ChallengerID:        challengerID,
		ChallengedID:        challenged.ExternalUserID,
		SourcePlaythroughID: source.ID,
		Status:              models.ChallengeStatusPending,
		ExpiresAt:           now.Add(s.TTL),
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var running int64
		if err := tx.Model(&models.Playthrough{}).
			Where("external_user_id = ? AND status IN ?", challenged.ExternalUserID,
				[]string{models.PlaythroughStatusActive, models.PlaythroughStatusPaused}).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return ErrUserHasActivePlaythrough
		}

		var pending int64
		if err := tx.Model(&models.Challenge{}).
			Where("challenger_id = ? AND challenged_id = ? AND source_playthrough_id = ? AND status = ?",
				challengerID, challenged.ExternalUserID, source.ID, models.ChallengeStatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrChallengeAlreadyExists
		}

		// The partial unique index on pending challenges backstops the
		// count above against a racing sender
		if err := tx.Create(challenge).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrChallengeAlreadyExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

// Respond resolves a pending challenge exactly once. Accept clones the
// source playthrough's ruleset, cap, flags and configuration for the
// challenged user; decline just stamps the resolution.
func (s *ChallengeService) Respond(challengeUUID, respondingUserID, action string) (*models.Challenge, error) {
	if action != "accept" && action != "decline" {
		return nil, fmt.Errorf("%w: action must be accept or decline", ErrValidation)
	}

	var challenge models.Challenge
	if err := s.DB.First(&challenge, "uuid = ?", challengeUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("challenge %s: %w", challengeUUID, ErrNotFound)
		}
		return nil, err
	}
	if challenge.ChallengedID != respondingUserID {
		return nil, ErrForbidden
	}
	now := time.Now().UTC()
	// A logically expired challenge is not respondable, whatever its row says
	if challenge.Status != models.ChallengeStatusPending || challenge.Expired(now) {
		return nil, ErrChallengeNotPending
	}

	if action == "decline" {
		if err := s.resolve(s.DB, &challenge, map[string]interface{}{
			"status":       models.ChallengeStatusDeclined,
			"responded_at": now,
		}); err != nil {
			return nil, err
		}
		return &challenge, nil
	}

	var source models.Playthrough
	if err := s.DB.First(&source, "id = ?", challenge.SourcePlaythroughID).Error; err != nil {
		return nil, err
	}

	clone, rules, err := s.Runtime.preparePlaythrough(CreatePlaythroughInput{
		ExternalUserID:     respondingUserID,
		GameID:             source.GameID,
		RulesetID:          source.RulesetID,
		MaxConcurrentRules: source.MaxConcurrentRules,
		RequireAuth:        source.RequireAuth,
		AllowViewerPicks:   source.AllowViewerPicks,
		Configuration:      source.Configuration,
	})
	if err != nil {
		return nil, err
	}

	// Clone creation and challenge resolution land in one commit; a failure
	// on either side leaves no trace of the other
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.Runtime.insertPlaythrough(tx, clone, rules); err != nil {
			return err
		}
		return s.resolve(tx, &challenge, map[string]interface{}{
			"status":                   models.ChallengeStatusAccepted,
			"resulting_playthrough_id": clone.ID,
			"responded_at":             now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

// resolve moves a challenge out of pending with a conditional write. Only a
// row that is still pending can be resolved; a responder racing against an
// already-applied resolution affects zero rows and loses.
func (s *ChallengeService) resolve(db *gorm.DB, challenge *models.Challenge, updates map[string]interface{}) error {
	res := db.Model(&models.Challenge{}).
		Where("id = ? AND status = ?", challenge.ID, models.ChallengeStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChallengeNotPending
	}
	return db.First(challenge, "id = ?", challenge.ID).Error
}

// AcceptDirect is the open-invite fast path: anyone with the source
// playthrough's UUID can spawn their own run without a prior challenge row.
// Same self-challenge and active-playthrough guards as Respond; a resolved
// Challenge row is recorded so the comparison view sees these participants.
func (s *ChallengeService) AcceptDirect(respondingUserID, sourcePlaythroughUUID string) (*models.Challenge, *models.Playthrough, error) {
	var source models.Playthrough
	if err := s.DB.First(&source, "uuid = ?", sourcePlaythroughUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("playthrough %s: %w", sourcePlaythroughUUID, ErrNotFound)
		}
		return nil, nil, err
	}
	if source.ExternalUserID == respondingUserID {
		return nil, nil, ErrCannotChallengeSelf
	}

	clone, rules, err := s.Runtime.preparePlaythrough(CreatePlaythroughInput{
		ExternalUserID:     respondingUserID,
		GameID:             source.GameID,
		RulesetID:          source.RulesetID,
		MaxConcurrentRules: source.MaxConcurrentRules,
		RequireAuth:        source.RequireAuth,
		AllowViewerPicks:   source.AllowViewerPicks,
		Configuration:      source.Configuration,
	})
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	challenge := &models.Challenge{
		UUID:                uuid.NewString(),
		ChallengerID:        source.ExternalUserID,
		ChallengedID:        respondingUserID,
		SourcePlaythroughID: source.ID,
		Status:              models.ChallengeStatusAccepted,
		ExpiresAt:           now,
		RespondedAt:         &now,
	}
	// Clone and challenge record commit together or not at all
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.Runtime.insertPlaythrough(tx, clone, rules); err != nil {
			return err
		}
		challenge.ResultingPlaythroughID = &clone.ID
		return tx.Create(challenge).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return challenge, clone, nil
}

// --- HTTP handlers ---

func (s *ChallengeService) SendEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	type Req struct {
		PlaythroughUUID          string `json:"playthrough_uuid"`
		ChallengedUserIdentifier string `json:"challenged_user_identifier"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.PlaythroughUUID == "" || req.ChallengedUserIdentifier == "" {
		return c.Status(400).JSON(fiber.Map{"error": "playthrough_uuid and challenged_user_identifier are required"})
	}
	challenge, err := s.SendChallenge(userID, req.PlaythroughUUID, req.ChallengedUserIdentifier)
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"challenge_uuid": challenge.UUID, "challenge": challenge})
}

func (s *ChallengeService) RespondEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	type Req struct {
		Action string `json:"action"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	challenge, err := s.Respond(c.Params("uuid"), userID, req.Action)
	if err != nil {
		return RespondError(c, err)
	}
	status := fiber.StatusOK
	if challenge.Status == models.ChallengeStatusAccepted {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(challenge)
}

// AcceptDirectEndpoint accepts an open invite by source playthrough UUID.
func (s *ChallengeService) AcceptDirectEndpoint(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	_, clone, err := s.AcceptDirect(userID, c.Params("uuid"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"playthrough_uuid": clone.UUID, "playthrough": clone})
}

// GetMine lists challenges received by the requesting user, newest first.
func (s *ChallengeService) GetMine(c *fiber.Ctx) error {
	return s.listFor(c, "challenged_id")
}

// GetSent lists challenges issued by the requesting user, newest first.
func (s *ChallengeService) GetSent(c *fiber.Ctx) error {
	return s.listFor(c, "challenger_id")
}

func (s *ChallengeService) listFor(c *fiber.Ctx, column string) error {
	userID, err := currentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}
	var challenges []models.Challenge
	if err := s.DB.Where(column+" = ?", userID).
		Order("created_at DESC").
		Find(&challenges).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(challenges)
}
