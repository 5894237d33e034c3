package services

import (
	"errors"
	"strconv"
	"strings"

	"playthrough-challenge-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// UserDirectory resolves users by the identifier a challenger types in,
// either the profile service UUID or a username. Injected into the
// coordinator; backed by the synced playthrough_users mirror.
type UserDirectory interface {
	FindByIdentifier(identifier string) (*models.PlaythroughUser, error)
	FindByExternalID(externalUserID string) (*models.PlaythroughUser, error)
}

type UserStore struct {
	DB *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{DB: db}
}

func (s *UserStore) FindByIdentifier(identifier string) (*models.PlaythroughUser, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}
	var user models.PlaythroughUser
	err := s.DB.Where("external_user_id = ? OR LOWER(username) = ?", identifier, strings.ToLower(identifier)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) FindByExternalID(externalUserID string) (*models.PlaythroughUser, error) {
	var user models.PlaythroughUser
	err := s.DB.First(&user, "external_user_id = ?", externalUserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SearchUsers searches the local user mirror so a streamer can pick someone
// to challenge. GET /users/search?q=...
func (s *UserStore) SearchUsers(c *fiber.Ctx) error {
	query := c.Query("q", "")
	limitStr := c.Query("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	var users []models.PlaythroughUser
	db := s.DB.Model(&models.PlaythroughUser{}).Where("is_banned = ?", false).Limit(limit)
	if query != "" {
		searchTerm := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(username) LIKE ?", searchTerm)
	}
	if err := db.Find(&users).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "search failed"})
	}

	// Minimal response shape; never expose email to other users
	type UserSummary struct {
		ExternalUserID    string  `json:"external_user_id"`
		Username          string  `json:"username"`
		ProfilePictureURL *string `json:"profile_picture_url,omitempty"`
	}
	res := make([]UserSummary, len(users))
	for i, u := range users {
		res[i] = UserSummary{
			ExternalUserID:    u.ExternalUserID,
			Username:          u.Username,
			ProfilePictureURL: u.ProfilePictureURL,
		}
	}
	return c.JSON(res)
}
