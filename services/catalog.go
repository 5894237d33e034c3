package services

import (
	"errors"
	"fmt"

	"playthrough-challenge-system/models"

	"gorm.io/gorm"
)

// RuleCatalog is the capability the runtime needs from the rule catalog:
// lookups only, never mutation. Injected, not a global, so tests can seed
// their own catalog.
type RuleCatalog interface {
	Ruleset(rulesetID string) (*models.Ruleset, error)
	// RulesetRules returns the member rules of a ruleset in sort order,
	// with their per-difficulty definitions loaded.
	RulesetRules(rulesetID string) ([]models.Rule, error)
	Rule(ruleID string) (*models.Rule, error)
}

// CatalogStore implements RuleCatalog over the mirror tables kept fresh by
// the catalog sync worker.
type CatalogStore struct {
	DB *gorm.DB
}

func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{DB: db}
}

func (s *CatalogStore) Ruleset(rulesetID string) (*models.Ruleset, error) {
	var ruleset models.Ruleset
	if err := s.DB.First(&ruleset, "id = ?", rulesetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ruleset %s: %w", rulesetID, ErrNotFound)
		}
		return nil, err
	}
	return &ruleset, nil
}

func (s *CatalogStore) Rule(ruleID string) (*models.Rule, error) {
	var rule models.Rule
	if err := s.DB.Preload("Difficulties").First(&rule, "id = ?", ruleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
		}
		return nil, err
	}
	return &rule, nil
}

func (s *CatalogStore) RulesetRules(rulesetID string) ([]models.Rule, error) {
	var links []models.RulesetRule
	if err := s.DB.Where("ruleset_id = ?", rulesetID).
		Order("sort_order ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}

	ruleIDs := make([]string, len(links))
	for i, l := range links {
		ruleIDs[i] = l.RuleID
	}

	var rules []models.Rule
	if err := s.DB.Preload("Difficulties").
		Where("id IN ?", ruleIDs).
		Find(&rules).Error; err != nil {
		return nil, err
	}

	// Restore ruleset sort order; IN loses it
	byID := make(map[string]models.Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}
	ordered := make([]models.Rule, 0, len(links))
	for _, l := range links {
		if r, ok := byID[l.RuleID]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// DifficultyFor picks the runtime definition of a rule at the given level.
func DifficultyFor(rule *models.Rule, level string) *models.RuleDifficulty {
	for i := range rule.Difficulties {
		if rule.Difficulties[i].Level == level {
			return &rule.Difficulties[i]
		}
	}
	return nil
}
