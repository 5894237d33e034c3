package services

import (
	"testing"

	"playthrough-challenge-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Playthrough{},
		&models.PlaythroughRule{},
		&models.Challenge{},
		&models.Rule{},
		&models.RuleDifficulty{},
		&models.Ruleset{},
		&models.RulesetRule{},
		&models.PlaythroughUser{},
	))
	return db
}

const (
	testRulesetID = "ruleset-1"
	testGameID    = "game-1"

	counterRuleID   = "rule-counter"
	timerRuleID     = "rule-timer"
	permanentRuleID = "rule-permanent"
)

// seedCatalog mirrors a small ruleset the way the catalog sync worker would:
// a 3-step counter rule, a 10-minute timer rule and a permanent rule.
func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	amount := 3
	duration := 600

	require.NoError(t, db.Create(&models.Ruleset{
		ID: testRulesetID, GameID: testGameID, Name: "Standard Chaos",
	}).Error)

	rules := []models.Rule{
		{ID: counterRuleID, Name: "Drink Water", RuleType: models.RuleTypeBasic},
		{ID: timerRuleID, Name: "No Healing", RuleType: models.RuleTypeCourt},
		{ID: permanentRuleID, Name: "Permadeath", RuleType: models.RuleTypeLegendary},
	}
	for i := range rules {
		require.NoError(t, db.Omit("Difficulties").Create(&rules[i]).Error)
	}

	require.NoError(t, db.Create(&models.RuleDifficulty{
		RuleID: counterRuleID, Level: "medium", Amount: &amount,
	}).Error)
	require.NoError(t, db.Create(&models.RuleDifficulty{
		RuleID: timerRuleID, Level: "medium", DurationSeconds: &duration,
	}).Error)
	require.NoError(t, db.Create(&models.RuleDifficulty{
		RuleID: permanentRuleID, Level: "medium",
	}).Error)

	for i, ruleID := range []string{counterRuleID, timerRuleID, permanentRuleID} {
		require.NoError(t, db.Create(&models.RulesetRule{
			RulesetID: testRulesetID, RuleID: ruleID, SortOrder: i,
		}).Error)
	}
}

func seedUser(t *testing.T, db *gorm.DB, externalID, username string) {
	t.Helper()
	require.NoError(t, db.Create(&models.PlaythroughUser{
		ID:             uuid.NewString(),
		ExternalUserID: externalID,
		Username:       username,
	}).Error)
}

func newRuntime(t *testing.T) (*PlaythroughService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	seedCatalog(t, db)
	return NewPlaythroughService(db, NewCatalogStore(db)), db
}

func newCoordinator(t *testing.T) (*ChallengeService, *PlaythroughService, *gorm.DB) {
	t.Helper()
	runtime, db := newRuntime(t)
	return NewChallengeService(db, NewUserStore(db), runtime), runtime, db
}

func createInput(userID string, maxConcurrent int) CreatePlaythroughInput {
	return CreatePlaythroughInput{
		ExternalUserID:     userID,
		GameID:             testGameID,
		RulesetID:          testRulesetID,
		MaxConcurrentRules: maxConcurrent,
		AllowViewerPicks:   true,
		Configuration:      `{"shuffle":true}`,
	}
}

// createStarted creates and starts a playthrough so rule mutations are legal.
func createStarted(t *testing.T, svc *PlaythroughService, userID string) *models.Playthrough {
	t.Helper()
	p, err := svc.CreatePlaythrough(createInput(userID, 3))
	require.NoError(t, err)
	started, err := svc.Start(p.UUID, userID)
	require.NoError(t, err)
	return started
}

// ruleRecord finds the child record for a catalog rule within a playthrough.
func ruleRecord(t *testing.T, db *gorm.DB, playthroughID uint, ruleID string) *models.PlaythroughRule {
	t.Helper()
	var record models.PlaythroughRule
	require.NoError(t, db.First(&record, "playthrough_id = ? AND rule_id = ?", playthroughID, ruleID).Error)
	return &record
}
