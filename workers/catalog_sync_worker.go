package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"playthrough-challenge-system/models"
	"playthrough-challenge-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogSyncClient polls the rule catalog service and mirrors rule, ruleset
// and difficulty definitions into local tables. The runtime only ever reads
// these mirrors.
type CatalogSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewCatalogSyncClient(db *gorm.DB) *CatalogSyncClient {
	baseURL := os.Getenv("CATALOG_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("CATALOG_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("PLAY_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("PLAY_SERVICE_TOKEN environment variable is required for catalog sync")
	}

	return &CatalogSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		DB:         db,
		HTTPClient: utils.HTTPClient,
	}
}

// catalogChangesResponse is the catalog service's change feed payload.
type catalogChangesResponse struct {
	Rules        []models.Rule           `json:"rules"`
	Difficulties []models.RuleDifficulty `json:"difficulties"`
	Rulesets     []models.Ruleset        `json:"rulesets"`
	RulesetRules []models.RulesetRule    `json:"ruleset_rules"`
}

func (c *CatalogSyncClient) GetChanges(ctx context.Context, since time.Time) (*catalogChangesResponse, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/catalog/changes", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("catalog service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response catalogChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode catalog service response: %w", err)
	}
	return &response, nil
}

// PollCatalog mirrors catalog changes on a fixed interval.
func PollCatalog(ctx context.Context, client *CatalogSyncClient, pollInterval time.Duration) {
	log.Println("Starting rule catalog polling (DB-backed)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Catalog polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()

			changes, err := client.GetChanges(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling catalog: %v", err)
				continue
			}

			total := len(changes.Rules) + len(changes.Difficulties) + len(changes.Rulesets) + len(changes.RulesetRules)
			if total == 0 {
				continue
			}

			if err := client.upsertChanges(changes); err != nil {
				log.Printf("❌ Failed to upsert catalog changes: %v", err)
				// Do NOT advance lastSyncTime on failure; retry same window next tick
				continue
			}

			lastSyncTime = logTime
			log.Printf("✅ Upserted %d catalog row(s) into mirror tables.", total)
		}
	}
}

func (c *CatalogSyncClient) upsertChanges(changes *catalogChangesResponse) error {
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if len(changes.Rules) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "description", "rule_type", "updated_at"}),
			}).Omit("Difficulties").Create(&changes.Rules).Error; err != nil {
				return err
			}
		}
		if len(changes.Difficulties) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "rule_id"}, {Name: "level"}},
				DoUpdates: clause.AssignmentColumns([]string{"duration_seconds", "amount"}),
			}).Create(&changes.Difficulties).Error; err != nil {
				return err
			}
		}
		if len(changes.Rulesets) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"game_id", "name", "description", "is_official", "updated_at"}),
			}).Create(&changes.Rulesets).Error; err != nil {
				return err
			}
		}
		if len(changes.RulesetRules) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "ruleset_id"}, {Name: "rule_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"sort_order"}),
			}).Create(&changes.RulesetRules).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
