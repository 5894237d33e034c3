package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"playthrough-challenge-system/handlers"
	"playthrough-challenge-system/middleware"
	"playthrough-challenge-system/models"
	"playthrough-challenge-system/services"
	"playthrough-challenge-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — JSON payloads only
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-User-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Playthrough{},
		&models.PlaythroughRule{},
		&models.Challenge{},
		&models.Rule{},
		&models.RuleDifficulty{},
		&models.Ruleset{},
		&models.RulesetRule{},
		&models.PlaythroughUser{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	catalog := services.NewCatalogStore(db)
	userStore := services.NewUserStore(db)
	playthroughService := services.NewPlaythroughService(db, catalog)
	challengeService := services.NewChallengeService(db, userStore, playthroughService)

	// --- Sync service config (profile mirror) ---
	syncServiceURL := os.Getenv("SYNC_SERVICE_URL")
	if syncServiceURL == "" {
		log.Fatal("SYNC_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("PLAY_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("PLAY_SERVICE_TOKEN environment variable not set")
	}

	userSyncWorker := workers.NewPlaythroughUserSyncWorker(db, syncServiceURL, "/api/v1/public/profiles", serviceToken)

	catalogSyncClient := workers.NewCatalogSyncClient(db)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollCatalog(ctx, catalogSyncClient, 30*time.Second)

	go func() {
		log.Println("Starting Playthrough User Sync Worker...")
		userSyncWorker.Start(ctx)
	}()

	playthroughService.StartExpirySweep()

	handlers.SetupPlaythroughRoutes(app, playthroughService, userStore)
	handlers.SetupChallengeRoutes(app, challengeService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Playthrough User Sync Worker running")
	log.Println("✅ Catalog polling running (every 30s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
