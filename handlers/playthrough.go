package handlers

import (
	"playthrough-challenge-system/middleware"
	"playthrough-challenge-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPlaythroughRoutes(app *fiber.App, playthroughService *services.PlaythroughService, userStore *services.UserStore) {
	// 🔓 Public overlay/stream-deck read — sanitized, no mutation access
	app.Get("/play/:uuid", playthroughService.PublicState)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/users/search", userStore.SearchUsers)

	secured.Post("/playthroughs", playthroughService.CreatePlaythroughEndpoint)
	secured.Get("/playthroughs/mine", playthroughService.GetMine)
	secured.Get("/playthroughs/:uuid", playthroughService.GetByUUID)

	// Lifecycle
	secured.Post("/playthroughs/:uuid/start", playthroughService.StartEndpoint)
	secured.Post("/playthroughs/:uuid/pause", playthroughService.PauseEndpoint)
	secured.Post("/playthroughs/:uuid/resume", playthroughService.ResumeEndpoint)
	secured.Post("/playthroughs/:uuid/finish", playthroughService.FinishEndpoint)

	// Rule runtime
	secured.Post("/playthroughs/:uuid/rules/:rule_id/activate", playthroughService.ActivateRuleEndpoint)
	secured.Post("/playthrough/rules/:id/decrement", playthroughService.DecrementCounterEndpoint)
}
