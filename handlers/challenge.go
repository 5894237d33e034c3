package handlers

import (
	"playthrough-challenge-system/middleware"
	"playthrough-challenge-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupChallengeRoutes(app *fiber.App, challengeService *services.ChallengeService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/challenges/send", challengeService.SendEndpoint)
	secured.Post("/challenges/:uuid/accept", challengeService.AcceptDirectEndpoint)
	secured.Post("/challenges/:uuid/respond", challengeService.RespondEndpoint)

	secured.Get("/challenges/mine", challengeService.GetMine)
	secured.Get("/challenges/sent", challengeService.GetSent)

	secured.Get("/challenges/comparison/:uuid", challengeService.ComparisonEndpoint)
}
