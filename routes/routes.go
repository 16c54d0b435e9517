package routes

import (
	"log"
	"os"

	controller "coldreach/controllers"
	"coldreach/decision"
	"coldreach/middleware"
	"coldreach/pipeline"
	"coldreach/retention"
	"coldreach/scheduler"
	"coldreach/sendqueue"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// Deps carries the engines the HTTP surface exposes
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Pipeline  *pipeline.Driver
	Queue     *sendqueue.Processor
	Decisions *decision.Service
	Hub       *decision.Hub
	Dunning   *retention.Dunning
	Scheduler *scheduler.Scheduler
}

// SetupRoutes wires every endpoint
func SetupRoutes(app *fiber.App, deps Deps) {
	routeLogger := log.New(os.Stdout, "HTTP: ", log.Ldate|log.Ltime|log.Lshortfile)

	requestLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	campaignCtrl := controller.NewCampaignController(deps.DB, routeLogger)
	emailCtrl := controller.NewEmailController(deps.DB, deps.Pipeline, deps.Redis, routeLogger)
	decisionCtrl := controller.NewDecisionController(deps.DB, deps.Decisions, routeLogger)
	webhookCtrl := controller.NewWebhookController(deps.DB, deps.Dunning, deps.Queue, routeLogger)
	adminCtrl := controller.NewAdminController(deps.Scheduler, routeLogger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Webhooks are unauthenticated; each verifies its own provenance
	webhooks := app.Group("/webhooks", requestLog)
	webhooks.Post("/inbound-mail", webhookCtrl.HandleInboundMail)
	webhooks.Post("/stripe", webhookCtrl.HandlePaymentWebhook)

	// Campaign routes (protected)
	campaigns := app.Group("/campaigns", requestLog, middleware.Protected())
	campaigns.Post("/", campaignCtrl.CreateCampaign)
	campaigns.Get("/", campaignCtrl.ListCampaigns)
	campaigns.Get("/:id", campaignCtrl.GetCampaign)
	campaigns.Post("/:id/archive", campaignCtrl.ArchiveCampaign)
	campaigns.Post("/:id/sending-status", campaignCtrl.SetSendingStatus)

	// Draft review routes (protected)
	emails := app.Group("/emails", requestLog, middleware.Protected())
	emails.Get("/pending", emailCtrl.ListPendingEmails)
	emails.Post("/:id/approve", emailCtrl.ApproveEmail)
	emails.Post("/:id/reject", emailCtrl.RejectEmail)
	emails.Post("/:id/regenerate", emailCtrl.RegenerateEmail)

	replies := app.Group("/reply-drafts", requestLog, middleware.Protected())
	replies.Get("/", emailCtrl.ListReplyDrafts)
	replies.Post("/:id/review", emailCtrl.ReviewReplyDraft)

	// Decision queue routes (protected)
	decisions := app.Group("/decisions", requestLog, middleware.Protected())
	decisions.Get("/", decisionCtrl.ListDecisions)
	decisions.Get("/:id", decisionCtrl.GetDecision)
	decisions.Post("/:id/resolve", decisionCtrl.ResolveDecision)

	// Deliverability check (protected)
	app.Post("/verify-email", requestLog, middleware.Protected(), controller.VerifyEmail)

	// Admin routes
	admin := app.Group("/admin", requestLog, middleware.Protected(), middleware.AdminOnly())
	admin.Get("/jobs", adminCtrl.ListJobs)
	admin.Post("/jobs/:name/run", adminCtrl.RunJob)

	// Live decision notifications for the admin console
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/decisions", websocket.New(deps.Hub.Handler))

	routeLogger.Println("Routes initialized successfully")
}
