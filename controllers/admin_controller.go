package controller

import (
	"log"

	"coldreach/scheduler"

	"github.com/gofiber/fiber/v2"
)

type AdminController struct {
	Scheduler *scheduler.Scheduler
	Logger    *log.Logger
}

func NewAdminController(s *scheduler.Scheduler, logger *log.Logger) *AdminController {
	return &AdminController{Scheduler: s, Logger: logger}
}

// ListJobs returns every registered job with its last run outcome
func (ac *AdminController) ListJobs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"jobs": ac.Scheduler.ListJobs()})
}

// RunJob triggers one job outside its schedule
func (ac *AdminController) RunJob(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := ac.Scheduler.RunNow(name); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	ac.Logger.Printf("🔄 Job %s triggered manually", name)
	return c.JSON(fiber.Map{"status": "triggered", "job": name})
}
