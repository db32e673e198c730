package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes mounts every endpoint on app.
func (s *Service) Routes(app *fiber.App) {
	app.Use(Instrumentation())
	app.Post("/add_batch", s.AddBatch)
	app.Post("/allocate", s.Allocate)
	app.Get("/allocations/:orderid", s.Allocations)
	app.Get("/batches/:ref", s.Batch)
	app.Get("/isalive", s.IsAlive)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
