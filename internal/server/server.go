package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/mgdov/Electro-net/internal/session"
)

// Register mounts the operator-facing REST routes on the fiber app. The
// routes are a thin veneer: every decision lives in the session, and the
// handlers only translate its structured results into HTTP.
func Register(app *fiber.App, sess *session.Session, log zerolog.Logger) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Get("/api/state", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "data": sess.Snapshot()})
	})

	app.Get("/api/stations", func(c *fiber.Ctx) error {
		snap := sess.Snapshot()
		if snap.LoadError != "" && len(snap.Stations) == 0 {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false, "error": snap.LoadError,
			})
		}
		return c.JSON(fiber.Map{"success": true, "data": snap.Stations, "error": snap.LoadError})
	})

	app.Get("/api/transactions", func(c *fiber.Ctx) error {
		snap := sess.Snapshot()
		return c.JSON(fiber.Map{"success": true, "data": snap.Transactions})
	})

	app.Post("/api/stations/:id/connectors/:connector/start", func(c *fiber.Ctx) error {
		connectorID, err := c.ParamsInt("connector")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false, "error": "bad connector id",
			})
		}
		var body struct {
			IDTag string `json:"idTag"`
		}
		_ = c.BodyParser(&body)

		res := sess.StartCharging(c.Context(), c.Params("id"), connectorID, body.IDTag)
		if !res.OK {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false, "error": res.Message,
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
			"data":    fiber.Map{"transactionId": res.TransactionID},
		})
	})

	app.Post("/api/stop", func(c *fiber.Ctx) error {
		var body struct {
			StationID     string `json:"chargePointId"`
			TransactionID string `json:"transactionId"`
		}
		if err := c.BodyParser(&body); err != nil || body.TransactionID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false, "error": "transactionId required",
			})
		}

		res := sess.StopCharging(c.Context(), body.StationID, body.TransactionID)
		if !res.OK {
			status := fiber.StatusConflict
			if res.Message == "no active transaction to stop" {
				status = fiber.StatusNotFound
			}
			return c.Status(status).JSON(fiber.Map{"success": false, "error": res.Message})
		}
		return c.JSON(fiber.Map{"success": true})
	})

	app.Delete("/api/transactions/:id", func(c *fiber.Ctx) error {
		res := sess.DeleteTransaction(c.Context(), c.Params("id"))
		if !res.OK {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false, "error": res.Message,
			})
		}
		return c.JSON(fiber.Map{"success": true})
	})

	app.Delete("/api/transactions", func(c *fiber.Ctx) error {
		res := sess.ClearTransactions(c.Context())
		if !res.OK {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false, "error": res.Message,
			})
		}
		return c.JSON(fiber.Map{"success": true})
	})

	log.Info().Msg("dashboard routes registered")
}
