package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mgdov/Electro-net/internal/config"
)

// Local stand-in for the remote charging backend, implementing just enough
// of its REST contract to exercise the dashboard end to end: snapshots,
// remote start/stop, completed-session reports, and single deletion. Bulk
// clear implements only the primary endpoint pattern, so the dashboard's
// fallback chain sees realistic 404s on the others.

type connector struct {
	ID            int      `json:"id"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	PowerKW       float64  `json:"power_kW"`
	SoC           *float64 `json:"soc"`
	TransactionID *string  `json:"transactionId"`
	Price         float64  `json:"price"`
	UpdatedAt     string   `json:"updatedAt"`
}

type station struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Status     string       `json:"status"`
	Connectors []*connector `json:"connectors"`
}

type transaction struct {
	TransactionID int64    `json:"transactionId"`
	StationID     string   `json:"chargePointId"`
	ConnectorID   int      `json:"connectorId"`
	StartTime     string   `json:"startTime"`
	StopTime      *string  `json:"stopTime"`
	MeterStart    float64  `json:"meterStart"`
	MeterStop     *float64 `json:"meterStop"`
	TotalKWh      *float64 `json:"totalKWh"`
	Cost          *float64 `json:"cost"`
	IDTag         *string  `json:"idTag"`
}

type fleet struct {
	mu       sync.Mutex
	stations []*station
	recent   []transaction
	nextTxID int64
}

func newFleet() *fleet {
	f := &fleet{nextTxID: 1000}
	for i := 1; i <= 4; i++ {
		st := &station{
			ID:     fmt.Sprintf("cp-%03d", i),
			Name:   fmt.Sprintf("Station %d", i),
			Status: "Available",
		}
		for c := 1; c <= 4; c++ {
			st.Connectors = append(st.Connectors, &connector{
				ID:        c,
				Type:      "Type2",
				Status:    "Available",
				Price:     0.35,
				UpdatedAt: time.Now().Format(time.RFC3339),
			})
		}
		f.stations = append(f.stations, st)
	}
	return f
}

func (f *fleet) find(stationID string, connectorID int) *connector {
	for _, st := range f.stations {
		if st.ID != stationID {
			continue
		}
		for _, c := range st.Connectors {
			if c.ID == connectorID {
				return c
			}
		}
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	f := newFleet()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	app := fiber.New()

	app.Get("/api/stations", func(c *fiber.Ctx) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		return c.JSON(fiber.Map{"success": true, "data": f.stations})
	})

	app.Get("/api/transactions/recent", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 10)
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.recent
		if len(list) > limit {
			list = list[:limit]
		}
		return c.JSON(fiber.Map{"success": true, "data": list, "count": len(list)})
	})

	app.Post("/api/admin/remote-start-session", func(c *fiber.Ctx) error {
		var body struct {
			StationID   string `json:"chargePointId"`
			ConnectorID int    `json:"connectorId"`
			IDTag       string `json:"idTag"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "bad request body"})
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		conn := f.find(body.StationID, body.ConnectorID)
		if conn == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "unknown connector"})
		}
		if conn.Status != "Available" {
			return c.JSON(fiber.Map{"success": false, "error": "connector is not available"})
		}

		f.nextTxID++
		txID := f.nextTxID
		conn.Status = "Charging"
		conn.PowerKW = 22
		conn.UpdatedAt = time.Now().Format(time.RFC3339)

		idTag := body.IDTag
		f.recent = append([]transaction{{
			TransactionID: txID,
			StationID:     body.StationID,
			ConnectorID:   body.ConnectorID,
			StartTime:     time.Now().Format(time.RFC3339),
			IDTag:         &idTag,
		}}, f.recent...)

		// Half the time the identifier is only discoverable through a
		// later snapshot, exercising the dashboard's bounded poll.
		if rng.Float64() < 0.5 {
			id := fmt.Sprint(txID)
			conn.TransactionID = &id
			return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"transactionId": txID}})
		}
		go func(stationID string, connectorID int, id string) {
			time.Sleep(1500 * time.Millisecond)
			f.mu.Lock()
			if cn := f.find(stationID, connectorID); cn != nil && cn.Status == "Charging" {
				cn.TransactionID = &id
			}
			f.mu.Unlock()
		}(body.StationID, body.ConnectorID, fmt.Sprint(txID))
		return c.JSON(fiber.Map{"success": true})
	})

	app.Post("/api/admin/remote-stop-session", func(c *fiber.Ctx) error {
		var body struct {
			StationID     string `json:"chargePointId"`
			ConnectorID   int    `json:"connectorId"`
			TransactionID any    `json:"transactionId"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "bad request body"})
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		conn := f.find(body.StationID, body.ConnectorID)
		if conn == nil || conn.Status != "Charging" {
			return c.JSON(fiber.Map{"success": false, "error": "transaction not found or already stopped"})
		}
		txID := ""
		if conn.TransactionID != nil {
			txID = *conn.TransactionID
		}
		conn.Status = "Available"
		conn.TransactionID = nil
		conn.PowerKW = 0
		conn.SoC = nil
		conn.UpdatedAt = time.Now().Format(time.RFC3339)

		now := time.Now().Format(time.RFC3339)
		for i := range f.recent {
			if fmt.Sprint(f.recent[i].TransactionID) == txID && f.recent[i].StopTime == nil {
				stop := f.recent[i].MeterStart + rng.Float64()*10000
				kwh := (stop - f.recent[i].MeterStart) / 1000
				cost := kwh * 0.35
				f.recent[i].StopTime = &now
				f.recent[i].MeterStop = &stop
				f.recent[i].TotalKWh = &kwh
				f.recent[i].Cost = &cost
			}
		}
		return c.JSON(fiber.Map{"success": true})
	})

	app.Post("/api/transactions/recent", func(c *fiber.Ctx) error {
		// Finalized-session reports are accepted and acknowledged; the
		// fleet's own bookkeeping stays authoritative.
		return c.JSON(fiber.Map{"success": true})
	})

	app.Delete("/api/transactions/recent/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.recent {
			if fmt.Sprint(f.recent[i].TransactionID) == id {
				f.recent = append(f.recent[:i], f.recent[i+1:]...)
				return c.JSON(fiber.Map{"success": true})
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "transaction not found"})
	})

	app.Post("/api/transactions/recent/delete", func(c *fiber.Ctx) error {
		f.mu.Lock()
		f.recent = nil
		f.mu.Unlock()
		return c.JSON(fiber.Map{"success": true})
	})

	log.Info().Str("addr", config.SimBackendAddr()).Msg("simulated backend listening")
	log.Fatal().Err(app.Listen(config.SimBackendAddr())).Msg("server exit")
}
