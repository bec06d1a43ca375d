package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mgdov/Electro-net/internal/api"
	"github.com/mgdov/Electro-net/internal/config"
	"github.com/mgdov/Electro-net/internal/events"
	"github.com/mgdov/Electro-net/internal/server"
	"github.com/mgdov/Electro-net/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(log.Logger)
	backend := api.New(config.APIBaseURL(), log.Logger)

	sess := session.New(backend, bus, log.Logger, session.Options{
		UnitPrice:       config.UnitPrice(),
		RefreshInterval: config.RefreshInterval(),
		MeterInterval:   config.MeterInterval(),
	})

	hub := server.NewHub(func() any { return sess.Snapshot() }, log.Logger)
	sess.OnChange(func() {
		hub.Broadcast(map[string]any{"type": "update", "data": sess.Snapshot()})
	})

	sess.Start(ctx)
	defer sess.Close()

	var sim *events.Simulator
	if config.UseSimulator() {
		sim = events.NewSimulator(bus, config.MeterInterval(), log.Logger)
		sim.Start()
		defer sim.Stop()
	}

	var mqttSrc *events.MQTTSource
	if config.UseMQTTEvents() {
		src, err := events.NewMQTTSource(config.MQTTBroker(), config.MQTTTopic(), bus, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt event source failed")
		}
		mqttSrc = src
		defer mqttSrc.Close()
	}

	app := fiber.New()
	server.Register(app, sess, log.Logger)
	go func() {
		log.Info().Str("addr", config.DashboardAddr()).Msg("dashboard api listening")
		if err := app.Listen(config.DashboardAddr()); err != nil {
			log.Fatal().Err(err).Msg("server exit")
		}
	}()

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", hub.Handler)
	wsServer := &http.Server{Addr: config.WebSocketAddr(), Handler: wsMux}
	go func() {
		log.Info().Str("addr", config.WebSocketAddr()).Msg("websocket push listening")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("websocket server exit")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = wsServer.Shutdown(shutdownCtx)
	_ = app.ShutdownWithContext(shutdownCtx)
	hub.Close()
}
