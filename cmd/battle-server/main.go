package main

import (
	"context"
	"net/http"
	"time"

	"battle-relay/internal/battle"
	"battle-relay/internal/config"
	"battle-relay/internal/logging"
	"battle-relay/internal/sim"
	"battle-relay/internal/store"
	httptransport "battle-relay/internal/transport/http"

	"github.com/rs/zerolog/log"
)

func main() {
	app, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(app.Log)
	cfg := app.Server

	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}

	engine, err := sim.NewProcessEngine(cfg.EngineCommand)
	if err != nil {
		log.Fatal().Err(err).Msg("engine config invalid")
	}
	coord := battle.New(st, engine, battle.Options{
		ReconnectGrace:   cfg.ReconnectGrace(),
		RoomCleanupDelay: cfg.RoomCleanupDelay(),
	})
	coord.StartJanitor(context.Background())

	r := httptransport.NewRouter(st, coord)
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().Str("addr", cfg.HTTPAddr).Str("engine", cfg.EngineCommand).Msg("http listening")
	log.Fatal().Err(server.ListenAndServe()).Msg("server stopped")
}
