// ytharvest is a YouTube channel discovery and email enrichment service.
//
// Discovers channels by keyword search against the public results pages,
// enriches them with contact emails and language metadata, and tracks each
// channel through an active/archived/blacklisted lifecycle over SQLite.
// Everything is served over a small REST API with an SSE progress stream.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/harvestlab/ytharvest/internal/config"
	"github.com/harvestlab/ytharvest/internal/discovery"
	"github.com/harvestlab/ytharvest/internal/enrich"
	"github.com/harvestlab/ytharvest/internal/server"
	"github.com/harvestlab/ytharvest/internal/store"
	"github.com/harvestlab/ytharvest/internal/youtube"
)

var version = "dev"

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting ytharvest",
		slog.String("version", version),
		slog.String("addr", cfg.Addr),
		slog.String("db", cfg.DBPath),
	)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("store init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	client := youtube.NewClient(&http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60 * time.Second,
		},
	})

	manager := enrich.NewManager(st, client, cfg.EnrichWorkers)
	controller := discovery.NewController(st, client, discovery.NewStateManager())

	srv := server.New(st, manager, controller, client, server.WithMaxCSVRows(cfg.MaxCSVRows))

	slog.Info("listening", slog.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, srv.Router(cfg.RequestTimeout)); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
