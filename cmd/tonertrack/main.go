// cmd/tonertrack/main.go
package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"

	"github.com/tonertrack/tonertrack/pkg/api"
	"github.com/tonertrack/tonertrack/pkg/config"
	"github.com/tonertrack/tonertrack/pkg/db"
	"github.com/tonertrack/tonertrack/pkg/lifecycle"
	"github.com/tonertrack/tonertrack/pkg/poller"
	"github.com/tonertrack/tonertrack/pkg/store"
	"github.com/tonertrack/tonertrack/pkg/tickets"
)

func main() {
	log.Printf("Starting tonertrack...")

	configPath := flag.String("config", "/etc/tonertrack/tonertrack.json", "Path to config file")
	flag.Parse()

	var cfg poller.Config
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fileStore := store.NewFileStore(filepath.Join(cfg.DataDir, "printers.json"))

	history, err := db.New(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		log.Fatalf("Failed to open history database: %v", err)
	}
	defer func() {
		if err := history.Close(); err != nil {
			log.Printf("Error closing history database: %v", err)
		}
	}()

	hub := api.NewHub()

	opts := []poller.Option{
		poller.WithHistory(history),
		poller.WithEvents(hub),
	}

	if cfg.Tickets.Enabled {
		opts = append(opts, poller.WithAlerter(tickets.NewClient(cfg.Tickets)))
	}

	p := poller.New(&cfg, fileStore, opts...)

	apiServer := api.NewAPIServer(p, cfg.SNMP,
		api.WithHistoryReader(history),
		api.WithStaticDir(cfg.StaticDir),
		api.WithHub(hub),
	)

	if err := lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: "tonertrack",
		Service:     p,
		Handler:     apiServer.Handler(),
	}); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
