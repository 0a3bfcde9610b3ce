package main

import (
	"log"
	"os"

	"github.com/arbiterhq/arbiter/internal/api"
	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("arbiter: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"dev_mode", cfg.DevMode,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	authority := auth.NewAuthority(db, cfg.DevMode)
	identity := auth.NewManager(db)

	srv := api.NewServer(cfg.ListenAddr, db, authority, identity, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
