package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/logging"
	"github.com/Rrens/apiquest-collab/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [-steps n] up|down\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if _, err := logging.Setup(cfg.Logging, os.Getenv("ENV")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if cfg.Storage.Driver != config.DriverPostgres {
		log.Info().Str("driver", cfg.Storage.Driver).Msg("Storage driver has no SQL schema, nothing to migrate")
		return
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("source", cfg.Database.MigrationsDir).
		Msg("Connecting to database")

	switch flag.Arg(0) {
	case "", "up":
		err = postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsDir)
	case "down":
		err = postgres.RollbackMigrations(cfg.Database.DSN(), cfg.Database.MigrationsDir, *steps)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
