package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/leafsii/marketplace/internal/config"
	mpsql "github.com/leafsii/marketplace/sql"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	flags = flag.NewFlagSet("migrate", flag.ExitOnError)
	dir   = flags.String("dir", "", "directory with migration files (default: migrations built into the binary)")
	dsn   = flags.String("dsn", "", "postgres DSN (default: MP_POSTGRES_DSN)")
)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate [-dir DIR] [-dsn DSN] COMMAND\n\nCommands:\n  up\n  down\n  status\n  version")
	}

	target := *dsn
	if target == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		target = cfg.Storage.PostgresDSN
	}
	if target == "" {
		log.Fatal("No database configured: set MP_POSTGRES_DSN or pass -dsn")
	}

	db, err := sql.Open("pgx", target)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}
	migrations := *dir
	if migrations == "" {
		goose.SetBaseFS(mpsql.Migrations)
		migrations = "."
	}

	command := args[0]
	switch command {
	case "up":
		if err := goose.Up(db, migrations); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
	case "down":
		if err := goose.Down(db, migrations); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
	case "status":
		if err := goose.Status(db, migrations); err != nil {
			log.Fatalf("Migration status failed: %v", err)
		}
	case "version":
		if err := goose.Version(db, migrations); err != nil {
			log.Fatalf("Migration version failed: %v", err)
		}
	default:
		log.Fatalf("Unknown command: %s", command)
	}
}
