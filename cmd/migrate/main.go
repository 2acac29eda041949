// Command migrate manages the submissions table used by ROW_STORE=postgres.
//
//	go run ./cmd/migrate           # apply pending migrations
//	go run ./cmd/migrate -status   # print the schema version
//	go run ./cmd/migrate -down     # roll back the last migration
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	"youposm/internal/shared/config"
	"youposm/internal/shared/storage/db"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	status := flag.Bool("status", false, "print the applied schema version and exit")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		log.Printf("migrate: connect: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	switch {
	case *status:
		err = printVersion(ctx, sqlDB)
	case *down:
		err = db.RollbackMigration(ctx, sqlDB)
		if err == nil {
			err = printVersion(ctx, sqlDB)
		}
	default:
		err = db.RunMigrations(ctx, sqlDB)
		if err == nil {
			err = printVersion(ctx, sqlDB)
		}
	}
	if err != nil {
		log.Printf("migrate: %v", err)
		os.Exit(1)
	}
}

func printVersion(ctx context.Context, sqlDB *sql.DB) error {
	v, err := db.SchemaVersion(ctx, sqlDB)
	if err != nil {
		return err
	}
	log.Printf("migrate: schema version %d", v)
	return nil
}
