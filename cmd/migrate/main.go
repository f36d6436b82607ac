package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/config"
	"github.com/kevin07696/fee-reconciliation/internal/db/migrations"
)

func main() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	sourceDir := fs.String("dir", "internal/db/migrations", "source directory for create")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall deadline for the command")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	_ = fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}
	command, rest := args[0], args[1:]

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	if command == "create" {
		// writes a new file to the source tree, no database needed
		if err := goose.Run(command, nil, *sourceDir, rest...); err != nil {
			logger.Fatal("Failed to create migration", zap.Error(err))
		}
		return
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
			zap.Error(err),
		)
	}

	start := time.Now()
	if err := migrations.Run(ctx, db, command, rest...); err != nil {
		logger.Fatal("Migration failed", zap.String("command", command), zap.Error(err))
	}
	logger.Info("Migration command finished",
		zap.String("command", command),
		zap.Duration("elapsed", time.Since(start)),
	)
}

const usage = `Usage: migrate [-dir DIR] [-timeout DURATION] COMMAND

Connection settings come from DATABASE_URL or DB_HOST, DB_PORT, DB_USER,
DB_PASSWORD, DB_NAME and DB_SSL_MODE.

Commands:
    up                   Apply every pending migration
    up-by-one            Apply the next pending migration
    up-to VERSION        Migrate up to VERSION
    down                 Roll back the latest migration
    down-to VERSION      Roll back to VERSION
    redo                 Roll back and re-apply the latest migration
    reset                Roll back every migration
    status               Print applied and pending migrations
    version              Print the current schema version
    create NAME sql      Create a new migration file in -dir

Examples:
    migrate up
    migrate status
    migrate -dir internal/db/migrations create add_reversals sql
`
