// Package main provides the migration CLI for the recontact-service schema
// (request, citizen_cohort and message tables).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/config"
	"github.com/healthmetrix/recontact-service/internal/database"
	"github.com/healthmetrix/recontact-service/internal/observability"
)

const usageHeader = `Usage: migrate [flags]

Applies the recontact-service schema migrations to the database configured
through RECONTACT_DATABASE_* variables or config.yaml. Exactly one action
flag is required.

Flags:
`

// action is one migration command selected on the command line.
type action struct {
	name string
	run  func(m *database.Migrator) error
}

// actionFlags holds the parsed action flags before one is selected.
type actionFlags struct {
	up     bool
	down   bool
	steps  int
	status bool
	force  int
}

var errNoAction = errors.New("no action specified")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	up := flag.Bool("up", false, "apply all pending recontact schema migrations")
	down := flag.Bool("down", false, "drop the recontact schema (deletes all requests and messages)")
	steps := flag.Int("steps", 0, "apply N migrations, or roll back N when negative")
	status := flag.Bool("status", false, "print the applied schema version")
	force := flag.Int("force", -1, "mark version V as applied without running it, to clear a dirty state")
	path := flag.String("path", "", "migrations directory (default: database.migration_path)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageHeader)
		flag.PrintDefaults()
	}
	flag.Parse()

	selected, err := selectAction(actionFlags{
		up:     *up,
		down:   *down,
		steps:  *steps,
		status: *status,
		force:  *force,
	})
	if err != nil {
		if errors.Is(err, errNoAction) {
			flag.Usage()
		}
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = observability.WithComponent(logger, "migrate")

	migrationDir := cfg.Database.MigrationPath
	if *path != "" {
		migrationDir = *path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	logger.Info().Str("action", selected.name).Str("path", migrationDir).Msg("running migration action")
	if err := selected.run(migrator); err != nil {
		return fmt.Errorf("migrate %s: %w", selected.name, err)
	}
	logStatus(migrator, logger)
	return nil
}

// selectAction returns the single action requested by f.
func selectAction(f actionFlags) (action, error) {
	var actions []action
	if f.up {
		actions = append(actions, action{"up", func(m *database.Migrator) error { return m.Up() }})
	}
	if f.down {
		actions = append(actions, action{"down", func(m *database.Migrator) error { return m.Down() }})
	}
	if f.steps != 0 {
		n := f.steps
		actions = append(actions, action{fmt.Sprintf("steps %d", n), func(m *database.Migrator) error { return m.Steps(n) }})
	}
	if f.status {
		actions = append(actions, action{"status", func(*database.Migrator) error { return nil }})
	}
	if f.force >= 0 {
		v := f.force
		actions = append(actions, action{fmt.Sprintf("force %d", v), func(m *database.Migrator) error { return m.Force(v) }})
	}

	switch len(actions) {
	case 0:
		return action{}, errNoAction
	case 1:
		return actions[0], nil
	default:
		return action{}, errors.New("specify only one action at a time")
	}
}

// logStatus logs the schema version recorded in the database.
func logStatus(migrator *database.Migrator, logger zerolog.Logger) {
	status, err := migrator.Status()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine schema version")
		return
	}
	if status.Empty {
		logger.Info().Msg("no recontact migrations applied")
		return
	}
	logger.Info().
		Uint("version", status.Version).
		Bool("dirty", status.Dirty).
		Msg("recontact schema version")
}
