package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"servicemanual/api/internal/auth"
	"servicemanual/api/internal/config"
	"servicemanual/api/internal/logger"
	"servicemanual/api/internal/migrator"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/store"
	"servicemanual/api/internal/telemetry"
)

func main() {
	cfg := config.Load()

	app := &cli.Command{
		Name:  "guidectl",
		Usage: "Maintenance commands for published service manual guides",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Write locally but make no publishing API calls", Value: cfg.MigratorDryRun},
			&cli.StringFlag{Name: "database-url", Usage: "Postgres connection string", Value: cfg.DatabaseURL, Sources: cli.EnvVars("DATABASE_URL")},
		},
		Commands: []*cli.Command{
			changeNoteCmd(cfg),
			makeMajorCmd(cfg),
			makeMinorCmd(cfg),
			reviseVersionCmd(cfg),
			applyCmd(cfg),
			migrateCmd(cfg),
			tokenCmd(cfg),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func changeNoteCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "change-note",
		Usage:     "Replace the change note of a published edition",
		ArgsUsage: "<edition-id> <note>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			editionID, note := cmd.Args().Get(0), cmd.Args().Get(1)
			if editionID == "" || note == "" {
				return fmt.Errorf("edition id and note are required")
			}
			return withMigrator(ctx, cmd, cfg, func(m *migrator.Migrator) error {
				e, err := m.UpdateChangeNote(ctx, editionID, note)
				printEdition(e, err, m.DryRun())
				return err
			})
		},
	}
}

func makeMajorCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "make-major",
		Usage:     "Mark a published edition as a major update",
		ArgsUsage: "<edition-id> <note>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			editionID, note := cmd.Args().Get(0), cmd.Args().Get(1)
			if editionID == "" || note == "" {
				return fmt.Errorf("edition id and note are required")
			}
			return withMigrator(ctx, cmd, cfg, func(m *migrator.Migrator) error {
				e, err := m.MakeMajor(ctx, editionID, note)
				printEdition(e, err, m.DryRun())
				return err
			})
		},
	}
}

func makeMinorCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "make-minor",
		Usage:     "Mark a published edition as a minor update",
		ArgsUsage: "<edition-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			editionID := cmd.Args().First()
			if editionID == "" {
				return fmt.Errorf("edition id is required")
			}
			return withMigrator(ctx, cmd, cfg, func(m *migrator.Migrator) error {
				e, err := m.MakeMinor(ctx, editionID)
				printEdition(e, err, m.DryRun())
				return err
			})
		},
	}
}

func reviseVersionCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "revise-version",
		Usage:     "Overwrite the version number of an edition in any state",
		ArgsUsage: "<edition-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "version", Usage: "New version number", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			editionID := cmd.Args().First()
			if editionID == "" {
				return fmt.Errorf("edition id is required")
			}
			return withMigrator(ctx, cmd, cfg, func(m *migrator.Migrator) error {
				e, err := m.ReviseVersion(ctx, editionID, int(cmd.Int("version")))
				printEdition(e, err, m.DryRun())
				return err
			})
		},
	}
}

func applyCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Run a YAML file of corrections",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Path to the corrections file", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			batch, err := migrator.LoadBatch(cmd.String("file"))
			if err != nil {
				return err
			}
			return withMigrator(ctx, cmd, cfg, func(m *migrator.Migrator) error {
				results, err := m.Apply(ctx, batch)
				for _, r := range results {
					status := "ok"
					if r.Err != nil {
						status = "failed: " + r.Err.Error()
					}
					fmt.Printf("%-15s %-30s %s\n", r.Correction.Operation, r.Correction.EditionID, status)
				}
				fmt.Printf("%d of %d corrections attempted\n", len(results), len(batch.Corrections))
				return err
			})
		},
	}
}

func migrateCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending SQL migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "Migrations directory", Value: cfg.MigrationsDir},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			db, err := openDB(ctx, cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(ctx, db, cmd.String("dir"))
			for _, version := range applied {
				fmt.Printf("applied %s\n", version)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("database is up to date")
			}
			return nil
		},
	}
}

func tokenCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a development token for an acting user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "User id", Required: true},
			&cli.StringFlag{Name: "name", Usage: "Display name"},
			&cli.StringFlag{Name: "role", Usage: "viewer, writer, editor, publisher or admin", Value: "writer"},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: cfg.TokenTTL},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := strings.TrimSpace(cmd.String("name"))
			if name == "" {
				name = cmd.String("user")
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), cmd.String("user"), name, cmd.String("role"), cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func openDB(ctx context.Context, cmd *cli.Command) (*sql.DB, error) {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := store.Open(openCtx, cmd.String("database-url"), store.CommandPool)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}

func withMigrator(ctx context.Context, cmd *cli.Command, cfg config.Config, fn func(*migrator.Migrator) error) error {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	db, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := store.NewPostgresStore(db)
	metrics := telemetry.New()
	api := publishing.NewClient(cfg.PublishingAPIURL, cfg.PublishingAPIToken, cfg.PublishingAPITimeout, metrics)
	m := migrator.New(repo, api, publishing.NewSnapshotter(repo), log,
		migrator.WithDryRun(cmd.Bool("dry-run")),
		migrator.WithMetrics(metrics),
	)
	return fn(m)
}

func printEdition(e store.Edition, err error, dryRun bool) {
	if err != nil && e.ID == "" {
		return
	}
	suffix := ""
	if dryRun {
		suffix = " (dry run, publishing API not called)"
	}
	fmt.Printf("edition %s: version %d, %s update, change note %q%s\n", e.ID, e.Version, e.UpdateType, e.ChangeNote, suffix)
}
