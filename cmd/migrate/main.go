package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/migrate"
)

type command func(ctx context.Context, runner *migrate.Runner) error

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory; empty runs the set built into the binary")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate work on files only
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name)
		exitOn(err, "create migration")
		fmt.Println("created migration:", path)
		return
	case "validate":
		var err error
		if *dir == "" {
			err = migrate.ValidateEmbedded()
		} else {
			err = migrate.ValidateDir(*dir)
		}
		exitOn(err, "migration validation")
		fmt.Println("migration validation passed")
		return
	}

	commands := map[string]command{
		"up": func(ctx context.Context, r *migrate.Runner) error {
			applied, err := r.Up(ctx)
			fmt.Printf("applied %d migration(s)\n", applied)
			return err
		},
		"down": func(ctx context.Context, r *migrate.Runner) error {
			return r.Down(ctx)
		},
		"status": printStatus,
		"version": func(ctx context.Context, r *migrate.Runner) error {
			if *version == "" {
				return fmt.Errorf("missing -version")
			}
			return r.To(ctx, *version)
		},
	}
	run, ok := commands[*cmd]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	if cfg.DB.IsSQLite() {
		exitOn(fmt.Errorf("goose migrations target postgres; sqlite is migrated from models on startup"), "migrate")
	}

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd, "dir": *dir})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err, "connect database")
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	exitOn(err, "sql database")
	fsys, err := migrate.Source(*dir)
	exitOn(err, "migration source")
	runner, err := migrate.NewRunner(sqlDB, fsys)
	exitOn(err, "goose provider")

	logg.Info(ctx, "migrate ready")
	if err := run(ctx, runner); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
}

func printStatus(ctx context.Context, r *migrate.Runner) error {
	rows, err := r.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, row := range rows {
		state, at := "pending", "-"
		if row.Applied {
			state, at = "applied", row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", row.Version, state, at, row.Path)
	}
	return w.Flush()
}

func exitOn(err error, what string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
