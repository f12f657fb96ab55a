package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	dir     string
	name    string
	version string
}

func main() {
	ctx := context.Background()
	logg := logger.Bootstrap("migrate")

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: "+strings.Join(commandNames(), "|"))
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	opts := options{dir: *dir, name: *name, version: *version}

	// create and validate only touch the filesystem
	switch *cmd {
	case "create":
		if opts.name == "" {
			fmt.Fprintln(os.Stderr, "missing -name for create")
			os.Exit(1)
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	if !slices.Contains(migrate.Commands(), *cmd) {
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
	source, err := migrate.Source(opts.dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrations source: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	if cfg.DB.IsSQLite() {
		requireResource(ctx, logg, "database", fmt.Errorf("goose migrations target postgres; sqlite schemas are built by the test helpers"))
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	runner, err := migrate.NewRunner(sqlDB, source, logg)
	requireResource(ctx, logg, "goose provider", err)

	logg.Info(ctx, "migrate ready")
	if err := runner.Run(ctx, *cmd, opts.version); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func commandNames() []string {
	names := append([]string{"create", "validate"}, migrate.Commands()...)
	sort.Strings(names)
	return names
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
