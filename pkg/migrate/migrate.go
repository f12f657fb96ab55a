package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// DefaultDir is where create and validate write and read migration files.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migrations a runner applies. DefaultDir maps to the set
// compiled into the binary so deployed images do not need the source tree.
func Source(dir string) (fs.FS, error) {
	if dir == "" || filepath.Clean(dir) == filepath.Clean(DefaultDir) {
		return fs.Sub(embedded, "migrations")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat migrations dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations path %q is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Runner applies goose migrations. The schema uses postgres DDL (jsonb,
// partial indexes, plpgsql triggers) so only the postgres dialect is wired.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

// NewRunner builds a goose provider over fsys.
func NewRunner(db *sql.DB, fsys fs.FS, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		return nil, fmt.Errorf("migrations source is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Commands lists what Run accepts.
func Commands() []string {
	return []string{"up", "up-by-one", "down", "redo", "status", "version"}
}

// Run executes command. target is only read by "version" and is a
// YYYYMMDDHHMMSS migration version.
func (r *Runner) Run(ctx context.Context, command, target string) error {
	switch command {
	case "up":
		results, err := r.provider.Up(ctx)
		r.logResults(ctx, results)
		return wrap(command, err)
	case "up-by-one":
		result, err := r.provider.UpByOne(ctx)
		r.logResults(ctx, []*goose.MigrationResult{result})
		return wrap(command, err)
	case "down":
		result, err := r.provider.Down(ctx)
		r.logResults(ctx, []*goose.MigrationResult{result})
		return wrap(command, err)
	case "redo":
		down, err := r.provider.Down(ctx)
		r.logResults(ctx, []*goose.MigrationResult{down})
		if err != nil {
			return wrap(command, err)
		}
		up, err := r.provider.UpByOne(ctx)
		r.logResults(ctx, []*goose.MigrationResult{up})
		return wrap(command, err)
	case "status":
		return r.status(ctx)
	case "version":
		return r.migrateTo(ctx, target)
	}
	return fmt.Errorf("unknown migrate command %q", command)
}

func (r *Runner) migrateTo(ctx context.Context, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("target version is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	r.logResults(ctx, results)
	return wrap(fmt.Sprintf("migrate to %d", target), err)
}

func (r *Runner) status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return wrap("status", err)
	}
	if r.logg == nil {
		return nil
	}
	for _, st := range statuses {
		fields := map[string]any{
			"version": st.Source.Version,
			"path":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migrate.status")
	}
	return nil
}

func (r *Runner) logResults(ctx context.Context, results []*goose.MigrationResult) {
	if r.logg == nil {
		return
	}
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		entryCtx := r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"path":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		})
		if res.Error != nil {
			r.logg.Error(entryCtx, "migrate.failed", res.Error)
			continue
		}
		r.logg.Info(entryCtx, "migrate.applied")
	}
}

func wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
