package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
SELECT 'up SQL query: %[1]s';
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
SELECT 'down SQL query: %[1]s';
-- +goose StatementEnd
`

// CreateSQLMigration writes <dir>/<version>_<name>.sql from the goose
// template. The version is the current UTC time, bumped past the newest
// existing file so two migrations created in the same second stay ordered.
func CreateSQLMigration(dir, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now)
}

func createSQLMigration(dir, name string, now func() time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe := sanitizeName(name)
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version, err := nextVersion(dir, now().UTC())
	if err != nil {
		return "", err
	}
	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version, safe))

	f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", fullpath, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, safe); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

func sanitizeName(name string) string {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	return strings.Trim(safe, "_")
}

func nextVersion(dir string, now time.Time) (string, error) {
	candidate := now.Format(versionLayout)
	latest, err := LatestVersion(os.DirFS(dir))
	if err != nil {
		return "", fmt.Errorf("scan %q: %w", dir, err)
	}
	if latest == "" || candidate > latest {
		return candidate, nil
	}
	prev, err := time.Parse(versionLayout, latest)
	if err != nil {
		n, convErr := strconv.ParseInt(latest, 10, 64)
		if convErr != nil {
			return "", fmt.Errorf("unparseable version %q", latest)
		}
		return strconv.FormatInt(n+1, 10), nil
	}
	return prev.Add(time.Second).Format(versionLayout), nil
}
