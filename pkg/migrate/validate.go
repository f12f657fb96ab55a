package migrate

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	annotationUp             = "-- +goose Up"
	annotationDown           = "-- +goose Down"
	annotationStatementBegin = "-- +goose StatementBegin"
	annotationStatementEnd   = "-- +goose StatementEnd"
)

// ValidateDir checks the migration files under dir on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks filenames, version uniqueness and goose annotations for
// every .sql file at the root of fsys. Each file needs an Up section with a
// statement before its Down section, and balanced StatementBegin/End blocks.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		if err := validateAnnotations(string(b)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

// LatestVersion returns the highest version prefix in fsys, or "" when empty.
func LatestVersion(fsys fs.FS) (string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return "", err
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if m := sqlFileRe.FindStringSubmatch(e.Name()); m != nil {
			versions = append(versions, m[1])
		}
	}
	if len(versions) == 0 {
		return "", nil
	}
	sort.Strings(versions)
	return versions[len(versions)-1], nil
}

func validateAnnotations(sql string) error {
	var (
		upLine, downLine int
		upStatements     int
		openBlock        int
	)
	scanner := bufio.NewScanner(strings.NewReader(sql))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(text, annotationUp):
			if upLine != 0 {
				return fmt.Errorf("line %d: duplicate %q", line, annotationUp)
			}
			upLine = line
		case strings.HasPrefix(text, annotationDown):
			if downLine != 0 {
				return fmt.Errorf("line %d: duplicate %q", line, annotationDown)
			}
			if openBlock != 0 {
				return fmt.Errorf("line %d: %q inside an open statement block", line, annotationDown)
			}
			downLine = line
		case text == annotationStatementBegin:
			if openBlock != 0 {
				return fmt.Errorf("line %d: nested %q", line, annotationStatementBegin)
			}
			openBlock = line
		case text == annotationStatementEnd:
			if openBlock == 0 {
				return fmt.Errorf("line %d: %q without a matching begin", line, annotationStatementEnd)
			}
			openBlock = 0
		case text == "" || strings.HasPrefix(text, "--"):
		default:
			if upLine != 0 && downLine == 0 {
				upStatements++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	switch {
	case upLine == 0:
		return fmt.Errorf("missing %q", annotationUp)
	case downLine == 0:
		return fmt.Errorf("missing %q", annotationDown)
	case downLine < upLine:
		return fmt.Errorf("%q must come before %q", annotationUp, annotationDown)
	case openBlock != 0:
		return fmt.Errorf("line %d: %q never closed", openBlock, annotationStatementBegin)
	case upStatements == 0:
		return fmt.Errorf("up section has no statements")
	}
	return nil
}
