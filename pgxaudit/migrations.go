package pgxaudit

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// ErrMigrationExists is returned by CopyMigrations when a target file is present.
var ErrMigrationExists = errors.New("pgxaudit: migration already exists")

// MigrationFiles returns the embedded migration file names in apply order.
func MigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Migration returns the SQL of one embedded migration.
func Migration(name string) ([]byte, error) {
	content, err := fs.ReadFile(embeddedMigrations, path.Join("migrations", name))
	if err != nil {
		return nil, fmt.Errorf("reading embedded migration %s: %w", name, err)
	}
	return content, nil
}

// CopyMigrations writes the embedded migrations into dstDir and returns
// the written paths. Existing files are an error unless overwrite is set.
func CopyMigrations(dstDir string, overwrite bool) ([]string, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination directory: %w", err)
	}

	files, err := MigrationFiles()
	if err != nil {
		return nil, err
	}

	written := make([]string, 0, len(files))
	for _, name := range files {
		target := filepath.Join(dstDir, name)
		if !overwrite {
			if _, err := os.Stat(target); err == nil {
				return written, fmt.Errorf("%w: %s", ErrMigrationExists, target)
			} else if !os.IsNotExist(err) {
				return written, fmt.Errorf("checking existing migration %s: %w", target, err)
			}
		}

		content, err := Migration(name)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return written, fmt.Errorf("writing migration %s: %w", target, err)
		}
		written = append(written, target)
	}

	return written, nil
}
