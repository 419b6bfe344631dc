package main

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filenames follow 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// MigrationSet wraps the embedded migration files with structural validation:
// strict filenames, up/down pairing, and a gapless sequence starting at 001.
type MigrationSet struct {
	fs fs.FS
}

// migrationFile is one parsed migration filename.
type migrationFile struct {
	Sequence  int
	Name      string
	Direction string
}

// NewMigrationSet creates a MigrationSet. Pass nil to use the migrations
// embedded in this binary.
func NewMigrationSet(filesystem fs.FS) *MigrationSet {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &MigrationSet{fs: filesystem}
}

// FS returns the underlying migration filesystem for the iofs source driver.
func (m *MigrationSet) FS() fs.FS {
	return m.fs
}

// List returns all migration filenames that match the naming standard, sorted.
func (m *MigrationSet) List() ([]string, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks the embedded set before any state-changing operation runs.
func (m *MigrationSet) Validate() error {
	files, err := m.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	pairs := make(map[string]map[string]bool) // "001_name" -> direction set
	sequences := make(map[int]bool)

	for _, file := range files {
		parsed, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", parsed.Sequence, parsed.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][parsed.Direction] = true
		sequences[parsed.Sequence] = true

		if _, err := fs.ReadFile(m.fs, file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !directions["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return validateSequence(sequences)
}

// MaxVersion returns the highest migration sequence number in the set.
func (m *MigrationSet) MaxVersion() int {
	files, err := m.List()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, file := range files {
		if parsed, err := parseMigrationFilename(file); err == nil && parsed.Sequence > maxSequence {
			maxSequence = parsed.Sequence
		}
	}

	return maxSequence
}

func parseMigrationFilename(filename string) (*migrationFile, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename: %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in %s: %w", filename, err)
	}

	return &migrationFile{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
	}, nil
}

// validateSequence rejects gaps and sequences that do not start at 001.
func validateSequence(sequences map[int]bool) error {
	numbers := make([]int, 0, len(sequences))
	for seq := range sequences {
		numbers = append(numbers, seq)
	}

	sort.Ints(numbers)

	if len(numbers) == 0 {
		return nil
	}

	if numbers[0] != 1 {
		return fmt.Errorf("migration sequence must start at 001, found %03d", numbers[0])
	}

	for i := 1; i < len(numbers); i++ {
		if numbers[i] != numbers[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d",
				numbers[i-1]+1, numbers[i])
		}
	}

	return nil
}
