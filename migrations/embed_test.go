package main

import (
	"testing"
	"testing/fstest"
)

func TestEmbeddedMigrationSetIsValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	set := NewMigrationSet(nil)

	if err := set.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	files, err := set.List()
	if err != nil {
		t.Fatalf("List() = %v, want nil", err)
	}

	if len(files) == 0 {
		t.Fatal("List() returned no migration files")
	}

	// Pairing validation guarantees an even count.
	if len(files)%2 != 0 {
		t.Errorf("List() returned %d files, want an even number of up/down pairs", len(files))
	}

	if got := set.MaxVersion(); got < 1 {
		t.Errorf("MaxVersion() = %d, want >= 1", got)
	}
}

func TestMigrationSetValidateRejectsBadSets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name  string
		files map[string]*fstest.MapFile
	}{
		{
			name:  "empty set",
			files: map[string]*fstest.MapFile{},
		},
		{
			name: "missing down migration",
			files: map[string]*fstest.MapFile{
				"001_create_products.up.sql": {Data: []byte("CREATE TABLE t (id int);")},
			},
		},
		{
			name: "missing up migration",
			files: map[string]*fstest.MapFile{
				"001_create_products.down.sql": {Data: []byte("DROP TABLE t;")},
			},
		},
		{
			name: "sequence gap",
			files: map[string]*fstest.MapFile{
				"001_first.up.sql":   {Data: []byte("select 1;")},
				"001_first.down.sql": {Data: []byte("select 1;")},
				"003_third.up.sql":   {Data: []byte("select 1;")},
				"003_third.down.sql": {Data: []byte("select 1;")},
			},
		},
		{
			name: "sequence not starting at one",
			files: map[string]*fstest.MapFile{
				"002_second.up.sql":   {Data: []byte("select 1;")},
				"002_second.down.sql": {Data: []byte("select 1;")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := NewMigrationSet(fstest.MapFS(tt.files))

			if err := set.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestMigrationSetListIgnoresNonConformingFiles(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	set := NewMigrationSet(fstest.MapFS{
		"001_create.up.sql":   {Data: []byte("select 1;")},
		"001_create.down.sql": {Data: []byte("select 1;")},
		"README.md":           {Data: []byte("notes")},
		"helper.go":           {Data: []byte("package main")},
		"01_short.up.sql":     {Data: []byte("select 1;")},
	})

	files, err := set.List()
	if err != nil {
		t.Fatalf("List() = %v, want nil", err)
	}

	if len(files) != 2 {
		t.Errorf("List() = %v, want exactly the two conforming files", files)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parsed, err := parseMigrationFilename("002_create_upload_jobs.up.sql")
	if err != nil {
		t.Fatalf("parseMigrationFilename() = %v, want nil", err)
	}

	if parsed.Sequence != 2 || parsed.Name != "create_upload_jobs" || parsed.Direction != "up" {
		t.Errorf("parseMigrationFilename() = %+v, want sequence 2, name create_upload_jobs, direction up", parsed)
	}

	if _, err := parseMigrationFilename("create_upload_jobs.sql"); err == nil {
		t.Error("parseMigrationFilename() accepted a malformed filename")
	}
}
