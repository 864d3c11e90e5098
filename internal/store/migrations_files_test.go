package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestBoardsMigrationDeclaresVisibilityConstraint(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(migrationsDir, "0001_boards.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(contents)
	for _, fragment := range []string{
		"CHECK (NOT is_public OR share_token IS NOT NULL)",
		"share_token TEXT UNIQUE",
		"owner_id TEXT REFERENCES users(id) ON DELETE SET NULL",
		"section_id TEXT REFERENCES sections(id) ON DELETE SET NULL",
	} {
		if !strings.Contains(sqlText, fragment) {
			t.Fatalf("expected migration to contain %q", fragment)
		}
	}
}
