package migrate_test

import (
	"testing"

	"requestline/internal/db"
	"requestline/internal/migrate"
)

func TestMigrateCreatesSchemaAndIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op, not a re-apply
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("repeat migrate: %v", err)
	}

	for _, table := range []string{"requests", "steps", "attachments", "inspections", "releases", "codes", "actors", "api_keys"} {
		var n int
		if err := conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing after migrate: %v", table, err)
		}
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("schema_version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected schema version 1, got %d", version)
	}
}
