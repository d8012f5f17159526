package migrations_test

import (
	"testing"

	"github.com/forgehq/forge/internal/migrations"
)

func TestOrdered_BuiltinFirstThenUserLexicographic(t *testing.T) {
	user := []migrations.Migration{
		{Version: "0010", Name: "add_widgets", SQL: "CREATE TABLE widgets (id VARCHAR PRIMARY KEY);"},
		{Version: "0003", Name: "add_index", SQL: "CREATE INDEX idx ON widgets (id);"},
	}

	ordered := migrations.Ordered(user)

	if len(ordered) != len(migrations.Builtin)+len(user) {
		t.Fatalf("expected %d migrations, got %d", len(migrations.Builtin)+len(user), len(ordered))
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Version < ordered[i-1].Version {
			t.Fatalf("not sorted: %s before %s", ordered[i-1].Version, ordered[i].Version)
		}
	}
	// Builtin's 0000 must still come before any user migration numbered higher.
	if ordered[0].Version != "0000" {
		t.Fatalf("expected 0000 first, got %s", ordered[0].Version)
	}
}

func TestBuiltin_VersionsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range migrations.Builtin {
		if seen[m.Version] {
			t.Fatalf("duplicate builtin version %s", m.Version)
		}
		seen[m.Version] = true
	}
}
