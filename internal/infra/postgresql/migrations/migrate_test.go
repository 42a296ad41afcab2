package migrations

import "testing"

func TestMigrationsOrderedAndUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	prev := ""
	for _, m := range all() {
		if m.ID == "" || m.Migrate == nil || m.Rollback == nil {
			t.Fatalf("migration %q is incomplete", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			t.Fatalf("duplicate migration id %q", m.ID)
		}
		if m.ID <= prev {
			t.Fatalf("migration %q is out of order after %q", m.ID, prev)
		}
		seen[m.ID] = struct{}{}
		prev = m.ID
	}
}
