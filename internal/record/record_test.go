package record

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func sampleRecord(generation int64, outcome Outcome) Record {
	return Record{
		Deployment: "web",
		Generation: generation,
		Action:     "scale",
		Outcome:    outcome,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(generation) * time.Second),
	}
}

func testStores(t *testing.T, retention int) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"), retention)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(retention),
		"sqlite": sqlite,
	}
}

func TestStore_AppendAndList(t *testing.T) {
	for name, store := range testStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for gen := int64(1); gen <= 3; gen++ {
				if err := store.Append(ctx, sampleRecord(gen, OutcomeApplied)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			records, err := store.List(ctx, "web", 0)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(records) != 3 {
				t.Fatalf("expected 3 records, got %d", len(records))
			}
			// Newest first.
			if records[0].Generation != 3 || records[2].Generation != 1 {
				t.Fatalf("unexpected ordering: %+v", records)
			}

			last, ok, err := store.Last(ctx, "web")
			if err != nil || !ok {
				t.Fatalf("last: ok=%v err=%v", ok, err)
			}
			if last.Generation != 3 {
				t.Fatalf("expected last generation 3, got %d", last.Generation)
			}
		})
	}
}

func TestStore_RetentionKeepsLastN(t *testing.T) {
	for name, store := range testStores(t, 5) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for gen := int64(1); gen <= 12; gen++ {
				if err := store.Append(ctx, sampleRecord(gen, OutcomeApplied)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			records, err := store.List(ctx, "web", 0)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(records) != 5 {
				t.Fatalf("expected retention of 5, got %d", len(records))
			}
			if records[0].Generation != 12 || records[4].Generation != 8 {
				t.Fatalf("expected generations 12..8, got %+v", records)
			}
		})
	}
}

func TestStore_ListLimit(t *testing.T) {
	for name, store := range testStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for gen := int64(1); gen <= 6; gen++ {
				if err := store.Append(ctx, sampleRecord(gen, OutcomeNoop)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			records, err := store.List(ctx, "web", 2)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(records) != 2 || records[0].Generation != 6 {
				t.Fatalf("unexpected limited list: %+v", records)
			}
		})
	}
}

func TestStore_DeploymentsAreIndependent(t *testing.T) {
	for name, store := range testStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Append(ctx, sampleRecord(1, OutcomeApplied)); err != nil {
				t.Fatalf("append: %v", err)
			}
			other := sampleRecord(1, OutcomeNoop)
			other.Deployment = "worker"
			if err := store.Append(ctx, other); err != nil {
				t.Fatalf("append: %v", err)
			}

			records, err := store.List(ctx, "worker", 0)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(records) != 1 || records[0].Outcome != OutcomeNoop {
				t.Fatalf("unexpected records for worker: %+v", records)
			}

			if _, ok, err := store.Last(ctx, "unknown"); err != nil || ok {
				t.Fatalf("expected no records for unknown deployment, ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	store, err := OpenSQLite(path, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for gen := int64(1); gen <= 3; gen++ {
		if err := store.Append(ctx, sampleRecord(gen, OutcomeApplied)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.List(ctx, "web", 0)
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records after reopen, got %d", len(records))
	}
	if !records[0].Timestamp.After(records[2].Timestamp) {
		t.Fatalf("timestamps not preserved in order: %v", func() []string {
			var out []string
			for _, r := range records {
				out = append(out, fmt.Sprint(r.Timestamp))
			}
			return out
		}())
	}
}
