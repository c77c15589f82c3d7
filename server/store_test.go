package server

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pluraal.sqlite")
	store, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testStores returns both Store implementations so the shared suites run
// against each.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func TestScopeStoreCRUD(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			now := time.Now().UTC().Truncate(time.Millisecond)
			rec := ScopeRecord{
				ID:        "sc-1",
				Name:      "loan eligibility",
				Source:    json.RawMessage(`{"inputs":{},"calculations":{},"outputs":[]}`),
				CreatedAt: now,
				UpdatedAt: now,
			}

			if err := s.CreateScope(ctx, rec); err != nil {
				t.Fatalf("CreateScope: unexpected error: %v", err)
			}
			if err := s.CreateScope(ctx, rec); !errors.Is(err, ErrScopeExists) {
				t.Fatalf("CreateScope duplicate: got %v, want ErrScopeExists", err)
			}

			got, ok, err := s.GetScope(ctx, "sc-1")
			if err != nil {
				t.Fatalf("GetScope: unexpected error: %v", err)
			}
			if !ok {
				t.Fatal("GetScope: expected ok=true")
			}
			if got.ID != "sc-1" || got.Name != "loan eligibility" {
				t.Fatalf("GetScope: got %+v", got)
			}
			if string(got.Source) != string(rec.Source) {
				t.Fatalf("GetScope: source = %s", got.Source)
			}

			_, ok, err = s.GetScope(ctx, "missing")
			if err != nil {
				t.Fatalf("GetScope missing: unexpected error: %v", err)
			}
			if ok {
				t.Fatal("GetScope missing: expected ok=false")
			}

			list, err := s.ListScopes(ctx)
			if err != nil {
				t.Fatalf("ListScopes: unexpected error: %v", err)
			}
			if len(list) != 1 {
				t.Fatalf("ListScopes: got %d items, want 1", len(list))
			}

			rec.Name = "renamed"
			rec.UpdatedAt = now.Add(time.Second)
			if err := s.UpdateScope(ctx, rec); err != nil {
				t.Fatalf("UpdateScope: unexpected error: %v", err)
			}
			got, _, _ = s.GetScope(ctx, "sc-1")
			if got.Name != "renamed" {
				t.Fatalf("UpdateScope: name not updated, got %q", got.Name)
			}

			if err := s.UpdateScope(ctx, ScopeRecord{ID: "missing", Source: json.RawMessage(`{}`)}); !errors.Is(err, ErrScopeNotFound) {
				t.Fatalf("UpdateScope missing: got %v, want ErrScopeNotFound", err)
			}

			if err := s.DeleteScope(ctx, "sc-1"); err != nil {
				t.Fatalf("DeleteScope: unexpected error: %v", err)
			}
			_, ok, _ = s.GetScope(ctx, "sc-1")
			if ok {
				t.Fatal("DeleteScope: record still exists")
			}
			if err := s.DeleteScope(ctx, "sc-1"); !errors.Is(err, ErrScopeNotFound) {
				t.Fatalf("DeleteScope missing: got %v, want ErrScopeNotFound", err)
			}
		})
	}
}

func TestRunStoreCRUD(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			recs := []RunRecord{
				{
					ID:         "run-1",
					ScopeID:    "sc-1",
					Status:     RunStatusSucceeded,
					Inputs:     json.RawMessage(`{"age":42}`),
					Outputs:    json.RawMessage(`{"eligible":true}`),
					Trace:      json.RawMessage(`[]`),
					StartedAt:  now,
					FinishedAt: now.Add(time.Millisecond),
				},
				{
					ID:         "run-2",
					ScopeID:    "sc-2",
					Status:     RunStatusFailed,
					Error:      "no rule matched",
					StartedAt:  now.Add(time.Second),
					FinishedAt: now.Add(2 * time.Second),
				},
			}
			for _, rec := range recs {
				if err := s.CreateRun(ctx, rec); err != nil {
					t.Fatalf("CreateRun(%s): unexpected error: %v", rec.ID, err)
				}
			}

			got, ok, err := s.GetRun(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRun: unexpected error: %v", err)
			}
			if !ok {
				t.Fatal("GetRun: expected ok=true")
			}
			if got.Status != RunStatusSucceeded || got.ScopeID != "sc-1" {
				t.Fatalf("GetRun: got %+v", got)
			}
			if string(got.Outputs) != `{"eligible":true}` {
				t.Fatalf("GetRun: outputs = %s", got.Outputs)
			}

			got, _, _ = s.GetRun(ctx, "run-2")
			if got.Status != RunStatusFailed || got.Error != "no rule matched" {
				t.Fatalf("GetRun failed run: got %+v", got)
			}

			_, ok, err = s.GetRun(ctx, "missing")
			if err != nil {
				t.Fatalf("GetRun missing: unexpected error: %v", err)
			}
			if ok {
				t.Fatal("GetRun missing: expected ok=false")
			}

			all, err := s.ListRuns(ctx, "")
			if err != nil {
				t.Fatalf("ListRuns: unexpected error: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("ListRuns: got %d items, want 2", len(all))
			}
			if all[0].ID != "run-1" || all[1].ID != "run-2" {
				t.Fatalf("ListRuns: order = %s, %s", all[0].ID, all[1].ID)
			}

			filtered, err := s.ListRuns(ctx, "sc-2")
			if err != nil {
				t.Fatalf("ListRuns filtered: unexpected error: %v", err)
			}
			if len(filtered) != 1 || filtered[0].ID != "run-2" {
				t.Fatalf("ListRuns filtered: got %+v", filtered)
			}
		})
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			old := RunRecord{
				ID:         "old",
				Status:     RunStatusSucceeded,
				StartedAt:  now.Add(-48 * time.Hour),
				FinishedAt: now.Add(-48 * time.Hour),
			}
			fresh := RunRecord{
				ID:         "fresh",
				Status:     RunStatusSucceeded,
				StartedAt:  now,
				FinishedAt: now,
			}
			_ = s.CreateRun(ctx, old)
			_ = s.CreateRun(ctx, fresh)

			deleted, err := s.DeleteRunsBefore(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("DeleteRunsBefore: unexpected error: %v", err)
			}
			if deleted != 1 {
				t.Fatalf("DeleteRunsBefore: deleted %d, want 1", deleted)
			}

			_, ok, _ := s.GetRun(ctx, "old")
			if ok {
				t.Fatal("old run still present after sweep")
			}
			_, ok, _ = s.GetRun(ctx, "fresh")
			if !ok {
				t.Fatal("fresh run removed by sweep")
			}
		})
	}
}

func TestDeleteRunsBeforeSubSecondBoundary(t *testing.T) {
	// Stored timestamps must order correctly at sub-second boundaries even
	// though SQLite compares them as strings: ".5" has to sort before ".51".
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 0, 0, 0, 500_000_000, time.UTC)

			stale := RunRecord{
				ID:         "stale",
				Status:     RunStatusSucceeded,
				StartedAt:  base,
				FinishedAt: base,
			}
			kept := RunRecord{
				ID:         "kept",
				Status:     RunStatusSucceeded,
				StartedAt:  base.Add(20 * time.Millisecond),
				FinishedAt: base.Add(20 * time.Millisecond),
			}
			_ = s.CreateRun(ctx, stale)
			_ = s.CreateRun(ctx, kept)

			deleted, err := s.DeleteRunsBefore(ctx, base.Add(10*time.Millisecond))
			if err != nil {
				t.Fatalf("DeleteRunsBefore: unexpected error: %v", err)
			}
			if deleted != 1 {
				t.Fatalf("DeleteRunsBefore: deleted %d, want 1", deleted)
			}

			_, ok, _ := s.GetRun(ctx, "stale")
			if ok {
				t.Fatal("stale run still present after sweep")
			}
			_, ok, _ = s.GetRun(ctx, "kept")
			if !ok {
				t.Fatal("kept run removed by sweep")
			}
		})
	}
}
