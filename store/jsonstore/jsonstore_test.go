package jsonstore

import (
	"path/filepath"
	"testing"

	"github.com/jarbas-hive/hivemind-go/store"
)

func TestAddPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := store.NewClient(0, "a", "alice")
	if _, err := s.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetByKey("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "alice" {
		t.Fatalf("got %+v, want name alice", got)
	}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	all, err := s.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("got %d records, want 0", len(all))
	}
}

func TestDeleteTombstonesOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Add(store.NewClient(0, "a", "alice")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add(store.NewClient(0, "b", "bob")); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, key := range []string{"a", "b"} {
		if ok, err := s.Delete(key); err != nil || !ok {
			t.Fatalf("delete %q: ok=%v err=%v", key, ok, err)
		}
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, err := reopened.GetByKey("a"); err != nil || got != nil {
		t.Fatalf("expected a revoked key to stop resolving after reload, got %+v err=%v", got, err)
	}
	all, err := reopened.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records after reload, want 2 (tombstones not collapsed)", len(all))
	}
	if !all[0].IsTombstone() || !all[1].IsTombstone() {
		t.Fatalf("expected both records tombstoned after reload, got %+v", all)
	}
	if all[0].ClientID == all[1].ClientID {
		t.Fatalf("expected tombstones to keep distinct client ids, both got %d", all[0].ClientID)
	}
	// New ids keep counting past tombstones after a reload.
	if _, err := reopened.Add(store.NewClient(0, "c", "carol")); err != nil {
		t.Fatalf("add after reload: %v", err)
	}
	got, _ := reopened.GetByKey("c")
	if got == nil || got.ClientID != 3 {
		t.Fatalf("expected the next id to be allocated past the tombstones, got %+v", got)
	}
}

func TestSyncPicksUpExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	writer, err := Open(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	if _, err := writer.Add(store.NewClient(0, "a", "alice")); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := reader.GetByKey("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatalf("expected reader to observe writer's change via Sync")
	}
}
