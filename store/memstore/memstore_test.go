package memstore

import (
	"testing"

	"github.com/jarbas-hive/hivemind-go/store"
)

func TestAddAssignsIncrementingClientID(t *testing.T) {
	s := New()
	first := store.NewClient(0, "a", "")
	second := store.NewClient(0, "b", "")

	if _, err := s.Add(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if _, err := s.Add(second); err != nil {
		t.Fatalf("add second: %v", err)
	}
	if first.ClientID != 1 || second.ClientID != 2 {
		t.Fatalf("got client ids %d, %d; want 1, 2", first.ClientID, second.ClientID)
	}
}

func TestAddDuplicateMergesIntoExisting(t *testing.T) {
	s := New()
	c := store.NewClient(0, "a", "old")
	if _, err := s.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	dup := store.NewClient(0, "a", "new")
	isDup, err := s.Add(dup)
	if err != nil {
		t.Fatalf("add dup: %v", err)
	}
	if !isDup {
		t.Fatalf("expected duplicate flag set")
	}
	got, err := s.GetByKey("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "new" {
		t.Fatalf("got name %q, want %q", got.Name, "new")
	}
}

func TestDeleteTombstonesRatherThanRemoves(t *testing.T) {
	s := New()
	if _, err := s.Add(store.NewClient(0, "a", "")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add(store.NewClient(0, "b", "")); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, key := range []string{"a", "b"} {
		if ok, err := s.Delete(key); err != nil || !ok {
			t.Fatalf("delete %q: ok=%v err=%v", key, ok, err)
		}
	}
	if got, err := s.GetByKey("a"); err != nil || got != nil {
		t.Fatalf("expected a revoked key to stop resolving, got %+v err=%v", got, err)
	}
	all, err := s.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2 (tombstones retained, not collapsed)", len(all))
	}
	if !all[0].IsTombstone() || !all[1].IsTombstone() {
		t.Fatalf("expected both records tombstoned, got %+v", all)
	}
	if all[0].ClientID == all[1].ClientID {
		t.Fatalf("expected tombstones to keep distinct client ids, both got %d", all[0].ClientID)
	}
	// A fresh Add under the revoked key allocates a new id, never reuses one.
	if _, err := s.Add(store.NewClient(0, "a", "")); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	got, _ := s.GetByKey("a")
	if got == nil || got.ClientID != 3 {
		t.Fatalf("expected the re-added client to get the next id, got %+v", got)
	}
}

func TestGetByKeyMissingReturnsNil(t *testing.T) {
	s := New()
	got, err := s.GetByKey("missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestEnsureUtteranceTypeForcedOnAdd(t *testing.T) {
	s := New()
	c := store.NewClient(0, "a", "")
	c.AllowedTypes = []string{"custom"}
	if _, err := s.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, _ := s.GetByKey("a")
	found := false
	for _, at := range got.AllowedTypes {
		if at == "recognizer_loop:utterance" {
			found = true
		}
	}
	if !found {
		t.Fatalf("allowed_types %v missing forced utterance type", got.AllowedTypes)
	}
}
