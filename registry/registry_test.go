package registry

import (
	"testing"

	"github.com/jarbas-hive/hivemind-go/binarydata"
	"github.com/jarbas-hive/hivemind-go/store"
)

type fakeStore struct{ store.Store }

func TestRegisterStore_DuplicateNamePanics(t *testing.T) {
	RegisterStore("registry-test-store", func(string) (store.Store, error) { return fakeStore{}, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on duplicate registration")
		}
	}()
	RegisterStore("registry-test-store", func(string) (store.Store, error) { return fakeStore{}, nil })
}

func TestNewStore_UnknownBackend(t *testing.T) {
	if _, err := NewStore("does-not-exist", ""); err == nil {
		t.Fatal("expected an error for an unregistered store backend")
	}
}

func TestNewStore_DispatchesToFactory(t *testing.T) {
	called := false
	RegisterStore("registry-test-store-2", func(dsn string) (store.Store, error) {
		called = true
		if dsn != "some-dsn" {
			t.Fatalf("got dsn %q", dsn)
		}
		return fakeStore{}, nil
	})
	if _, err := NewStore("registry-test-store-2", "some-dsn"); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected the registered factory to be invoked")
	}
}

func TestNewBinaryHandler_NoopIsPreregistered(t *testing.T) {
	h, err := NewBinaryHandler("noop", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.(*binarydata.NoopHandler); !ok {
		t.Fatalf("got %T, want *binarydata.NoopHandler", h)
	}
}

func TestNewBinaryHandler_UnknownBackend(t *testing.T) {
	if _, err := NewBinaryHandler("does-not-exist", nil); err == nil {
		t.Fatal("expected an error for an unregistered binary handler backend")
	}
}

func TestStoreNames_SortedAndContainsRegistered(t *testing.T) {
	RegisterStore("registry-test-store-3", func(string) (store.Store, error) { return fakeStore{}, nil })
	names := StoreNames()
	found := false
	for i, n := range names {
		if n == "registry-test-store-3" {
			found = true
		}
		if i > 0 && names[i-1] > n {
			t.Fatalf("StoreNames not sorted: %v", names)
		}
	}
	if !found {
		t.Fatalf("expected registry-test-store-3 in %v", names)
	}
}
