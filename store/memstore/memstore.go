// Package memstore implements an in-process store.Store backed by a guarded
// map, used for tests and for deployments with no persistence requirement.
package memstore

import (
	"sync"

	"github.com/jarbas-hive/hivemind-go/registry"
	"github.com/jarbas-hive/hivemind-go/store"
)

func init() {
	registry.RegisterStore("memstore", func(string) (store.Store, error) { return New(), nil })
}

// Store is a concurrency-safe in-memory client record store.
type Store struct {
	mu      sync.RWMutex // Guards records and nextID.
	records map[string]*store.Client
	order   []string
	nextID  int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*store.Client)}
}

// Add implements store.Store.
func (s *Store) Add(c *store.Client) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[c.APIKey]; ok {
		mergeInto(existing, c)
		return true, nil
	}
	s.nextID++
	c.ClientID = s.nextID
	c.EnsureUtteranceType()
	s.records[c.APIKey] = c
	s.order = append(s.order, c.APIKey)
	return false, nil
}

func mergeInto(existing, incoming *store.Client) {
	if incoming.Name != "" {
		existing.Name = incoming.Name
	}
	if incoming.Description != "" {
		existing.Description = incoming.Description
	}
	if len(incoming.AllowedTypes) > 0 {
		existing.AllowedTypes = incoming.AllowedTypes
	}
	if incoming.CryptoKey != nil {
		existing.CryptoKey = incoming.CryptoKey
	}
	if incoming.Password != "" {
		existing.Password = incoming.Password
	}
	existing.IsAdmin = incoming.IsAdmin
	existing.EnsureUtteranceType()
}

// GetByKey implements store.Store.
func (s *Store) GetByKey(apiKey string) (*store.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[apiKey]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// GetByName implements store.Store.
func (s *Store) GetByName(name string) ([]*store.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Client
	for _, key := range s.order {
		c := s.records[key]
		if c.Name == name {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// Delete implements store.Store, tombstoning rather than removing the
// record. The tombstone is re-keyed by client_id so two revoked clients
// never collapse into one entry under the shared sentinel api_key.
func (s *Store) Delete(apiKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[apiKey]
	if !ok {
		return false, nil
	}
	tomb := store.NewClient(-1, store.RevokedSentinel, "")
	tomb.ClientID = c.ClientID
	tombKey := store.TombstoneKey(c.ClientID)
	delete(s.records, apiKey)
	s.records[tombKey] = tomb
	for i, key := range s.order {
		if key == apiKey {
			s.order[i] = tombKey
			break
		}
	}
	return true, nil
}

// Update implements store.Store.
func (s *Store) Update(c *store.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[c.APIKey]; !ok {
		s.order = append(s.order, c.APIKey)
	}
	c.EnsureUtteranceType()
	s.records[c.APIKey] = c
	return nil
}

// Sync is a no-op: there is no out-of-band backing medium to reload.
func (s *Store) Sync() error { return nil }

// All implements store.Store, returning records in insertion order.
func (s *Store) All() ([]*store.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Client, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.records[key].Clone())
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
