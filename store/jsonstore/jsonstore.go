// Package jsonstore implements store.Store as a single JSON file holding the
// full client collection: one array of records, rewritten wholesale on
// every mutation, tombstoned rather than pruned on delete.
package jsonstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jarbas-hive/hivemind-go/registry"
	"github.com/jarbas-hive/hivemind-go/store"
)

func init() {
	registry.RegisterStore("jsonstore", func(dsn string) (store.Store, error) { return Open(dsn) })
}

// Store is a JSON-file-backed store.Store. All reads are served from an
// in-memory cache kept current by Sync, which reloads the file only when its
// modification time has advanced since the last load — avoiding a disk read
// on every lookup while still observing out-of-band edits.
type Store struct {
	path string

	mu      sync.Mutex // Guards the fields below for the lifetime of the Store.
	records map[string]*store.Client
	order   []string
	nextID  int64
	modTime time.Time
}

// Open loads path if it exists, or prepares to create it on first write.
func Open(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[string]*store.Client)}
	if err := s.Sync(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

type fileFormat struct {
	Records []*store.Client `json:"records"`
}

// Sync reloads the backing file if its mtime has advanced since the last
// load, picking up edits made by another process.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Store) syncLocked() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.ModTime().After(s.modTime) {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var ff fileFormat
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ff); err != nil {
			return err
		}
	}
	records := make(map[string]*store.Client, len(ff.Records))
	order := make([]string, 0, len(ff.Records))
	var maxID int64
	for _, c := range ff.Records {
		// Tombstones all carry the sentinel api_key; keying them by it
		// would collapse every revoked client into one map entry.
		key := c.APIKey
		if c.IsTombstone() {
			key = store.TombstoneKey(c.ClientID)
		}
		records[key] = c
		order = append(order, key)
		if c.ClientID > maxID {
			maxID = c.ClientID
		}
	}
	s.records = records
	s.order = order
	if maxID > s.nextID {
		s.nextID = maxID
	}
	s.modTime = info.ModTime()
	return nil
}

// persistLocked rewrites the whole file and sets modTime to the new file's
// own timestamp so this process's own write is not mistaken for an
// out-of-band edit on the next Sync.
func (s *Store) persistLocked() error {
	ff := fileFormat{Records: make([]*store.Client, 0, len(s.order))}
	for _, key := range s.order {
		ff.Records = append(ff.Records, s.records[key])
	}
	raw, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	s.modTime = info.ModTime()
	return nil
}

// Add implements store.Store.
func (s *Store) Add(c *store.Client) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return false, err
	}
	if existing, ok := s.records[c.APIKey]; ok {
		mergeInto(existing, c)
		return true, s.persistLocked()
	}
	s.nextID++
	c.ClientID = s.nextID
	c.EnsureUtteranceType()
	s.records[c.APIKey] = c
	s.order = append(s.order, c.APIKey)
	return false, s.persistLocked()
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return nil, err
	}
	c, ok := s.records[apiKey]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// GetByName implements store.Store.
func (s *Store) GetByName(name string) ([]*store.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return nil, err
	}
	var out []*store.Client
	for _, key := range s.order {
		c := s.records[key]
		if c.Name == name {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// Delete implements store.Store, tombstoning the record. The tombstone is
// re-keyed by client_id so two revoked clients never collapse into one
// entry under the shared sentinel api_key, in memory or across a reload.
func (s *Store) Delete(apiKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return false, err
	}
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
	return true, s.persistLocked()
}

// Update implements store.Store.
func (s *Store) Update(c *store.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return err
	}
	if _, ok := s.records[c.APIKey]; !ok {
		s.order = append(s.order, c.APIKey)
	}
	c.EnsureUtteranceType()
	s.records[c.APIKey] = c
	return s.persistLocked()
}

// All implements store.Store, returning records in insertion order.
func (s *Store) All() ([]*store.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(); err != nil {
		return nil, err
	}
	out := make([]*store.Client, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.records[key].Clone())
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
