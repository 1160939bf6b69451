// Package store defines the client record and the pluggable backing-store
// interface the listener core uses to authorize and authenticate connections.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
)

// UtteranceType is the application message type every client's allowed_types
// set must contain by default.
const UtteranceType = "recognizer_loop:utterance"

// RevokedSentinel is the api_key a tombstoned record is set to, preserving
// client_id continuity instead of deleting the row.
const RevokedSentinel = "revoked"

// TombstoneKey returns the lookup key a tombstoned record is held under.
// Tombstones all share the RevokedSentinel api_key, so keying them by it
// would collapse every revoked client into one entry; the client_id (never
// reused) keeps each tombstone distinct.
func TombstoneKey(clientID int64) string {
	return fmt.Sprintf("%s#%d", RevokedSentinel, clientID)
}

// ErrInvalidCryptoKey is returned when a crypto_key is set to a value whose
// length is not exactly envelope.KeyLen octets.
var ErrInvalidCryptoKey = errors.New("store: crypto_key must be exactly 16 octets")

// Client is a persisted client record.
type Client struct {
	ClientID         int64    `json:"client_id"`
	APIKey           string   `json:"api_key"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	IsAdmin          bool     `json:"is_admin"`
	LastSeen         int64    `json:"last_seen"`
	CryptoKey        []byte   `json:"crypto_key,omitempty"`
	Password         string   `json:"password,omitempty"`
	AllowedTypes     []string `json:"allowed_types"`
	MessageBlacklist []string `json:"message_blacklist,omitempty"`
	SkillBlacklist   []string `json:"skill_blacklist,omitempty"`
	IntentBlacklist  []string `json:"intent_blacklist,omitempty"`
	CanBroadcast     bool     `json:"can_broadcast"`
	CanEscalate      bool     `json:"can_escalate"`
	CanPropagate     bool     `json:"can_propagate"`
}

// IsTombstone reports whether this record represents a revoked client.
func (c *Client) IsTombstone() bool {
	return c != nil && c.APIKey == RevokedSentinel
}

// NewClient returns a Client with the capability bits defaulted to true and
// allowed_types forced to contain UtteranceType.
func NewClient(clientID int64, apiKey, name string) *Client {
	return &Client{
		ClientID:     clientID,
		APIKey:       apiKey,
		Name:         name,
		LastSeen:     -1,
		AllowedTypes: []string{UtteranceType},
		CanBroadcast: true,
		CanEscalate:  true,
		CanPropagate: true,
	}
}

// EnsureUtteranceType appends UtteranceType to AllowedTypes if missing.
func (c *Client) EnsureUtteranceType() {
	for _, t := range c.AllowedTypes {
		if t == UtteranceType {
			return
		}
	}
	c.AllowedTypes = append(c.AllowedTypes, UtteranceType)
}

// SetCryptoKey validates and assigns crypto_key, rejecting (not truncating)
// any length other than envelope.KeyLen.
func (c *Client) SetCryptoKey(key []byte) error {
	if key == nil {
		c.CryptoKey = nil
		return nil
	}
	if err := envelope.ValidateKey(key); err != nil {
		return ErrInvalidCryptoKey
	}
	c.CryptoKey = append([]byte(nil), key...)
	return nil
}

// Clone returns a deep-enough copy safe to hand to a caller outside the store's lock.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.CryptoKey = append([]byte(nil), c.CryptoKey...)
	cp.AllowedTypes = append([]string(nil), c.AllowedTypes...)
	cp.MessageBlacklist = append([]string(nil), c.MessageBlacklist...)
	cp.SkillBlacklist = append([]string(nil), c.SkillBlacklist...)
	cp.IntentBlacklist = append([]string(nil), c.IntentBlacklist...)
	return &cp
}

// Store is the pluggable client-record backing store interface.
type Store interface {
	// Add inserts a new record or merges into an existing one with the same
	// api_key. duplicate reports whether an existing record was merged into.
	Add(c *Client) (duplicate bool, err error)
	GetByKey(apiKey string) (*Client, error)
	GetByName(name string) ([]*Client, error)
	// Delete tombstones the record (never a physical removal).
	Delete(apiKey string) (bool, error)
	Update(c *Client) error
	// Sync reloads from the backing medium to pick up out-of-band edits.
	Sync() error
	// All returns live and tombstoned records in insertion order.
	All() ([]*Client, error)
}

// WithLock runs fn while holding mu, for a caller that needs to batch
// several store writes under one critical section.
func WithLock(mu *sync.Mutex, fn func() error) error {
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
