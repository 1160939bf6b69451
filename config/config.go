// Package config loads and validates the broker's JSON configuration file:
// a hand-defaulted, hand-validated struct rather than a struct-tag
// validation library.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jarbas-hive/hivemind-go/crypto/envelope"
)

// ModuleConfig names a pluggable backend and carries its backend-specific
// nested configuration.
type ModuleConfig struct {
	Module string            `json:"module"`
	Config map[string]string `json:"config,omitempty"`
}

// Config is the broker's full JSON configuration.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	SSL      bool   `json:"ssl"`
	CertDir  string `json:"cert_dir,omitempty"`
	CertName string `json:"cert_name,omitempty"`

	NodeID string `json:"node_id"`
	SiteID string `json:"site_id"`

	Binarize         bool     `json:"binarize"`
	AllowedEncodings []string `json:"allowed_encodings"`
	AllowedCiphers   []string `json:"allowed_ciphers"`
	HandshakeEnabled bool     `json:"handshake_enabled"`
	RequireCrypto    bool     `json:"require_crypto"`
	MaxQueueDepth    int      `json:"max_queue_depth"`
	MaxFrameBytes    int64    `json:"max_frame_bytes"`

	Database        ModuleConfig `json:"database"`
	AgentProtocol   ModuleConfig `json:"agent_protocol"`
	NetworkProtocol ModuleConfig `json:"network_protocol"`

	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	AllowNoOrigin  bool     `json:"allow_no_origin"`

	MetricsListen string `json:"metrics_listen,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`
}

// Default returns the stock configuration: a zero-config run binds
// 0.0.0.0:5678, binarize off, the seven-entry encoding preference list,
// AES-GCM preferred over CHACHA20-POLY1305, a JSON-file client store, an
// in-process agent bus, and a plain WebSocket network protocol.
func Default() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     5678,
		SSL:      false,
		NodeID:   "hivemind-master",
		SiteID:   "default",
		Binarize: false,
		AllowedEncodings: []string{
			string(envelope.EncodingJSONB64), string(envelope.EncodingJSONURLSafeB64),
			string(envelope.EncodingJSONB91), string(envelope.EncodingJSONZ85B),
			string(envelope.EncodingJSONZ85P), string(envelope.EncodingJSONB32),
			string(envelope.EncodingJSONHex),
		},
		AllowedCiphers:   []string{string(envelope.CipherAESGCM), string(envelope.CipherChaCha20Poly1305)},
		HandshakeEnabled: true,
		RequireCrypto:    true,
		MaxQueueDepth:    256,
		MaxFrameBytes:    1 << 20,
		Database:         ModuleConfig{Module: "jsonstore", Config: map[string]string{"path": "clients.json"}},
		AgentProtocol:    ModuleConfig{Module: "inproc"},
		NetworkProtocol:  ModuleConfig{Module: "websocket"},
		AllowNoOrigin:    false,
		LogLevel:         "info",
	}
}

// Load reads path, JSON-decodes it onto Default()'s fields (so an omitted
// field keeps its default rather than zeroing out), and validates the
// result. A missing file is not an error: Load returns Default() unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config's field-by-field invariants: a resolvable bind
// target, a non-empty module name per pluggable backend, and a
// cipher/encoding list the handshake engine actually recognizes.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.SSL && (c.CertDir == "" || c.CertName == "") {
		return fmt.Errorf("ssl requires both cert_dir and cert_name")
	}
	if strings.TrimSpace(c.Database.Module) == "" {
		return fmt.Errorf("database.module must not be empty")
	}
	if strings.TrimSpace(c.AgentProtocol.Module) == "" {
		return fmt.Errorf("agent_protocol.module must not be empty")
	}
	if strings.TrimSpace(c.NetworkProtocol.Module) == "" {
		return fmt.Errorf("network_protocol.module must not be empty")
	}
	if len(c.AllowedEncodings) == 0 {
		return fmt.Errorf("allowed_encodings must not be empty")
	}
	if len(c.AllowedCiphers) == 0 {
		return fmt.Errorf("allowed_ciphers must not be empty")
	}
	for _, enc := range c.AllowedEncodings {
		if !validEncoding(enc) {
			return fmt.Errorf("unrecognized encoding %q", enc)
		}
	}
	for _, ci := range c.AllowedCiphers {
		if !validCipher(ci) {
			return fmt.Errorf("unrecognized cipher %q", ci)
		}
	}
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	return nil
}

func validEncoding(s string) bool {
	for _, e := range []envelope.Encoding{
		envelope.EncodingJSONB64, envelope.EncodingJSONURLSafeB64, envelope.EncodingJSONB91,
		envelope.EncodingJSONZ85B, envelope.EncodingJSONZ85P, envelope.EncodingJSONB32, envelope.EncodingJSONHex,
	} {
		if string(e) == s {
			return true
		}
	}
	return false
}

func validCipher(s string) bool {
	return s == string(envelope.CipherAESGCM) || s == string(envelope.CipherChaCha20Poly1305)
}

// DatabasePath returns the jsonstore "path" value from Database.Config, or
// the given fallback if the backend is not jsonstore or the key is unset.
func (c *Config) DatabasePath(fallback string) string {
	if c.Database.Module != "jsonstore" {
		return fallback
	}
	if p, ok := c.Database.Config["path"]; ok && p != "" {
		return p
	}
	return fallback
}
