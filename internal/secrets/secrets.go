// Package secrets resolves credentials that should not live in the config
// file, such as the graph store password.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// SecretKey identifies a credential.
type SecretKey string

const (
	SecretGraphPassword SecretKey = "graph_password"
	SecretGraphUsername SecretKey = "graph_username"
)

// ErrNotFound is returned when no provider has the secret.
var ErrNotFound = errors.New("secret not found")

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects the primary backend.
type Config struct {
	// Provider is "env", "file" or "dir".
	Provider string
	// Path is the JSON file for "file" or the directory for "dir".
	Path string
	// EnvPrefix for environment variable names (default: "CODELENS_").
	EnvPrefix string
}

// DefaultConfig returns env-only configuration.
func DefaultConfig() *Config {
	return &Config{Provider: "env", EnvPrefix: "CODELENS_"}
}

// Manager looks secrets up in the primary backend, then the environment.
// Found values are cached.
type Manager struct {
	primary  Provider
	fallback Provider
	mu       sync.RWMutex
	cache    map[string]string
}

// NewManager creates a secrets manager with the specified configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	env := NewEnvProvider(cfg.EnvPrefix)
	m := &Manager{primary: env, cache: make(map[string]string)}

	switch cfg.Provider {
	case "env", "":
	case "file":
		p, err := NewFileProvider(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		m.primary, m.fallback = p, env
	case "dir":
		p, err := NewDirProvider(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("create dir provider: %w", err)
		}
		m.primary, m.fallback = p, env
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
	return m, nil
}

// Get retrieves a secret, trying primary then fallback.
func (m *Manager) Get(ctx context.Context, key SecretKey) (string, error) {
	k := string(key)
	m.mu.RLock()
	val, ok := m.cache[k]
	m.mu.RUnlock()
	if ok {
		return val, nil
	}

	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		if val, err := p.Get(ctx, k); err == nil && val != "" {
			m.mu.Lock()
			m.cache[k] = val
			m.mu.Unlock()
			return val, nil
		}
	}
	return "", fmt.Errorf("%s: %w", key, ErrNotFound)
}

// Resolve returns value when it is set and the secret otherwise.
func (m *Manager) Resolve(ctx context.Context, value string, key SecretKey) string {
	if value != "" {
		return value
	}
	if v, err := m.Get(ctx, key); err == nil {
		return v
	}
	return ""
}

// ClearCache forgets resolved secrets, e.g. after a rotation.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	clear(m.cache)
	m.mu.Unlock()
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "CODELENS_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

// Get tries PREFIX_KEY, then KEY.
func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env var %s: %w", envKey, ErrNotFound)
}
