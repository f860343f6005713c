package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileProvider reads secrets from a JSON object of key/value strings.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider loads the secrets file at path.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("file path required")
	}
	p := &FileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%s in %s: %w", key, p.path, ErrNotFound)
	}
	return val, nil
}

// Reload rereads the file.
func (p *FileProvider) Reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("load secrets file: %w", err)
	}
	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}
	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}

// DirProvider reads one secret per file, the layout of mounted Docker and
// Kubernetes secrets. Trailing newlines are trimmed.
type DirProvider struct {
	dir string
}

// NewDirProvider checks that dir exists.
func NewDirProvider(dir string) (*DirProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("secrets dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets dir %s is not a directory", dir)
	}
	return &DirProvider{dir: dir}, nil
}

func (p *DirProvider) Name() string { return "dir" }

func (p *DirProvider) Get(ctx context.Context, key string) (string, error) {
	if key == "" || key != filepath.Base(key) {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	raw, err := os.ReadFile(filepath.Join(p.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s in %s: %w", key, p.dir, ErrNotFound)
		}
		return "", err
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}
