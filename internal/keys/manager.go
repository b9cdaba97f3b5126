// Package keys manages the local symmetric key that protects stored
// credentials.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sync"

	"kimiauth/pkg/logging"
)

// KeyFile is the name of the file holding the raw key bytes.
const KeyFile = ".key"

// KeySize is the length of the AES-256 key.
const KeySize = 32

// Manager loads or creates the encryption key in a storage directory.
type Manager struct {
	dir     string
	entropy io.Reader

	mu  sync.Mutex
	key []byte
}

// NewManager creates a Manager that keeps its key in dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, entropy: rand.Reader}
}

// Path returns the location of the key file.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, KeyFile)
}

// GetOrCreateKey returns the existing key, or derives and persists a new one.
// Keys are never rotated. Failing to persist a new key is an error because
// anything encrypted with an unsaved key would be unreadable later.
func (m *Manager) GetOrCreateKey() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key != nil {
		return m.key, nil
	}

	data, err := os.ReadFile(m.Path())
	if err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("encryption key %s has invalid length %d", m.Path(), len(data))
		}
		m.key = data
		return m.key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read encryption key: %w", err)
	}

	salt := make([]byte, 32)
	if _, err := io.ReadFull(m.entropy, salt); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	sum := sha256.Sum256(append([]byte(fingerprint()), salt...))
	key := sum[:]

	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(m.Path(), key, 0600); err != nil {
		return nil, fmt.Errorf("failed to persist encryption key: %w", err)
	}

	logging.Audit(logging.AuditEvent{Event: "encryption_key_created", Subsystem: "Keys"})
	m.key = key
	return m.key, nil
}

// fingerprint identifies the machine and account the key was made on.
func fingerprint() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return host + "-" + name + "-" + runtime.GOOS
}
