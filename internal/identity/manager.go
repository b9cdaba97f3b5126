package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"kimiauth/pkg/logging"
)

// DeviceIDFile is the name of the file holding the device id.
const DeviceIDFile = "device_id"

// Manager owns the device id file in a storage directory.
type Manager struct {
	dir string

	mu sync.Mutex
	id string
}

// NewManager creates a Manager that keeps its file in dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Path returns the location of the device id file.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, DeviceIDFile)
}

// DeviceID returns the persisted device id, creating it on first use.
// An empty file is treated as absent and replaced.
func (m *Manager) DeviceID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id != "" {
		return m.id, nil
	}

	data, err := os.ReadFile(m.Path())
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			m.id = id
			return id, nil
		}
		logging.Warn("Identity", "Device id file %s is empty, generating a new id", m.Path())
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(m.Path(), []byte(id), 0600); err != nil {
		return "", fmt.Errorf("failed to write device id: %w", err)
	}

	logging.Info("Identity", "Generated new device id")
	m.id = id
	return id, nil
}
