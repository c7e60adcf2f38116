// Package storage persists backend registrations in BoltDB so they survive
// gateway restarts.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
)

const (
	backendsBucket = "backends"
	metaBucket     = "meta"

	dbFileName = "gateway.db"
)

// BackendRecord is the persisted form of a backend registration.
type BackendRecord struct {
	Name        string            `json:"name"`
	URL         string            `json:"url,omitempty"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	RequiredEnv []string          `json:"required_env,omitempty"`
	Pinned      bool              `json:"pinned"`
	Created     time.Time         `json:"created"`
	Updated     time.Time         `json:"updated"`
}

// Manager provides a unified interface for storage operations.
type Manager struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewManager opens (or creates) the gateway database under dataDir.
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	dbPath := filepath.Join(dataDir, dbFileName)

	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{backendsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Manager{db: db, logger: logger}, nil
}

// Close closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// SaveBackend persists a backend registration, keyed by name.
func (m *Manager) SaveBackend(backend *config.BackendConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := &BackendRecord{
		Name:        backend.Name,
		URL:         backend.URL,
		Command:     backend.Command,
		Args:        backend.Args,
		Env:         backend.Env,
		RequiredEnv: backend.RequiredEnv,
		Pinned:      backend.Pinned,
		Created:     backend.Created,
		Updated:     time.Now(),
	}
	if record.Created.IsZero() {
		record.Created = record.Updated
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(backendsBucket))
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.Name), data)
	})
}

// GetBackend retrieves a backend registration by name.
func (m *Manager) GetBackend(name string) (*config.BackendConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var record BackendRecord
	err := m.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(backendsBucket))
		data := bucket.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("backend %q not found", name)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}

	return recordToConfig(&record), nil
}

// ListBackends returns all persisted registrations sorted by name.
func (m *Manager) ListBackends() ([]*config.BackendConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var backends []*config.BackendConfig
	err := m.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(backendsBucket))
		return bucket.ForEach(func(_, v []byte) error {
			var record BackendRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			backends = append(backends, recordToConfig(&record))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(backends, func(i, j int) bool { return backends[i].Name < backends[j].Name })
	return backends, nil
}

// DeleteBackend removes a backend registration.
func (m *Manager) DeleteBackend(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(backendsBucket))
		return bucket.Delete([]byte(name))
	})
}

func recordToConfig(record *BackendRecord) *config.BackendConfig {
	return &config.BackendConfig{
		Name:        record.Name,
		URL:         record.URL,
		Command:     record.Command,
		Args:        record.Args,
		Env:         record.Env,
		RequiredEnv: record.RequiredEnv,
		Pinned:      record.Pinned,
		Created:     record.Created,
	}
}
