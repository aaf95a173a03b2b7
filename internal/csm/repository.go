package csm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Repository persists the settings and credential documents as JSON files.
// Writes go to a .tmp file first, then rename over the target, so a crash
// mid-save never leaves a torn document. All operations are mutex-protected.
type Repository struct {
	settingsPath    string
	credentialsPath string
	mu              sync.Mutex
}

// NewRepository points the repository at a runtime config directory.
func NewRepository(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &Repository{
		settingsPath:    filepath.Join(dir, "settings.local.json"),
		credentialsPath: filepath.Join(dir, "credentials.local.json"),
	}, nil
}

func writeJSONAtomic(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

// WriteSettings atomically persists the settings document.
func (r *Repository) WriteSettings(settings Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return writeJSONAtomic(r.settingsPath, settings)
}

// ReadSettings loads the settings document. Returns nil, nil when nothing
// has been saved yet.
func (r *Repository) ReadSettings() (*Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &settings, nil
}

// WriteCredentials atomically persists the credential document.
func (r *Repository) WriteCredentials(credentials StoredCredentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return writeJSONAtomic(r.credentialsPath, credentials)
}

// ReadCredentials loads the credential document. Returns nil, nil when
// nothing has been saved yet.
func (r *Repository) ReadCredentials() (*StoredCredentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.credentialsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var credentials StoredCredentials
	if err := json.Unmarshal(data, &credentials); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &credentials, nil
}
