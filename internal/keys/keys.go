// Package keys stores service credentials in a private file under the
// user's config directory and resolves the credential to use for a run.
package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/pkg/models"
)

const (
	appName = "antika"

	// EnvVar is consulted when no key was given or stored.
	EnvVar = "OPENAI_API_KEY"
	// ConfigDirEnv overrides the config directory.
	ConfigDirEnv = "ANTIKA_CONFIG_DIR"
)

type Store struct {
	configDir string
}

type KeyEntry struct {
	Key string `json:"key"`
}

// Keys is the content of keys.json, keyed by provider name.
type Keys map[string]KeyEntry

func NewStore() (*Store, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

// NewStoreAt uses dir instead of the platform config directory.
func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

// ConfigDir returns the platform specific config directory for antika.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return homedir.Expand(dir)
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, "keys.json")
}

func (s *Store) load() (Keys, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Keys), nil
		}
		return nil, err
	}

	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	return keys, nil
}

func (s *Store) save(keys Keys) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	// Owner read/write only.
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

func (s *Store) Set(providerName, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.ValidationError("key is empty")
	}

	keys, err := s.load()
	if err != nil {
		return err
	}

	keys[providerName] = KeyEntry{Key: key}
	return s.save(keys)
}

// Get returns the stored key or "" when none is stored.
func (s *Store) Get(providerName string) (string, error) {
	keys, err := s.load()
	if err != nil {
		return "", err
	}
	return keys[providerName].Key, nil
}

func (s *Store) Delete(providerName string) error {
	keys, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := keys[providerName]; !ok {
		return fmt.Errorf("no key found for %s", providerName)
	}

	delete(keys, providerName)
	return s.save(keys)
}

// List returns the providers with a stored key, sorted.
func (s *Store) List() ([]string, error) {
	keys, err := s.load()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Credential is a resolved key and where it came from.
type Credential struct {
	Key    string
	Source string
}

// Resolve picks the key for providerName: the explicit key, then the one
// stored in s, then the environment. s may be nil. Nothing found is a
// configuration error.
func Resolve(s *Store, explicitKey, providerName string) (Credential, error) {
	if explicitKey != "" {
		return Credential{Key: explicitKey, Source: "command-line flag"}, nil
	}

	if s != nil {
		stored, err := s.Get(providerName)
		if err == nil && stored != "" {
			return Credential{Key: stored, Source: fmt.Sprintf("stored key (%s)", s.Path())}, nil
		}
	}

	if envKey := os.Getenv(EnvVar); envKey != "" {
		return Credential{Key: envKey, Source: fmt.Sprintf("environment variable (%s)", EnvVar)}, nil
	}

	return Credential{}, models.ConfigurationError(provider.MissingKeyMessage, provider.ErrAPIKeyRequired)
}
