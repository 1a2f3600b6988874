package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
)

const (
	// FileName is the settings cache file kept at the workspace root
	FileName = "settings.json"

	// ProjectFileName marks a provisioned project checkout
	ProjectFileName = "nest.json"
)

var (
	// ErrSettingsNotFound is returned when no settings cache exists yet
	ErrSettingsNotFound = errors.New("nest settings not found")

	// ErrSaveSettingsFailed wraps any failure to persist the settings cache
	ErrSaveSettingsFailed = errors.New("failed to save nest settings")
)

// document is the on-disk form. The app, services and workers indexes are
// written for readers of the file and recomputed on load.
type document struct {
	Names    []string                               `json:"names"`
	ByKey    map[string]*topology.ServiceDescriptor `json:"byKey"`
	App      string                                 `json:"app,omitempty"`
	Services map[topology.Kind]string               `json:"services"`
	Workers  []string                               `json:"workers"`
	Partial  []string                               `json:"partial,omitempty"`
}

// Store persists NestSettings under a workspace root
type Store struct {
	root   string
	logger *reporting.Logger
}

// NewStore creates a store rooted at root
func NewStore(root string, logger *reporting.Logger) *Store {
	return &Store{
		root:   root,
		logger: logger,
	}
}

// Path returns the settings file path
func (s *Store) Path() string {
	return filepath.Join(s.root, FileName)
}

// Exists reports whether a settings cache is present
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load reads the settings cache. The cached topology is used as is.
func (s *Store) Load() (*topology.NestSettings, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s, run scaffold first", ErrSettingsNotFound, s.root)
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	settings, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if settings.IsPartial() && s.logger != nil {
		s.logger.Warn("Settings are partial, run `nest reset`", "failed", settings.Partial)
	}
	return settings, nil
}

// Save writes the settings cache through a temp file and rename
func (s *Store) Save(settings *topology.NestSettings) error {
	data, err := Encode(settings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveSettingsFailed, err)
	}

	if err := writeFileAtomic(s.Path(), data); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveSettingsFailed, err)
	}

	if s.logger != nil {
		s.logger.Info("Settings saved", "path", s.Path(), "services", len(settings.Names), "partial", settings.Partial)
	}
	return nil
}

// Remove deletes the settings cache if present
func (s *Store) Remove() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove settings file: %w", err)
	}
	return nil
}

// Encode renders settings in the cache file format
func Encode(settings *topology.NestSettings) ([]byte, error) {
	doc := document{
		Names:    settings.Names,
		ByKey:    settings.ByKey,
		Services: make(map[topology.Kind]string),
		Workers:  make([]string, 0),
		Partial:  settings.Partial,
	}

	if app := settings.App(); app != nil {
		doc.App = app.Key
	}
	for kind, svc := range settings.Services() {
		doc.Services[kind] = svc.Key
	}
	for _, w := range settings.Workers() {
		doc.Workers = append(doc.Workers, w.Key)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return data, nil
}

// Decode parses the cache file format
func Decode(data []byte) (*topology.NestSettings, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	settings := topology.NewNestSettings()
	for _, key := range doc.Names {
		svc, ok := doc.ByKey[key]
		if !ok || svc == nil {
			return nil, fmt.Errorf("settings list %s but do not define it", key)
		}
		if svc.Key == "" {
			svc.Key = key
		}
		if svc.Environment == nil {
			svc.Environment = make(topology.Environment)
		}
		settings.Add(svc)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings file: %w", err)
	}
	settings.Partial = doc.Partial
	return settings, nil
}

// LoadProject reads the project marker of a checkout
func LoadProject(dir string) (*topology.ServiceDescriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, ProjectFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read project marker: %w", err)
	}

	var svc topology.ServiceDescriptor
	if err := json.Unmarshal(data, &svc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project marker: %w", err)
	}
	if svc.Environment == nil {
		svc.Environment = make(topology.Environment)
	}
	return &svc, nil
}

// SaveProject writes the project marker of a checkout
func SaveProject(dir string, svc *topology.ServiceDescriptor) error {
	data, err := json.MarshalIndent(svc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project marker: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ProjectFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write project marker: %w", err)
	}
	return nil
}

// IsProject reports whether dir holds a project marker
func IsProject(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ProjectFileName))
	return err == nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
