package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"gopkg.in/yaml.v3"
)

var errEmptyConfig = errors.New("config file is empty")

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	lastData   []byte
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/framecompositor/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "framecompositor", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile selects
// the default path; a missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if _, err := m.load(); err != nil {
		if os.IsNotExist(err) || errors.Is(err, errEmptyConfig) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("tracks", len(m.config.Tracks)).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	return &Config{
		Output: OutputConfig{
			Width:     1280,
			Height:    720,
			FPS:       30,
			Quality:   85,
			Directory: "render",
		},
		Compositor: CompositorConfig{
			MaxPending: 256,
		},
		Tracks: []TrackConfig{
			{ID: 1, Name: "bars", Type: TrackTypePattern},
		},
		Filter: FilterConfig{
			Chain: []string{},
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{
				{"type": "timecode", "id": "timecode", "x": 16, "y": 16},
			},
		},
		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// load reads the configuration from disk. It reports false when the file
// content is what this manager last wrote or read.
func (m *Manager) load() (bool, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return false, err
	}
	// Truncated mid-write, the next event carries the content
	if len(bytes.TrimSpace(data)) == 0 {
		return false, errEmptyConfig
	}

	m.mu.RLock()
	unchanged := m.config != nil && bytes.Equal(data, m.lastData)
	m.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	defaults := m.getDefaults()
	cfg := *defaults
	cfg.Tracks = nil
	cfg.Overlay.Widgets = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return false, fmt.Errorf("failed to parse config: %w", err)
	}

	// Initialize slices if nil
	if cfg.Tracks == nil {
		cfg.Tracks = []TrackConfig{}
	}
	if cfg.Filter.Chain == nil {
		cfg.Filter.Chain = []string{}
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	if cfg.Compositor.MaxPending <= 0 {
		cfg.Compositor.MaxPending = defaults.Compositor.MaxPending
	}

	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.lastData = data
	m.mu.Unlock()
	return true, nil
}

// Reload re-reads the config file, reporting whether anything changed
func (m *Manager) Reload() (bool, error) {
	return m.load()
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return m.getDefaults()
	}

	// Return a copy to prevent external modification
	cfg := *m.config
	cfg.Tracks = append([]TrackConfig{}, m.config.Tracks...)
	cfg.Filter.Chain = append([]string{}, m.config.Filter.Chain...)
	cfg.Overlay.Widgets = append([]map[string]interface{}{}, m.config.Overlay.Widgets...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("tracks", len(cfg.Tracks)).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	m.mu.Lock()
	m.lastData = data
	m.mu.Unlock()

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// mutate applies fn to the live config, validates and saves. The previous
// config is kept when validation fails.
func (m *Manager) mutate(fn func(cfg *Config) error) error {
	next := m.Get()
	if err := fn(next); err != nil {
		return err
	}
	return m.Update(next)
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.mutate(func(cfg *Config) error {
		cfg.ServerPort = port
		return nil
	})
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.mutate(func(cfg *Config) error {
		cfg.LogLevel = level
		return nil
	})
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// SetOutputSize sets the render size
func (m *Manager) SetOutputSize(width, height int) error {
	return m.mutate(func(cfg *Config) error {
		cfg.Output.Width = width
		cfg.Output.Height = height
		return nil
	})
}

// SetFilterChain replaces the effect chain
func (m *Manager) SetFilterChain(chain []string) error {
	return m.mutate(func(cfg *Config) error {
		cfg.Filter.Chain = append([]string{}, chain...)
		return nil
	})
}

// SetWidgets replaces the overlay widget list
func (m *Manager) SetWidgets(widgets []map[string]interface{}) error {
	return m.mutate(func(cfg *Config) error {
		cfg.Overlay.Widgets = append([]map[string]interface{}{}, widgets...)
		return nil
	})
}

// SetOverlayEnabled turns the overlay on or off
func (m *Manager) SetOverlayEnabled(enabled bool) error {
	return m.mutate(func(cfg *Config) error {
		cfg.Overlay.Enabled = enabled
		return nil
	})
}

// AddTrack adds a track, replacing any existing track with the same ID
func (m *Manager) AddTrack(track TrackConfig) error {
	err := m.mutate(func(cfg *Config) error {
		for i := range cfg.Tracks {
			if cfg.Tracks[i].ID == track.ID {
				cfg.Tracks[i] = track
				return nil
			}
		}
		cfg.Tracks = append(cfg.Tracks, track)
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithComponent("config").Info().
		Int32("track_id", track.ID).
		Str("type", string(track.Type)).
		Msg("Track saved")
	return nil
}

// RemoveTrack removes the track with the given ID
func (m *Manager) RemoveTrack(id int32) error {
	return m.mutate(func(cfg *Config) error {
		filtered := make([]TrackConfig, 0, len(cfg.Tracks))
		for _, t := range cfg.Tracks {
			if t.ID != id {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) == len(cfg.Tracks) {
			return fmt.Errorf("track %d not found", id)
		}
		cfg.Tracks = filtered
		return nil
	})
}

// GetTrack returns the track with the given ID
func (m *Manager) GetTrack(id int32) (TrackConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.config.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return TrackConfig{}, false
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
