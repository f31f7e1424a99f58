package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/spf13/viper"
)

// GetViper returns a viper view of the config file, for dotted key access
func (m *Manager) GetViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		logger.WithComponent("config").Warn().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to read config into viper")
	}
	return v
}

// SetValue sets a dotted key such as "output.width" from its string form.
// The value is converted to the type already stored under the key, and the
// file is left untouched when the result does not validate.
func (m *Manager) SetValue(key, value string) error {
	v := m.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	converted, err := convertLike(v.Get(key), value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	v.Set(key, converted)

	if err := v.WriteConfigAs(m.configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if _, err := m.load(); err != nil {
		// Put the last good config back on disk
		if saveErr := m.Save(); saveErr != nil {
			logger.WithComponent("config").Error().Err(saveErr).Msg("Failed to restore config")
		}
		return err
	}

	logger.WithComponent("config").Info().
		Str("key", key).
		Interface("value", converted).
		Msg("Config value updated")
	return nil
}

func convertLike(current interface{}, value string) (interface{}, error) {
	switch current.(type) {
	case int, int32, int64, uint64:
		return strconv.Atoi(value)
	case float64:
		return strconv.ParseFloat(value, 64)
	case bool:
		return strconv.ParseBool(value)
	case []interface{}:
		if value == "" {
			return []string{}, nil
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	case map[string]interface{}:
		return nil, fmt.Errorf("cannot set a section, set one of its keys")
	default:
		return value, nil
	}
}
