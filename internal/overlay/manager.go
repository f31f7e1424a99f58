package overlay

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
)

// Manager handles overlay widgets and rendering
type Manager struct {
	widgets map[string]Widget
	order   []string // insertion order, ties in Z keep it
	mu      sync.RWMutex
	enabled bool
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{
		widgets: make(map[string]Widget),
		enabled: true,
	}
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[widget.ID()]; exists {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}

	m.widgets[widget.ID()] = widget
	m.order = append(m.order, widget.ID())
	logger.WithComponent("overlay").Info().Msgf("Added widget: %s (type: %s)", widget.ID(), widget.Type())
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[id]; !exists {
		return fmt.Errorf("widget with ID %s not found", id)
	}

	delete(m.widgets, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	logger.WithComponent("overlay").Info().Msgf("Removed widget: %s", id)
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	widget, exists := m.widgets[id]
	return widget, exists
}

// GetAllWidgets returns all widgets in drawing order
func (m *Manager) GetAllWidgets() []Widget {
	m.mu.RLock()
	widgets := make([]Widget, 0, len(m.order))
	for _, id := range m.order {
		widgets = append(widgets, m.widgets[id])
	}
	m.mu.RUnlock()

	sort.SliceStable(widgets, func(i, j int) bool {
		return widgets[i].Z() < widgets[j].Z()
	})
	return widgets
}

// UpdateWidget updates a widget's configuration
func (m *Manager) UpdateWidget(id string, config map[string]interface{}) error {
	m.mu.RLock()
	widget, exists := m.widgets[id]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("widget with ID %s not found", id)
	}

	if err := widget.UpdateConfig(config); err != nil {
		return fmt.Errorf("failed to update widget config: %w", err)
	}

	logger.WithComponent("overlay").Debug().Str("widget_id", id).Msg("Updated widget")
	return nil
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	logger.WithComponent("overlay").Info().Bool("enabled", enabled).Msg("Overlay toggled")
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render draws all enabled widgets onto img, lowest Z first
func (m *Manager) Render(img *image.RGBA, frame FrameInfo) error {
	if !m.IsEnabled() {
		return nil
	}

	for _, widget := range m.GetAllWidgets() {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img, frame); err != nil {
			logger.WithComponent("overlay").Warn().
				Err(err).
				Str("widget_id", widget.ID()).
				Msg("Failed to render widget")
		}
	}
	return nil
}

// CreateWidget creates a new widget instance from configuration
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	var widget Widget
	var err error

	switch widgetType {
	case "text":
		widget, err = NewTextWidget(id, config)
	case "timecode":
		widget, err = NewTimecodeWidget(id, config)
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
	}

	return widget, nil
}

// LoadFromConfig creates widgets from their configurations. Broken entries
// are logged and skipped; the number of widgets added is returned.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) int {
	log := logger.WithComponent("overlay")
	added := 0

	for _, config := range configs {
		widgetType, ok := config["type"].(string)
		if !ok {
			log.Warn().Msg("Skipping widget with missing type")
			continue
		}

		id, ok := config["id"].(string)
		if !ok {
			m.mu.RLock()
			id = fmt.Sprintf("%s-%d", widgetType, len(m.order)+1)
			m.mu.RUnlock()
		}

		widget, err := m.CreateWidget(widgetType, id, config)
		if err != nil {
			log.Warn().Err(err).Str("widget_id", id).Msg("Failed to create widget")
			continue
		}

		if err := m.AddWidget(widget); err != nil {
			log.Warn().Err(err).Str("widget_id", id).Msg("Failed to add widget")
			continue
		}
		added++
	}

	return added
}

// ExportConfig exports all widget configurations in drawing order
func (m *Manager) ExportConfig() []map[string]interface{} {
	widgets := m.GetAllWidgets()
	configs := make([]map[string]interface{}, 0, len(widgets))
	for _, widget := range widgets {
		configs = append(configs, widget.GetConfig())
	}
	return configs
}

// Clear removes all widgets
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.widgets = make(map[string]Widget)
	m.order = nil
	logger.WithComponent("overlay").Info().Msg("Cleared all widgets")
}

// GetAvailableWidgetTypes returns a list of available widget types
func (m *Manager) GetAvailableWidgetTypes() []map[string]interface{} {
	common := map[string]interface{}{
		"x":          "int (position)",
		"y":          "int (position)",
		"z":          "int (stacking order)",
		"opacity":    "float (0.0-1.0)",
		"enabled":    "bool",
		"color":      "string #rrggbb[aa] or object {r, g, b, a}",
		"background": "string #rrggbb[aa] or object {r, g, b, a} (optional)",
		"padding":    "int",
	}
	with := func(extra map[string]interface{}) map[string]interface{} {
		schema := make(map[string]interface{}, len(common)+len(extra))
		for k, v := range common {
			schema[k] = v
		}
		for k, v := range extra {
			schema[k] = v
		}
		return schema
	}

	return []map[string]interface{}{
		{
			"type":          "text",
			"name":          "Text Label",
			"description":   "Display custom text on every frame",
			"config_schema": with(map[string]interface{}{"text": "string (required)"}),
		},
		{
			"type":        "timecode",
			"name":        "Timecode",
			"description": "Burn in the frame's elapsed time as HH:MM:SS:FF",
			"config_schema": with(map[string]interface{}{
				"fps":    "int (frames per second, default: 30)",
				"prefix": "string (optional)",
			}),
		},
	}
}
