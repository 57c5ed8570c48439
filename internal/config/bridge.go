package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BridgeConfig represents the runtime configuration for the mesh bridge.
// All fields are pointers so a partial JSON file overrides only the
// values it names; the Get* methods supply defaults for the rest.
type BridgeConfig struct {
	// Serial link to the companion node
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// RF observation buffer
	RFRetention  *string `json:"rf_retention,omitempty"` // duration string like "15s"
	RFMaxEntries *int    `json:"rf_max_entries,omitempty"`

	// Path correlation window
	ListenDuration *string `json:"listen_duration,omitempty"` // duration string like "6s"
	Backscan       *string `json:"backscan,omitempty"`        // duration string like "2s"

	// Report delivery
	PageChars       *int    `json:"page_chars,omitempty"`
	TxGap           *string `json:"tx_gap,omitempty"`           // minimum gap between sends
	CommandCooldown *string `json:"command_cooldown,omitempty"` // per-command rate limit
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyBridgeConfig returns a BridgeConfig with all fields set to nil.
// The Get* methods then answer every query with the built-in defaults.
func EmptyBridgeConfig() *BridgeConfig {
	return &BridgeConfig{}
}

// LoadBridgeConfig loads a BridgeConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBridgeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *BridgeConfig) Validate() error {
	for name, field := range map[string]*string{
		"rf_retention":     c.RFRetention,
		"listen_duration":  c.ListenDuration,
		"backscan":         c.Backscan,
		"tx_gap":           c.TxGap,
		"command_cooldown": c.CommandCooldown,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	if c.RFMaxEntries != nil && *c.RFMaxEntries <= 0 {
		return fmt.Errorf("rf_max_entries must be positive, got %d", *c.RFMaxEntries)
	}

	if c.PageChars != nil && *c.PageChars < 20 {
		return fmt.Errorf("page_chars too small to fit a page marker, got %d", *c.PageChars)
	}

	return nil
}

func (c *BridgeConfig) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}

// GetSerialPort returns the serial_port value or the default.
func (c *BridgeConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *BridgeConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetRFRetention returns how long RF observations are kept.
func (c *BridgeConfig) GetRFRetention() time.Duration {
	return c.duration(c.RFRetention, 15*time.Second)
}

// GetRFMaxEntries returns the RF buffer size bound.
func (c *BridgeConfig) GetRFMaxEntries() int {
	if c.RFMaxEntries == nil {
		return 1024
	}
	return *c.RFMaxEntries
}

// GetListenDuration returns the correlation window length.
func (c *BridgeConfig) GetListenDuration() time.Duration {
	return c.duration(c.ListenDuration, 6*time.Second)
}

// GetBackscan returns how far before the window the initial scan reaches.
func (c *BridgeConfig) GetBackscan() time.Duration {
	return c.duration(c.Backscan, 2*time.Second)
}

// GetPageChars returns the report page character budget.
func (c *BridgeConfig) GetPageChars() int {
	if c.PageChars == nil {
		return 130
	}
	return *c.PageChars
}

// GetTxGap returns the minimum gap between transmissions.
func (c *BridgeConfig) GetTxGap() time.Duration {
	return c.duration(c.TxGap, 2*time.Second)
}

// GetCommandCooldown returns the per-command rate limit.
func (c *BridgeConfig) GetCommandCooldown() time.Duration {
	return c.duration(c.CommandCooldown, 30*time.Second)
}
