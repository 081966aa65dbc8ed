package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical service defaults file.
const DefaultConfigPath = "config/triggerscope.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ServiceConfig is the on-disk configuration of the triggerscope service.
// Every field is optional; the Get* methods supply defaults for omitted ones.
type ServiceConfig struct {
	// Serial link
	PortPath *string `json:"port_path,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`

	// Command protocol
	MaxLineLength    *int  `json:"max_line_length,omitempty"`
	WidePulseTimings *bool `json:"wide_pulse_timings,omitempty"`
	EchoReceived     *bool `json:"echo_received,omitempty"`

	// Host uploader
	ParameterPacing *string `json:"parameter_pacing,omitempty"` // duration string like "50ms"

	// HTTP and journal
	Listen *string `json:"listen,omitempty"`
	DBPath *string `json:"db_path,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultServiceConfig returns a config with every field set to its default.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		PortPath:         ptrString("/dev/ttyACM0"),
		BaudRate:         ptrInt(115200),
		DataBits:         ptrInt(8),
		StopBits:         ptrInt(1),
		Parity:           ptrString("N"),
		MaxLineLength:    ptrInt(256),
		WidePulseTimings: ptrBool(false),
		EchoReceived:     ptrBool(true),
		ParameterPacing:  ptrString("50ms"),
		Listen:           ptrString(":8080"),
		DBPath:           ptrString("triggerscope.db"),
	}
}

// LoadServiceConfig loads a ServiceConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file fall back to the Get* defaults.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &ServiceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// Validate checks that the configuration values are valid.
func (c *ServiceConfig) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	if c.DataBits != nil && (*c.DataBits < 5 || *c.DataBits > 8) {
		return fmt.Errorf("data_bits must be between 5 and 8, got %d", *c.DataBits)
	}

	if c.StopBits != nil && *c.StopBits != 1 && *c.StopBits != 2 {
		return fmt.Errorf("stop_bits must be 1 or 2, got %d", *c.StopBits)
	}

	if c.Parity != nil {
		switch strings.ToUpper(strings.TrimSpace(*c.Parity)) {
		case "", "N", "NONE", "E", "EVEN", "O", "ODD":
		default:
			return fmt.Errorf("unsupported parity %q", *c.Parity)
		}
	}

	// a parameter line needs at least the prefix plus "a,0\n"
	if c.MaxLineLength != nil && *c.MaxLineLength < 14 {
		return fmt.Errorf("max_line_length must be at least 14, got %d", *c.MaxLineLength)
	}

	if c.ParameterPacing != nil && *c.ParameterPacing != "" {
		d, err := time.ParseDuration(*c.ParameterPacing)
		if err != nil {
			return fmt.Errorf("invalid parameter_pacing '%s': %w", *c.ParameterPacing, err)
		}
		if d < 0 {
			return fmt.Errorf("parameter_pacing must be non-negative, got %s", d)
		}
	}

	return nil
}

// GetPortPath returns the serial device path or the default.
func (c *ServiceConfig) GetPortPath() string {
	if c.PortPath == nil || *c.PortPath == "" {
		return "/dev/ttyACM0"
	}
	return *c.PortPath
}

// GetBaudRate returns the baud rate or the default.
func (c *ServiceConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetDataBits returns the data bits or the default.
func (c *ServiceConfig) GetDataBits() int {
	if c.DataBits == nil {
		return 8
	}
	return *c.DataBits
}

// GetStopBits returns the stop bits or the default.
func (c *ServiceConfig) GetStopBits() int {
	if c.StopBits == nil {
		return 1
	}
	return *c.StopBits
}

// GetParity returns the parity or the default.
func (c *ServiceConfig) GetParity() string {
	if c.Parity == nil || *c.Parity == "" {
		return "N"
	}
	return *c.Parity
}

// GetMaxLineLength returns the parser bound or the default.
func (c *ServiceConfig) GetMaxLineLength() int {
	if c.MaxLineLength == nil {
		return 256
	}
	return *c.MaxLineLength
}

// GetWidePulseTimings reports whether pulse window timings skip the 16-bit
// narrowing. Defaults to false.
func (c *ServiceConfig) GetWidePulseTimings() bool {
	if c.WidePulseTimings == nil {
		return false
	}
	return *c.WidePulseTimings
}

// GetEchoReceived reports whether the "Received pName" echo is written back.
func (c *ServiceConfig) GetEchoReceived() bool {
	if c.EchoReceived == nil {
		return true
	}
	return *c.EchoReceived
}

// GetParameterPacing parses and returns the delay between uploaded parameters.
func (c *ServiceConfig) GetParameterPacing() time.Duration {
	if c.ParameterPacing == nil || *c.ParameterPacing == "" {
		return 50 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ParameterPacing)
	if err != nil {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// GetListen returns the HTTP listen address or the default.
func (c *ServiceConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the journal database path or the default.
func (c *ServiceConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "triggerscope.db"
	}
	return *c.DBPath
}
