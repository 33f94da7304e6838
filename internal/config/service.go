// Package config loads the service configuration from JSON. Fields are
// pointers so a partial file overrides only what it names; the Get*
// accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ServiceConfig represents the root configuration for the scoring service.
type ServiceConfig struct {
	// Scoring params
	SakoeRadius *int  `json:"sakoe_radius,omitempty"` // -1 disables the band, 0 means auto
	UseZ        *bool `json:"use_z,omitempty"`

	// Capture params
	DefaultFPS    *float64 `json:"default_fps,omitempty"`
	MaxFrameBytes *int64   `json:"max_frame_bytes,omitempty"`

	// Storage params
	RecordingsDir *string `json:"recordings_dir,omitempty"`
	TemplatesDir  *string `json:"templates_dir,omitempty"`

	// Worker params
	PoolWorkers *int `json:"pool_workers,omitempty"`
}

// EmptyServiceConfig returns a ServiceConfig with all fields set to nil.
func EmptyServiceConfig() *ServiceConfig {
	return &ServiceConfig{}
}

// LoadServiceConfig loads a ServiceConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their defaults,
// so partial configs are safe.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptyServiceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ServiceConfig) Validate() error {
	if c.SakoeRadius != nil && *c.SakoeRadius < -1 {
		return fmt.Errorf("sakoe_radius must be >= -1, got %d", *c.SakoeRadius)
	}
	if c.DefaultFPS != nil && *c.DefaultFPS <= 0 {
		return fmt.Errorf("default_fps must be positive, got %f", *c.DefaultFPS)
	}
	if c.MaxFrameBytes != nil && *c.MaxFrameBytes <= 0 {
		return fmt.Errorf("max_frame_bytes must be positive, got %d", *c.MaxFrameBytes)
	}
	if c.PoolWorkers != nil && *c.PoolWorkers <= 0 {
		return fmt.Errorf("pool_workers must be positive, got %d", *c.PoolWorkers)
	}
	return nil
}

// GetSakoeRadius returns the configured band radius. -1 disables the band
// and 0 selects automatic sizing from the reference length.
func (c *ServiceConfig) GetSakoeRadius() int {
	if c.SakoeRadius != nil {
		return *c.SakoeRadius
	}
	return 0
}

func (c *ServiceConfig) GetUseZ() bool {
	if c.UseZ != nil {
		return *c.UseZ
	}
	return false
}

func (c *ServiceConfig) GetDefaultFPS() float64 {
	if c.DefaultFPS != nil {
		return *c.DefaultFPS
	}
	return 30
}

func (c *ServiceConfig) GetMaxFrameBytes() int64 {
	if c.MaxFrameBytes != nil {
		return *c.MaxFrameBytes
	}
	return 16 << 20
}

func (c *ServiceConfig) GetRecordingsDir() string {
	if c.RecordingsDir != nil {
		return *c.RecordingsDir
	}
	return "recordings"
}

func (c *ServiceConfig) GetTemplatesDir() string {
	if c.TemplatesDir != nil {
		return *c.TemplatesDir
	}
	return "templates"
}

func (c *ServiceConfig) GetPoolWorkers() int {
	if c.PoolWorkers != nil {
		return *c.PoolWorkers
	}
	return runtime.NumCPU()
}
