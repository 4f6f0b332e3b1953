package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// StudioConfig represents a single studio.
type StudioConfig struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Capacity    int    `yaml:"capacity"`
	IsActive    bool   `yaml:"is_active"`
}

// HolidayConfig is a school holiday period, inclusive on both ends.
type HolidayConfig struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"` // "2025-12-22"
	End   string `yaml:"end"`   // "2026-01-06"
}

// StudiosConfig is the root configuration for studios.yaml.
type StudiosConfig struct {
	Studios  []StudioConfig  `yaml:"studios"`
	Holidays []HolidayConfig `yaml:"holidays"`
}

// LoadStudiosConfig loads and validates studios configuration from YAML file.
func LoadStudiosConfig(path string) (*StudiosConfig, error) {
	if path == "" {
		path = "configs/studios.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read studios config: %w", err)
	}
	return ParseStudiosConfig(data)
}

// ParseStudiosConfig decodes and validates studios.yaml content.
func ParseStudiosConfig(data []byte) (*StudiosConfig, error) {
	var cfg StudiosConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse studios config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate studios config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *StudiosConfig) Validate() error {
	if len(c.Studios) == 0 {
		return fmt.Errorf("no studios defined")
	}

	ids := make(map[int]bool)
	names := make(map[string]bool)

	for i, s := range c.Studios {
		if s.ID <= 0 {
			return fmt.Errorf("studio[%d]: id must be positive, got %d", i, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("studio[%d]: duplicate id %d", i, s.ID)
		}
		ids[s.ID] = true

		if s.Name == "" {
			return fmt.Errorf("studio[%d]: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("studio[%d]: duplicate name '%s'", i, s.Name)
		}
		names[s.Name] = true

		if s.Capacity < 0 {
			return fmt.Errorf("studio[%d]: capacity cannot be negative", i)
		}
	}

	for i, h := range c.Holidays {
		if h.Name == "" {
			return fmt.Errorf("holiday[%d]: name is required", i)
		}
		start, err := time.Parse(dateLayout, h.Start)
		if err != nil {
			return fmt.Errorf("holiday[%d]: invalid start '%s', expected YYYY-MM-DD", i, h.Start)
		}
		end, err := time.Parse(dateLayout, h.End)
		if err != nil {
			return fmt.Errorf("holiday[%d]: invalid end '%s', expected YYYY-MM-DD", i, h.End)
		}
		if end.Before(start) {
			return fmt.Errorf("holiday[%d]: end %s is before start %s", i, h.End, h.Start)
		}
	}

	return nil
}
