// Package store persists the operator's "save as default" choices across
// restarts.
package store

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/peterbourgon/diskv/v3"
	"gopkg.in/yaml.v3"

	"github.com/opencal/calpanel/internal/debug"
)

const defaultsKey = "defaults"

// Defaults are the user-tunable settings that survive a restart. Zero
// fields mean "not saved".
type Defaults struct {
	SpeedRPM     int    `yaml:"speed_rpm,omitempty"`
	ScalePercent int    `yaml:"scale_percent,omitempty"`
	CameraType   string `yaml:"camera_type,omitempty"`
}

// Merge returns base with every saved field of d applied on top.
func (d Defaults) Merge(base Defaults) Defaults {
	if d.SpeedRPM > 0 {
		base.SpeedRPM = d.SpeedRPM
	}
	if d.ScalePercent > 0 {
		base.ScalePercent = d.ScalePercent
	}
	if d.CameraType != "" {
		base.CameraType = d.CameraType
	}
	return base
}

// Store keeps Defaults in a diskv directory.
type Store struct {
	d *diskv.Diskv
}

// Open creates a store rooted at dir.
func Open(dir string) *Store {
	return &Store{d: diskv.New(diskv.Options{
		BasePath:     dir,
		CacheSizeMax: 64 * 1024,
	})}
}

// Load returns the saved defaults; nothing saved yet is not an error.
func (s *Store) Load() (Defaults, error) {
	var d Defaults
	raw, err := s.d.Read(defaultsKey)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return d, nil
		}
		return d, fmt.Errorf("store: read defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Defaults{}, fmt.Errorf("store: parse defaults: %w", err)
	}
	return d, nil
}

// Save replaces the saved defaults.
func (s *Store) Save(d Defaults) error {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: encode defaults: %w", err)
	}
	if err := s.d.Write(defaultsKey, raw); err != nil {
		return fmt.Errorf("store: write defaults: %w", err)
	}
	debug.Info("defaults saved: %d rpm, %d%%, camera %s", d.SpeedRPM, d.ScalePercent, d.CameraType)
	return nil
}

// Reset forgets the saved defaults.
func (s *Store) Reset() error {
	if !s.d.Has(defaultsKey) {
		return nil
	}
	return s.d.Erase(defaultsKey)
}
