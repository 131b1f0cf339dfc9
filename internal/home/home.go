package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the docuport home directory.
	DefaultDirName = ".docuport"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the docuport output directory structure.
//
// Layout:
//
//	<root>/
//	  intermediate/detection/   one JSON per document with detected sections
//	  intermediate/sections/    one JSON per extracted section
//	  validation_queue/         pending/decided review entries
//	  final/                    approved document JSONs
//	  checkpoints/              per-batch checkpoint logs
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.docuport).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the output directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// DetectionDir returns the directory for detection results.
func (d *Dir) DetectionDir() string {
	return filepath.Join(d.path, "intermediate", "detection")
}

// SectionsDir returns the directory for per-section extraction results.
func (d *Dir) SectionsDir() string {
	return filepath.Join(d.path, "intermediate", "sections")
}

// ValidationQueueDir returns the directory for validation queue entries.
func (d *Dir) ValidationQueueDir() string {
	return filepath.Join(d.path, "validation_queue")
}

// FinalDir returns the directory for approved document output.
func (d *Dir) FinalDir() string {
	return filepath.Join(d.path, "final")
}

// CheckpointsDir returns the directory for batch checkpoint logs.
func (d *Dir) CheckpointsDir() string {
	return filepath.Join(d.path, "checkpoints")
}

// EnsureExists creates the output directory tree if it doesn't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{
		d.DetectionDir(),
		d.SectionsDir(),
		d.ValidationQueueDir(),
		d.FinalDir(),
		d.CheckpointsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the output directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
