package helper

import (
	"os"
	"path/filepath"
)

const (
	// SystemConfigDir is the last directory searched for configuration files
	SystemConfigDir = "/etc/pigeon"
	// DefaultPIDFile is used when no PID file location can be derived
	DefaultPIDFile = "/var/run/pigeon.pid"
)

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check ./{filename} and ./configs/{filename}
// 3. Otherwise, fallback to /etc/pigeon/{filename}
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range []string{".", "configs"} {
		if p := existingAbs(filepath.Join(dir, filename)); p != "" {
			return p
		}
	}
	return filepath.Join(SystemConfigDir, filename)
}

// GetPIDPath returns the path to the PID file. A relative filename resolves
// against the working directory when its parent directory exists.
func GetPIDPath(filename string) string {
	if filename == "" {
		return DefaultPIDFile
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	abs, err := filepath.Abs(filename)
	if err != nil {
		return DefaultPIDFile
	}
	if _, err := os.Stat(filepath.Dir(abs)); err != nil {
		return DefaultPIDFile
	}
	return abs
}

func existingAbs(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return abs
}
