package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetConfigDir returns the chunkcast configuration directory
func GetConfigDir() string {
	if dir := os.Getenv(envPrefix + "CONFIG_DIR"); dir != "" {
		return dir
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chunkcast")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".chunkcast"
	}
	return filepath.Join(home, ".chunkcast")
}

// FindConfigFile returns the first existing config.{yaml,yml,json} in the
// config directory, or "" when there is none.
func FindConfigFile() string {
	dir := GetConfigDir()
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}

// ExpandPaths applies ExpandPath to every directory setting.
func (c *Config) ExpandPaths() {
	c.ArchiveDir = ExpandPath(c.ArchiveDir)
	c.ChunkDir = ExpandPath(c.ChunkDir)
	c.DataDir = ExpandPath(c.DataDir)
}
