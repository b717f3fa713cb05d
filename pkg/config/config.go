package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chunkcast/pkg/registry"
	"chunkcast/pkg/storage"
	"chunkcast/pkg/transport"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CHUNKCAST_"

// DefaultFiles is the fixed archive announced when no list is configured.
var DefaultFiles = []string{
	"Agora.jpeg",
	"AngkorWat.jpeg",
	"Athens.jpeg",
	"BangkokRiver.jpeg",
	"BangkokTemple.jpeg",
	"IstanbulStreet.jpeg",
	"OdeonofHerodes.jpeg",
	"OldBazaar.jpeg",
	"SiemReapTukTuk.jpeg",
	"SingaporeHarbor.jpeg",
	"SydneyBridge.jpeg",
	"SydneyOperaHouse.jpeg",
}

type Config struct {
	// Group channel
	Group     string `json:"group" yaml:"group"`
	Port      int    `json:"port" yaml:"port"`
	Interface string `json:"interface,omitempty" yaml:"interface,omitempty"`
	TTL       int    `json:"ttl" yaml:"ttl"`
	Loopback  bool   `json:"loopback" yaml:"loopback"`

	// Limits
	ChunkSize   Size `json:"chunk_size" yaml:"chunk_size"`
	MaxChunks   int  `json:"max_chunks" yaml:"max_chunks"`
	MaxPeers    int  `json:"max_peers" yaml:"max_peers"`
	MaxDatagram Size `json:"max_datagram" yaml:"max_datagram"`

	// Local storage
	ArchiveDir  string   `json:"archive_dir" yaml:"archive_dir"`
	ChunkDir    string   `json:"chunk_dir" yaml:"chunk_dir"`
	DataDir     string   `json:"data_dir" yaml:"data_dir"`
	Files       []string `json:"files" yaml:"files"`
	Compression string   `json:"compression" yaml:"compression"`

	Workers int `json:"workers" yaml:"workers"`

	// Registry side listeners, disabled when empty
	MetricsAddress string `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`
	HealthAddress  string `json:"health_address,omitempty" yaml:"health_address,omitempty"`
}

func Default() *Config {
	return &Config{
		Group:       transport.DefaultGroup,
		TTL:         1,
		Loopback:    true,
		ChunkSize:   Size(storage.DefaultChunkSize),
		MaxChunks:   storage.DefaultMaxChunks,
		MaxPeers:    registry.DefaultCapacity,
		MaxDatagram: Size(transport.DefaultMaxDatagram),
		ArchiveDir:  "ArchiveFILES",
		ChunkDir:    "CHUNKS",
		DataDir:     "DATA",
		Files:       append([]string(nil), DefaultFiles...),
		Compression: string(storage.CompressionNone),
		Workers:     1,
	}
}

// LoadConfig reads path over the defaults. Fields absent from the file keep
// their default value. The format follows the extension: .yaml and .yml are
// YAML, anything else JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Load builds the effective configuration: defaults, then the file at path
// if any, then CHUNKCAST_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.ExpandPaths()
	return cfg, nil
}

// ApplyEnv overrides fields from CHUNKCAST_* variables that are set.
func (c *Config) ApplyEnv() error {
	c.Group = getEnv(envPrefix+"GROUP", c.Group)
	c.Interface = getEnv(envPrefix+"INTERFACE", c.Interface)
	c.ArchiveDir = getEnv(envPrefix+"ARCHIVE_DIR", c.ArchiveDir)
	c.ChunkDir = getEnv(envPrefix+"CHUNK_DIR", c.ChunkDir)
	c.DataDir = getEnv(envPrefix+"DATA_DIR", c.DataDir)
	c.Compression = getEnv(envPrefix+"COMPRESSION", c.Compression)
	c.MetricsAddress = getEnv(envPrefix+"METRICS_ADDRESS", c.MetricsAddress)
	c.HealthAddress = getEnv(envPrefix+"HEALTH_ADDRESS", c.HealthAddress)

	if files := os.Getenv(envPrefix + "FILES"); files != "" {
		c.Files = splitList(files)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &c.Port},
		{"TTL", &c.TTL},
		{"MAX_CHUNKS", &c.MaxChunks},
		{"MAX_PEERS", &c.MaxPeers},
		{"WORKERS", &c.Workers},
	}
	for _, v := range ints {
		raw := os.Getenv(envPrefix + v.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, v.key, err)
		}
		*v.dst = n
	}

	sizes := []struct {
		key string
		dst *Size
	}{
		{"CHUNK_SIZE", &c.ChunkSize},
		{"MAX_DATAGRAM", &c.MaxDatagram},
	}
	for _, v := range sizes {
		raw := os.Getenv(envPrefix + v.key)
		if raw == "" {
			continue
		}
		if err := v.dst.Set(raw); err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, v.key, err)
		}
	}

	if raw := os.Getenv(envPrefix + "LOOPBACK"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %sLOOPBACK: %w", envPrefix, err)
		}
		c.Loopback = b
	}
	return nil
}

// maxUDPPayload is the largest payload an IPv4 UDP datagram can carry.
const maxUDPPayload = 65507

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if addr, err := netip.ParseAddr(c.Group); err != nil || !addr.Is4() || !addr.IsMulticast() {
		errs = append(errs, fmt.Errorf("group %q is not an IPv4 multicast address", c.Group))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.TTL < 0 || c.TTL > 255 {
		errs = append(errs, fmt.Errorf("ttl %d out of range", c.TTL))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive"))
	}
	if c.MaxChunks <= 0 {
		errs = append(errs, fmt.Errorf("max_chunks must be positive"))
	}
	if c.MaxPeers <= 0 {
		errs = append(errs, fmt.Errorf("max_peers must be positive"))
	}
	if c.MaxDatagram <= 0 || c.MaxDatagram > maxUDPPayload {
		errs = append(errs, fmt.Errorf("max_datagram must be between 1 and %d bytes", maxUDPPayload))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive"))
	}
	if _, err := storage.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	for _, dir := range []struct{ name, value string }{
		{"archive_dir", c.ArchiveDir},
		{"chunk_dir", c.ChunkDir},
		{"data_dir", c.DataDir},
	} {
		if strings.TrimSpace(dir.value) == "" {
			errs = append(errs, fmt.Errorf("%s must be set", dir.name))
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
