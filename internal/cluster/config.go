package cluster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EvictionPolicy names one of the four eviction strategies the store
// supports (see internal/store). Declared here, not in internal/store, so
// the CLI layer can validate --eviction-policy without importing the store
// package just to read four string constants.
type EvictionPolicy string

const (
	EvictionLRU    EvictionPolicy = "lru"
	EvictionLFU    EvictionPolicy = "lfu"
	EvictionRandom EvictionPolicy = "random"
	EvictionTTL    EvictionPolicy = "ttl"
)

// Config is the union of flags/YAML fields every meshkv process may read.
// Each cmd/ entrypoint only flag-registers the subset it needs; the shared
// struct just avoids three near-identical definitions.
//
// Precedence: explicit command-line flags always win over a --config file,
// which in turn wins over the zero-value defaults set by DefaultConfig.
type Config struct {
	Host             string         `yaml:"host"`
	NodeID           string         `yaml:"node_id"`
	DataDir          string         `yaml:"data_dir"`
	EvictionPolicy   EvictionPolicy `yaml:"eviction_policy"`
	ProxyID          string         `yaml:"proxy_id"`
	HealthService    string         `yaml:"health_service"`
	ClusterNodes     string         `yaml:"cluster_nodes"`
	AdminAddr        string         `yaml:"admin_addr"`
	Port             int            `yaml:"port"`
	MaxSize          int            `yaml:"max_size"`
	Shards           int            `yaml:"shards"`
	VirtualNodes     int            `yaml:"virtual_nodes"`
	CheckIntervalSec int            `yaml:"check_interval_seconds"`
	CheckTimeoutSec  int            `yaml:"check_timeout_seconds"`
	PersistenceOn    bool           `yaml:"persistence_enabled"`
	SnapshotCompress bool           `yaml:"snapshot_compression"`
}

// DefaultConfig returns the baseline configuration used when no YAML file
// or flag overrides a field.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             6380,
		DataDir:          "./data",
		MaxSize:          1_000_000,
		Shards:           16,
		EvictionPolicy:   EvictionLRU,
		PersistenceOn:    true,
		SnapshotCompress: true,
		VirtualNodes:     150,
		CheckIntervalSec: 30,
		CheckTimeoutSec:  5,
	}
}

// LoadYAML reads a YAML config file and overlays its fields onto base,
// leaving fields the file doesn't set untouched. Callers apply this after
// parsing flags and copy the result only into flags the command line did
// not set, so that explicit flags still win.
func LoadYAML(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, fmt.Errorf("cluster: open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&base); err != nil {
		return base, fmt.Errorf("cluster: parse config %s: %w", path, err)
	}
	return base, nil
}
