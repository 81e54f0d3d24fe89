// Package config loads the nested vdb configuration schema from a YAML file,
// then overrides individual fields from environment variables using the same
// getEnv/getEnvInt/getEnvBool/getEnvDuration helper pattern the teacher used
// for its flat Neo4j-style surface. Environment variables win over the file
// since every deployment story in the retrieval pack (containers, k8s)
// expects them to.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document, matching §6's recognised
// options: server, collection_defaults, wal, cache, cluster, encryption.
type Config struct {
	Server             ServerConfig             `yaml:"server"`
	CollectionDefaults CollectionDefaultsConfig `yaml:"collection_defaults"`
	WAL                WALConfig                `yaml:"wal"`
	Cache              CacheConfig              `yaml:"cache"`
	Cluster            ClusterConfig            `yaml:"cluster"`
	Encryption         EncryptionConfig         `yaml:"encryption"`
	Logging            LoggingConfig            `yaml:"logging"`
}

// ServerConfig controls the process's own listen address and data directory.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// HNSWDefaults mirrors vector.HNSWParams' tunables as loaded from YAML.
type HNSWDefaults struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// CollectionDefaultsConfig seeds vector.CollectionConfig for collections
// created without an explicit override.
type CollectionDefaultsConfig struct {
	Dimension    int          `yaml:"dimension"`
	Metric       string       `yaml:"metric"`
	HNSW         HNSWDefaults `yaml:"hnsw"`
	Quantisation string       `yaml:"quantisation"`
}

// WALConfig controls durability and checkpoint cadence, per §4.E.
type WALConfig struct {
	Enabled               bool   `yaml:"enabled"`
	CheckpointThreshold   int    `yaml:"checkpoint_threshold"`
	CheckpointIntervalSec int    `yaml:"checkpoint_interval_sec"`
	FsyncMode             string `yaml:"fsync_mode"`
	IntervalMs            int    `yaml:"interval_ms"`
	Compression           bool   `yaml:"compression"`
}

// CacheConfig sizes the multi-tier cache of §4.D.
type CacheConfig struct {
	HotBytes         int64  `yaml:"hot_bytes"`
	WarmPath         string `yaml:"warm_path"`
	ColdPath         string `yaml:"cold_path"`
	CompressionLevel int    `yaml:"compression_level"`
	EnableMetrics    bool   `yaml:"enable_metrics"`
}

// ClusterServer is one statically-discovered peer.
type ClusterServer struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// ClusterConfig controls participation in the shard router of §4.F.
type ClusterConfig struct {
	Enabled    bool            `yaml:"enabled"`
	NodeID     string          `yaml:"node_id"`
	Servers    []ClusterServer `yaml:"servers"`
	Discovery  string          `yaml:"discovery"`
	TimeoutMs  int             `yaml:"timeout_ms"`
	RetryCount int             `yaml:"retry_count"`
}

// EncryptionConfig describes the opaque payload-encryption envelope; the
// core never decrypts it, it only carries the configured algorithm name
// through for the collaborator that does.
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Algorithm string `yaml:"algorithm"`
}

// LoggingConfig is ambient, not named in §6's option list, but every
// service in the corpus carries one.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with the defaults §6 calls out
// (M=16, ef_construction=200, ef_search=50, checkpoint_threshold=1000, ...).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		CollectionDefaults: CollectionDefaultsConfig{
			Metric:       "cosine",
			HNSW:         HNSWDefaults{M: 16, EfConstruction: 200, EfSearch: 50},
			Quantisation: "none",
		},
		WAL: WALConfig{
			Enabled:               true,
			CheckpointThreshold:   1000,
			CheckpointIntervalSec: 300,
			FsyncMode:             "interval",
			IntervalMs:            100,
		},
		Cache: CacheConfig{
			HotBytes:         256 * 1024 * 1024,
			WarmPath:         "./data/cache/warm",
			ColdPath:         "./data/cache/cold",
			CompressionLevel: 3,
			EnableMetrics:    true,
		},
		Cluster: ClusterConfig{
			Discovery:  "static",
			TimeoutMs:  5000,
			RetryCount: 3,
		},
		Encryption: EncryptionConfig{
			Algorithm: "ECC-P256-AES256GCM",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "console",
		},
	}
}

// Load reads path as YAML over top of Default(), then applies environment
// variable overrides. A missing path is not an error — defaults apply and
// env vars can still override them, matching the teacher's "no config file,
// environment-only" fallback philosophy for an all-defaults dev setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = getEnv("VDB_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("VDB_SERVER_PORT", cfg.Server.Port)
	cfg.Server.DataDir = getEnv("VDB_DATA_DIR", cfg.Server.DataDir)

	cfg.CollectionDefaults.Metric = getEnv("VDB_DEFAULT_METRIC", cfg.CollectionDefaults.Metric)
	cfg.CollectionDefaults.HNSW.M = getEnvInt("VDB_HNSW_M", cfg.CollectionDefaults.HNSW.M)
	cfg.CollectionDefaults.HNSW.EfConstruction = getEnvInt("VDB_HNSW_EF_CONSTRUCTION", cfg.CollectionDefaults.HNSW.EfConstruction)
	cfg.CollectionDefaults.HNSW.EfSearch = getEnvInt("VDB_HNSW_EF_SEARCH", cfg.CollectionDefaults.HNSW.EfSearch)

	cfg.WAL.Enabled = getEnvBool("VDB_WAL_ENABLED", cfg.WAL.Enabled)
	cfg.WAL.CheckpointThreshold = getEnvInt("VDB_WAL_CHECKPOINT_THRESHOLD", cfg.WAL.CheckpointThreshold)
	cfg.WAL.CheckpointIntervalSec = getEnvInt("VDB_WAL_CHECKPOINT_INTERVAL_SEC", cfg.WAL.CheckpointIntervalSec)
	cfg.WAL.FsyncMode = getEnv("VDB_WAL_FSYNC_MODE", cfg.WAL.FsyncMode)
	cfg.WAL.IntervalMs = getEnvInt("VDB_WAL_INTERVAL_MS", cfg.WAL.IntervalMs)

	cfg.Cache.HotBytes = getEnvInt64("VDB_CACHE_HOT_BYTES", cfg.Cache.HotBytes)
	cfg.Cache.WarmPath = getEnv("VDB_CACHE_WARM_PATH", cfg.Cache.WarmPath)
	cfg.Cache.ColdPath = getEnv("VDB_CACHE_COLD_PATH", cfg.Cache.ColdPath)
	cfg.Cache.CompressionLevel = getEnvInt("VDB_CACHE_COMPRESSION_LEVEL", cfg.Cache.CompressionLevel)

	cfg.Cluster.Enabled = getEnvBool("VDB_CLUSTER_ENABLED", cfg.Cluster.Enabled)
	cfg.Cluster.NodeID = getEnv("VDB_CLUSTER_NODE_ID", cfg.Cluster.NodeID)
	cfg.Cluster.TimeoutMs = getEnvInt("VDB_CLUSTER_TIMEOUT_MS", cfg.Cluster.TimeoutMs)
	cfg.Cluster.RetryCount = getEnvInt("VDB_CLUSTER_RETRY_COUNT", cfg.Cluster.RetryCount)

	cfg.Encryption.Enabled = getEnvBool("VDB_ENCRYPTION_ENABLED", cfg.Encryption.Enabled)

	cfg.Logging.Level = getEnv("VDB_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("VDB_LOG_FORMAT", cfg.Logging.Format)
}

// Validate checks the configuration for values the rest of the system
// cannot recover from at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.CollectionDefaults.HNSW.M <= 0 {
		return fmt.Errorf("invalid hnsw M: %d", c.CollectionDefaults.HNSW.M)
	}
	if c.CollectionDefaults.HNSW.EfSearch < 1 {
		return fmt.Errorf("invalid hnsw ef_search: %d", c.CollectionDefaults.HNSW.EfSearch)
	}
	switch c.WAL.FsyncMode {
	case "interval", "per_write":
	default:
		return fmt.Errorf("invalid wal fsync_mode: %q", c.WAL.FsyncMode)
	}
	if c.Cluster.Enabled && c.Cluster.NodeID == "" {
		return fmt.Errorf("cluster enabled but node_id is empty")
	}
	return nil
}

// String returns a safe representation with no secrets, suitable for a
// startup log line.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{server: %s:%d, data_dir: %s, wal_fsync: %s, cluster: %v}",
		c.Server.Host, c.Server.Port, c.Server.DataDir, c.WAL.FsyncMode, c.Cluster.Enabled,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
