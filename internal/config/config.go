// Package config loads filemesh's runtime configuration using
// spf13/viper: a YAML file plus FILEMESH_-prefixed environment
// overrides.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/filemesh/filemesh/pkg/models"
)

// Config holds every runtime-tunable option: transfer chunk-size
// defaults, storage layout and compression/redundancy settings, and
// network listen/seed configuration.
type Config struct {
	Transfer TransferConfig `mapstructure:"transfer"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Network  NetworkConfig  `mapstructure:"network"`
}

// TransferConfig holds chunk-size defaults and clamps.
type TransferConfig struct {
	DefaultChunkSize models.ByteSize `mapstructure:"default_chunk_size"`
	MaxChunkSize     models.ByteSize `mapstructure:"max_chunk_size"`
}

// StorageConfig holds Chunk Store options.
type StorageConfig struct {
	DataDir                string `mapstructure:"data_dir"`
	EnableCompression      bool   `mapstructure:"enable_compression"`
	CompressionAlgorithm   string `mapstructure:"compression_algorithm"` // "flate" (default) or "zstd"
	EnableRedundancy       bool   `mapstructure:"enable_redundancy"`
	RedundancyDataShards   int    `mapstructure:"redundancy_data_shards"`
	RedundancyParityShards int    `mapstructure:"redundancy_parity_shards"`
}

// NetworkConfig holds listener and seed-peer options.
type NetworkConfig struct {
	Host      string   `mapstructure:"host"`
	Port      int      `mapstructure:"port"`
	SeedNodes []string `mapstructure:"seed_nodes"`
}

// Defaults returns the configuration used when no file or env override is
// present.
func Defaults() Config {
	return Config{
		Transfer: TransferConfig{
			DefaultChunkSize: 1 * 1024 * 1024,
			MaxChunkSize:     models.MaxChunkSize,
		},
		Storage: StorageConfig{
			DataDir:                "data",
			EnableCompression:      true,
			CompressionAlgorithm:   "flate",
			EnableRedundancy:       false,
			RedundancyDataShards:   4,
			RedundancyParityShards: 2,
		},
		Network: NetworkConfig{
			Host:      "0.0.0.0",
			Port:      7077,
			SeedNodes: nil,
		},
	}
}

// Load reads configuration from path (if non-empty and present), overlays
// FILEMESH_-prefixed environment variables, and falls back to Defaults()
// for anything unset.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Defaults()

	v.SetDefault("transfer.default_chunk_size", int64(def.Transfer.DefaultChunkSize))
	v.SetDefault("transfer.max_chunk_size", int64(def.Transfer.MaxChunkSize))
	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.enable_compression", def.Storage.EnableCompression)
	v.SetDefault("storage.compression_algorithm", def.Storage.CompressionAlgorithm)
	v.SetDefault("storage.enable_redundancy", def.Storage.EnableRedundancy)
	v.SetDefault("storage.redundancy_data_shards", def.Storage.RedundancyDataShards)
	v.SetDefault("storage.redundancy_parity_shards", def.Storage.RedundancyParityShards)
	v.SetDefault("network.host", def.Network.Host)
	v.SetDefault("network.port", def.Network.Port)
	v.SetDefault("network.seed_nodes", def.Network.SeedNodes)

	v.SetEnvPrefix("FILEMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
