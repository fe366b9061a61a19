// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package config is the daemon's process configuration: log level/file, the control surface's
// bind address, the persistent store backend selection, the config-storm debounce delay and the
// SendTargets per-query buffer size. Defaults are overridden from environment variables, the same
// pattern logger.updateLogParamsFromEnv uses.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"

	log "github.com/hpe-storage/iscsid-core/logger"
)

// StoreBackend names which persistent-store implementation to construct.
type StoreBackend string

const (
	StoreBackendFile  StoreBackend = "file"
	StoreBackendEtcd  StoreBackend = "etcd"
	StoreBackendMem   StoreBackend = "mem"
)

// Config is the daemon's full process configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	HTTPBindAddress string `mapstructure:"http_bind_address"`

	StoreBackend   StoreBackend `mapstructure:"store_backend"`
	FileStorePath  string       `mapstructure:"file_store_path"`
	EtcdEndpoints  []string     `mapstructure:"etcd_endpoints"`
	EtcdAPIVersion string       `mapstructure:"etcd_api_version"`

	StormDelay             time.Duration `mapstructure:"storm_delay"`
	SendTargetsBufferSize  int           `mapstructure:"sendtargets_buffer_size"`
}

// Default returns the configuration the daemon uses when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel:              log.DefaultLogLevel,
		HTTPBindAddress:       "unix:/var/run/iscsid/control.sock",
		StoreBackend:          StoreBackendFile,
		FileStorePath:         "/etc/iscsid/store.yaml",
		EtcdAPIVersion:        "v2",
		StormDelay:            60 * time.Second,
		SendTargetsBufferSize: 10,
	}
}

// FromMap decodes a generic map (as parsed from YAML or JSON) into a Config seeded with the
// defaults, via mapstructure, matching the filestore backend's own decode idiom.
func FromMap(raw map[string]interface{}) (Config, error) {
	cfg := Default()
	if raw == nil {
		return cfg, nil
	}
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg's fields from environment variables, mirroring
// logger.updateLogParamsFromEnv's override-if-set idiom.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("ISCSID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ISCSID_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("ISCSID_HTTP_BIND_ADDRESS"); v != "" {
		cfg.HTTPBindAddress = v
	}
	if v := os.Getenv("ISCSID_STORE_BACKEND"); v != "" {
		cfg.StoreBackend = StoreBackend(v)
	}
	if v := os.Getenv("ISCSID_FILE_STORE_PATH"); v != "" {
		cfg.FileStorePath = v
	}
	if v := os.Getenv("ISCSID_STORM_DELAY_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.StormDelay = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("ISCSID_SENDTARGETS_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SendTargetsBufferSize = n
		}
	}
	return cfg
}
