// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	assert.Equal(t, StoreBackendFile, cfg.StoreBackend)
	assert.Equal(t, 60*time.Second, cfg.StormDelay)
}

func TestFromMapOverridesDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"store_backend": "etcd",
		"etcd_endpoints": []string{"http://127.0.0.1:2379"},
	})
	assert.Nil(t, err)
	assert.Equal(t, StoreBackend("etcd"), cfg.StoreBackend)
	assert.Equal(t, []string{"http://127.0.0.1:2379"}, cfg.EtcdEndpoints)
	// untouched fields keep their defaults
	assert.Equal(t, 10, cfg.SendTargetsBufferSize)
}

func TestApplyEnvOverridesStormDelay(t *testing.T) {
	os.Setenv("ISCSID_STORM_DELAY_SECONDS", "90")
	defer os.Unsetenv("ISCSID_STORM_DELAY_SECONDS")

	cfg := ApplyEnv(Default())
	assert.Equal(t, 90*time.Second, cfg.StormDelay)
}

func TestApplyEnvLeavesUnsetFieldsAlone(t *testing.T) {
	os.Unsetenv("ISCSID_LOG_LEVEL")
	cfg := ApplyEnv(Default())
	assert.Equal(t, Default().LogLevel, cfg.LogLevel)
}
