package settings

import (
	"testing"
	"time"

	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// check settings object is initialised
func TestInitialiseSettings(t *testing.T) {
	tSettings := NewSettings()

	require.NotNil(t, tSettings.ChainCfgParams)
	require.NotNil(t, tSettings.BlockStore.StoreURL)
	require.NotNil(t, tSettings.StateStore.StoreURL)

	assert.Equal(t, "sqlite", tSettings.BlockStore.StoreURL.Scheme)
	assert.Equal(t, "file", tSettings.StateStore.StoreURL.Scheme)
	assert.Positive(t, tSettings.LSM.MaxBlockSize)
	assert.GreaterOrEqual(t, tSettings.LSM.LevelFactor, 2)
	assert.Positive(t, tSettings.Node.SigCacheSize)
	assert.Equal(t, time.Duration(0), tSettings.Node.DedupTTL)
}

func TestChainParamsOverride(t *testing.T) {
	tests := []struct {
		name        string
		params      *chaincfg.Params
		commitDelay uint32
	}{
		{"RegressionNet", &chaincfg.RegressionNetParams, 6},
		{"TestNet", &chaincfg.TestNetParams, 12},
		{"MainNet", &chaincfg.MainNetParams, 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tSettings := NewSettings()
			tSettings.ChainCfgParams = tt.params
			require.Equal(t, tt.commitDelay, tSettings.ChainCfgParams.CommitDelay)
		})
	}
}

func TestGetDurationFallback(t *testing.T) {
	assert.Equal(t, 5*time.Second, getDuration("settings_test_missing_duration", 5*time.Second))
	assert.Equal(t, 7, getInt("settings_test_missing_int", 7))
	assert.True(t, getBool("settings_test_missing_bool", true))
	assert.Equal(t, "x", getString("settings_test_missing_string", "x"))
	assert.Equal(t, "memory", getURL("settings_test_missing_url", "memory:///").Scheme)
}
