package config_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/taphub/taphubd/internal/config"
)

const testHubPubkey = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TAPHUB_DATADIR", t.TempDir())
	t.Setenv("TAPHUB_HUB_PUBKEY", testHubPubkey)
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "bitcoin", cfg.Network)
	require.Equal(t, &chaincfg.MainNetParams, cfg.NetworkParams())
	require.Equal(t, "badger", cfg.DbType)
	require.Equal(t, int64(540), cfg.DustThreshold)
	require.Equal(t, uint32(604672), cfg.CsvDelay)
	require.Equal(t, 60, cfg.SettlementPollAttempts)
	require.Equal(t, "env", cfg.UnlockerType)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TAPHUB_NETWORK", "regtest")
	t.Setenv("TAPHUB_ESPLORA_URL", "http://localhost:3000")
	t.Setenv("TAPHUB_TX_FEE", "1000")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, &chaincfg.RegressionNetParams, cfg.NetworkParams())
	require.Equal(t, "http://localhost:3000", cfg.EsploraURL)
	require.Equal(t, int64(1000), cfg.TxFee)
}

func TestLoadConfigValidation(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{"unsupported network", "TAPHUB_NETWORK", "litecoin"},
		{"unsupported db", "TAPHUB_DB_TYPE", "postgres"},
		{"unsupported unlocker", "TAPHUB_UNLOCKER_TYPE", "hsm"},
		{"csv delay too small", "TAPHUB_CSV_DELAY", "100"},
		{"zero tx fee", "TAPHUB_TX_FEE", "0"},
		{"zero dust", "TAPHUB_DUST_THRESHOLD", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := config.LoadConfig()
			require.Error(t, err)
		})
	}

	t.Run("missing hub pubkey", func(t *testing.T) {
		t.Setenv("TAPHUB_DATADIR", t.TempDir())
		t.Setenv("TAPHUB_HUB_PUBKEY", "")

		_, err := config.LoadConfig()
		require.Error(t, err)
	})
}
