package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNodeConfig = `
[StateDB]
Path = "/tmp/zkrollup/statedb"

[Exodus]
Path = "/tmp/zkrollup/exodus"

[PostgreSQL]
PortWrite = 5432
HostWrite = "localhost"
UserWrite = "rollup"
PasswordWrite = "yourpasswordhere"
NameWrite = "rollup"

[Web3]
URL = "http://localhost:8545"

[SmartContracts]
Rollup = "0x8EEaea23686c319133a7cC110b840d1591d9AeE0"

[Synchronizer]
SyncLoopInterval = "2s"

[Coordinator]
ForgerAddress = "0x6BB84Cc84D4A34467aD12a2039A312f7029e2071"
FeeAccount = 3
PipelineDepth = 2

[Coordinator.TxSelector]
Path = "/tmp/zkrollup/txselector"

[Coordinator.BatchBuilder]
Path = "/tmp/zkrollup/batchbuilder"

[[Coordinator.ServerProofs]]
URL = "http://localhost:3000/api"

[Coordinator.EthClient.Keystore]
Path = "/tmp/zkrollup/keystore"
Password = "yourpasswordhere"
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadNode(t *testing.T) {
	cfg, err := LoadNode(writeConfig(t, testNodeConfig), true)
	require.NoError(t, err)

	// Defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Out)
	assert.Equal(t, 256, cfg.StateDB.Keep)
	assert.Equal(t, uint32(32), cfg.Coordinator.Circuit.MaxChunks)
	assert.Equal(t, 24*time.Hour, cfg.Coordinator.L2DB.TTL.Duration)
	assert.Equal(t, uint64(1000000), cfg.Coordinator.EthClient.ForgeBatchGasCost.Commit)

	// File
	assert.Equal(t, 2*time.Second, cfg.Synchronizer.SyncLoopInterval.Duration)
	assert.Equal(t, ethCommon.HexToAddress("0x8EEaea23686c319133a7cC110b840d1591d9AeE0"),
		cfg.SmartContracts.Rollup)
	assert.Equal(t, ethCommon.HexToAddress("0x6BB84Cc84D4A34467aD12a2039A312f7029e2071"),
		cfg.Coordinator.ForgerAddress)
	assert.Equal(t, 2, cfg.Coordinator.PipelineDepth)
	assert.EqualValues(t, 3, cfg.Coordinator.FeeAccount)
	require.Len(t, cfg.Coordinator.ServerProofs, 1)
	assert.Equal(t, "http://localhost:3000/api", cfg.Coordinator.ServerProofs[0].URL)
}

func TestLoadNodeValidation(t *testing.T) {
	// Without the coordinator section only the node is validated
	noCoord := testNodeConfig[:strings.Index(testNodeConfig, "[Coordinator]")]
	_, err := LoadNode(writeConfig(t, noCoord), false)
	require.NoError(t, err)
	_, err = LoadNode(writeConfig(t, noCoord), true)
	require.Error(t, err)

	// The rollup address is required
	noRollup := noCoord[:strings.Index(noCoord, "[SmartContracts]")]
	_, err = LoadNode(writeConfig(t, noRollup), false)
	require.Error(t, err)

	// At least one proof server
	noProvers := strings.Replace(testNodeConfig,
		"[[Coordinator.ServerProofs]]\nURL = \"http://localhost:3000/api\"\n", "", 1)
	require.NotEqual(t, testNodeConfig, noProvers)
	_, err = LoadNode(writeConfig(t, noProvers), true)
	require.Error(t, err)
}

func TestLoadNodeErrors(t *testing.T) {
	_, err := LoadNode(filepath.Join(t.TempDir(), "missing.toml"), false)
	require.Error(t, err)

	_, err = LoadNode(writeConfig(t, `[Synchronizer]
SyncLoopInterval = "2 parsecs"`), false)
	require.Error(t, err)
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	require.Error(t, d.UnmarshalText([]byte("soon")))
}
