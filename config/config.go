package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator"
	"tokamak-zkrollup/common"
)

// Duration is a wrapper type that parses time duration from text.
type Duration struct {
	time.Duration `validate:"required"`
}

// UnmarshalText unmarshalls time duration from text.
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return common.Wrap(err)
	}
	d.Duration = duration
	return nil
}

// ServerProof is the server proof configuration data.
type ServerProof struct {
	// URL is the server proof API URL
	URL string `validate:"required"`
}

// ForgeBatchGasCost is the costs associated to a ForgeBatch transaction
type ForgeBatchGasCost struct {
	// Commit is the gas limit of a commitBatch transaction
	Commit uint64 `validate:"required"`
	// Verify is the gas limit of a verifyBatch transaction
	Verify uint64 `validate:"required"`
}

// Coordinator is the coordinator specific configuration.
type Coordinator struct {
	// ForgerAddress is the address under which this coordinator is forging
	ForgerAddress ethCommon.Address `validate:"required"`
	// MinimumForgeAddressBalance is the minimum balance the forger address
	// needs to start the coordinator in wei. If set to 0, the coordinator
	// will not check the balance before starting.
	MinimumForgeAddressBalance *big.Int
	// FeeAccount is the rollup account that receives the batch fees
	FeeAccount common.AccountID
	// PipelineDepth is the maximum number of committed and unverified
	// batches
	PipelineDepth int `validate:"required,min=1"`
	// ConfirmBlocks is the number of confirmation blocks to wait for sent
	// ethereum transactions before forgetting about them
	ConfirmBlocks int64 `validate:"required"`
	// ForgeRetryInterval is the waiting interval between calls forge a
	// batch after an error
	ForgeRetryInterval Duration `validate:"required"`
	// ForgeDelay is the minimum delay between two forged batches.  If set
	// to 0s, the coordinator will continuously forge at the maximum rate.
	ForgeDelay Duration `validate:"-"`
	// ForgeNoTxsDelay is the delay after which a batch is forged even if
	// there are no txs to forge.  If set to 0s, the coordinator will
	// continuously forge even if the batches are empty.
	ForgeNoTxsDelay Duration `validate:"-"`
	// SyncRetryInterval is the waiting interval between calls to the main
	// handler of a synced block after an error
	SyncRetryInterval Duration `validate:"required"`
	// ProofServerPollInterval is the waiting interval between polling the
	// ProofServer while waiting for a particular status
	ProofServerPollInterval Duration `validate:"required"`
	L2DB                    struct {
		// SafetyPeriod is the number of batches after which
		// non-pending txs can be deleted from the pool
		SafetyPeriod common.BatchNum `validate:"required"`
		// MaxTxs is the maximum number of pending txs in the pool
		MaxTxs uint32 `validate:"required"`
		// TTL is the Time To Live for L2Txs in the pool
		TTL Duration `validate:"required"`
		// PurgeBatchDelay is the delay between batches to purge
		// outdated transactions
		PurgeBatchDelay int64 `validate:"required"`
		// InvalidateBatchDelay is the delay between batches to mark
		// invalid transactions
		InvalidateBatchDelay int64 `validate:"required"`
		// PurgeBlockDelay is the delay between blocks to purge outdated
		// transactions
		PurgeBlockDelay int64 `validate:"required"`
		// InvalidateBlockDelay is the delay between blocks to mark
		// invalid transactions
		InvalidateBlockDelay int64 `validate:"required"`
	} `validate:"required"`
	TxSelector struct {
		// Path where the TxSelector StateDB is stored
		Path string `validate:"required"`
	} `validate:"required"`
	BatchBuilder struct {
		// Path where the BatchBuilder StateDB is stored
		Path string `validate:"required"`
	} `validate:"required"`
	ServerProofs []ServerProof `validate:"required,min=1,dive"`
	Circuit      struct {
		// MaxChunks is the pubdata capacity of the circuit in chunks
		MaxChunks uint32 `validate:"required"`
	} `validate:"required"`
	EthClient struct {
		// MaxGasPrice is the maximum gas price in gwei allowed for
		// ethereum transactions.  0 means no limit.
		MaxGasPrice int64 `validate:"-"`
		// MinGasPrice is the minimum gas price in gwei allowed for
		// ethereum transactions
		MinGasPrice int64 `validate:"-"`
		// GasPriceIncPerc is the percentage increase of gas price set
		// in an ethereum transaction from the suggested gas price by
		// the ethereum node
		GasPriceIncPerc int64
		// CheckLoopInterval is the waiting interval between receipt
		// checks of ethereum transactions in the TxManager
		CheckLoopInterval Duration `validate:"required"`
		// Attempts is the number of attempts to do an eth client RPC
		// call before giving up
		Attempts int `validate:"required"`
		// AttemptsDelay is delay between attempts do do an eth client
		// RPC call
		AttemptsDelay Duration `validate:"required"`
		// CallGasLimit is the default gas limit of the contract calls
		CallGasLimit uint64
		// GasPriceDiv is the gas price divider of the contract calls
		GasPriceDiv uint64
		Keystore    struct {
			// Path to the keystore
			Path string `validate:"required"`
			// Password used to decrypt the keys in the keystore
			Password string `validate:"required" env:"ZKROLLUP_KEYSTORE_PASSWORD"`
		} `validate:"required"`
		// ForgeBatchGasCost contains the cost of each action in the
		// commit and verify transactions
		ForgeBatchGasCost ForgeBatchGasCost `validate:"required"`
	} `validate:"required"`
	Etherscan struct {
		// URL if set, will use etherscan gas station to get the gas
		// price
		URL string
		// APIKey to use with etherscan
		APIKey string `env:"ZKROLLUP_ETHERSCAN_APIKEY"`
	}
	Debug struct {
		// BatchPath if set, specifies the path where batchInfo is stored
		// in JSON in every step/update of the pipeline
		BatchPath string
		// LightScrypt if set, uses light parameters for the ethereum
		// keystore encryption algorithm.
		LightScrypt bool
	}
}

// PostgreSQL is the postgreSQL configuration parameters.  It's possible to use
// differentiated SQL connections for read/write.  If the read configuration is
// not provided, the write one it's going to be used for both reads and writes
type PostgreSQL struct {
	// Port of the PostgreSQL write server
	PortWrite int `validate:"required"`
	// Host of the PostgreSQL write server
	HostWrite string `validate:"required"`
	// User of the PostgreSQL write server
	UserWrite string `validate:"required"`
	// Password of the PostgreSQL write server
	PasswordWrite string `validate:"required" env:"ZKROLLUP_POSTGRESQL_PASSWORDWRITE"`
	// Name of the PostgreSQL write server database
	NameWrite string `validate:"required"`
	// Port of the PostgreSQL read server
	PortRead int
	// Host of the PostgreSQL read server
	HostRead string
	// User of the PostgreSQL read server
	UserRead string
	// Password of the PostgreSQL read server
	PasswordRead string `env:"ZKROLLUP_POSTGRESQL_PASSWORDREAD"`
	// Name of the PostgreSQL read server database
	NameRead string
}

// NodeDebug specifies debug configuration parameters
type NodeDebug struct {
	// APIAddress is the address where the debugAPI will listen if
	// set
	APIAddress string
	// MeddlerLogs enables meddler debug mode, where unused columns and struct
	// fields will be logged
	MeddlerLogs bool
	// GinDebugMode sets Gin-Gonic (the web framework) to run in
	// debug mode
	GinDebugMode bool
}

// Node is the rollup node configuration.
type Node struct {
	Log struct {
		// Level is the log level: debug, info, warn, error, fatal
		Level string `validate:"required"`
		// Out are the outputs of the logger
		Out []string `validate:"required"`
	} `validate:"required"`
	StateDB struct {
		// Path where the synchronizer StateDB is stored
		Path string `validate:"required"`
		// Keep is the number of checkpoints to keep
		Keep int `validate:"required"`
	} `validate:"required"`
	Exodus struct {
		// Path where the exit tracking DB is stored
		Path string `validate:"required"`
	} `validate:"required"`
	PostgreSQL PostgreSQL `validate:"required"`
	Web3       struct {
		// URL is the URL of the web3 ethereum-node RPC server
		URL string `validate:"required" env:"ZKROLLUP_WEB3_URL"`
	} `validate:"required"`
	Synchronizer struct {
		// SyncLoopInterval is the interval between attempts to
		// synchronize a new block from an ethereum node
		SyncLoopInterval Duration `validate:"required"`
		// StatsUpdateBlockNumDiffThreshold is a threshold of a number of
		// Ethereum blocks under which the synchronizer updates its stats at
		// every new block
		StatsUpdateBlockNumDiffThreshold uint16 `validate:"required"`
		// StatsUpdateFrequencyDivider is the frequency divider of the stats
		// update when the synchronizer is behind StatsUpdateBlockNumDiffThreshold
		StatsUpdateFrequencyDivider uint16 `validate:"required"`
	} `validate:"required"`
	SmartContracts struct {
		// Rollup is the address of the rollup smart contract
		Rollup ethCommon.Address `validate:"required"`
	} `validate:"required"`
	API struct {
		// Address where the API will listen if set
		Address string
		// Explorer enables the Explorer API endpoints
		Explorer bool
		// Coordinator enables the transactions pool endpoints.  Only
		// used when the node forges.
		Coordinator bool
		// MaxSQLConnections is the maximum number of concurrent
		// queries the API can do to the DB
		MaxSQLConnections int `validate:"required"`
		// SQLConnectionTimeout is the maximum time an API request
		// waits for a DB connection
		SQLConnectionTimeout Duration `validate:"required"`
		// UpdateMetricsInterval is the interval between updates of the
		// API metrics
		UpdateMetricsInterval Duration `validate:"-"`
		// ReadTimeout is the maximum duration for reading the entire
		// request, including the body
		ReadTimeout Duration `validate:"-"`
		// WriteTimeout is the maximum duration before timing out
		// writes of the response
		WriteTimeout Duration `validate:"-"`
	}
	Debug       NodeDebug   `validate:"required"`
	Coordinator Coordinator `validate:"-"`
}

// LoadNode loads the Node configuration from path.  The defaults are applied
// first, then the file and finally the environment variables.  The
// coordinator section is only validated when the node forges.
func LoadNode(path string, coordinator bool) (*Node, error) {
	var cfg Node
	if err := LoadConfig(path, DefaultValues, &cfg); err != nil {
		return nil, common.Wrap(err)
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error validating configuration file: %w", err))
	}
	if coordinator {
		if err := validate.Struct(cfg.Coordinator); err != nil {
			return nil, common.Wrap(fmt.Errorf("error validating coordinator configuration: %w", err))
		}
	}
	return &cfg, nil
}

func loadDefault(defaultValues string, cfg interface{}) error {
	if _, err := toml.Decode(defaultValues, cfg); err != nil {
		return common.Wrap(err)
	}
	return nil
}

func loadFile(path string, cfg interface{}) error {
	bs, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return common.Wrap(err)
	}
	if _, err := toml.Decode(string(bs), cfg); err != nil {
		return common.Wrap(err)
	}
	return nil
}

func loadEnv(cfg interface{}) error {
	if err := env.Parse(cfg); err != nil {
		return common.Wrap(err)
	}
	return nil
}

// LoadConfig loads the configuration
func LoadConfig(filePath string, defaultValues string, cfg interface{}) error {
	// Get default configuration
	if err := loadDefault(defaultValues, cfg); err != nil {
		return common.Wrap(fmt.Errorf("error loading default configuration: %w", err))
	}
	// Get file configuration
	var errLoadFile error
	if filePath != "" {
		errLoadFile = loadFile(filePath, cfg)
	}
	// Overwrite file configuration with the env configuration
	errLoadEnv := loadEnv(cfg)
	if errLoadFile != nil {
		return common.Wrap(fmt.Errorf("error loading configuration file: %w", errLoadFile))
	}
	if errLoadEnv != nil {
		return common.Wrap(fmt.Errorf("error loading environment variables: %w", errLoadEnv))
	}
	return nil
}
