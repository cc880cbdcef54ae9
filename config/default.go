package config

// DefaultValues are the values applied before loading the configuration file
const DefaultValues = `
[Log]
Level = "info"
Out = ["stdout"]

[StateDB]
Keep = 256

[Synchronizer]
SyncLoopInterval = "1s"
StatsUpdateBlockNumDiffThreshold = 100
StatsUpdateFrequencyDivider = 100

[API]
MaxSQLConnections = 100
SQLConnectionTimeout = "2s"
UpdateMetricsInterval = "10s"
ReadTimeout = "30s"
WriteTimeout = "30s"

[Debug]
MeddlerLogs = false
GinDebugMode = false

[Coordinator]
PipelineDepth = 4
ConfirmBlocks = 10
ForgeRetryInterval = "500ms"
ForgeDelay = "10s"
ForgeNoTxsDelay = "0s"
SyncRetryInterval = "1s"
ProofServerPollInterval = "1s"

[Coordinator.L2DB]
SafetyPeriod = 10
MaxTxs = 1000
TTL = "24h"
PurgeBatchDelay = 10
InvalidateBatchDelay = 20
PurgeBlockDelay = 10
InvalidateBlockDelay = 20

[Coordinator.Circuit]
MaxChunks = 32

[Coordinator.EthClient]
MaxGasPrice = 500
MinGasPrice = 5
GasPriceIncPerc = 10
CheckLoopInterval = "500ms"
Attempts = 4
AttemptsDelay = "500ms"
CallGasLimit = 300000
GasPriceDiv = 100

[Coordinator.EthClient.ForgeBatchGasCost]
Commit = 1000000
Verify = 500000
`
