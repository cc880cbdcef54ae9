package common

import (
	ethCommon "github.com/ethereum/go-ethereum/common"
)

// Coordinator is the validator that forges and commits batches
type Coordinator struct {
	// Forger is the address bound into the batch commitments
	Forger ethCommon.Address `meddler:"forger_addr" json:"forgerAddr"`
	// FeeAccount is the rollup account credited with the batch fees
	FeeAccount AccountID `meddler:"fee_account" json:"feeAccount"`
	// EthBlockNum is the block in which the coordinator was registered
	EthBlockNum int64 `meddler:"eth_block_num" json:"ethereumBlockNum"`
	// URL of the coordinators API
	URL string `meddler:"url" json:"url"`
}
