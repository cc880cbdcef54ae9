package common

import (
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const (
	// RollupConstPriorityExpirationBlocks is the number of L1 blocks a
	// priority request can wait before the rollup enters exodus mode
	RollupConstPriorityExpirationBlocks = 40320
	// RollupConstMaxPriorityRequestsPerBatch is the maximum number of
	// priority requests that a batch can consume
	RollupConstMaxPriorityRequestsPerBatch = 128
	// RollupConstLimitTokens Max number of fungible tokens allowed to be
	// registered inside the rollup
	RollupConstLimitTokens = MinNFTTokenID
	// RollupConstMaxVerifyDelay is the max delay in seconds between the
	// commit of a batch and its verification before it can be reverted
	RollupConstMaxVerifyDelay = 24 * 60 * 60
)

// RollupConstEthAddressInternalOnly is the address of the NFT storage account
var RollupConstEthAddressInternalOnly = NFTStorageAccountAddress

// RollupVariables are the variables of the Rollup Smart Contract
type RollupVariables struct {
	EthBlockNum int64 `meddler:"eth_block_num"`
	// PriorityExpirationBlocks is the N added to the current L1 block to
	// obtain the expiration block of a new priority request
	PriorityExpirationBlocks int64 `meddler:"priority_expiration_blocks" validate:"required"`
	// VerifyTimeout is the number of L1 blocks after which committed
	// but unverified batches can be reverted
	VerifyTimeout int64 `meddler:"verify_timeout" validate:"required"`
	ExodusMode    bool  `meddler:"exodus_mode"`
}

// RollupVerifierStruct is the information about verifiers of the Rollup Smart Contract
type RollupVerifierStruct struct {
	// BlockChunks is the chunk capacity of the batches accepted by the
	// verifier
	BlockChunks int64 `json:"blockChunks"`
	NLevels     int64 `json:"nlevels"`
}

// RollupConstants are the constants of the Rollup Smart Contract
type RollupConstants struct {
	Verifiers                []RollupVerifierStruct `json:"verifiers"`
	TokamakGovernanceAddress ethCommon.Address      `json:"tokamakGovernanceAddress"`
	// First block where the rollup is deployed
	GenesisBlockNum int64 `json:"genesisBlockNum"`
	// ChainID is used in the EIP-712 domain of ChangePubKey auths
	ChainID uint64 `json:"chainId"`
}

// FindVerifierIdx tries to find a matching verifier in the RollupConstants and
// returns its index
func (c *RollupConstants) FindVerifierIdx(blockChunks, nLevels int64) (int, error) {
	for i, verifier := range c.Verifiers {
		if verifier.BlockChunks == blockChunks && verifier.NLevels == nLevels {
			return i, nil
		}
	}
	return 0, Wrap(fmt.Errorf("verifier not found for BlockChunks: %v, NLevels: %v",
		blockChunks, nLevels))
}

// Copy returns a deep copy of the Variables
func (v *RollupVariables) Copy() *RollupVariables {
	vCpy := *v
	return &vCpy
}
