package common

import (
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// Block represents of an Ethereum block
type Block struct {
	Num        int64          `meddler:"eth_block_num"`
	Timestamp  time.Time      `meddler:"timestamp,utctime"`
	Hash       ethCommon.Hash `meddler:"hash"`
	ParentHash ethCommon.Hash `meddler:"-" json:"-"`
}

// BlockData contains the information of a Block
type BlockData struct {
	Block  Block
	Rollup RollupData
}

// BatchEvent is a commit, verification or revert of a batch observed on L1
type BatchEvent struct {
	BatchNum  BatchNum
	EthTxHash ethCommon.Hash
}

// FactAuth is an onchain authorization of a ChangePubKey
type FactAuth struct {
	Address    ethCommon.Address `meddler:"address"`
	Nonce      Nonce             `meddler:"nonce"`
	PubKeyHash PubKeyHash        `meddler:"pub_key_hash"`
}

// ExodusExit is a proof based withdrawal performed in exodus mode
type ExodusExit struct {
	AccountID   AccountID         `meddler:"account_id" json:"accountId"`
	TokenID     TokenID           `meddler:"token_id" json:"tokenId"`
	Owner       ethCommon.Address `meddler:"owner" json:"owner"`
	Amount      *big.Int          `meddler:"amount,bigint" json:"amount"`
	EthBlockNum int64             `meddler:"eth_block_num" json:"ethereumBlockNum"`
}

// RollupData contains information returned by the Rollup smart contract
type RollupData struct {
	// PriorityRequests that were submitted in the block
	PriorityRequests []PriorityRequest
	// Batches committed in the block, decoded from calldata
	Batches         []BatchData
	VerifiedBatches []BatchEvent
	// RevertedBatches are the batches reverted in the block, newest first
	RevertedBatches []BatchEvent
	FactAuths       []FactAuth
	ExodusExits     []ExodusExit
	// ExodusMode is set if exodus mode was activated in the block
	ExodusMode  bool
	Vars        *RollupVariables
	AddedTokens []Token
}

// NewRollupData creates an empty RollupData with the slices initialized.
func NewRollupData() RollupData {
	return RollupData{
		PriorityRequests: make([]PriorityRequest, 0),
		Batches:          make([]BatchData, 0),
		VerifiedBatches:  make([]BatchEvent, 0),
		RevertedBatches:  make([]BatchEvent, 0),
		FactAuths:        make([]FactAuth, 0),
		ExodusExits:      make([]ExodusExit, 0),
		Vars:             nil,
	}
}
