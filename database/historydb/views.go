package historydb

import (
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/common/apitypes"
)

// accountWrite is the representation of common.Account used to insert into
// the account table, linking it to the batch that created it
type accountWrite struct {
	AccountID  common.AccountID  `meddler:"account_id"`
	BatchNum   common.BatchNum   `meddler:"batch_num"`
	Nonce      common.Nonce      `meddler:"nonce"`
	PubKeyHash common.PubKeyHash `meddler:"pubkey_hash"`
	Address    ethCommon.Address `meddler:"address"`
}

// nftWrite is the representation of common.NFT used to insert into the nft
// table.  Fields are in the same order as the table columns.
type nftWrite struct {
	ID             common.TokenID    `meddler:"token_id"`
	SerialID       uint32            `meddler:"serial_id"`
	CreatorID      common.AccountID  `meddler:"creator_account_id"`
	CreatorAddress ethCommon.Address `meddler:"creator_address"`
	ContentHash    ethCommon.Hash    `meddler:"content_hash"`
	BatchNum       common.BatchNum   `meddler:"batch_num"`
}

func newNFTWrite(nft *common.NFT, batchNum common.BatchNum) nftWrite {
	return nftWrite{
		ID:             nft.ID,
		SerialID:       nft.SerialID,
		CreatorID:      nft.CreatorID,
		CreatorAddress: nft.CreatorAddress,
		ContentHash:    nft.ContentHash,
		BatchNum:       batchNum,
	}
}

type factAuthWrite struct {
	EthBlockNum int64             `meddler:"eth_block_num"`
	Address     ethCommon.Address `meddler:"address"`
	Nonce       common.Nonce      `meddler:"nonce"`
	PubKeyHash  common.PubKeyHash `meddler:"pub_key_hash"`
}

// BatchAPI is a representation of a batch with additional information
// required by the API, and extracted by joining block table
type BatchAPI struct {
	ItemID         uint64             `json:"itemId" meddler:"item_id"`
	BatchNum       common.BatchNum    `json:"batchNum" meddler:"batch_num"`
	EthereumTxHash ethCommon.Hash     `json:"ethereumTxHash" meddler:"eth_tx_hash"`
	EthBlockNum    int64              `json:"ethereumBlockNum" meddler:"eth_block_num"`
	EthBlockHash   ethCommon.Hash     `json:"ethereumBlockHash" meddler:"hash"`
	BlockTimestamp time.Time          `json:"ethereumBlockTimestamp" meddler:"block_timestamp,utctime"`
	ForgerAddr     ethCommon.Address  `json:"forgerAddr" meddler:"forger_addr"`
	FeeAccount     common.AccountID   `json:"feeAccount" meddler:"fee_account"`
	OldStateRoot   apitypes.BigIntStr `json:"oldStateRoot" meddler:"old_state_root"`
	StateRoot      apitypes.BigIntStr `json:"stateRoot" meddler:"state_root"`
	Timestamp      uint64             `json:"timestamp" meddler:"timestamp"`
	Chunks         int                `json:"chunks" meddler:"chunks"`
	Commitment     ethCommon.Hash     `json:"commitment" meddler:"commitment"`
	NumOps         int                `json:"numOps" meddler:"num_ops"`
	NumAccounts    int                `json:"numAccounts" meddler:"num_accounts"`
	NumPriorityOps int                `json:"numPriorityOps" meddler:"num_priority_ops"`
	Status         common.BatchStatus `json:"status" meddler:"status"`
	TotalItems     uint64             `json:"-" meddler:"total_items"`
	FirstItem      uint64             `json:"-" meddler:"first_item"`
	LastItem       uint64             `json:"-" meddler:"last_item"`
}

// AccountAPI is the state of an account as returned by the API
type AccountAPI struct {
	ID         common.AccountID                        `json:"id"`
	Address    ethCommon.Address                       `json:"address"`
	Nonce      common.Nonce                            `json:"nonce"`
	PubKeyHash common.PubKeyHash                       `json:"pubKeyHash"`
	Balances   map[common.TokenID]*apitypes.BigIntStr `json:"balances"`
}

// NewAccountAPI creates an AccountAPI from a common.Account
func NewAccountAPI(acc *common.Account) *AccountAPI {
	balances := make(map[common.TokenID]*apitypes.BigIntStr, len(acc.Balances))
	for token, bal := range acc.Balances {
		balances[token] = apitypes.NewBigIntStr(bal)
	}
	return &AccountAPI{
		ID:         acc.ID,
		Address:    acc.Address,
		Nonce:      acc.Nonce,
		PubKeyHash: acc.PubKeyHash,
		Balances:   balances,
	}
}

// PriorityRequestAPI is a priority request with the state of its
// processing
type PriorityRequestAPI struct {
	SerialID        uint64            `json:"serialId" meddler:"serial_id"`
	OpType          common.OpType     `json:"opType" meddler:"op_type"`
	Sender          ethCommon.Address `json:"sender" meddler:"sender"`
	ExpirationBlock int64             `json:"expirationBlock" meddler:"expiration_block"`
	EthBlockNum     int64             `json:"ethereumBlockNum" meddler:"eth_block_num"`
	EthTxHash       ethCommon.Hash    `json:"ethereumTxHash" meddler:"eth_tx_hash"`
	BatchNum        *common.BatchNum  `json:"batchNum" meddler:"batch_num"`
	TotalItems      uint64            `json:"-" meddler:"total_items"`
	FirstItem       uint64            `json:"-" meddler:"first_item"`
	LastItem        uint64            `json:"-" meddler:"last_item"`
}

// RollupVariablesAPI are the variables of the Rollup Smart Contract
type RollupVariablesAPI struct {
	EthBlockNum              int64 `json:"ethereumBlockNum" meddler:"eth_block_num"`
	PriorityExpirationBlocks int64 `json:"priorityExpirationBlocks" meddler:"priority_expiration_blocks"`
	VerifyTimeout            int64 `json:"verifyTimeout" meddler:"verify_timeout"`
	ExodusMode               bool  `json:"exodusMode" meddler:"exodus_mode"`
}

// NewRollupVariablesAPI creates a RollupVariablesAPI from common.RollupVariables
func NewRollupVariablesAPI(rollupVariables *common.RollupVariables) *RollupVariablesAPI {
	return &RollupVariablesAPI{
		EthBlockNum:              rollupVariables.EthBlockNum,
		PriorityExpirationBlocks: rollupVariables.PriorityExpirationBlocks,
		VerifyTimeout:            rollupVariables.VerifyTimeout,
		ExodusMode:               rollupVariables.ExodusMode,
	}
}

// CoordinatorAPI is a representation of a coordinator with additional information
// required by the API
type CoordinatorAPI struct {
	ItemID      uint64            `json:"itemId" meddler:"item_id"`
	Forger      ethCommon.Address `json:"forgerAddr" meddler:"forger_addr"`
	FeeAccount  common.AccountID  `json:"feeAccount" meddler:"fee_account"`
	EthBlockNum int64             `json:"ethereumBlock" meddler:"eth_block_num"`
	URL         string            `json:"URL" meddler:"url"`
}
