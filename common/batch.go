package common

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const batchNumBytesLen = 4

// BatchStatus is the settlement status of a forged batch
type BatchStatus string

const (
	// BatchStatusForged is a batch built locally and not yet committed on L1
	BatchStatusForged BatchStatus = "forged"
	// BatchStatusCommitted is a batch whose commitment has been accepted on L1
	BatchStatusCommitted BatchStatus = "committed"
	// BatchStatusVerified is a batch whose proof has been verified on L1
	BatchStatusVerified BatchStatus = "verified"
	// BatchStatusReverted is a batch reverted on L1 after a verify timeout
	BatchStatusReverted BatchStatus = "reverted"
)

// Batch is a rollup block: an ordered list of operations padded to a fixed
// chunk capacity together with the root transition it causes
type Batch struct {
	BatchNum  BatchNum       `meddler:"batch_num" json:"batchNum"`
	EthTxHash ethCommon.Hash `meddler:"eth_tx_hash" json:"ethereumTxHash"`
	// Ethereum block in which the batch is committed
	EthBlockNum int64 `meddler:"eth_block_num" json:"ethereumBlockNum"`
	// ForgerAddr is the validator address bound into the commitment
	ForgerAddr   ethCommon.Address `meddler:"forger_addr" json:"forgerAddr"`
	FeeAccount   AccountID         `meddler:"fee_account" json:"feeAccount"`
	OldStateRoot *big.Int          `meddler:"old_state_root,bigint" json:"oldStateRoot"`
	StateRoot    *big.Int          `meddler:"state_root,bigint" json:"stateRoot"`
	Timestamp    uint64            `meddler:"timestamp" json:"timestamp"`
	// Chunks is the capacity of the batch in pubdata chunks
	Chunks       int    `meddler:"chunks" json:"chunks"`
	PubData      []byte `meddler:"pub_data" json:"pubData"`
	ChunkMarkers []byte `meddler:"chunk_markers" json:"chunkMarkers"`
	// RollingHash is the sha256 rolling hash over the pubdata chunks
	RollingHash ethCommon.Hash `meddler:"rolling_hash" json:"rollingHash"`
	Commitment  ethCommon.Hash `meddler:"commitment" json:"commitment"`
	NumOps      int            `meddler:"num_ops" json:"numOps"`
	NumAccounts int            `meddler:"num_accounts" json:"numAccounts"`
	// FirstPrioritySerialID and NumPriorityOps identify the priority
	// requests consumed by the batch
	FirstPrioritySerialID *uint64     `meddler:"first_priority_serial_id" json:"firstPrioritySerialId"`
	NumPriorityOps        int         `meddler:"num_priority_ops" json:"numPriorityOps"`
	GasUsed               uint64      `meddler:"gas_used" json:"gasUsed"`
	GasPrice              *big.Int    `meddler:"gas_price,bigintnull" json:"gasPrice"`
	Status                BatchStatus `meddler:"status" json:"status"`
}

// BatchNum identifies a batch
type BatchNum uint32

// Bytes returns a byte array of length 4 representing the BatchNum
func (bn BatchNum) Bytes() []byte {
	var batchNumBytes [batchNumBytesLen]byte
	binary.BigEndian.PutUint32(batchNumBytes[:], uint32(bn))
	return batchNumBytes[:]
}

// BatchNumFromBytes returns BatchNum from a []byte
func BatchNumFromBytes(b []byte) (BatchNum, error) {
	if len(b) != batchNumBytesLen {
		return 0,
			Wrap(fmt.Errorf("can not parse BatchNumFromBytes, bytes len %d, expected %d",
				len(b), batchNumBytesLen))
	}
	batchNum := binary.BigEndian.Uint32(b[:batchNumBytesLen])
	return BatchNum(batchNum), nil
}

// BigInt returns a *big.Int representing the BatchNum
func (bn BatchNum) BigInt() *big.Int {
	return big.NewInt(int64(bn))
}

// ExecutedOp is an operation included in a batch together with the position
// it takes in the batch pubdata
type ExecutedOp struct {
	BatchNum BatchNum `meddler:"batch_num" json:"batchNum"`
	// Position is the index of the op inside the batch, Noop padding excluded
	Position int    `meddler:"position" json:"position"`
	OpType   OpType `meddler:"op_type" json:"opType"`
	// TxHash is the identifier of the signed tx, empty for priority ops
	TxHash   ethCommon.Hash `meddler:"tx_hash" json:"txHash"`
	SerialID *uint64        `meddler:"serial_id" json:"serialId"`
	PubData  []byte         `meddler:"pub_data" json:"pubData"`
	// Fee is the fee credited to the fee account, if any
	Fee      *big.Int `meddler:"fee,bigintnull" json:"fee"`
	FeeToken TokenID  `meddler:"fee_token" json:"feeToken"`
	// Degraded is set for priority ops that were included with no effect
	Degraded bool `meddler:"degraded" json:"degraded"`
	Op       Op   `meddler:"-" json:"-"`
}

// BatchData contains the information of a Batch
type BatchData struct {
	Batch           Batch
	Ops             []ExecutedOp
	CreatedAccounts []Account
	UpdatedAccounts []AccountUpdate
	// MintedNFTs are the NFTs created by the batch MintNFT ops
	MintedNFTs []NFT
	// PriorityRequests are the serial ids of the consumed priority requests
	PriorityRequests []uint64
}

// NewBatchData creates an empty BatchData with the slices initialized.
func NewBatchData() *BatchData {
	return &BatchData{
		Ops:              make([]ExecutedOp, 0),
		CreatedAccounts:  make([]Account, 0),
		UpdatedAccounts:  make([]AccountUpdate, 0),
		MintedNFTs:       make([]NFT, 0),
		PriorityRequests: make([]uint64, 0),
		Batch:            Batch{},
	}
}
