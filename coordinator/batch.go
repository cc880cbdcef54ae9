package coordinator

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"tokamak-zkrollup/batchbuilder"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/coordinator/prover"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/eth"
)

// Status is used to mark the status of the batch
type Status string

const (
	// StatusPending marks the Tx as Pending
	StatusPending Status = "pending"
	// StatusForged marks the batch as forged internally
	StatusForged Status = "forged"
	// StatusCommitSent marks the commit EthTx as Sent
	StatusCommitSent Status = "commitSent"
	// StatusCommitted marks the commit EthTx as Mined
	StatusCommitted Status = "committed"
	// StatusProof marks the batch as proof calculated
	StatusProof Status = "proof"
	// StatusVerifySent marks the verify EthTx as Sent
	StatusVerifySent Status = "verifySent"
	// StatusVerified marks the verify EthTx as Mined
	StatusVerified Status = "verified"
	// StatusFailed marks the EthTx as Failed
	StatusFailed Status = "failed"
	// StatusReverted marks the batch as reverted after a settlement timeout
	StatusReverted Status = "reverted"
)

// Debug information related to the Batch
type Debug struct {
	// StartTimestamp of is the time of batch start
	StartTimestamp time.Time
	// SendTimestamp  the time of batch sent to ethereum
	SendTimestamp time.Time
	// Status of the Batch
	Status Status
	// StartBlockNum is the blockNum when the Batch was started
	StartBlockNum int64
	// CommitBlockNum is the blockNum in which the commit was mined
	CommitBlockNum int64
	// VerifyBlockNum is the blockNum in which the verification was mined
	VerifyBlockNum int64
	// ResendNum is the number of times the tx has been resent
	ResendNum int
	// StartToCommitDelay is the delay between starting a batch and having
	// it committed, in seconds
	StartToCommitDelay float64
	// ProofDelay is the time the prover took to compute the proof in
	// seconds
	ProofDelay float64
}

// BatchInfo contans the Batch information
type BatchInfo struct {
	PipelineNum int
	BatchNum    common.BatchNum
	ServerProof prover.Client `json:"-"`
	ProofStart  time.Time
	ZKInputs    *common.ZKInputs
	Proof       *prover.Proof
	// PublicInputs returned by the prover
	PublicInputs []*big.Int
	VerifierIdx  uint8
	Batch        *common.Batch
	// PriorityRequests are the serial ids of the requests consumed
	PriorityRequests []uint64
	Txs              []l2db.PoolTx
	Rejected         []l2db.RejectedPoolTx
	CommitBatchArgs  *eth.RollupCommitBatchArgs
	VerifyBatchArgs  *eth.RollupVerifyBatchArgs
	CommitEthTx      *types.Transaction
	VerifyEthTx      *types.Transaction
	// SendTimestamp  the time of batch sent to ethereum
	SendTimestamp time.Time
	CommitReceipt *types.Receipt
	VerifyReceipt *types.Receipt
	// Fail is true if:
	// - The receipt status is failed
	// - A previous parent batch is failed
	Fail  bool
	Debug Debug
}

// newBatchInfo returns the BatchInfo of a built batch
func newBatchInfo(pipelineNum int, verifierIdx uint8, out *batchbuilder.Output) *BatchInfo {
	return &BatchInfo{
		PipelineNum:      pipelineNum,
		BatchNum:         out.Batch.BatchNum,
		ZKInputs:         out.ZKInputs,
		VerifierIdx:      verifierIdx,
		Batch:            out.Batch,
		PriorityRequests: out.ProcessTxOutput.PriorityRequests,
		CommitBatchArgs:  eth.NewRollupCommitBatchArgs(out.Batch, verifierIdx),
		Debug: Debug{
			StartTimestamp: time.Now(),
			Status:         StatusForged,
		},
	}
}

// TxHashes returns the hashes of the selected pool txs
func (b *BatchInfo) TxHashes() []ethCommon.Hash {
	return poolTxHashes(b.Txs)
}

func poolTxHashes(txs []l2db.PoolTx) []ethCommon.Hash {
	hashes := make([]ethCommon.Hash, len(txs))
	for i := range txs {
		hashes[i] = txs[i].TxHash
	}
	return hashes
}

// prepareVerifyBatchArgs fills the verifyBatch arguments with the proof
func (b *BatchInfo) prepareVerifyBatchArgs() {
	args := &eth.RollupVerifyBatchArgs{BatchNum: b.BatchNum}
	if b.Proof != nil {
		args.ProofA, args.ProofB, args.ProofC = b.Proof.EthArgs()
	}
	b.VerifyBatchArgs = args
}

// debugBatchStore stores the BatchInfo as JSON in DebugBatchPath if set
func (cfg *Config) debugBatchStore(batchInfo *BatchInfo) {
	if cfg.DebugBatchPath == "" {
		return
	}
	batchJSON, err := json.MarshalIndent(batchInfo, "", "  ")
	if err != nil {
		return
	}
	filename := fmt.Sprintf("%08d-%v.json", batchInfo.BatchNum, batchInfo.Debug.Status)
	_ = os.WriteFile(path.Join(cfg.DebugBatchPath, filename), batchJSON, 0640) //nolint:gosec,gomnd
}
