package batchbuilder

import (
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/kvdb"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/txprocessor"
)

// ConfigCircuit contains the circuit configuration
type ConfigCircuit struct {
	// MaxChunks is the pubdata capacity of a batch
	MaxChunks    uint32
	SMTLevelsMax uint64
}

// BatchBuilder implements the batch builder type, which contains the
// functionalities
type BatchBuilder struct {
	localStateDB *statedb.LocalStateDB
	facts        txprocessor.FactSource
}

// ConfigBatch contains the batch configuration
type ConfigBatch struct {
	TxProcessorConfig txprocessor.Config
	// FeeAccount receives the fees of the batch
	FeeAccount common.AccountID
	// ForgerAddr is the validator address bound into the commitment
	ForgerAddr ethCommon.Address
	// Timestamp of the batch, used to check the tx time ranges
	Timestamp uint64
}

// Output is the result of building a batch
type Output struct {
	Batch *common.Batch
	// Ops are the executed ops, without the Noop padding
	Ops      []common.ExecutedOp
	ZKInputs *common.ZKInputs
	// ProcessTxOutput is the raw output of the TxProcessor
	ProcessTxOutput *txprocessor.ProcessTxOutput
}

// NewBatchBuilder constructs a new BatchBuilder, and executes the bb.Reset
// method
func NewBatchBuilder(dbpath string, synchronizerStateDB *statedb.StateDB, batchNum common.BatchNum,
	nLevels uint64, facts txprocessor.FactSource) (*BatchBuilder, error) {
	localStateDB, err := statedb.NewLocalStateDB(
		statedb.Config{
			Path:    dbpath,
			Keep:    kvdb.DefaultKeep,
			Type:    statedb.TypeBatchBuilder,
			NLevels: int(nLevels),
		},
		synchronizerStateDB)
	if err != nil {
		return nil, common.Wrap(err)
	}

	bb := BatchBuilder{
		localStateDB: localStateDB,
		facts:        facts,
	}

	err = bb.Reset(batchNum, true)
	return &bb, common.Wrap(err)
}

// Reset tells the BatchBuilder to reset it's internal state to the required
// `batchNum`.  If `fromSynchronizer` is true, the BatchBuilder must take a
// copy of the rollup state from the Synchronizer at that `batchNum`, otherwise
// it can just roll back the internal copy.
func (bb *BatchBuilder) Reset(batchNum common.BatchNum, fromSynchronizer bool) error {
	return common.Wrap(bb.localStateDB.Reset(batchNum, fromSynchronizer))
}

// BuildBatch applies the priority requests and the txs to the local state,
// pads the pubdata with Noops up to the chunk capacity and derives the root
// transition and the commitment of the batch.  The ops are applied
// sequentially: an op can depend on the state written by the previous ones.
func (bb *BatchBuilder) BuildBatch(configBatch *ConfigBatch, priorityReqs []common.PriorityRequest,
	txs []common.SignedTx) (*Output, error) {
	capacity := configBatch.TxProcessorConfig.MaxChunks
	if capacity == 0 {
		return nil, common.Wrap(fmt.Errorf("batch chunk capacity can't be 0"))
	}
	tp := txprocessor.NewTxProcessor(bb.localStateDB.StateDB, configBatch.TxProcessorConfig, bb.facts)
	ptOut, err := tp.ProcessTxs(configBatch.FeeAccount, configBatch.Timestamp, priorityReqs, txs)
	if err != nil {
		return nil, common.Wrap(err)
	}
	batchNum := bb.localStateDB.CurrentBatch()

	pubData, markers, err := PadPubData(ptOut.Ops, int(capacity))
	if err != nil {
		return nil, common.Wrap(err)
	}
	rollingHash, err := RollingHash(pubData)
	if err != nil {
		return nil, common.Wrap(err)
	}
	batch := &common.Batch{
		BatchNum:     batchNum,
		ForgerAddr:   configBatch.ForgerAddr,
		FeeAccount:   configBatch.FeeAccount,
		OldStateRoot: ptOut.OldStateRoot,
		StateRoot:    ptOut.NewStateRoot,
		Timestamp:    configBatch.Timestamp,
		Chunks:       int(capacity),
		PubData:      pubData,
		ChunkMarkers: markers,
		RollingHash:  rollingHash,
		NumOps:       len(ptOut.Ops),
		NumAccounts:  len(ptOut.CreatedAccounts),
		Status:       common.BatchStatusForged,
	}
	batch.Commitment = Commitment(batch)
	for i := range ptOut.Ops {
		ptOut.Ops[i].BatchNum = batchNum
		if serial := ptOut.Ops[i].SerialID; serial != nil {
			if batch.FirstPrioritySerialID == nil {
				first := *serial
				batch.FirstPrioritySerialID = &first
			}
			batch.NumPriorityOps++
		}
	}

	if ptOut.ZKInputs != nil {
		ptOut.ZKInputs.PubData = pubData
		ptOut.ZKInputs.RollingHash = rollingHash.Bytes()
		ptOut.ZKInputs.Commitment = batch.Commitment.Bytes()
	}
	log.Debugw("BatchBuilder: batch built", "batch", batchNum, "ops", len(ptOut.Ops),
		"chunks", ptOut.Chunks, "capacity", capacity, "rejected", len(ptOut.RejectedTxs),
		"root", batch.StateRoot)
	return &Output{
		Batch:           batch,
		Ops:             ptOut.Ops,
		ZKInputs:        ptOut.ZKInputs,
		ProcessTxOutput: ptOut,
	}, nil
}

// LocalStateDB returns the underlying LocalStateDB
func (bb *BatchBuilder) LocalStateDB() *statedb.LocalStateDB {
	return bb.localStateDB
}

// StateRoot returns the current root of the local state
func (bb *BatchBuilder) StateRoot() (*big.Int, error) {
	root, err := bb.localStateDB.Root()
	if err != nil {
		return nil, common.Wrap(err)
	}
	return root.BigInt(), nil
}
