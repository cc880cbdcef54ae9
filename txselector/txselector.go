/*
Package txselector is responsible to choose the priority requests and the transactions from the pool that will be
forged in the next batch, always respecting the constrains of the protocol.
This constrains can be splitted in two categories:

Batch constrains (this information is passed to the txselector as `selectionConfig txprocessor.Config`):
- MaxChunks: the pubdata of all the selected operations must fit in the chunk capacity of the batch.
- Priority requests come first: the oldest pending priority requests are always selected before any pool tx,
up to common.RollupConstMaxPriorityRequestsPerBatch.

Transaction constrains (this takes into consideration the txs fetched from the pool and the current state stored in StateDB):
- Signer account exists and its pubkey hash matches the signature
- Signer account has enough balance: amount + fee <= balance
- Signer account has correct nonce: `tx.Nonce == account.Nonce`
- The op specific preconditions (ChangePubKey authorisation, ForcedExit target, Swap orders, NFT ownership...)

Important considerations:
- The state is processed sequentially meaning that each tx that is selected affects the state, in other words:
the order in which txs are selected can make other txs became valid or invalid.
This specially relevant for the constrains `Signer account has enough balance` and `Signer account has correct nonce`

Current implementation:
 0. Take the pending priority requests from the queue
 1. Get transactions from the pool
 2. Order transactions by (nonce, arrival)
 3. Simulate the batch with the txprocessor over an accounts only StateDB, which splits the txs in
    selected, rejected (their preconditions failed) and non selected (they don't fit in the batch capacity)
 4. Return the selected txs and the rejected ones, so that they can be invalidated in the pool
*/
package txselector

import (
	"errors"
	"sort"
	"time"

	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/kvdb"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/metric"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/txprocessor"
)

// TxSelector implements all the functionalities to select the txs for the next
// batch
type TxSelector struct {
	l2db            *l2db.L2DB
	queue           *priorityqueue.Queue
	facts           txprocessor.FactSource
	localAccountsDB *statedb.LocalStateDB
}

// Selection is the result of a selection
type Selection struct {
	// PriorityRequests to forge, in queue order
	PriorityRequests []common.PriorityRequest
	// Txs from the pool to forge, in batch order
	Txs []l2db.PoolTx
	// Rejected are the pool txs whose preconditions failed
	Rejected []l2db.RejectedPoolTx
	// Deferred are valid pool txs that didn't fit in the batch capacity
	Deferred []l2db.PoolTx
}

// SignedTxs returns the selected txs in batch order
func (s *Selection) SignedTxs() []common.SignedTx {
	txs := make([]common.SignedTx, len(s.Txs))
	for i := range s.Txs {
		txs[i] = s.Txs[i].Tx
	}
	return txs
}

// NewTxSelector returns a *TxSelector
func NewTxSelector(
	dbpath string,
	synchronizerStateDB *statedb.StateDB,
	l2 *l2db.L2DB,
	queue *priorityqueue.Queue,
	facts txprocessor.FactSource,
) (*TxSelector, error) {
	localAccountsDB, err := statedb.NewLocalStateDB(
		statedb.Config{
			Path:    dbpath,
			Keep:    kvdb.DefaultKeep,
			Type:    statedb.TypeTxSelector,
			NLevels: 0,
		},
		synchronizerStateDB) // without merkletree
	if err != nil {
		return nil, common.Wrap(err)
	}

	return &TxSelector{
		l2db:            l2,
		queue:           queue,
		facts:           facts,
		localAccountsDB: localAccountsDB,
	}, nil
}

// LocalAccountsDB returns the LocalStateDB of the TxSelector
func (txsel *TxSelector) LocalAccountsDB() *statedb.LocalStateDB {
	return txsel.localAccountsDB
}

// Reset tells the TxSelector to get it's internal AccountsDB
// from the required `batchNum`
func (txsel *TxSelector) Reset(batchNum common.BatchNum, fromSynchronizer bool) error {
	return common.Wrap(txsel.localAccountsDB.Reset(batchNum, fromSynchronizer))
}

// GetTxSelection returns the priority requests and the pool txs that fit
// in the next batch.  The internal AccountsDB advances one batch: the
// selection is applied and checkpointed on it.
func (txsel *TxSelector) GetTxSelection(selectionConfig txprocessor.Config,
	feeAccount common.AccountID, timestamp uint64) (*Selection, error) {
	metric.GetTxSelection.Inc()
	start := time.Now()

	priorityReqs, err := txsel.queue.Peek(common.RollupConstMaxPriorityRequestsPerBatch)
	if err != nil {
		return nil, common.Wrap(err)
	}
	// The fees of the pool txs need an allocated fee account
	feeAccountExists, err := txsel.localAccountsDB.AccountExists(feeAccount)
	if err != nil {
		return nil, common.Wrap(err)
	}
	var poolTxs []l2db.PoolTx
	if feeAccountExists {
		if poolTxs, err = txsel.l2db.GetPendingTxs(); err != nil {
			return nil, common.Wrap(err)
		}
		sortPoolTxs(poolTxs)
	} else {
		log.Debugw("TxSelector: fee account not allocated, selecting priority requests only",
			"feeAccount", feeAccount)
	}

	index := make(map[common.SignedTx]int, len(poolTxs))
	txs := make([]common.SignedTx, len(poolTxs))
	for i := range poolTxs {
		txs[i] = poolTxs[i].Tx
		index[poolTxs[i].Tx] = i
	}

	tp := txprocessor.NewTxProcessor(txsel.localAccountsDB.StateDB, selectionConfig, txsel.facts)
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, priorityReqs, txs)
	if err != nil {
		return nil, common.Wrap(err)
	}

	excluded := make(map[int]bool, len(ptOut.RejectedTxs)+len(ptOut.PendingTxs))
	selection := &Selection{
		PriorityRequests: priorityReqs[:len(priorityReqs)-len(ptOut.PendingPriority)],
		Txs:              make([]l2db.PoolTx, 0, len(poolTxs)),
		Rejected:         make([]l2db.RejectedPoolTx, 0, len(ptOut.RejectedTxs)),
	}
	for _, rejected := range ptOut.RejectedTxs {
		i := index[rejected.Tx]
		excluded[i] = true
		selection.Rejected = append(selection.Rejected, l2db.RejectedPoolTx{
			TxHash: poolTxs[i].TxHash,
			Info:   rejected.Err.Error(),
		})
		metric.RejectedTxs.WithLabelValues(rejectReason(rejected.Err)).Inc()
	}
	for _, tx := range ptOut.PendingTxs {
		i := index[tx]
		excluded[i] = true
		selection.Deferred = append(selection.Deferred, poolTxs[i])
	}
	for i := range poolTxs {
		if !excluded[i] {
			selection.Txs = append(selection.Txs, poolTxs[i])
		}
	}

	metric.SelectedPriorityRequests.Set(float64(len(selection.PriorityRequests)))
	metric.SelectedTxs.Set(float64(len(selection.Txs)))
	log.Debugw("TxSelector: selection done", "priorityRequests", len(selection.PriorityRequests),
		"txs", len(selection.Txs), "rejected", len(selection.Rejected),
		"deferred", len(selection.Deferred), "duration", time.Since(start))
	return selection, nil
}

// sortPoolTxs sorts the txs by nonce so that the txs of each account are
// applied in nonce order, keeping the arrival order between equal nonces
func sortPoolTxs(txs []l2db.PoolTx) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Nonce != txs[j].Nonce {
			return txs[i].Nonce < txs[j].Nonce
		}
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})
}

var rejectReasons = []error{
	txprocessor.ErrNonceMismatch,
	txprocessor.ErrNotEnoughBalance,
	txprocessor.ErrAccountNotFound,
	txprocessor.ErrAccountLocked,
	txprocessor.ErrPubKeyHashMismatch,
	txprocessor.ErrAddressMismatch,
	txprocessor.ErrInvalidToken,
	txprocessor.ErrTimeRange,
	txprocessor.ErrChangePubKeyAuth,
}

// rejectReason returns a low cardinality label for the rejection error
func rejectReason(err error) string {
	err = common.Unwrap(err)
	for _, reason := range rejectReasons {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return "other"
}
