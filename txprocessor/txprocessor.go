/*
Package txprocessor is the module that takes the operations of a batch and
applies them to the StateDB, updating the Balances, Nonces, PubKeyHashes and
Addresses of the Accounts.

It's a package used by 3 other different packages, and its behaviour will differ
depending on the Type of the StateDB of the TxProcessor:

- TypeSynchronizer:
  - The StateDB contains the full state tree
  - Replays the ops decoded from the pubdata committed on L1 (ProcessOps),
    skipping the authorisation checks that are not part of the pubdata
  - As output returns: CreatedAccounts, UpdatedAccounts, MintedNFTs,
    AccumulatedFees

- TypeTxSelector:
  - The StateDB contains only the Accounts, without merkle trees
  - Simulates the batch (ProcessTxs) to find out which txs are rejected
    and which ones don't fit in the batch capacity

- TypeBatchBuilder:
  - The StateDB contains the full state tree
  - Updates the StateDB. As output returns: ZKInputs, the executed ops
    with their pubdata and the new state root

Every operation goes through the same steps:
  - check: the preconditions of the op are verified against the current
    state.  A failure of a user submitted tx is a
    common.RejectedTransactionError and the tx is left out of the batch.
    A failure of a priority op degrades it: the op is included with no
    effect (common.DegradedPriorityOpError).
  - apply: the state is mutated.  An error here means that an invariant
    doesn't hold although the checks passed, and the batch is halted with
    a common.FatalInvariantError.
  - encode: the pubdata of the op (common.Op.PubData).

The fees of the batch are accumulated per token and credited to the fee
account once all the ops have been applied.
*/
package txprocessor

import (
	"errors"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
)

// TxProcessor represents the TxProcessor object
type TxProcessor struct {
	state *statedb.StateDB
	zki   *common.ZKInputs
	// opIndex is the current op index in the ZKInputs generation (zki)
	opIndex int
	// AccumulatedFees contains the accumulated fees for each token in the
	// processed batch
	AccumulatedFees common.AccumulatedFees
	// updatedAccounts stores the last version of the account when it has
	// been created/updated by any of the processed ops.
	updatedAccounts map[common.AccountID]*common.Account
	createdAccounts []common.Account
	mintedNFTs      []common.NFT
	// timestamp of the batch, checked against the tx time ranges
	timestamp uint64
	// restore is set while replaying ops decoded from L1
	restore bool
	facts   FactSource
	config  Config
}

// Config contains the TxProcessor configuration parameters
type Config struct {
	// MaxChunks is the chunk capacity of a batch.  0 means no capacity
	// limit, which is the case when replaying committed batches.
	MaxChunks uint32
	// ChainID of the blockchain, part of the ChangePubKey EIP-712 domain
	ChainID uint64
	// RollupContractAddr is the verifying contract of the EIP-712 domain
	RollupContractAddr ethCommon.Address
}

// RejectedTx is a user submitted tx left out of the batch
type RejectedTx struct {
	Tx  common.SignedTx
	Err error
}

// ProcessTxOutput contains the output of the ProcessTxs method
type ProcessTxOutput struct {
	ZKInputs *common.ZKInputs
	// Ops are the applied ops in batch order, Noop padding excluded
	Ops []common.ExecutedOp
	// Chunks used by Ops
	Chunks       int
	OldStateRoot *big.Int
	NewStateRoot *big.Int
	// CreatedAccounts are the accounts allocated by the batch
	CreatedAccounts []common.Account
	// UpdatedAccounts returns the current state of each account
	// created/updated by any of the processed ops.
	UpdatedAccounts map[common.AccountID]*common.Account
	MintedNFTs      []common.NFT
	AccumulatedFees common.AccumulatedFees
	// PriorityRequests are the serial ids of the included priority ops
	PriorityRequests []uint64
	// DegradedOps are the included priority ops that had no effect
	DegradedOps []*common.DegradedPriorityOpError
	// RejectedTxs are the txs whose preconditions failed
	RejectedTxs []RejectedTx
	// PendingTxs are valid txs that didn't fit in the batch capacity
	PendingTxs []common.SignedTx
	// PendingPriority are the priority requests that didn't fit in the
	// batch capacity, in queue order
	PendingPriority []common.PriorityRequest
}

// NewTxProcessor returns a new TxProcessor with the given *StateDB & Config.
// facts can be nil, in which case onchain ChangePubKey authorisations are
// never found.
func NewTxProcessor(state *statedb.StateDB, config Config, facts FactSource) *TxProcessor {
	if facts == nil {
		facts = NewFactAuthSet()
	}
	return &TxProcessor{
		state:   state,
		zki:     nil,
		opIndex: 0,
		facts:   facts,
		config:  config,
	}
}

// StateDB returns a pointer to the StateDB of the TxProcessor
func (tp *TxProcessor) StateDB() *statedb.StateDB {
	return tp.state
}

// Config returns the TxProcessor configuration
func (tp *TxProcessor) Config() Config {
	return tp.config
}

// Resets the per batch state
func (tp *TxProcessor) reset() {
	tp.zki = nil
	tp.opIndex = 0
	tp.restore = false
	tp.timestamp = 0
}

// begin prepares the per batch state.  The fee account only has to exist
// once the batch collects fees, so a first batch of deposits can create it.
func (tp *TxProcessor) begin(feeAccount common.AccountID, timestamp uint64, restore bool) (*ProcessTxOutput, error) {
	if tp.zki != nil {
		return nil, common.Wrap(
			errors.New("expected TxProcessor.zki==nil, something went wrong and it's not empty"))
	}
	if feeAccount > common.MaxAccountID || feeAccount == common.NFTStorageAccountID {
		return nil, common.Wrap(fmt.Errorf("invalid fee account %d", feeAccount))
	}
	tp.timestamp = timestamp
	tp.restore = restore
	tp.AccumulatedFees = make(common.AccumulatedFees)
	tp.updatedAccounts = make(map[common.AccountID]*common.Account)
	tp.createdAccounts = nil
	tp.mintedNFTs = nil

	ptOut := &ProcessTxOutput{
		Ops:              make([]common.ExecutedOp, 0),
		PriorityRequests: make([]uint64, 0),
	}
	if tp.state.Type() == statedb.TypeBatchBuilder {
		currentBatchValueNum := uint32(tp.state.CurrentBatch()) + 1
		tp.zki = common.NewZKInputs(tp.config.ChainID, tp.config.MaxChunks, &currentBatchValueNum)
		*tp.zki.FeeAccount = uint32(feeAccount)
	}
	if tp.state.AccountTree != nil {
		root, err := tp.state.Root()
		if err != nil {
			return nil, common.Wrap(err)
		}
		ptOut.OldStateRoot = root.BigInt()
		if tp.zki != nil {
			tp.zki.OldStateRoot = ptOut.OldStateRoot
		}
	}
	return ptOut, nil
}

// fits returns true if an op of type t still fits in the batch
func (tp *TxProcessor) fits(ptOut *ProcessTxOutput, t common.OpType) bool {
	return tp.config.MaxChunks == 0 || ptOut.Chunks+t.Chunks() <= int(tp.config.MaxChunks)
}

// ProcessTxs builds the state transition of a batch: the priority requests
// are applied first, in queue order, followed by the user txs.  Txs whose
// preconditions fail are returned in RejectedTxs, and the ones that don't
// fit in MaxChunks in PendingTxs.  On success a checkpoint of the StateDB
// is done; on error the StateDB is reset to the last checkpoint.
func (tp *TxProcessor) ProcessTxs(feeAccount common.AccountID, timestamp uint64,
	priorityReqs []common.PriorityRequest, txs []common.SignedTx) (ptOut *ProcessTxOutput, err error) {
	defer tp.finish(&err)
	defer tp.reset()

	ptOut, err = tp.begin(feeAccount, timestamp, false)
	if err != nil {
		return nil, common.Wrap(err)
	}

	for i := range priorityReqs {
		op, err := priorityReqs[i].Op()
		if err != nil {
			return nil, common.Wrap(err)
		}
		if !tp.fits(ptOut, op.Type()) {
			ptOut.PendingPriority = append(ptOut.PendingPriority, priorityReqs[i:]...)
			break
		}
		if err := tp.processOp(ptOut, op, nil); err != nil {
			return nil, common.Wrap(err)
		}
	}

	for _, tx := range txs {
		op, err := tp.CreateOp(tx)
		if common.IsRejected(err) {
			log.Debugw("TxProcessor: tx rejected", "type", tx.Type(), "err", err)
			ptOut.RejectedTxs = append(ptOut.RejectedTxs, RejectedTx{Tx: tx, Err: err})
			continue
		} else if err != nil {
			return nil, common.Wrap(err)
		}
		if !tp.fits(ptOut, op.Type()) {
			ptOut.PendingTxs = append(ptOut.PendingTxs, tx)
			continue
		}
		if err := tp.processOp(ptOut, op, tx); err != nil {
			return nil, common.Wrap(err)
		}
	}

	if err := tp.end(ptOut, feeAccount); err != nil {
		return nil, common.Wrap(err)
	}
	return ptOut, nil
}

// ProcessOps replays the ops of a batch committed on L1, decoded from its
// pubdata.  The signatures, nonces and L1 authorisations are not part of the
// pubdata, so they are trusted; any other precondition failure means that
// the local state diverged from L1 and is returned as a
// common.FatalInvariantError.
func (tp *TxProcessor) ProcessOps(feeAccount common.AccountID, timestamp uint64,
	ops []common.Op) (ptOut *ProcessTxOutput, err error) {
	defer tp.finish(&err)
	defer tp.reset()

	ptOut, err = tp.begin(feeAccount, timestamp, true)
	if err != nil {
		return nil, common.Wrap(err)
	}
	for _, op := range ops {
		if op.Type() == common.OpTypeNoop {
			continue
		}
		if !op.Type().IsPriority() {
			if err := tp.checkOp(op); err != nil {
				return nil, fatal(op.Type(), err)
			}
		}
		if err := tp.processOp(ptOut, op, nil); err != nil {
			return nil, common.Wrap(err)
		}
	}
	if err := tp.end(ptOut, feeAccount); err != nil {
		return nil, common.Wrap(err)
	}
	return ptOut, nil
}

// finish makes the checkpoint of a processed batch, or resets the StateDB to
// the last checkpoint when the batch failed
func (tp *TxProcessor) finish(err *error) {
	if *err == nil {
		*err = tp.state.MakeCheckpoint()
		return
	}
	if common.IsFatal(*err) {
		log.Errorw("TxProcessor: batch halted", "batch", tp.state.CurrentBatch()+1, "err", *err)
	}
	if rErr := tp.state.Reset(tp.state.CurrentBatch()); rErr != nil {
		log.Errorw("TxProcessor: StateDB reset after failed batch", "err", rErr)
	}
}

// end credits the accumulated fees and fills the batch outputs
func (tp *TxProcessor) end(ptOut *ProcessTxOutput, feeAccount common.AccountID) error {
	if len(tp.AccumulatedFees) > 0 {
		exists, err := tp.state.AccountExists(feeAccount)
		if err != nil {
			return common.Wrap(err)
		}
		if !exists {
			return fatal(common.OpTypeNoop, fmt.Errorf("fee account %d is not allocated", feeAccount))
		}
	}
	for _, token := range tp.AccumulatedFees.Tokens() {
		if err := tp.credit(feeAccount, token, tp.AccumulatedFees[token]); err != nil {
			return fatal(common.OpTypeNoop, err)
		}
	}
	if len(tp.AccumulatedFees) > 0 {
		tp.trackAccounts(feeAccount)
	}

	ptOut.AccumulatedFees = tp.AccumulatedFees.Copy()
	ptOut.CreatedAccounts = tp.createdAccounts
	ptOut.MintedNFTs = tp.mintedNFTs
	if tp.state.Type() == statedb.TypeSynchronizer {
		ptOut.UpdatedAccounts = tp.updatedAccounts
	}
	if tp.state.AccountTree != nil {
		root, err := tp.state.Root()
		if err != nil {
			return common.Wrap(err)
		}
		ptOut.NewStateRoot = root.BigInt()
	}
	if tp.zki != nil {
		tp.zki.NewStateRoot = ptOut.NewStateRoot
		ptOut.ZKInputs = tp.zki
	}
	return nil
}

// processOp applies a checked op and records it in the output.  tx is the
// signed tx the op was created from, nil for priority ops and replayed ops.
func (tp *TxProcessor) processOp(ptOut *ProcessTxOutput, op common.Op, tx common.SignedTx) error {
	if err := tp.witnessBefore(op, tx); err != nil {
		return common.Wrap(err)
	}
	feesBefore := tp.AccumulatedFees.Copy()

	degraded, err := tp.applyOp(op)
	if err != nil {
		return fatal(op.Type(), err)
	}

	pubData, err := op.PubData()
	if err != nil {
		return fatal(op.Type(), err)
	}
	feeToken, fee := opFee(op)
	eop := common.ExecutedOp{
		Position: len(ptOut.Ops),
		OpType:   op.Type(),
		PubData:  pubData,
		FeeToken: feeToken,
		Fee:      fee,
		Degraded: degraded != nil,
		Op:       op,
	}
	if tx != nil {
		h, err := crypto.TxHash(tx)
		if err != nil {
			return common.Wrap(err)
		}
		eop.TxHash = h
	}
	if serialID, ok := opSerialID(op); ok {
		eop.SerialID = &serialID
		ptOut.PriorityRequests = append(ptOut.PriorityRequests, serialID)
	}
	if degraded != nil {
		log.Infow("TxProcessor: priority op degraded", "serialId", degraded.SerialID,
			"type", degraded.OpType, "reason", degraded.Reason)
		ptOut.DegradedOps = append(ptOut.DegradedOps, degraded)
	}
	ptOut.Ops = append(ptOut.Ops, eop)
	ptOut.Chunks += op.Type().Chunks()

	tp.trackAccounts(common.OpAccounts(op)...)
	return tp.witnessAfter(op, pubData, feesBefore)
}

// trackAccounts stores the current version of the accounts in
// updatedAccounts
func (tp *TxProcessor) trackAccounts(ids ...common.AccountID) {
	if tp.state.Type() != statedb.TypeSynchronizer {
		return
	}
	for _, id := range ids {
		acc, err := tp.state.GetAccount(id)
		if err != nil {
			log.Errorw("TxProcessor: tracking updated account", "account", id, "err", err)
			continue
		}
		if acc.IsEmpty() {
			continue
		}
		tp.updatedAccounts[id] = acc
	}
}

// createAccount allocates a new account bound to addr.  id must be the next
// free account id.
func (tp *TxProcessor) createAccount(id common.AccountID, addr ethCommon.Address) error {
	if _, err := tp.state.CreateAccount(id, addr); err != nil {
		return common.Wrap(err)
	}
	tp.createdAccounts = append(tp.createdAccounts, *common.NewAccount(id, addr))
	return nil
}

// CreateOp resolves the accounts referenced by a signed tx and checks its
// preconditions against the current state.  The returned op is ready to be
// applied; the error is a common.RejectedTransactionError when a
// precondition fails.
func (tp *TxProcessor) CreateOp(tx common.SignedTx) (common.Op, error) {
	var (
		op  common.Op
		err error
	)
	switch t := tx.(type) {
	case *common.Transfer:
		op, err = tp.createTransfer(t)
	case *common.Withdraw:
		op, err = tp.createWithdraw(t)
	case *common.ChangePubKey:
		op, err = tp.createChangePubKey(t)
	case *common.ForcedExit:
		op, err = tp.createForcedExit(t)
	case *common.MintNFT:
		op, err = tp.createMintNFT(t)
	case *common.WithdrawNFT:
		op, err = tp.createWithdrawNFT(t)
	case *common.Swap:
		op, err = tp.createSwap(t)
	default:
		return nil, common.Wrap(fmt.Errorf("unsupported tx %T", tx))
	}
	if err != nil {
		return nil, err
	}
	if err := tp.checkOp(op); err != nil {
		return nil, err
	}
	return op, nil
}

// checkOp verifies the preconditions of a user op
func (tp *TxProcessor) checkOp(op common.Op) error {
	switch o := op.(type) {
	case *common.TransferOp:
		return tp.checkTransfer(o.Type(), &o.Tx, o.From, o.To)
	case *common.TransferToNewOp:
		return tp.checkTransfer(o.Type(), &o.Tx, o.From, o.To)
	case *common.WithdrawOp:
		return tp.checkWithdraw(o)
	case *common.ChangePubKeyOp:
		return tp.checkChangePubKey(o)
	case *common.ForcedExitOp:
		return tp.checkForcedExit(o)
	case *common.MintNFTOp:
		return tp.checkMintNFT(o)
	case *common.WithdrawNFTOp:
		return tp.checkWithdrawNFT(o)
	case *common.SwapOp:
		return tp.checkSwap(o)
	}
	return common.Wrap(fmt.Errorf("op %s is not a user op", op.Type()))
}

// applyOp mutates the state.  Priority ops return a non nil
// DegradedPriorityOpError when they are included with no effect.
func (tp *TxProcessor) applyOp(op common.Op) (*common.DegradedPriorityOpError, error) {
	switch o := op.(type) {
	case *common.NoopOp:
		return nil, nil
	case *common.DepositOp:
		return tp.applyDeposit(o)
	case *common.FullExitOp:
		return tp.applyFullExit(o)
	case *common.TransferOp:
		return nil, tp.applyTransfer(&o.Tx, o.From, o.To)
	case *common.TransferToNewOp:
		if err := tp.createAccount(o.To, o.Tx.To); err != nil {
			return nil, common.Wrap(err)
		}
		return nil, tp.applyTransfer(&o.Tx, o.From, o.To)
	case *common.WithdrawOp:
		return nil, tp.applyWithdraw(o)
	case *common.ChangePubKeyOp:
		return nil, tp.applyChangePubKey(o)
	case *common.ForcedExitOp:
		return nil, tp.applyForcedExit(o)
	case *common.MintNFTOp:
		return nil, tp.applyMintNFT(o)
	case *common.WithdrawNFTOp:
		return nil, tp.applyWithdrawNFT(o)
	case *common.SwapOp:
		return nil, tp.applySwap(o)
	}
	return nil, common.Wrap(fmt.Errorf("unknown op %T", op))
}

// opFee returns the fee paid by the op
func opFee(op common.Op) (common.TokenID, *big.Int) {
	switch o := op.(type) {
	case *common.TransferOp:
		return o.Tx.Token, o.Tx.Fee
	case *common.TransferToNewOp:
		return o.Tx.Token, o.Tx.Fee
	case *common.WithdrawOp:
		return o.Tx.Token, o.Tx.Fee
	case *common.ChangePubKeyOp:
		return o.Tx.FeeToken, o.Tx.Fee
	case *common.ForcedExitOp:
		return o.Tx.Token, o.Tx.Fee
	case *common.MintNFTOp:
		return o.Tx.FeeToken, o.Tx.Fee
	case *common.WithdrawNFTOp:
		return o.Tx.FeeToken, o.Tx.Fee
	case *common.SwapOp:
		return o.Tx.FeeToken, o.Tx.Fee
	}
	return 0, nil
}

func opSerialID(op common.Op) (uint64, bool) {
	switch o := op.(type) {
	case *common.DepositOp:
		return o.SerialID, true
	case *common.FullExitOp:
		return o.SerialID, true
	}
	return 0, false
}
