package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/coordinator/prover"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/eth"
	"tokamak-zkrollup/etherscan"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/synchronizer"
)

// TxManager handles everything related to ethereum transactions:  It sends
// the commit of every forged batch, sends its verification once the proof is
// ready and the previous batch verification is sent, and keeps checking the
// transactions until a number of confirmed blocks have passed.
type TxManager struct {
	cfg              Config
	ethClient        eth.ClientInterface
	etherscanService *etherscan.Service
	l2DB             *l2db.L2DB   // Used only to mark forged txs as forged in the L2DB
	coord            *Coordinator // Used only to send messages to stop the pipeline
	batchCh          chan *BatchInfo
	proofCh          chan *batchProof
	chainID          *big.Int
	account          accounts.Account
	consts           common.RollupConstants

	stats       synchronizer.Stats
	vars        common.RollupVariables
	statsVarsCh chan statsVars

	discardCh chan common.BatchNum

	queue Queue
	// proofs that arrived before their batch
	proofs map[common.BatchNum]*batchProof
	// lastCommitSent is the last batch whose commit has been sent
	lastCommitSent common.BatchNum
	// lastVerifySent is the last batch whose verification has been sent
	lastVerifySent common.BatchNum
}

// batchProof is the proof of a batch computed by a prover
type batchProof struct {
	PipelineNum  int
	BatchNum     common.BatchNum
	Proof        *prover.Proof
	PublicInputs []*big.Int
	Delay        time.Duration
}

// Queue of BatchInfos sorted by batch number
type Queue struct {
	list []*BatchInfo
}

// NewQueue returns a new queue
func NewQueue() Queue {
	return Queue{
		list: make([]*BatchInfo, 0),
	}
}

// Len is the length of the queue
func (q *Queue) Len() int {
	return len(q.list)
}

// At returns the BatchInfo at position i
func (q *Queue) At(i int) *BatchInfo {
	return q.list[i]
}

// Push adds a BatchInfo keeping the batch number order
func (q *Queue) Push(batchInfo *BatchInfo) {
	i := len(q.list)
	for i > 0 && q.list[i-1].BatchNum > batchInfo.BatchNum {
		i--
	}
	q.list = append(q.list, nil)
	copy(q.list[i+1:], q.list[i:])
	q.list[i] = batchInfo
}

// Find returns the BatchInfo of batchNum or nil
func (q *Queue) Find(batchNum common.BatchNum) *BatchInfo {
	for _, batchInfo := range q.list {
		if batchInfo.BatchNum == batchNum {
			return batchInfo
		}
	}
	return nil
}

// Filter keeps the BatchInfos for which keep returns true
func (q *Queue) Filter(keep func(*BatchInfo) bool) []*BatchInfo {
	kept := q.list[:0]
	var removed []*BatchInfo
	for _, batchInfo := range q.list {
		if keep(batchInfo) {
			kept = append(kept, batchInfo)
		} else {
			removed = append(removed, batchInfo)
		}
	}
	for i := len(kept); i < len(q.list); i++ {
		q.list[i] = nil
	}
	q.list = kept
	return removed
}

// NewTxManager creates a new TxManager
func NewTxManager(
	cfg *Config,
	ethClient eth.ClientInterface,
	l2DB *l2db.L2DB,
	coord *Coordinator,
	consts *common.RollupConstants,
	initVars *common.RollupVariables,
	etherscanService *etherscan.Service,
) (*TxManager, error) {
	chainID, err := ethClient.EthChainID()
	if err != nil {
		return nil, common.Wrap(err)
	}
	address, err := ethClient.EthAddress()
	if err != nil {
		return nil, common.Wrap(err)
	}
	log.Infow("TxManager started", "address", address.Hex(), "chainID", chainID)
	return &TxManager{
		cfg:              *cfg,
		ethClient:        ethClient,
		etherscanService: etherscanService,
		l2DB:             l2DB,
		coord:            coord,
		batchCh:          make(chan *BatchInfo, queueLen),
		proofCh:          make(chan *batchProof, queueLen),
		statsVarsCh:      make(chan statsVars, queueLen),
		discardCh:        make(chan common.BatchNum, queueLen),
		account: accounts.Account{
			Address: *address,
		},
		chainID: chainID,
		consts:  *consts,
		vars:    *initVars,
		queue:   NewQueue(),
		proofs:  make(map[common.BatchNum]*batchProof),
	}, nil
}

// AddBatch is a thread safe method to pass a new batch TxManager to be sent to
// the smart contract via the commit call
func (t *TxManager) AddBatch(ctx context.Context, batchInfo *BatchInfo) {
	select {
	case t.batchCh <- batchInfo:
	case <-ctx.Done():
	}
}

// AddProof is a thread safe method to pass the proof of a batch to the
// TxManager so that the batch verification can be sent
func (t *TxManager) AddProof(ctx context.Context, proof *batchProof) {
	select {
	case t.proofCh <- proof:
	case <-ctx.Done():
	}
}

// SetSyncStatsVars is a thread safe method to sets the synchronizer Stats
func (t *TxManager) SetSyncStatsVars(ctx context.Context, stats *synchronizer.Stats,
	vars *common.RollupVariables) {
	select {
	case t.statsVarsCh <- statsVars{Stats: *stats, Vars: vars}:
	case <-ctx.Done():
	}
}

// DiscardBatches is a thread safe method to notify about the discarded
// batches from fromBatchNum on due to a pipeline stop
func (t *TxManager) DiscardBatches(ctx context.Context, fromBatchNum common.BatchNum) {
	select {
	case t.discardCh <- fromBatchNum:
	case <-ctx.Done():
	}
}

func (t *TxManager) syncStatsVars(s *statsVars) {
	t.stats = s.Stats
	if s.Vars != nil {
		t.vars = *s.Vars
	}
	t.lastVerifySent = max(t.lastVerifySent, t.stats.Sync.LastVerifiedBatch)
}

// NewAuth generates a new auth object for an ethereum transaction
func (t *TxManager) NewAuth(ctx context.Context, gasLimit uint64) (*bind.TransactOpts, error) {
	var gasPrice *big.Int
	if t.etherscanService != nil {
		suggested, err := t.etherscanService.SuggestGasPrice(ctx)
		if err != nil {
			log.Warnw("TxManager: etherscan gas price, falling back to the ethereum node",
				"err", err)
		} else {
			gasPrice = suggested
		}
	}
	if gasPrice == nil {
		suggested, err := t.ethClient.EthSuggestGasPrice(ctx)
		if err != nil {
			return nil, common.Wrap(err)
		}
		gasPrice = suggested
	}
	inc := new(big.Int).Set(gasPrice)
	inc.Mul(inc, new(big.Int).SetInt64(t.cfg.GasPriceIncPerc))
	// nolint reason: to calculate percentages we use 100
	inc.Div(inc, new(big.Int).SetUint64(100)) //nolint:gomnd
	gasPrice.Add(gasPrice, inc)
	gasPrice = clampGasPrice(gasPrice, t.cfg.MinGasPrice, t.cfg.MaxGasPrice)

	auth, err := bind.NewKeyStoreTransactorWithChainID(t.ethClient.EthKeyStore(), t.account, t.chainID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	auth.Context = ctx
	auth.Value = big.NewInt(0) // in wei
	auth.GasLimit = gasLimit
	auth.GasPrice = gasPrice
	log.Debugw("TxManager: transaction metadata", "gasPrice", gasPrice, "gasLimit", gasLimit)
	return auth, nil
}

// clampGasPrice bounds the gas price in wei by the limits in gwei.  A zero
// max means no upper bound.
func clampGasPrice(gasPrice *big.Int, minGwei, maxGwei int64) *big.Int {
	gwei := big.NewInt(1e9) //nolint:gomnd
	minGasPrice := new(big.Int).Mul(big.NewInt(minGwei), gwei)
	if gasPrice.Cmp(minGasPrice) < 0 {
		return minGasPrice
	}
	if maxGwei > 0 {
		maxGasPrice := new(big.Int).Mul(big.NewInt(maxGwei), gwei)
		if gasPrice.Cmp(maxGasPrice) > 0 {
			log.Warnw("TxManager: suggested gas price above the max, using the max",
				"gasPrice", gasPrice, "maxGasPrice", maxGasPrice)
			return maxGasPrice
		}
	}
	return gasPrice
}

// withAttempts calls fn up to EthClientAttempts times waiting
// EthClientAttemptsDelay between attempts
func (t *TxManager) withAttempts(ctx context.Context, name string, fn func() error) error {
	var err error
	attempts := max(t.cfg.EthClientAttempts, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		log.Errorw(fmt.Sprintf("TxManager ethClient.%v", name), "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return common.Wrap(common.ErrDone)
		case <-time.After(t.cfg.EthClientAttemptsDelay):
		}
	}
	return common.Wrap(fmt.Errorf("reached max attempts for ethClient.%v: %w", name, err))
}

func (t *TxManager) commitBatch(ctx context.Context, batchInfo *BatchInfo) error {
	if batchInfo.BatchNum != t.lastCommitSent+1 && t.lastCommitSent != 0 {
		log.Warnw("TxManager: committing a batch out of sequence",
			"batch", batchInfo.BatchNum, "lastCommitSent", t.lastCommitSent)
	}
	err := t.withAttempts(ctx, "RollupCommitBatch", func() error {
		auth, err := t.NewAuth(ctx, t.cfg.CommitGasLimit)
		if err != nil {
			return common.Wrap(err)
		}
		ethTx, err := t.ethClient.RollupCommitBatch(batchInfo.CommitBatchArgs, auth)
		if err != nil {
			return common.Wrap(err)
		}
		batchInfo.CommitEthTx = ethTx
		return nil
	})
	if err != nil {
		return common.Wrap(err)
	}
	now := time.Now()
	batchInfo.SendTimestamp = now
	batchInfo.Debug.SendTimestamp = now
	batchInfo.Debug.Status = StatusCommitSent
	batchInfo.Debug.StartBlockNum = t.stats.Eth.LastBlock.Num + 1
	batchInfo.Debug.StartToCommitDelay = now.Sub(batchInfo.Debug.StartTimestamp).Seconds()
	t.lastCommitSent = batchInfo.BatchNum
	log.Infow("TxManager ethClient.RollupCommitBatch", "batch", batchInfo.BatchNum,
		"tx", batchInfo.CommitEthTx.Hash())
	t.cfg.debugBatchStore(batchInfo)
	return nil
}

func (t *TxManager) verifyBatch(ctx context.Context, batchInfo *BatchInfo) error {
	batchInfo.prepareVerifyBatchArgs()
	err := t.withAttempts(ctx, "RollupVerifyBatch", func() error {
		auth, err := t.NewAuth(ctx, t.cfg.VerifyGasLimit)
		if err != nil {
			return common.Wrap(err)
		}
		ethTx, err := t.ethClient.RollupVerifyBatch(batchInfo.VerifyBatchArgs, auth)
		if err != nil {
			return common.Wrap(err)
		}
		batchInfo.VerifyEthTx = ethTx
		return nil
	})
	if err != nil {
		return common.Wrap(err)
	}
	batchInfo.Debug.Status = StatusVerifySent
	t.lastVerifySent = batchInfo.BatchNum
	log.Infow("TxManager ethClient.RollupVerifyBatch", "batch", batchInfo.BatchNum,
		"tx", batchInfo.VerifyEthTx.Hash())
	t.cfg.debugBatchStore(batchInfo)
	return nil
}

// ethTransactionReceipt returns the receipt of the tx, or nil if it's not
// mined yet
func (t *TxManager) ethTransactionReceipt(ctx context.Context,
	txHash ethCommon.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := t.withAttempts(ctx, "EthTransactionReceipt", func() error {
		var err error
		receipt, err = t.ethClient.EthTransactionReceipt(ctx, txHash)
		if err == ethereum.NotFound {
			receipt = nil
			return nil
		}
		return common.Wrap(err)
	})
	return receipt, common.Wrap(err)
}

// handleReceipt returns an error when the mined transaction failed
func (t *TxManager) handleReceipt(name string, batchInfo *BatchInfo, receipt *types.Receipt) error {
	if receipt.Status == types.ReceiptStatusFailed {
		batchInfo.Fail = true
		batchInfo.Debug.Status = StatusFailed
		t.cfg.debugBatchStore(batchInfo)
		return common.Wrap(fmt.Errorf("ethereum transaction receipt status is failed: %v tx %v",
			name, receipt.TxHash))
	}
	return nil
}

// checkBatch checks the receipts of the sent transactions of the batch and
// sends its verification when it's ready
func (t *TxManager) checkBatch(ctx context.Context, batchInfo *BatchInfo) error {
	if batchInfo.CommitEthTx != nil && batchInfo.CommitReceipt == nil {
		receipt, err := t.ethTransactionReceipt(ctx, batchInfo.CommitEthTx.Hash())
		if err != nil {
			return common.Wrap(err)
		}
		if receipt != nil {
			batchInfo.CommitReceipt = receipt
			if err := t.handleReceipt("commitBatch", batchInfo, receipt); err != nil {
				return common.Wrap(err)
			}
			batchInfo.Debug.Status = StatusCommitted
			batchInfo.Debug.CommitBlockNum = receipt.BlockNumber.Int64()
			if err := t.l2DB.DoneForging(batchInfo.TxHashes(), batchInfo.BatchNum); err != nil {
				return common.Wrap(err)
			}
			log.Infow("TxManager: batch committed", "batch", batchInfo.BatchNum,
				"block", batchInfo.Debug.CommitBlockNum)
			t.cfg.debugBatchStore(batchInfo)
		}
	}
	if batchInfo.CommitReceipt != nil && batchInfo.Proof != nil && batchInfo.VerifyEthTx == nil &&
		batchInfo.BatchNum == t.lastVerifySent+1 {
		if err := t.verifyBatch(ctx, batchInfo); err != nil {
			return common.Wrap(err)
		}
	}
	if batchInfo.VerifyEthTx != nil && batchInfo.VerifyReceipt == nil {
		receipt, err := t.ethTransactionReceipt(ctx, batchInfo.VerifyEthTx.Hash())
		if err != nil {
			return common.Wrap(err)
		}
		if receipt != nil {
			batchInfo.VerifyReceipt = receipt
			if err := t.handleReceipt("verifyBatch", batchInfo, receipt); err != nil {
				return common.Wrap(err)
			}
			batchInfo.Debug.Status = StatusVerified
			batchInfo.Debug.VerifyBlockNum = receipt.BlockNumber.Int64()
			log.Infow("TxManager: batch verified", "batch", batchInfo.BatchNum,
				"block", batchInfo.Debug.VerifyBlockNum)
			t.cfg.debugBatchStore(batchInfo)
		}
	}
	return nil
}

// checkBatches goes over the queued batches in order.  It returns the first
// batch whose transaction failed.
func (t *TxManager) checkBatches(ctx context.Context) (*BatchInfo, error) {
	for i := 0; i < t.queue.Len(); i++ {
		batchInfo := t.queue.At(i)
		if err := t.checkBatch(ctx, batchInfo); ctx.Err() != nil {
			return nil, nil
		} else if batchInfo.Fail {
			return batchInfo, common.Wrap(err)
		} else if err != nil {
			return nil, common.Wrap(err)
		}
	}
	// Forget the verified batches after ConfirmBlocks
	t.queue.Filter(func(batchInfo *BatchInfo) bool {
		if batchInfo.VerifyReceipt == nil {
			return true
		}
		return t.stats.Eth.LastBlock.Num-batchInfo.Debug.VerifyBlockNum < t.cfg.ConfirmBlocks
	})
	return nil, nil
}

func (t *TxManager) addProof(proof *batchProof) bool {
	batchInfo := t.queue.Find(proof.BatchNum)
	if batchInfo == nil || batchInfo.PipelineNum != proof.PipelineNum {
		return false
	}
	batchInfo.Proof = proof.Proof
	batchInfo.PublicInputs = proof.PublicInputs
	batchInfo.Debug.ProofDelay = proof.Delay.Seconds()
	if batchInfo.Debug.Status == StatusCommitted || batchInfo.Debug.Status == StatusCommitSent {
		batchInfo.Debug.Status = StatusProof
	}
	t.cfg.debugBatchStore(batchInfo)
	return true
}

// discard drops the batches from fromBatchNum on.  Their pool txs and
// priority requests are returned to the pool by the Coordinator.
func (t *TxManager) discard(fromBatchNum common.BatchNum) {
	removed := t.queue.Filter(func(batchInfo *BatchInfo) bool {
		return batchInfo.BatchNum < fromBatchNum
	})
	for bn := range t.proofs {
		if bn >= fromBatchNum {
			delete(t.proofs, bn)
		}
	}
	for _, batchInfo := range removed {
		batchInfo.Debug.Status = StatusReverted
		t.cfg.debugBatchStore(batchInfo)
		log.Infow("TxManager: batch discarded", "batch", batchInfo.BatchNum)
	}
	if fromBatchNum > 0 {
		t.lastCommitSent = min(t.lastCommitSent, fromBatchNum-1)
		t.lastVerifySent = min(t.lastVerifySent, fromBatchNum-1)
	}
	t.lastVerifySent = max(t.lastVerifySent, t.stats.Sync.LastVerifiedBatch)
}

// Run the TxManager
func (t *TxManager) Run(ctx context.Context) {
	timer := time.NewTimer(longWaitDuration)
	resetTimer := func(d time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("TxManager done")
			return
		case statsVars := <-t.statsVarsCh:
			t.syncStatsVars(&statsVars)
			if t.queue.Len() > 0 {
				resetTimer(zeroDuration)
			}
		case fromBatchNum := <-t.discardCh:
			t.discard(fromBatchNum)
		case batchInfo := <-t.batchCh:
			if err := t.commitBatch(ctx, batchInfo); ctx.Err() != nil {
				continue
			} else if err != nil {
				// If we reach here it's because our ethNode has
				// been unable to send the transaction to
				// ethereum.  This could be due to the ethNode
				// failure, or an invalid transaction (that
				// can't be mined)
				log.Warnw("TxManager.commitBatch", "err", err)
				t.coord.SendMsg(ctx, MsgStopPipeline{
					Reason:         fmt.Sprintf("commitBatch send: %v", err),
					FailedBatchNum: batchInfo.BatchNum,
				})
				continue
			}
			t.queue.Push(batchInfo)
			if proof, ok := t.proofs[batchInfo.BatchNum]; ok {
				delete(t.proofs, batchInfo.BatchNum)
				t.addProof(proof)
			}
			resetTimer(t.cfg.TxManagerCheckInterval)
		case proof := <-t.proofCh:
			if !t.addProof(proof) {
				t.proofs[proof.BatchNum] = proof
			}
			resetTimer(zeroDuration)
		case <-timer.C:
			if t.queue.Len() == 0 {
				timer.Reset(longWaitDuration)
				continue
			}
			timer.Reset(t.cfg.TxManagerCheckInterval)
			failed, err := t.checkBatches(ctx)
			if ctx.Err() != nil {
				continue
			} else if failed != nil {
				log.Warnw("TxManager: batch failed", "batch", failed.BatchNum, "err", err)
				t.coord.SendMsg(ctx, MsgStopPipeline{
					Reason:         fmt.Sprintf("batch %v failed: %v", failed.BatchNum, err),
					FailedBatchNum: failed.BatchNum,
				})
			} else if err != nil {
				log.Errorw("TxManager.checkBatches", "err", err)
			}
		}
	}
}

// RevertBatches sends the revert of the unverified batches, newest first.
// It's called by the Coordinator once the settlement timeout has passed.
func (t *TxManager) RevertBatches(ctx context.Context, n uint32) (*types.Transaction, error) {
	var ethTx *types.Transaction
	err := t.withAttempts(ctx, "RollupRevertBatches", func() error {
		var err error
		ethTx, err = t.ethClient.RollupRevertBatches(n)
		return common.Wrap(err)
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	log.Infow("TxManager ethClient.RollupRevertBatches", "batches", n, "tx", ethTx.Hash())
	return ethTx, nil
}

// ActivateExodusMode sends the activation of exodus mode once the oldest
// priority request expired
func (t *TxManager) ActivateExodusMode(ctx context.Context) (*types.Transaction, error) {
	var ethTx *types.Transaction
	err := t.withAttempts(ctx, "RollupActivateExodusMode", func() error {
		var err error
		ethTx, err = t.ethClient.RollupActivateExodusMode()
		return common.Wrap(err)
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	log.Infow("TxManager ethClient.RollupActivateExodusMode", "tx", ethTx.Hash())
	return ethTx, nil
}
