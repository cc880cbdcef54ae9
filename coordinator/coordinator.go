/*
Package coordinator handles all the logic related to forging batches as the
operator of the rollup.

The forging of batches is done with a pipeline in order to allow multiple
batches being committed before the previous ones are verified.  The maximum
number of committed and unverified batches is the PipelineDepth, and the
number of batches being proven in parallel is bounded by the number of
available proof servers.

The Coordinator begins with the pipeline stopped.  The main Coordinator
goroutine keeps listening for synchronizer events sent by the node package.
Once the node is synced the pipeline is started from the last synced batch.
The pipeline is stopped when a batch fails, when the unverified batches are
reverted and when the rollup enters exodus mode.

The Pipeline consists of a goroutine in charge of preparing a batch
internally, which involves making a selection of priority requests and pool
transactions, building the batch with its commitment, and sending the ZKInputs
to an idle proof server.  The batch is then passed to the TxManager to be
committed, while a goroutine per batch waits for the proof server to finish
computing the proof and passes the proof to the TxManager.

Finally, the TxManager contains a single goroutine that sends the commitBatch
ethereum transactions for the batches sent by the Pipeline, and the
verifyBatch transactions in batch order once their proofs are ready.  The
transactions are checked periodically and forgotten after a number of
confirmation blocks.  At any point if a transaction failure is detected, the
TxManager signals the Coordinator to reset the Pipeline in order to reforge
the failed batches.

The Coordinator goroutine acts as a manager.  The synchronizer events (which
notify about new blocks and associated new state) that it receives are
broadcasted to the Pipeline and the TxManager.  When the oldest unverified
batch has been waiting for more than VerifyTimeout blocks, the Coordinator
stops the pipeline, reverts all the unverified batches and waits for the
revert to be synced before forging again.  When the oldest pending priority
request expires, the Coordinator activates the exodus mode.
*/
package coordinator

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"sync"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/batchbuilder"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/coordinator/prover"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/eth"
	"tokamak-zkrollup/etherscan"
	"tokamak-zkrollup/exodus"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/metric"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/synchronizer"
	"tokamak-zkrollup/txprocessor"
	"tokamak-zkrollup/txselector"
)

var errSkipBatchByPolicy = fmt.Errorf("skip batch by policy")

const (
	queueLen         = 16
	longWaitDuration = 999 * time.Hour
	zeroDuration     = 0 * time.Second
	// maxBatchesToRevert reverts all the unverified batches
	maxBatchesToRevert = math.MaxUint32
)

// Config contains the Coordinator configuration
type Config struct {
	// ForgerAddress is the address under which this coordinator is forging
	ForgerAddress ethCommon.Address
	// FeeAccount is the account that receives the fees of the forged
	// batches
	FeeAccount common.AccountID
	// PipelineDepth is the maximum number of committed and unverified
	// batches
	PipelineDepth int
	// ConfirmBlocks is the number of confirmation blocks to wait for sent
	// ethereum transactions before forgetting about them
	ConfirmBlocks int64
	// EthClientAttempts is the number of attempts to do an eth client RPC
	// call before giving up
	EthClientAttempts int
	// EthClientAttemptsDelay is delay between attempts do do an eth client
	// RPC call
	EthClientAttemptsDelay time.Duration
	// ForgeRetryInterval is the waiting interval between calls forge a
	// batch after an error
	ForgeRetryInterval time.Duration
	// ForgeDelay is the delay after which a batch is forged.  If set to
	// 0s, the coordinator will continuously forge at the maximum rate.
	ForgeDelay time.Duration
	// ForgeNoTxsDelay is the delay after which a batch is forged even if
	// there are no txs to forge.  If set to 0s, the coordinator will
	// continuously forge even if the batches are empty.
	ForgeNoTxsDelay time.Duration
	// SyncRetryInterval is the waiting interval between calls to the main
	// handler of a synced block after an error
	SyncRetryInterval time.Duration
	// TxManagerCheckInterval is the waiting interval between receipt
	// checks of ethereum transactions in the TxManager
	TxManagerCheckInterval time.Duration
	// MaxGasPrice is the maximum gas price in gwei allowed for ethereum
	// transactions
	MaxGasPrice int64
	// MinGasPrice is the minimum gas price in gwei allowed for ethereum
	MinGasPrice int64
	// GasPriceIncPerc is the percentage increase of gas price set in an
	// ethereum transaction from the suggested gas price by the ehtereum
	// node
	GasPriceIncPerc int64
	// CommitGasLimit is the gas limit of the commitBatch transactions
	CommitGasLimit uint64
	// VerifyGasLimit is the gas limit of the verifyBatch transactions
	VerifyGasLimit uint64
	// DebugBatchPath if set, specifies the path where batchInfo is stored
	// in JSON in every step/update of the pipeline
	DebugBatchPath    string
	Purger            PurgerCfg
	TxProcessorConfig txprocessor.Config
}

type fromBatch struct {
	BatchNum   common.BatchNum
	ForgerAddr ethCommon.Address
	StateRoot  *big.Int
}

// Coordinator implements the Coordinator type
type Coordinator struct {
	// State
	pipelineNum       int       // Pipeline sequential number.  The first pipeline is 1
	pipelineFromBatch fromBatch // batch from which we started the pipeline
	provers           []prover.Client
	proversPool       *ProversPool
	consts            common.RollupConstants
	vars              common.RollupVariables
	stats             synchronizer.Stats
	started           bool
	verifierIdx       uint8

	// revertPending is the last verified batch when a revert of the
	// unverified batches was sent, until the revert is synced
	revertPending      *common.BatchNum
	revertSentBlockNum int64
	exodusSent         bool

	cfg Config

	historyDB    *historydb.HistoryDB
	l2DB         *l2db.L2DB
	queue        *priorityqueue.Queue
	exodus       *exodus.Controller
	txSelector   *txselector.TxSelector
	batchBuilder *batchbuilder.BatchBuilder

	msgCh   chan interface{}
	ctx     context.Context
	wg      sync.WaitGroup
	proofWg sync.WaitGroup
	cancel  context.CancelFunc

	// mutexL2DBUpdateDelete protects updates to the L2DB so that
	// these two processes always happen exclusively:
	// - Pipeline taking pending txs, running through the TxProcessor and
	//   marking selected txs as forging
	// - Coordinator returning txs of discarded batches to the pool
	mutexL2DBUpdateDelete sync.Mutex
	pipeline              *Pipeline

	purger    *Purger
	txManager *TxManager
}

// MsgSyncBlock indicates an update to the Synchronizer stats
type MsgSyncBlock struct {
	Stats   synchronizer.Stats
	Batches []common.BatchData
	// RevertedBatches are the batches reverted in the block
	RevertedBatches []common.BatchEvent
	// Vars contains the Smart Contract variables if they are updated, or
	// nil if they haven't changed.
	Vars *common.RollupVariables
}

// MsgSyncReorg indicates a reorg
type MsgSyncReorg struct {
	Stats synchronizer.Stats
	Vars  *common.RollupVariables
}

// MsgStopPipeline indicates a signal to reset the pipeline
type MsgStopPipeline struct {
	Reason string
	// FailedBatchNum indicates the first batchNum that failed in the
	// pipeline.  If FailedBatchNum is 0, all the unverified batches are
	// discarded.
	FailedBatchNum common.BatchNum
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(cfg Config,
	historyDB *historydb.HistoryDB,
	l2DB *l2db.L2DB,
	queue *priorityqueue.Queue,
	exodusCtl *exodus.Controller,
	txSelector *txselector.TxSelector,
	batchBuilder *batchbuilder.BatchBuilder,
	serverProofs []prover.Client,
	ethClient eth.ClientInterface,
	consts *common.RollupConstants,
	initVars *common.RollupVariables,
	etherscanService *etherscan.Service,
) (*Coordinator, error) {
	if cfg.PipelineDepth < 1 {
		return nil, common.Wrap(fmt.Errorf("invalid PipelineDepth %v, must be at least 1",
			cfg.PipelineDepth))
	}
	verifierIdx := -1
	for i, verifier := range consts.Verifiers {
		if verifier.BlockChunks == int64(cfg.TxProcessorConfig.MaxChunks) {
			verifierIdx = i
			break
		}
	}
	if verifierIdx == -1 {
		return nil, common.Wrap(fmt.Errorf("no verifier for batches of %v chunks",
			cfg.TxProcessorConfig.MaxChunks))
	}
	if cfg.DebugBatchPath != "" {
		if err := os.MkdirAll(cfg.DebugBatchPath, 0744); err != nil { //nolint:gomnd
			return nil, common.Wrap(err)
		}
	}

	proversPool := NewProversPool(len(serverProofs))
	proversPoolSize := 0
	for _, serverProof := range serverProofs {
		if err := serverProof.WaitReady(context.Background()); err != nil {
			log.Errorw("serverProof.WaitReady", "err", err)
		} else {
			proversPool.Add(serverProof)
			proversPoolSize++
		}
	}
	if proversPoolSize == 0 {
		return nil, common.Wrap(fmt.Errorf("no ServerProofs available"))
	}

	purger := Purger{
		cfg:                 cfg.Purger,
		lastPurgeBlock:      0,
		lastPurgeBatch:      0,
		lastInvalidateBlock: 0,
		lastInvalidateBatch: 0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := Coordinator{
		pipelineNum: 0,
		pipelineFromBatch: fromBatch{
			BatchNum:   0,
			ForgerAddr: ethCommon.Address{},
			StateRoot:  big.NewInt(0),
		},
		provers:     serverProofs,
		proversPool: proversPool,
		consts:      *consts,
		vars:        *initVars,
		verifierIdx: uint8(verifierIdx),

		cfg: cfg,

		historyDB:    historyDB,
		l2DB:         l2DB,
		queue:        queue,
		exodus:       exodusCtl,
		txSelector:   txSelector,
		batchBuilder: batchBuilder,

		purger: &purger,

		msgCh:  make(chan interface{}, queueLen),
		ctx:    ctx,
		cancel: cancel,
	}
	txManager, err := NewTxManager(
		&cfg,
		ethClient,
		l2DB,
		&c,
		consts,
		initVars,
		etherscanService,
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	c.txManager = txManager
	// Set Eth LastBlockNum to -1 in stats so that stats.Synced() is
	// guaranteed to return false before it's updated with a real stats
	c.stats.Eth.LastBlock.Num = -1
	return &c, nil
}

// TxSelector returns the inner TxSelector
func (c *Coordinator) TxSelector() *txselector.TxSelector {
	return c.txSelector
}

// BatchBuilder returns the inner BatchBuilder
func (c *Coordinator) BatchBuilder() *batchbuilder.BatchBuilder {
	return c.batchBuilder
}

// SendMsg is a thread safe method to pass a message to the Coordinator
func (c *Coordinator) SendMsg(ctx context.Context, msg interface{}) {
	select {
	case c.msgCh <- msg:
	case <-ctx.Done():
	}
}

// stopPipeline stops the pipeline and discards the batches from fromBatchNum
// on: their pool txs go back to pending and their priority requests go back
// to the head of the queue
func (c *Coordinator) stopPipeline(ctx context.Context, fromBatchNum common.BatchNum,
	reason string) error {
	if fromBatchNum == 0 {
		fromBatchNum = c.stats.Sync.LastVerifiedBatch + 1
	}
	log.Infow("Coordinator: stopping pipeline", "reason", reason, "fromBatch", fromBatchNum)
	if c.pipeline != nil {
		c.pipeline.Stop(fromBatchNum)
		c.pipeline = nil
	}
	c.txManager.DiscardBatches(ctx, fromBatchNum)
	c.mutexL2DBUpdateDelete.Lock()
	defer c.mutexL2DBUpdateDelete.Unlock()
	if err := c.l2DB.Reorg(fromBatchNum - 1); err != nil {
		return common.Wrap(err)
	}
	if n := c.queue.Revert(fromBatchNum - 1); n > 0 {
		log.Infow("Coordinator: priority requests requeued", "count", n)
	}
	return nil
}

// checkExodus stops forging once the rollup is in exodus mode, and activates
// it on L1 when the oldest priority request expired.  It returns true when
// forging must not continue.
func (c *Coordinator) checkExodus(ctx context.Context, stats *synchronizer.Stats) (bool, error) {
	if c.vars.ExodusMode || stats.Sync.ExodusMode {
		if c.pipeline != nil {
			if err := c.stopPipeline(ctx, 0, "exodus mode"); err != nil {
				return true, common.Wrap(err)
			}
		}
		return true, nil
	}
	if c.queue.State() != priorityqueue.StateExodus {
		return false, nil
	}
	if c.pipeline != nil {
		if err := c.stopPipeline(ctx, 0, "priority request expired"); err != nil {
			return true, common.Wrap(err)
		}
	}
	if !c.exodusSent {
		if _, err := c.txManager.ActivateExodusMode(ctx); err != nil {
			return true, common.Wrap(err)
		}
		c.exodusSent = true
	}
	return true, nil
}

// checkSettlementTimeout reverts all the unverified batches when the oldest
// one has been waiting for its verification for more than VerifyTimeout
// blocks.  It returns true when the revert is sent.
func (c *Coordinator) checkSettlementTimeout(ctx context.Context,
	stats *synchronizer.Stats) (bool, error) {
	lastVerified := stats.Sync.LastVerifiedBatch
	if stats.Sync.LastBatch.BatchNum <= lastVerified {
		return false, nil
	}
	oldest, err := c.historyDB.GetBatch(lastVerified + 1)
	if historydb.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, common.Wrap(err)
	}
	waiting := stats.Eth.LastBlock.Num - oldest.EthBlockNum
	if waiting <= c.vars.VerifyTimeout {
		return false, nil
	}
	unverified := stats.Sync.LastBatch.BatchNum - lastVerified
	log.Warnw("Coordinator: settlement timeout, reverting the unverified batches",
		"err", common.ErrSettlementTimeout, "oldestBatch", oldest.BatchNum,
		"commitBlock", oldest.EthBlockNum, "waitingBlocks", waiting,
		"verifyTimeout", c.vars.VerifyTimeout, "unverified", unverified)
	if err := c.stopPipeline(ctx, lastVerified+1, "settlement timeout"); err != nil {
		return false, common.Wrap(err)
	}
	if _, err := c.txManager.RevertBatches(ctx, maxBatchesToRevert); err != nil {
		return false, common.Wrap(err)
	}
	metric.RevertedBatches.Add(float64(unverified))
	c.revertPending = &lastVerified
	c.revertSentBlockNum = stats.Eth.LastBlock.Num
	return true, nil
}

// syncStats checks the rollup state and starts the pipeline when it can
// forge
func (c *Coordinator) syncStats(ctx context.Context, stats *synchronizer.Stats) error {
	if stop, err := c.checkExodus(ctx, stats); err != nil || stop {
		return common.Wrap(err)
	}
	if c.revertPending != nil {
		if stats.Sync.LastBatch.BatchNum > *c.revertPending {
			// Wait for the revert to be synced before forging again,
			// unless it never got mined
			if stats.Eth.LastBlock.Num-c.revertSentBlockNum <= c.vars.VerifyTimeout {
				log.Debugw("Coordinator: waiting for the revert to be synced",
					"lastBatch", stats.Sync.LastBatch.BatchNum, "lastVerified", *c.revertPending)
				return nil
			}
			log.Warnw("Coordinator: revert not synced, retrying",
				"sentBlock", c.revertSentBlockNum)
		}
		c.revertPending = nil
	}
	if reverted, err := c.checkSettlementTimeout(ctx, stats); err != nil || reverted {
		return common.Wrap(err)
	}

	if c.pipeline == nil {
		batchNum := stats.Sync.LastBatch.BatchNum
		log.Infow("Coordinator: forging state begin", "block",
			stats.Eth.LastBlock.Num+1, "batch", batchNum)
		c.pipelineFromBatch = fromBatch{
			BatchNum:   batchNum,
			ForgerAddr: stats.Sync.LastBatch.ForgerAddr,
			StateRoot:  stats.Sync.LastBatch.StateRoot,
		}
		c.pipeline = c.newPipeline()
		if err := c.pipeline.Start(c.ctx, batchNum, stats, &c.vars); err != nil {
			c.pipeline = nil
			return common.Wrap(err)
		}
	}
	return nil
}

func (c *Coordinator) syncSCVars(vars *common.RollupVariables) {
	if vars != nil {
		c.vars = *vars
	}
}

func (c *Coordinator) handleMsgSyncBlock(ctx context.Context, msg *MsgSyncBlock) error {
	c.stats = msg.Stats
	c.syncSCVars(msg.Vars)
	c.txManager.SetSyncStatsVars(ctx, &msg.Stats, msg.Vars)
	if c.pipeline != nil {
		c.pipeline.SetSyncStatsVars(ctx, &msg.Stats, msg.Vars)
	}
	if !c.stats.Synced() {
		return nil
	}
	// A revert that was not sent by this coordinator discards the
	// batches of the running pipeline
	if len(msg.RevertedBatches) > 0 && c.revertPending == nil && c.pipeline != nil {
		if err := c.stopPipeline(ctx, c.stats.Sync.LastBatch.BatchNum+1,
			"unverified batches reverted on L1"); err != nil {
			return common.Wrap(err)
		}
	}
	return c.syncStats(ctx, &c.stats)
}

func (c *Coordinator) handleReorg(ctx context.Context, msg *MsgSyncReorg) error {
	c.stats = msg.Stats
	c.syncSCVars(msg.Vars)
	c.txManager.SetSyncStatsVars(ctx, &msg.Stats, msg.Vars)
	if c.pipeline != nil {
		c.pipeline.SetSyncStatsVars(ctx, &msg.Stats, msg.Vars)
	}
	if c.pipeline != nil && c.pipelineFromBatch.BatchNum > c.stats.Sync.LastBatch.BatchNum {
		if err := c.stopPipeline(ctx, c.stats.Sync.LastBatch.BatchNum+1,
			"reorg"); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

func (c *Coordinator) handleMsg(ctx context.Context, msg interface{}) error {
	switch msg := msg.(type) {
	case MsgSyncBlock:
		if err := c.handleMsgSyncBlock(ctx, &msg); err != nil {
			return common.Wrap(fmt.Errorf("Coordinator.handleMsgSyncBlock error: %w", err))
		}
	case MsgSyncReorg:
		if err := c.handleReorg(ctx, &msg); err != nil {
			return common.Wrap(fmt.Errorf("Coordinator.handleReorg error: %w", err))
		}
	case MsgStopPipeline:
		log.Infow("Coordinator received MsgStopPipeline", "reason", msg.Reason)
		if err := c.stopPipeline(ctx, msg.FailedBatchNum, msg.Reason); err != nil {
			return common.Wrap(fmt.Errorf("Coordinator.stopPipeline: %w", err))
		}
	default:
		log.Fatalw("Coordinator Unexpected Coordinator msg of type %T: %+v", msg, msg)
	}
	return nil
}

// Start the coordinator
func (c *Coordinator) Start() {
	if c.started {
		log.Fatal("Coordinator already started")
	}
	c.started = true
	c.wg.Add(1)
	go func() {
		c.txManager.Run(c.ctx)
		c.wg.Done()
	}()

	c.wg.Add(1)
	go func() {
		timer := time.NewTimer(longWaitDuration)
		for {
			select {
			case <-c.ctx.Done():
				log.Info("Coordinator done")
				c.wg.Done()
				return
			case msg := <-c.msgCh:
				if err := c.handleMsg(c.ctx, msg); c.ctx.Err() != nil {
					continue
				} else if err != nil {
					log.Errorw("Coordinator.handleMsg", "err", err)
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(c.cfg.SyncRetryInterval)
					continue
				}
			case <-timer.C:
				timer.Reset(longWaitDuration)
				if !c.stats.Synced() {
					continue
				}
				if err := c.syncStats(c.ctx, &c.stats); c.ctx.Err() != nil {
					continue
				} else if err != nil {
					log.Errorw("Coordinator.syncStats", "err", err)
					timer.Reset(c.cfg.SyncRetryInterval)
					continue
				}
			}
		}
	}()
}

const stopCtxTimeout = 200 * time.Millisecond

// Stop the coordinator
func (c *Coordinator) Stop() {
	if !c.started {
		log.Fatal("Coordinator already stopped")
	}
	c.started = false
	log.Infow("Stopping Coordinator...")
	c.cancel()
	c.wg.Wait()
	if c.pipeline != nil {
		c.pipeline.Stop(0)
		c.pipeline = nil
	}
	c.proofWg.Wait()
}
