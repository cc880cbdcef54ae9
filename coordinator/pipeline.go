package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tokamak-zkrollup/batchbuilder"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/exodus"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/metric"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/synchronizer"
	"tokamak-zkrollup/txselector"
)

type statsVars struct {
	Stats synchronizer.Stats
	Vars  *common.RollupVariables
}

type state struct {
	batchNum common.BatchNum
}

// Pipeline manages the forging of batches with parallel server proofs
type Pipeline struct {
	num         int
	cfg         Config
	verifierIdx uint8

	// state
	state         state
	started       bool
	rw            sync.RWMutex
	errAtBatchNum common.BatchNum
	lastForgeTime time.Time

	proversPool           *ProversPool
	coord                 *Coordinator
	txManager             *TxManager
	historyDB             *historydb.HistoryDB
	l2DB                  *l2db.L2DB
	queue                 *priorityqueue.Queue
	exodus                *exodus.Controller
	txSelector            *txselector.TxSelector
	batchBuilder          *batchbuilder.BatchBuilder
	mutexL2DBUpdateDelete *sync.Mutex
	purger                *Purger

	stats       synchronizer.Stats
	vars        common.RollupVariables
	statsVarsCh chan statsVars

	// proving holds the cancel functions of the in flight proofs
	proving   map[common.BatchNum]context.CancelFunc
	provingMu sync.Mutex
	proofWg   *sync.WaitGroup

	ctx    context.Context
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// newPipeline creates the next Pipeline of the Coordinator
func (c *Coordinator) newPipeline() *Pipeline {
	c.pipelineNum++
	return &Pipeline{
		num:                   c.pipelineNum,
		cfg:                   c.cfg,
		verifierIdx:           c.verifierIdx,
		proversPool:           c.proversPool,
		coord:                 c,
		txManager:             c.txManager,
		historyDB:             c.historyDB,
		l2DB:                  c.l2DB,
		queue:                 c.queue,
		exodus:                c.exodus,
		txSelector:            c.txSelector,
		batchBuilder:          c.batchBuilder,
		mutexL2DBUpdateDelete: &c.mutexL2DBUpdateDelete,
		purger:                c.purger,
		statsVarsCh:           make(chan statsVars, queueLen),
		proving:               make(map[common.BatchNum]context.CancelFunc),
		proofWg:               &c.proofWg,
	}
}

// SetSyncStatsVars is a thread safe method to sets the synchronizer Stats
func (p *Pipeline) SetSyncStatsVars(ctx context.Context, stats *synchronizer.Stats,
	vars *common.RollupVariables) {
	select {
	case p.statsVarsCh <- statsVars{Stats: *stats, Vars: vars}:
	case <-ctx.Done():
	}
}

// reset pipeline state
func (p *Pipeline) reset(
	batchNum common.BatchNum,
	stats *synchronizer.Stats,
	vars *common.RollupVariables,
) error {
	p.state = state{
		batchNum: batchNum,
	}
	p.stats = *stats
	p.vars = *vars

	// Reset the StateDB in TxSelector and BatchBuilder from the
	// synchronizer only if the checkpoint we reset from either:
	// a. Doesn't exist in the TxSelector/BatchBuilder
	// b. The batch has already been synced by the synchronizer and has a
	//    different StateRoot than the BatchBuilder
	// Otherwise, reset from the local checkpoint.

	// First attempt to reset from local checkpoint if such checkpoint exists
	existsTxSelector, err := p.txSelector.LocalAccountsDB().CheckpointExists(p.state.batchNum)
	if err != nil {
		return common.Wrap(err)
	}
	fromSynchronizerTxSelector := !existsTxSelector
	if err := p.txSelector.Reset(p.state.batchNum, fromSynchronizerTxSelector); err != nil {
		return common.Wrap(err)
	}
	existsBatchBuilder, err := p.batchBuilder.LocalStateDB().CheckpointExists(p.state.batchNum)
	if err != nil {
		return common.Wrap(err)
	}
	fromSynchronizerBatchBuilder := !existsBatchBuilder
	if err := p.batchBuilder.Reset(p.state.batchNum, fromSynchronizerBatchBuilder); err != nil {
		return common.Wrap(err)
	}

	// After reset, check that if the batch exists in the historyDB, the
	// stateRoot matches with the local one, if not, force a reset from
	// synchronizer
	if p.state.batchNum == 0 {
		return nil
	}
	batch, err := p.historyDB.GetBatch(p.state.batchNum)
	if historydb.IsNotFound(err) {
		// nothing to do
		return nil
	} else if err != nil {
		return common.Wrap(err)
	}
	localStateRoot, err := p.batchBuilder.StateRoot()
	if err != nil {
		return common.Wrap(err)
	}
	if batch.StateRoot.Cmp(localStateRoot) != 0 {
		log.Debugw("local state root didn't match the historydb state root, "+
			"forcing reset from Synchronizer",
			"batch", p.state.batchNum, "local", localStateRoot, "historydb", batch.StateRoot)
		if err := p.txSelector.Reset(p.state.batchNum, true); err != nil {
			return common.Wrap(err)
		}
		if err := p.batchBuilder.Reset(p.state.batchNum, true); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

func (p *Pipeline) syncStatsVars(s *statsVars) {
	p.stats = s.Stats
	if s.Vars != nil {
		p.vars = *s.Vars
	}
}

func (p *Pipeline) getErrAtBatchNum() common.BatchNum {
	p.rw.RLock()
	defer p.rw.RUnlock()
	return p.errAtBatchNum
}

func (p *Pipeline) setErrAtBatchNum(batchNum common.BatchNum) {
	p.rw.Lock()
	defer p.rw.Unlock()
	p.errAtBatchNum = batchNum
}

// handleForgeBatch waits for an available proof server, calls p.forgeBatch to
// forge the batch and get the zkInputs, and then sends the zkInputs to the
// selected proof server so that the proof computation begins.
func (p *Pipeline) handleForgeBatch(ctx context.Context,
	batchNum common.BatchNum) (batchInfo *BatchInfo, err error) {
	// 1. Wait for an available serverProof (blocking call)
	serverProof, err := p.proversPool.Get(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	} else if err != nil {
		log.Errorw("proversPool.Get", "err", err)
		return nil, common.Wrap(err)
	}
	defer func() {
		// If we encounter any error (notice that this function returns
		// errors to notify that a batch is not forged not only because
		// of unexpected errors but also due to benign causes), add the
		// serverProof back to the pool
		if err != nil {
			p.proversPool.Add(serverProof)
		}
	}()

	// 2. Forge the batch internally (make a selection of txs and prepare
	// all the smart contract arguments)
	var skipReason *string
	p.mutexL2DBUpdateDelete.Lock()
	batchInfo, skipReason, err = p.forgeBatch(batchNum)
	p.mutexL2DBUpdateDelete.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	} else if err != nil {
		log.Errorw("forgeBatch", "err", err)
		return nil, common.Wrap(err)
	} else if skipReason != nil {
		log.Debugw("skipping batch", "batch", batchNum, "reason", *skipReason)
		return nil, common.Wrap(errSkipBatchByPolicy)
	}

	// 3. Send the ZKInputs to the proof server
	batchInfo.ServerProof = serverProof
	batchInfo.ProofStart = time.Now()
	if err := p.sendServerProof(ctx, batchInfo); ctx.Err() != nil {
		return nil, ctx.Err()
	} else if err != nil {
		log.Errorw("sendServerProof", "err", err)
		return nil, common.Wrap(err)
	}
	return batchInfo, nil
}

// sendServerProof sends the circuit inputs to the proof server
func (p *Pipeline) sendServerProof(ctx context.Context, batchInfo *BatchInfo) error {
	p.cfg.debugBatchStore(batchInfo)

	// Call the selected idle server proof with BatchBuilder output
	if err := batchInfo.ServerProof.CalculateProof(ctx, batchInfo.ZKInputs); err != nil {
		return common.Wrap(err)
	}
	return nil
}

// skip returns a skip reason
func skip(format string, args ...interface{}) *string {
	reason := fmt.Sprintf(format, args...)
	return &reason
}

// forgeBatch forges the batchNum batch.
func (p *Pipeline) forgeBatch(batchNum common.BatchNum) (batchInfo *BatchInfo,
	skipReason *string, err error) {
	if p.exodus != nil {
		if err := p.exodus.CheckCommit(); err != nil {
			return nil, skip("exodus mode is active"), nil
		}
	}
	if p.queue.State() == priorityqueue.StateExodus || p.vars.ExodusMode {
		return nil, skip("priority queue in exodus mode"), nil
	}
	// The number of committed and unverified batches is bounded by the
	// pipeline depth
	unverified := int64(batchNum) - 1 - int64(p.stats.Sync.LastVerifiedBatch)
	if unverified >= int64(p.cfg.PipelineDepth) {
		return nil, skip("pipeline depth %v reached with %v unverified batches",
			p.cfg.PipelineDepth, unverified), nil
	}

	// remove transactions from the pool that have been there for too long
	_, err = p.purger.InvalidateMaybe(p.l2DB, p.txSelector.LocalAccountsDB(),
		p.stats.Sync.LastBlock.Num, batchNum)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	_, err = p.purger.PurgeMaybe(p.l2DB, p.stats.Sync.LastBlock.Num, batchNum)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}

	now := time.Now()
	if now.Sub(p.lastForgeTime) < p.cfg.ForgeDelay {
		return nil, skip("forge delay"), nil
	}

	// 1. Select the priority requests and the pool txs.  The local
	// AccountsDB of the TxSelector advances one batch.
	timestamp := uint64(now.Unix())
	selection, err := p.txSelector.GetTxSelection(p.cfg.TxProcessorConfig, p.cfg.FeeAccount,
		timestamp)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	// 2. Invalidate the pool txs whose preconditions failed
	if err := p.l2DB.InvalidateTxs(selection.Rejected, batchNum); err != nil {
		return nil, nil, common.Wrap(err)
	}
	if len(selection.PriorityRequests) == 0 && len(selection.Txs) == 0 &&
		now.Sub(p.lastForgeTime) < p.cfg.ForgeNoTxsDelay {
		if err := p.txSelector.Reset(batchNum-1, false); err != nil {
			return nil, nil, common.Wrap(err)
		}
		return nil, skip("no txs to forge and ForgeNoTxsDelay not reached"), nil
	}

	// 3. Mark the selected pool txs as forging
	if err := p.l2DB.StartForging(poolTxHashes(selection.Txs), batchNum); err != nil {
		return nil, nil, common.Wrap(err)
	}

	// 4. Build the batch: pubdata, roots and commitment
	out, err := p.batchBuilder.BuildBatch(&batchbuilder.ConfigBatch{
		TxProcessorConfig: p.cfg.TxProcessorConfig,
		FeeAccount:        p.cfg.FeeAccount,
		ForgerAddr:        p.cfg.ForgerAddress,
		Timestamp:         timestamp,
	}, selection.PriorityRequests, selection.SignedTxs())
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	if out.Batch.BatchNum != batchNum {
		return nil, nil, common.Wrap(fmt.Errorf(
			"BatchBuilder built batch %v, expected %v", out.Batch.BatchNum, batchNum))
	}
	batchInfo = newBatchInfo(p.num, p.verifierIdx, out)
	batchInfo.Txs = selection.Txs
	batchInfo.Rejected = selection.Rejected
	batchInfo.Debug.StartBlockNum = p.stats.Eth.LastBlock.Num + 1

	// 5. Move the consumed priority requests out of the pending list
	if err := p.queue.MarkIncluded(batchNum, batchInfo.PriorityRequests); err != nil {
		return nil, nil, common.Wrap(err)
	}
	metric.ForgedBatches.Inc()
	log.Infow("Pipeline: batch forged", "batch", batchNum,
		"priorityRequests", len(batchInfo.PriorityRequests), "txs", len(batchInfo.Txs),
		"root", out.Batch.StateRoot)
	return batchInfo, nil, nil
}

// waitServerProof gets the generated zkProof and passes it to the TxManager
func (p *Pipeline) waitServerProof(ctx context.Context, batchInfo *BatchInfo) (*batchProof, error) {
	defer metric.MeasureDuration(metric.WaitServerProof, batchInfo.ProofStart,
		strconv.Itoa(int(batchInfo.BatchNum)), strconv.Itoa(batchInfo.PipelineNum))

	// blocking call, until not resolved don't continue.  Returns when the
	// proof server has calculated the proof
	proof, pubInputs, err := batchInfo.ServerProof.GetProof(ctx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	log.Infow("Pipeline: batch proof calculated", "batch", batchInfo.BatchNum)
	return &batchProof{
		PipelineNum:  batchInfo.PipelineNum,
		BatchNum:     batchInfo.BatchNum,
		Proof:        proof,
		PublicInputs: pubInputs,
		Delay:        time.Since(batchInfo.ProofStart),
	}, nil
}

// prove waits for the proof of the batch in its own goroutine.  The proof
// outlives the forging loop: a committed batch keeps being proven after the
// pipeline stops unless it's discarded.
func (p *Pipeline) prove(ctx context.Context, batchInfo *BatchInfo) {
	proofCtx, cancel := context.WithCancel(ctx)
	p.provingMu.Lock()
	p.proving[batchInfo.BatchNum] = cancel
	p.provingMu.Unlock()

	p.proofWg.Add(1)
	go func() {
		defer p.proofWg.Done()
		defer func() {
			p.provingMu.Lock()
			delete(p.proving, batchInfo.BatchNum)
			p.provingMu.Unlock()
			cancel()
		}()
		proof, err := p.waitServerProof(proofCtx, batchInfo)
		if proofCtx.Err() != nil {
			cancelCtx, cancelCancel := context.WithTimeout(context.Background(), stopCtxTimeout)
			if err := batchInfo.ServerProof.Cancel(cancelCtx); err != nil {
				log.Warnw("Pipeline: prover cancel", "batch", batchInfo.BatchNum, "err", err)
			}
			cancelCancel()
			p.proversPool.Add(batchInfo.ServerProof)
			return
		}
		// We are done with this serverProof, add it back to the pool
		p.proversPool.Add(batchInfo.ServerProof)
		if err != nil {
			log.Errorw("waitServerProof", "err", err)
			p.setErrAtBatchNum(batchInfo.BatchNum)
			p.coord.SendMsg(ctx, MsgStopPipeline{
				Reason:         fmt.Sprintf("Pipeline.waitServerProof: %v", err),
				FailedBatchNum: batchInfo.BatchNum,
			})
			return
		}
		p.txManager.AddProof(ctx, proof)
	}()
}

// cancelProofs cancels the in flight proofs of the batches from fromBatchNum
// on
func (p *Pipeline) cancelProofs(fromBatchNum common.BatchNum) {
	p.provingMu.Lock()
	defer p.provingMu.Unlock()
	for batchNum, cancel := range p.proving {
		if batchNum >= fromBatchNum {
			cancel()
		}
	}
}

// Start the forging pipeline.  proofCtx bounds the proofs of the forged
// batches, which outlive the forging loop.
func (p *Pipeline) Start(
	proofCtx context.Context,
	batchNum common.BatchNum,
	stats *synchronizer.Stats,
	vars *common.RollupVariables,
) error {
	if p.started {
		log.Fatal("Pipeline already started")
	}
	p.started = true

	if err := p.reset(batchNum, stats, vars); err != nil {
		return common.Wrap(err)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(zeroDuration)
		for {
			select {
			case <-p.ctx.Done():
				log.Info("Pipeline forgeBatch loop done")
				return
			case statsVars := <-p.statsVarsCh:
				p.syncStatsVars(&statsVars)
			case <-timer.C:
				timer.Reset(p.cfg.ForgeRetryInterval)
				// Once errAtBatchNum != 0, we stop forging
				// batches because there's been an error and we
				// wait for the pipeline to be stopped.
				if p.getErrAtBatchNum() != 0 {
					continue
				}
				batchNum = p.state.batchNum + 1
				batchInfo, err := p.handleForgeBatch(p.ctx, batchNum)
				if p.ctx.Err() != nil {
					continue
				} else if common.Unwrap(err) == errSkipBatchByPolicy {
					continue
				} else if err != nil {
					p.setErrAtBatchNum(batchNum)
					p.coord.SendMsg(p.ctx, MsgStopPipeline{
						Reason: fmt.Sprintf(
							"Pipeline.handleForgeBatch: %v", err),
						FailedBatchNum: batchNum,
					})
					continue
				}
				p.lastForgeTime = time.Now()

				p.state.batchNum = batchNum
				p.txManager.AddBatch(p.ctx, batchInfo)
				p.prove(proofCtx, batchInfo)
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(zeroDuration)
			}
		}
	}()
	return nil
}

// Stop the forging pipeline.  The proofs of the batches from fromBatchNum on
// are cancelled.
func (p *Pipeline) Stop(fromBatchNum common.BatchNum) {
	if !p.started {
		log.Fatal("Pipeline already stopped")
	}
	p.started = false
	log.Infow("Stopping Pipeline...", "pipelineNum", p.num)
	p.cancel()
	p.wg.Wait()
	p.cancelProofs(fromBatchNum)
}
