/*
Package synchronizer replays the rollup contract history into the local
databases.

Every L1 block is processed once, in order.  The events of the rollup contract
in the block are applied to the StateDB and stored in the HistoryDB:

  - NewPriorityRequest: stored and added to the priority queue
  - BlockCommit: the commitBatch calldata is decoded and its ops are replayed
    on the StateDB.  The resulting root and the batch commitment must match
    the committed ones, otherwise the local state diverged from L1.
  - BlockVerification: the batch is marked verified and its priority
    requests are finalized
  - BlocksRevert: the unverified batches are dropped, newest first, and
    their priority requests go back to the queue
  - ExodusMode: the exodus controller is activated over the last verified
    state
  - FactAuth, AddToken and ExodusExit: stored

The HistoryDB is written last, so it's the source of consistency: on any
error the StateDB is reset to the last batch of the HistoryDB.
*/
package synchronizer

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"tokamak-zkrollup/batchbuilder"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/eth"
	"tokamak-zkrollup/exodus"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/metric"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/txprocessor"
)

const (
	// errStrUnknownBlock is the string returned by geth when querying an
	// unknown block
	errStrUnknownBlock = "unknown block"
)

var (
	// ErrUnknownBlock is the error returned by the Synchronizer when a
	// block is queried by hash but the ethereum node doesn't find it due
	// to it being discarded from a reorg.
	ErrUnknownBlock = fmt.Errorf("unknown block")
	// ErrStateDiverged is returned when the replay of a committed batch
	// doesn't reach the committed state root
	ErrStateDiverged = fmt.Errorf("local state diverged from the committed one")
)

// Stats of the synchronizer
type Stats struct {
	Eth struct {
		UpdateBlockNumDiffThreshold uint16
		UpdateFrequencyDivider      uint16
		FirstBlockNum               int64
		LastBlock                   common.Block
		LastBatchNum                int64
		LastVerifiedBatchNum        int64
	}
	Sync struct {
		Updated           time.Time
		LastBlock         common.Block
		LastBatch         common.Batch
		LastVerifiedBatch common.BatchNum
		ExodusMode        bool
	}
}

// Synced returns true if the Synchronizer is up to date with the last ethereum block
func (s *Stats) Synced() bool {
	return s.Eth.LastBlock.Num == s.Sync.LastBlock.Num
}

// StatsHolder stores stats and that allows reading and writing them
// concurrently
type StatsHolder struct {
	Stats
	rw sync.RWMutex
}

// NewStatsHolder creates a new StatsHolder
func NewStatsHolder(firstBlockNum int64, updateBlockNumDiffThreshold uint16, updateFrequencyDivider uint16) *StatsHolder {
	stats := Stats{}
	stats.Eth.UpdateBlockNumDiffThreshold = updateBlockNumDiffThreshold
	stats.Eth.UpdateFrequencyDivider = updateFrequencyDivider
	stats.Eth.FirstBlockNum = firstBlockNum
	return &StatsHolder{Stats: stats}
}

// UpdateSync updates the synchronizer stats.  A nil lastBatch keeps the
// previous one.
func (s *StatsHolder) UpdateSync(lastBlock *common.Block, lastBatch *common.Batch,
	lastVerified common.BatchNum, exodusMode bool) {
	now := time.Now()
	s.rw.Lock()
	s.Sync.LastBlock = *lastBlock
	if lastBatch != nil {
		s.Sync.LastBatch = *lastBatch
	}
	s.Sync.LastVerifiedBatch = lastVerified
	s.Sync.ExodusMode = exodusMode
	s.Sync.Updated = now
	s.rw.Unlock()
}

// CopyStats returns a copy of the inner Stats
func (s *StatsHolder) CopyStats() *Stats {
	s.rw.RLock()
	sCopy := s.Stats
	if s.Sync.LastBatch.StateRoot != nil {
		sCopy.Sync.LastBatch.StateRoot =
			common.CopyBigInt(s.Sync.LastBatch.StateRoot)
	}
	if s.Sync.LastBatch.OldStateRoot != nil {
		sCopy.Sync.LastBatch.OldStateRoot =
			common.CopyBigInt(s.Sync.LastBatch.OldStateRoot)
	}
	s.rw.RUnlock()
	return &sCopy
}

// UpdateEth updates the ethereum stats, only if the previous stats expired
func (s *StatsHolder) UpdateEth(ethClient eth.ClientInterface) error {
	lastBlock, err := ethClient.EthBlockByNumber(context.TODO(), -1)
	if err != nil {
		return common.Wrap(fmt.Errorf("EthBlockByNumber: %w", err))
	}
	lastBatchNum, err := ethClient.RollupLastCommittedBatch()
	if err != nil {
		return common.Wrap(fmt.Errorf("RollupLastCommittedBatch: %w", err))
	}
	lastVerifiedBatchNum, err := ethClient.RollupLastVerifiedBatch()
	if err != nil {
		return common.Wrap(fmt.Errorf("RollupLastVerifiedBatch: %w", err))
	}
	s.rw.Lock()
	s.Eth.LastBlock = *lastBlock
	s.Eth.LastBatchNum = lastBatchNum
	s.Eth.LastVerifiedBatchNum = lastVerifiedBatchNum
	s.rw.Unlock()
	return nil
}

func (s *StatsHolder) blocksPerc() float64 {
	syncLastBlockNum := s.Sync.LastBlock.Num
	if s.Sync.LastBlock.Num == 0 {
		syncLastBlockNum = s.Eth.FirstBlockNum - 1
	}
	return float64(syncLastBlockNum-(s.Eth.FirstBlockNum-1)) * 100.0 /
		float64(s.Eth.LastBlock.Num-(s.Eth.FirstBlockNum-1))
}

func (s *StatsHolder) batchesPerc(batchNum common.BatchNum) float64 {
	return float64(batchNum) * 100.0 /
		float64(s.Eth.LastBatchNum)
}

// Config is the Synchronizer configuration
type Config struct {
	StatsUpdateBlockNumDiffThreshold uint16
	StatsUpdateFrequencyDivider      uint16
	// InitialCoordinator is stored in the HistoryDB on the first run.  It
	// can be nil.
	InitialCoordinator *common.Coordinator
}

// Synchronizer implements the Synchronizer type
type Synchronizer struct {
	EthClient        eth.ClientInterface
	consts           common.RollupConstants
	historyDB        *historydb.HistoryDB
	stateDB          *statedb.StateDB
	queue            *priorityqueue.Queue
	exodus           *exodus.Controller
	cfg              Config
	initVars         common.RollupVariables
	startBlockNum    int64
	vars             common.RollupVariables
	stats            *StatsHolder
	resetStateFailed bool
}

// NewSynchronizer creates a new Synchronizer.  The queue and the exodus
// controller are optional: when set, the synchronizer keeps them up to date
// with the L1 events.
func NewSynchronizer(
	ethClient eth.ClientInterface,
	historyDB *historydb.HistoryDB,
	stateDB *statedb.StateDB,
	queue *priorityqueue.Queue,
	exodusCtl *exodus.Controller,
	cfg Config,
) (*Synchronizer, error) {
	consts, err := ethClient.RollupConstants()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("NewSynchronizer ethClient.RollupConstants(): %w",
			err))
	}

	initVars, startBlockNum, err := getInitialVariables(ethClient, consts)
	if err != nil {
		return nil, common.Wrap(err)
	}

	stats := NewStatsHolder(startBlockNum, cfg.StatsUpdateBlockNumDiffThreshold, cfg.StatsUpdateFrequencyDivider)
	s := &Synchronizer{
		EthClient:     ethClient,
		consts:        *consts,
		historyDB:     historyDB,
		stateDB:       stateDB,
		queue:         queue,
		exodus:        exodusCtl,
		cfg:           cfg,
		initVars:      *initVars,
		startBlockNum: startBlockNum,
		stats:         stats,
	}
	return s, s.init()
}

// StateDB returns the inner StateDB
func (s *Synchronizer) StateDB() *statedb.StateDB {
	return s.stateDB
}

// Stats returns a copy of the Synchronizer Stats.  It is safe to call Stats()
// during a Sync call
func (s *Synchronizer) Stats() *Stats {
	return s.stats.CopyStats()
}

// RollupConstants returns the RollupConstants read from the smart contract
func (s *Synchronizer) RollupConstants() *common.RollupConstants {
	return &s.consts
}

// SCVars returns a copy of the Smart Contract Variables
func (s *Synchronizer) SCVars() *common.RollupVariables {
	return s.vars.Copy()
}

func (s *Synchronizer) resetIntermediateState() error {
	lastBlock, err := s.historyDB.GetLastBlock()
	if common.Unwrap(err) == sql.ErrNoRows {
		lastBlock = &common.Block{}
	} else if err != nil {
		return common.Wrap(fmt.Errorf("historyDB.GetLastBlock: %w", err))
	}
	if err := s.resetState(lastBlock); err != nil {
		s.resetStateFailed = true
		return common.Wrap(fmt.Errorf("resetState at block %v: %w", lastBlock.Num, err))
	}
	s.resetStateFailed = false
	return nil
}

// Sync attempts to synchronize an ethereum block starting from lastSavedBlock.
// If lastSavedBlock is nil, the lastSavedBlock value is obtained from de DB.
// If a block is synced, it will be returned and also stored in the DB.  If a
// reorg is detected, the number of discarded blocks will be returned and no
// synchronization will be made.
func (s *Synchronizer) Sync(ctx context.Context,
	lastSavedBlock *common.Block) (blockData *common.BlockData, discarded *int64, err error) {
	if s.resetStateFailed {
		if err := s.resetIntermediateState(); err != nil {
			return nil, nil, common.Wrap(err)
		}
	}

	var nextBlockNum int64 // next block number to sync
	if lastSavedBlock == nil {
		// Get lastSavedBlock from History DB
		lastSavedBlock, err = s.historyDB.GetLastBlock()
		if err != nil && common.Unwrap(err) != sql.ErrNoRows {
			return nil, nil, common.Wrap(err)
		}
		// If we don't have any stored block, we must do a full sync
		// starting from the startBlockNum
		if common.Unwrap(err) == sql.ErrNoRows || lastSavedBlock.Num == 0 {
			nextBlockNum = s.startBlockNum
			lastSavedBlock = nil
		}
	}
	if lastSavedBlock != nil {
		nextBlockNum = lastSavedBlock.Num + 1
		if lastSavedBlock.Num < s.startBlockNum {
			return nil, nil, common.Wrap(
				fmt.Errorf("lastSavedBlock (%v) < startBlockNum (%v)",
					lastSavedBlock.Num, s.startBlockNum))
		}
	}

	ethBlock, err := s.EthClient.EthBlockByNumber(ctx, nextBlockNum)
	if common.Unwrap(err) == ethereum.NotFound {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, common.Wrap(fmt.Errorf("EthBlockByNumber: %w", err))
	}
	log.Debugf("ethBlock: num: %v, parent: %v, hash: %v",
		ethBlock.Num, ethBlock.ParentHash.String(), ethBlock.Hash.String())

	// While having more blocks to sync than UpdateBlockNumDiffThreshold, UpdateEth will be called once in
	// UpdateFrequencyDivider blocks
	if nextBlockNum+int64(s.stats.Eth.UpdateBlockNumDiffThreshold) >= s.stats.Eth.LastBlock.Num ||
		nextBlockNum%int64(s.stats.Eth.UpdateFrequencyDivider) == 0 {
		if err := s.stats.UpdateEth(s.EthClient); err != nil {
			return nil, nil, common.Wrap(err)
		}
	}

	log.Debugw("Syncing...",
		"block", nextBlockNum,
		"ethLastBlock", s.stats.Eth.LastBlock,
	)

	// Check that the obtained ethBlock.ParentHash == prevEthBlock.Hash; if not, reorg!
	if lastSavedBlock != nil {
		if lastSavedBlock.Hash != ethBlock.ParentHash {
			// Reorg detected
			log.Debugw("Reorg Detected",
				"blockNum", ethBlock.Num,
				"block.parent(got)", ethBlock.ParentHash, "parent.hash(exp)", lastSavedBlock.Hash)
			lastDBBlockNum, err := s.reorg(lastSavedBlock)
			if err != nil {
				return nil, nil, common.Wrap(err)
			}
			discarded := lastSavedBlock.Num - lastDBBlockNum
			metric.Reorgs.Inc()
			return nil, &discarded, nil
		}
	}

	defer func() {
		// If there was an error during sync, reset to the last block
		// in the historyDB because the historyDB is written last in
		// the Sync method and is the source of consistency.  This
		// allows resetting the stateDB in the case a batch was
		// processed but the historyDB block was not committed due to an
		// error.
		if err != nil {
			if err2 := s.resetIntermediateState(); err2 != nil {
				log.Errorw("sync revert", "err", err2)
			}
		}
	}()

	// Get data from the rollup contract
	rollupData, err := s.rollupSync(ethBlock)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}

	// Group all the block data into the structs to save into HistoryDB
	blockData = &common.BlockData{
		Block:  *ethBlock,
		Rollup: *rollupData,
	}

	err = s.historyDB.AddBlockSCData(blockData)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}

	lastVerified := s.stats.Sync.LastVerifiedBatch
	for _, verified := range rollupData.VerifiedBatches {
		lastVerified = max(lastVerified, verified.BatchNum)
	}
	var lastBatch *common.Batch
	if len(rollupData.Batches) > 0 || len(rollupData.RevertedBatches) > 0 {
		if lastBatch, err = s.lastBatch(); err != nil {
			return nil, nil, common.Wrap(err)
		}
	}
	s.stats.UpdateSync(ethBlock, lastBatch, lastVerified, s.vars.ExodusMode)
	s.updateQueue(ethBlock, rollupData)
	if s.exodus != nil {
		for _, exit := range rollupData.ExodusExits {
			s.exodus.MarkExited(exit)
		}
	}

	for _, batchData := range rollupData.Batches {
		metric.LastBatchNum.Set(float64(batchData.Batch.BatchNum))
		metric.EthLastBatchNum.Set(float64(s.stats.Eth.LastBatchNum))
		log.Debugw("Synced batch",
			"syncLastBatch", batchData.Batch.BatchNum,
			"syncBatchesPerc", s.stats.batchesPerc(batchData.Batch.BatchNum),
			"ethLastBatch", s.stats.Eth.LastBatchNum,
		)
	}
	metric.LastVerifiedBatchNum.Set(float64(lastVerified))
	metric.LastBlockNum.Set(float64(s.stats.Sync.LastBlock.Num))
	metric.EthLastBlockNum.Set(float64(s.stats.Eth.LastBlock.Num))

	log.Debugw("Synced block",
		"syncLastBlockNum", s.stats.Sync.LastBlock.Num,
		"syncBlocksPerc", s.stats.blocksPerc(),
		"ethLastBlockNum", s.stats.Eth.LastBlock.Num,
	)

	return blockData, nil, nil
}

// updateQueue applies the L1 events of a synced block to the priority queue
func (s *Synchronizer) updateQueue(ethBlock *common.Block, rollupData *common.RollupData) {
	if s.queue == nil {
		return
	}
	next := s.queue.NextSerialID()
	for _, req := range rollupData.PriorityRequests {
		if req.SerialID < next {
			continue
		}
		if err := s.queue.Add(req); err != nil {
			log.Warnw("Synchronizer: priority queue add", "serialID", req.SerialID, "err", err)
		}
	}
	for _, batchData := range rollupData.Batches {
		bn := batchData.Batch.BatchNum
		// the batches forged by this node are already marked
		if len(batchData.PriorityRequests) == 0 || len(s.queue.Included(bn)) > 0 {
			continue
		}
		if err := s.queue.MarkIncluded(bn, batchData.PriorityRequests); err != nil {
			log.Warnw("Synchronizer: priority queue include", "batch", bn, "err", err)
		}
	}
	for _, verified := range rollupData.VerifiedBatches {
		s.queue.Finalize(verified.BatchNum)
	}
	if n := len(rollupData.RevertedBatches); n > 0 {
		// reverted batches are newest first
		s.queue.Revert(rollupData.RevertedBatches[n-1].BatchNum - 1)
	}
	if rollupData.ExodusMode {
		s.queue.SetExodus(ethBlock.Num)
	} else if err := s.queue.CheckExpiration(ethBlock.Num); err != nil {
		exodusBlock, _ := s.queue.ExodusBlock()
		log.Warnw("Synchronizer: priority request expired, exodus mode not yet activated on L1",
			"ethBlockNum", ethBlock.Num, "expiredAt", exodusBlock, "err", err)
	}
}

func (s *Synchronizer) lastBatch() (*common.Batch, error) {
	batch, err := s.historyDB.GetLastBatch()
	if historydb.IsNotFound(err) {
		return &common.Batch{}, nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	return batch, nil
}

// reorg manages a reorg, updating History and State DB as needed.  Keeps
// checking previous blocks from the HistoryDB against the blockchain until a
// block hash match is found.  All future blocks in the HistoryDB and
// corresponding batches in StateBD are discarded.  Returns the last valid
// blockNum from the HistoryDB.
func (s *Synchronizer) reorg(uncleBlock *common.Block) (int64, error) {
	blockNum := uncleBlock.Num

	var block *common.Block
	for blockNum >= s.startBlockNum {
		ethBlock, err := s.EthClient.EthBlockByNumber(context.Background(), blockNum)
		if err != nil {
			return 0, common.Wrap(fmt.Errorf("ethClient.EthBlockByNumber: %w", err))
		}

		block, err = s.historyDB.GetBlock(blockNum)
		if err != nil {
			return 0, common.Wrap(fmt.Errorf("historyDB.GetBlock: %w", err))
		}
		if block.Hash == ethBlock.Hash {
			log.Debugf("Found valid block: %v", blockNum)
			break
		}
		blockNum--
	}
	total := uncleBlock.Num - block.Num
	log.Debugw("Discarding blocks", "total", total, "from", uncleBlock.Num, "to", block.Num+1)

	// Set History DB and State DB to the correct state
	if err := s.historyDB.Reorg(block.Num); err != nil {
		return 0, common.Wrap(err)
	}

	if err := s.resetState(block); err != nil {
		s.resetStateFailed = true
		return 0, common.Wrap(err)
	}
	s.resetStateFailed = false

	return block.Num, nil
}

func getInitialVariables(ethClient eth.ClientInterface,
	consts *common.RollupConstants) (*common.RollupVariables, int64, error) {
	rollupInit, rollupInitBlock, err := ethClient.RollupEventInit(consts.GenesisBlockNum)
	if err != nil {
		return nil, 0, common.Wrap(fmt.Errorf("RollupEventInit: %w", err))
	}
	rollupVars := rollupInit.RollupVariables()
	rollupVars.EthBlockNum = rollupInitBlock
	return rollupVars, rollupInitBlock, nil
}

func (s *Synchronizer) init() error {
	// Update stats parameters so that they have valid values before the
	// first Sync call
	if err := s.stats.UpdateEth(s.EthClient); err != nil {
		return common.Wrap(err)
	}
	lastBlock := &common.Block{}
	lastSavedBlock, err := s.historyDB.GetLastBlock()
	// `s.historyDB.GetLastBlock()` will never return `sql.ErrNoRows`
	// because we always have the default block 0 in the DB
	if err != nil {
		return common.Wrap(err)
	}
	// If we only have the default block 0,
	// make sure that the stateDB is clean
	if lastSavedBlock.Num == 0 {
		if err := s.stateDB.Reset(0); err != nil {
			return common.Wrap(err)
		}
	} else {
		lastBlock = lastSavedBlock
	}

	if err := s.resetState(lastBlock); err != nil {
		s.resetStateFailed = true
		return common.Wrap(err)
	}
	s.resetStateFailed = false

	log.Infow("Sync init block",
		"syncLastBlock", s.stats.Sync.LastBlock,
		"ethFirstBlockNum", s.stats.Eth.FirstBlockNum,
		"ethLastBlock", s.stats.Eth.LastBlock,
	)
	log.Infow("Sync init batch",
		"syncLastBatch", s.stats.Sync.LastBatch.BatchNum,
		"syncLastVerifiedBatch", s.stats.Sync.LastVerifiedBatch,
		"ethLastBatch", s.stats.Eth.LastBatchNum,
	)
	return nil
}

func (s *Synchronizer) resetState(block *common.Block) error {
	rollup, err := s.historyDB.GetSCVars()
	// If SCVars are not in the HistoryDB, this is probably the first run
	// of the Synchronizer: store the initial vars taken from config
	if common.Unwrap(err) == sql.ErrNoRows {
		vars := s.initVars
		log.Info("Setting initial SCVars in HistoryDB")
		if err = s.historyDB.SetInitialSCVars(&vars); err != nil {
			return common.Wrap(fmt.Errorf("historyDB.SetInitialSCVars: %w", err))
		}
		s.vars = *vars.Copy()
		if s.cfg.InitialCoordinator != nil {
			coordinator := *s.cfg.InitialCoordinator
			coordinator.EthBlockNum = 0
			if err := s.historyDB.AddCoordinators([]common.Coordinator{coordinator}); err != nil {
				return common.Wrap(err)
			}
		}
	} else if err != nil {
		return common.Wrap(err)
	} else {
		s.vars = *rollup
	}

	batch, err := s.lastBatch()
	if err != nil {
		return common.Wrap(fmt.Errorf("historyDB.GetLastBatch: %w", err))
	}
	err = s.stateDB.Reset(batch.BatchNum)
	if err != nil {
		return common.Wrap(fmt.Errorf("stateDB.Reset: %w", err))
	}

	lastVerified, err := s.historyDB.GetLastVerifiedBatchNum()
	if err != nil {
		return common.Wrap(fmt.Errorf("historyDB.GetLastVerifiedBatchNum: %w", err))
	}

	if s.queue != nil {
		reqs, err := s.historyDB.GetPriorityRequests()
		if err != nil {
			return common.Wrap(fmt.Errorf("historyDB.GetPriorityRequests: %w", err))
		}
		nextSerial, err := s.historyDB.GetNextPrioritySerialID()
		if err != nil {
			return common.Wrap(fmt.Errorf("historyDB.GetNextPrioritySerialID: %w", err))
		}
		s.queue.Reset(nextSerial, reqs, lastVerified)
		if s.vars.ExodusMode {
			s.queue.SetExodus(s.vars.EthBlockNum)
		}
	}
	if s.exodus != nil && s.vars.ExodusMode {
		if err := s.exodus.Activate(s.vars.EthBlockNum, lastVerified); err != nil {
			return common.Wrap(fmt.Errorf("exodus.Activate: %w", err))
		}
	}

	s.stats.UpdateSync(block, batch, lastVerified, s.vars.ExodusMode)
	return nil
}

// rollupSync retrieves all the Rollup Smart Contract Data that happened at
// ethBlock.blockNum with ethBlock.Hash.
func (s *Synchronizer) rollupSync(ethBlock *common.Block) (*common.RollupData, error) {
	blockNum := ethBlock.Num
	var rollupData = common.NewRollupData()

	// Get rollup events in the block, and make sure the block hash matches
	// the expected one.
	rollupEvents, err := s.EthClient.RollupEventsByBlock(blockNum, &ethBlock.Hash)
	if err != nil && err.Error() == errStrUnknownBlock {
		return nil, common.Wrap(ErrUnknownBlock)
	} else if err != nil {
		return nil, common.Wrap(fmt.Errorf("RollupEventsByBlock: %w", err))
	}
	// No events in this block
	if rollupEvents == nil {
		return &rollupData, nil
	}

	for _, req := range rollupEvents.NewPriorityRequest {
		req.EthBlockNum = blockNum
		req.BatchNum = nil
		rollupData.PriorityRequests = append(rollupData.PriorityRequests, req)
	}

	// The requests not consumed yet, in serial order.  The batches of the
	// block consume them from the head.
	unprocessed, err := s.historyDB.GetUnprocessedPriorityRequests()
	if err != nil {
		return nil, common.Wrap(err)
	}
	unprocessed = append(unprocessed, rollupData.PriorityRequests...)

	for _, evtCommit := range rollupEvents.BlockCommit {
		batchData, consumed, err := s.replayBatch(blockNum, &evtCommit, unprocessed)
		if err != nil {
			return nil, common.Wrap(err)
		}
		unprocessed = unprocessed[consumed:]
		rollupData.Batches = append(rollupData.Batches, *batchData)
	}

	for _, evt := range rollupEvents.BlockVerification {
		rollupData.VerifiedBatches = append(rollupData.VerifiedBatches, common.BatchEvent{
			BatchNum:  evt.BatchNum,
			EthTxHash: evt.EthTxHash,
		})
	}

	for _, evt := range rollupEvents.BlocksRevert {
		last := s.stateDB.CurrentBatch()
		remaining := common.BatchNum(evt.TotalBatchesCommitted)
		if remaining > last {
			return nil, common.Wrap(fmt.Errorf("revert to batch %d, last committed batch is %d",
				remaining, last))
		}
		for bn := last; bn > remaining; bn-- {
			rollupData.RevertedBatches = append(rollupData.RevertedBatches, common.BatchEvent{
				BatchNum:  bn,
				EthTxHash: evt.EthTxHash,
			})
		}
		if err := s.stateDB.Reset(remaining); err != nil {
			return nil, common.Wrap(fmt.Errorf("stateDB.Reset: %w", err))
		}
		log.Infow("Synchronizer: batches reverted", "from", last, "to", remaining+1,
			"ethBlockNum", blockNum)
	}

	if len(rollupEvents.ExodusMode) > 0 {
		rollupData.ExodusMode = true
		vars := s.vars.Copy()
		vars.EthBlockNum = blockNum
		vars.ExodusMode = true
		rollupData.Vars = vars
		s.vars = *vars
		if s.exodus != nil {
			lastVerified := s.stats.Sync.LastVerifiedBatch
			for _, verified := range rollupData.VerifiedBatches {
				lastVerified = max(lastVerified, verified.BatchNum)
			}
			if err := s.exodus.Activate(blockNum, lastVerified); err != nil {
				return nil, common.Wrap(fmt.Errorf("exodus.Activate: %w", err))
			}
		}
	}

	rollupData.FactAuths = append(rollupData.FactAuths, rollupEvents.FactAuth...)

	for _, evt := range rollupEvents.AddToken {
		token := common.Token{
			TokenID:     common.TokenID(evt.TokenID),
			EthBlockNum: blockNum,
			EthAddr:     evt.TokenAddress,
		}
		consts, err := s.EthClient.EthERC20Consts(evt.TokenAddress)
		if err != nil {
			log.Warnw("Error retrieving ERC20 token constants", "addr", evt.TokenAddress)
			token.Name = "ERC20_ETH_ERROR"
			token.Symbol = "ERROR"
			token.Decimals = 1
		} else {
			token.Name = cutStringMax(consts.Name, 20)
			token.Symbol = cutStringMax(consts.Symbol, 10)
			token.Decimals = consts.Decimals
		}
		rollupData.AddedTokens = append(rollupData.AddedTokens, token)
	}

	for _, evt := range rollupEvents.ExodusExit {
		rollupData.ExodusExits = append(rollupData.ExodusExits, common.ExodusExit{
			AccountID:   evt.AccountID,
			TokenID:     evt.TokenID,
			Owner:       evt.Owner,
			Amount:      evt.Amount,
			EthBlockNum: blockNum,
		})
	}

	return &rollupData, nil
}

// replayBatch decodes the commitBatch calldata of a BlockCommit event and
// applies its ops to the StateDB.  It returns the batch data and the number
// of priority requests of unprocessed that the batch consumed.
func (s *Synchronizer) replayBatch(blockNum int64, evt *eth.RollupEventBlockCommit,
	unprocessed []common.PriorityRequest) (*common.BatchData, int, error) {
	args, sender, err := s.EthClient.RollupCommitBatchArgs(evt.EthTxHash)
	if err != nil {
		return nil, 0, common.Wrap(fmt.Errorf("RollupCommitBatchArgs: %w", err))
	}
	if expected := s.stateDB.CurrentBatch() + 1; args.BatchNum != expected {
		return nil, 0, common.Wrap(fmt.Errorf("committed batch %d, expected %d",
			args.BatchNum, expected))
	}
	ops, err := common.DecodeBatchPubData(args.PubData)
	if err != nil {
		return nil, 0, common.Wrap(err)
	}
	consumed, err := restorePriorityOps(ops, unprocessed)
	if err != nil {
		return nil, 0, common.Wrap(fmt.Errorf("batch %d: %w", args.BatchNum, err))
	}

	tp := txprocessor.NewTxProcessor(s.stateDB, txprocessor.Config{ChainID: s.consts.ChainID}, nil)
	ptOut, err := tp.ProcessOps(args.FeeAccount, args.Timestamp, ops)
	if err != nil {
		return nil, 0, common.Wrap(fmt.Errorf("batch %d: %w", args.BatchNum, err))
	}
	if ptOut.NewStateRoot.Cmp(args.NewStateRoot) != 0 {
		return nil, 0, common.Wrap(fmt.Errorf("%w: batch %d root %v, committed %v",
			ErrStateDiverged, args.BatchNum, ptOut.NewStateRoot, args.NewStateRoot))
	}

	rollingHash, err := batchbuilder.RollingHash(args.PubData)
	if err != nil {
		return nil, 0, common.Wrap(err)
	}
	batchData := common.NewBatchData()
	batchData.Batch = common.Batch{
		BatchNum:     args.BatchNum,
		EthTxHash:    evt.EthTxHash,
		EthBlockNum:  blockNum,
		ForgerAddr:   *sender,
		FeeAccount:   args.FeeAccount,
		OldStateRoot: ptOut.OldStateRoot,
		StateRoot:    args.NewStateRoot,
		Timestamp:    args.Timestamp,
		Chunks:       len(args.PubData) / common.ChunkBytes,
		PubData:      args.PubData,
		ChunkMarkers: args.ChunkMarkers,
		RollingHash:  rollingHash,
		Commitment:   args.Commitment,
		NumOps:       len(ptOut.Ops),
		NumAccounts:  len(ptOut.CreatedAccounts),
		GasUsed:      evt.GasUsed,
		GasPrice:     evt.GasPrice,
		Status:       common.BatchStatusCommitted,
	}
	if err := batchbuilder.VerifyCommitment(&batchData.Batch); err != nil {
		return nil, 0, common.Wrap(err)
	}

	for i := range ptOut.Ops {
		op := &ptOut.Ops[i]
		op.BatchNum = args.BatchNum
		if op.SerialID != nil {
			if batchData.Batch.FirstPrioritySerialID == nil {
				first := *op.SerialID
				batchData.Batch.FirstPrioritySerialID = &first
			}
			batchData.Batch.NumPriorityOps++
		}
	}
	batchData.Ops = ptOut.Ops
	batchData.CreatedAccounts = ptOut.CreatedAccounts
	batchData.MintedNFTs = ptOut.MintedNFTs
	batchData.PriorityRequests = ptOut.PriorityRequests
	batchData.UpdatedAccounts = accountUpdates(blockNum, args.BatchNum, ptOut.UpdatedAccounts)
	return batchData, consumed, nil
}

// restorePriorityOps binds the priority ops decoded from a batch pubdata to
// the head of the unprocessed requests, restoring the data that is not part
// of the pubdata.  It returns the number of requests consumed.
func restorePriorityOps(ops []common.Op, unprocessed []common.PriorityRequest) (int, error) {
	n := 0
	for _, op := range ops {
		if !op.Type().IsPriority() {
			continue
		}
		if n >= len(unprocessed) {
			return 0, common.Wrap(fmt.Errorf("%s op with no pending priority request", op.Type()))
		}
		req := &unprocessed[n]
		if req.OpType != op.Type() {
			return 0, common.Wrap(fmt.Errorf("priority request %d is a %s, batch has a %s",
				req.SerialID, req.OpType, op.Type()))
		}
		reqOp, err := req.Op()
		if err != nil {
			return 0, common.Wrap(err)
		}
		switch o := op.(type) {
		case *common.DepositOp:
			d := reqOp.(*common.DepositOp)
			if o.Priority.To != d.Priority.To || o.Priority.Token != d.Priority.Token {
				return 0, common.Wrap(fmt.Errorf("deposit doesn't match priority request %d",
					req.SerialID))
			}
			o.SerialID = req.SerialID
			o.Priority.From = req.Sender
		case *common.FullExitOp:
			fe := reqOp.(*common.FullExitOp)
			if o.Priority.AccountID != fe.Priority.AccountID ||
				o.Priority.Owner != fe.Priority.Owner || o.Priority.Token != fe.Priority.Token {
				return 0, common.Wrap(fmt.Errorf("full exit doesn't match priority request %d",
					req.SerialID))
			}
			o.SerialID = req.SerialID
		}
		n++
	}
	return n, nil
}

// accountUpdates flattens the updated accounts of a batch into one update
// per (account, token), sorted by account and token
func accountUpdates(blockNum int64, batchNum common.BatchNum,
	accounts map[common.AccountID]*common.Account) []common.AccountUpdate {
	ids := make([]common.AccountID, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	updates := make([]common.AccountUpdate, 0, len(ids))
	for _, id := range ids {
		acc := accounts[id]
		tokens := make([]common.TokenID, 0, len(acc.Balances))
		for token := range acc.Balances {
			tokens = append(tokens, token)
		}
		if len(tokens) == 0 {
			tokens = append(tokens, common.ETHTokenID)
		}
		sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
		for _, token := range tokens {
			updates = append(updates, common.AccountUpdate{
				EthBlockNum: blockNum,
				BatchNum:    batchNum,
				AccountID:   id,
				Nonce:       acc.Nonce,
				PubKeyHash:  acc.PubKeyHash,
				TokenID:     token,
				Balance:     acc.Balance(token),
			})
		}
	}
	return updates
}

func cutStringMax(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

