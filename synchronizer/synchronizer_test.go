package synchronizer

import (
	"context"
	"math/big"
	"os"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/batchbuilder"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/eth"
	"tokamak-zkrollup/exodus"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/test"
	"tokamak-zkrollup/txprocessor"
)

var deleteme []string

func init() {
	log.Init("debug", []string{"stdout"})
}

func TestMain(m *testing.M) {
	exitVal := m.Run()
	for _, dir := range deleteme {
		if err := os.RemoveAll(dir); err != nil {
			panic(err)
		}
	}
	os.Exit(exitVal)
}

func tempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	return dir
}

type timer struct {
	time int64
}

func (t *timer) Time() int64 {
	currentTime := t.time
	t.time++
	return currentTime
}

var (
	coordAddr = ethCommon.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	userAddr  = ethCommon.HexToAddress("0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF")
)

type testSetup struct {
	client    *test.Client
	historyDB *historydb.HistoryDB
	stateDB   *statedb.StateDB
	queue     *priorityqueue.Queue
	exodusCtl *exodus.Controller
	sync      *Synchronizer
}

func newTestSetup(t *testing.T) *testSetup {
	db, err := database.InitTestSQLDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	test.WipeDB(db)
	historyDB := historydb.NewHistoryDB(db, db, nil)

	stateDB, err := statedb.NewStateDB(statedb.Config{Path: tempDir(t), Keep: 128,
		Type: statedb.TypeSynchronizer, NLevels: statedb.MaxNLevels})
	require.NoError(t, err)
	t.Cleanup(stateDB.Close)

	exodusCtl, err := exodus.NewController(tempDir(t), stateDB, historyDB)
	require.NoError(t, err)
	t.Cleanup(exodusCtl.Close)

	queue := priorityqueue.NewQueue(0)
	addr := coordAddr
	client := test.NewClient(true, &timer{}, &addr, test.NewClientSetupExample())

	s, err := NewSynchronizer(client, historyDB, stateDB, queue, exodusCtl, Config{
		StatsUpdateBlockNumDiffThreshold: 100,
		StatsUpdateFrequencyDivider:      100,
		InitialCoordinator:               &common.Coordinator{Forger: coordAddr, FeeAccount: 0},
	})
	require.NoError(t, err)
	return &testSetup{
		client:    client,
		historyDB: historyDB,
		stateDB:   stateDB,
		queue:     queue,
		exodusCtl: exodusCtl,
		sync:      s,
	}
}

// mineAndSync mines the pending block and syncs it
func (ts *testSetup) mineAndSync(t *testing.T) *common.BlockData {
	ts.client.CtlMineBlock()
	blockData, discarded, err := ts.sync.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, discarded)
	require.NotNil(t, blockData)
	return blockData
}

// forge builds the next batch over the synchronizer state with the pending
// priority requests and commits it to the test client
func (ts *testSetup) forge(t *testing.T) *common.Batch {
	lastBatch := ts.stateDB.CurrentBatch()
	bb, err := batchbuilder.NewBatchBuilder(tempDir(t), ts.stateDB, lastBatch, statedb.MaxNLevels, nil)
	require.NoError(t, err)
	defer bb.LocalStateDB().Close()

	out, err := bb.BuildBatch(&batchbuilder.ConfigBatch{
		TxProcessorConfig: txprocessor.Config{MaxChunks: 32, ChainID: 5},
		FeeAccount:        0,
		ForgerAddr:        coordAddr,
		Timestamp:         1700000000 + uint64(lastBatch),
	}, ts.queue.Pending(), nil)
	require.NoError(t, err)
	require.NoError(t, ts.queue.MarkIncluded(out.Batch.BatchNum, out.ProcessTxOutput.PriorityRequests))

	args := eth.NewRollupCommitBatchArgs(out.Batch, 0)
	_, err = ts.client.RollupCommitBatch(args, nil)
	require.NoError(t, err)
	return out.Batch
}

func TestSyncGenesis(t *testing.T) {
	ts := newTestSetup(t)

	blockData, discarded, err := ts.sync.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, discarded)
	require.NotNil(t, blockData)
	assert.Equal(t, int64(1), blockData.Block.Num)

	// nothing else has been mined
	blockData, discarded, err = ts.sync.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, discarded)
	assert.Nil(t, blockData)

	stats := ts.sync.Stats()
	assert.True(t, stats.Synced())
	assert.Equal(t, int64(1), stats.Sync.LastBlock.Num)

	vars, err := ts.historyDB.GetSCVars()
	require.NoError(t, err)
	assert.Equal(t, int64(40), vars.PriorityExpirationBlocks)
	assert.False(t, vars.ExodusMode)
	coords, err := ts.historyDB.GetCoordinators()
	require.NoError(t, err)
	require.Equal(t, 1, len(coords))
	assert.Equal(t, coordAddr, coords[0].Forger)
	assert.Equal(t, uint64(5), ts.sync.RollupConstants().ChainID)
}

func TestSyncLifecycle(t *testing.T) {
	ts := newTestSetup(t)
	_, _, err := ts.sync.Sync(context.Background(), nil)
	require.NoError(t, err)

	// A deposit creates a pending priority request
	_, err = ts.client.RollupDepositETH(userAddr, big.NewInt(1000))
	require.NoError(t, err)
	blockData := ts.mineAndSync(t)
	require.Equal(t, 1, len(blockData.Rollup.PriorityRequests))
	unprocessed, err := ts.historyDB.GetUnprocessedPriorityRequests()
	require.NoError(t, err)
	require.Equal(t, 1, len(unprocessed))
	depositOp, err := unprocessed[0].Op()
	require.NoError(t, err)
	require.IsType(t, &common.DepositOp{}, depositOp)
	assert.Equal(t, userAddr, depositOp.(*common.DepositOp).Priority.To)
	require.Equal(t, 1, len(ts.queue.Pending()))
	assert.Equal(t, priorityqueue.StatePending, ts.queue.State())

	// Batch 1 consumes the deposit
	batch1 := ts.forge(t)
	blockData = ts.mineAndSync(t)
	require.Equal(t, 1, len(blockData.Rollup.Batches))
	synced := blockData.Rollup.Batches[0]
	assert.Equal(t, common.BatchNum(1), synced.Batch.BatchNum)
	assert.Equal(t, batch1.StateRoot.String(), synced.Batch.StateRoot.String())
	assert.Equal(t, batch1.Commitment, synced.Batch.Commitment)
	assert.Equal(t, coordAddr, synced.Batch.ForgerAddr)
	assert.Equal(t, []uint64{0}, synced.PriorityRequests)
	require.Equal(t, 1, len(synced.CreatedAccounts))
	assert.Equal(t, userAddr, synced.CreatedAccounts[0].Address)
	assert.Equal(t, common.BatchNum(1), ts.stateDB.CurrentBatch())

	dbBatch, err := ts.historyDB.GetBatch(1)
	require.NoError(t, err)
	assert.Equal(t, common.BatchStatusCommitted, dbBatch.Status)
	unprocessed, err = ts.historyDB.GetUnprocessedPriorityRequests()
	require.NoError(t, err)
	assert.Equal(t, 0, len(unprocessed))
	assert.Equal(t, 1, len(ts.queue.Included(1)))
	assert.Equal(t, 0, len(ts.queue.Pending()))

	acc, err := ts.stateDB.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, "1000", acc.Balance(0).String())

	// Verification finalizes the batch
	_, err = ts.client.RollupVerifyBatch(&eth.RollupVerifyBatchArgs{BatchNum: 1}, nil)
	require.NoError(t, err)
	blockData = ts.mineAndSync(t)
	require.Equal(t, 1, len(blockData.Rollup.VerifiedBatches))
	dbBatch, err = ts.historyDB.GetBatch(1)
	require.NoError(t, err)
	assert.Equal(t, common.BatchStatusVerified, dbBatch.Status)
	assert.Equal(t, 0, len(ts.queue.Included(1)))
	assert.Equal(t, common.BatchNum(1), ts.sync.Stats().Sync.LastVerifiedBatch)

	// Batch 2 is committed and reverted
	_, err = ts.client.RollupDepositETH(userAddr, big.NewInt(500))
	require.NoError(t, err)
	ts.mineAndSync(t)
	ts.forge(t)
	blockData = ts.mineAndSync(t)
	require.Equal(t, 1, len(blockData.Rollup.Batches))
	assert.Equal(t, common.BatchNum(2), ts.stateDB.CurrentBatch())
	assert.Equal(t, common.BatchNum(2), ts.sync.Stats().Sync.LastBatch.BatchNum)

	_, err = ts.client.RollupRevertBatches(10)
	require.NoError(t, err)
	blockData = ts.mineAndSync(t)
	require.Equal(t, 1, len(blockData.Rollup.RevertedBatches))
	assert.Equal(t, common.BatchNum(2), blockData.Rollup.RevertedBatches[0].BatchNum)
	assert.Equal(t, common.BatchNum(1), ts.stateDB.CurrentBatch())
	assert.Equal(t, common.BatchNum(1), ts.sync.Stats().Sync.LastBatch.BatchNum)
	_, err = ts.historyDB.GetBatch(2)
	assert.True(t, historydb.IsNotFound(err))
	unprocessed, err = ts.historyDB.GetUnprocessedPriorityRequests()
	require.NoError(t, err)
	require.Equal(t, 1, len(unprocessed))
	assert.Equal(t, uint64(1), unprocessed[0].SerialID)
	pending := ts.queue.Pending()
	require.Equal(t, 1, len(pending))
	assert.Equal(t, uint64(1), pending[0].SerialID)
	acc, err = ts.stateDB.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, "1000", acc.Balance(0).String())

	// The pending request expires and exodus mode is activated
	vars := ts.sync.SCVars()
	for i := int64(0); i <= vars.PriorityExpirationBlocks; i++ {
		ts.mineAndSync(t)
	}
	assert.Equal(t, priorityqueue.StateExodus, ts.queue.State())
	_, err = ts.client.RollupActivateExodusMode()
	require.NoError(t, err)
	blockData = ts.mineAndSync(t)
	assert.True(t, blockData.Rollup.ExodusMode)
	assert.True(t, ts.sync.SCVars().ExodusMode)
	assert.True(t, ts.sync.Stats().Sync.ExodusMode)
	assert.True(t, ts.exodusCtl.IsActive())
	assert.Equal(t, common.BatchNum(1), ts.exodusCtl.Status().LastVerified)
	dbVars, err := ts.historyDB.GetSCVars()
	require.NoError(t, err)
	assert.True(t, dbVars.ExodusMode)

	// The verified balance exits through L1
	p, err := ts.exodusCtl.ExitProof(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "1000", p.Amount.String())
	assert.Equal(t, userAddr, p.Owner)
	accountSiblings, balanceSiblings := p.Siblings()
	_, err = ts.client.RollupPerformExodus(&eth.RollupPerformExodusArgs{
		StateRoot:       p.StateRoot,
		AccountID:       p.AccountID,
		TokenID:         p.TokenID,
		Owner:           p.Owner,
		Nonce:           p.Nonce,
		PubKeyHash:      p.PubKeyHash,
		Amount:          p.Amount,
		BalanceRoot:     p.BalanceRoot,
		AccountSiblings: accountSiblings,
		BalanceSiblings: balanceSiblings,
	})
	require.NoError(t, err)
	blockData = ts.mineAndSync(t)
	require.Equal(t, 1, len(blockData.Rollup.ExodusExits))
	exits, err := ts.historyDB.GetExodusExits()
	require.NoError(t, err)
	require.Equal(t, 1, len(exits))
	assert.Equal(t, userAddr, exits[0].Owner)
	assert.Equal(t, "1000", exits[0].Amount.String())
	assert.True(t, ts.exodusCtl.IsExited(0, 0))

	// A restarted synchronizer rebuilds the queue from the HistoryDB
	queue := priorityqueue.NewQueue(0)
	_, err = NewSynchronizer(ts.client, ts.historyDB, ts.stateDB, queue, nil, Config{
		StatsUpdateBlockNumDiffThreshold: 100,
		StatsUpdateFrequencyDivider:      100,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), queue.NextSerialID())
	assert.Equal(t, priorityqueue.StateExodus, queue.State())
	require.Equal(t, 1, len(queue.Pending()))
}

func TestSyncReorg(t *testing.T) {
	ts := newTestSetup(t)
	_, _, err := ts.sync.Sync(context.Background(), nil)
	require.NoError(t, err)

	_, err = ts.client.RollupDepositETH(userAddr, big.NewInt(1000))
	require.NoError(t, err)
	ts.mineAndSync(t)
	require.Equal(t, 1, len(ts.queue.Pending()))

	// The block with the deposit is replaced by an empty one
	ts.client.CtlRollback()
	ts.client.CtlMineBlock()
	ts.client.CtlMineBlock()

	blockData, discarded, err := ts.sync.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, blockData)
	require.NotNil(t, discarded)
	assert.Equal(t, int64(1), *discarded)

	lastBlock, err := ts.historyDB.GetLastBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), lastBlock.Num)
	unprocessed, err := ts.historyDB.GetUnprocessedPriorityRequests()
	require.NoError(t, err)
	assert.Equal(t, 0, len(unprocessed))
	assert.Equal(t, 0, len(ts.queue.Pending()))
	assert.Equal(t, uint64(0), ts.queue.NextSerialID())

	// The new chain syncs
	for i := 0; i < 2; i++ {
		blockData, discarded, err = ts.sync.Sync(context.Background(), nil)
		require.NoError(t, err)
		require.Nil(t, discarded)
		require.NotNil(t, blockData)
		assert.Equal(t, 0, len(blockData.Rollup.PriorityRequests))
	}
}

func TestSyncDivergedState(t *testing.T) {
	ts := newTestSetup(t)
	_, _, err := ts.sync.Sync(context.Background(), nil)
	require.NoError(t, err)
	_, err = ts.client.RollupDepositETH(userAddr, big.NewInt(1000))
	require.NoError(t, err)
	ts.mineAndSync(t)

	bb, err := batchbuilder.NewBatchBuilder(tempDir(t), ts.stateDB, 0, statedb.MaxNLevels, nil)
	require.NoError(t, err)
	defer bb.LocalStateDB().Close()
	out, err := bb.BuildBatch(&batchbuilder.ConfigBatch{
		TxProcessorConfig: txprocessor.Config{MaxChunks: 32, ChainID: 5},
		ForgerAddr:        coordAddr,
		Timestamp:         1700000000,
	}, ts.queue.Pending(), nil)
	require.NoError(t, err)
	args := eth.NewRollupCommitBatchArgs(out.Batch, 0)
	args.NewStateRoot = big.NewInt(12345)
	_, err = ts.client.RollupCommitBatch(args, nil)
	require.NoError(t, err)
	ts.client.CtlMineBlock()

	_, _, err = ts.sync.Sync(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, common.Unwrap(err), ErrStateDiverged)
	// the failed block is not stored and the state is back to batch 0
	assert.Equal(t, common.BatchNum(0), ts.stateDB.CurrentBatch())
	lastBlock, err := ts.historyDB.GetLastBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(2), lastBlock.Num)
}
