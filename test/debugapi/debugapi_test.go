package debugapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/synchronizer"
	"tokamak-zkrollup/test"
)

type timer struct {
	time int64
}

func (t *timer) Time() int64 {
	currentTime := t.time
	t.time++
	return currentTime
}

func newStateDB(t *testing.T) *statedb.StateDB {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 128,
		Type: statedb.TypeSynchronizer, NLevels: statedb.MaxNLevels})
	require.NoError(t, err)
	t.Cleanup(sdb.Close)
	return sdb
}

func doGet(t *testing.T, handler http.Handler, path string, res interface{}) int {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if res != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), res))
	}
	return w.Code
}

func TestDebugAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := database.InitTestSQLDB()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	test.WipeDB(db)
	historyDB := historydb.NewHistoryDB(db, db, nil)

	sdb := newStateDB(t)
	addr := ethCommon.BigToAddress(big.NewInt(0x1000))
	queue := priorityqueue.NewQueue(0)
	client := test.NewClient(true, &timer{}, &addr, test.NewClientSetupExample())
	sync, err := synchronizer.NewSynchronizer(client, historyDB, sdb, queue, nil,
		synchronizer.Config{
			StatsUpdateBlockNumDiffThreshold: 100,
			StatsUpdateFrequencyDivider:      100,
		})
	require.NoError(t, err)

	// The synchronizer resets the StateDB on init, so the account is
	// created afterwards
	id, err := sdb.AllocateLowestFreeID()
	require.NoError(t, err)
	_, err = sdb.CreateAccount(id, addr)
	require.NoError(t, err)
	require.NoError(t, sdb.SetBalance(id, 1, big.NewInt(42)))
	require.NoError(t, sdb.MakeCheckpoint())

	debugAPI := NewDebugAPI("localhost:0", sdb, sync, queue)
	handler := debugAPI.Handler()

	var account common.Account
	assert.Equal(t, http.StatusOK, doGet(t, handler, fmt.Sprintf("/debug/sdb/accounts/%d", id), &account))
	assert.Equal(t, addr, account.Address)
	assert.Equal(t, "42", account.Balance(1).String())
	assert.Equal(t, http.StatusBadRequest, doGet(t, handler, "/debug/sdb/accounts/x", nil))

	var batchNum common.BatchNum
	assert.Equal(t, http.StatusOK, doGet(t, handler, "/debug/sdb/batchnum", &batchNum))
	assert.Equal(t, common.BatchNum(1), batchNum)

	var stats synchronizer.Stats
	assert.Equal(t, http.StatusOK, doGet(t, handler, "/debug/sync/stats", &stats))
	assert.Equal(t, uint16(100), stats.Eth.UpdateBlockNumDiffThreshold)

	var q queueResponse
	assert.Equal(t, http.StatusOK, doGet(t, handler, "/debug/queue", &q))
	assert.Equal(t, priorityqueue.StateIdle.String(), q.State)
	assert.Equal(t, uint64(0), q.NextSerialID)
	assert.Empty(t, q.Pending)

	assert.Equal(t, http.StatusNotFound, doGet(t, handler, "/debug/nope", nil))

	// Run stops once the context is done
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- debugAPI.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}
