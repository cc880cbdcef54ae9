package l2db

import (
	"math/big"
	"os"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
	"tokamak-zkrollup/database"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/test"
)

var l2DB *L2DB
var l2DBWithACC *L2DB

func TestMain(m *testing.M) {
	// init DB
	db, err := database.InitTestSQLDB()
	if err != nil {
		panic(err)
	}
	l2DB = NewL2DB(db, db, 10, 1000, 24*time.Hour, nil)
	apiConnCon := database.NewAPIConnectionController(1, time.Second)
	l2DBWithACC = NewL2DB(db, db, 10, 3, 24*time.Hour, apiConnCon)
	// Run tests
	result := m.Run()
	// Close DB
	if err := db.Close(); err != nil {
		log.Error("Error closing the history DB:", err)
	}
	os.Exit(result)
}

func testKey(seed byte) babyjub.PrivateKey {
	var sk babyjub.PrivateKey
	for i := range sk {
		sk[i] = seed + byte(i)
	}
	return sk
}

// genTransfers generates n signed transfers from each of the accounts,
// with consecutive nonces starting at 0
func genTransfers(t *testing.T, accounts []common.AccountID, n int) []PoolTx {
	var txs []PoolTx
	for _, id := range accounts {
		sk := testKey(byte(id))
		for nonce := 0; nonce < n; nonce++ {
			tx := &common.Transfer{
				AccountID: id,
				From:      ethCommon.BigToAddress(big.NewInt(int64(0x1000 + id))),
				To:        ethCommon.BigToAddress(big.NewInt(0x2000)),
				Token:     1,
				Amount:    big.NewInt(int64(100 * (nonce + 1))),
				Fee:       big.NewInt(1),
				Nonce:     common.Nonce(nonce),
				TimeRange: common.DefaultTimeRange,
			}
			require.NoError(t, crypto.Sign(&sk, tx))
			poolTx, err := NewPoolTx(tx)
			require.NoError(t, err)
			txs = append(txs, *poolTx)
		}
	}
	return txs
}

func hashes(txs []PoolTx) []ethCommon.Hash {
	res := make([]ethCommon.Hash, len(txs))
	for i := range txs {
		res[i] = txs[i].TxHash
	}
	return res
}

func TestAddTxTest(t *testing.T) {
	test.WipeDB(l2DB.DB())
	txs := genTransfers(t, []common.AccountID{1, 2}, 2)
	for i := range txs {
		require.NoError(t, l2DB.AddTxTest(&txs[i]))
		fetched, err := l2DB.GetTx(txs[i].TxHash)
		require.NoError(t, err)
		assert.Equal(t, txs[i].TxHash, fetched.TxHash)
		assert.Equal(t, PoolTxStatePending, fetched.State)
		assert.Equal(t, txs[i].AccountID, fetched.AccountID)
		assert.Equal(t, txs[i].Nonce, fetched.Nonce)
		assert.Nil(t, fetched.BatchNum)
		// the stored body decodes to the signed tx
		decoded, ok := fetched.Tx.(*common.Transfer)
		require.True(t, ok)
		expected := txs[i].Tx.(*common.Transfer)
		assert.Equal(t, expected.Amount.String(), decoded.Amount.String())
		assert.Equal(t, expected.Signature, decoded.Signature)
		hash, err := crypto.TxHash(decoded)
		require.NoError(t, err)
		assert.Equal(t, txs[i].TxHash, ethCommon.Hash(hash))
	}
	// a tx can't be added twice
	assert.Error(t, l2DB.AddTxTest(&txs[0]))

	pending, err := l2DB.GetPendingTxs()
	require.NoError(t, err)
	require.Equal(t, 4, len(pending))
	for i := range pending {
		assert.Equal(t, txs[i].TxHash, pending[i].TxHash)
	}
	count, err := l2DB.CountPendingTxs()
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestPoolFull(t *testing.T) {
	test.WipeDB(l2DB.DB())
	txs := genTransfers(t, []common.AccountID{1}, 4)
	for i := 0; i < 3; i++ {
		require.NoError(t, l2DBWithACC.AddTxAPI(&txs[i]))
	}
	err := l2DBWithACC.AddTxAPI(&txs[3])
	assert.Equal(t, ErrPoolFull, common.Unwrap(err))

	fetched, err := l2DBWithACC.GetTxAPI(txs[1].TxHash)
	require.NoError(t, err)
	assert.Equal(t, txs[1].Nonce, fetched.Nonce)
}

func TestForgingAndReorg(t *testing.T) {
	test.WipeDB(l2DB.DB())
	txs := genTransfers(t, []common.AccountID{1, 2}, 3)
	for i := range txs {
		require.NoError(t, l2DB.AddTxTest(&txs[i]))
	}
	// batch 5 forges the first tx of each account and rejects one
	forged := []PoolTx{txs[0], txs[3]}
	require.NoError(t, l2DB.StartForging(hashes(forged), 5))
	require.NoError(t, l2DB.InvalidateTxs([]RejectedPoolTx{
		{TxHash: txs[4].TxHash, Info: "insufficient balance"},
	}, 5))

	pending, err := l2DB.GetPendingTxs()
	require.NoError(t, err)
	assert.Equal(t, 3, len(pending))
	byBatch, err := l2DB.GetTxsByBatch(5)
	require.NoError(t, err)
	assert.Equal(t, hashes(forged), hashes(byBatch))
	for _, tx := range byBatch {
		assert.Equal(t, PoolTxStateForging, tx.State)
	}
	rejected, err := l2DB.GetTx(txs[4].TxHash)
	require.NoError(t, err)
	assert.Equal(t, PoolTxStateInvalid, rejected.State)
	require.NotNil(t, rejected.Info)
	assert.Equal(t, "insufficient balance", *rejected.Info)

	require.NoError(t, l2DB.DoneForging(hashes(forged), 5))
	tx, err := l2DB.GetTx(txs[0].TxHash)
	require.NoError(t, err)
	assert.Equal(t, PoolTxStateForged, tx.State)
	require.NotNil(t, tx.BatchNum)
	assert.Equal(t, common.BatchNum(5), *tx.BatchNum)

	// reverting batch 5 makes all the txs pending again
	require.NoError(t, l2DB.Reorg(4))
	pending, err = l2DB.GetPendingTxs()
	require.NoError(t, err)
	assert.Equal(t, len(txs), len(pending))
	for _, tx := range pending {
		assert.Nil(t, tx.BatchNum)
		assert.Nil(t, tx.Info)
	}

	pendingState := PoolTxStatePending
	accTxs, err := l2DBWithACC.GetPoolTxsAPI(2, &pendingState)
	require.NoError(t, err)
	assert.Equal(t, 3, len(accTxs))
}

func TestInvalidateOldNonces(t *testing.T) {
	test.WipeDB(l2DB.DB())
	txs := genTransfers(t, []common.AccountID{1, 2}, 3)
	for i := range txs {
		require.NoError(t, l2DB.AddTxTest(&txs[i]))
	}
	ids, err := l2DB.GetPendingAccountIDs()
	require.NoError(t, err)
	assert.Equal(t, []common.AccountID{1, 2}, ids)
	// account 1 used nonces 0 and 1, account 2 didn't change
	require.NoError(t, l2DB.InvalidateOldNonces([]IDNonce{{AccountID: 1, Nonce: 2}}, 3))
	pending, err := l2DB.GetPendingTxs()
	require.NoError(t, err)
	require.Equal(t, 4, len(pending))
	assert.Equal(t, common.AccountID(1), pending[0].AccountID)
	assert.Equal(t, common.Nonce(2), pending[0].Nonce)
	tx, err := l2DB.GetTx(txs[0].TxHash)
	require.NoError(t, err)
	assert.Equal(t, PoolTxStateInvalid, tx.State)
}

func TestPurge(t *testing.T) {
	test.WipeDB(l2DB.DB())
	txs := genTransfers(t, []common.AccountID{1}, 3)
	for i := range txs {
		require.NoError(t, l2DB.AddTxTest(&txs[i]))
	}
	require.NoError(t, l2DB.StartForging(hashes(txs[:1]), 1))
	require.NoError(t, l2DB.DoneForging(hashes(txs[:1]), 1))
	require.NoError(t, l2DB.InvalidateTxs([]RejectedPoolTx{{TxHash: txs[1].TxHash, Info: "x"}}, 5))

	// within the safety period nothing is deleted
	require.NoError(t, l2DB.Purge(8))
	_, err := l2DB.GetTx(txs[0].TxHash)
	require.NoError(t, err)

	require.NoError(t, l2DB.Purge(12))
	_, err = l2DB.GetTx(txs[0].TxHash)
	assert.Error(t, err)
	_, err = l2DB.GetTx(txs[1].TxHash)
	require.NoError(t, err)
	// pending txs are kept while the pool is not full
	_, err = l2DB.GetTx(txs[2].TxHash)
	require.NoError(t, err)
}

func TestDecodeTx(t *testing.T) {
	_, err := DecodeTx(common.OpTypeDeposit, []byte("{}"))
	assert.Error(t, err)
	tx, err := DecodeTx(common.OpTypeSwap, []byte(`{"submitterId": 3, "nonce": 9}`))
	require.NoError(t, err)
	swap, ok := tx.(*common.Swap)
	require.True(t, ok)
	assert.Equal(t, common.AccountID(3), swap.SubmitterID)
	assert.Equal(t, common.Nonce(9), swap.Nonce)
}
