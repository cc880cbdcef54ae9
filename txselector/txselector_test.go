package txselector

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
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/test"
	"tokamak-zkrollup/txprocessor"
)

var l2DB *l2db.L2DB
var deleteme []string

func init() {
	log.Init("debug", []string{"stdout"})
}

func TestMain(m *testing.M) {
	db, err := database.InitTestSQLDB()
	if err != nil {
		panic(err)
	}
	l2DB = l2db.NewL2DB(db, db, 10, 100, 24*time.Hour, nil)
	exitVal := m.Run()
	for _, dir := range deleteme {
		if err := os.RemoveAll(dir); err != nil {
			panic(err)
		}
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing the DB:", err)
	}
	os.Exit(exitVal)
}

func tempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	return dir
}

var (
	feeAddr    = ethCommon.HexToAddress("0x1000000000000000000000000000000000000001")
	senderAddr = ethCommon.HexToAddress("0x1000000000000000000000000000000000000002")
	receiver   = ethCommon.HexToAddress("0x1000000000000000000000000000000000000003")
)

func testKey(seed byte) babyjub.PrivateKey {
	var sk babyjub.PrivateKey
	for i := range sk {
		sk[i] = seed + byte(i)
	}
	return sk
}

// newTestTxSelector returns a TxSelector synchronized at batch 1, whose
// state has the fee account 0 and the account 1 owned by sk with 1000 of
// token 0.  The queue holds a deposit to receiver.
func newTestTxSelector(t *testing.T, sk *babyjub.PrivateKey) *TxSelector {
	test.WipeDB(l2DB.DB())
	synchDB, err := statedb.NewStateDB(statedb.Config{Path: tempDir(t), Keep: 128,
		Type: statedb.TypeSynchronizer, NLevels: statedb.MaxNLevels})
	require.NoError(t, err)
	t.Cleanup(synchDB.Close)
	_, err = synchDB.CreateAccount(0, feeAddr)
	require.NoError(t, err)
	_, err = synchDB.CreateAccount(1, senderAddr)
	require.NoError(t, err)
	pkh, err := crypto.PubKeyHashFromPublicKey(sk.Public())
	require.NoError(t, err)
	require.NoError(t, synchDB.SetPubKeyHash(1, pkh))
	require.NoError(t, synchDB.SetBalance(1, 0, big.NewInt(1000)))
	require.NoError(t, synchDB.MakeCheckpoint())

	queue := priorityqueue.NewQueue(0)
	deposit, err := common.NewDepositRequest(0, &common.Deposit{
		From: receiver, Token: 0, Amount: big.NewInt(50), To: receiver,
	}, 1, 100)
	require.NoError(t, err)
	require.NoError(t, queue.Add(*deposit))

	txsel, err := NewTxSelector(tempDir(t), synchDB, l2DB, queue, nil)
	require.NoError(t, err)
	t.Cleanup(txsel.LocalAccountsDB().Close)
	require.NoError(t, txsel.Reset(1, true))
	return txsel
}

func addTransfer(t *testing.T, sk *babyjub.PrivateKey, accountID common.AccountID,
	nonce common.Nonce, amount int64) *l2db.PoolTx {
	tx := &common.Transfer{AccountID: accountID, From: senderAddr, To: receiver, Token: 0,
		Amount: big.NewInt(amount), Fee: big.NewInt(2), Nonce: nonce,
		TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(sk, tx))
	poolTx, err := l2db.NewPoolTx(tx)
	require.NoError(t, err)
	require.NoError(t, l2DB.AddTxTest(poolTx))
	return poolTx
}

func TestGetTxSelection(t *testing.T) {
	sk := testKey(3)
	txsel := newTestTxSelector(t, &sk)

	valid := addTransfer(t, &sk, 1, 0, 100)
	tooMuch := addTransfer(t, &sk, 1, 1, 5000)
	unknown := addTransfer(t, &sk, 5, 0, 1)

	config := txprocessor.Config{MaxChunks: 16, ChainID: 5}
	selection, err := txsel.GetTxSelection(config, 0, 1700000000)
	require.NoError(t, err)

	require.Equal(t, 1, len(selection.PriorityRequests))
	assert.Equal(t, uint64(0), selection.PriorityRequests[0].SerialID)
	require.Equal(t, 1, len(selection.Txs))
	assert.Equal(t, valid.TxHash, selection.Txs[0].TxHash)
	require.Equal(t, 1, len(selection.SignedTxs()))
	assert.Equal(t, 0, len(selection.Deferred))

	require.Equal(t, 2, len(selection.Rejected))
	rejected := map[ethCommon.Hash]bool{}
	for _, r := range selection.Rejected {
		rejected[r.TxHash] = true
		assert.NotEmpty(t, r.Info)
	}
	assert.True(t, rejected[tooMuch.TxHash])
	assert.True(t, rejected[unknown.TxHash])

	// the selection is applied to the internal accounts db
	accDB := txsel.LocalAccountsDB()
	assert.Equal(t, common.BatchNum(2), accDB.CurrentBatch())
	acc, err := accDB.GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, common.Nonce(1), acc.Nonce)
	assert.Equal(t, "898", acc.Balance(0).String())

	// a reset goes back to the synchronizer state
	require.NoError(t, txsel.Reset(1, true))
	acc, err = txsel.LocalAccountsDB().GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, common.Nonce(0), acc.Nonce)
}

func TestGetTxSelectionCapacity(t *testing.T) {
	sk := testKey(4)
	txsel := newTestTxSelector(t, &sk)
	deferred := addTransfer(t, &sk, 1, 0, 100)

	// the deposit uses 6 of the 7 chunks, so the transfer doesn't fit
	config := txprocessor.Config{MaxChunks: 7, ChainID: 5}
	selection, err := txsel.GetTxSelection(config, 0, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, 1, len(selection.PriorityRequests))
	assert.Equal(t, 0, len(selection.Txs))
	assert.Equal(t, 0, len(selection.Rejected))
	require.Equal(t, 1, len(selection.Deferred))
	assert.Equal(t, deferred.TxHash, selection.Deferred[0].TxHash)

	// a batch too small for the deposit defers the priority request too
	require.NoError(t, txsel.Reset(1, true))
	config.MaxChunks = 5
	selection, err = txsel.GetTxSelection(config, 0, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, 0, len(selection.PriorityRequests))
	assert.Equal(t, 0, len(selection.Txs))
}

func TestRejectReason(t *testing.T) {
	err := common.Wrap(common.NewRejectedTxErr(common.OpTypeTransfer, txprocessor.ErrNonceMismatch))
	assert.Equal(t, txprocessor.ErrNonceMismatch.Error(), rejectReason(err))
	assert.Equal(t, "other", rejectReason(common.NewRejectedTxErr(common.OpTypeSwap,
		txprocessor.ErrSwapPrices)))
}

func TestGetTxSelectionNoFeeAccount(t *testing.T) {
	sk := testKey(5)
	txsel := newTestTxSelector(t, &sk)
	addTransfer(t, &sk, 1, 0, 100)

	// account 7 doesn't exist, so only the priority requests are selected
	config := txprocessor.Config{MaxChunks: 16, ChainID: 5}
	selection, err := txsel.GetTxSelection(config, 7, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, 1, len(selection.PriorityRequests))
	assert.Equal(t, 0, len(selection.Txs))
	assert.Equal(t, 0, len(selection.Rejected))
	assert.Equal(t, 0, len(selection.Deferred))
}
