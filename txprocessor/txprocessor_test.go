package txprocessor

import (
	"crypto/ecdsa"
	"math/big"
	"os"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
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

const (
	feeAccount = common.AccountID(0)
	timestamp  = uint64(1700000000)
)

var (
	chainID  = uint64(5)
	contract = ethCommon.HexToAddress("0xc344E203a046Da13b0B4467EB7B3629D0C99F6E6")
)

type testAccount struct {
	id    common.AccountID
	sk    babyjub.PrivateKey
	ethSk *ecdsa.PrivateKey
	addr  ethCommon.Address
	pkh   common.PubKeyHash
}

func newTestAccount(t *testing.T, seed byte) *testAccount {
	var sk babyjub.PrivateKey
	for i := range sk {
		sk[i] = seed + byte(i)
	}
	ethSk, err := ethCrypto.GenerateKey()
	require.NoError(t, err)
	pkh, err := crypto.PubKeyHashFromPublicKey(sk.Public())
	require.NoError(t, err)
	return &testAccount{
		sk:    sk,
		ethSk: ethSk,
		addr:  ethCrypto.PubkeyToAddress(ethSk.PublicKey),
		pkh:   pkh,
	}
}

func newTestStateDB(t *testing.T, typ statedb.TypeStateDB) *statedb.StateDB {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	nLevels := statedb.MaxNLevels
	if typ == statedb.TypeTxSelector {
		nLevels = 0
	}
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 128, Type: typ, NLevels: nLevels})
	require.NoError(t, err)
	return sdb
}

func newTestTxProcessor(sdb *statedb.StateDB, maxChunks uint32) *TxProcessor {
	return NewTxProcessor(sdb, Config{
		MaxChunks:          maxChunks,
		ChainID:            chainID,
		RollupContractAddr: contract,
	}, nil)
}

// setupAccounts allocates n accounts with their signing key set.  Account 0
// is the fee account of the tests.
func setupAccounts(t *testing.T, sdb *statedb.StateDB, n int) []*testAccount {
	accs := make([]*testAccount, n)
	for i := 0; i < n; i++ {
		acc := newTestAccount(t, byte(i+1))
		id, err := sdb.AllocateLowestFreeID()
		require.NoError(t, err)
		_, err = sdb.CreateAccount(id, acc.addr)
		require.NoError(t, err)
		require.NoError(t, sdb.SetPubKeyHash(id, acc.pkh))
		acc.id = id
		accs[i] = acc
	}
	return accs
}

func setBalance(t *testing.T, sdb *statedb.StateDB, id common.AccountID, token common.TokenID, amount *big.Int) {
	require.NoError(t, sdb.SetBalance(id, token, amount))
}

func balance(t *testing.T, sdb *statedb.StateDB, id common.AccountID, token common.TokenID) *big.Int {
	b, err := sdb.GetBalance(id, token)
	require.NoError(t, err)
	return b
}

// assertBig compares the values of two big.Int, which can differ in their
// internal representation
func assertBig(t *testing.T, expected, actual *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, actual, msgAndArgs...)
	assert.Equal(t, expected.String(), actual.String(), msgAndArgs...)
}

func assertFees(t *testing.T, expected, actual common.AccumulatedFees) {
	t.Helper()
	require.Equal(t, len(expected), len(actual))
	for token, fee := range expected {
		assertBig(t, fee, actual[token], "token %d", token)
	}
}

func nonce(t *testing.T, sdb *statedb.StateDB, id common.AccountID) common.Nonce {
	acc, err := sdb.GetAccount(id)
	require.NoError(t, err)
	return acc.Nonce
}

func signedTransfer(t *testing.T, from *testAccount, to ethCommon.Address, token common.TokenID,
	amount, fee *big.Int, n common.Nonce) *common.Transfer {
	tx := &common.Transfer{
		AccountID: from.id,
		From:      from.addr,
		To:        to,
		Token:     token,
		Amount:    amount,
		Fee:       fee,
		Nonce:     n,
		TimeRange: common.DefaultTimeRange,
	}
	require.NoError(t, crypto.Sign(&from.sk, tx))
	return tx
}

func TestTransferScenario(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeBatchBuilder)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 5)
	tp := newTestTxProcessor(sdb, 0)

	amount, err := common.UnpackAmount([]byte{0x00, 0x00, 0x00, 0x1a, 0xd3})
	require.NoError(t, err)
	fee, err := common.UnpackFee([]byte{0x00, 0x12})
	require.NoError(t, err)
	initial := new(big.Int).Add(amount, fee)
	initial.Add(initial, big.NewInt(1000))
	setBalance(t, sdb, 4, 2, initial)

	tx := signedTransfer(t, accs[4], accs[3].addr, 2, amount, fee, 0)
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	require.Empty(t, ptOut.RejectedTxs)
	require.Equal(t, 1, len(ptOut.Ops))

	expected4 := new(big.Int).Sub(initial, amount)
	expected4.Sub(expected4, fee)
	assertBig(t, expected4, balance(t, sdb, 4, 2))
	assertBig(t, amount, balance(t, sdb, 3, 2))
	assertBig(t, fee, balance(t, sdb, feeAccount, 2))
	assert.Equal(t, common.Nonce(1), nonce(t, sdb, 4))

	pubData := ptOut.Ops[0].PubData
	assert.Equal(t, byte(0x05), pubData[0])
	assert.Equal(t, common.OpTypeTransfer.PubDataLen(), len(pubData))
	// from, token, to, packed amount, packed fee
	assert.Equal(t, []byte{0, 0, 0, 4}, pubData[1:5])
	assert.Equal(t, []byte{0, 0, 0, 2}, pubData[5:9])
	assert.Equal(t, []byte{0, 0, 0, 3}, pubData[9:13])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x1a, 0xd3}, pubData[13:18])
	assert.Equal(t, []byte{0x00, 0x12}, pubData[18:20])

	// the witness of the op and the roots are filled
	require.NotNil(t, ptOut.ZKInputs)
	assert.Equal(t, 1, len(ptOut.ZKInputs.Ops))
	assert.Equal(t, 2, len(ptOut.ZKInputs.Ops[0].Accounts))
	assert.Equal(t, 1, len(ptOut.ZKInputs.ISStateRoot))
	assert.NotEqual(t, ptOut.OldStateRoot, ptOut.NewStateRoot)
	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
}

func TestTransferWithFee(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 0, big.NewInt(1000))

	tx := signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(500), big.NewInt(10), 0)
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	assertBig(t, big.NewInt(490), balance(t, sdb, 1, 0))
	assertBig(t, big.NewInt(500), balance(t, sdb, 2, 0))
	assertBig(t, big.NewInt(10), balance(t, sdb, feeAccount, 0))
	assertBig(t, big.NewInt(10), ptOut.AccumulatedFees[0])
	assertBig(t, big.NewInt(10), ptOut.Ops[0].Fee)
	h, err := crypto.TxHash(tx)
	require.NoError(t, err)
	assert.Equal(t, ethCommon.Hash(h), ptOut.Ops[0].TxHash)

	// the synchronizer gets the updated accounts, fee account included
	require.Contains(t, ptOut.UpdatedAccounts, common.AccountID(1))
	require.Contains(t, ptOut.UpdatedAccounts, common.AccountID(2))
	require.Contains(t, ptOut.UpdatedAccounts, feeAccount)
	assertBig(t, big.NewInt(10), ptOut.UpdatedAccounts[feeAccount].Balance(0))

	// transfer to self only pays the fee
	tx = signedTransfer(t, accs[1], accs[1].addr, 0, big.NewInt(100), big.NewInt(10), 1)
	_, err = tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	assertBig(t, big.NewInt(480), balance(t, sdb, 1, 0))
	assert.Equal(t, common.Nonce(2), nonce(t, sdb, 1))
}

func TestTransferToNew(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 2)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 0, big.NewInt(1000))

	receiver := newTestAccount(t, 50)
	tx := signedTransfer(t, accs[1], receiver.addr, 0, big.NewInt(300), big.NewInt(0), 0)
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	assert.Equal(t, common.OpTypeTransferToNew, ptOut.Ops[0].OpType)
	op := ptOut.Ops[0].Op.(*common.TransferToNewOp)
	assert.Equal(t, common.AccountID(2), op.To)

	require.Equal(t, 1, len(ptOut.CreatedAccounts))
	assert.Equal(t, receiver.addr, ptOut.CreatedAccounts[0].Address)
	id, err := sdb.GetAccountIDByAddress(receiver.addr)
	require.NoError(t, err)
	assert.Equal(t, common.AccountID(2), id)
	assertBig(t, big.NewInt(300), balance(t, sdb, 2, 0))

	// a second transfer to the same address in the next batch is a plain
	// transfer
	tx = signedTransfer(t, accs[1], receiver.addr, 0, big.NewInt(100), big.NewInt(0), 1)
	ptOut, err = tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	assert.Equal(t, common.OpTypeTransfer, ptOut.Ops[0].OpType)
	assertBig(t, big.NewInt(400), balance(t, sdb, 2, 0))
}

func TestNonceReplay(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 0, big.NewInt(1000))

	tx := signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(100), big.NewInt(0), 0)
	// the same tx twice in a batch: the second one is a replay
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx, tx})
	require.NoError(t, err)
	assert.Equal(t, 1, len(ptOut.Ops))
	require.Equal(t, 1, len(ptOut.RejectedTxs))
	assert.True(t, common.IsRejected(ptOut.RejectedTxs[0].Err))
	assert.ErrorIs(t, common.Unwrap(ptOut.RejectedTxs[0].Err), ErrNonceMismatch)
	assert.Equal(t, common.Nonce(1), nonce(t, sdb, 1))

	// and in the next batch
	ptOut, err = tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	assert.Empty(t, ptOut.Ops)
	require.Equal(t, 1, len(ptOut.RejectedTxs))
	assert.ErrorIs(t, common.Unwrap(ptOut.RejectedTxs[0].Err), ErrNonceMismatch)
	assert.Equal(t, common.Nonce(1), nonce(t, sdb, 1))
	assertBig(t, big.NewInt(900), balance(t, sdb, 1, 0))
}

func TestRejectedTxs(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeTxSelector)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 0, big.NewInt(1000))

	notEnough := signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(1000), big.NewInt(1), 0)

	badSig := signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(10), big.NewInt(0), 0)
	badSig.Amount = big.NewInt(11)

	wrongKey := &common.Transfer{AccountID: 1, From: accs[1].addr, To: accs[2].addr,
		Amount: big.NewInt(10), Fee: big.NewInt(0), TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[2].sk, wrongKey))

	notPackable := &common.Transfer{AccountID: 1, From: accs[1].addr, To: accs[2].addr,
		Amount: new(big.Int).Lsh(big.NewInt(1), 100), Fee: big.NewInt(0),
		TimeRange: common.DefaultTimeRange}

	expired := &common.Transfer{AccountID: 1, From: accs[1].addr, To: accs[2].addr,
		Amount: big.NewInt(10), Fee: big.NewInt(0),
		TimeRange: common.TimeRange{ValidFrom: 0, ValidUntil: timestamp - 1}}
	require.NoError(t, crypto.Sign(&accs[1].sk, expired))

	wrongAddress := signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(10), big.NewInt(0), 0)
	wrongAddress.From = accs[2].addr
	require.NoError(t, crypto.Sign(&accs[1].sk, wrongAddress))

	nftCounter := signedTransfer(t, accs[1], accs[2].addr, common.NFTTokenID, big.NewInt(1), big.NewInt(0), 0)

	txs := []common.SignedTx{notEnough, badSig, wrongKey, notPackable, expired, wrongAddress, nftCounter}
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, txs)
	require.NoError(t, err)
	assert.Empty(t, ptOut.Ops)
	require.Equal(t, len(txs), len(ptOut.RejectedTxs))
	reasons := []error{ErrNotEnoughBalance, crypto.ErrInvalidSignature, ErrPubKeyHashMismatch,
		ErrAmountNotPackable, ErrTimeRange, ErrAddressMismatch, ErrInvalidToken}
	for i, reason := range reasons {
		assert.True(t, common.IsRejected(ptOut.RejectedTxs[i].Err))
		assert.ErrorIs(t, common.Unwrap(ptOut.RejectedTxs[i].Err), reason, "tx %d", i)
	}
	assertBig(t, big.NewInt(1000), balance(t, sdb, 1, 0))
	assert.Equal(t, common.Nonce(0), nonce(t, sdb, 1))

	// an account without signing key can't transfer
	locked := newTestAccount(t, 60)
	id, err := sdb.AllocateLowestFreeID()
	require.NoError(t, err)
	_, err = sdb.CreateAccount(id, locked.addr)
	require.NoError(t, err)
	setBalance(t, sdb, id, 0, big.NewInt(100))
	locked.id = id
	tx := signedTransfer(t, locked, accs[2].addr, 0, big.NewInt(10), big.NewInt(0), 0)
	_, err = tp.CreateOp(tx)
	assert.ErrorIs(t, common.Unwrap(err), ErrAccountLocked)
}

func TestDepositToNewAddress(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeBatchBuilder)
	defer sdb.Close()
	setupAccounts(t, sdb, 2)
	tp := newTestTxProcessor(sdb, 0)

	amount, ok := new(big.Int).SetString("000000000000000002c68af0bb140000", 16)
	require.True(t, ok)
	owner := newTestAccount(t, 70)
	req, err := common.NewDepositRequest(1, &common.Deposit{
		From: owner.addr, Token: 2, Amount: amount, To: owner.addr,
	}, 10, 100)
	require.NoError(t, err)

	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, []common.PriorityRequest{*req}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	assert.Equal(t, []uint64{1}, ptOut.PriorityRequests)
	assert.Empty(t, ptOut.DegradedOps)

	// the lowest free id is allocated and bound to the address
	id, err := sdb.GetAccountIDByAddress(owner.addr)
	require.NoError(t, err)
	assert.Equal(t, common.AccountID(2), id)
	// deposits are credited in full, never packed
	assertBig(t, amount, balance(t, sdb, id, 2))

	op := ptOut.Ops[0].Op.(*common.DepositOp)
	assert.Equal(t, id, op.AccountID)
	pubData := ptOut.Ops[0].PubData
	assert.Equal(t, byte(common.OpTypeDeposit), pubData[0])
	assert.Equal(t, id.Bytes(), pubData[1:5])
	assert.Equal(t, amount.FillBytes(make([]byte, 16)), pubData[9:25])
	assert.Equal(t, owner.addr.Bytes(), pubData[25:45])

	// a second deposit to the same address credits the same account
	req, err = common.NewDepositRequest(2, &common.Deposit{
		From: owner.addr, Token: 2, Amount: big.NewInt(5), To: owner.addr,
	}, 10, 100)
	require.NoError(t, err)
	_, err = tp.ProcessTxs(feeAccount, timestamp, []common.PriorityRequest{*req}, nil)
	require.NoError(t, err)
	assertBig(t, new(big.Int).Add(amount, big.NewInt(5)), balance(t, sdb, id, 2))
	assert.Equal(t, common.AccountID(3), sdb.NextAccountID())
}

func TestDepositDegraded(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 2)
	tp := newTestTxProcessor(sdb, 0)

	setBalance(t, sdb, 1, 0, common.MaxBalance)
	overflow, err := common.NewDepositRequest(1, &common.Deposit{
		From: accs[1].addr, Token: 0, Amount: big.NewInt(1), To: accs[1].addr,
	}, 10, 100)
	require.NoError(t, err)
	nft, err := common.NewDepositRequest(2, &common.Deposit{
		From: accs[1].addr, Token: common.MinNFTTokenID, Amount: big.NewInt(1), To: accs[1].addr,
	}, 10, 100)
	require.NoError(t, err)

	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, []common.PriorityRequest{*overflow, *nft}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, len(ptOut.Ops))
	require.Equal(t, 2, len(ptOut.DegradedOps))
	assert.ErrorIs(t, ptOut.DegradedOps[0], ErrDepositOverflow)
	assert.ErrorIs(t, ptOut.DegradedOps[1], ErrDepositToken)
	assert.True(t, ptOut.Ops[0].Degraded)
	assert.Equal(t, []uint64{1, 2}, ptOut.PriorityRequests)
	assertBig(t, common.MaxBalance, balance(t, sdb, 1, 0))
	assertBig(t, big.NewInt(0), balance(t, sdb, 1, common.MinNFTTokenID))
}

func TestFullExit(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 3, big.NewInt(777))
	setBalance(t, sdb, 2, 3, big.NewInt(888))

	// the declared owner is not the address of the account
	mismatch, err := common.NewFullExitRequest(1, &common.FullExit{
		AccountID: 1, Owner: accs[2].addr, Token: 3,
	}, 10, 100)
	require.NoError(t, err)
	valid, err := common.NewFullExitRequest(2, &common.FullExit{
		AccountID: 2, Owner: accs[2].addr, Token: 3,
	}, 10, 100)
	require.NoError(t, err)

	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, []common.PriorityRequest{*mismatch, *valid}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, len(ptOut.Ops))
	// both requests are consumed
	assert.Equal(t, []uint64{1, 2}, ptOut.PriorityRequests)

	require.Equal(t, 1, len(ptOut.DegradedOps))
	assert.Equal(t, uint64(1), ptOut.DegradedOps[0].SerialID)
	assert.ErrorIs(t, ptOut.DegradedOps[0], ErrFullExitOwner)
	op0 := ptOut.Ops[0].Op.(*common.FullExitOp)
	assertBig(t, big.NewInt(0), op0.WithdrawAmount)
	assertBig(t, big.NewInt(777), balance(t, sdb, 1, 3))
	assert.Equal(t, make([]byte, 16), ptOut.Ops[0].PubData[29:45])

	op1 := ptOut.Ops[1].Op.(*common.FullExitOp)
	assertBig(t, big.NewInt(888), op1.WithdrawAmount)
	assertBig(t, big.NewInt(0), balance(t, sdb, 2, 3))
	assert.False(t, ptOut.Ops[1].Degraded)
}

func TestWithdraw(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 2)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 1, big.NewInt(1000))

	// withdrawn amounts are not packed
	tx := &common.Withdraw{AccountID: 1, From: accs[1].addr, To: accs[1].addr, Token: 1,
		Amount: big.NewInt(123), Fee: big.NewInt(7), TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[1].sk, tx))
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	assertBig(t, big.NewInt(870), balance(t, sdb, 1, 1))
	assertBig(t, big.NewInt(7), balance(t, sdb, feeAccount, 1))
	assert.Equal(t, common.OpTypeWithdraw, ptOut.Ops[0].OpType)

	// nfts are withdrawn with WithdrawNFT
	tx = &common.Withdraw{AccountID: 1, From: accs[1].addr, To: accs[1].addr,
		Token: common.MinNFTTokenID, Amount: big.NewInt(1), Fee: big.NewInt(0), Nonce: 1,
		TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[1].sk, tx))
	_, err = tp.CreateOp(tx)
	assert.ErrorIs(t, common.Unwrap(err), ErrInvalidToken)
}

func TestChangePubKey(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 2)
	facts := NewFactAuthSet()
	tp := NewTxProcessor(sdb, Config{ChainID: chainID, RollupContractAddr: contract}, facts)
	setBalance(t, sdb, 1, 0, big.NewInt(100))
	newKey := newTestAccount(t, 90)

	// ECDSA
	tx := &common.ChangePubKey{AccountID: 1, Account: accs[1].addr, NewPubKeyHash: newKey.pkh,
		FeeToken: 0, Fee: big.NewInt(10), Nonce: 0, TimeRange: common.DefaultTimeRange}
	signHash := func(hash []byte) ([]byte, error) {
		return ethCrypto.Sign(hash, accs[1].ethSk)
	}
	require.NoError(t, tx.EthAuth.Sign(signHash, newKey.pkh, 0, 1, chainID, contract))
	require.NoError(t, crypto.Sign(&newKey.sk, tx))

	// signed by the L1 key of another account
	bad := *tx
	bad.EthAuth = common.ChangePubKeyAuth{}
	otherSignHash := func(hash []byte) ([]byte, error) {
		return ethCrypto.Sign(hash, newKey.ethSk)
	}
	require.NoError(t, bad.EthAuth.Sign(otherSignHash, newKey.pkh, 0, 1, chainID, contract))
	_, err := tp.CreateOp(&bad)
	assert.ErrorIs(t, common.Unwrap(err), ErrChangePubKeyAuth)

	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	acc, err := sdb.GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, newKey.pkh, acc.PubKeyHash)
	assert.Equal(t, common.Nonce(1), acc.Nonce)
	assertBig(t, big.NewInt(90), acc.Balance(0))

	// Onchain: rejected until the fact is registered
	tx2 := &common.ChangePubKey{AccountID: 1, Account: accs[1].addr, NewPubKeyHash: accs[1].pkh,
		Fee: big.NewInt(0), Nonce: 1, TimeRange: common.DefaultTimeRange,
		EthAuth: common.ChangePubKeyAuth{Type: common.ChangePubKeyAuthOnchain}}
	require.NoError(t, crypto.Sign(&accs[1].sk, tx2))
	_, err = tp.CreateOp(tx2)
	assert.ErrorIs(t, common.Unwrap(err), ErrChangePubKeyAuth)
	facts.Add(common.FactAuth{Address: accs[1].addr, Nonce: 1, PubKeyHash: accs[1].pkh})
	ptOut, err = tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx2})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	acc, err = sdb.GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, accs[1].pkh, acc.PubKeyHash)

	// CREATE2 requires an account that never transacted
	create2 := common.ChangePubKeyAuth{
		Type:           common.ChangePubKeyAuthCREATE2,
		CreatorAddress: ethCommon.HexToAddress("0x1111111111111111111111111111111111111111"),
		SaltArg:        ethCommon.HexToHash("0x02"),
		CodeHash:       ethCommon.HexToHash("0x03"),
	}
	addr := create2.CREATE2Address(newKey.pkh)
	id, err := sdb.AllocateLowestFreeID()
	require.NoError(t, err)
	_, err = sdb.CreateAccount(id, addr)
	require.NoError(t, err)
	tx3 := &common.ChangePubKey{AccountID: id, Account: addr, NewPubKeyHash: newKey.pkh,
		Fee: big.NewInt(0), Nonce: 0, TimeRange: common.DefaultTimeRange, EthAuth: create2}
	require.NoError(t, crypto.Sign(&newKey.sk, tx3))
	ptOut, err = tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx3})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))

	tx4 := &common.ChangePubKey{AccountID: id, Account: addr, NewPubKeyHash: accs[0].pkh,
		Fee: big.NewInt(0), Nonce: 1, TimeRange: common.DefaultTimeRange, EthAuth: create2}
	require.NoError(t, crypto.Sign(&accs[0].sk, tx4))
	_, err = tp.CreateOp(tx4)
	assert.ErrorIs(t, common.Unwrap(err), ErrChangePubKeyAuth)
}

func TestForcedExit(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 0, big.NewInt(100))
	setBalance(t, sdb, 2, 0, big.NewInt(50))

	// the target has a signing key
	tx := &common.ForcedExit{InitiatorAccountID: 1, Target: accs[2].addr, Token: 0,
		Fee: big.NewInt(5), TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[1].sk, tx))
	_, err := tp.CreateOp(tx)
	assert.ErrorIs(t, common.Unwrap(err), ErrTargetOwned)

	unowned := newTestAccount(t, 80)
	id, err := sdb.AllocateLowestFreeID()
	require.NoError(t, err)
	_, err = sdb.CreateAccount(id, unowned.addr)
	require.NoError(t, err)
	setBalance(t, sdb, id, 0, big.NewInt(321))

	tx = &common.ForcedExit{InitiatorAccountID: 1, Target: unowned.addr, Token: 0,
		Fee: big.NewInt(5), TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[1].sk, tx))
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tx})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	op := ptOut.Ops[0].Op.(*common.ForcedExitOp)
	assertBig(t, big.NewInt(321), op.WithdrawAmount)
	assertBig(t, big.NewInt(0), balance(t, sdb, id, 0))
	assertBig(t, big.NewInt(95), balance(t, sdb, 1, 0))
	assertBig(t, big.NewInt(5), balance(t, sdb, feeAccount, 0))
	assert.Equal(t, common.Nonce(1), nonce(t, sdb, 1))
}

func TestMintAndWithdrawNFT(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 0, big.NewInt(100))
	setBalance(t, sdb, 2, 0, big.NewInt(100))

	contentHash := ethCommon.HexToHash("0xaabbccddeeff00112233445566778899aabbccddeeff00112233445566778899")
	mint := &common.MintNFT{CreatorID: 1, CreatorAddress: accs[1].addr, ContentHash: contentHash,
		Recipient: accs[2].addr, FeeToken: 0, Fee: big.NewInt(10)}
	require.NoError(t, crypto.Sign(&accs[1].sk, mint))
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{mint})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	require.Equal(t, 1, len(ptOut.MintedNFTs))

	token := common.MinNFTTokenID
	nft := ptOut.MintedNFTs[0]
	assert.Equal(t, token, nft.ID)
	assert.Equal(t, uint32(0), nft.SerialID)
	assert.Equal(t, common.AccountID(1), nft.CreatorID)
	assert.Equal(t, accs[1].addr, nft.CreatorAddress)
	assertBig(t, big.NewInt(1), balance(t, sdb, 2, token))
	// counters
	assertBig(t, big.NewInt(1), balance(t, sdb, 1, common.NFTTokenID))
	assertBig(t, new(big.Int).Add(token.BigInt(), big.NewInt(1)),
		balance(t, sdb, common.NFTStorageAccountID, common.NFTTokenID))
	content, err := nftContentToStore(1, 0, contentHash.Bytes())
	require.NoError(t, err)
	assertBig(t, content, balance(t, sdb, common.NFTStorageAccountID, token))
	stored, err := sdb.GetNFT(token)
	require.NoError(t, err)
	assert.Equal(t, nft, *stored)
	assertBig(t, big.NewInt(90), balance(t, sdb, 1, 0))

	// the creator doesn't own the nft
	wd := &common.WithdrawNFT{AccountID: 1, From: accs[1].addr, To: accs[1].addr, Token: token,
		FeeToken: 0, Fee: big.NewInt(0), Nonce: 1, TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[1].sk, wd))
	_, err = tp.CreateOp(wd)
	assert.ErrorIs(t, common.Unwrap(err), ErrNFTBalance)

	wd = &common.WithdrawNFT{AccountID: 2, From: accs[2].addr, To: accs[2].addr, Token: token,
		FeeToken: 0, Fee: big.NewInt(3), Nonce: 0, TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[2].sk, wd))
	ptOut, err = tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{wd})
	require.NoError(t, err)
	require.Equal(t, 1, len(ptOut.Ops))
	op := ptOut.Ops[0].Op.(*common.WithdrawNFTOp)
	assert.Equal(t, nft, op.NFT)
	assertBig(t, big.NewInt(0), balance(t, sdb, 2, token))
	assertBig(t, big.NewInt(97), balance(t, sdb, 2, 0))
}

func newOrder(t *testing.T, acc *testAccount, recipient ethCommon.Address, n common.Nonce,
	sell, buy common.TokenID, priceSell, priceBuy, amount int64) common.Order {
	o := common.Order{
		AccountID: acc.id,
		Recipient: recipient,
		Nonce:     n,
		TokenSell: sell,
		TokenBuy:  buy,
		Price:     common.Price{Sell: big.NewInt(priceSell), Buy: big.NewInt(priceBuy)},
		Amount:    big.NewInt(amount),
		TimeRange: common.DefaultTimeRange,
	}
	require.NoError(t, crypto.Sign(&acc.sk, &o))
	return o
}

func TestSwap(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 4)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 10, big.NewInt(1000))
	setBalance(t, sdb, 2, 20, big.NewInt(1000))
	setBalance(t, sdb, 3, 0, big.NewInt(100))

	// account 1 sells 100 of token 10 for at least 200 of token 20 (exact
	// order); account 2 sells up to anything of token 20 for token 10 at
	// 2:1 or better (limit order)
	swap := &common.Swap{
		SubmitterID:      3,
		SubmitterAddress: accs[3].addr,
		Orders: [2]common.Order{
			newOrder(t, accs[1], accs[1].addr, 0, 10, 20, 1, 2, 100),
			newOrder(t, accs[2], accs[2].addr, 0, 20, 10, 2, 1, 0),
		},
		Amounts:  [2]*big.Int{big.NewInt(100), big.NewInt(200)},
		FeeToken: 0,
		Fee:      big.NewInt(4),
	}
	require.NoError(t, crypto.Sign(&accs[3].sk, swap))

	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{swap})
	require.NoError(t, err)
	require.Empty(t, ptOut.RejectedTxs)
	require.Equal(t, 1, len(ptOut.Ops))
	assertBig(t, big.NewInt(900), balance(t, sdb, 1, 10))
	assertBig(t, big.NewInt(200), balance(t, sdb, 1, 20))
	assertBig(t, big.NewInt(800), balance(t, sdb, 2, 20))
	assertBig(t, big.NewInt(100), balance(t, sdb, 2, 10))
	assertBig(t, big.NewInt(96), balance(t, sdb, 3, 0))
	assertBig(t, big.NewInt(4), balance(t, sdb, feeAccount, 0))
	// exact order consumes the nonce, limit order doesn't
	assert.Equal(t, common.Nonce(1), nonce(t, sdb, 1))
	assert.Equal(t, common.Nonce(0), nonce(t, sdb, 2))
	assert.Equal(t, common.Nonce(1), nonce(t, sdb, 3))
	// nonce mask after op, accounts, recipients, submitter, tokens and
	// packed amounts and fee
	assert.Equal(t, byte(0x01), ptOut.Ops[0].PubData[1+5*4+3*4+2*5+2])

	// amounts that don't meet the price of order 0
	bad := &common.Swap{
		SubmitterID:      3,
		SubmitterAddress: accs[3].addr,
		Nonce:            1,
		Orders: [2]common.Order{
			newOrder(t, accs[1], accs[1].addr, 1, 10, 20, 1, 2, 0),
			newOrder(t, accs[2], accs[2].addr, 0, 20, 10, 2, 1, 0),
		},
		Amounts:  [2]*big.Int{big.NewInt(100), big.NewInt(199)},
		FeeToken: 0,
		Fee:      big.NewInt(0),
	}
	require.NoError(t, crypto.Sign(&accs[3].sk, bad))
	_, err = tp.CreateOp(bad)
	assert.ErrorIs(t, common.Unwrap(err), ErrSwapPrices)

	// tokens are not reciprocal
	bad.Orders[1] = newOrder(t, accs[2], accs[2].addr, 0, 20, 11, 2, 1, 0)
	bad.Amounts[1] = big.NewInt(200)
	require.NoError(t, crypto.Sign(&accs[3].sk, bad))
	_, err = tp.CreateOp(bad)
	assert.ErrorIs(t, common.Unwrap(err), ErrSwapTokens)

	// both amounts zero
	bad.Orders[1] = newOrder(t, accs[2], accs[2].addr, 0, 20, 10, 2, 1, 0)
	bad.Amounts = [2]*big.Int{big.NewInt(0), big.NewInt(0)}
	require.NoError(t, crypto.Sign(&accs[3].sk, bad))
	_, err = tp.CreateOp(bad)
	assert.ErrorIs(t, common.Unwrap(err), ErrSwapAmounts)
}

// TestSwapOrderNonce covers orders owned by the submitter: the order carries
// the current account nonce and, once executed, can't be submitted again by
// anyone
func TestSwapOrderNonce(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 4)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 10, big.NewInt(1000))
	setBalance(t, sdb, 2, 20, big.NewInt(1000))

	ownOrder := newOrder(t, accs[1], accs[1].addr, 0, 10, 20, 1, 2, 100)
	newSwap := func(submitter *testAccount, n common.Nonce, order0 common.Order) *common.Swap {
		swap := &common.Swap{
			SubmitterID:      submitter.id,
			SubmitterAddress: submitter.addr,
			Nonce:            n,
			Orders: [2]common.Order{
				order0,
				newOrder(t, accs[2], accs[2].addr, 0, 20, 10, 2, 1, 0),
			},
			Amounts:  [2]*big.Int{big.NewInt(100), big.NewInt(200)},
			FeeToken: 0,
			Fee:      big.NewInt(0),
		}
		require.NoError(t, crypto.Sign(&submitter.sk, swap))
		return swap
	}

	tests := []struct {
		name      string
		swap      *common.Swap
		rejected  error
		balance10 int64
		nonces    [4]common.Nonce
	}{
		{
			name: "an order ahead of the account nonce is rejected",
			swap: newSwap(accs[1], 0,
				newOrder(t, accs[1], accs[1].addr, 1, 10, 20, 1, 2, 100)),
			rejected:  ErrNonceMismatch,
			balance10: 1000,
		},
		{
			name:      "submitter owns the exact order",
			swap:      newSwap(accs[1], 0, ownOrder),
			balance10: 900,
			nonces:    [4]common.Nonce{0, 1, 0, 0},
		},
		{
			name:      "another submitter replays the consumed order",
			swap:      newSwap(accs[3], 0, ownOrder),
			rejected:  ErrNonceMismatch,
			balance10: 900,
			nonces:    [4]common.Nonce{0, 1, 0, 0},
		},
		{
			name:      "the owner replays its consumed order",
			swap:      newSwap(accs[1], 1, ownOrder),
			rejected:  ErrNonceMismatch,
			balance10: 900,
			nonces:    [4]common.Nonce{0, 1, 0, 0},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, []common.SignedTx{tc.swap})
			require.NoError(t, err)
			if tc.rejected != nil {
				assert.Empty(t, ptOut.Ops)
				require.Equal(t, 1, len(ptOut.RejectedTxs))
				assert.ErrorIs(t, common.Unwrap(ptOut.RejectedTxs[0].Err), tc.rejected)
			} else {
				require.Empty(t, ptOut.RejectedTxs)
				assert.Equal(t, 1, len(ptOut.Ops))
			}
			assertBig(t, big.NewInt(tc.balance10), balance(t, sdb, 1, 10))
			for i, n := range tc.nonces {
				assert.Equal(t, n, nonce(t, sdb, accs[i].id), "account %d", i)
			}
		})
	}
}

func TestBatchCapacity(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	// room for a deposit (6 chunks) and two transfers (2 chunks each)
	tp := newTestTxProcessor(sdb, 10)
	setBalance(t, sdb, 1, 0, big.NewInt(1000))

	req, err := common.NewDepositRequest(1, &common.Deposit{
		From: accs[2].addr, Token: 0, Amount: big.NewInt(1), To: accs[2].addr,
	}, 10, 100)
	require.NoError(t, err)
	req2, err := common.NewDepositRequest(2, &common.Deposit{
		From: accs[2].addr, Token: 0, Amount: big.NewInt(1), To: accs[2].addr,
	}, 10, 100)
	require.NoError(t, err)
	txs := []common.SignedTx{
		signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(1), big.NewInt(0), 0),
		signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(1), big.NewInt(0), 1),
		signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(1), big.NewInt(0), 2),
	}
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, []common.PriorityRequest{*req, *req2}, txs)
	require.NoError(t, err)
	assert.Equal(t, 10, ptOut.Chunks)
	assert.Equal(t, 3, len(ptOut.Ops))
	require.Equal(t, 1, len(ptOut.PendingPriority))
	assert.Equal(t, uint64(2), ptOut.PendingPriority[0].SerialID)
	// the third transfer doesn't fit
	assert.Equal(t, 1, len(ptOut.PendingTxs))
	assert.Empty(t, ptOut.RejectedTxs)
}

// TestFeeAccountMustExist: crediting the fees of a batch to an unallocated
// account breaks an invariant after the ops were applied, so the batch is
// halted with a fatal error and the StateDB goes back to the last checkpoint
func TestFeeAccountMustExist(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 3)
	tp := newTestTxProcessor(sdb, 0)
	setBalance(t, sdb, 1, 0, big.NewInt(1000))
	require.NoError(t, sdb.MakeCheckpoint())

	tx := signedTransfer(t, accs[1], accs[2].addr, 0, big.NewInt(100), big.NewInt(10), 0)
	_, err := tp.ProcessTxs(common.AccountID(7), timestamp, nil, []common.SignedTx{tx})
	require.Error(t, err)
	assert.True(t, common.IsFatal(err))
	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
	assertBig(t, big.NewInt(1000), balance(t, sdb, 1, 0))
	assertBig(t, big.NewInt(0), balance(t, sdb, 2, 0))
	assert.Equal(t, common.Nonce(0), nonce(t, sdb, 1))
}

// TestFullReserve applies a mix of deposits, transfers and withdrawals and
// checks that the sum of the balances of every token equals deposits minus
// withdrawals
func TestFullReserve(t *testing.T) {
	sdb := newTestStateDB(t, statedb.TypeSynchronizer)
	defer sdb.Close()
	accs := setupAccounts(t, sdb, 4)
	tp := newTestTxProcessor(sdb, 0)

	deposited := map[common.TokenID]*big.Int{0: big.NewInt(0), 1: big.NewInt(0)}
	withdrawn := map[common.TokenID]*big.Int{0: big.NewInt(0), 1: big.NewInt(0)}
	var reqs []common.PriorityRequest
	for i, acc := range accs {
		for _, token := range []common.TokenID{0, 1} {
			amount := big.NewInt(int64(1000 * (i + 1)))
			req, err := common.NewDepositRequest(uint64(len(reqs)), &common.Deposit{
				From: acc.addr, Token: token, Amount: amount, To: acc.addr,
			}, 10, 100)
			require.NoError(t, err)
			reqs = append(reqs, *req)
			deposited[token].Add(deposited[token], amount)
		}
	}
	_, err := tp.ProcessTxs(feeAccount, timestamp, reqs, nil)
	require.NoError(t, err)

	nonces := make([]common.Nonce, len(accs))
	var txs []common.SignedTx
	for i := 1; i < len(accs); i++ {
		for _, token := range []common.TokenID{0, 1} {
			to := accs[(i+1)%len(accs)]
			txs = append(txs, signedTransfer(t, accs[i], to.addr, token,
				big.NewInt(100), big.NewInt(3), nonces[i]))
			nonces[i]++
			w := &common.Withdraw{AccountID: accs[i].id, From: accs[i].addr, To: accs[i].addr,
				Token: token, Amount: big.NewInt(250), Fee: big.NewInt(2), Nonce: nonces[i],
				TimeRange: common.DefaultTimeRange}
			require.NoError(t, crypto.Sign(&accs[i].sk, w))
			txs = append(txs, w)
			nonces[i]++
			withdrawn[token].Add(withdrawn[token], big.NewInt(250))
		}
	}
	ptOut, err := tp.ProcessTxs(feeAccount, timestamp, nil, txs)
	require.NoError(t, err)
	require.Empty(t, ptOut.RejectedTxs)

	for _, token := range []common.TokenID{0, 1} {
		total := big.NewInt(0)
		for _, acc := range accs {
			total.Add(total, balance(t, sdb, acc.id, token))
		}
		expected := new(big.Int).Sub(deposited[token], withdrawn[token])
		assertBig(t, expected, total, "token %d", token)
	}
	for i := 1; i < len(accs); i++ {
		assert.Equal(t, nonces[i], nonce(t, sdb, accs[i].id))
	}
}

// TestProcessOpsReplay replays the pubdata of the batches built by a
// BatchBuilder StateDB in a Synchronizer StateDB and checks that both reach
// the same roots
func TestProcessOpsReplay(t *testing.T) {
	bbDB := newTestStateDB(t, statedb.TypeBatchBuilder)
	defer bbDB.Close()
	syncDB := newTestStateDB(t, statedb.TypeSynchronizer)
	defer syncDB.Close()

	// genesis accounts are created identically in both
	accs := setupAccounts(t, bbDB, 3)
	for _, acc := range accs {
		_, err := syncDB.CreateAccount(acc.id, acc.addr)
		require.NoError(t, err)
		require.NoError(t, syncDB.SetPubKeyHash(acc.id, acc.pkh))
	}
	bb := newTestTxProcessor(bbDB, 0)
	sync := newTestTxProcessor(syncDB, 0)

	receiver := newTestAccount(t, 99)
	var reqs []common.PriorityRequest
	for i, acc := range accs {
		req, err := common.NewDepositRequest(uint64(i), &common.Deposit{
			From: acc.addr, Token: 0, Amount: big.NewInt(1000), To: acc.addr,
		}, 10, 100)
		require.NoError(t, err)
		reqs = append(reqs, *req)
	}
	fullExit, err := common.NewFullExitRequest(3, &common.FullExit{
		AccountID: 2, Owner: accs[1].addr, Token: 0,
	}, 10, 100)
	require.NoError(t, err)
	reqs = append(reqs, *fullExit)

	contentHash := ethCommon.HexToHash("0x01")
	mint := &common.MintNFT{CreatorID: 1, CreatorAddress: accs[1].addr, ContentHash: contentHash,
		Recipient: accs[2].addr, FeeToken: 0, Fee: big.NewInt(1), Nonce: 1}
	require.NoError(t, crypto.Sign(&accs[1].sk, mint))
	txs := []common.SignedTx{
		signedTransfer(t, accs[1], receiver.addr, 0, big.NewInt(100), big.NewInt(2), 0),
		mint,
	}
	w := &common.Withdraw{AccountID: 2, From: accs[2].addr, To: accs[2].addr, Token: 0,
		Amount: big.NewInt(77), Fee: big.NewInt(1), TimeRange: common.DefaultTimeRange}
	require.NoError(t, crypto.Sign(&accs[2].sk, w))
	txs = append(txs, w)

	ptOut, err := bb.ProcessTxs(feeAccount, timestamp, reqs, txs)
	require.NoError(t, err)
	require.Empty(t, ptOut.RejectedTxs)
	require.Equal(t, len(reqs)+len(txs), len(ptOut.Ops))

	var pubData []byte
	for _, op := range ptOut.Ops {
		pubData = append(pubData, op.PubData...)
	}
	ops, err := common.DecodeBatchPubData(pubData)
	require.NoError(t, err)
	syncOut, err := sync.ProcessOps(feeAccount, timestamp, ops)
	require.NoError(t, err)

	assertBig(t, ptOut.NewStateRoot, syncOut.NewStateRoot)
	assertFees(t, ptOut.AccumulatedFees, syncOut.AccumulatedFees)
	assert.Equal(t, 1, len(syncOut.DegradedOps))
	assert.Equal(t, 1, len(syncOut.MintedNFTs))
	id, err := syncDB.GetAccountIDByAddress(receiver.addr)
	require.NoError(t, err)
	assertBig(t, big.NewInt(100), balance(t, syncDB, id, 0))
	assert.Equal(t, bbDB.CurrentBatch(), syncDB.CurrentBatch())
}
