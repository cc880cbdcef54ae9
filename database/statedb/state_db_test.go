package statedb

import (
	"math/big"
	"os"
	"sync"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/common"
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

func newTestStateDB(t *testing.T, typ TypeStateDB, nLevels int) *StateDB {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	sdb, err := NewStateDB(Config{Path: dir, Keep: 128, Type: typ, NLevels: nLevels})
	require.NoError(t, err)
	return sdb
}

func newAddress(t *testing.T) ethCommon.Address {
	key, err := ethCrypto.GenerateKey()
	require.NoError(t, err)
	return ethCrypto.PubkeyToAddress(key.PublicKey)
}

func TestGenesis(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	storage, err := sdb.GetAccount(common.NFTStorageAccountID)
	require.NoError(t, err)
	assert.Equal(t, common.NFTStorageAccountAddress, storage.Address)
	assert.Equal(t, common.MinNFTTokenID.BigInt(), storage.Balance(common.NFTTokenID))

	id, err := sdb.GetAccountIDByAddress(common.NFTStorageAccountAddress)
	require.NoError(t, err)
	assert.Equal(t, common.NFTStorageAccountID, id)

	assert.Equal(t, common.AccountID(0), sdb.NextAccountID())

	// genesis is deterministic
	other := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer other.Close()
	r1, err := sdb.Root()
	require.NoError(t, err)
	r2, err := other.Root()
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestAccountInStateDB(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	// an id that has not been allocated returns the empty account
	acc, err := sdb.GetAccount(3)
	require.NoError(t, err)
	assert.True(t, acc.IsEmpty())
	exists, err := sdb.AccountExists(3)
	require.NoError(t, err)
	assert.False(t, exists)

	var addrs []ethCommon.Address
	for i := 0; i < 4; i++ {
		addr := newAddress(t)
		addrs = append(addrs, addr)
		id, err := sdb.AllocateLowestFreeID()
		require.NoError(t, err)
		assert.Equal(t, common.AccountID(i), id)
		_, err = sdb.CreateAccount(id, addr)
		require.NoError(t, err)
	}
	assert.Equal(t, common.AccountID(4), sdb.NextAccountID())

	for i, addr := range addrs {
		acc, err := sdb.GetAccountByAddress(addr)
		require.NoError(t, err)
		assert.Equal(t, common.AccountID(i), acc.ID)
		assert.Equal(t, common.Nonce(0), acc.Nonce)
		assert.True(t, acc.PubKeyHash.IsZero())
		assert.Equal(t, 0, len(acc.Balances))
	}

	// ids are never reused
	_, err = sdb.CreateAccount(1, newAddress(t))
	assert.Equal(t, ErrAccountAlreadyExists, common.Unwrap(err))
	// ids are sequential
	_, err = sdb.CreateAccount(10, newAddress(t))
	assert.Error(t, err)
	// an address is bound to a single account
	_, err = sdb.CreateAccount(4, addrs[0])
	assert.ErrorIs(t, common.Unwrap(err), ErrAddressAlreadyBound)

	_, err = sdb.GetAccountByAddress(newAddress(t))
	assert.Equal(t, ErrAccountNotFound, common.Unwrap(err))

	_, err = sdb.MTGetAccountProof(2)
	require.NoError(t, err)

	require.NoError(t, sdb.SetNonce(2, 5))
	pkh := common.PubKeyHash{1, 2, 3}
	require.NoError(t, sdb.SetPubKeyHash(2, pkh))
	acc, err = sdb.GetAccount(2)
	require.NoError(t, err)
	assert.Equal(t, common.Nonce(5), acc.Nonce)
	assert.Equal(t, pkh, acc.PubKeyHash)

	err = sdb.SetNonce(100, 1)
	assert.ErrorIs(t, common.Unwrap(err), ErrAccountNotFound)
}

func TestSetBalanceTreeFailure(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()
	_, err := sdb.CreateAccount(0, newAddress(t))
	require.NoError(t, err)
	require.NoError(t, sdb.SetBalance(0, 2, big.NewInt(50)))
	root, err := sdb.Root()
	require.NoError(t, err)

	// a leaf for token 9 exists in the balance subtree but not in the
	// stored balances, so adding it fails
	bt, err := sdb.balanceTree(0)
	require.NoError(t, err)
	require.NoError(t, bt.Add(big.NewInt(9), big.NewInt(1)))
	require.Error(t, sdb.SetBalance(0, 9, big.NewInt(10)))

	sdb.cache.Purge()
	acc, err := sdb.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, map[common.TokenID]*big.Int{2: big.NewInt(50)}, acc.Balances)
	accRoot, err := sdb.Root()
	require.NoError(t, err)
	assert.Equal(t, root, accRoot)
}

func TestBalances(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	addr := newAddress(t)
	_, err := sdb.CreateAccount(0, addr)
	require.NoError(t, err)
	rootEmpty, err := sdb.Root()
	require.NoError(t, err)

	require.NoError(t, sdb.SetBalance(0, 2, big.NewInt(1000)))
	require.NoError(t, sdb.SetBalance(0, 7, big.NewInt(5)))
	rootBalances, err := sdb.Root()
	require.NoError(t, err)
	assert.NotEqual(t, rootEmpty, rootBalances)

	balance, err := sdb.GetBalance(0, 2)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), balance)
	balance, err = sdb.GetBalance(0, 3)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), balance)

	// the balances are loaded from the db when the cache is empty
	sdb.cache.Purge()
	acc, err := sdb.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, map[common.TokenID]*big.Int{2: big.NewInt(1000), 7: big.NewInt(5)},
		acc.Balances)

	// zeroing the balances gives back the root of the empty account
	require.NoError(t, sdb.SetBalance(0, 7, big.NewInt(0)))
	require.NoError(t, sdb.SetBalance(0, 2, big.NewInt(0)))
	root, err := sdb.Root()
	require.NoError(t, err)
	assert.Equal(t, rootEmpty, root)
	sdb.cache.Purge()
	acc, err = sdb.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, 0, len(acc.Balances))

	err = sdb.SetBalance(0, 2, big.NewInt(-1))
	assert.Equal(t, common.ErrNegativeAmount, common.Unwrap(err))
	err = sdb.SetBalance(0, 2, new(big.Int).Add(common.MaxBalance, big.NewInt(1)))
	assert.ErrorIs(t, common.Unwrap(err), common.ErrNumOverflow)
	require.NoError(t, sdb.SetBalance(0, 2, common.MaxBalance))

	w, err := sdb.AccountWitness(0, 2)
	require.NoError(t, err)
	assert.Equal(t, common.MaxBalance, w.Balance)
	assert.Equal(t, new(big.Int).SetBytes(addr.Bytes()), w.EthAddr)
	assert.Equal(t, common.AccountTreeDepth, len(w.Siblings))
	assert.Equal(t, common.BalanceTreeDepth, len(w.BSiblings))
}

func TestRootIsOrderIndependent(t *testing.T) {
	addrA := newAddress(t)
	addrB := newAddress(t)

	sdb1 := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb1.Close()
	_, err := sdb1.CreateAccount(0, addrA)
	require.NoError(t, err)
	_, err = sdb1.CreateAccount(1, addrB)
	require.NoError(t, err)
	require.NoError(t, sdb1.SetBalance(0, 1, big.NewInt(10)))
	require.NoError(t, sdb1.SetBalance(1, 1, big.NewInt(20)))

	sdb2 := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb2.Close()
	_, err = sdb2.CreateAccount(0, addrA)
	require.NoError(t, err)
	_, err = sdb2.CreateAccount(1, addrB)
	require.NoError(t, err)
	require.NoError(t, sdb2.SetBalance(1, 1, big.NewInt(20)))
	require.NoError(t, sdb2.SetBalance(0, 1, big.NewInt(7)))
	require.NoError(t, sdb2.SetBalance(0, 1, big.NewInt(10)))

	r1, err := sdb1.Root()
	require.NoError(t, err)
	r2, err := sdb2.Root()
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestStateDBWithoutMT(t *testing.T) {
	sdb := newTestStateDB(t, TypeTxSelector, 0)
	defer sdb.Close()

	_, err := sdb.Root()
	assert.Equal(t, ErrStateDBWithoutMT, common.Unwrap(err))

	_, err = sdb.CreateAccount(0, newAddress(t))
	require.NoError(t, err)
	require.NoError(t, sdb.SetBalance(0, 1, big.NewInt(10)))
	balance, err := sdb.GetBalance(0, 1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), balance)

	_, err = sdb.MTGetAccountProof(0)
	assert.Equal(t, ErrStateDBWithoutMT, common.Unwrap(err))

	_, err = NewStateDB(Config{Path: t.TempDir(), Type: TypeTxSelector, NLevels: 24})
	assert.Error(t, err)
	_, err = NewStateDB(Config{Path: t.TempDir(), Type: TypeBatchBuilder, NLevels: MaxNLevels + 1})
	assert.ErrorIs(t, common.Unwrap(err), ErrTreeCapacity)
}

func TestNFT(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	nft := &common.NFT{
		ID:             common.MinNFTTokenID,
		SerialID:       0,
		CreatorID:      3,
		CreatorAddress: newAddress(t),
		ContentHash:    ethCommon.HexToHash("0x1234"),
	}
	_, err := sdb.GetNFT(nft.ID)
	assert.ErrorIs(t, common.Unwrap(err), db.ErrNotFound)
	require.NoError(t, sdb.SetNFT(nft))
	got, err := sdb.GetNFT(nft.ID)
	require.NoError(t, err)
	assert.Equal(t, nft, got)
	// metadata is written once
	assert.Error(t, sdb.SetNFT(nft))

	nft.ID = 5
	assert.Error(t, sdb.SetNFT(nft))
}

func TestCheckpointAndReset(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	genesisRoot, err := sdb.Root()
	require.NoError(t, err)

	addr := newAddress(t)
	_, err = sdb.CreateAccount(0, addr)
	require.NoError(t, err)
	require.NoError(t, sdb.SetBalance(0, 1, big.NewInt(100)))
	require.NoError(t, sdb.MakeCheckpoint())
	root1, err := sdb.Root()
	require.NoError(t, err)

	// the last checkpoint can be read concurrently
	lastAcc, err := sdb.LastGetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), lastAcc.Balance(1))
	bn, err := sdb.LastGetCurrentBatch()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(1), bn)

	_, err = sdb.CreateAccount(1, newAddress(t))
	require.NoError(t, err)
	require.NoError(t, sdb.SetBalance(0, 1, big.NewInt(1)))
	require.NoError(t, sdb.MakeCheckpoint())

	require.NoError(t, sdb.Reset(1))
	root, err := sdb.Root()
	require.NoError(t, err)
	assert.Equal(t, root1, root)
	assert.Equal(t, common.AccountID(1), sdb.NextAccountID())
	balance, err := sdb.GetBalance(0, 1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), balance)
	exists, err := sdb.AccountExists(1)
	require.NoError(t, err)
	assert.False(t, exists)

	// back to genesis
	require.NoError(t, sdb.Reset(0))
	root, err = sdb.Root()
	require.NoError(t, err)
	assert.Equal(t, genesisRoot, root)
	assert.Equal(t, common.AccountID(0), sdb.NextAccountID())
	_, err = sdb.GetAccountIDByAddress(addr)
	assert.Equal(t, ErrAccountNotFound, common.Unwrap(err))
}

func TestLocalStateDBReset(t *testing.T) {
	synchDB := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer synchDB.Close()
	_, err := synchDB.CreateAccount(0, newAddress(t))
	require.NoError(t, err)
	require.NoError(t, synchDB.SetBalance(0, 1, big.NewInt(42)))
	require.NoError(t, synchDB.MakeCheckpoint())

	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	ldb, err := NewLocalStateDB(Config{Path: dir, Keep: 128, Type: TypeBatchBuilder,
		NLevels: MaxNLevels}, synchDB)
	require.NoError(t, err)
	defer ldb.Close()

	require.NoError(t, ldb.Reset(1, true))
	balance, err := ldb.GetBalance(0, 1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), balance)
	r1, err := synchDB.Root()
	require.NoError(t, err)
	r2, err := ldb.Root()
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestNewStateDBIntermediateState(t *testing.T) {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)

	sdb, err := NewStateDB(Config{Path: dir, Keep: 128, Type: TypeTxSelector, NLevels: 0})
	require.NoError(t, err)

	k0 := []byte("testkey0")
	v0 := []byte("testvalue0")

	tx, err := sdb.db.DB().NewTx()
	require.NoError(t, err)
	require.NoError(t, tx.Put(k0, v0))
	require.NoError(t, tx.Commit())

	// k0 not yet in last
	err = sdb.LastRead(func(sdb *Last) error {
		_, err := sdb.DB().Get(k0)
		assert.Equal(t, db.ErrNotFound, common.Unwrap(err))
		return nil
	})
	require.NoError(t, err)

	sdb.Close()

	// NewStateDB gets the db at the last checkpoint, discarding k0
	sdb, err = NewStateDB(Config{Path: dir, Keep: 128, Type: TypeTxSelector, NLevels: 0})
	require.NoError(t, err)
	_, err = sdb.db.DB().Get(k0)
	assert.Equal(t, db.ErrNotFound, common.Unwrap(err))

	tx, err = sdb.db.DB().NewTx()
	require.NoError(t, err)
	require.NoError(t, tx.Put(k0, v0))
	require.NoError(t, tx.Commit())
	require.NoError(t, sdb.MakeCheckpoint())
	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())

	err = sdb.LastRead(func(sdb *Last) error {
		v, err := sdb.DB().Get(k0)
		require.NoError(t, err)
		assert.Equal(t, v0, v)
		return nil
	})
	require.NoError(t, err)
	sdb.Close()
}

func TestListCheckpoints(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	numCheckpoints := 16
	for i := 0; i < numCheckpoints; i++ {
		require.NoError(t, sdb.MakeCheckpoint())
	}
	list, err := sdb.db.ListCheckpoints()
	require.NoError(t, err)
	assert.Equal(t, numCheckpoints, len(list))
	assert.Equal(t, 1, list[0])
	assert.Equal(t, numCheckpoints, list[len(list)-1])

	numReset := 10
	require.NoError(t, sdb.Reset(common.BatchNum(numReset)))
	list, err = sdb.db.ListCheckpoints()
	require.NoError(t, err)
	assert.Equal(t, numReset, len(list))
	assert.Equal(t, 1, list[0])
	assert.Equal(t, numReset, list[len(list)-1])
}

func TestConcurrentDeleteOldCheckpoints(t *testing.T) {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)

	keep := 16
	sdb, err := NewStateDB(Config{Path: dir, Keep: keep, Type: TypeSynchronizer, NLevels: MaxNLevels})
	require.NoError(t, err)
	defer sdb.Close()

	numCheckpoints := 32
	for i := 0; i < numCheckpoints; i++ {
		require.NoError(t, sdb.MakeCheckpoint())
		wg := sync.WaitGroup{}
		n := 10
		wg.Add(n)
		for j := 0; j < n; j++ {
			go func() {
				defer wg.Done()
				err := sdb.DeleteOldCheckpoints()
				assert.NoError(t, err)
				checkpoints, err := sdb.db.ListCheckpoints()
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(checkpoints), keep)
			}()
		}
		wg.Wait()
	}
}

func TestResetFromBadCheckpoint(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, sdb.MakeCheckpoint())
	}
	// reset from a checkpoint that doesn't exist
	require.Error(t, sdb.Reset(10))
}

func TestSetAddress(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	_, err := sdb.CreateAccount(0, ethCommon.Address{})
	require.NoError(t, err)
	addr := newAddress(t)
	require.NoError(t, sdb.SetAddress(0, addr))
	id, err := sdb.GetAccountIDByAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, common.AccountID(0), id)

	// binding the same address again is a noop
	require.NoError(t, sdb.SetAddress(0, addr))
	err = sdb.SetAddress(0, newAddress(t))
	assert.ErrorIs(t, common.Unwrap(err), ErrAddressAlreadyBound)
}

func TestExitProofs(t *testing.T) {
	sdb := newTestStateDB(t, TypeSynchronizer, MaxNLevels)
	defer sdb.Close()

	for i := 0; i < 4; i++ {
		id, err := sdb.AllocateLowestFreeID()
		require.NoError(t, err)
		_, err = sdb.CreateAccount(id, newAddress(t))
		require.NoError(t, err)
		require.NoError(t, sdb.SetBalance(id, 1, big.NewInt(int64(100*(i+1)))))
	}
	accProof, balProof, err := sdb.MTGenerateExitProofs(2, 1)
	require.NoError(t, err)
	assert.True(t, accProof.Existence)
	assert.True(t, balProof.Existence)

	acc, err := sdb.GetAccount(2)
	require.NoError(t, err)
	balanceRoot, err := sdb.BalanceRoot(2)
	require.NoError(t, err)
	leaf, err := AccountLeafHash(acc, balanceRoot)
	require.NoError(t, err)
	root, err := sdb.Root()
	require.NoError(t, err)
	assert.True(t, merkletree.VerifyProof(root, accProof, big.NewInt(2), leaf))
	assert.True(t, merkletree.VerifyProof(merkletree.NewHashFromBigInt(balanceRoot), balProof,
		big.NewInt(1), big.NewInt(300)))
	assert.False(t, merkletree.VerifyProof(merkletree.NewHashFromBigInt(balanceRoot), balProof,
		big.NewInt(1), big.NewInt(301)))

	// a token the account doesn't hold has a non existence proof
	_, balProof, err = sdb.MTGenerateExitProofs(2, 5)
	require.NoError(t, err)
	assert.False(t, balProof.Existence)
}
