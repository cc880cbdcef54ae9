package statedb

import (
	"errors"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db"
	"github.com/iden3/go-merkletree/db/pebble"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/kvdb"
	"tokamak-zkrollup/log"
)

const (
	// TypeSynchronizer defines a StateDB used by the Synchronizer, that
	// restores the state from the batches committed on L1
	TypeSynchronizer = "synchronizer"
	// TypeTxSelector defines a StateDB used by the TxSelector, without
	// computing the merkle trees neither the ZKInputs
	TypeTxSelector = "txselector"
	// TypeBatchBuilder defines a StateDB used by the BatchBuilder, that
	// computes the roots and the ZKInputs when processing the ops
	TypeBatchBuilder = "batchbuilder"
	// MaxNLevels is the maximum value of NLevels for the account tree,
	// which comes from the fact that the circuit is built for 24 levels.
	MaxNLevels = common.AccountTreeDepth
	// defaultCacheSize is the number of accounts kept in the LRU cache
	defaultCacheSize = 1024
)

// Config of the StateDB
type Config struct {
	// Path where the checkpoints will be stored
	Path string
	// Keep is the number of old checkpoints to keep.  If 0, all
	// checkpoints are kept.
	Keep int
	// NoLast skips having an opened DB with a checkpoint to the last
	// batchNum for thread-safe reads.
	NoLast bool
	// Type of StateDB (
	Type TypeStateDB
	// NLevels is the number of account tree levels in case the Type uses
	// a merkle tree.  If the Type doesn't use a merkle tree, NLevels
	// should be 0.
	NLevels int
	// CacheSize is the number of accounts kept in memory.  0 means the
	// default size.
	CacheSize int
	// At every checkpoint, check that there are no gaps between the
	// checkpoints
	noGapsCheck bool
}

var (
	// ErrStateDBWithoutMT is used when a method that requires a MerkleTree
	// is called in a StateDB that does not have a MerkleTree defined
	ErrStateDBWithoutMT = errors.New(
		"cannot call method to use MerkleTree in a StateDB without MerkleTree")
	// ErrAccountNotFound is used when trying to get the AccountID from an
	// address that is not bound to any account
	ErrAccountNotFound = errors.New("account can not be found")
	// ErrAccountAlreadyExists is used when CreateAccount is called with
	// an id that is already allocated
	ErrAccountAlreadyExists = errors.New("can not create account: account already exists")
	// ErrTreeCapacity is returned when allocating an account or addressing
	// a token beyond the capacity of the trees.  It is a fatal
	// configuration error.
	ErrTreeCapacity = errors.New("state tree capacity exceeded")
	// ErrAddressAlreadyBound is returned when binding an address to an
	// account that already has one
	ErrAddressAlreadyBound = errors.New("account address is already bound")

	// PrefixKeyMTAcc is the key prefix for account merkle tree in the db
	PrefixKeyMTAcc = []byte("ma:")
	// PrefixKeyMTBal is the key prefix for the balance merkle trees in
	// the db, followed by the account id
	PrefixKeyMTBal = []byte("mb:")
	// PrefixKeyAccount is the key prefix for the account leaf data
	PrefixKeyAccount = []byte("ac:")
	// PrefixKeyBalance is the key prefix for the balances, followed by
	// the account id and the token id
	PrefixKeyBalance = []byte("bl:")
	// PrefixKeyAddr is the key prefix for address-accountID in the db
	PrefixKeyAddr = []byte("a:")
	// PrefixKeyNFT is the key prefix for the NFT metadata in the db
	PrefixKeyNFT = []byte("n:")
)

// TypeStateDB determines the type of StateDB
type TypeStateDB string

// StateDB represents the state database with an integrated Merkle tree.
type StateDB struct {
	cfg         Config
	db          *kvdb.KVDB
	AccountTree *merkletree.MerkleTree
	cache       *lru.Cache
}

// Last offers a subset of view methods of the StateDB that can be
// called via the LastRead method of the StateDB in a thread-safe manner to
// obtain a consistent view to the last batch of the StateDB.
type Last struct {
	db db.Storage
}

// LocalStateDB represents the local StateDB which allows to make copies from
// the synchronizer StateDB, and is used by the tx-selector and the
// batch-builder.
type LocalStateDB struct {
	*StateDB
	synchronizerStateDB *StateDB
}

// GetAccount returns the account for the given AccountID
func (s *Last) GetAccount(id common.AccountID) (*common.Account, error) {
	return GetAccountInTreeDB(s.db, id)
}

// GetAccountByAddress returns the account bound to addr
func (s *Last) GetAccountByAddress(addr ethCommon.Address) (*common.Account, error) {
	id, err := getAccountIDByAddress(s.db, addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return GetAccountInTreeDB(s.db, id)
}

// GetNFT returns the metadata of an NFT
func (s *Last) GetNFT(token common.TokenID) (*common.NFT, error) {
	return getNFT(s.db, token)
}

// DB returns the underlying storage of Last
func (s *Last) DB() db.Storage {
	return s.db
}

// NewStateDB creates a new StateDB, allowing to use an in-memory or in-disk
// storage.  Checkpoints older than the value defined by `keep` will be
// deleted.
func NewStateDB(cfg Config) (*StateDB, error) {
	if cfg.Type == TypeTxSelector && cfg.NLevels != 0 {
		return nil, common.Wrap(
			fmt.Errorf("invalid StateDB parameters: StateDB type==TypeTxSelector can not have NLevels!=0"))
	}
	if cfg.NLevels > MaxNLevels {
		return nil, common.Wrap(fmt.Errorf("%w: NLevels %d > %d", ErrTreeCapacity, cfg.NLevels, MaxNLevels))
	}
	kv, err := kvdb.NewKVDB(kvdb.Config{Path: cfg.Path, Keep: cfg.Keep,
		NoGapsCheck: cfg.noGapsCheck, NoLast: cfg.NoLast})
	if err != nil {
		return nil, common.Wrap(err)
	}
	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, common.Wrap(err)
	}
	s := &StateDB{
		cfg:   cfg,
		db:    kv,
		cache: cache,
	}
	if err := s.openTrees(); err != nil {
		return nil, common.Wrap(err)
	}
	if err := s.initGenesis(); err != nil {
		return nil, common.Wrap(err)
	}
	return s, nil
}

func (s *StateDB) openTrees() error {
	if s.cfg.NLevels == 0 {
		s.AccountTree = nil
		return nil
	}
	mt, err := merkletree.NewMerkleTree(s.db.StorageWithPrefix(PrefixKeyMTAcc), s.cfg.NLevels)
	if err != nil {
		return common.Wrap(err)
	}
	s.AccountTree = mt
	return nil
}

// initGenesis creates the NFT storage account on an empty state
func (s *StateDB) initGenesis() error {
	exists, err := s.AccountExists(common.NFTStorageAccountID)
	if err != nil {
		return common.Wrap(err)
	}
	if exists {
		return nil
	}
	acc := common.NewAccount(common.NFTStorageAccountID, common.NFTStorageAccountAddress)
	if _, err := s.putAccount(acc, true); err != nil {
		return common.Wrap(err)
	}
	if err := s.setAccountIDByAddress(acc.ID, acc.Address); err != nil {
		return common.Wrap(err)
	}
	return s.SetBalance(common.NFTStorageAccountID, common.NFTTokenID,
		common.MinNFTTokenID.BigInt())
}

// Type returns the StateDB configured Type
func (s *StateDB) Type() TypeStateDB {
	return s.cfg.Type
}

// LastRead is a thread-safe method to query the last checkpoint of the StateDB
// via the Last type methods
func (s *StateDB) LastRead(fn func(sdbLast *Last) error) error {
	return s.db.LastRead(
		func(db *pebble.Storage) error {
			return fn(&Last{
				db: db,
			})
		},
	)
}

// LastGetAccount is a thread-safe method to query an account in the last
// checkpoint of the StateDB.
func (s *StateDB) LastGetAccount(id common.AccountID) (*common.Account, error) {
	var account *common.Account
	if err := s.LastRead(func(sdb *Last) error {
		var err error
		account, err = sdb.GetAccount(id)
		return err
	}); err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// LastGetCurrentBatch is a thread-safe method to get the current BatchNum in
// the last checkpoint of the StateDB.
func (s *StateDB) LastGetCurrentBatch() (common.BatchNum, error) {
	var batchNum common.BatchNum
	if err := s.LastRead(func(sdb *Last) error {
		b, err := sdb.db.Get(kvdb.KeyCurrentBatch)
		if common.Unwrap(err) == db.ErrNotFound {
			batchNum = 0
			return nil
		} else if err != nil {
			return common.Wrap(err)
		}
		batchNum, err = common.BatchNumFromBytes(b)
		return common.Wrap(err)
	}); err != nil {
		return 0, common.Wrap(err)
	}
	return batchNum, nil
}

// Close closes the StateDB.
func (s *StateDB) Close() {
	s.db.Close()
}

// NewLocalStateDB returns a new LocalStateDB connected to the given
// synchronizerDB.  Checkpoints older than the value defined by `keep` will be
// deleted.
func NewLocalStateDB(cfg Config, synchronizerDB *StateDB) (*LocalStateDB, error) {
	cfg.noGapsCheck = true
	cfg.NoLast = true
	s, err := NewStateDB(cfg)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &LocalStateDB{
		s,
		synchronizerDB,
	}, nil
}

// Reset resets the StateDB to the checkpoint at the given batchNum. Reset
// does not delete the checkpoints between old current and the new current,
// those checkpoints will remain in the storage, and eventually will be
// deleted when MakeCheckpoint overwrites them.
func (s *StateDB) Reset(batchNum common.BatchNum) error {
	log.Debugw("Making StateDB Reset", "batch", batchNum, "type", s.cfg.Type)
	if err := s.db.Reset(batchNum); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(s.reopen())
}

func (s *StateDB) reopen() error {
	s.cache.Purge()
	if err := s.openTrees(); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(s.initGenesis())
}

// MakeCheckpoint does a checkpoint at the given batchNum in the defined path.
// Internally this advances & stores the current BatchNum, and then stores a
// Checkpoint of the current state of the StateDB.
func (s *StateDB) MakeCheckpoint() error {
	log.Debugw("Making StateDB checkpoint", "batch", s.CurrentBatch()+1, "type", s.cfg.Type)
	return s.db.MakeCheckpoint()
}

// CurrentBatch returns the current in-memory CurrentBatch of the StateDB.db
func (s *StateDB) CurrentBatch() common.BatchNum {
	return s.db.CurrentBatch
}

// DeleteOldCheckpoints deletes old checkpoints when there are more than
// `cfg.keep` checkpoints
func (s *StateDB) DeleteOldCheckpoints() error {
	return s.db.DeleteOldCheckpoints()
}

// CheckpointExists returns true if the checkpoint exists
func (s *StateDB) CheckpointExists(batchNum common.BatchNum) (bool, error) {
	return s.db.CheckpointExists(batchNum)
}

// Root returns the root of the account tree
func (s *StateDB) Root() (*merkletree.Hash, error) {
	if s.AccountTree == nil {
		return nil, common.Wrap(ErrStateDBWithoutMT)
	}
	return s.AccountTree.Root(), nil
}

// Reset performs a reset in the LocalStateDB. If fromSynchronizer is true, it
// gets the state from LocalStateDB.synchronizerStateDB for the given batchNum.
// If fromSynchronizer is false, get the state from LocalStateDB checkpoints.
func (l *LocalStateDB) Reset(batchNum common.BatchNum, fromSynchronizer bool) error {
	if fromSynchronizer {
		log.Debugw("Making StateDB ResetFromSynchronizer", "batch", batchNum, "type", l.cfg.Type)
		if err := l.db.ResetFromSynchronizer(batchNum, l.synchronizerStateDB.db); err != nil {
			return common.Wrap(err)
		}
		return common.Wrap(l.reopen())
	}
	// use checkpoint from LocalStateDB
	return l.StateDB.Reset(batchNum)
}
