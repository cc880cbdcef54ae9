package kvdb

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/iden3/go-merkletree/db"
	"github.com/iden3/go-merkletree/db/pebble"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/log"
)

const (
	// PathBatchNum is the prefix of the checkpoint directories, followed
	// by the batch number
	PathBatchNum = "BatchNum"
	// PathCurrent is the directory of the writable db
	PathCurrent = "current"
	// PathLast is the directory of the read only copy of the last
	// checkpoint
	PathLast = "last"
	// DefaultKeep is the default value for the Keep parameter
	DefaultKeep = 128
)

var (
	// KeyCurrentBatch is used as key in the db to store the current BatchNum
	KeyCurrentBatch = []byte("k:currentbatch")
	// keyNextAccountID is used as key in the db to store the lowest
	// account id that has not been allocated yet
	keyNextAccountID = []byte("k:nextAccountID")
	// ErrNoLast is returned when the KVDB has been configured to not have
	// a Last checkpoint but a Last method is used
	ErrNoLast = fmt.Errorf("no last checkpoint")
)

// Config of the KVDB
type Config struct {
	// Path where the checkpoints will be stored
	Path string
	// Keep is the number of old checkpoints to keep.  If 0, all
	// checkpoints are kept.
	Keep int
	// NoGapsCheck disables the check for gaps between checkpoints when
	// listing them
	NoGapsCheck bool
	// NoLast skips having an opened DB with a checkpoint to the last
	// batchNum for thread-safe reads.
	NoLast bool
}

// KVDB is a pebble key-value store with one checkpoint per batch.  Writes go
// to the `current` db; MakeCheckpoint freezes it as `BatchNum<n>` and Reset
// rolls `current` back to any kept checkpoint.
type KVDB struct {
	cfg Config
	db  *pebble.Storage
	// NextAccountID holds the lowest free account id.  Ids are allocated
	// in increasing order and never reused, so every id below it is taken.
	NextAccountID   common.AccountID
	CurrentBatch    common.BatchNum
	mutexCheckpoint sync.Mutex
	mutexDelOld     sync.Mutex
	wg              sync.WaitGroup
	last            *Last
}

// Last is a consistent view to the last batch of the stateDB that can
// be queried concurrently.
type Last struct {
	db   *pebble.Storage
	path string
	rw   sync.RWMutex
}

// replace swaps the opened last db for a fresh one.  When fill is not nil it
// is called to populate the directory before opening it.
func (l *Last) replace(fill func(dest string) error) error {
	l.rw.Lock()
	defer l.rw.Unlock()
	l.closeDB()
	lastPath := path.Join(l.path, PathLast)
	if err := os.RemoveAll(lastPath); err != nil {
		return common.Wrap(err)
	}
	if fill != nil {
		if err := fill(lastPath); err != nil {
			return common.Wrap(err)
		}
	}
	sto, err := pebble.NewPebbleStorage(lastPath, false)
	if err != nil {
		return common.Wrap(err)
	}
	l.db = sto
	return nil
}

func (l *Last) closeDB() {
	if l.db != nil {
		l.db.Close()
		l.db = nil
	}
}

func (l *Last) close() {
	l.rw.Lock()
	defer l.rw.Unlock()
	l.closeDB()
}

// NewKVDB opens the KVDB stored at cfg.Path, restoring the `current` db
// from the checkpoint of the last stored batch.
func NewKVDB(cfg Config) (*KVDB, error) {
	sto, err := pebble.NewPebbleStorage(path.Join(cfg.Path, PathCurrent), false)
	if err != nil {
		return nil, common.Wrap(err)
	}
	k := &KVDB{
		cfg: cfg,
		db:  sto,
	}
	if !cfg.NoLast {
		k.last = &Last{path: cfg.Path}
	}
	if k.CurrentBatch, err = k.GetCurrentBatch(); err != nil {
		return nil, common.Wrap(err)
	}
	if err := k.Reset(k.CurrentBatch); err != nil {
		return nil, common.Wrap(err)
	}
	return k, nil
}

// LastRead calls fn with the db of the last checkpoint while holding a read
// lock on it
func (k *KVDB) LastRead(fn func(db *pebble.Storage) error) error {
	if k.last == nil {
		return common.Wrap(ErrNoLast)
	}
	k.last.rw.RLock()
	defer k.last.rw.RUnlock()
	return fn(k.last.db)
}

// DB returns the *pebble.Storage from the KVDB
func (k *KVDB) DB() *pebble.Storage {
	return k.db
}

// StorageWithPrefix returns the db.Storage with the given prefix from the
// current KVDB
func (k *KVDB) StorageWithPrefix(prefix []byte) db.Storage {
	return k.db.WithPrefix(prefix)
}

func (k *KVDB) checkpointPath(batchNum common.BatchNum) string {
	return path.Join(k.cfg.Path, PathBatchNum+strconv.Itoa(int(batchNum)))
}

func (k *KVDB) currentPath() string {
	return path.Join(k.cfg.Path, PathCurrent)
}

func (k *KVDB) closeCurrent() {
	if k.db != nil {
		k.db.Close()
		k.db = nil
	}
}

// openCurrent opens the `current` db and loads the counters stored in it
func (k *KVDB) openCurrent() error {
	sto, err := pebble.NewPebbleStorage(k.currentPath(), false)
	if err != nil {
		return common.Wrap(err)
	}
	k.db = sto
	if k.CurrentBatch, err = k.GetCurrentBatch(); err != nil {
		return common.Wrap(err)
	}
	if k.NextAccountID, err = k.GetNextAccountID(); err != nil {
		return common.Wrap(err)
	}
	return nil
}

// deleteCheckpointsAfter removes every checkpoint with a batch number
// strictly greater than batchNum
func (k *KVDB) deleteCheckpointsAfter(batchNum common.BatchNum) error {
	list, err := k.ListCheckpoints()
	if err != nil {
		return common.Wrap(err)
	}
	for _, bn := range list {
		if common.BatchNum(bn) <= batchNum {
			continue
		}
		if err := k.DeleteCheckpoint(common.BatchNum(bn)); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

// ResetFromSynchronizer drops every local checkpoint and replaces the state
// with the checkpoint at batchNum of synchronizerKVDB
func (k *KVDB) ResetFromSynchronizer(batchNum common.BatchNum, synchronizerKVDB *KVDB) error {
	if synchronizerKVDB == nil {
		return common.Wrap(fmt.Errorf("synchronizerKVDB can not be nil"))
	}
	k.closeCurrent()
	if err := os.RemoveAll(k.currentPath()); err != nil {
		return common.Wrap(err)
	}
	if err := k.deleteCheckpointsAfter(0); err != nil {
		return common.Wrap(err)
	}
	if batchNum > 0 {
		if err := synchronizerKVDB.MakeCheckpointFromTo(batchNum,
			k.checkpointPath(batchNum)); err != nil {
			return common.Wrap(err)
		}
		if err := k.MakeCheckpointFromTo(batchNum, k.currentPath()); err != nil {
			return common.Wrap(err)
		}
	}
	return common.Wrap(k.openCurrent())
}

// Reset rolls the KVDB back to the checkpoint at batchNum.  Checkpoints
// after batchNum are deleted; batchNum 0 gives an empty db.
func (k *KVDB) Reset(batchNum common.BatchNum) error {
	k.closeCurrent()
	if err := os.RemoveAll(k.currentPath()); err != nil {
		return common.Wrap(err)
	}
	if err := k.deleteCheckpointsAfter(batchNum); err != nil {
		return common.Wrap(err)
	}
	if batchNum > 0 {
		if err := k.MakeCheckpointFromTo(batchNum, k.currentPath()); err != nil {
			return common.Wrap(err)
		}
	}
	if k.last != nil {
		var fill func(string) error
		if batchNum > 0 {
			fill = func(dest string) error { return k.MakeCheckpointFromTo(batchNum, dest) }
		}
		if err := k.last.replace(fill); err != nil {
			return common.Wrap(err)
		}
	}
	return common.Wrap(k.openCurrent())
}

// GetNextAccountID returns the stored lowest free account id
func (k *KVDB) GetNextAccountID() (common.AccountID, error) {
	b, err := k.get(keyNextAccountID)
	if err != nil || b == nil {
		return 0, err
	}
	return common.AccountIDFromBytes(b)
}

// GetCurrentBatch returns the current BatchNum stored in the KVDB
func (k *KVDB) GetCurrentBatch() (common.BatchNum, error) {
	b, err := k.get(KeyCurrentBatch)
	if err != nil || b == nil {
		return 0, err
	}
	return common.BatchNumFromBytes(b)
}

// get returns nil without error when the key is missing
func (k *KVDB) get(key []byte) ([]byte, error) {
	v, err := k.db.Get(key)
	if common.Unwrap(err) == db.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	return v, nil
}

func (k *KVDB) put(key, value []byte) error {
	tx, err := k.db.NewTx()
	if err != nil {
		return common.Wrap(err)
	}
	if err := tx.Put(key, value); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(tx.Commit())
}

// SetNextAccountID stores the lowest free account id in the KVDB
func (k *KVDB) SetNextAccountID(id common.AccountID) error {
	if err := k.put(keyNextAccountID, id.Bytes()); err != nil {
		return common.Wrap(err)
	}
	k.NextAccountID = id
	return nil
}

// ListCheckpoints returns the sorted batch numbers of the stored
// checkpoints.  Unless NoGapsCheck is set, a gap in the sequence is an error.
func (k *KVDB) ListCheckpoints() ([]int, error) {
	entries, err := os.ReadDir(k.cfg.Path)
	if err != nil {
		return nil, common.Wrap(err)
	}
	checkpoints := []int{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, PathBatchNum) {
			continue
		}
		bn, err := strconv.Atoi(strings.TrimPrefix(name, PathBatchNum))
		if err != nil {
			return nil, common.Wrap(fmt.Errorf("invalid checkpoint dir %q: %w", name, err))
		}
		checkpoints = append(checkpoints, bn)
	}
	sort.Ints(checkpoints)
	if k.cfg.NoGapsCheck {
		return checkpoints, nil
	}
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i] != checkpoints[i-1]+1 {
			log.Errorw("gap between checkpoints", "checkpoints", checkpoints)
			return nil, common.Wrap(fmt.Errorf("checkpoint gap at %v", checkpoints[i]))
		}
	}
	return checkpoints, nil
}

// DeleteCheckpoint removes the checkpoint of the given batchNum, failing if
// it does not exist
func (k *KVDB) DeleteCheckpoint(batchNum common.BatchNum) error {
	exists, err := k.CheckpointExists(batchNum)
	if err != nil {
		return common.Wrap(err)
	}
	if !exists {
		return common.Wrap(fmt.Errorf("checkpoint with batchNum %d does not exist in DB", batchNum))
	}
	return common.Wrap(os.RemoveAll(k.checkpointPath(batchNum)))
}

// MakeCheckpointFromTo copies the checkpoint at fromBatchNum into dest.
// Calls are serialized so that the synchronizer and the pipeline can reset
// from the same db concurrently.
func (k *KVDB) MakeCheckpointFromTo(fromBatchNum common.BatchNum, dest string) error {
	exists, err := k.CheckpointExists(fromBatchNum)
	if err != nil {
		return common.Wrap(err)
	}
	if !exists {
		return common.Wrap(fmt.Errorf("checkpoint %q does not exist", k.checkpointPath(fromBatchNum)))
	}
	k.mutexCheckpoint.Lock()
	defer k.mutexCheckpoint.Unlock()
	return PebbleMakeCheckpoint(k.checkpointPath(fromBatchNum), dest)
}

// PebbleMakeCheckpoint opens the pebble db at source and writes a checkpoint
// of it to dest, replacing whatever dest held.
func PebbleMakeCheckpoint(source, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return common.Wrap(err)
	}
	sto, err := pebble.NewPebbleStorage(source, false)
	if err != nil {
		return common.Wrap(err)
	}
	defer sto.Close()
	return common.Wrap(sto.Pebble().Checkpoint(dest))
}

// MakeCheckpoint advances CurrentBatch and stores a checkpoint of the
// current db under it.  Old checkpoints beyond Keep are deleted in the
// background.
func (k *KVDB) MakeCheckpoint() error {
	k.CurrentBatch++
	if err := k.put(KeyCurrentBatch, k.CurrentBatch.Bytes()); err != nil {
		return common.Wrap(err)
	}
	dest := k.checkpointPath(k.CurrentBatch)
	if err := os.RemoveAll(dest); err != nil {
		return common.Wrap(err)
	}
	if err := k.db.Pebble().Checkpoint(dest); err != nil {
		return common.Wrap(err)
	}
	if k.last != nil {
		batchNum := k.CurrentBatch
		if err := k.last.replace(func(dest string) error {
			return k.MakeCheckpointFromTo(batchNum, dest)
		}); err != nil {
			return common.Wrap(err)
		}
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		if err := k.DeleteOldCheckpoints(); err != nil {
			log.Errorw("delete old checkpoints failed", "err", err)
		}
	}()
	return nil
}

// DeleteOldCheckpoints deletes the oldest checkpoints until at most
// cfg.Keep remain
func (k *KVDB) DeleteOldCheckpoints() error {
	k.mutexDelOld.Lock()
	defer k.mutexDelOld.Unlock()

	if k.cfg.Keep <= 0 {
		return nil
	}
	list, err := k.ListCheckpoints()
	if err != nil {
		return common.Wrap(err)
	}
	for len(list) > k.cfg.Keep {
		if err := k.DeleteCheckpoint(common.BatchNum(list[0])); err != nil {
			return common.Wrap(err)
		}
		list = list[1:]
	}
	return nil
}

// Close the DB, waiting for any pending checkpoint deletion
func (k *KVDB) Close() {
	k.closeCurrent()
	if k.last != nil {
		k.last.close()
	}
	k.wg.Wait()
}

// CheckpointExists returns true if the checkpoint exists
func (k *KVDB) CheckpointExists(batchNum common.BatchNum) (bool, error) {
	if _, err := os.Stat(k.checkpointPath(batchNum)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, common.Wrap(err)
	}
	return true, nil
}
