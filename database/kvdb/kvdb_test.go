package kvdb

import (
	"fmt"
	"os"
	"testing"

	"github.com/iden3/go-merkletree/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/common"
)

func addTestKV(t *testing.T, kvdb *KVDB, k, v []byte) {
	tx, err := kvdb.db.NewTx()
	require.NoError(t, err)
	require.NoError(t, tx.Put(k, v))
	require.NoError(t, tx.Commit())
}

func printCheckpoints(t *testing.T, path string) {
	files, err := os.ReadDir(path)
	require.NoError(t, err)
	fmt.Println(path)
	for _, f := range files {
		fmt.Println("	" + f.Name())
	}
}

func TestCheckpoints(t *testing.T) {
	dir := t.TempDir()
	kvdb, err := NewKVDB(Config{Path: dir, Keep: 128})
	require.NoError(t, err)
	defer kvdb.Close()

	// add test key-values
	for i := 0; i < 10; i++ {
		addTestKV(t, kvdb, []byte{byte(i), byte(i)}, []byte{byte(i), byte(i)})
	}
	require.NoError(t, kvdb.SetNextAccountID(7))

	// do checkpoints and check that currentBatch is correct
	require.NoError(t, kvdb.MakeCheckpoint())
	cb, err := kvdb.GetCurrentBatch()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(1), cb)

	for i := 1; i < 10; i++ {
		require.NoError(t, kvdb.MakeCheckpoint())
	}
	cb, err = kvdb.GetCurrentBatch()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(10), cb)

	require.NoError(t, kvdb.SetNextAccountID(9))
	addTestKV(t, kvdb, []byte{0xff}, []byte{0xff})

	// reset the KVDB to batch 3: the uncommitted writes are gone and the
	// allocation counter is restored
	require.NoError(t, kvdb.Reset(3))
	printCheckpoints(t, kvdb.cfg.Path)
	assert.Equal(t, common.BatchNum(3), kvdb.CurrentBatch)
	assert.Equal(t, common.AccountID(7), kvdb.NextAccountID)
	_, err = kvdb.db.Get([]byte{0xff})
	assert.Equal(t, db.ErrNotFound, common.Unwrap(err))
	v, err := kvdb.db.Get([]byte{5, 5})
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 5}, v)

	// reset to 0 gives an empty db
	require.NoError(t, kvdb.Reset(0))
	assert.Equal(t, common.AccountID(0), kvdb.NextAccountID)
	_, err = kvdb.db.Get([]byte{5, 5})
	assert.Equal(t, db.ErrNotFound, common.Unwrap(err))

	// synchronizer copy
	dirLocal := t.TempDir()
	ldb, err := NewKVDB(Config{Path: dirLocal, Keep: 128, NoLast: true})
	require.NoError(t, err)
	defer ldb.Close()
	addTestKV(t, kvdb, []byte{1}, []byte{1})
	require.NoError(t, kvdb.SetNextAccountID(2))
	require.NoError(t, kvdb.MakeCheckpoint())
	require.NoError(t, ldb.ResetFromSynchronizer(1, kvdb))
	assert.Equal(t, common.BatchNum(1), ldb.CurrentBatch)
	assert.Equal(t, common.AccountID(2), ldb.NextAccountID)
	v, err = ldb.db.Get([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, v)
}

func TestDeleteOldCheckpoints(t *testing.T) {
	keep := 16
	kvdb, err := NewKVDB(Config{Path: t.TempDir(), Keep: keep})
	require.NoError(t, err)
	defer kvdb.Close()

	numCheckpoints := 32
	// do checkpoints and check that we never have more than `keep`
	// checkpoints
	for i := 0; i < numCheckpoints; i++ {
		require.NoError(t, kvdb.MakeCheckpoint())
		require.NoError(t, kvdb.DeleteOldCheckpoints())
		checkpoints, err := kvdb.ListCheckpoints()
		require.NoError(t, err)
		assert.LessOrEqual(t, len(checkpoints), keep)
	}
}
