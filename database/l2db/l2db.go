/*
Package l2db is responsible for storing and retrieving the data received by the coordinator through the api.
Note that this data will be different for each coordinator in the network, as this represents the L2 information.

The data managed by this package is fundamentally the pool of signed txs.  All this data come from
the API sent by clients and is used by the txselector to decide which transactions are selected to forge a batch.

Some of the database tooling used in this package such as meddler and migration tools is explained in the db package.

This package is spitted in different files following these ideas:
- l2db.go: constructor and functions used by packages other than the api.
- apiqueries.go: functions used by the API, the queries implemented in this functions use a semaphore
to restrict the maximum concurrent connections to the database.
- views.go: structs used to retrieve/store data from/to the database.
*/
package l2db

import (
	"fmt"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database"
	"tokamak-zkrollup/log"
)

var (
	// ErrPoolFull is returned when the pool has MaxTxs pending txs
	ErrPoolFull = fmt.Errorf("the pool is at full capacity. More transactions are not accepted currently")
)

// L2DB stores L2 txs received by the coordinator and keeps them until they are no longer relevant
// due to them being forged or invalid after a safety period
type L2DB struct {
	dbRead       *sqlx.DB
	dbWrite      *sqlx.DB
	safetyPeriod common.BatchNum
	ttl          time.Duration
	maxTxs       uint32 // limit of txs that are accepted in the pool
	apiConnCon   *database.APIConnectionController
}

// NewL2DB creates a L2DB.
// To create it, it's needed db connection, safety period expressed in batches,
// maxTxs that the DB should have and TTL (time to live) for pending txs.
func NewL2DB(
	dbRead, dbWrite *sqlx.DB,
	safetyPeriod common.BatchNum,
	maxTxs uint32,
	TTL time.Duration,
	apiConnCon *database.APIConnectionController,
) *L2DB {
	return &L2DB{
		dbRead:       dbRead,
		dbWrite:      dbWrite,
		safetyPeriod: safetyPeriod,
		ttl:          TTL,
		maxTxs:       maxTxs,
		apiConnCon:   apiConnCon,
	}
}

// DB returns a pointer to the L2DB.db. This method should be used only for
// internal testing purposes.
func (l2db *L2DB) DB() *sqlx.DB {
	return l2db.dbWrite
}

// AddTxTest inserts a tx into the L2DB, without security checks. This is useful for test purposes,
func (l2db *L2DB) AddTxTest(tx *PoolTx) error {
	// Add tx without checking if pool is full
	return common.Wrap(
		l2db.addTxs([]PoolTx{*tx}, false),
	)
}

// Insert PoolTx transactions into the pool. If checkPoolIsFull is set to true the insert will
// fail if the pool is fool and ErrPoolFull will be returned
func (l2db *L2DB) addTxs(txs []PoolTx, checkPoolIsFull bool) error {
	// Set the columns that will be affected by the insert on the table
	const queryInsertPart = `INSERT INTO tx_pool (
		tx_hash, op_type, account_id, nonce, tx, state
	)`
	var (
		queryVarsPart string
		queryVars     []interface{}
	)
	for i := range txs {
		// Each ? match one of the columns to be inserted as defined in queryInsertPart
		const queryVarsPartPerTx = `(?::BYTEA, ?::SMALLINT, ?::BIGINT, ?::BIGINT, ?::BYTEA, ?::CHAR(4))`
		if i == 0 {
			queryVarsPart += queryVarsPartPerTx
		} else {
			// Add coma before next tx values.
			queryVarsPart += ", " + queryVarsPartPerTx
		}
		queryVars = append(queryVars,
			txs[i].TxHash, txs[i].OpType, txs[i].AccountID, txs[i].Nonce, txs[i].RawTx,
			PoolTxStatePending,
		)
	}
	// Query begins with the insert statement
	query := queryInsertPart
	if checkPoolIsFull {
		// This query creates a temporary table containing the values to insert
		// that will only get selected if the pool is not full
		query += " SELECT * FROM ( VALUES " + queryVarsPart + " ) as tmp " + // Temporary table with the values of the txs
			" WHERE (SELECT COUNT (*) FROM tx_pool WHERE state = ?) < ?;" // Check if the pool is full
		queryVars = append(queryVars, PoolTxStatePending, l2db.maxTxs)
	} else {
		query += " VALUES " + queryVarsPart + ";"
	}
	// Replace "?, ?, ... ?" ==> "$1, $2, ..., $(len(queryVars))"
	query = l2db.dbRead.Rebind(query)
	// Execute query
	res, err := l2db.dbWrite.Exec(query, queryVars...)
	if err == nil && checkPoolIsFull {
		if rowsAffected, err := res.RowsAffected(); err != nil || rowsAffected == 0 {
			// If the query didn't affect any row, and there is no error in the query
			// it's safe to assume that the WERE clause wasn't true, and so the pool is full
			return common.Wrap(ErrPoolFull)
		}
	}
	return common.Wrap(err)
}

// selectPoolTxCommon select part of queries to get PoolTx
const selectPoolTxCommon = `SELECT tx_hash, op_type, account_id, nonce, tx, state, info,
	batch_num, timestamp FROM tx_pool `

func (l2db *L2DB) queryTxs(query string, args ...interface{}) ([]PoolTx, error) {
	var txs []*PoolTx
	if err := meddler.QueryAll(l2db.dbRead, &txs, query, args...); err != nil {
		return nil, common.Wrap(err)
	}
	for _, tx := range txs {
		if err := tx.decode(); err != nil {
			return nil, common.Wrap(err)
		}
	}
	return database.SlicePtrsToSlice(txs).([]PoolTx), nil
}

// GetTx return the specified Tx
func (l2db *L2DB) GetTx(txHash ethCommon.Hash) (*PoolTx, error) {
	tx := new(PoolTx)
	if err := meddler.QueryRow(
		l2db.dbRead, tx,
		selectPoolTxCommon+"WHERE tx_hash = $1;",
		txHash,
	); err != nil {
		return nil, common.Wrap(err)
	}
	return tx, common.Wrap(tx.decode())
}

// GetPendingTxs return all the pending txs of the L2DB, ordered by account
// and nonce
func (l2db *L2DB) GetPendingTxs() ([]PoolTx, error) {
	return l2db.queryTxs(selectPoolTxCommon+
		"WHERE state = $1 ORDER BY account_id, nonce, timestamp;", PoolTxStatePending)
}

// GetPendingAccountIDs returns the distinct accounts that sign pending txs
func (l2db *L2DB) GetPendingAccountIDs() ([]common.AccountID, error) {
	var ids []common.AccountID
	err := l2db.dbRead.Select(&ids,
		"SELECT DISTINCT account_id FROM tx_pool WHERE state = $1 ORDER BY account_id;",
		PoolTxStatePending)
	return ids, common.Wrap(err)
}

// GetTxsByBatch returns the txs in the forging or forged state of a batch
func (l2db *L2DB) GetTxsByBatch(batchNum common.BatchNum) ([]PoolTx, error) {
	return l2db.queryTxs(selectPoolTxCommon+
		"WHERE batch_num = $1 AND (state = $2 OR state = $3) ORDER BY account_id, nonce;",
		batchNum, PoolTxStateForging, PoolTxStateForged)
}

func (l2db *L2DB) setState(hashes []ethCommon.Hash, state PoolTxState, batchNum common.BatchNum) error {
	if len(hashes) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE tx_pool SET state = ?, batch_num = ? WHERE tx_hash IN (?);`,
		state, batchNum, hashes,
	)
	if err != nil {
		return common.Wrap(err)
	}
	query = l2db.dbWrite.Rebind(query)
	_, err = l2db.dbWrite.Exec(query, args...)
	return common.Wrap(err)
}

// StartForging updates the state of the transactions that will begin the forging process.
// The state of the txs referenced by txHashes will be changed from Pending -> Forging
func (l2db *L2DB) StartForging(txHashes []ethCommon.Hash, batchNum common.BatchNum) error {
	return l2db.setState(txHashes, PoolTxStateForging, batchNum)
}

// DoneForging updates the state of the transactions that have been forged
// so the state of the txs referenced by txHashes will be changed from Forging -> Forged
func (l2db *L2DB) DoneForging(txHashes []ethCommon.Hash, batchNum common.BatchNum) error {
	return l2db.setState(txHashes, PoolTxStateForged, batchNum)
}

// InvalidateTxs updates the state of the transactions that are invalid.
// The state of the txs will be changed from * -> Invalid, storing the
// reason of the rejection
func (l2db *L2DB) InvalidateTxs(txs []RejectedPoolTx, batchNum common.BatchNum) (err error) {
	if len(txs) == 0 {
		return nil
	}
	txn, err := l2db.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	for _, tx := range txs {
		if _, err = txn.Exec(
			"UPDATE tx_pool SET state = $1, batch_num = $2, info = $3 WHERE tx_hash = $4;",
			PoolTxStateInvalid, batchNum, tx.Info, tx.TxHash,
		); err != nil {
			return common.Wrap(err)
		}
	}
	return common.Wrap(txn.Commit())
}

// InvalidateOldNonces invalidate txs with nonces that are smaller than their
// respective accounts nonces.  The state of the affected txs will be changed
// from Pending to Invalid
func (l2db *L2DB) InvalidateOldNonces(updatedAccounts []IDNonce, batchNum common.BatchNum) (err error) {
	if len(updatedAccounts) == 0 {
		return nil
	}
	txn, err := l2db.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	for _, acc := range updatedAccounts {
		if _, err = txn.Exec(
			`UPDATE tx_pool SET state = $1, batch_num = $2, info = 'nonce already used'
			WHERE state = $3 AND account_id = $4 AND nonce < $5;`,
			PoolTxStateInvalid, batchNum, PoolTxStatePending, acc.AccountID, acc.Nonce,
		); err != nil {
			return common.Wrap(err)
		}
	}
	return common.Wrap(txn.Commit())
}

// Reorg updates the state of txs that were updated in a batch that has been discarted due to a blockchain reorg
// or a batch revert.  The state of the affected txs can change form Forged -> Pending or from Invalid -> Pending
func (l2db *L2DB) Reorg(lastValidBatch common.BatchNum) error {
	_, err := l2db.dbWrite.Exec(
		`UPDATE tx_pool SET batch_num = NULL, state = $1, info = NULL
		WHERE (state = $2 OR state = $3 OR state = $4) AND batch_num > $5`,
		PoolTxStatePending,
		PoolTxStateForging,
		PoolTxStateForged,
		PoolTxStateInvalid,
		lastValidBatch,
	)
	return common.Wrap(err)
}

// Purge deletes transactions that have been forged or marked as invalid for longer than the safety period
// it also deletes pending txs that have been in the L2DB for longer than the ttl if maxTxs has been exceeded
func (l2db *L2DB) Purge(currentBatchNum common.BatchNum) (err error) {
	now := time.Now().UTC().Unix()
	txn, err := l2db.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	// Delete pending txs that have been in the pool after the TTL if maxTxs is reached
	if _, err = txn.Exec(
		`DELETE FROM tx_pool WHERE state = $1 AND
		(SELECT count(*) FROM tx_pool WHERE state = $1) > $2 AND
		timestamp < to_timestamp($3);`,
		PoolTxStatePending,
		l2db.maxTxs,
		now-int64(l2db.ttl.Seconds()),
	); err != nil {
		return common.Wrap(err)
	}
	// Delete txs that have been marked as forged / invalid after the safety period
	if _, err = txn.Exec(
		`DELETE FROM tx_pool
		WHERE batch_num < $1 AND (state = $2 OR state = $3)`,
		int64(currentBatchNum)-int64(l2db.safetyPeriod),
		PoolTxStateForged,
		PoolTxStateInvalid,
	); err != nil {
		return common.Wrap(err)
	}
	log.Debugw("L2DB: purged", "batch", currentBatchNum)
	return common.Wrap(txn.Commit())
}

// CountPendingTxs returns the number of pending txs in the pool
func (l2db *L2DB) CountPendingTxs() (int64, error) {
	row := l2db.dbRead.QueryRow("SELECT COUNT(*) FROM tx_pool WHERE state = $1;", PoolTxStatePending)
	var count int64
	return count, common.Wrap(row.Scan(&count))
}
