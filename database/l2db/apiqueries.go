package l2db

import (
	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
)

// AddTxAPI inserts a signed tx into the pool.  The insert fails if the pool
// is full.
func (l2db *L2DB) AddTxAPI(tx *PoolTx) error {
	cancel, err := l2db.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return common.Wrap(err)
	}
	defer l2db.apiConnCon.Release()
	return common.Wrap(l2db.addTxs([]PoolTx{*tx}, true))
}

// GetTxAPI return the specified Tx
func (l2db *L2DB) GetTxAPI(txHash ethCommon.Hash) (*PoolTx, error) {
	cancel, err := l2db.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer l2db.apiConnCon.Release()
	return l2db.GetTx(txHash)
}

// GetPoolTxsAPI returns the txs of the pool of an account, optionally
// filtered by state
func (l2db *L2DB) GetPoolTxsAPI(accountID common.AccountID, state *PoolTxState) ([]PoolTx, error) {
	cancel, err := l2db.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer l2db.apiConnCon.Release()
	if state != nil {
		return l2db.queryTxs(selectPoolTxCommon+
			"WHERE account_id = $1 AND state = $2 ORDER BY nonce;", accountID, *state)
	}
	return l2db.queryTxs(selectPoolTxCommon+"WHERE account_id = $1 ORDER BY nonce;", accountID)
}
