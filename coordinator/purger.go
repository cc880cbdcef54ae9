package coordinator

import (
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
)

// PurgerCfg is the purger configuration
type PurgerCfg struct {
	// PurgeBatchDelay is the delay between batches to purge outdated
	// transactions. Outdated pool txs are those that have been forged or
	// marked as invalid for longer than the SafetyPeriod and pending txs
	// that have been in the pool for longer than TTL once there are
	// MaxTxs.
	PurgeBatchDelay int64
	// InvalidateBatchDelay is the delay between batches to mark invalid
	// transactions due to nonce lower than the account nonce.
	InvalidateBatchDelay int64
	// PurgeBlockDelay is the delay between blocks to purge outdated
	// transactions.
	PurgeBlockDelay int64
	// InvalidateBlockDelay is the delay between blocks to mark invalid
	// transactions due to nonce lower than the account nonce.
	InvalidateBlockDelay int64
}

// Purger manages cleanup of transactions in the pool
type Purger struct {
	cfg                 PurgerCfg
	lastPurgeBlock      int64
	lastPurgeBatch      int64
	lastInvalidateBlock int64
	lastInvalidateBatch int64
}

// CanPurge returns true if it's a good time to purge according to the
// configuration
func (p *Purger) CanPurge(blockNum int64, batchNum common.BatchNum) bool {
	if blockNum > p.lastPurgeBlock+p.cfg.PurgeBlockDelay {
		return true
	}
	if int64(batchNum) > p.lastPurgeBatch+p.cfg.PurgeBatchDelay {
		return true
	}
	return false
}

// CanInvalidate returns true if it's a good time to invalidate according to
// the configuration
func (p *Purger) CanInvalidate(blockNum int64, batchNum common.BatchNum) bool {
	if blockNum > p.lastInvalidateBlock+p.cfg.InvalidateBlockDelay {
		return true
	}
	if int64(batchNum) > p.lastInvalidateBatch+p.cfg.InvalidateBatchDelay {
		return true
	}
	return false
}

// PurgeMaybe purges txs if it's a good time to do so
func (p *Purger) PurgeMaybe(l2DB *l2db.L2DB, blockNum int64, batchNum common.BatchNum) (bool, error) {
	if !p.CanPurge(blockNum, batchNum) {
		return false, nil
	}
	p.lastPurgeBlock = blockNum
	p.lastPurgeBatch = int64(batchNum)
	log.Debugw("Purger: purging l2txs in pool", "block", blockNum)
	err := l2DB.Purge(batchNum)
	return true, common.Wrap(err)
}

// InvalidateMaybe invalidates txs if it's a good time to do so
func (p *Purger) InvalidateMaybe(l2DB *l2db.L2DB, stateDB *statedb.LocalStateDB,
	blockNum int64, batchNum common.BatchNum) (bool, error) {
	if !p.CanInvalidate(blockNum, batchNum) {
		return false, nil
	}
	p.lastInvalidateBlock = blockNum
	p.lastInvalidateBatch = int64(batchNum)
	log.Debugw("Purger: invalidating l2txs in pool", "block", blockNum)
	err := poolMarkInvalidOldNonces(l2DB, stateDB, batchNum)
	return true, common.Wrap(err)
}

// poolMarkInvalidOldNonces marks as invalid the pending txs whose nonce is
// lower than the current nonce of their account
func poolMarkInvalidOldNonces(l2DB *l2db.L2DB, stateDB *statedb.LocalStateDB,
	batchNum common.BatchNum) error {
	ids, err := l2DB.GetPendingAccountIDs()
	if err != nil {
		return common.Wrap(err)
	}
	idsNonce := make([]l2db.IDNonce, 0, len(ids))
	for _, id := range ids {
		acc, err := stateDB.GetAccount(id)
		if err != nil {
			return common.Wrap(err)
		}
		idsNonce = append(idsNonce, l2db.IDNonce{AccountID: id, Nonce: acc.Nonce})
	}
	return common.Wrap(l2DB.InvalidateOldNonces(idsNonce, batchNum))
}
