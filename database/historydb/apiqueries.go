package historydb

import (
	"github.com/russross/meddler"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database"
)

const batchAPISelect = `SELECT batch.item_id, batch.batch_num, batch.eth_tx_hash,
	batch.eth_block_num, block.hash, block.timestamp AS block_timestamp, batch.forger_addr,
	batch.fee_account, batch.old_state_root, batch.state_root, batch.timestamp, batch.chunks,
	batch.commitment, batch.num_ops, batch.num_accounts, batch.num_priority_ops, batch.status,
	count(*) OVER() AS total_items, MIN(batch.item_id) OVER() AS first_item,
	MAX(batch.item_id) OVER() AS last_item
	FROM batch INNER JOIN block ON batch.eth_block_num = block.eth_block_num `

// GetBatchAPI return the batch with the given batchNum
func (hdb *HistoryDB) GetBatchAPI(batchNum common.BatchNum) (*BatchAPI, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.getBatchAPI(hdb.dbRead, batchNum)
}

// GetBatchInternalAPI return the batch with the given batchNum
func (hdb *HistoryDB) GetBatchInternalAPI(batchNum common.BatchNum) (*BatchAPI, error) {
	return hdb.getBatchAPI(hdb.dbRead, batchNum)
}

func (hdb *HistoryDB) getBatchAPI(d meddler.DB, batchNum common.BatchNum) (*BatchAPI, error) {
	batch := &BatchAPI{}
	if err := meddler.QueryRow(
		d, batch,
		batchAPISelect+"WHERE batch.batch_num = $1;", batchNum,
	); err != nil {
		return nil, common.Wrap(err)
	}
	return batch, nil
}

// GetLastBatchAPI returns the last committed batch, or nil if there are no
// batches
func (hdb *HistoryDB) GetLastBatchAPI() (*BatchAPI, error) {
	var batches []*BatchAPI
	if err := meddler.QueryAll(
		hdb.dbRead, &batches,
		batchAPISelect+"ORDER BY batch.batch_num DESC LIMIT 1;",
	); err != nil {
		return nil, common.Wrap(err)
	}
	if len(batches) == 0 {
		return nil, nil
	}
	return batches[0], nil
}

// GetOpsAPI returns the executed ops of a batch
func (hdb *HistoryDB) GetOpsAPI(batchNum common.BatchNum) ([]common.ExecutedOp, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.GetOps(batchNum)
}

// GetPriorityRequestsAPI returns the priority requests ordered by serial
// id, starting at fromSerialID.  If pendingOnly is set, only the requests
// not consumed by a batch are returned.
func (hdb *HistoryDB) GetPriorityRequestsAPI(fromSerialID uint64, pendingOnly bool,
	limit uint) ([]PriorityRequestAPI, uint64, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, 0, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	query := `SELECT serial_id, op_type, sender, expiration_block, eth_block_num, eth_tx_hash,
		batch_num, count(*) OVER() AS total_items, MIN(serial_id) OVER() AS first_item,
		MAX(serial_id) OVER() AS last_item FROM priority_request WHERE serial_id >= $1 `
	if pendingOnly {
		query += "AND batch_num IS NULL "
	}
	query += "ORDER BY serial_id LIMIT $2;"
	var reqs []*PriorityRequestAPI
	if err := meddler.QueryAll(hdb.dbRead, &reqs, query, fromSerialID, limit); err != nil {
		return nil, 0, common.Wrap(err)
	}
	if len(reqs) == 0 {
		return []PriorityRequestAPI{}, 0, nil
	}
	return database.SlicePtrsToSlice(reqs).([]PriorityRequestAPI), reqs[0].TotalItems, nil
}

// GetExodusExitsAPI returns the performed exodus exits
func (hdb *HistoryDB) GetExodusExitsAPI() ([]common.ExodusExit, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.GetExodusExits()
}

// GetCoordinatorsAPI returns the registered coordinators
func (hdb *HistoryDB) GetCoordinatorsAPI() ([]CoordinatorAPI, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	var coordinators []*CoordinatorAPI
	err = meddler.QueryAll(
		hdb.dbRead, &coordinators,
		"SELECT item_id, forger_addr, fee_account, eth_block_num, url FROM coordinator ORDER BY item_id;",
	)
	return database.SlicePtrsToSlice(coordinators).([]CoordinatorAPI), common.Wrap(err)
}

// GetStateAPI returns the StateAPI stored by the node
func (hdb *HistoryDB) GetStateAPI() (*StateAPI, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.GetStateInternalAPI()
}
