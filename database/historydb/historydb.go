/*
Package historydb is responsible for storing and retrieving the historic data
of the rollup as observed on L1 by the synchronizer: blocks, committed
batches with their executed ops, accounts, NFTs, priority requests, the onchain
ChangePubKey authorizations and the exodus exits.

This package is spitted in different files following these ideas:
- historydb.go: constructor and functions used by packages other than the api.
- apiqueries.go: functions used by the API, the queries implemented in this
functions use a semaphore to restrict the maximum concurrent connections to
the database.
- views.go: structs used to retrieve/store data from/to the database. When
possible, the common structs are used.
*/
package historydb

import (
	"database/sql"
	"errors"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database"
)

// HistoryDB persist the historic of the rollup
type HistoryDB struct {
	dbRead     *sqlx.DB
	dbWrite    *sqlx.DB
	apiConnCon *database.APIConnectionController
}

// NewHistoryDB initialize the DB
func NewHistoryDB(dbRead, dbWrite *sqlx.DB, apiConnCon *database.APIConnectionController) *HistoryDB {
	return &HistoryDB{
		dbRead:     dbRead,
		dbWrite:    dbWrite,
		apiConnCon: apiConnCon,
	}
}

// DB returns a pointer to the L2DB.db. This method should be used only for
// internal testing purposes.
func (hdb *HistoryDB) DB() *sqlx.DB {
	return hdb.dbWrite
}

// AddBlock insert a block into the DB
func (hdb *HistoryDB) AddBlock(block *common.Block) error { return hdb.addBlock(hdb.dbWrite, block) }
func (hdb *HistoryDB) addBlock(d meddler.DB, block *common.Block) error {
	return common.Wrap(meddler.Insert(d, "block", block))
}

// AddBlocks inserts blocks into the DB
func (hdb *HistoryDB) AddBlocks(blocks []common.Block) error {
	return common.Wrap(hdb.addBlocks(hdb.dbWrite, blocks))
}

func (hdb *HistoryDB) addBlocks(d meddler.DB, blocks []common.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO block (
			eth_block_num,
			timestamp,
			hash
		) VALUES %s;`,
		blocks,
	))
}

// GetBlock retrieve a block from the DB, given a block number
func (hdb *HistoryDB) GetBlock(blockNum int64) (*common.Block, error) {
	block := &common.Block{}
	err := meddler.QueryRow(
		hdb.dbRead, block,
		"SELECT * FROM block WHERE eth_block_num = $1;", blockNum,
	)
	return block, common.Wrap(err)
}

// GetAllBlocks retrieve all blocks from the DB
func (hdb *HistoryDB) GetAllBlocks() ([]common.Block, error) {
	var blocks []*common.Block
	err := meddler.QueryAll(
		hdb.dbRead, &blocks,
		"SELECT * FROM block ORDER BY eth_block_num;",
	)
	return database.SlicePtrsToSlice(blocks).([]common.Block), common.Wrap(err)
}

// GetLastBlock retrieve the block with the highest block number from the DB
func (hdb *HistoryDB) GetLastBlock() (*common.Block, error) {
	block := &common.Block{}
	err := meddler.QueryRow(
		hdb.dbRead, block, "SELECT * FROM block ORDER BY eth_block_num DESC LIMIT 1;",
	)
	return block, common.Wrap(err)
}

// getBlocks retrieve blocks from the DB, given a range of block numbers defined by from and to
func (hdb *HistoryDB) getBlocks(from, to int64) ([]common.Block, error) {
	var blocks []*common.Block
	err := meddler.QueryAll(
		hdb.dbRead, &blocks,
		"SELECT * FROM block WHERE $1 <= eth_block_num AND eth_block_num < $2 ORDER BY eth_block_num;",
		from, to,
	)
	return database.SlicePtrsToSlice(blocks).([]common.Block), common.Wrap(err)
}

// SetInitialSCVars sets the initial state of the rollup smart contract
// variables.  This initial state is stored linked to block 0, which always
// exist in the DB and is used to store initialization data that always exist
// in the smart contracts.
func (hdb *HistoryDB) SetInitialSCVars(rollup *common.RollupVariables) error {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	// Force EthBlockNum to be 0 because it's the block used to link data
	// that belongs to the creation of the smart contracts
	rollup.EthBlockNum = 0
	if err = hdb.setRollupVars(txn, rollup); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(txn.Commit())
}

func (hdb *HistoryDB) setRollupVars(d meddler.DB, rollup *common.RollupVariables) error {
	return common.Wrap(meddler.Insert(d, "rollup_vars", rollup))
}

// GetSCVars returns the rollup smart contract variables at their last update.
func (hdb *HistoryDB) GetSCVars() (*common.RollupVariables, error) {
	var rollup common.RollupVariables
	if err := meddler.QueryRow(hdb.dbRead, &rollup,
		"SELECT * FROM rollup_vars ORDER BY eth_block_num DESC LIMIT 1;"); err != nil {
		return nil, common.Wrap(err)
	}
	return &rollup, nil
}

// AddCoordinators insert Coordinators into the DB
func (hdb *HistoryDB) AddCoordinators(coordinators []common.Coordinator) error {
	return common.Wrap(hdb.addCoordinators(hdb.dbWrite, coordinators))
}
func (hdb *HistoryDB) addCoordinators(d meddler.DB, coordinators []common.Coordinator) error {
	if len(coordinators) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		"INSERT INTO coordinator (forger_addr, fee_account, eth_block_num, url) VALUES %s;",
		coordinators,
	))
}

// GetCoordinators returns the registered coordinators
func (hdb *HistoryDB) GetCoordinators() ([]common.Coordinator, error) {
	var coordinators []*common.Coordinator
	err := meddler.QueryAll(
		hdb.dbRead, &coordinators,
		"SELECT forger_addr, fee_account, eth_block_num, url FROM coordinator ORDER BY item_id;",
	)
	return database.SlicePtrsToSlice(coordinators).([]common.Coordinator), common.Wrap(err)
}

// AddTokens insert tokens into the DB
func (hdb *HistoryDB) AddTokens(tokens []common.Token) error {
	return hdb.addTokens(hdb.dbWrite, tokens)
}
func (hdb *HistoryDB) addTokens(d meddler.DB, tokens []common.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO token (
			token_id,
			eth_block_num,
			eth_addr,
			name,
			symbol,
			decimals
		) VALUES %s;`,
		tokens,
	))
}

// GetToken returns a token from the DB given a TokenID
func (hdb *HistoryDB) GetToken(tokenID common.TokenID) (*common.Token, error) {
	token := &common.Token{}
	err := meddler.QueryRow(
		hdb.dbRead, token,
		`SELECT token_id, eth_block_num, eth_addr, name, symbol, decimals
		FROM token WHERE token_id = $1;`, tokenID,
	)
	return token, common.Wrap(err)
}

// GetAllTokens returns all tokens from the DB
func (hdb *HistoryDB) GetAllTokens() ([]common.Token, error) {
	var tokens []*common.Token
	err := meddler.QueryAll(
		hdb.dbRead, &tokens,
		`SELECT token_id, eth_block_num, eth_addr, name, symbol, decimals
		FROM token ORDER BY token_id;`,
	)
	return database.SlicePtrsToSlice(tokens).([]common.Token), common.Wrap(err)
}

// AddBatch insert a Batch into the DB
func (hdb *HistoryDB) AddBatch(batch *common.Batch) error { return hdb.addBatch(hdb.dbWrite, batch) }
func (hdb *HistoryDB) addBatch(d meddler.DB, batch *common.Batch) error {
	if batch.GasPrice == nil {
		batch.GasPrice = big.NewInt(0)
	}
	return common.Wrap(meddler.Insert(d, "batch", batch))
}

// AddBatches insert Batches into the DB
func (hdb *HistoryDB) AddBatches(batches []common.Batch) error {
	return common.Wrap(hdb.addBatches(hdb.dbWrite, batches))
}
func (hdb *HistoryDB) addBatches(d meddler.DB, batches []common.Batch) error {
	for i := 0; i < len(batches); i++ {
		if err := hdb.addBatch(d, &batches[i]); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

const batchColumns = `batch_num, eth_tx_hash, eth_block_num, forger_addr, fee_account,
	old_state_root, state_root, timestamp, chunks, pub_data, chunk_markers, rolling_hash,
	commitment, num_ops, num_accounts, first_priority_serial_id, num_priority_ops,
	gas_used, gas_price, status`

// GetAllBatches retrieve all batches from the DB
func (hdb *HistoryDB) GetAllBatches() ([]common.Batch, error) {
	var batches []*common.Batch
	err := meddler.QueryAll(
		hdb.dbRead, &batches,
		"SELECT "+batchColumns+" FROM batch ORDER BY batch_num;",
	)
	return database.SlicePtrsToSlice(batches).([]common.Batch), common.Wrap(err)
}

// GetBatches retrieve batches from the DB, given a range of batch numbers defined by from and to
func (hdb *HistoryDB) GetBatches(from, to common.BatchNum) ([]common.Batch, error) {
	var batches []*common.Batch
	err := meddler.QueryAll(
		hdb.dbRead, &batches,
		"SELECT "+batchColumns+" FROM batch WHERE $1 <= batch_num AND batch_num < $2 ORDER BY batch_num;",
		from, to,
	)
	return database.SlicePtrsToSlice(batches).([]common.Batch), common.Wrap(err)
}

// GetBatch returns the batch with the given batchNum
func (hdb *HistoryDB) GetBatch(batchNum common.BatchNum) (*common.Batch, error) {
	var batch common.Batch
	err := meddler.QueryRow(
		hdb.dbRead, &batch,
		"SELECT "+batchColumns+" FROM batch WHERE batch_num = $1;", batchNum,
	)
	return &batch, common.Wrap(err)
}

// GetLastBatch returns the last committed batch
func (hdb *HistoryDB) GetLastBatch() (*common.Batch, error) {
	var batch common.Batch
	err := meddler.QueryRow(
		hdb.dbRead, &batch,
		"SELECT "+batchColumns+" FROM batch ORDER BY batch_num DESC LIMIT 1;",
	)
	return &batch, common.Wrap(err)
}

// GetLastBatchNum returns the BatchNum of the latest committed batch.  It
// returns 0 if there are no batches.
func (hdb *HistoryDB) GetLastBatchNum() (common.BatchNum, error) {
	row := hdb.dbRead.QueryRow("SELECT COALESCE(MAX(batch_num), 0) FROM batch;")
	var batchNum common.BatchNum
	return batchNum, common.Wrap(row.Scan(&batchNum))
}

// GetLastVerifiedBatchNum returns the BatchNum of the latest verified batch.
// It returns 0 if no batch has been verified.
func (hdb *HistoryDB) GetLastVerifiedBatchNum() (common.BatchNum, error) {
	row := hdb.dbRead.QueryRow("SELECT COALESCE(MAX(batch_num), 0) FROM batch WHERE status = $1;",
		common.BatchStatusVerified)
	var batchNum common.BatchNum
	return batchNum, common.Wrap(row.Scan(&batchNum))
}

// setBatchesStatus updates the status of the given batches
func (hdb *HistoryDB) setBatchesStatus(d sqlx.Ext, status common.BatchStatus,
	events []common.BatchEvent) error {
	for _, event := range events {
		res, err := d.Exec("UPDATE batch SET status = $1 WHERE batch_num = $2;",
			status, event.BatchNum)
		if err != nil {
			return common.Wrap(err)
		}
		if err := database.RowsAffectedError(res, 1); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

// SetBatchesVerified marks the batches as verified
func (hdb *HistoryDB) SetBatchesVerified(events []common.BatchEvent) error {
	return hdb.setBatchesStatus(hdb.dbWrite, common.BatchStatusVerified, events)
}

// revertBatches deletes the reverted batches together with everything they
// created.  Their priority requests are released by the foreign key, so they
// can be consumed again by the batches that replace them.
func (hdb *HistoryDB) revertBatches(d sqlx.Ext, events []common.BatchEvent) error {
	for _, event := range events {
		res, err := d.Exec("DELETE FROM batch WHERE batch_num = $1;", event.BatchNum)
		if err != nil {
			return common.Wrap(err)
		}
		if err := database.RowsAffectedError(res, 1); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

// AddOps inserts the executed ops of a batch into the DB
func (hdb *HistoryDB) AddOps(ops []common.ExecutedOp) error { return hdb.addOps(hdb.dbWrite, ops) }
func (hdb *HistoryDB) addOps(d meddler.DB, ops []common.ExecutedOp) error {
	if len(ops) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO executed_op (
			batch_num,
			position,
			op_type,
			tx_hash,
			serial_id,
			pub_data,
			fee,
			fee_token,
			degraded
		) VALUES %s;`,
		ops,
	))
}

// GetOps returns the executed ops of a batch ordered by position
func (hdb *HistoryDB) GetOps(batchNum common.BatchNum) ([]common.ExecutedOp, error) {
	var ops []*common.ExecutedOp
	err := meddler.QueryAll(
		hdb.dbRead, &ops,
		`SELECT batch_num, position, op_type, tx_hash, serial_id, pub_data, fee, fee_token, degraded
		FROM executed_op WHERE batch_num = $1 ORDER BY position;`, batchNum,
	)
	return database.SlicePtrsToSlice(ops).([]common.ExecutedOp), common.Wrap(err)
}

// GetOpByTxHash returns the executed op of a signed tx
func (hdb *HistoryDB) GetOpByTxHash(txHash ethCommon.Hash) (*common.ExecutedOp, error) {
	op := &common.ExecutedOp{}
	err := meddler.QueryRow(
		hdb.dbRead, op,
		`SELECT executed_op.batch_num, position, op_type, tx_hash, serial_id, pub_data, fee,
		fee_token, degraded FROM executed_op INNER JOIN batch
		ON executed_op.batch_num = batch.batch_num
		WHERE tx_hash = $1 AND batch.status != $2;`, txHash, common.BatchStatusReverted,
	)
	return op, common.Wrap(err)
}

// AddAccounts insert accounts created by a batch into the DB
func (hdb *HistoryDB) AddAccounts(batchNum common.BatchNum, accounts []common.Account) error {
	return common.Wrap(hdb.addAccounts(hdb.dbWrite, batchNum, accounts))
}
func (hdb *HistoryDB) addAccounts(d meddler.DB, batchNum common.BatchNum, accounts []common.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	accs := make([]accountWrite, len(accounts))
	for i := range accounts {
		accs[i] = accountWrite{
			AccountID:  accounts[i].ID,
			BatchNum:   batchNum,
			Nonce:      accounts[i].Nonce,
			PubKeyHash: accounts[i].PubKeyHash,
			Address:    accounts[i].Address,
		}
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO account (
			account_id,
			batch_num,
			nonce,
			pubkey_hash,
			address
		) VALUES %s;`,
		accs,
	))
}

// GetAllAccounts returns a list of accounts from the DB, with the nonce and
// pubkey hash they were created with
func (hdb *HistoryDB) GetAllAccounts() ([]common.Account, error) {
	var accs []*common.Account
	err := meddler.QueryAll(
		hdb.dbRead, &accs,
		"SELECT account_id, nonce, pubkey_hash, address FROM account ORDER BY account_id;",
	)
	return database.SlicePtrsToSlice(accs).([]common.Account), common.Wrap(err)
}

// AddAccountUpdates inserts accUpdates into the DB
func (hdb *HistoryDB) AddAccountUpdates(accUpdates []common.AccountUpdate) error {
	return common.Wrap(hdb.addAccountUpdates(hdb.dbWrite, accUpdates))
}
func (hdb *HistoryDB) addAccountUpdates(d meddler.DB, accUpdates []common.AccountUpdate) error {
	if len(accUpdates) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO account_update (
			eth_block_num,
			batch_num,
			account_id,
			nonce,
			pubkey_hash,
			token_id,
			balance
		) VALUES %s;`,
		accUpdates,
	))
}

// GetAllAccountUpdates returns all the AccountUpdate from the DB
func (hdb *HistoryDB) GetAllAccountUpdates() ([]common.AccountUpdate, error) {
	var accUpdates []*common.AccountUpdate
	err := meddler.QueryAll(
		hdb.dbRead, &accUpdates,
		`SELECT eth_block_num, batch_num, account_id, nonce, pubkey_hash, token_id, balance
		FROM account_update ORDER BY item_id;`,
	)
	return database.SlicePtrsToSlice(accUpdates).([]common.AccountUpdate), common.Wrap(err)
}

// AddNFTs inserts the NFTs minted by a batch
func (hdb *HistoryDB) AddNFTs(batchNum common.BatchNum, nfts []common.NFT) error {
	return common.Wrap(hdb.addNFTs(hdb.dbWrite, batchNum, nfts))
}
func (hdb *HistoryDB) addNFTs(d meddler.DB, batchNum common.BatchNum, nfts []common.NFT) error {
	if len(nfts) == 0 {
		return nil
	}
	ws := make([]nftWrite, len(nfts))
	for i := range nfts {
		ws[i] = newNFTWrite(&nfts[i], batchNum)
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO nft (
			token_id,
			serial_id,
			creator_account_id,
			creator_address,
			content_hash,
			batch_num
		) VALUES %s;`,
		ws,
	))
}

// GetNFT returns the metadata of an NFT
func (hdb *HistoryDB) GetNFT(tokenID common.TokenID) (*common.NFT, error) {
	nft := &common.NFT{}
	err := meddler.QueryRow(
		hdb.dbRead, nft,
		`SELECT token_id, serial_id, creator_account_id, creator_address, content_hash
		FROM nft WHERE token_id = $1;`, tokenID,
	)
	return nft, common.Wrap(err)
}

// AddPriorityRequests inserts priority requests into the DB
func (hdb *HistoryDB) AddPriorityRequests(reqs []common.PriorityRequest) error {
	return common.Wrap(hdb.addPriorityRequests(hdb.dbWrite, reqs))
}
func (hdb *HistoryDB) addPriorityRequests(d meddler.DB, reqs []common.PriorityRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO priority_request (
			serial_id,
			op_type,
			sender,
			pub_data,
			expiration_block,
			eth_block_num,
			eth_tx_hash,
			batch_num
		) VALUES %s;`,
		reqs,
	))
}

// setPriorityRequestsBatch sets the batch that consumed the priority requests
func (hdb *HistoryDB) setPriorityRequestsBatch(d sqlx.Ext, batchNum common.BatchNum,
	serialIDs []uint64) error {
	for _, serial := range serialIDs {
		res, err := d.Exec("UPDATE priority_request SET batch_num = $1 WHERE serial_id = $2;",
			batchNum, serial)
		if err != nil {
			return common.Wrap(err)
		}
		if err := database.RowsAffectedError(res, 1); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

// GetPriorityRequests returns all the priority requests ordered by serial id
func (hdb *HistoryDB) GetPriorityRequests() ([]common.PriorityRequest, error) {
	var reqs []*common.PriorityRequest
	err := meddler.QueryAll(
		hdb.dbRead, &reqs,
		"SELECT * FROM priority_request ORDER BY serial_id;",
	)
	return database.SlicePtrsToSlice(reqs).([]common.PriorityRequest), common.Wrap(err)
}

// GetUnprocessedPriorityRequests returns the priority requests not consumed
// by a committed batch, ordered by serial id
func (hdb *HistoryDB) GetUnprocessedPriorityRequests() ([]common.PriorityRequest, error) {
	var reqs []*common.PriorityRequest
	err := meddler.QueryAll(
		hdb.dbRead, &reqs,
		"SELECT * FROM priority_request WHERE batch_num IS NULL ORDER BY serial_id;",
	)
	return database.SlicePtrsToSlice(reqs).([]common.PriorityRequest), common.Wrap(err)
}

// GetNextPrioritySerialID returns the serial id that the next priority
// request will have
func (hdb *HistoryDB) GetNextPrioritySerialID() (uint64, error) {
	row := hdb.dbRead.QueryRow("SELECT COALESCE(MAX(serial_id) + 1, 0) FROM priority_request;")
	var serial uint64
	return serial, common.Wrap(row.Scan(&serial))
}

// AddFactAuths inserts onchain ChangePubKey authorizations
func (hdb *HistoryDB) AddFactAuths(ethBlockNum int64, facts []common.FactAuth) error {
	return common.Wrap(hdb.addFactAuths(hdb.dbWrite, ethBlockNum, facts))
}
func (hdb *HistoryDB) addFactAuths(d meddler.DB, ethBlockNum int64, facts []common.FactAuth) error {
	if len(facts) == 0 {
		return nil
	}
	ws := make([]factAuthWrite, len(facts))
	for i := range facts {
		ws[i] = factAuthWrite{EthBlockNum: ethBlockNum, Address: facts[i].Address,
			Nonce: facts[i].Nonce, PubKeyHash: facts[i].PubKeyHash}
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO fact_auth (
			eth_block_num,
			address,
			nonce,
			pub_key_hash
		) VALUES %s;`,
		ws,
	))
}

// HasFactAuth returns true if the owner of addr authorized onchain the
// pubkey hash at the given nonce.  It implements txprocessor.FactSource.
func (hdb *HistoryDB) HasFactAuth(addr ethCommon.Address, nonce common.Nonce,
	pkh common.PubKeyHash) (bool, error) {
	row := hdb.dbRead.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM fact_auth WHERE address = $1 AND nonce = $2
		AND pub_key_hash = $3);`, addr, nonce, pkh)
	var exists bool
	return exists, common.Wrap(row.Scan(&exists))
}

// GetAllFactAuths returns all the onchain ChangePubKey authorizations
func (hdb *HistoryDB) GetAllFactAuths() ([]common.FactAuth, error) {
	var facts []*common.FactAuth
	err := meddler.QueryAll(
		hdb.dbRead, &facts,
		"SELECT address, nonce, pub_key_hash FROM fact_auth ORDER BY item_id;",
	)
	return database.SlicePtrsToSlice(facts).([]common.FactAuth), common.Wrap(err)
}

// AddExodusExit inserts an exodus exit.  It implements exodus.Store.
func (hdb *HistoryDB) AddExodusExit(exit *common.ExodusExit) error {
	return common.Wrap(hdb.addExodusExits(hdb.dbWrite, []common.ExodusExit{*exit}))
}
func (hdb *HistoryDB) addExodusExits(d meddler.DB, exits []common.ExodusExit) error {
	if len(exits) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO exodus_exit (
			account_id,
			token_id,
			owner,
			amount,
			eth_block_num
		) VALUES %s ON CONFLICT (account_id, token_id) DO NOTHING;`,
		exits,
	))
}

// GetExodusExits returns the performed exodus exits.  It implements
// exodus.Store.
func (hdb *HistoryDB) GetExodusExits() ([]common.ExodusExit, error) {
	var exits []*common.ExodusExit
	err := meddler.QueryAll(
		hdb.dbRead, &exits,
		`SELECT account_id, token_id, owner, amount, eth_block_num
		FROM exodus_exit ORDER BY item_id;`,
	)
	return database.SlicePtrsToSlice(exits).([]common.ExodusExit), common.Wrap(err)
}

// Reorg deletes all the information that was added into the DB after the
// lastValidBlock.  If lastValidBlock is negative, all block information is
// deleted.
func (hdb *HistoryDB) Reorg(lastValidBlock int64) error {
	var err error
	if lastValidBlock < 0 {
		_, err = hdb.dbWrite.Exec("DELETE FROM block;")
	} else {
		_, err = hdb.dbWrite.Exec("DELETE FROM block WHERE eth_block_num > $1;", lastValidBlock)
	}
	return common.Wrap(err)
}

// AddBlockSCData stores all the information of a block retrieved by the
// Synchronizer.  Blocks should be inserted in order, leaving no gaps because
// the pagination system of the API/DB depends on this.  Within blocks, all
// items should also be in the correct order (priority requests, batches,
// verifications, reverts)
func (hdb *HistoryDB) AddBlockSCData(blockData *common.BlockData) (err error) {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()

	// Add block
	if err = hdb.addBlock(txn, &blockData.Block); err != nil {
		return common.Wrap(err)
	}

	// Add Tokens
	if err = hdb.addTokens(txn, blockData.Rollup.AddedTokens); err != nil {
		return common.Wrap(err)
	}

	// Priority requests must be added before the batches of the block,
	// which can consume them
	if err = hdb.addPriorityRequests(txn, blockData.Rollup.PriorityRequests); err != nil {
		return common.Wrap(err)
	}

	// Add fact auths
	if err = hdb.addFactAuths(txn, blockData.Block.Num, blockData.Rollup.FactAuths); err != nil {
		return common.Wrap(err)
	}

	// Add Batches
	for i := range blockData.Rollup.Batches {
		batch := &blockData.Rollup.Batches[i]

		if err = hdb.addBatch(txn, &batch.Batch); err != nil {
			return common.Wrap(err)
		}
		if err = hdb.addOps(txn, batch.Ops); err != nil {
			return common.Wrap(err)
		}
		if err = hdb.addAccounts(txn, batch.Batch.BatchNum, batch.CreatedAccounts); err != nil {
			return common.Wrap(err)
		}
		if err = hdb.addAccountUpdates(txn, batch.UpdatedAccounts); err != nil {
			return common.Wrap(err)
		}
		if err = hdb.addNFTs(txn, batch.Batch.BatchNum, batch.MintedNFTs); err != nil {
			return common.Wrap(err)
		}
		if err = hdb.setPriorityRequestsBatch(txn, batch.Batch.BatchNum,
			batch.PriorityRequests); err != nil {
			return common.Wrap(err)
		}
	}

	if err = hdb.setBatchesStatus(txn, common.BatchStatusVerified,
		blockData.Rollup.VerifiedBatches); err != nil {
		return common.Wrap(err)
	}
	if err = hdb.revertBatches(txn, blockData.Rollup.RevertedBatches); err != nil {
		return common.Wrap(err)
	}

	if err = hdb.addExodusExits(txn, blockData.Rollup.ExodusExits); err != nil {
		return common.Wrap(err)
	}

	// Set SC Vars if there was an update
	if blockData.Rollup.Vars != nil {
		if err = hdb.setRollupVars(txn, blockData.Rollup.Vars); err != nil {
			return common.Wrap(err)
		}
	}

	return common.Wrap(txn.Commit())
}

// IsNotFound returns true if the error is the not found error of a single
// row query
func IsNotFound(err error) bool {
	return errors.Is(common.Unwrap(err), sql.ErrNoRows)
}
