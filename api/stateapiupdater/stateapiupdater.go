/*
Package stateapiupdater is responsible for generating and storing the object response of the GET /state endpoint exposed through the api package.

Deployment considerations: in a setup where multiple processes are used (dedicated api process, separated coord / sync, ...), only one process should care
of using this package.
*/
package stateapiupdater

import (
	"sync"

	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/exodus"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/synchronizer"
)

// Updater is an utility object to facilitate updating the StateAPI
type Updater struct {
	hdb    *historydb.HistoryDB
	state  historydb.StateAPI
	config historydb.NodeConfig
	vars   common.RollupVariables
	consts historydb.Constants
	rw     sync.RWMutex
}

// NewUpdater creates a new Updater
func NewUpdater(hdb *historydb.HistoryDB, config *historydb.NodeConfig, vars *common.RollupVariables,
	consts *historydb.Constants) *Updater {
	u := Updater{
		hdb:    hdb,
		config: *config,
		consts: *consts,
		state: historydb.StateAPI{
			NodePublicInfo: historydb.NodePublicInfo{
				ForgeDelay: config.ForgeDelay,
			},
		},
	}
	u.SetSCVars(vars)
	return &u
}

// Store the State in the HistoryDB
func (u *Updater) Store() error {
	u.rw.RLock()
	defer u.rw.RUnlock()
	return common.Wrap(u.hdb.SetStateInternalAPI(&u.state))
}

// SetSCVars sets the smart contract vars (ony updates them if not nil)
func (u *Updater) SetSCVars(vars *common.RollupVariables) {
	if vars == nil {
		return
	}
	u.rw.Lock()
	defer u.rw.Unlock()
	u.vars = *vars
	u.state.Rollup = *historydb.NewRollupVariablesAPI(&u.vars)
}

// UpdatePoolLoad updates the number of pending txs in the pool
func (u *Updater) UpdatePoolLoad(poolLoad int64) {
	u.rw.Lock()
	defer u.rw.Unlock()
	u.state.NodePublicInfo.PoolLoad = poolLoad
}

// UpdateNetworkInfo updates the network info from the synchronizer stats
// and the pending priority operations
func (u *Updater) UpdateNetworkInfo(stats *synchronizer.Stats, pendingPriorityOps int) error {
	// The last batch is read from the DB to include the batch
	// aggregates exposed by the API
	lastBatch, err := u.hdb.GetLastBatchAPI()
	if err != nil {
		return common.Wrap(err)
	}
	u.rw.Lock()
	defer u.rw.Unlock()
	u.state.Network = historydb.NetworkAPI{
		LastEthBlock:         stats.Eth.LastBlock.Num,
		LastSyncBlock:        stats.Sync.LastBlock.Num,
		LastBatch:            lastBatch,
		LastVerifiedBatchNum: stats.Sync.LastVerifiedBatch,
		PendingPriorityOps:   pendingPriorityOps,
	}
	if stats.Synced() {
		log.Debugw("StateAPI network info updated",
			"lastBlock", stats.Sync.LastBlock.Num,
			"lastVerifiedBatch", stats.Sync.LastVerifiedBatch)
	}
	return nil
}

// UpdateExodus updates the exodus mode info
func (u *Updater) UpdateExodus(status exodus.Status) {
	u.rw.Lock()
	defer u.rw.Unlock()
	u.state.Exodus = historydb.ExodusAPI{
		Active:          status.Active,
		ActivationBlock: status.ActivationBlock,
		LastVerified:    status.LastVerified,
		Exits:           status.NumExits,
	}
}

// State returns a copy of the current state
func (u *Updater) State() historydb.StateAPI {
	u.rw.RLock()
	defer u.rw.RUnlock()
	return u.state
}
