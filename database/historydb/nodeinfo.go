package historydb

import (
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
	"tokamak-zkrollup/common"
)

// NodeConfig contains the node config exposed in the API
type NodeConfig struct {
	MaxPoolTxs  uint32
	BlockChunks int
	// ForgeDelay in seconds
	ForgeDelay float64
}

// NodePublicInfo is the configuration and metrics of the node that is exposed via API
type NodePublicInfo struct {
	// ForgeDelay in seconds
	ForgeDelay float64 `json:"forgeDelay"`
	// PoolLoad amount of transactions in the pool
	PoolLoad int64 `json:"poolLoad"`
}

// NetworkAPI is the network state exposed via the API
type NetworkAPI struct {
	LastEthBlock         int64           `json:"lastEthereumBlock"`
	LastSyncBlock        int64           `json:"lastSynchedBlock"`
	LastBatch            *BatchAPI       `json:"lastBatch"`
	LastVerifiedBatchNum common.BatchNum `json:"lastVerifiedBatchNum"`
	PendingPriorityOps   int             `json:"pendingPriorityOperations"`
}

// ExodusAPI is the exodus state exposed via the API
type ExodusAPI struct {
	Active          bool            `json:"active"`
	ActivationBlock int64           `json:"activationBlock"`
	LastVerified    common.BatchNum `json:"lastVerifiedBatchNum"`
	Exits           int             `json:"exits"`
}

// StateAPI is an object representing the node and network state exposed via the API
type StateAPI struct {
	NodePublicInfo NodePublicInfo     `json:"node"`
	Network        NetworkAPI         `json:"network"`
	Rollup         RollupVariablesAPI `json:"rollup"`
	Exodus         ExodusAPI          `json:"exodus"`
}

// Constants contains network constants
type Constants struct {
	common.RollupConstants
	RollupAddress ethCommon.Address
}

// NodeInfo contains information about he node used when serving the API
type NodeInfo struct {
	ItemID     int         `meddler:"item_id,pk"`
	StateAPI   *StateAPI   `meddler:"state,json"`
	NodeConfig *NodeConfig `meddler:"config,json"`
	Constants  *Constants  `meddler:"constants,json"`
}

// GetNodeInfo returns the NodeInfo
func (hdb *HistoryDB) GetNodeInfo() (*NodeInfo, error) {
	ni := &NodeInfo{}
	err := meddler.QueryRow(
		hdb.dbRead, ni, `SELECT * FROM node_info WHERE item_id = 1;`,
	)
	return ni, common.Wrap(err)
}

// SetNodeConfig sets the NodeConfig
func (hdb *HistoryDB) SetNodeConfig(nodeConfig *NodeConfig) error {
	_nodeConfig := struct {
		NodeConfig *NodeConfig `meddler:"config,json"`
	}{nodeConfig}
	values, err := meddler.Default.Values(&_nodeConfig, false)
	if err != nil {
		return common.Wrap(err)
	}
	_, err = hdb.dbWrite.Exec(
		"UPDATE node_info SET config = $1 WHERE item_id = 1;",
		values[0],
	)
	return common.Wrap(err)
}

// SetConstants sets the Constants
func (hdb *HistoryDB) SetConstants(constants *Constants) error {
	_constants := struct {
		Constants *Constants `meddler:"constants,json"`
	}{constants}
	values, err := meddler.Default.Values(&_constants, false)
	if err != nil {
		return common.Wrap(err)
	}
	_, err = hdb.dbWrite.Exec(
		"UPDATE node_info SET constants = $1 WHERE item_id = 1;",
		values[0],
	)
	return common.Wrap(err)
}

// SetStateInternalAPI sets the StateAPI
func (hdb *HistoryDB) SetStateInternalAPI(stateAPI *StateAPI) error {
	_stateAPI := struct {
		StateAPI *StateAPI `meddler:"state,json"`
	}{stateAPI}
	values, err := meddler.Default.Values(&_stateAPI, false)
	if err != nil {
		return common.Wrap(err)
	}
	_, err = hdb.dbWrite.Exec(
		"UPDATE node_info SET state = $1 WHERE item_id = 1;",
		values[0],
	)
	return common.Wrap(err)
}

// GetStateInternalAPI returns the StateAPI stored by the node
func (hdb *HistoryDB) GetStateInternalAPI() (*StateAPI, error) {
	var nodeInfo NodeInfo
	err := meddler.QueryRow(
		hdb.dbRead, &nodeInfo,
		"SELECT state FROM node_info WHERE item_id = 1;",
	)
	return nodeInfo.StateAPI, common.Wrap(err)
}

// GetConstants returns the Constats
func (hdb *HistoryDB) GetConstants() (*Constants, error) {
	var nodeInfo NodeInfo
	err := meddler.QueryRow(
		hdb.dbRead, &nodeInfo,
		"SELECT constants FROM node_info WHERE item_id = 1;",
	)
	return nodeInfo.Constants, common.Wrap(err)
}
