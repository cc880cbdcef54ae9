/*
Package api implements the public HTTP API of the rollup node.

The explorer endpoints serve the synchronized state: accounts read from the
synchronizer StateDB, batches and priority requests from the HistoryDB, the
network state stored by the stateapiupdater and the exodus status.  The
coordinator endpoints accept signed transactions into the pool.

	GET  /v1/health
	GET  /v1/config
	GET  /v1/state
	GET  /v1/accounts/:id
	GET  /v1/accounts/:id/pool
	GET  /v1/batches/:num
	GET  /v1/batches/:num/ops
	GET  /v1/priority-requests
	GET  /v1/coordinators
	GET  /v1/exodus
	GET  /v1/exodus/proofs/:accountId/:tokenId
	POST /v1/transactions-pool
	GET  /v1/transactions-pool/:hash
*/
package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/exodus"
	"tokamak-zkrollup/metric"
)

// API serves HTTP requests to allow external interaction with the rollup node
type API struct {
	version   string
	historyDB *historydb.HistoryDB
	config    *configAPI
	l2DB      *l2db.L2DB
	stateDB   *statedb.StateDB
	exodus    *exodus.Controller
	validate  *validator.Validate
}

// Config wraps the parameters needed to start the API
type Config struct {
	Version              string
	CoordinatorEndpoints bool
	ExplorerEndpoints    bool
	Server               *gin.Engine
	HistoryDB            *historydb.HistoryDB
	L2DB                 *l2db.L2DB
	StateDB              *statedb.StateDB
	Exodus               *exodus.Controller
}

// NewAPI sets the endpoints and the appropriate handlers, but doesn't start the server
func NewAPI(setup Config) (*API, error) {
	// Check input
	if setup.CoordinatorEndpoints && setup.L2DB == nil {
		return nil, common.Wrap(errors.New("cannot serve Coordinator endpoints without L2DB"))
	}
	if setup.HistoryDB == nil {
		return nil, common.Wrap(errors.New("cannot serve the API without HistoryDB"))
	}
	if setup.ExplorerEndpoints && (setup.StateDB == nil || setup.Exodus == nil) {
		return nil, common.Wrap(errors.New("cannot serve Explorer endpoints without StateDB and Exodus"))
	}
	consts, err := setup.HistoryDB.GetConstants()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if consts == nil {
		return nil, common.Wrap(errors.New("the rollup constants are not stored yet"))
	}

	a := &API{
		version:   setup.Version,
		historyDB: setup.HistoryDB,
		config:    newConfigAPI(consts),
		l2DB:      setup.L2DB,
		stateDB:   setup.StateDB,
		exodus:    setup.Exodus,
		validate:  newValidate(),
	}

	setup.Server.Use(metric.PrometheusMiddleware())
	setup.Server.NoRoute(a.noRoute)

	v1 := setup.Server.Group("/v1")
	v1.GET("/health", a.getHealth)
	v1.GET("/config", a.getConfig)

	// Add coordinator endpoints
	if setup.CoordinatorEndpoints {
		v1.POST("/transactions-pool", a.postPoolTx)
		v1.GET("/transactions-pool/:hash", a.getPoolTx)
		v1.GET("/accounts/:id/pool", a.getAccountPoolTxs)
	}

	// Add explorer endpoints
	if setup.ExplorerEndpoints {
		v1.GET("/state", a.getState)
		v1.GET("/accounts/:id", a.getAccount)
		v1.GET("/batches/:num", a.getBatch)
		v1.GET("/batches/:num/ops", a.getBatchOps)
		v1.GET("/priority-requests", a.getPriorityRequests)
		v1.GET("/coordinators", a.getCoordinators)
		v1.GET("/exodus", a.getExodus)
		v1.GET("/exodus/proofs/:accountId/:tokenId", a.getExitProof)
	}

	return a, nil
}
