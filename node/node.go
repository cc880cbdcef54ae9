/*
Package node does the initialization of all the required objects to run both
the synchronizer and the coordinator.

The Node contains several goroutines that run in the background or that
periodically perform tasks.  One of this goroutines periodically calls the
`Synchronizer.Sync` function, allowing the synchronization of one block at a
time.  After every call to `Synchronizer.Sync`, the Node sends a message to the
Coordinator to notify it about the new synced block (and associated state) or
reorg (and resetted state) in case one happens.
*/
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/russross/meddler"
	"tokamak-zkrollup/api"
	"tokamak-zkrollup/api/stateapiupdater"
	"tokamak-zkrollup/batchbuilder"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/config"
	"tokamak-zkrollup/coordinator"
	"tokamak-zkrollup/coordinator/prover"
	dbUtils "tokamak-zkrollup/database"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/eth"
	"tokamak-zkrollup/etherscan"
	"tokamak-zkrollup/exodus"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/synchronizer"
	"tokamak-zkrollup/test/debugapi"
	"tokamak-zkrollup/txprocessor"
	"tokamak-zkrollup/txselector"
)

// Mode sets the working mode of the node (synchronizer or coordinator)
type Mode string

const (
	// ModeCoordinator defines the mode of the node as Coordinator, which
	// means that the node is set to forge (which also will be synchronizing with
	// the L1 blockchain state)
	ModeCoordinator Mode = "coordinator"

	// ModeSynchronizer defines the mode of the node as Synchronizer, which
	// means that the node is set to only synchronize with the L1 blockchain state
	// and will not forge
	ModeSynchronizer Mode = "synchronizer"
)

// Node is the rollup node
type Node struct {
	nodeAPI         *NodeAPI
	stateAPIUpdater *stateapiupdater.Updater
	debugAPI        *debugapi.DebugAPI
	// Coordinator
	coord *coordinator.Coordinator
	l2DB  *l2db.L2DB

	// Synchronizer
	sync   *synchronizer.Synchronizer
	queue  *priorityqueue.Queue
	exodus *exodus.Controller

	// General
	cfg          *config.Node
	mode         Mode
	sqlConnRead  *sqlx.DB
	sqlConnWrite *sqlx.DB
	historyDB    *historydb.HistoryDB
	ctx          context.Context
	wg           sync.WaitGroup
	cancel       context.CancelFunc
}

// NodeAPI holds the node http API
type NodeAPI struct { //nolint:golint
	api          *api.API
	engine       *gin.Engine
	addr         string
	readtimeout  time.Duration
	writetimeout time.Duration
}

// NewNodeAPI creates a new NodeAPI (which internally calls api.NewAPI)
func NewNodeAPI(addr string, readtimeout, writetimeout time.Duration,
	apiConfig api.Config) (*NodeAPI, error) {
	_api, err := api.NewAPI(apiConfig)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &NodeAPI{
		addr:         addr,
		api:          _api,
		engine:       apiConfig.Server,
		readtimeout:  readtimeout,
		writetimeout: writetimeout,
	}, nil
}

// Run starts the http server of the NodeAPI.  To stop it, pass a context
// with cancellation.
func (a *NodeAPI) Run(ctx context.Context) error {
	server := &http.Server{
		Handler:        a.engine,
		ReadTimeout:    a.readtimeout,
		WriteTimeout:   a.writetimeout,
		MaxHeaderBytes: 1 << 20, //nolint:gomnd
	}
	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return common.Wrap(err)
	}
	log.Infof("NodeAPI is ready at %v", a.addr)
	go func() {
		if err := server.Serve(listener); err != nil &&
			common.Unwrap(err) != http.ErrServerClosed {
			log.Fatalf("Listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Info("Stopping NodeAPI...")
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:gomnd
	defer cancel()
	if err := server.Shutdown(ctxTimeout); err != nil {
		return common.Wrap(err)
	}
	log.Info("NodeAPI done")
	return nil
}

// Check if a directory exists and is empty
func isDirectoryEmpty(path string) (bool, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil // Directory doesn't exist, treat as empty
		}
		return false, err
	}
	return len(dirEntries) == 0, nil
}

// unlockForger opens the keystore and unlocks the forger account to sign
// the commit and verify transactions
func unlockForger(cfg *config.Node, ethClient *ethclient.Client) (*accounts.Account,
	*keystore.KeyStore, error) {
	isEmpty, err := isDirectoryEmpty(cfg.Coordinator.EthClient.Keystore.Path)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	if isEmpty {
		return nil, nil, common.Wrap(fmt.Errorf(
			"keystore %v is empty, import the forger key with the importkey command",
			cfg.Coordinator.EthClient.Keystore.Path))
	}
	scryptN := keystore.StandardScryptN
	scryptP := keystore.StandardScryptP
	if cfg.Coordinator.Debug.LightScrypt {
		scryptN = keystore.LightScryptN
		scryptP = keystore.LightScryptP
	}
	keyStore := keystore.NewKeyStore(cfg.Coordinator.EthClient.Keystore.Path, scryptN, scryptP)

	forgerBalance, err := ethClient.BalanceAt(context.TODO(), cfg.Coordinator.ForgerAddress, nil)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	minForgeBalance := cfg.Coordinator.MinimumForgeAddressBalance
	if minForgeBalance != nil && forgerBalance.Cmp(minForgeBalance) == -1 {
		return nil, nil, common.Wrap(fmt.Errorf(
			"forger account balance is less than cfg.Coordinator.MinimumForgeAddressBalance: %v < %v",
			forgerBalance, minForgeBalance))
	}
	log.Infow("forger ethereum account balance",
		"addr", cfg.Coordinator.ForgerAddress,
		"balance", forgerBalance,
		"minForgeBalance", minForgeBalance,
	)

	if !keyStore.HasAddress(cfg.Coordinator.ForgerAddress) {
		return nil, nil, common.Wrap(fmt.Errorf(
			"ethereum keystore doesn't have the key for address %v",
			cfg.Coordinator.ForgerAddress))
	}
	forgerAccount := &accounts.Account{
		Address: cfg.Coordinator.ForgerAddress,
	}
	if err := keyStore.Unlock(
		*forgerAccount,
		cfg.Coordinator.EthClient.Keystore.Password,
	); err != nil {
		return nil, nil, common.Wrap(err)
	}
	log.Infow("Forger ethereum account unlocked in the keystore",
		"addr", cfg.Coordinator.ForgerAddress)
	return forgerAccount, keyStore, nil
}

// NewNode creates a Node
func NewNode(mode Mode, cfg *config.Node, version string) (*Node, error) {
	meddler.Debug = cfg.Debug.MeddlerLogs
	// Stablish DB connection
	dbWrite, err := dbUtils.InitSQLDB(
		cfg.PostgreSQL.PortWrite,
		cfg.PostgreSQL.HostWrite,
		cfg.PostgreSQL.UserWrite,
		cfg.PostgreSQL.PasswordWrite,
		cfg.PostgreSQL.NameWrite,
	)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("dbUtils.InitSQLDB: %w", err))
	}
	var dbRead *sqlx.DB
	if cfg.PostgreSQL.HostRead == "" {
		dbRead = dbWrite
	} else if cfg.PostgreSQL.HostRead == cfg.PostgreSQL.HostWrite {
		return nil, common.Wrap(fmt.Errorf(
			"PostgreSQL.HostRead and PostgreSQL.HostWrite must be different",
		))
	} else {
		dbRead, err = dbUtils.InitSQLDB(
			cfg.PostgreSQL.PortRead,
			cfg.PostgreSQL.HostRead,
			cfg.PostgreSQL.UserRead,
			cfg.PostgreSQL.PasswordRead,
			cfg.PostgreSQL.NameRead,
		)
		if err != nil {
			return nil, common.Wrap(fmt.Errorf("dbUtils.InitSQLDB: %w", err))
		}
	}
	apiConnCon := dbUtils.NewAPIConnectionController(
		cfg.API.MaxSQLConnections,
		cfg.API.SQLConnectionTimeout.Duration,
	)

	historyDB := historydb.NewHistoryDB(dbRead, dbWrite, apiConnCon)

	ethClient, err := ethclient.Dial(cfg.Web3.URL)
	if err != nil {
		return nil, common.Wrap(err)
	}
	var forgerAccount *accounts.Account
	var keyStore *keystore.KeyStore
	if mode == ModeCoordinator {
		forgerAccount, keyStore, err = unlockForger(cfg, ethClient)
		if err != nil {
			return nil, common.Wrap(err)
		}
	}
	client, err := eth.NewClient(ethClient, forgerAccount, keyStore, &eth.ClientConfig{
		Ethereum: eth.EthereumConfig{
			CallGasLimit: cfg.Coordinator.EthClient.CallGasLimit,
			GasPriceDiv:  cfg.Coordinator.EthClient.GasPriceDiv,
		},
		Rollup: eth.RollupConfig{
			Address: cfg.SmartContracts.Rollup,
		},
	})
	if err != nil {
		return nil, common.Wrap(err)
	}

	chainID, err := client.EthChainID()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !chainID.IsUint64() {
		return nil, common.Wrap(fmt.Errorf("chainID cannot be represented as uint64"))
	}
	chainIDU64 := chainID.Uint64()

	stateDB, err := statedb.NewStateDB(statedb.Config{
		Path:    cfg.StateDB.Path,
		Keep:    cfg.StateDB.Keep,
		Type:    statedb.TypeSynchronizer,
		NLevels: statedb.MaxNLevels,
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	// The queue is rebuilt from the HistoryDB by the synchronizer
	queue := priorityqueue.NewQueue(0)
	exodusCtl, err := exodus.NewController(cfg.Exodus.Path, stateDB, historyDB)
	if err != nil {
		return nil, common.Wrap(err)
	}

	var l2DB *l2db.L2DB
	var initialCoordinator *common.Coordinator
	if mode == ModeCoordinator {
		l2DB = l2db.NewL2DB(
			dbRead, dbWrite,
			cfg.Coordinator.L2DB.SafetyPeriod,
			cfg.Coordinator.L2DB.MaxTxs,
			cfg.Coordinator.L2DB.TTL.Duration,
			apiConnCon,
		)
		initialCoordinator = &common.Coordinator{
			Forger:     cfg.Coordinator.ForgerAddress,
			FeeAccount: cfg.Coordinator.FeeAccount,
		}
	}

	sync, err := synchronizer.NewSynchronizer(
		client,
		historyDB,
		stateDB,
		queue,
		exodusCtl,
		synchronizer.Config{
			StatsUpdateBlockNumDiffThreshold: cfg.Synchronizer.StatsUpdateBlockNumDiffThreshold,
			StatsUpdateFrequencyDivider:      cfg.Synchronizer.StatsUpdateFrequencyDivider,
			InitialCoordinator:               initialCoordinator,
		})
	if err != nil {
		return nil, common.Wrap(err)
	}
	initSCVars := sync.SCVars()
	scConsts := sync.RollupConstants()
	if scConsts.ChainID != chainIDU64 {
		return nil, common.Wrap(fmt.Errorf("rollup chainID %v doesn't match the ethereum chainID %v",
			scConsts.ChainID, chainIDU64))
	}

	hdbNodeCfg := historydb.NodeConfig{
		MaxPoolTxs:  cfg.Coordinator.L2DB.MaxTxs,
		BlockChunks: int(cfg.Coordinator.Circuit.MaxChunks),
		ForgeDelay:  cfg.Coordinator.ForgeDelay.Duration.Seconds(),
	}
	if err := historyDB.SetNodeConfig(&hdbNodeCfg); err != nil {
		return nil, common.Wrap(err)
	}
	hdbConsts := historydb.Constants{
		RollupConstants: *scConsts,
		RollupAddress:   cfg.SmartContracts.Rollup,
	}
	if err := historyDB.SetConstants(&hdbConsts); err != nil {
		return nil, common.Wrap(err)
	}
	stateAPIUpdater := stateapiupdater.NewUpdater(historyDB, &hdbNodeCfg, initSCVars, &hdbConsts)

	var coord *coordinator.Coordinator
	if mode == ModeCoordinator {
		var etherScanService *etherscan.Service
		if cfg.Coordinator.Etherscan.URL != "" && cfg.Coordinator.Etherscan.APIKey != "" {
			log.Info("EtherScan method detected in cofiguration file")
			etherScanService, _ = etherscan.NewEtherscanService(cfg.Coordinator.Etherscan.URL,
				cfg.Coordinator.Etherscan.APIKey)
		} else {
			log.Info("EtherScan method not configured in config file")
		}

		txSelector, err := txselector.NewTxSelector(
			cfg.Coordinator.TxSelector.Path,
			stateDB,
			l2DB,
			queue,
			historyDB,
		)
		if err != nil {
			return nil, common.Wrap(err)
		}
		batchBuilder, err := batchbuilder.NewBatchBuilder(
			cfg.Coordinator.BatchBuilder.Path,
			stateDB,
			0,
			statedb.MaxNLevels,
			historyDB,
		)
		if err != nil {
			return nil, common.Wrap(err)
		}
		serverProofs := make([]prover.Client, len(cfg.Coordinator.ServerProofs))
		for i, serverProofCfg := range cfg.Coordinator.ServerProofs {
			serverProofs[i] = prover.NewProofServerClient(serverProofCfg.URL,
				cfg.Coordinator.ProofServerPollInterval.Duration)
		}

		coord, err = coordinator.NewCoordinator(
			coordinator.Config{
				ForgerAddress:          cfg.Coordinator.ForgerAddress,
				FeeAccount:             cfg.Coordinator.FeeAccount,
				PipelineDepth:          cfg.Coordinator.PipelineDepth,
				ConfirmBlocks:          cfg.Coordinator.ConfirmBlocks,
				EthClientAttempts:      cfg.Coordinator.EthClient.Attempts,
				EthClientAttemptsDelay: cfg.Coordinator.EthClient.AttemptsDelay.Duration,
				ForgeRetryInterval:     cfg.Coordinator.ForgeRetryInterval.Duration,
				ForgeDelay:             cfg.Coordinator.ForgeDelay.Duration,
				ForgeNoTxsDelay:        cfg.Coordinator.ForgeNoTxsDelay.Duration,
				SyncRetryInterval:      cfg.Coordinator.SyncRetryInterval.Duration,
				TxManagerCheckInterval: cfg.Coordinator.EthClient.CheckLoopInterval.Duration,
				MaxGasPrice:            cfg.Coordinator.EthClient.MaxGasPrice,
				MinGasPrice:            cfg.Coordinator.EthClient.MinGasPrice,
				GasPriceIncPerc:        cfg.Coordinator.EthClient.GasPriceIncPerc,
				CommitGasLimit:         cfg.Coordinator.EthClient.ForgeBatchGasCost.Commit,
				VerifyGasLimit:         cfg.Coordinator.EthClient.ForgeBatchGasCost.Verify,
				DebugBatchPath:         cfg.Coordinator.Debug.BatchPath,
				Purger: coordinator.PurgerCfg{
					PurgeBatchDelay:      cfg.Coordinator.L2DB.PurgeBatchDelay,
					InvalidateBatchDelay: cfg.Coordinator.L2DB.InvalidateBatchDelay,
					PurgeBlockDelay:      cfg.Coordinator.L2DB.PurgeBlockDelay,
					InvalidateBlockDelay: cfg.Coordinator.L2DB.InvalidateBlockDelay,
				},
				TxProcessorConfig: txprocessor.Config{
					MaxChunks:          cfg.Coordinator.Circuit.MaxChunks,
					ChainID:            chainIDU64,
					RollupContractAddr: cfg.SmartContracts.Rollup,
				},
			},
			historyDB,
			l2DB,
			queue,
			exodusCtl,
			txSelector,
			batchBuilder,
			serverProofs,
			client,
			scConsts,
			initSCVars,
			etherScanService,
		)
		if err != nil {
			return nil, common.Wrap(err)
		}
	}

	var nodeAPI *NodeAPI
	if cfg.API.Address != "" {
		if cfg.Debug.GinDebugMode {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
		server := gin.Default()
		server.Use(cors.Default())
		server.GET("/metrics", gin.WrapH(promhttp.Handler()))
		nodeAPI, err = NewNodeAPI(cfg.API.Address,
			cfg.API.ReadTimeout.Duration, cfg.API.WriteTimeout.Duration,
			api.Config{
				Version:              version,
				ExplorerEndpoints:    cfg.API.Explorer,
				CoordinatorEndpoints: mode == ModeCoordinator && cfg.API.Coordinator,
				Server:               server,
				HistoryDB:            historyDB,
				L2DB:                 l2DB,
				StateDB:              stateDB,
				Exodus:               exodusCtl,
			})
		if err != nil {
			return nil, common.Wrap(err)
		}
	}

	var debugAPI *debugapi.DebugAPI
	if cfg.Debug.APIAddress != "" {
		debugAPI = debugapi.NewDebugAPI(cfg.Debug.APIAddress, stateDB, sync, queue)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		stateAPIUpdater: stateAPIUpdater,
		nodeAPI:         nodeAPI,
		debugAPI:        debugAPI,
		coord:           coord,
		l2DB:            l2DB,
		sync:            sync,
		queue:           queue,
		exodus:          exodusCtl,
		cfg:             cfg,
		mode:            mode,
		sqlConnRead:     dbRead,
		sqlConnWrite:    dbWrite,
		historyDB:       historyDB,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// updateStateAPI refreshes the network and exodus info of the StateAPI and
// stores it.  The network info is only refreshed once the node is synced.
func (n *Node) updateStateAPI(stats *synchronizer.Stats, vars *common.RollupVariables) error {
	n.stateAPIUpdater.SetSCVars(vars)
	/*
		When the state is out of sync, which means, the last block synchronized by the node is
		different/smaller from the last block provided by the ethereum, the network info in the state
		will not be updated.  The API serves the last stored network info until the
		node finishes the synchronization with the ethereum network.
	*/
	if stats.Synced() {
		if err := n.stateAPIUpdater.UpdateNetworkInfo(stats, len(n.queue.Pending())); err != nil {
			log.Errorw("ApiStateUpdater.UpdateNetworkInfo", "err", err)
		}
	}
	n.stateAPIUpdater.UpdateExodus(n.exodus.Status())
	if err := n.stateAPIUpdater.Store(); err != nil {
		return common.Wrap(err)
	}
	return nil
}

func (n *Node) handleNewBlock(ctx context.Context, stats *synchronizer.Stats,
	vars *common.RollupVariables, batches []common.BatchData,
	revertedBatches []common.BatchEvent) error {
	if n.mode == ModeCoordinator {
		n.coord.SendMsg(ctx, coordinator.MsgSyncBlock{
			Stats:           *stats,
			Batches:         batches,
			RevertedBatches: revertedBatches,
			Vars:            vars,
		})
	}
	return n.updateStateAPI(stats, vars)
}

func (n *Node) handleReorg(ctx context.Context, stats *synchronizer.Stats,
	vars *common.RollupVariables) error {
	if n.mode == ModeCoordinator {
		n.coord.SendMsg(ctx, coordinator.MsgSyncReorg{
			Stats: *stats,
			Vars:  vars,
		})
	}
	return n.updateStateAPI(stats, vars)
}

// syncLoopFn returns the last synced block and the time to wait before the
// next sync call
func (n *Node) syncLoopFn(ctx context.Context, lastBlock *common.Block) (*common.Block,
	time.Duration, error) {
	blockData, discarded, err := n.sync.Sync(ctx, lastBlock)
	stats := n.sync.Stats()
	if err != nil {
		// case: error
		return nil, n.cfg.Synchronizer.SyncLoopInterval.Duration, common.Wrap(err)
	} else if discarded != nil {
		// case: reorg
		log.Infow("Synchronizer.Sync reorg", "discarded", *discarded)
		vars := n.sync.SCVars()
		if err := n.handleReorg(ctx, stats, vars); err != nil {
			return nil, time.Duration(0), common.Wrap(err)
		}
		return nil, time.Duration(0), nil
	} else if blockData != nil {
		// case: new block
		if err := n.handleNewBlock(ctx, stats, blockData.Rollup.Vars,
			blockData.Rollup.Batches, blockData.Rollup.RevertedBatches); err != nil {
			return nil, time.Duration(0), common.Wrap(err)
		}
		return &blockData.Block, time.Duration(0), nil
	} else {
		// case: no block
		return lastBlock, n.cfg.Synchronizer.SyncLoopInterval.Duration, nil
	}
}

// StartSynchronizer starts the synchronizer
func (n *Node) StartSynchronizer() {
	log.Info("Starting Synchronizer...")

	// Trigger a manual call to handleNewBlock with the loaded state of the
	// synchronizer in order to quickly activate the API and Coordinator
	// and avoid waiting for the next block.  Without this, the API and
	// Coordinator will not react until the following block (starting from
	// the last synced one) is synchronized
	stats := n.sync.Stats()
	vars := n.sync.SCVars()
	if err := n.handleNewBlock(n.ctx, stats, vars, []common.BatchData{}, nil); err != nil {
		log.Fatalw("Node.handleNewBlock", "err", err)
	}

	n.wg.Add(1)
	go func() {
		var err error
		var lastBlock *common.Block
		waitDuration := time.Duration(0)
		for {
			select {
			case <-n.ctx.Done():
				log.Info("Synchronizer done")
				n.wg.Done()
				return
			case <-time.After(waitDuration):
				if lastBlock, waitDuration, err = n.syncLoopFn(n.ctx,
					lastBlock); err != nil {
					if n.ctx.Err() != nil {
						continue
					}
					if errors.Is(err, eth.ErrBlockHashMismatchEvent) {
						log.Warnw("Synchronizer.Sync", "err", err)
					} else if errors.Is(err, synchronizer.ErrUnknownBlock) {
						log.Warnw("Synchronizer.Sync", "err", err)
					} else {
						log.Errorw("Synchronizer.Sync", "err", err)
					}
				}
			}
		}
	}()
}

// startPoolLoadUpdater periodically stores the number of pending txs of the
// pool in the StateAPI
func (n *Node) startPoolLoadUpdater() {
	interval := n.cfg.API.UpdateMetricsInterval.Duration
	if n.l2DB == nil || interval == 0 {
		return
	}
	n.wg.Add(1)
	go func() {
		for {
			select {
			case <-n.ctx.Done():
				log.Info("Pool load updater done")
				n.wg.Done()
				return
			case <-time.After(interval):
				poolLoad, err := n.l2DB.CountPendingTxs()
				if err != nil {
					log.Errorw("L2DB.CountPendingTxs", "err", err)
					continue
				}
				n.stateAPIUpdater.UpdatePoolLoad(poolLoad)
				if err := n.stateAPIUpdater.Store(); err != nil {
					log.Errorw("ApiStateUpdater.Store", "err", err)
				}
			}
		}
	}()
}

// StartNodeAPI starts the NodeAPI and the DebugAPI if they are set
func (n *Node) StartNodeAPI() {
	if n.debugAPI != nil {
		log.Info("Starting DebugAPI...")
		n.wg.Add(1)
		go func() {
			defer func() {
				log.Info("DebugAPI routine stopped")
				n.wg.Done()
			}()
			if err := n.debugAPI.Run(n.ctx); err != nil {
				log.Fatalw("DebugAPI.Run", "err", err)
			}
		}()
	}
	if n.nodeAPI != nil {
		log.Info("Starting NodeAPI...")
		n.wg.Add(1)
		go func() {
			defer func() {
				log.Info("NodeAPI routine stopped")
				n.wg.Done()
			}()
			if err := n.nodeAPI.Run(n.ctx); err != nil {
				log.Fatalw("NodeAPI.Run", "err", err)
			}
		}()
	}
}

// Start the node
func (n *Node) Start() {
	log.Infow("Starting node...", "mode", n.mode)
	n.StartNodeAPI()
	if n.mode == ModeCoordinator {
		log.Info("Starting Coordinator...")
		n.coord.Start()
	}
	n.StartSynchronizer()
	n.startPoolLoadUpdater()
}

// Stop the node
func (n *Node) Stop() {
	log.Infow("Stopping node...")
	n.cancel()
	n.wg.Wait()
	if n.mode == ModeCoordinator {
		log.Info("Stopping Coordinator...")
		n.coord.Stop()
		n.coord.TxSelector().LocalAccountsDB().Close()
		n.coord.BatchBuilder().LocalStateDB().Close()
	}
	// Close kv DBs
	n.exodus.Close()
	n.sync.StateDB().Close()

	if err := n.sqlConnWrite.Close(); err != nil {
		log.Errorw("sqlConnWrite.Close", "err", err)
	}
	if n.sqlConnRead != n.sqlConnWrite {
		if err := n.sqlConnRead.Close(); err != nil {
			log.Errorw("sqlConnRead.Close", "err", err)
		}
	}
}
