package debugapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/priorityqueue"
	"tokamak-zkrollup/synchronizer"
)

func handleNoRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": "404 page not found",
	})
}

type errorMsg struct {
	Message string
}

func badReq(err error, c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorMsg{
		Message: err.Error(),
	})
}

const apiPortMaxHeaderBytes = 1 << 20

// DebugAPI is an http API with debugging endpoints
type DebugAPI struct {
	addr    string
	stateDB *statedb.StateDB // synchronizer statedb
	sync    *synchronizer.Synchronizer
	queue   *priorityqueue.Queue
}

// NewDebugAPI creates a new DebugAPI
func NewDebugAPI(addr string, stateDB *statedb.StateDB, sync *synchronizer.Synchronizer,
	queue *priorityqueue.Queue) *DebugAPI {
	return &DebugAPI{
		addr:    addr,
		stateDB: stateDB,
		sync:    sync,
		queue:   queue,
	}
}

func (a *DebugAPI) handleAccount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badReq(err, c)
		return
	}
	account, err := a.stateDB.LastGetAccount(common.AccountID(id))
	if err != nil {
		badReq(err, c)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a *DebugAPI) handleCurrentBatch(c *gin.Context) {
	batchNum, err := a.stateDB.LastGetCurrentBatch()
	if err != nil {
		badReq(err, c)
		return
	}
	c.JSON(http.StatusOK, batchNum)
}

func (a *DebugAPI) handleSyncStats(c *gin.Context) {
	stats := a.sync.Stats()
	c.JSON(http.StatusOK, stats)
}

type queueResponse struct {
	State        string                   `json:"state"`
	NextSerialID uint64                   `json:"nextSerialId"`
	Pending      []common.PriorityRequest `json:"pending"`
}

func (a *DebugAPI) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, queueResponse{
		State:        a.queue.State().String(),
		NextSerialID: a.queue.NextSerialID(),
		Pending:      a.queue.Pending(),
	})
}

// Handler returns the gin engine with the debug endpoints
func (a *DebugAPI) Handler() *gin.Engine {
	api := gin.Default()
	api.NoRoute(handleNoRoute)
	api.Use(cors.Default())
	debugAPI := api.Group("/debug")

	debugAPI.GET("sdb/batchnum", a.handleCurrentBatch)
	debugAPI.GET("sdb/accounts/:id", a.handleAccount)

	debugAPI.GET("sync/stats", a.handleSyncStats)
	debugAPI.GET("queue", a.handleQueue)

	return api
}

// Run starts the http server of the DebugAPI.  To stop it, pass a context
// with cancellation (see `debugapi_test.go` for an example).
func (a *DebugAPI) Run(ctx context.Context) error {
	debugAPIServer := &http.Server{
		Handler: a.Handler(),
		// Use some hardcoded numbers that are suitable for testing
		ReadTimeout:    30 * time.Second, //nolint:gomnd
		WriteTimeout:   30 * time.Second, //nolint:gomnd
		MaxHeaderBytes: apiPortMaxHeaderBytes,
	}
	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return common.Wrap(err)
	}
	log.Infof("DebugAPI is ready at %v", a.addr)
	go func() {
		if err := debugAPIServer.Serve(listener); err != nil &&
			common.Unwrap(err) != http.ErrServerClosed {
			log.Fatalf("Listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Info("Stopping DebugAPI...")
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:gomnd
	defer cancel()
	if err := debugAPIServer.Shutdown(ctxTimeout); err != nil {
		return common.Wrap(err)
	}
	log.Info("DebugAPI done")
	return nil
}
