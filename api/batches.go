package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/common"
)

func (a *API) getBatch(c *gin.Context) {
	batchNum, err := parseUint32Param(c, "num")
	if err != nil {
		retBadReq(err, c)
		return
	}
	batch, err := a.historyDB.GetBatchAPI(common.BatchNum(batchNum))
	if err != nil {
		retSQLErr(err, c)
		return
	}
	c.JSON(http.StatusOK, batch)
}

type batchOpsResponse struct {
	BatchNum common.BatchNum     `json:"batchNum"`
	Ops      []common.ExecutedOp `json:"operations"`
}

func (a *API) getBatchOps(c *gin.Context) {
	batchNum, err := parseUint32Param(c, "num")
	if err != nil {
		retBadReq(err, c)
		return
	}
	// Fail with 404 on an unknown batch
	if _, err := a.historyDB.GetBatchAPI(common.BatchNum(batchNum)); err != nil {
		retSQLErr(err, c)
		return
	}
	ops, err := a.historyDB.GetOpsAPI(common.BatchNum(batchNum))
	if err != nil {
		retSQLErr(err, c)
		return
	}
	if ops == nil {
		ops = []common.ExecutedOp{}
	}
	c.JSON(http.StatusOK, batchOpsResponse{BatchNum: common.BatchNum(batchNum), Ops: ops})
}
