package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
	"tokamak-zkrollup/database/l2db"
)

type receivedPoolTx struct {
	OpType common.OpType   `json:"opType" validate:"required"`
	Tx     json.RawMessage `json:"tx" validate:"required"`
}

type postPoolTxResponse struct {
	TxHash ethCommon.Hash `json:"txHash"`
}

// postPoolTx decodes a signed tx, checks its signature and inserts it into
// the pool.  The signature against the account key is checked again by the
// tx selector at forge time.
func (a *API) postPoolTx(c *gin.Context) {
	var received receivedPoolTx
	if err := c.ShouldBindJSON(&received); err != nil {
		retBadReq(err, c)
		return
	}
	if err := a.validate.Struct(received); err != nil {
		retBadReq(err, c)
		return
	}
	tx, err := l2db.DecodeTx(received.OpType, received.Tx)
	if err != nil {
		retBadReq(err, c)
		return
	}
	if _, err := crypto.VerifySigned(tx); err != nil {
		retBadReq(err, c)
		return
	}
	poolTx, err := l2db.NewPoolTx(tx)
	if err != nil {
		retBadReq(err, c)
		return
	}
	if err := a.l2DB.AddTxAPI(poolTx); err != nil {
		retSQLErr(err, c)
		return
	}
	c.JSON(http.StatusOK, postPoolTxResponse{TxHash: poolTx.TxHash})
}

func (a *API) getPoolTx(c *gin.Context) {
	hashStr := c.Param("hash")
	var txHash ethCommon.Hash
	if err := txHash.UnmarshalText([]byte(hashStr)); err != nil {
		retBadReq(fmt.Errorf("invalid hash: %q", hashStr), c)
		return
	}
	tx, err := a.l2DB.GetTxAPI(txHash)
	if err != nil {
		retSQLErr(err, c)
		return
	}
	c.JSON(http.StatusOK, tx)
}
