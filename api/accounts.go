package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/historydb"
	"tokamak-zkrollup/database/l2db"
)

func (a *API) getAccount(c *gin.Context) {
	id, err := parseUint32Param(c, "id")
	if err != nil {
		retBadReq(err, c)
		return
	}
	accountID := common.AccountID(id)
	if accountID > common.NFTStorageAccountID {
		retBadReq(fmt.Errorf("account id %d out of range", id), c)
		return
	}
	account, err := a.stateDB.LastGetAccount(accountID)
	if err != nil {
		retSQLErr(err, c)
		return
	}
	if account.IsEmpty() && accountID != common.NFTStorageAccountID {
		c.JSON(http.StatusNotFound, errorMsg{Message: "account not found"})
		return
	}
	apiAccount := historydb.NewAccountAPI(account)
	apiAccount.ID = accountID
	c.JSON(http.StatusOK, apiAccount)
}

type poolTxsResponse struct {
	Txs []l2db.PoolTx `json:"transactions"`
}

func (a *API) getAccountPoolTxs(c *gin.Context) {
	id, err := parseUint32Param(c, "id")
	if err != nil {
		retBadReq(err, c)
		return
	}
	var state *l2db.PoolTxState
	if s := c.Query("state"); s != "" {
		txState := l2db.PoolTxState(s)
		switch txState {
		case l2db.PoolTxStatePending, l2db.PoolTxStateForging,
			l2db.PoolTxStateForged, l2db.PoolTxStateInvalid:
		default:
			retBadReq(fmt.Errorf("invalid state: %q", s), c)
			return
		}
		state = &txState
	}
	txs, err := a.l2DB.GetPoolTxsAPI(common.AccountID(id), state)
	if err != nil {
		retSQLErr(err, c)
		return
	}
	if txs == nil {
		txs = []l2db.PoolTx{}
	}
	c.JSON(http.StatusOK, poolTxsResponse{Txs: txs})
}
