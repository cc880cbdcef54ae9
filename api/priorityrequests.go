package api

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/database/historydb"
)

type priorityRequestsResponse struct {
	Requests     []historydb.PriorityRequestAPI `json:"priorityRequests"`
	PendingItems uint64                         `json:"pendingItems"`
}

// getPriorityRequests returns the priority requests from fromSerialId on.
// With pending=true only the requests not included in a batch are returned.
func (a *API) getPriorityRequests(c *gin.Context) {
	fromSerialID, err := parseUintQuery(c, "fromSerialId", 0, math.MaxInt64)
	if err != nil {
		retBadReq(err, c)
		return
	}
	pendingOnly, err := parseBoolQuery(c, "pending")
	if err != nil {
		retBadReq(err, c)
		return
	}
	limit, err := parseUintQuery(c, "limit", uint64(dfltLimit), uint64(maxLimit))
	if err != nil {
		retBadReq(err, c)
		return
	}
	reqs, total, err := a.historyDB.GetPriorityRequestsAPI(fromSerialID, pendingOnly, uint(limit))
	if err != nil {
		retSQLErr(err, c)
		return
	}
	c.JSON(http.StatusOK, priorityRequestsResponse{
		Requests:     reqs,
		PendingItems: total - uint64(len(reqs)),
	})
}
