package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/database/historydb"
)

func (a *API) getState(c *gin.Context) {
	state, err := a.historyDB.GetStateAPI()
	if err != nil {
		retSQLErr(err, c)
		return
	}
	if state == nil {
		c.JSON(http.StatusServiceUnavailable, errorMsg{Message: "the node is not synchronized yet"})
		return
	}
	c.JSON(http.StatusOK, state)
}

type coordinatorsResponse struct {
	Coordinators []historydb.CoordinatorAPI `json:"coordinators"`
}

func (a *API) getCoordinators(c *gin.Context) {
	coordinators, err := a.historyDB.GetCoordinatorsAPI()
	if err != nil {
		retSQLErr(err, c)
		return
	}
	c.JSON(http.StatusOK, coordinatorsResponse{Coordinators: coordinators})
}
