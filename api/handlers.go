package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"github.com/lib/pq"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/l2db"
	"tokamak-zkrollup/log"
)

const (
	// maxLimit is the max permitted items to be returned in paginated responses
	maxLimit uint = 2049

	// dfltLimit indicates the limit of returned items if not provided
	dfltLimit uint = 20

	// errDuplicatedKey is returned by postgres on a unique violation
	errDuplicatedKey = "unique_violation"
)

type errorMsg struct {
	Message string `json:"message"`
}

func newValidate() *validator.Validate {
	return validator.New()
}

func retSQLErr(err error, c *gin.Context) {
	log.Warnw("HTTP API SQL request error", "err", err)
	unwrapErr := common.Unwrap(err)
	if errors.Is(unwrapErr, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, errorMsg{
			Message: "item not found",
		})
	} else if errors.Is(unwrapErr, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, errorMsg{
			Message: "the node is under heavy pressure, please try again later",
		})
	} else if pqErr, ok := unwrapErr.(*pq.Error); ok && pqErr.Code.Name() == errDuplicatedKey {
		c.JSON(http.StatusConflict, errorMsg{
			Message: "the item already exists",
		})
	} else if errors.Is(unwrapErr, l2db.ErrPoolFull) {
		c.JSON(http.StatusServiceUnavailable, errorMsg{
			Message: l2db.ErrPoolFull.Error(),
		})
	} else {
		c.JSON(http.StatusInternalServerError, errorMsg{
			Message: err.Error(),
		})
	}
}

func retBadReq(err error, c *gin.Context) {
	log.Warnw("HTTP API Bad request error", "err", err)
	c.JSON(http.StatusBadRequest, errorMsg{
		Message: err.Error(),
	})
}

func (a *API) noRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, errorMsg{
		Message: "404 page not found",
	})
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": a.version,
		"status":  "ok",
	})
}

// parseUint32Param parses a uint32 path parameter
func parseUint32Param(c *gin.Context, name string) (uint32, error) {
	str := c.Param(name)
	n, err := strconv.ParseUint(str, 10, 32)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("invalid %s: %q", name, str))
	}
	return uint32(n), nil
}

// parseUintQuery parses an optional unsigned query parameter
func parseUintQuery(c *gin.Context, name string, dflt uint64, max uint64) (uint64, error) {
	str := c.Query(name)
	if str == "" {
		return dflt, nil
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil || n > max {
		return 0, common.Wrap(fmt.Errorf("invalid %s: %q", name, str))
	}
	return n, nil
}

// parseBoolQuery parses an optional boolean query parameter
func parseBoolQuery(c *gin.Context, name string) (bool, error) {
	str := c.Query(name)
	if str == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(str)
	if err != nil {
		return false, common.Wrap(fmt.Errorf("invalid %s: %q", name, str))
	}
	return b, nil
}
