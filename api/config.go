package api

import (
	"net/http"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/historydb"
)

type rollupConstants struct {
	PublicConstants             common.RollupConstants `json:"publicConstants"`
	PriorityExpirationBlocks    int64                  `json:"priorityExpirationBlocks"`
	MaxPriorityRequestsPerBatch int                    `json:"maxPriorityRequestsPerBatch"`
	MaxVerifyDelay              int64                  `json:"maxVerifyDelay"`
	ChunkBytes                  int                    `json:"chunkBytes"`
	MaxAccountID                common.AccountID       `json:"maxAccountId"`
	NFTStorageAccountID         common.AccountID       `json:"nftStorageAccountId"`
	MinNFTTokenID               common.TokenID         `json:"minNftTokenId"`
	EthAddressInternalOnly      ethCommon.Address      `json:"ethAddressInternalOnly"`
}

type configAPI struct {
	ChainID         uint64            `json:"chainId"`
	RollupAddress   ethCommon.Address `json:"rollupAddress"`
	RollupConstants rollupConstants   `json:"rollup"`
}

func newConfigAPI(consts *historydb.Constants) *configAPI {
	return &configAPI{
		ChainID:       consts.ChainID,
		RollupAddress: consts.RollupAddress,
		RollupConstants: rollupConstants{
			PublicConstants:             consts.RollupConstants,
			PriorityExpirationBlocks:    common.RollupConstPriorityExpirationBlocks,
			MaxPriorityRequestsPerBatch: common.RollupConstMaxPriorityRequestsPerBatch,
			MaxVerifyDelay:              common.RollupConstMaxVerifyDelay,
			ChunkBytes:                  common.ChunkBytes,
			MaxAccountID:                common.MaxAccountID,
			NFTStorageAccountID:         common.NFTStorageAccountID,
			MinNFTTokenID:               common.MinNFTTokenID,
			EthAddressInternalOnly:      common.RollupConstEthAddressInternalOnly,
		},
	}
}

func (a *API) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.config)
}
