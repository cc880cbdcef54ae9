package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/common/apitypes"
	"tokamak-zkrollup/exodus"
)

type exodusResponse struct {
	exodus.Status
	Exits []common.ExodusExit `json:"exits"`
}

func (a *API) getExodus(c *gin.Context) {
	exits, err := a.historyDB.GetExodusExitsAPI()
	if err != nil {
		retSQLErr(err, c)
		return
	}
	if exits == nil {
		exits = []common.ExodusExit{}
	}
	c.JSON(http.StatusOK, exodusResponse{
		Status: a.exodus.Status(),
		Exits:  exits,
	})
}

type exitProofResponse struct {
	BatchNum        common.BatchNum       `json:"batchNum"`
	StateRoot       *apitypes.BigIntStr   `json:"stateRoot"`
	AccountID       common.AccountID      `json:"accountId"`
	TokenID         common.TokenID        `json:"tokenId"`
	Owner           ethCommon.Address     `json:"owner"`
	Nonce           common.Nonce          `json:"nonce"`
	PubKeyHash      common.PubKeyHash     `json:"pubKeyHash"`
	Amount          *apitypes.BigIntStr   `json:"amount"`
	BalanceRoot     *apitypes.BigIntStr   `json:"balanceRoot"`
	AccountSiblings []*apitypes.BigIntStr `json:"accountSiblings"`
	BalanceSiblings []*apitypes.BigIntStr `json:"balanceSiblings"`
	NFT             *common.NFT           `json:"nft,omitempty"`
	Exited          bool                  `json:"exited"`
}

func bigIntStrs(ns []*big.Int) []*apitypes.BigIntStr {
	strs := make([]*apitypes.BigIntStr, len(ns))
	for i, n := range ns {
		strs[i] = apitypes.NewBigIntStr(n)
	}
	return strs
}

// getExitProof returns the proof a user submits to the rollup contract to
// withdraw a balance once exodus mode is active
func (a *API) getExitProof(c *gin.Context) {
	accountID, err := parseUint32Param(c, "accountId")
	if err != nil {
		retBadReq(err, c)
		return
	}
	tokenID, err := parseUint32Param(c, "tokenId")
	if err != nil {
		retBadReq(err, c)
		return
	}
	if common.AccountID(accountID) > common.NFTStorageAccountID {
		retBadReq(fmt.Errorf("account id %d out of range", accountID), c)
		return
	}
	proof, err := a.exodus.ExitProof(common.AccountID(accountID), common.TokenID(tokenID))
	if errors.Is(common.Unwrap(err), exodus.ErrNotActive) {
		c.JSON(http.StatusConflict, errorMsg{Message: exodus.ErrNotActive.Error()})
		return
	} else if err != nil {
		retSQLErr(err, c)
		return
	}
	accountSiblings, balanceSiblings := proof.Siblings()
	c.JSON(http.StatusOK, exitProofResponse{
		BatchNum:        proof.BatchNum,
		StateRoot:       apitypes.NewBigIntStr(proof.StateRoot),
		AccountID:       proof.AccountID,
		TokenID:         proof.TokenID,
		Owner:           proof.Owner,
		Nonce:           proof.Nonce,
		PubKeyHash:      proof.PubKeyHash,
		Amount:          apitypes.NewBigIntStr(proof.Amount),
		BalanceRoot:     apitypes.NewBigIntStr(proof.BalanceRoot),
		AccountSiblings: bigIntStrs(accountSiblings),
		BalanceSiblings: bigIntStrs(balanceSiblings),
		NFT:             proof.NFT,
		Exited:          a.exodus.IsExited(proof.AccountID, proof.TokenID),
	})
}
