package l2db

import (
	"encoding/json"
	"fmt"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
)

// PoolTxState is the state of a tx in the pool
type PoolTxState string

const (
	// PoolTxStatePending represents a valid tx that hasn't been forged yet
	PoolTxStatePending PoolTxState = "pend"
	// PoolTxStateForging represents a valid tx that is being forged
	PoolTxStateForging PoolTxState = "fing"
	// PoolTxStateForged represents a valid tx that has been forged
	PoolTxStateForged PoolTxState = "fged"
	// PoolTxStateInvalid represents a tx that was rejected by the
	// OperationProcessor
	PoolTxStateInvalid PoolTxState = "invl"
)

// PoolTx is a signed tx received through the API and stored in the pool
// until it is forged or discarded.  The signed body is stored as JSON and
// decoded according to OpType.
type PoolTx struct {
	TxHash    ethCommon.Hash   `meddler:"tx_hash" json:"txHash"`
	OpType    common.OpType    `meddler:"op_type" json:"opType"`
	AccountID common.AccountID `meddler:"account_id" json:"accountId"`
	Nonce     common.Nonce     `meddler:"nonce" json:"nonce"`
	RawTx     []byte           `meddler:"tx" json:"-"`
	State     PoolTxState      `meddler:"state" json:"state"`
	Info      *string          `meddler:"info" json:"info"`
	BatchNum  *common.BatchNum `meddler:"batch_num" json:"batchNum"`
	Timestamp time.Time        `meddler:"timestamp,utctime" json:"timestamp"`
	Tx        common.SignedTx  `meddler:"-" json:"tx"`
}

// NewPoolTx creates a pending PoolTx from a signed tx
func NewPoolTx(tx common.SignedTx) (*PoolTx, error) {
	hash, err := crypto.TxHash(tx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	accountID, nonce := signer(tx)
	return &PoolTx{
		TxHash:    hash,
		OpType:    tx.Type(),
		AccountID: accountID,
		Nonce:     nonce,
		RawTx:     raw,
		State:     PoolTxStatePending,
		Tx:        tx,
	}, nil
}

// signer returns the account that signs tx and the nonce it consumes
func signer(tx common.SignedTx) (common.AccountID, common.Nonce) {
	switch t := tx.(type) {
	case *common.Transfer:
		return t.AccountID, t.Nonce
	case *common.Withdraw:
		return t.AccountID, t.Nonce
	case *common.ChangePubKey:
		return t.AccountID, t.Nonce
	case *common.ForcedExit:
		return t.InitiatorAccountID, t.Nonce
	case *common.MintNFT:
		return t.CreatorID, t.Nonce
	case *common.WithdrawNFT:
		return t.AccountID, t.Nonce
	case *common.Swap:
		return t.SubmitterID, t.Nonce
	}
	return 0, 0
}

// DecodeTx decodes the JSON body of a signed tx of type t
func DecodeTx(t common.OpType, raw []byte) (common.SignedTx, error) {
	var tx common.SignedTx
	switch t {
	case common.OpTypeTransfer, common.OpTypeTransferToNew:
		tx = &common.Transfer{}
	case common.OpTypeWithdraw:
		tx = &common.Withdraw{}
	case common.OpTypeChangePubKey:
		tx = &common.ChangePubKey{}
	case common.OpTypeForcedExit:
		tx = &common.ForcedExit{}
	case common.OpTypeMintNFT:
		tx = &common.MintNFT{}
	case common.OpTypeWithdrawNFT:
		tx = &common.WithdrawNFT{}
	case common.OpTypeSwap:
		tx = &common.Swap{}
	default:
		return nil, common.Wrap(fmt.Errorf("op type %s is not a signed tx", t))
	}
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, common.Wrap(err)
	}
	return tx, nil
}

func (tx *PoolTx) decode() error {
	if tx.Tx != nil {
		return nil
	}
	decoded, err := DecodeTx(tx.OpType, tx.RawTx)
	if err != nil {
		return common.Wrap(err)
	}
	tx.Tx = decoded
	return nil
}

// RejectedPoolTx identifies a tx discarded while forging and the reason
type RejectedPoolTx struct {
	TxHash ethCommon.Hash
	Info   string
}

// IDNonce is an account and the nonce it had after a batch
type IDNonce struct {
	AccountID common.AccountID
	Nonce     common.Nonce
}
