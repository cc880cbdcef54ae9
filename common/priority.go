package common

import (
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// PriorityRequest is an L1 originated operation (Deposit or FullExit) that
// must be included in a batch before ExpirationBlock
type PriorityRequest struct {
	SerialID        uint64            `json:"serialId" meddler:"serial_id"`
	OpType          OpType            `json:"opType" meddler:"op_type"`
	Sender          ethCommon.Address `json:"sender" meddler:"sender"`
	PubData         []byte            `json:"pubData" meddler:"pub_data"`
	ExpirationBlock int64             `json:"expirationBlock" meddler:"expiration_block"`
	EthBlockNum     int64             `json:"ethereumBlockNum" meddler:"eth_block_num"`
	EthTxHash       ethCommon.Hash    `json:"ethereumTxHash" meddler:"eth_tx_hash"`
	// BatchNum is set once the request has been included in a batch
	BatchNum *BatchNum `json:"batchNum" meddler:"batch_num"`
}

// NewDepositRequest returns the priority request of a deposit
func NewDepositRequest(serialID uint64, d *Deposit, ethBlockNum, expirationBlock int64) (*PriorityRequest, error) {
	op := &DepositOp{Priority: *d, SerialID: serialID}
	pubdata, err := op.PubData()
	if err != nil {
		return nil, Wrap(err)
	}
	return &PriorityRequest{
		SerialID:        serialID,
		OpType:          OpTypeDeposit,
		Sender:          d.From,
		PubData:         pubdata,
		EthBlockNum:     ethBlockNum,
		ExpirationBlock: expirationBlock,
	}, nil
}

// NewFullExitRequest returns the priority request of a full exit
func NewFullExitRequest(serialID uint64, f *FullExit, ethBlockNum, expirationBlock int64) (*PriorityRequest, error) {
	op := &FullExitOp{Priority: *f, SerialID: serialID, WithdrawAmount: big.NewInt(0)}
	pubdata, err := op.PubData()
	if err != nil {
		return nil, Wrap(err)
	}
	return &PriorityRequest{
		SerialID:        serialID,
		OpType:          OpTypeFullExit,
		Sender:          f.Owner,
		PubData:         pubdata,
		EthBlockNum:     ethBlockNum,
		ExpirationBlock: expirationBlock,
	}, nil
}

// Op decodes the operation carried by the request.  The L1 sender of a
// deposit is restored from the request.
func (r *PriorityRequest) Op() (Op, error) {
	if !r.OpType.IsPriority() {
		return nil, Wrap(fmt.Errorf("op type %s is not a priority op", r.OpType))
	}
	op, err := OpFromPubData(r.PubData)
	if err != nil {
		return nil, Wrap(err)
	}
	switch o := op.(type) {
	case *DepositOp:
		o.SerialID = r.SerialID
		o.Priority.From = r.Sender
		return o, nil
	case *FullExitOp:
		o.SerialID = r.SerialID
		o.WithdrawAmount = nil
		return o, nil
	}
	return nil, Wrap(fmt.Errorf("pubdata of request %d has op type %s, expected %s",
		r.SerialID, op.Type(), r.OpType))
}

// IsExpired returns true if the request was not processed before the given
// L1 block
func (r *PriorityRequest) IsExpired(ethBlockNum int64) bool {
	return ethBlockNum >= r.ExpirationBlock
}
