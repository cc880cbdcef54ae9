package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityRequestOp(t *testing.T) {
	amount, ok := new(big.Int).SetString("0000000000000000002c68af0bb140000", 16)
	require.True(t, ok)
	d := &Deposit{From: addrA, Token: 2, Amount: amount, To: addrB}
	req, err := NewDepositRequest(3, d, 100, 100+RollupConstPriorityExpirationBlocks)
	require.NoError(t, err)
	assert.Equal(t, OpTypeDeposit, req.OpType)
	assert.Equal(t, OpTypeDeposit.PubDataLen(), len(req.PubData))

	op, err := req.Op()
	require.NoError(t, err)
	depositOp, ok := op.(*DepositOp)
	require.True(t, ok)
	assert.Equal(t, uint64(3), depositOp.SerialID)
	assert.Equal(t, *d, depositOp.Priority)

	f := &FullExit{AccountID: 5, Owner: addrA, Token: 1}
	req, err = NewFullExitRequest(4, f, 100, 200)
	require.NoError(t, err)
	op, err = req.Op()
	require.NoError(t, err)
	fullExitOp, ok := op.(*FullExitOp)
	require.True(t, ok)
	assert.Equal(t, *f, fullExitOp.Priority)
	assert.Nil(t, fullExitOp.WithdrawAmount)

	assert.False(t, req.IsExpired(199))
	assert.True(t, req.IsExpired(200))

	// The declared type must match the pubdata
	req.OpType = OpTypeDeposit
	_, err = req.Op()
	assert.Error(t, err)
	req.OpType = OpTypeTransfer
	_, err = req.Op()
	assert.Error(t, err)
}
