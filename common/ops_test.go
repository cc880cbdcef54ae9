package common

import (
	"math/big"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = ethCommon.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	addrB = ethCommon.HexToAddress("0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF")
)

func testOps() []Op {
	nft := NFT{
		ID:             MinNFTTokenID + 3,
		SerialID:       7,
		CreatorID:      12,
		CreatorAddress: addrA,
		ContentHash:    ethCommon.HexToHash("0xaabbccdd"),
	}
	return []Op{
		&TransferOp{
			Tx:   Transfer{AccountID: 4, Token: 2, Amount: big.NewInt(1000), Fee: big.NewInt(10), TimeRange: DefaultTimeRange},
			From: 4, To: 3,
		},
		&TransferToNewOp{
			Tx:   Transfer{AccountID: 4, To: addrB, Token: 2, Amount: big.NewInt(5000), Fee: big.NewInt(20), TimeRange: DefaultTimeRange},
			From: 4, To: 9,
		},
		&WithdrawOp{
			Tx:        Withdraw{AccountID: 5, To: addrA, Token: 1, Amount: big.NewInt(123456789), Fee: big.NewInt(3), TimeRange: DefaultTimeRange},
			AccountID: 5,
		},
		&ChangePubKeyOp{
			Tx: ChangePubKey{AccountID: 6, Account: addrB, NewPubKeyHash: PubKeyHash{1, 2, 3},
				Nonce: 2, FeeToken: 0, Fee: big.NewInt(0), TimeRange: DefaultTimeRange},
			AccountID: 6,
		},
		&ForcedExitOp{
			Tx:              ForcedExit{InitiatorAccountID: 2, Target: addrA, Token: 1, Fee: big.NewInt(100), TimeRange: DefaultTimeRange},
			TargetAccountID: 8,
			WithdrawAmount:  big.NewInt(77),
		},
		&MintNFTOp{
			Tx:                 MintNFT{CreatorID: 12, ContentHash: nft.ContentHash, FeeToken: 0, Fee: big.NewInt(1)},
			CreatorAccountID:   12,
			RecipientAccountID: 13,
		},
		&WithdrawNFTOp{
			Tx:  WithdrawNFT{AccountID: 13, To: addrB, Token: nft.ID, FeeToken: 0, Fee: big.NewInt(1), TimeRange: DefaultTimeRange},
			NFT: nft,
		},
		&DepositOp{
			Priority:  Deposit{Token: 2, Amount: big.NewInt(200000000000000000), To: addrA},
			AccountID: 10,
		},
		&FullExitOp{
			Priority:       FullExit{AccountID: 13, Owner: addrB, Token: nft.ID},
			WithdrawAmount: big.NewInt(1),
			NFT:            nft,
		},
		&SwapOp{
			Tx: Swap{
				SubmitterID: 1,
				Orders: [2]Order{
					{AccountID: 2, TokenSell: 1, TokenBuy: 2, Amount: big.NewInt(100), TimeRange: DefaultTimeRange},
					{AccountID: 3, TokenSell: 2, TokenBuy: 1, Amount: big.NewInt(0), TimeRange: DefaultTimeRange},
				},
				Amounts:  [2]*big.Int{big.NewInt(100), big.NewInt(200)},
				FeeToken: 1,
				Fee:      big.NewInt(5),
			},
			Submitter:  1,
			Accounts:   [2]AccountID{2, 3},
			Recipients: [2]AccountID{2, 3},
		},
	}
}

func TestOpPubDataLayout(t *testing.T) {
	for _, op := range testOps() {
		pubdata, err := op.PubData()
		require.NoError(t, err, op.Type().String())
		assert.Equal(t, op.Type().PubDataLen(), len(pubdata), op.Type().String())
		assert.Equal(t, byte(op.Type()), pubdata[0], op.Type().String())
	}
	noop, err := (&NoopOp{}).PubData()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, ChunkBytes), noop)
}

func TestTransferPubData(t *testing.T) {
	amount, err := UnpackAmount([]byte{0x00, 0x00, 0x00, 0x1a, 0xd3})
	require.NoError(t, err)
	fee, err := UnpackFee([]byte{0x00, 0x12})
	require.NoError(t, err)
	op := &TransferOp{
		Tx:   Transfer{AccountID: 4, Token: 2, Amount: amount, Fee: fee},
		From: 4,
		To:   3,
	}
	pubdata, err := op.PubData()
	require.NoError(t, err)
	expected := []byte{
		0x05,
		0x00, 0x00, 0x00, 0x04, // from
		0x00, 0x00, 0x00, 0x02, // token
		0x00, 0x00, 0x00, 0x03, // to
		0x00, 0x00, 0x00, 0x1a, 0xd3, // packed amount
		0x00, 0x00, // packed fee
	}
	assert.Equal(t, expected, pubdata)
}

func TestPubDataNotPackable(t *testing.T) {
	op := &TransferOp{
		Tx:   Transfer{Token: 2, Amount: big.NewInt(123456789012345678), Fee: big.NewInt(0)},
		From: 4,
		To:   3,
	}
	_, err := op.PubData()
	require.Error(t, err)
	assert.ErrorIs(t, Unwrap(err), ErrNotPackable)
}

func TestOpFromPubData(t *testing.T) {
	for _, op := range testOps() {
		pubdata, err := op.PubData()
		require.NoError(t, err)
		decoded, err := OpFromPubData(pubdata)
		require.NoError(t, err, op.Type().String())
		assert.Equal(t, op.Type(), decoded.Type())
		pubdata2, err := decoded.PubData()
		require.NoError(t, err)
		assert.Equal(t, pubdata, pubdata2, op.Type().String())
	}

	_, err := OpFromPubData([]byte{0x04})
	assert.Error(t, err)
	_, err = OpFromPubData([]byte{0x05, 0x00})
	assert.Error(t, err)
}

func TestDecodeBatchPubData(t *testing.T) {
	var pubdata []byte
	ops := testOps()
	for _, op := range ops {
		b, err := op.PubData()
		require.NoError(t, err)
		pubdata = append(pubdata, b...)
	}
	for i := 0; i < 3; i++ {
		pubdata = append(pubdata, make([]byte, ChunkBytes)...)
	}
	parts, err := SplitPubData(pubdata)
	require.NoError(t, err)
	assert.Equal(t, len(ops)+3, len(parts))

	decoded, err := DecodeBatchPubData(pubdata)
	require.NoError(t, err)
	require.Equal(t, len(ops), len(decoded))
	for i := range ops {
		assert.Equal(t, ops[i].Type(), decoded[i].Type())
	}

	_, err = SplitPubData(pubdata[:len(pubdata)-1])
	assert.Error(t, err)
}

func TestSwapNonceMask(t *testing.T) {
	op := testOps()[9].(*SwapOp)
	assert.Equal(t, byte(0x01), op.Tx.NonceMask())
	pubdata, err := op.PubData()
	require.NoError(t, err)
	// op + 5 account ids + 3 tokens + 2 amounts + fee
	assert.Equal(t, byte(0x01), pubdata[1+5*4+3*4+2*5+2])
}
