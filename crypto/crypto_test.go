package crypto

import (
	"math/big"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/common"
)

func testPrivateKey(seed byte) babyjub.PrivateKey {
	var sk babyjub.PrivateKey
	for i := range sk {
		sk[i] = seed + byte(i)
	}
	return sk
}

func TestSponge(t *testing.T) {
	_, err := Sponge()
	assert.Error(t, err)

	h1, err := Sponge(big.NewInt(7))
	require.NoError(t, err)
	h2, err := Sponge(big.NewInt(7), SpongePadding)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := Sponge(big.NewInt(7), big.NewInt(8))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
	h4, err := Sponge(big.NewInt(7), big.NewInt(8))
	require.NoError(t, err)
	assert.Equal(t, h3, h4)

	// Order matters
	h5, err := Sponge(big.NewInt(8), big.NewInt(7))
	require.NoError(t, err)
	assert.NotEqual(t, h3, h5)

	_, err = Sponge(new(big.Int).Set(constants.Q))
	require.Error(t, err)
	assert.Equal(t, common.ErrNotInFF, common.Unwrap(err))
}

func TestBitPack(t *testing.T) {
	_, err := BitPack(nil)
	assert.Error(t, err)

	elems, err := BitPack([]byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []*big.Int{big.NewInt(1)}, elems)

	elems, err = BitPack([]byte{0x80, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []*big.Int{big.NewInt(0x180)}, elems)

	// 256 bits: 253 bits in the first element and 3 in the second
	b := make([]byte, 32)
	b[31] = 0xe0
	elems, err = BitPack(b)
	require.NoError(t, err)
	require.Equal(t, 2, len(elems))
	assert.Equal(t, int64(0), elems[0].Int64())
	assert.Equal(t, int64(7), elems[1].Int64())

	b[31] = 0x10
	elems, err = BitPack(b)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Lsh(big.NewInt(1), 252), elems[0])
	assert.Equal(t, int64(0), elems[1].Int64())
}

func TestBytesHash(t *testing.T) {
	// sha256("abc")
	expected := ethCommon.FromHex("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
	h := BytesHash([]byte("a"), []byte("bc"))
	assert.Equal(t, expected, h[:])
}

func TestSignVerify(t *testing.T) {
	sk := testPrivateKey(1)
	tx := &common.Transfer{
		AccountID: 4,
		Token:     2,
		Amount:    big.NewInt(1000),
		Fee:       big.NewInt(10),
		Nonce:     3,
		TimeRange: common.DefaultTimeRange,
	}
	require.NoError(t, Sign(&sk, tx))

	pkh, err := RecoverPubKeyHash(tx)
	require.NoError(t, err)
	expected, err := PubKeyHashFromPublicKey(sk.Public())
	require.NoError(t, err)
	assert.Equal(t, expected, pkh)
	assert.False(t, pkh.IsZero())

	// Deterministic signatures
	sig := tx.Signature
	require.NoError(t, Sign(&sk, tx))
	assert.Equal(t, sig, tx.Signature)

	// Tampered message
	tx.Nonce = 4
	_, err = RecoverPubKeyHash(tx)
	require.Error(t, err)
	assert.ErrorIs(t, common.Unwrap(err), ErrInvalidSignature)
	tx.Nonce = 3

	// Signature by another key
	other := testPrivateKey(50)
	tx.Signature.PubKey = other.Public().Compress()
	_, err = RecoverPubKeyHash(tx)
	assert.Error(t, err)
}

func TestVerifyRejectsNonCanonicalS(t *testing.T) {
	sk := testPrivateKey(9)
	msg := []byte("message")
	sig, err := SignMessage(&sk, msg)
	require.NoError(t, err)
	assert.True(t, Verify(sk.Public(), sig, msg))

	// S + SubOrder gives the same point but is rejected
	malleable := &babyjub.Signature{R8: sig.R8, S: new(big.Int).Add(sig.S, babyjub.SubOrder)}
	assert.False(t, Verify(sk.Public(), malleable, msg))
	assert.False(t, Verify(sk.Public(), sig, []byte("other message")))
}

func TestPubKeyHashDeterminism(t *testing.T) {
	sk1 := testPrivateKey(1)
	sk2 := testPrivateKey(2)
	h1, err := PubKeyHashFromPublicKey(sk1.Public())
	require.NoError(t, err)
	h1b, err := PubKeyHashFromPublicKey(sk1.Public())
	require.NoError(t, err)
	h2, err := PubKeyHashFromPublicKey(sk2.Public())
	require.NoError(t, err)
	assert.Equal(t, h1, h1b)
	assert.NotEqual(t, h1, h2)
}

func TestTxHash(t *testing.T) {
	tx := &common.Withdraw{AccountID: 1, Token: 0, Amount: big.NewInt(5), Fee: big.NewInt(0),
		TimeRange: common.DefaultTimeRange}
	h1, err := TxHash(tx)
	require.NoError(t, err)
	tx.Amount = big.NewInt(6)
	h2, err := TxHash(tx)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
