package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackKnownValues(t *testing.T) {
	amount, err := UnpackAmount([]byte{0x00, 0x00, 0x00, 0x1a, 0xd3})
	require.NoError(t, err)
	expected, ok := new(big.Int).SetString("2140000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, expected, amount)

	fee, err := UnpackFee([]byte{0x00, 0x12})
	require.NoError(t, err)
	assert.Equal(t, int64(0), fee.Int64())

	fee, err = UnpackFee([]byte{0x00, 0x22})
	require.NoError(t, err)
	assert.Equal(t, int64(100), fee.Int64())
}

func TestPackAmountRoundsDown(t *testing.T) {
	x, ok := new(big.Int).SetString("123456789012345678", 10)
	require.True(t, ok)
	closest, err := ClosestPackableAmount(x)
	require.NoError(t, err)
	assert.Equal(t, "123456789010000000", closest.String())
	assert.False(t, IsAmountPackable(x))
	assert.True(t, IsAmountPackable(closest))

	p, err := PackAmount(x)
	require.NoError(t, err)
	u, err := UnpackAmount(p)
	require.NoError(t, err)
	assert.Equal(t, closest, u)
}

func TestPackAmountCanonical(t *testing.T) {
	// 1000 = 1000e0 = 100e1 = 10e2 = 1e3, the largest exponent wins
	p, err := PackAmount(big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x23}, p)

	p, err = PackAmount(big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, PackedAmountBytesLen), p)
}

func TestPackRoundTrip(t *testing.T) {
	values := []string{
		"0", "1", "9", "10", "2047", "2048", "34359738367", "34359738368",
		"1000000000000000000", "2140000000000000000000",
		"999999999999999999999999", "340282366920938463463374607431768211455",
	}
	for _, s := range values {
		x, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)

		p, err := PackAmount(x)
		require.NoError(t, err, s)
		u, err := UnpackAmount(p)
		require.NoError(t, err)
		assert.True(t, u.Cmp(x) <= 0, s)
		p2, err := PackAmount(u)
		require.NoError(t, err)
		assert.Equal(t, p, p2, s)
	}
	for _, s := range []string{"0", "1", "2047", "2048", "123456", "1000000000000000000"} {
		x, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		p, err := PackFee(x)
		require.NoError(t, err, s)
		u, err := UnpackFee(p)
		require.NoError(t, err)
		assert.True(t, u.Cmp(x) <= 0, s)
		p2, err := PackFee(u)
		require.NoError(t, err)
		assert.Equal(t, p, p2, s)
	}
}

func TestPackFeeClosest(t *testing.T) {
	c, err := ClosestPackableFee(big.NewInt(2048))
	require.NoError(t, err)
	assert.Equal(t, int64(2047), c.Int64())
	assert.False(t, IsFeePackable(big.NewInt(2048)))
	assert.True(t, IsFeePackable(big.NewInt(2000)))
}

func TestPackOverflow(t *testing.T) {
	tooLarge := new(big.Int).Add(amountFormat.maxValue, big.NewInt(1))
	_, err := PackAmount(tooLarge)
	require.Error(t, err)
	assert.ErrorIs(t, Unwrap(err), ErrFloatTooLarge)

	_, err = PackAmount(amountFormat.maxValue)
	require.NoError(t, err)

	_, err = PackFee(new(big.Int).Add(feeFormat.maxValue, big.NewInt(1)))
	require.Error(t, err)

	_, err = PackAmount(big.NewInt(-1))
	require.Error(t, err)
	assert.Equal(t, ErrNegativeAmount, Unwrap(err))
}

func TestUnpackWrongLen(t *testing.T) {
	_, err := UnpackAmount([]byte{0x01})
	assert.Error(t, err)
	_, err = UnpackFee([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}
