package common

import (
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangePubKeyAuthECDSA(t *testing.T) {
	ethSk, err := ethCrypto.HexToECDSA("fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19")
	require.NoError(t, err)
	owner := ethCrypto.PubkeyToAddress(ethSk.PublicKey)
	contract := ethCommon.HexToAddress("0xc344E203a046Da13b0B4467EB7B3629D0C99F6E6")
	pkh := PubKeyHash{0x11, 0x22, 0x33}
	const chainID = uint64(5)

	auth := ChangePubKeyAuth{Salt: ethCommon.HexToHash("0x01")}
	signHash := func(hash []byte) ([]byte, error) {
		return ethCrypto.Sign(hash, ethSk)
	}
	require.NoError(t, auth.Sign(signHash, pkh, 0, 7, chainID, contract))
	assert.Equal(t, ChangePubKeyAuthECDSA, auth.Type)

	ok, err := auth.VerifyECDSA(owner, pkh, 0, 7, chainID, contract)
	require.NoError(t, err)
	assert.True(t, ok)

	// Any change in the signed fields invalidates the signature
	ok, err = auth.VerifyECDSA(owner, pkh, 1, 7, chainID, contract)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = auth.VerifyECDSA(owner, PubKeyHash{0x12}, 0, 7, chainID, contract)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = auth.VerifyECDSA(owner, pkh, 0, 7, chainID+1, contract)
	require.NoError(t, err)
	assert.False(t, ok)

	auth.EthSignature = auth.EthSignature[:64]
	_, err = auth.VerifyECDSA(owner, pkh, 0, 7, chainID, contract)
	assert.Error(t, err)
}

func TestChangePubKeyAuthCREATE2(t *testing.T) {
	auth := ChangePubKeyAuth{
		Type:           ChangePubKeyAuthCREATE2,
		CreatorAddress: ethCommon.HexToAddress("0x6813Eb9362372EEF6200f3b1dbC3f819671cBA69"),
		SaltArg:        ethCommon.HexToHash("0x0102"),
		CodeHash:       ethCrypto.Keccak256Hash([]byte("wallet code")),
	}
	pkh := PubKeyHash{0xaa}
	addr := auth.CREATE2Address(pkh)
	assert.True(t, auth.VerifyCREATE2(addr, pkh))
	assert.False(t, auth.VerifyCREATE2(addr, PubKeyHash{0xab}))
	assert.NotEqual(t, ethCommon.Address{}, addr)
}
