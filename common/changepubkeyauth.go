package common

import (
	"bytes"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethMath "github.com/ethereum/go-ethereum/common/math"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	ethSigner "github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ChangePubKeyAuthType is the way the L1 owner of an account authorises the
// binding of a new rollup key
type ChangePubKeyAuthType string

const (
	// ChangePubKeyAuthOnchain means the owner sent an L1 transaction that
	// registered the authorisation fact before the ChangePubKey is applied
	ChangePubKeyAuthOnchain ChangePubKeyAuthType = "Onchain"
	// ChangePubKeyAuthECDSA means the owner signed the EIP-712 message
	// returned by ChangePubKeyAuth.HashToSign
	ChangePubKeyAuthECDSA ChangePubKeyAuthType = "ECDSA"
	// ChangePubKeyAuthCREATE2 means the account address is the CREATE2
	// address derived from the new pubkey hash.  Only valid for accounts
	// that never transacted (nonce 0).
	ChangePubKeyAuthCREATE2 ChangePubKeyAuthType = "CREATE2"

	// EIP712Version is the used version of the EIP-712
	EIP712Version = "1"
	// EIP712Provider defines the Provider for the EIP-712
	EIP712Provider = "Tokamak zkRollup"
)

// ChangePubKeyAuth carries the L1 authorisation of a ChangePubKey
type ChangePubKeyAuth struct {
	Type ChangePubKeyAuthType `json:"type"`
	// ECDSA
	EthSignature []byte         `json:"ethSignature,omitempty"`
	Salt         ethCommon.Hash `json:"salt"`
	// CREATE2
	CreatorAddress ethCommon.Address `json:"creatorAddress"`
	SaltArg        ethCommon.Hash    `json:"saltArg"`
	CodeHash       ethCommon.Hash    `json:"codeHash"`
}

// toHash returns the byte array to be hashed for the ECDSA authorisation,
// which follows the EIP-712 encoding
func (a *ChangePubKeyAuth) toHash(pkh PubKeyHash, nonce Nonce, accountID AccountID,
	chainID uint64, rollupContractAddr ethCommon.Address) ([]byte, error) {
	chainIDFormatted := ethMath.NewHexOrDecimal256(int64(chainID))

	signerData := ethSigner.TypedData{
		Types: ethSigner.Types{
			"EIP712Domain": []ethSigner.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"ChangePubKey": []ethSigner.Type{
				{Name: "pubKeyHash", Type: "bytes20"},
				{Name: "nonce", Type: "uint32"},
				{Name: "accountId", Type: "uint32"},
				{Name: "salt", Type: "bytes32"},
			},
		},
		PrimaryType: "ChangePubKey",
		Domain: ethSigner.TypedDataDomain{
			Name:              EIP712Provider,
			Version:           EIP712Version,
			ChainId:           chainIDFormatted,
			VerifyingContract: rollupContractAddr.Hex(),
		},
		Message: ethSigner.TypedDataMessage{
			"pubKeyHash": pkh[:],
			"nonce":      ethMath.NewHexOrDecimal256(int64(nonce)),
			"accountId":  ethMath.NewHexOrDecimal256(int64(accountID)),
			"salt":       a.Salt.Bytes(),
		},
	}

	domainSeparator, err := signerData.HashStruct("EIP712Domain", signerData.Domain.Map())
	if err != nil {
		return nil, Wrap(err)
	}
	typedDataHash, err := signerData.HashStruct(signerData.PrimaryType, signerData.Message)
	if err != nil {
		return nil, Wrap(err)
	}

	rawData := []byte{0x19, 0x01} // "\x19\x01"
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	return rawData, nil
}

// HashToSign returns the hash to be signed by the L1 owner to authorise the
// new pubkey hash, which follows the EIP-712 encoding
func (a *ChangePubKeyAuth) HashToSign(pkh PubKeyHash, nonce Nonce, accountID AccountID,
	chainID uint64, rollupContractAddr ethCommon.Address) ([]byte, error) {
	b, err := a.toHash(pkh, nonce, accountID, chainID, rollupContractAddr)
	if err != nil {
		return nil, Wrap(err)
	}
	return ethCrypto.Keccak256(b), nil
}

// Sign signs the ChangePubKey authorisation using the provided `signHash`
// function and stores the signature in `a.EthSignature`.  In tests
// `signHash` signs directly with the private key, outside tests it signs
// using the keystore.
func (a *ChangePubKeyAuth) Sign(signHash func(hash []byte) ([]byte, error), pkh PubKeyHash,
	nonce Nonce, accountID AccountID, chainID uint64, rollupContractAddr ethCommon.Address) error {
	hash, err := a.HashToSign(pkh, nonce, accountID, chainID, rollupContractAddr)
	if err != nil {
		return Wrap(err)
	}
	sig, err := signHash(hash)
	if err != nil {
		return Wrap(err)
	}
	sig[64] += 27
	a.Type = ChangePubKeyAuthECDSA
	a.EthSignature = sig
	return nil
}

// VerifyECDSA returns true if EthSignature was produced by owner over the
// authorisation message
func (a *ChangePubKeyAuth) VerifyECDSA(owner ethCommon.Address, pkh PubKeyHash, nonce Nonce,
	accountID AccountID, chainID uint64, rollupContractAddr ethCommon.Address) (bool, error) {
	if len(a.EthSignature) != 65 {
		return false, Wrap(fmt.Errorf("invalid eth signature length %d", len(a.EthSignature)))
	}
	hash, err := a.HashToSign(pkh, nonce, accountID, chainID, rollupContractAddr)
	if err != nil {
		return false, Wrap(err)
	}
	sig := make([]byte, 65)
	copy(sig, a.EthSignature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethCrypto.SigToPub(hash, sig)
	if err != nil {
		return false, nil
	}
	return ethCrypto.PubkeyToAddress(*pub) == owner, nil
}

// CREATE2Address returns the address that a CREATE2 deployment from
// CreatorAddress would get for the given pubkey hash
func (a *ChangePubKeyAuth) CREATE2Address(pkh PubKeyHash) ethCommon.Address {
	salt := ethCrypto.Keccak256(a.SaltArg.Bytes(), pkh[:])
	return ethCrypto.CreateAddress2(a.CreatorAddress, ethCommon.BytesToHash(salt), a.CodeHash.Bytes())
}

// VerifyCREATE2 returns true if owner is the CREATE2 address bound to pkh
func (a *ChangePubKeyAuth) VerifyCREATE2(owner ethCommon.Address, pkh PubKeyHash) bool {
	return bytes.Equal(a.CREATE2Address(pkh).Bytes(), owner.Bytes())
}
