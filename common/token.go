package common

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const (
	// MinNFTTokenID is the first token id of the NFT range.  Lower ids
	// belong to fungible tokens.
	MinNFTTokenID TokenID = 65536
	// MaxFungibleTokenID is the last fungible token id
	MaxFungibleTokenID TokenID = MinNFTTokenID - 1
	// NFTTokenID is the token used as NFT counter: in the NFT storage
	// account it holds the next NFT token id, in a creator account it holds
	// the next serial id
	NFTTokenID TokenID = 1<<32 - 1
	// MaxNFTTokenID is the last token id that can be minted
	MaxNFTTokenID TokenID = NFTTokenID - 1
	tokenIDBytesLen       = 4
	// ETHTokenID is the token id of ether
	ETHTokenID TokenID = 0
)

// Token is a struct that represents an Ethereum token that is supported in
// the rollup
type Token struct {
	TokenID TokenID `json:"id" meddler:"token_id"`
	// EthBlockNum indicates the Ethereum block number in which this token was registered
	EthBlockNum int64             `json:"ethereumBlockNum" meddler:"eth_block_num"`
	EthAddr     ethCommon.Address `json:"ethereumAddress" meddler:"eth_addr"`
	Name        string            `json:"name" meddler:"name"`
	Symbol      string            `json:"symbol" meddler:"symbol"`
	Decimals    uint64            `json:"decimals" meddler:"decimals"`
}

// TokenID is the unique identifier of the token, as set in the smart contract
type TokenID uint32

// Bytes returns a byte array of length 4 representing the TokenID
func (t TokenID) Bytes() []byte {
	var tokenIDBytes [tokenIDBytesLen]byte
	binary.BigEndian.PutUint32(tokenIDBytes[:], uint32(t))
	return tokenIDBytes[:]
}

// BigInt returns a *big.Int representing the TokenID
func (t TokenID) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(t))
}

// IsNFT returns true if the token id belongs to the NFT range
func (t TokenID) IsNFT() bool {
	return t >= MinNFTTokenID && t != NFTTokenID
}

// IsFungible returns true if the token id belongs to the fungible range
func (t TokenID) IsFungible() bool {
	return t <= MaxFungibleTokenID
}

// TokenIDFromBytes returns TokenID from a []byte
func TokenIDFromBytes(b []byte) (TokenID, error) {
	if len(b) != tokenIDBytesLen {
		return 0, Wrap(fmt.Errorf("can not parse TokenID, bytes len %d, expected 4", len(b)))
	}
	return TokenID(binary.BigEndian.Uint32(b)), nil
}

// NFT is the out of band metadata of a minted non-fungible token
type NFT struct {
	ID             TokenID           `json:"id" meddler:"token_id"`
	SerialID       uint32            `json:"serialId" meddler:"serial_id"`
	CreatorID      AccountID         `json:"creatorId" meddler:"creator_account_id"`
	CreatorAddress ethCommon.Address `json:"creatorAddress" meddler:"creator_address"`
	ContentHash    ethCommon.Hash    `json:"contentHash" meddler:"content_hash"`
}

// nftBytesLen is [4 bytes] token + [4 bytes] serial + [4 bytes] creator +
// [20 bytes] creator address + [32 bytes] content hash
const nftBytesLen = 64

// Bytes serializes the NFT metadata
func (n *NFT) Bytes() []byte {
	b := make([]byte, 0, nftBytesLen)
	b = append(b, n.ID.Bytes()...)
	var serial [4]byte
	binary.BigEndian.PutUint32(serial[:], n.SerialID)
	b = append(b, serial[:]...)
	b = append(b, n.CreatorID.Bytes()...)
	b = append(b, n.CreatorAddress.Bytes()...)
	b = append(b, n.ContentHash.Bytes()...)
	return b
}

// NFTFromBytes parses the NFT metadata serialized by NFT.Bytes
func NFTFromBytes(b []byte) (*NFT, error) {
	if len(b) != nftBytesLen {
		return nil, Wrap(fmt.Errorf("can not parse NFT, bytes len %d, expected %d",
			len(b), nftBytesLen))
	}
	return &NFT{
		ID:             TokenID(binary.BigEndian.Uint32(b[0:4])),
		SerialID:       binary.BigEndian.Uint32(b[4:8]),
		CreatorID:      AccountID(binary.BigEndian.Uint32(b[8:12])),
		CreatorAddress: ethCommon.BytesToAddress(b[12:32]),
		ContentHash:    ethCommon.BytesToHash(b[32:64]),
	}, nil
}
