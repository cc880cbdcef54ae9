package common

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const (
	// AccountTreeDepth is the height (Ha) of the accounts tree
	AccountTreeDepth = 24
	// BalanceTreeDepth is the height (Hb) of every balance subtree
	BalanceTreeDepth = 32
	// NFTStorageAccountID is the special account that keeps the NFT
	// counter and the content of every minted NFT
	NFTStorageAccountID AccountID = 1<<AccountTreeDepth - 1
	// MaxAccountID is the last id that can be allocated to a user account
	MaxAccountID AccountID = NFTStorageAccountID - 1
	// BalanceBits is the bit width of a balance
	BalanceBits = 128
	// accountIDBytesLen is the wire length of an AccountID
	accountIDBytesLen = 4
	// AccountBytesLen is the length of the serialized account leaf data:
	// [4 bytes] nonce + [20 bytes] pubKeyHash + [20 bytes] address
	AccountBytesLen = 44
)

var (
	// NFTStorageAccountAddress is the address bound to the NFT storage
	// account at genesis
	NFTStorageAccountAddress = ethCommon.HexToAddress(
		"0xFFfFfFffFFfffFFfFFfFFFFFffFFFffffFfFFFfF")
	// MaxBalance is the maximum value a balance can hold (2**128 - 1)
	MaxBalance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), BalanceBits), big.NewInt(1))
)

// AccountID is the dense identifier of an account in the accounts tree
type AccountID uint32

// Bytes returns a byte array of length 4 representing the AccountID
func (id AccountID) Bytes() []byte {
	var b [accountIDBytesLen]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

// BigInt returns a *big.Int representing the AccountID
func (id AccountID) BigInt() *big.Int {
	return big.NewInt(int64(id))
}

// AccountIDFromBytes returns AccountID from a []byte
func AccountIDFromBytes(b []byte) (AccountID, error) {
	if len(b) != accountIDBytesLen {
		return 0, Wrap(fmt.Errorf("can not parse AccountID, bytes len %d, expected %d",
			len(b), accountIDBytesLen))
	}
	return AccountID(binary.BigEndian.Uint32(b)), nil
}

// Nonce is the per account transaction counter
type Nonce uint32

// Bytes returns a byte array of length 4 representing the Nonce
func (n Nonce) Bytes() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	return b[:]
}

// BigInt returns a *big.Int representing the Nonce
func (n Nonce) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(n))
}

// PubKeyHash is the hash of the rollup signing key bound to an account.  The
// zero value means the account is unowned.
type PubKeyHash [20]byte

// EmptyPubKeyHash is the sentinel "unset" value
var EmptyPubKeyHash = PubKeyHash{}

// IsZero returns true when no signing key is bound
func (h PubKeyHash) IsZero() bool {
	return h == EmptyPubKeyHash
}

// BigInt returns the big endian integer representation of the hash
func (h PubKeyHash) BigInt() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// String returns the "sync:" prefixed hex representation
func (h PubKeyHash) String() string {
	return "sync:" + hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler
func (h PubKeyHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *PubKeyHash) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "sync:")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Wrap(err)
	}
	if len(b) != len(h) {
		return Wrap(fmt.Errorf("invalid pubkey hash length %d", len(b)))
	}
	copy(h[:], b)
	return nil
}

// Scan implements sql.Scanner
func (h *PubKeyHash) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return Wrap(fmt.Errorf("can't scan %T into PubKeyHash", src))
	}
	if len(b) != len(h) {
		return Wrap(fmt.Errorf("can't scan []byte of len %d into PubKeyHash", len(b)))
	}
	copy(h[:], b)
	return nil
}

// Value implements driver.Valuer
func (h PubKeyHash) Value() (driver.Value, error) {
	return h[:], nil
}

// Account is a leaf of the accounts tree.  Balances holds the non-zero
// balances of the account's balance subtree.
type Account struct {
	ID         AccountID            `json:"id" meddler:"account_id"`
	Nonce      Nonce                `json:"nonce" meddler:"nonce"`
	PubKeyHash PubKeyHash           `json:"pubKeyHash" meddler:"pubkey_hash"`
	Address    ethCommon.Address    `json:"address" meddler:"address"`
	Balances   map[TokenID]*big.Int `json:"balances" meddler:"-"`
}

// NewAccount returns an empty account bound to the given address
func NewAccount(id AccountID, address ethCommon.Address) *Account {
	return &Account{
		ID:       id,
		Address:  address,
		Balances: make(map[TokenID]*big.Int),
	}
}

// IsEmpty returns true for the canonical empty account
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && a.PubKeyHash.IsZero() &&
		a.Address == (ethCommon.Address{}) && len(a.Balances) == 0
}

// Balance returns the balance of the given token.  The returned value is
// never nil and can be modified by the caller.
func (a *Account) Balance(token TokenID) *big.Int {
	if b, ok := a.Balances[token]; ok && b != nil {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// Bytes returns the leaf data of the account (without the balances, which
// live in the balance subtree)
func (a *Account) Bytes() [AccountBytesLen]byte {
	var b [AccountBytesLen]byte
	copy(b[0:4], a.Nonce.Bytes())
	copy(b[4:24], a.PubKeyHash[:])
	copy(b[24:44], a.Address.Bytes())
	return b
}

// AccountFromBytes returns an Account (without balances) from the leaf data
func AccountFromBytes(b []byte) (*Account, error) {
	if len(b) != AccountBytesLen {
		return nil, Wrap(fmt.Errorf("can not parse Account, bytes len %d, expected %d",
			len(b), AccountBytesLen))
	}
	a := &Account{
		Nonce:    Nonce(binary.BigEndian.Uint32(b[0:4])),
		Address:  ethCommon.BytesToAddress(b[24:44]),
		Balances: make(map[TokenID]*big.Int),
	}
	copy(a.PubKeyHash[:], b[4:24])
	return a, nil
}

// Copy returns a deep copy of the account
func (a *Account) Copy() *Account {
	cpy := *a
	cpy.Balances = make(map[TokenID]*big.Int, len(a.Balances))
	for token, balance := range a.Balances {
		cpy.Balances[token] = new(big.Int).Set(balance)
	}
	return &cpy
}

// AccountUpdate represents an account balance and/or nonce update after a
// processed batch
type AccountUpdate struct {
	EthBlockNum int64      `meddler:"eth_block_num"`
	BatchNum    BatchNum   `meddler:"batch_num"`
	AccountID   AccountID  `meddler:"account_id"`
	Nonce       Nonce      `meddler:"nonce"`
	PubKeyHash  PubKeyHash `meddler:"pubkey_hash"`
	TokenID     TokenID    `meddler:"token_id"`
	Balance     *big.Int   `meddler:"balance,bigint"`
}
