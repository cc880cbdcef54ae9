package common

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

// Signed message prefixes.  Every signed body starts with the prefix byte
// followed by TxVersion.
const (
	TxVersion                = 0x01
	txPrefixTransfer         = 0xfa
	txPrefixWithdraw         = 0xfc
	txPrefixChangePubKey     = 0xf8
	txPrefixForcedExit       = 0xf7
	txPrefixMintNFT          = 0xf6
	txPrefixWithdrawNFT      = 0xf5
	txPrefixSwap             = 0xf4
	orderMsgType        byte = 'o'
	// PriceBitWidth is the bit width of each component of an order price
	PriceBitWidth = 120
	priceBytesLen = PriceBitWidth / 8
)

// TimeRange is the validity window of a transaction, in seconds since epoch
type TimeRange struct {
	ValidFrom  uint64 `json:"validFrom"`
	ValidUntil uint64 `json:"validUntil"`
}

// DefaultTimeRange is valid at any timestamp
var DefaultTimeRange = TimeRange{ValidFrom: 0, ValidUntil: math.MaxUint64}

// Bytes returns [8 bytes] validFrom + [8 bytes] validUntil
func (t TimeRange) Bytes() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], t.ValidFrom)
	binary.BigEndian.PutUint64(b[8:16], t.ValidUntil)
	return b[:]
}

// IsValid returns true when the timestamp lies inside the range
func (t TimeRange) IsValid(ts uint64) bool {
	return t.ValidFrom <= ts && ts <= t.ValidUntil
}

// TxSignature is the rollup signature of a transaction together with the
// public key that produced it
type TxSignature struct {
	PubKey    babyjub.PublicKeyComp `json:"pubKey"`
	Signature babyjub.SignatureComp `json:"signature"`
}

// SignedTx is a user submitted transaction carrying a rollup signature
type SignedTx interface {
	// Type returns the operation kind produced by the transaction
	Type() OpType
	// Bytes returns the signed message
	Bytes() ([]byte, error)
	// GetSignature returns the attached signature
	GetSignature() *TxSignature
}

func checkPackedAmount(b []byte, x *big.Int) ([]byte, error) {
	p, err := packAmountChecked(x)
	if err != nil {
		return nil, Wrap(err)
	}
	return append(b, p...), nil
}

func checkPackedFee(b []byte, x *big.Int) ([]byte, error) {
	p, err := packFeeChecked(x)
	if err != nil {
		return nil, Wrap(err)
	}
	return append(b, p...), nil
}

func appendAmount16(b []byte, x *big.Int) ([]byte, error) {
	if x == nil || x.Sign() < 0 || x.BitLen() > BalanceBits {
		return nil, Wrap(fmt.Errorf("amount %v doesn't fit in 128 bits", x))
	}
	var a [16]byte
	x.FillBytes(a[:])
	return append(b, a[:]...), nil
}

// Transfer moves Amount of Token from the account AccountID (bound to From)
// to the account bound to To, paying Fee in the same token.
type Transfer struct {
	AccountID AccountID         `json:"accountId"`
	From      ethCommon.Address `json:"from"`
	To        ethCommon.Address `json:"to"`
	Token     TokenID           `json:"token"`
	Amount    *big.Int          `json:"amount"`
	Fee       *big.Int          `json:"fee"`
	Nonce     Nonce             `json:"nonce"`
	TimeRange TimeRange         `json:"timeRange"`
	Signature TxSignature       `json:"signature"`
}

// Type implements SignedTx.  Transfers to a new account are typed when the
// operation is built.
func (tx *Transfer) Type() OpType { return OpTypeTransfer }

// GetSignature implements SignedTx
func (tx *Transfer) GetSignature() *TxSignature { return &tx.Signature }

// Bytes returns the signed message: prefix, version, accountId, from, to,
// token, packed amount, packed fee, nonce and time range
func (tx *Transfer) Bytes() ([]byte, error) {
	b := []byte{txPrefixTransfer, TxVersion}
	b = append(b, tx.AccountID.Bytes()...)
	b = append(b, tx.From.Bytes()...)
	b = append(b, tx.To.Bytes()...)
	b = append(b, tx.Token.Bytes()...)
	b, err := checkPackedAmount(b, tx.Amount)
	if err != nil {
		return nil, Wrap(err)
	}
	if b, err = checkPackedFee(b, tx.Fee); err != nil {
		return nil, Wrap(err)
	}
	b = append(b, tx.Nonce.Bytes()...)
	return append(b, tx.TimeRange.Bytes()...), nil
}

// Withdraw moves Amount of Token out of the rollup to the L1 address To
type Withdraw struct {
	AccountID AccountID         `json:"accountId"`
	From      ethCommon.Address `json:"from"`
	To        ethCommon.Address `json:"to"`
	Token     TokenID           `json:"token"`
	Amount    *big.Int          `json:"amount"`
	Fee       *big.Int          `json:"fee"`
	Nonce     Nonce             `json:"nonce"`
	TimeRange TimeRange         `json:"timeRange"`
	Signature TxSignature       `json:"signature"`
}

// Type implements SignedTx
func (tx *Withdraw) Type() OpType { return OpTypeWithdraw }

// GetSignature implements SignedTx
func (tx *Withdraw) GetSignature() *TxSignature { return &tx.Signature }

// Bytes returns the signed message.  The amount is not packed.
func (tx *Withdraw) Bytes() ([]byte, error) {
	b := []byte{txPrefixWithdraw, TxVersion}
	b = append(b, tx.AccountID.Bytes()...)
	b = append(b, tx.From.Bytes()...)
	b = append(b, tx.To.Bytes()...)
	b = append(b, tx.Token.Bytes()...)
	b, err := appendAmount16(b, tx.Amount)
	if err != nil {
		return nil, Wrap(err)
	}
	if b, err = checkPackedFee(b, tx.Fee); err != nil {
		return nil, Wrap(err)
	}
	b = append(b, tx.Nonce.Bytes()...)
	return append(b, tx.TimeRange.Bytes()...), nil
}

// ChangePubKey binds NewPubKeyHash to the account
type ChangePubKey struct {
	AccountID     AccountID         `json:"accountId"`
	Account       ethCommon.Address `json:"account"`
	NewPubKeyHash PubKeyHash        `json:"newPkHash"`
	FeeToken      TokenID           `json:"feeToken"`
	Fee           *big.Int          `json:"fee"`
	Nonce         Nonce             `json:"nonce"`
	TimeRange     TimeRange         `json:"timeRange"`
	EthAuth       ChangePubKeyAuth  `json:"ethAuthData"`
	Signature     TxSignature       `json:"signature"`
}

// Type implements SignedTx
func (tx *ChangePubKey) Type() OpType { return OpTypeChangePubKey }

// GetSignature implements SignedTx
func (tx *ChangePubKey) GetSignature() *TxSignature { return &tx.Signature }

// Bytes returns the message signed with the new rollup key
func (tx *ChangePubKey) Bytes() ([]byte, error) {
	b := []byte{txPrefixChangePubKey, TxVersion}
	b = append(b, tx.AccountID.Bytes()...)
	b = append(b, tx.Account.Bytes()...)
	b = append(b, tx.NewPubKeyHash[:]...)
	b = append(b, tx.FeeToken.Bytes()...)
	b, err := checkPackedFee(b, tx.Fee)
	if err != nil {
		return nil, Wrap(err)
	}
	b = append(b, tx.Nonce.Bytes()...)
	return append(b, tx.TimeRange.Bytes()...), nil
}

// ForcedExit withdraws the whole Token balance of the unowned account bound
// to Target to that same L1 address.  The initiator pays the fee.
type ForcedExit struct {
	InitiatorAccountID AccountID         `json:"initiatorAccountId"`
	Target             ethCommon.Address `json:"target"`
	Token              TokenID           `json:"token"`
	Fee                *big.Int          `json:"fee"`
	Nonce              Nonce             `json:"nonce"`
	TimeRange          TimeRange         `json:"timeRange"`
	Signature          TxSignature       `json:"signature"`
}

// Type implements SignedTx
func (tx *ForcedExit) Type() OpType { return OpTypeForcedExit }

// GetSignature implements SignedTx
func (tx *ForcedExit) GetSignature() *TxSignature { return &tx.Signature }

// Bytes returns the signed message
func (tx *ForcedExit) Bytes() ([]byte, error) {
	b := []byte{txPrefixForcedExit, TxVersion}
	b = append(b, tx.InitiatorAccountID.Bytes()...)
	b = append(b, tx.Target.Bytes()...)
	b = append(b, tx.Token.Bytes()...)
	b, err := checkPackedFee(b, tx.Fee)
	if err != nil {
		return nil, Wrap(err)
	}
	b = append(b, tx.Nonce.Bytes()...)
	return append(b, tx.TimeRange.Bytes()...), nil
}

// MintNFT mints a new NFT with ContentHash to Recipient
type MintNFT struct {
	CreatorID      AccountID         `json:"creatorId"`
	CreatorAddress ethCommon.Address `json:"creatorAddress"`
	ContentHash    ethCommon.Hash    `json:"contentHash"`
	Recipient      ethCommon.Address `json:"recipient"`
	FeeToken       TokenID           `json:"feeToken"`
	Fee            *big.Int          `json:"fee"`
	Nonce          Nonce             `json:"nonce"`
	Signature      TxSignature       `json:"signature"`
}

// Type implements SignedTx
func (tx *MintNFT) Type() OpType { return OpTypeMintNFT }

// GetSignature implements SignedTx
func (tx *MintNFT) GetSignature() *TxSignature { return &tx.Signature }

// Bytes returns the signed message
func (tx *MintNFT) Bytes() ([]byte, error) {
	b := []byte{txPrefixMintNFT, TxVersion}
	b = append(b, tx.CreatorID.Bytes()...)
	b = append(b, tx.CreatorAddress.Bytes()...)
	b = append(b, tx.ContentHash.Bytes()...)
	b = append(b, tx.Recipient.Bytes()...)
	b = append(b, tx.FeeToken.Bytes()...)
	b, err := checkPackedFee(b, tx.Fee)
	if err != nil {
		return nil, Wrap(err)
	}
	return append(b, tx.Nonce.Bytes()...), nil
}

// WithdrawNFT withdraws the NFT Token to the L1 address To, paying Fee in
// FeeToken
type WithdrawNFT struct {
	AccountID AccountID         `json:"accountId"`
	From      ethCommon.Address `json:"from"`
	To        ethCommon.Address `json:"to"`
	Token     TokenID           `json:"token"`
	FeeToken  TokenID           `json:"feeToken"`
	Fee       *big.Int          `json:"fee"`
	Nonce     Nonce             `json:"nonce"`
	TimeRange TimeRange         `json:"timeRange"`
	Signature TxSignature       `json:"signature"`
}

// Type implements SignedTx
func (tx *WithdrawNFT) Type() OpType { return OpTypeWithdrawNFT }

// GetSignature implements SignedTx
func (tx *WithdrawNFT) GetSignature() *TxSignature { return &tx.Signature }

// Bytes returns the signed message
func (tx *WithdrawNFT) Bytes() ([]byte, error) {
	b := []byte{txPrefixWithdrawNFT, TxVersion}
	b = append(b, tx.AccountID.Bytes()...)
	b = append(b, tx.From.Bytes()...)
	b = append(b, tx.To.Bytes()...)
	b = append(b, tx.Token.Bytes()...)
	b = append(b, tx.FeeToken.Bytes()...)
	b, err := checkPackedFee(b, tx.Fee)
	if err != nil {
		return nil, Wrap(err)
	}
	b = append(b, tx.Nonce.Bytes()...)
	return append(b, tx.TimeRange.Bytes()...), nil
}

// Price is the accepted exchange ratio of an order: for Sell units of the
// sold token the order wants at least Buy units of the bought token
type Price struct {
	Sell *big.Int `json:"sell"`
	Buy  *big.Int `json:"buy"`
}

// Order is one side of a Swap, signed by the account owner
type Order struct {
	AccountID AccountID         `json:"accountId"`
	Recipient ethCommon.Address `json:"recipient"`
	Nonce     Nonce             `json:"nonce"`
	TokenBuy  TokenID           `json:"tokenBuy"`
	TokenSell TokenID           `json:"tokenSell"`
	Price     Price             `json:"price"`
	// Amount is the exact amount to sell.  Zero means limit order: any
	// amount can be sold and the nonce is not consumed.
	Amount    *big.Int    `json:"amount"`
	TimeRange TimeRange   `json:"timeRange"`
	Signature TxSignature `json:"signature"`
}

// IsLimit returns true for limit orders
func (o *Order) IsLimit() bool {
	return o.Amount == nil || o.Amount.Sign() == 0
}

// GetSignature returns the order signature
func (o *Order) GetSignature() *TxSignature { return &o.Signature }

func appendPrice(b []byte, x *big.Int) ([]byte, error) {
	if x == nil || x.Sign() < 0 || x.BitLen() > PriceBitWidth {
		return nil, Wrap(fmt.Errorf("price %v doesn't fit in %d bits", x, PriceBitWidth))
	}
	var p [priceBytesLen]byte
	x.FillBytes(p[:])
	return append(b, p[:]...), nil
}

// Bytes returns the signed order message
func (o *Order) Bytes() ([]byte, error) {
	b := []byte{orderMsgType, TxVersion}
	b = append(b, o.AccountID.Bytes()...)
	b = append(b, o.Recipient.Bytes()...)
	b = append(b, o.Nonce.Bytes()...)
	b = append(b, o.TokenSell.Bytes()...)
	b = append(b, o.TokenBuy.Bytes()...)
	b, err := appendPrice(b, o.Price.Sell)
	if err != nil {
		return nil, Wrap(err)
	}
	if b, err = appendPrice(b, o.Price.Buy); err != nil {
		return nil, Wrap(err)
	}
	amount := o.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	if b, err = checkPackedAmount(b, amount); err != nil {
		return nil, Wrap(err)
	}
	return append(b, o.TimeRange.Bytes()...), nil
}

// Swap exchanges Amounts[0] of Orders[0].TokenSell for Amounts[1] of
// Orders[1].TokenSell.  The submitter pays Fee in FeeToken.
type Swap struct {
	SubmitterID      AccountID         `json:"submitterId"`
	SubmitterAddress ethCommon.Address `json:"submitterAddress"`
	Nonce            Nonce             `json:"nonce"`
	Orders           [2]Order          `json:"orders"`
	Amounts          [2]*big.Int       `json:"amounts"`
	FeeToken         TokenID           `json:"feeToken"`
	Fee              *big.Int          `json:"fee"`
	Signature        TxSignature       `json:"signature"`
}

// Type implements SignedTx
func (tx *Swap) Type() OpType { return OpTypeSwap }

// GetSignature implements SignedTx
func (tx *Swap) GetSignature() *TxSignature { return &tx.Signature }

// Bytes returns the message signed by the submitter, which embeds both
// signed orders
func (tx *Swap) Bytes() ([]byte, error) {
	b := []byte{txPrefixSwap, TxVersion}
	b = append(b, tx.SubmitterID.Bytes()...)
	b = append(b, tx.SubmitterAddress.Bytes()...)
	b = append(b, tx.Nonce.Bytes()...)
	for i := range tx.Orders {
		ob, err := tx.Orders[i].Bytes()
		if err != nil {
			return nil, Wrap(err)
		}
		b = append(b, ob...)
	}
	b = append(b, tx.FeeToken.Bytes()...)
	b, err := checkPackedFee(b, tx.Fee)
	if err != nil {
		return nil, Wrap(err)
	}
	for i := range tx.Amounts {
		if b, err = checkPackedAmount(b, tx.Amounts[i]); err != nil {
			return nil, Wrap(err)
		}
	}
	return b, nil
}

// NonceMask returns the bitmask of the orders whose nonce is consumed by
// the swap: bit i is set when order i is not a limit order
func (tx *Swap) NonceMask() byte {
	var mask byte
	for i := range tx.Orders {
		if !tx.Orders[i].IsLimit() {
			mask |= 1 << i
		}
	}
	return mask
}
