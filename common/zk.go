// Package common zk.go contains the witness handed to the proving backend
// for each batch
package common

import (
	"math/big"
)

// ZKInputs represents the inputs that will be used to generate the zkSNARK
// proof of a batch
type ZKInputs struct {
	// CurrentNumBatch is the current batch number processed
	CurrentNumBatch *uint32 `json:"currentNumBatch"` // uint32
	// OldStateRoot is the account tree root before the batch
	OldStateRoot *big.Int `json:"oldStateRoot"`
	// NewStateRoot is the account tree root after the batch
	NewStateRoot *big.Int `json:"newStateRoot"`
	// FeeAccount receives the fees of the batch
	FeeAccount *uint32 `json:"feeAccount"` // uint32 (max 24 bits)
	// Chunks is the capacity of the batch
	Chunks uint32 `json:"chunks"`
	// PubData is the concatenated pubdata padded with Noops
	PubData []byte `json:"pubData"`
	// RollingHash is the sha256 rolling hash over the pubdata chunks
	RollingHash []byte `json:"rollingHash"`
	// Commitment binds the public inputs of the batch
	Commitment []byte `json:"commitment"`
	// ChainID is part of the EIP-712 domain of ChangePubKey auths
	ChainID uint64 `json:"chainID"`

	// Ops are the per operation witnesses, in batch order.  Noop padding
	// is implicit.
	Ops []*OpWitness `json:"ops"`

	// Intermediate States

	// ISStateRoot is the root once each op has been applied, len: [len(Ops)]
	ISStateRoot []*big.Int `json:"imStateRoot"`
	// ISFeeAccumulated is the fee credited to the fee account by each op
	ISFeeAccumulated []*big.Int `json:"imFeeAccumulated"`
}

// OpWitness is the witness of a single operation: the leaves it touches
// before the update, with their merkle siblings, and the signature
type OpWitness struct {
	OpType  OpType `json:"opType"`
	PubData []byte `json:"pubData"`

	// Accounts are the account leaves read by the op, in the order the op
	// updates them
	Accounts []*AccountWitness `json:"accounts"`

	// transaction L2 signature
	// S, eddsa signature field s
	S *big.Int `json:"s"`
	// R8x, eddsa signature field r8x
	R8x *big.Int `json:"r8x"`
	// R8y, eddsa signature field r8y
	R8y *big.Int `json:"r8y"`
	// Ax, Ay are the signer public key
	Ax *big.Int `json:"ax"`
	Ay *big.Int `json:"ay"`
}

// AccountWitness is the value of an account leaf and of one of its
// balance leaves before they are updated
type AccountWitness struct {
	AccountID  uint32     `json:"accountID"`
	Nonce      *big.Int   `json:"nonce"`
	PubKeyHash *big.Int   `json:"pubKeyHash"`
	EthAddr    *big.Int   `json:"ethAddr"`
	TokenID    uint32     `json:"tokenID"`
	Balance    *big.Int   `json:"balance"`
	Siblings   []*big.Int `json:"siblings"`  // len: [AccountTreeDepth]
	BSiblings  []*big.Int `json:"bSiblings"` // len: [BalanceTreeDepth]
	BalRoot    *big.Int   `json:"balanceRoot"`
}

// NewZKInputs returns a pointer to an initialized struct of ZKInputs
func NewZKInputs(chainID uint64, chunks uint32, currentNumBatch *uint32) *ZKInputs {
	zki := &ZKInputs{}
	zki.CurrentNumBatch = currentNumBatch
	zki.OldStateRoot = big.NewInt(0)
	zki.NewStateRoot = big.NewInt(0)
	zki.FeeAccount = new(uint32)
	zki.Chunks = chunks
	zki.ChainID = chainID
	zki.Ops = make([]*OpWitness, 0)
	zki.ISStateRoot = make([]*big.Int, 0)
	zki.ISFeeAccumulated = make([]*big.Int, 0)
	return zki
}

// NewAccountWitness returns an AccountWitness with all the values
// initialized at 0
func NewAccountWitness(id AccountID, token TokenID) *AccountWitness {
	return &AccountWitness{
		AccountID:  uint32(id),
		Nonce:      big.NewInt(0),
		PubKeyHash: big.NewInt(0),
		EthAddr:    big.NewInt(0),
		TokenID:    uint32(token),
		Balance:    big.NewInt(0),
		Siblings:   newSlice(AccountTreeDepth),
		BSiblings:  newSlice(BalanceTreeDepth),
		BalRoot:    big.NewInt(0),
	}
}

// newSlice returns a []*big.Int slice of length n with values initialized at
// 0.
// Is used to initialize all *big.Ints of the ZKInputs data structure, so when
// the ops are processed and the ZKInputs filled there are no 'nil'/'null'
// values left for the prover.
func newSlice(n uint32) []*big.Int {
	s := make([]*big.Int, n)
	for i := 0; i < len(s); i++ {
		s[i] = big.NewInt(0)
	}
	return s
}
