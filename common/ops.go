package common

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// ChunkBytes is the size of a pubdata chunk, the unit of batch capacity
const ChunkBytes = 10

// OpType is the opcode of a rollup operation, the first byte of its pubdata
type OpType byte

// Opcodes of the rollup operations
const (
	OpTypeNoop          OpType = 0x00
	OpTypeDeposit       OpType = 0x01
	OpTypeTransferToNew OpType = 0x02
	OpTypeWithdraw      OpType = 0x03
	OpTypeTransfer      OpType = 0x05
	OpTypeFullExit      OpType = 0x06
	OpTypeChangePubKey  OpType = 0x07
	OpTypeForcedExit    OpType = 0x08
	OpTypeMintNFT       OpType = 0x09
	OpTypeWithdrawNFT   OpType = 0x0a
	OpTypeSwap          OpType = 0x0b
)

var opChunks = map[OpType]int{
	OpTypeNoop:          1,
	OpTypeDeposit:       6,
	OpTypeTransferToNew: 6,
	OpTypeWithdraw:      6,
	OpTypeTransfer:      2,
	OpTypeFullExit:      11,
	OpTypeChangePubKey:  6,
	OpTypeForcedExit:    6,
	OpTypeMintNFT:       5,
	OpTypeWithdrawNFT:   10,
	OpTypeSwap:          5,
}

var opNames = map[OpType]string{
	OpTypeNoop:          "Noop",
	OpTypeDeposit:       "Deposit",
	OpTypeTransferToNew: "TransferToNew",
	OpTypeWithdraw:      "Withdraw",
	OpTypeTransfer:      "Transfer",
	OpTypeFullExit:      "FullExit",
	OpTypeChangePubKey:  "ChangePubKey",
	OpTypeForcedExit:    "ForcedExit",
	OpTypeMintNFT:       "MintNFT",
	OpTypeWithdrawNFT:   "WithdrawNFT",
	OpTypeSwap:          "Swap",
}

// Chunks returns the number of chunks the operation uses.  Unknown opcodes
// return 0.
func (t OpType) Chunks() int {
	return opChunks[t]
}

// PubDataLen returns the length of the operation pubdata
func (t OpType) PubDataLen() int {
	return opChunks[t] * ChunkBytes
}

// IsPriority returns true for operations originated on L1
func (t OpType) IsPriority() bool {
	return t == OpTypeDeposit || t == OpTypeFullExit
}

// IsValid returns true if the opcode is known
func (t OpType) IsValid() bool {
	_, ok := opChunks[t]
	return ok
}

// String implements fmt.Stringer
func (t OpType) String() string {
	if name, ok := opNames[t]; ok {
		return name
	}
	return fmt.Sprintf("OpType(0x%02x)", byte(t))
}

// Op is a rollup operation.  Every kind is a self contained value with its
// own fixed size pubdata encoding.
type Op interface {
	// Type returns the opcode
	Type() OpType
	// PubData returns the fixed size wire payload, padded to the op chunks
	PubData() ([]byte, error)
}

// pubdataWriter builds pubdata padded to the op chunk size
type pubdataWriter struct {
	b   []byte
	err error
}

func newPubdataWriter(t OpType) *pubdataWriter {
	b := make([]byte, 0, t.PubDataLen())
	return &pubdataWriter{b: append(b, byte(t))}
}

func (w *pubdataWriter) bytes(b []byte) *pubdataWriter {
	w.b = append(w.b, b...)
	return w
}

func (w *pubdataWriter) amount16(x *big.Int) *pubdataWriter {
	if w.err == nil {
		w.b, w.err = appendAmount16(w.b, x)
	}
	return w
}

func (w *pubdataWriter) packedAmount(x *big.Int) *pubdataWriter {
	if w.err == nil {
		w.b, w.err = checkPackedAmount(w.b, x)
	}
	return w
}

func (w *pubdataWriter) packedFee(x *big.Int) *pubdataWriter {
	if w.err == nil {
		w.b, w.err = checkPackedFee(w.b, x)
	}
	return w
}

func (w *pubdataWriter) finish(t OpType) ([]byte, error) {
	if w.err != nil {
		return nil, Wrap(w.err)
	}
	if len(w.b) > t.PubDataLen() {
		return nil, Wrap(fmt.Errorf("%s pubdata len %d exceeds %d", t, len(w.b), t.PubDataLen()))
	}
	out := make([]byte, t.PubDataLen())
	copy(out, w.b)
	return out, nil
}

// NoopOp pads a batch to its chunk capacity
type NoopOp struct{}

// Type implements Op
func (op *NoopOp) Type() OpType { return OpTypeNoop }

// PubData implements Op.  The pubdata is a zero chunk.
func (op *NoopOp) PubData() ([]byte, error) {
	return make([]byte, ChunkBytes), nil
}

// TransferOp is a Transfer between two existing accounts
type TransferOp struct {
	Tx   Transfer
	From AccountID
	To   AccountID
}

// Type implements Op
func (op *TransferOp) Type() OpType { return OpTypeTransfer }

// PubData implements Op: op, from, token, to, packed amount, packed fee
func (op *TransferOp) PubData() ([]byte, error) {
	return newPubdataWriter(OpTypeTransfer).
		bytes(op.From.Bytes()).
		bytes(op.Tx.Token.Bytes()).
		bytes(op.To.Bytes()).
		packedAmount(op.Tx.Amount).
		packedFee(op.Tx.Fee).
		finish(OpTypeTransfer)
}

// TransferToNewOp is a Transfer whose receiver account is allocated by the
// operation
type TransferToNewOp struct {
	Tx   Transfer
	From AccountID
	To   AccountID
}

// Type implements Op
func (op *TransferToNewOp) Type() OpType { return OpTypeTransferToNew }

// PubData implements Op: op, from, token, packed amount, to address, to, packed fee
func (op *TransferToNewOp) PubData() ([]byte, error) {
	return newPubdataWriter(OpTypeTransferToNew).
		bytes(op.From.Bytes()).
		bytes(op.Tx.Token.Bytes()).
		packedAmount(op.Tx.Amount).
		bytes(op.Tx.To.Bytes()).
		bytes(op.To.Bytes()).
		packedFee(op.Tx.Fee).
		finish(OpTypeTransferToNew)
}

// WithdrawOp is a partial exit to L1
type WithdrawOp struct {
	Tx        Withdraw
	AccountID AccountID
}

// Type implements Op
func (op *WithdrawOp) Type() OpType { return OpTypeWithdraw }

// PubData implements Op: op, account, token, full amount, packed fee, to address
func (op *WithdrawOp) PubData() ([]byte, error) {
	return newPubdataWriter(OpTypeWithdraw).
		bytes(op.AccountID.Bytes()).
		bytes(op.Tx.Token.Bytes()).
		amount16(op.Tx.Amount).
		packedFee(op.Tx.Fee).
		bytes(op.Tx.To.Bytes()).
		finish(OpTypeWithdraw)
}

// ChangePubKeyOp binds a new pubkey hash to an account
type ChangePubKeyOp struct {
	Tx        ChangePubKey
	AccountID AccountID
}

// Type implements Op
func (op *ChangePubKeyOp) Type() OpType { return OpTypeChangePubKey }

// PubData implements Op: op, account, pubkey hash, address, nonce, fee token, packed fee
func (op *ChangePubKeyOp) PubData() ([]byte, error) {
	return newPubdataWriter(OpTypeChangePubKey).
		bytes(op.AccountID.Bytes()).
		bytes(op.Tx.NewPubKeyHash[:]).
		bytes(op.Tx.Account.Bytes()).
		bytes(op.Tx.Nonce.Bytes()).
		bytes(op.Tx.FeeToken.Bytes()).
		packedFee(op.Tx.Fee).
		finish(OpTypeChangePubKey)
}

// ForcedExitOp exits the whole balance of an unowned account
type ForcedExitOp struct {
	Tx              ForcedExit
	TargetAccountID AccountID
	// WithdrawAmount is set when the operation is applied
	WithdrawAmount *big.Int
}

// Type implements Op
func (op *ForcedExitOp) Type() OpType { return OpTypeForcedExit }

// PubData implements Op: op, initiator, target, token, full amount, packed fee, target address
func (op *ForcedExitOp) PubData() ([]byte, error) {
	amount := op.WithdrawAmount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return newPubdataWriter(OpTypeForcedExit).
		bytes(op.Tx.InitiatorAccountID.Bytes()).
		bytes(op.TargetAccountID.Bytes()).
		bytes(op.Tx.Token.Bytes()).
		amount16(amount).
		packedFee(op.Tx.Fee).
		bytes(op.Tx.Target.Bytes()).
		finish(OpTypeForcedExit)
}

// MintNFTOp mints a new NFT
type MintNFTOp struct {
	Tx                 MintNFT
	CreatorAccountID   AccountID
	RecipientAccountID AccountID
}

// Type implements Op
func (op *MintNFTOp) Type() OpType { return OpTypeMintNFT }

// PubData implements Op: op, creator, recipient, content hash, fee token, packed fee
func (op *MintNFTOp) PubData() ([]byte, error) {
	return newPubdataWriter(OpTypeMintNFT).
		bytes(op.CreatorAccountID.Bytes()).
		bytes(op.RecipientAccountID.Bytes()).
		bytes(op.Tx.ContentHash.Bytes()).
		bytes(op.Tx.FeeToken.Bytes()).
		packedFee(op.Tx.Fee).
		finish(OpTypeMintNFT)
}

// WithdrawNFTOp withdraws an NFT to L1.  The NFT metadata is filled when the
// operation is applied.
type WithdrawNFTOp struct {
	Tx  WithdrawNFT
	NFT NFT
}

// Type implements Op
func (op *WithdrawNFTOp) Type() OpType { return OpTypeWithdrawNFT }

// PubData implements Op: op, account, creator, creator address, serial id,
// content hash, to address, token, fee token, packed fee
func (op *WithdrawNFTOp) PubData() ([]byte, error) {
	var serial [4]byte
	binary.BigEndian.PutUint32(serial[:], op.NFT.SerialID)
	return newPubdataWriter(OpTypeWithdrawNFT).
		bytes(op.Tx.AccountID.Bytes()).
		bytes(op.NFT.CreatorID.Bytes()).
		bytes(op.NFT.CreatorAddress.Bytes()).
		bytes(serial[:]).
		bytes(op.NFT.ContentHash.Bytes()).
		bytes(op.Tx.To.Bytes()).
		bytes(op.Tx.Token.Bytes()).
		bytes(op.Tx.FeeToken.Bytes()).
		packedFee(op.Tx.Fee).
		finish(OpTypeWithdrawNFT)
}

// Deposit is the L1 declared content of a deposit priority request
type Deposit struct {
	From   ethCommon.Address `json:"from"`
	Token  TokenID           `json:"token"`
	Amount *big.Int          `json:"amount"`
	To     ethCommon.Address `json:"to"`
}

// DepositOp credits a deposit.  AccountID is resolved when the operation is
// applied.
type DepositOp struct {
	Priority  Deposit
	SerialID  uint64
	AccountID AccountID
}

// Type implements Op
func (op *DepositOp) Type() OpType { return OpTypeDeposit }

// PubData implements Op: op, account, token, full amount, to address
func (op *DepositOp) PubData() ([]byte, error) {
	return newPubdataWriter(OpTypeDeposit).
		bytes(op.AccountID.Bytes()).
		bytes(op.Priority.Token.Bytes()).
		amount16(op.Priority.Amount).
		bytes(op.Priority.To.Bytes()).
		finish(OpTypeDeposit)
}

// FullExit is the L1 declared content of a full exit priority request
type FullExit struct {
	AccountID AccountID         `json:"accountId"`
	Owner     ethCommon.Address `json:"owner"`
	Token     TokenID           `json:"token"`
}

// FullExitOp exits the whole balance of a token.  WithdrawAmount and NFT are
// set when the operation is applied; a zero WithdrawAmount signals a
// degraded request.
type FullExitOp struct {
	Priority       FullExit
	SerialID       uint64
	WithdrawAmount *big.Int
	NFT            NFT
}

// Type implements Op
func (op *FullExitOp) Type() OpType { return OpTypeFullExit }

// PubData implements Op: op, account, owner, token, withdrawn amount,
// creator, creator address, serial id, content hash
func (op *FullExitOp) PubData() ([]byte, error) {
	amount := op.WithdrawAmount
	if amount == nil {
		amount = big.NewInt(0)
	}
	var serial [4]byte
	binary.BigEndian.PutUint32(serial[:], op.NFT.SerialID)
	return newPubdataWriter(OpTypeFullExit).
		bytes(op.Priority.AccountID.Bytes()).
		bytes(op.Priority.Owner.Bytes()).
		bytes(op.Priority.Token.Bytes()).
		amount16(amount).
		bytes(op.NFT.CreatorID.Bytes()).
		bytes(op.NFT.CreatorAddress.Bytes()).
		bytes(serial[:]).
		bytes(op.NFT.ContentHash.Bytes()).
		finish(OpTypeFullExit)
}

// SwapOp exchanges two orders
type SwapOp struct {
	Tx         Swap
	Submitter  AccountID
	Accounts   [2]AccountID
	Recipients [2]AccountID
}

// Type implements Op
func (op *SwapOp) Type() OpType { return OpTypeSwap }

// PubData implements Op: op, account0, recipient0, account1, recipient1,
// submitter, token0, token1, fee token, packed amounts, packed fee, nonce mask
func (op *SwapOp) PubData() ([]byte, error) {
	return newPubdataWriter(OpTypeSwap).
		bytes(op.Accounts[0].Bytes()).
		bytes(op.Recipients[0].Bytes()).
		bytes(op.Accounts[1].Bytes()).
		bytes(op.Recipients[1].Bytes()).
		bytes(op.Submitter.Bytes()).
		bytes(op.Tx.Orders[0].TokenSell.Bytes()).
		bytes(op.Tx.Orders[1].TokenSell.Bytes()).
		bytes(op.Tx.FeeToken.Bytes()).
		packedAmount(op.Tx.Amounts[0]).
		packedAmount(op.Tx.Amounts[1]).
		packedFee(op.Tx.Fee).
		bytes([]byte{op.Tx.NonceMask()}).
		finish(OpTypeSwap)
}

// OpAccounts returns the accounts whose state may be read or written by the
// operation, before it is applied
func OpAccounts(op Op) []AccountID {
	switch o := op.(type) {
	case *TransferOp:
		return []AccountID{o.From, o.To}
	case *TransferToNewOp:
		return []AccountID{o.From, o.To}
	case *WithdrawOp:
		return []AccountID{o.AccountID}
	case *ChangePubKeyOp:
		return []AccountID{o.AccountID}
	case *ForcedExitOp:
		return []AccountID{o.Tx.InitiatorAccountID, o.TargetAccountID}
	case *MintNFTOp:
		return []AccountID{o.CreatorAccountID, o.RecipientAccountID, NFTStorageAccountID}
	case *WithdrawNFTOp:
		return []AccountID{o.Tx.AccountID}
	case *DepositOp:
		return []AccountID{o.AccountID}
	case *FullExitOp:
		return []AccountID{o.Priority.AccountID}
	case *SwapOp:
		return []AccountID{o.Submitter, o.Accounts[0], o.Accounts[1], o.Recipients[0], o.Recipients[1]}
	}
	return nil
}
