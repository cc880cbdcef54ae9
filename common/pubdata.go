package common

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// pubdataReader reads the fields of an operation pubdata in order
type pubdataReader struct {
	b   []byte
	pos int
	err error
}

func newPubdataReader(t OpType, b []byte) (*pubdataReader, error) {
	if len(b) != t.PubDataLen() {
		return nil, Wrap(fmt.Errorf("%s pubdata len %d, expected %d", t, len(b), t.PubDataLen()))
	}
	if OpType(b[0]) != t {
		return nil, Wrap(fmt.Errorf("pubdata opcode 0x%02x, expected %s", b[0], t))
	}
	return &pubdataReader{b: b, pos: 1}, nil
}

func (r *pubdataReader) next(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.pos+n > len(r.b) {
		r.err = fmt.Errorf("pubdata too short reading %d bytes at %d", n, r.pos)
		return make([]byte, n)
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *pubdataReader) accountID() AccountID {
	return AccountID(binary.BigEndian.Uint32(r.next(accountIDBytesLen)))
}

func (r *pubdataReader) tokenID() TokenID {
	return TokenID(binary.BigEndian.Uint32(r.next(tokenIDBytesLen)))
}

func (r *pubdataReader) u32() uint32 {
	return binary.BigEndian.Uint32(r.next(4))
}

func (r *pubdataReader) address() ethCommon.Address {
	return ethCommon.BytesToAddress(r.next(ethCommon.AddressLength))
}

func (r *pubdataReader) hash() ethCommon.Hash {
	return ethCommon.BytesToHash(r.next(ethCommon.HashLength))
}

func (r *pubdataReader) amount16() *big.Int {
	return new(big.Int).SetBytes(r.next(16))
}

func (r *pubdataReader) packedAmount() *big.Int {
	v, err := UnpackAmount(r.next(PackedAmountBytesLen))
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *pubdataReader) packedFee() *big.Int {
	v, err := UnpackFee(r.next(PackedFeeBytesLen))
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

// OpFromPubData decodes a single operation from its pubdata.  Fields that are
// not part of the pubdata (signatures, nonces of most txs, L1 sender of
// deposits) are left empty: the decoded operation is meant to be applied
// without authorisation checks when restoring the state from L1.
func OpFromPubData(b []byte) (Op, error) {
	if len(b) == 0 {
		return nil, Wrap(fmt.Errorf("empty pubdata"))
	}
	t := OpType(b[0])
	if !t.IsValid() {
		return nil, Wrap(fmt.Errorf("unknown opcode 0x%02x", b[0]))
	}
	if t == OpTypeNoop {
		return &NoopOp{}, nil
	}
	r, err := newPubdataReader(t, b)
	if err != nil {
		return nil, Wrap(err)
	}
	var op Op
	switch t {
	case OpTypeTransfer:
		o := &TransferOp{}
		o.From = r.accountID()
		o.Tx.AccountID = o.From
		o.Tx.Token = r.tokenID()
		o.To = r.accountID()
		o.Tx.Amount = r.packedAmount()
		o.Tx.Fee = r.packedFee()
		o.Tx.TimeRange = DefaultTimeRange
		op = o
	case OpTypeTransferToNew:
		o := &TransferToNewOp{}
		o.From = r.accountID()
		o.Tx.AccountID = o.From
		o.Tx.Token = r.tokenID()
		o.Tx.Amount = r.packedAmount()
		o.Tx.To = r.address()
		o.To = r.accountID()
		o.Tx.Fee = r.packedFee()
		o.Tx.TimeRange = DefaultTimeRange
		op = o
	case OpTypeWithdraw:
		o := &WithdrawOp{}
		o.AccountID = r.accountID()
		o.Tx.AccountID = o.AccountID
		o.Tx.Token = r.tokenID()
		o.Tx.Amount = r.amount16()
		o.Tx.Fee = r.packedFee()
		o.Tx.To = r.address()
		o.Tx.TimeRange = DefaultTimeRange
		op = o
	case OpTypeChangePubKey:
		o := &ChangePubKeyOp{}
		o.AccountID = r.accountID()
		o.Tx.AccountID = o.AccountID
		copy(o.Tx.NewPubKeyHash[:], r.next(len(o.Tx.NewPubKeyHash)))
		o.Tx.Account = r.address()
		o.Tx.Nonce = Nonce(r.u32())
		o.Tx.FeeToken = r.tokenID()
		o.Tx.Fee = r.packedFee()
		o.Tx.TimeRange = DefaultTimeRange
		op = o
	case OpTypeForcedExit:
		o := &ForcedExitOp{}
		o.Tx.InitiatorAccountID = r.accountID()
		o.TargetAccountID = r.accountID()
		o.Tx.Token = r.tokenID()
		o.WithdrawAmount = r.amount16()
		o.Tx.Fee = r.packedFee()
		o.Tx.Target = r.address()
		o.Tx.TimeRange = DefaultTimeRange
		op = o
	case OpTypeMintNFT:
		o := &MintNFTOp{}
		o.CreatorAccountID = r.accountID()
		o.Tx.CreatorID = o.CreatorAccountID
		o.RecipientAccountID = r.accountID()
		o.Tx.ContentHash = r.hash()
		o.Tx.FeeToken = r.tokenID()
		o.Tx.Fee = r.packedFee()
		op = o
	case OpTypeWithdrawNFT:
		o := &WithdrawNFTOp{}
		o.Tx.AccountID = r.accountID()
		o.NFT.CreatorID = r.accountID()
		o.NFT.CreatorAddress = r.address()
		o.NFT.SerialID = r.u32()
		o.NFT.ContentHash = r.hash()
		o.Tx.To = r.address()
		o.Tx.Token = r.tokenID()
		o.NFT.ID = o.Tx.Token
		o.Tx.FeeToken = r.tokenID()
		o.Tx.Fee = r.packedFee()
		o.Tx.TimeRange = DefaultTimeRange
		op = o
	case OpTypeDeposit:
		o := &DepositOp{}
		o.AccountID = r.accountID()
		o.Priority.Token = r.tokenID()
		o.Priority.Amount = r.amount16()
		o.Priority.To = r.address()
		op = o
	case OpTypeFullExit:
		o := &FullExitOp{}
		o.Priority.AccountID = r.accountID()
		o.Priority.Owner = r.address()
		o.Priority.Token = r.tokenID()
		o.WithdrawAmount = r.amount16()
		o.NFT.CreatorID = r.accountID()
		o.NFT.CreatorAddress = r.address()
		o.NFT.SerialID = r.u32()
		o.NFT.ContentHash = r.hash()
		o.NFT.ID = o.Priority.Token
		op = o
	case OpTypeSwap:
		o := &SwapOp{}
		o.Accounts[0] = r.accountID()
		o.Recipients[0] = r.accountID()
		o.Accounts[1] = r.accountID()
		o.Recipients[1] = r.accountID()
		o.Submitter = r.accountID()
		o.Tx.SubmitterID = o.Submitter
		o.Tx.Orders[0].TokenSell = r.tokenID()
		o.Tx.Orders[1].TokenSell = r.tokenID()
		o.Tx.Orders[0].TokenBuy = o.Tx.Orders[1].TokenSell
		o.Tx.Orders[1].TokenBuy = o.Tx.Orders[0].TokenSell
		o.Tx.FeeToken = r.tokenID()
		o.Tx.Amounts[0] = r.packedAmount()
		o.Tx.Amounts[1] = r.packedAmount()
		o.Tx.Fee = r.packedFee()
		mask := r.next(1)[0]
		for i := range o.Tx.Orders {
			o.Tx.Orders[i].AccountID = o.Accounts[i]
			o.Tx.Orders[i].TimeRange = DefaultTimeRange
			// A non-limit order sells exactly the swapped amount
			if mask&(1<<i) != 0 {
				o.Tx.Orders[i].Amount = new(big.Int).Set(o.Tx.Amounts[i])
			} else {
				o.Tx.Orders[i].Amount = big.NewInt(0)
			}
		}
		op = o
	}
	if r.err != nil {
		return nil, Wrap(r.err)
	}
	return op, nil
}

// SplitPubData splits the pubdata of a batch into the pubdata of each
// operation, including Noop padding
func SplitPubData(pubdata []byte) ([][]byte, error) {
	if len(pubdata)%ChunkBytes != 0 {
		return nil, Wrap(fmt.Errorf("pubdata len %d is not a multiple of %d",
			len(pubdata), ChunkBytes))
	}
	var ops [][]byte
	for pos := 0; pos < len(pubdata); {
		t := OpType(pubdata[pos])
		if !t.IsValid() {
			return nil, Wrap(fmt.Errorf("unknown opcode 0x%02x at byte %d", pubdata[pos], pos))
		}
		end := pos + t.PubDataLen()
		if end > len(pubdata) {
			return nil, Wrap(fmt.Errorf("truncated %s pubdata at byte %d", t, pos))
		}
		ops = append(ops, pubdata[pos:end])
		pos = end
	}
	return ops, nil
}

// DecodeBatchPubData decodes the non Noop operations of a batch pubdata
func DecodeBatchPubData(pubdata []byte) ([]Op, error) {
	parts, err := SplitPubData(pubdata)
	if err != nil {
		return nil, Wrap(err)
	}
	ops := make([]Op, 0, len(parts))
	for _, part := range parts {
		if OpType(part[0]) == OpTypeNoop {
			continue
		}
		op, err := OpFromPubData(part)
		if err != nil {
			return nil, Wrap(err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
