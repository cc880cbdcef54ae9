package txprocessor

import (
	"math/big"

	"tokamak-zkrollup/common"
)

// witnessLeaf is a (account, token) leaf read by an op
type witnessLeaf struct {
	id    common.AccountID
	token common.TokenID
}

// opLeaves returns the leaves read by the op, in the order the op updates
// them
func opLeaves(op common.Op) []witnessLeaf {
	switch o := op.(type) {
	case *common.TransferOp:
		return []witnessLeaf{{o.From, o.Tx.Token}, {o.To, o.Tx.Token}}
	case *common.TransferToNewOp:
		return []witnessLeaf{{o.From, o.Tx.Token}, {o.To, o.Tx.Token}}
	case *common.WithdrawOp:
		return []witnessLeaf{{o.AccountID, o.Tx.Token}}
	case *common.ChangePubKeyOp:
		return []witnessLeaf{{o.AccountID, o.Tx.FeeToken}}
	case *common.ForcedExitOp:
		return []witnessLeaf{{o.Tx.InitiatorAccountID, o.Tx.Token}, {o.TargetAccountID, o.Tx.Token}}
	case *common.MintNFTOp:
		return []witnessLeaf{
			{o.CreatorAccountID, o.Tx.FeeToken},
			{o.CreatorAccountID, common.NFTTokenID},
			{common.NFTStorageAccountID, common.NFTTokenID},
			{o.RecipientAccountID, common.NFTTokenID},
		}
	case *common.WithdrawNFTOp:
		return []witnessLeaf{{o.Tx.AccountID, o.Tx.Token}, {o.Tx.AccountID, o.Tx.FeeToken}}
	case *common.DepositOp:
		return []witnessLeaf{{o.AccountID, o.Priority.Token}}
	case *common.FullExitOp:
		return []witnessLeaf{{o.Priority.AccountID, o.Priority.Token}}
	case *common.SwapOp:
		return []witnessLeaf{
			{o.Accounts[0], o.Tx.Orders[0].TokenSell},
			{o.Recipients[1], o.Tx.Orders[1].TokenBuy},
			{o.Accounts[1], o.Tx.Orders[1].TokenSell},
			{o.Recipients[0], o.Tx.Orders[0].TokenBuy},
			{o.Submitter, o.Tx.FeeToken},
		}
	}
	return nil
}

// witnessBefore records the leaves read by the op before it is applied and
// the signature of the tx
func (tp *TxProcessor) witnessBefore(op common.Op, tx common.SignedTx) error {
	if tp.zki == nil {
		return nil
	}
	w := &common.OpWitness{
		OpType: op.Type(),
		S:      big.NewInt(0),
		R8x:    big.NewInt(0),
		R8y:    big.NewInt(0),
		Ax:     big.NewInt(0),
		Ay:     big.NewInt(0),
	}
	leaves := opLeaves(op)
	if d, ok := op.(*common.DepositOp); ok && !tp.restore {
		// the deposit account is resolved when it is applied
		id, bound, err := tp.accountIDByAddress(d.Priority.To)
		if err != nil {
			return common.Wrap(err)
		}
		if !bound {
			id = tp.state.NextAccountID()
		}
		leaves[0].id = id
	}
	for _, leaf := range leaves {
		if leaf.id > common.NFTStorageAccountID {
			continue
		}
		aw, err := tp.state.AccountWitness(leaf.id, leaf.token)
		if err != nil {
			return common.Wrap(err)
		}
		w.Accounts = append(w.Accounts, aw)
	}
	if tx != nil {
		txSig := tx.GetSignature()
		if pk, err := txSig.PubKey.Decompress(); err == nil {
			w.Ax, w.Ay = pk.X, pk.Y
		}
		if sig, err := txSig.Signature.Decompress(); err == nil {
			w.S, w.R8x, w.R8y = sig.S, sig.R8.X, sig.R8.Y
		}
	}
	tp.zki.Ops = append(tp.zki.Ops, w)
	return nil
}

// witnessAfter records the intermediate state root and the fee of the op
func (tp *TxProcessor) witnessAfter(op common.Op, pubData []byte, feesBefore common.AccumulatedFees) error {
	if tp.zki == nil {
		return nil
	}
	tp.zki.Ops[tp.opIndex].PubData = pubData
	root, err := tp.state.Root()
	if err != nil {
		return common.Wrap(err)
	}
	tp.zki.ISStateRoot = append(tp.zki.ISStateRoot, root.BigInt())
	fee := big.NewInt(0)
	if token, _ := opFee(op); tp.AccumulatedFees[token] != nil {
		fee.Set(tp.AccumulatedFees[token])
		if before := feesBefore[token]; before != nil {
			fee.Sub(fee, before)
		}
	}
	tp.zki.ISFeeAccumulated = append(tp.zki.ISFeeAccumulated, fee)
	tp.opIndex++
	return nil
}
