package txprocessor

import (
	"math/big"

	"tokamak-zkrollup/common"
)

// createTransfer resolves the receiver of a transfer.  When the receiver
// address is not bound to any account the transfer becomes a TransferToNew
// that allocates the lowest free account id.
func (tp *TxProcessor) createTransfer(tx *common.Transfer) (common.Op, error) {
	if err := checkRecipientAddress(common.OpTypeTransfer, tx.To); err != nil {
		return nil, err
	}
	to, ok, err := tp.accountIDByAddress(tx.To)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if ok {
		return &common.TransferOp{Tx: *tx, From: tx.AccountID, To: to}, nil
	}
	to, err = tp.state.AllocateLowestFreeID()
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &common.TransferToNewOp{Tx: *tx, From: tx.AccountID, To: to}, nil
}

func (tp *TxProcessor) checkTransfer(opType common.OpType, tx *common.Transfer,
	from, to common.AccountID) error {
	if err := checkTransferable(opType, tx.Token); err != nil {
		return err
	}
	if err := checkPackedAmount(opType, tx.Amount); err != nil {
		return err
	}
	if err := checkPackedFee(opType, tx.Fee); err != nil {
		return err
	}
	if tx.Token.IsNFT() && tx.Fee.Sign() != 0 {
		return reject(opType, ErrInvalidToken, "fee can't be paid in nft %d", tx.Token)
	}
	acc, err := tp.getOwnedAccount(opType, from, tx.From)
	if err != nil {
		return err
	}
	if err := tp.checkSigner(opType, acc, tx); err != nil {
		return err
	}
	if err := tp.checkNonce(opType, acc, tx.Nonce); err != nil {
		return err
	}
	if err := tp.checkTimeRange(opType, tx.TimeRange); err != nil {
		return err
	}
	if opType == common.OpTypeTransfer {
		if _, err := tp.getAccount(opType, to); err != nil {
			return err
		}
	} else if to != tp.state.NextAccountID() {
		return reject(opType, ErrAccountNotFound, "new account %d is not the next free id %d",
			to, tp.state.NextAccountID())
	}
	if from == to {
		return checkBalance(opType, acc, tx.Token, tx.Fee)
	}
	return checkBalance(opType, acc, tx.Token, sum(tx.Amount, tx.Fee))
}

// applyTransfer moves amount from the sender to the receiver and collects
// the fee.  A transfer to self only pays the fee.
func (tp *TxProcessor) applyTransfer(tx *common.Transfer, from, to common.AccountID) error {
	if from == to {
		if err := tp.debit(from, tx.Token, tx.Fee); err != nil {
			return common.Wrap(err)
		}
	} else {
		if err := tp.debit(from, tx.Token, sum(tx.Amount, tx.Fee)); err != nil {
			return common.Wrap(err)
		}
		if err := tp.credit(to, tx.Token, tx.Amount); err != nil {
			return common.Wrap(err)
		}
	}
	if err := tp.bumpNonce(from); err != nil {
		return common.Wrap(err)
	}
	tp.collectFee(tx.Token, tx.Fee)
	return nil
}

func (tp *TxProcessor) createWithdraw(tx *common.Withdraw) (common.Op, error) {
	return &common.WithdrawOp{Tx: *tx, AccountID: tx.AccountID}, nil
}

// checkWithdraw: the withdrawn amount is not packed, it is declared in full
// in the pubdata
func (tp *TxProcessor) checkWithdraw(op *common.WithdrawOp) error {
	opType := op.Type()
	tx := &op.Tx
	if err := checkFungible(opType, tx.Token); err != nil {
		return err
	}
	if err := checkAmount(opType, tx.Amount); err != nil {
		return err
	}
	if err := checkPackedFee(opType, tx.Fee); err != nil {
		return err
	}
	if err := checkRecipientAddress(opType, tx.To); err != nil {
		return err
	}
	acc, err := tp.getOwnedAccount(opType, op.AccountID, tx.From)
	if err != nil {
		return err
	}
	if err := tp.checkSigner(opType, acc, tx); err != nil {
		return err
	}
	if err := tp.checkNonce(opType, acc, tx.Nonce); err != nil {
		return err
	}
	if err := tp.checkTimeRange(opType, tx.TimeRange); err != nil {
		return err
	}
	return checkBalance(opType, acc, tx.Token, sum(tx.Amount, tx.Fee))
}

func (tp *TxProcessor) applyWithdraw(op *common.WithdrawOp) error {
	if err := tp.debit(op.AccountID, op.Tx.Token, sum(op.Tx.Amount, op.Tx.Fee)); err != nil {
		return common.Wrap(err)
	}
	if err := tp.bumpNonce(op.AccountID); err != nil {
		return common.Wrap(err)
	}
	tp.collectFee(op.Tx.Token, op.Tx.Fee)
	return nil
}

// createForcedExit resolves the target account from its address
func (tp *TxProcessor) createForcedExit(tx *common.ForcedExit) (common.Op, error) {
	target, ok, err := tp.accountIDByAddress(tx.Target)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !ok {
		return nil, reject(common.OpTypeForcedExit, ErrAccountNotFound, "target %s", tx.Target.Hex())
	}
	return &common.ForcedExitOp{Tx: *tx, TargetAccountID: target}, nil
}

func (tp *TxProcessor) checkForcedExit(op *common.ForcedExitOp) error {
	opType := op.Type()
	tx := &op.Tx
	if err := checkFungible(opType, tx.Token); err != nil {
		return err
	}
	if err := checkPackedFee(opType, tx.Fee); err != nil {
		return err
	}
	initiator, err := tp.getAccount(opType, tx.InitiatorAccountID)
	if err != nil {
		return err
	}
	if err := tp.checkSigner(opType, initiator, tx); err != nil {
		return err
	}
	if err := tp.checkNonce(opType, initiator, tx.Nonce); err != nil {
		return err
	}
	if err := tp.checkTimeRange(opType, tx.TimeRange); err != nil {
		return err
	}
	target, err := tp.getOwnedAccount(opType, op.TargetAccountID, tx.Target)
	if err != nil {
		return err
	}
	if !target.PubKeyHash.IsZero() {
		return reject(opType, ErrTargetOwned, "account %d", target.ID)
	}
	if target.ID == initiator.ID || target.ID == common.NFTStorageAccountID {
		return reject(opType, ErrInvalidAddress, "target %s", tx.Target.Hex())
	}
	if tp.restore && op.WithdrawAmount != nil && op.WithdrawAmount.Cmp(target.Balance(tx.Token)) != 0 {
		return reject(opType, ErrInvalidAmount, "withdraw amount %s, balance %s",
			op.WithdrawAmount, target.Balance(tx.Token))
	}
	return checkBalance(opType, initiator, tx.Token, tx.Fee)
}

// applyForcedExit withdraws the whole token balance of the target; the
// initiator pays the fee
func (tp *TxProcessor) applyForcedExit(op *common.ForcedExitOp) error {
	amount, err := tp.state.GetBalance(op.TargetAccountID, op.Tx.Token)
	if err != nil {
		return common.Wrap(err)
	}
	if err := tp.debit(op.Tx.InitiatorAccountID, op.Tx.Token, op.Tx.Fee); err != nil {
		return common.Wrap(err)
	}
	if err := tp.bumpNonce(op.Tx.InitiatorAccountID); err != nil {
		return common.Wrap(err)
	}
	if err := tp.state.SetBalance(op.TargetAccountID, op.Tx.Token, big.NewInt(0)); err != nil {
		return common.Wrap(err)
	}
	op.WithdrawAmount = amount
	tp.collectFee(op.Tx.Token, op.Tx.Fee)
	return nil
}
