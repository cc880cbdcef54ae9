package txprocessor

import (
	"errors"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
)

// Degradation reasons of priority ops
var (
	// ErrDepositToken is used for deposits of a token out of the fungible
	// range
	ErrDepositToken = errors.New("deposit token is not fungible")
	// ErrDepositOverflow is used when the deposit would overflow the
	// balance of the receiver
	ErrDepositOverflow = errors.New("deposit overflows the balance")
	// ErrDepositAddress is used for deposits to the zero address or to the
	// NFT storage account
	ErrDepositAddress = errors.New("invalid deposit address")
	// ErrDepositZero is used when replaying a deposit committed with a
	// zero amount
	ErrDepositZero = errors.New("deposit committed with zero amount")
	// ErrFullExitOwner is used when the declared owner of a full exit is
	// not the address bound to the account
	ErrFullExitOwner = errors.New("full exit owner doesn't match the account address")
	// ErrFullExitAccount is used when the account of a full exit is not
	// allocated or can't be exited
	ErrFullExitAccount = errors.New("full exit account can't be exited")
	// ErrFullExitToken is used for full exits of the NFT counter token
	ErrFullExitToken = errors.New("full exit token can't be exited")
)

// applyDeposit credits the full deposited amount to the account bound to
// the deposit address, allocating the lowest free id when the address is
// not bound yet.  A deposit that can't be credited is degraded to a zero
// amount.
func (tp *TxProcessor) applyDeposit(op *common.DepositOp) (*common.DegradedPriorityOpError, error) {
	d := &op.Priority
	if d.Amount == nil || d.Amount.Sign() < 0 {
		return nil, common.Wrap(fmt.Errorf("%w: deposit %d amount %v", common.ErrNegativeAmount,
			op.SerialID, d.Amount))
	}
	if tp.restore {
		return tp.restoreDeposit(op)
	}
	degraded := func(reason error) (*common.DegradedPriorityOpError, error) {
		d.Amount = big.NewInt(0)
		return degrade(op.Type(), op.SerialID, reason), nil
	}
	if !d.Token.IsFungible() {
		return degraded(fmt.Errorf("%w: token %d", ErrDepositToken, d.Token))
	}
	if d.To == (ethCommon.Address{}) || d.To == common.NFTStorageAccountAddress {
		return degraded(fmt.Errorf("%w: %s", ErrDepositAddress, d.To.Hex()))
	}

	id, ok, err := tp.accountIDByAddress(d.To)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if ok {
		balance, err := tp.state.GetBalance(id, d.Token)
		if err != nil {
			return nil, common.Wrap(err)
		}
		if balance.Add(balance, d.Amount).Cmp(common.MaxBalance) > 0 {
			op.AccountID = id
			return degraded(fmt.Errorf("%w: account %d token %d", ErrDepositOverflow, id, d.Token))
		}
	} else {
		if id, err = tp.state.AllocateLowestFreeID(); err != nil {
			return nil, common.Wrap(err)
		}
		if err := tp.createAccount(id, d.To); err != nil {
			return nil, common.Wrap(err)
		}
	}
	op.AccountID = id
	return nil, tp.credit(id, d.Token, d.Amount)
}

// restoreDeposit replays a deposit decoded from L1: the account id is part
// of the pubdata and must be consistent with the local state
func (tp *TxProcessor) restoreDeposit(op *common.DepositOp) (*common.DegradedPriorityOpError, error) {
	d := &op.Priority
	exists, err := tp.state.AccountExists(op.AccountID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !exists {
		if err := tp.createAccount(op.AccountID, d.To); err != nil {
			return nil, common.Wrap(err)
		}
	} else {
		acc, err := tp.state.GetAccount(op.AccountID)
		if err != nil {
			return nil, common.Wrap(err)
		}
		if acc.Address != d.To {
			return nil, common.Wrap(fmt.Errorf("deposit %d to %s, account %d is bound to %s",
				op.SerialID, d.To.Hex(), op.AccountID, acc.Address.Hex()))
		}
	}
	if d.Amount.Sign() == 0 {
		return degrade(op.Type(), op.SerialID, ErrDepositZero), nil
	}
	return nil, tp.credit(op.AccountID, d.Token, d.Amount)
}

// checkFullExit returns the degradation reason of a full exit, nil when it
// can be applied
func (tp *TxProcessor) checkFullExit(op *common.FullExitOp) (reason error, err error) {
	fe := &op.Priority
	if fe.AccountID > common.MaxAccountID {
		return fmt.Errorf("%w: account %d", ErrFullExitAccount, fe.AccountID), nil
	}
	if fe.Token == common.NFTTokenID {
		return fmt.Errorf("%w: token %d", ErrFullExitToken, fe.Token), nil
	}
	exists, err := tp.state.AccountExists(fe.AccountID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !exists {
		return fmt.Errorf("%w: account %d not found", ErrFullExitAccount, fe.AccountID), nil
	}
	acc, err := tp.state.GetAccount(fe.AccountID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if acc.Address != fe.Owner {
		return fmt.Errorf("%w: account %d is bound to %s, owner %s", ErrFullExitOwner,
			fe.AccountID, acc.Address.Hex(), fe.Owner.Hex()), nil
	}
	return nil, nil
}

// applyFullExit zeroes the whole balance of the token and declares it as
// withdrawn amount.  A full exit whose owner doesn't match the account is
// included with a zero withdrawn amount and no balance change.
func (tp *TxProcessor) applyFullExit(op *common.FullExitOp) (*common.DegradedPriorityOpError, error) {
	fe := &op.Priority
	declared := op.WithdrawAmount
	reason, err := tp.checkFullExit(op)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if reason != nil {
		if tp.restore && declared != nil && declared.Sign() != 0 {
			return nil, common.Wrap(fmt.Errorf("full exit %d: declared amount %s, degraded locally: %v",
				op.SerialID, declared, reason))
		}
		op.WithdrawAmount = big.NewInt(0)
		op.NFT = common.NFT{}
		return degrade(op.Type(), op.SerialID, reason), nil
	}

	amount, err := tp.state.GetBalance(fe.AccountID, fe.Token)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if tp.restore && declared != nil && declared.Cmp(amount) != 0 {
		return nil, common.Wrap(fmt.Errorf("full exit %d: declared amount %s, balance %s",
			op.SerialID, declared, amount))
	}
	op.WithdrawAmount = amount
	op.NFT = common.NFT{}
	if fe.Token.IsNFT() && amount.Cmp(big.NewInt(1)) == 0 {
		nft, err := tp.state.GetNFT(fe.Token)
		if err != nil {
			return nil, common.Wrap(err)
		}
		op.NFT = *nft
	}
	if err := tp.state.SetBalance(fe.AccountID, fe.Token, big.NewInt(0)); err != nil {
		return nil, common.Wrap(err)
	}
	return nil, nil
}
