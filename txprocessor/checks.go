package txprocessor

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
	"tokamak-zkrollup/database/statedb"
)

// getAccount returns the allocated account with the given id
func (tp *TxProcessor) getAccount(opType common.OpType, id common.AccountID) (*common.Account, error) {
	if id > common.MaxAccountID {
		return nil, reject(opType, ErrAccountNotFound, "id %d", id)
	}
	exists, err := tp.state.AccountExists(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !exists {
		return nil, reject(opType, ErrAccountNotFound, "id %d", id)
	}
	return tp.state.GetAccount(id)
}

// getOwnedAccount returns the account id bound to addr and checks that the
// declared id matches it
func (tp *TxProcessor) getOwnedAccount(opType common.OpType, id common.AccountID,
	addr ethCommon.Address) (*common.Account, error) {
	acc, err := tp.getAccount(opType, id)
	if err != nil {
		return nil, err
	}
	if !tp.restore && acc.Address != addr {
		return nil, reject(opType, ErrAddressMismatch, "account %d, address %s", id, addr.Hex())
	}
	return acc, nil
}

// accountIDByAddress resolves the account bound to addr.  ok is false when
// the address is not bound.
func (tp *TxProcessor) accountIDByAddress(addr ethCommon.Address) (id common.AccountID, ok bool, err error) {
	id, err = tp.state.GetAccountIDByAddress(addr)
	if common.Unwrap(err) == statedb.ErrAccountNotFound {
		return 0, false, nil
	} else if err != nil {
		return 0, false, common.Wrap(err)
	}
	return id, true, nil
}

// checkRecipientAddress rejects the addresses that can never own funds
func checkRecipientAddress(opType common.OpType, addr ethCommon.Address) error {
	if addr == (ethCommon.Address{}) || addr == common.NFTStorageAccountAddress {
		return reject(opType, ErrInvalidAddress, "%s", addr.Hex())
	}
	return nil
}

// checkSigner verifies the signature of tx and that its signer is the key
// bound to acc
func (tp *TxProcessor) checkSigner(opType common.OpType, acc *common.Account, tx crypto.Signed) error {
	if tp.restore {
		return nil
	}
	if acc.PubKeyHash.IsZero() {
		return reject(opType, ErrAccountLocked, "account %d", acc.ID)
	}
	pkh, err := crypto.RecoverPubKeyHash(tx)
	if err != nil {
		return reject(opType, common.Unwrap(err), "")
	}
	if pkh != acc.PubKeyHash {
		return reject(opType, ErrPubKeyHashMismatch, "account %d", acc.ID)
	}
	return nil
}

func (tp *TxProcessor) checkNonce(opType common.OpType, acc *common.Account, nonce common.Nonce) error {
	if tp.restore {
		return nil
	}
	if acc.Nonce != nonce {
		return reject(opType, ErrNonceMismatch, "account %d: expected %d, got %d",
			acc.ID, acc.Nonce, nonce)
	}
	return nil
}

func (tp *TxProcessor) checkTimeRange(opType common.OpType, tr common.TimeRange) error {
	if tp.restore {
		return nil
	}
	if !tr.IsValid(tp.timestamp) {
		return reject(opType, ErrTimeRange, "timestamp %d, range [%d, %d]",
			tp.timestamp, tr.ValidFrom, tr.ValidUntil)
	}
	return nil
}

// checkFungible rejects tokens out of the fungible range
func checkFungible(opType common.OpType, token common.TokenID) error {
	if !token.IsFungible() {
		return reject(opType, ErrInvalidToken, "token %d is not fungible", token)
	}
	return nil
}

// checkTransferable rejects the NFT counter token
func checkTransferable(opType common.OpType, token common.TokenID) error {
	if token == common.NFTTokenID {
		return reject(opType, ErrInvalidToken, "token %d can't be moved", token)
	}
	return nil
}

func checkAmount(opType common.OpType, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 || amount.Cmp(common.MaxBalance) > 0 {
		return reject(opType, ErrInvalidAmount, "%v", amount)
	}
	return nil
}

// checkPackedAmount rejects amounts that don't survive the packed encoding
func checkPackedAmount(opType common.OpType, amount *big.Int) error {
	if err := checkAmount(opType, amount); err != nil {
		return err
	}
	if !common.IsAmountPackable(amount) {
		return reject(opType, ErrAmountNotPackable, "%s", amount)
	}
	return nil
}

func checkPackedFee(opType common.OpType, fee *big.Int) error {
	if err := checkAmount(opType, fee); err != nil {
		return err
	}
	if !common.IsFeePackable(fee) {
		return reject(opType, ErrFeeNotPackable, "%s", fee)
	}
	return nil
}

// checkBalance rejects when acc can't pay amount of token
func checkBalance(opType common.OpType, acc *common.Account, token common.TokenID, amount *big.Int) error {
	if acc.Balance(token).Cmp(amount) < 0 {
		return reject(opType, ErrNotEnoughBalance, "account %d, token %d: balance %s, needed %s",
			acc.ID, token, acc.Balance(token), amount)
	}
	return nil
}

// credit adds amount of token to the account
func (tp *TxProcessor) credit(id common.AccountID, token common.TokenID, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, err := tp.state.GetBalance(id, token)
	if err != nil {
		return common.Wrap(err)
	}
	return tp.state.SetBalance(id, token, balance.Add(balance, amount))
}

// debit subtracts amount of token from the account.  A debit that would make
// the balance negative fails with common.ErrNegativeAmount.
func (tp *TxProcessor) debit(id common.AccountID, token common.TokenID, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, err := tp.state.GetBalance(id, token)
	if err != nil {
		return common.Wrap(err)
	}
	return tp.state.SetBalance(id, token, balance.Sub(balance, amount))
}

// bumpNonce increments the nonce of the account by one
func (tp *TxProcessor) bumpNonce(id common.AccountID) error {
	acc, err := tp.state.GetAccount(id)
	if err != nil {
		return common.Wrap(err)
	}
	if acc.Nonce == ^common.Nonce(0) {
		return common.Wrap(common.ErrNumOverflow)
	}
	return tp.state.SetNonce(id, acc.Nonce+1)
}

// collectFee accumulates the fee of an applied op.  Fees are credited to the
// fee account once the batch ops have been applied.
func (tp *TxProcessor) collectFee(token common.TokenID, fee *big.Int) {
	tp.AccumulatedFees.Add(token, fee)
}

func sum(xs ...*big.Int) *big.Int {
	s := big.NewInt(0)
	for _, x := range xs {
		if x != nil {
			s.Add(s, x)
		}
	}
	return s
}
