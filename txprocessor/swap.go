package txprocessor

import (
	"math/big"

	"github.com/holiman/uint256"
	"tokamak-zkrollup/common"
)

// createSwap resolves the recipients of both orders, which must be
// allocated accounts
func (tp *TxProcessor) createSwap(tx *common.Swap) (common.Op, error) {
	op := &common.SwapOp{Tx: *tx, Submitter: tx.SubmitterID}
	for i := range tx.Orders {
		op.Accounts[i] = tx.Orders[i].AccountID
		if err := checkRecipientAddress(common.OpTypeSwap, tx.Orders[i].Recipient); err != nil {
			return nil, err
		}
		recipient, ok, err := tp.accountIDByAddress(tx.Orders[i].Recipient)
		if err != nil {
			return nil, common.Wrap(err)
		}
		if !ok {
			return nil, reject(common.OpTypeSwap, ErrAccountNotFound, "recipient %s",
				tx.Orders[i].Recipient.Hex())
		}
		op.Recipients[i] = recipient
	}
	return op, nil
}

// mulCmp compares a*b with c*d.  The operands are at most 128 bits wide, so
// the products always fit in 256 bits.
func mulCmp(a, b, c, d *big.Int) int {
	x, _ := uint256.FromBig(a)
	y, _ := uint256.FromBig(b)
	z, _ := uint256.FromBig(c)
	w, _ := uint256.FromBig(d)
	return new(uint256.Int).Mul(x, y).Cmp(new(uint256.Int).Mul(z, w))
}

func checkPrice(p common.Price) bool {
	return p.Sell != nil && p.Buy != nil && p.Sell.Sign() >= 0 && p.Buy.Sign() >= 0 &&
		p.Sell.BitLen() <= common.PriceBitWidth && p.Buy.BitLen() <= common.PriceBitWidth
}

// checkSwap verifies, in order: the submitter, the orders signatures and
// nonces, the tokens, the prices, the amounts and the balances.  Order i
// sells Amounts[i] of its TokenSell and receives Amounts[1-i] of its
// TokenBuy.
func (tp *TxProcessor) checkSwap(op *common.SwapOp) error {
	opType := op.Type()
	tx := &op.Tx
	o0, o1 := &tx.Orders[0], &tx.Orders[1]

	submitter, err := tp.getOwnedAccount(opType, op.Submitter, tx.SubmitterAddress)
	if err != nil {
		return err
	}
	if err := tp.checkSigner(opType, submitter, tx); err != nil {
		return err
	}
	if err := tp.checkNonce(opType, submitter, tx.Nonce); err != nil {
		return err
	}
	if op.Accounts[0] == op.Accounts[1] {
		return reject(opType, ErrSwapAccounts, "account %d", op.Accounts[0])
	}
	var accounts [2]*common.Account
	for i := range tx.Orders {
		order := &tx.Orders[i]
		acc, err := tp.getAccount(opType, op.Accounts[i])
		if err != nil {
			return err
		}
		if err := tp.checkSigner(opType, acc, order); err != nil {
			return err
		}
		// an order owned by the submitter shares the nonce of the swap, so
		// the single submitter increment consumes it
		if !tp.restore && order.Nonce != acc.Nonce {
			return reject(opType, ErrNonceMismatch, "order %d, account %d: expected %d, got %d",
				i, acc.ID, acc.Nonce, order.Nonce)
		}
		if err := tp.checkTimeRange(opType, order.TimeRange); err != nil {
			return err
		}
		if _, err := tp.getAccount(opType, op.Recipients[i]); err != nil {
			return err
		}
		accounts[i] = acc
	}

	if o0.TokenSell == o0.TokenBuy || o0.TokenBuy != o1.TokenSell || o1.TokenBuy != o0.TokenSell {
		return reject(opType, ErrSwapTokens, "orders %d->%d, %d->%d",
			o0.TokenSell, o0.TokenBuy, o1.TokenSell, o1.TokenBuy)
	}
	if err := checkTransferable(opType, o0.TokenSell); err != nil {
		return err
	}
	if err := checkTransferable(opType, o1.TokenSell); err != nil {
		return err
	}
	if err := checkFungible(opType, tx.FeeToken); err != nil {
		return err
	}
	for i := range tx.Amounts {
		if err := checkPackedAmount(opType, tx.Amounts[i]); err != nil {
			return err
		}
	}
	if err := checkPackedFee(opType, tx.Fee); err != nil {
		return err
	}
	if tx.Amounts[0].Sign() == 0 && tx.Amounts[1].Sign() == 0 {
		return reject(opType, ErrSwapAmounts, "both amounts are zero")
	}

	if !tp.restore {
		if !checkPrice(o0.Price) || !checkPrice(o1.Price) {
			return reject(opType, ErrSwapPrices, "price out of range")
		}
		// the orders accept each other rates
		if mulCmp(o0.Price.Sell, o1.Price.Sell, o0.Price.Buy, o1.Price.Buy) < 0 {
			return reject(opType, ErrSwapPrices, "order prices are not compatible")
		}
		// each order receives at least what its price asks for
		if mulCmp(tx.Amounts[0], o0.Price.Buy, tx.Amounts[1], o0.Price.Sell) > 0 {
			return reject(opType, ErrSwapPrices, "order 0 price is not met")
		}
		if mulCmp(tx.Amounts[1], o1.Price.Buy, tx.Amounts[0], o1.Price.Sell) > 0 {
			return reject(opType, ErrSwapPrices, "order 1 price is not met")
		}
		for i := range tx.Orders {
			if !tx.Orders[i].IsLimit() && tx.Orders[i].Amount.Cmp(tx.Amounts[i]) != 0 {
				return reject(opType, ErrSwapAmounts, "order %d amount %s, swapped %s",
					i, tx.Orders[i].Amount, tx.Amounts[i])
			}
		}
	}

	// balances, including the fee when the submitter owns an order
	for i := range tx.Orders {
		needed := new(big.Int).Set(tx.Amounts[i])
		if accounts[i].ID == submitter.ID && tx.FeeToken == tx.Orders[i].TokenSell {
			needed.Add(needed, tx.Fee)
		}
		if err := checkBalance(opType, accounts[i], tx.Orders[i].TokenSell, needed); err != nil {
			return err
		}
	}
	fee := new(big.Int).Set(tx.Fee)
	for i := range tx.Orders {
		if accounts[i].ID == submitter.ID && tx.FeeToken == tx.Orders[i].TokenSell {
			fee.Add(fee, tx.Amounts[i])
		}
	}
	return checkBalance(opType, submitter, tx.FeeToken, fee)
}

// applySwap: the submitter pays the fee and consumes its nonce, each order
// account sells its amount and, for non limit orders that are not the
// submitter's, consumes its nonce; each recipient receives the amount sold
// by the other order
func (tp *TxProcessor) applySwap(op *common.SwapOp) error {
	tx := &op.Tx
	if err := tp.debit(op.Submitter, tx.FeeToken, tx.Fee); err != nil {
		return common.Wrap(err)
	}
	if err := tp.bumpNonce(op.Submitter); err != nil {
		return common.Wrap(err)
	}
	mask := tx.NonceMask()
	for i := range tx.Orders {
		if err := tp.debit(op.Accounts[i], tx.Orders[i].TokenSell, tx.Amounts[i]); err != nil {
			return common.Wrap(err)
		}
		if mask&(1<<i) != 0 && op.Accounts[i] != op.Submitter {
			if err := tp.bumpNonce(op.Accounts[i]); err != nil {
				return common.Wrap(err)
			}
		}
	}
	for i := range tx.Orders {
		if err := tp.credit(op.Recipients[i], tx.Orders[i].TokenBuy, tx.Amounts[1-i]); err != nil {
			return common.Wrap(err)
		}
	}
	tp.collectFee(tx.FeeToken, tx.Fee)
	return nil
}
