package txprocessor

import (
	"errors"
	"fmt"

	"tokamak-zkrollup/common"
)

// Rejection reasons of user submitted operations.  They are wrapped in a
// common.RejectedTransactionError.
var (
	// ErrNonceMismatch is used when the tx nonce is not the account nonce
	ErrNonceMismatch = errors.New("nonce mismatch")
	// ErrNotEnoughBalance is used when the account can't pay amount + fee
	ErrNotEnoughBalance = errors.New("not enough balance")
	// ErrAccountNotFound is used when an account referenced by id or by
	// address is not allocated
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountLocked is used when the account has no signing key bound
	ErrAccountLocked = errors.New("account is locked: pubkey hash not set")
	// ErrPubKeyHashMismatch is used when the signer is not the key bound to
	// the account
	ErrPubKeyHashMismatch = errors.New("signer pubkey hash doesn't match the account")
	// ErrAddressMismatch is used when the declared address is not the one
	// bound to the account
	ErrAddressMismatch = errors.New("address doesn't match the account")
	// ErrInvalidToken is used for token ids not allowed by the operation
	ErrInvalidToken = errors.New("invalid token")
	// ErrAmountNotPackable is used when the amount is not exactly packable
	ErrAmountNotPackable = errors.New("amount is not packable")
	// ErrFeeNotPackable is used when the fee is not exactly packable
	ErrFeeNotPackable = errors.New("fee is not packable")
	// ErrInvalidAmount is used for nil or negative amounts
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTimeRange is used when the batch timestamp is out of the tx
	// validity range
	ErrTimeRange = errors.New("outside of the valid time range")
	// ErrInvalidAddress is used for the zero address and the address of
	// the NFT storage account
	ErrInvalidAddress = errors.New("invalid address")
	// ErrChangePubKeyAuth is used when the L1 authorisation of a
	// ChangePubKey doesn't verify
	ErrChangePubKeyAuth = errors.New("invalid ChangePubKey authorisation")
	// ErrTargetOwned is used when the target of a ForcedExit has a signing
	// key bound
	ErrTargetOwned = errors.New("forced exit target has a pubkey hash set")
	// ErrNFTBalance is used when withdrawing an NFT that is not owned
	ErrNFTBalance = errors.New("nft balance is not 1")
	// ErrNFTNotFound is used when the metadata of an NFT doesn't exist
	ErrNFTNotFound = errors.New("nft not found")
	// ErrSwapTokens is used when the order tokens are not distinct and
	// reciprocal
	ErrSwapTokens = errors.New("swap tokens are not distinct and reciprocal")
	// ErrSwapPrices is used when the order prices are not compatible with
	// each other or with the swapped amounts
	ErrSwapPrices = errors.New("swap prices are not compatible")
	// ErrSwapAmounts is used when an order amount doesn't match the
	// swapped amount, or both swapped amounts are zero
	ErrSwapAmounts = errors.New("swap amounts don't match the orders")
	// ErrSwapAccounts is used when both orders belong to the same account
	ErrSwapAccounts = errors.New("swap orders belong to the same account")
)

// reject returns a RejectedTransactionError of the given op type.  reason
// is kept in the error chain so it can be matched with errors.Is.
func reject(opType common.OpType, reason error, format string, args ...interface{}) error {
	if format != "" {
		reason = fmt.Errorf("%w: %s", reason, fmt.Sprintf(format, args...))
	}
	return common.Wrap(common.NewRejectedTxErr(opType, reason))
}

// degrade returns the DegradedPriorityOpError of a priority op
func degrade(opType common.OpType, serialID uint64, reason error) *common.DegradedPriorityOpError {
	return &common.DegradedPriorityOpError{SerialID: serialID, OpType: opType, Reason: reason}
}

// fatal returns a FatalInvariantError of the given op type
func fatal(opType common.OpType, err error) error {
	var fErr *common.FatalInvariantError
	if errors.As(common.Unwrap(err), &fErr) {
		return common.Wrap(fErr)
	}
	return common.Wrap(&common.FatalInvariantError{OpType: opType, Reason: common.Unwrap(err)})
}
