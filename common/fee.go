package common

import (
	"math/big"
	"sort"
)

// AccumulatedFees are the fees credited to the fee account of a batch, per
// token
type AccumulatedFees map[TokenID]*big.Int

// Add accumulates fee in token.  Zero fees are not recorded.
func (f AccumulatedFees) Add(token TokenID, fee *big.Int) {
	if fee == nil || fee.Sign() == 0 {
		return
	}
	acc, ok := f[token]
	if !ok {
		acc = big.NewInt(0)
		f[token] = acc
	}
	acc.Add(acc, fee)
}

// Tokens returns the tokens with accumulated fees in ascending order
func (f AccumulatedFees) Tokens() []TokenID {
	tokens := make([]TokenID, 0, len(f))
	for token := range f {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}

// Copy returns a deep copy
func (f AccumulatedFees) Copy() AccumulatedFees {
	c := make(AccumulatedFees, len(f))
	for token, fee := range f {
		c[token] = new(big.Int).Set(fee)
	}
	return c
}
