/*
Package crypto contains the hash functions used by the state tree, the
commitments and the rollup signatures.

Field elements are hashed with a sponge of rate 2 and capacity 1 over the
BN254 scalar field, using Poseidon as permutation: the state starts at 0 and
every pair of input elements (a, b) is absorbed as

	state = Poseidon(state, a, b)

Inputs with an odd number of elements are padded with SpongePadding.  Byte
strings are converted into field elements with BitPack before hashing.
*/
package crypto

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/iden3/go-iden3-crypto/utils"
	"github.com/minio/sha256-simd"
	"tokamak-zkrollup/common"
)

const (
	// SpongeRate is the number of elements absorbed per permutation
	SpongeRate = 2
	// BitPackWidth is the number of bits packed into every field element
	BitPackWidth = 253
)

// SpongePadding is appended to inputs whose length is not a multiple of
// SpongeRate
var SpongePadding = big.NewInt(1)

// Sponge hashes a non empty list of field elements
func Sponge(elems ...*big.Int) (*big.Int, error) {
	if len(elems) == 0 {
		return nil, common.Wrap(fmt.Errorf("sponge input can not be empty"))
	}
	for _, e := range elems {
		if e == nil || !utils.CheckBigIntInField(e) {
			return nil, common.Wrap(common.ErrNotInFF)
		}
	}
	if len(elems)%SpongeRate != 0 {
		padded := make([]*big.Int, len(elems), len(elems)+1)
		copy(padded, elems)
		elems = append(padded, SpongePadding)
	}
	state := big.NewInt(0)
	for i := 0; i < len(elems); i += SpongeRate {
		h, err := poseidon.Hash([]*big.Int{state, elems[i], elems[i+1]})
		if err != nil {
			return nil, common.Wrap(err)
		}
		state = h
	}
	return state, nil
}

// BitPack converts a byte string into field elements of BitPackWidth bits.
// The bits of every byte are taken least significant first, and the first
// bit taken is the least significant bit of the first element.
func BitPack(b []byte) ([]*big.Int, error) {
	if len(b) == 0 {
		return nil, common.Wrap(fmt.Errorf("can not bit pack an empty message"))
	}
	nBits := len(b) * 8
	elems := make([]*big.Int, 0, (nBits+BitPackWidth-1)/BitPackWidth)
	cur := big.NewInt(0)
	pos := 0
	for i := 0; i < nBits; i++ {
		if b[i/8]>>(uint(i)%8)&1 == 1 {
			cur.SetBit(cur, pos, 1)
		}
		pos++
		if pos == BitPackWidth {
			elems = append(elems, cur)
			cur = big.NewInt(0)
			pos = 0
		}
	}
	if pos > 0 {
		elems = append(elems, cur)
	}
	return elems, nil
}

// SpongeBytes bit packs b and hashes the resulting elements
func SpongeBytes(b []byte) (*big.Int, error) {
	elems, err := BitPack(b)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return Sponge(elems...)
}

// BytesHash is the byte oriented hash used for transaction identifiers and
// batch commitments
func BytesHash(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TxHash returns the identifier of a signed transaction: the BytesHash of
// its signed message
func TxHash(tx Signed) ([32]byte, error) {
	msg, err := tx.Bytes()
	if err != nil {
		return [32]byte{}, common.Wrap(err)
	}
	return BytesHash(msg), nil
}
