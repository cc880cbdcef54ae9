package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"tokamak-zkrollup/common"
)

// ErrInvalidSignature is returned when a rollup signature does not verify
var ErrInvalidSignature = errors.New("invalid signature")

// Signed is a message carrying a rollup signature: user transactions and
// swap orders
type Signed interface {
	// Bytes returns the signed message
	Bytes() ([]byte, error)
	// GetSignature returns the attached signature
	GetSignature() *common.TxSignature
}

// challenge returns Sponge(A.x, R.x, BitPack(msg)...)
func challenge(a, r *babyjub.Point, msg []byte) (*big.Int, error) {
	packed, err := BitPack(msg)
	if err != nil {
		return nil, common.Wrap(err)
	}
	elems := make([]*big.Int, 0, len(packed)+2)
	elems = append(elems, a.X, r.X)
	elems = append(elems, packed...)
	return Sponge(elems...)
}

func inPrimeSubgroup(p *babyjub.Point) bool {
	return p.InCurve() && p.InSubGroup()
}

// Verify returns true if sig is a valid signature of msg by pk: A and R are
// in the prime order subgroup, S < SubOrder and S·B8 == R + c·A
func Verify(pk *babyjub.PublicKey, sig *babyjub.Signature, msg []byte) bool {
	if pk == nil || sig == nil || sig.R8 == nil || sig.S == nil {
		return false
	}
	a := pk.Point()
	if !inPrimeSubgroup(a) || !inPrimeSubgroup(sig.R8) {
		return false
	}
	if sig.S.Sign() < 0 || sig.S.Cmp(babyjub.SubOrder) >= 0 {
		return false
	}
	c, err := challenge(a, sig.R8, msg)
	if err != nil {
		return false
	}
	left := babyjub.NewPoint().Mul(sig.S, babyjub.B8)
	cA := babyjub.NewPoint().Mul(c, a)
	right := cA.Projective().Add(sig.R8.Projective(), cA.Projective()).Affine()
	return left.X.Cmp(right.X) == 0 && left.Y.Cmp(right.Y) == 0
}

// VerifySigned decompresses the signature attached to tx and verifies it
// against the signed message
func VerifySigned(tx Signed) (*babyjub.PublicKey, error) {
	txSig := tx.GetSignature()
	if txSig == nil {
		return nil, common.Wrap(ErrInvalidSignature)
	}
	pk, err := txSig.PubKey.Decompress()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: public key: %v", ErrInvalidSignature, err))
	}
	sig, err := txSig.Signature.Decompress()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: signature: %v", ErrInvalidSignature, err))
	}
	msg, err := tx.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !Verify(pk, sig, msg) {
		return nil, common.Wrap(ErrInvalidSignature)
	}
	return pk, nil
}

// RecoverPubKeyHash verifies the signature of tx and returns the pubkey hash
// of the signer
func RecoverPubKeyHash(tx Signed) (common.PubKeyHash, error) {
	pk, err := VerifySigned(tx)
	if err != nil {
		return common.EmptyPubKeyHash, common.Wrap(err)
	}
	return PubKeyHashFromPublicKey(pk)
}

// PubKeyHashFromPublicKey returns the last 20 bytes of Sponge(A.x, A.y)
func PubKeyHashFromPublicKey(pk *babyjub.PublicKey) (common.PubKeyHash, error) {
	h, err := Sponge(pk.X, pk.Y)
	if err != nil {
		return common.EmptyPubKeyHash, common.Wrap(err)
	}
	var b [32]byte
	h.FillBytes(b[:])
	var pkh common.PubKeyHash
	copy(pkh[:], b[32-len(pkh):])
	return pkh, nil
}

// SignMessage signs msg with sk.  The nonce is derived deterministically
// from the private key scalar and the message.
func SignMessage(sk *babyjub.PrivateKey, msg []byte) (*babyjub.Signature, error) {
	s := sk.Scalar().BigInt()
	a := sk.Public().Point()

	var sBytes [32]byte
	s.FillBytes(sBytes[:])
	rHash := BytesHash(sBytes[:], msg)
	r := new(big.Int).SetBytes(rHash[:])
	r.Mod(r, babyjub.SubOrder)
	if r.Sign() == 0 {
		r.SetInt64(1)
	}
	rPoint := babyjub.NewPoint().Mul(r, babyjub.B8)

	c, err := challenge(a, rPoint, msg)
	if err != nil {
		return nil, common.Wrap(err)
	}
	sig := new(big.Int).Mul(c, s)
	sig.Add(sig, r)
	sig.Mod(sig, babyjub.SubOrder)
	return &babyjub.Signature{R8: rPoint, S: sig}, nil
}

// Sign signs tx with sk and stores the compressed public key and signature
// in the transaction
func Sign(sk *babyjub.PrivateKey, tx Signed) error {
	msg, err := tx.Bytes()
	if err != nil {
		return common.Wrap(err)
	}
	sig, err := SignMessage(sk, msg)
	if err != nil {
		return common.Wrap(err)
	}
	txSig := tx.GetSignature()
	txSig.PubKey = sk.Public().Compress()
	txSig.Signature = sig.Compress()
	return nil
}
