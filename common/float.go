package common

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// AmountExponentBits is the bit width of the packed amount exponent
	AmountExponentBits = 5
	// AmountMantissaBits is the bit width of the packed amount mantissa
	AmountMantissaBits = 35
	// FeeExponentBits is the bit width of the packed fee exponent
	FeeExponentBits = 5
	// FeeMantissaBits is the bit width of the packed fee mantissa
	FeeMantissaBits = 11
	// PackedAmountBytesLen is the wire length of a packed amount
	PackedAmountBytesLen = 5
	// PackedFeeBytesLen is the wire length of a packed fee
	PackedFeeBytesLen = 2
	// floatRadix is the base of the exponent
	floatRadix = 10
)

var (
	// ErrFloatTooLarge is returned when the value exceeds the maximum
	// magnitude representable by the float format
	ErrFloatTooLarge = errors.New("value exceeds the maximum packable magnitude")
	// ErrNotPackable is returned when a value doesn't round-trip exactly
	// through the float format
	ErrNotPackable = errors.New("value is not exactly packable")

	amountFormat = newFloatFormat(AmountExponentBits, AmountMantissaBits, PackedAmountBytesLen)
	feeFormat    = newFloatFormat(FeeExponentBits, FeeMantissaBits, PackedFeeBytesLen)
)

// floatFormat describes a radix 10 float encoded as mantissa << expBits | exp
type floatFormat struct {
	expBits  uint
	manBits  uint
	bytesLen int
	maxMan   *big.Int
	maxExp   int
	maxValue *big.Int
	pow10    []*big.Int
}

func newFloatFormat(expBits, manBits uint, bytesLen int) *floatFormat {
	f := &floatFormat{
		expBits:  expBits,
		manBits:  manBits,
		bytesLen: bytesLen,
		maxMan:   new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), manBits), big.NewInt(1)),
		maxExp:   1<<expBits - 1,
	}
	f.pow10 = make([]*big.Int, f.maxExp+1)
	for e := range f.pow10 {
		f.pow10[e] = new(big.Int).Exp(big.NewInt(floatRadix), big.NewInt(int64(e)), nil)
	}
	f.maxValue = new(big.Int).Mul(f.maxMan, f.pow10[f.maxExp])
	return f
}

// closest returns the mantissa and exponent of the largest representable
// value <= x.  When the same value has several encodings the one with the
// largest exponent is chosen, so that the encoding of a value is unique.
func (f *floatFormat) closest(x *big.Int) (man *big.Int, exp int, err error) {
	if x.Sign() < 0 {
		return nil, 0, Wrap(ErrNegativeAmount)
	}
	if x.Cmp(f.maxValue) > 0 {
		return nil, 0, Wrap(fmt.Errorf("%w: %s > %s", ErrFloatTooLarge, x, f.maxValue))
	}
	if x.Sign() == 0 {
		return big.NewInt(0), 0, nil
	}
	best := big.NewInt(-1)
	for e := 0; e <= f.maxExp; e++ {
		if f.pow10[e].Cmp(x) > 0 {
			break
		}
		m := new(big.Int).Quo(x, f.pow10[e])
		if m.Cmp(f.maxMan) > 0 {
			m.Set(f.maxMan)
		}
		v := new(big.Int).Mul(m, f.pow10[e])
		if v.Cmp(best) >= 0 {
			best = v
			man = m
			exp = e
		}
	}
	return man, exp, nil
}

func (f *floatFormat) pack(x *big.Int) ([]byte, error) {
	man, exp, err := f.closest(x)
	if err != nil {
		return nil, Wrap(err)
	}
	v := new(big.Int).Lsh(man, f.expBits)
	v.Or(v, big.NewInt(int64(exp)))
	b := make([]byte, f.bytesLen)
	return v.FillBytes(b), nil
}

func (f *floatFormat) unpack(b []byte) (*big.Int, error) {
	if len(b) != f.bytesLen {
		return nil, Wrap(fmt.Errorf("can not unpack float, bytes len %d, expected %d",
			len(b), f.bytesLen))
	}
	v := new(big.Int).SetBytes(b)
	exp := new(big.Int).And(v, big.NewInt(int64(f.maxExp))).Int64()
	man := v.Rsh(v, f.expBits)
	return man.Mul(man, f.pow10[exp]), nil
}

func (f *floatFormat) closestPackable(x *big.Int) (*big.Int, error) {
	man, exp, err := f.closest(x)
	if err != nil {
		return nil, Wrap(err)
	}
	return man.Mul(man, f.pow10[exp]), nil
}

// PackAmount packs an amount into 5 bytes (35 bit mantissa, 5 bit exponent),
// rounding down to the largest representable value
func PackAmount(x *big.Int) ([]byte, error) {
	return amountFormat.pack(x)
}

// UnpackAmount unpacks a 5 byte packed amount
func UnpackAmount(b []byte) (*big.Int, error) {
	return amountFormat.unpack(b)
}

// ClosestPackableAmount returns the largest exactly packable amount <= x
func ClosestPackableAmount(x *big.Int) (*big.Int, error) {
	return amountFormat.closestPackable(x)
}

// IsAmountPackable returns true when x round-trips through PackAmount
func IsAmountPackable(x *big.Int) bool {
	c, err := ClosestPackableAmount(x)
	return err == nil && c.Cmp(x) == 0
}

// PackFee packs a fee into 2 bytes (11 bit mantissa, 5 bit exponent),
// rounding down to the largest representable value
func PackFee(x *big.Int) ([]byte, error) {
	return feeFormat.pack(x)
}

// UnpackFee unpacks a 2 byte packed fee
func UnpackFee(b []byte) (*big.Int, error) {
	return feeFormat.unpack(b)
}

// ClosestPackableFee returns the largest exactly packable fee <= x
func ClosestPackableFee(x *big.Int) (*big.Int, error) {
	return feeFormat.closestPackable(x)
}

// IsFeePackable returns true when x round-trips through PackFee
func IsFeePackable(x *big.Int) bool {
	c, err := ClosestPackableFee(x)
	return err == nil && c.Cmp(x) == 0
}

// packAmountChecked packs an amount that must already be exactly packable
func packAmountChecked(x *big.Int) ([]byte, error) {
	if !IsAmountPackable(x) {
		return nil, Wrap(fmt.Errorf("amount %s: %w", x, ErrNotPackable))
	}
	return PackAmount(x)
}

// packFeeChecked packs a fee that must already be exactly packable
func packFeeChecked(x *big.Int) ([]byte, error) {
	if !IsFeePackable(x) {
		return nil, Wrap(fmt.Errorf("fee %s: %w", x, ErrNotPackable))
	}
	return PackFee(x)
}
