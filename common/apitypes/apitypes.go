// Package apitypes contains the types used to expose big numbers and fee
// maps through the API and to read them from the SQL views
package apitypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"

	"tokamak-zkrollup/common"
)

// BigIntStr is used to scan/value *big.Int directly into strings from/to sql DBs.
// It assumes that *big.Int are inserted/fetched to/from the DB using the BigIntMeddler meddler
// defined at tokamak-zkrollup/database.  Since *big.Int is
// stored as DECIMAL in SQL, there's no need to implement Scan()/Value()
// because DECIMALS are encoded/decoded as strings by the sql driver, and
// BigIntStr is already a string.
type BigIntStr string

// NewBigIntStr creates a *BigIntStr from a *big.Int.
// If the provided bigInt is nil the returned *BigIntStr will also be nil
func NewBigIntStr(bigInt *big.Int) *BigIntStr {
	if bigInt == nil {
		return nil
	}
	bigIntStr := BigIntStr(bigInt.String())
	return &bigIntStr
}

// BigInt returns the *big.Int represented by the BigIntStr
func (b BigIntStr) BigInt() (*big.Int, error) {
	x, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return nil, common.Wrap(fmt.Errorf("invalid big int %q", string(b)))
	}
	return x, nil
}

// Scan implements Scanner for database/sql
func (b *BigIntStr) Scan(src interface{}) error {
	srcBytes, ok := src.([]byte)
	if !ok {
		return common.Wrap(fmt.Errorf("can't scan %T into apitypes.BigIntStr", src))
	}
	// bytes to *big.Int
	bigInt, ok := new(big.Int).SetString(string(srcBytes), 10)
	if !ok {
		return common.Wrap(fmt.Errorf("can't scan %q into *big.Int", string(srcBytes)))
	}
	// *big.Int to BigIntStr
	bigIntStr := NewBigIntStr(bigInt)
	if bigIntStr == nil {
		return nil
	}
	*b = *bigIntStr
	return nil
}

// Value implements valuer for database/sql
func (b BigIntStr) Value() (driver.Value, error) {
	// string to *big.Int
	bigInt, ok := new(big.Int).SetString(string(b), 10)
	if !ok || bigInt == nil {
		return nil, common.Wrap(fmt.Errorf("invalid representation of a *big.Int"))
	}
	// *big.Int to Value
	return bigInt.String(), nil
}

// CollectedFeesAPI is send common.batch.CollectedFee through the API
type CollectedFeesAPI map[common.TokenID]BigIntStr

// NewCollectedFeesAPI creates a new CollectedFeesAPI from a *big.Int map
func NewCollectedFeesAPI(m map[common.TokenID]*big.Int) CollectedFeesAPI {
	c := CollectedFeesAPI(make(map[common.TokenID]BigIntStr))
	for k, v := range m {
		c[k] = *NewBigIntStr(v)
	}
	return c
}

// UnmarshalJSON unmarshals a json representation of a CollectedFeesAPI
func (c *CollectedFeesAPI) UnmarshalJSON(text []byte) error {
	bigIntMap := make(map[common.TokenID]*big.Int)
	if err := json.Unmarshal(text, &bigIntMap); err != nil {
		return common.Wrap(err)
	}
	*c = CollectedFeesAPI(make(map[common.TokenID]BigIntStr))
	for k, v := range bigIntMap {
		(*c)[k] = *NewBigIntStr(v)
	}
	return nil
}
