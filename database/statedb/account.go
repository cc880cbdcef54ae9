package statedb

import (
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
)

// prefixedKey returns a new slice with prefix followed by parts, so that the
// package level prefixes are never aliased by append
func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// AccountLeafHash returns the value of the account leaf in the accounts tree:
// Sponge(nonce, pubKeyHash, address, balanceRoot)
func AccountLeafHash(acc *common.Account, balanceRoot *big.Int) (*big.Int, error) {
	return crypto.Sponge(
		acc.Nonce.BigInt(),
		acc.PubKeyHash.BigInt(),
		new(big.Int).SetBytes(acc.Address.Bytes()),
		balanceRoot,
	)
}

// balanceTree opens the balance subtree of the account.  Returns nil when
// the StateDB doesn't keep merkle trees.
func (s *StateDB) balanceTree(id common.AccountID) (*merkletree.MerkleTree, error) {
	if s.AccountTree == nil {
		return nil, nil
	}
	sto := s.db.StorageWithPrefix(prefixedKey(PrefixKeyMTBal, id.Bytes()))
	mt, err := merkletree.NewMerkleTree(sto, common.BalanceTreeDepth)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return mt, nil
}

// BalanceRoot returns the root of the balance subtree of the account
func (s *StateDB) BalanceRoot(id common.AccountID) (*big.Int, error) {
	bt, err := s.balanceTree(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if bt == nil {
		return nil, common.Wrap(ErrStateDBWithoutMT)
	}
	return bt.Root().BigInt(), nil
}

// putAccount stores the leaf data of the account and, if the StateDB has
// merkle trees, recomputes the account leaf.  created must be true the first
// time the leaf is written.
func (s *StateDB) putAccount(acc *common.Account, created bool) (
	*merkletree.CircomProcessorProof, error) {
	accBytes := acc.Bytes()
	tx, err := s.db.DB().NewTx()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if err := tx.Put(prefixedKey(PrefixKeyAccount, acc.ID.Bytes()), accBytes[:]); err != nil {
		return nil, common.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, common.Wrap(err)
	}
	s.cache.Add(acc.ID, acc.Copy())

	if s.AccountTree == nil {
		return nil, nil
	}
	balanceRoot, err := s.BalanceRoot(acc.ID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	v, err := AccountLeafHash(acc, balanceRoot)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if created {
		return s.AccountTree.AddAndGetCircomProof(acc.ID.BigInt(), v)
	}
	return s.AccountTree.Update(acc.ID.BigInt(), v)
}

// GetAccountInTreeDB is abstracted from StateDB to be used from StateDB and
// from the Last view.  Returns the account with its non zero balances, or
// the empty account when the id has not been allocated.
func GetAccountInTreeDB(sto db.Storage, id common.AccountID) (*common.Account, error) {
	accBytes, err := sto.Get(prefixedKey(PrefixKeyAccount, id.Bytes()))
	if common.Unwrap(err) == db.ErrNotFound {
		return common.NewAccount(id, ethCommon.Address{}), nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	acc, err := common.AccountFromBytes(accBytes)
	if err != nil {
		return nil, common.Wrap(err)
	}
	acc.ID = id
	err = sto.WithPrefix(prefixedKey(PrefixKeyBalance, id.Bytes())).Iterate(
		func(k, v []byte) (bool, error) {
			token, err := common.TokenIDFromBytes(k)
			if err != nil {
				return false, common.Wrap(err)
			}
			balance := new(big.Int).SetBytes(v)
			// zero balances are stored as empty values
			if balance.Sign() != 0 {
				acc.Balances[token] = balance
			}
			return true, nil
		})
	if err != nil {
		return nil, common.Wrap(err)
	}
	return acc, nil
}

// GetAccount returns a copy of the account for the given AccountID.  An id
// that has not been allocated returns the empty account.
func (s *StateDB) GetAccount(id common.AccountID) (*common.Account, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached.(*common.Account).Copy(), nil
	}
	acc, err := GetAccountInTreeDB(s.db.DB(), id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	exists, err := s.AccountExists(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if exists {
		s.cache.Add(id, acc.Copy())
	}
	return acc, nil
}

// AccountExists returns true if the id has been allocated
func (s *StateDB) AccountExists(id common.AccountID) (bool, error) {
	if s.cache.Contains(id) {
		return true, nil
	}
	_, err := s.db.DB().Get(prefixedKey(PrefixKeyAccount, id.Bytes()))
	if common.Unwrap(err) == db.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, common.Wrap(err)
	}
	return true, nil
}

// NextAccountID returns the lowest account id that has not been allocated
func (s *StateDB) NextAccountID() common.AccountID {
	return s.db.NextAccountID
}

// AllocateLowestFreeID returns the id that the next CreateAccount must use
func (s *StateDB) AllocateLowestFreeID() (common.AccountID, error) {
	id := s.db.NextAccountID
	if id > common.MaxAccountID {
		return 0, common.Wrap(fmt.Errorf("%w: next account id %d", ErrTreeCapacity, id))
	}
	return id, nil
}

// CreateAccount allocates the account id bound to addr, with zero nonce,
// unset pubkey hash and no balances.  Ids are allocated sequentially, so id
// must be the one returned by AllocateLowestFreeID.
func (s *StateDB) CreateAccount(id common.AccountID, addr ethCommon.Address) (
	*merkletree.CircomProcessorProof, error) {
	next, err := s.AllocateLowestFreeID()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if id < next {
		return nil, common.Wrap(ErrAccountAlreadyExists)
	}
	if id != next {
		return nil, common.Wrap(fmt.Errorf("can not create account %d: next free id is %d", id, next))
	}
	bind := addr != (ethCommon.Address{})
	if bind {
		if _, err := s.getAccountIDByAddress(addr); err == nil {
			return nil, common.Wrap(fmt.Errorf("%w: %s", ErrAddressAlreadyBound, addr.Hex()))
		} else if common.Unwrap(err) != ErrAccountNotFound {
			return nil, common.Wrap(err)
		}
	}
	acc := common.NewAccount(id, addr)
	p, err := s.putAccount(acc, true)
	if err != nil {
		return nil, common.Wrap(err)
	}
	// the zero address is bound later with SetAddress
	if bind {
		if err := s.setAccountIDByAddress(id, addr); err != nil {
			return nil, common.Wrap(err)
		}
	}
	if err := s.db.SetNextAccountID(id + 1); err != nil {
		return nil, common.Wrap(err)
	}
	return p, nil
}

// getExistingAccount returns the account or ErrAccountNotFound
func (s *StateDB) getExistingAccount(id common.AccountID) (*common.Account, error) {
	exists, err := s.AccountExists(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !exists {
		return nil, common.Wrap(fmt.Errorf("%w: id %d", ErrAccountNotFound, id))
	}
	return s.GetAccount(id)
}

// GetBalance returns the balance of token in the account.  Never nil.
func (s *StateDB) GetBalance(id common.AccountID, token common.TokenID) (*big.Int, error) {
	acc, err := s.GetAccount(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return acc.Balance(token), nil
}

// SetBalance sets the balance of token in an allocated account, updating the
// balance subtree and the account leaf.  A zero balance removes the leaf of
// the balance subtree.
func (s *StateDB) SetBalance(id common.AccountID, token common.TokenID,
	balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return common.Wrap(common.ErrNegativeAmount)
	}
	if balance.Cmp(common.MaxBalance) > 0 {
		return common.Wrap(fmt.Errorf("%w: balance %s", common.ErrNumOverflow, balance))
	}
	acc, err := s.getExistingAccount(id)
	if err != nil {
		return common.Wrap(err)
	}
	old := acc.Balance(token)
	if old.Cmp(balance) == 0 {
		return nil
	}

	// balance subtree first: a failed tree update leaves the stored balance
	// untouched
	bt, err := s.balanceTree(id)
	if err != nil {
		return common.Wrap(err)
	}
	if bt != nil {
		k := token.BigInt()
		switch {
		case old.Sign() == 0:
			err = bt.Add(k, balance)
		case balance.Sign() == 0:
			err = bt.Delete(k)
		default:
			_, err = bt.Update(k, balance)
		}
		if err != nil {
			return common.Wrap(err)
		}
	}
	if err := s.putBalance(id, token, balance); err != nil {
		return common.Wrap(err)
	}

	if balance.Sign() == 0 {
		delete(acc.Balances, token)
	} else {
		acc.Balances[token] = new(big.Int).Set(balance)
	}
	_, err = s.putAccount(acc, false)
	return common.Wrap(err)
}

// putBalance stores the raw balance, zero balances as empty values
func (s *StateDB) putBalance(id common.AccountID, token common.TokenID, balance *big.Int) error {
	tx, err := s.db.DB().NewTx()
	if err != nil {
		return common.Wrap(err)
	}
	var v []byte
	if balance.Sign() != 0 {
		v = balance.Bytes()
	}
	if err := tx.Put(prefixedKey(PrefixKeyBalance, id.Bytes(), token.Bytes()), v); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(tx.Commit())
}

// SetNonce sets the nonce of an allocated account
func (s *StateDB) SetNonce(id common.AccountID, nonce common.Nonce) error {
	acc, err := s.getExistingAccount(id)
	if err != nil {
		return common.Wrap(err)
	}
	acc.Nonce = nonce
	_, err = s.putAccount(acc, false)
	return common.Wrap(err)
}

// SetPubKeyHash binds a new pubkey hash to an allocated account
func (s *StateDB) SetPubKeyHash(id common.AccountID, pkh common.PubKeyHash) error {
	acc, err := s.getExistingAccount(id)
	if err != nil {
		return common.Wrap(err)
	}
	acc.PubKeyHash = pkh
	_, err = s.putAccount(acc, false)
	return common.Wrap(err)
}

// MTGetAccountProof returns the CircomVerifierProof of the account leaf
func (s *StateDB) MTGetAccountProof(id common.AccountID) (*merkletree.CircomVerifierProof, error) {
	if s.AccountTree == nil {
		return nil, common.Wrap(ErrStateDBWithoutMT)
	}
	p, err := s.AccountTree.GenerateSCVerifierProof(id.BigInt(), s.AccountTree.Root())
	if err != nil {
		return nil, common.Wrap(err)
	}
	return p, nil
}

// MTGetBalanceProof returns the CircomVerifierProof of a balance leaf inside
// the balance subtree of the account
func (s *StateDB) MTGetBalanceProof(id common.AccountID, token common.TokenID) (
	*merkletree.CircomVerifierProof, error) {
	bt, err := s.balanceTree(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if bt == nil {
		return nil, common.Wrap(ErrStateDBWithoutMT)
	}
	p, err := bt.GenerateSCVerifierProof(token.BigInt(), bt.Root())
	if err != nil {
		return nil, common.Wrap(err)
	}
	return p, nil
}

// AccountWitness returns the current values of the account leaf and of its
// token balance leaf, with the merkle siblings of both
func (s *StateDB) AccountWitness(id common.AccountID, token common.TokenID) (
	*common.AccountWitness, error) {
	w := common.NewAccountWitness(id, token)
	acc, err := s.GetAccount(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	w.Nonce = acc.Nonce.BigInt()
	w.PubKeyHash = acc.PubKeyHash.BigInt()
	w.EthAddr = new(big.Int).SetBytes(acc.Address.Bytes())
	w.Balance = acc.Balance(token)

	ap, err := s.MTGetAccountProof(id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	for i := 0; i < len(ap.Siblings) && i < len(w.Siblings); i++ {
		w.Siblings[i] = ap.Siblings[i].BigInt()
	}
	bp, err := s.MTGetBalanceProof(id, token)
	if err != nil {
		return nil, common.Wrap(err)
	}
	for i := 0; i < len(bp.Siblings) && i < len(w.BSiblings); i++ {
		w.BSiblings[i] = bp.Siblings[i].BigInt()
	}
	if w.BalRoot, err = s.BalanceRoot(id); err != nil {
		return nil, common.Wrap(err)
	}
	return w, nil
}

// SetAddress binds addr to an allocated account that has no address yet.
// Rebinding an account to a different address fails.
func (s *StateDB) SetAddress(id common.AccountID, addr ethCommon.Address) error {
	acc, err := s.getExistingAccount(id)
	if err != nil {
		return common.Wrap(err)
	}
	if acc.Address == addr {
		return nil
	}
	if acc.Address != (ethCommon.Address{}) {
		return common.Wrap(fmt.Errorf("%w: account %d", ErrAddressAlreadyBound, id))
	}
	if err := s.setAccountIDByAddress(id, addr); err != nil {
		return common.Wrap(err)
	}
	acc.Address = addr
	_, err = s.putAccount(acc, false)
	return common.Wrap(err)
}

// MTGenerateExitProofs returns the merkle proofs of the account leaf against
// the account tree root and of its token balance leaf against the balance
// root of the account.  Used to build exodus exits.
func (s *StateDB) MTGenerateExitProofs(id common.AccountID, token common.TokenID) (
	accProof, balProof *merkletree.Proof, err error) {
	if s.AccountTree == nil {
		return nil, nil, common.Wrap(ErrStateDBWithoutMT)
	}
	accProof, _, err = s.AccountTree.GenerateProof(id.BigInt(), nil)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	bt, err := s.balanceTree(id)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	balProof, _, err = bt.GenerateProof(token.BigInt(), nil)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	return accProof, balProof, nil
}
