package statedb

import (
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree/db"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/log"
)

// getAccountIDByAddress returns the AccountID bound to addr.  Returns
// ErrAccountNotFound when the address is not bound to any account.
func getAccountIDByAddress(sto db.Storage, addr ethCommon.Address) (common.AccountID, error) {
	b, err := sto.Get(prefixedKey(PrefixKeyAddr, addr.Bytes()))
	if common.Unwrap(err) == db.ErrNotFound {
		return 0, common.Wrap(ErrAccountNotFound)
	} else if err != nil {
		return 0, common.Wrap(fmt.Errorf("getAccountIDByAddress: %s: addr: %s", err, addr.Hex()))
	}
	id, err := common.AccountIDFromBytes(b)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("getAccountIDByAddress: %s: addr: %s", err, addr.Hex()))
	}
	return id, nil
}

func (s *StateDB) getAccountIDByAddress(addr ethCommon.Address) (common.AccountID, error) {
	return getAccountIDByAddress(s.db.DB(), addr)
}

// GetAccountIDByAddress returns the AccountID bound to the Ethereum address.
// Will return ErrAccountNotFound in case that the address is not bound.
func (s *StateDB) GetAccountIDByAddress(addr ethCommon.Address) (common.AccountID, error) {
	return s.getAccountIDByAddress(addr)
}

// GetAccountByAddress returns the account bound to the Ethereum address
func (s *StateDB) GetAccountByAddress(addr ethCommon.Address) (*common.Account, error) {
	id, err := s.getAccountIDByAddress(addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return s.GetAccount(id)
}

// setAccountIDByAddress stores key: address, value: id.  An address is bound
// to a single account for its whole life.
func (s *StateDB) setAccountIDByAddress(id common.AccountID, addr ethCommon.Address) error {
	oldID, err := s.getAccountIDByAddress(addr)
	if err == nil {
		if oldID == id {
			return nil
		}
		log.Warnw("StateDB.setAccountIDByAddress: address already bound",
			"addr", addr.Hex(), "account", oldID, "newAccount", id)
		return common.Wrap(fmt.Errorf("%w: %s", ErrAddressAlreadyBound, addr.Hex()))
	} else if common.Unwrap(err) != ErrAccountNotFound {
		return common.Wrap(err)
	}

	tx, err := s.db.DB().NewTx()
	if err != nil {
		return common.Wrap(err)
	}
	if err := tx.Put(prefixedKey(PrefixKeyAddr, addr.Bytes()), id.Bytes()); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(tx.Commit())
}

func getNFT(sto db.Storage, token common.TokenID) (*common.NFT, error) {
	b, err := sto.Get(prefixedKey(PrefixKeyNFT, token.Bytes()))
	if common.Unwrap(err) == db.ErrNotFound {
		return nil, common.Wrap(fmt.Errorf("nft %d: %w", token, db.ErrNotFound))
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	return common.NFTFromBytes(b)
}

// GetNFT returns the metadata of a minted NFT
func (s *StateDB) GetNFT(token common.TokenID) (*common.NFT, error) {
	return getNFT(s.db.DB(), token)
}

// SetNFT stores the metadata of a minted NFT.  The metadata of a token id is
// written once.
func (s *StateDB) SetNFT(nft *common.NFT) error {
	if !nft.ID.IsNFT() {
		return common.Wrap(fmt.Errorf("token %d is not in the NFT range", nft.ID))
	}
	k := prefixedKey(PrefixKeyNFT, nft.ID.Bytes())
	if _, err := s.db.DB().Get(k); err == nil {
		return common.Wrap(fmt.Errorf("nft %d already exists", nft.ID))
	} else if common.Unwrap(err) != db.ErrNotFound {
		return common.Wrap(err)
	}
	tx, err := s.db.DB().NewTx()
	if err != nil {
		return common.Wrap(err)
	}
	if err := tx.Put(k, nft.Bytes()); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(tx.Commit())
}
