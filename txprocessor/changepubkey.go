package txprocessor

import (
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
)

// FactSource answers whether the owner of an address registered on L1 the
// authorisation to bind pkh to its account at the given nonce
type FactSource interface {
	HasFactAuth(addr ethCommon.Address, nonce common.Nonce, pkh common.PubKeyHash) (bool, error)
}

type factKey struct {
	addr  ethCommon.Address
	nonce common.Nonce
	pkh   common.PubKeyHash
}

// FactAuthSet is an in memory FactSource fed with the FactAuth events read
// from L1
type FactAuthSet struct {
	rw    sync.RWMutex
	facts map[factKey]struct{}
}

// NewFactAuthSet returns an empty FactAuthSet
func NewFactAuthSet() *FactAuthSet {
	return &FactAuthSet{facts: make(map[factKey]struct{})}
}

// Add registers the facts
func (s *FactAuthSet) Add(facts ...common.FactAuth) {
	s.rw.Lock()
	defer s.rw.Unlock()
	for _, f := range facts {
		s.facts[factKey{addr: f.Address, nonce: f.Nonce, pkh: f.PubKeyHash}] = struct{}{}
	}
}

// HasFactAuth implements FactSource
func (s *FactAuthSet) HasFactAuth(addr ethCommon.Address, nonce common.Nonce,
	pkh common.PubKeyHash) (bool, error) {
	s.rw.RLock()
	defer s.rw.RUnlock()
	_, ok := s.facts[factKey{addr: addr, nonce: nonce, pkh: pkh}]
	return ok, nil
}

func (tp *TxProcessor) createChangePubKey(tx *common.ChangePubKey) (common.Op, error) {
	return &common.ChangePubKeyOp{Tx: *tx, AccountID: tx.AccountID}, nil
}

// checkChangePubKey: the tx is signed with the new key, and the owner of the
// account address authorises the binding with one of the ChangePubKeyAuth
// methods
func (tp *TxProcessor) checkChangePubKey(op *common.ChangePubKeyOp) error {
	opType := op.Type()
	tx := &op.Tx
	if err := checkFungible(opType, tx.FeeToken); err != nil {
		return err
	}
	if err := checkPackedFee(opType, tx.Fee); err != nil {
		return err
	}
	if tx.NewPubKeyHash.IsZero() {
		return reject(opType, ErrChangePubKeyAuth, "the new pubkey hash can't be empty")
	}
	acc, err := tp.getOwnedAccount(opType, op.AccountID, tx.Account)
	if err != nil {
		return err
	}
	if err := tp.checkNonce(opType, acc, tx.Nonce); err != nil {
		return err
	}
	if err := tp.checkTimeRange(opType, tx.TimeRange); err != nil {
		return err
	}
	if !tp.restore {
		pkh, err := crypto.RecoverPubKeyHash(tx)
		if err != nil {
			return reject(opType, common.Unwrap(err), "")
		}
		if pkh != tx.NewPubKeyHash {
			return reject(opType, ErrPubKeyHashMismatch, "signer %s, new pubkey hash %s",
				pkh, tx.NewPubKeyHash)
		}
		if err := tp.checkChangePubKeyAuth(acc, tx); err != nil {
			return err
		}
	}
	return checkBalance(opType, acc, tx.FeeToken, tx.Fee)
}

func (tp *TxProcessor) checkChangePubKeyAuth(acc *common.Account, tx *common.ChangePubKey) error {
	opType := common.OpTypeChangePubKey
	switch tx.EthAuth.Type {
	case common.ChangePubKeyAuthECDSA:
		ok, err := tx.EthAuth.VerifyECDSA(acc.Address, tx.NewPubKeyHash, tx.Nonce, acc.ID,
			tp.config.ChainID, tp.config.RollupContractAddr)
		if err != nil {
			return reject(opType, ErrChangePubKeyAuth, "%s", err)
		}
		if !ok {
			return reject(opType, ErrChangePubKeyAuth, "ECDSA signature is not from %s", acc.Address.Hex())
		}
	case common.ChangePubKeyAuthOnchain:
		ok, err := tp.facts.HasFactAuth(acc.Address, tx.Nonce, tx.NewPubKeyHash)
		if err != nil {
			return common.Wrap(err)
		}
		if !ok {
			return reject(opType, ErrChangePubKeyAuth, "no onchain fact for %s nonce %d",
				acc.Address.Hex(), tx.Nonce)
		}
	case common.ChangePubKeyAuthCREATE2:
		if acc.Nonce != 0 {
			return reject(opType, ErrChangePubKeyAuth, "CREATE2 requires nonce 0, account nonce %d", acc.Nonce)
		}
		if !tx.EthAuth.VerifyCREATE2(acc.Address, tx.NewPubKeyHash) {
			return reject(opType, ErrChangePubKeyAuth, "%s is not the CREATE2 address", acc.Address.Hex())
		}
	default:
		return reject(opType, ErrChangePubKeyAuth, "unknown auth type %q", tx.EthAuth.Type)
	}
	return nil
}

func (tp *TxProcessor) applyChangePubKey(op *common.ChangePubKeyOp) error {
	if err := tp.debit(op.AccountID, op.Tx.FeeToken, op.Tx.Fee); err != nil {
		return common.Wrap(err)
	}
	if err := tp.state.SetPubKeyHash(op.AccountID, op.Tx.NewPubKeyHash); err != nil {
		return common.Wrap(err)
	}
	if err := tp.bumpNonce(op.AccountID); err != nil {
		return common.Wrap(err)
	}
	tp.collectFee(op.Tx.FeeToken, op.Tx.Fee)
	return nil
}
