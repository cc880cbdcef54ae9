package txprocessor

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
	"tokamak-zkrollup/database/statedb"
)

// createMintNFT resolves the recipient, which must be an allocated account
func (tp *TxProcessor) createMintNFT(tx *common.MintNFT) (common.Op, error) {
	if err := checkRecipientAddress(common.OpTypeMintNFT, tx.Recipient); err != nil {
		return nil, err
	}
	recipient, ok, err := tp.accountIDByAddress(tx.Recipient)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !ok {
		return nil, reject(common.OpTypeMintNFT, ErrAccountNotFound, "recipient %s", tx.Recipient.Hex())
	}
	return &common.MintNFTOp{Tx: *tx, CreatorAccountID: tx.CreatorID, RecipientAccountID: recipient}, nil
}

func (tp *TxProcessor) checkMintNFT(op *common.MintNFTOp) error {
	opType := op.Type()
	tx := &op.Tx
	if err := checkFungible(opType, tx.FeeToken); err != nil {
		return err
	}
	if err := checkPackedFee(opType, tx.Fee); err != nil {
		return err
	}
	creator, err := tp.getOwnedAccount(opType, op.CreatorAccountID, tx.CreatorAddress)
	if err != nil {
		return err
	}
	if err := tp.checkSigner(opType, creator, tx); err != nil {
		return err
	}
	if err := tp.checkNonce(opType, creator, tx.Nonce); err != nil {
		return err
	}
	if _, err := tp.getAccount(opType, op.RecipientAccountID); err != nil {
		return err
	}
	return checkBalance(opType, creator, tx.FeeToken, tx.Fee)
}

// nftContentToStore returns the value kept as balance of the NFT token in
// the NFT storage account: the low 128 bits of
// Sponge(creatorID‖serialID‖contentHash[:16], contentHash[16:])
func nftContentToStore(creator common.AccountID, serialID uint32, contentHash []byte) (*big.Int, error) {
	var serial [4]byte
	binary.BigEndian.PutUint32(serial[:], serialID)
	head := make([]byte, 0, 24)
	head = append(head, creator.Bytes()...)
	head = append(head, serial[:]...)
	head = append(head, contentHash[:16]...)
	h, err := crypto.Sponge(new(big.Int).SetBytes(head), new(big.Int).SetBytes(contentHash[16:]))
	if err != nil {
		return nil, common.Wrap(err)
	}
	var b [32]byte
	h.FillBytes(b[:])
	return new(big.Int).SetBytes(b[16:]), nil
}

// applyMintNFT takes the next serial id of the creator and the next NFT
// token id of the storage account, stores the NFT content in the storage
// account and credits the NFT to the recipient
func (tp *TxProcessor) applyMintNFT(op *common.MintNFTOp) error {
	serial, err := tp.state.GetBalance(op.CreatorAccountID, common.NFTTokenID)
	if err != nil {
		return common.Wrap(err)
	}
	if !serial.IsUint64() || serial.Uint64() >= 1<<32-1 {
		return common.Wrap(fmt.Errorf("%w: creator %d serial id", statedb.ErrTreeCapacity, op.CreatorAccountID))
	}
	next, err := tp.state.GetBalance(common.NFTStorageAccountID, common.NFTTokenID)
	if err != nil {
		return common.Wrap(err)
	}
	if !next.IsUint64() || next.Uint64() > uint64(common.MaxNFTTokenID) {
		return common.Wrap(fmt.Errorf("%w: nft token id %s", statedb.ErrTreeCapacity, next))
	}
	token := common.TokenID(next.Uint64())
	creator, err := tp.state.GetAccount(op.CreatorAccountID)
	if err != nil {
		return common.Wrap(err)
	}
	nft := common.NFT{
		ID:             token,
		SerialID:       uint32(serial.Uint64()),
		CreatorID:      op.CreatorAccountID,
		CreatorAddress: creator.Address,
		ContentHash:    op.Tx.ContentHash,
	}
	content, err := nftContentToStore(nft.CreatorID, nft.SerialID, nft.ContentHash.Bytes())
	if err != nil {
		return common.Wrap(err)
	}

	if err := tp.debit(op.CreatorAccountID, op.Tx.FeeToken, op.Tx.Fee); err != nil {
		return common.Wrap(err)
	}
	if err := tp.state.SetBalance(op.CreatorAccountID, common.NFTTokenID,
		serial.Add(serial, big.NewInt(1))); err != nil {
		return common.Wrap(err)
	}
	if err := tp.state.SetBalance(common.NFTStorageAccountID, common.NFTTokenID,
		next.Add(next, big.NewInt(1))); err != nil {
		return common.Wrap(err)
	}
	if err := tp.state.SetBalance(common.NFTStorageAccountID, token, content); err != nil {
		return common.Wrap(err)
	}
	if err := tp.credit(op.RecipientAccountID, token, big.NewInt(1)); err != nil {
		return common.Wrap(err)
	}
	if err := tp.state.SetNFT(&nft); err != nil {
		return common.Wrap(err)
	}
	if err := tp.bumpNonce(op.CreatorAccountID); err != nil {
		return common.Wrap(err)
	}
	tp.mintedNFTs = append(tp.mintedNFTs, nft)
	tp.collectFee(op.Tx.FeeToken, op.Tx.Fee)
	return nil
}

func (tp *TxProcessor) createWithdrawNFT(tx *common.WithdrawNFT) (common.Op, error) {
	nft, err := tp.state.GetNFT(tx.Token)
	if err != nil {
		return nil, reject(common.OpTypeWithdrawNFT, ErrNFTNotFound, "token %d", tx.Token)
	}
	return &common.WithdrawNFTOp{Tx: *tx, NFT: *nft}, nil
}

func (tp *TxProcessor) checkWithdrawNFT(op *common.WithdrawNFTOp) error {
	opType := op.Type()
	tx := &op.Tx
	if !tx.Token.IsNFT() {
		return reject(opType, ErrInvalidToken, "token %d is not an nft", tx.Token)
	}
	if err := checkFungible(opType, tx.FeeToken); err != nil {
		return err
	}
	if err := checkPackedFee(opType, tx.Fee); err != nil {
		return err
	}
	if err := checkRecipientAddress(opType, tx.To); err != nil {
		return err
	}
	acc, err := tp.getOwnedAccount(opType, tx.AccountID, tx.From)
	if err != nil {
		return err
	}
	if err := tp.checkSigner(opType, acc, tx); err != nil {
		return err
	}
	if err := tp.checkNonce(opType, acc, tx.Nonce); err != nil {
		return err
	}
	if err := tp.checkTimeRange(opType, tx.TimeRange); err != nil {
		return err
	}
	if acc.Balance(tx.Token).Cmp(big.NewInt(1)) != 0 {
		return reject(opType, ErrNFTBalance, "account %d, token %d", acc.ID, tx.Token)
	}
	if tp.restore {
		nft, err := tp.state.GetNFT(tx.Token)
		if err != nil {
			return reject(opType, ErrNFTNotFound, "token %d", tx.Token)
		}
		if *nft != op.NFT {
			return reject(opType, ErrNFTNotFound, "token %d metadata mismatch", tx.Token)
		}
	}
	return checkBalance(opType, acc, tx.FeeToken, tx.Fee)
}

func (tp *TxProcessor) applyWithdrawNFT(op *common.WithdrawNFTOp) error {
	if err := tp.state.SetBalance(op.Tx.AccountID, op.Tx.Token, big.NewInt(0)); err != nil {
		return common.Wrap(err)
	}
	if err := tp.debit(op.Tx.AccountID, op.Tx.FeeToken, op.Tx.Fee); err != nil {
		return common.Wrap(err)
	}
	if err := tp.bumpNonce(op.Tx.AccountID); err != nil {
		return common.Wrap(err)
	}
	tp.collectFee(op.Tx.FeeToken, op.Tx.Fee)
	return nil
}
