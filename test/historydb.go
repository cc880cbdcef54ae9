package test

import (
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
)

// WARNING: the generators in this file doesn't necessary follow the protocol
// they are intended to check that the parsers between struct <==> DB are correct

// GenBlocks generates block from, to block numbers. WARNING: This is meant for DB/API testing, and
// may not be fully consistent with the protocol.
func GenBlocks(from, to int64) []common.Block {
	var blocks []common.Block
	for i := from; i < to; i++ {
		blocks = append(blocks, common.Block{
			Num: i,
			//nolint:gomnd
			Timestamp: time.Now().Add(time.Second * 13).UTC().Truncate(time.Microsecond),
			Hash:      ethCommon.BigToHash(big.NewInt(int64(i))),
		})
	}
	return blocks
}

// GenAccounts generates accounts with consecutive ids starting at 0. WARNING:
// This is meant for DB/API testing, and may not be fully consistent with the
// protocol.
func GenAccounts(totalAccounts int) []common.Account {
	accs := []common.Account{}
	for i := 0; i < totalAccounts; i++ {
		var pkh common.PubKeyHash
		pkh[0] = byte(i + 1)
		accs = append(accs, common.Account{
			ID:         common.AccountID(i),
			Nonce:      common.Nonce(i),
			PubKeyHash: pkh,
			Address:    ethCommon.BigToAddress(big.NewInt(int64(0x1000 + i))), //nolint:gomnd
		})
	}
	return accs
}

// GenBatches generates committed batches. WARNING: This is meant for DB/API
// testing, and may not be fully consistent with the protocol.
func GenBatches(nBatches int, blocks []common.Block) []common.Batch {
	batches := []common.Batch{}
	for i := 0; i < nBatches; i++ {
		chunks := 4 //nolint:gomnd
		batch := common.Batch{
			BatchNum:    common.BatchNum(i + 1),
			EthTxHash:   ethCommon.BigToHash(big.NewInt(int64(1000 + i))), //nolint:gomnd
			EthBlockNum: blocks[i%len(blocks)].Num,
			//nolint:gomnd
			ForgerAddr:   ethCommon.BigToAddress(big.NewInt(6886723)),
			FeeAccount:   0,
			OldStateRoot: big.NewInt(int64(i) * 5),   //nolint:gomnd
			StateRoot:    big.NewInt(int64(i+1) * 5), //nolint:gomnd
			Timestamp:    uint64(1600000000 + i),     //nolint:gomnd
			Chunks:       chunks,
			PubData:      make([]byte, chunks*common.ChunkBytes),
			ChunkMarkers: make([]byte, chunks),
			RollingHash:  ethCommon.BigToHash(big.NewInt(int64(i + 1))),
			Commitment:   ethCommon.BigToHash(big.NewInt(int64(i + 7))), //nolint:gomnd
			NumOps:       1,
			NumAccounts:  30, //nolint:gomnd
			GasPrice:     big.NewInt(int64(i + 1)),
			Status:       common.BatchStatusCommitted,
		}
		batches = append(batches, batch)
	}
	return batches
}

// GenDeposits generates deposit priority requests with consecutive serial
// ids starting at firstSerial, all submitted at the given block. WARNING:
// This is meant for DB/API testing, and may not be fully consistent with
// the protocol.
func GenDeposits(firstSerial uint64, n int, block common.Block) []common.PriorityRequest {
	reqs := make([]common.PriorityRequest, 0, n)
	for i := 0; i < n; i++ {
		deposit := &common.Deposit{
			From:   ethCommon.BigToAddress(big.NewInt(int64(0x2000 + i))), //nolint:gomnd
			To:     ethCommon.BigToAddress(big.NewInt(int64(0x3000 + i))), //nolint:gomnd
			Token:  1,
			Amount: big.NewInt(int64(100 * (i + 1))), //nolint:gomnd
		}
		req, err := common.NewDepositRequest(firstSerial+uint64(i), deposit, block.Num,
			block.Num+common.RollupConstPriorityExpirationBlocks)
		if err != nil {
			panic(err)
		}
		req.EthTxHash = ethCommon.BigToHash(big.NewInt(int64(firstSerial) + int64(i)))
		reqs = append(reqs, *req)
	}
	return reqs
}
