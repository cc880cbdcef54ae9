package batchbuilder

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/crypto"
)

// Chunk markers
const (
	// MarkerOpStart marks a chunk that begins the pubdata of an op
	MarkerOpStart byte = 1
	// MarkerOpCont marks a chunk in the middle of the pubdata of an op
	MarkerOpCont byte = 0
)

// PadPubData concatenates the pubdata of the ops, pads it with Noops up to
// capacity chunks and returns it together with the chunk marker array: one
// byte per chunk, MarkerOpStart when the chunk begins an op.
func PadPubData(ops []common.ExecutedOp, capacity int) (pubData, markers []byte, err error) {
	pubData = make([]byte, 0, capacity*common.ChunkBytes)
	markers = make([]byte, 0, capacity)
	for _, op := range ops {
		if len(op.PubData) != op.OpType.PubDataLen() {
			return nil, nil, common.Wrap(fmt.Errorf("%s pubdata len %d, expected %d",
				op.OpType, len(op.PubData), op.OpType.PubDataLen()))
		}
		pubData = append(pubData, op.PubData...)
		markers = append(markers, MarkerOpStart)
		for i := 1; i < op.OpType.Chunks(); i++ {
			markers = append(markers, MarkerOpCont)
		}
	}
	if len(markers) > capacity {
		return nil, nil, common.Wrap(fmt.Errorf("ops use %d chunks, capacity %d", len(markers), capacity))
	}
	noop, err := (&common.NoopOp{}).PubData()
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	for len(markers) < capacity {
		pubData = append(pubData, noop...)
		markers = append(markers, MarkerOpStart)
	}
	return pubData, markers, nil
}

// ChunkMarkers recomputes the chunk marker array of a padded pubdata
func ChunkMarkers(pubData []byte) ([]byte, error) {
	parts, err := common.SplitPubData(pubData)
	if err != nil {
		return nil, common.Wrap(err)
	}
	markers := make([]byte, 0, len(pubData)/common.ChunkBytes)
	for _, part := range parts {
		markers = append(markers, MarkerOpStart)
		for i := common.ChunkBytes; i < len(part); i += common.ChunkBytes {
			markers = append(markers, MarkerOpCont)
		}
	}
	return markers, nil
}

// RollingHash chains the pubdata chunks: h0 is zero and
// h(i) = BytesHash(h(i-1) ‖ chunk(i))
func RollingHash(pubData []byte) (ethCommon.Hash, error) {
	if len(pubData)%common.ChunkBytes != 0 {
		return ethCommon.Hash{}, common.Wrap(fmt.Errorf("pubdata len %d is not a multiple of %d",
			len(pubData), common.ChunkBytes))
	}
	var h [32]byte
	for pos := 0; pos < len(pubData); pos += common.ChunkBytes {
		h = crypto.BytesHash(h[:], pubData[pos:pos+common.ChunkBytes])
	}
	return h, nil
}

func word(x *big.Int) []byte {
	var b [32]byte
	if x != nil {
		x.FillBytes(b[:])
	}
	return b[:]
}

func uint64Word(x uint64) []byte {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], x)
	return b[:]
}

// Commitment binds the root transition of the batch to its public inputs:
//
//	h = BytesHash(oldRoot ‖ newRoot)
//	h = BytesHash(h ‖ batchNum)
//	h = BytesHash(h ‖ forgerAddr)
//	h = BytesHash(h ‖ rollingHash)
//	h = BytesHash(h ‖ timestamp)
//	h = BytesHash(h ‖ chunkMarkers)
//
// every integer as a 32 bytes big endian word
func Commitment(batch *common.Batch) ethCommon.Hash {
	h := crypto.BytesHash(word(batch.OldStateRoot), word(batch.StateRoot))
	h = crypto.BytesHash(h[:], uint64Word(uint64(batch.BatchNum)))
	h = crypto.BytesHash(h[:], ethCommon.LeftPadBytes(batch.ForgerAddr.Bytes(), 32))
	h = crypto.BytesHash(h[:], batch.RollingHash.Bytes())
	h = crypto.BytesHash(h[:], uint64Word(batch.Timestamp))
	h = crypto.BytesHash(h[:], batch.ChunkMarkers)
	return h
}

// VerifyCommitment recomputes the rolling hash, the chunk markers and the
// commitment of a batch from its pubdata and compares them with the
// declared ones
func VerifyCommitment(batch *common.Batch) error {
	markers, err := ChunkMarkers(batch.PubData)
	if err != nil {
		return common.Wrap(err)
	}
	if string(markers) != string(batch.ChunkMarkers) {
		return common.Wrap(fmt.Errorf("batch %d: chunk markers mismatch", batch.BatchNum))
	}
	rh, err := RollingHash(batch.PubData)
	if err != nil {
		return common.Wrap(err)
	}
	if rh != batch.RollingHash {
		return common.Wrap(fmt.Errorf("batch %d: rolling hash mismatch", batch.BatchNum))
	}
	if c := Commitment(batch); c != batch.Commitment {
		return common.Wrap(fmt.Errorf("batch %d: commitment %s, expected %s",
			batch.BatchNum, batch.Commitment.Hex(), c.Hex()))
	}
	return nil
}
