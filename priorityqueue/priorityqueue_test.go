package priorityqueue

import (
	"errors"
	"math/big"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/log"
)

func init() {
	log.Init("debug", []string{"stdout"})
}

func newRequests(t *testing.T, first uint64, n int, expiration int64) []common.PriorityRequest {
	reqs := make([]common.PriorityRequest, n)
	for i := range reqs {
		addr := ethCommon.BigToAddress(big.NewInt(int64(100 + i)))
		req, err := common.NewDepositRequest(first+uint64(i), &common.Deposit{
			From: addr, To: addr, Token: 0, Amount: big.NewInt(10),
		}, 1, expiration)
		require.NoError(t, err)
		reqs[i] = *req
	}
	return reqs
}

func serials(reqs []common.PriorityRequest) []uint64 {
	s := make([]uint64, len(reqs))
	for i := range reqs {
		s[i] = reqs[i].SerialID
	}
	return s
}

func TestAddSerialOrder(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, StateIdle, q.State())

	require.NoError(t, q.Add(newRequests(t, 0, 3, 100)...))
	assert.Equal(t, StatePending, q.State())
	assert.Equal(t, uint64(3), q.NextSerialID())

	err := q.Add(newRequests(t, 4, 1, 100)...)
	require.Error(t, err)
	assert.True(t, errors.Is(common.Unwrap(err), ErrSerialGap))
	// a failed add leaves the queue untouched
	assert.Equal(t, uint64(3), q.NextSerialID())
	assert.Equal(t, []uint64{0, 1, 2}, serials(q.Pending()))

	require.NoError(t, q.Add(newRequests(t, 3, 1, 100)...))
	assert.Equal(t, []uint64{0, 1, 2, 3}, serials(q.Pending()))

	wrongType := newRequests(t, 4, 1, 100)
	wrongType[0].OpType = common.OpTypeTransfer
	assert.Error(t, q.Add(wrongType...))
}

func TestPeek(t *testing.T) {
	q := NewQueue(5)
	require.NoError(t, q.Add(newRequests(t, 5, 4, 100)...))
	head, err := q.Peek(2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6}, serials(head))
	all, err := q.Peek(-1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6, 7, 8}, serials(all))
	all, err = q.Peek(10)
	require.NoError(t, err)
	assert.Equal(t, 4, len(all))
}

func TestIncludeFinalize(t *testing.T) {
	q := NewQueue(0)
	require.NoError(t, q.Add(newRequests(t, 0, 5, 100)...))

	// only the head can be included
	err := q.MarkIncluded(1, []uint64{1, 2})
	require.Error(t, err)
	assert.True(t, errors.Is(common.Unwrap(err), ErrNotHead))

	require.NoError(t, q.MarkIncluded(1, []uint64{0, 1}))
	require.NoError(t, q.MarkIncluded(2, []uint64{2}))
	assert.Error(t, q.MarkIncluded(2, []uint64{3}))
	assert.Equal(t, []uint64{3, 4}, serials(q.Pending()))
	included := q.Included(1)
	require.Equal(t, 2, len(included))
	require.NotNil(t, included[0].BatchNum)
	assert.Equal(t, common.BatchNum(1), *included[0].BatchNum)

	finalized := q.Finalize(1)
	assert.Equal(t, []uint64{0, 1}, serials(finalized))
	assert.Equal(t, 0, len(q.Included(1)))
	assert.Equal(t, StatePending, q.State())

	require.NoError(t, q.MarkIncluded(3, []uint64{3, 4}))
	finalized = q.Finalize(3)
	assert.Equal(t, []uint64{2, 3, 4}, serials(finalized))
	assert.Equal(t, StateIdle, q.State())
}

func TestRevert(t *testing.T) {
	q := NewQueue(0)
	require.NoError(t, q.Add(newRequests(t, 0, 6, 100)...))
	require.NoError(t, q.MarkIncluded(1, []uint64{0}))
	require.NoError(t, q.MarkIncluded(2, []uint64{1, 2}))
	require.NoError(t, q.MarkIncluded(3, []uint64{3}))
	assert.Equal(t, []uint64{4, 5}, serials(q.Pending()))

	n := q.Revert(1)
	assert.Equal(t, 3, n)
	pending := q.Pending()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, serials(pending))
	for _, req := range pending {
		assert.Nil(t, req.BatchNum)
	}
	assert.Equal(t, 1, len(q.Included(1)))

	// the requeued requests can be included again
	require.NoError(t, q.MarkIncluded(2, []uint64{1, 2, 3}))
	assert.Equal(t, 0, q.Revert(2))
}

func TestExodusIsTerminal(t *testing.T) {
	q := NewQueue(0)
	require.NoError(t, q.CheckExpiration(1000))

	require.NoError(t, q.Add(newRequests(t, 0, 2, 100)...))
	require.NoError(t, q.CheckExpiration(99))
	require.NoError(t, q.MarkIncluded(1, []uint64{0}))
	reqs := newRequests(t, 2, 1, 300)
	require.NoError(t, q.Add(reqs...))

	err := q.CheckExpiration(100)
	require.Error(t, err)
	assert.Equal(t, common.ErrExodusMode, common.Unwrap(err))
	assert.Equal(t, StateExodus, q.State())
	block, ok := q.ExodusBlock()
	assert.True(t, ok)
	assert.Equal(t, int64(100), block)

	// every further transition fails
	assert.Equal(t, common.ErrExodusMode, common.Unwrap(q.Add(newRequests(t, 3, 1, 500)...)))
	assert.Equal(t, common.ErrExodusMode, common.Unwrap(q.MarkIncluded(2, []uint64{1})))
	_, err = q.Peek(1)
	assert.Equal(t, common.ErrExodusMode, common.Unwrap(err))
	assert.Equal(t, common.ErrExodusMode, common.Unwrap(q.CheckExpiration(0)))
	q.Revert(0)
	assert.Equal(t, StateExodus, q.State())
}

func TestCheckExpiration(t *testing.T) {
	tests := []struct {
		name     string
		included []uint64
		finalize common.BatchNum
		block    int64
		expected State
	}{
		{name: "pending head not expired", block: 99, expected: StatePending},
		{name: "pending head expired", block: 100, expected: StateExodus},
		{name: "included not verified, not expired", included: []uint64{0, 1}, block: 99,
			expected: StatePending},
		{name: "included not verified, expired", included: []uint64{0, 1}, block: 500,
			expected: StateExodus},
		{name: "included and verified", included: []uint64{0, 1}, finalize: 1, block: 500,
			expected: StateIdle},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := NewQueue(0)
			require.NoError(t, q.Add(newRequests(t, 0, 2, 100)...))
			if tc.included != nil {
				require.NoError(t, q.MarkIncluded(1, tc.included))
			}
			if tc.finalize > 0 {
				q.Finalize(tc.finalize)
			}
			err := q.CheckExpiration(tc.block)
			if tc.expected == StateExodus {
				assert.Equal(t, common.ErrExodusMode, common.Unwrap(err))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expected, q.State())
		})
	}

	// the oldest outstanding request drives the expiration, not the head
	// of the pending list
	q := NewQueue(0)
	require.NoError(t, q.Add(newRequests(t, 0, 1, 100)...))
	require.NoError(t, q.MarkIncluded(1, []uint64{0}))
	require.NoError(t, q.Add(newRequests(t, 1, 1, 300)...))
	require.Error(t, q.CheckExpiration(200))
	assert.Equal(t, StateExodus, q.State())
}

func TestSetExodus(t *testing.T) {
	q := NewQueue(0)
	q.SetExodus(42)
	q.SetExodus(50)
	block, ok := q.ExodusBlock()
	assert.True(t, ok)
	assert.Equal(t, int64(42), block)
	assert.Equal(t, "exodus", q.State().String())
}

func TestReset(t *testing.T) {
	reqs := newRequests(t, 0, 5, 100)
	verified, unverified := common.BatchNum(1), common.BatchNum(2)
	reqs[0].BatchNum = &verified
	reqs[1].BatchNum = &unverified
	reqs[2].BatchNum = &unverified

	q := NewQueue(0)
	// stored requests come in any order
	q.Reset(5, []common.PriorityRequest{reqs[4], reqs[2], reqs[0], reqs[3], reqs[1]}, verified)
	assert.Equal(t, uint64(5), q.NextSerialID())
	assert.Equal(t, []uint64{3, 4}, serials(q.Pending()))
	assert.Equal(t, []uint64{1, 2}, serials(q.Included(unverified)))
	assert.Empty(t, q.Included(verified))

	// the included requests can still be reverted to the head
	assert.Equal(t, 2, q.Revert(verified))
	assert.Equal(t, []uint64{1, 2, 3, 4}, serials(q.Pending()))
}
