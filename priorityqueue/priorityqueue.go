/*
Package priorityqueue keeps the L1 originated priority requests (deposits and
full exits) from the moment they are observed on L1 until the batch that
includes them is verified.

A request goes through three places:
  - pending: observed on L1, not yet included in a batch
  - included: included in a forged batch that is not verified yet
  - finalized: the including batch has been verified, the request is dropped

Requests must be included in serial order.  When a batch is reverted its
requests go back to the head of the pending list in their original order.

If the oldest request that is not finalized reaches its expiration block,
the queue enters exodus mode, whether the request is still pending or
included in a batch that is not verified yet.  Exodus mode is terminal: every
further state transition returns common.ErrExodusMode.
*/
package priorityqueue

import (
	"fmt"
	"sort"
	"sync"

	"tokamak-zkrollup/common"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/metric"
)

// State of the queue
type State int

const (
	// StateIdle is the state of a queue with no unfinalized requests
	StateIdle State = iota
	// StatePending is the state of a queue with requests waiting for
	// inclusion or for finalization
	StatePending
	// StateExodus is the terminal state reached when a request expires
	StateExodus
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateExodus:
		return "exodus"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ErrSerialGap is returned when a request is added out of order
var ErrSerialGap = fmt.Errorf("priority request serial id gap")

// ErrNotHead is returned when the requests marked as included are not the
// head of the pending list
var ErrNotHead = fmt.Errorf("included priority requests are not the head of the queue")

// Queue is the queue of priority requests.  It's safe for concurrent use.
type Queue struct {
	rw         sync.RWMutex
	nextSerial uint64
	pending    []common.PriorityRequest
	// included requests by the batch that includes them
	included map[common.BatchNum][]common.PriorityRequest
	exodus   bool
	// exodusBlock is the L1 block where the expiration was detected
	exodusBlock int64
}

// NewQueue creates an empty Queue that expects the next request to have the
// serial id nextSerial
func NewQueue(nextSerial uint64) *Queue {
	return &Queue{
		nextSerial: nextSerial,
		included:   make(map[common.BatchNum][]common.PriorityRequest),
	}
}

// State returns the current state of the queue
func (q *Queue) State() State {
	q.rw.RLock()
	defer q.rw.RUnlock()
	return q.state()
}

func (q *Queue) state() State {
	if q.exodus {
		return StateExodus
	}
	if len(q.pending) == 0 && len(q.included) == 0 {
		return StateIdle
	}
	return StatePending
}

// NextSerialID returns the serial id expected for the next added request
func (q *Queue) NextSerialID() uint64 {
	q.rw.RLock()
	defer q.rw.RUnlock()
	return q.nextSerial
}

// Add appends requests observed on L1.  The serial ids must be consecutive
// and continue the ones already added.
func (q *Queue) Add(reqs ...common.PriorityRequest) error {
	q.rw.Lock()
	defer q.rw.Unlock()
	if q.exodus {
		return common.Wrap(common.ErrExodusMode)
	}
	next := q.nextSerial
	for i := range reqs {
		if reqs[i].SerialID != next {
			return common.Wrap(fmt.Errorf("%w: got %d, expected %d", ErrSerialGap, reqs[i].SerialID, next))
		}
		if !reqs[i].OpType.IsPriority() {
			return common.Wrap(fmt.Errorf("request %d has op type %s", reqs[i].SerialID, reqs[i].OpType))
		}
		next++
	}
	for i := range reqs {
		req := reqs[i]
		req.BatchNum = nil
		q.pending = append(q.pending, req)
	}
	q.nextSerial = next
	metric.PendingPriorityRequests.Set(float64(len(q.pending)))
	return nil
}

// Pending returns a copy of the requests not yet included in a batch, in
// serial order
func (q *Queue) Pending() []common.PriorityRequest {
	q.rw.RLock()
	defer q.rw.RUnlock()
	return append([]common.PriorityRequest{}, q.pending...)
}

// Peek returns up to max requests from the head of the pending list.  A
// negative max returns all of them.
func (q *Queue) Peek(max int) ([]common.PriorityRequest, error) {
	q.rw.RLock()
	defer q.rw.RUnlock()
	if q.exodus {
		return nil, common.Wrap(common.ErrExodusMode)
	}
	n := len(q.pending)
	if max >= 0 && max < n {
		n = max
	}
	return append([]common.PriorityRequest{}, q.pending[:n]...), nil
}

// Included returns the requests included in the given batch
func (q *Queue) Included(batchNum common.BatchNum) []common.PriorityRequest {
	q.rw.RLock()
	defer q.rw.RUnlock()
	return append([]common.PriorityRequest{}, q.included[batchNum]...)
}

// MarkIncluded moves the requests with the given serial ids from the pending
// list to the batch batchNum.  The serial ids must be the head of the pending
// list, in order.
func (q *Queue) MarkIncluded(batchNum common.BatchNum, serialIDs []uint64) error {
	q.rw.Lock()
	defer q.rw.Unlock()
	if q.exodus {
		return common.Wrap(common.ErrExodusMode)
	}
	if len(serialIDs) == 0 {
		return nil
	}
	if _, ok := q.included[batchNum]; ok {
		return common.Wrap(fmt.Errorf("batch %d already includes priority requests", batchNum))
	}
	if len(serialIDs) > len(q.pending) {
		return common.Wrap(fmt.Errorf("%w: %d requests included, %d pending",
			ErrNotHead, len(serialIDs), len(q.pending)))
	}
	for i, serial := range serialIDs {
		if q.pending[i].SerialID != serial {
			return common.Wrap(fmt.Errorf("%w: got %d, expected %d",
				ErrNotHead, serial, q.pending[i].SerialID))
		}
	}
	included := make([]common.PriorityRequest, len(serialIDs))
	copy(included, q.pending[:len(serialIDs)])
	for i := range included {
		bn := batchNum
		included[i].BatchNum = &bn
	}
	q.included[batchNum] = included
	q.pending = q.pending[len(serialIDs):]
	metric.PendingPriorityRequests.Set(float64(len(q.pending)))
	log.Debugw("PriorityQueue: requests included", "batch", batchNum,
		"first", serialIDs[0], "count", len(serialIDs))
	return nil
}

// includedBatches returns the batches with included requests sorted in
// ascending order
func (q *Queue) includedBatches() []common.BatchNum {
	batches := make([]common.BatchNum, 0, len(q.included))
	for bn := range q.included {
		batches = append(batches, bn)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i] < batches[j] })
	return batches
}

// Finalize drops the requests included in the batches up to batchNum, which
// have been verified on L1.  It returns the dropped requests.
func (q *Queue) Finalize(batchNum common.BatchNum) []common.PriorityRequest {
	q.rw.Lock()
	defer q.rw.Unlock()
	var finalized []common.PriorityRequest
	for _, bn := range q.includedBatches() {
		if bn > batchNum {
			break
		}
		finalized = append(finalized, q.included[bn]...)
		delete(q.included, bn)
	}
	if len(finalized) > 0 {
		log.Debugw("PriorityQueue: requests finalized", "batch", batchNum, "count", len(finalized))
	}
	return finalized
}

// Revert requeues the requests included in the batches greater than
// batchNum.  The batches are unwound from the last one, so the requeued
// requests keep their serial order at the head of the pending list.  It
// returns the number of requeued requests.
func (q *Queue) Revert(batchNum common.BatchNum) int {
	q.rw.Lock()
	defer q.rw.Unlock()
	batches := q.includedBatches()
	n := 0
	for i := len(batches) - 1; i >= 0; i-- {
		bn := batches[i]
		if bn <= batchNum {
			break
		}
		reqs := q.included[bn]
		requeued := make([]common.PriorityRequest, 0, len(reqs)+len(q.pending))
		for _, req := range reqs {
			req.BatchNum = nil
			requeued = append(requeued, req)
		}
		q.pending = append(requeued, q.pending...)
		delete(q.included, bn)
		n += len(reqs)
		log.Infow("PriorityQueue: requests requeued", "batch", bn, "count", len(reqs))
	}
	metric.PendingPriorityRequests.Set(float64(len(q.pending)))
	return n
}

// oldest returns the outstanding request with the lowest expiration block:
// the head of the lowest unverified batch or the head of the pending list
func (q *Queue) oldest() *common.PriorityRequest {
	var oldest *common.PriorityRequest
	if batches := q.includedBatches(); len(batches) > 0 {
		if reqs := q.included[batches[0]]; len(reqs) > 0 {
			oldest = &reqs[0]
		}
	}
	if len(q.pending) > 0 && (oldest == nil ||
		q.pending[0].ExpirationBlock < oldest.ExpirationBlock) {
		oldest = &q.pending[0]
	}
	return oldest
}

// CheckExpiration enters exodus mode when the oldest request that is not
// finalized, included or not, has reached its expiration block at
// ethBlockNum.  Once in exodus mode it always returns common.ErrExodusMode.
func (q *Queue) CheckExpiration(ethBlockNum int64) error {
	q.rw.Lock()
	defer q.rw.Unlock()
	if q.exodus {
		return common.Wrap(common.ErrExodusMode)
	}
	oldest := q.oldest()
	if oldest == nil || !oldest.IsExpired(ethBlockNum) {
		return nil
	}
	q.exodus = true
	q.exodusBlock = ethBlockNum
	metric.ExodusMode.Set(1)
	log.Errorw("PriorityQueue: priority request expired, entering exodus mode",
		"serialID", oldest.SerialID, "expirationBlock", oldest.ExpirationBlock,
		"included", oldest.BatchNum != nil, "ethBlockNum", ethBlockNum)
	return common.Wrap(common.ErrExodusMode)
}

// ExodusBlock returns the L1 block where exodus mode was entered and whether
// the queue is in exodus mode
func (q *Queue) ExodusBlock() (int64, bool) {
	q.rw.RLock()
	defer q.rw.RUnlock()
	return q.exodusBlock, q.exodus
}

// SetExodus forces exodus mode, used when the contract reports it
func (q *Queue) SetExodus(ethBlockNum int64) {
	q.rw.Lock()
	defer q.rw.Unlock()
	if q.exodus {
		return
	}
	q.exodus = true
	q.exodusBlock = ethBlockNum
	metric.ExodusMode.Set(1)
}

// Reset rebuilds the queue from the stored requests after a restart or a
// reorg.  Requests with no batch are pending, requests included in a batch
// after lastVerified are included, and the rest are finalized.  The exodus
// flag is kept.
func (q *Queue) Reset(nextSerial uint64, reqs []common.PriorityRequest, lastVerified common.BatchNum) {
	q.rw.Lock()
	defer q.rw.Unlock()
	sorted := append([]common.PriorityRequest{}, reqs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SerialID < sorted[j].SerialID })
	q.nextSerial = nextSerial
	q.pending = nil
	q.included = make(map[common.BatchNum][]common.PriorityRequest)
	for _, req := range sorted {
		switch {
		case req.BatchNum == nil:
			q.pending = append(q.pending, req)
		case *req.BatchNum > lastVerified:
			q.included[*req.BatchNum] = append(q.included[*req.BatchNum], req)
		}
	}
	metric.PendingPriorityRequests.Set(float64(len(q.pending)))
	log.Debugw("PriorityQueue: reset", "nextSerial", nextSerial, "pending", len(q.pending),
		"includedBatches", len(q.included))
}
