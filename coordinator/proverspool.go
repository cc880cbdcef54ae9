package coordinator

import (
	"context"

	"tokamak-zkrollup/common"
	"tokamak-zkrollup/coordinator/prover"
	"tokamak-zkrollup/log"
)

// ProversPool contains the multiple prover clients.  A prover taken from the
// pool computes the proof of a single batch and is added back once the proof
// is retrieved or cancelled.
type ProversPool struct {
	pool chan prover.Client
}

// NewProversPool creates a new pool of provers.
func NewProversPool(maxServerProofs int) *ProversPool {
	return &ProversPool{
		pool: make(chan prover.Client, maxServerProofs),
	}
}

// Add a prover to the pool.  The pool has room for all its provers, so Add
// never blocks.
func (p *ProversPool) Add(serverProof prover.Client) {
	select {
	case p.pool <- serverProof:
	default:
		log.Errorw("ProversPool.Add: pool is full, prover dropped")
	}
}

// Get returns the next available prover
func (p *ProversPool) Get(ctx context.Context) (prover.Client, error) {
	select {
	case <-ctx.Done():
		log.Info("ServerProofPool.Get done")
		return nil, common.Wrap(common.ErrDone)
	case serverProof := <-p.pool:
		return serverProof, nil
	}
}

// Len returns the number of idle provers
func (p *ProversPool) Len() int {
	return len(p.pool)
}
