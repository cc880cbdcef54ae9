/*
Package exodus implements the exodus mode of the rollup.

Exodus mode is entered when a priority request expires without being
included in a batch.  From then on no batch can be committed, and the owner
of each (account, token) balance of the last verified state can withdraw it
once by presenting merkle proofs of the balance against the last verified
state root.
*/
package exodus

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/database/kvdb"
	"tokamak-zkrollup/database/statedb"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/metric"
)

var (
	// ErrNotActive is returned when an exit is requested before exodus
	// mode is active
	ErrNotActive = fmt.Errorf("exodus mode is not active")
	// ErrAlreadyExited is returned when the (account, token) pair has
	// already been exited
	ErrAlreadyExited = fmt.Errorf("balance already exited")
	// ErrNothingToExit is returned for a zero balance
	ErrNothingToExit = fmt.Errorf("nothing to exit")
	// ErrInvalidProof is returned when the merkle proofs don't match the
	// verified state root
	ErrInvalidProof = fmt.Errorf("invalid exit proof")
)

// Store persists the performed exits
type Store interface {
	AddExodusExit(exit *common.ExodusExit) error
	GetExodusExits() ([]common.ExodusExit, error)
}

// ExitProof is the data required to withdraw a balance in exodus mode
type ExitProof struct {
	// BatchNum and StateRoot identify the verified state the proof is
	// built against
	BatchNum   common.BatchNum   `json:"batchNum"`
	StateRoot  *big.Int          `json:"stateRoot"`
	AccountID  common.AccountID  `json:"accountId"`
	TokenID    common.TokenID    `json:"tokenId"`
	Owner      ethCommon.Address `json:"owner"`
	Nonce      common.Nonce      `json:"nonce"`
	PubKeyHash common.PubKeyHash `json:"pubKeyHash"`
	Amount     *big.Int          `json:"amount"`
	// BalanceRoot is the root of the balance tree of the account
	BalanceRoot  *big.Int          `json:"balanceRoot"`
	AccountProof *merkletree.Proof `json:"accountProof"`
	BalanceProof *merkletree.Proof `json:"balanceProof"`
	// NFT is the metadata of the token when it is an NFT
	NFT *common.NFT `json:"nft,omitempty"`
}

// Verify checks the balance leaf against the balance root and the account
// leaf against the state root
func (p *ExitProof) Verify() error {
	if p.StateRoot == nil || p.BalanceRoot == nil || p.Amount == nil ||
		p.AccountProof == nil || p.BalanceProof == nil {
		return common.Wrap(fmt.Errorf("%w: incomplete proof", ErrInvalidProof))
	}
	if !p.BalanceProof.Existence || !merkletree.VerifyProof(merkletree.NewHashFromBigInt(p.BalanceRoot),
		p.BalanceProof, p.TokenID.BigInt(), p.Amount) {
		return common.Wrap(fmt.Errorf("%w: balance of token %d in account %d",
			ErrInvalidProof, p.TokenID, p.AccountID))
	}
	leaf, err := statedb.AccountLeafHash(&common.Account{
		ID:         p.AccountID,
		Nonce:      p.Nonce,
		PubKeyHash: p.PubKeyHash,
		Address:    p.Owner,
	}, p.BalanceRoot)
	if err != nil {
		return common.Wrap(err)
	}
	if !p.AccountProof.Existence || !merkletree.VerifyProof(merkletree.NewHashFromBigInt(p.StateRoot),
		p.AccountProof, p.AccountID.BigInt(), leaf) {
		return common.Wrap(fmt.Errorf("%w: account %d", ErrInvalidProof, p.AccountID))
	}
	return nil
}

// Siblings returns the siblings of the account and the balance proofs as
// the rollup contract takes them
func (p *ExitProof) Siblings() (accountSiblings, balanceSiblings []*big.Int) {
	for _, sibling := range merkletree.SiblingsFromProof(p.AccountProof) {
		accountSiblings = append(accountSiblings, sibling.BigInt())
	}
	for _, sibling := range merkletree.SiblingsFromProof(p.BalanceProof) {
		balanceSiblings = append(balanceSiblings, sibling.BigInt())
	}
	return accountSiblings, balanceSiblings
}

type exitKey struct {
	account common.AccountID
	token   common.TokenID
}

// Controller keeps the exodus mode state: whether it is active, the last
// verified state and the set of exited balances.  It's safe for concurrent
// use.
type Controller struct {
	mu              sync.Mutex
	active          bool
	activationBlock int64
	lastVerified    common.BatchNum
	stateRoot       *big.Int
	// localStateDB holds the state of the last verified batch
	localStateDB *statedb.LocalStateDB
	exited       map[exitKey]common.ExodusExit
	store        Store
}

// NewController creates a Controller that builds its exit proofs over a copy
// of the synchronizer state stored at dbpath.  The exits already in store are
// loaded.  store may be nil.
func NewController(dbpath string, synchronizerStateDB *statedb.StateDB, store Store) (*Controller, error) {
	localStateDB, err := statedb.NewLocalStateDB(
		statedb.Config{
			Path:    dbpath,
			Keep:    kvdb.DefaultKeep,
			Type:    statedb.TypeBatchBuilder,
			NLevels: statedb.MaxNLevels,
		},
		synchronizerStateDB)
	if err != nil {
		return nil, common.Wrap(err)
	}
	c := &Controller{
		localStateDB: localStateDB,
		exited:       make(map[exitKey]common.ExodusExit),
		store:        store,
	}
	if store != nil {
		exits, err := store.GetExodusExits()
		if err != nil {
			localStateDB.Close()
			return nil, common.Wrap(err)
		}
		for _, exit := range exits {
			c.exited[exitKey{exit.AccountID, exit.TokenID}] = exit
		}
	}
	return c, nil
}

// Activate enters exodus mode at the L1 block ethBlockNum.  The exits are
// built over the state of lastVerified, the last batch verified on L1.
// Activating an active Controller does nothing.
func (c *Controller) Activate(ethBlockNum int64, lastVerified common.BatchNum) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	if err := c.localStateDB.Reset(lastVerified, true); err != nil {
		return common.Wrap(err)
	}
	root, err := c.localStateDB.Root()
	if err != nil {
		return common.Wrap(err)
	}
	c.active = true
	c.activationBlock = ethBlockNum
	c.lastVerified = lastVerified
	c.stateRoot = root.BigInt()
	metric.ExodusMode.Set(1)
	log.Warnw("Exodus mode activated", "ethBlockNum", ethBlockNum,
		"lastVerifiedBatch", lastVerified, "stateRoot", c.stateRoot)
	return nil
}

// IsActive returns true once exodus mode has been activated
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// CheckCommit returns common.ErrExodusMode if exodus mode is active
func (c *Controller) CheckCommit() error {
	if c.IsActive() {
		return common.Wrap(common.ErrExodusMode)
	}
	return nil
}

// Status of the exodus mode
type Status struct {
	Active          bool            `json:"active"`
	ActivationBlock int64           `json:"activationBlock"`
	LastVerified    common.BatchNum `json:"lastVerifiedBatch"`
	StateRoot       *big.Int        `json:"stateRoot"`
	NumExits        int             `json:"numExits"`
}

// Status returns the current exodus mode status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Active:          c.active,
		ActivationBlock: c.activationBlock,
		LastVerified:    c.lastVerified,
		StateRoot:       c.stateRoot,
		NumExits:        len(c.exited),
	}
}

// ExitProof builds the exit proof of the balance of token in the account
// over the last verified state
func (c *Controller) ExitProof(accountID common.AccountID, token common.TokenID) (*ExitProof, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, common.Wrap(ErrNotActive)
	}
	acc, err := c.localStateDB.GetAccount(accountID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	balanceRoot, err := c.localStateDB.BalanceRoot(accountID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	accProof, balProof, err := c.localStateDB.MTGenerateExitProofs(accountID, token)
	if err != nil {
		return nil, common.Wrap(err)
	}
	p := &ExitProof{
		BatchNum:     c.lastVerified,
		StateRoot:    c.stateRoot,
		AccountID:    accountID,
		TokenID:      token,
		Owner:        acc.Address,
		Nonce:        acc.Nonce,
		PubKeyHash:   acc.PubKeyHash,
		Amount:       acc.Balance(token),
		BalanceRoot:  balanceRoot,
		AccountProof: accProof,
		BalanceProof: balProof,
	}
	if token.IsNFT() {
		if p.NFT, err = c.localStateDB.GetNFT(token); err != nil {
			return nil, common.Wrap(err)
		}
	}
	return p, nil
}

// PerformExit verifies the proof against the last verified state and marks
// the (account, token) pair as exited.  Each pair can exit only once.
func (c *Controller) PerformExit(ethBlockNum int64, p *ExitProof) (*common.ExodusExit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, common.Wrap(ErrNotActive)
	}
	if p.AccountID == common.NFTStorageAccountID {
		return nil, common.Wrap(fmt.Errorf("the NFT storage account can't exit"))
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, common.Wrap(ErrNothingToExit)
	}
	if p.StateRoot == nil || p.StateRoot.Cmp(c.stateRoot) != 0 {
		return nil, common.Wrap(fmt.Errorf("%w: state root %v, verified %v",
			ErrInvalidProof, p.StateRoot, c.stateRoot))
	}
	key := exitKey{p.AccountID, p.TokenID}
	if _, ok := c.exited[key]; ok {
		return nil, common.Wrap(fmt.Errorf("%w: account %d token %d",
			ErrAlreadyExited, p.AccountID, p.TokenID))
	}
	if err := p.Verify(); err != nil {
		return nil, common.Wrap(err)
	}
	exit := common.ExodusExit{
		AccountID:   p.AccountID,
		TokenID:     p.TokenID,
		Owner:       p.Owner,
		Amount:      new(big.Int).Set(p.Amount),
		EthBlockNum: ethBlockNum,
	}
	if c.store != nil {
		if err := c.store.AddExodusExit(&exit); err != nil {
			return nil, common.Wrap(err)
		}
	}
	c.exited[key] = exit
	metric.ExodusExits.Inc()
	log.Infow("Exodus exit performed", "account", p.AccountID, "token", p.TokenID,
		"owner", p.Owner, "amount", p.Amount)
	return &exit, nil
}

// MarkExited records an exit performed on L1.  The exit is expected to be
// stored already.
func (c *Controller) MarkExited(exit common.ExodusExit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited[exitKey{exit.AccountID, exit.TokenID}] = exit
}

// IsExited returns true if the balance of token in the account has been
// exited
func (c *Controller) IsExited(accountID common.AccountID, token common.TokenID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.exited[exitKey{accountID, token}]
	return ok
}

// Exits returns the performed exits
func (c *Controller) Exits() []common.ExodusExit {
	c.mu.Lock()
	defer c.mu.Unlock()
	exits := make([]common.ExodusExit, 0, len(c.exited))
	for _, exit := range c.exited {
		exits = append(exits, exit)
	}
	sort.Slice(exits, func(i, j int) bool {
		if exits[i].AccountID != exits[j].AccountID {
			return exits[i].AccountID < exits[j].AccountID
		}
		return exits[i].TokenID < exits[j].TokenID
	})
	return exits
}

// Close closes the state copy of the Controller
func (c *Controller) Close() {
	c.localStateDB.Close()
}
