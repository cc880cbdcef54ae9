package test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethKeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mitchellh/copystructure"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/eth"
	"tokamak-zkrollup/log"
)

func init() {
	copystructure.Copiers[reflect.TypeOf(big.Int{})] =
		func(raw interface{}) (interface{}, error) {
			in := raw.(big.Int)
			out := new(big.Int).Set(&in)
			return *out, nil
		}
}

// RollupState is the state of the Rollup Smart Contract simulated by the
// test Client
type RollupState struct {
	LastCommittedBatch int64
	LastVerifiedBatch  int64
	LastExecutedBatch  int64
	// StateRoots is the committed state root of each batch, batch 0 is
	// the genesis
	StateRoots []*big.Int
	// CommittedBlock is the eth block in which each batch was committed
	CommittedBlock []int64
	// PriorityOps is the number of priority requests consumed by each
	// committed batch
	PriorityOps  []int
	NextSerialID uint64
	// PendingPriority are the priority requests not yet consumed by a
	// verified batch, oldest first
	PendingPriority []common.PriorityRequest
	ExodusMode      bool
	// Exited is the set of (account, token) pairs exited in exodus mode
	Exited map[string]bool
}

// RollupBlock stores all the data related to the Rollup SC from an ethereum block
type RollupBlock struct {
	State     RollupState
	Vars      common.RollupVariables
	Events    eth.RollupEvents
	Txs       map[ethCommon.Hash]*types.Transaction
	Constants *common.RollupConstants
	Eth       *EthereumBlock
}

func (r *RollupBlock) addTransaction(tx *types.Transaction) *types.Transaction {
	txHash := tx.Hash()
	r.Txs[txHash] = tx
	return tx
}

var (
	errBatchNum       = fmt.Errorf("unexpected batch number")
	errNotCommitted   = fmt.Errorf("batch not committed")
	errNothingExpired = fmt.Errorf("no expired priority request")
	errNotExodus      = fmt.Errorf("exodus mode is not active")
	errAlreadyExited  = fmt.Errorf("balance already exited")
)

// EthereumBlock stores all the generic data related to the an ethereum block
type EthereumBlock struct {
	BlockNum   int64
	Time       int64
	Hash       ethCommon.Hash
	ParentHash ethCommon.Hash
	Tokens     map[ethCommon.Address]eth.ERC20Consts
	Nonce      uint64
}

// Block represents a ethereum block
type Block struct {
	Rollup *RollupBlock
	Eth    *EthereumBlock
}

func (b *Block) copy() *Block {
	bCopyRaw, err := copystructure.Copy(b)
	if err != nil {
		panic(err)
	}
	bCopy := bCopyRaw.(*Block)
	return bCopy
}

// Next prepares the successive block.
func (b *Block) Next() *Block {
	blockNext := b.copy()
	blockNext.Rollup.Events = eth.NewRollupEvents()

	blockNext.Eth.BlockNum = b.Eth.BlockNum + 1
	blockNext.Eth.ParentHash = b.Eth.Hash

	blockNext.Rollup.Constants = b.Rollup.Constants
	blockNext.Rollup.Eth = blockNext.Eth

	return blockNext
}

// ClientSetup is used to initialize the constants of the Smart Contracts and
// other details of the test Client
type ClientSetup struct {
	RollupConstants *common.RollupConstants
	RollupVariables *common.RollupVariables
	ChainID         *big.Int
}

// NewClientSetupExample returns a ClientSetup example with hardcoded realistic
// values.  With this setup, the rollup genesis will be block 1, and block 0
// and 1 will be premined.
//
//nolint:gomnd
func NewClientSetupExample() *ClientSetup {
	governanceAddress := ethCommon.HexToAddress("0x688EfD95BA4391f93717CF02A9aED9DBD2855cDd")
	rollupConstants := &common.RollupConstants{
		Verifiers: []common.RollupVerifierStruct{
			{
				BlockChunks: 32,
				NLevels:     24,
			},
		},
		TokamakGovernanceAddress: governanceAddress,
		GenesisBlockNum:          1,
		ChainID:                  5,
	}
	rollupVariables := &common.RollupVariables{
		PriorityExpirationBlocks: 40,
		VerifyTimeout:            10,
	}
	return &ClientSetup{
		RollupConstants: rollupConstants,
		RollupVariables: rollupVariables,
		ChainID:         big.NewInt(5),
	}
}

// Timer is an interface to simulate a source of time, useful to advance time
// virtually.
type Timer interface {
	Time() int64
}

type batch struct {
	CommitBatchArgs eth.RollupCommitBatchArgs
	Sender          ethCommon.Address
}

// Client implements the eth.ClientInterface interface, allowing to manipulate the
// values for testing, working with deterministic results.
type Client struct {
	rw              *sync.RWMutex
	log             bool
	addr            *ethCommon.Address
	chainID         *big.Int
	rollupConstants *common.RollupConstants
	blocks          map[int64]*Block
	blockNum        int64 // last mined block num
	maxBlockNum     int64 // highest block num calculated
	timer           Timer
	hasher          hasher

	commitBatchArgsPending map[ethCommon.Hash]*batch
	commitBatchArgs        map[ethCommon.Hash]*batch

	startBlock int64
}

// NewClient returns a new test Client that implements the eth.ClientInterface
// interface, at the given initialBlockNumber.
func NewClient(l bool, timer Timer, addr *ethCommon.Address, setup *ClientSetup) *Client {
	blocks := make(map[int64]*Block)
	blockNum := int64(0)

	hasher := hasher{}
	// Add ethereum genesis block
	blockCurrent := &Block{
		Rollup: &RollupBlock{
			State: RollupState{
				StateRoots:      []*big.Int{big.NewInt(0)},
				CommittedBlock:  []int64{0},
				PriorityOps:     []int{0},
				PendingPriority: []common.PriorityRequest{},
				Exited:          make(map[string]bool),
			},
			Vars:      *setup.RollupVariables,
			Txs:       make(map[ethCommon.Hash]*types.Transaction),
			Events:    eth.NewRollupEvents(),
			Constants: setup.RollupConstants,
		},
		Eth: &EthereumBlock{
			BlockNum:   blockNum,
			Time:       timer.Time(),
			Hash:       hasher.Next(),
			ParentHash: ethCommon.Hash{},
			Tokens:     make(map[ethCommon.Address]eth.ERC20Consts),
		},
	}
	blockCurrent.Rollup.Eth = blockCurrent.Eth
	blocks[blockNum] = blockCurrent
	blockNext := blockCurrent.Next()
	blocks[blockNum+1] = blockNext

	c := Client{
		rw:                     &sync.RWMutex{},
		log:                    l,
		addr:                   addr,
		chainID:                setup.ChainID,
		rollupConstants:        setup.RollupConstants,
		blocks:                 blocks,
		timer:                  timer,
		hasher:                 hasher,
		commitBatchArgsPending: make(map[ethCommon.Hash]*batch),
		commitBatchArgs:        make(map[ethCommon.Hash]*batch),
		blockNum:               blockNum,
		maxBlockNum:            blockNum,
	}

	if c.startBlock == 0 {
		c.startBlock = 2
	}
	for i := int64(1); i < c.startBlock; i++ {
		c.CtlMineBlock()
	}

	return &c
}

//
// Mock Control
//

func (c *Client) setNextBlock(block *Block) {
	c.blocks[c.blockNum+1] = block
}

func (c *Client) revertIfErr(err error, block *Block) {
	if err != nil {
		log.Infow("TestClient revert", "block", block.Eth.BlockNum, "err", err)
		c.setNextBlock(block)
	}
}

// Debugf calls log.Debugf if c.log is true
func (c *Client) Debugf(template string, args ...interface{}) {
	if c.log {
		log.Debugf(template, args...)
	}
}

// Debugw calls log.Debugw if c.log is true
func (c *Client) Debugw(template string, kv ...interface{}) {
	if c.log {
		log.Debugw(template, kv...)
	}
}

type hasher struct {
	counter uint64
}

// Next returns the next hash
func (h *hasher) Next() ethCommon.Hash {
	var hash ethCommon.Hash
	binary.LittleEndian.PutUint64(hash[:], h.counter)
	h.counter++
	return hash
}

func (c *Client) nextBlock() *Block {
	return c.blocks[c.blockNum+1]
}

func (c *Client) currentBlock() *Block {
	return c.blocks[c.blockNum]
}

// CtlSetAddr sets the address of the client
func (c *Client) CtlSetAddr(addr ethCommon.Address) {
	c.addr = &addr
}

// CtlMineBlock moves one block forward
func (c *Client) CtlMineBlock() {
	c.rw.Lock()
	defer c.rw.Unlock()

	blockCurrent := c.nextBlock()
	c.blockNum++
	c.maxBlockNum = c.blockNum
	blockCurrent.Eth.Time = c.timer.Time()
	blockCurrent.Eth.Hash = c.hasher.Next()
	for ethTxHash, commitBatchArgs := range c.commitBatchArgsPending {
		c.commitBatchArgs[ethTxHash] = commitBatchArgs
	}
	c.commitBatchArgsPending = make(map[ethCommon.Hash]*batch)

	blockNext := blockCurrent.Next()
	c.blocks[c.blockNum+1] = blockNext
	c.Debugw("TestClient mined block", "blockNum", c.blockNum)
}

// CtlRollback discards the last mined block.  Use this to replace a mined
// block to simulate reorgs.
func (c *Client) CtlRollback() {
	c.rw.Lock()
	defer c.rw.Unlock()

	if c.blockNum == 0 {
		panic("Can't rollback at blockNum = 0")
	}
	delete(c.blocks, c.blockNum+1) // delete next block
	delete(c.blocks, c.blockNum)   // delete current block
	c.blockNum--
	blockCurrent := c.blocks[c.blockNum]
	blockNext := blockCurrent.Next()
	c.blocks[c.blockNum+1] = blockNext
}

//
// Ethereum
//

// CtlLastBlock returns the last blockNum without checks
func (c *Client) CtlLastBlock() *common.Block {
	c.rw.RLock()
	defer c.rw.RUnlock()

	block := c.blocks[c.blockNum]
	return &common.Block{
		Num:        c.blockNum,
		Timestamp:  time.Unix(block.Eth.Time, 0),
		Hash:       block.Eth.Hash,
		ParentHash: block.Eth.ParentHash,
	}
}

// CtlLastCommittedBatch returns the last committed batchNum without checks
func (c *Client) CtlLastCommittedBatch() int64 {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return c.currentBlock().Rollup.State.LastCommittedBatch
}

// EthChainID returns the ChainID of the ethereum network
func (c *Client) EthChainID() (*big.Int, error) {
	return c.chainID, nil
}

// EthPendingNonceAt returns the account nonce of the given account in the pending
// state. This is the nonce that should be used for the next transaction.
func (c *Client) EthPendingNonceAt(ctx context.Context, account ethCommon.Address) (uint64, error) {
	// NOTE: For now Client doesn't simulate nonces
	return 0, nil
}

// EthNonceAt returns the account nonce of the given account. The block number can
// be nil, in which case the nonce is taken from the latest known block.
func (c *Client) EthNonceAt(ctx context.Context, account ethCommon.Address,
	blockNumber *big.Int) (uint64, error) {
	// NOTE: For now Client doesn't simulate nonces
	return 0, nil
}

// EthSuggestGasPrice retrieves the currently suggested gas price to allow a
// timely execution of a transaction.
func (c *Client) EthSuggestGasPrice(ctx context.Context) (*big.Int, error) {
	// NOTE: For now Client doesn't simulate gasPrice
	return big.NewInt(0), nil
}

// EthKeyStore returns the keystore in the Client
func (c *Client) EthKeyStore() *ethKeystore.KeyStore {
	return nil
}

// EthCall runs the transaction as a call (without paying) in the local node at
// blockNum.
func (c *Client) EthCall(ctx context.Context, tx *types.Transaction,
	blockNum *big.Int) ([]byte, error) {
	return nil, common.Wrap(errTODO)
}

// EthLastBlock returns the last blockNum
func (c *Client) EthLastBlock() (int64, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	if c.blockNum < c.maxBlockNum {
		panic("blockNum has decreased.  " +
			"After a rollback you must mine to reach the same or higher blockNum")
	}
	return c.blockNum, nil
}

// EthTransactionReceipt returns the transaction receipt of the given txHash
func (c *Client) EthTransactionReceipt(ctx context.Context,
	txHash ethCommon.Hash) (*types.Receipt, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	for i := int64(0); i <= c.blockNum; i++ {
		b := c.blocks[i]
		_, ok := b.Rollup.Txs[txHash]
		if ok {
			return &types.Receipt{
				TxHash:      txHash,
				Status:      types.ReceiptStatusSuccessful,
				BlockHash:   b.Eth.Hash,
				BlockNumber: big.NewInt(b.Eth.BlockNum),
			}, nil
		}
	}

	return nil, nil
}

// CtlAddERC20 adds an ERC20 token to the blockchain.
func (c *Client) CtlAddERC20(tokenAddr ethCommon.Address, constants eth.ERC20Consts) {
	nextBlock := c.nextBlock()
	e := nextBlock.Eth
	e.Tokens[tokenAddr] = constants
}

// EthERC20Consts returns the constants defined for a particular ERC20 Token instance.
func (c *Client) EthERC20Consts(tokenAddr ethCommon.Address) (*eth.ERC20Consts, error) {
	currentBlock := c.currentBlock()
	e := currentBlock.Eth
	if constants, ok := e.Tokens[tokenAddr]; ok {
		return &constants, nil
	}
	return nil, common.Wrap(fmt.Errorf("tokenAddr not found"))
}

// EthBlockByNumber returns the *common.Block for the given block number in a
// deterministic way.  If number == -1, the latests known block is returned.
func (c *Client) EthBlockByNumber(ctx context.Context, blockNum int64) (*common.Block, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	if blockNum > c.blockNum {
		return nil, ethereum.NotFound
	}
	if blockNum == -1 {
		blockNum = c.blockNum
	}
	block := c.blocks[blockNum]
	return &common.Block{
		Num:        blockNum,
		Timestamp:  time.Unix(block.Eth.Time, 0),
		Hash:       block.Eth.Hash,
		ParentHash: block.Eth.ParentHash,
	}, nil
}

// EthAddress returns the ethereum address of the account loaded into the Client
func (c *Client) EthAddress() (*ethCommon.Address, error) {
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}
	return c.addr, nil
}

var errTODO = fmt.Errorf("TODO: Not implemented yet")

//
// Rollup
//

type transactionData struct {
	Name  string
	Value interface{}
}

func (c *Client) newTransaction(name string, value interface{}) *types.Transaction {
	eth := c.nextBlock().Eth
	nonce := eth.Nonce
	eth.Nonce++
	data, err := json.Marshal(transactionData{name, value})
	if err != nil {
		panic(err)
	}
	return types.NewTransaction(nonce, ethCommon.Address{}, nil, 0, nil,
		data)
}

// addPriorityRequest queues the request in the next block, assigning its
// serial id and expiration
func (c *Client) addPriorityRequest(name string,
	newReq func(serialID uint64, ethBlockNum, expiration int64) (*common.PriorityRequest, error)) (
	*types.Transaction, error) {
	nextBlock := c.nextBlock()
	r := nextBlock.Rollup
	if r.State.ExodusMode {
		return nil, common.Wrap(common.ErrExodusMode)
	}
	blockNum := nextBlock.Eth.BlockNum
	req, err := newReq(r.State.NextSerialID, blockNum, blockNum+r.Vars.PriorityExpirationBlocks)
	if err != nil {
		return nil, common.Wrap(err)
	}
	tx := r.addTransaction(c.newTransaction(name, req))
	req.EthTxHash = tx.Hash()
	r.State.NextSerialID++
	r.State.PendingPriority = append(r.State.PendingPriority, *req)
	r.Events.NewPriorityRequest = append(r.Events.NewPriorityRequest, *req)
	return tx, nil
}

// RollupDepositETH is the interface to call the smart contract function
func (c *Client) RollupDepositETH(to ethCommon.Address, amount *big.Int) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	cpy := c.nextBlock().copy()
	defer func() { c.revertIfErr(err, cpy) }()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	from := *c.addr
	return c.addPriorityRequest("depositETH",
		func(serialID uint64, ethBlockNum, expiration int64) (*common.PriorityRequest, error) {
			return common.NewDepositRequest(serialID, &common.Deposit{
				From: from, Token: 0, Amount: amount, To: to,
			}, ethBlockNum, expiration)
		})
}

// RollupRequestFullExit is the interface to call the smart contract function
func (c *Client) RollupRequestFullExit(accountID common.AccountID,
	tokenID common.TokenID) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	cpy := c.nextBlock().copy()
	defer func() { c.revertIfErr(err, cpy) }()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	owner := *c.addr
	return c.addPriorityRequest("requestFullExit",
		func(serialID uint64, ethBlockNum, expiration int64) (*common.PriorityRequest, error) {
			return common.NewFullExitRequest(serialID, &common.FullExit{
				AccountID: accountID, Owner: owner, Token: tokenID,
			}, ethBlockNum, expiration)
		})
}

// CtlAddPriorityRequest queues an already built priority request, replacing
// its serial id, block and expiration with the ones of the next block
func (c *Client) CtlAddPriorityRequest(req common.PriorityRequest) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	cpy := c.nextBlock().copy()
	defer func() { c.revertIfErr(err, cpy) }()

	return c.addPriorityRequest("priorityRequest",
		func(serialID uint64, ethBlockNum, expiration int64) (*common.PriorityRequest, error) {
			req.SerialID = serialID
			req.EthBlockNum = ethBlockNum
			req.ExpirationBlock = expiration
			return &req, nil
		})
}

// RollupSetAuthPubkeyHash is the interface to call the smart contract function
func (c *Client) RollupSetAuthPubkeyHash(pubKeyHash common.PubKeyHash,
	nonce common.Nonce) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	r := c.nextBlock().Rollup
	fact := common.FactAuth{Address: *c.addr, Nonce: nonce, PubKeyHash: pubKeyHash}
	r.Events.FactAuth = append(r.Events.FactAuth, fact)
	return r.addTransaction(c.newTransaction("setAuthPubkeyHash", fact)), nil
}

// RollupLastCommittedBatch is the interface to call the smart contract function
func (c *Client) RollupLastCommittedBatch() (int64, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return c.currentBlock().Rollup.State.LastCommittedBatch, nil
}

// RollupLastVerifiedBatch is the interface to call the smart contract function
func (c *Client) RollupLastVerifiedBatch() (int64, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return c.currentBlock().Rollup.State.LastVerifiedBatch, nil
}

// RollupExodusMode is the interface to call the smart contract function
func (c *Client) RollupExodusMode() (bool, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return c.currentBlock().Rollup.State.ExodusMode, nil
}

// RollupCommitBatch is the interface to call the smart contract function
func (c *Client) RollupCommitBatch(args *eth.RollupCommitBatchArgs,
	auth *bind.TransactOpts) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	cpy := c.nextBlock().copy()
	defer func() { c.revertIfErr(err, cpy) }()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	return c.addBatch(args)
}

// CtlAddBatch adds a committed batch to the Rollup
func (c *Client) CtlAddBatch(args *eth.RollupCommitBatchArgs) {
	c.rw.Lock()
	defer c.rw.Unlock()

	if _, err := c.addBatch(args); err != nil {
		panic(err)
	}
}

func (c *Client) addBatch(args *eth.RollupCommitBatchArgs) (*types.Transaction, error) {
	nextBlock := c.nextBlock()
	r := nextBlock.Rollup
	if r.State.ExodusMode {
		return nil, common.Wrap(common.ErrExodusMode)
	}
	if int64(args.BatchNum) != r.State.LastCommittedBatch+1 {
		return nil, common.Wrap(fmt.Errorf("%w: got %d, expected %d", errBatchNum,
			args.BatchNum, r.State.LastCommittedBatch+1))
	}
	if int(args.VerifierIdx) >= len(r.Constants.Verifiers) {
		return nil, common.Wrap(fmt.Errorf("unknown verifier %d", args.VerifierIdx))
	}
	ops, err := common.DecodeBatchPubData(args.PubData)
	if err != nil {
		return nil, common.Wrap(err)
	}
	priorityOps := 0
	for _, op := range ops {
		if op.Type().IsPriority() {
			priorityOps++
		}
	}
	r.State.LastCommittedBatch++
	r.State.StateRoots = append(r.State.StateRoots[:r.State.LastCommittedBatch], args.NewStateRoot)
	r.State.CommittedBlock = append(r.State.CommittedBlock[:r.State.LastCommittedBatch],
		nextBlock.Eth.BlockNum)
	r.State.PriorityOps = append(r.State.PriorityOps[:r.State.LastCommittedBatch], priorityOps)

	ethTx := r.addTransaction(c.newTransaction("commitBatch", args))
	c.commitBatchArgsPending[ethTx.Hash()] = &batch{*args, *c.addr}
	r.Events.BlockCommit = append(r.Events.BlockCommit, eth.RollupEventBlockCommit{
		BatchNum:  args.BatchNum,
		EthTxHash: ethTx.Hash(),
		GasPrice:  big.NewInt(0),
	})
	return ethTx, nil
}

// RollupVerifyBatch is the interface to call the smart contract function
func (c *Client) RollupVerifyBatch(args *eth.RollupVerifyBatchArgs,
	auth *bind.TransactOpts) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	cpy := c.nextBlock().copy()
	defer func() { c.revertIfErr(err, cpy) }()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	r := c.nextBlock().Rollup
	if int64(args.BatchNum) > r.State.LastCommittedBatch {
		return nil, common.Wrap(fmt.Errorf("%w: %d", errNotCommitted, args.BatchNum))
	}
	if int64(args.BatchNum) != r.State.LastVerifiedBatch+1 {
		return nil, common.Wrap(fmt.Errorf("%w: got %d, expected %d", errBatchNum,
			args.BatchNum, r.State.LastVerifiedBatch+1))
	}
	r.State.LastVerifiedBatch++
	consumed := r.State.PriorityOps[r.State.LastVerifiedBatch]
	if consumed > len(r.State.PendingPriority) {
		return nil, common.Wrap(fmt.Errorf("batch %d consumes %d priority requests, %d pending",
			args.BatchNum, consumed, len(r.State.PendingPriority)))
	}
	r.State.PendingPriority = r.State.PendingPriority[consumed:]

	ethTx := r.addTransaction(c.newTransaction("verifyBatch", args))
	r.Events.BlockVerification = append(r.Events.BlockVerification, eth.RollupEventBlockVerification{
		BatchNum:  args.BatchNum,
		EthTxHash: ethTx.Hash(),
	})
	return ethTx, nil
}

// RollupExecuteBatches is the interface to call the smart contract function
func (c *Client) RollupExecuteBatches(nBatches uint32) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	r := c.nextBlock().Rollup
	r.State.LastExecutedBatch = min(r.State.LastExecutedBatch+int64(nBatches),
		r.State.LastVerifiedBatch)
	return r.addTransaction(c.newTransaction("executeBatches", nBatches)), nil
}

// RollupRevertBatches is the interface to call the smart contract function.
// The unverified batches are reverted, newest first.
func (c *Client) RollupRevertBatches(maxBatchesToRevert uint32) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	r := c.nextBlock().Rollup
	unverified := r.State.LastCommittedBatch - r.State.LastVerifiedBatch
	n := min(int64(maxBatchesToRevert), unverified)
	r.State.LastCommittedBatch -= n
	r.State.StateRoots = r.State.StateRoots[:r.State.LastCommittedBatch+1]
	r.State.CommittedBlock = r.State.CommittedBlock[:r.State.LastCommittedBatch+1]
	r.State.PriorityOps = r.State.PriorityOps[:r.State.LastCommittedBatch+1]

	ethTx := r.addTransaction(c.newTransaction("revertBatches", maxBatchesToRevert))
	r.Events.BlocksRevert = append(r.Events.BlocksRevert, eth.RollupEventBlocksRevert{
		TotalBatchesVerified:  uint32(r.State.LastVerifiedBatch),
		TotalBatchesCommitted: uint32(r.State.LastCommittedBatch),
		EthTxHash:             ethTx.Hash(),
	})
	return ethTx, nil
}

// RollupActivateExodusMode is the interface to call the smart contract
// function.  It fails unless the oldest pending priority request has expired.
func (c *Client) RollupActivateExodusMode() (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	nextBlock := c.nextBlock()
	r := nextBlock.Rollup
	if r.State.ExodusMode {
		return nil, common.Wrap(common.ErrExodusMode)
	}
	if len(r.State.PendingPriority) == 0 ||
		!r.State.PendingPriority[0].IsExpired(nextBlock.Eth.BlockNum) {
		return nil, common.Wrap(errNothingExpired)
	}
	r.State.ExodusMode = true
	r.Vars.ExodusMode = true
	r.Events.ExodusMode = append(r.Events.ExodusMode, eth.RollupEventExodusMode{})
	return r.addTransaction(c.newTransaction("activateExodusMode", nil)), nil
}

// RollupPerformExodus is the interface to call the smart contract function.
// The merkle proofs are not checked.
func (c *Client) RollupPerformExodus(args *eth.RollupPerformExodusArgs) (tx *types.Transaction, err error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	if c.addr == nil {
		return nil, common.Wrap(eth.ErrAccountNil)
	}

	r := c.nextBlock().Rollup
	if !r.State.ExodusMode {
		return nil, common.Wrap(errNotExodus)
	}
	if args.StateRoot.Cmp(r.State.StateRoots[r.State.LastVerifiedBatch]) != 0 {
		return nil, common.Wrap(fmt.Errorf("state root %v is not the last verified one", args.StateRoot))
	}
	key := fmt.Sprintf("%d/%d", args.AccountID, args.TokenID)
	if r.State.Exited[key] {
		return nil, common.Wrap(errAlreadyExited)
	}
	r.State.Exited[key] = true
	r.Events.ExodusExit = append(r.Events.ExodusExit, eth.RollupEventExodusExit{
		AccountID: args.AccountID,
		TokenID:   args.TokenID,
		Owner:     args.Owner,
		Amount:    args.Amount,
	})
	return r.addTransaction(c.newTransaction("performExodus", args)), nil
}

// RollupConstants returns the Constants of the Rollup Smart Contract
func (c *Client) RollupConstants() (*common.RollupConstants, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return c.rollupConstants, nil
}

// RollupEventsByBlock returns the events in a block that happened in the Rollup Smart Contract
func (c *Client) RollupEventsByBlock(blockNum int64,
	blockHash *ethCommon.Hash) (*eth.RollupEvents, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	block, ok := c.blocks[blockNum]
	if !ok {
		return nil, common.Wrap(fmt.Errorf("Block %v doesn't exist", blockNum))
	}
	if blockHash != nil && *blockHash != block.Eth.Hash {
		return nil, common.Wrap(fmt.Errorf("hash mismatch, requested %v got %v",
			blockHash, block.Eth.Hash))
	}
	return &block.Rollup.Events, nil
}

// RollupEventInit returns the initialize event with its corresponding block number
func (c *Client) RollupEventInit(genesisBlockNum int64) (*eth.RollupEventInitialize, int64, error) {
	vars := c.blocks[0].Rollup.Vars
	return &eth.RollupEventInitialize{
		PriorityExpirationBlocks: uint64(vars.PriorityExpirationBlocks),
		VerifyTimeout:            uint64(vars.VerifyTimeout),
	}, 1, nil
}

// RollupCommitBatchArgs returns the arguments used in a commitBatch call in
// the Rollup Smart Contract in the given transaction
func (c *Client) RollupCommitBatchArgs(ethTxHash ethCommon.Hash) (*eth.RollupCommitBatchArgs,
	*ethCommon.Address, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	batch, ok := c.commitBatchArgs[ethTxHash]
	if !ok {
		return nil, nil, common.Wrap(fmt.Errorf("transaction not found"))
	}
	return &batch.CommitBatchArgs, &batch.Sender, nil
}

// CtlAddBlocks adds block data to the smarts contracts.  The added blocks will
// appear as mined.  Not thread safe.
func (c *Client) CtlAddBlocks(blocks []common.BlockData) (err error) {
	// NOTE: We don't lock because internally we call public functions that
	// lock already.
	forger := ethCommon.HexToAddress("0xE39fEc6224708f0772D2A74fd3f9055A90E0A9f2")
	for _, block := range blocks {
		for _, req := range block.Rollup.PriorityRequests {
			c.CtlSetAddr(req.Sender)
			if _, err := c.CtlAddPriorityRequest(req); err != nil {
				return common.Wrap(err)
			}
		}
		for _, fact := range block.Rollup.FactAuths {
			c.CtlSetAddr(fact.Address)
			if _, err := c.RollupSetAuthPubkeyHash(fact.PubKeyHash, fact.Nonce); err != nil {
				return common.Wrap(err)
			}
		}
		c.CtlSetAddr(forger)
		for _, batch := range block.Rollup.Batches {
			if _, err := c.RollupCommitBatch(eth.NewRollupCommitBatchArgs(&batch.Batch, 0),
				nil); err != nil {
				return common.Wrap(err)
			}
		}
		for _, verified := range block.Rollup.VerifiedBatches {
			if _, err := c.RollupVerifyBatch(&eth.RollupVerifyBatchArgs{
				BatchNum: verified.BatchNum,
				ProofA:   [2]*big.Int{},    // Intentionally empty
				ProofB:   [2][2]*big.Int{}, // Intentionally empty
				ProofC:   [2]*big.Int{},    // Intentionally empty
			}, nil); err != nil {
				return common.Wrap(err)
			}
		}
		if len(block.Rollup.RevertedBatches) > 0 {
			if _, err := c.RollupRevertBatches(uint32(len(block.Rollup.RevertedBatches))); err != nil {
				return common.Wrap(err)
			}
		}
		// Mine block and sync
		c.CtlMineBlock()
	}
	return nil
}
