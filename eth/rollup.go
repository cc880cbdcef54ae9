package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"tokamak-zkrollup/common"
	Tokamak "tokamak-zkrollup/eth/contracts/tokamak"
	"tokamak-zkrollup/log"
)

// RollupEventInitialize is the Initialize event of the Smart Contract
type RollupEventInitialize struct {
	PriorityExpirationBlocks uint64
	VerifyTimeout            uint64
}

// RollupVariables returns the RollupVariables from the initialize event
func (ei *RollupEventInitialize) RollupVariables() *common.RollupVariables {
	return &common.RollupVariables{
		EthBlockNum:              0,
		PriorityExpirationBlocks: int64(ei.PriorityExpirationBlocks),
		VerifyTimeout:            int64(ei.VerifyTimeout),
		ExodusMode:               false,
	}
}

type rollupEventNewPriorityRequestAux struct {
	Sender          ethCommon.Address
	SerialId        uint64 //nolint:revive,stylecheck
	OpType          uint8
	PubData         []byte
	ExpirationBlock *big.Int
}

// RollupEventBlockCommit is an event of the Rollup Smart Contract
type RollupEventBlockCommit struct {
	BatchNum  common.BatchNum
	EthTxHash ethCommon.Hash
	GasUsed   uint64
	GasPrice  *big.Int
}

// RollupEventBlockVerification is an event of the Rollup Smart Contract
type RollupEventBlockVerification struct {
	BatchNum  common.BatchNum
	EthTxHash ethCommon.Hash
}

// RollupEventBlocksRevert is an event of the Rollup Smart Contract.  The
// batches from TotalBatchesCommitted+1 up to the previous last committed
// batch are reverted.
type RollupEventBlocksRevert struct {
	TotalBatchesVerified  uint32
	TotalBatchesCommitted uint32
	EthTxHash             ethCommon.Hash
}

// RollupEventExodusMode is an event of the Rollup Smart Contract
type RollupEventExodusMode struct{}

type rollupEventFactAuthAux struct {
	Nonce      uint32
	PubKeyHash [20]byte
}

// RollupEventAddToken is an event of the Rollup Smart Contract
type RollupEventAddToken struct {
	TokenAddress ethCommon.Address
	TokenID      uint32
}

// RollupEventExodusExit is an event of the Rollup Smart Contract
type RollupEventExodusExit struct {
	AccountID common.AccountID
	TokenID   common.TokenID
	Owner     ethCommon.Address
	Amount    *big.Int
}

type rollupEventExodusExitAux struct {
	Owner  ethCommon.Address
	Amount *big.Int
}

// RollupEvents is the list of events in a block of the Rollup Smart Contract
type RollupEvents struct {
	NewPriorityRequest []common.PriorityRequest
	BlockCommit        []RollupEventBlockCommit
	BlockVerification  []RollupEventBlockVerification
	BlocksRevert       []RollupEventBlocksRevert
	ExodusMode         []RollupEventExodusMode
	FactAuth           []common.FactAuth
	AddToken           []RollupEventAddToken
	ExodusExit         []RollupEventExodusExit
}

// NewRollupEvents creates an empty RollupEvents with the slices initialized.
func NewRollupEvents() RollupEvents {
	return RollupEvents{
		NewPriorityRequest: make([]common.PriorityRequest, 0),
		BlockCommit:        make([]RollupEventBlockCommit, 0),
		BlockVerification:  make([]RollupEventBlockVerification, 0),
		BlocksRevert:       make([]RollupEventBlocksRevert, 0),
		ExodusMode:         make([]RollupEventExodusMode, 0),
		FactAuth:           make([]common.FactAuth, 0),
		AddToken:           make([]RollupEventAddToken, 0),
		ExodusExit:         make([]RollupEventExodusExit, 0),
	}
}

// RollupCommitBatchArgs are the arguments to the commitBatch function in the
// Rollup Smart Contract
type RollupCommitBatchArgs struct {
	BatchNum     common.BatchNum
	FeeAccount   common.AccountID
	NewStateRoot *big.Int
	Timestamp    uint64
	PubData      []byte
	ChunkMarkers []byte
	Commitment   ethCommon.Hash
	// Circuit selector
	VerifierIdx uint8
}

// NewRollupCommitBatchArgs returns the commit arguments of a built batch
func NewRollupCommitBatchArgs(batch *common.Batch, verifierIdx uint8) *RollupCommitBatchArgs {
	return &RollupCommitBatchArgs{
		BatchNum:     batch.BatchNum,
		FeeAccount:   batch.FeeAccount,
		NewStateRoot: batch.StateRoot,
		Timestamp:    batch.Timestamp,
		PubData:      batch.PubData,
		ChunkMarkers: batch.ChunkMarkers,
		Commitment:   batch.Commitment,
		VerifierIdx:  verifierIdx,
	}
}

type rollupCommitBatchArgsAux struct {
	BatchNum     uint32
	FeeAccount   uint32
	NewStateRoot *big.Int
	Timestamp    uint64
	PubData      []byte
	ChunkMarkers []byte
	Commitment   [32]byte
	VerifierIdx  uint8
}

// RollupVerifyBatchArgs are the arguments to the verifyBatch function in the
// Rollup Smart Contract
type RollupVerifyBatchArgs struct {
	BatchNum common.BatchNum
	ProofA   [2]*big.Int
	ProofB   [2][2]*big.Int
	ProofC   [2]*big.Int
}

// RollupPerformExodusArgs are the arguments to the performExodus function in
// the Rollup Smart Contract
type RollupPerformExodusArgs struct {
	StateRoot       *big.Int
	AccountID       common.AccountID
	TokenID         common.TokenID
	Owner           ethCommon.Address
	Nonce           common.Nonce
	PubKeyHash      common.PubKeyHash
	Amount          *big.Int
	BalanceRoot     *big.Int
	AccountSiblings []*big.Int
	BalanceSiblings []*big.Int
}

// RollupInterface is the inteface to to Rollup Smart Contract
type RollupInterface interface {
	//
	// Smart Contract Methods
	//

	// Public Functions

	RollupCommitBatch(*RollupCommitBatchArgs, *bind.TransactOpts) (*types.Transaction, error)
	RollupVerifyBatch(*RollupVerifyBatchArgs, *bind.TransactOpts) (*types.Transaction, error)
	RollupExecuteBatches(nBatches uint32) (*types.Transaction, error)
	RollupRevertBatches(maxBatchesToRevert uint32) (*types.Transaction, error)
	RollupRequestFullExit(accountID common.AccountID, tokenID common.TokenID) (*types.Transaction, error)
	RollupDepositETH(to ethCommon.Address, amount *big.Int) (*types.Transaction, error)
	RollupSetAuthPubkeyHash(pubKeyHash common.PubKeyHash, nonce common.Nonce) (*types.Transaction, error)
	RollupPerformExodus(*RollupPerformExodusArgs) (*types.Transaction, error)
	RollupActivateExodusMode() (*types.Transaction, error)

	// Viewers
	RollupLastCommittedBatch() (int64, error)
	RollupLastVerifiedBatch() (int64, error)
	RollupExodusMode() (bool, error)

	//
	// Smart Contract Status
	//

	RollupConstants() (*common.RollupConstants, error)
	RollupEventsByBlock(blockNum int64, blockHash *ethCommon.Hash) (*RollupEvents, error)
	RollupCommitBatchArgs(ethCommon.Hash) (*RollupCommitBatchArgs, *ethCommon.Address, error)
	RollupEventInit(genesisBlockNum int64) (*RollupEventInitialize, int64, error)
}

//
// Implementation
//

// RollupClient is the implementation of the interface to the Rollup Smart Contract in ethereum.
type RollupClient struct {
	client      *EthereumClient
	chainID     *big.Int
	address     ethCommon.Address
	tokamak     *Tokamak.Tokamak
	contractAbi abi.ABI
	opts        *bind.CallOpts
	consts      *common.RollupConstants
}

// NewRollupClient creates a new RollupClient
func NewRollupClient(client *EthereumClient, address ethCommon.Address) (*RollupClient, error) {
	contractAbi, err := abi.JSON(strings.NewReader(string(Tokamak.TokamakABI)))
	if err != nil {
		return nil, common.Wrap(err)
	}
	tokamak, err := Tokamak.NewTokamak(address, client.Client())
	if err != nil {
		return nil, common.Wrap(err)
	}
	chainID, err := client.EthChainID()
	if err != nil {
		return nil, common.Wrap(err)
	}
	c := &RollupClient{
		client:      client,
		chainID:     chainID,
		address:     address,
		tokamak:     tokamak,
		contractAbi: contractAbi,
		opts:        newCallOpts(),
	}
	consts, err := c.RollupConstants()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("RollupConstants at %v: %w", address, err))
	}
	c.consts = consts
	return c, nil
}

// RollupCommitBatch is the interface to call the smart contract function
func (c *RollupClient) RollupCommitBatch(args *RollupCommitBatchArgs,
	auth *bind.TransactOpts) (tx *types.Transaction, err error) {
	if auth == nil {
		auth, err = c.client.NewAuth()
		if err != nil {
			return nil, common.Wrap(err)
		}
		auth.GasLimit = 1000000
	}
	if tx, err = c.tokamak.CommitBatch(auth, uint32(args.BatchNum), uint32(args.FeeAccount),
		args.NewStateRoot, args.Timestamp, args.PubData, args.ChunkMarkers,
		args.Commitment, args.VerifierIdx); err != nil {
		return nil, common.Wrap(fmt.Errorf("Tokamak.CommitBatch: %w", err))
	}
	return tx, nil
}

// RollupVerifyBatch is the interface to call the smart contract function
func (c *RollupClient) RollupVerifyBatch(args *RollupVerifyBatchArgs,
	auth *bind.TransactOpts) (tx *types.Transaction, err error) {
	if auth == nil {
		auth, err = c.client.NewAuth()
		if err != nil {
			return nil, common.Wrap(err)
		}
		auth.GasLimit = 1000000
	}
	if tx, err = c.tokamak.VerifyBatch(auth, uint32(args.BatchNum),
		args.ProofA, args.ProofB, args.ProofC); err != nil {
		return nil, common.Wrap(fmt.Errorf("Tokamak.VerifyBatch: %w", err))
	}
	return tx, nil
}

// RollupExecuteBatches is the interface to call the smart contract function
func (c *RollupClient) RollupExecuteBatches(nBatches uint32) (tx *types.Transaction, err error) {
	if tx, err = c.client.CallAuth(
		0,
		func(ec *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return c.tokamak.ExecuteBatches(auth, nBatches)
		},
	); err != nil {
		return nil, common.Wrap(fmt.Errorf("Failed execute batches: %w", err))
	}
	return tx, nil
}

// RollupRevertBatches is the interface to call the smart contract function
func (c *RollupClient) RollupRevertBatches(maxBatchesToRevert uint32) (tx *types.Transaction, err error) {
	if tx, err = c.client.CallAuth(
		0,
		func(ec *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return c.tokamak.RevertBatches(auth, maxBatchesToRevert)
		},
	); err != nil {
		return nil, common.Wrap(fmt.Errorf("Failed revert batches: %w", err))
	}
	return tx, nil
}

// RollupRequestFullExit is the interface to call the smart contract function
func (c *RollupClient) RollupRequestFullExit(accountID common.AccountID,
	tokenID common.TokenID) (tx *types.Transaction, err error) {
	if tx, err = c.client.CallAuth(
		0,
		func(ec *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return c.tokamak.RequestFullExit(auth, uint32(accountID), uint32(tokenID))
		},
	); err != nil {
		return nil, common.Wrap(fmt.Errorf("Failed request full exit: %w", err))
	}
	return tx, nil
}

// RollupDepositETH is the interface to call the smart contract function
func (c *RollupClient) RollupDepositETH(to ethCommon.Address, amount *big.Int) (tx *types.Transaction, err error) {
	if tx, err = c.client.CallAuth(
		0,
		func(ec *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			auth.Value = amount
			return c.tokamak.DepositETH(auth, to)
		},
	); err != nil {
		return nil, common.Wrap(fmt.Errorf("Failed deposit ETH: %w", err))
	}
	return tx, nil
}

// RollupSetAuthPubkeyHash is the interface to call the smart contract function
func (c *RollupClient) RollupSetAuthPubkeyHash(pubKeyHash common.PubKeyHash,
	nonce common.Nonce) (tx *types.Transaction, err error) {
	if tx, err = c.client.CallAuth(
		0,
		func(ec *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return c.tokamak.SetAuthPubkeyHash(auth, pubKeyHash, uint32(nonce))
		},
	); err != nil {
		return nil, common.Wrap(fmt.Errorf("Failed set auth pubkey hash: %w", err))
	}
	return tx, nil
}

// RollupPerformExodus is the interface to call the smart contract function
func (c *RollupClient) RollupPerformExodus(args *RollupPerformExodusArgs) (tx *types.Transaction, err error) {
	if tx, err = c.client.CallAuth(
		0,
		func(ec *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return c.tokamak.PerformExodus(auth, args.StateRoot, uint32(args.AccountID),
				uint32(args.TokenID), args.Owner, uint32(args.Nonce), args.PubKeyHash,
				args.Amount, args.BalanceRoot, args.AccountSiblings, args.BalanceSiblings)
		},
	); err != nil {
		return nil, common.Wrap(fmt.Errorf("Failed perform exodus: %w", err))
	}
	return tx, nil
}

// RollupActivateExodusMode is the interface to call the smart contract function
func (c *RollupClient) RollupActivateExodusMode() (tx *types.Transaction, err error) {
	if tx, err = c.client.CallAuth(
		0,
		func(ec *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return c.tokamak.ActivateExodusMode(auth)
		},
	); err != nil {
		return nil, common.Wrap(fmt.Errorf("Failed activate exodus mode: %w", err))
	}
	return tx, nil
}

// RollupConstants returns the Constants of the Rollup Smart Contract
func (c *RollupClient) RollupConstants() (rollupConstants *common.RollupConstants, err error) {
	rollupConstants = new(common.RollupConstants)
	if err := c.client.Call(func(ec *ethclient.Client) error {
		rollupVerifiersLength, err := c.tokamak.RollupVerifiersLength(c.opts)
		if err != nil {
			return common.Wrap(err)
		}
		for i := int64(0); i < rollupVerifiersLength.Int64(); i++ {
			var newRollupVerifier common.RollupVerifierStruct
			rollupVerifier, err := c.tokamak.RollupVerifiers(c.opts, big.NewInt(i))
			if err != nil {
				return common.Wrap(err)
			}
			newRollupVerifier.BlockChunks = rollupVerifier.BlockChunks.Int64()
			newRollupVerifier.NLevels = rollupVerifier.NLevels.Int64()
			rollupConstants.Verifiers = append(rollupConstants.Verifiers,
				newRollupVerifier)
		}
		rollupConstants.TokamakGovernanceAddress, err = c.tokamak.TokamakGovernanceAddress(c.opts)
		return common.Wrap(err)
	}); err != nil {
		return nil, common.Wrap(err)
	}
	rollupConstants.ChainID = c.chainID.Uint64()
	return rollupConstants, nil
}

// RollupLastCommittedBatch is the interface to call the smart contract function
func (c *RollupClient) RollupLastCommittedBatch() (lastCommittedBatch int64, err error) {
	if err := c.client.Call(func(ec *ethclient.Client) error {
		_lastCommittedBatch, err := c.tokamak.LastCommittedBatch(c.opts)
		lastCommittedBatch = int64(_lastCommittedBatch)
		return common.Wrap(err)
	}); err != nil {
		return 0, common.Wrap(err)
	}
	return lastCommittedBatch, nil
}

// RollupLastVerifiedBatch is the interface to call the smart contract function
func (c *RollupClient) RollupLastVerifiedBatch() (lastVerifiedBatch int64, err error) {
	if err := c.client.Call(func(ec *ethclient.Client) error {
		_lastVerifiedBatch, err := c.tokamak.LastVerifiedBatch(c.opts)
		lastVerifiedBatch = int64(_lastVerifiedBatch)
		return common.Wrap(err)
	}); err != nil {
		return 0, common.Wrap(err)
	}
	return lastVerifiedBatch, nil
}

// RollupExodusMode is the interface to call the smart contract function
func (c *RollupClient) RollupExodusMode() (exodusMode bool, err error) {
	if err := c.client.Call(func(ec *ethclient.Client) error {
		exodusMode, err = c.tokamak.ExodusMode(c.opts)
		return common.Wrap(err)
	}); err != nil {
		return false, common.Wrap(err)
	}
	return exodusMode, nil
}

var (
	logTKMInitialize = crypto.Keccak256Hash([]byte(
		"Initialize(uint64,uint64)"))
	logTKMNewPriorityRequest = crypto.Keccak256Hash([]byte(
		"NewPriorityRequest(address,uint64,uint8,bytes,uint256)"))
	logTKMBlockCommit = crypto.Keccak256Hash([]byte(
		"BlockCommit(uint32)"))
	logTKMBlockVerification = crypto.Keccak256Hash([]byte(
		"BlockVerification(uint32)"))
	logTKMBlocksRevert = crypto.Keccak256Hash([]byte(
		"BlocksRevert(uint32,uint32)"))
	logTKMExodusMode = crypto.Keccak256Hash([]byte(
		"ExodusMode()"))
	logTKMFactAuth = crypto.Keccak256Hash([]byte(
		"FactAuth(address,uint32,bytes20)"))
	logTKMAddToken = crypto.Keccak256Hash([]byte(
		"AddToken(address,uint32)"))
	logTKMExodusExit = crypto.Keccak256Hash([]byte(
		"ExodusExit(uint32,uint32,address,uint128)"))
)

// RollupEventInit returns the initialize event with its corresponding block number
func (c *RollupClient) RollupEventInit(genesisBlockNum int64) (*RollupEventInitialize, int64, error) {
	query := ethereum.FilterQuery{
		Addresses: []ethCommon.Address{
			c.address,
		},
		FromBlock: big.NewInt(max(0, genesisBlockNum-blocksPerDay)),
		ToBlock:   big.NewInt(genesisBlockNum),
		Topics:    [][]ethCommon.Hash{{logTKMInitialize}},
	}
	logs, err := c.client.client.FilterLogs(context.Background(), query)
	if err != nil {
		return nil, 0, common.Wrap(err)
	}
	if len(logs) != 1 {
		return nil, 0, common.Wrap(fmt.Errorf("no event of type Initialize found"))
	}
	vLog := logs[0]
	if vLog.Topics[0] != logTKMInitialize {
		return nil, 0, common.Wrap(fmt.Errorf("event is not Initialize"))
	}

	var rollupInit RollupEventInitialize
	if err := c.contractAbi.UnpackIntoInterface(&rollupInit, "Initialize",
		vLog.Data); err != nil {
		return nil, 0, common.Wrap(err)
	}
	return &rollupInit, int64(vLog.BlockNumber), common.Wrap(err)
}

// RollupEventsByBlock returns the events in a block that happened in the
// Rollup Smart Contract.
// To query by blockNum, set blockNum >= 0 and blockHash == nil.
// To query by blockHash set blockHash != nil, and blockNum will be ignored.
// If there are no events in that block the result is nil.
func (c *RollupClient) RollupEventsByBlock(blockNum int64,
	blockHash *ethCommon.Hash) (*RollupEvents, error) {
	rollupEvents := NewRollupEvents()

	var blockNumBigInt *big.Int
	if blockHash == nil {
		blockNumBigInt = big.NewInt(blockNum)
	}
	query := ethereum.FilterQuery{
		BlockHash: blockHash,
		FromBlock: blockNumBigInt,
		ToBlock:   blockNumBigInt,
		Addresses: []ethCommon.Address{
			c.address,
		},
		Topics: [][]ethCommon.Hash{},
	}
	logs, err := c.client.client.FilterLogs(context.Background(), query)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	for _, vLog := range logs {
		if blockHash != nil && vLog.BlockHash != *blockHash {
			log.Errorw("Block hash mismatch", "expected", blockHash.String(), "got", vLog.BlockHash.String())
			return nil, common.Wrap(ErrBlockHashMismatchEvent)
		}
		switch vLog.Topics[0] {
		case logTKMNewPriorityRequest:
			var aux rollupEventNewPriorityRequestAux
			if err := c.contractAbi.UnpackIntoInterface(&aux, "NewPriorityRequest", vLog.Data); err != nil {
				return nil, common.Wrap(err)
			}
			rollupEvents.NewPriorityRequest = append(rollupEvents.NewPriorityRequest,
				common.PriorityRequest{
					SerialID:        aux.SerialId,
					OpType:          common.OpType(aux.OpType),
					Sender:          aux.Sender,
					PubData:         aux.PubData,
					ExpirationBlock: aux.ExpirationBlock.Int64(),
					EthBlockNum:     int64(vLog.BlockNumber),
					EthTxHash:       vLog.TxHash,
				})
		case logTKMBlockCommit:
			var commit RollupEventBlockCommit
			commit.BatchNum = common.BatchNum(new(big.Int).SetBytes(vLog.Topics[1][:]).Uint64())
			commit.EthTxHash = vLog.TxHash
			// Check tx info using EthTxHash to get gasprice and gas used
			tx, _, err := c.client.client.TransactionByHash(context.Background(), vLog.TxHash)
			if err != nil {
				return nil, common.Wrap(fmt.Errorf("failed to get TransactionByHash, hash: %s, err: %w", vLog.TxHash.String(), err))
			}
			commit.GasPrice = tx.GasPrice()
			txReceipt, err := c.client.client.TransactionReceipt(context.Background(), vLog.TxHash)
			if err != nil {
				return nil, common.Wrap(fmt.Errorf("failed to get TransactionReceipt, hash: %s, err: %w", vLog.TxHash.String(), err))
			}
			commit.GasUsed = txReceipt.GasUsed
			rollupEvents.BlockCommit = append(rollupEvents.BlockCommit, commit)
		case logTKMBlockVerification:
			rollupEvents.BlockVerification = append(rollupEvents.BlockVerification,
				RollupEventBlockVerification{
					BatchNum:  common.BatchNum(new(big.Int).SetBytes(vLog.Topics[1][:]).Uint64()),
					EthTxHash: vLog.TxHash,
				})
		case logTKMBlocksRevert:
			var revert RollupEventBlocksRevert
			if err := c.contractAbi.UnpackIntoInterface(&revert, "BlocksRevert", vLog.Data); err != nil {
				return nil, common.Wrap(err)
			}
			revert.EthTxHash = vLog.TxHash
			rollupEvents.BlocksRevert = append(rollupEvents.BlocksRevert, revert)
		case logTKMExodusMode:
			rollupEvents.ExodusMode = append(rollupEvents.ExodusMode, RollupEventExodusMode{})
		case logTKMFactAuth:
			var aux rollupEventFactAuthAux
			if err := c.contractAbi.UnpackIntoInterface(&aux, "FactAuth", vLog.Data); err != nil {
				return nil, common.Wrap(err)
			}
			rollupEvents.FactAuth = append(rollupEvents.FactAuth, common.FactAuth{
				Address:    ethCommon.BytesToAddress(vLog.Topics[1].Bytes()),
				Nonce:      common.Nonce(aux.Nonce),
				PubKeyHash: common.PubKeyHash(aux.PubKeyHash),
			})
		case logTKMAddToken:
			var addToken RollupEventAddToken
			if err := c.contractAbi.UnpackIntoInterface(&addToken, "AddToken", vLog.Data); err != nil {
				return nil, common.Wrap(err)
			}
			addToken.TokenAddress = ethCommon.BytesToAddress(vLog.Topics[1].Bytes())
			rollupEvents.AddToken = append(rollupEvents.AddToken, addToken)
		case logTKMExodusExit:
			var aux rollupEventExodusExitAux
			if err := c.contractAbi.UnpackIntoInterface(&aux, "ExodusExit", vLog.Data); err != nil {
				return nil, common.Wrap(err)
			}
			rollupEvents.ExodusExit = append(rollupEvents.ExodusExit, RollupEventExodusExit{
				AccountID: common.AccountID(new(big.Int).SetBytes(vLog.Topics[1][:]).Uint64()),
				TokenID:   common.TokenID(new(big.Int).SetBytes(vLog.Topics[2][:]).Uint64()),
				Owner:     aux.Owner,
				Amount:    aux.Amount,
			})
		}
	}
	return &rollupEvents, nil
}

// RollupCommitBatchArgs returns the arguments used in a commitBatch call in
// the Rollup Smart Contract in the given transaction, and the sender address.
func (c *RollupClient) RollupCommitBatchArgs(ethTxHash ethCommon.Hash) (*RollupCommitBatchArgs,
	*ethCommon.Address, error) {
	tx, _, err := c.client.client.TransactionByHash(context.Background(), ethTxHash)
	if err != nil {
		return nil, nil, common.Wrap(fmt.Errorf("TransactionByHash: %w", err))
	}
	txData := tx.Data()

	method, err := c.contractAbi.MethodById(txData[:4])
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	if method.Name != "commitBatch" {
		return nil, nil, common.Wrap(fmt.Errorf("tx %s calls %s, expected commitBatch",
			ethTxHash, method.Name))
	}
	receipt, err := c.client.client.TransactionReceipt(context.Background(), ethTxHash)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	sender, err := c.client.client.TransactionSender(context.Background(), tx,
		receipt.Logs[0].BlockHash, receipt.Logs[0].Index)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	var aux rollupCommitBatchArgsAux
	if values, err := method.Inputs.Unpack(txData[4:]); err != nil {
		return nil, nil, common.Wrap(err)
	} else if err := method.Inputs.Copy(&aux, values); err != nil {
		return nil, nil, common.Wrap(err)
	}
	if int(aux.VerifierIdx) >= len(c.consts.Verifiers) {
		return nil, nil, common.Wrap(fmt.Errorf("unknown verifier %d", aux.VerifierIdx))
	}
	return &RollupCommitBatchArgs{
		BatchNum:     common.BatchNum(aux.BatchNum),
		FeeAccount:   common.AccountID(aux.FeeAccount),
		NewStateRoot: aux.NewStateRoot,
		Timestamp:    aux.Timestamp,
		PubData:      aux.PubData,
		ChunkMarkers: aux.ChunkMarkers,
		Commitment:   aux.Commitment,
		VerifierIdx:  aux.VerifierIdx,
	}, &sender, nil
}
