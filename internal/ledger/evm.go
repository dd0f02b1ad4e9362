package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/crossroute/swapd/internal/commitment"
)

// htlcABI is the interface of the on-chain HTLC contract the adapter
// drives. The contract records the creation block so confirmation depth
// can be recomputed after a coordinator restart.
const htlcABI = `[
	{"type":"function","name":"newLock","stateMutability":"payable","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"secretHash","type":"bytes32"},
		{"name":"timelock","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"secret","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
		{"name":"id","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"getLock","stateMutability":"view","inputs":[
		{"name":"id","type":"bytes32"}],"outputs":[
		{"name":"sender","type":"address"},
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"secretHash","type":"bytes32"},
		{"name":"timelock","type":"uint256"},
		{"name":"createdBlock","type":"uint256"},
		{"name":"state","type":"uint8"}]}
]`

// On-chain lock states.
const (
	evmLockEmpty    uint8 = 0
	evmLockActive   uint8 = 1
	evmLockClaimed  uint8 = 2
	evmLockRefunded uint8 = 3
)

const evmLockGasLimit = 200000

// EVMAdapter drives an HTLC contract on an EVM chain.
type EVMAdapter struct {
	chainID     string
	client      *ethclient.Client
	evmChainID  *big.Int
	contract    common.Address
	contractABI abi.ABI
	privKey     *ecdsa.PrivateKey
	from        common.Address
}

// NewEVMAdapter connects to the chain's RPC endpoint and binds the HTLC
// contract address from configuration.
func NewEVMAdapter(chainID string, cfg *ChainConfig) (*EVMAdapter, error) {
	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc_endpoint not configured")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract_address %q", cfg.ContractAddress)
	}

	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	evmChainID, err := client.ChainID(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(htlcABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse HTLC ABI: %w", err)
	}

	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("invalid private_key: %w", err)
	}

	return &EVMAdapter{
		chainID:     chainID,
		client:      client,
		evmChainID:  evmChainID,
		contract:    common.HexToAddress(cfg.ContractAddress),
		contractABI: parsedABI,
		privKey:     privKey,
		from:        crypto.PubkeyToAddress(privKey.PublicKey),
	}, nil
}

// ChainID returns the configured chain id.
func (e *EVMAdapter) ChainID() string {
	return e.chainID
}

// Close releases the RPC connection.
func (e *EVMAdapter) Close() {
	e.client.Close()
}

// Lock creates a new on-chain HTLC lock and returns its id.
func (e *EVMAdapter) Lock(ctx context.Context, params LockParams) (*LockRef, error) {
	if len(params.SecretHash) != commitment.SecretSize {
		return nil, Unrecoverable(fmt.Errorf("secret hash must be 32 bytes"))
	}
	if !common.IsHexAddress(params.Recipient) {
		return nil, Unrecoverable(fmt.Errorf("invalid recipient address %q", params.Recipient))
	}

	recipient := common.HexToAddress(params.Recipient)
	timelock := big.NewInt(params.Timelock.Unix())
	amount := new(big.Int).SetUint64(params.Amount)

	// Deterministic lock id: the contract rejects a duplicate, so a
	// re-submission after a dropped response cannot double-lock.
	id := crypto.Keccak256Hash(
		params.SecretHash,
		recipient.Bytes(),
		amount.Bytes(),
		timelock.Bytes(),
		e.from.Bytes(),
	)

	var secretHash [32]byte
	copy(secretHash[:], params.SecretHash)

	data, err := e.contractABI.Pack("newLock", id, recipient, secretHash, timelock)
	if err != nil {
		return nil, fmt.Errorf("failed to pack newLock: %w", err)
	}

	if _, err := e.sendTx(ctx, data, amount); err != nil {
		return nil, fmt.Errorf("lock submission failed: %w", err)
	}

	return &LockRef{Chain: e.chainID, Ref: id.Hex()}, nil
}

// Claim spends a lock by revealing the secret.
func (e *EVMAdapter) Claim(ctx context.Context, lockRef string, secret []byte) (string, error) {
	id, lock, err := e.lookupLock(ctx, lockRef)
	if err != nil {
		return "", err
	}
	if lock.State != evmLockActive {
		return "", ErrAlreadySettled
	}
	if !commitment.Verify(secret, lock.SecretHash[:]) {
		return "", ErrInvalidSecret
	}

	var secret32 [32]byte
	copy(secret32[:], secret)

	data, err := e.contractABI.Pack("claim", id, secret32)
	if err != nil {
		return "", fmt.Errorf("failed to pack claim: %w", err)
	}

	tx, err := e.sendTx(ctx, data, nil)
	if err != nil {
		return "", fmt.Errorf("claim submission failed: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// Refund returns an expired lock to its sender.
func (e *EVMAdapter) Refund(ctx context.Context, lockRef string) (string, error) {
	id, lock, err := e.lookupLock(ctx, lockRef)
	if err != nil {
		return "", err
	}
	if lock.State != evmLockActive {
		return "", ErrAlreadySettled
	}
	if time.Now().Unix() < lock.Timelock.Int64() {
		return "", ErrNotExpired
	}

	data, err := e.contractABI.Pack("refund", id)
	if err != nil {
		return "", fmt.Errorf("failed to pack refund: %w", err)
	}

	tx, err := e.sendTx(ctx, data, nil)
	if err != nil {
		return "", fmt.Errorf("refund submission failed: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// IsExpired reports whether the lock's timelock has passed.
func (e *EVMAdapter) IsExpired(ctx context.Context, lockRef string) (bool, error) {
	_, lock, err := e.lookupLock(ctx, lockRef)
	if err != nil {
		return false, err
	}
	return time.Now().Unix() >= lock.Timelock.Int64(), nil
}

// ConfirmationCount returns the depth of the lock's creation block.
func (e *EVMAdapter) ConfirmationCount(ctx context.Context, lockRef string) (uint32, error) {
	_, lock, err := e.lookupLock(ctx, lockRef)
	if err != nil {
		return 0, err
	}
	if lock.CreatedBlock.Sign() == 0 {
		return 0, nil
	}

	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	created := lock.CreatedBlock.Uint64()
	if head < created {
		return 0, nil
	}
	return uint32(head - created + 1), nil
}

// evmLock mirrors the contract's lock struct.
type evmLock struct {
	Sender       common.Address
	Recipient    common.Address
	Amount       *big.Int
	SecretHash   [32]byte
	Timelock     *big.Int
	CreatedBlock *big.Int
	State        uint8
}

func (e *EVMAdapter) lookupLock(ctx context.Context, lockRef string) (common.Hash, *evmLock, error) {
	idBytes, err := hex.DecodeString(strings.TrimPrefix(lockRef, "0x"))
	if err != nil || len(idBytes) != 32 {
		return common.Hash{}, nil, fmt.Errorf("%w: malformed lock ref %q", ErrLockNotFound, lockRef)
	}
	id := common.BytesToHash(idBytes)

	data, err := e.contractABI.Pack("getLock", id)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to pack getLock: %w", err)
	}

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: data}, nil)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("getLock call failed: %w", err)
	}

	var lock evmLock
	if err := e.contractABI.UnpackIntoInterface(&lock, "getLock", out); err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to unpack lock: %w", err)
	}
	if lock.State == evmLockEmpty {
		return common.Hash{}, nil, ErrLockNotFound
	}

	return id, &lock, nil
}

func (e *EVMAdapter) sendTx(ctx context.Context, data []byte, value *big.Int) (*types.Transaction, error) {
	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	tx := types.NewTransaction(nonce, e.contract, value, evmLockGasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(e.evmChainID), e.privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to broadcast: %w", err)
	}
	return signedTx, nil
}

var _ Adapter = (*EVMAdapter)(nil)
