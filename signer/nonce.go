package signer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// NonceSource resolves the next permit sequence number for an owner on an
// asset contract. It is injected so the signer stays free of chain-client
// details; the requirement's extension data can still override the result
// per payment.
type NonceSource interface {
	PermitNonce(ctx context.Context, asset, owner string) (*big.Int, error)
}

// erc20PermitNoncesABI is the nonces(owner) accessor every EIP-2612 token
// exposes.
var erc20PermitNoncesABI = []byte(`[
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// RPCNonceSource reads the permit nonce from the asset contract over an
// Ethereum RPC connection.
type RPCNonceSource struct {
	client *ethclient.Client
}

// NewRPCNonceSource wraps an existing ethclient connection.
func NewRPCNonceSource(client *ethclient.Client) *RPCNonceSource {
	return &RPCNonceSource{client: client}
}

// DialRPCNonceSource connects to an Ethereum RPC endpoint.
func DialRPCNonceSource(rpcURL string) (*RPCNonceSource, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	return &RPCNonceSource{client: client}, nil
}

// PermitNonce calls nonces(owner) on the asset contract.
func (s *RPCNonceSource) PermitNonce(ctx context.Context, asset, owner string) (*big.Int, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(erc20PermitNoncesABI)))
	if err != nil {
		return nil, fmt.Errorf("parse nonces ABI: %w", err)
	}
	data, err := contractABI.Pack("nonces", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("pack nonces call: %w", err)
	}

	contract := common.HexToAddress(asset)
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("nonces call failed: %w", err)
	}

	outputs, err := contractABI.Unpack("nonces", result)
	if err != nil {
		return nil, fmt.Errorf("unpack nonces result: %w", err)
	}
	nonce, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonces result type %T", outputs[0])
	}
	return nonce, nil
}

// StaticNonceSource hands out strictly increasing nonces from an in-process
// counter, for offline use and tests. The facilitator is then the only
// replay defense, so production signers should prefer RPCNonceSource.
type StaticNonceSource struct {
	mu   sync.Mutex
	next *big.Int
}

// NewStaticNonceSource creates a source starting at start (nil = 0).
func NewStaticNonceSource(start *big.Int) *StaticNonceSource {
	if start == nil {
		start = new(big.Int)
	}
	return &StaticNonceSource{next: new(big.Int).Set(start)}
}

// PermitNonce returns the current counter value and increments it.
func (s *StaticNonceSource) PermitNonce(_ context.Context, _, _ string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := new(big.Int).Set(s.next)
	s.next.Add(s.next, big.NewInt(1))
	return nonce, nil
}
