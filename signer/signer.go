// Package signer builds signed payment authorizations: an EIP-2612 style
// permit over the requirement's asset, bound to the signer's address, the
// recipient, the amount, a strictly increasing nonce and a deadline.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/metergate/x402"
)

// Extension map keys the requirement may use to override signing inputs.
const (
	ExtraKeyName    = "name"
	ExtraKeyVersion = "version"
	ExtraKeyNonce   = "nonce"
)

// Signer produces payment proofs for one network. Construction resolves
// the network from the registry; signing never returns a partial proof.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    string
	networkKey string
	config     x402.NetworkConfig
	nonces     NonceSource
}

// Option configures a Signer.
type Option func(*Signer)

// WithNonceSource sets where permit nonces come from when the requirement
// does not carry one. Defaults to a StaticNonceSource starting at zero;
// production deployments should inject an RPCNonceSource so nonces track
// the asset contract.
func WithNonceSource(src NonceSource) Option {
	return func(s *Signer) {
		s.nonces = src
	}
}

// New creates a signer from a hex-encoded private key (with or without the
// 0x prefix) and a registry key naming the signer's network.
func New(privateKeyHex, networkKey string, registry *x402.Registry, opts ...Option) (*Signer, error) {
	config, err := registry.Resolve(networkKey)
	if err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, &x402.SigningError{Op: "parse key", Err: err}
	}

	s := &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		networkKey: networkKey,
		config:     config,
		nonces:     NewStaticNonceSource(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the signer's checksummed Ethereum address.
func (s *Signer) Address() string {
	return s.address
}

// Network returns the signer's CAIP-2 network id.
func (s *Signer) Network() x402.Network {
	return s.config.NetworkID
}

// SignPayment builds and signs a payment authorization for the given
// requirement and wraps it in the versioned proof envelope.
//
// The EIP-712 domain takes name/version from the requirement's extension
// map when present, else the registry's asset defaults; the verifying
// contract is the requirement's asset and the chain id comes from the
// registry. The nonce comes from extra["nonce"] when present, else the
// configured NonceSource. The deadline is now plus the requirement's
// maximum timeout.
func (s *Signer) SignPayment(ctx context.Context, req x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if !req.Network.Match(s.config.NetworkID) {
		return nil, &x402.SigningError{
			Op:  "network guard",
			Err: fmt.Errorf("requirement network %s does not match signer network %s", req.Network, s.config.NetworkID),
		}
	}

	value, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || value.Sign() < 0 {
		return nil, &x402.SigningError{Op: "amount", Err: fmt.Errorf("malformed amount %q", req.MaxAmountRequired)}
	}

	nonce, err := s.resolveNonce(ctx, req)
	if err != nil {
		return nil, err
	}

	deadline := new(big.Int).SetInt64(now().Unix() + int64(req.MaxTimeoutSeconds))

	domain := TypedDataDomain{
		Name:              s.config.Asset.Name,
		Version:           s.config.Asset.Version,
		ChainID:           s.config.ChainID,
		VerifyingContract: req.Asset,
	}
	if name := req.ExtraString(ExtraKeyName); name != "" {
		domain.Name = name
	}
	if version := req.ExtraString(ExtraKeyVersion); version != "" {
		domain.Version = version
	}

	message := map[string]any{
		"owner":    s.address,
		"spender":  req.PayTo,
		"value":    value,
		"nonce":    nonce,
		"deadline": deadline,
	}

	digest, err := hashPermit(domain, message)
	if err != nil {
		return nil, &x402.SigningError{Op: "hash permit", Err: err}
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, &x402.SigningError{Op: "sign", Err: err}
	}
	// Recovery id 0/1 → Ethereum convention 27/28.
	signature[64] += 27

	return &x402.PaymentPayload{
		Version:  x402.ProtocolVersion,
		Accepted: req,
		Payload: x402.PaymentProof{
			Authorization: x402.PermitAuthorization{
				Owner:    s.address,
				Spender:  req.PayTo,
				Value:    value.String(),
				Nonce:    nonce.String(),
				Deadline: deadline.String(),
			},
			Signature: splitSignature(signature),
		},
	}, nil
}

// resolveNonce prefers an explicit nonce in the requirement's extension
// data, falling back to the configured source.
func (s *Signer) resolveNonce(ctx context.Context, req x402.PaymentRequirements) (*big.Int, error) {
	if raw := req.ExtraString(ExtraKeyNonce); raw != "" {
		nonce, ok := new(big.Int).SetString(raw, 10)
		if !ok || nonce.Sign() < 0 {
			return nil, &x402.SigningError{Op: "nonce", Err: fmt.Errorf("malformed nonce override %q", raw)}
		}
		return nonce, nil
	}
	nonce, err := s.nonces.PermitNonce(ctx, req.Asset, s.address)
	if err != nil {
		return nil, &x402.SigningError{Op: "nonce", Err: err}
	}
	return nonce, nil
}

// splitSignature splits a 65-byte r||s||v signature into components.
func splitSignature(sig []byte) x402.PermitSignature {
	return x402.PermitSignature{
		R: hexutil.Encode(sig[0:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64],
	}
}

// now is swapped in deadline tests.
var now = time.Now
