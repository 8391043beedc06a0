// Package crypto provides EIP-712 action signing and encrypted key storage
// for venue credentials.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// signingChainID is the fixed chain id the exchange verifies agent
// signatures against, independent of the settlement chain.
const signingChainID = 1337

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

// Signer signs exchange actions with a secp256k1 key. The signature binds
// the signer address, the signing nonce, and the exact action bytes: the
// connectionId is a hash over (action || nonce), so replaying the
// signature with a different nonce or payload fails verification.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	source     string // "a" mainnet, "b" testnet
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
// source selects the network tag the exchange expects ("a" for mainnet).
func NewSigner(privateKeyHex, source string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		source:     source,
	}
	s.domainSep = buildDomainSeparator("Exchange", "1", signingChainID)
	return s, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// MatchesAddress reports whether the signing key derives the given account
// address. Callers treat a mismatch as fatal (domain.ErrCredentialMismatch)
// rather than retrying.
func (s *Signer) MatchesAddress(address string) bool {
	return strings.EqualFold(s.address.Hex(), address)
}

// SignAction signs the canonical action bytes under the given nonce and
// returns r, s, v components hex-encoded for the wire envelope.
func (s *Signer) SignAction(action []byte, nonce int64) (SignatureRSV, error) {
	connectionID := connectionHash(action, nonce)

	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentTypeHash,
			ethcrypto.Keccak256([]byte(s.source)),
			connectionID,
		),
	)

	digest := eip712Hash(s.domainSep, structHash)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return SignatureRSV{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; the exchange expects {27,28}.
	v := sig[64]
	if v < 27 {
		v += 27
	}

	return SignatureRSV{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: int(v),
	}, nil
}

// SignatureRSV is a split secp256k1 signature as the exchange wire format
// carries it.
type SignatureRSV struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// connectionHash binds the action payload to its nonce:
// keccak256(action || nonce_be64 || 0x00).
func connectionHash(action []byte, nonce int64) []byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	return ethcrypto.Keccak256(
		concatBytes(action, nonceBytes[:], []byte{0x00}),
	)
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes([]byte{0x19, 0x01}, domainSep, structHash),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
