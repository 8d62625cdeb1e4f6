package oracle

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vechain/go-ecvrf"
)

var vrf = ecvrf.Secp256k1Sha256Tai

// Prover computes VRF outputs with the oracle's secp256k1 key.
type Prover struct {
	key *ecdsa.PrivateKey
}

// NewProver wraps key.
func NewProver(key *ecdsa.PrivateKey) *Prover {
	return &Prover{key: key}
}

// GenerateProver creates a Prover with a fresh random key.
func GenerateProver() (*Prover, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewProver(key), nil
}

// ProverFromHex loads a Prover from a hex-encoded private key.
func ProverFromHex(s string) (*Prover, error) {
	key, err := ethcrypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("oracle: parse vrf key: %w", err)
	}
	return NewProver(key), nil
}

// Key returns the private key.
func (p *Prover) Key() *ecdsa.PrivateKey { return p.key }

// PublicKeyHex returns the compressed public key registered on chain.
func (p *Prover) PublicKeyHex() string {
	return hex.EncodeToString(ethcrypto.CompressPubkey(&p.key.PublicKey))
}

// Prove returns the VRF output and proof for alpha.
func (p *Prover) Prove(alpha []byte) (beta, proof []byte, err error) {
	return vrf.Prove(p.key, alpha)
}

// Verify checks proof for alpha against the compressed public key and
// returns the VRF output it commits to.
func Verify(pubHex string, alpha, proof []byte) ([]byte, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: vrf key: %v", ErrInvalidProof, err)
	}
	pub, err := ethcrypto.DecompressPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: vrf key: %v", ErrInvalidProof, err)
	}
	beta, err := vrf.Verify(pub, alpha, proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return beta, nil
}

// RandomValue reduces a VRF output to the integer consumed by loot
// selection: the first eight bytes, big-endian.
func RandomValue(beta []byte) uint64 {
	var buf [8]byte
	copy(buf[:], beta)
	return binary.BigEndian.Uint64(buf[:])
}

// IsZero reports whether beta carries no randomness.
func IsZero(beta []byte) bool {
	for _, b := range beta {
		if b != 0 {
			return false
		}
	}
	return true
}
