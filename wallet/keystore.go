// Package wallet provides key management and transaction signing helpers.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/tolelom/stakebox/crypto"
)

// Key kinds stored in a keystore file.
const (
	KindAccount = "ed25519"
	KindVRF     = "secp256k1-vrf"
)

var ErrWrongKind = errors.New("wallet: keystore holds a different key kind")

type keystoreFile struct {
	Kind       string `json:"kind"`
	PubKey     string `json:"pub_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey encrypts an account key with password and writes it to path.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	return writeKeystore(path, password, KindAccount, priv.Public().Hex(), priv)
}

// LoadKey decrypts the account keystore at path using password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	raw, err := readKeystore(path, password, KindAccount)
	if err != nil {
		return nil, err
	}
	return crypto.PrivateKey(raw), nil
}

// SaveVRFKey encrypts an oracle VRF key with password and writes it to path.
func SaveVRFKey(path, password string, key *ecdsa.PrivateKey) error {
	pub := hex.EncodeToString(ethcrypto.CompressPubkey(&key.PublicKey))
	return writeKeystore(path, password, KindVRF, pub, ethcrypto.FromECDSA(key))
}

// LoadVRFKey decrypts the VRF keystore at path using password.
func LoadVRFKey(path, password string) (*ecdsa.PrivateKey, error) {
	raw, err := readKeystore(path, password, KindVRF)
	if err != nil {
		return nil, err
	}
	return ethcrypto.ToECDSA(raw)
}

func writeKeystore(path, password, kind, pub string, secret []byte) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	ks := keystoreFile{
		Kind:       kind,
		PubKey:     pub,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(gcm.Seal(nil, nonce, secret, nil)),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func readKeystore(path, password, kind string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	// Files written before kinds existed hold account keys.
	if ks.Kind == "" {
		ks.Kind = KindAccount
	}
	if ks.Kind != kind {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrWrongKind, kind, ks.Kind)
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.New("wrong password or corrupted keystore")
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 210_000, 32, sha256.New)
}
