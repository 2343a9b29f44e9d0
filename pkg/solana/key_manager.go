package solana

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/gagliardetto/solana-go"
)

// CustodialWallet is a freshly generated keypair whose private key is only
// ever held encrypted.
type CustodialWallet struct {
	Address      string `json:"address"`
	EncryptedKey string `json:"encrypted_key"`
}

// KeyManager handles Solana key pair generation, encryption, and decryption.
// The passphrase comes from configuration and never reaches the database.
type KeyManager struct {
	passphrase string
}

// NewKeyManager creates a new KeyManager instance
func NewKeyManager(passphrase string) *KeyManager {
	return &KeyManager{passphrase: passphrase}
}

// GenerateKeyPair generates a new Solana key pair
func (km *KeyManager) GenerateKeyPair() (*types.Account, error) {
	account := types.NewAccount()
	return &account, nil
}

// NewCustodialWallet generates a keypair and returns its address with the
// encrypted private key.
func (km *KeyManager) NewCustodialWallet() (*CustodialWallet, error) {
	if km.passphrase == "" {
		return nil, errors.New("custodial wallets need a key passphrase")
	}
	account, err := km.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	encrypted, err := km.EncryptPrivateKey(account.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &CustodialWallet{
		Address:      account.PublicKey.ToBase58(),
		EncryptedKey: encrypted,
	}, nil
}

// EncryptPrivateKey encrypts a private key using AES-256-GCM
func (km *KeyManager) EncryptPrivateKey(privateKey []byte) (string, error) {
	key := deriveKey(km.passphrase) // 32-byte key for AES-256
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// nonce || ciphertext
	ciphertext := gcm.Seal(nonce, nonce, privateKey, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPrivateKey decrypts a private key using AES-256-GCM
func (km *KeyManager) DecryptPrivateKey(encryptedKey string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	key := deriveKey(km.passphrase)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertext = ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Signer decrypts a stored key into a transaction signer.
func (km *KeyManager) Signer(encryptedKey string) (solana.PrivateKey, error) {
	raw, err := km.DecryptPrivateKey(encryptedKey)
	if err != nil {
		return nil, err
	}
	account, err := types.AccountFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create account from private key: %w", err)
	}
	return solana.PrivateKey(account.PrivateKey), nil
}

// ParseSigner reads a base58 encoded private key, the format used for the
// settlement hot wallet in configuration.
func ParseSigner(base58Key string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return key, nil
}

// IsValidAddress reports whether addr is a base58 Solana public key.
func IsValidAddress(addr string) bool {
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}

// deriveKey creates a 32-byte key from a password using SHA-256
func deriveKey(password string) []byte {
	hash := sha256.Sum256([]byte(password))
	return hash[:]
}
