package solana

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManager(t *testing.T) {
	km := NewKeyManager("test-password")

	// Test key pair generation
	t.Run("Generate Key Pair", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)
		assert.NotEmpty(t, account.PublicKey.ToBase58())
		assert.Equal(t, 64, len(account.PrivateKey), "Private key should be 64 bytes")
	})

	// Test encryption and decryption
	t.Run("Encrypt and Decrypt Private Key", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)

		encrypted, err := km.EncryptPrivateKey(account.PrivateKey)
		require.NoError(t, err)
		assert.NotEmpty(t, encrypted)

		decrypted, err := km.DecryptPrivateKey(encrypted)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(account.PrivateKey[:], decrypted), "Decrypted private key should match original")
	})

	t.Run("Wrong passphrase fails", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)
		encrypted, err := km.EncryptPrivateKey(account.PrivateKey)
		require.NoError(t, err)

		_, err = NewKeyManager("other").DecryptPrivateKey(encrypted)
		assert.Error(t, err)
	})

	t.Run("Custodial wallet round trip", func(t *testing.T) {
		wallet, err := km.NewCustodialWallet()
		require.NoError(t, err)
		assert.True(t, IsValidAddress(wallet.Address))

		signer, err := km.Signer(wallet.EncryptedKey)
		require.NoError(t, err)
		assert.Equal(t, wallet.Address, signer.PublicKey().String())
	})

	t.Run("Custodial wallet needs passphrase", func(t *testing.T) {
		_, err := NewKeyManager("").NewCustodialWallet()
		assert.Error(t, err)
	})
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress("11111111111111111111111111111111"))
	assert.False(t, IsValidAddress("not-an-address"))
	assert.False(t, IsValidAddress(""))
}
