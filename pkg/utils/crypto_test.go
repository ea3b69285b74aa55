package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var cryptoKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := Encrypt([]byte("EAAG-long-platform-token"), cryptoKey)
	assert.NoError(t, err)
	assert.NotContains(t, encrypted, "EAAG-long-platform-token")

	decrypted, err := Decrypt(encrypted, cryptoKey)
	assert.NoError(t, err)
	assert.Equal(t, "EAAG-long-platform-token", decrypted)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	first, err := Encrypt([]byte("same plaintext"), cryptoKey)
	assert.NoError(t, err)
	second, err := Encrypt([]byte("same plaintext"), cryptoKey)
	assert.NoError(t, err)

	// A fresh nonce per call means identical plaintexts never repeat.
	assert.NotEqual(t, first, second)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	encrypted, err := Encrypt([]byte("secret"), cryptoKey)
	assert.NoError(t, err)

	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	_, err = Decrypt(encrypted, otherKey)
	assert.Error(t, err)
}

func TestDecryptGarbageFails(t *testing.T) {
	_, err := Decrypt("not even base64!!", cryptoKey)
	assert.Error(t, err)

	_, err = Decrypt("c2hvcnQ=", cryptoKey)
	assert.Error(t, err)
}
