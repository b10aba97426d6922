package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptAES_RoundTrip(t *testing.T) {
	password := []byte("session key material")
	salt := []byte("admin key material")

	ciphertext, err := EncryptAES("ari", password, salt)
	assert.NoError(t, err)
	assert.NotContains(t, ciphertext, "ari")

	plaintext, err := DecryptAES(ciphertext, password, salt)
	assert.NoError(t, err)
	assert.Equal(t, "ari", plaintext)
}

func TestEncryptAES_FreshIV(t *testing.T) {
	password := []byte("password")
	salt := []byte("salt")

	first, err := EncryptAES("same data", password, salt)
	assert.NoError(t, err)

	second, err := EncryptAES("same data", password, salt)
	assert.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDecryptAES_WrongKey(t *testing.T) {
	ciphertext, err := EncryptAES("ari", []byte("right"), []byte("salt"))
	assert.NoError(t, err)

	plaintext, err := DecryptAES(ciphertext, []byte("wrong"), []byte("salt"))
	if err == nil {
		// a wrong key can only yield garbage, never the plaintext
		assert.NotEqual(t, "ari", plaintext)
	} else {
		assert.ErrorIs(t, err, ErrCrypt)
	}
}

func TestDecryptAES_Malformed(t *testing.T) {
	for _, data := range []string{"", "not base64 !!!", "YWJj", "YWJjZGVmZ2hpamtsbW5vcA=="} {
		_, err := DecryptAES(data, []byte("password"), []byte("salt"))
		assert.ErrorIs(t, err, ErrCrypt, "input %q", data)
	}
}

func TestKeyedProof(t *testing.T) {
	key := []byte("admin and session keys")

	proof, err := KeyedProof(key)
	assert.NoError(t, err)

	assert.True(t, VerifyKeyedProof(proof, key))
	assert.False(t, VerifyKeyedProof(proof, []byte("another key")))
}

func TestVerifyKeyedProof_Malformed(t *testing.T) {
	key := []byte("key")

	assert.False(t, VerifyKeyedProof("", key))
	assert.False(t, VerifyKeyedProof("nocolon", key))
	assert.False(t, VerifyKeyedProof("not!b64:also!not", key))
}

func TestKeyedProof_Unique(t *testing.T) {
	key := []byte("key")

	first, err := KeyedProof(key)
	assert.NoError(t, err)

	second, err := KeyedProof(key)
	assert.NoError(t, err)

	// salted per record
	assert.NotEqual(t, first, second)
}

func TestPkcs7(t *testing.T) {
	padded := pkcs7Pad([]byte("abc"), 16)
	assert.Len(t, padded, 16)

	unpadded, err := pkcs7Unpad(padded, 16)
	assert.NoError(t, err)
	assert.Equal(t, []byte("abc"), unpadded)

	// full block of padding for aligned input
	padded = pkcs7Pad(make([]byte, 16), 16)
	assert.Len(t, padded, 32)

	_, err = pkcs7Unpad([]byte("no padding here!"), 16)
	assert.ErrorIs(t, err, ErrCrypt)
}
