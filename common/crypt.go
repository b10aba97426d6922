package common

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfPasses = 128000
	keySize   = 32
)

var ErrCrypt = errors.New("malformed or corrupted ciphertext")

func deriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, kdfPasses, keySize, sha512.New)
}

// EncryptAES encrypts data with AES-256-CBC under a key derived from
// password and salt, returning base64(iv || ciphertext).
func EncryptAES(data string, password, salt []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return "", err
	}

	plaintext := pkcs7Pad([]byte(data), aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...)), nil
}

// DecryptAES reverses EncryptAES. Any malformed input is reported as
// ErrCrypt, callers treat that as "record absent".
func DecryptAES(data string, password, salt []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", ErrCrypt
	}

	if len(raw) < aes.BlockSize*2 || len(raw)%aes.BlockSize != 0 {
		return "", ErrCrypt
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", ErrCrypt
	}

	return string(unpadded), nil
}

// KeyedProof returns a salted HMAC-SHA-512 over key, encoded as
// base64(salt) + ":" + base64(mac). Possession of key is required to mint it.
func KeyedProof(key []byte) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	mac := hmac.New(sha512.New, key)
	mac.Write(salt)

	return base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyKeyedProof checks a proof minted by KeyedProof. It never errors,
// anything malformed simply fails verification.
func VerifyKeyedProof(proof string, key []byte) bool {
	saltPart, macPart, found := strings.Cut(proof, ":")
	if !found {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}

	want, err := base64.StdEncoding.DecodeString(macPart)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, key)
	mac.Write(salt)

	return hmac.Equal(mac.Sum(nil), want)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrCrypt
	}

	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, ErrCrypt
	}

	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrCrypt
		}
	}

	return data[:len(data)-pad], nil
}
