package common

import (
	"crypto/rand"
	"os"
)

const secretLen = 64

// Secrets holds the two independently generated server keys. SessionKey
// signs the cookie session, AdminKey is the impersonation authority. Neither
// alone is enough to forge an impersonation record.
type Secrets struct {
	SessionKey []byte
	AdminKey   []byte
}

// LoadSecrets reads secret.key and admin.key from dir, creating each with
// cryptographically random content on first run.
func LoadSecrets(dir string) (*Secrets, error) {
	sessionKey, err := loadOrCreateKey(dir + "/secret.key")
	if err != nil {
		return nil, err
	}

	adminKey, err := loadOrCreateKey(dir + "/admin.key")
	if err != nil {
		return nil, err
	}

	return &Secrets{SessionKey: sessionKey, AdminKey: adminKey}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	if key, err := os.ReadFile(path); err == nil && len(key) > 0 {
		return key, nil
	}

	key := make([]byte, secretLen)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}

	return key, nil
}
