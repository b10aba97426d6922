package auth

import (
	"errors"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"persona/common"
)

// The impersonation record is a 3-tuple kept in the session while an admin
// is logged in as somebody else: a keyed proof that the record was minted by
// this server, the impersonator's username encrypted under both server keys,
// and whether the impersonator's own session was persistent.
const (
	sessionAdminProof    = "__admin_proof__"
	sessionAdminUser     = "__admin_user__"
	sessionAdminRemember = "__admin_remember__"
)

var ErrNoAdmin = errors.New("no impersonation record")

func proofKey(secrets *common.Secrets) []byte {
	key := make([]byte, 0, len(secrets.AdminKey)+len(secrets.SessionKey))
	key = append(key, secrets.AdminKey...)
	return append(key, secrets.SessionKey...)
}

// SetAdmin writes the impersonation record for the currently authenticated
// user. It must be called before the session is re-bound to the target.
func SetAdmin(c *gin.Context, secrets *common.Secrets, username string) error {
	proof, err := common.KeyedProof(proofKey(secrets))
	if err != nil {
		return err
	}

	encrypted, err := common.EncryptAES(username, secrets.SessionKey, secrets.AdminKey)
	if err != nil {
		return err
	}

	session := sessions.Default(c)
	session.Set(sessionAdminProof, proof)
	session.Set(sessionAdminUser, encrypted)
	session.Set(sessionAdminRemember, Remembered(c))

	// keep the record alive across browser restarts for the whole
	// impersonation window
	session.Options(sessions.Options{Path: "/", MaxAge: rememberMaxAge, HttpOnly: true})

	return session.Save()
}

// IsAdmin validates the impersonation record against the current server
// secrets. Tampered, malformed or key-rotated records are purged and treated
// as absent; this never fails open.
func IsAdmin(c *gin.Context, secrets *common.Secrets) bool {
	session := sessions.Default(c)

	proof, ok := session.Get(sessionAdminProof).(string)
	if !ok {
		return false
	}

	if !common.VerifyKeyedProof(proof, proofKey(secrets)) {
		ClearAdmin(c)
		return false
	}

	return true
}

// GetAdmin recovers the impersonator's identity from a valid record.
func GetAdmin(c *gin.Context, secrets *common.Secrets) (username string, remember bool, err error) {
	if !IsAdmin(c, secrets) {
		return "", false, ErrNoAdmin
	}

	session := sessions.Default(c)

	encrypted, ok := session.Get(sessionAdminUser).(string)
	if !ok {
		ClearAdmin(c)
		return "", false, ErrNoAdmin
	}

	username, err = common.DecryptAES(encrypted, secrets.SessionKey, secrets.AdminKey)
	if err != nil {
		ClearAdmin(c)
		return "", false, err
	}

	remember, _ = session.Get(sessionAdminRemember).(bool)
	return username, remember, nil
}

// ClearAdmin unconditionally purges the impersonation record.
func ClearAdmin(c *gin.Context) {
	session := sessions.Default(c)
	session.Delete(sessionAdminProof)
	session.Delete(sessionAdminUser)
	session.Delete(sessionAdminRemember)
	session.Options(sessions.Options{Path: "/", MaxAge: 0, HttpOnly: true})
	session.Save()
}
