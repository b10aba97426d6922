// Package captcha gates state-changing endpoints behind an image/audio
// challenge bound to the requesting session.
package captcha

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/dchest/captcha"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"persona/common"
)

const (
	codeLen       = 6
	sessionCode   = "captcha_code"
	sessionExpiry = "captcha_expiry"
)

// Gate issues and verifies CAPTCHA challenges. A challenge lives in the
// session, expires after Expiry and is consumed on the first Verify call,
// pass or fail.
type Gate struct {
	Expiry time.Duration
}

func NewGate() *Gate {
	return &Gate{Expiry: 10 * time.Minute}
}

// Challenge carries both representations of the same code.
type Challenge struct {
	ID    string `json:"id"`
	Image string `json:"image"` // base64 png
	Audio string `json:"audio"` // base64 wav
}

// Issue generates a fresh challenge and binds its code to the session,
// replacing any previous one.
func (g *Gate) Issue(c *gin.Context) (*Challenge, error) {
	digits := captcha.RandomDigits(codeLen)
	id := uuid.NewString()

	var img bytes.Buffer
	if _, err := captcha.NewImage(id, digits, captcha.StdWidth, captcha.StdHeight).WriteTo(&img); err != nil {
		return nil, err
	}

	var wav bytes.Buffer
	if _, err := captcha.NewAudio(id, digits, "en").WriteTo(&wav); err != nil {
		return nil, err
	}

	code := make([]byte, codeLen)
	for i, d := range digits {
		code[i] = '0' + d
	}

	session := sessions.Default(c)
	session.Set(sessionCode, string(code))
	session.Set(sessionExpiry, time.Now().Add(g.Expiry).Unix())
	if err := session.Save(); err != nil {
		return nil, err
	}

	return &Challenge{
		ID:    id,
		Image: base64.StdEncoding.EncodeToString(img.Bytes()),
		Audio: base64.StdEncoding.EncodeToString(wav.Bytes()),
	}, nil
}

// Verify checks submitted against the session's pending challenge. The
// challenge is invalidated no matter the outcome, replays always fail.
func (g *Gate) Verify(c *gin.Context, submitted string) bool {
	session := sessions.Default(c)

	code, codeOK := session.Get(sessionCode).(string)
	expiry, expiryOK := session.Get(sessionExpiry).(int64)

	session.Delete(sessionCode)
	session.Delete(sessionExpiry)
	session.Save()

	if !codeOK || !expiryOK || code == "" {
		return false
	}

	if time.Now().Unix() > expiry {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(code), []byte(submitted)) == 1
}

// Require aborts mutation requests whose "code" form field does not solve
// the pending challenge. The failure path is soft: flash and redirect back
// to the form so a human can retry. Mount after authentication and role
// checks so failed logins cannot burn challenges.
func (g *Gate) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.Verify(c, c.PostForm("code")) {
			c.Next()
			return
		}

		common.Flash(c, "error", "invalid CAPTCHA")
		c.Redirect(http.StatusFound, c.Request.URL.RequestURI())
		c.Abort()
	}
}
