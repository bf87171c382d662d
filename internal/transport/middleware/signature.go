package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const SignatureHeader = "X-Signature"

// Sign returns hex(HMAC-SHA256(secret, body))
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Signature checks the payment provider signature of the request body.
// An empty secret disables the check.
func Signature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "cannot read body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		got, err := hex.DecodeString(c.GetHeader(SignatureHeader))
		want, _ := hex.DecodeString(Sign(secret, body))
		if err != nil || !hmac.Equal(got, want) {
			logrus.WithField("client_ip", c.ClientIP()).Warn("Rejected webhook with bad signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid signature"})
			return
		}

		c.Next()
	}
}
