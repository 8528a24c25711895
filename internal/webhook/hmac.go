package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// errVerification is the only error verifySignature returns.
var errVerification = errors.New("webhook verification failed")

// verifySignature checks an HMAC-SHA256 signature over body in constant
// time. signature is "sha256=<hex>" or plain hex.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}

	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errVerification
	}

	if subtle.ConstantTimeCompare(sign(body, secret), got) != 1 {
		return errVerification
	}
	return nil
}

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Signature returns the "sha256=<hex>" header value for body. Clients such
// as scripts and tests use it to sign requests.
func Signature(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(sign(body, secret))
}
