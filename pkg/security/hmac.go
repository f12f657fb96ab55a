package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptySecret is returned when signing or verifying without a key.
var ErrEmptySecret = errors.New("hmac secret is required")

// SignHex returns the lowercase hex HMAC-SHA256 of message under secret.
func SignHex(secret string, message []byte) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyHex recomputes the HMAC over message and compares it with signature
// in constant time. Signature case and surrounding whitespace are ignored.
func VerifyHex(secret string, message []byte, signature string) bool {
	expected, err := SignHex(secret, message)
	if err != nil {
		return false
	}
	given := strings.ToLower(strings.TrimSpace(signature))
	if len(given) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}

// ConfirmationMessage builds the client-confirmation payload intentID|transactionID.
func ConfirmationMessage(intentID, transactionID string) []byte {
	return []byte(intentID + "|" + transactionID)
}
