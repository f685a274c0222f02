package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
)

// Sessions signs and verifies session cookie values carrying a user id.
type Sessions struct {
	secret []byte
}

func NewSessions(secret string) *Sessions {
	return &Sessions{secret: []byte(secret)}
}

func (s *Sessions) sign(payload string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Value returns "payload.signature" for userID.
func (s *Sessions) Value(userID int64) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(userID, 10)))
	return payload + "." + hex.EncodeToString(s.sign(payload))
}

// Verify returns the user id of a value produced by Value.
func (s *Sessions) Verify(value string) (int64, bool) {
	payload, signature, ok := strings.Cut(value, ".")
	if !ok || payload == "" {
		return 0, false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return 0, false
	}
	if !hmac.Equal(provided, s.sign(payload)) {
		return 0, false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(string(decoded), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
