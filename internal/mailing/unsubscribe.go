package mailing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// UnsubscribeSigner builds and verifies signed unsubscribe links.
type UnsubscribeSigner struct {
	baseURL    string
	signingKey []byte
}

// NewUnsubscribeSigner creates a signer for links rooted at baseURL.
func NewUnsubscribeSigner(baseURL, signingKey string) *UnsubscribeSigner {
	return &UnsubscribeSigner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: []byte(signingKey),
	}
}

// URL returns the unsubscribe link for one subscriber of one sequence.
func (s *UnsubscribeSigner) URL(ownerID, sequenceID, subscriberID string) string {
	data := fmt.Sprintf("%s|%s|%s", ownerID, sequenceID, subscriberID)
	encoded := base64.URLEncoding.EncodeToString([]byte(data))
	return fmt.Sprintf("%s/track/unsubscribe/%s/%s", s.baseURL, encoded, s.sign(data))
}

// Verify checks an encoded payload and signature taken from an unsubscribe
// link and returns the ids it carries.
func (s *UnsubscribeSigner) Verify(encoded, signature string) (ownerID, sequenceID, subscriberID string, err error) {
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: bad encoding", ErrBadSignature)
	}
	data := string(decoded)
	if !hmac.Equal([]byte(s.sign(data)), []byte(signature)) {
		return "", "", "", ErrBadSignature
	}

	parts := strings.Split(data, "|")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: bad payload", ErrBadSignature)
	}
	return parts[0], parts[1], parts[2], nil
}

func (s *UnsubscribeSigner) sign(data string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// AddUnsubscribeHeaders adds List-Unsubscribe headers
func AddUnsubscribeHeaders(headers map[string]string, unsubscribeURL string) {
	headers["List-Unsubscribe"] = fmt.Sprintf("<%s>", unsubscribeURL)
	headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
}
