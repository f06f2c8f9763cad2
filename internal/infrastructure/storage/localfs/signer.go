package localfs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSignature = errors.New("invalid upload signature")

// Signer issues HMAC-signed upload URLs for the local PUT endpoint. A URL is
// bound to one key and content type and stops verifying after its expiry.
type Signer struct {
	baseURL string
	secret  []byte
	now     func() time.Time
}

func NewSigner(baseURL, secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("upload signing secret is required")
	}
	return &Signer{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

func (s *Signer) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("type", contentType)
	q.Set("signature", s.sign(key, contentType, expires))
	return s.baseURL + "/v1/objects/" + escapeKey(key) + "?" + q.Encode(), nil
}

// Verify checks a signature presented with an upload.
func (s *Signer) Verify(key, contentType, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed expiry", ErrInvalidSignature)
	}
	if s.now().Unix() > exp {
		return fmt.Errorf("%w: expired", ErrInvalidSignature)
	}
	want := s.sign(key, contentType, exp)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("%w: mismatch", ErrInvalidSignature)
	}
	return nil
}

func (s *Signer) sign(key, contentType string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "PUT\n%s\n%s\n%d", key, strings.ToLower(contentType), expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
