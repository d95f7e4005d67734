// Package uploads issues and verifies HMAC-signed upload URLs so document
// uploads need no session state on the storage path.
package uploads

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DefaultTTL = time.Hour

var (
	ErrExpired          = errors.New("upload url expired")
	ErrInvalidSignature = errors.New("invalid upload signature")
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

type SignedURL struct {
	Key       string
	URL       string
	ExpiresAt time.Time
}

// Sign builds an object key scoped to the uploading user and returns the
// upload path with expiry and signature query parameters attached.
func (s *Signer) Sign(userID, filename string) SignedURL {
	name := sanitizeFilename(filename)
	now := s.now().UTC()
	key := fmt.Sprintf("%s/%d-%s", userID, now.Unix(), name)
	expires := now.Add(s.ttl)

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", s.signature(key, expires.Unix()))

	return SignedURL{
		Key:       key,
		URL:       "/uploads/" + key + "?" + q.Encode(),
		ExpiresAt: expires,
	}
}

// Verify checks the signature and expiry for an upload request against the
// object key taken from the request path.
func (s *Signer) Verify(key, expiresParam, signature string) error {
	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	want := s.signature(key, expires)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	if s.now().UTC().Unix() > expires {
		return ErrExpired
	}
	return nil
}

func (s *Signer) signature(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

func sanitizeFilename(filename string) string {
	name := path.Base(strings.TrimSpace(filename))
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}
