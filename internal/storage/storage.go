// Package storage issues time-limited capability URLs against the object
// store and maps them back to stable storage keys. The application server
// never touches file bytes; clients PUT and GET directly against the
// issued URLs.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"bimflow/internal/model"
)

var (
	ErrEmptyFileName = errors.New("file name must not be empty")
	ErrForeignURL    = errors.New("url does not belong to the configured storage endpoint")
	ErrBadSignature  = errors.New("url signature mismatch")
	ErrExpired       = errors.New("url has expired")
)

// Gateway is what the transfer coordinator needs from an object store:
// one-shot signed URLs plus a way to turn an upload URL back into the key
// it was issued for.
type Gateway interface {
	IssueUploadURL(ctx context.Context, orderID, fileName string, role model.FileRole) (string, error)
	IssueDownloadURL(ctx context.Context, storageKey string) (string, error)
	NormalizeKey(rawURL string) (string, error)
}

// URLSigner signs URLs with HMAC-SHA256 over method, key and expiry. Any
// store that can verify the same scheme (or a fronting proxy that does)
// can serve the bytes.
type URLSigner struct {
	endpoint *url.URL
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewURLSigner(endpoint, secret string, ttl time.Duration) (*URLSigner, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse storage endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("storage endpoint %q must be an absolute URL", endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	return &URLSigner{
		endpoint: u,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// ObjectKey is the canonical location of an order's artifact. Only the
// base name of the client-supplied file name is kept.
func ObjectKey(orderID string, role model.FileRole, fileName string) string {
	return path.Join("orders", orderID, string(role), path.Base(fileName))
}

// KeyWithin reports whether key lies under the order's role directory.
// Confirm paths use it to refuse keys issued for another order or role.
func KeyWithin(key, orderID string, role model.FileRole) bool {
	return strings.HasPrefix(key, path.Join("orders", orderID, string(role))+"/")
}

func (s *URLSigner) IssueUploadURL(_ context.Context, orderID, fileName string, role model.FileRole) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", ErrEmptyFileName
	}
	return s.signedURL("PUT", ObjectKey(orderID, role, fileName)), nil
}

func (s *URLSigner) IssueDownloadURL(_ context.Context, storageKey string) (string, error) {
	if storageKey == "" {
		return "", ErrEmptyFileName
	}
	return s.signedURL("GET", storageKey), nil
}

// NormalizeKey strips the endpoint prefix and the capability query from
// an issued URL, leaving the stable storage key.
func (s *URLSigner) NormalizeKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse upload url: %w", err)
	}
	if u.Host != s.endpoint.Host {
		return "", ErrForeignURL
	}
	key := strings.TrimPrefix(u.Path, s.endpoint.Path)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", ErrForeignURL
	}
	return key, nil
}

// Verify checks a signed URL the same way the store would. Kept alongside
// the signer so tests and a local dev store share one implementation.
func (s *URLSigner) Verify(method, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse signed url: %w", err)
	}

	key, err := s.NormalizeKey(rawURL)
	if err != nil {
		return err
	}

	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if s.now().Unix() > expires {
		return ErrExpired
	}

	want := s.sign(method, key, expires)
	got := u.Query().Get("signature")
	if !hmac.Equal([]byte(want), []byte(got)) {
		return ErrBadSignature
	}
	return nil
}

func (s *URLSigner) signedURL(method, key string) string {
	expires := s.now().Add(s.ttl).Unix()

	u := *s.endpoint
	u.Path = s.endpoint.Path + "/" + key
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(method, key, expires))
	u.RawQuery = q.Encode()

	return u.String()
}

func (s *URLSigner) sign(method, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", method, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
