// Package artifact stores finalized deliverables and hands out time-limited
// signed URLs. LocalStore writes to disk and signs references with HMAC; an
// object-store implementation satisfies the same escrow.ArtifactStore
// contract.
package artifact

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultURLTTL = 24 * time.Hour

type LocalStore struct {
	dir     string
	baseURL string
	key     []byte
	now     func() time.Time
}

func NewLocalStore(dir, baseURL string, signingKey []byte) *LocalStore {
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), key: signingKey, now: time.Now}
}

// Upload writes the deliverable under dir/path and returns a signed URL valid
// for 24 hours.
func (s *LocalStore) Upload(_ context.Context, data []byte, path string) (string, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact path %q", path)
	}

	full := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("artifact dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact write: %w", err)
	}

	expires := s.now().Add(defaultURLTTL).Unix()
	sig := s.sign(clean, expires)
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s", s.baseURL, clean, expires, sig), nil
}

// VerifyRef checks a signed reference produced by Upload. Used by the
// download handler and by tests asserting that returned refs resolve.
func (s *LocalStore) VerifyRef(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid artifact ref: %w", err)
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	path := strings.TrimPrefix(strings.TrimPrefix(u.Path, base.Path), "/")
	expiresRaw := u.Query().Get("expires")
	sig := u.Query().Get("sig")

	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid expiry in artifact ref")
	}
	if s.now().Unix() > expires {
		return "", fmt.Errorf("artifact ref expired")
	}
	want := s.sign(path, expires)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return "", fmt.Errorf("artifact ref signature invalid")
	}
	return filepath.Join(s.dir, path), nil
}

func (s *LocalStore) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s:%d", path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
