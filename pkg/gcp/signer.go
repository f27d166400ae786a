package gcp

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SigningAlgorithm = "GOOG4-RSA-SHA256"
	StorageHost      = "storage.googleapis.com"

	// MaxSignedURLMinutes is the V4 scheme's upper bound (7 days).
	MaxSignedURLMinutes = 7 * 24 * 60

	unsignedPayload = "UNSIGNED-PAYLOAD"
	iso8601Basic    = "20060102T150405Z"
	dateStamp       = "20060102"
)

var ErrInvalidExpiry = fmt.Errorf("gcp: signed URL validity must be between 1 and %d minutes", MaxSignedURLMinutes)

// SignedURL is a read-only, path-scoped download URL.
type SignedURL struct {
	URL       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// URLSigner produces V4 signed GET URLs locally with the service-account key;
// no signing service is called.
type URLSigner struct {
	bucket string
	issuer string
	key    *rsa.PrivateKey
	now    func() time.Time
}

// NewURLSigner creates a signer for objects in bucket.
func NewURLSigner(bucket, issuer string, key *rsa.PrivateKey) (*URLSigner, error) {
	if bucket == "" || issuer == "" || key == nil {
		return nil, errors.New("gcp: signer requires bucket, issuer and key")
	}
	return &URLSigner{bucket: bucket, issuer: issuer, key: key, now: time.Now}, nil
}

// Sign returns a URL authorizing a single unauthenticated GET of objectPath
// for the next `minutes` minutes.
func (s *URLSigner) Sign(objectPath string, minutes int) (*SignedURL, error) {
	if minutes < 1 || minutes > MaxSignedURLMinutes {
		return nil, ErrInvalidExpiry
	}
	objectPath = strings.TrimPrefix(objectPath, "/")
	if objectPath == "" {
		return nil, errors.New("gcp: object path is required")
	}

	issuedAt := s.now().UTC()
	expires := time.Duration(minutes) * time.Minute
	timestamp := issuedAt.Format(iso8601Basic)
	scope := fmt.Sprintf("%s/auto/storage/goog4_request", issuedAt.Format(dateStamp))

	query := map[string]string{
		"X-Goog-Algorithm":     SigningAlgorithm,
		"X-Goog-Credential":    s.issuer + "/" + scope,
		"X-Goog-Date":          timestamp,
		"X-Goog-Expires":       strconv.FormatInt(int64(expires/time.Second), 10),
		"X-Goog-SignedHeaders": "host",
	}
	canonicalURI := "/" + s.bucket + "/" + escapeV4(objectPath, true)
	canonicalQuery := canonicalQueryString(query)

	canonicalRequest := strings.Join([]string{
		"GET",
		canonicalURI,
		canonicalQuery,
		"host:" + StorageHost + "\n",
		"host",
		unsignedPayload,
	}, "\n")

	stringToSign := StringToSign(timestamp, scope, canonicalRequest)
	digest := sha256.Sum256([]byte(stringToSign))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("gcp: sign URL: %w", err)
	}

	return &SignedURL{
		URL:       "https://" + StorageHost + canonicalURI + "?" + canonicalQuery + "&X-Goog-Signature=" + hex.EncodeToString(sig),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(expires),
	}, nil
}

// StringToSign assembles the V4 string-to-sign for a canonical request.
func StringToSign(timestamp, scope, canonicalRequest string) string {
	hash := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		SigningAlgorithm,
		timestamp,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
}

func canonicalQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, escapeV4(k, false)+"="+escapeV4(params[k], false))
	}
	return strings.Join(parts, "&")
}

// escapeV4 percent-encodes everything outside the RFC 3986 unreserved set,
// optionally keeping '/' so object names keep their hierarchy.
func escapeV4(s string, keepSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		case c == '/' && keepSlash:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
