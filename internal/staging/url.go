package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a media source URL so that trivially different
// spellings of the same resource map to the same object key: the query and
// fragment are stripped, the host is lowercased and the path loses its
// trailing slash.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	path := strings.TrimSuffix(parsed.Path, "/")
	return parsed.Scheme + "://" + strings.ToLower(parsed.Host) + path, nil
}

// Domain returns the host part of a normalized URL.
func Domain(normalized string) string {
	parsed, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// HashURL returns the hex sha256 of a normalized URL; it is the
// content-address of the staged artifact.
func HashURL(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ObjectKey builds the bucket key for a kind ("video" or "audio") and hash.
func ObjectKey(kind, urlHash string) string {
	return kind + "/" + urlHash
}

// PresignedBase strips the query and fragment off a presigned URL, leaving
// scheme, host and path. The gateway hashes this so replays of the same
// object — whose presigned signatures differ — share one cache entry.
func PresignedBase(presigned string) (string, error) {
	parsed, err := url.Parse(presigned)
	if err != nil {
		return "", fmt.Errorf("invalid presigned url: %w", err)
	}
	return parsed.Scheme + "://" + parsed.Host + parsed.Path, nil
}
