package fetchcache

import (
	"crypto/md5" //nolint:gosec // cache key, not a security boundary
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// keyPrefix namespaces page entries in the cache.
const keyPrefix = "urls:"

// CanonicalURL appends params to rawURL with keys sorted lexicographically,
// so the same request in any parameter order maps to one string. Empty params
// leave rawURL unchanged.
func CanonicalURL(rawURL string, params map[string]string) string {
	if len(params) == 0 {
		return rawURL
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	query := strings.Join(pairs, "&")

	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}

// CacheKey is the MD5 hex digest of the canonical URL, namespaced "urls:".
func CacheKey(canonicalURL string) string {
	sum := md5.Sum([]byte(canonicalURL)) //nolint:gosec
	return keyPrefix + hex.EncodeToString(sum[:])
}

// KeyFor canonicalizes (rawURL, params) and returns the canonical URL with
// its cache key.
func KeyFor(rawURL string, params map[string]string) (key, canonical string) {
	canonical = CanonicalURL(rawURL, params)
	return CacheKey(canonical), canonical
}
