// Package canonical turns user-supplied business URLs into a stable identity
// used for deduplication: a normalized URL string and its SHA-256 hash.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// Result is the outcome of canonicalizing a single URL. Invalid input never
// produces an error value; IsValid is false and Reason explains why.
type Result struct {
	Original   string `json:"original"`
	Normalized string `json:"normalized,omitempty"`
	Hash       string `json:"hash,omitempty"`
	Host       string `json:"host,omitempty"`
	IsValid    bool   `json:"isValid"`
	Reason     string `json:"reason,omitempty"`
}

var (
	errEmpty             = errors.New("url is empty")
	errUnsupportedScheme = errors.New("unsupported scheme")
	errMissingHost       = errors.New("missing host")
	errInvalidHost       = errors.New("invalid host")
)

// trackingParams never change page content and are dropped before hashing.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"gclsrc":  {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"ref":     {},
	"ref_src": {},
	"_ga":     {},
}

var defaultPorts = map[string]struct{}{
	"80":  {},
	"443": {},
}

// Canonicalize normalizes raw so that scheme, host case, default ports,
// trailing slashes, fragments and tracking parameters do not affect identity.
func Canonicalize(raw string) Result {
	res := Result{Original: raw}
	normalized, host, err := normalize(raw)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	res.Normalized = normalized
	res.Host = host
	res.Hash = Hash(normalized)
	res.IsValid = true
	return res
}

// Normalize returns only the normalized form of raw.
func Normalize(raw string) (string, error) {
	normalized, _, err := normalize(raw)
	return normalized, err
}

// Hash returns the hex SHA-256 digest of an already normalized URL.
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ValidateHashIntegrity recomputes the hash for url and compares it with hash.
func ValidateHashIntegrity(rawURL, hash string) bool {
	res := Canonicalize(rawURL)
	if !res.IsValid || hash == "" {
		return false
	}
	return res.Hash == strings.ToLower(strings.TrimSpace(hash))
}

func normalize(raw string) (string, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", errEmpty
	}
	switch {
	case strings.HasPrefix(trimmed, "//"):
		trimmed = "https:" + trimmed
	case !strings.Contains(trimmed, "://"):
		if hasOpaqueScheme(trimmed) {
			return "", "", errUnsupportedScheme
		}
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", errUnsupportedScheme
	}

	host, err := normalizeHost(parsed.Hostname())
	if err != nil {
		return "", "", err
	}
	hostPort := host
	if port := parsed.Port(); port != "" {
		if _, ok := defaultPorts[port]; !ok {
			hostPort = host + ":" + port
		}
	}

	out := url.URL{
		Scheme:   "https",
		Host:     hostPort,
		Path:     normalizePath(parsed.Path),
		RawQuery: cleanQuery(parsed.Query()),
	}
	return out.String(), host, nil
}

// hasOpaqueScheme reports inputs like "mailto:x" or "tel:123" that carry a
// scheme but no authority. "host:8080" and "example.com:8080" are not schemes.
func hasOpaqueScheme(s string) bool {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return false
	}
	if idx == 0 {
		return true
	}
	prefix := s[:idx]
	if strings.ContainsAny(prefix, "./") {
		return false
	}
	rest := s[idx+1:]
	return rest == "" || rest[0] < '0' || rest[0] > '9'
}

func normalizeHost(hostname string) (string, error) {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if host == "" {
		return "", errMissingHost
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", errInvalidHost
	}
	if !strings.Contains(ascii, ".") && ascii != "localhost" {
		return "", errInvalidHost
	}
	for _, label := range strings.Split(ascii, ".") {
		if label == "" {
			return "", errInvalidHost
		}
	}
	return ascii, nil
}

func normalizePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	cleaned := path.Clean(norm.NFC.String(p))
	return strings.TrimRight(cleaned, "/")
}

func cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if isTrackingParam(key) {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := append([]string(nil), values[key]...)
		sort.Strings(vals)
		for _, val := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, ok := trackingParams[lower]
	return ok
}
