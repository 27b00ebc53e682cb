// Package links validates and canonicalizes listing URLs from external
// feeds. Normalization is a security boundary: the ingestion pipeline must
// never store or later surface a link to a non-HTTPS or off-domain
// destination.
package links

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// sourceKeyLength bounds the derived source identifier so it fits the
// storage column regardless of hash length
const sourceKeyLength = 40

// NormalizeURL resolves link against feedBaseURL and returns the canonical
// absolute URL. It returns ok=false when the link cannot be parsed, does
// not resolve to https, or resolves outside the feed's domain.
func NormalizeURL(link, feedBaseURL string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false
	}

	base, err := url.Parse(feedBaseURL)
	if err != nil || base.Hostname() == "" {
		return "", false
	}

	ref, err := url.Parse(link)
	if err != nil {
		return "", false
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "https" {
		return "", false
	}

	if !hostAllowed(resolved.Hostname(), base.Hostname()) {
		return "", false
	}

	return resolved.String(), true
}

// hostAllowed reports whether host is the feed host itself or a subdomain
// of the feed's registrable domain. The registrable domain comes from the
// public suffix list, so a feed under a multi-label suffix like co.uk does
// not widen the boundary to every host under that suffix.
func hostAllowed(host, feedHost string) bool {
	host = strings.ToLower(host)
	feedHost = strings.ToLower(feedHost)
	if host == feedHost {
		return true
	}

	apex, err := publicsuffix.EffectiveTLDPlusOne(feedHost)
	if err != nil {
		// No registrable domain to widen to; exact match only.
		return false
	}
	return host == apex || strings.HasSuffix(host, "."+apex)
}

// SourceKey derives a deterministic identifier from a normalized link and
// its posting time, so re-ingesting the same feed item upserts the same
// row. Titles repeat across listings and are deliberately not part of the
// key.
func SourceKey(link string, postedAt time.Time) string {
	hash := sha256.Sum256([]byte(link + "|" + postedAt.UTC().Format(time.RFC3339)))
	key := hex.EncodeToString(hash[:])
	if len(key) > sourceKeyLength {
		key = key[:sourceKeyLength]
	}
	return key
}
