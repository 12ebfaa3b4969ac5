package models

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeHost lowercases host and strips a leading "www."
func NormalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")

	return strings.TrimPrefix(host, "www.")
}

// SecondLevelDomain returns the registrable domain of host: one label plus its
// public suffix.  IP addresses, single-label hosts and bare public suffixes are
// returned unchanged.
func SecondLevelDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}

	sld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}

	return sld
}

// HostOf returns the lowercased host of rawURL.  URLs without a scheme are
// handled by taking everything before the first '/'.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}

	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	if h, _, splitErr := net.SplitHostPort(s); splitErr == nil {
		s = h
	}

	return strings.ToLower(s)
}
