package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	ErrPrivateIP     = errors.New("URL resolves to private IP address")
	ErrInvalidScheme = errors.New("URL scheme must be http or https")
	ErrInsecureURL   = errors.New("only HTTPS URLs are allowed")
	ErrMissingHost   = errors.New("URL has no host")

	skipNetworkChecks = false
)

// SetSkipNetworkChecks disables the HTTPS and private address checks of
// ValidateDownloadURL. Tests use it to download from httptest servers.
func SetSkipNetworkChecks(skip bool) {
	skipNetworkChecks = skip
}

// ValidateResultURL checks that an image URL returned by a webhook is a
// well-formed absolute http(s) URL. It performs no network access.
func ValidateResultURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidScheme, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return ErrMissingHost
	}
	return nil
}

// ValidateDownloadURL is applied before the tool itself fetches an image URL.
// It requires HTTPS and refuses hosts that resolve to private addresses.
func ValidateDownloadURL(rawURL string) error {
	if err := ValidateResultURL(rawURL); err != nil {
		return err
	}
	if skipNetworkChecks {
		return nil
	}

	parsed, _ := url.Parse(rawURL)
	if parsed.Scheme != "https" {
		return ErrInsecureURL
	}
	return validateHostIP(parsed.Hostname())
}

func validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts fail later at fetch time.
		return nil
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	switch {
	case ip4[0] == 0:
		return true
	case ip4[0] == 100 && ip4[1]&0xC0 == 64: // 100.64.0.0/10
		return true
	case ip4[0] >= 240:
		return true
	}
	return false
}
