package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	ErrPrivateIP     = errors.New("URL resolves to private IP address")
	ErrInvalidScheme = errors.New("only HTTPS URLs are allowed")
	ErrMissingHost   = errors.New("URL has no host")

	skipValidation = false
)

// SetSkipValidation disables source URL checks. Tests use it to fetch from
// httptest servers.
func SetSkipValidation(skip bool) {
	skipValidation = skip
}

// ValidateSourceURL checks a remote image location before it is fetched.
// Only HTTPS is accepted and hosts resolving to private, loopback or
// reserved ranges are refused.
func ValidateSourceURL(rawURL string) error {
	if skipValidation {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "https" {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()
	if host == "" {
		return ErrMissingHost
	}

	return validateHostIP(host)
}

func validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	// Unresolvable hosts are left to fail at fetch time.
	ips, err := net.LookupIP(host)
	if err != nil {
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
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0:
			return true
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // CGNAT
			return true
		case ip4[0] == 192 && ip4[1] == 0 && (ip4[2] == 0 || ip4[2] == 2):
			return true
		case ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100:
			return true
		case ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113:
			return true
		case ip4[0] >= 224: // multicast and reserved
			return true
		}
	}

	return false
}
