package security

import (
	"errors"
	"net"
	"testing"
)

func TestValidateSourceURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"public https", "https://93.184.216.34/vase.jpg", nil},
		{"plain http", "http://93.184.216.34/vase.jpg", ErrInvalidScheme},
		{"file scheme", "file:///etc/passwd", ErrInvalidScheme},
		{"no host", "https:///vase.jpg", ErrMissingHost},
		{"loopback", "https://127.0.0.1/vase.jpg", ErrPrivateIP},
		{"private 10.x", "https://10.0.0.1/vase.jpg", ErrPrivateIP},
		{"private 192.168.x", "https://192.168.1.1/vase.jpg", ErrPrivateIP},
		{"metadata endpoint", "https://169.254.169.254/latest", ErrPrivateIP},
		{"ipv6 loopback", "https://[::1]/vase.jpg", ErrPrivateIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceURL(tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSourceURL(%q) error = %v, want nil", tt.url, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSourceURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSourceURL_Skip(t *testing.T) {
	SetSkipValidation(true)
	defer SetSkipValidation(false)

	if err := ValidateSourceURL("http://127.0.0.1:8080/x.png"); err != nil {
		t.Errorf("ValidateSourceURL() with skip error = %v", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"100.64.0.1", true},
		{"192.0.2.1", true},
		{"198.51.100.1", true},
		{"203.0.113.1", true},
		{"224.0.0.1", true},
		{"240.0.0.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"::1", true},
		{"fe80::1", true},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP %s", tt.ip)
			}
			if got := isPrivateIP(ip); got != tt.private {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
			}
		})
	}
}
