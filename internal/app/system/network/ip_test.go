package network

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name          string
		xForwardedFor string
		xRealIP       string
		remoteAddr    string
		want          string
	}{
		{
			name:          "X-Forwarded-For chain uses first hop",
			xForwardedFor: "203.0.113.195, 70.41.3.18, 150.172.238.178",
			remoteAddr:    "10.0.0.1:12345",
			want:          "203.0.113.195",
		},
		{
			name:          "X-Forwarded-For with spaces",
			xForwardedFor: "  192.168.1.1  ",
			remoteAddr:    "10.0.0.1:12345",
			want:          "192.168.1.1",
		},
		{
			name:       "X-Real-IP",
			xRealIP:    "192.168.1.1",
			remoteAddr: "10.0.0.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:          "X-Forwarded-For wins over X-Real-IP",
			xForwardedFor: "192.168.1.1",
			xRealIP:       "10.0.0.2",
			remoteAddr:    "10.0.0.1:12345",
			want:          "192.168.1.1",
		},
		{
			name:       "RemoteAddr with port",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.168.1.1",
			want:       "192.168.1.1",
		},
		{
			name:       "IPv6 RemoteAddr with port",
			remoteAddr: "[::1]:12345",
			want:       "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/auth/login", nil)
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			req.RemoteAddr = tt.remoteAddr

			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOriginOf(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/verify-second-factor", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("User-Agent", "companion-ios/2.1")

	got := OriginOf(req)
	if got.IP != "127.0.0.1" {
		t.Errorf("IP = %q, want %q", got.IP, "127.0.0.1")
	}
	if got.UserAgent != "companion-ios/2.1" {
		t.Errorf("UserAgent = %q, want %q", got.UserAgent, "companion-ios/2.1")
	}
}
