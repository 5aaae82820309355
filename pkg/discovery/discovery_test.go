package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	srv := newServer("Intiface Central", "desktop.local.", 12345,
		[]string{"version=2.6.0", "secure"},
		net.ParseIP("fe80::1"), net.ParseIP("192.168.1.20"), nil)

	assert.Equal(t, "Intiface Central", srv.Instance)
	assert.Equal(t, uint16(12345), srv.Port)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1"}, srv.Addresses)
	assert.Equal(t, map[string]string{"version": "2.6.0", "secure": ""}, srv.TXT)
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		name string
		srv  Server
		want string
	}{
		{"IPv4", Server{Host: "desktop.local.", Port: 12345, Addresses: []string{"192.168.1.20"}}, "ws://192.168.1.20:12345"},
		{"PrefersIPv4", Server{Host: "desktop.local.", Port: 12345, Addresses: []string{"fe80::1", "10.0.0.2"}}, "ws://10.0.0.2:12345"},
		{"IPv6Only", Server{Host: "desktop.local.", Port: 12345, Addresses: []string{"fe80::1"}}, "ws://[fe80::1]:12345"},
		{"HostName", Server{Host: "desktop.local.", Port: 12345}, "ws://desktop.local:12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.srv.URL())
		})
	}
}

func TestAddresses(t *testing.T) {
	merged := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "fe80::1"})
	assert.Equal(t, []string{"10.0.0.1", "fe80::1"}, merged)

	left := removeAddresses(merged, []string{"10.0.0.1"})
	assert.Equal(t, []string{"fe80::1"}, left)
	assert.Empty(t, removeAddresses(left, []string{"fe80::1"}))
}

func TestBrowserStopped(t *testing.T) {
	b := NewMDNSBrowser(DefaultBrowserConfig())
	b.Stop()

	_, err := b.Browse(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	_, err = b.FindAll(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}
