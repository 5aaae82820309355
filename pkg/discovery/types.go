package discovery

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of Intiface servers.
	ServiceType = "_intiface_engine._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// BrowseTimeout is the default time FindAll waits for answers.
	BrowseTimeout = 3 * time.Second
)

// Discovery errors.
var (
	ErrNotFound = errors.New("no server found")
	ErrStopped  = errors.New("browser stopped")
)

// Server is a discovered server instance.
type Server struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Host is the advertised host name.
	Host string

	// Port is the WebSocket port.
	Port uint16

	// Addresses are the resolved IPs, IPv4 first.
	Addresses []string

	// TXT holds the TXT record key/value pairs.
	TXT map[string]string
}

// URL returns the ws:// URL of the server, preferring an IPv4 address, then
// any address, then the host name.
func (s *Server) URL() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	for _, addr := range s.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			host = addr
			break
		}
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Timeout bounds FindAll when the context has no deadline.
	// Default: 3 seconds.
	Timeout time.Duration

	// Interface restricts browsing to one network interface by name.
	// Empty means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Timeout: BrowseTimeout,
	}
}

// parseTXT converts "key=value" strings into a map. A string without "="
// is a flag with an empty value.
func parseTXT(strs []string) map[string]string {
	txt := make(map[string]string, len(strs))
	for _, s := range strs {
		key, value, _ := strings.Cut(s, "=")
		if key != "" {
			txt[key] = value
		}
	}
	return txt
}

// newServer builds a Server from the fields of a service entry.
func newServer(instance, host string, port int, text []string, ips ...net.IP) *Server {
	var v4, v6 []string
	for _, ip := range ips {
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			v4 = append(v4, ip.String())
		} else {
			v6 = append(v6, ip.String())
		}
	}
	return &Server{
		Instance:  instance,
		Host:      host,
		Port:      uint16(port),
		Addresses: append(v4, v6...),
		TXT:       parseTXT(text),
	}
}

// mergeAddresses adds new addresses to the list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the given addresses from the list.
func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, addr := range gone {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
