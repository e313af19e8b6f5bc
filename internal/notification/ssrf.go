package notification

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

var (
	blockedHostnames = []string{
		"localhost",
		"localhost.localdomain",
		"metadata.google.internal",
	}

	privateNetworks = mustParseCIDRs(
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",
		"fc00::/7",
	)

	// cloud metadata endpoints stay blocked even when private networks are allowed
	metadataAddrs = []net.IP{
		net.ParseIP("169.254.169.254"),
		net.ParseIP("169.254.170.2"),
		net.ParseIP("fd00:ec2::254"),
	}
)

// URLGuard rejects outbound destinations on internal networks
type URLGuard struct {
	allowPrivate bool
}

// NewURLGuard creates a guard. allowPrivate permits loopback and private
// ranges, for deployments that notify services on the same network.
func NewURLGuard(allowPrivate bool) *URLGuard {
	return &URLGuard{allowPrivate: allowPrivate}
}

// CheckURL validates scheme and host without resolving DNS. Resolved
// addresses are checked when dialing; see Control.
func (g *URLGuard) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http and https schemes are allowed")
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	if !g.allowPrivate {
		for _, blocked := range blockedHostnames {
			if hostname == blocked || strings.HasSuffix(hostname, "."+blocked) {
				return fmt.Errorf("access to %s is not allowed", hostname)
			}
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return g.checkIP(ip)
	}
	return nil
}

// Control is a net.Dialer control hook that rejects connections to
// disallowed addresses after DNS resolution.
func (g *URLGuard) Control(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("unexpected dial address %q", address)
	}
	return g.checkIP(ip)
}

func (g *URLGuard) checkIP(ip net.IP) error {
	for _, addr := range metadataAddrs {
		if addr.Equal(ip) {
			return fmt.Errorf("IP address %s is not allowed: metadata endpoint", ip)
		}
	}
	if g.allowPrivate {
		return nil
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("IP address %s is not allowed: loopback", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("IP address %s is not allowed: link-local", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP address %s is not allowed: multicast", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP address %s is not allowed: unspecified", ip)
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return fmt.Errorf("IP address %s is not allowed: private network", ip)
		}
	}
	return nil
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		networks = append(networks, network)
	}
	return networks
}
