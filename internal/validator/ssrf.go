package validator

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateExecutionURL performs SSRF protection checks before a block's request
// is sent. Resolution failures wrap the underlying *net.DNSError.
func ValidateExecutionURL(urlStr string, allowLocalhost, allowPrivateIPs bool) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Only allow http and https
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme)
	}

	// Extract hostname
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must contain a hostname")
	}

	if isLocalhost(hostname) && !allowLocalhost {
		return fmt.Errorf("requests to localhost are not allowed")
	}

	// Nothing left to check when every address class is allowed.
	if allowLocalhost && allowPrivateIPs {
		return nil
	}

	var ips []net.IP
	if ip := net.ParseIP(hostname); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = lookupIP(hostname)
		if err != nil {
			return fmt.Errorf("failed to resolve hostname: %w", err)
		}
	}

	for _, ip := range ips {
		if ip.IsLoopback() && !allowLocalhost {
			return fmt.Errorf("requests to localhost are not allowed: %s", ip.String())
		}
		if !ip.IsLoopback() && isPrivateIP(ip) && !allowPrivateIPs {
			return fmt.Errorf("requests to private IP ranges are not allowed: %s", ip.String())
		}
	}

	return nil
}

// lookupIP is replaced in tests.
var lookupIP = net.LookupIP

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "127.") ||
		hostname == "0.0.0.0" ||
		hostname == "[::]"
}

// Ranges not covered by the net.IP classification helpers: CGNAT shared
// space and the cloud metadata endpoints.
var extraBlockedNetworks = mustParseCIDRs(
	"100.64.0.0/10",
	"169.254.169.254/32",
	"fd00:ec2::254/128",
)

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, network := range extraBlockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
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
