// Package netguard validates outbound destinations. The alert webhook URL is
// operator-supplied, so it must never point into private/internal ranges.
package netguard

import (
	"fmt"
	"net"
	"net/url"
)

// BlockedCIDRs are private/internal networks that outbound calls must never resolve to.
var BlockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918 / Docker bridge networks
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // link-local / cloud metadata
		"0.0.0.0/8",      // unspecified
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipNet, _ := net.ParseCIDR(c)
		nets = append(nets, ipNet)
	}
	return nets
}()

// IsBlocked returns true if the IP falls within a private/internal range.
func IsBlocked(ip net.IP) bool {
	for _, cidr := range BlockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckURL verifies that a webhook URL is http(s) and resolves only to public
// addresses. Resolution happens once at startup; a host that later re-points
// into a private range is out of scope here.
func CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsBlocked(ip) {
			return fmt.Errorf("destination %s is in a blocked range", ip)
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if IsBlocked(ip) {
			return fmt.Errorf("destination %s resolves to blocked address %s", host, ip)
		}
	}
	return nil
}
